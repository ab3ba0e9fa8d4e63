package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kirillkom/multimodal-rag/internal/bootstrap"
	"github.com/kirillkom/multimodal-rag/internal/config"
	"github.com/kirillkom/multimodal-rag/internal/core/ports"
	"github.com/kirillkom/multimodal-rag/internal/core/usecase"
	"github.com/kirillkom/multimodal-rag/internal/observability/logging"
)

const serviceName = "rag-mcp"

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config_load_failed", "error", err)
		os.Exit(1)
	}
	// stdout carries the MCP protocol.
	slog.SetDefault(logging.NewStderrLogger(serviceName, cfg.LogLevel, cfg.LogFormat))

	ctx := context.Background()
	app, err := bootstrap.New(ctx, cfg, serviceName)
	if err != nil {
		slog.Error("bootstrap_failed", "error", err)
		os.Exit(1)
	}
	defer app.Close()

	s := server.NewMCPServer(serviceName, "1.0.0", server.WithToolCapabilities(false))
	s.AddTool(ragSearchTool(), ragSearchHandler(app.Contexts))

	if err := server.ServeStdio(s); err != nil {
		slog.Error("mcp_server_failed", "error", err)
	}
}

func ragSearchTool() mcp.Tool {
	return mcp.NewTool("rag_search",
		mcp.WithDescription("Search the documents of a project and return citation-numbered context."),
		mcp.WithString("project_id", mcp.Required(), mcp.Description("Project whose documents are searched")),
		mcp.WithString("query", mcp.Required(), mcp.Description("Natural-language search query")),
	)
}

func ragSearchHandler(contexts ports.ContextRetriever) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		projectID, err := request.RequireString("project_id")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		query, err := request.RequireString("query")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		assembled, _, err := contexts.RetrieveContext(ctx, projectID, query)
		if err != nil {
			slog.WarnContext(ctx, "rag_search_failed", "project_id", projectID, "error", err.Error())
			return mcp.NewToolResultError(err.Error()), nil
		}
		return mcp.NewToolResultText(usecase.FormatContext(assembled)), nil
	}
}
