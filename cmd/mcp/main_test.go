package main

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/kirillkom/multimodal-rag/internal/core/domain"
)

type contextRetrieverFake struct {
	assembled domain.AssembledContext
	err       error
	projectID string
}

func (f *contextRetrieverFake) RetrieveContext(_ context.Context, projectID, _ string) (domain.AssembledContext, *domain.RetrievalResult, error) {
	f.projectID = projectID
	return f.assembled, &domain.RetrievalResult{}, f.err
}

func callRequest(args map[string]any) mcp.CallToolRequest {
	req := mcp.CallToolRequest{}
	req.Params.Name = "rag_search"
	req.Params.Arguments = args
	return req
}

func resultText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	if len(result.Content) == 0 {
		t.Fatalf("expected content in result")
	}
	text, ok := result.Content[0].(mcp.TextContent)
	if !ok {
		t.Fatalf("expected text content, got %T", result.Content[0])
	}
	return text.Text
}

func TestRAGSearchReturnsFormattedContext(t *testing.T) {
	fake := &contextRetrieverFake{assembled: domain.AssembledContext{
		Texts:         []string{"revenue grew"},
		TextCitations: []int{1},
	}}
	handler := ragSearchHandler(fake)

	result, err := handler(context.Background(), callRequest(map[string]any{"project_id": "p1", "query": "revenue"}))
	if err != nil {
		t.Fatalf("handler error = %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected tool error: %s", resultText(t, result))
	}
	if got := resultText(t, result); !strings.HasPrefix(got, "[1] revenue grew") {
		t.Fatalf("unexpected context: %q", got)
	}
	if fake.projectID != "p1" {
		t.Fatalf("expected project p1, got %q", fake.projectID)
	}
}

func TestRAGSearchRequiresArguments(t *testing.T) {
	handler := ragSearchHandler(&contextRetrieverFake{})

	result, err := handler(context.Background(), callRequest(map[string]any{"query": "revenue"}))
	if err != nil {
		t.Fatalf("handler error = %v", err)
	}
	if !result.IsError {
		t.Fatalf("expected tool error for missing project_id")
	}
}

func TestRAGSearchReportsRetrievalErrors(t *testing.T) {
	handler := ragSearchHandler(&contextRetrieverFake{err: errors.New("unknown rag strategy")})

	result, err := handler(context.Background(), callRequest(map[string]any{"project_id": "p1", "query": "q"}))
	if err != nil {
		t.Fatalf("handler error = %v", err)
	}
	if !result.IsError || !strings.Contains(resultText(t, result), "unknown rag strategy") {
		t.Fatalf("expected tool error result")
	}
}
