package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/kirillkom/multimodal-rag/internal/core/domain"
	"github.com/kirillkom/multimodal-rag/internal/core/ports"
)

const ToolRAGSearch = "rag_search"

type agentPlan struct {
	Action string `json:"action"`
	Query  string `json:"query"`
}

// RAGAgent produces the upstream event sequence for one answer: an optional
// guardrail verdict, the rag_search tool phase and the streamed answer.
type RAGAgent struct {
	contexts  ports.ContextRetriever
	chat      ports.ChatModel
	planner   ports.JSONGenerator
	guardrail *Guardrail
	limits    domain.AgentLimits
}

func NewRAGAgent(
	contexts ports.ContextRetriever,
	chat ports.ChatModel,
	planner ports.JSONGenerator,
	limits domain.AgentLimits,
) *RAGAgent {
	if limits.PlannerTimeout <= 0 {
		limits.PlannerTimeout = 20 * time.Second
	}
	if limits.GuardrailTimeout <= 0 {
		limits.GuardrailTimeout = 10 * time.Second
	}
	if limits.HistoryMessages <= 0 {
		limits.HistoryMessages = 10
	}

	agent := &RAGAgent{
		contexts: contexts,
		chat:     chat,
		planner:  planner,
		limits:   limits,
	}
	if limits.GuardrailEnabled && planner != nil {
		agent.guardrail = NewGuardrail(planner)
	}
	return agent
}

func (a *RAGAgent) HistoryLimit() int {
	return a.limits.HistoryMessages
}

// Start launches the agent and returns its event stream. Closing the stream
// cancels every in-flight call of the run.
func (a *RAGAgent) Start(ctx context.Context, req domain.AgentRequest) *AgentStream {
	runCtx, cancel := context.WithCancel(ctx)
	stream := newAgentStream(cancel)
	go func() {
		defer close(stream.done)
		defer close(stream.items)
		if err := a.run(runCtx, stream, req); err != nil && runCtx.Err() == nil {
			stream.sendErr(runCtx, err)
		}
	}()
	return stream
}

func (a *RAGAgent) run(ctx context.Context, stream *AgentStream, req domain.AgentRequest) error {
	if a.guardrail != nil {
		verdict := a.checkGuardrail(ctx, req.Question)
		if !stream.send(ctx, domain.UpstreamEvent{Kind: domain.UpstreamGuardrail, Passed: verdict.Allowed, Text: verdict.Response}) {
			return nil
		}
		if !verdict.Allowed {
			stream.send(ctx, domain.UpstreamEvent{Kind: domain.UpstreamTerminal, Text: verdict.Response})
			return nil
		}
	}

	search, query := true, req.Question
	if req.AgentType == domain.AgentAgentic {
		search, query = a.plan(ctx, req)
	}

	assembled := domain.AssembledContext{}
	if search {
		var err error
		assembled, err = a.searchTool(ctx, stream, req.ProjectID, query)
		if err != nil {
			return err
		}
		stream.setContexts(append(append([]string{}, assembled.Texts...), assembled.Tables...))
	}

	messages := buildAnswerMessages(req, assembled, search)
	tokens, err := a.chat.StreamChat(ctx, messages)
	if err != nil {
		return fmt.Errorf("start chat stream: %w", err)
	}
	defer tokens.Close()

	for {
		token, err := tokens.Next(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("read chat stream: %w", err)
		}
		if !stream.send(ctx, domain.UpstreamEvent{Kind: domain.UpstreamToken, Text: token}) {
			return nil
		}
	}

	stream.send(ctx, domain.UpstreamEvent{
		Kind:      domain.UpstreamTerminal,
		Citations: assembled.Citations,
		Contexts:  stream.Contexts(),
	})
	return nil
}

// checkGuardrail passes the input through when the guardrail itself fails.
func (a *RAGAgent) checkGuardrail(ctx context.Context, question string) GuardrailVerdict {
	checkCtx, cancel := context.WithTimeout(ctx, a.limits.GuardrailTimeout)
	defer cancel()
	verdict, err := a.guardrail.Check(checkCtx, question)
	if err != nil {
		slog.WarnContext(ctx, "guardrail_degraded", "error", err.Error())
		return GuardrailVerdict{Allowed: true}
	}
	return verdict
}

// plan asks the planner whether the question needs document search. Planner
// failures fall back to searching with the original question.
func (a *RAGAgent) plan(ctx context.Context, req domain.AgentRequest) (bool, string) {
	planCtx, cancel := context.WithTimeout(ctx, a.limits.PlannerTimeout)
	defer cancel()
	raw, err := a.planner.GenerateJSONFromPrompt(planCtx, buildAgentPlannerPrompt(req))
	if err != nil {
		slog.WarnContext(ctx, "agent_planner_fallback", "reason", "planner_error", "error", err.Error())
		return true, req.Question
	}
	plan, err := parseAgentPlan(raw)
	if err != nil {
		slog.WarnContext(ctx, "agent_planner_fallback", "reason", "planner_invalid_json", "error", err.Error())
		return true, req.Question
	}
	if plan.Action == "answer" {
		return false, req.Question
	}
	if plan.Query == "" {
		plan.Query = req.Question
	}
	return true, plan.Query
}

func (a *RAGAgent) searchTool(ctx context.Context, stream *AgentStream, projectID, query string) (domain.AssembledContext, error) {
	if !stream.send(ctx, domain.UpstreamEvent{Kind: domain.UpstreamToolStart, Tool: ToolRAGSearch}) {
		return domain.AssembledContext{}, ctx.Err()
	}
	assembled, _, err := a.contexts.RetrieveContext(ctx, projectID, query)
	if err != nil {
		if domain.IsKind(err, domain.ErrInvalidConfiguration) || ctx.Err() != nil {
			return domain.AssembledContext{}, err
		}
		slog.WarnContext(ctx, "rag_search_degraded", "project_id", projectID, "error", err.Error())
		assembled = domain.AssembledContext{}
	}

	if !stream.send(ctx, domain.UpstreamEvent{Kind: domain.UpstreamToolEnd, Tool: ToolRAGSearch}) {
		return domain.AssembledContext{}, ctx.Err()
	}
	return assembled, nil
}

func parseAgentPlan(raw string) (agentPlan, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return agentPlan{}, fmt.Errorf("empty planner response")
	}
	var plan agentPlan
	if err := json.Unmarshal([]byte(raw), &plan); err != nil {
		return agentPlan{}, fmt.Errorf("unmarshal planner json: %w", err)
	}
	plan.Action = strings.ToLower(strings.TrimSpace(plan.Action))
	plan.Query = strings.TrimSpace(plan.Query)
	switch plan.Action {
	case "search", "answer":
		return plan, nil
	default:
		return agentPlan{}, fmt.Errorf("unknown planner action %q", plan.Action)
	}
}

func buildAgentPlannerPrompt(req domain.AgentRequest) string {
	historyLines := make([]string, 0, len(req.History))
	for _, msg := range req.History {
		content := strings.TrimSpace(msg.Content)
		if content == "" {
			continue
		}
		historyLines = append(historyLines, fmt.Sprintf("%s: %s", msg.Role, content))
	}
	if len(historyLines) == 0 {
		historyLines = append(historyLines, "(empty)")
	}

	return fmt.Sprintf(`You are a planning component for a document assistant.
Decide whether answering requires searching the user's project documents.
Return ONLY valid JSON object:
{"action":"search","query":"standalone search query"}
or
{"action":"answer"}

Conversation so far:
%s

Current user request:
%s
`, strings.Join(historyLines, "\n"), req.Question)
}

func buildAnswerMessages(req domain.AgentRequest, assembled domain.AssembledContext, searched bool) []domain.PromptMessage {
	system := `You are a helpful assistant answering questions about the user's documents.
Answer in the language of the question.`
	if searched {
		system += `
Use only the context below. Cite sources with their bracketed number, e.g. [1].
If the context does not contain the answer, say so.

Context:
` + FormatContext(assembled)
	}

	messages := make([]domain.PromptMessage, 0, len(req.History)+2)
	messages = append(messages, domain.PromptMessage{Role: "system", Content: system})
	for _, msg := range req.History {
		if strings.TrimSpace(msg.Content) == "" {
			continue
		}
		messages = append(messages, domain.PromptMessage{Role: string(msg.Role), Content: msg.Content})
	}
	messages = append(messages, domain.PromptMessage{Role: string(domain.RoleUser), Content: req.Question})
	return messages
}
