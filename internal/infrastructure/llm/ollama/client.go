package ollama

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/kirillkom/multimodal-rag/internal/core/domain"
	"github.com/kirillkom/multimodal-rag/internal/core/ports"
	"github.com/kirillkom/multimodal-rag/internal/infrastructure/resilience"
)

type Options struct {
	ChatModel           string
	UtilityModel        string
	EmbedModel          string
	EmbeddingDimensions int
	Timeout             time.Duration
	Executor            *resilience.Executor
}

type Client struct {
	baseURL      string
	chatModel    string
	utilityModel string
	embedModel   string
	dimensions   int
	httpClient   *http.Client
	streamClient *http.Client
	executor     *resilience.Executor
}

func New(baseURL string, opts Options) *Client {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	utility := opts.UtilityModel
	if utility == "" {
		utility = opts.ChatModel
	}
	return &Client{
		baseURL:      strings.TrimRight(baseURL, "/"),
		chatModel:    opts.ChatModel,
		utilityModel: utility,
		embedModel:   opts.EmbedModel,
		dimensions:   opts.EmbeddingDimensions,
		httpClient:   &http.Client{Timeout: timeout},
		// streamed answers are bounded by the request context instead
		streamClient: &http.Client{},
		executor:     opts.Executor,
	}
}

type Embedder struct {
	client *Client
}

func NewEmbedder(client *Client) *Embedder {
	return &Embedder{client: client}
}

func (e *Embedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	request := map[string]any{
		"model": e.client.embedModel,
		"input": []string{text},
	}
	if e.client.dimensions > 0 {
		request["dimensions"] = e.client.dimensions
	}

	var response struct {
		Embeddings [][]float32 `json:"embeddings"`
	}
	if err := e.client.postJSON(ctx, "/api/embed", request, &response, "embed"); err != nil {
		return nil, err
	}
	if len(response.Embeddings) == 0 || len(response.Embeddings[0]) == 0 {
		return nil, fmt.Errorf("empty embedding result")
	}
	vector := response.Embeddings[0]
	if e.client.dimensions > 0 && len(vector) != e.client.dimensions {
		return nil, fmt.Errorf("embedding dimension mismatch: got %d, want %d", len(vector), e.client.dimensions)
	}
	return vector, nil
}

// Expander rephrases queries for multi-query retrieval.
type Expander struct {
	client *Client
}

func NewExpander(client *Client) *Expander {
	return &Expander{client: client}
}

func (x *Expander) ExpandQuery(ctx context.Context, query string, n int) ([]string, error) {
	if n <= 0 {
		return nil, nil
	}
	raw, err := x.client.generateJSON(ctx, buildExpansionPrompt(query, n))
	if err != nil {
		return nil, err
	}
	return parseExpansion(raw, n)
}

func parseExpansion(raw string, n int) ([]string, error) {
	var payload struct {
		Queries []string `json:"queries"`
	}
	if err := json.Unmarshal([]byte(extractJSONObject(raw)), &payload); err != nil {
		return nil, fmt.Errorf("parse expansion json: %w", err)
	}
	out := make([]string, 0, len(payload.Queries))
	for _, q := range payload.Queries {
		q = strings.TrimSpace(q)
		if q == "" {
			continue
		}
		out = append(out, q)
		if len(out) == n {
			break
		}
	}
	return out, nil
}

// Generator serves JSON completions for guardrail and planner prompts.
type Generator struct {
	client *Client
}

func NewGenerator(client *Client) *Generator {
	return &Generator{client: client}
}

func (g *Generator) GenerateJSONFromPrompt(ctx context.Context, prompt string) (string, error) {
	raw, err := g.client.generateJSON(ctx, prompt)
	if err != nil {
		return "", err
	}
	return extractJSONObject(raw), nil
}

// ChatModel streams answers from /api/chat.
type ChatModel struct {
	client *Client
}

func NewChatModel(client *Client) *ChatModel {
	return &ChatModel{client: client}
}

func (m *ChatModel) StreamChat(ctx context.Context, messages []domain.PromptMessage) (ports.TokenStream, error) {
	request := map[string]any{
		"model":    m.client.chatModel,
		"messages": messages,
		"stream":   true,
	}
	body, err := m.client.openStream(ctx, "/api/chat", request, "chat")
	if err != nil {
		return nil, err
	}
	return newChatStream(body), nil
}

func (c *Client) generateJSON(ctx context.Context, prompt string) (string, error) {
	reqBody := map[string]any{
		"model":  c.utilityModel,
		"prompt": prompt,
		"stream": false,
		"format": "json",
	}
	var response struct {
		Response string `json:"response"`
	}
	if err := c.postJSON(ctx, "/api/generate", reqBody, &response, "generate"); err != nil {
		return "", err
	}
	return strings.TrimSpace(response.Response), nil
}

func extractJSONObject(raw string) string {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start >= 0 && end > start {
		return raw[start : end+1]
	}
	return raw
}
