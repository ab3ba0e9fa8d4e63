package ollama

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/kirillkom/multimodal-rag/internal/infrastructure/resilience"
)

func (c *Client) postJSON(ctx context.Context, path string, payload any, out any, operation string) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s request: %w", operation, err)
	}

	err = c.executor.Execute(ctx, "ollama."+operation, func(ctx context.Context) error {
		resp, err := c.do(ctx, c.httpClient, path, body, operation)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode %s response: %w", operation, err)
		}
		return nil
	}, resilience.ClassifyHTTP)
	return resilience.WrapUnavailable("ollama "+operation, err, resilience.ClassifyHTTP)
}

// openStream returns the response body of a streaming request. Only the
// connection is retried; the body is owned by the caller.
func (c *Client) openStream(ctx context.Context, path string, payload any, operation string) (io.ReadCloser, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s request: %w", operation, err)
	}
	resp, err := resilience.Call(ctx, c.executor, "ollama."+operation, func(ctx context.Context) (*http.Response, error) {
		return c.do(ctx, c.streamClient, path, body, operation)
	}, resilience.ClassifyHTTP)
	if err != nil {
		return nil, resilience.WrapUnavailable("ollama "+operation, err, resilience.ClassifyHTTP)
	}
	return resp.Body, nil
}

func (c *Client) do(ctx context.Context, client *http.Client, path string, body []byte, operation string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create %s request: %w", operation, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ollama %s request: %w", operation, err)
	}
	if resp.StatusCode >= 300 {
		defer resp.Body.Close()
		return nil, formatOllamaHTTPError(operation, resp)
	}
	return resp, nil
}

func formatOllamaHTTPError(operation string, resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
	return &resilience.StatusError{
		Service:    "ollama " + operation,
		StatusCode: resp.StatusCode,
		Body:       strings.TrimSpace(string(body)),
	}
}

// chatStream decodes newline-delimited chat chunks.
type chatStream struct {
	body    io.ReadCloser
	scanner *bufio.Scanner
	done    bool
}

func newChatStream(body io.ReadCloser) *chatStream {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	return &chatStream{body: body, scanner: scanner}
}

type chatChunk struct {
	Message struct {
		Content string `json:"content"`
	} `json:"message"`
	Done  bool   `json:"done"`
	Error string `json:"error"`
}

func (s *chatStream) Next(ctx context.Context) (string, error) {
	for {
		if s.done {
			return "", io.EOF
		}
		if err := ctx.Err(); err != nil {
			return "", err
		}
		if !s.scanner.Scan() {
			if err := s.scanner.Err(); err != nil {
				return "", fmt.Errorf("read ollama chat stream: %w", err)
			}
			return "", fmt.Errorf("ollama chat stream ended before done")
		}
		line := bytes.TrimSpace(s.scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var chunk chatChunk
		if err := json.Unmarshal(line, &chunk); err != nil {
			return "", fmt.Errorf("decode ollama chat chunk: %w", err)
		}
		if chunk.Error != "" {
			return "", fmt.Errorf("ollama chat: %s", chunk.Error)
		}
		if chunk.Done {
			s.done = true
		}
		if chunk.Message.Content != "" {
			return chunk.Message.Content, nil
		}
	}
}

func (s *chatStream) Close() error {
	return s.body.Close()
}
