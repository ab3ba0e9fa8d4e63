package qdrant

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kirillkom/multimodal-rag/internal/core/domain"
	"github.com/kirillkom/multimodal-rag/internal/infrastructure/resilience"
)

const (
	denseVectorName  = "dense"
	sparseVectorName = "sparse"
)

// Client searches a collection holding one point per chunk with a named
// dense vector for similarity search and a named sparse vector for keyword
// search.
type Client struct {
	baseURL    string
	collection string
	httpClient *http.Client
	executor   *resilience.Executor

	ensureMu          sync.Mutex
	ensuredCollection bool
	ensuredVectorSize int
}

func New(baseURL, collection string, executor *resilience.Executor) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		collection: collection,
		httpClient: &http.Client{Timeout: 60 * time.Second},
		executor:   executor,
	}
}

type searchHit struct {
	Score   float64        `json:"score"`
	Payload map[string]any `json:"payload"`
}

func (c *Client) SearchVector(ctx context.Context, queryVector []float32, documentIDs []string, limit int, threshold float64) (domain.RankedList, error) {
	if len(documentIDs) == 0 || limit <= 0 {
		return domain.RankedList{}, nil
	}
	reqBody := map[string]any{
		"vector":          map[string]any{"name": denseVectorName, "vector": queryVector},
		"filter":          documentFilter(documentIDs),
		"limit":           limit,
		"score_threshold": threshold,
		"with_payload":    true,
	}
	hits, err := c.search(ctx, reqBody, "vector search")
	if err != nil {
		return nil, err
	}
	return hitsToRankedList(hits), nil
}

func (c *Client) SearchKeyword(ctx context.Context, queryText string, documentIDs []string, limit int) (domain.RankedList, error) {
	if len(documentIDs) == 0 || limit <= 0 {
		return domain.RankedList{}, nil
	}
	sparse := encodeSparseQuery(queryText)
	if len(sparse.Indices) == 0 {
		return domain.RankedList{}, nil
	}
	reqBody := map[string]any{
		"vector":       map[string]any{"name": sparseVectorName, "vector": sparse},
		"filter":       documentFilter(documentIDs),
		"limit":        limit,
		"with_payload": true,
	}
	hits, err := c.search(ctx, reqBody, "keyword search")
	if err != nil {
		return nil, err
	}
	return hitsToRankedList(hits), nil
}

// UpsertChunks indexes chunks with their dense embeddings. The sparse vector
// is derived from the chunk content.
func (c *Client) UpsertChunks(ctx context.Context, chunks []domain.Chunk, vectors [][]float32) error {
	if len(chunks) == 0 {
		return nil
	}
	if len(chunks) != len(vectors) {
		return fmt.Errorf("chunks/vectors mismatch")
	}
	if err := c.ensureCollection(ctx, len(vectors[0])); err != nil {
		return err
	}

	type point struct {
		ID      string         `json:"id"`
		Vector  map[string]any `json:"vector"`
		Payload map[string]any `json:"payload"`
	}
	points := make([]point, 0, len(chunks))
	for i, chunk := range chunks {
		points = append(points, point{
			// Qdrant point ids must be UUIDs or integers.
			ID: uuid.NewSHA1(uuid.NameSpaceOID, []byte(chunk.ID)).String(),
			Vector: map[string]any{
				denseVectorName:  vectors[i],
				sparseVectorName: encodeSparseDocument(chunk.Content),
			},
			Payload: map[string]any{
				"chunk_id":     chunk.ID,
				"document_id":  chunk.DocumentID,
				"content_type": string(chunk.ContentType),
				"content":      chunk.Content,
				"page":         chunk.Locator.Page,
				"offset":       chunk.Locator.Offset,
			},
		})
	}

	path := fmt.Sprintf("/collections/%s/points?wait=true", c.collection)
	return c.send(ctx, http.MethodPut, path, map[string]any{"points": points}, nil, "upsert")
}

func (c *Client) search(ctx context.Context, reqBody map[string]any, operation string) ([]searchHit, error) {
	var resp struct {
		Result []searchHit `json:"result"`
	}
	path := fmt.Sprintf("/collections/%s/points/search", c.collection)
	if err := c.send(ctx, http.MethodPost, path, reqBody, &resp, operation); err != nil {
		return nil, err
	}
	return resp.Result, nil
}

func (c *Client) send(ctx context.Context, method, path string, payload any, out any, operation string) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s body: %w", operation, err)
	}
	err = c.executor.Execute(ctx, "qdrant."+strings.ReplaceAll(operation, " ", "_"), func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("create %s request: %w", operation, err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("qdrant %s request: %w", operation, err)
		}
		defer resp.Body.Close()
		if resp.StatusCode >= 300 {
			return statusError(operation, resp)
		}
		if out == nil {
			return nil
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode %s response: %w", operation, err)
		}
		return nil
	}, resilience.ClassifyHTTP)
	return resilience.WrapUnavailable("qdrant "+operation, err, resilience.ClassifyHTTP)
}

func (c *Client) ensureCollection(ctx context.Context, vectorSize int) error {
	c.ensureMu.Lock()
	if c.ensuredCollection && c.ensuredVectorSize == vectorSize {
		c.ensureMu.Unlock()
		return nil
	}
	c.ensureMu.Unlock()

	reqBody := map[string]any{
		"vectors": map[string]any{
			denseVectorName: map[string]any{"size": vectorSize, "distance": "Cosine"},
		},
		"sparse_vectors": map[string]any{
			sparseVectorName: map[string]any{},
		},
	}
	err := c.send(ctx, http.MethodPut, "/collections/"+c.collection, reqBody, nil, "ensure collection")
	if err != nil {
		// 409 when the collection already exists.
		var statusErr *resilience.StatusError
		if !errors.As(err, &statusErr) || statusErr.StatusCode != http.StatusConflict {
			return err
		}
	}
	c.ensureMu.Lock()
	c.ensuredCollection = true
	c.ensuredVectorSize = vectorSize
	c.ensureMu.Unlock()
	return nil
}

func documentFilter(documentIDs []string) map[string]any {
	return map[string]any{
		"must": []map[string]any{
			{"key": "document_id", "match": map[string]any{"any": documentIDs}},
		},
	}
}

func hitsToRankedList(hits []searchHit) domain.RankedList {
	out := make(domain.RankedList, 0, len(hits))
	for _, h := range hits {
		contentType := domain.ContentType(getStringPayload(h.Payload, "content_type"))
		if contentType == "" {
			contentType = domain.ContentText
		}
		out = append(out, domain.Chunk{
			ID:          getStringPayload(h.Payload, "chunk_id"),
			DocumentID:  getStringPayload(h.Payload, "document_id"),
			ContentType: contentType,
			Content:     getStringPayload(h.Payload, "content"),
			Locator: domain.Locator{
				Page:   getIntPayload(h.Payload, "page"),
				Offset: getIntPayload(h.Payload, "offset"),
			},
			Score: h.Score,
		})
	}
	return out
}

func statusError(operation string, resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
	return &resilience.StatusError{
		Service:    "qdrant " + operation,
		StatusCode: resp.StatusCode,
		Body:       strings.TrimSpace(string(body)),
	}
}

func getStringPayload(payload map[string]any, key string) string {
	v, ok := payload[key]
	if !ok || v == nil {
		return ""
	}
	s, ok := v.(string)
	if ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}

func getIntPayload(payload map[string]any, key string) int {
	switch v := payload[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	default:
		return 0
	}
}
