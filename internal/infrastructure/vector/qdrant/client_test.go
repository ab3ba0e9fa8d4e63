package qdrant

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kirillkom/multimodal-rag/internal/core/domain"
	"github.com/kirillkom/multimodal-rag/internal/infrastructure/resilience"
)

const searchResponse = `{"result":[
	{"score":0.92,"payload":{"chunk_id":"c1","document_id":"d1","content_type":"table","content":"| q | rev |","page":4,"offset":10}},
	{"score":0.71,"payload":{"chunk_id":"c2","document_id":"d2","content":"plain text"}}
]}`

func TestSearchVectorSendsNamedVectorAndFilter(t *testing.T) {
	var captured map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/collections/chunks/points/search" {
			http.NotFound(w, r)
			return
		}
		_ = json.NewDecoder(r.Body).Decode(&captured)
		_, _ = w.Write([]byte(searchResponse))
	}))
	defer server.Close()

	client := New(server.URL, "chunks", nil)
	got, err := client.SearchVector(context.Background(), []float32{0.1, 0.2}, []string{"d1", "d2"}, 5, 0.3)
	if err != nil {
		t.Fatalf("SearchVector() error = %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 chunks, got %d", len(got))
	}
	if got[0].ID != "c1" || got[0].ContentType != domain.ContentTable || got[0].Locator.Page != 4 || got[0].Locator.Offset != 10 {
		t.Fatalf("unexpected first chunk: %+v", got[0])
	}
	if got[1].ContentType != domain.ContentText {
		t.Fatalf("expected text default, got %q", got[1].ContentType)
	}

	vector, _ := captured["vector"].(map[string]any)
	if vector["name"] != denseVectorName {
		t.Fatalf("expected dense vector name, got %v", vector["name"])
	}
	if captured["score_threshold"] != 0.3 {
		t.Fatalf("expected score threshold, got %v", captured["score_threshold"])
	}
	filter, _ := json.Marshal(captured["filter"])
	if !strings.Contains(string(filter), `"any":["d1","d2"]`) {
		t.Fatalf("expected document filter, got %s", filter)
	}
}

func TestSearchKeywordUsesSparseVector(t *testing.T) {
	var captured map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&captured)
		_, _ = w.Write([]byte(`{"result":[]}`))
	}))
	defer server.Close()

	client := New(server.URL, "chunks", nil)
	got, err := client.SearchKeyword(context.Background(), "quarterly revenue", []string{"d1"}, 5)
	if err != nil {
		t.Fatalf("SearchKeyword() error = %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected no chunks, got %d", len(got))
	}
	vector, _ := captured["vector"].(map[string]any)
	if vector["name"] != sparseVectorName {
		t.Fatalf("expected sparse vector name, got %v", vector["name"])
	}
	if _, ok := captured["score_threshold"]; ok {
		t.Fatalf("keyword search must not send a score threshold")
	}
}

func TestSearchKeywordSkipsRequestForNoiseQuery(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
	}))
	defer server.Close()

	client := New(server.URL, "chunks", nil)
	got, err := client.SearchKeyword(context.Background(), "?!", []string{"d1"}, 5)
	if err != nil || len(got) != 0 {
		t.Fatalf("expected empty result, got %v %v", got, err)
	}
	if atomic.LoadInt32(&calls) != 0 {
		t.Fatalf("expected no request")
	}
}

func TestSearchRetriesAndReportsUnavailable(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	executor := resilience.NewExecutor(resilience.Config{
		RetryMaxAttempts:    2,
		RetryInitialBackoff: time.Millisecond,
		RetryMaxBackoff:     time.Millisecond,
		RetryMultiplier:     1,
	})
	client := New(server.URL, "chunks", executor)
	_, err := client.SearchVector(context.Background(), []float32{0.1}, []string{"d1"}, 5, 0)
	if !domain.IsKind(err, domain.ErrUpstreamUnavailable) {
		t.Fatalf("expected ErrUpstreamUnavailable, got %v", err)
	}
	if !strings.Contains(err.Error(), "overloaded") {
		t.Fatalf("expected body in error, got %v", err)
	}
	if got := atomic.LoadInt32(&calls); got != 2 {
		t.Fatalf("expected 2 attempts, got %d", got)
	}
}

func TestUpsertChunksEnsuresCollectionOncePerVectorSize(t *testing.T) {
	var ensureCalls int32
	var upserted map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPut && r.URL.Path == "/collections/chunks":
			atomic.AddInt32(&ensureCalls, 1)
			w.WriteHeader(http.StatusCreated)
		case r.Method == http.MethodPut && r.URL.Path == "/collections/chunks/points":
			_ = json.NewDecoder(r.Body).Decode(&upserted)
			_, _ = w.Write([]byte(`{"status":"ok"}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	client := New(server.URL, "chunks", nil)
	chunks := []domain.Chunk{{ID: "c1", DocumentID: "d1", ContentType: domain.ContentText, Content: "revenue grew"}}
	vectors := [][]float32{{0.1, 0.2}}

	for i := 0; i < 2; i++ {
		if err := client.UpsertChunks(context.Background(), chunks, vectors); err != nil {
			t.Fatalf("UpsertChunks() error = %v", err)
		}
	}
	if got := atomic.LoadInt32(&ensureCalls); got != 1 {
		t.Fatalf("expected ensure collection called once, got %d", got)
	}
	points, _ := upserted["points"].([]any)
	if len(points) != 1 {
		t.Fatalf("expected one point, got %v", upserted)
	}
	payload := points[0].(map[string]any)["payload"].(map[string]any)
	if payload["chunk_id"] != "c1" || payload["document_id"] != "d1" {
		t.Fatalf("unexpected payload: %v", payload)
	}
}

func TestEnsureCollectionToleratesConflict(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/collections/chunks" {
			http.Error(w, "already exists", http.StatusConflict)
			return
		}
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	}))
	defer server.Close()

	client := New(server.URL, "chunks", nil)
	err := client.UpsertChunks(context.Background(), []domain.Chunk{{ID: "c1", Content: "x"}}, [][]float32{{0.1}})
	if err != nil {
		t.Fatalf("UpsertChunks() error = %v", err)
	}
}

func TestEnsureCollectionIncludesResponseBodyInError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusBadRequest)
	}))
	defer server.Close()

	client := New(server.URL, "chunks", nil)
	err := client.UpsertChunks(context.Background(), []domain.Chunk{{ID: "c1", Content: "x"}}, [][]float32{{0.1}})
	if err == nil || !strings.Contains(err.Error(), "boom") {
		t.Fatalf("expected error to include body, got %v", err)
	}
}
