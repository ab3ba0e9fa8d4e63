package bootstrap

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/kirillkom/multimodal-rag/internal/config"
	"github.com/kirillkom/multimodal-rag/internal/infrastructure/repository/postgres"
	"github.com/kirillkom/multimodal-rag/internal/infrastructure/resilience"
	"github.com/kirillkom/multimodal-rag/internal/infrastructure/vector/qdrant"
)

func TestSearchBackendFollowsConfig(t *testing.T) {
	vector, keyword := searchBackend(config.Config{VectorBackend: config.VectorBackendQdrant, QdrantURL: "http://qdrant:6333"}, nil, nil)
	if _, ok := vector.(*qdrant.Client); !ok {
		t.Fatalf("expected qdrant vector search, got %T", vector)
	}
	if _, ok := keyword.(*qdrant.Client); !ok {
		t.Fatalf("expected qdrant keyword search, got %T", keyword)
	}

	vector, keyword = searchBackend(config.Config{VectorBackend: config.VectorBackendPostgres}, nil, nil)
	if _, ok := vector.(*postgres.SearchRepository); !ok {
		t.Fatalf("expected postgres vector search, got %T", vector)
	}
	if _, ok := keyword.(*postgres.SearchRepository); !ok {
		t.Fatalf("expected postgres keyword search, got %T", keyword)
	}
}

func TestCloseRunsInReverseOrder(t *testing.T) {
	var order []int
	app := &App{}
	app.onClose(func() { order = append(order, 1) })
	app.onClose(func() { order = append(order, 2) })

	app.Close()
	app.Close()
	if len(order) != 2 || order[0] != 2 || order[1] != 1 {
		t.Fatalf("unexpected close order: %v", order)
	}
}

func TestIndexSyncCopiesPostgresChunksIntoQdrant(t *testing.T) {
	var mu sync.Mutex
	var paths []string
	var upserted []map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		paths = append(paths, r.Method+" "+r.URL.Path)
		if strings.HasSuffix(r.URL.Path, "/points") {
			var body struct {
				Points []map[string]any `json:"points"`
			}
			_ = json.NewDecoder(r.Body).Decode(&body)
			upserted = append(upserted, body.Points...)
		}
		_, _ = w.Write([]byte(`{"result":true}`))
	}))
	defer srv.Close()

	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	defer db.Close()
	mock.ExpectQuery("FROM document_chunks c").
		WithArgs("completed", "", 10).
		WillReturnRows(sqlmock.NewRows([]string{"id", "document_id", "content_type", "content", "page_number", "char_offset", "embedding"}).
			AddRow("c1", "d1", "text", "revenue grew", 1, 0, []byte("[0.1,0.2]")).
			AddRow("c2", "d1", "table", "| q | v |", 2, 40, []byte("[0.3,0.4]")))

	cfg := config.Config{QdrantURL: srv.URL, QdrantCollection: "chunks", QdrantSyncBatchSize: 10}
	n, err := newIndexSync(cfg, db, resilience.NewExecutor(resilience.Config{})).Sync(context.Background())
	if err != nil {
		t.Fatalf("Sync() error = %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 chunks synced, got %d", n)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(paths) != 2 || paths[0] != "PUT /collections/chunks" || paths[1] != "PUT /collections/chunks/points" {
		t.Fatalf("unexpected qdrant calls %v", paths)
	}
	if len(upserted) != 2 {
		t.Fatalf("expected 2 points, got %d", len(upserted))
	}
	payload, _ := upserted[1]["payload"].(map[string]any)
	if payload["chunk_id"] != "c2" || payload["content_type"] != "table" {
		t.Fatalf("unexpected payload %v", payload)
	}
}
