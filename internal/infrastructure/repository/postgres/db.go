package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

const schemaLockID int64 = 2026021001

func OpenDB(dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("sql open: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("db ping: %w", err)
	}
	return db, nil
}

// EnsureSchema creates the tables and search functions used by the API and
// the worker. embeddingDims fixes the pgvector column width.
func EnsureSchema(ctx context.Context, db *sql.DB, embeddingDims int) error {
	if embeddingDims <= 0 {
		return fmt.Errorf("embedding dimensions must be positive")
	}
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	// Serialize bootstrap DDL across api/worker startups.
	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, schemaLockID); err != nil {
		return fmt.Errorf("acquire schema lock: %w", err)
	}
	if _, err := tx.ExecContext(ctx, schemaDDL(embeddingDims)); err != nil {
		return fmt.Errorf("execute schema ddl: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema tx: %w", err)
	}
	return nil
}

func schemaDDL(dims int) string {
	return fmt.Sprintf(`
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS project_settings (
	project_id TEXT PRIMARY KEY,
	embedding_model TEXT NOT NULL DEFAULT 'text-embedding-3-small',
	rag_strategy TEXT NOT NULL DEFAULT 'basic',
	agent_type TEXT NOT NULL DEFAULT 'simple',
	chunks_per_search INTEGER NOT NULL DEFAULT 10,
	final_context_size INTEGER NOT NULL DEFAULT 5,
	similarity_threshold DOUBLE PRECISION NOT NULL DEFAULT 0.3,
	number_of_queries INTEGER NOT NULL DEFAULT 5,
	reranking_enabled BOOLEAN NOT NULL DEFAULT FALSE,
	reranking_model TEXT NOT NULL DEFAULT 'reranker-english-v3.0',
	vector_weight DOUBLE PRECISION NOT NULL DEFAULT 0.7,
	keyword_weight DOUBLE PRECISION NOT NULL DEFAULT 0.3,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS project_documents (
	id TEXT PRIMARY KEY,
	project_id TEXT NOT NULL,
	filename TEXT NOT NULL,
	processing_status TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_project_documents_project ON project_documents(project_id);

CREATE TABLE IF NOT EXISTS document_chunks (
	id TEXT PRIMARY KEY,
	document_id TEXT NOT NULL REFERENCES project_documents(id) ON DELETE CASCADE,
	content_type TEXT NOT NULL DEFAULT 'text',
	content TEXT NOT NULL,
	page_number INTEGER NOT NULL DEFAULT 0,
	char_offset INTEGER NOT NULL DEFAULT 0,
	embedding vector(%d),
	content_tsv tsvector GENERATED ALWAYS AS (to_tsvector('english', content)) STORED
);

CREATE INDEX IF NOT EXISTS idx_document_chunks_document ON document_chunks(document_id);
CREATE INDEX IF NOT EXISTS idx_document_chunks_tsv ON document_chunks USING GIN(content_tsv);

CREATE OR REPLACE FUNCTION vector_search_document_chunks(
	query_embedding vector(%d),
	filter_document_ids TEXT[],
	match_threshold DOUBLE PRECISION,
	chunks_per_search INTEGER
)
RETURNS TABLE (
	id TEXT, document_id TEXT, content_type TEXT, content TEXT,
	page_number INTEGER, char_offset INTEGER, similarity DOUBLE PRECISION
)
LANGUAGE sql STABLE AS $$
	SELECT c.id, c.document_id, c.content_type, c.content, c.page_number, c.char_offset,
		1 - (c.embedding <=> query_embedding) AS similarity
	FROM document_chunks c
	WHERE c.document_id = ANY(filter_document_ids)
		AND c.embedding IS NOT NULL
		AND 1 - (c.embedding <=> query_embedding) > match_threshold
	ORDER BY c.embedding <=> query_embedding
	LIMIT chunks_per_search
$$;

CREATE OR REPLACE FUNCTION keyword_search_document_chunks(
	query_text TEXT,
	filter_document_ids TEXT[],
	chunks_per_search INTEGER
)
RETURNS TABLE (
	id TEXT, document_id TEXT, content_type TEXT, content TEXT,
	page_number INTEGER, char_offset INTEGER, rank DOUBLE PRECISION
)
LANGUAGE sql STABLE AS $$
	SELECT c.id, c.document_id, c.content_type, c.content, c.page_number, c.char_offset,
		ts_rank_cd(c.content_tsv, websearch_to_tsquery('english', query_text))::DOUBLE PRECISION AS rank
	FROM document_chunks c
	WHERE c.document_id = ANY(filter_document_ids)
		AND c.content_tsv @@ websearch_to_tsquery('english', query_text)
	ORDER BY rank DESC
	LIMIT chunks_per_search
$$;

CREATE TABLE IF NOT EXISTS chats (
	id TEXT PRIMARY KEY,
	project_id TEXT NOT NULL,
	user_id TEXT NOT NULL,
	title TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_chats_user ON chats(user_id, created_at DESC);

CREATE TABLE IF NOT EXISTS messages (
	id TEXT PRIMARY KEY,
	chat_id TEXT NOT NULL REFERENCES chats(id) ON DELETE CASCADE,
	user_id TEXT NOT NULL,
	role TEXT NOT NULL,
	content TEXT NOT NULL,
	citations JSONB NOT NULL DEFAULT '[]'::jsonb,
	created_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_messages_chat_created ON messages(chat_id, created_at);
`, dims, dims)
}
