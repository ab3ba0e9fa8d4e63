package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/pgvector/pgvector-go"

	"github.com/kirillkom/multimodal-rag/internal/core/domain"
)

// SearchRepository runs vector and keyword lookups through the SQL search
// functions created by EnsureSchema.
type SearchRepository struct {
	db *sql.DB
}

func NewSearchRepository(db *sql.DB) *SearchRepository {
	return &SearchRepository{db: db}
}

func (r *SearchRepository) SearchVector(ctx context.Context, queryVector []float32, documentIDs []string, limit int, threshold float64) (domain.RankedList, error) {
	if len(documentIDs) == 0 || limit <= 0 {
		return domain.RankedList{}, nil
	}
	rows, err := r.db.QueryContext(ctx, `
SELECT id, document_id, content_type, content, page_number, char_offset, similarity
FROM vector_search_document_chunks($1::vector, $2::text[], $3, $4)
`, pgvector.NewVector(queryVector), documentIDs, threshold, limit)
	if err != nil {
		return nil, fmt.Errorf("vector search: %w", err)
	}
	defer rows.Close()
	return scanRankedChunks(rows, "vector search")
}

func (r *SearchRepository) SearchKeyword(ctx context.Context, queryText string, documentIDs []string, limit int) (domain.RankedList, error) {
	if len(documentIDs) == 0 || limit <= 0 || strings.TrimSpace(queryText) == "" {
		return domain.RankedList{}, nil
	}
	rows, err := r.db.QueryContext(ctx, `
SELECT id, document_id, content_type, content, page_number, char_offset, rank
FROM keyword_search_document_chunks($1, $2::text[], $3)
`, queryText, documentIDs, limit)
	if err != nil {
		return nil, fmt.Errorf("keyword search: %w", err)
	}
	defer rows.Close()
	return scanRankedChunks(rows, "keyword search")
}

func scanRankedChunks(rows *sql.Rows, op string) (domain.RankedList, error) {
	out := make(domain.RankedList, 0)
	for rows.Next() {
		var c domain.Chunk
		var contentType string
		if err := rows.Scan(&c.ID, &c.DocumentID, &contentType, &c.Content, &c.Locator.Page, &c.Locator.Offset, &c.Score); err != nil {
			return nil, fmt.Errorf("scan %s row: %w", op, err)
		}
		c.ContentType = domain.ContentType(contentType)
		if c.ContentType == "" {
			c.ContentType = domain.ContentText
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate %s rows: %w", op, err)
	}
	return out, nil
}
