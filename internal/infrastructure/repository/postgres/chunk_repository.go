package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/pgvector/pgvector-go"

	"github.com/kirillkom/multimodal-rag/internal/core/domain"
)

type ChunkRepository struct {
	db *sql.DB
}

func NewChunkRepository(db *sql.DB) *ChunkRepository {
	return &ChunkRepository{db: db}
}

// ListEmbeddedChunks returns up to limit embedded chunks of completed
// documents whose id sorts after afterID.
func (r *ChunkRepository) ListEmbeddedChunks(ctx context.Context, afterID string, limit int) ([]domain.Chunk, [][]float32, error) {
	if limit <= 0 {
		return nil, nil, nil
	}
	rows, err := r.db.QueryContext(ctx, `
SELECT c.id, c.document_id, c.content_type, c.content, c.page_number, c.char_offset, c.embedding
FROM document_chunks c
JOIN project_documents d ON d.id = c.document_id
WHERE d.processing_status = $1 AND c.embedding IS NOT NULL AND c.id > $2
ORDER BY c.id
LIMIT $3
`, documentStatusCompleted, afterID, limit)
	if err != nil {
		return nil, nil, fmt.Errorf("list embedded chunks: %w", err)
	}
	defer rows.Close()

	chunks := make([]domain.Chunk, 0, limit)
	vectors := make([][]float32, 0, limit)
	for rows.Next() {
		var c domain.Chunk
		var contentType string
		var embedding pgvector.Vector
		if err := rows.Scan(&c.ID, &c.DocumentID, &contentType, &c.Content, &c.Locator.Page, &c.Locator.Offset, &embedding); err != nil {
			return nil, nil, fmt.Errorf("scan embedded chunk: %w", err)
		}
		c.ContentType = domain.ContentType(contentType)
		if c.ContentType == "" {
			c.ContentType = domain.ContentText
		}
		chunks = append(chunks, c)
		vectors = append(vectors, embedding.Slice())
	}
	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("iterate embedded chunks: %w", err)
	}
	return chunks, vectors, nil
}
