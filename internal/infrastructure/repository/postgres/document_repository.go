package postgres

import (
	"context"
	"database/sql"
	"fmt"
)

const documentStatusCompleted = "completed"

type DocumentRepository struct {
	db *sql.DB
}

func NewDocumentRepository(db *sql.DB) *DocumentRepository {
	return &DocumentRepository{db: db}
}

// ListDocumentIDs returns the fully processed documents of a project.
func (r *DocumentRepository) ListDocumentIDs(ctx context.Context, projectID string) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT id
FROM project_documents
WHERE project_id = $1 AND processing_status = $2
ORDER BY created_at
`, projectID, documentStatusCompleted)
	if err != nil {
		return nil, fmt.Errorf("list project documents: %w", err)
	}
	defer rows.Close()

	out := make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan project document: %w", err)
		}
		out = append(out, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate project documents: %w", err)
	}
	return out, nil
}
