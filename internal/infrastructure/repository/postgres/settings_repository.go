package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/kirillkom/multimodal-rag/internal/core/domain"
)

// SettingsRepository reads project_settings. A project without a row gets
// the default settings.
type SettingsRepository struct {
	db *sql.DB
}

func NewSettingsRepository(db *sql.DB) *SettingsRepository {
	return &SettingsRepository{db: db}
}

func (r *SettingsRepository) GetSettings(ctx context.Context, projectID string) (domain.ProjectSettings, error) {
	row := r.db.QueryRowContext(ctx, `
SELECT project_id, embedding_model, rag_strategy, agent_type, chunks_per_search, final_context_size,
	similarity_threshold, number_of_queries, reranking_enabled, reranking_model, vector_weight, keyword_weight
FROM project_settings
WHERE project_id = $1
`, projectID)

	var s domain.ProjectSettings
	var agentType string
	err := row.Scan(
		&s.ProjectID, &s.EmbeddingModel, &s.RAGStrategy, &agentType, &s.ChunksPerSearch, &s.FinalContextSize,
		&s.SimilarityThreshold, &s.NumberOfQueries, &s.RerankingEnabled, &s.RerankingModel, &s.VectorWeight, &s.KeywordWeight,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.DefaultProjectSettings(projectID), nil
		}
		return domain.ProjectSettings{}, fmt.Errorf("get project settings: %w", err)
	}
	s.AgentType = domain.AgentType(agentType)
	return s, nil
}

func (r *SettingsRepository) UpsertSettings(ctx context.Context, s domain.ProjectSettings) error {
	_, err := r.db.ExecContext(ctx, `
INSERT INTO project_settings (
	project_id, embedding_model, rag_strategy, agent_type, chunks_per_search, final_context_size,
	similarity_threshold, number_of_queries, reranking_enabled, reranking_model, vector_weight, keyword_weight, updated_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,NOW())
ON CONFLICT (project_id) DO UPDATE SET
	embedding_model = EXCLUDED.embedding_model,
	rag_strategy = EXCLUDED.rag_strategy,
	agent_type = EXCLUDED.agent_type,
	chunks_per_search = EXCLUDED.chunks_per_search,
	final_context_size = EXCLUDED.final_context_size,
	similarity_threshold = EXCLUDED.similarity_threshold,
	number_of_queries = EXCLUDED.number_of_queries,
	reranking_enabled = EXCLUDED.reranking_enabled,
	reranking_model = EXCLUDED.reranking_model,
	vector_weight = EXCLUDED.vector_weight,
	keyword_weight = EXCLUDED.keyword_weight,
	updated_at = NOW()
`,
		s.ProjectID, s.EmbeddingModel, s.RAGStrategy, string(s.AgentType), s.ChunksPerSearch, s.FinalContextSize,
		s.SimilarityThreshold, s.NumberOfQueries, s.RerankingEnabled, s.RerankingModel, s.VectorWeight, s.KeywordWeight,
	)
	if err != nil {
		return fmt.Errorf("upsert project settings: %w", err)
	}
	return nil
}
