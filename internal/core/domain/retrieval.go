package domain

import (
	"fmt"
	"math"
	"strings"
)

type ContentType string

const (
	ContentText  ContentType = "text"
	ContentTable ContentType = "table"
	ContentImage ContentType = "image"
)

// Locator points at the place inside the source document a chunk came from.
type Locator struct {
	Page   int `json:"page,omitempty"`
	Offset int `json:"offset,omitempty"`
}

// Chunk is a retrievable unit of document content. Score semantics depend on
// the adapter that produced it and are not comparable across adapters.
type Chunk struct {
	ID          string      `json:"id"`
	DocumentID  string      `json:"document_id"`
	ContentType ContentType `json:"content_type"`
	Content     string      `json:"content"`
	Locator     Locator     `json:"locator"`
	Score       float64     `json:"score"`
}

// RankedList is one ordered search result; rank is the 1-based position.
type RankedList []Chunk

type FusedCandidate struct {
	ChunkID     string  `json:"chunk_id"`
	FusedScore  float64 `json:"fused_score"`
	SourceCount int     `json:"source_count"`
}

type RAGStrategy string

const (
	StrategyBasic            RAGStrategy = "basic"
	StrategyHybrid           RAGStrategy = "hybrid"
	StrategyMultiQueryVector RAGStrategy = "multi-query-vector"
	StrategyMultiQueryHybrid RAGStrategy = "multi-query-hybrid"
)

// ParseRAGStrategy accepts both dashed and underscored spellings.
func ParseRAGStrategy(raw string) (RAGStrategy, error) {
	normalized := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(raw)), "_", "-")
	switch RAGStrategy(normalized) {
	case StrategyBasic, StrategyHybrid, StrategyMultiQueryVector, StrategyMultiQueryHybrid:
		return RAGStrategy(normalized), nil
	default:
		return "", WrapError(ErrInvalidConfiguration, "parse rag strategy", fmt.Errorf("unknown strategy %q", raw))
	}
}

type AgentType string

const (
	AgentSimple  AgentType = "simple"
	AgentAgentic AgentType = "agentic"
)

// ProjectSettings governs retrieval for one project.
type ProjectSettings struct {
	ProjectID           string    `json:"project_id"`
	EmbeddingModel      string    `json:"embedding_model"`
	RAGStrategy         string    `json:"rag_strategy"`
	AgentType           AgentType `json:"agent_type"`
	ChunksPerSearch     int       `json:"chunks_per_search"`
	FinalContextSize    int       `json:"final_context_size"`
	SimilarityThreshold float64   `json:"similarity_threshold"`
	NumberOfQueries     int       `json:"number_of_queries"`
	RerankingEnabled    bool      `json:"reranking_enabled"`
	RerankingModel      string    `json:"reranking_model"`
	VectorWeight        float64   `json:"vector_weight"`
	KeywordWeight       float64   `json:"keyword_weight"`
}

func DefaultProjectSettings(projectID string) ProjectSettings {
	return ProjectSettings{
		ProjectID:           projectID,
		EmbeddingModel:      "text-embedding-3-small",
		RAGStrategy:         string(StrategyBasic),
		AgentType:           AgentSimple,
		ChunksPerSearch:     10,
		FinalContextSize:    5,
		SimilarityThreshold: 0.3,
		NumberOfQueries:     5,
		RerankingModel:      "reranker-english-v3.0",
		VectorWeight:        0.7,
		KeywordWeight:       0.3,
	}
}

// Validate returns the parsed strategy or an invalid configuration error.
func (s ProjectSettings) Validate() (RAGStrategy, error) {
	strategy, err := ParseRAGStrategy(s.RAGStrategy)
	if err != nil {
		return "", err
	}
	if !validWeight(s.VectorWeight) || !validWeight(s.KeywordWeight) {
		return "", WrapError(ErrInvalidConfiguration, "validate project settings", fmt.Errorf("weights must be finite and non-negative"))
	}
	if s.ChunksPerSearch <= 0 {
		return "", WrapError(ErrInvalidConfiguration, "validate project settings", fmt.Errorf("chunks_per_search must be positive"))
	}
	if s.SimilarityThreshold < 0 || s.SimilarityThreshold > 1 {
		return "", WrapError(ErrInvalidConfiguration, "validate project settings", fmt.Errorf("similarity_threshold must be within [0,1]"))
	}
	if (strategy == StrategyMultiQueryVector || strategy == StrategyMultiQueryHybrid) && s.NumberOfQueries <= 0 {
		return "", WrapError(ErrInvalidConfiguration, "validate project settings", fmt.Errorf("number_of_queries must be positive"))
	}
	return strategy, nil
}

// validWeight rejects NaN as well as negative and infinite values.
func validWeight(w float64) bool {
	return w >= 0 && !math.IsInf(w, 0)
}

// RetrievalResult is the ranked candidate set of one retrieval call.
type RetrievalResult struct {
	Strategy       RAGStrategy      `json:"strategy"`
	Variants       []string         `json:"variants"`
	Candidates     []FusedCandidate `json:"candidates"`
	Chunks         map[string]Chunk `json:"-"`
	FailedSearches int              `json:"failed_searches"`
	ExpansionFell  bool             `json:"expansion_fallback"`
}
