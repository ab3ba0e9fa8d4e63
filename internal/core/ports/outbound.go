package ports

import (
	"context"

	"github.com/kirillkom/multimodal-rag/internal/core/domain"
)

// Embedder builds the query vector used for similarity search.
type Embedder interface {
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// VectorSearcher runs a similarity lookup restricted to documentIDs.
type VectorSearcher interface {
	SearchVector(ctx context.Context, queryVector []float32, documentIDs []string, limit int, threshold float64) (domain.RankedList, error)
}

// KeywordSearcher runs a keyword lookup restricted to documentIDs.
type KeywordSearcher interface {
	SearchKeyword(ctx context.Context, queryText string, documentIDs []string, limit int) (domain.RankedList, error)
}

// QueryExpander returns at most n rephrasings of query.
type QueryExpander interface {
	ExpandQuery(ctx context.Context, query string, n int) ([]string, error)
}

// JSONGenerator returns a single JSON object produced by a utility model.
type JSONGenerator interface {
	GenerateJSONFromPrompt(ctx context.Context, prompt string) (string, error)
}

// TokenStream yields generated tokens until io.EOF.
type TokenStream interface {
	Next(ctx context.Context) (string, error)
	Close() error
}

// ChatModel streams a completion for a prompt conversation.
type ChatModel interface {
	StreamChat(ctx context.Context, messages []domain.PromptMessage) (TokenStream, error)
}

// UpstreamStream yields agent events until io.EOF. Close cancels the producer.
type UpstreamStream interface {
	Next(ctx context.Context) (domain.UpstreamEvent, error)
	Close() error
}

// ProjectSettingsStore reads per-project retrieval configuration.
type ProjectSettingsStore interface {
	GetSettings(ctx context.Context, projectID string) (domain.ProjectSettings, error)
}

// ProjectDocuments lists the documents retrieval is scoped to.
type ProjectDocuments interface {
	ListDocumentIDs(ctx context.Context, projectID string) ([]string, error)
}

// ChatStore persists chats and their messages.
type ChatStore interface {
	CreateChat(ctx context.Context, chat *domain.Chat) error
	GetChat(ctx context.Context, chatID string) (*domain.Chat, error)
	DeleteChat(ctx context.Context, chatID string) error
	InsertMessage(ctx context.Context, message *domain.Message) error
	ListMessages(ctx context.Context, chatID string) ([]domain.Message, error)
	ListRecentMessages(ctx context.Context, chatID string, limit int) ([]domain.Message, error)
}

// EvaluationPublisher ships completed exchanges to the evaluation pipeline.
type EvaluationPublisher interface {
	PublishEvaluation(ctx context.Context, record domain.EvaluationRecord) error
}

// EvaluationDataset stores evaluation records.
type EvaluationDataset interface {
	Append(ctx context.Context, record domain.EvaluationRecord) error
}

// RetrievalObserver receives per-request retrieval diagnostics.
type RetrievalObserver interface {
	ObserveRetrieval(strategy domain.RAGStrategy, candidates, failedSearches int, expansionFallback bool)
	ObserveStreamTerminal(eventType domain.StreamEventType)
}

// ChunkSource pages through stored chunks that already carry an embedding,
// ordered by chunk id.
type ChunkSource interface {
	ListEmbeddedChunks(ctx context.Context, afterID string, limit int) ([]domain.Chunk, [][]float32, error)
}

// ChunkIndex stores chunks with their dense embeddings in a search index.
type ChunkIndex interface {
	UpsertChunks(ctx context.Context, chunks []domain.Chunk, vectors [][]float32) error
}
