package ports

import (
	"context"

	"github.com/kirillkom/multimodal-rag/internal/core/domain"
)

// Retriever is the inbound contract for project-scoped retrieval.
type Retriever interface {
	Retrieve(ctx context.Context, projectID, query string) (*domain.RetrievalResult, error)
}

// ContextRetriever retrieves and assembles citation-annotated context.
type ContextRetriever interface {
	RetrieveContext(ctx context.Context, projectID, query string) (domain.AssembledContext, *domain.RetrievalResult, error)
}

// ChatService is the inbound contract for chat management and messaging.
type ChatService interface {
	CreateChat(ctx context.Context, userID, projectID, title string) (*domain.Chat, error)
	DeleteChat(ctx context.Context, userID, chatID string) error
	GetChat(ctx context.Context, userID, chatID string) (*domain.ChatWithMessages, error)
	SendMessage(ctx context.Context, req domain.SendMessageRequest) (*domain.ChatTurn, error)
	StreamMessage(ctx context.Context, req domain.SendMessageRequest, emit func(domain.StreamEvent) error) error
}
