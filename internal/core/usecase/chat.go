package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kirillkom/multimodal-rag/internal/core/domain"
	"github.com/kirillkom/multimodal-rag/internal/core/ports"
)

type ChatUseCase struct {
	chats       ports.ChatStore
	settings    ports.ProjectSettingsStore
	agent       *RAGAgent
	evaluations ports.EvaluationPublisher
	observer    ports.RetrievalObserver
}

func NewChatUseCase(
	chats ports.ChatStore,
	settings ports.ProjectSettingsStore,
	agent *RAGAgent,
	evaluations ports.EvaluationPublisher,
	observer ports.RetrievalObserver,
) *ChatUseCase {
	if observer == nil {
		observer = NoopObserver{}
	}
	return &ChatUseCase{
		chats:       chats,
		settings:    settings,
		agent:       agent,
		evaluations: evaluations,
		observer:    observer,
	}
}

func (uc *ChatUseCase) CreateChat(ctx context.Context, userID, projectID, title string) (*domain.Chat, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, domain.WrapError(domain.ErrUnauthorized, "create chat", fmt.Errorf("user id is required"))
	}
	projectID = strings.TrimSpace(projectID)
	if projectID == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "create chat", fmt.Errorf("project_id is required"))
	}
	title = strings.TrimSpace(title)
	if title == "" {
		title = "New Chat"
	}

	chat := &domain.Chat{
		ID:        uuid.NewString(),
		ProjectID: projectID,
		UserID:    userID,
		Title:     title,
		CreatedAt: time.Now().UTC(),
	}
	if err := uc.chats.CreateChat(ctx, chat); err != nil {
		return nil, fmt.Errorf("create chat: %w", err)
	}
	return chat, nil
}

func (uc *ChatUseCase) DeleteChat(ctx context.Context, userID, chatID string) error {
	if _, err := uc.ownedChat(ctx, userID, chatID); err != nil {
		return err
	}
	if err := uc.chats.DeleteChat(ctx, chatID); err != nil {
		return fmt.Errorf("delete chat: %w", err)
	}
	return nil
}

func (uc *ChatUseCase) GetChat(ctx context.Context, userID, chatID string) (*domain.ChatWithMessages, error) {
	chat, err := uc.ownedChat(ctx, userID, chatID)
	if err != nil {
		return nil, err
	}
	messages, err := uc.chats.ListMessages(ctx, chatID)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	return &domain.ChatWithMessages{Chat: *chat, Messages: messages}, nil
}

// SendMessage runs the streaming pipeline and returns the completed turn.
func (uc *ChatUseCase) SendMessage(ctx context.Context, req domain.SendMessageRequest) (*domain.ChatTurn, error) {
	var turn *domain.ChatTurn
	var failure string
	err := uc.StreamMessage(ctx, req, func(event domain.StreamEvent) error {
		switch event.Type {
		case domain.EventDone:
			turn = &domain.ChatTurn{UserMessage: *event.UserMessage, AIMessage: *event.AIMessage}
		case domain.EventError:
			failure = event.Text
		}
		return nil
	})
	if err != nil {
		if failure != "" {
			return nil, domain.WrapError(domain.ErrUpstreamUnavailable, "send message", fmt.Errorf("%s: %w", failure, err))
		}
		return nil, err
	}
	if turn == nil {
		return nil, domain.WrapError(domain.ErrUpstreamUnavailable, "send message", errors.New("stream finished without a result"))
	}
	return turn, nil
}

// StreamMessage stores the user message, runs the agent and emits client
// events. Errors returned before the first emitted event mean nothing was
// streamed.
func (uc *ChatUseCase) StreamMessage(ctx context.Context, req domain.SendMessageRequest, emit func(domain.StreamEvent) error) error {
	content := strings.TrimSpace(req.Content)
	if content == "" {
		return domain.WrapError(domain.ErrInvalidInput, "stream message", fmt.Errorf("content is required"))
	}
	chat, err := uc.ownedChat(ctx, req.UserID, req.ChatID)
	if err != nil {
		return err
	}
	if req.ProjectID != "" && chat.ProjectID != req.ProjectID {
		return domain.WrapError(domain.ErrNotFound, "stream message", fmt.Errorf("chat %s not in project %s", req.ChatID, req.ProjectID))
	}

	history, err := uc.chats.ListRecentMessages(ctx, chat.ID, uc.agent.HistoryLimit())
	if err != nil {
		return fmt.Errorf("load chat history: %w", err)
	}

	userMessage := &domain.Message{
		ID:        uuid.NewString(),
		ChatID:    chat.ID,
		UserID:    chat.UserID,
		Role:      domain.RoleUser,
		Content:   content,
		CreatedAt: time.Now().UTC(),
	}
	if err := uc.chats.InsertMessage(ctx, userMessage); err != nil {
		return fmt.Errorf("insert user message: %w", err)
	}

	settings := uc.projectSettings(ctx, chat.ProjectID)
	stream := uc.agent.Start(ctx, domain.AgentRequest{
		ProjectID: chat.ProjectID,
		Question:  content,
		History:   history,
		AgentType: settings.AgentType,
	})

	persist := func(ctx context.Context, answer string, citations []domain.Citation) (*domain.Message, error) {
		message := &domain.Message{
			ID:        uuid.NewString(),
			ChatID:    chat.ID,
			UserID:    chat.UserID,
			Role:      domain.RoleAssistant,
			Content:   answer,
			Citations: citations,
			CreatedAt: time.Now().UTC(),
		}
		if err := uc.chats.InsertMessage(ctx, message); err != nil {
			return nil, err
		}
		return message, nil
	}

	aiMessage, err := NewStreamInterpreter(persist, uc.observer).Run(ctx, userMessage, stream, emit)
	if err != nil {
		return err
	}

	uc.publishEvaluation(ctx, domain.EvaluationRecord{
		ProjectID: chat.ProjectID,
		ChatID:    chat.ID,
		MessageID: aiMessage.ID,
		Question:  content,
		Answer:    aiMessage.Content,
		Contexts:  stream.Contexts(),
		Strategy:  settings.RAGStrategy,
	})
	return nil
}

// projectSettings falls back to the simple agent when settings cannot be
// loaded or name an unknown agent type.
func (uc *ChatUseCase) projectSettings(ctx context.Context, projectID string) domain.ProjectSettings {
	settings, err := uc.settings.GetSettings(ctx, projectID)
	if err != nil {
		slog.WarnContext(ctx, "agent_type_fallback", "project_id", projectID, "reason", "settings_unavailable", "error", err.Error())
		settings = domain.DefaultProjectSettings(projectID)
	}
	switch settings.AgentType {
	case domain.AgentSimple, domain.AgentAgentic:
	default:
		slog.WarnContext(ctx, "agent_type_fallback", "project_id", projectID, "reason", "unknown_agent_type", "agent_type", string(settings.AgentType))
		settings.AgentType = domain.AgentSimple
	}
	return settings
}

func (uc *ChatUseCase) publishEvaluation(ctx context.Context, record domain.EvaluationRecord) {
	if uc.evaluations == nil {
		return
	}
	if err := uc.evaluations.PublishEvaluation(ctx, record); err != nil {
		slog.WarnContext(ctx, "evaluation_publish_failed", "chat_id", record.ChatID, "error", err.Error())
	}
}

func (uc *ChatUseCase) ownedChat(ctx context.Context, userID, chatID string) (*domain.Chat, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, domain.WrapError(domain.ErrUnauthorized, "load chat", fmt.Errorf("user id is required"))
	}
	chatID = strings.TrimSpace(chatID)
	if chatID == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "load chat", fmt.Errorf("chat id is required"))
	}
	chat, err := uc.chats.GetChat(ctx, chatID)
	if err != nil {
		return nil, fmt.Errorf("get chat: %w", err)
	}
	if chat.UserID != userID {
		return nil, domain.WrapError(domain.ErrNotFound, "load chat", fmt.Errorf("chat %s", chatID))
	}
	return chat, nil
}
