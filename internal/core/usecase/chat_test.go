package usecase

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/kirillkom/multimodal-rag/internal/core/domain"
)

type chatStoreFake struct {
	mu        sync.Mutex
	chats     map[string]*domain.Chat
	messages  map[string][]domain.Message
	insertErr error
	deleted   []string
}

func newChatStoreFake(chats ...*domain.Chat) *chatStoreFake {
	f := &chatStoreFake{chats: map[string]*domain.Chat{}, messages: map[string][]domain.Message{}}
	for _, c := range chats {
		f.chats[c.ID] = c
	}
	return f
}

func (f *chatStoreFake) CreateChat(_ context.Context, chat *domain.Chat) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.chats[chat.ID] = chat
	return nil
}

func (f *chatStoreFake) GetChat(_ context.Context, chatID string) (*domain.Chat, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	chat, ok := f.chats[chatID]
	if !ok {
		return nil, domain.WrapError(domain.ErrNotFound, "get chat", errors.New(chatID))
	}
	return chat, nil
}

func (f *chatStoreFake) DeleteChat(_ context.Context, chatID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.chats, chatID)
	f.deleted = append(f.deleted, chatID)
	return nil
}

func (f *chatStoreFake) InsertMessage(_ context.Context, message *domain.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.insertErr != nil && message.Role == domain.RoleAssistant {
		return f.insertErr
	}
	f.messages[message.ChatID] = append(f.messages[message.ChatID], *message)
	return nil
}

func (f *chatStoreFake) ListMessages(_ context.Context, chatID string) ([]domain.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.Message(nil), f.messages[chatID]...), nil
}

func (f *chatStoreFake) ListRecentMessages(ctx context.Context, chatID string, limit int) ([]domain.Message, error) {
	all, _ := f.ListMessages(ctx, chatID)
	if len(all) > limit {
		all = all[len(all)-limit:]
	}
	return all, nil
}

func (f *chatStoreFake) assistantMessages(chatID string) []domain.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domain.Message, 0)
	for _, m := range f.messages[chatID] {
		if m.Role == domain.RoleAssistant {
			out = append(out, m)
		}
	}
	return out
}

type evaluationPublisherFake struct {
	records []domain.EvaluationRecord
	err     error
}

func (f *evaluationPublisherFake) PublishEvaluation(_ context.Context, record domain.EvaluationRecord) error {
	f.records = append(f.records, record)
	return f.err
}

func newChatFixture(store *chatStoreFake, chat *chatModelFake, settings *settingsStoreFake) (*ChatUseCase, *evaluationPublisherFake, *observerFake) {
	retriever := &contextRetrieverFake{assembled: sampleContext()}
	agent := NewRAGAgent(retriever, chat, &jsonGeneratorFake{plan: `{"action":"search","query":"q"}`}, domain.AgentLimits{HistoryMessages: 4})
	publisher := &evaluationPublisherFake{}
	observer := &observerFake{}
	return NewChatUseCase(store, settings, agent, publisher, observer), publisher, observer
}

func ownedChat() *domain.Chat {
	return &domain.Chat{ID: "chat-1", ProjectID: "p1", UserID: "user-1", Title: "t"}
}

func TestChatUseCaseCreateChat(t *testing.T) {
	store := newChatStoreFake()
	uc, _, _ := newChatFixture(store, &chatModelFake{}, &settingsStoreFake{settings: testSettings(domain.StrategyBasic)})

	chat, err := uc.CreateChat(context.Background(), "user-1", "p1", " ")
	if err != nil {
		t.Fatalf("create chat: %v", err)
	}
	if chat.ID == "" || chat.Title != "New Chat" || store.chats[chat.ID] == nil {
		t.Fatalf("unexpected chat %+v", chat)
	}
	if _, err := uc.CreateChat(context.Background(), "", "p1", "x"); !errors.Is(err, domain.ErrUnauthorized) {
		t.Fatalf("expected unauthorized without user, got %v", err)
	}
}

func TestChatUseCaseDeleteChatRequiresOwner(t *testing.T) {
	store := newChatStoreFake(ownedChat())
	uc, _, _ := newChatFixture(store, &chatModelFake{}, &settingsStoreFake{settings: testSettings(domain.StrategyBasic)})

	if err := uc.DeleteChat(context.Background(), "intruder", "chat-1"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found for foreign chat, got %v", err)
	}
	if err := uc.DeleteChat(context.Background(), "user-1", "chat-1"); err != nil {
		t.Fatalf("delete chat: %v", err)
	}
	if len(store.deleted) != 1 {
		t.Fatalf("expected one delete, got %v", store.deleted)
	}
}

func TestChatUseCaseSendMessagePersistsTurn(t *testing.T) {
	store := newChatStoreFake(ownedChat())
	uc, publisher, observer := newChatFixture(store, &chatModelFake{tokens: []string{"Answer ", "[1]"}}, &settingsStoreFake{settings: testSettings(domain.StrategyHybrid)})

	turn, err := uc.SendMessage(context.Background(), domain.SendMessageRequest{UserID: "user-1", ProjectID: "p1", ChatID: "chat-1", Content: "what?"})
	if err != nil {
		t.Fatalf("send message: %v", err)
	}
	if turn.UserMessage.Content != "what?" || turn.AIMessage.Content != "Answer [1]" {
		t.Fatalf("unexpected turn %+v", turn)
	}
	if len(turn.AIMessage.Citations) != 1 {
		t.Fatalf("expected citations persisted, got %+v", turn.AIMessage)
	}
	if got := store.assistantMessages("chat-1"); len(got) != 1 {
		t.Fatalf("expected exactly one assistant message, got %d", len(got))
	}
	if len(publisher.records) != 1 || publisher.records[0].Question != "what?" || len(publisher.records[0].Contexts) != 1 {
		t.Fatalf("unexpected evaluation records %+v", publisher.records)
	}
	if len(observer.terminals) != 1 || observer.terminals[0] != domain.EventDone {
		t.Fatalf("expected one done terminal observed, got %v", observer.terminals)
	}
}

func TestChatUseCaseStreamMessageEmitsOrderedEvents(t *testing.T) {
	store := newChatStoreFake(ownedChat())
	uc, _, _ := newChatFixture(store, &chatModelFake{tokens: []string{"a", "b"}}, &settingsStoreFake{settings: testSettings(domain.StrategyBasic)})

	var events []domain.StreamEvent
	err := uc.StreamMessage(context.Background(), domain.SendMessageRequest{UserID: "user-1", ChatID: "chat-1", Content: "q"}, func(ev domain.StreamEvent) error {
		events = append(events, ev)
		return nil
	})
	if err != nil {
		t.Fatalf("stream message: %v", err)
	}
	wantTexts := []string{StatusThinking, StatusSearching, StatusGenerating, "a", "b"}
	for i, text := range wantTexts {
		if events[i].Text != text {
			t.Fatalf("event %d: expected %q, got %+v", i, text, events[i])
		}
	}
	assertTerminalOnce(t, events)
}

func TestChatUseCaseSettingsFailureFallsBackToSimpleAgent(t *testing.T) {
	store := newChatStoreFake(ownedChat())
	chat := &chatModelFake{tokens: []string{"ok"}}
	uc, _, _ := newChatFixture(store, chat, &settingsStoreFake{err: errors.New("settings table missing")})

	turn, err := uc.SendMessage(context.Background(), domain.SendMessageRequest{UserID: "user-1", ChatID: "chat-1", Content: "q"})
	if err != nil {
		t.Fatalf("send message: %v", err)
	}
	if turn.AIMessage.Content != "ok" {
		t.Fatalf("unexpected answer %q", turn.AIMessage.Content)
	}
}

func TestChatUseCaseGenerationFailureReturnsError(t *testing.T) {
	store := newChatStoreFake(ownedChat())
	uc, publisher, _ := newChatFixture(store, &chatModelFake{startErr: errors.New("model unreachable")}, &settingsStoreFake{settings: testSettings(domain.StrategyBasic)})

	_, err := uc.SendMessage(context.Background(), domain.SendMessageRequest{UserID: "user-1", ChatID: "chat-1", Content: "q"})
	if !errors.Is(err, domain.ErrUpstreamUnavailable) {
		t.Fatalf("expected upstream unavailable, got %v", err)
	}
	if got := store.assistantMessages("chat-1"); len(got) != 0 {
		t.Fatalf("expected no assistant message, got %d", len(got))
	}
	if len(publisher.records) != 0 {
		t.Fatalf("expected no evaluation record on failure")
	}
}

func TestChatUseCaseRejectsForeignProject(t *testing.T) {
	store := newChatStoreFake(ownedChat())
	uc, _, _ := newChatFixture(store, &chatModelFake{}, &settingsStoreFake{settings: testSettings(domain.StrategyBasic)})

	err := uc.StreamMessage(context.Background(), domain.SendMessageRequest{UserID: "user-1", ProjectID: "other", ChatID: "chat-1", Content: "q"}, func(domain.StreamEvent) error { return nil })
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestChatUseCaseGetChatReturnsMessages(t *testing.T) {
	store := newChatStoreFake(ownedChat())
	store.messages["chat-1"] = []domain.Message{{ID: "m1", ChatID: "chat-1", Role: domain.RoleUser, Content: "hi"}}
	uc, _, _ := newChatFixture(store, &chatModelFake{}, &settingsStoreFake{settings: testSettings(domain.StrategyBasic)})

	got, err := uc.GetChat(context.Background(), "user-1", "chat-1")
	if err != nil {
		t.Fatalf("get chat: %v", err)
	}
	if len(got.Messages) != 1 || got.ID != "chat-1" {
		t.Fatalf("unexpected chat %+v", got)
	}
}

func TestChatUseCaseRejectsEmptyContent(t *testing.T) {
	uc, _, _ := newChatFixture(newChatStoreFake(ownedChat()), &chatModelFake{}, &settingsStoreFake{settings: testSettings(domain.StrategyBasic)})
	if _, err := uc.SendMessage(context.Background(), domain.SendMessageRequest{UserID: "user-1", ChatID: "chat-1"}); !errors.Is(err, domain.ErrInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
}
