package usecase

import (
	"context"
	"io"
	"sync"

	"github.com/kirillkom/multimodal-rag/internal/core/domain"
)

type upstreamItem struct {
	event domain.UpstreamEvent
	err   error
}

// AgentStream is a pull-based view over events produced by an agent goroutine.
type AgentStream struct {
	items  chan upstreamItem
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once

	mu       sync.Mutex
	contexts []string
}

func newAgentStream(cancel context.CancelFunc) *AgentStream {
	return &AgentStream{
		items:  make(chan upstreamItem),
		cancel: cancel,
		done:   make(chan struct{}),
	}
}

func (s *AgentStream) Next(ctx context.Context) (domain.UpstreamEvent, error) {
	select {
	case item, ok := <-s.items:
		if !ok {
			return domain.UpstreamEvent{}, io.EOF
		}
		return item.event, item.err
	case <-ctx.Done():
		return domain.UpstreamEvent{}, ctx.Err()
	}
}

// Close cancels the producer and waits for it to exit.
func (s *AgentStream) Close() error {
	s.once.Do(func() {
		s.cancel()
		<-s.done
	})
	return nil
}

// Contexts returns the retrieved context texts used for generation.
func (s *AgentStream) Contexts() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.contexts...)
}

func (s *AgentStream) setContexts(contexts []string) {
	s.mu.Lock()
	s.contexts = contexts
	s.mu.Unlock()
}

// send delivers an event unless the consumer has gone away.
func (s *AgentStream) send(ctx context.Context, event domain.UpstreamEvent) bool {
	select {
	case s.items <- upstreamItem{event: event}:
		return true
	case <-ctx.Done():
		return false
	}
}

func (s *AgentStream) sendErr(ctx context.Context, err error) {
	select {
	case s.items <- upstreamItem{err: err}:
	case <-ctx.Done():
	}
}
