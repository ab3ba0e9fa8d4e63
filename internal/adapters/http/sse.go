package httpadapter

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/kirillkom/multimodal-rag/internal/core/domain"
)

// sseWriter defers the SSE headers until the first event so failures that
// happen before streaming can still be answered with a JSON error status.
type sseWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
	started bool
}

func newSSEWriter(w http.ResponseWriter) (*sseWriter, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("streaming is not supported by response writer")
	}
	return &sseWriter{w: w, flusher: flusher}, nil
}

func (s *sseWriter) Started() bool {
	return s.started
}

func (s *sseWriter) WriteEvent(event domain.StreamEvent) error {
	payload, err := json.Marshal(ssePayload(event))
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", event.Type, err)
	}
	if !s.started {
		h := s.w.Header()
		h.Set("Content-Type", "text/event-stream")
		h.Set("Cache-Control", "no-cache")
		h.Set("Connection", "keep-alive")
		h.Set("X-Accel-Buffering", "no")
		s.w.WriteHeader(http.StatusOK)
		s.started = true
	}
	if _, err := fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", event.Type, payload); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

func ssePayload(event domain.StreamEvent) any {
	switch event.Type {
	case domain.EventDone:
		return map[string]any{
			"userMessage": event.UserMessage,
			"aiMessage":   event.AIMessage,
		}
	case domain.EventError:
		return map[string]string{"message": event.Text}
	default:
		return map[string]string{"text": event.Text}
	}
}
