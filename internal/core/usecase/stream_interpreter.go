package usecase

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/kirillkom/multimodal-rag/internal/core/domain"
	"github.com/kirillkom/multimodal-rag/internal/core/ports"
)

const (
	StatusThinking   = "Thinking..."
	StatusGenerating = "Generating response..."
	StatusSearching  = "Searching documents..."

	ApologyMessage        = "I'm sorry, I couldn't generate a response. Please try again."
	DefaultRejection      = "I'm sorry, I can't help with that request."
	StreamFailureMessage  = "An error occurred while generating the response."
	StreamTruncateMessage = "The response stream ended unexpectedly."
)

type streamState int

const (
	stateAwaitingGuardrail streamState = iota
	stateThinking
	stateToolRunning
	stateGenerating
	stateDone
	stateError
)

func (s streamState) String() string {
	switch s {
	case stateAwaitingGuardrail:
		return "awaiting_guardrail"
	case stateThinking:
		return "thinking"
	case stateToolRunning:
		return "tool_running"
	case stateGenerating:
		return "generating"
	case stateDone:
		return "done"
	case stateError:
		return "error"
	default:
		return "unknown"
	}
}

// PersistFunc stores the final assistant message of a stream.
type PersistFunc func(ctx context.Context, content string, citations []domain.Citation) (*domain.Message, error)

// StreamInterpreter turns upstream agent events into client stream events.
// Every run ends with exactly one done or error event unless the context is
// cancelled, in which case nothing is persisted and no terminal is sent.
type StreamInterpreter struct {
	persist  PersistFunc
	observer ports.RetrievalObserver
}

func NewStreamInterpreter(persist PersistFunc, observer ports.RetrievalObserver) *StreamInterpreter {
	if observer == nil {
		observer = NoopObserver{}
	}
	return &StreamInterpreter{persist: persist, observer: observer}
}

type interpreterRun struct {
	state       streamState
	toolInvoked bool
	answer      strings.Builder
	userMessage *domain.Message
	aiMessage   *domain.Message
	emit        func(domain.StreamEvent) error
}

// Run consumes upstream until a terminal state and returns the persisted
// assistant message, if any. The upstream is always closed.
func (si *StreamInterpreter) Run(
	ctx context.Context,
	userMessage *domain.Message,
	upstream ports.UpstreamStream,
	emit func(domain.StreamEvent) error,
) (*domain.Message, error) {
	defer upstream.Close()

	run := &interpreterRun{
		state:       stateAwaitingGuardrail,
		userMessage: userMessage,
		emit:        emit,
	}

	for run.state != stateDone && run.state != stateError {
		event, err := upstream.Next(ctx)
		if ctx.Err() != nil {
			slog.InfoContext(ctx, "stream_cancelled", "state", run.state.String())
			return nil, ctx.Err()
		}
		if errors.Is(err, io.EOF) {
			return nil, si.fail(ctx, run, errors.New("upstream closed without terminal event"), StreamTruncateMessage)
		}
		if err != nil {
			return nil, si.fail(ctx, run, err, StreamFailureMessage)
		}
		if err := si.handle(ctx, run, event); err != nil {
			return nil, err
		}
	}
	return run.aiMessage, nil
}

func (si *StreamInterpreter) handle(ctx context.Context, run *interpreterRun, event domain.UpstreamEvent) error {
	if run.state == stateAwaitingGuardrail {
		if event.Kind == domain.UpstreamGuardrail && !event.Passed {
			return si.reject(ctx, run, event.Text)
		}
		if err := run.emit(domain.StreamEvent{Type: domain.EventStatus, Text: StatusThinking}); err != nil {
			return err
		}
		run.state = stateThinking
		if event.Kind == domain.UpstreamGuardrail {
			return nil
		}
	}

	switch event.Kind {
	case domain.UpstreamGuardrail:
		// a late verdict carries no new information
		return nil
	case domain.UpstreamToolStart:
		run.toolInvoked = true
		run.state = stateToolRunning
		return run.emit(domain.StreamEvent{Type: domain.EventStatus, Text: toolStatusText(event.Tool)})
	case domain.UpstreamToolEnd:
		run.state = stateGenerating
		return run.emit(domain.StreamEvent{Type: domain.EventStatus, Text: StatusGenerating})
	case domain.UpstreamToken:
		if run.state != stateGenerating && run.toolInvoked {
			return nil
		}
		if event.Text == "" {
			return nil
		}
		run.answer.WriteString(event.Text)
		return run.emit(domain.StreamEvent{Type: domain.EventToken, Text: event.Text})
	case domain.UpstreamTerminal:
		return si.complete(ctx, run, event)
	default:
		return si.fail(ctx, run, fmt.Errorf("unknown upstream event %q", event.Kind), StreamFailureMessage)
	}
}

func (si *StreamInterpreter) reject(ctx context.Context, run *interpreterRun, rejection string) error {
	rejection = strings.TrimSpace(rejection)
	if rejection == "" {
		rejection = DefaultRejection
	}
	if err := run.emit(domain.StreamEvent{Type: domain.EventToken, Text: rejection}); err != nil {
		return err
	}
	run.answer.WriteString(rejection)
	return si.finish(ctx, run, rejection, nil)
}

func (si *StreamInterpreter) complete(ctx context.Context, run *interpreterRun, event domain.UpstreamEvent) error {
	answer := run.answer.String()
	if strings.TrimSpace(answer) == "" {
		answer = strings.TrimSpace(event.Text)
		if answer == "" {
			answer = ApologyMessage
		}
		if err := run.emit(domain.StreamEvent{Type: domain.EventToken, Text: answer}); err != nil {
			return err
		}
	}
	return si.finish(ctx, run, answer, event.Citations)
}

// finish persists the answer once and emits done.
func (si *StreamInterpreter) finish(ctx context.Context, run *interpreterRun, answer string, citations []domain.Citation) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	message, err := si.persist(ctx, answer, citations)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			slog.InfoContext(ctx, "stream_cancelled", "state", run.state.String(), "error", err.Error())
			return ctxErr
		}
		return si.fail(ctx, run, fmt.Errorf("persist final message: %w", err), StreamFailureMessage)
	}
	run.aiMessage = message
	run.state = stateDone
	si.observer.ObserveStreamTerminal(domain.EventDone)
	slog.InfoContext(ctx, "stream_terminal", "type", string(domain.EventDone), "message_id", message.ID, "tool_invoked", run.toolInvoked)
	return run.emit(domain.StreamEvent{
		Type:        domain.EventDone,
		UserMessage: run.userMessage,
		AIMessage:   message,
	})
}

func (si *StreamInterpreter) fail(ctx context.Context, run *interpreterRun, cause error, message string) error {
	slog.ErrorContext(ctx, "stream_failed", "state", run.state.String(), "error", cause.Error())
	run.state = stateError
	si.observer.ObserveStreamTerminal(domain.EventError)
	slog.InfoContext(ctx, "stream_terminal", "type", string(domain.EventError))
	if err := run.emit(domain.StreamEvent{Type: domain.EventError, Text: message}); err != nil {
		return err
	}
	return cause
}

func toolStatusText(tool string) string {
	switch strings.TrimSpace(tool) {
	case ToolRAGSearch:
		return StatusSearching
	case "":
		return "Running tool..."
	default:
		return fmt.Sprintf("Running %s...", tool)
	}
}
