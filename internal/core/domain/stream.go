package domain

type StreamEventType string

const (
	EventStatus StreamEventType = "status"
	EventToken  StreamEventType = "token"
	EventDone   StreamEventType = "done"
	EventError  StreamEventType = "error"
)

// StreamEvent is the client-facing event. Exactly one done or error ends a stream.
type StreamEvent struct {
	Type        StreamEventType
	Text        string
	UserMessage *Message
	AIMessage   *Message
}

func (e StreamEvent) Terminal() bool {
	return e.Type == EventDone || e.Type == EventError
}

type UpstreamEventKind string

const (
	UpstreamGuardrail UpstreamEventKind = "guardrail"
	UpstreamToolStart UpstreamEventKind = "tool_start"
	UpstreamToolEnd   UpstreamEventKind = "tool_end"
	UpstreamToken     UpstreamEventKind = "token"
	UpstreamTerminal  UpstreamEventKind = "terminal"
)

// UpstreamEvent is produced by the generation layer and consumed by the stream interpreter.
type UpstreamEvent struct {
	Kind      UpstreamEventKind
	Passed    bool
	Text      string
	Tool      string
	Citations []Citation
	Contexts  []string
}

// EvaluationRecord captures a completed exchange for offline retrieval evaluation.
type EvaluationRecord struct {
	ProjectID string   `json:"project_id"`
	ChatID    string   `json:"chat_id"`
	MessageID string   `json:"message_id"`
	Question  string   `json:"question"`
	Answer    string   `json:"answer"`
	Contexts  []string `json:"contexts"`
	Strategy  string   `json:"strategy,omitempty"`
}
