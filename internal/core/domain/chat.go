package domain

import "time"

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

type Chat struct {
	ID        string    `json:"id"`
	ProjectID string    `json:"project_id"`
	UserID    string    `json:"user_id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
}

type Message struct {
	ID        string     `json:"id"`
	ChatID    string     `json:"chat_id"`
	UserID    string     `json:"user_id"`
	Role      Role       `json:"role"`
	Content   string     `json:"content"`
	Citations []Citation `json:"citations,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

type ChatWithMessages struct {
	Chat
	Messages []Message `json:"messages"`
}

// ChatTurn is the result of one completed message exchange.
type ChatTurn struct {
	UserMessage Message `json:"userMessage"`
	AIMessage   Message `json:"aiResponse"`
}

type SendMessageRequest struct {
	UserID    string `json:"-"`
	ProjectID string `json:"-"`
	ChatID    string `json:"-"`
	Content   string `json:"content"`
}

// PromptMessage is one entry of the conversation sent to the chat model.
type PromptMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// AgentLimits bounds the generation agent.
type AgentLimits struct {
	PlannerTimeout   time.Duration `json:"planner_timeout"`
	GuardrailTimeout time.Duration `json:"guardrail_timeout"`
	HistoryMessages  int           `json:"history_messages"`
	GuardrailEnabled bool          `json:"guardrail_enabled"`
}

// AgentRequest is one generation run over a project's documents.
type AgentRequest struct {
	ProjectID string
	Question  string
	History   []Message
	AgentType AgentType
}
