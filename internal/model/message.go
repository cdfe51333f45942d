package model

import "time"

// Role represents the author of a chat message.
type Role string

const (
	RoleUser  Role = "user"
	RoleModel Role = "model"
)

// Message is one line of a live conversation. The text of a model message
// grows monotonically while its reply streams, then freezes.
type Message struct {
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
}

// Turn is one completed user-input/agent-reply exchange, the unit of
// persistence.
type Turn struct {
	StudentID string   `json:"student_id"`
	AgentID   string   `json:"agent_id"`
	UserInput string   `json:"user_input"`
	BotReply  string   `json:"bot_reply"`
	Accuracy  *float64 `json:"accuracy,omitempty"`
}
