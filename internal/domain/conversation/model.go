package conversation

import (
	"time"

	"github.com/google/uuid"
)

// ConversationHistory is one chat turn: the user's message and the reply.
type ConversationHistory struct {
	ID        uuid.UUID `json:"id"`
	UserID    string    `json:"user_id"`
	SessionID string    `json:"session_id"`
	Message   string    `json:"message"`
	Response  *string   `json:"response,omitempty"`
	Intent    *string   `json:"intent,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Session summarises the turns of one session.
type Session struct {
	SessionID    string    `json:"session_id"`
	MessageCount int       `json:"message_count"`
	StartedAt    time.Time `json:"started_at"`
	LastAt       time.Time `json:"last_at"`
}
