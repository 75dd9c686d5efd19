package conversation

import "context"

type Repository interface {
	Create(ctx context.Context, h *ConversationHistory) error
	// ListBySession returns turns oldest first.
	ListBySession(ctx context.Context, userID, sessionID string) ([]*ConversationHistory, error)
	// ListSessions returns sessions most recently active first.
	ListSessions(ctx context.Context, userID string, limit, offset int) ([]*Session, int, error)
	// DeleteSession removes every turn and returns how many were deleted.
	DeleteSession(ctx context.Context, userID, sessionID string) (int64, error)
}
