package conversation

import (
	"context"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/healthmate/healthmate/internal/platform/apperr"
)

// MaxMessageLength bounds message and response text, in characters.
const MaxMessageLength = 10000

type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// Record stores a chat turn. A missing session id starts a new session.
func (s *Service) Record(ctx context.Context, h *ConversationHistory) error {
	h.Message = strings.TrimSpace(h.Message)
	if h.Message == "" {
		return apperr.ValidationField("message", "message is required")
	}
	if utf8.RuneCountInString(h.Message) > MaxMessageLength {
		return apperr.ValidationField("message", "message is too long")
	}
	if h.Response != nil && utf8.RuneCountInString(*h.Response) > MaxMessageLength {
		return apperr.ValidationField("response", "response is too long")
	}
	if h.SessionID == "" {
		h.SessionID = uuid.NewString()
	}
	return s.repo.Create(ctx, h)
}

// History returns a session's turns. An unknown session is NotFound.
func (s *Service) History(ctx context.Context, userID, sessionID string) ([]*ConversationHistory, error) {
	items, err := s.repo.ListBySession(ctx, userID, sessionID)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, apperr.NotFound("conversation session", sessionID)
	}
	return items, nil
}

func (s *Service) Sessions(ctx context.Context, userID string, limit, offset int) ([]*Session, int, error) {
	return s.repo.ListSessions(ctx, userID, limit, offset)
}

func (s *Service) DeleteSession(ctx context.Context, userID, sessionID string) error {
	n, err := s.repo.DeleteSession(ctx, userID, sessionID)
	if err != nil {
		return err
	}
	if n == 0 {
		return apperr.NotFound("conversation session", sessionID)
	}
	return nil
}
