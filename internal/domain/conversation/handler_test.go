package conversation

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/healthmate/healthmate/internal/platform/apperr"
	"github.com/healthmate/healthmate/internal/platform/auth"
)

type mockRepo struct {
	turns []*ConversationHistory
	clock time.Time
}

func (m *mockRepo) Create(_ context.Context, h *ConversationHistory) error {
	m.clock = m.clock.Add(time.Second)
	h.ID = uuid.New()
	h.CreatedAt = m.clock
	m.turns = append(m.turns, h)
	return nil
}

func (m *mockRepo) ListBySession(_ context.Context, userID, sessionID string) ([]*ConversationHistory, error) {
	var out []*ConversationHistory
	for _, h := range m.turns {
		if h.UserID == userID && h.SessionID == sessionID {
			out = append(out, h)
		}
	}
	return out, nil
}

func (m *mockRepo) ListSessions(_ context.Context, userID string, limit, offset int) ([]*Session, int, error) {
	byID := map[string]*Session{}
	for _, h := range m.turns {
		if h.UserID != userID {
			continue
		}
		s, ok := byID[h.SessionID]
		if !ok {
			s = &Session{SessionID: h.SessionID, StartedAt: h.CreatedAt}
			byID[h.SessionID] = s
		}
		s.MessageCount++
		s.LastAt = h.CreatedAt
	}
	var out []*Session
	for _, s := range byID {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LastAt.After(out[j].LastAt) })
	return out, len(out), nil
}

func (m *mockRepo) DeleteSession(_ context.Context, userID, sessionID string) (int64, error) {
	kept := m.turns[:0]
	var n int64
	for _, h := range m.turns {
		if h.UserID == userID && h.SessionID == sessionID {
			n++
			continue
		}
		kept = append(kept, h)
	}
	m.turns = kept
	return n, nil
}

func newTestServer() *echo.Echo {
	e := echo.New()
	e.HTTPErrorHandler = apperr.HTTPErrorHandler(zerolog.Nop())
	NewHandler(NewService(&mockRepo{clock: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)})).RegisterRoutes(e.Group("/api/v1"))
	return e
}

func do(e *echo.Echo, method, path, body, user string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	req = req.WithContext(auth.WithUser(req.Context(), user, []string{auth.RolePatient}))
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestConversation_SessionLifecycle(t *testing.T) {
	e := newTestServer()

	rec := do(e, http.MethodPost, "/api/v1/conversations", `{"message":"How is my blood pressure?","response":"It looks stable.","intent":"health_query"}`, "alice")
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var first ConversationHistory
	json.Unmarshal(rec.Body.Bytes(), &first)
	if first.SessionID == "" {
		t.Fatal("expected a generated session id")
	}

	body := `{"session_id":"` + first.SessionID + `","message":"And my weight?"}`
	if rec := do(e, http.MethodPost, "/api/v1/conversations", body, "alice"); rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rec.Code)
	}
	do(e, http.MethodPost, "/api/v1/conversations", `{"session_id":"other","message":"hi"}`, "alice")

	rec = do(e, http.MethodGet, "/api/v1/conversations/sessions", "", "alice")
	var page struct {
		Total int        `json:"total"`
		Data  []*Session `json:"data"`
	}
	json.Unmarshal(rec.Body.Bytes(), &page)
	if page.Total != 2 || page.Data[0].SessionID != "other" {
		t.Errorf("expected 2 sessions newest first, got %+v", page)
	}

	rec = do(e, http.MethodGet, "/api/v1/conversations/sessions/"+first.SessionID, "", "alice")
	var hist struct {
		Messages []*ConversationHistory `json:"messages"`
	}
	json.Unmarshal(rec.Body.Bytes(), &hist)
	if rec.Code != http.StatusOK || len(hist.Messages) != 2 || hist.Messages[1].Message != "And my weight?" {
		t.Errorf("unexpected history %d: %s", rec.Code, rec.Body.String())
	}

	if rec := do(e, http.MethodGet, "/api/v1/conversations/sessions/"+first.SessionID, "", "bob"); rec.Code != http.StatusNotFound {
		t.Errorf("bob must not see alice's session, got %d", rec.Code)
	}
	if rec := do(e, http.MethodDelete, "/api/v1/conversations/sessions/"+first.SessionID, "", "alice"); rec.Code != http.StatusNoContent {
		t.Errorf("expected 204, got %d", rec.Code)
	}
	if rec := do(e, http.MethodDelete, "/api/v1/conversations/sessions/"+first.SessionID, "", "alice"); rec.Code != http.StatusNotFound {
		t.Errorf("expected 404 on second delete, got %d", rec.Code)
	}
}

func TestConversation_Validation(t *testing.T) {
	e := newTestServer()
	if rec := do(e, http.MethodPost, "/api/v1/conversations", `{"message":"   "}`, "alice"); rec.Code != http.StatusUnprocessableEntity {
		t.Errorf("expected 422 for blank message, got %d", rec.Code)
	}
	long := strings.Repeat("a", MaxMessageLength+1)
	if rec := do(e, http.MethodPost, "/api/v1/conversations", `{"message":"`+long+`"}`, "alice"); rec.Code != http.StatusUnprocessableEntity {
		t.Errorf("expected 422 for long message, got %d", rec.Code)
	}
}
