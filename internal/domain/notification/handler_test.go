package notification

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/healthmate/healthmate/internal/platform/apperr"
	"github.com/healthmate/healthmate/internal/platform/auth"
)

func newTestServer(f *fixture) *echo.Echo {
	e := echo.New()
	e.HTTPErrorHandler = apperr.HTTPErrorHandler(zerolog.Nop())
	NewHandler(f.svc).RegisterRoutes(e.Group("/api/v1"))
	return e
}

func do(e *echo.Echo, method, path, body, user string, roles ...string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	req = req.WithContext(auth.WithUser(req.Context(), user, roles))
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestHandler_SendRequiresStaff(t *testing.T) {
	e := newTestServer(newFixture(noon))
	body := `{"user_id":"alice","type":"appointment_reminder","template_id":"appointment-reminder","template_data":{"provider":"Dr. Lee","date":"Mar 12","time":"09:00"}}`

	if rec := do(e, http.MethodPost, "/api/v1/notifications", body, "alice", auth.RolePatient); rec.Code != http.StatusForbidden {
		t.Errorf("expected 403 for patient, got %d", rec.Code)
	}
	rec := do(e, http.MethodPost, "/api/v1/notifications", body, "dr-lee", auth.RoleClinician)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var out struct {
		Count         int             `json:"count"`
		Notifications []*Notification `json:"notifications"`
	}
	json.Unmarshal(rec.Body.Bytes(), &out)
	if out.Count != 2 || !strings.Contains(out.Notifications[0].Message, "Dr. Lee") {
		t.Errorf("unexpected response %s", rec.Body.String())
	}
}

func TestHandler_ListStatsAndOwnership(t *testing.T) {
	f := newFixture(noon)
	e := newTestServer(f)
	items, _ := f.svc.Notify(context.Background(), Request{UserID: "alice", Type: TypeGeneral, Title: "t", Message: "m"})

	rec := do(e, http.MethodGet, "/api/v1/notifications?status=sent", "", "alice", auth.RolePatient)
	var page struct {
		Total int `json:"total"`
	}
	json.Unmarshal(rec.Body.Bytes(), &page)
	if rec.Code != http.StatusOK || page.Total != 1 {
		t.Errorf("expected 1 sent notification, got %d (%d)", page.Total, rec.Code)
	}

	rec = do(e, http.MethodGet, "/api/v1/notifications/stats", "", "alice", auth.RolePatient)
	var stats map[string]int
	json.Unmarshal(rec.Body.Bytes(), &stats)
	if stats[StatusSent] != 1 {
		t.Errorf("unexpected stats %v", stats)
	}

	id := items[0].ID.String()
	if rec := do(e, http.MethodGet, "/api/v1/notifications/"+id, "", "bob", auth.RolePatient); rec.Code != http.StatusNotFound {
		t.Errorf("expected 404 for another user, got %d", rec.Code)
	}
	if rec := do(e, http.MethodPost, "/api/v1/notifications/"+id+"/delivered", "", "alice", auth.RolePatient); rec.Code != http.StatusOK {
		t.Errorf("expected 200 on delivery receipt, got %d", rec.Code)
	}
	if rec := do(e, http.MethodDelete, "/api/v1/notifications/"+id, "", "alice", auth.RolePatient); rec.Code != http.StatusConflict {
		t.Errorf("expected 409 cancelling a delivered notification, got %d", rec.Code)
	}
}

func TestHandler_ClassifyAndCheckMetric(t *testing.T) {
	e := newTestServer(newFixture(noon))

	rec := do(e, http.MethodPost, "/api/v1/notifications/classify", `{"type":"symptom_alert","context":{"severity_score":9}}`, "alice", auth.RolePatient)
	var cls struct {
		Urgency Urgency `json:"urgency"`
		Bypass  bool    `json:"bypasses_quiet_hours"`
	}
	json.Unmarshal(rec.Body.Bytes(), &cls)
	if cls.Urgency != UrgencyCritical || !cls.Bypass {
		t.Errorf("unexpected classification %s", rec.Body.String())
	}

	rec = do(e, http.MethodPost, "/api/v1/notifications/check-metric", `{"metric_type":"oxygen_saturation","value":86}`, "alice", auth.RolePatient)
	var check MetricCheck
	json.Unmarshal(rec.Body.Bytes(), &check)
	if check.Status != MetricCritical {
		t.Errorf("unexpected check %+v", check)
	}
}
