package middleware

import (
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/healthmate/healthmate/internal/platform/apperr"
	"github.com/healthmate/healthmate/internal/platform/auth"
)

type fakeClock struct{ t time.Time }

func (f *fakeClock) now() time.Time { return f.t }

func limited(cfg RateLimitConfig) echo.HandlerFunc {
	return RateLimit(cfg)(func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})
}

func callAs(h echo.HandlerFunc, user string) (*httptest.ResponseRecorder, error) {
	req := httptest.NewRequest(http.MethodGet, "/api/v1/health-data", nil)
	if user != "" {
		req = req.WithContext(auth.WithUser(req.Context(), user, []string{auth.RolePatient}))
	}
	rec := httptest.NewRecorder()
	return rec, h(echo.New().NewContext(req, rec))
}

func TestRateLimit_Headers(t *testing.T) {
	h := limited(RateLimitConfig{Requests: 3, Window: time.Minute})
	for want := 2; want >= 0; want-- {
		rec, err := callAs(h, "alice")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if rec.Header().Get("X-RateLimit-Limit") != "3" {
			t.Errorf("expected limit header 3, got %q", rec.Header().Get("X-RateLimit-Limit"))
		}
		if got := rec.Header().Get("X-RateLimit-Remaining"); got != strconv.Itoa(want) {
			t.Errorf("expected remaining %d, got %q", want, got)
		}
	}
}

func TestRateLimit_WindowSlides(t *testing.T) {
	clock := &fakeClock{t: time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)}
	h := limited(RateLimitConfig{Requests: 2, Window: time.Minute, Now: clock.now})

	for i := 0; i < 2; i++ {
		if _, err := callAs(h, "alice"); err != nil {
			t.Fatalf("request %d should pass: %v", i+1, err)
		}
		clock.t = clock.t.Add(10 * time.Second)
	}

	rec, err := callAs(h, "alice")
	if !apperr.Is(err, apperr.CodeRateLimited) {
		t.Fatalf("expected RATE_LIMITED, got %v", err)
	}
	ae, _ := apperr.As(err)
	if secs, _ := ae.Details["retry_after_seconds"].(int); secs != 40 {
		t.Errorf("expected retry after 40s, got %v", ae.Details["retry_after_seconds"])
	}
	if rec.Header().Get("X-RateLimit-Reset") != "40" || rec.Header().Get("X-RateLimit-Remaining") != "0" {
		t.Errorf("unexpected headers %v", rec.Header())
	}

	clock.t = clock.t.Add(41 * time.Second)
	if _, err := callAs(h, "alice"); err != nil {
		t.Errorf("oldest request left the window, expected admit: %v", err)
	}
}

func TestRateLimit_KeyedByClient(t *testing.T) {
	h := limited(RateLimitConfig{Requests: 1, Window: time.Hour})

	if _, err := callAs(h, "alice"); err != nil {
		t.Fatalf("alice first request: %v", err)
	}
	if _, err := callAs(h, "bob"); err != nil {
		t.Fatalf("bob has a separate window: %v", err)
	}
	if _, err := callAs(h, ""); err != nil {
		t.Fatalf("anonymous requests are keyed by IP: %v", err)
	}
	if _, err := callAs(h, "alice"); err == nil {
		t.Error("alice second request should be limited")
	}
}
