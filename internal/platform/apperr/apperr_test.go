package apperr

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

func TestError_Message(t *testing.T) {
	cause := errors.New("connection refused")
	err := Database("insert health_data", cause)
	if err.Error() != "insert health_data failed: connection refused" {
		t.Errorf("unexpected message %q", err.Error())
	}
	if !errors.Is(err, cause) {
		t.Error("expected wrapped cause to be reachable via errors.Is")
	}
	if err.Status != http.StatusInternalServerError {
		t.Errorf("expected 500, got %d", err.Status)
	}
}

func TestEnvelope_RoundTrip(t *testing.T) {
	tests := []*Error{
		Validation("value out of range").WithDetail("field", "value"),
		NotFound("medication", "abc"),
		RateLimited("too many requests", 30*time.Second),
		DataQuality("quality below threshold", 0.42),
		External("twilio", 503, errors.New("boom")),
	}
	for _, orig := range tests {
		t.Run(string(orig.Code), func(t *testing.T) {
			env := orig.ToEnvelope("req-1", time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC))
			data, err := json.Marshal(env)
			if err != nil {
				t.Fatalf("marshal: %v", err)
			}

			got, err := FromEnvelope(data, 0)
			if err != nil {
				t.Fatalf("FromEnvelope: %v", err)
			}
			if got.Code != orig.Code {
				t.Errorf("code = %s, want %s", got.Code, orig.Code)
			}
			if got.Message != orig.Message {
				t.Errorf("message = %q, want %q", got.Message, orig.Message)
			}
			if got.Status != orig.Status {
				t.Errorf("status = %d, want %d", got.Status, orig.Status)
			}
			if len(got.Details) != len(orig.Details) {
				t.Errorf("details = %v, want %v", got.Details, orig.Details)
			}
			for k, v := range orig.Details {
				if fmt.Sprint(got.Details[k]) != fmt.Sprint(v) {
					t.Errorf("details[%s] = %v, want %v", k, got.Details[k], v)
				}
			}
		})
	}
}

func TestEnvelope_HidesCause(t *testing.T) {
	err := Internal(errors.New("pq: password authentication failed"))
	data, _ := json.Marshal(err.ToEnvelope("", time.Now()))
	var raw map[string]map[string]interface{}
	json.Unmarshal(data, &raw)
	if raw["error"]["message"] != "internal error" {
		t.Errorf("expected generic message, got %v", raw["error"]["message"])
	}
}

func TestFromEnvelope_Invalid(t *testing.T) {
	if _, err := FromEnvelope([]byte(`{"error":{}}`), 0); err == nil {
		t.Error("expected error for envelope without code")
	}
	if _, err := FromEnvelope([]byte(`not json`), 0); err == nil {
		t.Error("expected error for invalid json")
	}
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"validation", Validation("bad"), false},
		{"not found", NotFound("x", 1), false},
		{"rate limited", RateLimited("slow down", time.Second), true},
		{"external 503", External("sendgrid", 503, nil), true},
		{"external 400", External("sendgrid", 400, nil), false},
		{"external transport", External("sendgrid", 0, errors.New("dial tcp")), true},
		{"deadline", context.DeadlineExceeded, true},
		{"canceled", context.Canceled, false},
		{"wrapped", fmt.Errorf("send: %w", RateLimited("x", 0)), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsRetryable(tt.err); got != tt.want {
				t.Errorf("IsRetryable(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestHTTPErrorHandler_AppError(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/medications/x", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.Set("request_id", "rid-42")

	HTTPErrorHandler(zerolog.New(os.Stderr))(NotFound("medication", "x"), c)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
	var env Envelope
	if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if env.Error.Code != CodeNotFound {
		t.Errorf("expected NOT_FOUND, got %s", env.Error.Code)
	}
	if env.Error.RequestID != "rid-42" {
		t.Errorf("expected request id rid-42, got %q", env.Error.RequestID)
	}
}

func TestHTTPErrorHandler_EchoError(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	HTTPErrorHandler(zerolog.Nop())(echo.NewHTTPError(http.StatusBadRequest, "invalid id"), c)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	var env Envelope
	json.Unmarshal(rec.Body.Bytes(), &env)
	if env.Error.Code != CodeValidation || env.Error.Message != "invalid id" {
		t.Errorf("unexpected envelope: %+v", env.Error)
	}
}

func TestHTTPErrorHandler_RetryAfter(t *testing.T) {
	e := echo.New()
	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), rec)

	HTTPErrorHandler(zerolog.Nop())(RateLimited("slow down", 12*time.Second), c)

	if rec.Header().Get("Retry-After") != "12" {
		t.Errorf("expected Retry-After 12, got %q", rec.Header().Get("Retry-After"))
	}
}
