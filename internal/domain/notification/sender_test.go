package notification

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/healthmate/healthmate/internal/platform/apiclient"
	"github.com/healthmate/healthmate/internal/platform/apperr"
	"github.com/healthmate/healthmate/internal/platform/retry"
)

func noSleep(context.Context, time.Duration) error { return nil }

func testClient(cfg apiclient.Config) *apiclient.Client {
	cfg.Retry = retry.Config{MaxAttempts: 2, InitialDelay: time.Millisecond, Multiplier: 2, Sleep: noSleep}
	return apiclient.New(cfg)
}

func TestSendGridSender(t *testing.T) {
	var got sendGridMail
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v3/mail/send" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		auth = r.Header.Get("Authorization")
		json.NewDecoder(r.Body).Decode(&got)
		w.Header().Set("X-Message-Id", "sg-123")
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	s := NewSendGridSender(testClient(SendGridClientConfig("SG.key", ProviderConfig{BaseURL: srv.URL})), "noreply@healthmate.test")
	id, err := s.Send(context.Background(), Message{To: "alice@example.com", Title: "Hello", Body: "Body"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id != "sg-123" || auth != "Bearer SG.key" {
		t.Errorf("unexpected id %q auth %q", id, auth)
	}
	if got.From.Email != "noreply@healthmate.test" || got.Personalizations[0].To[0].Email != "alice@example.com" || got.Subject != "Hello" {
		t.Errorf("unexpected payload %+v", got)
	}
}

func TestTwilioSender(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/2010-04-01/Accounts/AC1/Messages.json" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		user, pass, ok := r.BasicAuth()
		if !ok || user != "AC1" || pass != "secret" {
			t.Errorf("unexpected basic auth %q %q", user, pass)
		}
		r.ParseForm()
		if r.Form.Get("To") != "+15550001" || r.Form.Get("From") != "+15559999" || r.Form.Get("Body") != "Alert: Check in" {
			t.Errorf("unexpected form %v", r.Form)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"sid":"SM42"}`))
	}))
	defer srv.Close()

	s := NewTwilioSender(testClient(TwilioClientConfig("AC1", "secret", ProviderConfig{BaseURL: srv.URL})), "AC1", "+15559999")
	id, err := s.Send(context.Background(), Message{To: "+15550001", Title: "Alert", Body: "Check in"})
	if err != nil || id != "SM42" {
		t.Fatalf("expected SM42, got %q err=%v", id, err)
	}
}

func TestTwilioSender_ClientErrorNotRetried(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"message":"invalid To"}`))
	}))
	defer srv.Close()

	s := NewTwilioSender(testClient(TwilioClientConfig("AC1", "secret", ProviderConfig{BaseURL: srv.URL})), "AC1", "+1")
	_, err := s.Send(context.Background(), Message{To: "bad", Title: "x", Body: "y"})
	if !apperr.Is(err, apperr.CodeExternal) {
		t.Fatalf("expected external error, got %v", err)
	}
	if calls != 1 {
		t.Errorf("expected 1 call, got %d", calls)
	}
}

func TestFCMSender(t *testing.T) {
	var got fcmRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "key=server-key" {
			t.Errorf("unexpected auth header %q", r.Header.Get("Authorization"))
		}
		json.NewDecoder(r.Body).Decode(&got)
		w.Header().Set("Content-Type", "application/json")
		if got.To == "stale" {
			w.Write([]byte(`{"success":0,"failure":1,"results":[{"error":"NotRegistered"}]}`))
			return
		}
		w.Write([]byte(`{"success":1,"failure":0,"results":[{"message_id":"0:abc"}]}`))
	}))
	defer srv.Close()

	s := NewFCMSender(testClient(FCMClientConfig("server-key", ProviderConfig{BaseURL: srv.URL})))
	id, err := s.Send(context.Background(), Message{To: "tok", Title: "T", Body: "B", Data: map[string]string{"type": "x"}})
	if err != nil || id != "0:abc" {
		t.Fatalf("expected 0:abc, got %q err=%v", id, err)
	}
	if got.Priority != "high" || got.Notification["title"] != "T" || got.Data["type"] != "x" {
		t.Errorf("unexpected payload %+v", got)
	}

	_, err = s.Send(context.Background(), Message{To: "stale", Title: "T", Body: "B"})
	if !apperr.Is(err, apperr.CodeNotification) {
		t.Fatalf("expected notification error for rejected token, got %v", err)
	}
}
