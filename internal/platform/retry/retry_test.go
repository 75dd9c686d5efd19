package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

func recordingSleep(waits *[]time.Duration) func(context.Context, time.Duration) error {
	return func(ctx context.Context, d time.Duration) error {
		*waits = append(*waits, d)
		return ctx.Err()
	}
}

func TestDo_SucceedsAfterRetries(t *testing.T) {
	var waits []time.Duration
	cfg := Config{MaxAttempts: 4, InitialDelay: 100 * time.Millisecond, Multiplier: 2, Sleep: recordingSleep(&waits)}

	calls := 0
	err := Do(context.Background(), cfg, func(attempt int) error {
		calls++
		if attempt < 3 {
			return errors.New("temporary")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 3 {
		t.Errorf("expected 3 calls, got %d", calls)
	}
	want := []time.Duration{100 * time.Millisecond, 200 * time.Millisecond}
	if len(waits) != len(want) {
		t.Fatalf("expected waits %v, got %v", want, waits)
	}
	for i := range want {
		if waits[i] != want[i] {
			t.Errorf("wait[%d] = %s, want %s", i, waits[i], want[i])
		}
	}
}

func TestDo_ExhaustsAttempts(t *testing.T) {
	var waits []time.Duration
	cfg := Config{MaxAttempts: 3, InitialDelay: time.Millisecond, Sleep: recordingSleep(&waits)}
	sentinel := errors.New("still failing")

	err := Do(context.Background(), cfg, func(int) error { return sentinel })
	if !errors.Is(err, sentinel) {
		t.Fatalf("expected wrapped sentinel, got %v", err)
	}
	if len(waits) != 2 {
		t.Errorf("expected 2 waits, got %d", len(waits))
	}
}

func TestDo_NonRetryableStopsImmediately(t *testing.T) {
	calls := 0
	err := Do(context.Background(), Config{MaxAttempts: 5}, func(int) error {
		calls++
		return NonRetryable(errors.New("bad request"))
	})
	if err == nil || !IsNonRetryable(err) {
		t.Fatalf("expected non-retryable error, got %v", err)
	}
	if calls != 1 {
		t.Errorf("expected 1 call, got %d", calls)
	}
}

func TestDoIf_PredicateRejects(t *testing.T) {
	calls := 0
	final := errors.New("final")
	err := DoIf(context.Background(), Config{MaxAttempts: 5}, func(err error) bool { return !errors.Is(err, final) }, func(int) error {
		calls++
		return final
	})
	if !errors.Is(err, final) || calls != 1 {
		t.Errorf("expected a single call returning final, got calls=%d err=%v", calls, err)
	}
}

func TestDo_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := Do(ctx, Config{MaxAttempts: 3, InitialDelay: time.Second}, func(int) error {
		return errors.New("temporary")
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestDelay_Linear(t *testing.T) {
	cfg := LinearConfig(4, 2*time.Second)
	for attempt, want := range map[int]time.Duration{1: 2 * time.Second, 2: 4 * time.Second, 3: 6 * time.Second} {
		if got := cfg.Delay(attempt); got != want {
			t.Errorf("Delay(%d) = %s, want %s", attempt, got, want)
		}
	}
}

func TestDelay_ExponentialCapped(t *testing.T) {
	cfg := Config{InitialDelay: time.Second, Multiplier: 2, MaxDelay: 5 * time.Second}
	if got := cfg.Delay(3); got != 4*time.Second {
		t.Errorf("Delay(3) = %s, want 4s", got)
	}
	if got := cfg.Delay(10); got != 5*time.Second {
		t.Errorf("Delay(10) = %s, want cap 5s", got)
	}
}

func TestDoWithResult(t *testing.T) {
	var waits []time.Duration
	v, err := DoWithResult(context.Background(), Config{MaxAttempts: 2, Sleep: recordingSleep(&waits)}, func(attempt int) (string, error) {
		if attempt == 1 {
			return "", errors.New("retry me")
		}
		return "ok", nil
	})
	if err != nil || v != "ok" {
		t.Errorf("got (%q, %v), want (ok, nil)", v, err)
	}
}
