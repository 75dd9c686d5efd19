// Package retry provides exponential and linear backoff helpers used by the
// outbound API client, the webhook dispatcher and the database connect path.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"
)

var (
	randMu     sync.Mutex
	randSource = rand.New(rand.NewSource(time.Now().UnixNano()))
)

// NonRetryableError wraps errors that should not be retried.
type NonRetryableError struct {
	Err error
}

func (e *NonRetryableError) Error() string {
	return fmt.Sprintf("non-retryable: %v", e.Err)
}

func (e *NonRetryableError) Unwrap() error {
	return e.Err
}

// NonRetryable wraps an error to indicate it should not be retried.
func NonRetryable(err error) error {
	if err == nil {
		return nil
	}
	return &NonRetryableError{Err: err}
}

// IsNonRetryable checks if an error is marked as non-retryable.
func IsNonRetryable(err error) bool {
	var nre *NonRetryableError
	return errors.As(err, &nre)
}

// Strategy selects how the delay grows between attempts.
type Strategy int

const (
	// Exponential multiplies the delay by Multiplier after each attempt.
	Exponential Strategy = iota
	// Linear waits InitialDelay * attempt before the next attempt.
	Linear
)

// Config provides retry configuration.
type Config struct {
	MaxAttempts  int           // total attempts, minimum 1
	InitialDelay time.Duration // delay before the second attempt
	MaxDelay     time.Duration // upper bound for any single delay
	Multiplier   float64       // exponential growth factor
	AddJitter    bool          // add up to 25% random jitter
	Strategy     Strategy
	// Sleep overrides the wait between attempts, mainly for tests.
	Sleep func(ctx context.Context, d time.Duration) error
}

// DefaultConfig returns defaults for outbound API calls.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:  3,
		InitialDelay: 500 * time.Millisecond,
		MaxDelay:     10 * time.Second,
		Multiplier:   2.0,
		AddJitter:    true,
		Strategy:     Exponential,
	}
}

// LinearConfig returns a linear backoff configuration.
func LinearConfig(attempts int, base time.Duration) Config {
	return Config{
		MaxAttempts:  attempts,
		InitialDelay: base,
		MaxDelay:     base * time.Duration(attempts),
		Strategy:     Linear,
	}
}

// Delay returns the wait before attempt+1 after attempt failed (attempt is
// 1-based). Jitter is not included.
func (c Config) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	var d time.Duration
	switch c.Strategy {
	case Linear:
		d = c.InitialDelay * time.Duration(attempt)
	default:
		f := float64(c.InitialDelay)
		for i := 1; i < attempt; i++ {
			f *= c.Multiplier
			if c.MaxDelay > 0 && f > float64(c.MaxDelay) {
				break
			}
		}
		d = time.Duration(f)
	}
	if c.MaxDelay > 0 && d > c.MaxDelay {
		d = c.MaxDelay
	}
	return d
}

func (c Config) normalize() (Config, error) {
	if c.InitialDelay < 0 {
		return c, errors.New("retry: InitialDelay cannot be negative")
	}
	if c.MaxDelay < 0 {
		return c, errors.New("retry: MaxDelay cannot be negative")
	}
	if c.Multiplier < 0 {
		return c, errors.New("retry: Multiplier cannot be negative")
	}
	if c.Multiplier > 1000 {
		c.Multiplier = 1000
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 1
	}
	if c.Multiplier == 0 {
		c.Multiplier = 2.0
	}
	if c.Sleep == nil {
		c.Sleep = sleepCtx
	}
	return c, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	select {
	case <-ctx.Done():
		timer.Stop()
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Do executes fn until it succeeds, returns a non-retryable error, the
// context ends, or MaxAttempts is reached. The attempt number (1-based) is
// passed to fn. ShouldRetry, when set, further restricts which errors retry.
func Do(ctx context.Context, cfg Config, fn func(attempt int) error) error {
	return DoIf(ctx, cfg, nil, fn)
}

// DoIf is Do with a predicate deciding whether an error is worth retrying.
func DoIf(ctx context.Context, cfg Config, shouldRetry func(error) bool, fn func(attempt int) error) error {
	cfg, err := cfg.normalize()
	if err != nil {
		return err
	}

	var lastErr error
	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		err := fn(attempt)
		if err == nil {
			return nil
		}
		lastErr = err

		if IsNonRetryable(err) {
			return err
		}
		if shouldRetry != nil && !shouldRetry(err) {
			return err
		}
		if ctx.Err() != nil {
			return fmt.Errorf("retry cancelled before attempt %d: %w", attempt+1, ctx.Err())
		}
		if attempt == cfg.MaxAttempts {
			break
		}

		wait := cfg.Delay(attempt)
		if cfg.AddJitter && wait >= 4 {
			randMu.Lock()
			wait += time.Duration(randSource.Int63n(int64(wait / 4)))
			randMu.Unlock()
		}
		if err := cfg.Sleep(ctx, wait); err != nil {
			return fmt.Errorf("retry cancelled during backoff for attempt %d: %w", attempt+1, err)
		}
	}

	return fmt.Errorf("retry failed after %d attempts: %w", cfg.MaxAttempts, lastErr)
}

// DoWithResult executes fn with retry and returns both result and error.
func DoWithResult[T any](ctx context.Context, cfg Config, fn func(attempt int) (T, error)) (T, error) {
	var result T
	err := Do(ctx, cfg, func(attempt int) error {
		var innerErr error
		result, innerErr = fn(attempt)
		return innerErr
	})
	return result, err
}
