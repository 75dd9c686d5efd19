// Package ratelimit implements a sliding-window limiter. It guards outbound
// calls to third-party APIs and, through a Registry keyed by client, inbound
// API requests. A limiter admits at most Limit events within any trailing
// Window.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

// SlidingWindow is safe for concurrent use. All state is guarded by a single
// mutex so Allow, Wait and Remaining observe a consistent window.
type SlidingWindow struct {
	limit  int
	window time.Duration
	now    func() time.Time

	mu     sync.Mutex
	events []time.Time
}

// Option configures a SlidingWindow.
type Option func(*SlidingWindow)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *SlidingWindow) { s.now = now }
}

// New returns a limiter admitting limit events per window. A non-positive
// limit admits nothing.
func New(limit int, window time.Duration, opts ...Option) *SlidingWindow {
	s := &SlidingWindow{limit: limit, window: window, now: time.Now}
	for _, o := range opts {
		o(s)
	}
	return s
}

// prune drops events older than the window. Caller holds mu.
func (s *SlidingWindow) prune(now time.Time) {
	cutoff := now.Add(-s.window)
	i := 0
	for i < len(s.events) && !s.events[i].After(cutoff) {
		i++
	}
	if i > 0 {
		s.events = append(s.events[:0], s.events[i:]...)
	}
}

// Allow records an event and returns true if the window has capacity.
func (s *SlidingWindow) Allow() bool {
	ok, _ := s.reserve()
	return ok
}

// reserve either records an event or reports how long until one fits.
func (s *SlidingWindow) reserve() (bool, time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	s.prune(now)
	if s.limit <= 0 {
		return false, s.window
	}
	if len(s.events) < s.limit {
		s.events = append(s.events, now)
		return true, 0
	}
	return false, s.events[0].Add(s.window).Sub(now)
}

// Wait blocks until an event is admitted or ctx ends.
func (s *SlidingWindow) Wait(ctx context.Context) error {
	for {
		ok, wait := s.reserve()
		if ok {
			return nil
		}
		if wait <= 0 {
			wait = time.Millisecond
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// Remaining returns how many events the current window can still admit.
func (s *SlidingWindow) Remaining() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prune(s.now())
	if r := s.limit - len(s.events); r > 0 {
		return r
	}
	return 0
}

// ResetAfter returns the time until the oldest event in the window expires.
func (s *SlidingWindow) ResetAfter() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	s.prune(now)
	if len(s.events) == 0 {
		return 0
	}
	return s.events[0].Add(s.window).Sub(now)
}

// idle reports whether the window holds no events.
func (s *SlidingWindow) idle() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prune(s.now())
	return len(s.events) == 0
}

// Registry hands out one limiter per key, e.g. per external service or per
// client IP. Limiters whose window has emptied are swept at most once per
// window, so keys seen once do not accumulate.
type Registry struct {
	limit  int
	window time.Duration
	opts   []Option
	now    func() time.Time

	mu        sync.Mutex
	limiters  map[string]*SlidingWindow
	lastSweep time.Time
}

// NewRegistry creates a registry whose limiters share limit and window.
func NewRegistry(limit int, window time.Duration, opts ...Option) *Registry {
	r := &Registry{limit: limit, window: window, opts: opts, limiters: make(map[string]*SlidingWindow)}
	r.now = New(limit, window, opts...).now
	r.lastSweep = r.now()
	return r
}

// Get returns the limiter for key, creating it on first use.
func (r *Registry) Get(key string) *SlidingWindow {
	r.mu.Lock()
	defer r.mu.Unlock()
	if now := r.now(); now.Sub(r.lastSweep) >= r.window {
		r.sweep(now)
	}
	l, ok := r.limiters[key]
	if !ok {
		l = New(r.limit, r.window, r.opts...)
		r.limiters[key] = l
	}
	return l
}

// Sweep removes idle limiters and returns how many were dropped.
func (r *Registry) Sweep() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sweep(r.now())
}

func (r *Registry) sweep(now time.Time) int {
	r.lastSweep = now
	n := 0
	for key, l := range r.limiters {
		if l.idle() {
			delete(r.limiters, key)
			n++
		}
	}
	return n
}

// Len returns the number of tracked keys.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.limiters)
}
