package middleware

import (
	"math"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/healthmate/healthmate/internal/platform/apperr"
	"github.com/healthmate/healthmate/internal/platform/auth"
	"github.com/healthmate/healthmate/internal/platform/ratelimit"
)

// RateLimitConfig admits Requests per client within any trailing Window.
type RateLimitConfig struct {
	Requests int
	Window   time.Duration
	// Now replaces time.Now, for tests.
	Now func() time.Time
}

// RateLimit limits requests per client with a sliding window. Authenticated
// requests are keyed by user ID and anonymous ones by IP, so it runs after
// the auth middleware.
func RateLimit(cfg RateLimitConfig) echo.MiddlewareFunc {
	var opts []ratelimit.Option
	if cfg.Now != nil {
		opts = append(opts, ratelimit.WithClock(cfg.Now))
	}
	clients := ratelimit.NewRegistry(cfg.Requests, cfg.Window, opts...)
	limit := strconv.Itoa(cfg.Requests)

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			key := "ip:" + c.RealIP()
			if uid := auth.UserIDFromContext(c.Request().Context()); uid != "" {
				key = "user:" + uid
			}
			w := clients.Get(key)

			h := c.Response().Header()
			h.Set("X-RateLimit-Limit", limit)
			if !w.Allow() {
				wait := w.ResetAfter()
				h.Set("X-RateLimit-Remaining", "0")
				h.Set("X-RateLimit-Reset", strconv.Itoa(int(math.Ceil(wait.Seconds()))))
				return apperr.RateLimited("rate limit exceeded", wait).WithDetail("limit", cfg.Requests)
			}
			h.Set("X-RateLimit-Remaining", strconv.Itoa(w.Remaining()))
			return next(c)
		}
	}
}
