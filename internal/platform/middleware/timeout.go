package middleware

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/healthmate/healthmate/internal/platform/apperr"
)

// longRunning reports requests that must not get a deadline: the WebSocket
// feed, file exports and synchronous backup or ETL runs.
func longRunning(r *http.Request) bool {
	path := strings.TrimSuffix(r.URL.Path, "/")
	switch {
	case path == "/ws", strings.HasPrefix(path, "/ws/"):
		return true
	case strings.HasSuffix(path, ".xlsx"), strings.HasSuffix(path, "/object"):
		return true
	case r.Method == http.MethodPost && strings.HasSuffix(path, "/run"):
		return true
	}
	return false
}

// RequestTimeout sets a deadline on each request context. When it passes
// before the handler returns, a 504 envelope is written.
func RequestTimeout(timeout time.Duration) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if longRunning(c.Request()) {
				return next(c)
			}

			ctx, cancel := context.WithTimeout(c.Request().Context(), timeout)
			defer cancel()
			c.SetRequest(c.Request().WithContext(ctx))

			done := make(chan error, 1)
			go func() {
				done <- next(c)
			}()

			select {
			case err := <-done:
				return err
			case <-ctx.Done():
				if ctx.Err() == context.DeadlineExceeded {
					e := apperr.Wrap(apperr.CodeInternal, "request processing exceeded the allowed time limit", ctx.Err())
					e.Status = http.StatusGatewayTimeout
					return e
				}
				return ctx.Err()
			}
		}
	}
}
