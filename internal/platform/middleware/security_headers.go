package middleware

import (
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/samber/lo"
)

const hstsValue = "max-age=31536000; includeSubDomains"

// SecurityHeadersConfig tunes SecurityHeaders per deployment.
type SecurityHeadersConfig struct {
	// HSTS is off in development, where the API is served over plain HTTP.
	HSTS bool
	// FrameAncestors may embed responses, e.g. the clinician dashboard.
	// Wildcards are ignored; an empty list denies framing.
	FrameAncestors []string
}

// SecurityHeaders sets hardening headers on every response. Responses carry
// personal health data, so caching is disabled.
func SecurityHeaders(cfg SecurityHeadersConfig) echo.MiddlewareFunc {
	ancestors := lo.Filter(cfg.FrameAncestors, func(o string, _ int) bool {
		return o != "" && !strings.Contains(o, "*")
	})
	csp := "default-src 'none'; frame-ancestors 'none'"
	if len(ancestors) > 0 {
		csp = "default-src 'none'; frame-ancestors " + strings.Join(ancestors, " ")
	}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			h := c.Response().Header()
			h.Set("X-Content-Type-Options", "nosniff")
			// X-Frame-Options cannot name origins; CSP governs when framing is allowed.
			if len(ancestors) == 0 {
				h.Set("X-Frame-Options", "DENY")
			}
			h.Set("Content-Security-Policy", csp)
			if cfg.HSTS {
				h.Set("Strict-Transport-Security", hstsValue)
			}
			h.Set("Referrer-Policy", "no-referrer")
			h.Set("Permissions-Policy", "camera=(), microphone=(), geolocation=()")
			h.Set("Cache-Control", "no-store")
			return next(c)
		}
	}
}
