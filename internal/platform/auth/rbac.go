package auth

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
)

// RequireRole returns middleware that checks if the user has at least one of the specified roles.
func RequireRole(roles ...string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if HasRole(RolesFromContext(c.Request().Context()), roles...) {
				return next(c)
			}
			return echo.NewHTTPError(http.StatusForbidden,
				fmt.Sprintf("required role: %s", strings.Join(roles, " or ")))
		}
	}
}

// HasRole reports whether userRoles grants any of required. Admin grants all.
func HasRole(userRoles []string, required ...string) bool {
	for _, has := range userRoles {
		if has == RoleAdmin {
			return true
		}
		for _, r := range required {
			if has == r {
				return true
			}
		}
	}
	return false
}

// ActingUserID resolves whose records a request operates on. Patients always
// act on their own records; clinicians and admins may pass ?user_id= to act
// on another user.
func ActingUserID(c echo.Context) (string, error) {
	ctx := c.Request().Context()
	self := UserIDFromContext(ctx)
	if self == "" {
		return "", echo.NewHTTPError(http.StatusUnauthorized, "unauthenticated")
	}
	other := c.QueryParam("user_id")
	if other == "" || other == self {
		return self, nil
	}
	if !HasRole(RolesFromContext(ctx), RoleClinician) {
		return "", echo.NewHTTPError(http.StatusForbidden, "cannot access another user's records")
	}
	return other, nil
}

// CanAccess reports whether the caller may read or modify records owned by
// ownerID.
func CanAccess(ctx context.Context, ownerID string) bool {
	self := UserIDFromContext(ctx)
	if self != "" && self == ownerID {
		return true
	}
	return HasRole(RolesFromContext(ctx), RoleClinician)
}
