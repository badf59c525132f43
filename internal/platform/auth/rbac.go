package auth

import (
	"fmt"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/upstac/upstac/internal/platform/apperr"
)

const (
	RoleUser                = "USER"
	RoleTester              = "TESTER"
	RoleDoctor              = "DOCTOR"
	RoleGovernmentAuthority = "GOVERNMENT_AUTHORITY"
)

// RequireRole returns middleware that checks if the user has at least one of
// the specified roles. It runs before the handler, so a rejected request never
// reaches business logic or payload binding.
func RequireRole(roles ...string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if HasAnyRole(RolesFromContext(c.Request().Context()), roles...) {
				return next(c)
			}
			return apperr.HTTP(apperr.Forbidden(
				fmt.Sprintf("required role: %s", strings.Join(roles, " or "))))
		}
	}
}

// HasAnyRole reports whether granted contains one of required. Spring-style
// "ROLE_" prefixes on granted roles are ignored.
func HasAnyRole(granted []string, required ...string) bool {
	for _, want := range required {
		for _, has := range granted {
			if strings.TrimPrefix(has, "ROLE_") == want {
				return true
			}
		}
	}
	return false
}
