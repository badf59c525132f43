package middleware

import (
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/upstac/upstac/internal/platform/apperr"
	"github.com/upstac/upstac/internal/platform/auth"
)

// Audit logs every access to /api/ routes, including rejected ones, as a
// "test_request_access" line.
func Audit(logger zerolog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			if !strings.HasPrefix(req.URL.Path, "/api/") {
				return next(c)
			}

			err := next(c)

			status := c.Response().Status
			if err != nil && !c.Response().Committed {
				status = apperr.HTTP(err).Code
			}
			rid, _ := c.Get("request_id").(string)
			ctx := req.Context()

			logger.Info().
				Str("type", "audit").
				Str("request_id", rid).
				Str("user_id", auth.UserIDFromContext(ctx)).
				Strs("user_roles", auth.RolesFromContext(ctx)).
				Str("action", auditAction(req.Method, req.URL.Path)).
				Str("test_request_id", c.Param("id")).
				Str("method", req.Method).
				Str("path", req.URL.Path).
				Str("remote_ip", c.RealIP()).
				Int("status", status).
				Time("at", time.Now().UTC()).
				Msg("test_request_access")

			return err
		}
	}
}

func auditAction(method, path string) string {
	switch {
	case method == http.MethodGet || method == http.MethodHead:
		return "read"
	case strings.Contains(path, "/assign/"):
		return "assign"
	default:
		return "update"
	}
}
