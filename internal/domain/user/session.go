package user

import (
	"context"
	"errors"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/upstac/upstac/internal/platform/apperr"
	"github.com/upstac/upstac/internal/platform/auth"
	"github.com/upstac/upstac/internal/platform/cache"
)

type ctxKey struct{}

// WithUser returns a copy of ctx carrying u.
func WithUser(ctx context.Context, u *User) context.Context {
	return context.WithValue(ctx, ctxKey{}, u)
}

// FromContext returns the user stored by ResolveUser.
func FromContext(ctx context.Context) (*User, bool) {
	u, ok := ctx.Value(ctxKey{}).(*User)
	return u, ok && u != nil
}

// LoggedInService maps the authenticated subject onto a stored user.
type LoggedInService struct {
	repo   UserRepository
	cache  cache.Store
	ttl    time.Duration
	logger zerolog.Logger
}

// NewLoggedInService builds the service. A nil store disables caching.
func NewLoggedInService(repo UserRepository, store cache.Store, ttl time.Duration, logger zerolog.Logger) *LoggedInService {
	if store == nil {
		store = cache.Noop{}
	}
	return &LoggedInService{repo: repo, cache: store, ttl: ttl, logger: logger}
}

// LoggedInUser returns the user named by the token subject in ctx.
func (s *LoggedInService) LoggedInUser(ctx context.Context) (*User, error) {
	subject := auth.UserIDFromContext(ctx)
	if subject == "" {
		return nil, apperr.Unauthenticated("authentication required")
	}

	key := "user:" + subject
	var cached User
	hit, err := s.cache.Get(ctx, key, &cached)
	if err != nil {
		// A broken cache must not lock doctors out.
		s.logger.Warn().Err(err).Str("user_name", subject).Msg("user cache read failed")
	}
	if hit {
		return &cached, nil
	}

	u, err := s.repo.GetByUserName(ctx, subject)
	if errors.Is(err, ErrNotFound) {
		return nil, apperr.Unauthenticated("unknown user")
	}
	if err != nil {
		return nil, apperr.Internal(err)
	}

	if err := s.cache.Set(ctx, key, u, s.ttl); err != nil {
		s.logger.Warn().Err(err).Str("user_name", subject).Msg("user cache write failed")
	}
	return u, nil
}

// ResolveUser loads the logged-in user once per request and stores it in the
// request context.
func ResolveUser(s *LoggedInService) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			u, err := s.LoggedInUser(c.Request().Context())
			if err != nil {
				return apperr.HTTP(err)
			}
			c.SetRequest(c.Request().WithContext(WithUser(c.Request().Context(), u)))
			return next(c)
		}
	}
}
