package main

import (
	"context"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/upstac/upstac/internal/config"
	"github.com/upstac/upstac/internal/domain/consultation"
	"github.com/upstac/upstac/internal/domain/testrequest"
	"github.com/upstac/upstac/internal/domain/user"
	"github.com/upstac/upstac/internal/platform/auth"
	"github.com/upstac/upstac/internal/platform/cache"
	"github.com/upstac/upstac/internal/platform/db"
	"github.com/upstac/upstac/internal/platform/middleware"
	"github.com/upstac/upstac/internal/platform/server"
	"github.com/upstac/upstac/internal/platform/validation"
	"github.com/upstac/upstac/migrations"
)

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	rootCmd := &cobra.Command{
		Use:   "upstac-server",
		Short: "UPSTAC consultation API server",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	// migrate up
	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")

			ctx := context.Background()
			pool, err := openPool(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			count, err := db.NewMigrator(pool, migrationFiles(dir)).Up(ctx)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Applied %d migration(s) successfully.\n", count)
			return nil
		},
	}
	upCmd.Flags().String("dir", "", "Path to migrations directory (default: built-in migrations)")
	cmd.AddCommand(upCmd)

	// migrate status
	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")

			ctx := context.Background()
			pool, err := openPool(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			statuses, err := db.NewMigrator(pool, migrationFiles(dir)).Status(ctx)
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
			fmt.Fprintln(out, "---------- ---------------------------------------- ---------- --------------------")
			for _, s := range statuses {
				status := "pending"
				appliedAt := ""
				if s.Applied {
					status = "applied"
					if s.AppliedAt != nil {
						appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
					}
				}
				fmt.Fprintf(out, "%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
			}
			return nil
		},
	}
	statusCmd.Flags().String("dir", "", "Path to migrations directory (default: built-in migrations)")
	cmd.AddCommand(statusCmd)

	return cmd
}

// migrationFiles returns the embedded migrations unless dir overrides them.
func migrationFiles(dir string) fs.FS {
	if dir == "" {
		return migrations.FS
	}
	return os.DirFS(dir)
}

func openPool(ctx context.Context) (*pgxpool.Pool, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	return db.NewPool(ctx, poolConfig(cfg))
}

func poolConfig(cfg *config.Config) db.PoolConfig {
	return db.PoolConfig{
		DatabaseURL:     cfg.DatabaseURL,
		MaxConns:        cfg.DBMaxConns,
		MinConns:        cfg.DBMinConns,
		MaxConnIdleTime: cfg.DBConnIdleTime,
	}
}

// devUserRole is the role given to a provisioned dev user: DOCTOR when the
// dev roles include it, else the first dev role.
func devUserRole(roles []string) string {
	if auth.HasAnyRole(roles, auth.RoleDoctor) || len(roles) == 0 {
		return auth.RoleDoctor
	}
	return strings.TrimPrefix(roles[0], "ROLE_")
}

func newLogger(cfg *config.Config) zerolog.Logger {
	if cfg.IsDev() {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}

// authMiddleware picks the authentication chain for the environment. In
// development, requests without a bearer token act as the configured dev
// user; tokens are still verified when a signing key is set.
func authMiddleware(cfg *config.Config) []echo.MiddlewareFunc {
	jwtCfg := auth.JWTConfig{
		Issuer:     cfg.AuthIssuer,
		Audience:   cfg.AuthAudience,
		SigningKey: []byte(cfg.AuthSigningKey),
		Skipper:    auth.AuthSkipper,
	}
	if !cfg.IsDev() {
		return []echo.MiddlewareFunc{auth.JWTMiddleware(jwtCfg)}
	}

	chain := []echo.MiddlewareFunc{auth.DevAuthMiddleware(cfg.DevUser, cfg.DevRoles)}
	if cfg.AuthSigningKey != "" {
		jwtCfg.Skipper = func(c echo.Context) bool {
			return auth.AuthSkipper(c) || c.Request().Header.Get("Authorization") == ""
		}
		chain = append(chain, auth.JWTMiddleware(jwtCfg))
	}
	return chain
}

// newServer wires repositories, services and routes onto a configured echo
// instance.
func newServer(cfg *config.Config, logger zerolog.Logger, pool *pgxpool.Pool, store cache.Store) *echo.Echo {
	e := server.New(logger, server.Options{
		CORSOrigins: cfg.CORSOrigins,
		RateLimit: middleware.RateLimitConfig{
			RequestsPerSecond: cfg.RateLimitRPS,
			BurstSize:         cfg.RateLimitBurst,
		},
		TrustProxy: cfg.TrustProxy,
		Auth:       authMiddleware(cfg),
	})

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok", "version": version})
	})
	e.GET("/health/db", db.HealthHandler(pool, func() *db.PoolStats { return db.GetPoolStats(pool) }))

	// Users
	loggedIn := user.NewLoggedInService(user.NewUserRepoPG(pool), store, cfg.UserCacheTTL, logger)

	// Test requests
	requests := testrequest.NewTestRequestRepoPG(pool)
	flow := testrequest.NewFlowService(testrequest.NewFlowRepoPG(pool))
	querySvc := testrequest.NewQueryService(requests)
	updateSvc := testrequest.NewUpdateService(requests, flow, db.NewTransactor(pool), validation.New())

	api := e.Group("/api")
	var routeMW []echo.MiddlewareFunc
	if cfg.BodyLimit != "" {
		routeMW = append(routeMW, echomw.BodyLimit(cfg.BodyLimit))
	}
	consultation.NewHandler(querySvc, updateSvc, user.ResolveUser(loggedIn)).RegisterRoutes(api, routeMW...)

	return e
}

// provisionDevUser makes sure the dev user has a row, so token-less requests
// in development resolve to a user instead of failing with 401.
func provisionDevUser(ctx context.Context, cfg *config.Config, repo user.UserRepository, logger zerolog.Logger) {
	u, created, err := user.EnsureUser(ctx, repo, cfg.DevUser, devUserRole(cfg.DevRoles))
	if err != nil {
		logger.Warn().Err(err).Str("dev_user", cfg.DevUser).
			Msg("could not provision dev user; run migrations first")
		return
	}
	if created {
		logger.Info().Int64("user_id", u.ID).Str("dev_user", u.UserName).Str("role", u.Role).
			Msg("provisioned dev user")
	}
}

func runServer() error {
	// Config
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	// Logger
	logger := newLogger(cfg)
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid configuration")
	}
	if cfg.IsDev() {
		logger.Warn().
			Str("dev_user", cfg.DevUser).
			Strs("dev_roles", cfg.DevRoles).
			Msg("development mode: requests without a bearer token are authenticated as the dev user")
	}

	// Database
	ctx := context.Background()
	pool, err := db.NewPool(ctx, poolConfig(cfg))
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	if cfg.IsDev() {
		provisionDevUser(ctx, cfg, user.NewUserRepoPG(pool), logger)
	}

	// Cache
	var store cache.Store = cache.Noop{}
	if cfg.RedisURL != "" {
		client, err := cache.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect to redis")
		}
		defer client.Close()
		store = cache.NewRedisStore(client, "upstac:")
		logger.Info().Dur("ttl", cfg.UserCacheTTL).Msg("user cache enabled")
	}

	e := newServer(cfg, logger, pool, store)

	// Graceful shutdown
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Str("version", version).Msg("starting server")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server shutdown failed")
		return err
	}
	logger.Info().Msg("server stopped")
	return nil
}
