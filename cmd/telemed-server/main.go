package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/telemed/telemed/internal/config"
	"github.com/telemed/telemed/internal/domain/appointments"
	"github.com/telemed/telemed/internal/domain/chat"
	"github.com/telemed/telemed/internal/domain/emr"
	"github.com/telemed/telemed/internal/domain/uploads"
	"github.com/telemed/telemed/internal/domain/users"
	"github.com/telemed/telemed/internal/platform/auth"
	"github.com/telemed/telemed/internal/platform/blobstore"
	"github.com/telemed/telemed/internal/platform/db"
	"github.com/telemed/telemed/internal/platform/middleware"
	"github.com/telemed/telemed/internal/platform/validate"
	"github.com/telemed/telemed/internal/platform/websocket"
)

const version = "0.1.0"

func main() {
	rootCmd := &cobra.Command{
		Use:   "telemed-server",
		Short: "Telemedicine API server",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(prescriptionsCmd())
	rootCmd.AddCommand(usersCmd())

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
		Short: "Database migration commands",
	}

	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, pool, err := connect(cmd)
			if err != nil {
				return err
			}
			defer pool.Close()

			m := db.NewMigrator(pool, flagOr(cmd, "dir", cfg.MigrationsDir), flagOr(cmd, "schema", cfg.DBSchema), newLogger(cfg.Env))
			n, err := m.Up(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Printf("Applied %d migration(s)\n", n)
			return nil
		},
	}
	upCmd.Flags().String("schema", "", "Target schema (defaults to DB_SCHEMA)")
	upCmd.Flags().String("dir", "", "Path to migrations directory (defaults to MIGRATIONS_DIR)")
	cmd.AddCommand(upCmd)

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, pool, err := connect(cmd)
			if err != nil {
				return err
			}
			defer pool.Close()

			m := db.NewMigrator(pool, flagOr(cmd, "dir", cfg.MigrationsDir), flagOr(cmd, "schema", cfg.DBSchema), newLogger(cfg.Env))
			statuses, err := m.Status(cmd.Context())
			if err != nil {
				return err
			}

			fmt.Printf("%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
			fmt.Printf("%-10s %-40s %-10s %s\n", "-------", "----", "------", "----------")
			for _, s := range statuses {
				status := "pending"
				appliedAt := ""
				if s.Applied {
					status = "applied"
					if s.AppliedAt != nil {
						appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
					}
				}
				fmt.Printf("%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
			}
			return nil
		},
	}
	statusCmd.Flags().String("schema", "", "Target schema (defaults to DB_SCHEMA)")
	statusCmd.Flags().String("dir", "", "Path to migrations directory (defaults to MIGRATIONS_DIR)")
	cmd.AddCommand(statusCmd)

	return cmd
}

func prescriptionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "prescriptions",
		Short: "Prescription maintenance",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "expire",
		Short: "Mark active prescriptions past their expiry date as expired",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, pool, err := connect(cmd)
			if err != nil {
				return err
			}
			defer pool.Close()

			svc := emr.NewService(emr.NewRecordRepoPG(pool), emr.NewPrescriptionRepoPG(pool), nil, nil)
			n, err := svc.ExpireOverdue(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Printf("Expired %d prescription(s)\n", n)
			return nil
		},
	})

	return cmd
}

func usersCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "users",
		Short: "Manage accounts",
	}

	createAdmin := &cobra.Command{
		Use:   "create-admin",
		Short: "Create an administrator account",
		RunE: func(cmd *cobra.Command, args []string) error {
			req := &users.RegisterRequest{Role: auth.RoleAdmin}
			req.Email, _ = cmd.Flags().GetString("email")
			req.Password, _ = cmd.Flags().GetString("password")
			req.FirstName, _ = cmd.Flags().GetString("first-name")
			req.LastName, _ = cmd.Flags().GetString("last-name")
			if req.Email == "" || req.Password == "" {
				return fmt.Errorf("--email and --password are required")
			}
			if len(req.Password) < 6 {
				return fmt.Errorf("--password must be at least 6 characters")
			}

			_, pool, err := connect(cmd)
			if err != nil {
				return err
			}
			defer pool.Close()

			svc := users.NewService(users.NewRepoPG(pool), nil)
			u, err := svc.Create(cmd.Context(), req)
			if err != nil {
				return err
			}
			fmt.Printf("Created admin %s (%s)\n", u.Email, u.ID)
			return nil
		},
	}
	createAdmin.Flags().String("email", "", "Admin email address")
	createAdmin.Flags().String("password", "", "Admin password (min 6 characters)")
	createAdmin.Flags().String("first-name", "System", "First name")
	createAdmin.Flags().String("last-name", "Administrator", "Last name")
	cmd.AddCommand(createAdmin)

	return cmd
}

// connect loads config and opens a pool for one-off commands.
func connect(cmd *cobra.Command) (*config.Config, *pgxpool.Pool, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	pool, err := db.NewPool(cmd.Context(), cfg.DatabaseURL, flagOr(cmd, "schema", cfg.DBSchema), cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		return nil, nil, err
	}
	return cfg, pool, nil
}

// flagOr returns the named string flag, or fallback when the flag is unset
// or not defined on cmd.
func flagOr(cmd *cobra.Command, name, fallback string) string {
	if f := cmd.Flags().Lookup(name); f != nil && f.Value.String() != "" {
		return f.Value.String()
	}
	return fallback
}

func newLogger(env string) zerolog.Logger {
	if env == "development" {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}

// server holds the HTTP server and the background workers started by serve.
type server struct {
	echo     *echo.Echo
	hub      *websocket.Hub
	revoked  *auth.TokenRevocationStore
	limiter  *middleware.RateLimiter
	sweeper  *emr.ExpirySweeper
	interval time.Duration
}

// rateLimitConfig falls back to the defaults when RATE_LIMIT_RPS is unset
// or non-positive.
func rateLimitConfig(cfg *config.Config) middleware.RateLimitConfig {
	rl := middleware.DefaultRateLimitConfig()
	if cfg.RateLimitRPS > 0 {
		rl.RequestsPerSecond = cfg.RateLimitRPS
	}
	if cfg.RateLimitBurst > 0 {
		rl.BurstSize = cfg.RateLimitBurst
	}
	return rl
}

// uploadBodyLimit allows a full multi-file upload plus 1 MiB of multipart
// framing.
func uploadBodyLimit(cfg *config.Config) string {
	return strconv.FormatInt(cfg.UploadMaxBytes*uploads.MaxFiles+1<<20, 10)
}

// newServer wires every domain onto a fresh echo instance. The pool is not
// used until a request or worker touches the database.
func newServer(cfg *config.Config, pool *pgxpool.Pool, logger zerolog.Logger) (*server, error) {
	validator, err := validate.New()
	if err != nil {
		return nil, fmt.Errorf("load schemas: %w", err)
	}

	revoked := auth.NewTokenRevocationStore()
	tokens := auth.NewTokenIssuer([]byte(cfg.JWTSecret), cfg.JWTIssuer, cfg.JWTExpiry, revoked)
	hub := websocket.NewHub(logger)

	userRepo := users.NewRepoPG(pool)
	apptRepo := appointments.NewRepoPG(pool)

	userSvc := users.NewService(userRepo, tokens)
	apptSvc := appointments.NewService(apptRepo, db.NewTxRunner(pool), userSvc)
	emrSvc := emr.NewService(emr.NewRecordRepoPG(pool), emr.NewPrescriptionRepoPG(pool), userSvc, apptSvc)
	chatSvc := chat.NewService(chat.NewRepoPG(pool), userSvc, apptRepo, hub, validator, logger)
	store, err := blobstore.NewDiskStore(cfg.UploadDir, uploads.Subdirs...)
	if err != nil {
		return nil, fmt.Errorf("prepare upload dir: %w", err)
	}
	uploadSvc := uploads.NewService(store, cfg.UploadDir, cfg.UploadMaxBytes, logger)

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Global middleware
	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.SecurityHeaders())
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins:     cfg.CORSOrigins,
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete},
		AllowHeaders:     []string{"Authorization", "Content-Type", "X-Request-ID"},
		AllowCredentials: true,
	}))
	e.Use(middleware.BodyLimit("2M", uploadBodyLimit(cfg), "/api/v1/uploads"))
	e.Use(middleware.RequestTimeout(60 * time.Second))
	e.Use(auth.JWTMiddleware(tokens, auth.AuthSkipper))
	e.Use(middleware.Audit(logger))

	limiter := middleware.NewRateLimiter(rateLimitConfig(cfg))
	apiV1 := e.Group("/api/v1", limiter.Middleware())

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"version": version,
		})
	})
	e.GET("/health/db", db.HealthHandler(pool, func() *db.PoolStats { return db.GetPoolStats(pool) }))
	e.Static("/uploads", cfg.UploadDir)

	users.NewHandler(userSvc, validator).RegisterRoutes(apiV1)
	appointments.NewHandler(apptSvc, validator).RegisterRoutes(apiV1)
	emr.NewHandler(emrSvc, validator).RegisterRoutes(apiV1)
	chat.NewHandler(chatSvc, validator).RegisterRoutes(apiV1)
	uploads.NewHandler(uploadSvc, validator).RegisterRoutes(apiV1)
	websocket.NewHandler(hub, tokens, chatSvc, cfg.CORSOrigins, logger).RegisterRoutes(e)

	return &server{
		echo:     e,
		hub:      hub,
		revoked:  revoked,
		limiter:  limiter,
		sweeper:  emr.NewExpirySweeper(emrSvc, cfg.PrescriptionSweepInterval, logger),
		interval: time.Minute,
	}, nil
}

// startWorkers runs the background loops until ctx is cancelled.
func (s *server) startWorkers(ctx context.Context) {
	go s.revoked.Run(ctx, s.interval)
	go s.limiter.Run(ctx)
	go s.sweeper.Run(ctx)
}

func runServer() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger := newLogger(cfg.Env)
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid configuration")
	}

	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBSchema, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()
	logger.Info().Str("schema", cfg.DBSchema).Msg("connected to database")

	srv, err := newServer(cfg, pool, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to build server")
	}

	workerCtx, stopWorkers := context.WithCancel(ctx)
	defer stopWorkers()
	srv.startWorkers(workerCtx)

	// Graceful shutdown
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Str("env", cfg.Env).Msg("starting server")
		if err := srv.echo.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	stopWorkers()
	srv.hub.Shutdown()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.echo.Shutdown(shutdownCtx); err != nil {
		logger.Fatal().Err(err).Msg("server shutdown failed")
	}
	logger.Info().Msg("server stopped")
	return nil
}
