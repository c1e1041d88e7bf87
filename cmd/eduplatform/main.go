package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/edu-platform/edu-platform/internal/app"
	"github.com/edu-platform/edu-platform/internal/auth"
	"github.com/edu-platform/edu-platform/internal/observability"
	"github.com/edu-platform/edu-platform/internal/platform/cache"
	"github.com/edu-platform/edu-platform/internal/platform/db"
	"github.com/edu-platform/edu-platform/internal/rbac"
	"github.com/edu-platform/edu-platform/internal/shared"
	"github.com/edu-platform/edu-platform/internal/users"
	"github.com/edu-platform/edu-platform/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)
	slog.SetDefault(logger)

	dbpool, err := db.New(ctx, cfg.PGDSN, db.Options{})
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer dbpool.Close()

	redisClient, err := cache.New(ctx, cache.Options{Addr: cfg.RedisAddr})
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	metrics := observability.NewMetrics()
	auditLogger := shared.NewAuditLogger(dbpool)

	rbacService := rbac.NewService(rbac.NewRepository(dbpool), auditLogger, logger)
	rbacMiddleware := rbac.Middleware{Logger: logger, Metrics: rbac.NewMetrics(metrics.Registerer())}

	sessions := shared.NewSessionStore(redisClient, cfg.SessionTTL)
	authService := auth.NewService(auth.NewRepository(dbpool), sessions, rbac.NewPrincipalLoader(rbacService), logger)

	usersService := users.NewService(users.NewRepository(dbpool), cfg.BcryptCost, auditLogger, logger)

	redisOpts := asynq.RedisClientOpt{Addr: cfg.RedisAddr}
	inspector := asynq.NewInspector(redisOpts)
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()
	jobClient := jobs.NewClient(redisOpts)
	defer func() {
		if err := jobClient.Close(); err != nil {
			logger.Warn("job client close", slog.Any("error", err))
		}
	}()

	router := app.NewRouter(app.RouterParams{
		Logger:       logger,
		Config:       cfg,
		Authenticate: authService.Middleware,
		AuthHandler:  auth.NewHandler(logger, authService),
		RBACHandler:  rbac.NewHandler(logger, rbacService, rbacMiddleware),
		UsersHandler: users.NewHandler(logger, usersService, rbacMiddleware),
		JobHandler:   jobs.NewHandler(inspector, jobClient, rbacMiddleware, logger),
		Metrics:      metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr), slog.String("env", cfg.AppEnv))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
}
