package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/edu-platform/edu-platform/internal/app"
	jobmetrics "github.com/edu-platform/edu-platform/internal/jobs"
	"github.com/edu-platform/edu-platform/internal/platform/db"
	"github.com/edu-platform/edu-platform/internal/rbac"
	"github.com/edu-platform/edu-platform/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping worker startup")
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

	pool, err := db.New(ctx, cfg.PGDSN, db.Options{MaxConns: 4})
	if err != nil {
		logger.Error("connect database", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	rbacService := rbac.NewService(rbac.NewRepository(pool), nil, logger)
	integrityJob := jobs.NewRBACIntegrityJob(rbacService, logger, jobmetrics.NewMetrics(nil))

	var cron []jobs.CronRegistration
	if cfg.IntegrityScanCron != "" {
		task, err := jobs.NewRBACIntegrityTask(jobs.RBACIntegrityPayload{})
		if err != nil {
			logger.Error("build integrity task", slog.Any("error", err))
			os.Exit(1)
		}
		cron = append(cron, jobs.CronRegistration{
			Spec:    cfg.IntegrityScanCron,
			Task:    task,
			Options: []asynq.Option{asynq.Queue(jobs.QueueDefault), asynq.MaxRetry(3)},
		})
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts: asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		Logger:    logger,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskRBACIntegrityScan, Handler: integrityJob.Handle},
		},
		Cron: cron,
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	if cfg.WorkerMetricsAddr != "" {
		metricsSrv := &http.Server{Addr: cfg.WorkerMetricsAddr, Handler: promhttp.Handler()}
		go func() {
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("worker metrics server", slog.Any("error", err))
			}
		}()
		defer func() { _ = metricsSrv.Close() }()
	}

	logger.Info("starting worker", slog.String("integrity_cron", cfg.IntegrityScanCron))
	if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}
