package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"

	"github.com/atlasagents/backoffice/internal/app"
	"github.com/atlasagents/backoffice/internal/charges"
	"github.com/atlasagents/backoffice/internal/clients"
	jobmetrics "github.com/atlasagents/backoffice/internal/jobs"
	"github.com/atlasagents/backoffice/internal/platform/cache"
	"github.com/atlasagents/backoffice/internal/platform/db"
	"github.com/atlasagents/backoffice/internal/reports"
	"github.com/atlasagents/backoffice/internal/shared"
	"github.com/atlasagents/backoffice/jobs"
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

	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect database", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	auditLogger := shared.NewAuditLogger(pool)
	metrics := jobmetrics.NewMetrics(nil)

	clientsRepo := clients.NewRepository(pool)
	clientsService := clients.NewService(clientsRepo)

	chargesRepo := charges.NewRepository(pool)
	chargesService := charges.NewService(logger, clientsService, chargesRepo, auditLogger, nil, redisClient, cfg.SummaryCacheTTL)
	chargesJob := jobs.NewReconcileChargesJob(chargesService, logger, metrics)

	reportsRepo := reports.NewRepository(pool)
	reportsService := reports.NewService(logger, clientsService, reportsRepo, auditLogger, nil)
	reportsJob := jobs.NewReconcileReportsJob(reportsService, logger, metrics)

	chargesTask, err := jobs.NewReconcileChargesTask(jobs.ReconcileChargesPayload{WindowDays: cfg.ChargeWindowDays})
	if err != nil {
		logger.Error("build charges task", slog.Any("error", err))
		os.Exit(1)
	}
	reportsTask, err := jobs.NewReconcileReportsTask(jobs.ReconcileReportsPayload{WindowMonths: cfg.ReportWindowMonths})
	if err != nil {
		logger.Error("build reports task", slog.Any("error", err))
		os.Exit(1)
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts: asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		Logger:    logger,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskReconcileCharges, Handler: chargesJob.Handle},
			{Type: jobs.TaskReconcileReports, Handler: reportsJob.Handle},
		},
		Cron: []jobs.CronRegistration{
			{Spec: "0 3 * * *", Task: chargesTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
			{Spec: "30 3 * * *", Task: reportsTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
		},
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	if err := worker.Run(ctx); err != nil && err != context.Canceled {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}
