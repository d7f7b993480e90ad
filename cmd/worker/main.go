package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/cashflow/internal/app"
	jobmetrics "github.com/odyssey-erp/cashflow/internal/jobs"
	"github.com/odyssey-erp/cashflow/jobs"
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

	services, err := app.NewServices(ctx, cfg, logger, nil)
	if err != nil {
		logger.Error("init services", slog.Any("error", err))
		os.Exit(1)
	}
	defer services.Close(logger)

	metrics := jobmetrics.NewMetrics(nil)
	retryJob := jobs.NewRecalcRetryJob(services.Scheduler, logger, metrics)
	rolloverJob := jobs.NewRolloverJob(services.Scheduler, logger, metrics)

	rolloverTask, err := jobs.NewRolloverTask("today", "all")
	if err != nil {
		logger.Error("build rollover task", slog.Any("error", err))
		os.Exit(1)
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts: asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		Logger:    logger,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskRecalcRetry, Handler: retryJob.Handle},
			{Type: jobs.TaskRollover, Handler: rolloverJob.Handle},
		},
		Cron: []jobs.CronRegistration{
			{Spec: cfg.RolloverCron, Task: rolloverTask},
		},
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}
