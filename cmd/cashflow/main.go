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

	"github.com/odyssey-erp/cashflow/internal/app"
	cashflowhttp "github.com/odyssey-erp/cashflow/internal/cashflow/http"
	"github.com/odyssey-erp/cashflow/internal/cashflow/notify"
	"github.com/odyssey-erp/cashflow/internal/observability"
	"github.com/odyssey-erp/cashflow/jobs"
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
	metrics := observability.NewMetrics()

	services, err := app.NewServices(ctx, cfg, logger, metrics.Registerer())
	if err != nil {
		logger.Error("init services", slog.Any("error", err))
		os.Exit(1)
	}
	defer services.Close(logger)

	// Events published by any replica reach this replica's SSE subscribers.
	hub := notify.NewHub(64)
	if err := services.Publisher.Listen(ctx, hub, logger); err != nil {
		logger.Error("subscribe recalc channel", slog.Any("error", err))
		os.Exit(1)
	}

	redisOpts := asynq.RedisClientOpt{Addr: cfg.RedisAddr}
	jobClient := jobs.NewClient(redisOpts)
	defer func() {
		if err := jobClient.Close(); err != nil {
			logger.Warn("jobs client close", slog.Any("error", err))
		}
	}()
	inspector := asynq.NewInspector(redisOpts)
	defer func() { _ = inspector.Close() }()

	handler := cashflowhttp.NewHandler(logger, services.Catalog, services.Scheduler, services.Statements, services.Store.TaxConfigs(), services.Resolver, cashflowhttp.Options{
		WriteLimit: cfg.WriteRateLimit,
		Retry:      jobClient,
		Events:     hub,
	})

	router := app.NewRouter(app.RouterParams{
		Logger:          logger,
		Config:          cfg,
		CashflowHandler: handler,
		JobsHandler:     jobs.NewHandler(inspector, logger),
		Metrics:         metrics,
		Ready:           services.Ready,
	})

	server := &http.Server{
		Addr:              cfg.AppAddr,
		Handler:           router,
		ReadTimeout:       cfg.AppReadTimeout,
		ReadHeaderTimeout: 5 * time.Second,
		// Zero keeps the event stream open; handlers are bounded by the request timeout.
		WriteTimeout: 0,
		IdleTimeout:  2 * time.Minute,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server listening", slog.String("addr", cfg.AppAddr))
		errCh <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server", slog.Any("error", err))
			os.Exit(1)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.AppWriteTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown", slog.Any("error", err))
	}
}
