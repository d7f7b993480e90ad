package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/odyssey-erp/cashflow/cmd/cashflowctl/cli"
	"github.com/odyssey-erp/cashflow/internal/app"
)

var version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	root := cli.NewRootCommand(connect, version)
	err := root.ExecuteContext(ctx)
	if err != nil {
		_, _ = fmt.Fprintln(os.Stderr, "cashflowctl:", err)
	}
	stop()
	os.Exit(cli.ExitCode(err))
}

func connect(ctx context.Context) (*cli.Runtime, error) {
	cfg, err := app.LoadConfig()
	if err != nil {
		return nil, err
	}
	logger := app.NewLogger(cfg).With(slog.String("component", "cashflowctl"))
	services, err := app.NewServices(ctx, cfg, logger, nil)
	if err != nil {
		return nil, err
	}
	return &cli.Runtime{
		Recalc:          services.Scheduler,
		Rates:           services.Store,
		InvalidateRates: services.Rates.Bump,
		Migrate:         services.Store.Migrate,
		Close:           func() { services.Close(logger) },
	}, nil
}
