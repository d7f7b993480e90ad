// Package cli implements the cashflowctl operator commands.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/odyssey-erp/cashflow/internal/cashflow"
	"github.com/odyssey-erp/cashflow/internal/cashflow/recalc"
)

// Recomputer is the recompute surface the commands drive.
type Recomputer interface {
	RecomputeKey(ctx context.Context, key cashflow.Key) (recalc.Outcome, error)
	RecomputeCompany(ctx context.Context, date time.Time, companyID int64) (recalc.BatchSummary, error)
	RecomputeDay(ctx context.Context, date time.Time) (recalc.BatchSummary, error)
	RecomputeRange(ctx context.Context, from, to time.Time, companyID int64) (recalc.BatchSummary, error)
}

// RateStore reads and records exchange rates.
type RateStore interface {
	cashflow.ExchangeRateProvider
	InsertRate(ctx context.Context, rate cashflow.ExchangeRate) error
}

// Runtime is what a command needs from the backing services.
type Runtime struct {
	Recalc Recomputer
	Rates  RateStore
	// InvalidateRates drops cached rate lookups after a rate load.
	InvalidateRates func(ctx context.Context) error
	Migrate         func(ctx context.Context) error
	Close           func()
}

// Connector builds a Runtime on demand so --help never dials a database.
type Connector func(ctx context.Context) (*Runtime, error)

// ExitError carries a process exit code distinct from a plain failure.
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("exit %d", e.Code)
	}
	return e.Err.Error()
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// ExitCode maps an Execute error to a process exit code.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var exit *ExitError
	if errors.As(err, &exit) {
		return exit.Code
	}
	return 1
}

// NewRootCommand creates the root CLI command with all subcommands registered.
func NewRootCommand(connect Connector, version string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:     "cashflowctl",
		Short:   "Operate the daily cash-flow engine",
		Version: version,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(
		newRecalcCommand(connect),
		newRecalcRangeCommand(connect),
		newFXCommand(connect),
		newMigrateCommand(connect),
	)
	return rootCmd
}

func withRuntime(cmd *cobra.Command, connect Connector, fn func(ctx context.Context, rt *Runtime) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	rt, err := connect(ctx)
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	if rt.Close != nil {
		defer rt.Close()
	}
	return fn(ctx, rt)
}

func parseDateFlag(name, raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, fmt.Errorf("--%s is required", name)
	}
	day, err := cashflow.ParseDay(raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("--%s: expected YYYY-MM-DD, got %q", name, raw)
	}
	return day, nil
}

func printSummary(out io.Writer, label string, summary recalc.BatchSummary) {
	_, _ = fmt.Fprintf(out, "%s: %d account-day(s) recomputed, %d failed, %d event(s)\n",
		label, summary.Accounts-summary.Failed, summary.Failed, len(summary.Events))
}
