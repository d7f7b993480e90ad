package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/odyssey-erp/cashflow/internal/cashflow"
	"github.com/odyssey-erp/cashflow/internal/cashflow/fx"
)

var errNoRates = errors.New("no rate store configured")

// GapsExitCode is returned by fx validate when rates are missing.
const GapsExitCode = 10

// FXValidateSummary is the JSON output of fx validate.
type FXValidateSummary struct {
	OK        bool              `json:"ok"`
	From      string            `json:"from"`
	To        string            `json:"to"`
	Checked   int               `json:"checked"`
	Gaps      []string          `json:"gaps"`
	Available []FXAvailableRate `json:"available"`
}

// FXAvailableRate reports one recorded TRM.
type FXAvailableRate struct {
	Date  string          `json:"date"`
	Value decimal.Decimal `json:"value"`
}

func newFXCommand(connect Connector) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "fx",
		Short: "Inspect and load USD/COP reference rates",
	}
	cmd.AddCommand(newFXValidateCommand(connect), newFXSetRateCommand(connect))
	return cmd
}

func newFXValidateCommand(connect Connector) *cobra.Command {
	var (
		from       string
		to         string
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "List days without an exact TRM",
		Long:  "List calendar days in the range that have no exact rate. Reads fall back to earlier rates, so gaps only flag missing loads. Exits 10 when gaps exist.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			start, err := parseDateFlag("from", from)
			if err != nil {
				return err
			}
			end, err := parseDateFlag("to", to)
			if err != nil {
				return err
			}
			return withRuntime(cmd, connect, func(ctx context.Context, rt *Runtime) error {
				if rt.Rates == nil {
					return errNoRates
				}
				result, err := fx.Validate(ctx, rt.Rates, start, end)
				if err != nil {
					return err
				}
				if jsonOutput {
					if err := json.NewEncoder(cmd.OutOrStdout()).Encode(buildValidateSummary(result)); err != nil {
						return fmt.Errorf("encode json: %w", err)
					}
				} else {
					renderValidateHuman(cmd.OutOrStdout(), result)
				}
				if !result.OK() {
					return &ExitError{Code: GapsExitCode, Err: fmt.Errorf("%d day(s) without a rate", len(result.Gaps))}
				}
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&from, "from", "", "first date (YYYY-MM-DD, required)")
	cmd.Flags().StringVar(&to, "to", "", "last date (YYYY-MM-DD, required)")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "emit JSON")
	_ = cmd.MarkFlagRequired("from")
	_ = cmd.MarkFlagRequired("to")

	return cmd
}

func newFXSetRateCommand(connect Connector) *cobra.Command {
	var (
		date  string
		value string
	)

	cmd := &cobra.Command{
		Use:   "set-rate",
		Short: "Record the TRM of a date",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			day, err := parseDateFlag("date", date)
			if err != nil {
				return err
			}
			amount, err := decimal.NewFromString(value)
			if err != nil || !amount.IsPositive() {
				return fmt.Errorf("--value must be a positive decimal, got %q", value)
			}
			return withRuntime(cmd, connect, func(ctx context.Context, rt *Runtime) error {
				if rt.Rates == nil {
					return errNoRates
				}
				if err := rt.Rates.InsertRate(ctx, cashflow.ExchangeRate{Date: day, Value: amount}); err != nil {
					return err
				}
				if rt.InvalidateRates != nil {
					if err := rt.InvalidateRates(ctx); err != nil {
						return fmt.Errorf("rate saved but cache not invalidated: %w", err)
					}
				}
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "recorded TRM %s for %s\n", amount.String(), day.Format(cashflow.DateLayout))
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&date, "date", "", "rate date (YYYY-MM-DD, required)")
	cmd.Flags().StringVar(&value, "value", "", "COP per USD (required)")
	_ = cmd.MarkFlagRequired("date")
	_ = cmd.MarkFlagRequired("value")

	return cmd
}

func buildValidateSummary(result fx.Result) FXValidateSummary {
	gaps := make([]string, 0, len(result.Gaps))
	for _, gap := range result.Gaps {
		gaps = append(gaps, gap.Format(cashflow.DateLayout))
	}
	available := make([]FXAvailableRate, 0, len(result.Available))
	for date, rate := range result.Available {
		available = append(available, FXAvailableRate{Date: date, Value: rate.Value})
	}
	sort.Slice(available, func(i, j int) bool { return available[i].Date < available[j].Date })
	return FXValidateSummary{
		OK:        result.OK(),
		From:      result.From.Format(cashflow.DateLayout),
		To:        result.To.Format(cashflow.DateLayout),
		Checked:   result.Checked,
		Gaps:      gaps,
		Available: available,
	}
}

func renderValidateHuman(out io.Writer, result fx.Result) {
	_, _ = fmt.Fprintf(out, "TRM coverage %s..%s: %d day(s) checked\n",
		result.From.Format(cashflow.DateLayout), result.To.Format(cashflow.DateLayout), result.Checked)
	if result.OK() {
		_, _ = fmt.Fprintln(out, "All days have a rate.")
		return
	}
	_, _ = fmt.Fprintf(out, "%d gap(s) detected:\n", len(result.Gaps))
	for _, gap := range result.Gaps {
		_, _ = fmt.Fprintf(out, " - %s\n", gap.Format(cashflow.DateLayout))
	}
}
