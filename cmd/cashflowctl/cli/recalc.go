package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/odyssey-erp/cashflow/internal/cashflow"
	"github.com/odyssey-erp/cashflow/internal/cashflow/recalc"
)

func newRecalcCommand(connect Connector) *cobra.Command {
	var (
		date      string
		accountID int64
		companyID int64
		all       bool
	)

	cmd := &cobra.Command{
		Use:   "recalc",
		Short: "Recompute derived concepts for one day",
		Long:  "Recompute every derived concept of one account, one company or every account on a date, cascading moved closing balances forward.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			day, err := parseDateFlag("date", date)
			if err != nil {
				return err
			}
			targets := 0
			for _, set := range []bool{accountID > 0, companyID > 0, all} {
				if set {
					targets++
				}
			}
			if targets != 1 {
				return errors.New("exactly one of --account, --company or --all is required")
			}
			out := cmd.OutOrStdout()
			return withRuntime(cmd, connect, func(ctx context.Context, rt *Runtime) error {
				if accountID > 0 {
					res, err := rt.Recalc.RecomputeKey(ctx, cashflow.NewKey(day, accountID))
					if err != nil {
						return err
					}
					_, _ = fmt.Fprintf(out, "recomputed %s: %d concept(s), event %s\n",
						cashflow.NewKey(day, accountID), res.Event.DependentCount, res.Event.ID)
					return nil
				}
				var (
					summary recalc.BatchSummary
					err     error
				)
				if all {
					summary, err = rt.Recalc.RecomputeDay(ctx, day)
				} else {
					summary, err = rt.Recalc.RecomputeCompany(ctx, day, companyID)
				}
				printSummary(out, day.Format(cashflow.DateLayout), summary)
				return err
			})
		},
	}

	cmd.Flags().StringVar(&date, "date", "", "statement date (YYYY-MM-DD, required)")
	cmd.Flags().Int64Var(&accountID, "account", 0, "account id")
	cmd.Flags().Int64Var(&companyID, "company", 0, "company id")
	cmd.Flags().BoolVar(&all, "all", false, "every account")
	_ = cmd.MarkFlagRequired("date")

	return cmd
}

func newRecalcRangeCommand(connect Connector) *cobra.Command {
	var (
		from      string
		to        string
		companyID int64
	)

	cmd := &cobra.Command{
		Use:   "recalc-range",
		Short: "Backfill derived concepts of a company over a date range",
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
			if end.Before(start) {
				return fmt.Errorf("--to %s is before --from %s", to, from)
			}
			if companyID <= 0 {
				return errors.New("--company must be positive")
			}
			return withRuntime(cmd, connect, func(ctx context.Context, rt *Runtime) error {
				summary, err := rt.Recalc.RecomputeRange(ctx, start, end, companyID)
				printSummary(cmd.OutOrStdout(), from+".."+to, summary)
				return err
			})
		},
	}

	cmd.Flags().StringVar(&from, "from", "", "first date (YYYY-MM-DD, required)")
	cmd.Flags().StringVar(&to, "to", "", "last date (YYYY-MM-DD, required)")
	cmd.Flags().Int64Var(&companyID, "company", 0, "company id (required)")
	_ = cmd.MarkFlagRequired("from")
	_ = cmd.MarkFlagRequired("to")
	_ = cmd.MarkFlagRequired("company")

	return cmd
}

func newMigrateCommand(connect Connector) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the cash-flow schema",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd, connect, func(ctx context.Context, rt *Runtime) error {
				if rt.Migrate == nil {
					return errors.New("migrate: not supported by this backend")
				}
				if err := rt.Migrate(ctx); err != nil {
					return err
				}
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), "schema up to date")
				return nil
			})
		},
	}
}
