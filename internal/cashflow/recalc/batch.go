package recalc

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/odyssey-erp/cashflow/internal/cashflow"
)

// batchLimit bounds concurrent accounts in a batch.
const batchLimit = 4

// BatchSummary reports a multi-account recompute.
type BatchSummary struct {
	Accounts int
	Failed   int
	Events   []cashflow.RecalcEvent
}

// RecomputeCompany recomputes every account of a company for one day. A failing
// account never stops the others; all failures are joined into the returned error.
func (s *Scheduler) RecomputeCompany(ctx context.Context, date time.Time, companyID int64) (BatchSummary, error) {
	accounts, err := s.accounts.ListByCompany(ctx, companyID)
	if err != nil {
		return BatchSummary{}, fmt.Errorf("recalc: list accounts of company %d: %w", companyID, err)
	}
	return s.recomputeAccounts(ctx, date, accounts, true)
}

// RecomputeDay recomputes every known account for one day. The daily rollover uses
// it to seed the opening balances of a new day.
func (s *Scheduler) RecomputeDay(ctx context.Context, date time.Time) (BatchSummary, error) {
	accounts, err := s.accounts.ListAll(ctx)
	if err != nil {
		return BatchSummary{}, fmt.Errorf("recalc: list accounts: %w", err)
	}
	return s.recomputeAccounts(ctx, date, accounts, true)
}

// RecomputeRange recomputes a company day by day over [from, to]. Only the last day
// cascades forward since earlier days are revisited by the loop itself.
func (s *Scheduler) RecomputeRange(ctx context.Context, from, to time.Time, companyID int64) (BatchSummary, error) {
	from, to = cashflow.Day(from), cashflow.Day(to)
	if to.Before(from) {
		return BatchSummary{}, fmt.Errorf("recalc: range end %s before start %s", to.Format(cashflow.DateLayout), from.Format(cashflow.DateLayout))
	}
	accounts, err := s.accounts.ListByCompany(ctx, companyID)
	if err != nil {
		return BatchSummary{}, fmt.Errorf("recalc: list accounts of company %d: %w", companyID, err)
	}
	var (
		total BatchSummary
		errs  []error
	)
	for day := from; !day.After(to); day = day.AddDate(0, 0, 1) {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		sum, err := s.recomputeAccounts(ctx, day, accounts, day.Equal(to))
		total.Accounts += sum.Accounts
		total.Failed += sum.Failed
		total.Events = append(total.Events, sum.Events...)
		if err != nil {
			errs = append(errs, err)
		}
	}
	return total, errors.Join(errs...)
}

func (s *Scheduler) recomputeAccounts(ctx context.Context, date time.Time, accounts []cashflow.Account, cascade bool) (BatchSummary, error) {
	var (
		mu      sync.Mutex
		summary BatchSummary
		errs    []error
	)
	summary.Accounts = len(accounts)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(batchLimit)
	for _, account := range accounts {
		key := cashflow.NewKey(date, account.ID)
		g.Go(func() error {
			out, err := s.recompute(gctx, key, change{kind: changeFull}, cascade)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				summary.Failed++
				errs = append(errs, err)
				return nil
			}
			summary.Events = append(summary.Events, out.Event)
			return nil
		})
	}
	_ = g.Wait()
	return summary, errors.Join(errs...)
}
