package fx

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/odyssey-erp/cashflow/internal/cashflow"
)

// MaxValidateDays caps the range inspected by a single Validate call.
const MaxValidateDays = 366

// Result summarises rate coverage over a date range.
type Result struct {
	From      time.Time
	To        time.Time
	Checked   int
	Gaps      []time.Time
	Available map[string]cashflow.ExchangeRate
}

// OK reports whether every day in range has an exact rate.
func (r Result) OK() bool {
	return len(r.Gaps) == 0
}

// Validate lists the calendar days in [from, to] without an exact rate. Gaps are not
// fatal for reads (the resolver falls back) but indicate missing TRM loads.
func Validate(ctx context.Context, provider cashflow.ExchangeRateProvider, from, to time.Time) (Result, error) {
	var res Result
	if provider == nil {
		return res, fmt.Errorf("fx: rate provider required")
	}
	if from.IsZero() || to.IsZero() {
		return res, fmt.Errorf("fx: range is required")
	}
	from, to = cashflow.Day(from), cashflow.Day(to)
	if to.Before(from) {
		return res, fmt.Errorf("fx: range end %s before start %s", to.Format(cashflow.DateLayout), from.Format(cashflow.DateLayout))
	}
	if days := int(to.Sub(from).Hours()/24) + 1; days > MaxValidateDays {
		return res, fmt.Errorf("fx: range of %d days exceeds %d", days, MaxValidateDays)
	}
	res.From, res.To = from, to
	res.Available = make(map[string]cashflow.ExchangeRate)
	res.Gaps = make([]time.Time, 0)
	for day := from; !day.After(to); day = day.AddDate(0, 0, 1) {
		rate, err := provider.RateFor(ctx, day)
		res.Checked++
		if err != nil {
			if errors.Is(err, cashflow.ErrRateNotFound) {
				res.Gaps = append(res.Gaps, day)
				continue
			}
			return Result{}, err
		}
		res.Available[day.Format(cashflow.DateLayout)] = rate
	}
	return res, nil
}
