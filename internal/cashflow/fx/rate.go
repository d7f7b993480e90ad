// Package fx resolves daily TRM rates and converts statement amounts between the
// native and display currency of an account.
package fx

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/odyssey-erp/cashflow/internal/cashflow"
)

// DefaultLookbackDays bounds the day-by-day fallback walk for providers that cannot
// answer "on or before" queries.
const DefaultLookbackDays = 31

// Resolver resolves the rate effective on a date.
type Resolver struct {
	provider cashflow.ExchangeRateProvider
	lookback int
}

// NewResolver constructs a resolver. A non-positive lookback uses DefaultLookbackDays.
func NewResolver(provider cashflow.ExchangeRateProvider, lookback int) *Resolver {
	if lookback <= 0 {
		lookback = DefaultLookbackDays
	}
	return &Resolver{provider: provider, lookback: lookback}
}

// ResolveRate returns the rate of date, falling back to the most recent earlier date.
// ErrRateUnavailable is returned only when no usable rate exists.
func (r *Resolver) ResolveRate(ctx context.Context, date time.Time) (cashflow.ExchangeRate, error) {
	if r == nil || r.provider == nil {
		return cashflow.ExchangeRate{}, fmt.Errorf("fx: rate provider required")
	}
	day := cashflow.Day(date)
	if earlier, ok := r.provider.(cashflow.EarlierRateProvider); ok {
		rate, err := earlier.RateOnOrBefore(ctx, day)
		if err != nil {
			if errors.Is(err, cashflow.ErrRateNotFound) {
				return cashflow.ExchangeRate{}, fmt.Errorf("%w: none on or before %s", cashflow.ErrRateUnavailable, day.Format(cashflow.DateLayout))
			}
			return cashflow.ExchangeRate{}, err
		}
		return checkRate(rate)
	}
	for i := 0; i <= r.lookback; i++ {
		candidate := day.AddDate(0, 0, -i)
		rate, err := r.provider.RateFor(ctx, candidate)
		if err == nil {
			return checkRate(rate)
		}
		if !errors.Is(err, cashflow.ErrRateNotFound) {
			return cashflow.ExchangeRate{}, err
		}
	}
	return cashflow.ExchangeRate{}, fmt.Errorf("%w: none within %d days before %s", cashflow.ErrRateUnavailable, r.lookback, day.Format(cashflow.DateLayout))
}

func checkRate(rate cashflow.ExchangeRate) (cashflow.ExchangeRate, error) {
	if !rate.Value.IsPositive() {
		return cashflow.ExchangeRate{}, fmt.Errorf("%w: non-positive rate %s on %s", cashflow.ErrRateUnavailable, rate.Value, rate.Date.Format(cashflow.DateLayout))
	}
	return rate, nil
}
