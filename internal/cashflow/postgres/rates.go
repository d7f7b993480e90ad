package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/odyssey-erp/cashflow/internal/cashflow"
)

// RateFor returns the rate recorded for exactly date.
func (s *Store) RateFor(ctx context.Context, date time.Time) (cashflow.ExchangeRate, error) {
	return s.rate(ctx, `SELECT rate_date, value::text FROM cashflow_exchange_rates WHERE rate_date = $1`, date)
}

// RateOnOrBefore returns the latest rate recorded on or before date.
func (s *Store) RateOnOrBefore(ctx context.Context, date time.Time) (cashflow.ExchangeRate, error) {
	return s.rate(ctx, `
		SELECT rate_date, value::text FROM cashflow_exchange_rates
		WHERE rate_date <= $1
		ORDER BY rate_date DESC
		LIMIT 1`, date)
}

// InsertRate records the rate of a date. Rates are append-only.
func (s *Store) InsertRate(ctx context.Context, rate cashflow.ExchangeRate) error {
	if !rate.Value.IsPositive() {
		return fmt.Errorf("postgres: rate for %s must be positive", rate.Date.Format(cashflow.DateLayout))
	}
	_, err := s.db.Exec(ctx, `INSERT INTO cashflow_exchange_rates (rate_date, value) VALUES ($1, $2::numeric)`,
		cashflow.Day(rate.Date), rate.Value.String())
	if isUniqueViolation(err) {
		return ErrRateExists
	}
	return err
}

func (s *Store) rate(ctx context.Context, query string, date time.Time) (cashflow.ExchangeRate, error) {
	var (
		rate  cashflow.ExchangeRate
		value string
	)
	err := s.db.QueryRow(ctx, query, cashflow.Day(date)).Scan(&rate.Date, &value)
	if errors.Is(err, pgx.ErrNoRows) {
		return cashflow.ExchangeRate{}, cashflow.ErrRateNotFound
	}
	if err != nil {
		return cashflow.ExchangeRate{}, err
	}
	rate.Date = cashflow.Day(rate.Date)
	rate.Value, err = parseNumeric(value)
	return rate, err
}
