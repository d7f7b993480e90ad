package cashflow

import (
	"errors"
	"fmt"
	"math"

	"github.com/shopspring/decimal"
)

var (
	// ErrInvalidAmount indicates a non-finite or unparsable amount.
	ErrInvalidAmount = errors.New("cashflow: invalid amount")
	// ErrRateUnavailable indicates no exchange rate exists on or before the date.
	ErrRateUnavailable = errors.New("cashflow: exchange rate unavailable")
	// ErrRateNotFound is returned by providers when the exact date has no rate.
	ErrRateNotFound = errors.New("cashflow: exchange rate not found")
	// ErrUnknownConcept indicates a concept id missing from the catalog.
	ErrUnknownConcept = errors.New("cashflow: unknown concept")
	// ErrTaxConfigInvalid indicates an included concept outside the eligible set.
	ErrTaxConfigInvalid = errors.New("cashflow: tax config invalid")
	// ErrDerivedConcept indicates an edit against an engine-owned concept.
	ErrDerivedConcept = errors.New("cashflow: concept is derived and read-only")
	// ErrComputedLeg indicates an edit against the COP mirror of a dual-currency account.
	ErrComputedLeg = errors.New("cashflow: COP leg of a dual-currency account is computed")
	// ErrCurrencyMismatch indicates an amount submitted in a currency the account does not hold.
	ErrCurrencyMismatch = errors.New("cashflow: currency not held by account")
	// ErrAccountNotFound indicates a missing account.
	ErrAccountNotFound = errors.New("cashflow: account not found")
	// ErrNotFound indicates a missing transaction.
	ErrNotFound = errors.New("cashflow: not found")
)

// RecalcError reports a recompute failure after the raw change was saved.
type RecalcError struct {
	Key Key
	Err error
}

func (e *RecalcError) Error() string {
	return fmt.Sprintf("cashflow: recompute %s: %v", e.Key, e.Err)
}

func (e *RecalcError) Unwrap() error {
	return e.Err
}

// IsRecalcError reports whether err carries a recompute failure.
func IsRecalcError(err error) bool {
	var re *RecalcError
	return errors.As(err, &re)
}

// Stored amounts are NUMERIC(24, 6): six fractional digits and eighteen integer digits.
const (
	AmountScale     = 6
	amountIntDigits = 18
)

var amountLimit = decimal.New(1, amountIntDigits)

// CheckAmount rejects amounts the store would round or overflow.
func CheckAmount(d decimal.Decimal) error {
	if !d.Equal(d.Truncate(AmountScale)) {
		return fmt.Errorf("%w: %s has more than %d decimals", ErrInvalidAmount, d, AmountScale)
	}
	if d.Abs().GreaterThanOrEqual(amountLimit) {
		return fmt.Errorf("%w: %s exceeds %d integer digits", ErrInvalidAmount, d, amountIntDigits)
	}
	return nil
}

// AmountFromFloat converts a boundary float into a decimal, rejecting NaN and ±Inf.
func AmountFromFloat(f float64) (decimal.Decimal, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return decimal.Zero, ErrInvalidAmount
	}
	d := decimal.NewFromFloat(f)
	if err := CheckAmount(d); err != nil {
		return decimal.Zero, err
	}
	return d, nil
}

// ParseAmount parses a decimal string amount within the stored precision.
func ParseAmount(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
	}
	if err := CheckAmount(d); err != nil {
		return decimal.Zero, err
	}
	return d, nil
}
