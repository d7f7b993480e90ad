// Package carry resolves an account's opening balance from the prior day.
package carry

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/cashflow/internal/cashflow"
)

// Reader is the slice of the transaction repository the resolver needs.
type Reader interface {
	QueryByConceptAccount(ctx context.Context, date time.Time, conceptID, accountID int64) (cashflow.Transaction, bool, error)
}

// Resolver reads persisted closing balances.
type Resolver struct {
	reader         Reader
	closingConcept int64
}

// NewResolver builds a resolver over the concept holding SALDO FINAL CUENTAS.
func NewResolver(reader Reader, closingConcept int64) *Resolver {
	return &Resolver{reader: reader, closingConcept: closingConcept}
}

// OpeningBalance returns the closing balance persisted for the day before date, or
// zero when none exists. It never looks further back than one day: earlier history
// is already folded into that row.
func (r *Resolver) OpeningBalance(ctx context.Context, date time.Time, accountID int64) (decimal.Decimal, error) {
	prior := cashflow.Day(date).AddDate(0, 0, -1)
	return r.ClosingBalance(ctx, prior, accountID)
}

// ClosingBalance returns the persisted closing balance of date, or zero.
func (r *Resolver) ClosingBalance(ctx context.Context, date time.Time, accountID int64) (decimal.Decimal, error) {
	tx, ok, err := r.reader.QueryByConceptAccount(ctx, cashflow.Day(date), r.closingConcept, accountID)
	if err != nil {
		return decimal.Zero, err
	}
	if !ok {
		return decimal.Zero, nil
	}
	return tx.Amount, nil
}
