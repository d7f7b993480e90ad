package cashflow

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// UpsertParams carries one write keyed by (date, concept, account).
type UpsertParams struct {
	Date      time.Time
	ConceptID int64
	AccountID *int64
	Amount    decimal.Decimal
	Area      Area
}

// Key returns the recompute key touched by the write.
func (p UpsertParams) Key() Key {
	var account int64
	if p.AccountID != nil {
		account = *p.AccountID
	}
	return NewKey(p.Date, account)
}

// TransactionRepository persists raw and derived transactions.
type TransactionRepository interface {
	Upsert(ctx context.Context, params UpsertParams) (Transaction, error)
	Query(ctx context.Context, date time.Time, area Area) ([]Transaction, error)
	QueryAccount(ctx context.Context, date time.Time, accountID int64) ([]Transaction, error)
	QueryByConceptAccount(ctx context.Context, date time.Time, conceptID, accountID int64) (Transaction, bool, error)
	Delete(ctx context.Context, date time.Time, conceptID, accountID int64) error
}

// ExchangeRate is the COP per USD reference rate (TRM) for a calendar date.
type ExchangeRate struct {
	Date  time.Time
	Value decimal.Decimal
}

// ExchangeRateProvider looks up the exact rate of a date. It returns ErrRateNotFound
// when the date has no rate.
type ExchangeRateProvider interface {
	RateFor(ctx context.Context, date time.Time) (ExchangeRate, error)
}

// EarlierRateProvider answers "latest rate on or before date" in one round trip.
type EarlierRateProvider interface {
	RateOnOrBefore(ctx context.Context, date time.Time) (ExchangeRate, error)
}

// TaxConfig is one effective-dated 4x1000 inclusion set for an account.
type TaxConfig struct {
	AccountID          int64
	IncludedConceptIDs []int64
	EffectiveFrom      time.Time
	CreatedAt          time.Time
}

// Includes reports whether conceptID participates in the tax base.
func (c TaxConfig) Includes(conceptID int64) bool {
	for _, id := range c.IncludedConceptIDs {
		if id == conceptID {
			return true
		}
	}
	return false
}

// TaxConfigStore persists effective-dated tax configurations.
type TaxConfigStore interface {
	// Get returns the configuration effective on date. ok is false when the account
	// has no configuration on or before date.
	Get(ctx context.Context, accountID int64, date time.Time) (cfg TaxConfig, ok bool, err error)
	Save(ctx context.Context, cfg TaxConfig) error
}

// ChangeNotifier publishes recompute summaries to the transport layer.
type ChangeNotifier interface {
	Publish(ctx context.Context, event RecalcEvent) error
}

// AccountDirectory resolves bank accounts.
type AccountDirectory interface {
	Get(ctx context.Context, id int64) (Account, error)
	ListByCompany(ctx context.Context, companyID int64) ([]Account, error)
	ListAll(ctx context.Context) ([]Account, error)
}
