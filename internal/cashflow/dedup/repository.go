// Package dedup collapses identical in-flight reads at the repository boundary.
package dedup

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/odyssey-erp/cashflow/internal/cashflow"
)

// Repository wraps a TransactionRepository so concurrent identical reads share one
// round trip. A write forgets the in-flight reads it touches, so a read issued after
// a write never joins a flight that started before it.
type Repository struct {
	cashflow.TransactionRepository
	group singleflight.Group
}

// Wrap returns a deduplicating repository.
func Wrap(inner cashflow.TransactionRepository) *Repository {
	return &Repository{TransactionRepository: inner}
}

type conceptRow struct {
	tx cashflow.Transaction
	ok bool
}

// Query shares in-flight area reads.
func (r *Repository) Query(ctx context.Context, date time.Time, area cashflow.Area) ([]cashflow.Transaction, error) {
	key := fmt.Sprintf("q:%s:%s", cashflow.Day(date).Format(cashflow.DateLayout), area)
	v, err, _ := r.do(ctx, key, func(ctx context.Context) (interface{}, error) {
		return r.TransactionRepository.Query(ctx, date, area)
	})
	if err != nil {
		return nil, err
	}
	return clone(v.([]cashflow.Transaction)), nil
}

// QueryAccount shares in-flight account reads.
func (r *Repository) QueryAccount(ctx context.Context, date time.Time, accountID int64) ([]cashflow.Transaction, error) {
	key := fmt.Sprintf("a:%s:%d", cashflow.Day(date).Format(cashflow.DateLayout), accountID)
	v, err, _ := r.do(ctx, key, func(ctx context.Context) (interface{}, error) {
		return r.TransactionRepository.QueryAccount(ctx, date, accountID)
	})
	if err != nil {
		return nil, err
	}
	return clone(v.([]cashflow.Transaction)), nil
}

// QueryByConceptAccount shares in-flight single-row reads.
func (r *Repository) QueryByConceptAccount(ctx context.Context, date time.Time, conceptID, accountID int64) (cashflow.Transaction, bool, error) {
	key := fmt.Sprintf("c:%s:%d:%d", cashflow.Day(date).Format(cashflow.DateLayout), conceptID, accountID)
	v, err, _ := r.do(ctx, key, func(ctx context.Context) (interface{}, error) {
		tx, ok, err := r.TransactionRepository.QueryByConceptAccount(ctx, date, conceptID, accountID)
		return conceptRow{tx: tx, ok: ok}, err
	})
	if err != nil {
		return cashflow.Transaction{}, false, err
	}
	row := v.(conceptRow)
	return row.tx, row.ok, nil
}

// Upsert writes through and forgets reads of the touched key.
func (r *Repository) Upsert(ctx context.Context, params cashflow.UpsertParams) (cashflow.Transaction, error) {
	defer r.forget(params.Date, params.ConceptID, params.Key().AccountID)
	return r.TransactionRepository.Upsert(ctx, params)
}

// Delete writes through and forgets reads of the touched key.
func (r *Repository) Delete(ctx context.Context, date time.Time, conceptID, accountID int64) error {
	defer r.forget(date, conceptID, accountID)
	return r.TransactionRepository.Delete(ctx, date, conceptID, accountID)
}

func (r *Repository) forget(date time.Time, conceptID, accountID int64) {
	day := cashflow.Day(date).Format(cashflow.DateLayout)
	r.group.Forget(fmt.Sprintf("a:%s:%d", day, accountID))
	r.group.Forget(fmt.Sprintf("c:%s:%d:%d", day, conceptID, accountID))
	for _, area := range []cashflow.Area{cashflow.AreaTreasury, cashflow.AreaPayroll, cashflow.AreaBoth} {
		r.group.Forget(fmt.Sprintf("q:%s:%s", day, area))
	}
}

func (r *Repository) do(ctx context.Context, key string, fn func(context.Context) (interface{}, error)) (interface{}, error, bool) {
	resultChan := r.group.DoChan(key, func() (interface{}, error) {
		return fn(ctx)
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err(), false
	case res := <-resultChan:
		return res.Val, res.Err, res.Shared
	}
}

// clone gives every caller its own slice so shared results are never aliased.
func clone(rows []cashflow.Transaction) []cashflow.Transaction {
	if rows == nil {
		return nil
	}
	return append([]cashflow.Transaction(nil), rows...)
}
