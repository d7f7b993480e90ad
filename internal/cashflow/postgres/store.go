// Package postgres implements the cash-flow ports on PostgreSQL.
package postgres

import (
	"context"
	_ "embed"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/cashflow/internal/platform/db"
)

//go:embed schema.sql
var schema string

// ErrRateExists indicates a second rate for a date that already has one.
var ErrRateExists = errors.New("postgres: exchange rate already recorded")

type dbtx interface {
	Exec(context.Context, string, ...interface{}) (pgconn.CommandTag, error)
	Query(context.Context, string, ...interface{}) (pgx.Rows, error)
	QueryRow(context.Context, string, ...interface{}) pgx.Row
}

// Store implements every cash-flow port over one pool.
type Store struct {
	db   dbtx
	pool *pgxpool.Pool
}

// New constructs a store.
func New(pool *pgxpool.Pool) *Store {
	return &Store{db: pool, pool: pool}
}

// WithTx runs fn against a store bound to a repeatable-read transaction.
func (s *Store) WithTx(ctx context.Context, fn func(context.Context, *Store) error) error {
	return db.WithTx(ctx, s.pool, func(tx pgx.Tx) error {
		return fn(ctx, &Store{db: tx, pool: s.pool})
	})
}

// Migrate applies the schema in one transaction. Statements are idempotent.
func (s *Store) Migrate(ctx context.Context) error {
	return s.WithTx(ctx, func(ctx context.Context, tx *Store) error {
		if _, err := tx.db.Exec(ctx, schema); err != nil {
			return fmt.Errorf("postgres: migrate: %w", err)
		}
		return nil
	})
}

// Ping checks connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func parseNumeric(raw string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("postgres: numeric %q: %w", raw, err)
	}
	return d, nil
}
