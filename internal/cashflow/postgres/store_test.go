package postgres

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/cashflow/internal/cashflow"
	"github.com/odyssey-erp/cashflow/internal/platform/db"
)

type fakeRow []any

func (r fakeRow) Scan(dest ...any) error {
	if len(dest) != len(r) {
		return fmt.Errorf("scan: want %d columns, got %d", len(r), len(dest))
	}
	for i, v := range r {
		switch d := dest[i].(type) {
		case *int64:
			*d = v.(int64)
		case **int64:
			*d = v.(*int64)
		case *string:
			*d = v.(string)
		case *time.Time:
			*d = v.(time.Time)
		case *[]string:
			*d = v.([]string)
		default:
			return fmt.Errorf("scan: unsupported destination %T", d)
		}
	}
	return nil
}

func TestScanTransaction(t *testing.T) {
	at := time.Date(2025, 5, 2, 15, 4, 0, 0, time.FixedZone("COT", -5*3600))
	tx, err := scanTransaction(fakeRow{int64(9), at, int64(12), cashflow.Int64Ptr(3), "-1250.500000", "tesoreria", at})
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 5, 2, 0, 0, 0, 0, time.UTC), tx.Date)
	assert.Equal(t, int64(3), tx.Account())
	assert.True(t, tx.Amount.Equal(decimal.RequireFromString("-1250.5")))
	assert.Equal(t, cashflow.AreaTreasury, tx.Area)

	_, err = scanTransaction(fakeRow{int64(9), at, int64(12), (*int64)(nil), "abc", "tesoreria", at})
	require.Error(t, err)
}

func TestScanAccount(t *testing.T) {
	a, err := scanAccount(fakeRow{int64(4), int64(1), int64(2), "Mixta", []string{"USD", "COP"}})
	require.NoError(t, err)
	assert.True(t, a.DualCurrency())
	assert.Equal(t, cashflow.USD, a.NativeCurrency())
}

func TestIsUniqueViolation(t *testing.T) {
	assert.True(t, isUniqueViolation(fmt.Errorf("wrap: %w", &pgconn.PgError{Code: "23505"})))
	assert.False(t, isUniqueViolation(&pgconn.PgError{Code: "23503"}))
	assert.False(t, isUniqueViolation(errors.New("other")))
}

func TestStoreAgainstDatabase(t *testing.T) {
	dsn := os.Getenv("CASHFLOW_TEST_PG_DSN")
	if dsn == "" {
		t.Skip("CASHFLOW_TEST_PG_DSN not set")
	}
	ctx := context.Background()
	pool, err := db.New(ctx, dsn, db.PoolOptions{})
	require.NoError(t, err)
	defer pool.Close()
	store := New(pool)
	require.NoError(t, store.Migrate(ctx))

	err = store.WithTx(ctx, func(ctx context.Context, tx *Store) error {
		var accountID int64
		if err := tx.db.QueryRow(ctx, `INSERT INTO cashflow_accounts (company_id, bank_id, name, currencies) VALUES (1, 1, 'it', ARRAY['COP']) RETURNING id`).Scan(&accountID); err != nil {
			return err
		}
		day := time.Date(2031, 1, 2, 0, 0, 0, 0, time.UTC)
		params := cashflow.UpsertParams{Date: day, ConceptID: 10, AccountID: &accountID, Amount: decimal.NewFromInt(40), Area: cashflow.AreaTreasury}
		first, err := tx.Upsert(ctx, params)
		require.NoError(t, err)
		params.Amount = decimal.NewFromInt(45)
		second, err := tx.Upsert(ctx, params)
		require.NoError(t, err)
		assert.Equal(t, first.ID, second.ID, "same key updates in place")

		rows, err := tx.QueryAccount(ctx, day, accountID)
		require.NoError(t, err)
		require.Len(t, rows, 1)
		assert.True(t, rows[0].Amount.Equal(decimal.NewFromInt(45)))

		require.NoError(t, tx.Delete(ctx, day, 10, accountID))
		require.ErrorIs(t, tx.Delete(ctx, day, 10, accountID), cashflow.ErrNotFound)

		require.NoError(t, tx.InsertRate(ctx, cashflow.ExchangeRate{Date: day, Value: decimal.NewFromInt(4100)}))
		require.ErrorIs(t, tx.InsertRate(ctx, cashflow.ExchangeRate{Date: day, Value: decimal.NewFromInt(4200)}), ErrRateExists)
		rate, err := tx.RateOnOrBefore(ctx, day.AddDate(0, 0, 3))
		require.NoError(t, err)
		assert.Equal(t, day, rate.Date)
		_, err = tx.RateFor(ctx, day.AddDate(0, 0, 3))
		require.ErrorIs(t, err, cashflow.ErrRateNotFound)

		require.NoError(t, tx.TaxConfigs().Save(ctx, cashflow.TaxConfig{AccountID: accountID, IncludedConceptIDs: []int64{68}, EffectiveFrom: day, CreatedAt: time.Now()}))
		cfg, ok, err := tx.TaxConfigs().Get(ctx, accountID, day.AddDate(0, 0, 1))
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, []int64{68}, cfg.IncludedConceptIDs)
		return errors.New("rollback")
	})
	require.EqualError(t, err, "rollback")
}
