package carry

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/cashflow/internal/cashflow"
	"github.com/odyssey-erp/cashflow/internal/cashflow/memstore"
)

const closing = int64(51)

func TestOpeningBalanceReadsPriorDayClosing(t *testing.T) {
	ctx := context.Background()
	repo := memstore.NewTransactions()
	d := time.Date(2025, 4, 10, 0, 0, 0, 0, time.UTC)
	_, err := repo.Upsert(ctx, cashflow.UpsertParams{Date: d.AddDate(0, 0, -1), ConceptID: closing, AccountID: cashflow.Int64Ptr(9), Amount: decimal.NewFromInt(1000000), Area: cashflow.AreaBoth})
	require.NoError(t, err)

	got, err := NewResolver(repo, closing).OpeningBalance(ctx, d, 9)
	require.NoError(t, err)
	assert.True(t, got.Equal(decimal.NewFromInt(1000000)))
}

func TestOpeningBalanceIsSingleDayLookback(t *testing.T) {
	ctx := context.Background()
	repo := memstore.NewTransactions()
	d := time.Date(2025, 4, 10, 0, 0, 0, 0, time.UTC)
	_, err := repo.Upsert(ctx, cashflow.UpsertParams{Date: d.AddDate(0, 0, -2), ConceptID: closing, AccountID: cashflow.Int64Ptr(9), Amount: decimal.NewFromInt(500), Area: cashflow.AreaBoth})
	require.NoError(t, err)

	got, err := NewResolver(repo, closing).OpeningBalance(ctx, d, 9)
	require.NoError(t, err)
	assert.True(t, got.IsZero(), "two days back must not be consulted")
	assert.Equal(t, 1, repo.Calls["QueryByConceptAccount"])
}

func TestOpeningBalanceOtherAccountIgnored(t *testing.T) {
	ctx := context.Background()
	repo := memstore.NewTransactions()
	d := time.Date(2025, 4, 10, 0, 0, 0, 0, time.UTC)
	_, err := repo.Upsert(ctx, cashflow.UpsertParams{Date: d.AddDate(0, 0, -1), ConceptID: closing, AccountID: cashflow.Int64Ptr(8), Amount: decimal.NewFromInt(500), Area: cashflow.AreaBoth})
	require.NoError(t, err)

	got, err := NewResolver(repo, closing).OpeningBalance(ctx, d, 9)
	require.NoError(t, err)
	assert.True(t, got.IsZero())
}
