package dedup

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/cashflow/internal/cashflow"
	"github.com/odyssey-erp/cashflow/internal/cashflow/memstore"
)

var day = time.Date(2025, 1, 20, 0, 0, 0, 0, time.UTC)

type slowRepo struct {
	*memstore.Transactions
	gate  chan struct{}
	calls atomic.Int32
}

func (r *slowRepo) QueryAccount(ctx context.Context, date time.Time, accountID int64) ([]cashflow.Transaction, error) {
	r.calls.Add(1)
	<-r.gate
	return r.Transactions.QueryAccount(ctx, date, accountID)
}

func TestConcurrentReadsShareOneCall(t *testing.T) {
	inner := &slowRepo{Transactions: memstore.NewTransactions(), gate: make(chan struct{})}
	_, err := inner.Upsert(context.Background(), cashflow.UpsertParams{Date: day, ConceptID: 10, AccountID: cashflow.Int64Ptr(4), Amount: decimal.NewFromInt(5), Area: cashflow.AreaTreasury})
	require.NoError(t, err)
	repo := Wrap(inner)

	var (
		wg      sync.WaitGroup
		started atomic.Int32
	)
	results := make([][]cashflow.Transaction, 5)
	for i := range results {
		wg.Add(1)
		go func() {
			defer wg.Done()
			started.Add(1)
			rows, err := repo.QueryAccount(context.Background(), day, 4)
			assert.NoError(t, err)
			results[i] = rows
		}()
	}
	require.Eventually(t, func() bool { return started.Load() == 5 && inner.calls.Load() == 1 }, time.Second, time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	close(inner.gate)
	wg.Wait()

	for _, rows := range results {
		require.Len(t, rows, 1)
	}
	assert.Equal(t, int32(1), inner.calls.Load())
	results[0][0].ConceptID = 99
	assert.Equal(t, int64(10), results[1][0].ConceptID, "callers do not share slices")
}

func TestReadAfterWriteStartsNewCall(t *testing.T) {
	inner := &slowRepo{Transactions: memstore.NewTransactions(), gate: make(chan struct{})}
	repo := Wrap(inner)
	ctx := context.Background()

	before := make(chan []cashflow.Transaction, 1)
	go func() {
		rows, err := repo.QueryAccount(ctx, day, 4)
		assert.NoError(t, err)
		before <- rows
	}()
	require.Eventually(t, func() bool { return inner.calls.Load() == 1 }, time.Second, time.Millisecond)

	_, err := repo.Upsert(ctx, cashflow.UpsertParams{Date: day, ConceptID: 10, AccountID: cashflow.Int64Ptr(4), Amount: decimal.NewFromInt(500), Area: cashflow.AreaTreasury})
	require.NoError(t, err)

	after := make(chan []cashflow.Transaction, 1)
	go func() {
		rows, err := repo.QueryAccount(ctx, day, 4)
		assert.NoError(t, err)
		after <- rows
	}()
	require.Eventually(t, func() bool { return inner.calls.Load() == 2 }, time.Second, time.Millisecond,
		"a read issued after the write must not join the earlier flight")
	close(inner.gate)

	rows := <-after
	require.Len(t, rows, 1)
	assert.True(t, rows[0].Amount.Equal(decimal.NewFromInt(500)))
	<-before
}

func TestReadHonoursContext(t *testing.T) {
	inner := &slowRepo{Transactions: memstore.NewTransactions(), gate: make(chan struct{})}
	repo := Wrap(inner)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := repo.QueryAccount(ctx, day, 1)
	require.ErrorIs(t, err, context.Canceled)
	close(inner.gate)
}

func TestSingleRowAndWritesPassThrough(t *testing.T) {
	repo := Wrap(memstore.NewTransactions())
	ctx := context.Background()
	_, err := repo.Upsert(ctx, cashflow.UpsertParams{Date: day, ConceptID: 51, AccountID: cashflow.Int64Ptr(2), Amount: decimal.NewFromInt(8), Area: cashflow.AreaBoth})
	require.NoError(t, err)

	tx, ok, err := repo.QueryByConceptAccount(ctx, day, 51, 2)
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, tx.Amount.Equal(decimal.NewFromInt(8)))

	_, ok, err = repo.QueryByConceptAccount(ctx, day, 51, 3)
	require.NoError(t, err)
	assert.False(t, ok)

	rows, err := repo.Query(ctx, day, cashflow.AreaTreasury)
	require.NoError(t, err)
	assert.Len(t, rows, 1, "ambas rows are visible from treasury")
}
