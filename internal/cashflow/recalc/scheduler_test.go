package recalc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/cashflow/internal/cashflow"
	"github.com/odyssey-erp/cashflow/internal/cashflow/concepts"
	"github.com/odyssey-erp/cashflow/internal/cashflow/dedup"
	"github.com/odyssey-erp/cashflow/internal/cashflow/memstore"
	"github.com/odyssey-erp/cashflow/internal/cashflow/tax"
	"github.com/odyssey-erp/cashflow/internal/platform/cache"
)

const (
	conceptOpening    = 1
	conceptNetPayroll = 2
	conceptConsumo    = 3
	conceptVentanilla = 4
	conceptAjustes    = 5
	conceptRecaudos   = 10
	conceptGastos     = 12
	conceptTraslados  = 13
	conceptSubtotal   = 50
	conceptClosing    = 51
	conceptTax        = 52
	conceptVentas     = 68
)

var (
	day1 = time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)
	day2 = day1.AddDate(0, 0, 1)
	day3 = day1.AddDate(0, 0, 2)

	pesos   = cashflow.Account{ID: 7, CompanyID: 1, BankID: 1, Name: "Bancolombia 7", Currencies: []cashflow.Currency{cashflow.COP}}
	dollars = cashflow.Account{ID: 8, CompanyID: 1, BankID: 2, Name: "Davivienda USD", Currencies: []cashflow.Currency{cashflow.USD}}
	dual    = cashflow.Account{ID: 9, CompanyID: 2, BankID: 2, Name: "Davivienda mixta", Currencies: []cashflow.Currency{cashflow.USD, cashflow.COP}}
)

type fixture struct {
	scheduler *Scheduler
	repo      *memstore.Transactions
	taxes     *memstore.TaxConfigs
	notifier  *memstore.Notifier
}

func newFixture(t *testing.T, opts Options) fixture {
	t.Helper()
	return newFixtureWithRepo(t, memstore.NewTransactions(), opts)
}

func newFixtureWithRepo(t *testing.T, repo cashflow.TransactionRepository, opts Options) fixture {
	t.Helper()
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	taxes := memstore.NewTaxConfigs()
	notifier := &memstore.Notifier{}
	s := New(repo, memstore.NewAccounts(pesos, dollars, dual), taxes, notifier, concepts.Default(), opts)
	seq := 0
	s.newID = func() string {
		seq++
		return fmt.Sprintf("evt-%d", seq)
	}
	s.now = func() time.Time { return day3 }
	mem, _ := repo.(*memstore.Transactions)
	return fixture{scheduler: s, repo: mem, taxes: taxes, notifier: notifier}
}

func (f fixture) upsert(t *testing.T, date time.Time, concept, account, amount int64) Outcome {
	t.Helper()
	out, err := f.scheduler.Upsert(context.Background(), UpsertInput{
		Date:      date,
		ConceptID: concept,
		AccountID: account,
		Amount:    decimal.NewFromInt(amount),
	})
	require.NoError(t, err)
	return out
}

func (f fixture) amount(t *testing.T, date time.Time, concept, account int64) decimal.Decimal {
	t.Helper()
	tx, ok, err := f.repo.QueryByConceptAccount(context.Background(), date, concept, account)
	require.NoError(t, err)
	require.True(t, ok, "missing concept %d on %s", concept, date.Format(cashflow.DateLayout))
	return tx.Amount
}

func assertAmount(t *testing.T, want int64, got decimal.Decimal, msg string) {
	t.Helper()
	assert.True(t, got.Equal(decimal.NewFromInt(want)), "%s: want %d got %s", msg, want, got)
}

func TestUpsertScenarioA(t *testing.T) {
	f := newFixture(t, Options{ForwardDays: DefaultForwardDays})
	ctx := context.Background()
	_, err := f.repo.Upsert(ctx, cashflow.UpsertParams{
		Date: day1, ConceptID: conceptClosing, AccountID: cashflow.Int64Ptr(pesos.ID),
		Amount: decimal.NewFromInt(1000000), Area: cashflow.AreaBoth,
	})
	require.NoError(t, err)

	out := f.upsert(t, day2, conceptConsumo, pesos.ID, 50000)
	assert.Equal(t, []int64{conceptNetPayroll, conceptClosing}, out.Event.ConceptIDs)
	assert.Equal(t, 2, out.Event.DependentCount)
	assert.Equal(t, int64(conceptConsumo), out.Event.ConceptID)
	assert.Equal(t, "2025-03-11", out.Event.Date)
	assertAmount(t, 50000, out.Transaction.Amount, "raw amount stored as entered")

	f.upsert(t, day2, conceptVentanilla, pesos.ID, 20000)
	f.upsert(t, day2, conceptRecaudos, pesos.ID, 250000)
	out = f.upsert(t, day2, conceptGastos, pesos.ID, 50000)
	assert.Equal(t, []int64{conceptSubtotal, conceptClosing}, out.Event.ConceptIDs)

	assertAmount(t, 1000000, f.amount(t, day2, conceptOpening, pesos.ID), "opening")
	assertAmount(t, 930000, f.amount(t, day2, conceptNetPayroll, pesos.ID), "net payroll opening")
	assertAmount(t, 200000, f.amount(t, day2, conceptSubtotal, pesos.ID), "subtotal")
	assertAmount(t, 1130000, f.amount(t, day2, conceptClosing, pesos.ID), "closing")

	_, err = f.scheduler.RecomputeKey(ctx, cashflow.NewKey(day3, pesos.ID))
	require.NoError(t, err)
	assertAmount(t, 1130000, f.amount(t, day3, conceptOpening, pesos.ID), "next opening")

	assert.Len(t, f.notifier.Events(), 5, "one event per mutation")
}

func TestUpsertRejections(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	cases := []struct {
		name string
		in   UpsertInput
		want error
	}{
		{"derived", UpsertInput{Date: day1, ConceptID: conceptClosing, AccountID: pesos.ID}, cashflow.ErrDerivedConcept},
		{"unknown concept", UpsertInput{Date: day1, ConceptID: 999, AccountID: pesos.ID}, cashflow.ErrUnknownConcept},
		{"unknown account", UpsertInput{Date: day1, ConceptID: conceptRecaudos, AccountID: 404}, cashflow.ErrAccountNotFound},
		{"computed leg", UpsertInput{Date: day1, ConceptID: conceptRecaudos, AccountID: dual.ID, Currency: cashflow.COP}, cashflow.ErrComputedLeg},
		{"currency mismatch", UpsertInput{Date: day1, ConceptID: conceptRecaudos, AccountID: pesos.ID, Currency: cashflow.USD}, cashflow.ErrCurrencyMismatch},
		{"over scale", UpsertInput{Date: day1, ConceptID: conceptRecaudos, AccountID: pesos.ID, Amount: decimal.RequireFromString("10.1234567")}, cashflow.ErrInvalidAmount},
		{"over range", UpsertInput{Date: day1, ConceptID: conceptRecaudos, AccountID: pesos.ID, Amount: decimal.RequireFromString("1000000000000000000")}, cashflow.ErrInvalidAmount},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.scheduler.Upsert(ctx, tc.in)
			require.ErrorIs(t, err, tc.want)
			assert.False(t, cashflow.IsRecalcError(err))
		})
	}
	assert.Zero(t, f.repo.Len())
	assert.Empty(t, f.notifier.Events())
}

func TestUSDLegAcceptedOnDualAccount(t *testing.T) {
	f := newFixture(t, Options{})
	_, err := f.scheduler.Upsert(context.Background(), UpsertInput{
		Date: day1, ConceptID: conceptRecaudos, AccountID: dual.ID,
		Amount: decimal.NewFromInt(15), Currency: cashflow.USD,
	})
	require.NoError(t, err)
	assertAmount(t, 15, f.amount(t, day1, conceptClosing, dual.ID), "closing in USD")
}

func TestConceptWithoutDependentsSkipsAggregation(t *testing.T) {
	f := newFixture(t, Options{})
	out := f.upsert(t, day1, conceptAjustes, pesos.ID, -40)
	assert.Zero(t, out.Event.DependentCount)
	_, ok, err := f.repo.QueryByConceptAccount(context.Background(), day1, conceptClosing, pesos.ID)
	require.NoError(t, err)
	assert.False(t, ok)
}

func seedThreeDays(t *testing.T, f fixture) {
	t.Helper()
	f.upsert(t, day1, conceptRecaudos, pesos.ID, 100)
	f.upsert(t, day2, conceptRecaudos, pesos.ID, 50)
	f.upsert(t, day3, conceptGastos, pesos.ID, 10)
	assertAmount(t, 140, f.amount(t, day3, conceptClosing, pesos.ID), "seeded closing")
}

func TestCascadeForward(t *testing.T) {
	f := newFixture(t, Options{ForwardDays: DefaultForwardDays})
	seedThreeDays(t, f)

	out := f.upsert(t, day1, conceptRecaudos, pesos.ID, 300)

	assertAmount(t, 300, f.amount(t, day2, conceptOpening, pesos.ID), "day2 opening")
	assertAmount(t, 350, f.amount(t, day2, conceptClosing, pesos.ID), "day2 closing")
	assertAmount(t, 350, f.amount(t, day3, conceptOpening, pesos.ID), "day3 opening")
	assertAmount(t, 340, f.amount(t, day3, conceptClosing, pesos.ID), "day3 closing")
	assert.Equal(t, 2+4+4, out.Event.DependentCount)
}

func TestCascadeStopsWhenClosingUnchanged(t *testing.T) {
	f := newFixture(t, Options{ForwardDays: DefaultForwardDays})
	seedThreeDays(t, f)

	out := f.upsert(t, day1, conceptTraslados, pesos.ID, 0)
	assert.Equal(t, 2, out.Event.DependentCount)
	assertAmount(t, 140, f.amount(t, day3, conceptClosing, pesos.ID), "day3 untouched")
}

func TestCascadeRespectsForwardLimit(t *testing.T) {
	f := newFixture(t, Options{ForwardDays: 1})
	seedThreeDays(t, f)

	f.upsert(t, day1, conceptRecaudos, pesos.ID, 300)
	assertAmount(t, 350, f.amount(t, day2, conceptClosing, pesos.ID), "day2 follows")
	assertAmount(t, 150, f.amount(t, day3, conceptOpening, pesos.ID), "day3 beyond the limit")
}

func TestDeleteRecomputes(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	f.upsert(t, day1, conceptRecaudos, pesos.ID, 100)
	f.upsert(t, day1, conceptGastos, pesos.ID, 30)

	_, err := f.scheduler.Delete(ctx, day1, conceptGastos, pesos.ID)
	require.NoError(t, err)
	assertAmount(t, 100, f.amount(t, day1, conceptClosing, pesos.ID), "closing after delete")

	_, err = f.scheduler.Delete(ctx, day1, conceptGastos, pesos.ID)
	require.ErrorIs(t, err, cashflow.ErrNotFound)
	_, err = f.scheduler.Delete(ctx, day1, conceptSubtotal, pesos.ID)
	require.ErrorIs(t, err, cashflow.ErrDerivedConcept)
}

func TestRecomputeFailureKeepsRawSave(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	f.repo.FailUpsert[conceptSubtotal] = errors.New("db down")

	_, err := f.scheduler.Upsert(ctx, UpsertInput{Date: day1, ConceptID: conceptRecaudos, AccountID: pesos.ID, Amount: decimal.NewFromInt(75)})
	require.Error(t, err)
	require.True(t, cashflow.IsRecalcError(err))
	var re *cashflow.RecalcError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, cashflow.NewKey(day1, pesos.ID), re.Key)
	assertAmount(t, 75, f.amount(t, day1, conceptRecaudos, pesos.ID), "raw save is durable")

	delete(f.repo.FailUpsert, conceptSubtotal)
	_, err = f.scheduler.RecomputeKey(ctx, cashflow.NewKey(day1, pesos.ID))
	require.NoError(t, err)
	assertAmount(t, 75, f.amount(t, day1, conceptClosing, pesos.ID), "retry converges")
}

func TestTaxInputsTriggerTaxRecompute(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	_, _, err := f.scheduler.SaveTaxConfig(ctx, tax.SaveInput{AccountID: pesos.ID, IncludedConceptIDs: []int64{conceptVentas}, EffectiveFrom: day1})
	require.NoError(t, err)

	out := f.upsert(t, day1, conceptVentas, pesos.ID, 1000)
	assert.Equal(t, []int64{conceptSubtotal, conceptClosing, conceptTax}, out.Event.ConceptIDs)
	assertAmount(t, 1000, f.amount(t, day1, conceptTax, pesos.ID), "tax aggregate")
	assertAmount(t, 1000, f.amount(t, day1, conceptClosing, pesos.ID), "tax aggregate stays out of the subtotal")

	out = f.upsert(t, day1, conceptGastos, pesos.ID, 10)
	assert.NotContains(t, out.Event.ConceptIDs, int64(conceptTax))
}

func TestSaveTaxConfigRecomputesForward(t *testing.T) {
	f := newFixture(t, Options{ForwardDays: DefaultForwardDays})
	ctx := context.Background()
	f.upsert(t, day1, conceptVentas, pesos.ID, 400)
	f.upsert(t, day2, conceptVentas, pesos.ID, 600)

	cfg, out, err := f.scheduler.SaveTaxConfig(ctx, tax.SaveInput{AccountID: pesos.ID, IncludedConceptIDs: []int64{conceptVentas}, EffectiveFrom: day1})
	require.NoError(t, err)
	assert.Equal(t, day1, cfg.EffectiveFrom)
	assert.Equal(t, int64(conceptTax), out.Event.ConceptID)
	assert.Equal(t, 2, out.Event.DependentCount)
	assertAmount(t, 400, f.amount(t, day1, conceptTax, pesos.ID), "day1 tax")
	assertAmount(t, 600, f.amount(t, day2, conceptTax, pesos.ID), "day2 tax")
}

func TestSaveTaxConfigSkipsDaysWithoutEntries(t *testing.T) {
	f := newFixture(t, Options{ForwardDays: DefaultForwardDays})
	ctx := context.Background()
	_, _, err := f.scheduler.SaveTaxConfig(ctx, tax.SaveInput{AccountID: pesos.ID, IncludedConceptIDs: []int64{conceptVentas}, EffectiveFrom: day1})
	require.NoError(t, err)
	f.upsert(t, day1, conceptVentas, pesos.ID, 1000)
	f.upsert(t, day3, conceptVentas, pesos.ID, 7000)
	assertAmount(t, 7000, f.amount(t, day3, conceptTax, pesos.ID), "day3 tax under first version")

	// day2 holds no entry; day3 must still follow the replacement version.
	_, _, err = f.scheduler.SaveTaxConfig(ctx, tax.SaveInput{AccountID: pesos.ID, IncludedConceptIDs: []int64{69}, EffectiveFrom: day1})
	require.NoError(t, err)
	assertAmount(t, 0, f.amount(t, day1, conceptTax, pesos.ID), "day1 tax")
	assertAmount(t, 0, f.amount(t, day3, conceptTax, pesos.ID), "day3 tax")

	_, err = f.scheduler.RecomputeKey(ctx, cashflow.NewKey(day3, pesos.ID))
	require.NoError(t, err)
	assertAmount(t, 0, f.amount(t, day3, conceptTax, pesos.ID), "day3 tax after retry")
}

func TestSaveTaxConfigRejectsIneligible(t *testing.T) {
	f := newFixture(t, Options{})
	_, _, err := f.scheduler.SaveTaxConfig(context.Background(), tax.SaveInput{AccountID: pesos.ID, IncludedConceptIDs: []int64{conceptRecaudos}, EffectiveFrom: day1})
	require.ErrorIs(t, err, cashflow.ErrTaxConfigInvalid)
	assert.Empty(t, f.notifier.Events())
}

type accountFailingRepo struct {
	*memstore.Transactions
	failAccount int64
}

func (r accountFailingRepo) QueryAccount(ctx context.Context, date time.Time, accountID int64) ([]cashflow.Transaction, error) {
	if accountID == r.failAccount {
		return nil, errors.New("partition unavailable")
	}
	return r.Transactions.QueryAccount(ctx, date, accountID)
}

func TestRecomputeCompanyToleratesPartialFailure(t *testing.T) {
	repo := accountFailingRepo{Transactions: memstore.NewTransactions(), failAccount: dollars.ID}
	f := newFixtureWithRepo(t, repo, Options{})
	f.repo = repo.Transactions
	ctx := context.Background()
	_, err := repo.Upsert(ctx, cashflow.UpsertParams{Date: day1, ConceptID: conceptRecaudos, AccountID: cashflow.Int64Ptr(pesos.ID), Amount: decimal.NewFromInt(90), Area: cashflow.AreaTreasury})
	require.NoError(t, err)

	summary, err := f.scheduler.RecomputeCompany(ctx, day1, 1)
	require.Error(t, err)
	assert.True(t, cashflow.IsRecalcError(err))
	assert.Equal(t, 2, summary.Accounts)
	assert.Equal(t, 1, summary.Failed)
	require.Len(t, summary.Events, 1)
	assert.Equal(t, pesos.ID, summary.Events[0].AccountID)
	assertAmount(t, 90, f.amount(t, day1, conceptClosing, pesos.ID), "healthy account recomputed")
}

func TestRecomputeRange(t *testing.T) {
	f := newFixture(t, Options{ForwardDays: DefaultForwardDays})
	ctx := context.Background()
	for i, date := range []time.Time{day1, day2, day3} {
		_, err := f.repo.Upsert(ctx, cashflow.UpsertParams{Date: date, ConceptID: conceptRecaudos, AccountID: cashflow.Int64Ptr(pesos.ID), Amount: decimal.NewFromInt(int64(10 * (i + 1))), Area: cashflow.AreaTreasury})
		require.NoError(t, err)
	}

	summary, err := f.scheduler.RecomputeRange(ctx, day1, day3, 1)
	require.NoError(t, err)
	assert.Equal(t, 6, summary.Accounts)
	assert.Zero(t, summary.Failed)
	assertAmount(t, 30, f.amount(t, day2, conceptClosing, pesos.ID), "day2")
	assertAmount(t, 60, f.amount(t, day3, conceptClosing, pesos.ID), "day3")

	_, err = f.scheduler.RecomputeRange(ctx, day3, day1, 1)
	require.Error(t, err)
}

func TestMetricsRegistered(t *testing.T) {
	reg := prometheus.NewRegistry()
	f := newFixture(t, Options{Metrics: NewMetrics(reg)})
	f.upsert(t, day1, conceptRecaudos, pesos.ID, 1)
	f.upsert(t, day1, conceptRecaudos, pesos.ID, 1)

	families, err := reg.Gather()
	require.NoError(t, err)
	names := make(map[string]bool, len(families))
	for _, mf := range families {
		names[mf.GetName()] = true
	}
	assert.True(t, names["cashflow_recalc_passes_total"])
	assert.True(t, names["cashflow_recalc_pass_duration_seconds"])
}

// heldRepo parks the first QueryAccount call until release is closed.
type heldRepo struct {
	*memstore.Transactions
	once    sync.Once
	entered chan struct{}
	release chan struct{}
}

func newHeldRepo(inner *memstore.Transactions) *heldRepo {
	return &heldRepo{Transactions: inner, entered: make(chan struct{}), release: make(chan struct{})}
}

func (r *heldRepo) QueryAccount(ctx context.Context, date time.Time, accountID int64) ([]cashflow.Transaction, error) {
	rows, err := r.Transactions.QueryAccount(ctx, date, accountID)
	first := false
	r.once.Do(func() { first = true })
	if first {
		close(r.entered)
		<-r.release
	}
	return rows, err
}

func TestUpsertDoesNotShareEarlierStatementRead(t *testing.T) {
	mem := memstore.NewTransactions()
	held := newHeldRepo(mem)
	repo := dedup.Wrap(held)
	f := newFixtureWithRepo(t, repo, Options{})
	defer close(held.release)

	go func() { _, _ = repo.QueryAccount(context.Background(), day1, pesos.ID) }()
	<-held.entered

	done := make(chan error, 1)
	go func() {
		_, err := f.scheduler.Upsert(context.Background(), UpsertInput{Date: day1, ConceptID: conceptRecaudos, AccountID: pesos.ID, Amount: decimal.NewFromInt(500)})
		done <- err
	}()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("write waited on a read issued before it")
	}
	tx, ok, err := mem.QueryByConceptAccount(context.Background(), day1, conceptClosing, pesos.ID)
	require.NoError(t, err)
	require.True(t, ok)
	assertAmount(t, 500, tx.Amount, "closing reflects the acknowledged write")
}

func TestPassesOnOneKeyExcludeAcrossSchedulers(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	locker := cache.NewLocker(client, 5*time.Second)

	mem := memstore.NewTransactions()
	held := newHeldRepo(mem)
	worker := newFixtureWithRepo(t, held, Options{Locker: locker})
	server := newFixtureWithRepo(t, mem, Options{Locker: locker})

	retried := make(chan error, 1)
	go func() {
		_, err := worker.scheduler.RecomputeKey(context.Background(), cashflow.NewKey(day1, pesos.ID))
		retried <- err
	}()
	<-held.entered

	written := make(chan error, 1)
	go func() {
		_, err := server.scheduler.Upsert(context.Background(), UpsertInput{Date: day1, ConceptID: conceptRecaudos, AccountID: pesos.ID, Amount: decimal.NewFromInt(500)})
		written <- err
	}()
	select {
	case <-written:
		t.Fatal("second scheduler ran a pass while the key was held")
	case <-time.After(150 * time.Millisecond):
	}

	close(held.release)
	require.NoError(t, <-retried)
	require.NoError(t, <-written)
	assertAmount(t, 500, server.amount(t, day1, conceptRecaudos, pesos.ID), "raw amount")
	assertAmount(t, 500, server.amount(t, day1, conceptClosing, pesos.ID), "closing after both passes")
}

func TestLockName(t *testing.T) {
	assert.Equal(t, "cashflow:recalc:2025-03-10:7:lock", LockName(cashflow.NewKey(day1, 7)))
}
