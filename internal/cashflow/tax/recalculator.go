// Package tax maintains the per-account 4x1000 aggregate (CUATRO POR MIL).
package tax

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/cashflow/internal/cashflow"
	"github.com/odyssey-erp/cashflow/internal/cashflow/concepts"
	"github.com/odyssey-erp/cashflow/internal/cashflow/sign"
)

// SaveInput carries a new effective-dated inclusion set.
type SaveInput struct {
	AccountID          int64
	IncludedConceptIDs []int64
	EffectiveFrom      time.Time
}

// Validate checks the inclusion set against the eligible concepts.
func (in SaveInput) Validate(eligible []int64) error {
	if in.AccountID <= 0 {
		return fmt.Errorf("%w: account id required", cashflow.ErrTaxConfigInvalid)
	}
	if in.EffectiveFrom.IsZero() {
		return fmt.Errorf("%w: effective date required", cashflow.ErrTaxConfigInvalid)
	}
	allowed := make(map[int64]struct{}, len(eligible))
	for _, id := range eligible {
		allowed[id] = struct{}{}
	}
	for _, id := range in.IncludedConceptIDs {
		if _, ok := allowed[id]; !ok {
			return fmt.Errorf("%w: concept %d is not eligible", cashflow.ErrTaxConfigInvalid, id)
		}
	}
	return nil
}

// Result reports one recompute.
type Result struct {
	Key        cashflow.Key
	Configured bool
	Amount     decimal.Decimal
	Anomalies  []sign.Anomaly
}

// Recalculator computes CUATRO POR MIL from the configured inclusion set.
type Recalculator struct {
	repo       cashflow.TransactionRepository
	store      cashflow.TaxConfigStore
	catalog    *concepts.Catalog
	normalizer *sign.Normalizer
	now        func() time.Time
}

// NewRecalculator wires the recalculator.
func NewRecalculator(repo cashflow.TransactionRepository, store cashflow.TaxConfigStore, catalog *concepts.Catalog) *Recalculator {
	return &Recalculator{
		repo:       repo,
		store:      store,
		catalog:    catalog,
		normalizer: sign.NewNormalizer(catalog),
		now:        time.Now,
	}
}

// SaveConfig validates and persists a new configuration version. Nothing is written
// when validation fails.
func (r *Recalculator) SaveConfig(ctx context.Context, in SaveInput) (cashflow.TaxConfig, error) {
	if err := in.Validate(r.catalog.TaxEligibleIDs()); err != nil {
		return cashflow.TaxConfig{}, err
	}
	ids := dedupe(in.IncludedConceptIDs)
	cfg := cashflow.TaxConfig{
		AccountID:          in.AccountID,
		IncludedConceptIDs: ids,
		EffectiveFrom:      cashflow.Day(in.EffectiveFrom),
		CreatedAt:          r.now().UTC(),
	}
	if err := r.store.Save(ctx, cfg); err != nil {
		return cashflow.TaxConfig{}, fmt.Errorf("tax: save config: %w", err)
	}
	return cfg, nil
}

// Config returns the configuration effective for key.
func (r *Recalculator) Config(ctx context.Context, key cashflow.Key) (cashflow.TaxConfig, bool, error) {
	cfg, ok, err := r.store.Get(ctx, key.AccountID, key.Date)
	if err != nil {
		return cashflow.TaxConfig{}, false, fmt.Errorf("tax: load config %s: %w", key, err)
	}
	return cfg, ok, nil
}

// Recompute sums the included concepts for key and upserts CUATRO POR MIL. An
// unconfigured account is left untouched.
func (r *Recalculator) Recompute(ctx context.Context, key cashflow.Key) (Result, error) {
	res := Result{Key: key}
	cfg, ok, err := r.Config(ctx, key)
	if err != nil {
		return res, err
	}
	if !ok {
		return res, nil
	}
	res.Configured = true

	rows, err := r.repo.QueryAccount(ctx, key.Date, key.AccountID)
	if err != nil {
		return res, fmt.Errorf("tax: load %s: %w", key, err)
	}
	total := decimal.Zero
	for _, tx := range rows {
		if !cfg.Includes(tx.ConceptID) {
			continue
		}
		amount, anomaly := r.normalizer.Transaction(tx)
		if anomaly != nil {
			res.Anomalies = append(res.Anomalies, *anomaly)
		}
		total = total.Add(amount)
	}
	res.Amount = total

	concept := r.catalog.Derived(concepts.FormulaTaxAggregate)
	account := key.AccountID
	_, err = r.repo.Upsert(ctx, cashflow.UpsertParams{
		Date:      key.Date,
		ConceptID: concept.ID,
		AccountID: &account,
		Amount:    total,
		Area:      concept.Area,
	})
	if err != nil {
		return res, fmt.Errorf("tax: write %s: %w", key, err)
	}
	return res, nil
}

// Affects reports whether a change to conceptID on key moves the tax aggregate.
func (r *Recalculator) Affects(ctx context.Context, key cashflow.Key, conceptID int64) (bool, error) {
	cfg, ok, err := r.Config(ctx, key)
	if err != nil || !ok {
		return false, err
	}
	return cfg.Includes(conceptID), nil
}

func dedupe(ids []int64) []int64 {
	seen := make(map[int64]struct{}, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
