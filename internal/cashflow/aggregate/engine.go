// Package aggregate evaluates the fixed per-account graph of derived balances.
package aggregate

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/cashflow/internal/cashflow"
	"github.com/odyssey-erp/cashflow/internal/cashflow/carry"
	"github.com/odyssey-erp/cashflow/internal/cashflow/concepts"
	"github.com/odyssey-erp/cashflow/internal/cashflow/sign"
)

// Values holds the four balances derived for one account on one day.
type Values struct {
	Opening           decimal.Decimal
	NetPayrollOpening decimal.Decimal
	TreasurySubtotal  decimal.Decimal
	Closing           decimal.Decimal
}

// Result is the outcome of evaluating one key.
type Result struct {
	Key       cashflow.Key
	Values    Values
	Anomalies []sign.Anomaly
	// Written counts derived rows upserted.
	Written int
}

// Engine recomputes derived concepts for a key.
type Engine struct {
	repo       cashflow.TransactionRepository
	catalog    *concepts.Catalog
	normalizer *sign.Normalizer
	carry      *carry.Resolver
}

// NewEngine wires the engine over the repository and catalog.
func NewEngine(repo cashflow.TransactionRepository, catalog *concepts.Catalog) *Engine {
	closing := catalog.Derived(concepts.FormulaClosingBalance)
	return &Engine{
		repo:       repo,
		catalog:    catalog,
		normalizer: sign.NewNormalizer(catalog),
		carry:      carry.NewResolver(repo, closing.ID),
	}
}

// Compute evaluates the graph for key without writing.
func (e *Engine) Compute(ctx context.Context, key cashflow.Key) (Result, error) {
	opening, err := e.carry.OpeningBalance(ctx, key.Date, key.AccountID)
	if err != nil {
		return Result{}, fmt.Errorf("aggregate: carry forward %s: %w", key, err)
	}
	rows, err := e.repo.QueryAccount(ctx, key.Date, key.AccountID)
	if err != nil {
		return Result{}, fmt.Errorf("aggregate: load %s: %w", key, err)
	}
	values, anomalies := e.Evaluate(opening, rows)
	return Result{Key: key, Values: values, Anomalies: anomalies}, nil
}

// Evaluate applies the graph in its fixed order:
// opening → net payroll opening → treasury subtotal → closing. Missing inputs count as zero.
func (e *Engine) Evaluate(opening decimal.Decimal, rows []cashflow.Transaction) (Values, []sign.Anomaly) {
	var anomalies []sign.Anomaly
	payroll := decimal.Zero
	treasury := decimal.Zero
	for _, tx := range rows {
		concept, known := e.catalog.Get(tx.ConceptID)
		if known && concept.IsDerived() {
			continue
		}
		amount, anomaly := e.normalizer.Transaction(tx)
		if anomaly != nil {
			anomalies = append(anomalies, *anomaly)
		}
		if known {
			if fed, ok := concept.Feeds(); ok && fed == concepts.FormulaNetPayrollOpening {
				payroll = payroll.Add(amount)
			}
		}
		area := tx.Area
		if known {
			area = concept.Area
		}
		if area == cashflow.AreaTreasury {
			treasury = treasury.Add(amount)
		}
	}
	v := Values{Opening: opening}
	v.NetPayrollOpening = v.Opening.Add(payroll)
	v.TreasurySubtotal = treasury
	v.Closing = v.NetPayrollOpening.Add(v.TreasurySubtotal)
	return v, anomalies
}

// Recompute evaluates key and upserts the four derived rows in evaluation order.
func (e *Engine) Recompute(ctx context.Context, key cashflow.Key) (Result, error) {
	res, err := e.Compute(ctx, key)
	if err != nil {
		return Result{}, err
	}
	writes := []struct {
		formula concepts.Formula
		amount  decimal.Decimal
	}{
		{concepts.FormulaCarryForward, res.Values.Opening},
		{concepts.FormulaNetPayrollOpening, res.Values.NetPayrollOpening},
		{concepts.FormulaTreasurySubtotal, res.Values.TreasurySubtotal},
		{concepts.FormulaClosingBalance, res.Values.Closing},
	}
	account := key.AccountID
	for _, w := range writes {
		concept := e.catalog.Derived(w.formula)
		_, err := e.repo.Upsert(ctx, cashflow.UpsertParams{
			Date:      key.Date,
			ConceptID: concept.ID,
			AccountID: &account,
			Amount:    w.amount,
			Area:      concept.Area,
		})
		if err != nil {
			return res, fmt.Errorf("aggregate: write %s for %s: %w", w.formula, key, err)
		}
		res.Written++
	}
	return res, nil
}
