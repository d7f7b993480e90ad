// Package statement assembles the daily statement read model.
package statement

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/cashflow/internal/cashflow"
	"github.com/odyssey-erp/cashflow/internal/cashflow/aggregate"
	"github.com/odyssey-erp/cashflow/internal/cashflow/concepts"
	"github.com/odyssey-erp/cashflow/internal/cashflow/fx"
	"github.com/odyssey-erp/cashflow/internal/cashflow/sign"
)

// Cell is one currency column of a line.
type Cell struct {
	Currency cashflow.Currency `json:"currency"`
	Amount   decimal.Decimal   `json:"amount"`
	Display  string            `json:"display"`
	Computed bool              `json:"computed,omitempty"`
}

// Line is one concept row of an account statement.
type Line struct {
	ConceptID int64             `json:"concept_id"`
	Name      string            `json:"name"`
	Code      cashflow.SignCode `json:"code"`
	Derived   bool              `json:"derived"`
	Present   bool              `json:"present"`
	Cells     []Cell            `json:"cells"`
}

// AccountStatement is the statement of one account on one day.
type AccountStatement struct {
	Account   cashflow.Account `json:"-"`
	AccountID int64            `json:"account_id"`
	Name      string           `json:"name"`
	Date      string           `json:"date"`
	Mode      fx.Mode          `json:"mode"`
	Rate      *decimal.Decimal `json:"rate,omitempty"`
	RateDate  string           `json:"rate_date,omitempty"`
	Lines     []Line           `json:"lines"`
	Anomalies []sign.Anomaly   `json:"-"`
}

// Total is a concept summed across a company's accounts, per native currency.
type Total struct {
	ConceptID int64  `json:"concept_id"`
	Name      string `json:"name"`
	Cells     []Cell `json:"cells"`
}

// CompanyStatement groups every account of a company on one day.
type CompanyStatement struct {
	CompanyID int64              `json:"company_id"`
	Date      string             `json:"date"`
	Area      cashflow.Area      `json:"area"`
	Accounts  []AccountStatement `json:"accounts"`
	Totals    []Total            `json:"totals"`
	// Failed lists accounts whose statement could not be built.
	Failed []int64 `json:"failed,omitempty"`
}

// Rates resolves the TRM for a date with earlier-date fallback.
type Rates interface {
	ResolveRate(ctx context.Context, date time.Time) (cashflow.ExchangeRate, error)
}

// Builder reads transactions and renders statements.
type Builder struct {
	repo       cashflow.TransactionRepository
	accounts   cashflow.AccountDirectory
	catalog    *concepts.Catalog
	normalizer *sign.Normalizer
	rates      Rates
}

// NewBuilder wires a statement builder.
func NewBuilder(repo cashflow.TransactionRepository, accounts cashflow.AccountDirectory, catalog *concepts.Catalog, rates Rates) *Builder {
	return &Builder{
		repo:       repo,
		accounts:   accounts,
		catalog:    catalog,
		normalizer: sign.NewNormalizer(catalog),
		rates:      rates,
	}
}

// Account builds the statement of accountID as seen from area. The TRM is only
// resolved when the account's display depends on it; ErrRateUnavailable is fatal
// for such reads.
func (b *Builder) Account(ctx context.Context, date time.Time, accountID int64, area cashflow.Area) (AccountStatement, error) {
	account, err := b.accounts.Get(ctx, accountID)
	if err != nil {
		return AccountStatement{}, err
	}
	rows, err := b.repo.QueryAccount(ctx, cashflow.Day(date), account.ID)
	if err != nil {
		return AccountStatement{}, fmt.Errorf("statement: load %d: %w", account.ID, err)
	}
	return b.render(ctx, date, account, area, rows)
}

func (b *Builder) render(ctx context.Context, date time.Time, account cashflow.Account, area cashflow.Area, rows []cashflow.Transaction) (AccountStatement, error) {
	day := cashflow.Day(date)
	mode := fx.ModeFor(area)
	st := AccountStatement{
		Account:   account,
		AccountID: account.ID,
		Name:      account.Name,
		Date:      day.Format(cashflow.DateLayout),
		Mode:      mode,
	}
	rate := decimal.Zero
	if fx.NeedsRate(account, mode) {
		r, err := b.rates.ResolveRate(ctx, day)
		if err != nil {
			return AccountStatement{}, fmt.Errorf("statement: account %d: %w", account.ID, err)
		}
		rate = r.Value
		st.Rate = &rate
		st.RateDate = r.Date.Format(cashflow.DateLayout)
	}

	byConcept := make(map[int64]cashflow.Transaction, len(rows))
	for _, tx := range rows {
		byConcept[tx.ConceptID] = tx
	}
	for _, concept := range b.catalog.List(area) {
		line := Line{ConceptID: concept.ID, Name: concept.Name, Code: concept.Code, Derived: concept.IsDerived()}
		signed := decimal.Zero
		if tx, ok := byConcept[concept.ID]; ok {
			line.Present = true
			amount, anomaly := b.normalizer.Transaction(tx)
			if anomaly != nil {
				st.Anomalies = append(st.Anomalies, *anomaly)
			}
			signed = amount
			delete(byConcept, concept.ID)
		}
		line.Cells = cells(fx.Legs(account, mode, signed, rate))
		st.Lines = append(st.Lines, line)
	}
	for _, tx := range rows {
		if _, ok := byConcept[tx.ConceptID]; !ok {
			continue
		}
		if _, known := b.catalog.Get(tx.ConceptID); known || !tx.Area.Includes(area) {
			continue
		}
		amount, anomaly := b.normalizer.Transaction(tx)
		if anomaly != nil {
			st.Anomalies = append(st.Anomalies, *anomaly)
		}
		st.Lines = append(st.Lines, Line{
			ConceptID: tx.ConceptID,
			Name:      fmt.Sprintf("CONCEPTO %d", tx.ConceptID),
			Present:   true,
			Cells:     cells(fx.Legs(account, mode, amount, rate)),
		})
	}
	return st, nil
}

// Company builds every account statement of a company plus per-concept totals. An
// account that fails is reported in Failed and in the joined error; the others are
// still returned.
func (b *Builder) Company(ctx context.Context, date time.Time, companyID int64, area cashflow.Area) (CompanyStatement, error) {
	day := cashflow.Day(date)
	accounts, err := b.accounts.ListByCompany(ctx, companyID)
	if err != nil {
		return CompanyStatement{}, fmt.Errorf("statement: list accounts of company %d: %w", companyID, err)
	}
	out := CompanyStatement{CompanyID: companyID, Date: day.Format(cashflow.DateLayout), Area: area}
	byCurrency := make(map[cashflow.Currency][]cashflow.Transaction)
	var errs []error
	for _, account := range accounts {
		rows, err := b.repo.QueryAccount(ctx, day, account.ID)
		if err == nil {
			var st AccountStatement
			st, err = b.render(ctx, day, account, area, rows)
			if err == nil {
				out.Accounts = append(out.Accounts, st)
				cur := storedCurrency(account, st.Mode)
				byCurrency[cur] = append(byCurrency[cur], visible(b.catalog, rows, area)...)
				continue
			}
		}
		out.Failed = append(out.Failed, account.ID)
		errs = append(errs, fmt.Errorf("account %d: %w", account.ID, err))
	}
	out.Totals = b.totals(byCurrency)
	return out, errors.Join(errs...)
}

func (b *Builder) totals(byCurrency map[cashflow.Currency][]cashflow.Transaction) []Total {
	sums := make(map[cashflow.Currency]aggregate.Totals, len(byCurrency))
	for cur, rows := range byCurrency {
		sums[cur], _ = aggregate.SumByConcept(b.normalizer, rows)
	}
	var out []Total
	for _, concept := range b.catalog.List(cashflow.AreaBoth) {
		var cellsOut []Cell
		for _, cur := range []cashflow.Currency{cashflow.COP, cashflow.USD} {
			t, ok := sums[cur]
			if !ok {
				continue
			}
			if _, present := t[concept.ID]; !present {
				continue
			}
			amount := t.Get(concept.ID)
			cellsOut = append(cellsOut, Cell{Currency: cur, Amount: amount, Display: Format(amount, cur)})
		}
		if len(cellsOut) == 0 {
			continue
		}
		out = append(out, Total{ConceptID: concept.ID, Name: concept.Name, Cells: cellsOut})
	}
	return out
}

// storedCurrency is the currency raw amounts of account are denominated in under
// mode. Treasury amounts of single-currency accounts are entered in pesos.
func storedCurrency(account cashflow.Account, mode fx.Mode) cashflow.Currency {
	if account.DualCurrency() {
		return cashflow.USD
	}
	if mode == fx.ModeTreasury {
		return cashflow.COP
	}
	return account.NativeCurrency()
}

func visible(catalog *concepts.Catalog, rows []cashflow.Transaction, area cashflow.Area) []cashflow.Transaction {
	out := make([]cashflow.Transaction, 0, len(rows))
	for _, tx := range rows {
		a := tx.Area
		if concept, ok := catalog.Get(tx.ConceptID); ok {
			a = concept.Area
		}
		if a.Includes(area) {
			out = append(out, tx)
		}
	}
	return out
}

func cells(legs []fx.Leg) []Cell {
	out := make([]Cell, 0, len(legs))
	for _, leg := range legs {
		out = append(out, Cell{
			Currency: leg.Currency,
			Amount:   leg.Amount,
			Display:  Format(leg.Amount, leg.Currency),
			Computed: leg.Computed,
		})
	}
	return out
}
