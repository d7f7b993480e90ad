// Package memstore implements the cash-flow ports in memory for tests and local runs.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/odyssey-erp/cashflow/internal/cashflow"
)

type txKey struct {
	date      string
	conceptID int64
	accountID int64
}

// Transactions is an in-memory TransactionRepository.
type Transactions struct {
	mu     sync.RWMutex
	nextID int64
	rows   map[txKey]cashflow.Transaction
	now    func() time.Time

	// Calls counts repository reads, keyed by method name.
	Calls map[string]int
	// FailUpsert, when set, is returned by Upsert for matching concepts.
	FailUpsert map[int64]error
}

// NewTransactions returns an empty repository.
func NewTransactions() *Transactions {
	return &Transactions{
		rows:       make(map[txKey]cashflow.Transaction),
		now:        time.Now,
		Calls:      make(map[string]int),
		FailUpsert: make(map[int64]error),
	}
}

func keyOf(date time.Time, conceptID, accountID int64) txKey {
	return txKey{date: cashflow.Day(date).Format(cashflow.DateLayout), conceptID: conceptID, accountID: accountID}
}

// Upsert inserts or replaces the row keyed by (date, concept, account).
func (s *Transactions) Upsert(ctx context.Context, params cashflow.UpsertParams) (cashflow.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.FailUpsert[params.ConceptID]; err != nil {
		return cashflow.Transaction{}, err
	}
	var account int64
	if params.AccountID != nil {
		account = *params.AccountID
	}
	k := keyOf(params.Date, params.ConceptID, account)
	row, ok := s.rows[k]
	if !ok {
		s.nextID++
		row.ID = s.nextID
	}
	row.Date = cashflow.Day(params.Date)
	row.ConceptID = params.ConceptID
	row.AccountID = params.AccountID
	row.Amount = params.Amount
	row.Area = params.Area
	row.UpdatedAt = s.now()
	s.rows[k] = row
	return row, nil
}

// Query returns rows of area on date.
func (s *Transactions) Query(ctx context.Context, date time.Time, area cashflow.Area) ([]cashflow.Transaction, error) {
	s.mu.Lock()
	s.Calls["Query"]++
	s.mu.Unlock()
	return s.filter(func(tx cashflow.Transaction) bool {
		return tx.Date.Equal(cashflow.Day(date)) && tx.Area.Includes(area)
	}), nil
}

// QueryAccount returns every row of an account on date.
func (s *Transactions) QueryAccount(ctx context.Context, date time.Time, accountID int64) ([]cashflow.Transaction, error) {
	s.mu.Lock()
	s.Calls["QueryAccount"]++
	s.mu.Unlock()
	return s.filter(func(tx cashflow.Transaction) bool {
		return tx.Date.Equal(cashflow.Day(date)) && tx.Account() == accountID
	}), nil
}

// QueryByConceptAccount returns the single row for the key.
func (s *Transactions) QueryByConceptAccount(ctx context.Context, date time.Time, conceptID, accountID int64) (cashflow.Transaction, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Calls["QueryByConceptAccount"]++
	row, ok := s.rows[keyOf(date, conceptID, accountID)]
	return row, ok, nil
}

// Delete removes the row for the key.
func (s *Transactions) Delete(ctx context.Context, date time.Time, conceptID, accountID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := keyOf(date, conceptID, accountID)
	if _, ok := s.rows[k]; !ok {
		return cashflow.ErrNotFound
	}
	delete(s.rows, k)
	return nil
}

// Len returns the number of stored rows.
func (s *Transactions) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.rows)
}

func (s *Transactions) filter(keep func(cashflow.Transaction) bool) []cashflow.Transaction {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []cashflow.Transaction
	for _, row := range s.rows {
		if keep(row) {
			out = append(out, row)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Account() == out[j].Account() {
			return out[i].ConceptID < out[j].ConceptID
		}
		return out[i].Account() < out[j].Account()
	})
	return out
}

// Rates is an in-memory ExchangeRateProvider keyed by calendar date.
type Rates struct {
	mu    sync.RWMutex
	rates map[string]cashflow.ExchangeRate
	Calls int
}

// NewRates returns an empty provider.
func NewRates() *Rates {
	return &Rates{rates: make(map[string]cashflow.ExchangeRate)}
}

// Put stores rate for its date.
func (r *Rates) Put(rate cashflow.ExchangeRate) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rate.Date = cashflow.Day(rate.Date)
	r.rates[rate.Date.Format(cashflow.DateLayout)] = rate
}

// RateFor returns the exact rate of date.
func (r *Rates) RateFor(ctx context.Context, date time.Time) (cashflow.ExchangeRate, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Calls++
	rate, ok := r.rates[cashflow.Day(date).Format(cashflow.DateLayout)]
	if !ok {
		return cashflow.ExchangeRate{}, cashflow.ErrRateNotFound
	}
	return rate, nil
}

// TaxConfigs is an in-memory TaxConfigStore.
type TaxConfigs struct {
	mu      sync.RWMutex
	configs map[int64][]cashflow.TaxConfig
	// FailSave, when set, is returned by Save.
	FailSave error
}

// NewTaxConfigs returns an empty store.
func NewTaxConfigs() *TaxConfigs {
	return &TaxConfigs{configs: make(map[int64][]cashflow.TaxConfig)}
}

// Get returns the configuration with the latest EffectiveFrom on or before date.
func (s *TaxConfigs) Get(ctx context.Context, accountID int64, date time.Time) (cashflow.TaxConfig, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	day := cashflow.Day(date)
	var (
		best  cashflow.TaxConfig
		found bool
	)
	for _, cfg := range s.configs[accountID] {
		if cfg.EffectiveFrom.After(day) {
			continue
		}
		if !found || !cfg.EffectiveFrom.Before(best.EffectiveFrom) {
			best, found = cfg, true
		}
	}
	return best, found, nil
}

// Save appends a new effective-dated version. A version with the same EffectiveFrom
// replaces the previous one.
func (s *TaxConfigs) Save(ctx context.Context, cfg cashflow.TaxConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailSave != nil {
		return s.FailSave
	}
	cfg.EffectiveFrom = cashflow.Day(cfg.EffectiveFrom)
	cfg.IncludedConceptIDs = append([]int64(nil), cfg.IncludedConceptIDs...)
	versions := s.configs[cfg.AccountID]
	for i, existing := range versions {
		if existing.EffectiveFrom.Equal(cfg.EffectiveFrom) {
			versions[i] = cfg
			return nil
		}
	}
	s.configs[cfg.AccountID] = append(versions, cfg)
	return nil
}

// Accounts is an in-memory AccountDirectory.
type Accounts struct {
	mu       sync.RWMutex
	accounts map[int64]cashflow.Account
}

// NewAccounts seeds the directory.
func NewAccounts(accounts ...cashflow.Account) *Accounts {
	d := &Accounts{accounts: make(map[int64]cashflow.Account, len(accounts))}
	for _, a := range accounts {
		d.accounts[a.ID] = a
	}
	return d
}

// Get returns the account or ErrAccountNotFound.
func (d *Accounts) Get(ctx context.Context, id int64) (cashflow.Account, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	a, ok := d.accounts[id]
	if !ok {
		return cashflow.Account{}, cashflow.ErrAccountNotFound
	}
	return a, nil
}

// ListByCompany returns the company's accounts ordered by id.
func (d *Accounts) ListByCompany(ctx context.Context, companyID int64) ([]cashflow.Account, error) {
	all, _ := d.ListAll(ctx)
	out := all[:0]
	for _, a := range all {
		if a.CompanyID == companyID {
			out = append(out, a)
		}
	}
	return out, nil
}

// ListAll returns every account ordered by id.
func (d *Accounts) ListAll(ctx context.Context) ([]cashflow.Account, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]cashflow.Account, 0, len(d.accounts))
	for _, a := range d.accounts {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Notifier records published events.
type Notifier struct {
	mu     sync.Mutex
	events []cashflow.RecalcEvent
}

// Publish records event.
func (n *Notifier) Publish(ctx context.Context, event cashflow.RecalcEvent) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, event)
	return nil
}

// Events returns a copy of the recorded events.
func (n *Notifier) Events() []cashflow.RecalcEvent {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]cashflow.RecalcEvent(nil), n.events...)
}
