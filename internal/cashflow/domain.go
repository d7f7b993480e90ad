package cashflow

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// DateLayout is the canonical wire format for statement dates.
const DateLayout = "2006-01-02"

// Area identifies which desk owns a concept or a transaction.
type Area string

const (
	// AreaTreasury is the treasury desk ("tesoreria").
	AreaTreasury Area = "tesoreria"
	// AreaPayroll is the payroll disbursement desk ("pagaduria").
	AreaPayroll Area = "pagaduria"
	// AreaBoth marks concepts shared by both desks.
	AreaBoth Area = "ambas"
)

// Valid reports whether the area is known.
func (a Area) Valid() bool {
	switch a {
	case AreaTreasury, AreaPayroll, AreaBoth:
		return true
	}
	return false
}

// Includes reports whether concepts of area a are visible from area other.
func (a Area) Includes(other Area) bool {
	return a == AreaBoth || other == AreaBoth || a == other
}

// SignCode is the sign policy a concept carries.
type SignCode string

const (
	// SignIngress forces positive amounts.
	SignIngress SignCode = "I"
	// SignEgress forces negative amounts.
	SignEgress SignCode = "E"
	// SignNeutral defers to the per-area neutral policy.
	SignNeutral SignCode = "N"
	// SignNone behaves like SignNeutral.
	SignNone SignCode = ""
)

// Currency is an ISO 4217 code supported by the statement.
type Currency string

const (
	// COP is the Colombian peso.
	COP Currency = "COP"
	// USD is the US dollar.
	USD Currency = "USD"
)

// Account is a bank account tracked in the daily statement.
type Account struct {
	ID         int64
	CompanyID  int64
	BankID     int64
	Name       string
	Currencies []Currency
}

// HasCurrency reports whether the account is tracked in cur.
func (a Account) HasCurrency(cur Currency) bool {
	for _, c := range a.Currencies {
		if c == cur {
			return true
		}
	}
	return false
}

// DualCurrency reports whether the account carries both a USD and a COP leg.
func (a Account) DualCurrency() bool {
	return a.HasCurrency(USD) && a.HasCurrency(COP)
}

// NativeCurrency returns the currency amounts are stored in. Dual-currency accounts
// store the USD leg.
func (a Account) NativeCurrency() Currency {
	if a.HasCurrency(USD) {
		return USD
	}
	return COP
}

// Transaction is a single amount entered (or derived) for a concept on a date.
type Transaction struct {
	ID        int64
	Date      time.Time
	ConceptID int64
	AccountID *int64
	Amount    decimal.Decimal
	Area      Area
	UpdatedAt time.Time
}

// Account returns the account id or zero for company-level rows.
func (t Transaction) Account() int64 {
	if t.AccountID == nil {
		return 0
	}
	return *t.AccountID
}

// Key identifies the unit of recomputation: one account on one day.
type Key struct {
	Date      time.Time
	AccountID int64
}

// NewKey normalises the date part of the key.
func NewKey(date time.Time, accountID int64) Key {
	return Key{Date: Day(date), AccountID: accountID}
}

// Next returns the key for the following calendar day.
func (k Key) Next() Key {
	return Key{Date: k.Date.AddDate(0, 0, 1), AccountID: k.AccountID}
}

func (k Key) String() string {
	return fmt.Sprintf("%s/%d", k.Date.Format(DateLayout), k.AccountID)
}

// RecalcEvent summarises one recompute pass for the change feed.
type RecalcEvent struct {
	ID             string    `json:"id"`
	Date           string    `json:"date"`
	AccountID      int64     `json:"account_id"`
	ConceptID      int64     `json:"concept_id"`
	ConceptIDs     []int64   `json:"concept_ids,omitempty"`
	DependentCount int       `json:"dependent_count"`
	At             time.Time `json:"at"`
}

// Day truncates t to midnight UTC of its calendar date.
func Day(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// ParseDay parses a YYYY-MM-DD date.
func ParseDay(s string) (time.Time, error) {
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("cashflow: invalid date %q: %w", s, err)
	}
	return t, nil
}

// Int64Ptr returns a pointer to v.
func Int64Ptr(v int64) *int64 {
	return &v
}
