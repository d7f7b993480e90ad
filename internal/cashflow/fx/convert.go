package fx

import (
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/cashflow/internal/cashflow"
)

// Mode selects the display convention of a statement.
type Mode string

const (
	// ModeTreasury shows treasury amounts; raw amounts are COP denominated.
	ModeTreasury Mode = "tesoreria"
	// ModePayroll shows payroll amounts in the account's native currency.
	ModePayroll Mode = "pagaduria"
)

// ModeFor maps an area to its display mode.
func ModeFor(area cashflow.Area) Mode {
	if area == cashflow.AreaPayroll {
		return ModePayroll
	}
	return ModeTreasury
}

var (
	hundred  = decimal.NewFromInt(100)
	thousand = decimal.NewFromInt(1000)
)

// ToDisplay converts a stored amount into the account's display currency. In treasury
// mode a USD account shows floor(amount / rate * 100) / 100. Everything else is shown
// unchanged.
func ToDisplay(amount decimal.Decimal, accountCurrency cashflow.Currency, mode Mode, rate decimal.Decimal) decimal.Decimal {
	if mode != ModeTreasury || accountCurrency != cashflow.USD {
		return amount
	}
	return amount.Mul(hundred).Div(rate).Floor().Div(hundred)
}

// MirrorCOP computes the read-only COP leg of a dual-currency account.
func MirrorCOP(usd, rate decimal.Decimal) decimal.Decimal {
	return usd.Mul(rate).Div(thousand)
}

// Leg is one currency column of a statement cell.
type Leg struct {
	Currency cashflow.Currency
	Amount   decimal.Decimal
	// Computed marks legs that are derived on read and never editable.
	Computed bool
}

// NeedsRate reports whether rendering the account in mode depends on the TRM.
func NeedsRate(account cashflow.Account, mode Mode) bool {
	if account.DualCurrency() {
		return true
	}
	return mode == ModeTreasury && account.NativeCurrency() == cashflow.USD
}

// Legs renders a stored amount as the display legs of account. rate is ignored when
// NeedsRate is false.
func Legs(account cashflow.Account, mode Mode, stored, rate decimal.Decimal) []Leg {
	switch {
	case account.DualCurrency():
		return []Leg{
			{Currency: cashflow.USD, Amount: stored},
			{Currency: cashflow.COP, Amount: MirrorCOP(stored, rate), Computed: true},
		}
	case account.NativeCurrency() == cashflow.USD:
		return []Leg{{Currency: cashflow.USD, Amount: ToDisplay(stored, cashflow.USD, mode, rate)}}
	default:
		return []Leg{{Currency: cashflow.COP, Amount: stored}}
	}
}
