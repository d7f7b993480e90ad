package concepts

import "github.com/odyssey-erp/cashflow/internal/cashflow"

// Formula names the fixed computation behind a derived concept.
type Formula string

const (
	// FormulaCarryForward is SALDO INICIAL: the prior day's closing balance.
	FormulaCarryForward Formula = "carry_forward"
	// FormulaNetPayrollOpening is SALDO NETO INICIAL PAGADURÍA.
	FormulaNetPayrollOpening Formula = "net_payroll_opening"
	// FormulaTreasurySubtotal is SUBTOTAL TESORERÍA.
	FormulaTreasurySubtotal Formula = "treasury_subtotal"
	// FormulaClosingBalance is SALDO FINAL CUENTAS.
	FormulaClosingBalance Formula = "closing_balance"
	// FormulaTaxAggregate is CUATRO POR MIL.
	FormulaTaxAggregate Formula = "tax_aggregate"
)

// Formulas lists every derived formula in evaluation order.
var Formulas = []Formula{
	FormulaCarryForward,
	FormulaNetPayrollOpening,
	FormulaTreasurySubtotal,
	FormulaClosingBalance,
	FormulaTaxAggregate,
}

func (f Formula) valid() bool {
	for _, known := range Formulas {
		if f == known {
			return true
		}
	}
	return false
}

// Role is the tagged variant of a concept: Editable or Derived.
type Role interface {
	isRole()
}

// Editable concepts are entered by users (or by a specialized external flow).
type Editable struct {
	// FinalSign marks amounts that arrive already signed and skip normalization.
	FinalSign bool
	// TaxEligible marks concepts that may join a 4x1000 inclusion set.
	TaxEligible bool
	// Feeds names a derived formula that reads this concept explicitly.
	Feeds Formula
}

// Derived concepts are computed by the engine only.
type Derived struct {
	Formula Formula
}

func (Editable) isRole() {}
func (Derived) isRole()  {}

// Concept is a ledger line item of the daily statement.
type Concept struct {
	ID   int64
	Code cashflow.SignCode
	Name string
	Area cashflow.Area
	Role Role
}

// IsDerived reports whether the engine owns the concept's value.
func (c Concept) IsDerived() bool {
	_, ok := c.Role.(Derived)
	return ok
}

// Formula returns the derived formula, if any.
func (c Concept) Formula() (Formula, bool) {
	d, ok := c.Role.(Derived)
	if !ok {
		return "", false
	}
	return d.Formula, true
}

// FinalSign reports whether stored amounts already carry their final sign.
// Engine-written values always do.
func (c Concept) FinalSign() bool {
	switch r := c.Role.(type) {
	case Derived:
		return true
	case Editable:
		return r.FinalSign
	}
	return false
}

// TaxEligible reports whether the concept may be included in a 4x1000 base.
func (c Concept) TaxEligible() bool {
	e, ok := c.Role.(Editable)
	return ok && e.TaxEligible
}

// Feeds returns the formula that reads this concept explicitly.
func (c Concept) Feeds() (Formula, bool) {
	e, ok := c.Role.(Editable)
	if !ok || e.Feeds == "" {
		return "", false
	}
	return e.Feeds, true
}
