package aggregate

import (
	"github.com/odyssey-erp/cashflow/internal/cashflow"
	"github.com/odyssey-erp/cashflow/internal/cashflow/concepts"
)

// Dependents returns the derived formulas of the same key that read concept,
// following the fixed graph. The tax aggregate is not part of the graph: its
// inputs are configured per account.
func Dependents(concept concepts.Concept) []concepts.Formula {
	if concept.IsDerived() {
		return nil
	}
	if fed, ok := concept.Feeds(); ok && fed == concepts.FormulaNetPayrollOpening {
		return []concepts.Formula{concepts.FormulaNetPayrollOpening, concepts.FormulaClosingBalance}
	}
	if concept.Area == cashflow.AreaTreasury {
		return []concepts.Formula{concepts.FormulaTreasurySubtotal, concepts.FormulaClosingBalance}
	}
	return nil
}
