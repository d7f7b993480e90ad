package aggregate

import (
	"sort"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/cashflow/internal/cashflow"
	"github.com/odyssey-erp/cashflow/internal/cashflow/sign"
)

// Totals sums a concept across accounts.
type Totals map[int64]decimal.Decimal

// ConceptIDs returns the concepts present, ordered.
func (t Totals) ConceptIDs() []int64 {
	ids := make([]int64, 0, len(t))
	for id := range t {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Get returns the total of conceptID, zero when absent.
func (t Totals) Get(conceptID int64) decimal.Decimal {
	return t[conceptID]
}

// SumByConcept totals rows per concept. Each row contributes its normalized value;
// final-sign concepts (engine-written values and specialized flows such as
// DIFERENCIA SALDOS) contribute their stored amount unchanged.
func SumByConcept(normalizer *sign.Normalizer, rows []cashflow.Transaction) (Totals, []sign.Anomaly) {
	totals := make(Totals)
	var anomalies []sign.Anomaly
	for _, tx := range rows {
		amount, anomaly := normalizer.Transaction(tx)
		if anomaly != nil {
			anomalies = append(anomalies, *anomaly)
		}
		totals[tx.ConceptID] = totals[tx.ConceptID].Add(amount)
	}
	return totals, anomalies
}
