// Package sign applies the I/E/N sign policy of concepts to raw amounts.
package sign

import (
	"fmt"
	"math"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/cashflow/internal/cashflow"
	"github.com/odyssey-erp/cashflow/internal/cashflow/concepts"
)

// NeutralPolicy decides how N/empty coded amounts are signed.
type NeutralPolicy int

const (
	// AsEntered keeps the user's sign.
	AsEntered NeutralPolicy = iota
	// Absolute forces a positive amount.
	Absolute
)

// Policies maps each area to its neutral policy. Treasury and payroll differ on
// purpose and must stay separate entries.
type Policies map[cashflow.Area]NeutralPolicy

// DefaultPolicies returns the observed per-area behaviour.
func DefaultPolicies() Policies {
	return Policies{
		cashflow.AreaTreasury: Absolute,
		cashflow.AreaPayroll:  AsEntered,
		cashflow.AreaBoth:     AsEntered,
	}
}

// Normalize signs amount according to code and the area's neutral policy.
func Normalize(amount decimal.Decimal, code cashflow.SignCode, area cashflow.Area) decimal.Decimal {
	return DefaultPolicies().Normalize(amount, code, area)
}

// Normalize signs amount according to code and the area's neutral policy.
func (p Policies) Normalize(amount decimal.Decimal, code cashflow.SignCode, area cashflow.Area) decimal.Decimal {
	switch code {
	case cashflow.SignEgress:
		return amount.Abs().Neg()
	case cashflow.SignIngress:
		return amount.Abs()
	}
	if p[area] == Absolute {
		return amount.Abs()
	}
	return amount
}

// AnomalyKind classifies a recoverable normalization problem.
type AnomalyKind string

const (
	// AnomalyNonFinite flags NaN or infinite input coerced to zero.
	AnomalyNonFinite AnomalyKind = "non_finite"
	// AnomalyUnknownConcept flags a concept missing from the catalog.
	AnomalyUnknownConcept AnomalyKind = "unknown_concept"
)

// Anomaly is reported instead of failing a recompute.
type Anomaly struct {
	Kind      AnomalyKind
	ConceptID int64
	AccountID int64
	Date      time.Time
}

func (a Anomaly) String() string {
	return fmt.Sprintf("%s concept=%d account=%d date=%s", a.Kind, a.ConceptID, a.AccountID, a.Date.Format(cashflow.DateLayout))
}

// NormalizeFloat normalizes a float amount; NaN and ±Inf become zero with ok=false.
func NormalizeFloat(amount float64, code cashflow.SignCode, area cashflow.Area) (decimal.Decimal, bool) {
	if math.IsNaN(amount) || math.IsInf(amount, 0) {
		return decimal.Zero, false
	}
	return Normalize(decimal.NewFromFloat(amount), code, area), true
}

// Lookup resolves concepts by id.
type Lookup interface {
	Get(id int64) (concepts.Concept, bool)
}

// Normalizer signs stored transactions using the catalog.
type Normalizer struct {
	lookup   Lookup
	policies Policies
}

// NewNormalizer builds a normalizer with the default area policies.
func NewNormalizer(lookup Lookup) *Normalizer {
	return &Normalizer{lookup: lookup, policies: DefaultPolicies()}
}

// Transaction returns the signed amount of tx. Final-sign and derived concepts pass
// through untouched. Unknown concepts pass through and yield an anomaly.
func (n *Normalizer) Transaction(tx cashflow.Transaction) (decimal.Decimal, *Anomaly) {
	concept, ok := n.lookup.Get(tx.ConceptID)
	if !ok {
		return tx.Amount, &Anomaly{
			Kind:      AnomalyUnknownConcept,
			ConceptID: tx.ConceptID,
			AccountID: tx.Account(),
			Date:      tx.Date,
		}
	}
	if concept.FinalSign() {
		return tx.Amount, nil
	}
	return n.policies.Normalize(tx.Amount, concept.Code, tx.Area), nil
}
