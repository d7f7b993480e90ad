package sign

import (
	"math"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/cashflow/internal/cashflow"
	"github.com/odyssey-erp/cashflow/internal/cashflow/concepts"
)

func TestNormalizeEgressAlwaysNonPositive(t *testing.T) {
	for _, raw := range []string{"50000", "-50000", "0", "0.01", "-123456789.99"} {
		amount := decimal.RequireFromString(raw)
		for _, area := range []cashflow.Area{cashflow.AreaTreasury, cashflow.AreaPayroll} {
			got := Normalize(amount, cashflow.SignEgress, area)
			assert.True(t, got.Equal(amount.Abs().Neg()), "E %s in %s", raw, area)
			assert.False(t, got.IsPositive())
		}
	}
}

func TestNormalizeIngressAlwaysNonNegative(t *testing.T) {
	for _, raw := range []string{"1000", "-1000", "0", "-0.5"} {
		amount := decimal.RequireFromString(raw)
		for _, area := range []cashflow.Area{cashflow.AreaTreasury, cashflow.AreaPayroll} {
			got := Normalize(amount, cashflow.SignIngress, area)
			assert.True(t, got.Equal(amount.Abs()), "I %s in %s", raw, area)
			assert.False(t, got.IsNegative())
		}
	}
}

func TestNormalizeNeutralDependsOnArea(t *testing.T) {
	amount := decimal.NewFromInt(-700)

	assert.True(t, Normalize(amount, cashflow.SignNeutral, cashflow.AreaTreasury).Equal(decimal.NewFromInt(700)))
	assert.True(t, Normalize(amount, cashflow.SignNone, cashflow.AreaTreasury).Equal(decimal.NewFromInt(700)))
	assert.True(t, Normalize(amount, cashflow.SignNeutral, cashflow.AreaPayroll).Equal(amount))
	assert.True(t, Normalize(amount, cashflow.SignNone, cashflow.AreaPayroll).Equal(amount))
}

func TestNormalizeFloatRejectsNonFinite(t *testing.T) {
	for _, f := range []float64{math.NaN(), math.Inf(1), math.Inf(-1)} {
		got, ok := NormalizeFloat(f, cashflow.SignIngress, cashflow.AreaTreasury)
		assert.False(t, ok)
		assert.True(t, got.IsZero())
	}
	got, ok := NormalizeFloat(-12.5, cashflow.SignIngress, cashflow.AreaTreasury)
	require.True(t, ok)
	assert.Equal(t, "12.5", got.String())
}

func TestNormalizerTransaction(t *testing.T) {
	n := NewNormalizer(concepts.Default())
	day := time.Date(2025, 3, 4, 0, 0, 0, 0, time.UTC)

	t.Run("egress concept", func(t *testing.T) {
		got, anomaly := n.Transaction(cashflow.Transaction{Date: day, ConceptID: 3, Amount: decimal.NewFromInt(50000), Area: cashflow.AreaPayroll})
		require.Nil(t, anomaly)
		assert.Equal(t, "-50000", got.String())
	})

	t.Run("final sign passes through", func(t *testing.T) {
		got, anomaly := n.Transaction(cashflow.Transaction{Date: day, ConceptID: 53, Amount: decimal.NewFromInt(-900), Area: cashflow.AreaTreasury})
		require.Nil(t, anomaly)
		assert.Equal(t, "-900", got.String())
	})

	t.Run("derived passes through", func(t *testing.T) {
		got, anomaly := n.Transaction(cashflow.Transaction{Date: day, ConceptID: 51, Amount: decimal.NewFromInt(-10), Area: cashflow.AreaTreasury})
		require.Nil(t, anomaly)
		assert.Equal(t, "-10", got.String())
	})

	t.Run("unknown concept is an anomaly", func(t *testing.T) {
		got, anomaly := n.Transaction(cashflow.Transaction{Date: day, ConceptID: 999, AccountID: cashflow.Int64Ptr(7), Amount: decimal.NewFromInt(-42), Area: cashflow.AreaTreasury})
		require.NotNil(t, anomaly)
		assert.Equal(t, AnomalyUnknownConcept, anomaly.Kind)
		assert.Equal(t, int64(7), anomaly.AccountID)
		assert.Equal(t, "-42", got.String())
	})
}
