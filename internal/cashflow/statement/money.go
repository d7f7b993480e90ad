package statement

import (
	"github.com/Rhymond/go-money"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/cashflow/internal/cashflow"
)

// Format renders amount with the currency's symbol and separators.
func Format(amount decimal.Decimal, cur cashflow.Currency) string {
	c := money.GetCurrency(string(cur))
	if c == nil {
		return amount.StringFixed(2) + " " + string(cur)
	}
	minor := amount.Shift(int32(c.Fraction)).Round(0).IntPart()
	return money.New(minor, c.Code).Display()
}
