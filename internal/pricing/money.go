package pricing

import "github.com/shopspring/decimal"

// Money represents a currency amount in major units (dollars, not cents).
type Money = decimal.Decimal

var hundred = decimal.NewFromInt(100)

// Round2 rounds to currency precision using round-half-away-from-zero.
func Round2(v Money) Money {
	return v.Round(2)
}

// PercentOf returns pct percent of v without rounding.
func PercentOf(v Money, pct decimal.Decimal) Money {
	return v.Mul(pct).Div(hundred)
}

func sumRounded(values []Money) Money {
	total := decimal.Zero
	for _, v := range values {
		total = total.Add(v)
	}
	return Round2(total)
}

func validPercent(p decimal.Decimal) bool {
	return !p.IsNegative() && p.LessThanOrEqual(hundred)
}
