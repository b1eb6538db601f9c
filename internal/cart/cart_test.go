package cart

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/school-cart/internal/pricing"
)

func TestNthDiscountFollowsAddOrderOnTies(t *testing.T) {
	c := newCart("c1", time.Now())
	c.setQty("s", "zeta", 1)
	c.setQty("s", "alpha", 1)

	products := map[string]pricing.Product{
		"zeta":  {SKU: "zeta", Name: "Zeta", UnitPrice: decimal.NewFromInt(5)},
		"alpha": {SKU: "alpha", Name: "Alpha", UnitPrice: decimal.NewFromInt(5)},
	}
	rules := []pricing.DiscountRule{{Kind: pricing.RuleNthItemPercent, Nth: 2, PercentOff: decimal.NewFromInt(50)}}

	totals := pricing.PriceStore(products, c.LinesFor("s"), rules, decimal.Zero, decimal.Zero)
	require.Len(t, totals.PerItem, 2)
	require.Equal(t, "zeta", totals.PerItem[0].SKU)
	require.Len(t, totals.PerItem[0].Discounts, 1)
	require.Equal(t, "alpha", totals.PerItem[1].SKU)
	require.Empty(t, totals.PerItem[1].Discounts)
}

func TestLinesForFallsBackForUnorderedLines(t *testing.T) {
	c := Cart{Lines: map[string]map[string]int{"s": {"b": 1, "a": 2}}}
	c.setQty("s", "c", 1)
	c.setQty("s", "b", 0)

	require.Equal(t, []pricing.CartLine{{SKU: "c", Qty: 1}, {SKU: "a", Qty: 2}}, c.LinesFor("s"))
}
