package pricing

import (
	"fmt"
	"sort"

	"github.com/shopspring/decimal"
)

type unit struct {
	sku   string
	price Money
	item  int
}

type ruleSet struct {
	nth      *DiscountRule
	overall  *DiscountRule
	shipping *DiscountRule
}

// PriceStore computes the itemised breakdown for one store's cart lines.
//
// Rules are applied in a fixed order: nth-item percent on the globally
// cheapest units, storewide percent allocated proportionally over what is
// left, then the shipping threshold against the discounted items total. GST
// is charged on items only. The inputs are never mutated.
func PriceStore(catalog map[string]Product, lines []CartLine, rules []DiscountRule, shippingBaseFee, gstRate Money) StoreTotals {
	perItem, units := expand(catalog, lines)
	if len(perItem) == 0 {
		return StoreTotals{
			PerItem:         []PricedItem{},
			NthAppliedUnits: []AppliedUnit{},
		}
	}
	rs := resolveRules(rules)

	originals := make([]Money, 0, len(perItem))
	for _, it := range perItem {
		originals = append(originals, it.OriginalLineTotal)
	}
	itemsSubtotal := sumRounded(originals)

	applied := []AppliedUnit{}
	if rs.nth != nil {
		applied = applyNth(perItem, units, *rs.nth)
	}

	overallPct := decimal.Zero
	if rs.overall != nil {
		overallPct = rs.overall.PercentOff
		applyOverall(perItem, overallPct)
	}

	discounts := make([]Money, 0, len(perItem))
	for idx := range perItem {
		d := perItem[idx].DiscountTotal()
		discounts = append(discounts, d)
		perItem[idx].FinalLineTotal = Round2(perItem[idx].OriginalLineTotal.Sub(d))
	}
	itemsDiscount := sumRounded(discounts)
	itemsNet := Round2(itemsSubtotal.Sub(itemsDiscount))

	shippingBase := Round2(decimal.Max(decimal.Zero, shippingBaseFee))
	shippingDiscount := decimal.Zero
	if rs.shipping != nil && itemsNet.GreaterThanOrEqual(*rs.shipping.Threshold) {
		shippingDiscount = Round2(PercentOf(shippingBase, rs.shipping.ShippingPercentOff))
	}
	shippingNet := Round2(decimal.Max(decimal.Zero, shippingBase.Sub(shippingDiscount)))

	gst := Round2(itemsNet.Mul(gstRate))
	storeTotal := Round2(itemsNet.Add(gst).Add(shippingNet))

	return StoreTotals{
		ItemsSubtotal:    itemsSubtotal,
		ItemsDiscount:    itemsDiscount,
		ItemsNet:         itemsNet,
		ShippingBase:     shippingBase,
		ShippingDiscount: shippingDiscount,
		ShippingNet:      shippingNet,
		GST:              gst,
		StoreTotal:       storeTotal,
		PerItem:          perItem,
		NthAppliedUnits:  applied,
		OverallPercent:   overallPct,
	}
}

// expand builds one PricedItem per SKU (first-seen order) and one unit entry
// per purchased unit. Duplicate lines for the same SKU are merged.
func expand(catalog map[string]Product, lines []CartLine) ([]PricedItem, []unit) {
	perItem := make([]PricedItem, 0, len(lines))
	index := make(map[string]int, len(lines))
	for _, line := range lines {
		p, ok := catalog[line.SKU]
		if !ok || line.Qty <= 0 {
			continue
		}
		if idx, seen := index[line.SKU]; seen {
			perItem[idx].Qty += line.Qty
			continue
		}
		index[line.SKU] = len(perItem)
		perItem = append(perItem, PricedItem{
			SKU:       line.SKU,
			Name:      p.Name,
			Image:     p.Image,
			Qty:       line.Qty,
			UnitPrice: p.UnitPrice,
			Discounts: []ItemDiscount{},
		})
	}

	var units []unit
	for idx := range perItem {
		it := &perItem[idx]
		it.OriginalLineTotal = Round2(it.UnitPrice.Mul(decimal.NewFromInt(int64(it.Qty))))
		for i := 0; i < it.Qty; i++ {
			units = append(units, unit{sku: it.SKU, price: it.UnitPrice, item: idx})
		}
	}
	return perItem, units
}

// resolveRules keeps the first well-formed rule of each kind.
func resolveRules(rules []DiscountRule) ruleSet {
	var rs ruleSet
	for i := range rules {
		r := rules[i]
		switch r.Kind {
		case RuleNthItemPercent:
			if rs.nth == nil && r.Nth > 0 && validPercent(r.PercentOff) {
				rs.nth = &r
			}
		case RuleOverallPercent:
			if rs.overall == nil && validPercent(r.PercentOff) {
				rs.overall = &r
			}
		case RuleShippingThreshold:
			if rs.shipping == nil && r.Threshold != nil && !r.Threshold.IsNegative() && validPercent(r.ShippingPercentOff) {
				rs.shipping = &r
			}
		}
	}
	return rs
}

func applyNth(perItem []PricedItem, units []unit, rule DiscountRule) []AppliedUnit {
	applied := []AppliedUnit{}
	k := len(units) / rule.Nth
	if k == 0 {
		return applied
	}
	sorted := make([]unit, len(units))
	copy(sorted, units)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].price.LessThan(sorted[j].price)
	})
	label := fmt.Sprintf("Nth item %s%% off", rule.PercentOff.String())
	for _, u := range sorted[:k] {
		amt := Round2(PercentOf(u.price, rule.PercentOff))
		if !amt.IsPositive() {
			continue
		}
		perItem[u.item].Discounts = append(perItem[u.item].Discounts, ItemDiscount{
			Kind:   RuleNthItemPercent,
			Label:  label,
			Amount: amt,
		})
		applied = append(applied, AppliedUnit{SKU: u.sku, UnitPrice: u.price, Amount: amt})
	}
	return applied
}

// applyOverall spreads the storewide discount over items in proportion to
// their remaining base. The last item with a positive base takes the
// remainder so the allocations add up to the target to the cent.
func applyOverall(perItem []PricedItem, pct decimal.Decimal) {
	bases := make([]Money, len(perItem))
	remaining := make([]Money, 0, len(perItem))
	last := -1
	for idx, it := range perItem {
		bases[idx] = Round2(it.OriginalLineTotal.Sub(it.DiscountTotal()))
		remaining = append(remaining, bases[idx])
		if bases[idx].IsPositive() {
			last = idx
		}
	}
	afterNthBase := sumRounded(remaining)
	if !afterNthBase.IsPositive() || last < 0 {
		return
	}

	target := Round2(PercentOf(afterNthBase, pct))
	label := fmt.Sprintf("Storewide %s%% off", pct.String())
	running := decimal.Zero
	for idx := range perItem {
		base := bases[idx]
		if !base.IsPositive() {
			continue
		}
		var alloc Money
		if idx == last {
			alloc = Round2(target.Sub(running))
		} else {
			alloc = Round2(base.Mul(target).Div(afterNthBase))
			// never hand out more than the target across earlier items
			alloc = decimal.Min(alloc, Round2(target.Sub(running)))
			running = Round2(running.Add(alloc))
		}
		if alloc.IsPositive() {
			perItem[idx].Discounts = append(perItem[idx].Discounts, ItemDiscount{
				Kind:   RuleOverallPercent,
				Label:  label,
				Amount: alloc,
			})
		}
	}
}
