package pricing

import "github.com/shopspring/decimal"

// RuleKind tags the variant held by a DiscountRule.
type RuleKind string

const (
	// RuleNthItemPercent discounts every nth cheapest unit in the store cart.
	RuleNthItemPercent RuleKind = "nthItemPercent"
	// RuleOverallPercent applies a storewide percentage after nth-item discounts.
	RuleOverallPercent RuleKind = "overallPercent"
	// RuleShippingThreshold reduces shipping once the items total reaches a threshold.
	RuleShippingThreshold RuleKind = "shippingThreshold"
)

// Product is immutable catalog reference data.
type Product struct {
	SKU       string `json:"sku"`
	Name      string `json:"name"`
	UnitPrice Money  `json:"price"`
	Image     string `json:"img"`
}

// CartLine is a snapshot of a shopper's quantity for one SKU.
type CartLine struct {
	SKU string `json:"sku"`
	Qty int    `json:"qty"`
}

// DiscountRule is a tagged union; only the fields relevant to Kind are read.
// Threshold is nil when the document omits it, which makes a shipping rule
// malformed.
type DiscountRule struct {
	Kind               RuleKind         `json:"type"`
	Nth                int              `json:"nth,omitempty"`
	PercentOff         decimal.Decimal  `json:"percentOff"`
	Threshold          *decimal.Decimal `json:"threshold,omitempty"`
	ShippingPercentOff decimal.Decimal  `json:"shippingPercentOff"`
}

// ItemDiscount is one discount attributed to a priced item.
type ItemDiscount struct {
	Kind   RuleKind `json:"kind"`
	Label  string   `json:"label"`
	Amount Money    `json:"amount"`
}

// PricedItem is the per-SKU breakdown inside a store.
type PricedItem struct {
	SKU               string         `json:"sku"`
	Name              string         `json:"name"`
	Image             string         `json:"img"`
	Qty               int            `json:"qty"`
	UnitPrice         Money          `json:"unitPrice"`
	OriginalLineTotal Money          `json:"originalLineTotal"`
	Discounts         []ItemDiscount `json:"discounts"`
	FinalLineTotal    Money          `json:"finalLineTotal"`
}

// DiscountTotal returns the rounded sum of the item's discounts.
func (i PricedItem) DiscountTotal() Money {
	amounts := make([]Money, 0, len(i.Discounts))
	for _, d := range i.Discounts {
		amounts = append(amounts, d.Amount)
	}
	return sumRounded(amounts)
}

// AppliedUnit records a single unit that received the nth-item discount.
type AppliedUnit struct {
	SKU       string `json:"sku"`
	UnitPrice Money  `json:"unitPrice"`
	Amount    Money  `json:"amount"`
}

// StoreTotals is the full price breakdown for one store.
type StoreTotals struct {
	ItemsSubtotal    Money        `json:"itemsSubtotal"`
	ItemsDiscount    Money        `json:"itemsDiscount"`
	ItemsNet         Money        `json:"itemsNet"`
	ShippingBase     Money        `json:"shippingBase"`
	ShippingDiscount Money        `json:"shippingDiscount"`
	ShippingNet      Money        `json:"shippingNet"`
	GST              Money        `json:"gst"`
	StoreTotal       Money        `json:"storeTotal"`
	PerItem          []PricedItem `json:"perItem"`

	NthAppliedUnits []AppliedUnit   `json:"nthAppliedUnits"`
	OverallPercent  decimal.Decimal `json:"overallPercent"`
}

// Empty reports whether the store has no priced items.
func (t StoreTotals) Empty() bool {
	return len(t.PerItem) == 0
}
