package voucher

import (
	"github.com/shopspring/decimal"

	"github.com/noah-isme/school-cart/internal/pricing"
)

// Kind distinguishes percentage codes from fixed-amount codes.
type Kind string

const (
	// KindPercent takes a percentage off the grand total.
	KindPercent Kind = "percent"
	// KindAbsolute takes a fixed amount off the grand total.
	KindAbsolute Kind = "absolute"
)

// Code is a storewide discount code configured for the whole site.
type Code struct {
	Code        string          `json:"code"`
	Kind        Kind            `json:"kind"`
	Amount      decimal.Decimal `json:"amount"`
	Description string          `json:"description"`
}

// Cap limits the combined value of all applied codes. Nil fields mean no limit.
type Cap struct {
	PercentMax  *decimal.Decimal `json:"percentMax"`
	AbsoluteMax *decimal.Decimal `json:"absoluteMax"`
}

// Summary is the checkout-level outcome of stacking discount codes.
type Summary struct {
	GrandTotalBeforeDiscounts pricing.Money `json:"grandTotalBeforeDiscounts"`
	GrandTotalAfterDiscounts  pricing.Money `json:"grandTotalAfterDiscounts"`
	PercentDiscountAmount     pricing.Money `json:"percentDiscountAmount"`
	AbsoluteDiscountAmount    pricing.Money `json:"absoluteDiscountAmount"`
	AppliedCodes              []Code        `json:"appliedCodes"`
	CapApplied                bool          `json:"capApplied"`
	ConfiguredCap             *Cap          `json:"configuredCap"`
	PercentCode               *Code         `json:"percentCode,omitempty"`
}

// HasDiscount reports whether any code contributed a non-zero discount.
func (s Summary) HasDiscount() bool {
	return s.PercentDiscountAmount.IsPositive() || s.AbsoluteDiscountAmount.IsPositive()
}

// ApplyCodes stacks the applied codes on top of the summed store totals.
//
// At most one percent code is expected; enforcement happens when a code is
// applied (see Registry.Apply). When the combined discount exceeds the cap the
// percent code is honoured first and absolute codes absorb what headroom is
// left.
func ApplyCodes(perStore []pricing.StoreTotals, applied []Code, cap *Cap) Summary {
	before := decimal.Zero
	for _, st := range perStore {
		if st.Empty() {
			continue
		}
		before = before.Add(st.StoreTotal)
	}
	before = pricing.Round2(before)

	summary := Summary{
		GrandTotalBeforeDiscounts: before,
		GrandTotalAfterDiscounts:  before,
		PercentDiscountAmount:     decimal.Zero,
		AbsoluteDiscountAmount:    decimal.Zero,
		AppliedCodes:              append([]Code{}, applied...),
		ConfiguredCap:             cap,
	}
	if !before.IsPositive() || len(applied) == 0 {
		return summary
	}

	var percent *Code
	rawAbs := decimal.Zero
	for i := range applied {
		c := applied[i]
		if c.Kind == KindPercent {
			percent = &c
			continue
		}
		rawAbs = rawAbs.Add(decimal.Max(decimal.Zero, c.Amount))
	}
	summary.PercentCode = percent

	rawPercent := decimal.Zero
	if percent != nil && percent.Amount.IsPositive() {
		rawPercent = pricing.Round2(pricing.PercentOf(before, percent.Amount))
	}

	usedPercent, usedAbs := rawPercent, rawAbs
	ceiling := maxAllowed(before, cap)
	if rawPercent.Add(rawAbs).GreaterThan(ceiling) {
		summary.CapApplied = true
		usedPercent = decimal.Min(rawPercent, ceiling)
		usedAbs = decimal.Min(rawAbs, decimal.Max(decimal.Zero, ceiling.Sub(usedPercent)))
	}

	summary.PercentDiscountAmount = usedPercent
	summary.AbsoluteDiscountAmount = usedAbs
	summary.GrandTotalAfterDiscounts = pricing.Round2(decimal.Max(decimal.Zero, before.Sub(usedPercent).Sub(usedAbs)))
	return summary
}

func maxAllowed(before decimal.Decimal, cap *Cap) decimal.Decimal {
	ceiling := before
	if cap == nil {
		return ceiling
	}
	if cap.AbsoluteMax != nil {
		ceiling = decimal.Min(ceiling, decimal.Max(decimal.Zero, *cap.AbsoluteMax))
	}
	if cap.PercentMax != nil {
		ceiling = decimal.Min(ceiling, decimal.Max(decimal.Zero, pricing.PercentOf(before, *cap.PercentMax)))
	}
	return ceiling
}
