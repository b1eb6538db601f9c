package catalog

import (
	"github.com/shopspring/decimal"

	"github.com/noah-isme/school-cart/internal/pricing"
	"github.com/noah-isme/school-cart/internal/voucher"
)

// DefaultSiteTitle is used when index.json does not name the site.
const DefaultSiteTitle = "School Cart"

// StoreSummary is a store entry in the site index.
type StoreSummary struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Cover string `json:"cover,omitempty"`
}

// Site is the parsed site index.
type Site struct {
	Title         string          `json:"title"`
	Classes       []string        `json:"classes"`
	Stores        []StoreSummary  `json:"stores"`
	GST           decimal.Decimal `json:"gst"`
	DiscountCodes []voucher.Code  `json:"discountCodes"`
	DiscountCap   *voucher.Cap    `json:"discountCap"`
}

// HasClass reports whether name is one of the configured classes. An empty
// class list accepts anything.
func (s Site) HasClass(name string) bool {
	if len(s.Classes) == 0 {
		return true
	}
	for _, c := range s.Classes {
		if c == name {
			return true
		}
	}
	return false
}

// Alert is a banner message shown on a store page.
type Alert struct {
	Message  string `json:"message"`
	Severity string `json:"severity,omitempty"`
}

// Shipping holds store shipping settings.
type Shipping struct {
	BaseFee decimal.Decimal `json:"baseFee"`
}

// Constraints holds per-store cart limits.
type Constraints struct {
	MaxQtyPerItem int `json:"maxQtyPerItem"`
}

// Store is a full store document.
type Store struct {
	ID          string                 `json:"id"`
	Name        string                 `json:"name"`
	Alerts      []Alert                `json:"alerts,omitempty"`
	Shipping    Shipping               `json:"shipping"`
	Constraints Constraints            `json:"constraints"`
	Discounts   []pricing.DiscountRule `json:"discounts"`
	Products    []pricing.Product      `json:"products"`
}

// ProductsBySKU indexes the store's products.
func (s Store) ProductsBySKU() map[string]pricing.Product {
	out := make(map[string]pricing.Product, len(s.Products))
	for _, p := range s.Products {
		out[p.SKU] = p
	}
	return out
}

// ClampQty limits qty to the store's per-item maximum when one is set.
func (s Store) ClampQty(qty int) int {
	if s.Constraints.MaxQtyPerItem > 0 && qty > s.Constraints.MaxQtyPerItem {
		return s.Constraints.MaxQtyPerItem
	}
	return qty
}
