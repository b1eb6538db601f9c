package order

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/noah-isme/school-cart/internal/payment"
	"github.com/noah-isme/school-cart/internal/pricing"
	"github.com/noah-isme/school-cart/internal/voucher"
)

// Justification explains why the buyer needs one of the purchased items.
type Justification struct {
	SKU  string `json:"sku" validate:"required"`
	Text string `json:"text" validate:"required,max=500"`
}

// Item is a priced line as recorded on the receipt.
type Item struct {
	StoreID           string                 `json:"storeId"`
	StoreName         string                 `json:"storeName,omitempty"`
	SKU               string                 `json:"sku"`
	Name              string                 `json:"name"`
	Img               string                 `json:"img,omitempty"`
	Qty               int                    `json:"qty"`
	UnitPrice         decimal.Decimal        `json:"unitPrice"`
	OriginalLineTotal decimal.Decimal        `json:"originalLineTotal"`
	FinalLineTotal    decimal.Decimal        `json:"finalLineTotal"`
	Discounts         []pricing.ItemDiscount `json:"discounts"`
	LineTotal         decimal.Decimal        `json:"lineTotal"`
}

// StoreTotals is one store's breakdown as recorded on the receipt.
type StoreTotals struct {
	StoreID          string          `json:"storeId"`
	StoreName        string          `json:"storeName,omitempty"`
	ItemsSubtotal    decimal.Decimal `json:"itemsSubtotal"`
	ItemsDiscount    decimal.Decimal `json:"itemsDiscount"`
	ItemsNet         decimal.Decimal `json:"itemsNet"`
	ShippingBase     decimal.Decimal `json:"shippingBase"`
	ShippingDiscount decimal.Decimal `json:"shippingDiscount"`
	ShippingNet      decimal.Decimal `json:"shippingNet"`
	GST              decimal.Decimal `json:"gst"`
	StoreTotal       decimal.Decimal `json:"storeTotal"`
}

// NewStoreTotals copies the headline figures out of a priced store.
func NewStoreTotals(storeID, storeName string, t pricing.StoreTotals) StoreTotals {
	return StoreTotals{
		StoreID:          storeID,
		StoreName:        storeName,
		ItemsSubtotal:    t.ItemsSubtotal,
		ItemsDiscount:    t.ItemsDiscount,
		ItemsNet:         t.ItemsNet,
		ShippingBase:     t.ShippingBase,
		ShippingDiscount: t.ShippingDiscount,
		ShippingNet:      t.ShippingNet,
		GST:              t.GST,
		StoreTotal:       t.StoreTotal,
	}
}

// Payload is the full order document stored with the order and posted to the
// receipt endpoint.
type Payload struct {
	Name             string              `json:"name"`
	ClassName        string              `json:"className"`
	Justifications   []Justification     `json:"justifications"`
	Items            []Item              `json:"items"`
	ItemsByStore     map[string][]Item   `json:"itemsByStore"`
	PerStoreTotals   []StoreTotals       `json:"perStoreTotals"`
	OverallDiscounts *voucher.Summary    `json:"overallDiscounts,omitempty"`
	GrandTotal       decimal.Decimal     `json:"grandTotal"`
	PaymentInfo      payment.PaymentInfo `json:"paymentInfo"`
	CreatedAt        time.Time           `json:"createdAt"`
	IdemKey          string              `json:"idemKey"`
}

// GroupByStoreName indexes items by store name, falling back to "Store".
func GroupByStoreName(items []Item) map[string][]Item {
	out := make(map[string][]Item)
	for _, it := range items {
		name := it.StoreName
		if name == "" {
			name = "Store"
		}
		out[name] = append(out[name], it)
	}
	return out
}

// Order is a persisted checkout.
type Order struct {
	ID         uuid.UUID       `json:"id"`
	IdemKey    string          `json:"idemKey"`
	GrandTotal decimal.Decimal `json:"grandTotal"`
	Payload    Payload         `json:"payload"`
	CreatedAt  time.Time       `json:"createdAt"`
}
