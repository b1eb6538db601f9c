package cart

import (
	"sort"
	"time"

	"github.com/noah-isme/school-cart/internal/pricing"
)

// Cart is a shopper's basket across every store, keyed by store id then SKU.
// Order keeps each store's SKUs in the sequence they were first added.
type Cart struct {
	ID           string                    `json:"id"`
	Lines        map[string]map[string]int `json:"lines"`
	Order        map[string][]string       `json:"order"`
	AppliedCodes []string                  `json:"appliedCodes"`
	CreatedAt    time.Time                 `json:"createdAt"`
	UpdatedAt    time.Time                 `json:"updatedAt"`
}

func newCart(id string, now time.Time) Cart {
	return Cart{
		ID:           id,
		Lines:        map[string]map[string]int{},
		Order:        map[string][]string{},
		AppliedCodes: []string{},
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

// StoreIDs returns the ids of stores with at least one positive line, sorted.
func (c Cart) StoreIDs() []string {
	ids := make([]string, 0, len(c.Lines))
	for id, skus := range c.Lines {
		for _, qty := range skus {
			if qty > 0 {
				ids = append(ids, id)
				break
			}
		}
	}
	sort.Strings(ids)
	return ids
}

// LinesFor returns the store's lines in the order they were added. SKUs
// missing from the order list (carts saved before it existed) follow, sorted.
func (c Cart) LinesFor(storeID string) []pricing.CartLine {
	skus := c.Lines[storeID]
	out := make([]pricing.CartLine, 0, len(skus))
	seen := make(map[string]bool, len(skus))
	for _, sku := range c.Order[storeID] {
		if qty := skus[sku]; qty > 0 && !seen[sku] {
			seen[sku] = true
			out = append(out, pricing.CartLine{SKU: sku, Qty: qty})
		}
	}
	var rest []pricing.CartLine
	for sku, qty := range skus {
		if qty > 0 && !seen[sku] {
			rest = append(rest, pricing.CartLine{SKU: sku, Qty: qty})
		}
	}
	sort.Slice(rest, func(i, j int) bool { return rest[i].SKU < rest[j].SKU })
	return append(out, rest...)
}

// Qty returns the quantity held for a line.
func (c Cart) Qty(storeID, sku string) int {
	return c.Lines[storeID][sku]
}

// TotalQty sums every line.
func (c Cart) TotalQty() int {
	total := 0
	for _, skus := range c.Lines {
		for _, qty := range skus {
			total += qty
		}
	}
	return total
}

// IsEmpty reports whether the cart holds no items.
func (c Cart) IsEmpty() bool {
	return c.TotalQty() == 0
}

// setQty writes qty for a line; qty <= 0 removes it and empty stores are dropped.
func (c *Cart) setQty(storeID, sku string, qty int) {
	if qty <= 0 {
		skus, ok := c.Lines[storeID]
		if !ok {
			return
		}
		delete(skus, sku)
		if order, ok := c.Order[storeID]; ok {
			c.Order[storeID] = without(order, sku)
		}
		if len(skus) == 0 {
			c.dropStore(storeID)
		}
		return
	}
	if c.Lines == nil {
		c.Lines = map[string]map[string]int{}
	}
	if c.Order == nil {
		c.Order = map[string][]string{}
	}
	if c.Lines[storeID] == nil {
		c.Lines[storeID] = map[string]int{}
	}
	if _, exists := c.Lines[storeID][sku]; !exists {
		c.Order[storeID] = append(without(c.Order[storeID], sku), sku)
	}
	c.Lines[storeID][sku] = qty
}

// dropStore removes a store's lines and its order list.
func (c *Cart) dropStore(storeID string) {
	delete(c.Lines, storeID)
	delete(c.Order, storeID)
}

func without(skus []string, sku string) []string {
	out := skus[:0:0]
	for _, s := range skus {
		if s != sku {
			out = append(out, s)
		}
	}
	return out
}
