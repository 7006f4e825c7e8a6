package cart

import "time"

// Item is a product reference held in a cart.
type Item struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

// Cart is an anonymous shopping cart keyed by an opaque ID.
type Cart struct {
	ID        string    `json:"id"`
	Items     []Item    `json:"items"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Quantity returns the quantity held for productID.
func (c Cart) Quantity(productID string) int {
	for _, it := range c.Items {
		if it.ProductID == productID {
			return it.Quantity
		}
	}
	return 0
}

// Set replaces the quantity for productID; qty <= 0 removes the line.
// Line order is preserved.
func (c *Cart) Set(productID string, qty int) {
	for i, it := range c.Items {
		if it.ProductID != productID {
			continue
		}
		if qty <= 0 {
			c.Items = append(c.Items[:i], c.Items[i+1:]...)
		} else {
			c.Items[i].Quantity = qty
		}
		return
	}
	if qty > 0 {
		c.Items = append(c.Items, Item{ProductID: productID, Quantity: qty})
	}
}

// Line is a priced cart row resolved against the live catalog.
type Line struct {
	ProductID      string `json:"product_id"`
	SKU            string `json:"sku"`
	Name           string `json:"name"`
	Slug           string `json:"slug"`
	UnitPriceCents int64  `json:"unit_price_cents"`
	Quantity       int    `json:"quantity"`
	LineTotalCents int64  `json:"line_total_cents"`
	Available      bool   `json:"available"`
}

// View is the priced representation of a cart.
type View struct {
	CartID        string `json:"cart_id"`
	Lines         []Line `json:"lines"`
	ItemCount     int    `json:"item_count"`
	SubtotalCents int64  `json:"subtotal_cents"`
}
