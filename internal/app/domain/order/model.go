package order

import "time"

// Status is the fulfilment state of an order.
type Status string

const (
	StatusPending   Status = "pending"
	StatusPaid      Status = "paid"
	StatusShipped   Status = "shipped"
	StatusDelivered Status = "delivered"
	StatusCancelled Status = "cancelled"
)

// Statuses lists every status in lifecycle order.
var Statuses = []Status{StatusPending, StatusPaid, StatusShipped, StatusDelivered, StatusCancelled}

var transitions = map[Status][]Status{
	StatusPending: {StatusPaid, StatusCancelled},
	StatusPaid:    {StatusShipped, StatusCancelled},
	StatusShipped: {StatusDelivered},
}

// ParseStatus validates a raw status string.
func ParseStatus(raw string) (Status, bool) {
	for _, s := range Statuses {
		if string(s) == raw {
			return s, true
		}
	}
	return "", false
}

// CanTransition reports whether an order may move from s to next.
func (s Status) CanTransition(next Status) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// CountsAsRevenue reports whether money has been collected for the status.
func (s Status) CountsAsRevenue() bool {
	return s == StatusPaid || s == StatusShipped || s == StatusDelivered
}

// Item is a line on an order. Name, SKU and price are snapshotted at checkout.
type Item struct {
	ID             string `json:"id" db:"id"`
	OrderID        string `json:"-" db:"order_id"`
	ProductID      string `json:"product_id" db:"product_id"`
	SKU            string `json:"sku" db:"sku"`
	Name           string `json:"name" db:"name"`
	UnitPriceCents int64  `json:"unit_price_cents" db:"unit_price_cents"`
	Quantity       int    `json:"quantity" db:"quantity"`
	LineTotalCents int64  `json:"line_total_cents" db:"line_total_cents"`
}

// Order is a placed checkout.
type Order struct {
	ID              string    `json:"id" db:"id"`
	Number          string    `json:"number" db:"number"`
	CustomerID      string    `json:"customer_id" db:"customer_id"`
	Email           string    `json:"email" db:"email"`
	ShippingName    string    `json:"shipping_name" db:"shipping_name"`
	ShippingAddress string    `json:"shipping_address" db:"shipping_address"`
	Phone           string    `json:"phone,omitempty" db:"phone"`
	Notes           string    `json:"notes,omitempty" db:"notes"`
	Status          Status    `json:"status" db:"status"`
	SubtotalCents   int64     `json:"subtotal_cents" db:"subtotal_cents"`
	ShippingCents   int64     `json:"shipping_cents" db:"shipping_cents"`
	TotalCents      int64     `json:"total_cents" db:"total_cents"`
	Items           []Item    `json:"items" db:"-"`
	CreatedAt       time.Time `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time `json:"updated_at" db:"updated_at"`
}

// Filter narrows order listings.
type Filter struct {
	Status     Status
	CustomerID string
	Limit      int
	Offset     int
}

// ShippingRule prices shipping for a subtotal.
type ShippingRule func(subtotalCents int64) int64

// FlatShipping charges flat unless the subtotal reaches freeOver (0 disables
// free shipping).
func FlatShipping(flat, freeOver int64) ShippingRule {
	return func(subtotal int64) int64 {
		if freeOver > 0 && subtotal >= freeOver {
			return 0
		}
		return flat
	}
}

// Stats aggregates orders for the dashboard.
type Stats struct {
	Count        int            `json:"count"`
	ByStatus     map[Status]int `json:"by_status"`
	RevenueCents int64          `json:"revenue_cents"`
}

// Finalize computes line totals, subtotal, shipping and total in place.
func (o *Order) Finalize(shipping ShippingRule) {
	var subtotal int64
	for i := range o.Items {
		o.Items[i].LineTotalCents = o.Items[i].UnitPriceCents * int64(o.Items[i].Quantity)
		subtotal += o.Items[i].LineTotalCents
	}
	o.SubtotalCents = subtotal
	o.ShippingCents = 0
	if shipping != nil {
		o.ShippingCents = shipping(subtotal)
	}
	o.TotalCents = o.SubtotalCents + o.ShippingCents
}
