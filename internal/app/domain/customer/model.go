package customer

import "time"

// Customer is a storefront buyer, identified by email.
type Customer struct {
	ID              string    `json:"id" db:"id"`
	Email           string    `json:"email" db:"email"`
	Name            string    `json:"name" db:"name"`
	Phone           string    `json:"phone,omitempty" db:"phone"`
	Address         string    `json:"address,omitempty" db:"address"`
	OrderCount      int       `json:"order_count" db:"order_count"`
	TotalSpentCents int64     `json:"total_spent_cents" db:"total_spent_cents"`
	CreatedAt       time.Time `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time `json:"updated_at" db:"updated_at"`
}

// Filter narrows customer listings.
type Filter struct {
	Query  string
	Limit  int
	Offset int
}
