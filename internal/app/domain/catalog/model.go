package catalog

import (
	"regexp"
	"strings"
	"time"
)

// Category groups products on the storefront.
type Category struct {
	ID        string    `json:"id" db:"id"`
	Name      string    `json:"name" db:"name"`
	Slug      string    `json:"slug" db:"slug"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// Product is a sellable catalog item. Prices are in minor units.
type Product struct {
	ID          string    `json:"id" db:"id"`
	SKU         string    `json:"sku" db:"sku"`
	Name        string    `json:"name" db:"name"`
	Slug        string    `json:"slug" db:"slug"`
	Description string    `json:"description" db:"description"`
	PriceCents  int64     `json:"price_cents" db:"price_cents"`
	Stock       int       `json:"stock" db:"stock"`
	CategoryID  string    `json:"category_id,omitempty" db:"category_id"`
	ImageURL    string    `json:"image_url,omitempty" db:"image_url"`
	Active      bool      `json:"active" db:"active"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time `json:"updated_at" db:"updated_at"`
}

// InStock reports whether qty units can be sold.
func (p Product) InStock(qty int) bool {
	return p.Active && qty > 0 && p.Stock >= qty
}

// ProductFilter narrows product listings. Zero values mean "no filter".
type ProductFilter struct {
	Query         string
	CategoryID    string
	ActiveOnly    bool
	LowStockBelow int
	Limit         int
	Offset        int
}

var nonSlug = regexp.MustCompile(`[^a-z0-9]+`)

// Slugify turns a display name into a URL slug.
func Slugify(name string) string {
	s := nonSlug.ReplaceAllString(strings.ToLower(strings.TrimSpace(name)), "-")
	return strings.Trim(s, "-")
}
