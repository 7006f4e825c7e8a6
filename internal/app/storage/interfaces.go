package storage

import (
	"context"
	"time"

	"github.com/R3E-Network/storefront/internal/app/domain/audit"
	"github.com/R3E-Network/storefront/internal/app/domain/cart"
	"github.com/R3E-Network/storefront/internal/app/domain/catalog"
	"github.com/R3E-Network/storefront/internal/app/domain/customer"
	"github.com/R3E-Network/storefront/internal/app/domain/order"
	"github.com/R3E-Network/storefront/internal/app/domain/user"
)

// CatalogStore persists categories and products.
type CatalogStore interface {
	CreateCategory(ctx context.Context, cat catalog.Category) (catalog.Category, error)
	GetCategory(ctx context.Context, id string) (catalog.Category, error)
	ListCategories(ctx context.Context) ([]catalog.Category, error)
	// DeleteCategory fails with ErrConflict while products reference the category.
	DeleteCategory(ctx context.Context, id string) error

	CreateProduct(ctx context.Context, p catalog.Product) (catalog.Product, error)
	UpdateProduct(ctx context.Context, p catalog.Product) (catalog.Product, error)
	GetProduct(ctx context.Context, id string) (catalog.Product, error)
	GetProductBySlug(ctx context.Context, slug string) (catalog.Product, error)
	GetProductBySKU(ctx context.Context, sku string) (catalog.Product, error)
	// ListProducts returns one page plus the total number of matches.
	ListProducts(ctx context.Context, filter catalog.ProductFilter) ([]catalog.Product, int, error)
	DeleteProduct(ctx context.Context, id string) error
	// AdjustStock adds delta to the stock level; the result never goes below zero.
	AdjustStock(ctx context.Context, id string, delta int) (catalog.Product, error)
}

// OrderStore persists orders. PlaceOrder and UpdateOrderStatus are atomic with
// respect to the stock levels they touch.
type OrderStore interface {
	// PlaceOrder reserves stock for every item of draft, snapshots product
	// data into the items, prices the order with shipping and inserts it. Either
	// everything commits or nothing does.
	PlaceOrder(ctx context.Context, draft order.Order, shipping order.ShippingRule) (order.Order, error)
	GetOrder(ctx context.Context, id string) (order.Order, error)
	ListOrders(ctx context.Context, filter order.Filter) ([]order.Order, int, error)
	// UpdateOrderStatus moves an order from `from` to `to`; restock returns the
	// order's quantities to inventory in the same transaction.
	UpdateOrderStatus(ctx context.Context, id string, from, to order.Status, restock bool) (order.Order, error)
	OrderStats(ctx context.Context) (order.Stats, error)
}

// CustomerStore persists customers.
type CustomerStore interface {
	// UpsertCustomer creates or refreshes a customer keyed by lower-cased email.
	UpsertCustomer(ctx context.Context, c customer.Customer) (customer.Customer, error)
	GetCustomer(ctx context.Context, id string) (customer.Customer, error)
	ListCustomers(ctx context.Context, filter customer.Filter) ([]customer.Customer, int, error)
	UpdateCustomer(ctx context.Context, c customer.Customer) (customer.Customer, error)
	// DeleteCustomer fails with ErrConflict while the customer has orders.
	DeleteCustomer(ctx context.Context, id string) error
}

// UserStore persists back-office users.
type UserStore interface {
	CreateUser(ctx context.Context, u user.User) (user.User, error)
	// UpdateUser fails with ErrLastAdmin when it would demote or deactivate
	// the only active admin. The check and the write are atomic.
	UpdateUser(ctx context.Context, u user.User) (user.User, error)
	GetUser(ctx context.Context, id string) (user.User, error)
	GetUserByEmail(ctx context.Context, email string) (user.User, error)
	ListUsers(ctx context.Context) ([]user.User, error)
	// DeleteUser fails with ErrLastAdmin when id is the only active admin.
	DeleteUser(ctx context.Context, id string) error
}

// AuditStore persists audit entries.
type AuditStore interface {
	AppendAudit(ctx context.Context, e audit.Entry) (audit.Entry, error)
	ListAudit(ctx context.Context, filter audit.Filter) ([]audit.Entry, int, error)
}

// CartStore persists shopping carts.
type CartStore interface {
	GetCart(ctx context.Context, id string) (cart.Cart, error)
	SaveCart(ctx context.Context, c cart.Cart) error
	DeleteCart(ctx context.Context, id string) error
	// PurgeCarts drops carts untouched since before. Backends with native
	// expiry may return 0.
	PurgeCarts(ctx context.Context, before time.Time) (int, error)
}

// HTTPAuditStore persists the admin request trail.
type HTTPAuditStore interface {
	AppendHTTPAudit(ctx context.Context, rec audit.HTTPRecord) error
	ListHTTPAudit(ctx context.Context, limit int) ([]audit.HTTPRecord, error)
}
