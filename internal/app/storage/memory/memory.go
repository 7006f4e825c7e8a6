package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/R3E-Network/storefront/internal/app/domain/audit"
	"github.com/R3E-Network/storefront/internal/app/domain/cart"
	"github.com/R3E-Network/storefront/internal/app/domain/catalog"
	"github.com/R3E-Network/storefront/internal/app/domain/customer"
	"github.com/R3E-Network/storefront/internal/app/domain/order"
	"github.com/R3E-Network/storefront/internal/app/domain/user"
	"github.com/R3E-Network/storefront/internal/app/storage"
)

// Store is an in-memory implementation of the storage interfaces. It is safe
// for concurrent use and is primarily intended for tests and local development.
// A single lock covers every collection so multi-record operations such as
// PlaceOrder are atomic.
type Store struct {
	mu         sync.RWMutex
	categories map[string]catalog.Category
	products   map[string]catalog.Product
	orders     map[string]order.Order
	customers  map[string]customer.Customer
	users      map[string]user.User
	audit      []audit.Entry
	carts      map[string]cart.Cart
}

var _ storage.CatalogStore = (*Store)(nil)
var _ storage.OrderStore = (*Store)(nil)
var _ storage.CustomerStore = (*Store)(nil)
var _ storage.UserStore = (*Store)(nil)
var _ storage.AuditStore = (*Store)(nil)
var _ storage.CartStore = (*Store)(nil)

// New creates an empty store.
func New() *Store {
	return &Store{
		categories: make(map[string]catalog.Category),
		products:   make(map[string]catalog.Product),
		orders:     make(map[string]order.Order),
		customers:  make(map[string]customer.Customer),
		users:      make(map[string]user.User),
		carts:      make(map[string]cart.Cart),
	}
}

func now() time.Time {
	return time.Now().UTC()
}

func page[T any](items []T, limit, offset int) []T {
	if offset >= len(items) {
		return []T{}
	}
	if offset < 0 {
		offset = 0
	}
	end := len(items)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	return items[offset:end]
}

// CatalogStore implementation -------------------------------------------------

func (s *Store) CreateCategory(_ context.Context, cat catalog.Category) (catalog.Category, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.categories {
		if existing.Slug == cat.Slug {
			return catalog.Category{}, storage.ErrConflict
		}
	}
	if cat.ID == "" {
		cat.ID = uuid.NewString()
	} else if _, exists := s.categories[cat.ID]; exists {
		return catalog.Category{}, storage.ErrConflict
	}
	cat.CreatedAt = now()
	cat.UpdatedAt = cat.CreatedAt
	s.categories[cat.ID] = cat
	return cat, nil
}

func (s *Store) GetCategory(_ context.Context, id string) (catalog.Category, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cat, ok := s.categories[id]
	if !ok {
		return catalog.Category{}, storage.ErrNotFound
	}
	return cat, nil
}

func (s *Store) ListCategories(_ context.Context) ([]catalog.Category, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]catalog.Category, 0, len(s.categories))
	for _, cat := range s.categories {
		result = append(result, cat)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result, nil
}

func (s *Store) DeleteCategory(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.categories[id]; !ok {
		return storage.ErrNotFound
	}
	for _, p := range s.products {
		if p.CategoryID == id {
			return storage.ErrConflict
		}
	}
	delete(s.categories, id)
	return nil
}

func (s *Store) productConflictLocked(p catalog.Product) bool {
	for _, existing := range s.products {
		if existing.ID == p.ID {
			continue
		}
		if strings.EqualFold(existing.SKU, p.SKU) || existing.Slug == p.Slug {
			return true
		}
	}
	return false
}

func (s *Store) CreateProduct(_ context.Context, p catalog.Product) (catalog.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if p.ID == "" {
		p.ID = uuid.NewString()
	} else if _, exists := s.products[p.ID]; exists {
		return catalog.Product{}, storage.ErrConflict
	}
	if s.productConflictLocked(p) {
		return catalog.Product{}, storage.ErrConflict
	}
	p.CreatedAt = now()
	p.UpdatedAt = p.CreatedAt
	s.products[p.ID] = p
	return p, nil
}

func (s *Store) UpdateProduct(_ context.Context, p catalog.Product) (catalog.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	original, ok := s.products[p.ID]
	if !ok {
		return catalog.Product{}, storage.ErrNotFound
	}
	if s.productConflictLocked(p) {
		return catalog.Product{}, storage.ErrConflict
	}
	p.CreatedAt = original.CreatedAt
	p.UpdatedAt = now()
	s.products[p.ID] = p
	return p, nil
}

func (s *Store) GetProduct(_ context.Context, id string) (catalog.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.products[id]
	if !ok {
		return catalog.Product{}, storage.ErrNotFound
	}
	return p, nil
}

func (s *Store) findProduct(match func(catalog.Product) bool) (catalog.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, p := range s.products {
		if match(p) {
			return p, nil
		}
	}
	return catalog.Product{}, storage.ErrNotFound
}

func (s *Store) GetProductBySlug(_ context.Context, slug string) (catalog.Product, error) {
	return s.findProduct(func(p catalog.Product) bool { return p.Slug == slug })
}

func (s *Store) GetProductBySKU(_ context.Context, sku string) (catalog.Product, error) {
	return s.findProduct(func(p catalog.Product) bool { return strings.EqualFold(p.SKU, sku) })
}

func (s *Store) ListProducts(_ context.Context, filter catalog.ProductFilter) ([]catalog.Product, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := strings.ToLower(strings.TrimSpace(filter.Query))
	result := make([]catalog.Product, 0)
	for _, p := range s.products {
		if filter.ActiveOnly && !p.Active {
			continue
		}
		if filter.CategoryID != "" && p.CategoryID != filter.CategoryID {
			continue
		}
		if filter.LowStockBelow > 0 && p.Stock >= filter.LowStockBelow {
			continue
		}
		if query != "" && !strings.Contains(strings.ToLower(p.Name), query) && !strings.Contains(strings.ToLower(p.SKU), query) {
			continue
		}
		result = append(result, p)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return page(result, filter.Limit, filter.Offset), len(result), nil
}

func (s *Store) DeleteProduct(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.products[id]; !ok {
		return storage.ErrNotFound
	}
	delete(s.products, id)
	return nil
}

func (s *Store) AdjustStock(_ context.Context, id string, delta int) (catalog.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.products[id]
	if !ok {
		return catalog.Product{}, storage.ErrNotFound
	}
	if p.Stock+delta < 0 {
		return catalog.Product{}, &storage.StockError{ProductID: id, Requested: -delta, Available: p.Stock}
	}
	p.Stock += delta
	p.UpdatedAt = now()
	s.products[id] = p
	return p, nil
}

// OrderStore implementation ---------------------------------------------------

func (s *Store) PlaceOrder(_ context.Context, draft order.Order, shipping order.ShippingRule) (order.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Validate everything before touching stock so a failure leaves no trace.
	need := make(map[string]int)
	for _, it := range draft.Items {
		need[it.ProductID] += it.Quantity
	}
	for id, qty := range need {
		p, ok := s.products[id]
		if !ok || !p.Active {
			return order.Order{}, &storage.UnavailableError{ProductID: id}
		}
		if p.Stock < qty {
			return order.Order{}, &storage.StockError{ProductID: id, Requested: qty, Available: p.Stock}
		}
	}
	for _, existing := range s.orders {
		if draft.Number != "" && existing.Number == draft.Number {
			return order.Order{}, storage.ErrConflict
		}
	}

	ts := now()
	o := draft
	o.ID = uuid.NewString()
	o.Status = order.StatusPending
	o.CreatedAt = ts
	o.UpdatedAt = ts
	o.Items = make([]order.Item, len(draft.Items))
	for i, it := range draft.Items {
		p := s.products[it.ProductID]
		o.Items[i] = order.Item{
			ID:             uuid.NewString(),
			OrderID:        o.ID,
			ProductID:      p.ID,
			SKU:            p.SKU,
			Name:           p.Name,
			UnitPriceCents: p.PriceCents,
			Quantity:       it.Quantity,
		}
	}
	o.Finalize(shipping)

	for id, qty := range need {
		p := s.products[id]
		p.Stock -= qty
		p.UpdatedAt = ts
		s.products[id] = p
	}
	s.orders[o.ID] = cloneOrder(o)
	return o, nil
}

func (s *Store) GetOrder(_ context.Context, id string) (order.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	o, ok := s.orders[id]
	if !ok {
		return order.Order{}, storage.ErrNotFound
	}
	return cloneOrder(o), nil
}

func (s *Store) ListOrders(_ context.Context, filter order.Filter) ([]order.Order, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]order.Order, 0)
	for _, o := range s.orders {
		if filter.Status != "" && o.Status != filter.Status {
			continue
		}
		if filter.CustomerID != "" && o.CustomerID != filter.CustomerID {
			continue
		}
		result = append(result, cloneOrder(o))
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.After(result[j].CreatedAt) })
	return page(result, filter.Limit, filter.Offset), len(result), nil
}

func (s *Store) UpdateOrderStatus(_ context.Context, id string, from, to order.Status, restock bool) (order.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.orders[id]
	if !ok {
		return order.Order{}, storage.ErrNotFound
	}
	if o.Status != from {
		return order.Order{}, storage.ErrConflict
	}
	ts := now()
	if restock {
		for _, it := range o.Items {
			if p, ok := s.products[it.ProductID]; ok {
				p.Stock += it.Quantity
				p.UpdatedAt = ts
				s.products[p.ID] = p
			}
		}
	}
	o.Status = to
	o.UpdatedAt = ts
	s.orders[id] = o
	return cloneOrder(o), nil
}

func (s *Store) OrderStats(_ context.Context) (order.Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := order.Stats{ByStatus: make(map[order.Status]int)}
	for _, o := range s.orders {
		stats.Count++
		stats.ByStatus[o.Status]++
		if o.Status.CountsAsRevenue() {
			stats.RevenueCents += o.TotalCents
		}
	}
	return stats, nil
}

func cloneOrder(o order.Order) order.Order {
	o.Items = append([]order.Item(nil), o.Items...)
	return o
}

// CustomerStore implementation ------------------------------------------------

func (s *Store) UpsertCustomer(_ context.Context, c customer.Customer) (customer.Customer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c.Email = strings.ToLower(strings.TrimSpace(c.Email))
	ts := now()
	for id, existing := range s.customers {
		if existing.Email != c.Email {
			continue
		}
		existing.Name = c.Name
		if c.Phone != "" {
			existing.Phone = c.Phone
		}
		if c.Address != "" {
			existing.Address = c.Address
		}
		existing.UpdatedAt = ts
		s.customers[id] = existing
		return s.withOrderTotalsLocked(existing), nil
	}
	c.ID = uuid.NewString()
	c.CreatedAt = ts
	c.UpdatedAt = ts
	s.customers[c.ID] = c
	return s.withOrderTotalsLocked(c), nil
}

func (s *Store) withOrderTotalsLocked(c customer.Customer) customer.Customer {
	c.OrderCount = 0
	c.TotalSpentCents = 0
	for _, o := range s.orders {
		if o.CustomerID != c.ID {
			continue
		}
		c.OrderCount++
		if o.Status.CountsAsRevenue() {
			c.TotalSpentCents += o.TotalCents
		}
	}
	return c
}

func (s *Store) GetCustomer(_ context.Context, id string) (customer.Customer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.customers[id]
	if !ok {
		return customer.Customer{}, storage.ErrNotFound
	}
	return s.withOrderTotalsLocked(c), nil
}

func (s *Store) ListCustomers(_ context.Context, filter customer.Filter) ([]customer.Customer, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := strings.ToLower(strings.TrimSpace(filter.Query))
	result := make([]customer.Customer, 0)
	for _, c := range s.customers {
		if query != "" && !strings.Contains(c.Email, query) && !strings.Contains(strings.ToLower(c.Name), query) {
			continue
		}
		result = append(result, s.withOrderTotalsLocked(c))
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.After(result[j].CreatedAt) })
	return page(result, filter.Limit, filter.Offset), len(result), nil
}

func (s *Store) UpdateCustomer(_ context.Context, c customer.Customer) (customer.Customer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	original, ok := s.customers[c.ID]
	if !ok {
		return customer.Customer{}, storage.ErrNotFound
	}
	c.Email = strings.ToLower(strings.TrimSpace(c.Email))
	for id, existing := range s.customers {
		if id != c.ID && existing.Email == c.Email {
			return customer.Customer{}, storage.ErrConflict
		}
	}
	c.CreatedAt = original.CreatedAt
	c.UpdatedAt = now()
	s.customers[c.ID] = c
	return s.withOrderTotalsLocked(c), nil
}

func (s *Store) DeleteCustomer(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.customers[id]; !ok {
		return storage.ErrNotFound
	}
	for _, o := range s.orders {
		if o.CustomerID == id {
			return storage.ErrConflict
		}
	}
	delete(s.customers, id)
	return nil
}

// UserStore implementation ----------------------------------------------------

func (s *Store) CreateUser(_ context.Context, u user.User) (user.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u.Email = strings.ToLower(strings.TrimSpace(u.Email))
	for _, existing := range s.users {
		if existing.Email == u.Email {
			return user.User{}, storage.ErrConflict
		}
	}
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	u.CreatedAt = now()
	u.UpdatedAt = u.CreatedAt
	s.users[u.ID] = u
	return u, nil
}

func (s *Store) UpdateUser(_ context.Context, u user.User) (user.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	original, ok := s.users[u.ID]
	if !ok {
		return user.User{}, storage.ErrNotFound
	}
	u.Email = strings.ToLower(strings.TrimSpace(u.Email))
	for id, existing := range s.users {
		if id != u.ID && existing.Email == u.Email {
			return user.User{}, storage.ErrConflict
		}
	}
	if original.IsActiveAdmin() && !u.IsActiveAdmin() && !s.hasOtherAdminLocked(u.ID) {
		return user.User{}, storage.ErrLastAdmin
	}
	u.CreatedAt = original.CreatedAt
	u.UpdatedAt = now()
	s.users[u.ID] = u
	return u, nil
}

func (s *Store) GetUser(_ context.Context, id string) (user.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[id]
	if !ok {
		return user.User{}, storage.ErrNotFound
	}
	return u, nil
}

func (s *Store) GetUserByEmail(_ context.Context, email string) (user.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	email = strings.ToLower(strings.TrimSpace(email))
	for _, u := range s.users {
		if u.Email == email {
			return u, nil
		}
	}
	return user.User{}, storage.ErrNotFound
}

func (s *Store) ListUsers(_ context.Context) ([]user.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]user.User, 0, len(s.users))
	for _, u := range s.users {
		result = append(result, u)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Email < result[j].Email })
	return result, nil
}

func (s *Store) DeleteUser(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[id]
	if !ok {
		return storage.ErrNotFound
	}
	if u.IsActiveAdmin() && !s.hasOtherAdminLocked(id) {
		return storage.ErrLastAdmin
	}
	delete(s.users, id)
	return nil
}

// hasOtherAdminLocked requires s.mu.
func (s *Store) hasOtherAdminLocked(id string) bool {
	for other, u := range s.users {
		if other != id && u.IsActiveAdmin() {
			return true
		}
	}
	return false
}

// AuditStore implementation ---------------------------------------------------

func (s *Store) AppendAudit(_ context.Context, e audit.Entry) (audit.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = now()
	}
	s.audit = append(s.audit, e)
	return e, nil
}

func (s *Store) ListAudit(_ context.Context, filter audit.Filter) ([]audit.Entry, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]audit.Entry, 0)
	for i := len(s.audit) - 1; i >= 0; i-- {
		e := s.audit[i]
		if filter.Action != "" && e.Action != filter.Action {
			continue
		}
		if filter.EntityType != "" && e.EntityType != filter.EntityType {
			continue
		}
		if filter.ActorID != "" && e.ActorID != filter.ActorID {
			continue
		}
		result = append(result, e)
	}
	return page(result, filter.Limit, filter.Offset), len(result), nil
}

// CartStore implementation ----------------------------------------------------

func (s *Store) GetCart(_ context.Context, id string) (cart.Cart, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.carts[id]
	if !ok {
		return cart.Cart{}, storage.ErrNotFound
	}
	c.Items = append([]cart.Item(nil), c.Items...)
	return c, nil
}

func (s *Store) SaveCart(_ context.Context, c cart.Cart) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c.Items = append([]cart.Item(nil), c.Items...)
	c.UpdatedAt = now()
	s.carts[c.ID] = c
	return nil
}

func (s *Store) DeleteCart(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.carts, id)
	return nil
}

func (s *Store) PurgeCarts(_ context.Context, before time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	purged := 0
	for id, c := range s.carts {
		if c.UpdatedAt.Before(before) {
			delete(s.carts, id)
			purged++
		}
	}
	return purged, nil
}
