// Package storagetest holds behavioural tests shared by every storage backend.
package storagetest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/R3E-Network/storefront/internal/app/domain/audit"
	"github.com/R3E-Network/storefront/internal/app/domain/cart"
	"github.com/R3E-Network/storefront/internal/app/domain/catalog"
	"github.com/R3E-Network/storefront/internal/app/domain/customer"
	"github.com/R3E-Network/storefront/internal/app/domain/order"
	"github.com/R3E-Network/storefront/internal/app/domain/user"
	"github.com/R3E-Network/storefront/internal/app/storage"
)

// Backend is the full set of stores a backend must provide.
type Backend interface {
	storage.CatalogStore
	storage.OrderStore
	storage.CustomerStore
	storage.UserStore
	storage.AuditStore
	storage.CartStore
}

// Run executes the suite. newBackend must return an empty backend per call.
func Run(t *testing.T, newBackend func(t *testing.T) Backend) {
	t.Run("Catalog", func(t *testing.T) { testCatalog(t, newBackend(t)) })
	t.Run("PlaceOrder", func(t *testing.T) { testPlaceOrder(t, newBackend(t)) })
	t.Run("PlaceOrderRollsBack", func(t *testing.T) { testPlaceOrderRollback(t, newBackend(t)) })
	t.Run("ConcurrentCheckoutNeverOversells", func(t *testing.T) { testConcurrentCheckout(t, newBackend(t)) })
	t.Run("CancelRestocks", func(t *testing.T) { testCancelRestocks(t, newBackend(t)) })
	t.Run("Customers", func(t *testing.T) { testCustomers(t, newBackend(t)) })
	t.Run("Users", func(t *testing.T) { testUsers(t, newBackend(t)) })
	t.Run("ConcurrentAdminRemovalKeepsOne", func(t *testing.T) { testConcurrentAdminRemoval(t, newBackend(t)) })
	t.Run("Audit", func(t *testing.T) { testAudit(t, newBackend(t)) })
	t.Run("Carts", func(t *testing.T) { testCarts(t, newBackend(t)) })
}

func seedProduct(t *testing.T, b Backend, sku string, price int64, stock int) catalog.Product {
	t.Helper()
	p, err := b.CreateProduct(context.Background(), catalog.Product{
		SKU: sku, Name: "Product " + sku, Slug: catalog.Slugify("product " + sku),
		PriceCents: price, Stock: stock, Active: true,
	})
	require.NoError(t, err)
	return p
}

func seedCustomer(t *testing.T, b Backend, email string) customer.Customer {
	t.Helper()
	c, err := b.UpsertCustomer(context.Background(), customer.Customer{Email: email, Name: "Buyer"})
	require.NoError(t, err)
	return c
}

func draft(c customer.Customer, lines ...order.Item) order.Order {
	return order.Order{
		Number: "ORD-" + uuid.NewString(), CustomerID: c.ID, Email: c.Email,
		ShippingName: c.Name, ShippingAddress: "1 Main St", Items: lines,
	}
}

func testCatalog(t *testing.T, b Backend) {
	ctx := context.Background()

	cat, err := b.CreateCategory(ctx, catalog.Category{Name: "Mugs", Slug: "mugs"})
	require.NoError(t, err)
	_, err = b.CreateCategory(ctx, catalog.Category{Name: "Mugs again", Slug: "mugs"})
	assert.ErrorIs(t, err, storage.ErrConflict)

	p := seedProduct(t, b, "MUG-1", 1200, 4)
	p.CategoryID = cat.ID
	p.Description = "Stoneware"
	p, err = b.UpdateProduct(ctx, p)
	require.NoError(t, err)
	assert.Equal(t, "Stoneware", p.Description)

	_, err = b.CreateProduct(ctx, catalog.Product{SKU: "mug-1", Name: "Dup", Slug: "dup", Active: true})
	assert.ErrorIs(t, err, storage.ErrConflict, "SKU uniqueness is case-insensitive")

	inactive := seedProduct(t, b, "TEE-1", 2000, 1)
	inactive.Active = false
	_, err = b.UpdateProduct(ctx, inactive)
	require.NoError(t, err)

	got, err := b.GetProductBySlug(ctx, p.Slug)
	require.NoError(t, err)
	assert.Equal(t, p.ID, got.ID)
	got, err = b.GetProductBySKU(ctx, "MUG-1")
	require.NoError(t, err)
	assert.Equal(t, p.ID, got.ID)

	list, total, err := b.ListProducts(ctx, catalog.ProductFilter{ActiveOnly: true})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, list, 1)

	list, total, err = b.ListProducts(ctx, catalog.ProductFilter{Query: "tee"})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	assert.Equal(t, "TEE-1", list[0].SKU)

	list, _, err = b.ListProducts(ctx, catalog.ProductFilter{CategoryID: cat.ID})
	require.NoError(t, err)
	require.Len(t, list, 1)

	list, _, err = b.ListProducts(ctx, catalog.ProductFilter{LowStockBelow: 2})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "TEE-1", list[0].SKU)

	list, total, err = b.ListProducts(ctx, catalog.ProductFilter{Limit: 1, Offset: 1})
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	assert.Len(t, list, 1)

	assert.ErrorIs(t, b.DeleteCategory(ctx, cat.ID), storage.ErrConflict)

	adjusted, err := b.AdjustStock(ctx, p.ID, -4)
	require.NoError(t, err)
	assert.Equal(t, 0, adjusted.Stock)
	_, err = b.AdjustStock(ctx, p.ID, -1)
	var stockErr *storage.StockError
	require.ErrorAs(t, err, &stockErr)
	assert.Equal(t, 0, stockErr.Available)

	require.NoError(t, b.DeleteProduct(ctx, p.ID))
	_, err = b.GetProduct(ctx, p.ID)
	assert.ErrorIs(t, err, storage.ErrNotFound)
	require.NoError(t, b.DeleteCategory(ctx, cat.ID))
	assert.ErrorIs(t, b.DeleteCategory(ctx, cat.ID), storage.ErrNotFound)
}

func testPlaceOrder(t *testing.T, b Backend) {
	ctx := context.Background()
	mug := seedProduct(t, b, "MUG-1", 1250, 5)
	tee := seedProduct(t, b, "TEE-1", 300, 2)
	c := seedCustomer(t, b, "Buyer@Example.com")

	placed, err := b.PlaceOrder(ctx, draft(c,
		order.Item{ProductID: mug.ID, Quantity: 2},
		order.Item{ProductID: tee.ID, Quantity: 1},
	), order.FlatShipping(500, 5000))
	require.NoError(t, err)

	assert.NotEmpty(t, placed.ID)
	assert.Equal(t, order.StatusPending, placed.Status)
	assert.Equal(t, int64(2800), placed.SubtotalCents)
	assert.Equal(t, int64(500), placed.ShippingCents)
	assert.Equal(t, int64(3300), placed.TotalCents)
	require.Len(t, placed.Items, 2)
	assert.Equal(t, "MUG-1", placed.Items[0].SKU)
	assert.Equal(t, int64(1250), placed.Items[0].UnitPriceCents)

	mugAfter, err := b.GetProduct(ctx, mug.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, mugAfter.Stock)

	mug.PriceCents = 9999
	mug.Stock = mugAfter.Stock
	_, err = b.UpdateProduct(ctx, mug)
	require.NoError(t, err)

	loaded, err := b.GetOrder(ctx, placed.ID)
	require.NoError(t, err)
	assert.Equal(t, placed.Number, loaded.Number)
	require.Len(t, loaded.Items, 2)
	assert.Equal(t, int64(1250), loaded.Items[0].UnitPriceCents, "prices are snapshotted")

	list, total, err := b.ListOrders(ctx, order.Filter{CustomerID: c.ID})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, list, 1)
	assert.Len(t, list[0].Items, 2)

	stats, err := b.OrderStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Count)
	assert.Equal(t, 1, stats.ByStatus[order.StatusPending])
	assert.Zero(t, stats.RevenueCents)

	_, err = b.UpdateOrderStatus(ctx, placed.ID, order.StatusPending, order.StatusPaid, false)
	require.NoError(t, err)
	stats, err = b.OrderStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3300), stats.RevenueCents)

	withTotals, err := b.GetCustomer(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, withTotals.OrderCount)
	assert.Equal(t, int64(3300), withTotals.TotalSpentCents)

	_, err = b.UpdateOrderStatus(ctx, placed.ID, order.StatusPending, order.StatusCancelled, true)
	assert.ErrorIs(t, err, storage.ErrConflict, "stale from-status must not apply")
}

func testPlaceOrderRollback(t *testing.T, b Backend) {
	ctx := context.Background()
	plenty := seedProduct(t, b, "A-1", 100, 10)
	scarce := seedProduct(t, b, "B-1", 100, 1)
	c := seedCustomer(t, b, "rollback@example.com")

	_, err := b.PlaceOrder(ctx, draft(c,
		order.Item{ProductID: plenty.ID, Quantity: 3},
		order.Item{ProductID: scarce.ID, Quantity: 2},
	), nil)
	var stockErr *storage.StockError
	require.ErrorAs(t, err, &stockErr)
	assert.Equal(t, scarce.ID, stockErr.ProductID)
	assert.Equal(t, 1, stockErr.Available)

	after, err := b.GetProduct(ctx, plenty.ID)
	require.NoError(t, err)
	assert.Equal(t, 10, after.Stock, "earlier decrements must roll back")

	scarce.Active = false
	_, err = b.UpdateProduct(ctx, scarce)
	require.NoError(t, err)
	_, err = b.PlaceOrder(ctx, draft(c, order.Item{ProductID: scarce.ID, Quantity: 1}), nil)
	assert.ErrorIs(t, err, storage.ErrUnavailable)

	_, err = b.PlaceOrder(ctx, draft(c, order.Item{ProductID: "missing", Quantity: 1}), nil)
	assert.ErrorIs(t, err, storage.ErrUnavailable)

	_, total, err := b.ListOrders(ctx, order.Filter{})
	require.NoError(t, err)
	assert.Zero(t, total)
}

func testConcurrentCheckout(t *testing.T, b Backend) {
	ctx := context.Background()
	p := seedProduct(t, b, "HOT-1", 100, 5)
	c := seedCustomer(t, b, "race@example.com")

	const buyers = 12
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		placed   int
		rejected int
	)
	for i := 0; i < buyers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := b.PlaceOrder(ctx, draft(c, order.Item{ProductID: p.ID, Quantity: 1}), nil)
			mu.Lock()
			defer mu.Unlock()
			var stockErr *storage.StockError
			switch {
			case err == nil:
				placed++
			case errors.As(err, &stockErr):
				rejected++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 5, placed)
	assert.Equal(t, buyers-5, rejected)
	after, err := b.GetProduct(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, after.Stock)
}

func testCancelRestocks(t *testing.T, b Backend) {
	ctx := context.Background()
	p := seedProduct(t, b, "C-1", 100, 3)
	c := seedCustomer(t, b, "cancel@example.com")

	placed, err := b.PlaceOrder(ctx, draft(c, order.Item{ProductID: p.ID, Quantity: 2}), nil)
	require.NoError(t, err)

	cancelled, err := b.UpdateOrderStatus(ctx, placed.ID, order.StatusPending, order.StatusCancelled, true)
	require.NoError(t, err)
	assert.Equal(t, order.StatusCancelled, cancelled.Status)

	after, err := b.GetProduct(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, after.Stock)

	_, err = b.UpdateOrderStatus(ctx, "missing", order.StatusPending, order.StatusPaid, false)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func testCustomers(t *testing.T, b Backend) {
	ctx := context.Background()

	first, err := b.UpsertCustomer(ctx, customer.Customer{Email: "Ann@Example.com", Name: "Ann", Phone: "555"})
	require.NoError(t, err)
	assert.Equal(t, "ann@example.com", first.Email)

	second, err := b.UpsertCustomer(ctx, customer.Customer{Email: "ann@example.com", Name: "Ann B"})
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, "Ann B", second.Name)
	assert.Equal(t, "555", second.Phone, "blank fields do not erase stored values")

	other, err := b.UpsertCustomer(ctx, customer.Customer{Email: "bob@example.com", Name: "Bob"})
	require.NoError(t, err)

	list, total, err := b.ListCustomers(ctx, customer.Filter{Query: "ann"})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, list, 1)

	other.Email = "ann@example.com"
	_, err = b.UpdateCustomer(ctx, other)
	assert.ErrorIs(t, err, storage.ErrConflict)

	p := seedProduct(t, b, "CU-1", 100, 1)
	_, err = b.PlaceOrder(ctx, draft(first, order.Item{ProductID: p.ID, Quantity: 1}), nil)
	require.NoError(t, err)
	assert.ErrorIs(t, b.DeleteCustomer(ctx, first.ID), storage.ErrConflict)

	require.NoError(t, b.DeleteCustomer(ctx, other.ID))
	_, err = b.GetCustomer(ctx, other.ID)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func testUsers(t *testing.T, b Backend) {
	ctx := context.Background()

	admin, err := b.CreateUser(ctx, user.User{Email: "Root@Example.com", Name: "Root", Role: user.RoleAdmin, PasswordHash: "x", Active: true})
	require.NoError(t, err)
	_, err = b.CreateUser(ctx, user.User{Email: "root@example.com", Name: "Dup", Role: user.RoleStaff, PasswordHash: "x", Active: true})
	assert.ErrorIs(t, err, storage.ErrConflict)

	staff, err := b.CreateUser(ctx, user.User{Email: "staff@example.com", Name: "Staff", Role: user.RoleStaff, PasswordHash: "x", Active: true})
	require.NoError(t, err)

	got, err := b.GetUserByEmail(ctx, "ROOT@example.com")
	require.NoError(t, err)
	assert.Equal(t, admin.ID, got.ID)

	root := admin
	root.Role = user.RoleStaff
	_, err = b.UpdateUser(ctx, root)
	assert.ErrorIs(t, err, storage.ErrLastAdmin)
	root.Role, root.Active = user.RoleAdmin, false
	_, err = b.UpdateUser(ctx, root)
	assert.ErrorIs(t, err, storage.ErrLastAdmin)
	assert.ErrorIs(t, b.DeleteUser(ctx, admin.ID), storage.ErrLastAdmin)

	login := time.Now().UTC().Truncate(time.Second)
	staff.Role = user.RoleAdmin
	staff.LastLoginAt = &login
	staff, err = b.UpdateUser(ctx, staff)
	require.NoError(t, err)

	reloaded, err := b.GetUser(ctx, staff.ID)
	require.NoError(t, err)
	require.NotNil(t, reloaded.LastLoginAt)
	assert.True(t, reloaded.LastLoginAt.Equal(login))

	users, err := b.ListUsers(ctx)
	require.NoError(t, err)
	assert.Len(t, users, 2)

	require.NoError(t, b.DeleteUser(ctx, staff.ID))
	assert.ErrorIs(t, b.DeleteUser(ctx, staff.ID), storage.ErrNotFound)

	got, err = b.GetUser(ctx, admin.ID)
	require.NoError(t, err)
	assert.True(t, got.IsActiveAdmin())
}

func testConcurrentAdminRemoval(t *testing.T, b Backend) {
	ctx := context.Background()

	const admins = 6
	ids := make([]string, admins)
	for i := range ids {
		u, err := b.CreateUser(ctx, user.User{
			Email: uuid.NewString() + "@example.com", Name: "Admin", Role: user.RoleAdmin, PasswordHash: "x", Active: true,
		})
		require.NoError(t, err)
		ids[i] = u.ID
	}

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		removed int
		refused int
	)
	for i, id := range ids {
		wg.Add(1)
		go func(i int, id string) {
			defer wg.Done()
			var err error
			if i%2 == 0 {
				err = b.DeleteUser(ctx, id)
			} else {
				var u user.User
				if u, err = b.GetUser(ctx, id); err == nil {
					u.Role = user.RoleStaff
					_, err = b.UpdateUser(ctx, u)
				}
			}
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				removed++
			case errors.Is(err, storage.ErrLastAdmin):
				refused++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(i, id)
	}
	wg.Wait()

	assert.Equal(t, admins-1, removed)
	assert.Equal(t, 1, refused)

	users, err := b.ListUsers(ctx)
	require.NoError(t, err)
	remaining := 0
	for _, u := range users {
		if u.IsActiveAdmin() {
			remaining++
		}
	}
	assert.Equal(t, 1, remaining)
}

func testAudit(t *testing.T, b Backend) {
	ctx := context.Background()
	for i, action := range []string{"product.create", "product.update", "order.status"} {
		_, err := b.AppendAudit(ctx, audit.Entry{
			ActorID: "u1", ActorEmail: "a@example.com", Action: action,
			EntityType: action[:len(action)-7], EntityID: "e",
			Details:   map[string]interface{}{"n": float64(i)},
			CreatedAt: time.Now().UTC().Add(time.Duration(i) * time.Second),
		})
		require.NoError(t, err)
	}

	all, total, err := b.ListAudit(ctx, audit.Filter{})
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	require.Len(t, all, 3)
	assert.Equal(t, "order.status", all[0].Action, "newest first")
	assert.Equal(t, float64(2), all[0].Details["n"])

	filtered, total, err := b.ListAudit(ctx, audit.Filter{Action: "product.update"})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, filtered, 1)

	paged, total, err := b.ListAudit(ctx, audit.Filter{Limit: 2, Offset: 2})
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	require.Len(t, paged, 1)
	assert.Equal(t, "product.create", paged[0].Action)
}

func testCarts(t *testing.T, b Backend) {
	ctx := context.Background()

	_, err := b.GetCart(ctx, "nope")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	c := cart.Cart{ID: "cart-1", Items: []cart.Item{{ProductID: "p1", Quantity: 2}}}
	require.NoError(t, b.SaveCart(ctx, c))
	got, err := b.GetCart(ctx, "cart-1")
	require.NoError(t, err)
	assert.Equal(t, 2, got.Quantity("p1"))

	purged, err := b.PurgeCarts(ctx, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.Zero(t, purged)

	require.NoError(t, b.DeleteCart(ctx, "cart-1"))
	_, err = b.GetCart(ctx, "cart-1")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}
