package sqlstore

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/R3E-Network/storefront/internal/app/domain/audit"
	"github.com/R3E-Network/storefront/internal/app/domain/catalog"
	"github.com/R3E-Network/storefront/internal/app/domain/order"
	"github.com/R3E-Network/storefront/internal/app/storage"
	"github.com/R3E-Network/storefront/internal/app/storage/storagetest"
	"github.com/R3E-Network/storefront/internal/config"
	"github.com/R3E-Network/storefront/internal/platform/database"
	"github.com/R3E-Network/storefront/internal/platform/migrations"
)

func openStore(t *testing.T, cfg config.DatabaseConfig) *Store {
	t.Helper()
	ctx := context.Background()

	db, err := database.Open(ctx, cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	conn, release := db.Acquire()
	err = migrations.Apply(ctx, conn.DB)
	release()
	require.NoError(t, err)
	return New(db)
}

func TestSQLiteConformance(t *testing.T) {
	storagetest.Run(t, func(t *testing.T) storagetest.Backend {
		return openStore(t, config.DatabaseConfig{
			Driver: "sqlite",
			DSN:    filepath.Join(t.TempDir(), "store.db"),
		})
	})
}

func TestPostgresConformance(t *testing.T) {
	dsn := os.Getenv("TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("TEST_POSTGRES_DSN not set; skipping postgres integration test")
	}
	storagetest.Run(t, func(t *testing.T) storagetest.Backend {
		store := openStore(t, config.DatabaseConfig{Driver: "postgres", DSN: dsn})
		db, release := store.db.Acquire()
		defer release()
		_, err := db.Exec(`TRUNCATE order_items, orders, customers, products, categories, users, audit_log, carts, http_audit`)
		require.NoError(t, err)
		return store
	})
}

func TestHTTPAuditRoundTrip(t *testing.T) {
	store := openStore(t, config.DatabaseConfig{Driver: "sqlite", DSN: filepath.Join(t.TempDir(), "store.db")})
	ctx := context.Background()

	base := time.Now().UTC().Add(-time.Minute)
	for i, path := range []string{"/api/admin/products", "/api/admin/orders", "/api/admin/users"} {
		require.NoError(t, store.AppendHTTPAudit(ctx, audit.HTTPRecord{
			Time: base.Add(time.Duration(i) * time.Second), Method: "GET", Path: path, Status: 200, UserID: "u1",
		}))
	}

	recs, err := store.ListHTTPAudit(ctx, 2)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "/api/admin/users", recs[1].Path, "oldest first within the newest window")
}

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	raw, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { raw.Close() })

	cfg := config.DatabaseConfig{Driver: "postgres", DSN: "mock"}
	return New(database.Wrap(sqlx.NewDb(raw, "postgres"), cfg)), mock
}

func TestPlaceOrderRollsBackOnInsertFailure(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE products SET stock = stock - \$1`).
		WithArgs(2, sqlmock.AnyArg(), "p1", true, 2).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`SELECT .* FROM products WHERE id = \$1`).
		WithArgs("p1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "sku", "name", "slug", "description", "price_cents", "stock", "category_id", "image_url", "active", "created_at", "updated_at"}).
			AddRow("p1", "SKU", "Mug", "mug", "", 1200, 3, "", "", true, time.Now(), time.Now()))
	mock.ExpectExec(`INSERT INTO orders`).WillReturnError(&pq.Error{Code: "23505"})
	mock.ExpectRollback()

	_, err := store.PlaceOrder(context.Background(), order.Order{
		Number: "ORD-1", CustomerID: "c1", Email: "a@example.com",
		Items: []order.Item{{ProductID: "p1", Quantity: 2}},
	}, nil)
	assert.ErrorIs(t, err, storage.ErrConflict)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPlaceOrderReportsStock(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE products SET stock = stock - \$1`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`SELECT stock, active FROM products WHERE id = \$1`).
		WithArgs("p1").
		WillReturnRows(sqlmock.NewRows([]string{"stock", "active"}).AddRow(1, true))
	mock.ExpectRollback()

	_, err := store.PlaceOrder(context.Background(), order.Order{
		Items: []order.Item{{ProductID: "p1", Quantity: 2}},
	}, nil)
	var stockErr *storage.StockError
	require.ErrorAs(t, err, &stockErr)
	assert.Equal(t, 1, stockErr.Available)
	assert.Equal(t, 2, stockErr.Requested)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateProductMapsUniqueViolation(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec(`INSERT INTO products`).WillReturnError(&pq.Error{Code: "23505"})
	_, err := store.CreateProduct(context.Background(), catalog.Product{SKU: "X", Name: "X", Slug: "x"})
	assert.ErrorIs(t, err, storage.ErrConflict)

	mock.ExpectExec(`INSERT INTO products`).WillReturnError(errors.New("connection reset"))
	_, err = store.CreateProduct(context.Background(), catalog.Product{SKU: "Y", Name: "Y", Slug: "y"})
	require.Error(t, err)
	assert.NotErrorIs(t, err, storage.ErrConflict)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetProductNotFound(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery(`FROM products WHERE slug = \$1`).
		WithArgs("nope").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	_, err := store.GetProductBySlug(context.Background(), "nope")
	assert.ErrorIs(t, err, storage.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}
