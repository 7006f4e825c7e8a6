package customers

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/R3E-Network/storefront/internal/app/domain/catalog"
	"github.com/R3E-Network/storefront/internal/app/domain/customer"
	"github.com/R3E-Network/storefront/internal/app/domain/order"
	"github.com/R3E-Network/storefront/internal/app/storage/memory"
	apperrors "github.com/R3E-Network/storefront/internal/errors"
	"github.com/R3E-Network/storefront/pkg/logger"
)

func TestUpsertIsCaseInsensitive(t *testing.T) {
	store := memory.New()
	svc := New(store, nil, logger.NewNop())
	ctx := context.Background()

	first, err := svc.Upsert(ctx, customer.Customer{Email: "Ada@Example.com", Name: "Ada", Phone: "123"})
	require.NoError(t, err)
	second, err := svc.Upsert(ctx, customer.Customer{Email: "ada@example.com ", Name: "Ada L."})
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, "Ada L.", second.Name)
	assert.Equal(t, "123", second.Phone, "blank fields do not overwrite")

	_, err = svc.Upsert(ctx, customer.Customer{Name: "Nobody"})
	assert.True(t, apperrors.HasCode(err, apperrors.CodeValidation))
}

func TestUpdateAndList(t *testing.T) {
	store := memory.New()
	svc := New(store, nil, logger.NewNop())
	ctx := context.Background()

	ada, err := svc.Upsert(ctx, customer.Customer{Email: "ada@example.com", Name: "Ada"})
	require.NoError(t, err)
	_, err = svc.Upsert(ctx, customer.Customer{Email: "grace@example.com", Name: "Grace"})
	require.NoError(t, err)

	addr := "1 Analytical Way"
	updated, err := svc.Update(ctx, ada.ID, Patch{Address: &addr})
	require.NoError(t, err)
	assert.Equal(t, addr, updated.Address)

	taken := "GRACE@example.com"
	_, err = svc.Update(ctx, ada.ID, Patch{Email: &taken})
	assert.True(t, apperrors.HasCode(err, apperrors.CodeConflict))

	blank := " "
	_, err = svc.Update(ctx, ada.ID, Patch{Name: &blank})
	assert.True(t, apperrors.HasCode(err, apperrors.CodeValidation))

	list, total, err := svc.List(ctx, "grace", 0, -1)
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, list, 1)
	assert.Equal(t, "Grace", list[0].Name)

	_, err = svc.Get(ctx, "missing")
	assert.True(t, apperrors.HasCode(err, apperrors.CodeNotFound))
}

func TestDeleteRefusesCustomersWithOrders(t *testing.T) {
	store := memory.New()
	svc := New(store, nil, logger.NewNop())
	ctx := context.Background()

	buyer, err := svc.Upsert(ctx, customer.Customer{Email: "ada@example.com", Name: "Ada"})
	require.NoError(t, err)
	idle, err := svc.Upsert(ctx, customer.Customer{Email: "idle@example.com", Name: "Idle"})
	require.NoError(t, err)

	p, err := store.CreateProduct(ctx, catalog.Product{SKU: "A", Name: "A", Slug: "a", PriceCents: 100, Stock: 5, Active: true})
	require.NoError(t, err)
	_, err = store.PlaceOrder(ctx, order.Order{
		Number:     "ORD-20250101-ABCDEF",
		CustomerID: buyer.ID,
		Email:      buyer.Email,
		Items:      []order.Item{{ProductID: p.ID, Quantity: 1}},
	}, nil)
	require.NoError(t, err)

	got, err := svc.Get(ctx, buyer.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.OrderCount)

	assert.True(t, apperrors.HasCode(svc.Delete(ctx, buyer.ID), apperrors.CodeConflict))
	require.NoError(t, svc.Delete(ctx, idle.ID))
	assert.True(t, apperrors.HasCode(svc.Delete(ctx, idle.ID), apperrors.CodeNotFound))
}
