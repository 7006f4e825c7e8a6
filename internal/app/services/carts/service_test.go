package carts

import (
	"context"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/R3E-Network/storefront/internal/app/domain/cart"
	"github.com/R3E-Network/storefront/internal/app/domain/catalog"
	"github.com/R3E-Network/storefront/internal/app/storage/memory"
	apperrors "github.com/R3E-Network/storefront/internal/errors"
	"github.com/R3E-Network/storefront/pkg/logger"
)

func setup(t *testing.T) (*Service, *memory.Store, catalog.Product, catalog.Product) {
	t.Helper()
	store := memory.New()
	ctx := context.Background()
	mug, err := store.CreateProduct(ctx, catalog.Product{SKU: "MUG", Name: "Mug", Slug: "mug", PriceCents: 1200, Stock: 3, Active: true})
	require.NoError(t, err)
	tee, err := store.CreateProduct(ctx, catalog.Product{SKU: "TEE", Name: "Tee", Slug: "tee", PriceCents: 2000, Stock: 10, Active: true})
	require.NoError(t, err)
	return New(store, store, time.Hour, logger.NewNop()), store, mug, tee
}

func TestAddItemAccumulatesAndPrices(t *testing.T) {
	svc, _, mug, tee := setup(t)
	ctx := context.Background()
	id := NewCartID()

	_, err := svc.AddItem(ctx, id, mug.ID, 1)
	require.NoError(t, err)
	_, err = svc.AddItem(ctx, id, tee.ID, 2)
	require.NoError(t, err)
	v, err := svc.AddItem(ctx, id, mug.ID, 1)
	require.NoError(t, err)

	want := cart.View{
		CartID: id,
		Lines: []cart.Line{
			{ProductID: mug.ID, SKU: "MUG", Name: "Mug", Slug: "mug", UnitPriceCents: 1200, Quantity: 2, LineTotalCents: 2400, Available: true},
			{ProductID: tee.ID, SKU: "TEE", Name: "Tee", Slug: "tee", UnitPriceCents: 2000, Quantity: 2, LineTotalCents: 4000, Available: true},
		},
		ItemCount:     4,
		SubtotalCents: 6400,
	}
	if diff := cmp.Diff(want, v); diff != "" {
		t.Fatalf("view mismatch (-want +got):\n%s", diff)
	}
}

func TestAddItemRejectsOverStock(t *testing.T) {
	svc, _, mug, _ := setup(t)
	ctx := context.Background()
	id := NewCartID()

	_, err := svc.AddItem(ctx, id, mug.ID, 2)
	require.NoError(t, err)
	_, err = svc.AddItem(ctx, id, mug.ID, 2)
	svcErr := apperrors.GetServiceError(err)
	require.NotNil(t, svcErr)
	assert.Equal(t, apperrors.CodeInsufficientStock, svcErr.Code)
	assert.Equal(t, 4, svcErr.Details["requested"])

	_, err = svc.AddItem(ctx, id, mug.ID, 0)
	assert.True(t, apperrors.HasCode(err, apperrors.CodeValidation))
	_, err = svc.AddItem(ctx, id, "missing", 1)
	assert.True(t, apperrors.HasCode(err, apperrors.CodeNotFound))
}

func TestSetQuantityAndRemove(t *testing.T) {
	svc, _, mug, tee := setup(t)
	ctx := context.Background()
	id := NewCartID()

	_, err := svc.AddItem(ctx, id, mug.ID, 1)
	require.NoError(t, err)
	_, err = svc.AddItem(ctx, id, tee.ID, 1)
	require.NoError(t, err)

	v, err := svc.SetQuantity(ctx, id, tee.ID, 5)
	require.NoError(t, err)
	assert.Equal(t, 6, v.ItemCount)

	v, err = svc.RemoveItem(ctx, id, mug.ID)
	require.NoError(t, err)
	require.Len(t, v.Lines, 1)
	assert.Equal(t, tee.ID, v.Lines[0].ProductID)

	_, err = svc.SetQuantity(ctx, id, tee.ID, -1)
	assert.True(t, apperrors.HasCode(err, apperrors.CodeValidation))

	require.NoError(t, svc.Clear(ctx, id))
	v, err = svc.View(ctx, id)
	require.NoError(t, err)
	assert.Empty(t, v.Lines)
}

func TestViewFlagsUnavailableLines(t *testing.T) {
	svc, store, mug, tee := setup(t)
	ctx := context.Background()
	id := NewCartID()

	_, err := svc.AddItem(ctx, id, mug.ID, 2)
	require.NoError(t, err)
	_, err = svc.AddItem(ctx, id, tee.ID, 1)
	require.NoError(t, err)

	_, err = store.AdjustStock(ctx, mug.ID, -2)
	require.NoError(t, err)
	require.NoError(t, store.DeleteProduct(ctx, tee.ID))

	v, err := svc.View(ctx, id)
	require.NoError(t, err)
	require.Len(t, v.Lines, 2)
	assert.False(t, v.Lines[0].Available)
	assert.False(t, v.Lines[1].Available)
	assert.Zero(t, v.SubtotalCents)
}

func TestExpiredCartsAreEmptyAndPurged(t *testing.T) {
	svc, _, mug, _ := setup(t)
	ctx := context.Background()
	id := NewCartID()

	_, err := svc.AddItem(ctx, id, mug.ID, 1)
	require.NoError(t, err)

	svc.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	c, err := svc.Get(ctx, id)
	require.NoError(t, err)
	assert.Empty(t, c.Items)

	other := NewCartID()
	svc.now = time.Now
	_, err = svc.AddItem(ctx, other, mug.ID, 1)
	require.NoError(t, err)
	svc.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	n, err := svc.Purge(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}
