package app

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/R3E-Network/storefront/internal/app/domain/order"
	"github.com/R3E-Network/storefront/internal/app/events"
	catalogsvc "github.com/R3E-Network/storefront/internal/app/services/catalog"
	"github.com/R3E-Network/storefront/internal/app/services/orders"
	apperrors "github.com/R3E-Network/storefront/internal/errors"
	"github.com/R3E-Network/storefront/pkg/logger"
	"github.com/R3E-Network/storefront/pkg/testutil"
)

func newTestApp(t *testing.T) (*Application, *testutil.MockSender) {
	t.Helper()
	sender := testutil.NewMockSender()
	a, err := New(Stores{}, Options{Config: testutil.Config(t), Version: "test", Sender: sender}, logger.NewNop())
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, a.Start(ctx))
	t.Cleanup(func() {
		_ = a.Stop(ctx)
		_ = a.Close()
	})
	return a, sender
}

func TestNewRequiresSigningSecret(t *testing.T) {
	cfg := testutil.Config(t)
	cfg.Auth.JWTSecret = ""
	_, err := New(Stores{}, Options{Config: cfg}, logger.NewNop())
	require.Error(t, err)
}

func TestCheckoutNotifiesWebhook(t *testing.T) {
	a, sender := newTestApp(t)
	ctx := context.Background()

	p, err := a.Catalog.CreateProduct(ctx, catalogsvc.ProductInput{SKU: "BAG", Name: "Bag", PriceCents: 6000, Stock: 1})
	require.NoError(t, err)
	_, err = a.Carts.AddItem(ctx, "cart-1", p.ID, 1)
	require.NoError(t, err)

	o, err := a.Orders.Checkout(ctx, "cart-1", orders.CheckoutRequest{Email: "x@example.com", Name: "X", Address: "Somewhere 1"})
	require.NoError(t, err)
	assert.Zero(t, o.ShippingCents, "orders above the threshold ship free")

	_, err = a.Orders.UpdateStatus(ctx, o.ID, order.StatusPaid)
	require.NoError(t, err)

	sent, err := sender.WaitFor(2, 2*time.Second)
	require.NoError(t, err)
	assert.Equal(t, events.OrderCreated, sent[0].Event)
	assert.Equal(t, events.OrderStatus, sent[1].Event)
	assert.Equal(t, o.ID, sent[1].Body.(events.Event).OrderID)

	// The second checkout finds the product sold out.
	_, err = a.Carts.AddItem(ctx, "cart-2", p.ID, 1)
	assert.True(t, apperrors.HasCode(err, apperrors.CodeInsufficientStock))
}

func TestStatusDescribesServices(t *testing.T) {
	a, _ := newTestApp(t)

	st := a.Status()
	assert.Equal(t, "test", st.Version)
	assert.Equal(t, "memory", st.Driver)
	assert.False(t, st.StartedAt.IsZero())

	names := make([]string, 0, len(st.Services))
	for _, d := range st.Services {
		names = append(names, d.Name)
	}
	assert.Equal(t, []string{"catalog", "carts", "orders", "customers", "users", "scheduler", "order-notifier"}, names)
	assert.NoError(t, a.Ping(context.Background()))
}

func TestBootstrapAdminIsIdempotent(t *testing.T) {
	a, _ := newTestApp(t)
	ctx := context.Background()

	require.NoError(t, a.bootstrapAdmin(ctx))
	list, err := a.Users.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, testutil.AdminEmail, list[0].Email)
}
