package audit

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/R3E-Network/storefront/internal/app/domain/audit"
	"github.com/R3E-Network/storefront/internal/app/storage/memory"
	"github.com/R3E-Network/storefront/pkg/logger"
)

func TestRecordAttributesActor(t *testing.T) {
	store := memory.New()
	svc := New(store, logger.NewNop())

	ctx := logger.WithUser(context.Background(), "u-1", "ops@example.com", "admin")
	ctx = WithRemoteAddr(ctx, "10.0.0.1")
	svc.Record(ctx, "product.create", "product", "p-1", map[string]interface{}{"sku": "MUG"})

	entries, total, err := svc.List(context.Background(), audit.Filter{})
	require.NoError(t, err)
	require.Equal(t, 1, total)
	e := entries[0]
	assert.Equal(t, "u-1", e.ActorID)
	assert.Equal(t, "ops@example.com", e.ActorEmail)
	assert.Equal(t, "10.0.0.1", e.RemoteAddr)
	assert.Equal(t, "MUG", e.Details["sku"])
}

type failingStore struct{ *memory.Store }

func (*failingStore) AppendAudit(context.Context, audit.Entry) (audit.Entry, error) {
	return audit.Entry{}, errors.New("disk full")
}

func TestRecordSwallowsStoreErrors(t *testing.T) {
	svc := New(&failingStore{Store: memory.New()}, logger.NewNop())
	assert.NotPanics(t, func() {
		svc.Record(context.Background(), "order.status", "order", "o-1", nil)
	})
}

func TestListClampsLimit(t *testing.T) {
	store := memory.New()
	svc := New(store, logger.NewNop())
	for i := 0; i < 60; i++ {
		svc.Record(context.Background(), "product.update", "product", "p", nil)
	}
	entries, total, err := svc.List(context.Background(), audit.Filter{})
	require.NoError(t, err)
	assert.Equal(t, 60, total)
	assert.Len(t, entries, defaultLimit)
}
