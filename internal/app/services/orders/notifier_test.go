package orders

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/R3E-Network/storefront/internal/app/events"
	"github.com/R3E-Network/storefront/pkg/logger"
)

type captureSender struct {
	mu   sync.Mutex
	sent []string
	fail bool
}

func (c *captureSender) Send(_ context.Context, event string, body interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, event+":"+body.(events.Event).OrderID)
	if c.fail {
		return errors.New("endpoint down")
	}
	return nil
}

func (c *captureSender) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sent)
}

func TestNotifierForwardsEvents(t *testing.T) {
	bus := events.NewBus()
	defer bus.Close()
	sender := &captureSender{fail: true}
	n := NewNotifier(bus, sender, logger.NewNop())

	require.NoError(t, n.Start(context.Background()))
	require.NoError(t, n.Start(context.Background()), "start is idempotent")

	bus.Publish(events.Event{Type: events.OrderCreated, OrderID: "o-1"})
	bus.Publish(events.Event{Type: events.OrderStatus, OrderID: "o-1", Status: "paid"})
	assert.Eventually(t, func() bool { return sender.count() == 2 }, time.Second, 10*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, n.Stop(ctx))
	require.NoError(t, n.Stop(ctx))
	assert.Equal(t, []string{"order.created:o-1", "order.status:o-1"}, sender.sent)
}
