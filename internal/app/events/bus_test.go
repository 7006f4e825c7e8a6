package events

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishFansOut(t *testing.T) {
	bus := NewBus()
	a, cancelA := bus.Subscribe(1)
	b, cancelB := bus.Subscribe(1)
	defer cancelB()

	assert.Equal(t, 2, bus.Publish(Event{Type: OrderCreated, OrderID: "o1"}))
	got := <-a
	assert.Equal(t, "o1", got.OrderID)
	assert.False(t, got.At.IsZero())
	assert.Equal(t, "o1", (<-b).OrderID)

	cancelA()
	cancelA()
	_, open := <-a
	assert.False(t, open)
	assert.Equal(t, 1, bus.Publish(Event{Type: OrderStatus}))
}

func TestPublishDropsForSlowSubscribers(t *testing.T) {
	bus := NewBus()
	ch, cancel := bus.Subscribe(1)
	defer cancel()

	require.Equal(t, 1, bus.Publish(Event{OrderID: "first"}))
	assert.Equal(t, 0, bus.Publish(Event{OrderID: "second"}))
	assert.Equal(t, "first", (<-ch).OrderID)
}

func TestCloseClosesSubscribers(t *testing.T) {
	bus := NewBus()
	ch, cancel := bus.Subscribe(1)
	bus.Close()
	_, open := <-ch
	assert.False(t, open)
	cancel()

	late, _ := bus.Subscribe(1)
	_, open = <-late
	assert.False(t, open)
}
