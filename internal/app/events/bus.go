// Package events fans order events out to in-process subscribers such as the
// websocket feed and the webhook notifier.
package events

import (
	"sync"
	"time"
)

// Event types.
const (
	OrderCreated = "order.created"
	OrderStatus  = "order.status"
)

// Event describes an order change.
type Event struct {
	Type           string    `json:"type"`
	OrderID        string    `json:"order_id"`
	Number         string    `json:"number"`
	Status         string    `json:"status"`
	PreviousStatus string    `json:"previous_status,omitempty"`
	Email          string    `json:"email,omitempty"`
	TotalCents     int64     `json:"total_cents"`
	At             time.Time `json:"at"`
}

// Bus is a non-blocking publish/subscribe hub. Slow subscribers miss events
// instead of stalling publishers.
type Bus struct {
	mu     sync.RWMutex
	next   int
	subs   map[int]chan Event
	closed bool
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[int]chan Event)}
}

// Subscribe registers a subscriber with the given channel buffer. The returned
// func unsubscribes and closes the channel.
func (b *Bus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 16
	}
	ch := make(chan Event, buffer)

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(ch)
		return ch, func() {}
	}
	id := b.next
	b.next++
	b.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if sub, ok := b.subs[id]; ok {
				delete(b.subs, id)
				close(sub)
			}
		})
	}
}

// Publish delivers e to every subscriber with room in its buffer and returns
// how many received it.
func (b *Bus) Publish(e Event) int {
	if e.At.IsZero() {
		e.At = time.Now().UTC()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()

	delivered := 0
	for _, ch := range b.subs {
		select {
		case ch <- e:
			delivered++
		default:
		}
	}
	return delivered
}

// Close unsubscribes everyone.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
}
