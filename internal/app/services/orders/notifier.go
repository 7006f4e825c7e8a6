package orders

import (
	"context"
	"sync"
	"time"

	"github.com/R3E-Network/storefront/internal/app/events"
	"github.com/R3E-Network/storefront/internal/app/system"
	"github.com/R3E-Network/storefront/pkg/logger"
)

var _ system.Service = (*Notifier)(nil)

// Sender delivers an event payload to an external endpoint.
type Sender interface {
	Send(ctx context.Context, event string, body interface{}) error
}

// Notifier forwards order events from the bus to a webhook.
type Notifier struct {
	bus     *events.Bus
	sender  Sender
	log     *logger.Logger
	timeout time.Duration

	mu          sync.Mutex
	unsubscribe func()
	wg          sync.WaitGroup
	running     bool
}

// NewNotifier creates a lifecycle-managed webhook notifier.
func NewNotifier(bus *events.Bus, sender Sender, log *logger.Logger) *Notifier {
	if log == nil {
		log = logger.NewDefault("order-notifier")
	}
	return &Notifier{bus: bus, sender: sender, log: log, timeout: 15 * time.Second}
}

func (n *Notifier) Name() string { return "order-notifier" }

func (n *Notifier) Start(ctx context.Context) error {
	n.mu.Lock()
	if n.running {
		n.mu.Unlock()
		return nil
	}
	ch, unsubscribe := n.bus.Subscribe(64)
	n.unsubscribe = unsubscribe
	n.running = true
	n.mu.Unlock()

	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		for e := range ch {
			n.deliver(e)
		}
	}()

	n.log.Info("order notifier started")
	return nil
}

func (n *Notifier) Stop(ctx context.Context) error {
	n.mu.Lock()
	if !n.running {
		n.mu.Unlock()
		return nil
	}
	unsubscribe := n.unsubscribe
	n.running = false
	n.unsubscribe = nil
	n.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		n.wg.Wait()
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	n.log.Info("order notifier stopped")
	return nil
}

func (n *Notifier) deliver(e events.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), n.timeout)
	defer cancel()

	if err := n.sender.Send(ctx, e.Type, e); err != nil {
		n.log.WithError(err).
			WithField("event", e.Type).
			WithField("order_id", e.OrderID).
			Warn("order webhook delivery failed")
	}
}
