// Package orders implements checkout and back-office order management.
package orders

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/R3E-Network/storefront/internal/app/domain/customer"
	"github.com/R3E-Network/storefront/internal/app/domain/order"
	"github.com/R3E-Network/storefront/internal/app/events"
	auditsvc "github.com/R3E-Network/storefront/internal/app/services/audit"
	"github.com/R3E-Network/storefront/internal/app/services/carts"
	"github.com/R3E-Network/storefront/internal/app/storage"
	apperrors "github.com/R3E-Network/storefront/internal/errors"
	"github.com/R3E-Network/storefront/pkg/logger"
)

const (
	defaultLimit  = 50
	maxLimit      = 500
	numberRetries = 5
	maxNotesLen   = 2000
)

// CheckoutRequest carries the buyer details submitted at checkout.
type CheckoutRequest struct {
	Email   string `json:"email"`
	Name    string `json:"name"`
	Address string `json:"address"`
	Phone   string `json:"phone"`
	Notes   string `json:"notes"`
}

// Metrics receives order lifecycle observations.
type Metrics interface {
	OrderPlaced(o order.Order)
	OrderStatusChanged(from, to order.Status)
	StockOut(productID string)
}

type nopMetrics struct{}

func (nopMetrics) OrderPlaced(order.Order)                       {}
func (nopMetrics) OrderStatusChanged(order.Status, order.Status) {}
func (nopMetrics) StockOut(string)                               {}

// Service places and manages orders.
type Service struct {
	orders    storage.OrderStore
	customers storage.CustomerStore
	carts     *carts.Service
	shipping  order.ShippingRule
	audit     auditsvc.Recorder
	bus       *events.Bus
	metrics   Metrics
	log       *logger.Logger
	now       func() time.Time
}

// Option customises a Service.
type Option func(*Service)

// WithEvents publishes order events on bus.
func WithEvents(bus *events.Bus) Option {
	return func(s *Service) { s.bus = bus }
}

// WithMetrics reports order activity to m.
func WithMetrics(m Metrics) Option {
	return func(s *Service) {
		if m != nil {
			s.metrics = m
		}
	}
}

// WithAudit records back-office status changes.
func WithAudit(r auditsvc.Recorder) Option {
	return func(s *Service) {
		if r != nil {
			s.audit = r
		}
	}
}

// New constructs an order service.
func New(orderStore storage.OrderStore, customerStore storage.CustomerStore, cartSvc *carts.Service, shipping order.ShippingRule, log *logger.Logger, opts ...Option) *Service {
	if log == nil {
		log = logger.NewDefault("orders")
	}
	s := &Service{
		orders:    orderStore,
		customers: customerStore,
		carts:     cartSvc,
		shipping:  shipping,
		audit:     auditsvc.Nop{},
		metrics:   nopMetrics{},
		log:       log,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// NewOrderNumber formats a human-facing order number for t.
func NewOrderNumber(t time.Time) string {
	suffix := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", ""))[:6]
	return fmt.Sprintf("ORD-%s-%s", t.UTC().Format("20060102"), suffix)
}

func (r CheckoutRequest) normalize() (CheckoutRequest, error) {
	r.Email = strings.ToLower(strings.TrimSpace(r.Email))
	r.Name = strings.TrimSpace(r.Name)
	r.Address = strings.TrimSpace(r.Address)
	r.Phone = strings.TrimSpace(r.Phone)
	r.Notes = strings.TrimSpace(r.Notes)

	switch {
	case r.Email == "":
		return r, apperrors.Validation("email is required")
	case r.Name == "":
		return r, apperrors.Validation("name is required")
	case len(r.Notes) > maxNotesLen:
		return r, apperrors.Validationf("notes must be at most %d characters", maxNotesLen)
	}
	if addr, err := mail.ParseAddress(r.Email); err != nil || addr.Address != r.Email {
		return r, apperrors.Validation("email is invalid")
	}
	return r, nil
}

// Checkout turns the cart into a pending order. Stock is reserved atomically
// with the order insert; on success the cart is cleared.
func (s *Service) Checkout(ctx context.Context, cartID string, req CheckoutRequest) (order.Order, error) {
	req, err := req.normalize()
	if err != nil {
		return order.Order{}, err
	}
	c, err := s.carts.Get(ctx, cartID)
	if err != nil {
		return order.Order{}, err
	}
	if len(c.Items) == 0 {
		return order.Order{}, apperrors.Validation("cart is empty")
	}

	cust, err := s.customers.UpsertCustomer(ctx, customer.Customer{
		Email:   req.Email,
		Name:    req.Name,
		Phone:   req.Phone,
		Address: req.Address,
	})
	if err != nil {
		return order.Order{}, fmt.Errorf("upsert customer: %w", err)
	}

	draft := order.Order{
		CustomerID:      cust.ID,
		Email:           cust.Email,
		ShippingName:    req.Name,
		ShippingAddress: req.Address,
		Phone:           req.Phone,
		Notes:           req.Notes,
		Items:           make([]order.Item, 0, len(c.Items)),
	}
	for _, it := range c.Items {
		draft.Items = append(draft.Items, order.Item{ProductID: it.ProductID, Quantity: it.Quantity})
	}

	var placed order.Order
	for attempt := 0; attempt < numberRetries; attempt++ {
		draft.Number = NewOrderNumber(s.now())
		placed, err = s.orders.PlaceOrder(ctx, draft, s.shipping)
		if !errors.Is(err, storage.ErrConflict) {
			break
		}
	}
	if err != nil {
		var stockErr *storage.StockError
		if errors.As(err, &stockErr) {
			s.metrics.StockOut(stockErr.ProductID)
		}
		return order.Order{}, storage.Translate(err, "order", draft.Number)
	}

	if err := s.carts.Clear(ctx, cartID); err != nil {
		s.log.WithContext(ctx).WithError(err).WithField("cart_id", cartID).Warn("clear cart after checkout failed")
	}
	s.metrics.OrderPlaced(placed)
	s.publish(events.OrderCreated, placed, "")
	s.log.WithContext(ctx).
		WithField("order_id", placed.ID).
		WithField("number", placed.Number).
		WithField("total_cents", placed.TotalCents).
		Info("order placed")
	return placed, nil
}

// UpdateStatus moves an order along its lifecycle. Cancelling returns the
// order's quantities to stock.
func (s *Service) UpdateStatus(ctx context.Context, id string, next order.Status) (order.Order, error) {
	if _, ok := order.ParseStatus(string(next)); !ok {
		return order.Order{}, apperrors.Validationf("unknown status %q", next)
	}
	current, err := s.orders.GetOrder(ctx, id)
	if err != nil {
		return order.Order{}, storage.Translate(err, "order", id)
	}
	if !current.Status.CanTransition(next) {
		return order.Order{}, apperrors.InvalidTransition(string(current.Status), string(next))
	}

	updated, err := s.orders.UpdateOrderStatus(ctx, id, current.Status, next, next == order.StatusCancelled)
	if err != nil {
		if errors.Is(err, storage.ErrConflict) {
			return order.Order{}, apperrors.Conflict("order status changed concurrently; reload and retry")
		}
		return order.Order{}, storage.Translate(err, "order", id)
	}

	s.metrics.OrderStatusChanged(current.Status, next)
	s.audit.Record(ctx, "order.status", "order", id, map[string]interface{}{
		"from": string(current.Status),
		"to":   string(next),
	})
	s.publish(events.OrderStatus, updated, current.Status)
	return updated, nil
}

func (s *Service) publish(kind string, o order.Order, previous order.Status) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(events.Event{
		Type:           kind,
		OrderID:        o.ID,
		Number:         o.Number,
		Status:         string(o.Status),
		PreviousStatus: string(previous),
		Email:          o.Email,
		TotalCents:     o.TotalCents,
		At:             s.now().UTC(),
	})
}

// GetOrder returns an order by id.
func (s *Service) GetOrder(ctx context.Context, id string) (order.Order, error) {
	o, err := s.orders.GetOrder(ctx, id)
	if err != nil {
		return order.Order{}, storage.Translate(err, "order", id)
	}
	return o, nil
}

// LookupOrder returns an order to its buyer. A mismatched email is reported as
// not found so order ids cannot be probed.
func (s *Service) LookupOrder(ctx context.Context, id, email string) (order.Order, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return order.Order{}, apperrors.Validation("email is required")
	}
	o, err := s.orders.GetOrder(ctx, id)
	if err != nil || !strings.EqualFold(o.Email, email) {
		if err != nil && !errors.Is(err, storage.ErrNotFound) {
			return order.Order{}, err
		}
		return order.Order{}, apperrors.NotFound("order", id)
	}
	return o, nil
}

// ListOrders returns a page of orders, newest first.
func (s *Service) ListOrders(ctx context.Context, filter order.Filter) ([]order.Order, int, error) {
	if filter.Status != "" {
		if _, ok := order.ParseStatus(string(filter.Status)); !ok {
			return nil, 0, apperrors.Validationf("unknown status %q", filter.Status)
		}
	}
	if filter.Limit <= 0 {
		filter.Limit = defaultLimit
	}
	if filter.Limit > maxLimit {
		filter.Limit = maxLimit
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}
	return s.orders.ListOrders(ctx, filter)
}

// Stats aggregates order counts and revenue.
func (s *Service) Stats(ctx context.Context) (order.Stats, error) {
	return s.orders.OrderStats(ctx)
}
