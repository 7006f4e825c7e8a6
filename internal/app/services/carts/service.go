// Package carts manages anonymous shopping carts. Prices and availability
// are always resolved live against the catalog.
package carts

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/R3E-Network/storefront/internal/app/domain/cart"
	"github.com/R3E-Network/storefront/internal/app/domain/catalog"
	"github.com/R3E-Network/storefront/internal/app/storage"
	apperrors "github.com/R3E-Network/storefront/internal/errors"
	"github.com/R3E-Network/storefront/pkg/logger"
)

// MaxLineQuantity caps a single cart line.
const MaxLineQuantity = 999

// Service manages carts.
type Service struct {
	store   storage.CartStore
	catalog storage.CatalogStore
	ttl     time.Duration
	log     *logger.Logger
	now     func() time.Time
}

// New constructs a cart service. ttl <= 0 disables expiry.
func New(store storage.CartStore, catalogStore storage.CatalogStore, ttl time.Duration, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("carts")
	}
	return &Service{store: store, catalog: catalogStore, ttl: ttl, log: log, now: time.Now}
}

// NewCartID issues an opaque cart identifier.
func NewCartID() string {
	return uuid.NewString()
}

// Get returns the cart, or an empty cart when it does not exist or expired.
func (s *Service) Get(ctx context.Context, cartID string) (cart.Cart, error) {
	cartID = strings.TrimSpace(cartID)
	if cartID == "" {
		return cart.Cart{}, apperrors.Validation("cart id is required")
	}
	c, err := s.store.GetCart(ctx, cartID)
	if err == storage.ErrNotFound {
		return cart.Cart{ID: cartID, Items: []cart.Item{}}, nil
	}
	if err != nil {
		return cart.Cart{}, err
	}
	if s.expired(c) {
		_ = s.store.DeleteCart(ctx, cartID)
		return cart.Cart{ID: cartID, Items: []cart.Item{}}, nil
	}
	return c, nil
}

func (s *Service) expired(c cart.Cart) bool {
	return s.ttl > 0 && !c.UpdatedAt.IsZero() && s.now().Sub(c.UpdatedAt) > s.ttl
}

// AddItem adds qty units of productID to the cart.
func (s *Service) AddItem(ctx context.Context, cartID, productID string, qty int) (cart.View, error) {
	if qty <= 0 {
		return cart.View{}, apperrors.Validation("quantity must be positive")
	}
	c, err := s.Get(ctx, cartID)
	if err != nil {
		return cart.View{}, err
	}
	return s.set(ctx, c, productID, c.Quantity(productID)+qty)
}

// SetQuantity replaces the quantity of a line; zero removes it.
func (s *Service) SetQuantity(ctx context.Context, cartID, productID string, qty int) (cart.View, error) {
	if qty < 0 {
		return cart.View{}, apperrors.Validation("quantity must not be negative")
	}
	c, err := s.Get(ctx, cartID)
	if err != nil {
		return cart.View{}, err
	}
	if qty == 0 {
		c.Set(productID, 0)
		if err := s.store.SaveCart(ctx, c); err != nil {
			return cart.View{}, err
		}
		return s.view(ctx, c)
	}
	return s.set(ctx, c, productID, qty)
}

func (s *Service) set(ctx context.Context, c cart.Cart, productID string, total int) (cart.View, error) {
	if total > MaxLineQuantity {
		return cart.View{}, apperrors.Validationf("at most %d units per product", MaxLineQuantity)
	}
	p, err := s.catalog.GetProduct(ctx, productID)
	if err == storage.ErrNotFound || (err == nil && !p.Active) {
		return cart.View{}, apperrors.NotFound("product", productID)
	}
	if err != nil {
		return cart.View{}, err
	}
	if total > p.Stock {
		return cart.View{}, apperrors.InsufficientStock(productID, total, p.Stock)
	}
	c.Set(productID, total)
	if err := s.store.SaveCart(ctx, c); err != nil {
		return cart.View{}, err
	}
	return s.view(ctx, c)
}

// RemoveItem drops a line from the cart.
func (s *Service) RemoveItem(ctx context.Context, cartID, productID string) (cart.View, error) {
	return s.SetQuantity(ctx, cartID, productID, 0)
}

// Clear deletes the cart.
func (s *Service) Clear(ctx context.Context, cartID string) error {
	return s.store.DeleteCart(ctx, cartID)
}

// View prices the cart against the live catalog.
func (s *Service) View(ctx context.Context, cartID string) (cart.View, error) {
	c, err := s.Get(ctx, cartID)
	if err != nil {
		return cart.View{}, err
	}
	return s.view(ctx, c)
}

func (s *Service) view(ctx context.Context, c cart.Cart) (cart.View, error) {
	v := cart.View{CartID: c.ID, Lines: make([]cart.Line, 0, len(c.Items))}
	for _, it := range c.Items {
		p, err := s.catalog.GetProduct(ctx, it.ProductID)
		if err != nil && err != storage.ErrNotFound {
			return cart.View{}, err
		}
		line := lineFor(p, it)
		if err == storage.ErrNotFound {
			line = cart.Line{ProductID: it.ProductID, Quantity: it.Quantity}
		}
		v.Lines = append(v.Lines, line)
		v.ItemCount += it.Quantity
		if line.Available {
			v.SubtotalCents += line.LineTotalCents
		}
	}
	return v, nil
}

func lineFor(p catalog.Product, it cart.Item) cart.Line {
	return cart.Line{
		ProductID:      p.ID,
		SKU:            p.SKU,
		Name:           p.Name,
		Slug:           p.Slug,
		UnitPriceCents: p.PriceCents,
		Quantity:       it.Quantity,
		LineTotalCents: p.PriceCents * int64(it.Quantity),
		Available:      p.InStock(it.Quantity),
	}
}

// Purge removes carts idle for longer than the TTL.
func (s *Service) Purge(ctx context.Context) (int, error) {
	if s.ttl <= 0 {
		return 0, nil
	}
	n, err := s.store.PurgeCarts(ctx, s.now().Add(-s.ttl))
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.log.WithField("carts", n).Info("expired carts purged")
	}
	return n, nil
}
