// Package rediscart keeps shopping carts in Redis as JSON values whose TTL is
// refreshed on every write.
package rediscart

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/R3E-Network/storefront/internal/app/domain/cart"
	"github.com/R3E-Network/storefront/internal/app/storage"
)

const keyPrefix = "storefront:cart:"

// Store implements storage.CartStore.
type Store struct {
	client *redis.Client
	ttl    time.Duration
}

var _ storage.CartStore = (*Store)(nil)

// New wraps an existing client. ttl <= 0 keeps carts forever.
func New(client *redis.Client, ttl time.Duration) *Store {
	return &Store{client: client, ttl: ttl}
}

// Dial connects to addr and verifies the connection.
func Dial(ctx context.Context, addr, password string, db int, ttl time.Duration) (*Store, error) {
	client := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", addr, err)
	}
	return New(client, ttl), nil
}

func key(id string) string {
	return keyPrefix + id
}

func (s *Store) GetCart(ctx context.Context, id string) (cart.Cart, error) {
	raw, err := s.client.Get(ctx, key(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return cart.Cart{}, storage.ErrNotFound
	}
	if err != nil {
		return cart.Cart{}, err
	}
	var c cart.Cart
	if err := json.Unmarshal(raw, &c); err != nil {
		return cart.Cart{}, fmt.Errorf("decode cart %s: %w", id, err)
	}
	return c, nil
}

func (s *Store) SaveCart(ctx context.Context, c cart.Cart) error {
	c.UpdatedAt = time.Now().UTC()
	raw, err := json.Marshal(c)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, key(c.ID), raw, s.ttl).Err()
}

func (s *Store) DeleteCart(ctx context.Context, id string) error {
	return s.client.Del(ctx, key(id)).Err()
}

// PurgeCarts is a no-op: Redis expires idle carts on its own.
func (s *Store) PurgeCarts(context.Context, time.Time) (int, error) {
	return 0, nil
}

// Close releases the client.
func (s *Store) Close() error {
	return s.client.Close()
}
