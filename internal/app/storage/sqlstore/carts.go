package sqlstore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/R3E-Network/storefront/internal/app/domain/cart"
)

func (s *Store) GetCart(ctx context.Context, id string) (cart.Cart, error) {
	db, release := s.db.Acquire()
	defer release()

	var row struct {
		ID        string    `db:"id"`
		Items     string    `db:"items"`
		UpdatedAt time.Time `db:"updated_at"`
	}
	if err := db.GetContext(ctx, &row, s.q(`SELECT id, items, updated_at FROM carts WHERE id = ?`), id); err != nil {
		return cart.Cart{}, readErr(err)
	}
	c := cart.Cart{ID: row.ID, UpdatedAt: row.UpdatedAt}
	if err := json.Unmarshal([]byte(row.Items), &c.Items); err != nil {
		return cart.Cart{}, fmt.Errorf("decode cart %s: %w", id, err)
	}
	return c, nil
}

func (s *Store) SaveCart(ctx context.Context, c cart.Cart) error {
	items := c.Items
	if items == nil {
		items = []cart.Item{}
	}
	raw, err := json.Marshal(items)
	if err != nil {
		return err
	}

	db, release := s.db.Acquire()
	defer release()

	_, err = db.ExecContext(ctx, s.q(`
		INSERT INTO carts (id, items, updated_at) VALUES (?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET items = excluded.items, updated_at = excluded.updated_at
	`), c.ID, string(raw), now())
	return err
}

func (s *Store) DeleteCart(ctx context.Context, id string) error {
	db, release := s.db.Acquire()
	defer release()

	_, err := db.ExecContext(ctx, s.q(`DELETE FROM carts WHERE id = ?`), id)
	return err
}

func (s *Store) PurgeCarts(ctx context.Context, before time.Time) (int, error) {
	db, release := s.db.Acquire()
	defer release()

	res, err := db.ExecContext(ctx, s.q(`DELETE FROM carts WHERE updated_at < ?`), before.UTC())
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}
