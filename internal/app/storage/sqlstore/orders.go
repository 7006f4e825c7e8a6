package sqlstore

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/R3E-Network/storefront/internal/app/domain/catalog"
	"github.com/R3E-Network/storefront/internal/app/domain/order"
	"github.com/R3E-Network/storefront/internal/app/storage"
)

const orderColumns = `id, number, customer_id, email, shipping_name, shipping_address, phone, notes,
	status, subtotal_cents, shipping_cents, total_cents, created_at, updated_at`

const itemColumns = `id, order_id, product_id, sku, name, unit_price_cents, quantity, line_total_cents`

// PlaceOrder reserves stock with one conditional UPDATE per product so that
// concurrent checkouts can never drive stock negative, then writes the order.
func (s *Store) PlaceOrder(ctx context.Context, draft order.Order, shipping order.ShippingRule) (order.Order, error) {
	ids := make([]string, 0, len(draft.Items))
	need := make(map[string]int, len(draft.Items))
	for _, it := range draft.Items {
		if _, seen := need[it.ProductID]; !seen {
			ids = append(ids, it.ProductID)
		}
		need[it.ProductID] += it.Quantity
	}

	var placed order.Order
	err := s.inTx(ctx, func(tx *sqlx.Tx) error {
		ts := now()
		products := make(map[string]catalog.Product, len(ids))
		for _, id := range ids {
			res, err := tx.ExecContext(ctx, s.q(`
				UPDATE products SET stock = stock - ?, updated_at = ?
				WHERE id = ? AND active = ? AND stock >= ?
			`), need[id], ts, id, true, need[id])
			if err != nil {
				return err
			}
			n, err := res.RowsAffected()
			if err != nil {
				return err
			}
			if n == 0 {
				return s.reservationError(ctx, tx, id, need[id])
			}
			p, err := s.getProduct(ctx, tx, "id", id)
			if err != nil {
				return err
			}
			products[id] = p
		}

		o := draft
		o.ID = uuid.NewString()
		o.Status = order.StatusPending
		o.CreatedAt = ts
		o.UpdatedAt = ts
		o.Items = make([]order.Item, len(draft.Items))
		for i, it := range draft.Items {
			p := products[it.ProductID]
			o.Items[i] = order.Item{
				ID:             uuid.NewString(),
				OrderID:        o.ID,
				ProductID:      p.ID,
				SKU:            p.SKU,
				Name:           p.Name,
				UnitPriceCents: p.PriceCents,
				Quantity:       it.Quantity,
			}
		}
		o.Finalize(shipping)

		if _, err := tx.ExecContext(ctx, s.q(`
			INSERT INTO orders (`+orderColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`), o.ID, o.Number, o.CustomerID, o.Email, o.ShippingName, o.ShippingAddress, o.Phone, o.Notes,
			o.Status, o.SubtotalCents, o.ShippingCents, o.TotalCents, o.CreatedAt, o.UpdatedAt); err != nil {
			return writeErr(err)
		}
		for i, it := range o.Items {
			if _, err := tx.ExecContext(ctx, s.q(`
				INSERT INTO order_items (id, order_id, position, product_id, sku, name, unit_price_cents, quantity, line_total_cents)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
			`), it.ID, it.OrderID, i, it.ProductID, it.SKU, it.Name, it.UnitPriceCents, it.Quantity, it.LineTotalCents); err != nil {
				return err
			}
		}
		placed = o
		return nil
	})
	if err != nil {
		return order.Order{}, err
	}
	return placed, nil
}

// reservationError explains why a conditional stock decrement matched no row.
func (s *Store) reservationError(ctx context.Context, tx *sqlx.Tx, productID string, requested int) error {
	var row struct {
		Stock  int  `db:"stock"`
		Active bool `db:"active"`
	}
	err := tx.GetContext(ctx, &row, s.q(`SELECT stock, active FROM products WHERE id = ?`), productID)
	if err != nil {
		if readErr(err) == storage.ErrNotFound {
			return &storage.UnavailableError{ProductID: productID}
		}
		return err
	}
	if !row.Active {
		return &storage.UnavailableError{ProductID: productID}
	}
	return &storage.StockError{ProductID: productID, Requested: requested, Available: row.Stock}
}

func (s *Store) GetOrder(ctx context.Context, id string) (order.Order, error) {
	db, release := s.db.Acquire()
	defer release()
	return s.getOrder(ctx, db, id)
}

func (s *Store) getOrder(ctx context.Context, q sqlx.QueryerContext, id string) (order.Order, error) {
	var o order.Order
	if err := sqlx.GetContext(ctx, q, &o, s.q(`SELECT `+orderColumns+` FROM orders WHERE id = ?`), id); err != nil {
		return order.Order{}, readErr(err)
	}
	o.Items = []order.Item{}
	if err := sqlx.SelectContext(ctx, q, &o.Items, s.q(`
		SELECT `+itemColumns+` FROM order_items WHERE order_id = ? ORDER BY position
	`), id); err != nil {
		return order.Order{}, err
	}
	return o, nil
}

func (s *Store) ListOrders(ctx context.Context, filter order.Filter) ([]order.Order, int, error) {
	var w where
	if filter.Status != "" {
		w.add("status = ?", filter.Status)
	}
	if filter.CustomerID != "" {
		w.add("customer_id = ?", filter.CustomerID)
	}

	db, release := s.db.Acquire()
	defer release()

	total, err := s.count(ctx, db, "orders", &w)
	if err != nil {
		return nil, 0, err
	}
	query, args := page(`SELECT `+orderColumns+` FROM orders`+w.String()+` ORDER BY created_at DESC, id`, w.args, filter.Limit, filter.Offset)
	result := []order.Order{}
	if err := db.SelectContext(ctx, &result, s.q(query), args...); err != nil {
		return nil, 0, err
	}
	if err := s.attachItems(ctx, db, result); err != nil {
		return nil, 0, err
	}
	return result, total, nil
}

// attachItems loads the items of every order in one query.
func (s *Store) attachItems(ctx context.Context, db *sqlx.DB, orders []order.Order) error {
	if len(orders) == 0 {
		return nil
	}
	ids := make([]string, len(orders))
	index := make(map[string]int, len(orders))
	for i := range orders {
		ids[i] = orders[i].ID
		index[orders[i].ID] = i
		orders[i].Items = []order.Item{}
	}
	query, args, err := sqlx.In(`SELECT `+itemColumns+` FROM order_items WHERE order_id IN (?) ORDER BY order_id, position`, ids)
	if err != nil {
		return err
	}
	var items []order.Item
	if err := db.SelectContext(ctx, &items, s.q(query), args...); err != nil {
		return err
	}
	for _, it := range items {
		i := index[it.OrderID]
		orders[i].Items = append(orders[i].Items, it)
	}
	return nil
}

func (s *Store) UpdateOrderStatus(ctx context.Context, id string, from, to order.Status, restock bool) (order.Order, error) {
	var updated order.Order
	err := s.inTx(ctx, func(tx *sqlx.Tx) error {
		ts := now()
		res, err := tx.ExecContext(ctx, s.q(`
			UPDATE orders SET status = ?, updated_at = ? WHERE id = ? AND status = ?
		`), to, ts, id, from)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			var exists int
			if err := tx.GetContext(ctx, &exists, s.q(`SELECT COUNT(*) FROM orders WHERE id = ?`), id); err != nil {
				return err
			}
			if exists == 0 {
				return storage.ErrNotFound
			}
			return storage.ErrConflict
		}

		if restock {
			if _, err := tx.ExecContext(ctx, s.q(`
				UPDATE products SET stock = stock + (
					SELECT COALESCE(SUM(oi.quantity), 0) FROM order_items oi
					WHERE oi.order_id = ? AND oi.product_id = products.id
				), updated_at = ?
				WHERE id IN (SELECT product_id FROM order_items WHERE order_id = ?)
			`), id, ts, id); err != nil {
				return err
			}
		}

		updated, err = s.getOrder(ctx, tx, id)
		return err
	})
	if err != nil {
		return order.Order{}, err
	}
	return updated, nil
}

func (s *Store) OrderStats(ctx context.Context) (order.Stats, error) {
	db, release := s.db.Acquire()
	defer release()

	var rows []struct {
		Status order.Status `db:"status"`
		Count  int          `db:"n"`
		Total  int64        `db:"total"`
	}
	if err := db.SelectContext(ctx, &rows, `
		SELECT status, COUNT(*) AS n, COALESCE(SUM(total_cents), 0) AS total
		FROM orders GROUP BY status
	`); err != nil {
		return order.Stats{}, err
	}

	stats := order.Stats{ByStatus: make(map[order.Status]int)}
	for _, r := range rows {
		stats.Count += r.Count
		stats.ByStatus[r.Status] = r.Count
		if r.Status.CountsAsRevenue() {
			stats.RevenueCents += r.Total
		}
	}
	return stats, nil
}

// revenueStatuses is the SQL IN list of statuses that count as revenue.
var revenueStatuses = func() string {
	var quoted []string
	for _, st := range order.Statuses {
		if st.CountsAsRevenue() {
			quoted = append(quoted, "'"+string(st)+"'")
		}
	}
	return "(" + strings.Join(quoted, ", ") + ")"
}()
