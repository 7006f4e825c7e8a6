package sqlstore

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/R3E-Network/storefront/internal/app/domain/customer"
	"github.com/R3E-Network/storefront/internal/app/storage"
)

var customerSelect = `
	SELECT c.id, c.email, c.name, c.phone, c.address, c.created_at, c.updated_at,
		(SELECT COUNT(*) FROM orders o WHERE o.customer_id = c.id) AS order_count,
		(SELECT COALESCE(SUM(o.total_cents), 0) FROM orders o
			WHERE o.customer_id = c.id AND o.status IN ` + revenueStatuses + `) AS total_spent_cents
	FROM customers c`

func (s *Store) getCustomer(ctx context.Context, q sqlx.QueryerContext, cond string, arg string) (customer.Customer, error) {
	var c customer.Customer
	if err := sqlx.GetContext(ctx, q, &c, s.q(customerSelect+` WHERE `+cond), arg); err != nil {
		return customer.Customer{}, readErr(err)
	}
	return c, nil
}

func (s *Store) UpsertCustomer(ctx context.Context, c customer.Customer) (customer.Customer, error) {
	c.Email = strings.ToLower(strings.TrimSpace(c.Email))

	var result customer.Customer
	err := s.inTx(ctx, func(tx *sqlx.Tx) error {
		ts := now()
		existing, err := s.getCustomer(ctx, tx, "c.email = ?", c.Email)
		switch {
		case err == nil:
			existing.Name = c.Name
			if c.Phone != "" {
				existing.Phone = c.Phone
			}
			if c.Address != "" {
				existing.Address = c.Address
			}
			existing.UpdatedAt = ts
			if _, err := tx.ExecContext(ctx, s.q(`
				UPDATE customers SET name = ?, phone = ?, address = ?, updated_at = ? WHERE id = ?
			`), existing.Name, existing.Phone, existing.Address, existing.UpdatedAt, existing.ID); err != nil {
				return err
			}
			result = existing
			return nil
		case err != storage.ErrNotFound:
			return err
		}

		c.ID = uuid.NewString()
		c.CreatedAt = ts
		c.UpdatedAt = ts
		c.OrderCount = 0
		c.TotalSpentCents = 0
		if _, err := tx.ExecContext(ctx, s.q(`
			INSERT INTO customers (id, email, name, phone, address, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`), c.ID, c.Email, c.Name, c.Phone, c.Address, c.CreatedAt, c.UpdatedAt); err != nil {
			return writeErr(err)
		}
		result = c
		return nil
	})
	if err != nil {
		return customer.Customer{}, err
	}
	return result, nil
}

func (s *Store) GetCustomer(ctx context.Context, id string) (customer.Customer, error) {
	db, release := s.db.Acquire()
	defer release()
	return s.getCustomer(ctx, db, "c.id = ?", id)
}

func (s *Store) ListCustomers(ctx context.Context, filter customer.Filter) ([]customer.Customer, int, error) {
	var w where
	if filter.Query != "" {
		like := likeArg(filter.Query)
		w.add("(LOWER(c.email) LIKE ? OR LOWER(c.name) LIKE ?)", like, like)
	}

	db, release := s.db.Acquire()
	defer release()

	total, err := s.count(ctx, db, "customers c", &w)
	if err != nil {
		return nil, 0, err
	}
	query, args := page(customerSelect+w.String()+` ORDER BY c.created_at DESC, c.id`, w.args, filter.Limit, filter.Offset)
	result := []customer.Customer{}
	if err := db.SelectContext(ctx, &result, s.q(query), args...); err != nil {
		return nil, 0, err
	}
	return result, total, nil
}

func (s *Store) UpdateCustomer(ctx context.Context, c customer.Customer) (customer.Customer, error) {
	c.Email = strings.ToLower(strings.TrimSpace(c.Email))

	var updated customer.Customer
	err := s.inTx(ctx, func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx, s.q(`
			UPDATE customers SET email = ?, name = ?, phone = ?, address = ?, updated_at = ? WHERE id = ?
		`), c.Email, c.Name, c.Phone, c.Address, now(), c.ID)
		if err != nil {
			return writeErr(err)
		}
		if n, err := res.RowsAffected(); err != nil {
			return err
		} else if n == 0 {
			return storage.ErrNotFound
		}
		updated, err = s.getCustomer(ctx, tx, "c.id = ?", c.ID)
		return err
	})
	if err != nil {
		return customer.Customer{}, err
	}
	return updated, nil
}

func (s *Store) DeleteCustomer(ctx context.Context, id string) error {
	return s.inTx(ctx, func(tx *sqlx.Tx) error {
		var orders int
		if err := tx.GetContext(ctx, &orders, s.q(`SELECT COUNT(*) FROM orders WHERE customer_id = ?`), id); err != nil {
			return err
		}
		if orders > 0 {
			return storage.ErrConflict
		}
		res, err := tx.ExecContext(ctx, s.q(`DELETE FROM customers WHERE id = ?`), id)
		if err != nil {
			return err
		}
		if n, err := res.RowsAffected(); err != nil {
			return err
		} else if n == 0 {
			return storage.ErrNotFound
		}
		return nil
	})
}
