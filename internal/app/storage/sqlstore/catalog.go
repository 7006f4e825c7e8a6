package sqlstore

import (
	"context"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/R3E-Network/storefront/internal/app/domain/catalog"
	"github.com/R3E-Network/storefront/internal/app/storage"
)

const productColumns = `id, sku, name, slug, description, price_cents, stock,
	COALESCE(category_id, '') AS category_id, image_url, active, created_at, updated_at`

// --- Categories -------------------------------------------------------------

func (s *Store) CreateCategory(ctx context.Context, cat catalog.Category) (catalog.Category, error) {
	if cat.ID == "" {
		cat.ID = uuid.NewString()
	}
	cat.CreatedAt = now()
	cat.UpdatedAt = cat.CreatedAt

	db, release := s.db.Acquire()
	defer release()

	_, err := db.ExecContext(ctx, s.q(`
		INSERT INTO categories (id, name, slug, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
	`), cat.ID, cat.Name, cat.Slug, cat.CreatedAt, cat.UpdatedAt)
	if err != nil {
		return catalog.Category{}, writeErr(err)
	}
	return cat, nil
}

func (s *Store) GetCategory(ctx context.Context, id string) (catalog.Category, error) {
	db, release := s.db.Acquire()
	defer release()

	var cat catalog.Category
	err := db.GetContext(ctx, &cat, s.q(`
		SELECT id, name, slug, created_at, updated_at FROM categories WHERE id = ?
	`), id)
	if err != nil {
		return catalog.Category{}, readErr(err)
	}
	return cat, nil
}

func (s *Store) ListCategories(ctx context.Context) ([]catalog.Category, error) {
	db, release := s.db.Acquire()
	defer release()

	result := []catalog.Category{}
	if err := db.SelectContext(ctx, &result, `
		SELECT id, name, slug, created_at, updated_at FROM categories ORDER BY name, id
	`); err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Store) DeleteCategory(ctx context.Context, id string) error {
	return s.inTx(ctx, func(tx *sqlx.Tx) error {
		var refs int
		if err := tx.GetContext(ctx, &refs, s.q(`SELECT COUNT(*) FROM products WHERE category_id = ?`), id); err != nil {
			return err
		}
		if refs > 0 {
			return storage.ErrConflict
		}
		res, err := tx.ExecContext(ctx, s.q(`DELETE FROM categories WHERE id = ?`), id)
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

// --- Products ---------------------------------------------------------------

func (s *Store) CreateProduct(ctx context.Context, p catalog.Product) (catalog.Product, error) {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	p.CreatedAt = now()
	p.UpdatedAt = p.CreatedAt

	db, release := s.db.Acquire()
	defer release()

	_, err := db.ExecContext(ctx, s.q(`
		INSERT INTO products (id, sku, name, slug, description, price_cents, stock, category_id, image_url, active, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`), p.ID, p.SKU, p.Name, p.Slug, p.Description, p.PriceCents, p.Stock, nullable(p.CategoryID),
		p.ImageURL, p.Active, p.CreatedAt, p.UpdatedAt)
	if err != nil {
		return catalog.Product{}, writeErr(err)
	}
	return p, nil
}

func (s *Store) UpdateProduct(ctx context.Context, p catalog.Product) (catalog.Product, error) {
	var updated catalog.Product
	err := s.inTx(ctx, func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx, s.q(`
			UPDATE products
			SET sku = ?, name = ?, slug = ?, description = ?, price_cents = ?, stock = ?,
				category_id = ?, image_url = ?, active = ?, updated_at = ?
			WHERE id = ?
		`), p.SKU, p.Name, p.Slug, p.Description, p.PriceCents, p.Stock,
			nullable(p.CategoryID), p.ImageURL, p.Active, now(), p.ID)
		if err != nil {
			return writeErr(err)
		}
		if n, err := res.RowsAffected(); err != nil {
			return err
		} else if n == 0 {
			return storage.ErrNotFound
		}
		updated, err = s.getProduct(ctx, tx, "id", p.ID)
		return err
	})
	if err != nil {
		return catalog.Product{}, err
	}
	return updated, nil
}

func (s *Store) getProduct(ctx context.Context, q sqlx.QueryerContext, column, value string) (catalog.Product, error) {
	cond := column + " = ?"
	if column == "sku" {
		cond = "LOWER(sku) = LOWER(?)"
	}
	var p catalog.Product
	if err := sqlx.GetContext(ctx, q, &p, s.q(`SELECT `+productColumns+` FROM products WHERE `+cond), value); err != nil {
		return catalog.Product{}, readErr(err)
	}
	return p, nil
}

func (s *Store) lookupProduct(ctx context.Context, column, value string) (catalog.Product, error) {
	db, release := s.db.Acquire()
	defer release()
	return s.getProduct(ctx, db, column, value)
}

func (s *Store) GetProduct(ctx context.Context, id string) (catalog.Product, error) {
	return s.lookupProduct(ctx, "id", id)
}

func (s *Store) GetProductBySlug(ctx context.Context, slug string) (catalog.Product, error) {
	return s.lookupProduct(ctx, "slug", slug)
}

func (s *Store) GetProductBySKU(ctx context.Context, sku string) (catalog.Product, error) {
	return s.lookupProduct(ctx, "sku", sku)
}

func (s *Store) ListProducts(ctx context.Context, filter catalog.ProductFilter) ([]catalog.Product, int, error) {
	var w where
	if filter.ActiveOnly {
		w.add("active = ?", true)
	}
	if filter.CategoryID != "" {
		w.add("category_id = ?", filter.CategoryID)
	}
	if filter.LowStockBelow > 0 {
		w.add("stock < ?", filter.LowStockBelow)
	}
	if filter.Query != "" {
		like := likeArg(filter.Query)
		w.add("(LOWER(name) LIKE ? OR LOWER(sku) LIKE ?)", like, like)
	}

	db, release := s.db.Acquire()
	defer release()

	total, err := s.count(ctx, db, "products", &w)
	if err != nil {
		return nil, 0, err
	}
	query, args := page(`SELECT `+productColumns+` FROM products`+w.String()+` ORDER BY name, id`, w.args, filter.Limit, filter.Offset)
	result := []catalog.Product{}
	if err := db.SelectContext(ctx, &result, s.q(query), args...); err != nil {
		return nil, 0, err
	}
	return result, total, nil
}

func (s *Store) DeleteProduct(ctx context.Context, id string) error {
	db, release := s.db.Acquire()
	defer release()

	res, err := db.ExecContext(ctx, s.q(`DELETE FROM products WHERE id = ?`), id)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err != nil {
		return err
	} else if n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (s *Store) AdjustStock(ctx context.Context, id string, delta int) (catalog.Product, error) {
	var adjusted catalog.Product
	err := s.inTx(ctx, func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx, s.q(`
			UPDATE products SET stock = stock + ?, updated_at = ?
			WHERE id = ? AND stock + ? >= 0
		`), delta, now(), id, delta)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			var stock int
			if err := tx.GetContext(ctx, &stock, s.q(`SELECT stock FROM products WHERE id = ?`), id); err != nil {
				return readErr(err)
			}
			return &storage.StockError{ProductID: id, Requested: -delta, Available: stock}
		}
		adjusted, err = s.getProduct(ctx, tx, "id", id)
		return err
	})
	if err != nil {
		return catalog.Product{}, err
	}
	return adjusted, nil
}
