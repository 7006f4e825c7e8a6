// Package catalog manages categories and products for the storefront and the
// back-office.
package catalog

import (
	"context"
	"fmt"
	"strings"

	"github.com/microcosm-cc/bluemonday"

	"github.com/R3E-Network/storefront/internal/app/domain/catalog"
	auditsvc "github.com/R3E-Network/storefront/internal/app/services/audit"
	"github.com/R3E-Network/storefront/internal/app/storage"
	apperrors "github.com/R3E-Network/storefront/internal/errors"
	"github.com/R3E-Network/storefront/pkg/logger"
)

const (
	defaultLimit = 24
	maxLimit     = 200
	maxSlugTries = 50
)

// ProductInput carries the writable product fields for creation.
type ProductInput struct {
	SKU         string `json:"sku"`
	Name        string `json:"name"`
	Slug        string `json:"slug"`
	Description string `json:"description"`
	PriceCents  int64  `json:"price_cents"`
	Stock       int    `json:"stock"`
	CategoryID  string `json:"category_id"`
	ImageURL    string `json:"image_url"`
	Active      *bool  `json:"active"`
}

// ProductPatch carries optional product changes. Nil fields are left alone.
type ProductPatch struct {
	SKU         *string `json:"sku"`
	Name        *string `json:"name"`
	Slug        *string `json:"slug"`
	Description *string `json:"description"`
	PriceCents  *int64  `json:"price_cents"`
	Stock       *int    `json:"stock"`
	CategoryID  *string `json:"category_id"`
	ImageURL    *string `json:"image_url"`
	Active      *bool   `json:"active"`
}

// Service manages the catalog.
type Service struct {
	store  storage.CatalogStore
	audit  auditsvc.Recorder
	policy *bluemonday.Policy
	log    *logger.Logger
}

// New constructs a catalog service.
func New(store storage.CatalogStore, recorder auditsvc.Recorder, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("catalog")
	}
	if recorder == nil {
		recorder = auditsvc.Nop{}
	}
	return &Service{store: store, audit: recorder, policy: bluemonday.UGCPolicy(), log: log}
}

// SanitizeDescription strips unsafe markup from product descriptions.
func (s *Service) SanitizeDescription(raw string) string {
	return strings.TrimSpace(s.policy.Sanitize(raw))
}

// --- Categories -------------------------------------------------------------

// CreateCategory adds a category. The slug defaults to the slugified name.
func (s *Service) CreateCategory(ctx context.Context, name, slug string) (catalog.Category, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return catalog.Category{}, apperrors.Validation("category name is required")
	}
	slug = catalog.Slugify(firstNonEmpty(slug, name))
	if slug == "" {
		return catalog.Category{}, apperrors.Validation("category slug must contain letters or digits")
	}
	created, err := s.store.CreateCategory(ctx, catalog.Category{Name: name, Slug: slug})
	if err != nil {
		return catalog.Category{}, storage.Translate(err, "category", slug)
	}
	s.audit.Record(ctx, "category.create", "category", created.ID, map[string]interface{}{"name": name})
	return created, nil
}

// ListCategories returns all categories by name.
func (s *Service) ListCategories(ctx context.Context) ([]catalog.Category, error) {
	return s.store.ListCategories(ctx)
}

// DeleteCategory removes an unused category.
func (s *Service) DeleteCategory(ctx context.Context, id string) error {
	if err := s.store.DeleteCategory(ctx, id); err != nil {
		if err == storage.ErrConflict {
			return apperrors.Conflict("category still has products")
		}
		return storage.Translate(err, "category", id)
	}
	s.audit.Record(ctx, "category.delete", "category", id, nil)
	return nil
}

// --- Products ---------------------------------------------------------------

// CreateProduct validates and stores a new product.
func (s *Service) CreateProduct(ctx context.Context, in ProductInput) (catalog.Product, error) {
	p := catalog.Product{
		SKU:         strings.TrimSpace(in.SKU),
		Name:        strings.TrimSpace(in.Name),
		Description: s.SanitizeDescription(in.Description),
		PriceCents:  in.PriceCents,
		Stock:       in.Stock,
		CategoryID:  strings.TrimSpace(in.CategoryID),
		ImageURL:    strings.TrimSpace(in.ImageURL),
		Active:      in.Active == nil || *in.Active,
	}
	if err := s.validate(ctx, p); err != nil {
		return catalog.Product{}, err
	}
	slug, err := s.uniqueSlug(ctx, firstNonEmpty(in.Slug, p.Name), "")
	if err != nil {
		return catalog.Product{}, err
	}
	p.Slug = slug

	created, err := s.store.CreateProduct(ctx, p)
	if err != nil {
		return catalog.Product{}, s.productWriteErr(err, p.SKU)
	}
	s.log.WithField("product_id", created.ID).WithField("sku", created.SKU).Info("product created")
	s.audit.Record(ctx, "product.create", "product", created.ID, map[string]interface{}{"sku": created.SKU})
	return created, nil
}

// UpdateProduct applies patch to the product with id.
func (s *Service) UpdateProduct(ctx context.Context, id string, patch ProductPatch) (catalog.Product, error) {
	p, err := s.store.GetProduct(ctx, id)
	if err != nil {
		return catalog.Product{}, storage.Translate(err, "product", id)
	}
	changed := map[string]interface{}{}
	if patch.SKU != nil {
		p.SKU = strings.TrimSpace(*patch.SKU)
		changed["sku"] = p.SKU
	}
	if patch.Name != nil {
		p.Name = strings.TrimSpace(*patch.Name)
		changed["name"] = p.Name
	}
	if patch.Description != nil {
		p.Description = s.SanitizeDescription(*patch.Description)
		changed["description"] = true
	}
	if patch.PriceCents != nil {
		changed["price_cents"] = map[string]int64{"from": p.PriceCents, "to": *patch.PriceCents}
		p.PriceCents = *patch.PriceCents
	}
	if patch.Stock != nil {
		changed["stock"] = map[string]int{"from": p.Stock, "to": *patch.Stock}
		p.Stock = *patch.Stock
	}
	if patch.CategoryID != nil {
		p.CategoryID = strings.TrimSpace(*patch.CategoryID)
		changed["category_id"] = p.CategoryID
	}
	if patch.ImageURL != nil {
		p.ImageURL = strings.TrimSpace(*patch.ImageURL)
	}
	if patch.Active != nil {
		p.Active = *patch.Active
		changed["active"] = p.Active
	}
	if err := s.validate(ctx, p); err != nil {
		return catalog.Product{}, err
	}
	if patch.Slug != nil {
		slug, err := s.uniqueSlug(ctx, firstNonEmpty(*patch.Slug, p.Name), p.ID)
		if err != nil {
			return catalog.Product{}, err
		}
		p.Slug = slug
		changed["slug"] = slug
	}

	updated, err := s.store.UpdateProduct(ctx, p)
	if err != nil {
		return catalog.Product{}, s.productWriteErr(err, p.SKU)
	}
	s.audit.Record(ctx, "product.update", "product", id, changed)
	return updated, nil
}

func (s *Service) validate(ctx context.Context, p catalog.Product) error {
	switch {
	case p.Name == "":
		return apperrors.Validation("name is required")
	case p.SKU == "":
		return apperrors.Validation("sku is required")
	case p.PriceCents < 0:
		return apperrors.Validation("price_cents must not be negative")
	case p.Stock < 0:
		return apperrors.Validation("stock must not be negative")
	}
	if p.CategoryID != "" {
		if _, err := s.store.GetCategory(ctx, p.CategoryID); err != nil {
			if err == storage.ErrNotFound {
				return apperrors.Validationf("category %s does not exist", p.CategoryID)
			}
			return err
		}
	}
	return nil
}

// uniqueSlug derives a slug from base and appends -2, -3, ... until it does
// not collide with another product.
func (s *Service) uniqueSlug(ctx context.Context, base, selfID string) (string, error) {
	root := catalog.Slugify(base)
	if root == "" {
		return "", apperrors.Validation("slug must contain letters or digits")
	}
	candidate := root
	for i := 2; i <= maxSlugTries; i++ {
		existing, err := s.store.GetProductBySlug(ctx, candidate)
		if err == storage.ErrNotFound || (err == nil && existing.ID == selfID) {
			return candidate, nil
		}
		if err != nil {
			return "", err
		}
		candidate = fmt.Sprintf("%s-%d", root, i)
	}
	return "", apperrors.Conflict("could not find a free slug for " + root)
}

func (s *Service) productWriteErr(err error, sku string) error {
	if err == storage.ErrConflict {
		return apperrors.Conflict("a product with this sku or slug already exists").WithDetails("sku", sku)
	}
	return storage.Translate(err, "product", sku)
}

// GetProduct returns a product by id.
func (s *Service) GetProduct(ctx context.Context, id string) (catalog.Product, error) {
	p, err := s.store.GetProduct(ctx, id)
	if err != nil {
		return catalog.Product{}, storage.Translate(err, "product", id)
	}
	return p, nil
}

// GetPublicProduct returns an active product by slug or id.
func (s *Service) GetPublicProduct(ctx context.Context, slugOrID string) (catalog.Product, error) {
	p, err := s.store.GetProductBySlug(ctx, slugOrID)
	if err == storage.ErrNotFound {
		p, err = s.store.GetProduct(ctx, slugOrID)
	}
	if err != nil {
		return catalog.Product{}, storage.Translate(err, "product", slugOrID)
	}
	if !p.Active {
		return catalog.Product{}, apperrors.NotFound("product", slugOrID)
	}
	return p, nil
}

// ListProducts returns a page of products and the total match count.
func (s *Service) ListProducts(ctx context.Context, filter catalog.ProductFilter) ([]catalog.Product, int, error) {
	if filter.Limit <= 0 {
		filter.Limit = defaultLimit
	}
	if filter.Limit > maxLimit {
		filter.Limit = maxLimit
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}
	return s.store.ListProducts(ctx, filter)
}

// LowStock lists active products whose stock is below threshold.
func (s *Service) LowStock(ctx context.Context, threshold, limit int) ([]catalog.Product, error) {
	if threshold <= 0 {
		return []catalog.Product{}, nil
	}
	products, _, err := s.store.ListProducts(ctx, catalog.ProductFilter{ActiveOnly: true, LowStockBelow: threshold, Limit: limit})
	return products, err
}

// DeleteProduct removes a product. Past orders keep their snapshots.
func (s *Service) DeleteProduct(ctx context.Context, id string) error {
	if err := s.store.DeleteProduct(ctx, id); err != nil {
		return storage.Translate(err, "product", id)
	}
	s.audit.Record(ctx, "product.delete", "product", id, nil)
	return nil
}

// AdjustStock adds delta units. Stock never drops below zero.
func (s *Service) AdjustStock(ctx context.Context, id string, delta int, reason string) (catalog.Product, error) {
	if delta == 0 {
		return catalog.Product{}, apperrors.Validation("delta must not be zero")
	}
	p, err := s.store.AdjustStock(ctx, id, delta)
	if err != nil {
		return catalog.Product{}, storage.Translate(err, "product", id)
	}
	s.audit.Record(ctx, "product.stock", "product", id, map[string]interface{}{
		"delta":  delta,
		"stock":  p.Stock,
		"reason": strings.TrimSpace(reason),
	})
	return p, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
