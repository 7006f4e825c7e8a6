package catalog

import (
	"context"
	"math"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/R3E-Network/storefront/internal/app/domain/catalog"
	"github.com/R3E-Network/storefront/internal/app/storage"
	apperrors "github.com/R3E-Network/storefront/internal/errors"
)

// MaxImportItems caps the number of products read from one feed.
const MaxImportItems = 5000

// ImportMapping names the gjson paths used to read each feed item. Items
// selects the array of products; empty means the document root.
type ImportMapping struct {
	Items        string `json:"items"`
	SKU          string `json:"sku"`
	Name         string `json:"name"`
	Description  string `json:"description"`
	Price        string `json:"price"`
	PriceInCents bool   `json:"price_in_cents"`
	Stock        string `json:"stock"`
	ImageURL     string `json:"image_url"`
	Category     string `json:"category"`
	Active       string `json:"active"`
}

// DefaultMapping reads flat objects with conventional field names and prices
// in major units.
func DefaultMapping() ImportMapping {
	return ImportMapping{
		SKU:         "sku",
		Name:        "name",
		Description: "description",
		Price:       "price",
		Stock:       "stock",
		ImageURL:    "image_url",
		Category:    "category",
		Active:      "active",
	}
}

// ImportError describes a rejected feed item.
type ImportError struct {
	Index   int    `json:"index"`
	SKU     string `json:"sku,omitempty"`
	Message string `json:"message"`
}

// ImportResult summarises an import run.
type ImportResult struct {
	Created int           `json:"created"`
	Updated int           `json:"updated"`
	Errors  []ImportError `json:"errors"`
}

// ImportProducts creates or updates products by SKU from an arbitrary JSON
// feed. Unknown categories are created on the fly. A bad item is reported in
// the result and does not stop the run.
func (s *Service) ImportProducts(ctx context.Context, data []byte, m ImportMapping) (ImportResult, error) {
	if !gjson.ValidBytes(data) {
		return ImportResult{}, apperrors.Validation("feed is not valid JSON")
	}
	m = withDefaults(m)

	items := gjson.ParseBytes(data)
	if m.Items != "" {
		items = gjson.GetBytes(data, m.Items)
	}
	if !items.IsArray() {
		return ImportResult{}, apperrors.Validationf("feed path %q is not an array", m.Items)
	}
	all := items.Array()
	if len(all) > MaxImportItems {
		return ImportResult{}, apperrors.Validationf("feed has %d items; the limit is %d", len(all), MaxImportItems)
	}

	categories, err := s.categoryIndex(ctx)
	if err != nil {
		return ImportResult{}, err
	}

	result := ImportResult{Errors: []ImportError{}}
	for i, item := range all {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		sku := strings.TrimSpace(item.Get(m.SKU).String())
		created, err := s.importItem(ctx, item, sku, m, categories)
		if err != nil {
			msg := err.Error()
			if svcErr := apperrors.GetServiceError(err); svcErr != nil {
				msg = svcErr.Message
			}
			result.Errors = append(result.Errors, ImportError{Index: i, SKU: sku, Message: msg})
			continue
		}
		if created {
			result.Created++
		} else {
			result.Updated++
		}
	}

	s.log.WithField("created", result.Created).
		WithField("updated", result.Updated).
		WithField("errors", len(result.Errors)).
		Info("catalog import finished")
	s.audit.Record(ctx, "catalog.import", "product", "", map[string]interface{}{
		"created": result.Created,
		"updated": result.Updated,
		"errors":  len(result.Errors),
	})
	return result, nil
}

func withDefaults(m ImportMapping) ImportMapping {
	d := DefaultMapping()
	if m.SKU == "" {
		m.SKU = d.SKU
	}
	if m.Name == "" {
		m.Name = d.Name
	}
	if m.Price == "" {
		m.Price = d.Price
	}
	return m
}

func (s *Service) categoryIndex(ctx context.Context) (map[string]string, error) {
	cats, err := s.store.ListCategories(ctx)
	if err != nil {
		return nil, err
	}
	index := make(map[string]string, len(cats))
	for _, c := range cats {
		index[c.Slug] = c.ID
	}
	return index, nil
}

func (s *Service) resolveCategory(ctx context.Context, raw string, index map[string]string) (string, error) {
	slug := catalog.Slugify(raw)
	if slug == "" {
		return "", nil
	}
	if id, ok := index[slug]; ok {
		return id, nil
	}
	cat, err := s.CreateCategory(ctx, strings.TrimSpace(raw), slug)
	if err != nil {
		return "", err
	}
	index[slug] = cat.ID
	return cat.ID, nil
}

func (s *Service) importItem(ctx context.Context, item gjson.Result, sku string, m ImportMapping, categories map[string]string) (bool, error) {
	if sku == "" {
		return false, apperrors.Validation("sku is missing")
	}

	field := func(path string) (gjson.Result, bool) {
		if path == "" {
			return gjson.Result{}, false
		}
		v := item.Get(path)
		return v, v.Exists()
	}

	var patch ProductPatch
	if v, ok := field(m.Name); ok {
		name := v.String()
		patch.Name = &name
	}
	if v, ok := field(m.Description); ok {
		desc := v.String()
		patch.Description = &desc
	}
	if v, ok := field(m.Price); ok {
		cents := priceCents(v, m.PriceInCents)
		patch.PriceCents = &cents
	}
	if v, ok := field(m.Stock); ok {
		stock := int(v.Int())
		patch.Stock = &stock
	}
	if v, ok := field(m.ImageURL); ok {
		img := v.String()
		patch.ImageURL = &img
	}
	if v, ok := field(m.Active); ok {
		active := v.Bool()
		patch.Active = &active
	}
	if v, ok := field(m.Category); ok {
		id, err := s.resolveCategory(ctx, v.String(), categories)
		if err != nil {
			return false, err
		}
		patch.CategoryID = &id
	}

	existing, err := s.store.GetProductBySKU(ctx, sku)
	switch {
	case err == nil:
		_, err = s.UpdateProduct(ctx, existing.ID, patch)
		return false, err
	case err != storage.ErrNotFound:
		return false, err
	}

	if patch.Name == nil {
		return false, apperrors.Validation("name is missing")
	}
	if patch.PriceCents == nil {
		return false, apperrors.Validation("price is missing")
	}
	in := ProductInput{
		SKU:        sku,
		Name:       *patch.Name,
		PriceCents: *patch.PriceCents,
		Active:     patch.Active,
	}
	if patch.Description != nil {
		in.Description = *patch.Description
	}
	if patch.Stock != nil {
		in.Stock = *patch.Stock
	}
	if patch.ImageURL != nil {
		in.ImageURL = *patch.ImageURL
	}
	if patch.CategoryID != nil {
		in.CategoryID = *patch.CategoryID
	}
	_, err = s.CreateProduct(ctx, in)
	return err == nil, err
}

// priceCents reads a price either as integer cents or as a decimal amount in
// major units ("12.5" or 12.5 -> 1250).
func priceCents(v gjson.Result, inCents bool) int64 {
	if inCents {
		return v.Int()
	}
	return int64(math.Round(v.Float() * 100))
}
