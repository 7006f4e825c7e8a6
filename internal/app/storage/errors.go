// Package storage declares the persistence contracts shared by the memory and
// SQL backends.
package storage

import (
	"errors"
	"fmt"

	apperrors "github.com/R3E-Network/storefront/internal/errors"
)

var (
	// ErrNotFound is returned when a record does not exist.
	ErrNotFound = errors.New("storage: not found")
	// ErrConflict is returned on unique violations, dependent rows or a lost
	// optimistic status update.
	ErrConflict = errors.New("storage: conflict")
	// ErrUnavailable is returned when an ordered product is inactive or gone.
	ErrUnavailable = errors.New("storage: product unavailable")
	// ErrLastAdmin is returned when a user write would leave no active admin.
	ErrLastAdmin = errors.New("storage: last active admin")
)

// StockError reports that a product could not cover a requested quantity.
type StockError struct {
	ProductID string
	Requested int
	Available int
}

func (e *StockError) Error() string {
	return fmt.Sprintf("storage: insufficient stock for %s: requested %d, available %d", e.ProductID, e.Requested, e.Available)
}

// UnavailableError names the product that caused ErrUnavailable.
type UnavailableError struct {
	ProductID string
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("%v: %s", ErrUnavailable, e.ProductID)
}

// Unwrap lets errors.Is match ErrUnavailable.
func (e *UnavailableError) Unwrap() error {
	return ErrUnavailable
}

// Translate maps storage errors onto service errors. resource and id describe
// the record being addressed; other errors pass through unchanged.
func Translate(err error, resource, id string) error {
	if err == nil {
		return nil
	}
	var stockErr *StockError
	var unavailable *UnavailableError
	switch {
	case errors.Is(err, ErrNotFound):
		return apperrors.NotFound(resource, id)
	case errors.As(err, &stockErr):
		return apperrors.InsufficientStock(stockErr.ProductID, stockErr.Requested, stockErr.Available)
	case errors.As(err, &unavailable):
		return apperrors.Conflict("product is no longer available").WithDetails("product_id", unavailable.ProductID)
	case errors.Is(err, ErrUnavailable):
		return apperrors.Conflict("product is no longer available")
	case errors.Is(err, ErrLastAdmin):
		return apperrors.Conflict("at least one active admin must remain")
	case errors.Is(err, ErrConflict):
		return apperrors.Conflict(resource + " conflicts with an existing record")
	}
	return err
}
