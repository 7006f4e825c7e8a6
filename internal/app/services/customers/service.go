// Package customers manages storefront buyers for the back-office.
package customers

import (
	"context"
	"strings"

	"github.com/R3E-Network/storefront/internal/app/domain/customer"
	auditsvc "github.com/R3E-Network/storefront/internal/app/services/audit"
	"github.com/R3E-Network/storefront/internal/app/storage"
	apperrors "github.com/R3E-Network/storefront/internal/errors"
	"github.com/R3E-Network/storefront/pkg/logger"
)

const (
	defaultLimit = 50
	maxLimit     = 500
)

// Patch carries optional customer changes.
type Patch struct {
	Name    *string `json:"name"`
	Email   *string `json:"email"`
	Phone   *string `json:"phone"`
	Address *string `json:"address"`
}

// Service manages customers.
type Service struct {
	store storage.CustomerStore
	audit auditsvc.Recorder
	log   *logger.Logger
}

// New constructs a customer service.
func New(store storage.CustomerStore, recorder auditsvc.Recorder, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("customers")
	}
	if recorder == nil {
		recorder = auditsvc.Nop{}
	}
	return &Service{store: store, audit: recorder, log: log}
}

// Upsert creates or refreshes the customer with c.Email.
func (s *Service) Upsert(ctx context.Context, c customer.Customer) (customer.Customer, error) {
	c.Email = strings.ToLower(strings.TrimSpace(c.Email))
	c.Name = strings.TrimSpace(c.Name)
	if c.Email == "" {
		return customer.Customer{}, apperrors.Validation("email is required")
	}
	return s.store.UpsertCustomer(ctx, c)
}

// List returns a page of customers matching query against name or email.
func (s *Service) List(ctx context.Context, query string, limit, offset int) ([]customer.Customer, int, error) {
	if limit <= 0 {
		limit = defaultLimit
	}
	if limit > maxLimit {
		limit = maxLimit
	}
	if offset < 0 {
		offset = 0
	}
	return s.store.ListCustomers(ctx, customer.Filter{Query: strings.TrimSpace(query), Limit: limit, Offset: offset})
}

// Get returns a customer with order totals.
func (s *Service) Get(ctx context.Context, id string) (customer.Customer, error) {
	c, err := s.store.GetCustomer(ctx, id)
	if err != nil {
		return customer.Customer{}, storage.Translate(err, "customer", id)
	}
	return c, nil
}

// Update applies patch to the customer with id.
func (s *Service) Update(ctx context.Context, id string, patch Patch) (customer.Customer, error) {
	c, err := s.store.GetCustomer(ctx, id)
	if err != nil {
		return customer.Customer{}, storage.Translate(err, "customer", id)
	}
	if patch.Name != nil {
		c.Name = strings.TrimSpace(*patch.Name)
	}
	if patch.Email != nil {
		c.Email = strings.ToLower(strings.TrimSpace(*patch.Email))
		if c.Email == "" || !strings.Contains(c.Email, "@") {
			return customer.Customer{}, apperrors.Validation("email is invalid")
		}
	}
	if patch.Phone != nil {
		c.Phone = strings.TrimSpace(*patch.Phone)
	}
	if patch.Address != nil {
		c.Address = strings.TrimSpace(*patch.Address)
	}
	if c.Name == "" {
		return customer.Customer{}, apperrors.Validation("name is required")
	}

	updated, err := s.store.UpdateCustomer(ctx, c)
	if err != nil {
		if err == storage.ErrConflict {
			return customer.Customer{}, apperrors.Conflict("another customer already uses this email").WithDetails("email", c.Email)
		}
		return customer.Customer{}, storage.Translate(err, "customer", id)
	}
	s.audit.Record(ctx, "customer.update", "customer", id, nil)
	return updated, nil
}

// Delete removes a customer without orders.
func (s *Service) Delete(ctx context.Context, id string) error {
	if err := s.store.DeleteCustomer(ctx, id); err != nil {
		if err == storage.ErrConflict {
			return apperrors.Conflict("customer has orders and cannot be deleted")
		}
		return storage.Translate(err, "customer", id)
	}
	s.audit.Record(ctx, "customer.delete", "customer", id, nil)
	return nil
}
