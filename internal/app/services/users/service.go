// Package users manages back-office accounts and password authentication.
package users

import (
	"context"
	"net/mail"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/R3E-Network/storefront/internal/app/domain/user"
	auditsvc "github.com/R3E-Network/storefront/internal/app/services/audit"
	"github.com/R3E-Network/storefront/internal/app/storage"
	apperrors "github.com/R3E-Network/storefront/internal/errors"
	"github.com/R3E-Network/storefront/pkg/logger"
)

// MinPasswordLength is the shortest accepted password.
const MinPasswordLength = 8

// bcrypt ignores input past 72 bytes.
const maxPasswordLength = 72

// Patch carries optional user changes.
type Patch struct {
	Name   *string    `json:"name"`
	Role   *user.Role `json:"role"`
	Active *bool      `json:"active"`
}

// Service manages users.
type Service struct {
	store storage.UserStore
	audit auditsvc.Recorder
	log   *logger.Logger
	cost  int
	now   func() time.Time

	// dummyHash keeps Authenticate's timing flat for unknown emails.
	dummyOnce sync.Once
	dummyHash []byte
}

// New constructs a user service.
func New(store storage.UserStore, recorder auditsvc.Recorder, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("users")
	}
	if recorder == nil {
		recorder = auditsvc.Nop{}
	}
	return &Service{store: store, audit: recorder, log: log, cost: bcrypt.DefaultCost, now: time.Now}
}

// Create adds a user with a hashed password.
func (s *Service) Create(ctx context.Context, email, name string, role user.Role, password string) (user.User, error) {
	email = normalizeEmail(email)
	name = strings.TrimSpace(name)
	if err := validateEmail(email); err != nil {
		return user.User{}, err
	}
	if name == "" {
		return user.User{}, apperrors.Validation("name is required")
	}
	if !role.Valid() {
		return user.User{}, apperrors.Validationf("unknown role %q", role)
	}
	hash, err := s.hash(password)
	if err != nil {
		return user.User{}, err
	}

	created, err := s.store.CreateUser(ctx, user.User{
		Email:        email,
		Name:         name,
		Role:         role,
		PasswordHash: hash,
		Active:       true,
	})
	if err != nil {
		if err == storage.ErrConflict {
			return user.User{}, apperrors.Conflict("a user with this email already exists").WithDetails("email", email)
		}
		return user.User{}, err
	}
	s.audit.Record(ctx, "user.create", "user", created.ID, map[string]interface{}{
		"email": created.Email,
		"role":  string(created.Role),
	})
	return created, nil
}

// List returns all users.
func (s *Service) List(ctx context.Context) ([]user.User, error) {
	return s.store.ListUsers(ctx)
}

// Get returns a user by id.
func (s *Service) Get(ctx context.Context, id string) (user.User, error) {
	u, err := s.store.GetUser(ctx, id)
	if err != nil {
		return user.User{}, storage.Translate(err, "user", id)
	}
	return u, nil
}

// Update changes name, role or active flag. The store refuses to demote or
// deactivate the last active admin.
func (s *Service) Update(ctx context.Context, id string, patch Patch) (user.User, error) {
	u, err := s.store.GetUser(ctx, id)
	if err != nil {
		return user.User{}, storage.Translate(err, "user", id)
	}

	if patch.Name != nil {
		u.Name = strings.TrimSpace(*patch.Name)
		if u.Name == "" {
			return user.User{}, apperrors.Validation("name is required")
		}
	}
	if patch.Role != nil {
		if !patch.Role.Valid() {
			return user.User{}, apperrors.Validationf("unknown role %q", *patch.Role)
		}
		u.Role = *patch.Role
	}
	if patch.Active != nil {
		u.Active = *patch.Active
	}

	updated, err := s.store.UpdateUser(ctx, u)
	if err != nil {
		return user.User{}, storage.Translate(err, "user", id)
	}
	s.audit.Record(ctx, "user.update", "user", id, map[string]interface{}{
		"role":   string(updated.Role),
		"active": updated.Active,
	})
	return updated, nil
}

// SetPassword replaces a user's password.
func (s *Service) SetPassword(ctx context.Context, id, password string) error {
	u, err := s.store.GetUser(ctx, id)
	if err != nil {
		return storage.Translate(err, "user", id)
	}
	hash, err := s.hash(password)
	if err != nil {
		return err
	}
	u.PasswordHash = hash
	if _, err := s.store.UpdateUser(ctx, u); err != nil {
		return storage.Translate(err, "user", id)
	}
	s.audit.Record(ctx, "user.password", "user", id, nil)
	return nil
}

// ChangePassword lets a user replace their own password after proving the
// current one.
func (s *Service) ChangePassword(ctx context.Context, id, current, next string) error {
	u, err := s.store.GetUser(ctx, id)
	if err != nil {
		return storage.Translate(err, "user", id)
	}
	if bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(current)) != nil {
		return apperrors.Validation("current password is incorrect")
	}
	return s.SetPassword(ctx, id, next)
}

// Delete removes a user. Users cannot delete themselves and the last active
// admin cannot be deleted.
func (s *Service) Delete(ctx context.Context, id string) error {
	if actor := logger.GetUserID(ctx); actor != "" && actor == id {
		return apperrors.Conflict("you cannot delete your own account")
	}
	u, err := s.store.GetUser(ctx, id)
	if err != nil {
		return storage.Translate(err, "user", id)
	}
	if err := s.store.DeleteUser(ctx, id); err != nil {
		return storage.Translate(err, "user", id)
	}
	s.audit.Record(ctx, "user.delete", "user", id, map[string]interface{}{"email": u.Email})
	return nil
}

// Authenticate checks credentials and stamps the login time. Unknown emails,
// wrong passwords and inactive accounts all fail the same way.
func (s *Service) Authenticate(ctx context.Context, email, password string) (user.User, error) {
	email = normalizeEmail(email)
	fail := func(reason string) (user.User, error) {
		s.log.LogSecurityEvent(ctx, "login_failed", map[string]interface{}{
			"email":       email,
			"reason":      reason,
			"remote_addr": auditsvc.RemoteAddr(ctx),
		})
		return user.User{}, apperrors.Unauthorized("invalid email or password")
	}
	u, err := s.store.GetUserByEmail(ctx, email)
	if err == storage.ErrNotFound {
		_ = bcrypt.CompareHashAndPassword(s.fakeHash(), []byte(password))
		return fail("unknown_email")
	}
	if err != nil {
		return user.User{}, err
	}
	if bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)) != nil {
		return fail("bad_password")
	}
	if !u.Active {
		return fail("inactive")
	}

	ts := s.now().UTC()
	u.LastLoginAt = &ts
	updated, err := s.store.UpdateUser(ctx, u)
	if err != nil {
		s.log.WithContext(ctx).WithError(err).Warn("record last login failed")
		return u, nil
	}
	return updated, nil
}

// Bootstrap creates the initial admin when no users exist. It reports whether
// a user was created.
func (s *Service) Bootstrap(ctx context.Context, email, name, password string) (bool, error) {
	existing, err := s.store.ListUsers(ctx)
	if err != nil {
		return false, err
	}
	if len(existing) > 0 || strings.TrimSpace(email) == "" {
		return false, nil
	}
	if strings.TrimSpace(name) == "" {
		name = "Administrator"
	}
	u, err := s.Create(ctx, email, name, user.RoleAdmin, password)
	if err != nil {
		return false, err
	}
	s.log.WithField("email", u.Email).Info("initial admin created")
	return true, nil
}

func (s *Service) hash(password string) (string, error) {
	if len(password) < MinPasswordLength {
		return "", apperrors.Validationf("password must be at least %d characters", MinPasswordLength)
	}
	if len(password) > maxPasswordLength {
		return "", apperrors.Validationf("password must be at most %d bytes", maxPasswordLength)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cost)
	if err != nil {
		return "", apperrors.Internal("hash password", err)
	}
	return string(hash), nil
}

func (s *Service) fakeHash() []byte {
	s.dummyOnce.Do(func() {
		s.dummyHash, _ = bcrypt.GenerateFromPassword([]byte("storefront-placeholder"), s.cost)
	})
	return s.dummyHash
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func validateEmail(email string) error {
	if email == "" {
		return apperrors.Validation("email is required")
	}
	if addr, err := mail.ParseAddress(email); err != nil || addr.Address != email {
		return apperrors.Validation("email is invalid")
	}
	return nil
}
