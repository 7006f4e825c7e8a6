package users

import (
	"context"
	"testing"

	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/R3E-Network/storefront/internal/app/domain/audit"
	"github.com/R3E-Network/storefront/internal/app/domain/user"
	auditsvc "github.com/R3E-Network/storefront/internal/app/services/audit"
	"github.com/R3E-Network/storefront/internal/app/storage/memory"
	apperrors "github.com/R3E-Network/storefront/internal/errors"
	"github.com/R3E-Network/storefront/pkg/logger"
)

func newService(t *testing.T) (*Service, *memory.Store) {
	t.Helper()
	store := memory.New()
	svc := New(store, auditsvc.New(store, logger.NewNop()), logger.NewNop())
	svc.cost = bcrypt.MinCost
	return svc, store
}

func TestCreateValidates(t *testing.T) {
	svc, store := newService(t)
	ctx := context.Background()

	u, err := svc.Create(ctx, " Ada@Example.COM ", "Ada", user.RoleAdmin, "correct-horse")
	require.NoError(t, err)
	assert.Equal(t, "ada@example.com", u.Email)
	assert.True(t, u.Active)
	assert.NotEqual(t, "correct-horse", u.PasswordHash)

	_, err = svc.Create(ctx, "ada@example.com", "Twin", user.RoleStaff, "correct-horse")
	assert.True(t, apperrors.HasCode(err, apperrors.CodeConflict))
	_, err = svc.Create(ctx, "bob@example.com", "Bob", user.RoleStaff, "short")
	assert.True(t, apperrors.HasCode(err, apperrors.CodeValidation))
	_, err = svc.Create(ctx, "bob@example.com", "Bob", user.Role("owner"), "long-enough")
	assert.True(t, apperrors.HasCode(err, apperrors.CodeValidation))
	_, err = svc.Create(ctx, "bob", "Bob", user.RoleStaff, "long-enough")
	assert.True(t, apperrors.HasCode(err, apperrors.CodeValidation))

	entries, _, err := store.ListAudit(ctx, audit.Filter{Action: "user.create"})
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestAuthenticate(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	u, err := svc.Create(ctx, "ada@example.com", "Ada", user.RoleStaff, "correct-horse")
	require.NoError(t, err)

	got, err := svc.Authenticate(ctx, "ADA@example.com", "correct-horse")
	require.NoError(t, err)
	require.NotNil(t, got.LastLoginAt)

	_, err = svc.Authenticate(ctx, "ada@example.com", "wrong-horse")
	assert.True(t, apperrors.HasCode(err, apperrors.CodeUnauthorized))
	_, err = svc.Authenticate(ctx, "nobody@example.com", "correct-horse")
	assert.True(t, apperrors.HasCode(err, apperrors.CodeUnauthorized))

	inactive := false
	_, err = svc.Update(ctx, u.ID, Patch{Active: &inactive})
	require.NoError(t, err)
	_, err = svc.Authenticate(ctx, "ada@example.com", "correct-horse")
	assert.True(t, apperrors.HasCode(err, apperrors.CodeUnauthorized))
}

func TestAuthenticateLogsFailures(t *testing.T) {
	log := logger.NewNop()
	hook := logtest.NewLocal(log.Logger)
	store := memory.New()
	svc := New(store, nil, log)
	svc.cost = bcrypt.MinCost

	ctx := auditsvc.WithRemoteAddr(context.Background(), "198.51.100.4")
	_, err := svc.Create(ctx, "ada@example.com", "Ada", user.RoleStaff, "correct-horse")
	require.NoError(t, err)

	_, err = svc.Authenticate(ctx, "ada@example.com", "wrong-horse")
	require.Error(t, err)
	_, err = svc.Authenticate(ctx, "nobody@example.com", "correct-horse")
	require.Error(t, err)

	var reasons []interface{}
	for _, entry := range hook.AllEntries() {
		if entry.Data["security_event"] == "login_failed" {
			assert.Equal(t, "198.51.100.4", entry.Data["remote_addr"])
			reasons = append(reasons, entry.Data["reason"])
		}
	}
	assert.Equal(t, []interface{}{"bad_password", "unknown_email"}, reasons)
}

func TestLastAdminIsProtected(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	admin, err := svc.Create(ctx, "admin@example.com", "Admin", user.RoleAdmin, "correct-horse")
	require.NoError(t, err)

	staff := user.RoleStaff
	_, err = svc.Update(ctx, admin.ID, Patch{Role: &staff})
	assert.True(t, apperrors.HasCode(err, apperrors.CodeConflict))
	off := false
	_, err = svc.Update(ctx, admin.ID, Patch{Active: &off})
	assert.True(t, apperrors.HasCode(err, apperrors.CodeConflict))
	assert.True(t, apperrors.HasCode(svc.Delete(ctx, admin.ID), apperrors.CodeConflict))

	second, err := svc.Create(ctx, "second@example.com", "Second", user.RoleAdmin, "correct-horse")
	require.NoError(t, err)
	demoted, err := svc.Update(ctx, admin.ID, Patch{Role: &staff})
	require.NoError(t, err)
	assert.Equal(t, user.RoleStaff, demoted.Role)

	self := logger.WithUser(ctx, second.ID, second.Email, string(user.RoleAdmin))
	assert.True(t, apperrors.HasCode(svc.Delete(self, second.ID), apperrors.CodeConflict))
	require.NoError(t, svc.Delete(self, admin.ID))
	assert.True(t, apperrors.HasCode(svc.Delete(self, admin.ID), apperrors.CodeNotFound))
}

func TestPasswords(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	u, err := svc.Create(ctx, "ada@example.com", "Ada", user.RoleStaff, "correct-horse")
	require.NoError(t, err)

	assert.True(t, apperrors.HasCode(svc.SetPassword(ctx, u.ID, "tiny"), apperrors.CodeValidation))
	assert.True(t, apperrors.HasCode(svc.ChangePassword(ctx, u.ID, "wrong-horse", "battery-staple"), apperrors.CodeValidation))
	require.NoError(t, svc.ChangePassword(ctx, u.ID, "correct-horse", "battery-staple"))

	_, err = svc.Authenticate(ctx, "ada@example.com", "battery-staple")
	require.NoError(t, err)
}

func TestBootstrap(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	created, err := svc.Bootstrap(ctx, "", "", "")
	require.NoError(t, err)
	assert.False(t, created, "no admin email configured")

	created, err = svc.Bootstrap(ctx, "root@example.com", "", "correct-horse")
	require.NoError(t, err)
	assert.True(t, created)

	created, err = svc.Bootstrap(ctx, "other@example.com", "Other", "correct-horse")
	require.NoError(t, err)
	assert.False(t, created)

	list, err := svc.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, user.RoleAdmin, list[0].Role)
	assert.Equal(t, "Administrator", list[0].Name)
}
