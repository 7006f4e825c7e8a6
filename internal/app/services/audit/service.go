// Package audit records mutating back-office actions. Recording is best
// effort: a failed write is logged and never fails the caller.
package audit

import (
	"context"

	"github.com/R3E-Network/storefront/internal/app/domain/audit"
	"github.com/R3E-Network/storefront/internal/app/storage"
	"github.com/R3E-Network/storefront/pkg/logger"
)

const (
	defaultLimit = 50
	maxLimit     = 500
)

// Recorder is implemented by Service. Other services depend on this instead of
// the concrete type.
type Recorder interface {
	Record(ctx context.Context, action, entityType, entityID string, details map[string]interface{})
}

// Nop discards every entry.
type Nop struct{}

func (Nop) Record(context.Context, string, string, string, map[string]interface{}) {}

type remoteAddrKey struct{}

// WithRemoteAddr stores the client address recorded on entries.
func WithRemoteAddr(ctx context.Context, addr string) context.Context {
	return context.WithValue(ctx, remoteAddrKey{}, addr)
}

// RemoteAddr returns the address stored by WithRemoteAddr.
func RemoteAddr(ctx context.Context) string {
	addr, _ := ctx.Value(remoteAddrKey{}).(string)
	return addr
}

// Service writes and lists audit entries.
type Service struct {
	store storage.AuditStore
	log   *logger.Logger
}

var _ Recorder = (*Service)(nil)

// New constructs an audit service.
func New(store storage.AuditStore, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("audit")
	}
	return &Service{store: store, log: log}
}

// Record appends an entry attributed to the user in ctx.
func (s *Service) Record(ctx context.Context, action, entityType, entityID string, details map[string]interface{}) {
	entry := audit.Entry{
		ActorID:    logger.GetUserID(ctx),
		ActorEmail: logger.GetEmail(ctx),
		Action:     action,
		EntityType: entityType,
		EntityID:   entityID,
		Details:    details,
		RemoteAddr: RemoteAddr(ctx),
	}
	if _, err := s.store.AppendAudit(ctx, entry); err != nil {
		s.log.WithContext(ctx).
			WithError(err).
			WithField("action", action).
			WithField("entity_id", entityID).
			Error("failed to record audit entry")
	}
}

// List returns entries newest first.
func (s *Service) List(ctx context.Context, filter audit.Filter) ([]audit.Entry, int, error) {
	if filter.Limit <= 0 {
		filter.Limit = defaultLimit
	}
	if filter.Limit > maxLimit {
		filter.Limit = maxLimit
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}
	return s.store.ListAudit(ctx, filter)
}
