package sqlstore

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/R3E-Network/storefront/internal/app/domain/audit"
)

func (s *Store) AppendAudit(ctx context.Context, e audit.Entry) (audit.Entry, error) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = now()
	}
	details := []byte("{}")
	if len(e.Details) > 0 {
		raw, err := json.Marshal(e.Details)
		if err != nil {
			return audit.Entry{}, fmt.Errorf("marshal audit details: %w", err)
		}
		details = raw
	}

	db, release := s.db.Acquire()
	defer release()

	_, err := db.ExecContext(ctx, s.q(`
		INSERT INTO audit_log (id, actor_id, actor_email, action, entity_type, entity_id, details, remote_addr, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`), e.ID, e.ActorID, e.ActorEmail, e.Action, e.EntityType, e.EntityID, string(details), e.RemoteAddr, e.CreatedAt.UTC())
	if err != nil {
		return audit.Entry{}, err
	}
	return e, nil
}

func (s *Store) ListAudit(ctx context.Context, filter audit.Filter) ([]audit.Entry, int, error) {
	var w where
	if filter.Action != "" {
		w.add("action = ?", filter.Action)
	}
	if filter.EntityType != "" {
		w.add("entity_type = ?", filter.EntityType)
	}
	if filter.ActorID != "" {
		w.add("actor_id = ?", filter.ActorID)
	}

	db, release := s.db.Acquire()
	defer release()

	total, err := s.count(ctx, db, "audit_log", &w)
	if err != nil {
		return nil, 0, err
	}
	query, args := page(`
		SELECT id, actor_id, actor_email, action, entity_type, entity_id, details, remote_addr, created_at
		FROM audit_log`+w.String()+` ORDER BY created_at DESC, id DESC`, w.args, filter.Limit, filter.Offset)

	rows, err := db.QueryxContext(ctx, s.q(query), args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	result := []audit.Entry{}
	for rows.Next() {
		var (
			e       audit.Entry
			details string
		)
		if err := rows.Scan(&e.ID, &e.ActorID, &e.ActorEmail, &e.Action, &e.EntityType, &e.EntityID, &details, &e.RemoteAddr, &e.CreatedAt); err != nil {
			return nil, 0, err
		}
		if details != "" && details != "{}" {
			if err := json.Unmarshal([]byte(details), &e.Details); err != nil {
				return nil, 0, fmt.Errorf("decode audit details %s: %w", e.ID, err)
			}
		}
		result = append(result, e)
	}
	return result, total, rows.Err()
}

// --- HTTP audit trail -------------------------------------------------------

func (s *Store) AppendHTTPAudit(ctx context.Context, rec audit.HTTPRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.Time.IsZero() {
		rec.Time = now()
	}

	db, release := s.db.Acquire()
	defer release()

	_, err := db.ExecContext(ctx, s.q(`
		INSERT INTO http_audit (id, occurred_at, user_id, role, method, path, status, remote_addr, duration_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`), rec.ID, rec.Time.UTC(), rec.UserID, rec.Role, rec.Method, rec.Path, rec.Status, rec.RemoteAddr, rec.DurationMS)
	return err
}

// ListHTTPAudit returns the newest limit records, oldest first.
func (s *Store) ListHTTPAudit(ctx context.Context, limit int) ([]audit.HTTPRecord, error) {
	db, release := s.db.Acquire()
	defer release()

	query, args := page(`
		SELECT id, occurred_at, user_id, role, method, path, status, remote_addr, duration_ms
		FROM http_audit ORDER BY occurred_at DESC, id DESC`, nil, limit, 0)
	result := []audit.HTTPRecord{}
	if err := db.SelectContext(ctx, &result, s.q(query), args...); err != nil {
		return nil, err
	}
	for i, j := 0, len(result)-1; i < j; i, j = i+1, j-1 {
		result[i], result[j] = result[j], result[i]
	}
	return result, nil
}
