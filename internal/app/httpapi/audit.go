package httpapi

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/R3E-Network/storefront/internal/app/domain/audit"
	"github.com/R3E-Network/storefront/internal/app/storage"
	"github.com/R3E-Network/storefront/internal/middleware"
	"github.com/R3E-Network/storefront/pkg/logger"
)

// auditLog keeps the most recent admin requests in memory and forwards each
// record to the configured sinks.
type auditLog struct {
	mu      sync.Mutex
	entries []audit.HTTPRecord
	max     int
	sinks   []auditSink
	log     *logger.Logger
}

type auditSink interface {
	Write(rec audit.HTTPRecord) error
}

func newAuditLog(max int, log *logger.Logger, sinks ...auditSink) *auditLog {
	if max <= 0 {
		max = 200
	}
	l := &auditLog{max: max, log: log}
	for _, s := range sinks {
		if s != nil {
			l.sinks = append(l.sinks, s)
		}
	}
	return l
}

func (l *auditLog) add(rec audit.HTTPRecord) {
	l.mu.Lock()
	l.entries = append(l.entries, rec)
	if len(l.entries) > l.max {
		l.entries = l.entries[len(l.entries)-l.max:]
	}
	l.mu.Unlock()

	for _, s := range l.sinks {
		// Persistence is best effort and never fails the request.
		if err := s.Write(rec); err != nil && l.log != nil {
			l.log.WithError(err).Warn("http audit sink write failed")
		}
	}
}

func (l *auditLog) list() []audit.HTTPRecord {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]audit.HTTPRecord, len(l.entries))
	copy(out, l.entries)
	return out
}

// listLimit returns the latest limit records in chronological order.
func (l *auditLog) listLimit(limit int) []audit.HTTPRecord {
	if limit <= 0 || limit > l.max {
		limit = l.max
	}
	all := l.list()
	if len(all) <= limit {
		return all
	}
	return all[len(all)-limit:]
}

// middleware records every request passing through it. It must run after
// authentication so the user is known.
func (l *auditLog) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(rec, r)
		l.add(audit.HTTPRecord{
			ID:         uuid.NewString(),
			Time:       start.UTC(),
			UserID:     middleware.GetUserID(r),
			Role:       middleware.GetUserRole(r),
			Method:     r.Method,
			Path:       r.URL.Path,
			Status:     rec.status,
			RemoteAddr: middleware.ClientIP(r),
			DurationMS: time.Since(start).Milliseconds(),
		})
	})
}

// fileAuditSink appends audit records as JSONL.
type fileAuditSink struct {
	mu   sync.Mutex
	file *os.File
}

func newFileAuditSink(path string) (*fileAuditSink, error) {
	if path == "" {
		return nil, nil
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640)
	if err != nil {
		return nil, err
	}
	return &fileAuditSink{file: f}, nil
}

func (s *fileAuditSink) Write(rec audit.HTTPRecord) error {
	b, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err = s.file.Write(append(b, '\n'))
	return err
}

func (s *fileAuditSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.file.Close()
}

// storeAuditSink persists records through the database.
type storeAuditSink struct {
	store   storage.HTTPAuditStore
	timeout time.Duration
}

func (s storeAuditSink) Write(rec audit.HTTPRecord) error {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	return s.store.AppendHTTPAudit(ctx, rec)
}

// statusWriter captures the response status for the audit trail.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not support hijacking")
	}
	w.status = http.StatusSwitchingProtocols
	return h.Hijack()
}
