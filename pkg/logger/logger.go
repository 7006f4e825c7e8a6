// Package logger provides the structured logger shared by every storefront
// component. It wraps logrus and carries request-scoped fields (trace ID,
// user ID, role) through context.Context.
package logger

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

type contextKey string

const (
	// TraceIDKey holds the per-request trace identifier.
	TraceIDKey contextKey = "trace_id"
	// UserIDKey holds the authenticated back-office user ID.
	UserIDKey contextKey = "user_id"
	// RoleKey holds the authenticated user's role.
	RoleKey contextKey = "role"
	// EmailKey holds the authenticated user's email.
	EmailKey contextKey = "email"
)

// LoggingConfig controls logger construction.
type LoggingConfig struct {
	Level      string `yaml:"level" env:"LOG_LEVEL"`
	Format     string `yaml:"format" env:"LOG_FORMAT"`
	Output     string `yaml:"output" env:"LOG_OUTPUT"`
	FilePrefix string `yaml:"file_prefix" env:"LOG_FILE_PREFIX"`
}

// Logger is a logrus logger bound to a component name.
type Logger struct {
	*logrus.Logger
	component string
}

// New builds a logger from configuration. Unknown levels fall back to info.
func New(cfg LoggingConfig) *Logger {
	l := logrus.New()

	level, err := logrus.ParseLevel(strings.TrimSpace(cfg.Level))
	if err != nil {
		level = logrus.InfoLevel
	}
	l.SetLevel(level)

	switch strings.ToLower(strings.TrimSpace(cfg.Format)) {
	case "text":
		l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, TimestampFormat: time.RFC3339})
	default:
		l.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339Nano})
	}

	l.SetOutput(openOutput(cfg))
	return &Logger{Logger: l, component: "storefront"}
}

// NewDefault returns a JSON info-level logger writing to stdout.
func NewDefault(component string) *Logger {
	log := New(LoggingConfig{Level: "info", Format: "json", Output: "stdout"})
	log.component = component
	return log
}

// NewNop returns a logger that discards everything. Used in tests.
func NewNop() *Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return &Logger{Logger: l, component: "nop"}
}

func openOutput(cfg LoggingConfig) io.Writer {
	switch strings.ToLower(strings.TrimSpace(cfg.Output)) {
	case "", "stdout":
		return os.Stdout
	case "stderr":
		return os.Stderr
	case "file":
		prefix := cfg.FilePrefix
		if prefix == "" {
			prefix = "storefront"
		}
		name := fmt.Sprintf("%s-%s.log", prefix, time.Now().UTC().Format("20060102"))
		if dir := filepath.Dir(prefix); dir != "." {
			_ = os.MkdirAll(dir, 0o755)
		}
		f, err := os.OpenFile(name, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640)
		if err != nil {
			fmt.Fprintf(os.Stderr, "logger: open %s: %v; falling back to stdout\n", name, err)
			return os.Stdout
		}
		return f
	default:
		return os.Stdout
	}
}

// Named returns a copy of the logger tagged with a different component.
func (l *Logger) Named(component string) *Logger {
	return &Logger{Logger: l.Logger, component: component}
}

// Entry returns a base entry carrying the component field.
func (l *Logger) Entry() *logrus.Entry {
	return l.Logger.WithField("component", l.component)
}

// WithContext returns an entry enriched with the request-scoped fields found in ctx.
func (l *Logger) WithContext(ctx context.Context) *logrus.Entry {
	entry := l.Entry()
	if ctx == nil {
		return entry
	}
	if traceID := GetTraceID(ctx); traceID != "" {
		entry = entry.WithField("trace_id", traceID)
	}
	if userID := GetUserID(ctx); userID != "" {
		entry = entry.WithField("user_id", userID)
	}
	if role := GetRole(ctx); role != "" {
		entry = entry.WithField("role", role)
	}
	return entry.WithContext(ctx)
}

// WithFields returns an entry with the given fields and the component field.
func (l *Logger) WithFields(fields map[string]interface{}) *logrus.Entry {
	return l.Entry().WithFields(logrus.Fields(fields))
}

// WithError returns an entry carrying err.
func (l *Logger) WithError(err error) *logrus.Entry {
	return l.Entry().WithError(err)
}

// LogRequest records a completed HTTP request.
func (l *Logger) LogRequest(ctx context.Context, method, path string, status int, duration time.Duration) {
	entry := l.WithContext(ctx).WithFields(logrus.Fields{
		"method":      method,
		"path":        path,
		"status":      status,
		"duration_ms": duration.Milliseconds(),
	})
	switch {
	case status >= 500:
		entry.Error("request completed")
	case status >= 400:
		entry.Warn("request completed")
	default:
		entry.Info("request completed")
	}
}

// LogSecurityEvent records an authentication or abuse related event.
func (l *Logger) LogSecurityEvent(ctx context.Context, event string, fields map[string]interface{}) {
	l.WithContext(ctx).WithFields(logrus.Fields(fields)).WithField("security_event", event).Warn("security event")
}

// NewTraceID generates a random trace identifier.
func NewTraceID() string {
	return uuid.NewString()
}

// WithTraceID stores a trace ID in ctx.
func WithTraceID(ctx context.Context, traceID string) context.Context {
	if traceID == "" {
		return ctx
	}
	return context.WithValue(ctx, TraceIDKey, traceID)
}

// GetTraceID returns the trace ID stored in ctx, if any.
func GetTraceID(ctx context.Context) string {
	return stringValue(ctx, TraceIDKey)
}

// WithUser stores the authenticated identity in ctx.
func WithUser(ctx context.Context, userID, email, role string) context.Context {
	ctx = context.WithValue(ctx, UserIDKey, userID)
	if email != "" {
		ctx = context.WithValue(ctx, EmailKey, email)
	}
	if role != "" {
		ctx = context.WithValue(ctx, RoleKey, role)
	}
	return ctx
}

// GetUserID returns the authenticated user ID stored in ctx.
func GetUserID(ctx context.Context) string {
	return stringValue(ctx, UserIDKey)
}

// GetEmail returns the authenticated user's email stored in ctx.
func GetEmail(ctx context.Context) string {
	return stringValue(ctx, EmailKey)
}

// GetRole returns the authenticated user's role stored in ctx.
func GetRole(ctx context.Context) string {
	return stringValue(ctx, RoleKey)
}

func stringValue(ctx context.Context, key contextKey) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(key).(string); ok {
		return v
	}
	return ""
}
