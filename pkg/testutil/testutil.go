// Package testutil provides common testing fixtures and mock implementations.
package testutil

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/R3E-Network/storefront/internal/config"
)

// Admin credentials bootstrapped by Config.
const (
	AdminEmail    = "admin@example.com"
	AdminPassword = "correct-horse-battery"
)

// Config returns a valid configuration with a throwaway backup directory,
// a bootstrapped admin and rate limiting disabled.
func Config(tb testing.TB) *config.Config {
	tb.Helper()
	cfg := config.Default()
	cfg.Auth.JWTSecret = strings.Repeat("k", 32)
	cfg.Auth.AdminEmail = AdminEmail
	cfg.Auth.AdminPassword = AdminPassword
	cfg.Backup.Dir = tb.TempDir()
	cfg.RateLimit.RequestsPerSecond = 0
	cfg.Logging.Output = "stderr"
	return cfg
}

// Sent is one recorded webhook delivery.
type Sent struct {
	Event string
	Body  interface{}
}

// MockSender records webhook deliveries and can be told to fail.
type MockSender struct {
	mu     sync.Mutex
	sent   []Sent
	fail   error
	notify chan struct{}
}

// NewMockSender creates a sender that accepts every delivery.
func NewMockSender() *MockSender {
	return &MockSender{notify: make(chan struct{}, 64)}
}

// FailWith makes subsequent sends return err; nil restores success.
func (m *MockSender) FailWith(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fail = err
}

// Send records the delivery.
func (m *MockSender) Send(_ context.Context, event string, body interface{}) error {
	m.mu.Lock()
	m.sent = append(m.sent, Sent{Event: event, Body: body})
	err := m.fail
	m.mu.Unlock()

	select {
	case m.notify <- struct{}{}:
	default:
	}
	return err
}

// Sent returns a copy of the recorded deliveries.
func (m *MockSender) Sent() []Sent {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Sent, len(m.sent))
	copy(out, m.sent)
	return out
}

// WaitFor blocks until at least n deliveries were recorded or the timeout
// expires.
func (m *MockSender) WaitFor(n int, timeout time.Duration) ([]Sent, error) {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	for {
		if sent := m.Sent(); len(sent) >= n {
			return sent, nil
		}
		select {
		case <-m.notify:
		case <-deadline.C:
			return m.Sent(), errors.New("timed out waiting for deliveries")
		}
	}
}
