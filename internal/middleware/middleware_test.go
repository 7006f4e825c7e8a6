package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/R3E-Network/storefront/pkg/logger"
)

func TestRateLimiter_PerIP(t *testing.T) {
	rl := NewRateLimiter(1, 2, logger.NewNop())
	handler := rl.PerIP(okHandler())

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest("POST", "/api/admin/auth/login", nil)
		req.RemoteAddr = "10.0.0.1:5555"
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		codes = append(codes, rec.Code)
		if rec.Code == http.StatusTooManyRequests && rec.Header().Get("Retry-After") == "" {
			t.Error("Retry-After header missing")
		}
	}
	if codes[0] != http.StatusOK || codes[1] != http.StatusOK || codes[2] != http.StatusTooManyRequests {
		t.Errorf("codes = %v, want [200 200 429]", codes)
	}

	req := httptest.NewRequest("POST", "/api/admin/auth/login", nil)
	req.RemoteAddr = "10.0.0.2:5555"
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("other client limited: %d", rec.Code)
	}
}

func TestRateLimiter_Cleanup(t *testing.T) {
	rl := NewRateLimiter(10, 10, logger.NewNop())
	base := time.Now()
	rl.now = func() time.Time { return base }
	rl.Allow("a")
	rl.now = func() time.Time { return base.Add(time.Minute) }
	rl.Allow("b")

	if removed := rl.Cleanup(30 * time.Second); removed != 1 {
		t.Errorf("removed = %d, want 1", removed)
	}
	if _, ok := rl.limiters["b"]; !ok {
		t.Error("recent limiter was dropped")
	}
}

func TestClientIP(t *testing.T) {
	req := httptest.NewRequest("GET", "/", nil)
	req.RemoteAddr = "192.0.2.1:1234"
	if got := ClientIP(req); got != "192.0.2.1" {
		t.Errorf("ClientIP = %q", got)
	}
	req.Header.Set("X-Real-IP", "198.51.100.7")
	if got := ClientIP(req); got != "198.51.100.7" {
		t.Errorf("ClientIP = %q", got)
	}
	req.Header.Set("X-Forwarded-For", "203.0.113.5, 10.0.0.1")
	if got := ClientIP(req); got != "203.0.113.5" {
		t.Errorf("ClientIP = %q", got)
	}
}

func TestCORSMiddleware(t *testing.T) {
	m := NewCORSMiddleware([]string{"https://shop.example.com", "*.example.org"})
	handler := m.Handler(okHandler())

	tests := []struct {
		origin  string
		allowed bool
	}{
		{"https://shop.example.com", true},
		{"https://admin.example.org", true},
		{"https://evil-example.com", false},
		{"https://example.org.evil.net", false},
	}
	for _, tt := range tests {
		req := httptest.NewRequest("GET", "/api/products", nil)
		req.Header.Set("Origin", tt.origin)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		got := rec.Header().Get("Access-Control-Allow-Origin") == tt.origin
		if got != tt.allowed {
			t.Errorf("origin %s allowed = %v, want %v", tt.origin, got, tt.allowed)
		}
	}

	req := httptest.NewRequest("OPTIONS", "/api/cart", nil)
	req.Header.Set("Origin", "https://shop.example.com")
	req.Header.Set("Access-Control-Request-Method", "POST")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Errorf("preflight status = %d", rec.Code)
	}
}

func TestTracingMiddleware(t *testing.T) {
	m := NewTracingMiddleware(logger.NewNop())
	var seen string
	handler := m.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = logger.GetTraceID(r.Context())
		w.WriteHeader(http.StatusCreated)
	}))

	req := httptest.NewRequest("GET", "/healthz", nil)
	req.Header.Set(TraceHeader, "abc123")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if seen != "abc123" || rec.Header().Get(TraceHeader) != "abc123" {
		t.Errorf("trace id not propagated: ctx=%q header=%q", seen, rec.Header().Get(TraceHeader))
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("GET", "/healthz", nil))
	if rec.Header().Get(TraceHeader) == "" {
		t.Error("trace id not generated")
	}
}
