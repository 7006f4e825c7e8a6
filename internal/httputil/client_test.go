package httputil

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

// =============================================================================
// WebhookClient Tests
// =============================================================================

func TestNewWebhookClient_Defaults(t *testing.T) {
	client := NewWebhookClient(WebhookClientConfig{URL: " http://localhost:9000/hook "})

	if client.url != "http://localhost:9000/hook" {
		t.Errorf("url = %q, want trimmed", client.url)
	}
	if client.maxRetries != 2 {
		t.Errorf("default maxRetries = %d, want 2", client.maxRetries)
	}
	if client.httpClient.Timeout != 10*time.Second {
		t.Errorf("default timeout = %v, want 10s", client.httpClient.Timeout)
	}
}

func TestWebhookClient_SendSigned(t *testing.T) {
	secret := []byte("hook-secret")
	var gotEvent string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		if !VerifySignature(secret, body, r.Header.Get(SignatureHeader)) {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		gotEvent = r.Header.Get("X-Storefront-Event")
		var payload map[string]string
		if err := json.Unmarshal(body, &payload); err != nil || payload["order"] != "ORD-1" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	client := NewWebhookClient(WebhookClientConfig{URL: server.URL, Secret: string(secret)})
	if err := client.Send(context.Background(), "order.created", map[string]string{"order": "ORD-1"}); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if gotEvent != "order.created" {
		t.Errorf("event header = %q, want order.created", gotEvent)
	}
}

func TestWebhookClient_RetriesServerErrors(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := NewWebhookClient(WebhookClientConfig{URL: server.URL, MaxRetries: 2, Backoff: time.Millisecond})
	if err := client.Send(context.Background(), "ping", map[string]int{"n": 1}); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if got := atomic.LoadInt32(&calls); got != 3 {
		t.Errorf("calls = %d, want 3", got)
	}
}

func TestWebhookClient_NoRetryOnClientError(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		http.Error(w, "nope", http.StatusBadRequest)
	}))
	defer server.Close()

	client := NewWebhookClient(WebhookClientConfig{URL: server.URL, MaxRetries: 3, Backoff: time.Millisecond})
	if err := client.Send(context.Background(), "ping", nil); err == nil {
		t.Fatal("Send() expected error for 400 response")
	}
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Errorf("calls = %d, want 1", got)
	}
}
