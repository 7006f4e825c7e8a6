// Package httputil holds the JSON response helpers used by the HTTP API and
// the outbound webhook client used for order notifications.
package httputil

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// SignatureHeader carries the hex HMAC-SHA256 of the request body.
const SignatureHeader = "X-Storefront-Signature"

// WebhookClient posts signed JSON payloads to a single endpoint.
type WebhookClient struct {
	httpClient *http.Client
	url        string
	secret     []byte
	maxRetries int
	backoff    time.Duration
}

// WebhookClientConfig configures the webhook client.
type WebhookClientConfig struct {
	URL        string
	Secret     string
	Timeout    time.Duration
	MaxRetries int
	Backoff    time.Duration
}

// NewWebhookClient creates a webhook client with sane defaults.
func NewWebhookClient(cfg WebhookClientConfig) *WebhookClient {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	maxRetries := cfg.MaxRetries
	if maxRetries == 0 {
		maxRetries = 2
	}
	backoff := cfg.Backoff
	if backoff == 0 {
		backoff = 500 * time.Millisecond
	}
	return &WebhookClient{
		httpClient: &http.Client{Timeout: timeout},
		url:        strings.TrimSpace(cfg.URL),
		secret:     []byte(cfg.Secret),
		maxRetries: maxRetries,
		backoff:    backoff,
	}
}

// Send posts body as JSON, retrying transport errors and 5xx responses.
func (c *WebhookClient) Send(ctx context.Context, event string, body interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal webhook payload: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(c.backoff * time.Duration(attempt)):
			}
		}
		retry, err := c.post(ctx, event, payload)
		if err == nil {
			return nil
		}
		lastErr = err
		if !retry {
			break
		}
	}
	return lastErr
}

func (c *WebhookClient) post(ctx context.Context, event string, payload []byte) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(payload))
	if err != nil {
		return false, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Storefront-Event", event)
	if len(c.secret) > 0 {
		req.Header.Set(SignatureHeader, Sign(c.secret, payload))
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return true, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		body, truncated, readErr := ReadAllWithLimit(resp.Body, 4<<10)
		if readErr != nil {
			return resp.StatusCode >= 500, fmt.Errorf("webhook status %d", resp.StatusCode)
		}
		msg := strings.TrimSpace(string(body))
		if truncated {
			msg += "...(truncated)"
		}
		return resp.StatusCode >= 500, fmt.Errorf("webhook status %d: %s", resp.StatusCode, msg)
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	return false, nil
}

// Sign returns the signature header value for payload.
func Sign(secret, payload []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(payload)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature checks a signature produced by Sign.
func VerifySignature(secret, payload []byte, signature string) bool {
	return hmac.Equal([]byte(Sign(secret, payload)), []byte(signature))
}
