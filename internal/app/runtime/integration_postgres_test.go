//go:build integration && postgres

package runtime

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"github.com/joho/godotenv"

	"github.com/R3E-Network/storefront/internal/config"
)

// Integration test against Postgres to ensure migrations and the checkout
// path work with persistence.
func TestIntegrationPostgres(t *testing.T) {
	_ = godotenv.Load() // allow .env for local runs
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		t.Skip("DATABASE_URL not set; skipping Postgres integration")
	}

	cfg := config.Default()
	cfg.Database.Driver = "postgres"
	cfg.Database.DSN = dsn
	cfg.Database.MaxOpenConns = 5
	cfg.Cart.Backend = "sql"
	cfg.Auth.JWTSecret = strings.Repeat("p", 32)
	cfg.Auth.AdminEmail = "pg-admin@example.com"
	cfg.Auth.AdminPassword = "pg-admin-password"
	cfg.RateLimit.RequestsPerSecond = 0

	ctx := context.Background()
	appRuntime, err := NewApplication(ctx, cfg, "integration")
	if err != nil {
		t.Fatalf("new runtime: %v", err)
	}
	if err := appRuntime.App().Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	t.Cleanup(func() {
		_ = appRuntime.App().Stop(ctx)
		_ = appRuntime.App().Close()
	})

	server := httptest.NewServer(appRuntime.httpServer.Handler)
	defer server.Close()
	client := server.Client()

	post := func(path, token string, body interface{}) *http.Response {
		b, _ := json.Marshal(body)
		req, _ := http.NewRequest(http.MethodPost, server.URL+path, bytes.NewReader(b))
		req.Header.Set("Content-Type", "application/json")
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
		resp, err := client.Do(req)
		if err != nil {
			t.Fatalf("POST %s: %v", path, err)
		}
		return resp
	}

	if resp, err := client.Get(server.URL + "/healthz"); err != nil || resp.StatusCode != http.StatusOK {
		t.Fatalf("healthz failed: %v", err)
	}

	resp := post("/api/admin/auth/login", "", map[string]string{"email": cfg.Auth.AdminEmail, "password": cfg.Auth.AdminPassword})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("login status: %d", resp.StatusCode)
	}
	var session struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&session); err != nil {
		t.Fatalf("decode login: %v", err)
	}
	resp.Body.Close()

	sku := "PG-" + strings.ToUpper(strings.ReplaceAll(t.Name(), "/", "-"))
	resp = post("/api/admin/products", session.Token, map[string]interface{}{"sku": sku, "name": "Postgres " + sku, "price_cents": 700, "stock": 2})
	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusConflict {
		t.Fatalf("create product status: %d", resp.StatusCode)
	}
	resp.Body.Close()
}
