package runtime

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/R3E-Network/storefront/internal/app/storage/memory"
	"github.com/R3E-Network/storefront/internal/config"
	"github.com/R3E-Network/storefront/pkg/testutil"
)

func TestBuildCartStore(t *testing.T) {
	ctx := context.Background()
	sqlCarts := memory.New()

	tests := []struct {
		name    string
		backend string
		same    bool
		ok      bool
	}{
		{"default", "", false, true},
		{"memory", "memory", false, true},
		{"sql", "sql", true, true},
		{"unknown", "etcd", false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store, closer, err := buildCartStore(ctx, config.CartConfig{Backend: tt.backend}, sqlCarts)
			if !tt.ok {
				if err == nil {
					t.Fatalf("expected error for backend %q", tt.backend)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if closer != nil {
				t.Fatalf("expected no closer for backend %q", tt.backend)
			}
			if tt.same && store != sqlCarts {
				t.Fatalf("expected the sql store to be reused")
			}
			if !tt.same && store == sqlCarts {
				t.Fatalf("expected a dedicated store for backend %q", tt.backend)
			}
		})
	}
}

func TestNewApplicationSQLite(t *testing.T) {
	cfg := testutil.Config(t)
	cfg.Database.Driver = "sqlite"
	cfg.Database.DSN = filepath.Join(t.TempDir(), "data", "shop.db")

	ctx := context.Background()
	a, err := NewApplication(ctx, cfg, "test")
	if err != nil {
		t.Fatalf("new application: %v", err)
	}
	defer func() {
		_ = a.app.Stop(ctx)
		_ = a.app.Close()
	}()

	if err := a.App().Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	if !a.db.IsSQLite() {
		t.Fatalf("expected sqlite database")
	}

	resp := httptest.NewRecorder()
	a.httpServer.Handler.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if resp.Code != http.StatusOK {
		t.Fatalf("healthz: expected 200, got %d: %s", resp.Code, resp.Body.String())
	}

	archive, err := a.App().Backups.Create(ctx)
	if err != nil {
		t.Fatalf("create backup: %v", err)
	}
	if archive.Size == 0 {
		t.Fatalf("expected non-empty archive")
	}
}

func TestNewApplicationRequiresConfig(t *testing.T) {
	if _, err := NewApplication(context.Background(), nil, "test"); err == nil {
		t.Fatalf("expected error without config")
	}
}
