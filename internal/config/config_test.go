package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "storefront.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadYAMLThenEnv(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 9090
database:
  driver: sqlite
  dsn: shop.db
auth:
  jwt_secret: `+testSecret+`
shop:
  shipping_cents: 799
`)
	t.Setenv("SERVER_PORT", "9191")
	t.Setenv("CART_TTL", "2h")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9191, cfg.Server.Port)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, int64(799), cfg.Shop.ShippingCents)
	assert.Equal(t, 2*time.Hour, cfg.Cart.TTL)
	assert.Equal(t, "memory", cfg.Cart.Backend)
	assert.True(t, cfg.Database.IsSQLite())
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	cfg := Default()
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "jwt_secret")

	cfg.Auth.JWTSecret = testSecret
	require.NoError(t, cfg.Validate())

	cfg.Cart.Backend = "redis"
	err = cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "redis_addr")

	cfg.Cart.Backend = "memory"
	cfg.Database.Driver = "mysql"
	assert.Error(t, cfg.Validate())
}

func TestSplitCSV(t *testing.T) {
	assert.Equal(t, []string{"a", "b"}, SplitCSV(" a, ,b,"))
	assert.Nil(t, SplitCSV(""))
}
