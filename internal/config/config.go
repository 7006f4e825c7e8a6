// Package config loads storefront configuration from an optional YAML file,
// an optional .env file and the process environment, in that order of
// increasing precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/R3E-Network/storefront/pkg/logger"
)

// Config is the root configuration.
type Config struct {
	Server    ServerConfig         `yaml:"server"`
	Database  DatabaseConfig       `yaml:"database"`
	Logging   logger.LoggingConfig `yaml:"logging"`
	Auth      AuthConfig           `yaml:"auth"`
	Cart      CartConfig           `yaml:"cart"`
	Shop      ShopConfig           `yaml:"shop"`
	Backup    BackupConfig         `yaml:"backup"`
	Notify    NotifyConfig         `yaml:"notify"`
	Audit     AuditConfig          `yaml:"audit"`
	RateLimit RateLimitConfig      `yaml:"rate_limit"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Host            string        `yaml:"host" env:"SERVER_HOST"`
	Port            int           `yaml:"port" env:"SERVER_PORT"`
	ReadTimeout     time.Duration `yaml:"read_timeout" env:"SERVER_READ_TIMEOUT"`
	WriteTimeout    time.Duration `yaml:"write_timeout" env:"SERVER_WRITE_TIMEOUT"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SERVER_SHUTDOWN_TIMEOUT"`
	CORSOrigins     string        `yaml:"cors_origins" env:"CORS_ALLOWED_ORIGINS"`
}

// Addr returns host:port.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// Origins splits CORSOrigins on commas.
func (s ServerConfig) Origins() []string {
	return SplitCSV(s.CORSOrigins)
}

// DatabaseConfig selects the SQL driver and connection pool settings.
type DatabaseConfig struct {
	Driver          string `yaml:"driver" env:"DATABASE_DRIVER"`
	DSN             string `yaml:"dsn" env:"DATABASE_URL"`
	MaxOpenConns    int    `yaml:"max_open_conns" env:"DATABASE_MAX_OPEN_CONNS"`
	MaxIdleConns    int    `yaml:"max_idle_conns" env:"DATABASE_MAX_IDLE_CONNS"`
	ConnMaxLifetime int    `yaml:"conn_max_lifetime" env:"DATABASE_CONN_MAX_LIFETIME"`
	AutoMigrate     bool   `yaml:"auto_migrate" env:"DATABASE_AUTO_MIGRATE"`
}

// IsSQLite reports whether the configured driver is one of the SQLite drivers.
func (d DatabaseConfig) IsSQLite() bool {
	switch d.Driver {
	case "sqlite3", "sqlite":
		return true
	}
	return false
}

// AuthConfig configures back-office authentication.
type AuthConfig struct {
	JWTSecret     string        `yaml:"jwt_secret" env:"AUTH_JWT_SECRET"`
	TokenTTL      time.Duration `yaml:"token_ttl" env:"AUTH_TOKEN_TTL"`
	CookieSecure  bool          `yaml:"cookie_secure" env:"AUTH_COOKIE_SECURE"`
	AdminEmail    string        `yaml:"admin_email" env:"ADMIN_EMAIL"`
	AdminPassword string        `yaml:"admin_password" env:"ADMIN_PASSWORD"`
	AdminName     string        `yaml:"admin_name" env:"ADMIN_NAME"`
	LoginRPS      int           `yaml:"login_rps" env:"AUTH_LOGIN_RPS"`
	LoginBurst    int           `yaml:"login_burst" env:"AUTH_LOGIN_BURST"`
}

// CartConfig selects the cart backend: memory, sql (the main database) or
// redis.
type CartConfig struct {
	Backend       string        `yaml:"backend" env:"CART_BACKEND"`
	TTL           time.Duration `yaml:"ttl" env:"CART_TTL"`
	RedisAddr     string        `yaml:"redis_addr" env:"REDIS_ADDR"`
	RedisPassword string        `yaml:"redis_password" env:"REDIS_PASSWORD"`
	RedisDB       int           `yaml:"redis_db" env:"REDIS_DB"`
}

// ShopConfig holds storefront business settings.
type ShopConfig struct {
	Name                       string `yaml:"name" env:"SHOP_NAME"`
	Currency                   string `yaml:"currency" env:"SHOP_CURRENCY"`
	ShippingCents              int64  `yaml:"shipping_cents" env:"SHOP_SHIPPING_CENTS"`
	FreeShippingThresholdCents int64  `yaml:"free_shipping_threshold_cents" env:"SHOP_FREE_SHIPPING_THRESHOLD_CENTS"`
	LowStockThreshold          int    `yaml:"low_stock_threshold" env:"SHOP_LOW_STOCK_THRESHOLD"`
}

// BackupConfig configures database backups.
type BackupConfig struct {
	Dir      string `yaml:"dir" env:"BACKUP_DIR"`
	Keep     int    `yaml:"keep" env:"BACKUP_KEEP"`
	Schedule string `yaml:"schedule" env:"BACKUP_SCHEDULE"`
}

// NotifyConfig configures outbound order webhooks.
type NotifyConfig struct {
	WebhookURL    string `yaml:"webhook_url" env:"NOTIFY_WEBHOOK_URL"`
	WebhookSecret string `yaml:"webhook_secret" env:"NOTIFY_WEBHOOK_SECRET"`
}

// AuditConfig configures the HTTP audit trail.
type AuditConfig struct {
	BufferSize  int    `yaml:"buffer_size" env:"AUDIT_BUFFER_SIZE"`
	HTTPLogPath string `yaml:"http_log_path" env:"AUDIT_HTTP_LOG_PATH"`
}

// RateLimitConfig configures the global per-client limiter.
type RateLimitConfig struct {
	RequestsPerSecond int `yaml:"requests_per_second" env:"RATE_LIMIT_RPS"`
	Burst             int `yaml:"burst" env:"RATE_LIMIT_BURST"`
}

// Default returns a configuration suitable for local development.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 10 * time.Second,
			CORSOrigins:     "http://localhost:3000,http://localhost:5173",
		},
		Database: DatabaseConfig{
			Driver:       "sqlite3",
			DSN:          "data/storefront.db",
			MaxOpenConns: 1,
			AutoMigrate:  true,
		},
		Logging: logger.LoggingConfig{Level: "info", Format: "json", Output: "stdout"},
		Auth: AuthConfig{
			TokenTTL:   12 * time.Hour,
			AdminName:  "Administrator",
			LoginRPS:   1,
			LoginBurst: 5,
		},
		Cart: CartConfig{Backend: "memory", TTL: 72 * time.Hour},
		Shop: ShopConfig{
			Name:                       "Storefront",
			Currency:                   "USD",
			ShippingCents:              500,
			FreeShippingThresholdCents: 5000,
			LowStockThreshold:          5,
		},
		Backup:    BackupConfig{Dir: "backups", Keep: 10},
		Audit:     AuditConfig{BufferSize: 200},
		RateLimit: RateLimitConfig{RequestsPerSecond: 20, Burst: 40},
	}
}

// Load reads path (optional), .env (optional) and the environment.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	if err := envdecode.Decode(cfg); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return nil, fmt.Errorf("failed to decode environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks required settings and value ranges.
func (c *Config) Validate() error {
	var problems []string
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		problems = append(problems, "server.port must be between 1 and 65535")
	}
	switch c.Database.Driver {
	case "sqlite3", "sqlite", "postgres":
	default:
		problems = append(problems, fmt.Sprintf("database.driver %q unsupported (sqlite3, sqlite, postgres)", c.Database.Driver))
	}
	if strings.TrimSpace(c.Database.DSN) == "" {
		problems = append(problems, "database.dsn is required")
	}
	if len(c.Auth.JWTSecret) < 32 {
		problems = append(problems, "auth.jwt_secret must be at least 32 characters")
	}
	if c.Auth.TokenTTL <= 0 {
		problems = append(problems, "auth.token_ttl must be positive")
	}
	switch c.Cart.Backend {
	case "memory", "sql":
	case "redis":
		if c.Cart.RedisAddr == "" {
			problems = append(problems, "cart.redis_addr is required for the redis backend")
		}
	default:
		problems = append(problems, fmt.Sprintf("cart.backend %q unsupported (memory, sql, redis)", c.Cart.Backend))
	}
	if c.Shop.ShippingCents < 0 || c.Shop.FreeShippingThresholdCents < 0 {
		problems = append(problems, "shop shipping amounts must not be negative")
	}
	if c.Backup.Keep < 0 {
		problems = append(problems, "backup.keep must not be negative")
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(problems, "; "))
	}
	return nil
}

// SplitCSV splits a comma separated list, dropping blanks.
func SplitCSV(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
