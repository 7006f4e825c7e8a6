package runtime

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	app "github.com/R3E-Network/storefront/internal/app"
	"github.com/R3E-Network/storefront/internal/app/httpapi"
	"github.com/R3E-Network/storefront/internal/app/storage"
	"github.com/R3E-Network/storefront/internal/app/storage/memory"
	"github.com/R3E-Network/storefront/internal/app/storage/rediscart"
	"github.com/R3E-Network/storefront/internal/app/storage/sqlstore"
	"github.com/R3E-Network/storefront/internal/config"
	"github.com/R3E-Network/storefront/internal/platform/database"
	"github.com/R3E-Network/storefront/internal/platform/migrations"
	"github.com/R3E-Network/storefront/pkg/logger"
)

// Application wires core dependencies and manages the HTTP server lifecycle.
type Application struct {
	cfg        *config.Config
	log        *logger.Logger
	app        *app.Application
	db         *database.DB
	httpServer *http.Server
}

// NewApplication opens the database, applies migrations when configured and
// builds the HTTP server around the storefront application.
func NewApplication(ctx context.Context, cfg *config.Config, version string) (*Application, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	log := logger.New(cfg.Logging)

	db, err := database.Open(ctx, cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if cfg.Database.AutoMigrate {
		conn, release := db.Acquire()
		err := migrations.Apply(ctx, conn.DB)
		release()
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("apply migrations: %w", err)
		}
	}

	store := sqlstore.New(db)
	carts, closeCarts, err := buildCartStore(ctx, cfg.Cart, store)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("configure cart store: %w", err)
	}

	application, err := app.New(app.Stores{
		Catalog:   store,
		Orders:    store,
		Customers: store,
		Users:     store,
		Audit:     store,
		Carts:     carts,
		HTTPAudit: store,
	}, app.Options{Config: cfg, Version: version, DB: db}, log)
	if err != nil {
		if closeCarts != nil {
			_ = closeCarts()
		}
		db.Close()
		return nil, err
	}
	if closeCarts != nil {
		application.OnClose(closeCarts)
	}
	application.OnClose(db.Close)

	log.WithFields(map[string]interface{}{
		"driver":  db.Driver(),
		"carts":   cfg.Cart.Backend,
		"version": version,
	}).Info("storefront configured")

	return &Application{
		cfg: cfg,
		log: log,
		app: application,
		db:  db,
		httpServer: &http.Server{
			Addr:              cfg.Server.Addr(),
			Handler:           httpapi.NewHandler(application),
			ReadTimeout:       cfg.Server.ReadTimeout,
			ReadHeaderTimeout: 10 * time.Second,
			WriteTimeout:      cfg.Server.WriteTimeout,
			IdleTimeout:       2 * time.Minute,
		},
	}, nil
}

// App exposes the wired application for commands that bypass HTTP.
func (a *Application) App() *app.Application {
	return a.app
}

// Run starts background services and the HTTP server and blocks until the
// context is cancelled or the server fails.
func (a *Application) Run(ctx context.Context) error {
	if err := a.app.Start(ctx); err != nil {
		return fmt.Errorf("start services: %w", err)
	}

	ln, err := net.Listen("tcp", a.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", a.httpServer.Addr, err)
	}

	errCh := make(chan error, 1)
	go func() {
		a.log.Infof("HTTP server listening on %s", ln.Addr())
		if err := a.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		return nil
	case err := <-errCh:
		return err
	}
}

// Shutdown gracefully shuts down the HTTP server, stops background services
// and releases the stores.
func (a *Application) Shutdown(ctx context.Context) error {
	timeout := a.cfg.Server.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	serverErr := a.httpServer.Shutdown(shutdownCtx)
	if err := a.app.Stop(shutdownCtx); err != nil {
		a.log.WithError(err).Warn("error stopping services")
	}
	if err := a.app.Close(); err != nil {
		a.log.WithError(err).Warn("error releasing resources")
	}
	return serverErr
}

// buildCartStore selects the cart backend. The returned closer is nil when
// the backend owns no resources of its own.
func buildCartStore(ctx context.Context, cfg config.CartConfig, sqlCarts storage.CartStore) (storage.CartStore, func() error, error) {
	switch cfg.Backend {
	case "", "memory":
		return memory.New(), nil, nil
	case "sql":
		return sqlCarts, nil, nil
	case "redis":
		store, err := rediscart.Dial(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.TTL)
		if err != nil {
			return nil, nil, err
		}
		return store, store.Close, nil
	default:
		return nil, nil, fmt.Errorf("unsupported cart backend %q", cfg.Backend)
	}
}
