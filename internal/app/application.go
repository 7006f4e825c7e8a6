package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/R3E-Network/storefront/internal/app/auth"
	"github.com/R3E-Network/storefront/internal/app/domain/order"
	"github.com/R3E-Network/storefront/internal/app/events"
	"github.com/R3E-Network/storefront/internal/app/metrics"
	auditsvc "github.com/R3E-Network/storefront/internal/app/services/audit"
	"github.com/R3E-Network/storefront/internal/app/services/backup"
	"github.com/R3E-Network/storefront/internal/app/services/carts"
	"github.com/R3E-Network/storefront/internal/app/services/catalog"
	"github.com/R3E-Network/storefront/internal/app/services/customers"
	"github.com/R3E-Network/storefront/internal/app/services/dashboard"
	"github.com/R3E-Network/storefront/internal/app/services/orders"
	"github.com/R3E-Network/storefront/internal/app/services/users"
	"github.com/R3E-Network/storefront/internal/app/storage"
	"github.com/R3E-Network/storefront/internal/app/storage/memory"
	"github.com/R3E-Network/storefront/internal/app/system"
	"github.com/R3E-Network/storefront/internal/config"
	"github.com/R3E-Network/storefront/internal/httputil"
	"github.com/R3E-Network/storefront/internal/platform/database"
	"github.com/R3E-Network/storefront/internal/platform/migrations"
	"github.com/R3E-Network/storefront/pkg/logger"
)

// cartPurgeSchedule is how often expired carts are swept.
const cartPurgeSchedule = "@every 15m"

// Stores encapsulates persistence dependencies. Nil stores default to the
// in-memory implementation. HTTPAudit is optional.
type Stores struct {
	Catalog   storage.CatalogStore
	Orders    storage.OrderStore
	Customers storage.CustomerStore
	Users     storage.UserStore
	Audit     storage.AuditStore
	Carts     storage.CartStore
	HTTPAudit storage.HTTPAuditStore
}

// Options carries the non-store dependencies of an Application.
type Options struct {
	Config  *config.Config
	Version string

	// DB is the live SQL database. Nil disables backups and restores.
	DB *database.DB

	// Sender overrides the webhook client built from Config.Notify.
	Sender orders.Sender
}

// Application ties domain services together and manages their lifecycle.
type Application struct {
	manager *system.Manager
	log     *logger.Logger
	cfg     *config.Config
	db      *database.DB
	version string
	started time.Time
	closers []func() error

	Events    *events.Bus
	Tokens    *auth.Tokens
	Audit     *auditsvc.Service
	HTTPAudit storage.HTTPAuditStore
	Catalog   *catalog.Service
	Carts     *carts.Service
	Orders    *orders.Service
	Customers *customers.Service
	Users     *users.Service
	Backups   *backup.Service
	Dashboard *dashboard.Service
	Scheduler *system.Scheduler
}

// New builds a fully initialised application with the provided stores.
func New(stores Stores, opts Options, log *logger.Logger) (*Application, error) {
	if log == nil {
		log = logger.NewDefault("app")
	}
	cfg := opts.Config
	if cfg == nil {
		cfg = config.Default()
	}

	mem := memory.New()
	if stores.Catalog == nil {
		stores.Catalog = mem
	}
	if stores.Orders == nil {
		stores.Orders = mem
	}
	if stores.Customers == nil {
		stores.Customers = mem
	}
	if stores.Users == nil {
		stores.Users = mem
	}
	if stores.Audit == nil {
		stores.Audit = mem
	}
	if stores.Carts == nil {
		stores.Carts = mem
	}

	tokens, err := auth.NewTokens(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL)
	if err != nil {
		return nil, fmt.Errorf("configure tokens: %w", err)
	}

	manager := system.NewManager()
	bus := events.NewBus()

	auditService := auditsvc.New(stores.Audit, log.Named("audit"))
	catalogService := catalog.New(stores.Catalog, auditService, log.Named("catalog"))
	cartService := carts.New(stores.Carts, stores.Catalog, cfg.Cart.TTL, log.Named("carts"))
	orderService := orders.New(
		stores.Orders,
		stores.Customers,
		cartService,
		order.FlatShipping(cfg.Shop.ShippingCents, cfg.Shop.FreeShippingThresholdCents),
		log.Named("orders"),
		orders.WithEvents(bus),
		orders.WithMetrics(metrics.Orders{}),
		orders.WithAudit(auditService),
	)
	customerService := customers.New(stores.Customers, auditService, log.Named("customers"))
	userService := users.New(stores.Users, auditService, log.Named("users"))
	dashboardService := dashboard.New(stores.Catalog, stores.Orders, stores.Customers, cfg.Shop.LowStockThreshold)

	var backupDB backup.Database = detachedDB{}
	if opts.DB != nil {
		backupDB = opts.DB
	}
	backupService := backup.New(backupDB, backup.Config{
		Dir:     cfg.Backup.Dir,
		Keep:    cfg.Backup.Keep,
		Version: opts.Version,
		Migrate: migrateFunc(opts.DB),
		Audit:   auditService,
		Metrics: metrics.Backups{},
	}, log.Named("backup"))

	for _, svc := range []system.NoopService{
		{ServiceName: "catalog", Capabilities: []string{"products", "categories", "import"}},
		{ServiceName: "carts", Capabilities: []string{"cart:" + cfg.Cart.Backend}},
		{ServiceName: "orders", Capabilities: []string{"checkout", "fulfilment"}},
		{ServiceName: "customers"},
		{ServiceName: "users", Capabilities: []string{"auth"}},
	} {
		if err := manager.Register(svc); err != nil {
			return nil, fmt.Errorf("register %s service: %w", svc.ServiceName, err)
		}
	}

	scheduler := system.NewScheduler(log.Named("scheduler"), 0)
	if cfg.Cart.TTL > 0 {
		if err := scheduler.Add("cart-purge", cartPurgeSchedule, func(ctx context.Context) error {
			_, err := cartService.Purge(ctx)
			return err
		}); err != nil {
			return nil, fmt.Errorf("schedule cart purge: %w", err)
		}
	}
	if opts.DB != nil && opts.DB.IsSQLite() {
		if err := scheduler.Add("backup", strings.TrimSpace(cfg.Backup.Schedule), func(ctx context.Context) error {
			_, err := backupService.Create(ctx)
			return err
		}); err != nil {
			return nil, fmt.Errorf("schedule backups: %w", err)
		}
	} else if cfg.Backup.Schedule != "" {
		log.Warn("backup.schedule set but the database is not sqlite; scheduled backups disabled")
	}

	services := []system.Service{scheduler}
	sender := opts.Sender
	if sender == nil {
		if url := strings.TrimSpace(cfg.Notify.WebhookURL); url != "" {
			sender = httputil.NewWebhookClient(httputil.WebhookClientConfig{
				URL:    url,
				Secret: cfg.Notify.WebhookSecret,
			})
		} else {
			log.Info("notify.webhook_url not set; order webhooks disabled")
		}
	}
	if sender != nil {
		services = append(services, orders.NewNotifier(bus, sender, log.Named("order-notifier")))
	}

	for _, svc := range services {
		if err := manager.Register(svc); err != nil {
			return nil, fmt.Errorf("register %s: %w", svc.Name(), err)
		}
	}

	return &Application{
		manager:   manager,
		log:       log,
		cfg:       cfg,
		db:        opts.DB,
		version:   opts.Version,
		Events:    bus,
		Tokens:    tokens,
		Audit:     auditService,
		HTTPAudit: stores.HTTPAudit,
		Catalog:   catalogService,
		Carts:     cartService,
		Orders:    orderService,
		Customers: customerService,
		Users:     userService,
		Backups:   backupService,
		Dashboard: dashboardService,
		Scheduler: scheduler,
	}, nil
}

// migrateFunc re-applies the embedded schema after a restore.
func migrateFunc(db *database.DB) func(ctx context.Context) error {
	if db == nil {
		return nil
	}
	return func(ctx context.Context) error {
		conn, release := db.Acquire()
		defer release()
		return migrations.Apply(ctx, conn.DB)
	}
}

// Config returns the configuration the application was built with.
func (a *Application) Config() *config.Config {
	return a.cfg
}

// Logger returns the root application logger.
func (a *Application) Logger() *logger.Logger {
	return a.log
}

// OnClose registers fn to run when the application is closed.
func (a *Application) OnClose(fn func() error) {
	a.closers = append(a.closers, fn)
}

// Attach registers an additional lifecycle-managed service. Call before Start.
func (a *Application) Attach(service system.Service) error {
	return a.manager.Register(service)
}

// Services lists registered service names in start order.
func (a *Application) Services() []string {
	return a.manager.Names()
}

// Start seeds the bootstrap administrator and begins all registered services.
func (a *Application) Start(ctx context.Context) error {
	if err := a.bootstrapAdmin(ctx); err != nil {
		return err
	}
	if err := a.manager.Start(ctx); err != nil {
		return err
	}
	a.started = time.Now().UTC()
	return nil
}

func (a *Application) bootstrapAdmin(ctx context.Context) error {
	email := strings.TrimSpace(a.cfg.Auth.AdminEmail)
	if email == "" {
		return nil
	}
	created, err := a.Users.Bootstrap(ctx, email, a.cfg.Auth.AdminName, a.cfg.Auth.AdminPassword)
	if err != nil {
		return fmt.Errorf("bootstrap admin: %w", err)
	}
	if created {
		a.log.WithField("email", email).Info("bootstrap administrator created")
	}
	return nil
}

// Status summarises the running application for operators.
type Status struct {
	Version   string              `json:"version"`
	Driver    string              `json:"driver"`
	StartedAt time.Time           `json:"started_at"`
	Uptime    string              `json:"uptime"`
	Services  []system.Descriptor `json:"services"`
}

// Status reports version, storage driver and registered services.
func (a *Application) Status() Status {
	st := Status{
		Version:   a.version,
		Driver:    "memory",
		StartedAt: a.started,
		Services:  a.manager.Descriptors(),
	}
	if a.db != nil {
		st.Driver = a.db.Driver()
	}
	if !a.started.IsZero() {
		st.Uptime = time.Since(a.started).Truncate(time.Second).String()
	}
	return st
}

// Stop stops all services.
func (a *Application) Stop(ctx context.Context) error {
	return a.manager.Stop(ctx)
}

// Ping reports whether the backing database is reachable.
func (a *Application) Ping(ctx context.Context) error {
	if a.db == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return a.db.Ping(ctx)
}

// Close releases resources registered with OnClose in reverse order and
// closes the event bus.
func (a *Application) Close() error {
	a.Events.Close()
	var firstErr error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	a.closers = nil
	return firstErr
}

// detachedDB stands in for the database when the application runs on
// in-memory stores. Every file operation reports ErrNotSQLite.
type detachedDB struct{}

func (detachedDB) IsSQLite() bool {
	return false
}

func (detachedDB) Driver() string {
	return "memory"
}

func (detachedDB) Path() (string, error) {
	return "", database.ErrNotSQLite
}

func (detachedDB) Snapshot(context.Context, string) error {
	return database.ErrNotSQLite
}

func (detachedDB) IntegrityCheck(context.Context) error {
	return nil
}

func (detachedDB) Swap(context.Context, func() error) error {
	return database.ErrNotSQLite
}
