// Package httpapi exposes the storefront and back-office REST API.
package httpapi

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"

	app "github.com/R3E-Network/storefront/internal/app"
	"github.com/R3E-Network/storefront/internal/app/domain/user"
	"github.com/R3E-Network/storefront/internal/app/metrics"
	apperrors "github.com/R3E-Network/storefront/internal/errors"
	"github.com/R3E-Network/storefront/internal/httputil"
	"github.com/R3E-Network/storefront/internal/middleware"
	"github.com/R3E-Network/storefront/pkg/logger"
)

const (
	// CartCookie holds the anonymous cart id.
	CartCookie = "sf_cart"
	// CartHeader may carry the cart id instead of the cookie.
	CartHeader = "X-Cart-ID"

	limiterIdle = 10 * time.Minute
)

// handler bundles HTTP endpoints for the application services.
type handler struct {
	app   *app.Application
	log   *logger.Logger
	audit *auditLog

	cookieSecure bool
	cartTTL      time.Duration
}

// NewHandler returns a router exposing the public storefront API, the
// back-office API under /api/admin and the operational endpoints.
func NewHandler(application *app.Application) http.Handler {
	cfg := application.Config()
	log := application.Logger().Named("http")

	sinks := []auditSink{}
	if path := strings.TrimSpace(cfg.Audit.HTTPLogPath); path != "" {
		fileSink, err := newFileAuditSink(path)
		if err != nil {
			log.WithError(err).WithField("path", path).Warn("http audit log file unavailable")
		} else {
			sinks = append(sinks, fileSink)
			application.OnClose(fileSink.Close)
		}
	}
	if application.HTTPAudit != nil {
		sinks = append(sinks, storeAuditSink{store: application.HTTPAudit, timeout: 2 * time.Second})
	}

	h := &handler{
		app:          application,
		log:          log,
		audit:        newAuditLog(cfg.Audit.BufferSize, log, sinks...),
		cookieSecure: cfg.Auth.CookieSecure,
		cartTTL:      cfg.Cart.TTL,
	}

	tracing := middleware.NewTracingMiddleware(log)
	cors := middleware.NewCORSMiddleware(cfg.Server.Origins())
	authMW := middleware.NewAuthMiddleware(application.Tokens, application.Users, log, nil)
	staff := middleware.RequireRole(log, user.RoleAdmin, user.RoleStaff)
	adminOnly := middleware.RequireRole(log, user.RoleAdmin)

	limiter := middleware.NewRateLimiter(float64(cfg.RateLimit.RequestsPerSecond), cfg.RateLimit.Burst, log)
	loginLimiter := middleware.NewRateLimiter(float64(cfg.Auth.LoginRPS), cfg.Auth.LoginBurst, log)
	if err := application.Scheduler.Add("ratelimit-cleanup", "@every 5m", func(context.Context) error {
		limiter.Cleanup(limiterIdle)
		loginLimiter.Cleanup(limiterIdle)
		return nil
	}); err != nil {
		log.WithError(err).Warn("rate limiter cleanup not scheduled")
	}

	r := mux.NewRouter()
	r.Use(metrics.InstrumentHandler)
	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteError(w, r, apperrors.NotFound("route", r.URL.Path))
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteErrorResponse(w, r, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed", nil)
	})

	r.HandleFunc("/healthz", h.health).Methods(http.MethodGet)
	r.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/products", h.listProducts).Methods(http.MethodGet)
	api.HandleFunc("/products/{slug}", h.getProduct).Methods(http.MethodGet)
	api.HandleFunc("/categories", h.listCategories).Methods(http.MethodGet)
	api.HandleFunc("/cart", h.getCart).Methods(http.MethodGet)
	api.HandleFunc("/cart", h.clearCart).Methods(http.MethodDelete)
	api.HandleFunc("/cart/items", h.addCartItem).Methods(http.MethodPost)
	api.HandleFunc("/cart/items/{productID}", h.setCartItem).Methods(http.MethodPut)
	api.HandleFunc("/cart/items/{productID}", h.removeCartItem).Methods(http.MethodDelete)
	api.HandleFunc("/checkout", h.checkout).Methods(http.MethodPost)
	api.HandleFunc("/orders/{id}", h.lookupOrder).Methods(http.MethodGet)

	var login http.Handler = http.HandlerFunc(h.login)
	if cfg.Auth.LoginRPS > 0 {
		login = loginLimiter.PerIP(login)
	}
	api.Handle("/admin/auth/login", login).Methods(http.MethodPost)
	api.HandleFunc("/admin/auth/logout", h.logout).Methods(http.MethodPost)

	admin := api.PathPrefix("/admin").Subrouter()
	admin.Use(authMW.Handler, withRemoteAddr, h.audit.middleware)

	admin.HandleFunc("/auth/me", h.me).Methods(http.MethodGet)
	admin.HandleFunc("/auth/password", h.changePassword).Methods(http.MethodPost, http.MethodPut)

	staffRoutes := admin.NewRoute().Subrouter()
	staffRoutes.Use(staff)
	staffRoutes.HandleFunc("/dashboard", h.dashboard).Methods(http.MethodGet)
	staffRoutes.HandleFunc("/products", h.adminListProducts).Methods(http.MethodGet)
	staffRoutes.HandleFunc("/products", h.createProduct).Methods(http.MethodPost)
	staffRoutes.HandleFunc("/products/import", h.importProducts).Methods(http.MethodPost)
	staffRoutes.HandleFunc("/products/{id}", h.adminGetProduct).Methods(http.MethodGet)
	staffRoutes.HandleFunc("/products/{id}", h.updateProduct).Methods(http.MethodPatch, http.MethodPut)
	staffRoutes.HandleFunc("/products/{id}", h.deleteProduct).Methods(http.MethodDelete)
	staffRoutes.HandleFunc("/products/{id}/stock", h.adjustStock).Methods(http.MethodPost)
	staffRoutes.HandleFunc("/categories", h.listCategories).Methods(http.MethodGet)
	staffRoutes.HandleFunc("/categories", h.createCategory).Methods(http.MethodPost)
	staffRoutes.HandleFunc("/categories/{id}", h.deleteCategory).Methods(http.MethodDelete)
	staffRoutes.HandleFunc("/orders", h.listOrders).Methods(http.MethodGet)
	staffRoutes.HandleFunc("/orders/{id}", h.getOrder).Methods(http.MethodGet)
	staffRoutes.HandleFunc("/orders/{id}/status", h.updateOrderStatus).Methods(http.MethodPost, http.MethodPut)
	staffRoutes.HandleFunc("/customers", h.listCustomers).Methods(http.MethodGet)
	staffRoutes.HandleFunc("/customers/{id}", h.getCustomer).Methods(http.MethodGet)
	staffRoutes.HandleFunc("/customers/{id}", h.updateCustomer).Methods(http.MethodPatch, http.MethodPut)
	staffRoutes.HandleFunc("/customers/{id}", h.deleteCustomer).Methods(http.MethodDelete)
	staffRoutes.Handle("/ws/orders", newOrderFeed(application.Events, cors.AllowsOrigin, log)).Methods(http.MethodGet)

	adminRoutes := admin.NewRoute().Subrouter()
	adminRoutes.Use(adminOnly)
	adminRoutes.HandleFunc("/users", h.listUsers).Methods(http.MethodGet)
	adminRoutes.HandleFunc("/users", h.createUser).Methods(http.MethodPost)
	adminRoutes.HandleFunc("/users/{id}", h.getUser).Methods(http.MethodGet)
	adminRoutes.HandleFunc("/users/{id}", h.updateUser).Methods(http.MethodPatch, http.MethodPut)
	adminRoutes.HandleFunc("/users/{id}", h.deleteUser).Methods(http.MethodDelete)
	adminRoutes.HandleFunc("/users/{id}/password", h.setUserPassword).Methods(http.MethodPost, http.MethodPut)
	adminRoutes.HandleFunc("/system", h.systemStatus).Methods(http.MethodGet)
	adminRoutes.HandleFunc("/audit", h.listAudit).Methods(http.MethodGet)
	adminRoutes.HandleFunc("/audit/http", h.listHTTPAudit).Methods(http.MethodGet)
	adminRoutes.HandleFunc("/backups", h.listBackups).Methods(http.MethodGet)
	adminRoutes.HandleFunc("/backups", h.createBackup).Methods(http.MethodPost)
	adminRoutes.HandleFunc("/backups/restore", h.restoreBackup).Methods(http.MethodPost)
	adminRoutes.HandleFunc("/backups/{name}", h.downloadBackup).Methods(http.MethodGet)
	adminRoutes.HandleFunc("/backups/{name}", h.deleteBackup).Methods(http.MethodDelete)

	// CORS and tracing wrap the router so preflight requests and unmatched
	// routes are covered too.
	var out http.Handler = r
	if cfg.RateLimit.RequestsPerSecond > 0 {
		out = limiter.Handler(out)
	}
	out = cors.Handler(out)
	out = tracing.Handler(out)
	return out
}

func (h *handler) health(w http.ResponseWriter, r *http.Request) {
	if err := h.app.Ping(r.Context()); err != nil {
		h.log.WithContext(r.Context()).WithError(err).Warn("health check failed")
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// page is the envelope for paginated listings.
type page struct {
	Items  interface{} `json:"items"`
	Total  int         `json:"total"`
	Limit  int         `json:"limit"`
	Offset int         `json:"offset"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	httputil.WriteJSON(w, status, v)
}

func (h *handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	if apperrors.HTTPStatus(err) >= http.StatusInternalServerError {
		h.log.WithContext(r.Context()).WithError(err).
			WithField("path", r.URL.Path).
			Error("request failed")
	}
	httputil.WriteError(w, r, err)
}

func decodeJSON(r *http.Request, dst interface{}) error {
	return httputil.DecodeJSON(r, dst)
}

// queryInt parses an optional integer query parameter.
func queryInt(r *http.Request, name string) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, apperrors.Validationf("%s must be an integer", name)
	}
	return v, nil
}

func paging(r *http.Request) (limit, offset int, err error) {
	if limit, err = queryInt(r, "limit"); err != nil {
		return 0, 0, err
	}
	if offset, err = queryInt(r, "offset"); err != nil {
		return 0, 0, err
	}
	return limit, offset, nil
}

func pathVar(r *http.Request, name string) string {
	return mux.Vars(r)[name]
}
