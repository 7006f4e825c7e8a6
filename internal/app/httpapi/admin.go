package httpapi

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/R3E-Network/storefront/internal/app/auth"
	"github.com/R3E-Network/storefront/internal/app/domain/audit"
	"github.com/R3E-Network/storefront/internal/app/domain/catalog"
	"github.com/R3E-Network/storefront/internal/app/domain/order"
	"github.com/R3E-Network/storefront/internal/app/domain/user"
	auditsvc "github.com/R3E-Network/storefront/internal/app/services/audit"
	catalogsvc "github.com/R3E-Network/storefront/internal/app/services/catalog"
	"github.com/R3E-Network/storefront/internal/app/services/customers"
	"github.com/R3E-Network/storefront/internal/app/services/users"
	apperrors "github.com/R3E-Network/storefront/internal/errors"
	"github.com/R3E-Network/storefront/internal/httputil"
	"github.com/R3E-Network/storefront/internal/middleware"
	"github.com/R3E-Network/storefront/pkg/logger"
)

// maxImportBody caps catalog import uploads.
const maxImportBody = 16 << 20

// withRemoteAddr tags the request context with the client address so audit
// entries can record it.
func withRemoteAddr(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := auditsvc.WithRemoteAddr(r.Context(), middleware.ClientIP(r))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// --- Auth -------------------------------------------------------------------

type loginResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	User      user.User `json:"user"`
}

func (h *handler) login(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := decodeJSON(r, &payload); err != nil {
		h.writeError(w, r, err)
		return
	}
	ctx := auditsvc.WithRemoteAddr(r.Context(), middleware.ClientIP(r))

	u, err := h.app.Users.Authenticate(ctx, payload.Email, payload.Password)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	token, expires, err := h.app.Tokens.Issue(u)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	ctx = logger.WithUser(ctx, u.ID, u.Email, string(u.Role))
	h.app.Audit.Record(ctx, "user.login", "user", u.ID, nil)

	http.SetCookie(w, &http.Cookie{
		Name:     auth.CookieName,
		Value:    token,
		Path:     "/",
		Expires:  expires,
		HttpOnly: true,
		Secure:   h.cookieSecure,
		SameSite: http.SameSiteStrictMode,
	})
	writeJSON(w, http.StatusOK, loginResponse{Token: token, ExpiresAt: expires, User: u})
}

func (h *handler) logout(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:     auth.CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.cookieSecure,
		SameSite: http.SameSiteStrictMode,
	})
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) me(w http.ResponseWriter, r *http.Request) {
	u, err := h.app.Users.Get(r.Context(), middleware.GetUserID(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, u)
}

func (h *handler) changePassword(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		CurrentPassword string `json:"current_password"`
		NewPassword     string `json:"new_password"`
	}
	if err := decodeJSON(r, &payload); err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := h.app.Users.ChangePassword(r.Context(), middleware.GetUserID(r), payload.CurrentPassword, payload.NewPassword); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) dashboard(w http.ResponseWriter, r *http.Request) {
	summary, err := h.app.Dashboard.Summary(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

// --- Catalog ----------------------------------------------------------------

func (h *handler) adminListProducts(w http.ResponseWriter, r *http.Request) {
	limit, offset, err := paging(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	lowStock, err := queryInt(r, "low_stock")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	q := r.URL.Query()
	filter := catalog.ProductFilter{
		Query:         strings.TrimSpace(q.Get("q")),
		CategoryID:    strings.TrimSpace(q.Get("category")),
		ActiveOnly:    q.Get("active") == "true",
		LowStockBelow: lowStock,
		Limit:         limit,
		Offset:        offset,
	}
	h.writeProducts(w, r, filter)
}

func (h *handler) adminGetProduct(w http.ResponseWriter, r *http.Request) {
	p, err := h.app.Catalog.GetProduct(r.Context(), pathVar(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (h *handler) createProduct(w http.ResponseWriter, r *http.Request) {
	var in catalogsvc.ProductInput
	if err := decodeJSON(r, &in); err != nil {
		h.writeError(w, r, err)
		return
	}
	p, err := h.app.Catalog.CreateProduct(r.Context(), in)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

func (h *handler) updateProduct(w http.ResponseWriter, r *http.Request) {
	var patch catalogsvc.ProductPatch
	if err := decodeJSON(r, &patch); err != nil {
		h.writeError(w, r, err)
		return
	}
	p, err := h.app.Catalog.UpdateProduct(r.Context(), pathVar(r, "id"), patch)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (h *handler) deleteProduct(w http.ResponseWriter, r *http.Request) {
	if err := h.app.Catalog.DeleteProduct(r.Context(), pathVar(r, "id")); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) adjustStock(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Delta  int    `json:"delta"`
		Reason string `json:"reason"`
	}
	if err := decodeJSON(r, &payload); err != nil {
		h.writeError(w, r, err)
		return
	}
	p, err := h.app.Catalog.AdjustStock(r.Context(), pathVar(r, "id"), payload.Delta, payload.Reason)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// importProducts accepts either a bare feed, read with the default mapping,
// or an envelope {"mapping": {...}, "feed": ...}.
func (h *handler) importProducts(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	body, err := httputil.ReadAllStrict(r.Body, maxImportBody)
	if err != nil {
		h.writeError(w, r, apperrors.Validation(err.Error()))
		return
	}

	feed := body
	mapping := catalogsvc.DefaultMapping()
	if env := gjson.GetBytes(body, "feed"); env.Exists() {
		feed = []byte(env.Raw)
		if raw := gjson.GetBytes(body, "mapping"); raw.Exists() {
			mapping = catalogsvc.ImportMapping{}
			if err := json.Unmarshal([]byte(raw.Raw), &mapping); err != nil {
				h.writeError(w, r, apperrors.Validationf("invalid mapping: %v", err))
				return
			}
		}
	}

	result, err := h.app.Catalog.ImportProducts(r.Context(), feed, mapping)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *handler) createCategory(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Name string `json:"name"`
		Slug string `json:"slug"`
	}
	if err := decodeJSON(r, &payload); err != nil {
		h.writeError(w, r, err)
		return
	}
	cat, err := h.app.Catalog.CreateCategory(r.Context(), payload.Name, payload.Slug)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, cat)
}

func (h *handler) deleteCategory(w http.ResponseWriter, r *http.Request) {
	if err := h.app.Catalog.DeleteCategory(r.Context(), pathVar(r, "id")); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- Orders -----------------------------------------------------------------

func (h *handler) listOrders(w http.ResponseWriter, r *http.Request) {
	limit, offset, err := paging(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	filter := order.Filter{
		Status:     order.Status(strings.TrimSpace(r.URL.Query().Get("status"))),
		CustomerID: strings.TrimSpace(r.URL.Query().Get("customer_id")),
		Limit:      limit,
		Offset:     offset,
	}
	list, total, err := h.app.Orders.ListOrders(r.Context(), filter)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, page{Items: list, Total: total, Limit: limit, Offset: offset})
}

func (h *handler) getOrder(w http.ResponseWriter, r *http.Request) {
	o, err := h.app.Orders.GetOrder(r.Context(), pathVar(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

func (h *handler) updateOrderStatus(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Status string `json:"status"`
	}
	if err := decodeJSON(r, &payload); err != nil {
		h.writeError(w, r, err)
		return
	}
	o, err := h.app.Orders.UpdateStatus(r.Context(), pathVar(r, "id"), order.Status(strings.TrimSpace(payload.Status)))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

// --- Customers --------------------------------------------------------------

func (h *handler) listCustomers(w http.ResponseWriter, r *http.Request) {
	limit, offset, err := paging(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	list, total, err := h.app.Customers.List(r.Context(), r.URL.Query().Get("q"), limit, offset)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, page{Items: list, Total: total, Limit: limit, Offset: offset})
}

func (h *handler) getCustomer(w http.ResponseWriter, r *http.Request) {
	c, err := h.app.Customers.Get(r.Context(), pathVar(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (h *handler) updateCustomer(w http.ResponseWriter, r *http.Request) {
	var patch customers.Patch
	if err := decodeJSON(r, &patch); err != nil {
		h.writeError(w, r, err)
		return
	}
	c, err := h.app.Customers.Update(r.Context(), pathVar(r, "id"), patch)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (h *handler) deleteCustomer(w http.ResponseWriter, r *http.Request) {
	if err := h.app.Customers.Delete(r.Context(), pathVar(r, "id")); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- Users ------------------------------------------------------------------

func (h *handler) listUsers(w http.ResponseWriter, r *http.Request) {
	list, err := h.app.Users.List(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *handler) createUser(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Email    string    `json:"email"`
		Name     string    `json:"name"`
		Role     user.Role `json:"role"`
		Password string    `json:"password"`
	}
	if err := decodeJSON(r, &payload); err != nil {
		h.writeError(w, r, err)
		return
	}
	u, err := h.app.Users.Create(r.Context(), payload.Email, payload.Name, payload.Role, payload.Password)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, u)
}

func (h *handler) getUser(w http.ResponseWriter, r *http.Request) {
	u, err := h.app.Users.Get(r.Context(), pathVar(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, u)
}

func (h *handler) updateUser(w http.ResponseWriter, r *http.Request) {
	var patch users.Patch
	if err := decodeJSON(r, &patch); err != nil {
		h.writeError(w, r, err)
		return
	}
	u, err := h.app.Users.Update(r.Context(), pathVar(r, "id"), patch)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, u)
}

func (h *handler) deleteUser(w http.ResponseWriter, r *http.Request) {
	if err := h.app.Users.Delete(r.Context(), pathVar(r, "id")); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) setUserPassword(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Password string `json:"password"`
	}
	if err := decodeJSON(r, &payload); err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := h.app.Users.SetPassword(r.Context(), pathVar(r, "id"), payload.Password); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- Audit ------------------------------------------------------------------

func (h *handler) listAudit(w http.ResponseWriter, r *http.Request) {
	limit, offset, err := paging(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	q := r.URL.Query()
	filter := audit.Filter{
		Action:     strings.TrimSpace(q.Get("action")),
		EntityType: strings.TrimSpace(q.Get("entity_type")),
		ActorID:    strings.TrimSpace(q.Get("actor_id")),
		Limit:      limit,
		Offset:     offset,
	}
	entries, total, err := h.app.Audit.List(r.Context(), filter)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, page{Items: entries, Total: total, Limit: limit, Offset: offset})
}

// listHTTPAudit serves the persisted request trail when a store is
// configured and the in-memory buffer otherwise.
func (h *handler) listHTTPAudit(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if limit <= 0 || limit > h.audit.max {
		limit = h.audit.max
	}
	if h.app.HTTPAudit != nil {
		records, err := h.app.HTTPAudit.ListHTTPAudit(r.Context(), limit)
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, records)
		return
	}
	writeJSON(w, http.StatusOK, h.audit.listLimit(limit))
}

func (h *handler) systemStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.app.Status())
}
