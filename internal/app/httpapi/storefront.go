package httpapi

import (
	"net/http"
	"strings"

	"github.com/R3E-Network/storefront/internal/app/domain/catalog"
	"github.com/R3E-Network/storefront/internal/app/services/carts"
	"github.com/R3E-Network/storefront/internal/app/services/orders"
	apperrors "github.com/R3E-Network/storefront/internal/errors"
)

func (h *handler) listProducts(w http.ResponseWriter, r *http.Request) {
	limit, offset, err := paging(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	filter := catalog.ProductFilter{
		Query:      strings.TrimSpace(r.URL.Query().Get("q")),
		CategoryID: strings.TrimSpace(r.URL.Query().Get("category")),
		ActiveOnly: true,
		Limit:      limit,
		Offset:     offset,
	}
	h.writeProducts(w, r, filter)
}

func (h *handler) writeProducts(w http.ResponseWriter, r *http.Request, filter catalog.ProductFilter) {
	products, total, err := h.app.Catalog.ListProducts(r.Context(), filter)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if filter.Limit <= 0 {
		filter.Limit = len(products)
	}
	writeJSON(w, http.StatusOK, page{Items: products, Total: total, Limit: filter.Limit, Offset: filter.Offset})
}

func (h *handler) getProduct(w http.ResponseWriter, r *http.Request) {
	p, err := h.app.Catalog.GetPublicProduct(r.Context(), pathVar(r, "slug"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (h *handler) listCategories(w http.ResponseWriter, r *http.Request) {
	cats, err := h.app.Catalog.ListCategories(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, cats)
}

// cartID resolves the caller's cart from the header or cookie. With create
// set, a missing id is replaced by a fresh one stored in the cookie.
func (h *handler) cartID(w http.ResponseWriter, r *http.Request, create bool) string {
	id := strings.TrimSpace(r.Header.Get(CartHeader))
	if id == "" {
		if c, err := r.Cookie(CartCookie); err == nil {
			id = strings.TrimSpace(c.Value)
		}
	}
	if id == "" && create {
		id = carts.NewCartID()
	}
	if id != "" {
		cookie := &http.Cookie{
			Name:     CartCookie,
			Value:    id,
			Path:     "/",
			HttpOnly: true,
			Secure:   h.cookieSecure,
			SameSite: http.SameSiteLaxMode,
		}
		if h.cartTTL > 0 {
			cookie.MaxAge = int(h.cartTTL.Seconds())
		}
		http.SetCookie(w, cookie)
		w.Header().Set(CartHeader, id)
	}
	return id
}

func (h *handler) getCart(w http.ResponseWriter, r *http.Request) {
	view, err := h.app.Carts.View(r.Context(), h.cartID(w, r, true))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (h *handler) clearCart(w http.ResponseWriter, r *http.Request) {
	if id := h.cartID(w, r, false); id != "" {
		if err := h.app.Carts.Clear(r.Context(), id); err != nil {
			h.writeError(w, r, err)
			return
		}
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) addCartItem(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		ProductID string `json:"product_id"`
		Quantity  int    `json:"quantity"`
	}
	if err := decodeJSON(r, &payload); err != nil {
		h.writeError(w, r, err)
		return
	}
	if payload.Quantity == 0 {
		payload.Quantity = 1
	}
	view, err := h.app.Carts.AddItem(r.Context(), h.cartID(w, r, true), strings.TrimSpace(payload.ProductID), payload.Quantity)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (h *handler) setCartItem(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Quantity *int `json:"quantity"`
	}
	if err := decodeJSON(r, &payload); err != nil {
		h.writeError(w, r, err)
		return
	}
	if payload.Quantity == nil {
		h.writeError(w, r, apperrors.Validation("quantity is required"))
		return
	}
	view, err := h.app.Carts.SetQuantity(r.Context(), h.cartID(w, r, true), pathVar(r, "productID"), *payload.Quantity)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (h *handler) removeCartItem(w http.ResponseWriter, r *http.Request) {
	view, err := h.app.Carts.RemoveItem(r.Context(), h.cartID(w, r, true), pathVar(r, "productID"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (h *handler) checkout(w http.ResponseWriter, r *http.Request) {
	var req orders.CheckoutRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	id := h.cartID(w, r, false)
	if id == "" {
		h.writeError(w, r, apperrors.Validation("cart is empty"))
		return
	}
	o, err := h.app.Orders.Checkout(r.Context(), id, req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, o)
}

func (h *handler) lookupOrder(w http.ResponseWriter, r *http.Request) {
	o, err := h.app.Orders.LookupOrder(r.Context(), pathVar(r, "id"), r.URL.Query().Get("email"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}
