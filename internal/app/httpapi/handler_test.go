package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	logtest "github.com/sirupsen/logrus/hooks/test"

	app "github.com/R3E-Network/storefront/internal/app"
	"github.com/R3E-Network/storefront/internal/app/domain/audit"
	"github.com/R3E-Network/storefront/internal/app/domain/user"
	"github.com/R3E-Network/storefront/internal/app/events"
	"github.com/R3E-Network/storefront/internal/app/services/users"
	"github.com/R3E-Network/storefront/internal/httputil"
	"github.com/R3E-Network/storefront/pkg/logger"
	"github.com/R3E-Network/storefront/pkg/testutil"
)

const (
	adminEmail    = testutil.AdminEmail
	adminPassword = testutil.AdminPassword
)

func newTestServer(t *testing.T) (*app.Application, http.Handler) {
	t.Helper()
	cfg := testutil.Config(t)
	cfg.Server.CORSOrigins = "https://shop.example.com"

	application, err := app.New(app.Stores{}, app.Options{Config: cfg}, logger.NewNop())
	if err != nil {
		t.Fatalf("new application: %v", err)
	}
	handler := NewHandler(application)
	if err := application.Start(context.Background()); err != nil {
		t.Fatalf("start application: %v", err)
	}
	t.Cleanup(func() {
		_ = application.Stop(context.Background())
		_ = application.Close()
	})
	return application, handler
}

func marshal(v interface{}) []byte {
	b, _ := json.Marshal(v)
	return b
}

func do(handler http.Handler, method, path string, body []byte, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	return resp
}

func bearer(token string) map[string]string {
	return map[string]string{"Authorization": "Bearer " + token}
}

func login(t *testing.T, handler http.Handler, email, password string) string {
	t.Helper()
	resp := do(handler, http.MethodPost, "/api/admin/auth/login", marshal(map[string]string{"email": email, "password": password}), nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("login %s: expected 200, got %d: %s", email, resp.Code, resp.Body.String())
	}
	var out loginResponse
	if err := json.Unmarshal(resp.Body.Bytes(), &out); err != nil {
		t.Fatalf("unmarshal login: %v", err)
	}
	if out.Token == "" {
		t.Fatalf("expected token in login response")
	}
	var sessionCookie bool
	for _, c := range resp.Result().Cookies() {
		if c.Name == "sf_token" && c.HttpOnly {
			sessionCookie = true
		}
	}
	if !sessionCookie {
		t.Fatalf("expected HttpOnly session cookie")
	}
	return out.Token
}

func decode(t *testing.T, resp *httptest.ResponseRecorder, dst interface{}) {
	t.Helper()
	if err := json.Unmarshal(resp.Body.Bytes(), dst); err != nil {
		t.Fatalf("unmarshal %q: %v", resp.Body.String(), err)
	}
}

func errorCode(t *testing.T, resp *httptest.ResponseRecorder) string {
	t.Helper()
	var body httputil.ErrorBody
	decode(t, resp, &body)
	return body.Error.Code
}

func createProduct(t *testing.T, handler http.Handler, token, sku string, price int64, stock int) map[string]interface{} {
	t.Helper()
	resp := do(handler, http.MethodPost, "/api/admin/products", marshal(map[string]interface{}{
		"sku":         sku,
		"name":        "Product " + sku,
		"price_cents": price,
		"stock":       stock,
	}), bearer(token))
	if resp.Code != http.StatusCreated {
		t.Fatalf("create product: expected 201, got %d: %s", resp.Code, resp.Body.String())
	}
	var p map[string]interface{}
	decode(t, resp, &p)
	return p
}

func TestCheckoutFlow(t *testing.T) {
	_, handler := newTestServer(t)
	token := login(t, handler, adminEmail, adminPassword)

	mug := createProduct(t, handler, token, "MUG", 1200, 3)
	mugID := mug["id"].(string)

	resp := do(handler, http.MethodGet, "/api/products", nil, nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("list products: expected 200, got %d", resp.Code)
	}
	var listing page
	decode(t, resp, &listing)
	if listing.Total != 1 {
		t.Fatalf("expected 1 product, got %d", listing.Total)
	}

	resp = do(handler, http.MethodGet, "/api/products/"+mug["slug"].(string), nil, nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("get product by slug: expected 200, got %d", resp.Code)
	}

	resp = do(handler, http.MethodPost, "/api/cart/items", marshal(map[string]interface{}{"product_id": mugID, "quantity": 2}), nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("add to cart: expected 200, got %d: %s", resp.Code, resp.Body.String())
	}
	cartID := resp.Header().Get(CartHeader)
	if cartID == "" {
		t.Fatalf("expected cart id header")
	}
	cart := map[string]string{CartHeader: cartID}

	resp = do(handler, http.MethodPut, "/api/cart/items/"+mugID, marshal(map[string]int{"quantity": 5}), cart)
	if resp.Code != http.StatusConflict || errorCode(t, resp) != "insufficient_stock" {
		t.Fatalf("expected insufficient_stock conflict, got %d: %s", resp.Code, resp.Body.String())
	}

	resp = do(handler, http.MethodPost, "/api/checkout", marshal(map[string]string{
		"email":   "Buyer@Example.com",
		"name":    "Buyer",
		"address": "1 Main St",
	}), cart)
	if resp.Code != http.StatusCreated {
		t.Fatalf("checkout: expected 201, got %d: %s", resp.Code, resp.Body.String())
	}
	var placed struct {
		ID         string `json:"id"`
		Number     string `json:"number"`
		Status     string `json:"status"`
		TotalCents int64  `json:"total_cents"`
	}
	decode(t, resp, &placed)
	if placed.Status != "pending" || placed.TotalCents != 2400+500 {
		t.Fatalf("unexpected order %+v", placed)
	}

	resp = do(handler, http.MethodGet, "/api/cart", nil, cart)
	var view struct {
		Lines []interface{} `json:"lines"`
	}
	decode(t, resp, &view)
	if len(view.Lines) != 0 {
		t.Fatalf("expected cart to be cleared after checkout, got %d lines", len(view.Lines))
	}

	resp = do(handler, http.MethodGet, "/api/orders/"+placed.ID+"?email=buyer@example.com", nil, nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("order lookup: expected 200, got %d", resp.Code)
	}
	resp = do(handler, http.MethodGet, "/api/orders/"+placed.ID+"?email=someone@example.com", nil, nil)
	if resp.Code != http.StatusNotFound {
		t.Fatalf("order lookup with wrong email: expected 404, got %d", resp.Code)
	}

	resp = do(handler, http.MethodPost, "/api/admin/orders/"+placed.ID+"/status", marshal(map[string]string{"status": "delivered"}), bearer(token))
	if resp.Code != http.StatusConflict || errorCode(t, resp) != "invalid_transition" {
		t.Fatalf("expected invalid_transition, got %d: %s", resp.Code, resp.Body.String())
	}
	resp = do(handler, http.MethodPost, "/api/admin/orders/"+placed.ID+"/status", marshal(map[string]string{"status": "paid"}), bearer(token))
	if resp.Code != http.StatusOK {
		t.Fatalf("mark paid: expected 200, got %d: %s", resp.Code, resp.Body.String())
	}

	resp = do(handler, http.MethodGet, "/api/admin/dashboard", nil, bearer(token))
	if resp.Code != http.StatusOK {
		t.Fatalf("dashboard: expected 200, got %d", resp.Code)
	}
	var summary struct {
		OrderCount    int   `json:"order_count"`
		RevenueCents  int64 `json:"revenue_cents"`
		CustomerCount int   `json:"customer_count"`
	}
	decode(t, resp, &summary)
	if summary.OrderCount != 1 || summary.RevenueCents != 2900 || summary.CustomerCount != 1 {
		t.Fatalf("unexpected dashboard %+v", summary)
	}

	resp = do(handler, http.MethodGet, "/api/admin/audit?action=order.status", nil, bearer(token))
	var entries page
	decode(t, resp, &entries)
	if entries.Total != 1 {
		t.Fatalf("expected one order.status audit entry, got %d", entries.Total)
	}
}

func TestAdminAuthAndRoles(t *testing.T) {
	_, handler := newTestServer(t)

	resp := do(handler, http.MethodGet, "/api/admin/orders", nil, nil)
	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", resp.Code)
	}
	resp = do(handler, http.MethodGet, "/api/admin/orders", nil, bearer("not-a-jwt"))
	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 with garbage token, got %d", resp.Code)
	}
	resp = do(handler, http.MethodPost, "/api/admin/auth/login", marshal(map[string]string{"email": adminEmail, "password": "wrong-password"}), nil)
	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for bad password, got %d", resp.Code)
	}

	admin := login(t, handler, adminEmail, adminPassword)
	resp = do(handler, http.MethodPost, "/api/admin/users", marshal(map[string]string{
		"email":    "clerk@example.com",
		"name":     "Clerk",
		"role":     "staff",
		"password": "clerk-password",
	}), bearer(admin))
	if resp.Code != http.StatusCreated {
		t.Fatalf("create staff: expected 201, got %d: %s", resp.Code, resp.Body.String())
	}

	staff := login(t, handler, "clerk@example.com", "clerk-password")
	resp = do(handler, http.MethodGet, "/api/admin/orders", nil, bearer(staff))
	if resp.Code != http.StatusOK {
		t.Fatalf("staff list orders: expected 200, got %d", resp.Code)
	}
	for _, path := range []string{"/api/admin/users", "/api/admin/audit", "/api/admin/backups"} {
		resp = do(handler, http.MethodGet, path, nil, bearer(staff))
		if resp.Code != http.StatusForbidden {
			t.Fatalf("staff %s: expected 403, got %d", path, resp.Code)
		}
	}

	resp = do(handler, http.MethodGet, "/api/admin/auth/me", nil, bearer(staff))
	var me struct {
		Email string `json:"email"`
		Role  string `json:"role"`
	}
	decode(t, resp, &me)
	if me.Email != "clerk@example.com" || me.Role != "staff" {
		t.Fatalf("unexpected me %+v", me)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/admin/auth/me", nil)
	req.AddCookie(&http.Cookie{Name: "sf_token", Value: staff})
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("cookie auth: expected 200, got %d", rec.Code)
	}
}

func TestRevokedAccountLosesAccess(t *testing.T) {
	application, handler := newTestServer(t)
	ctx := context.Background()

	second, err := application.Users.Create(ctx, "deputy@example.com", "Deputy", user.RoleAdmin, "deputy-password")
	if err != nil {
		t.Fatalf("create second admin: %v", err)
	}
	token := login(t, handler, "deputy@example.com", "deputy-password")
	if resp := do(handler, http.MethodGet, "/api/admin/users", nil, bearer(token)); resp.Code != http.StatusOK {
		t.Fatalf("admin list users: expected 200, got %d", resp.Code)
	}

	staff := user.RoleStaff
	if _, err := application.Users.Update(ctx, second.ID, users.Patch{Role: &staff}); err != nil {
		t.Fatalf("demote: %v", err)
	}
	for _, path := range []string{"/api/admin/users", "/api/admin/audit", "/api/admin/backups"} {
		if resp := do(handler, http.MethodGet, path, nil, bearer(token)); resp.Code != http.StatusForbidden {
			t.Fatalf("demoted %s: expected 403, got %d", path, resp.Code)
		}
	}
	if resp := do(handler, http.MethodGet, "/api/admin/orders", nil, bearer(token)); resp.Code != http.StatusOK {
		t.Fatalf("demoted list orders: expected 200, got %d", resp.Code)
	}

	inactive := false
	if _, err := application.Users.Update(ctx, second.ID, users.Patch{Active: &inactive}); err != nil {
		t.Fatalf("deactivate: %v", err)
	}
	resp := do(handler, http.MethodGet, "/api/admin/orders", nil, bearer(token))
	if resp.Code != http.StatusUnauthorized || errorCode(t, resp) != "invalid_token" {
		t.Fatalf("deactivated: expected 401 invalid_token, got %d: %s", resp.Code, resp.Body.String())
	}

	active := true
	admin := user.RoleAdmin
	if _, err := application.Users.Update(ctx, second.ID, users.Patch{Active: &active, Role: &admin}); err != nil {
		t.Fatalf("reactivate: %v", err)
	}
	if resp := do(handler, http.MethodGet, "/api/admin/audit", nil, bearer(token)); resp.Code != http.StatusOK {
		t.Fatalf("reactivated audit: expected 200, got %d", resp.Code)
	}
	if err := application.Users.Delete(ctx, second.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	resp = do(handler, http.MethodGet, "/api/admin/audit", nil, bearer(token))
	if resp.Code != http.StatusUnauthorized || errorCode(t, resp) != "invalid_token" {
		t.Fatalf("deleted: expected 401 invalid_token, got %d: %s", resp.Code, resp.Body.String())
	}
}

func TestFailedLoginLoggedOnce(t *testing.T) {
	log := logger.NewNop()
	hook := logtest.NewLocal(log.Logger)

	application, err := app.New(app.Stores{}, app.Options{Config: testutil.Config(t)}, log)
	if err != nil {
		t.Fatalf("new application: %v", err)
	}
	handler := NewHandler(application)
	if err := application.Start(context.Background()); err != nil {
		t.Fatalf("start application: %v", err)
	}
	t.Cleanup(func() {
		_ = application.Stop(context.Background())
		_ = application.Close()
	})

	req := httptest.NewRequest(http.MethodPost, "/api/admin/auth/login", bytes.NewReader(marshal(map[string]string{
		"email":    adminEmail,
		"password": "wrong-password",
	})))
	req.RemoteAddr = "203.0.113.9:4711"
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.Code)
	}

	var events []map[string]interface{}
	for _, entry := range hook.AllEntries() {
		if entry.Data["security_event"] == "login_failed" {
			events = append(events, entry.Data)
		}
	}
	if len(events) != 1 {
		t.Fatalf("expected one login_failed event, got %d", len(events))
	}
	if events[0]["remote_addr"] != "203.0.113.9" || events[0]["reason"] != "bad_password" {
		t.Fatalf("unexpected event fields %v", events[0])
	}
}

func TestHTTPAuditTrail(t *testing.T) {
	_, handler := newTestServer(t)
	token := login(t, handler, adminEmail, adminPassword)

	createProduct(t, handler, token, "CAP", 900, 1)
	do(handler, http.MethodGet, "/api/admin/products", nil, bearer(token))

	resp := do(handler, http.MethodGet, "/api/admin/audit/http?limit=10", nil, bearer(token))
	if resp.Code != http.StatusOK {
		t.Fatalf("http audit: expected 200, got %d", resp.Code)
	}
	var records []struct {
		Method string `json:"method"`
		Path   string `json:"path"`
		Status int    `json:"status"`
		UserID string `json:"user_id"`
	}
	decode(t, resp, &records)
	if len(records) < 2 {
		t.Fatalf("expected at least 2 records, got %d", len(records))
	}
	first := records[0]
	if first.Method != http.MethodPost || first.Path != "/api/admin/products" || first.Status != http.StatusCreated || first.UserID == "" {
		t.Fatalf("unexpected first record %+v", first)
	}
}

func TestBackupsUnsupportedWithoutSQLite(t *testing.T) {
	_, handler := newTestServer(t)
	token := login(t, handler, adminEmail, adminPassword)

	resp := do(handler, http.MethodPost, "/api/admin/backups", nil, bearer(token))
	if resp.Code != http.StatusNotImplemented || errorCode(t, resp) != "not_supported" {
		t.Fatalf("expected 501 not_supported, got %d: %s", resp.Code, resp.Body.String())
	}
	resp = do(handler, http.MethodGet, "/api/admin/backups", nil, bearer(token))
	if resp.Code != http.StatusOK {
		t.Fatalf("list backups: expected 200, got %d", resp.Code)
	}
	resp = do(handler, http.MethodGet, "/api/admin/backups/secrets.txt", nil, bearer(token))
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected invalid backup name to be rejected, got %d", resp.Code)
	}
}

func TestSystemStatus(t *testing.T) {
	_, handler := newTestServer(t)
	token := login(t, handler, adminEmail, adminPassword)

	resp := do(handler, http.MethodGet, "/api/admin/system", nil, bearer(token))
	if resp.Code != http.StatusOK {
		t.Fatalf("system status: expected 200, got %d", resp.Code)
	}
	var status app.Status
	decode(t, resp, &status)
	if status.Driver != "memory" || status.StartedAt.IsZero() {
		t.Fatalf("unexpected status %+v", status)
	}
	var jobs []string
	for _, svc := range status.Services {
		if svc.Name == "scheduler" {
			jobs = svc.Capabilities
		}
	}
	if len(jobs) != 2 || jobs[0] != "job:cart-purge" || jobs[1] != "job:ratelimit-cleanup" {
		t.Fatalf("unexpected scheduler jobs %v", jobs)
	}
}

func TestImportEndpoint(t *testing.T) {
	_, handler := newTestServer(t)
	token := login(t, handler, adminEmail, adminPassword)

	body := []byte(`{"mapping": {"items": "rows", "sku": "code", "name": "title", "price": "cents", "price_in_cents": true}, "feed": {"rows": [{"code": "A-1", "title": "Alpha", "cents": 150}]}}`)
	resp := do(handler, http.MethodPost, "/api/admin/products/import", body, bearer(token))
	if resp.Code != http.StatusOK {
		t.Fatalf("import: expected 200, got %d: %s", resp.Code, resp.Body.String())
	}
	var result struct {
		Created int `json:"created"`
	}
	decode(t, resp, &result)
	if result.Created != 1 {
		t.Fatalf("expected 1 created, got %d", result.Created)
	}

	resp = do(handler, http.MethodGet, "/api/products/alpha", nil, nil)
	var p struct {
		PriceCents int64 `json:"price_cents"`
	}
	decode(t, resp, &p)
	if p.PriceCents != 150 {
		t.Fatalf("expected imported price 150, got %d", p.PriceCents)
	}
}

func TestOperationalEndpoints(t *testing.T) {
	_, handler := newTestServer(t)

	resp := do(handler, http.MethodGet, "/healthz", nil, nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("healthz: expected 200, got %d", resp.Code)
	}
	if resp.Header().Get("X-Trace-ID") == "" {
		t.Fatalf("expected trace id header")
	}

	resp = do(handler, http.MethodGet, "/metrics", nil, nil)
	if resp.Code != http.StatusOK || !strings.Contains(resp.Body.String(), "storefront_http_requests_total") {
		t.Fatalf("metrics: unexpected response %d", resp.Code)
	}

	resp = do(handler, http.MethodOptions, "/api/cart", nil, map[string]string{
		"Origin":                        "https://shop.example.com",
		"Access-Control-Request-Method": http.MethodPost,
	})
	if resp.Code != http.StatusNoContent || resp.Header().Get("Access-Control-Allow-Origin") != "https://shop.example.com" {
		t.Fatalf("preflight: unexpected response %d %v", resp.Code, resp.Header())
	}

	resp = do(handler, http.MethodGet, "/api/nope", nil, nil)
	if resp.Code != http.StatusNotFound || errorCode(t, resp) != "not_found" {
		t.Fatalf("expected not_found envelope, got %d", resp.Code)
	}
}

func TestOrderFeedWebsocket(t *testing.T) {
	application, handler := newTestServer(t)
	token := login(t, handler, adminEmail, adminPassword)

	server := httptest.NewServer(handler)
	defer server.Close()

	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/api/admin/ws/orders"
	if _, _, err := websocket.DefaultDialer.Dial(url, nil); err == nil {
		t.Fatalf("expected unauthenticated dial to fail")
	}

	conn, _, err := websocket.DefaultDialer.Dial(url, http.Header{"Authorization": []string{"Bearer " + token}})
	if err != nil {
		t.Fatalf("dial order feed: %v", err)
	}
	defer conn.Close()

	application.Events.Publish(events.Event{Type: events.OrderCreated, OrderID: "o-1", Number: "ORD-1", Status: "pending"})

	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var got events.Event
	if err := conn.ReadJSON(&got); err != nil {
		t.Fatalf("read event: %v", err)
	}
	if got.Type != events.OrderCreated || got.OrderID != "o-1" {
		t.Fatalf("unexpected event %+v", got)
	}
}

func TestAuditLogRingBuffer(t *testing.T) {
	l := newAuditLog(3, nil)
	for i := 0; i < 5; i++ {
		l.add(httpRecord(fmt.Sprintf("/p/%d", i)))
	}
	got := l.listLimit(0)
	if len(got) != 3 || got[0].Path != "/p/2" || got[2].Path != "/p/4" {
		t.Fatalf("unexpected ring contents %+v", got)
	}
	if got := l.listLimit(1); len(got) != 1 || got[0].Path != "/p/4" {
		t.Fatalf("unexpected limited contents %+v", got)
	}
}

func httpRecord(path string) audit.HTTPRecord {
	return audit.HTTPRecord{Method: http.MethodGet, Path: path, Status: http.StatusOK, Time: time.Now().UTC()}
}
