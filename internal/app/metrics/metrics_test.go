package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/R3E-Network/storefront/internal/app/domain/order"
)

func TestCanonicalPath(t *testing.T) {
	cases := []struct{ in, want string }{
		{"", "/"},
		{"/", "/"},
		{"/healthz", "/healthz"},
		{"/api/products/blue-mug", "/api/products"},
		{"/api/admin/orders/123/status", "/api/admin/orders"},
		{"/api/admin", "/api/admin"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, canonicalPath(tc.in), tc.in)
	}
}

func TestInstrumentHandlerUsesRouteTemplate(t *testing.T) {
	r := mux.NewRouter()
	r.Use(InstrumentHandler)
	r.HandleFunc("/api/products/{slug}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})

	before := testutil.ToFloat64(httpRequests.WithLabelValues("GET", "/api/products/{slug}", "418"))
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/products/mug", nil))
	after := testutil.ToFloat64(httpRequests.WithLabelValues("GET", "/api/products/{slug}", "418"))
	assert.Equal(t, before+1, after)
}

func TestOrderAndBackupCollectors(t *testing.T) {
	placed := testutil.ToFloat64(ordersPlaced)
	Orders{}.OrderPlaced(order.Order{TotalCents: 2500})
	assert.Equal(t, placed+1, testutil.ToFloat64(ordersPlaced))

	rev := testutil.ToFloat64(revenue)
	Orders{}.OrderStatusChanged(order.StatusPending, order.StatusPaid)
	Orders{}.OrderStatusChanged(order.StatusPaid, order.StatusShipped)
	assert.Equal(t, rev+1, testutil.ToFloat64(revenue))

	Backups{}.BackupFinished("create", 4096, time.Second, nil)
	Backups{}.BackupFinished("restore", 0, time.Second, errors.New("bad archive"))
	assert.Equal(t, float64(4096), testutil.ToFloat64(backupSize))
	assert.GreaterOrEqual(t, testutil.ToFloat64(backupRuns.WithLabelValues("restore", "failure")), float64(1))
}

func TestHandlerExposesNamespace(t *testing.T) {
	Orders{}.StockOut("p-1")
	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "storefront_catalog_stock_outs_total"))
}
