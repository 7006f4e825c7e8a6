// Package metrics exposes the storefront's Prometheus collectors.
package metrics

import (
	"bufio"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/R3E-Network/storefront/internal/app/domain/order"
)

const namespace = "storefront"

var (
	// Registry holds the application-specific Prometheus collectors.
	Registry = prometheus.NewRegistry()

	httpInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "inflight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		},
		[]string{"method", "path", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10), // 5ms to ~5s
		},
		[]string{"method", "path"},
	)

	ordersPlaced = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "orders",
			Name:      "placed_total",
			Help:      "Total number of orders placed at checkout.",
		},
	)

	orderValue = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "orders",
			Name:      "value_cents_total",
			Help:      "Sum of order totals at checkout, in cents.",
		},
	)

	orderTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "orders",
			Name:      "status_transitions_total",
			Help:      "Order status changes by source and target status.",
		},
		[]string{"from", "to"},
	)

	revenue = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "orders",
			Name:      "revenue_transitions_total",
			Help:      "Orders that entered a revenue-bearing status.",
		},
	)

	stockOuts = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "catalog",
			Name:      "stock_outs_total",
			Help:      "Checkouts rejected because a product ran out of stock.",
		},
	)

	backupRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "backup",
			Name:      "runs_total",
			Help:      "Backup and restore runs by operation and result.",
		},
		[]string{"operation", "result"},
	)

	backupDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "backup",
			Name:      "duration_seconds",
			Help:      "Duration of backup and restore runs.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10),
		},
		[]string{"operation"},
	)

	backupSize = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "backup",
			Name:      "last_size_bytes",
			Help:      "Size of the most recent backup archive.",
		},
	)
)

func init() {
	Registry.MustRegister(
		httpInFlight,
		httpRequests,
		httpDuration,
		ordersPlaced,
		orderValue,
		orderTransitions,
		revenue,
		stockOuts,
		backupRuns,
		backupDuration,
		backupSize,
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)
}

// Handler returns an HTTP handler exposing the registered Prometheus metrics.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// InstrumentHandler wraps the provided handler with HTTP metrics collection.
// Mounted with mux.Router.Use it labels requests by route template.
func InstrumentHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		httpInFlight.Inc()
		defer httpInFlight.Dec()

		next.ServeHTTP(rec, r)

		duration := time.Since(start)
		path := canonicalPath(r.URL.Path)
		if route := mux.CurrentRoute(r); route != nil {
			if tpl, err := route.GetPathTemplate(); err == nil {
				path = tpl
			}
		}
		method := strings.ToUpper(r.Method)

		httpRequests.WithLabelValues(method, path, strconv.Itoa(rec.status)).Inc()
		httpDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	})
}

// Orders reports checkout activity. The zero value is ready to use.
type Orders struct{}

func (Orders) OrderPlaced(o order.Order) {
	ordersPlaced.Inc()
	orderValue.Add(float64(o.TotalCents))
}

func (Orders) OrderStatusChanged(from, to order.Status) {
	orderTransitions.WithLabelValues(string(from), string(to)).Inc()
	if to.CountsAsRevenue() && !from.CountsAsRevenue() {
		revenue.Inc()
	}
}

func (Orders) StockOut(string) {
	stockOuts.Inc()
}

// Backups reports backup activity. The zero value is ready to use.
type Backups struct{}

// BackupFinished records one backup or restore run.
func (Backups) BackupFinished(operation string, size int64, duration time.Duration, err error) {
	result := "success"
	if err != nil {
		result = "failure"
	}
	backupRuns.WithLabelValues(operation, result).Inc()
	backupDuration.WithLabelValues(operation).Observe(duration.Seconds())
	if err == nil && size > 0 {
		backupSize.Set(float64(size))
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	return r.ResponseWriter.Write(b)
}

// Hijack lets websocket upgrades pass through the recorder.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not support hijacking")
	}
	return h.Hijack()
}

// canonicalPath collapses ids so unmatched paths keep label cardinality low.
func canonicalPath(raw string) string {
	trimmed := strings.Trim(raw, "/")
	if trimmed == "" {
		return "/"
	}
	parts := strings.Split(trimmed, "/")
	if parts[0] != "api" || len(parts) == 1 {
		return "/" + parts[0]
	}
	if len(parts) > 2 && parts[1] == "admin" {
		return "/api/admin/" + parts[2]
	}
	return "/api/" + parts[1]
}
