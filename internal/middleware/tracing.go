package middleware

import (
	"net/http"
	"time"

	"github.com/R3E-Network/storefront/pkg/logger"
)

// TraceHeader carries the request trace identifier.
const TraceHeader = "X-Trace-ID"

// TracingMiddleware adds trace ID to all requests
type TracingMiddleware struct {
	logger *logger.Logger
}

// NewTracingMiddleware creates a new tracing middleware
func NewTracingMiddleware(log *logger.Logger) *TracingMiddleware {
	return &TracingMiddleware{
		logger: log,
	}
}

// Handler returns the tracing middleware handler
func (m *TracingMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		traceID := r.Header.Get(TraceHeader)
		if traceID == "" || len(traceID) > 128 {
			traceID = logger.NewTraceID()
		}

		ctx := logger.WithTraceID(r.Context(), traceID)
		w.Header().Set(TraceHeader, traceID)

		rw := &responseWriter{
			ResponseWriter: w,
			statusCode:     http.StatusOK,
		}

		start := time.Now()
		next.ServeHTTP(rw, r.WithContext(ctx))

		if m.logger != nil {
			m.logger.LogRequest(ctx, r.Method, r.URL.Path, rw.statusCode, time.Since(start))
		}
	})
}
