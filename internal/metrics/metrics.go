// Package metrics provides Prometheus instrumentation for the lending engine.
package metrics

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// SummariesTotal counts computed borrow summaries by protocol
	// ("aave", "benqi", "combined") and whether one was produced.
	SummariesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lending_summaries_total",
		Help: "Total number of borrow summaries computed",
	}, []string{"protocol", "result"})

	// RefreshLatency tracks full portfolio refresh computation time.
	RefreshLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "lending_refresh_latency_seconds",
		Help:    "Portfolio refresh computation latency in seconds",
		Buckets: []float64{0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1},
	})

	// HealthScore records computed health scores by protocol.
	HealthScore = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "lending_health_score",
		Help:    "Distribution of computed health scores",
		Buckets: []float64{1, 1.1, 1.25, 1.5, 2, 3, 5, 10},
	}, []string{"protocol"})

	// RiskLabels counts summaries by risk label.
	RiskLabels = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lending_risk_labels_total",
		Help: "Summaries by liquidation risk label",
	}, []string{"protocol", "risk"})

	// ReconcileScale records the factor applied to position USD values to
	// match protocol-reported total debt. Values far from 1 indicate a
	// stale or inconsistent snapshot.
	ReconcileScale = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "lending_reconcile_scale",
		Help:    "Position-to-protocol debt reconciliation factor",
		Buckets: []float64{0.9, 0.95, 0.99, 0.999, 1, 1.001, 1.01, 1.05, 1.1},
	}, []string{"protocol"})

	// BorrowQuotes counts max-borrow quotes.
	BorrowQuotes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "lending_borrow_quotes_total",
		Help: "Max safe borrow amount quotes served",
	})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "lending_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lending_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "lending_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
	}, []string{"method", "path"})
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware returns an HTTP middleware that records request metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusWriter{ResponseWriter: w, status: 200}
		next.ServeHTTP(wrapped, r)
		duration := time.Since(start).Seconds()

		// Use the route pattern for path label to avoid high cardinality
		// (account addresses appear in paths).
		path := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				path = pattern
			}
		}
		HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.status)).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
	})
}

// statusWriter wraps http.ResponseWriter to capture the status code.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// Hijack lets WebSocket upgrades pass through the middleware.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("metrics: response writer does not support hijacking")
	}
	return h.Hijack()
}
