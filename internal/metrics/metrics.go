// Package metrics provides Prometheus instrumentation for the risk engine.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// PriceUpdatesTotal counts price ticks applied to positions.
	PriceUpdatesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "riskengine_price_updates_total",
		Help: "Total number of price updates applied",
	})

	// ExitTriggersTotal counts take-profit and stop-loss triggers.
	ExitTriggersTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "riskengine_exit_triggers_total",
		Help: "Total take-profit/stop-loss triggers detected",
	}, []string{"kind"})

	// LimitBreachesTotal counts standing limit breaches by kind.
	LimitBreachesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "riskengine_limit_breaches_total",
		Help: "Total risk limit breaches detected",
	}, []string{"kind"})

	// RejectedMutationsTotal counts mutations rejected by validation.
	RejectedMutationsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "riskengine_rejected_mutations_total",
		Help: "Mutations rejected by input validation",
	})

	// ActivePositions tracks the number of active positions across wallets.
	ActivePositions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "riskengine_active_positions",
		Help: "Number of currently active positions",
	})

	// RebalancePlansTotal counts rebalance plans computed.
	RebalancePlansTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "riskengine_rebalance_plans_total",
		Help: "Total rebalance plans computed",
	})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "riskengine_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "riskengine_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "riskengine_http_request_duration_seconds",
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

		// Use the raw path for the label; the API surface is small enough
		// to keep cardinality in check.
		path := r.URL.Path
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
