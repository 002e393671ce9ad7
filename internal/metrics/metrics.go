// Package metrics provides Prometheus instrumentation for the curve engine.
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
	// TradesTotal counts executed trades, partitioned by side.
	TradesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "curve_trades_total",
		Help: "Total number of trades executed",
	}, []string{"side"})

	TradeLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "curve_trade_latency_seconds",
		Help:    "Trade execution latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"side"})

	// ActivePools tracks pools still trading on the curve. The engine
	// resyncs it from the store on a timer.
	ActivePools = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "curve_active_pools",
		Help: "Number of pools still trading on the curve",
	})

	// PoolVolume tracks cumulative asset units traded across all pools.
	// Per-pool volume is in the trade history, not in label space.
	PoolVolume = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "curve_pool_volume_total",
		Help: "Cumulative asset units traded through the curve",
	}, []string{"side"})

	Deactivations = promauto.NewCounter(prometheus.CounterOpts{
		Name: "curve_deactivations_total",
		Help: "Pools deactivated by reaching the sale threshold",
	})

	Withdrawals = promauto.NewCounter(prometheus.CounterOpts{
		Name: "curve_withdrawals_total",
		Help: "Migration withdrawals executed",
	})

	// TradeRejections counts trades refused before any custody move.
	TradeRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "curve_trade_rejections_total",
		Help: "Trades rejected, by reason",
	}, []string{"reason"})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "curve_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "curve_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "curve_http_request_duration_seconds",
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

		HTTPRequestsTotal.WithLabelValues(r.Method, routePattern(r), strconv.Itoa(wrapped.status)).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, routePattern(r)).Observe(duration)
	})
}

// routePattern labels by chi route pattern so asset addresses in the path
// do not explode cardinality.
func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if p := rctx.RoutePattern(); p != "" {
			return p
		}
	}
	return r.URL.Path
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
	w.status = http.StatusSwitchingProtocols
	return h.Hijack()
}
