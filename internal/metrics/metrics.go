// Package metrics provides Prometheus instrumentation for the wallet engine.
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
	// TradesTotal counts committed trades, partitioned by type (buy/sell).
	TradesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bitchest_trades_total",
		Help: "Total number of trades executed",
	}, []string{"type"})

	// TradeLatency covers admission through commit.
	TradeLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "bitchest_trade_latency_seconds",
		Help:    "Trade execution latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"type"})

	// TradeVolume tracks cumulative EUR settled per asset and type.
	TradeVolume = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bitchest_trade_volume_eur_total",
		Help: "Cumulative EUR amount settled by trades",
	}, []string{"asset_id", "type"})

	// AdmissionRejections counts trades refused before settlement, by kind.
	AdmissionRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bitchest_admission_rejections_total",
		Help: "Trades rejected during admission",
	}, []string{"kind"})

	// Accounts tracks the number of provisioned client accounts.
	Accounts = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "bitchest_accounts",
		Help: "Number of provisioned client accounts",
	})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "bitchest_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// EventsDropped counts wallet events that could not be delivered.
	EventsDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bitchest_events_dropped_total",
		Help: "Wallet events dropped by a notifier",
	}, []string{"sink"})

	// HTTPRequestsTotal counts HTTP requests by method, route, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bitchest_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and route.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "bitchest_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
	}, []string{"method", "path"})
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware returns an HTTP middleware that records request metrics.
// The path label is the chi route pattern, so /admin/accounts/{userID} is one
// series regardless of the user.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(wrapped, r)
		duration := time.Since(start).Seconds()

		path := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			path = rctx.RoutePattern()
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

func (w *statusWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
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
