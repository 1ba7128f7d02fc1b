// Package metrics provides Prometheus instrumentation for the prediction ledger.
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
	"github.com/shopspring/decimal"

	"github.com/atmx/prediction-ledger/internal/model"
)

var (
	// OperationsTotal counts ledger calls by operation and result code
	// ("ok" or the failure name).
	OperationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "atmx_ledger_operations_total",
		Help: "Total ledger operations by result",
	}, []string{"operation", "result"})

	OperationLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "atmx_ledger_operation_latency_seconds",
		Help:    "Ledger operation latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation"})

	// OpenMarkets tracks events created but not yet resolved.
	OpenMarkets = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "atmx_ledger_open_markets",
		Help: "Number of unresolved event markets",
	})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "atmx_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// BetSupplyTotal counts supply units bought across all outcomes.
	BetSupplyTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "atmx_ledger_bet_supply_total",
		Help: "Cumulative supply units bought by funds",
	})

	// BetVolume tracks cumulative balance moved from funds into pools.
	BetVolume = promauto.NewCounter(prometheus.CounterOpts{
		Name: "atmx_ledger_bet_volume_total",
		Help: "Cumulative balance committed as bets",
	})

	// PayoutsTotal tracks cumulative prizes credited at settlement.
	PayoutsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "atmx_ledger_payouts_total",
		Help: "Cumulative balance paid to winning funds",
	})

	// ControlTransfers counts trader changes, by the operation that caused them.
	ControlTransfers = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "atmx_ledger_control_transfers_total",
		Help: "Fund trader changes caused by share movement",
	}, []string{"operation"})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "atmx_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "atmx_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
	}, []string{"method", "path"})
)

// ObserveOperation records the result and latency of one ledger call.
func ObserveOperation(op string, start time.Time, err error) {
	result := "ok"
	if err != nil {
		result = model.Code(err)
		if result == "" {
			result = "error"
		}
	}
	OperationsTotal.WithLabelValues(op, result).Inc()
	OperationLatency.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

// AddAmount adds a balance to a counter. Balances are exact decimals; the
// float conversion only affects the exported sample.
func AddAmount(c prometheus.Counter, amount decimal.Decimal) {
	if amount.IsPositive() {
		c.Add(amount.InexactFloat64())
	}
}

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

		// Use the route pattern for path label to avoid high cardinality.
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

func (w *statusWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

// Hijack lets websocket upgrades pass through the middleware.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("metrics: response writer does not support hijacking")
	}
	return h.Hijack()
}
