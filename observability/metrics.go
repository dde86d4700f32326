package observability

import (
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	nativecommon "agrichain/native/common"
)

type moduleMetrics struct {
	requests  *prometheus.CounterVec
	errors    *prometheus.CounterVec
	latency   *prometheus.HistogramVec
	throttles *prometheus.CounterVec
}

// EngineMetrics tracks state-changing operations executed by the node.
type EngineMetrics struct {
	operations *prometheus.CounterVec
	latency    *prometheus.HistogramVec
	products   prometheus.Gauge
	expired    prometheus.Counter
}

var (
	moduleMetricsOnce sync.Once
	moduleRegistry    *moduleMetrics

	engineMetricsOnce sync.Once
	engineRegistry    *EngineMetrics
)

// ModuleMetrics returns the lazily-initialised registry used to record
// JSON-RPC module activity.
func ModuleMetrics() *moduleMetrics {
	moduleMetricsOnce.Do(func() {
		moduleRegistry = &moduleMetrics{
			requests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "agrichain",
				Subsystem: "rpc",
				Name:      "requests_total",
				Help:      "Total JSON-RPC requests segmented by module and method.",
			}, []string{"module", "method", "outcome"}),
			errors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "agrichain",
				Subsystem: "rpc",
				Name:      "errors_total",
				Help:      "Total JSON-RPC errors segmented by module, method, and error code.",
			}, []string{"module", "method", "code"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "agrichain",
				Subsystem: "rpc",
				Name:      "request_duration_seconds",
				Help:      "Latency distribution for JSON-RPC handlers.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"module", "method"}),
			throttles: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "agrichain",
				Subsystem: "rpc",
				Name:      "throttles_total",
				Help:      "Count of requests rejected by the per-caller rate limit.",
			}, []string{"module", "reason"}),
		}
		prometheus.MustRegister(
			moduleRegistry.requests,
			moduleRegistry.errors,
			moduleRegistry.latency,
			moduleRegistry.throttles,
		)
	})
	return moduleRegistry
}

// Observe records the outcome of a JSON-RPC request. code is the JSON-RPC
// error code, or zero on success.
func (m *moduleMetrics) Observe(module, method string, code int, duration time.Duration) {
	if m == nil {
		return
	}
	if module == "" {
		module = "unknown"
	}
	if method == "" {
		method = "unknown"
	}
	outcome := "success"
	if code != 0 {
		outcome = "error"
		m.errors.WithLabelValues(module, method, fmt.Sprintf("%d", code)).Inc()
	}
	m.requests.WithLabelValues(module, method, outcome).Inc()
	m.latency.WithLabelValues(module, method).Observe(duration.Seconds())
}

// RecordThrottle increments the throttle counter for module and reason.
func (m *moduleMetrics) RecordThrottle(module, reason string) {
	if m == nil {
		return
	}
	if module == "" {
		module = "unknown"
	}
	if reason == "" {
		reason = "unspecified"
	}
	m.throttles.WithLabelValues(module, reason).Inc()
}

// Engine returns the singleton engine metrics registry.
func Engine() *EngineMetrics {
	engineMetricsOnce.Do(func() {
		engineRegistry = &EngineMetrics{
			operations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "agrichain",
				Subsystem: "engine",
				Name:      "operations_total",
				Help:      "Executed operations segmented by name and error kind.",
			}, []string{"operation", "outcome"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "agrichain",
				Subsystem: "engine",
				Name:      "operation_duration_seconds",
				Help:      "Time spent executing and committing an operation.",
				Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
			}, []string{"operation"}),
			products: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "agrichain",
				Subsystem: "supplychain",
				Name:      "products",
				Help:      "Number of product codes allocated so far.",
			}),
			expired: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "agrichain",
				Subsystem: "supplychain",
				Name:      "expired_total",
				Help:      "Items flagged expired by sweeps.",
			}),
		}
		prometheus.MustRegister(
			engineRegistry.operations,
			engineRegistry.latency,
			engineRegistry.products,
			engineRegistry.expired,
		)
	})
	return engineRegistry
}

// ObserveOperation records one executed operation. The outcome label is
// "ok" or the lower-case error kind.
func (m *EngineMetrics) ObserveOperation(op string, err error, duration time.Duration) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = nativecommon.KindOf(err).String()
	}
	m.operations.WithLabelValues(op, outcome).Inc()
	m.latency.WithLabelValues(op).Observe(duration.Seconds())
}

// SetProducts publishes the current product count.
func (m *EngineMetrics) SetProducts(count uint64) {
	if m == nil {
		return
	}
	m.products.Set(float64(count))
}

// AddExpired counts items flagged by an expiry sweep.
func (m *EngineMetrics) AddExpired(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.expired.Add(float64(n))
}
