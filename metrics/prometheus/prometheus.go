// Package prometheus provides a Prometheus implementation of the metrics interface.
package prometheus

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"ledger/circuit"
	"ledger/metrics"
)

// PrometheusMetrics implements the Metrics interface using Prometheus.
type PrometheusMetrics struct {
	// Operation metrics
	opStartedTotal   *prometheus.CounterVec
	opCompletedTotal *prometheus.CounterVec
	opFailedTotal    *prometheus.CounterVec
	opDuration       *prometheus.HistogramVec
	casConflictTotal *prometheus.CounterVec

	// Lock metrics
	lockAcquiredTotal   prometheus.Counter
	lockFailedTotal     *prometheus.CounterVec
	lockAcquireDuration prometheus.Histogram

	// Cache metrics
	cacheRequestsTotal *prometheus.CounterVec

	// Circuit breaker metrics
	circuitState *prometheus.GaugeVec
}

var _ metrics.Metrics = (*PrometheusMetrics)(nil)

// Config holds configuration for PrometheusMetrics.
type Config struct {
	// Namespace is the prefix for all metrics (e.g., "ledger")
	Namespace string
	// Subsystem is an optional subsystem name
	Subsystem string
	// Registry is the Prometheus registry to use. If nil, the default registry is used.
	Registry prometheus.Registerer
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		Namespace: "ledger",
		Subsystem: "",
		Registry:  prometheus.DefaultRegisterer,
	}
}

// New creates a new PrometheusMetrics instance with the given configuration.
func New(cfg Config) *PrometheusMetrics {
	if cfg.Registry == nil {
		cfg.Registry = prometheus.DefaultRegisterer
	}

	factory := promauto.With(cfg.Registry)

	return &PrometheusMetrics{
		opStartedTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "operation_started_total",
			Help:      "Total number of ledger operations started",
		}, []string{"operation"}),

		opCompletedTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "operation_completed_total",
			Help:      "Total number of ledger operations completed successfully",
		}, []string{"operation"}),

		opFailedTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "operation_failed_total",
			Help:      "Total number of ledger operations failed, by error kind",
		}, []string{"operation", "kind"}),

		opDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "operation_duration_seconds",
			Help:      "Ledger operation duration in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 15), // 1ms to ~16s
		}, []string{"operation", "outcome"}),

		casConflictTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "cas_conflict_total",
			Help:      "Total number of conditional updates that affected no row",
		}, []string{"operation"}),

		lockAcquiredTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "lock_acquired_total",
			Help:      "Total number of account locks acquired",
		}),

		lockFailedTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "lock_failed_total",
			Help:      "Total number of account lock acquisition failures",
		}, []string{"reason"}),

		lockAcquireDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "lock_acquire_duration_seconds",
			Help:      "Time taken to acquire account locks in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~2s
		}),

		cacheRequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "cache_requests_total",
			Help:      "Total number of account cache lookups",
		}, []string{"result"}),

		circuitState: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "circuit_breaker_state",
			Help:      "Current state of circuit breaker (0=closed, 1=open, 2=half-open)",
		}, []string{"service"}),
	}
}

// Operation metrics

func (p *PrometheusMetrics) OperationStarted(op string) {
	p.opStartedTotal.WithLabelValues(op).Inc()
}

func (p *PrometheusMetrics) OperationCompleted(op string, duration time.Duration) {
	p.opCompletedTotal.WithLabelValues(op).Inc()
	p.opDuration.WithLabelValues(op, "success").Observe(duration.Seconds())
}

func (p *PrometheusMetrics) OperationFailed(op string, kind string, duration time.Duration) {
	p.opFailedTotal.WithLabelValues(op, kind).Inc()
	p.opDuration.WithLabelValues(op, "failure").Observe(duration.Seconds())
}

func (p *PrometheusMetrics) CASConflict(op string) {
	p.casConflictTotal.WithLabelValues(op).Inc()
}

// Lock metrics

func (p *PrometheusMetrics) LockAcquired(duration time.Duration) {
	p.lockAcquiredTotal.Inc()
	p.lockAcquireDuration.Observe(duration.Seconds())
}

func (p *PrometheusMetrics) LockFailed(reason string) {
	p.lockFailedTotal.WithLabelValues(reason).Inc()
}

// Cache metrics

func (p *PrometheusMetrics) CacheHit() {
	p.cacheRequestsTotal.WithLabelValues("hit").Inc()
}

func (p *PrometheusMetrics) CacheMiss() {
	p.cacheRequestsTotal.WithLabelValues("miss").Inc()
}

// Circuit breaker metrics

func (p *PrometheusMetrics) CircuitStateChanged(service string, state circuit.State) {
	p.circuitState.WithLabelValues(service).Set(float64(state))
}
