package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics provides Prometheus metrics for orchestra.
// A nil *Metrics, or one created with metrics disabled, records nothing.
type Metrics struct {
	config MetricsConfig

	// Execution metrics
	executions        *prometheus.CounterVec
	executionDuration *prometheus.HistogramVec

	// Compile metrics
	bucketsCompiled *prometheus.CounterVec
	skipped         *prometheus.CounterVec

	// Error metrics
	errorsByClass *prometheus.CounterVec
	errorsByCode  *prometheus.CounterVec

	// Inventory metrics
	inventoryReloads *prometheus.CounterVec

	// System metrics
	queueDepth prometheus.Gauge
	purged     prometheus.Counter

	registry *prometheus.Registry
}

// NewMetrics creates a new metrics collector with the given configuration.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
		return &Metrics{config: cfg}, nil
	}

	namespace := cfg.Namespace
	buckets := cfg.DurationBuckets
	if len(buckets) == 0 {
		buckets = prometheus.DefBuckets
	}

	registry := prometheus.NewRegistry()

	m := &Metrics{
		config:   cfg,
		registry: registry,

		executions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "backend_executions_total",
				Help:      "Total number of backend logs reaching a terminal state",
			},
			[]string{"backend", "state"},
		),
		executionDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "backend_execution_duration_seconds",
				Help:      "Duration of script execution in seconds",
				Buckets:   buckets,
			},
			[]string{"backend"},
		),

		bucketsCompiled: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "buckets_compiled_total",
				Help:      "Total number of (backend, server) buckets compiled",
			},
			[]string{"backend", "result"},
		),
		skipped: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "operations_skipped_total",
				Help:      "Total number of operations skipped by the builder",
			},
			[]string{"backend", "reason"},
		),

		errorsByClass: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_by_class_total",
				Help:      "Total number of errors by error class",
			},
			[]string{"class"},
		),
		errorsByCode: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_by_code_total",
				Help:      "Total number of errors by error code",
			},
			[]string{"code"},
		),

		inventoryReloads: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "inventory_reloads_total",
				Help:      "Total number of inventory reloads",
			},
			[]string{"result"},
		),

		queueDepth: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "engine_queue_depth",
				Help:      "Current number of tasks waiting for a worker",
			},
		),
		purged: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "backend_logs_purged_total",
				Help:      "Total number of backend logs purged",
			},
		),
	}

	registry.MustRegister(
		m.executions,
		m.executionDuration,
		m.bucketsCompiled,
		m.skipped,
		m.errorsByClass,
		m.errorsByCode,
		m.inventoryReloads,
		m.queueDepth,
		m.purged,
	)

	return m, nil
}

func (m *Metrics) enabled() bool {
	return m != nil && m.registry != nil
}

// RecordExecution records a backend log reaching a terminal state.
func (m *Metrics) RecordExecution(backend, state string, duration time.Duration) {
	if !m.enabled() {
		return
	}
	m.executions.WithLabelValues(backend, state).Inc()
	if duration > 0 {
		m.executionDuration.WithLabelValues(backend).Observe(duration.Seconds())
	}
}

// RecordCompile records the compilation of one bucket; result is "ok" or "error".
func (m *Metrics) RecordCompile(backend, result string) {
	if !m.enabled() {
		return
	}
	m.bucketsCompiled.WithLabelValues(backend, result).Inc()
}

// RecordSkip records an operation the builder did not emit.
func (m *Metrics) RecordSkip(backend, reason string) {
	if !m.enabled() {
		return
	}
	m.skipped.WithLabelValues(backend, reason).Inc()
}

// RecordError increments error counters by class and code.
func (m *Metrics) RecordError(errorClass, errorCode string) {
	if !m.enabled() {
		return
	}
	m.errorsByClass.WithLabelValues(errorClass).Inc()
	if errorCode != "" {
		m.errorsByCode.WithLabelValues(errorCode).Inc()
	}
}

// RecordInventoryReload records an inventory reload; result is "ok" or "error".
func (m *Metrics) RecordInventoryReload(result string) {
	if !m.enabled() {
		return
	}
	m.inventoryReloads.WithLabelValues(result).Inc()
}

// RecordPurge adds purged logs to the purge counter.
func (m *Metrics) RecordPurge(n int64) {
	if !m.enabled() || n <= 0 {
		return
	}
	m.purged.Add(float64(n))
}

// SetQueueDepth sets the number of queued tasks.
func (m *Metrics) SetQueueDepth(count float64) {
	if !m.enabled() {
		return
	}
	m.queueDepth.Set(count)
}

// Registry returns the underlying registry, nil when disabled.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Timer provides a convenient way to time operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Duration returns the elapsed time since the timer was created.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if !m.enabled() {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// StartMetricsServer starts an HTTP server exposing metrics. It returns nil when
// metrics are disabled. Errors from ListenAndServe are passed to onError.
func (m *Metrics) StartMetricsServer(onError func(error)) *http.Server {
	if !m.enabled() {
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle(m.config.Path, m.Handler())

	server := &http.Server{
		Addr:              m.config.ListenAddress,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed && onError != nil {
			onError(err)
		}
	}()

	return server
}
