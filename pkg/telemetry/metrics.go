package telemetry

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics provides Prometheus metrics for the agent's lifecycle steps.
type Metrics struct {
	config MetricsConfig

	// Step metrics
	stepsStarted   *prometheus.CounterVec
	stepsCompleted *prometheus.CounterVec
	stepDuration   *prometheus.HistogramVec

	// Plan metrics
	planChanges *prometheus.GaugeVec

	// Resource metrics
	resourcesManaged *prometheus.GaugeVec

	// Error metrics
	errorsByClass *prometheus.CounterVec

	registry *prometheus.Registry
}

// NewMetrics creates a new metrics collector with the given configuration.
// Disabled metrics return a no-op instance whose methods are all safe to
// call.
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

		stepsStarted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "steps_started_total",
				Help:      "Total number of lifecycle steps started",
			},
			[]string{"backend", "step"},
		),
		stepsCompleted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "steps_completed_total",
				Help:      "Total number of lifecycle steps completed",
			},
			[]string{"backend", "step", "status"},
		),
		stepDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "step_duration_seconds",
				Help:      "Duration of lifecycle step execution in seconds",
				Buckets:   buckets,
			},
			[]string{"backend", "step"},
		),

		planChanges: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "plan_changes",
				Help:      "Change counts from the most recently parsed plan",
			},
			[]string{"module_id", "action"},
		),

		resourcesManaged: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "resources_managed",
				Help:      "Managed resource count from the last statistics read",
			},
			[]string{"module_id", "backend"},
		),

		errorsByClass: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_total",
				Help:      "Total number of errors by classification",
			},
			[]string{"class"},
		),
	}

	collectors := []prometheus.Collector{
		m.stepsStarted,
		m.stepsCompleted,
		m.stepDuration,
		m.planChanges,
		m.resourcesManaged,
		m.errorsByClass,
	}
	for _, c := range collectors {
		if err := registry.Register(c); err != nil {
			return nil, fmt.Errorf("registering collector: %w", err)
		}
	}

	return m, nil
}

// StepStarted records the start of a lifecycle step.
func (m *Metrics) StepStarted(backend, step string) {
	if m.stepsStarted == nil {
		return
	}
	m.stepsStarted.WithLabelValues(backend, step).Inc()
}

// StepCompleted records the outcome and duration of a lifecycle step.
func (m *Metrics) StepCompleted(backend, step, status string, duration time.Duration) {
	if m.stepsCompleted == nil {
		return
	}
	m.stepsCompleted.WithLabelValues(backend, step, status).Inc()
	m.stepDuration.WithLabelValues(backend, step).Observe(duration.Seconds())
}

// SetPlanChanges records one action's change count from a parsed plan.
func (m *Metrics) SetPlanChanges(moduleID, action string, count int) {
	if m.planChanges == nil {
		return
	}
	m.planChanges.WithLabelValues(moduleID, action).Set(float64(count))
}

// SetResourcesManaged records the managed resource count for a module.
func (m *Metrics) SetResourcesManaged(moduleID, backend string, count int) {
	if m.resourcesManaged == nil {
		return
	}
	m.resourcesManaged.WithLabelValues(moduleID, backend).Set(float64(count))
}

// RecordError counts an error by classification.
func (m *Metrics) RecordError(class string) {
	if m.errorsByClass == nil {
		return
	}
	m.errorsByClass.WithLabelValues(class).Inc()
}

// Handler returns the HTTP handler serving the metrics endpoint, or nil when
// metrics are disabled.
func (m *Metrics) Handler() http.Handler {
	if m.registry == nil {
		return nil
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Serve starts the metrics HTTP server. It blocks until the server stops, so
// callers run it in a goroutine. A no-op when metrics are disabled.
func (m *Metrics) Serve() error {
	handler := m.Handler()
	if handler == nil {
		return nil
	}
	path := m.config.Path
	if path == "" {
		path = "/metrics"
	}
	mux := http.NewServeMux()
	mux.Handle(path, handler)
	return http.ListenAndServe(m.config.ListenAddress, mux)
}
