// Package metrics exposes Prometheus instrumentation for the enrichment pipeline.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/makeasinger/enrichment/internal/model"
)

const namespace = "enrichment"

// Outcome labels of a processing attempt
const (
	OutcomeCompleted = "completed"
	OutcomeRetrying  = "retrying"
	OutcomeFailed    = "failed"
	OutcomeSkipped   = "skipped"
)

type Metrics struct {
	registry *prometheus.Registry

	jobsCreated     *prometheus.CounterVec   // by enrichment type
	attempts        *prometheus.CounterVec   // by enrichment type and outcome
	backendDuration *prometheus.HistogramVec // by backend and enrichment type
	inFlight        prometheus.Gauge         // backend calls currently running
	syncEvents      *prometheus.CounterVec   // catalog update events by op
}

// New creates the metrics and registers them, together with the Go runtime
// collectors, on a private registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		jobsCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "jobs",
			Name:      "created_total",
			Help:      "Total enrichment jobs created",
		}, []string{"enrichment_type"}),

		attempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "jobs",
			Name:      "attempts_total",
			Help:      "Processing attempts by outcome",
		}, []string{"enrichment_type", "outcome"}),

		backendDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "backend",
			Name:      "call_duration_seconds",
			Help:      "Duration of analysis backend calls",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"backend", "enrichment_type"}),

		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "backend",
			Name:      "in_flight",
			Help:      "Analysis backend calls currently running",
		}),

		syncEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "catalog_sync",
			Name:      "events_total",
			Help:      "Catalog update events consumed",
		}, []string{"op"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.jobsCreated,
		m.attempts,
		m.backendDuration,
		m.inFlight,
		m.syncEvents,
	)
	return m
}

func (m *Metrics) JobCreated(kind model.EnrichmentType) {
	if m == nil {
		return
	}
	m.jobsCreated.WithLabelValues(string(kind)).Inc()
}

func (m *Metrics) Attempt(kind model.EnrichmentType, outcome string) {
	if m == nil {
		return
	}
	m.attempts.WithLabelValues(string(kind), outcome).Inc()
}

// BackendCall marks a backend call as running. The returned func records
// its duration and must be called exactly once.
func (m *Metrics) BackendCall(backend string, kind model.EnrichmentType) func() {
	if m == nil {
		return func() {}
	}
	start := time.Now()
	m.inFlight.Inc()
	return func() {
		m.inFlight.Dec()
		m.backendDuration.WithLabelValues(backend, string(kind)).Observe(time.Since(start).Seconds())
	}
}

func (m *Metrics) SyncEvent(op model.UpdateOp) {
	if m == nil {
		return
	}
	m.syncEvents.WithLabelValues(string(op)).Inc()
}

// Registry exposes the underlying registry, mainly for tests
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus text format
func (m *Metrics) Handler() fiber.Handler {
	return adaptor.HTTPHandler(promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))
}
