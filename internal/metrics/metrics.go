// Package metrics exposes Prometheus instrumentation for the simulator.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rewired-gh/streamsim/internal/models"
)

const namespace = "streamsim"

// Metrics owns a private registry and the simulator's collectors.
type Metrics struct {
	registry *prometheus.Registry

	eventsGenerated  *prometheus.CounterVec
	generationErrors *prometheus.CounterVec
	transitions      *prometheus.CounterVec
	pending          prometheus.Gauge
	clients          prometheus.Gauge
	dropped          prometheus.Counter
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		eventsGenerated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_generated_total",
			Help:      "Stream events generated, by stream and anomaly flag.",
		}, []string{"stream", "flag"}),
		generationErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "generation_errors_total",
			Help:      "Failed generation attempts, by stream.",
		}, []string{"stream"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scenario_transitions_total",
			Help:      "Scenario lifecycle transitions, by scenario and target status.",
		}, []string{"scenario", "status"}),
		pending: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pending_relationship_events",
			Help:      "Relationship events scheduled but not yet resolved.",
		}),
		clients: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "delivery_clients",
			Help:      "Connected push-delivery clients.",
		}),
		dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "delivery_dropped_total",
			Help:      "Messages dropped because a client send queue was full.",
		}),
	}
	m.registry.MustRegister(
		m.eventsGenerated, m.generationErrors, m.transitions,
		m.pending, m.clients, m.dropped,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry returns the private registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveEvent counts ev. Inert events are counted with flag "none".
func (m *Metrics) ObserveEvent(ev models.StreamEvent) {
	if m == nil {
		return
	}
	flag := string(ev.AnomalyFlag)
	if flag == "" {
		flag = "none"
	}
	m.eventsGenerated.WithLabelValues(ev.Stream, flag).Inc()
}

func (m *Metrics) GenerationError(stream string) {
	if m == nil {
		return
	}
	m.generationErrors.WithLabelValues(stream).Inc()
}

func (m *Metrics) Transition(scenario string, status models.Status) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(scenario, string(status)).Inc()
}

func (m *Metrics) SetPending(n int) {
	if m == nil {
		return
	}
	m.pending.Set(float64(n))
}

func (m *Metrics) SetClients(n int) {
	if m == nil {
		return
	}
	m.clients.Set(float64(n))
}

func (m *Metrics) Dropped() {
	if m == nil {
		return
	}
	m.dropped.Inc()
}
