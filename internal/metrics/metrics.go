// Package metrics exposes Prometheus instruments for conversations and
// text generation.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the registered collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	gatherer prometheus.Gatherer

	generations        *prometheus.CounterVec
	generationDuration *prometheus.HistogramVec
	advances           *prometheus.CounterVec
	messages           *prometheus.CounterVec
}

// New registers the collectors on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		gatherer: reg,
		generations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "anton_generation_requests_total",
				Help: "Text generation calls by operation and outcome",
			},
			[]string{"operation", "outcome"},
		),
		generationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "anton_generation_duration_seconds",
				Help:    "Latency of text generation calls",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
		advances: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "anton_onboarding_advances_total",
				Help: "Day advance requests by result",
			},
			[]string{"result"},
		),
		messages: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "anton_messages_total",
				Help: "Persisted conversation messages by role",
			},
			[]string{"role"},
		),
	}
	reg.MustRegister(
		m.generations, m.generationDuration, m.advances, m.messages,
		prometheus.NewGoCollector(),
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
	)
	return m
}

// ObserveGeneration records one generation call.
func (m *Metrics) ObserveGeneration(operation, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.generations.WithLabelValues(operation, outcome).Inc()
	m.generationDuration.WithLabelValues(operation).Observe(elapsed.Seconds())
}

// ObserveAdvance records a day advance result ("advanced", "completed", "noop").
func (m *Metrics) ObserveAdvance(result string) {
	if m == nil {
		return
	}
	m.advances.WithLabelValues(result).Inc()
}

// ObserveMessage records a persisted message.
func (m *Metrics) ObserveMessage(role string) {
	if m == nil {
		return
	}
	m.messages.WithLabelValues(role).Inc()
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
