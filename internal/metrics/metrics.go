// Package metrics holds the Prometheus collectors of the API process.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics is a private registry with the collectors the service updates.
type Metrics struct {
	Registry *prometheus.Registry

	Mutations     *prometheus.CounterVec
	HookFailures  *prometheus.CounterVec
	CacheRequests *prometheus.CounterVec
	Connected     prometheus.Gauge
	Dropped       prometheus.Counter
	Notifications *prometheus.CounterVec
}

func New() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		Mutations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "trello_mutations_total",
			Help: "Committed mutations by entity and action.",
		}, []string{"entity", "action"}),
		HookFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "trello_hook_failures_total",
			Help: "Post-commit hook failures by hook.",
		}, []string{"hook"}),
		CacheRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "trello_cache_requests_total",
			Help: "Cache lookups by entity and result.",
		}, []string{"entity", "result"}),
		Connected: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "trello_realtime_connections",
			Help: "Currently connected realtime clients.",
		}),
		Dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "trello_realtime_dropped_events_total",
			Help: "Events dropped because a client send buffer was full.",
		}),
		Notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "trello_notifications_total",
			Help: "Notifications handed to the dispatcher by type.",
		}, []string{"type"}),
	}
	m.Registry.MustRegister(
		m.Mutations,
		m.HookFailures,
		m.CacheRequests,
		m.Connected,
		m.Dropped,
		m.Notifications,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{Registry: m.Registry})
}

// CacheResult records a cache lookup outcome.
func (m *Metrics) CacheResult(entity string, hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	m.CacheRequests.WithLabelValues(entity, result).Inc()
}
