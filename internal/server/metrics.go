package server

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics exposes control-plane counters on /metrics.
type Metrics struct {
	registry *prometheus.Registry

	investigationsStarted  prometheus.Counter
	investigationsFinished *prometheus.CounterVec
	activeInvestigations   prometheus.GaugeFunc
	wsSessions             prometheus.Counter
}

// NewMetrics builds the metric set. activeCount is sampled on scrape.
func NewMetrics(activeCount func() int) *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		investigationsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "oats_investigations_started_total",
			Help: "Investigations accepted by the control plane.",
		}),
		investigationsFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "oats_investigations_finished_total",
			Help: "Investigations that reached a terminal status.",
		}, []string{"status"}),
		activeInvestigations: prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "oats_investigations_active",
			Help: "Investigations not yet in a terminal status.",
		}, func() float64 { return float64(activeCount()) }),
		wsSessions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "oats_websocket_sessions_total",
			Help: "WebSocket investigation sessions opened.",
		}),
	}

	registry.MustRegister(
		m.investigationsStarted,
		m.investigationsFinished,
		m.activeInvestigations,
		m.wsSessions,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler serves the Prometheus exposition endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Started records one accepted investigation.
func (m *Metrics) Started() {
	m.investigationsStarted.Inc()
}

// Finished records one terminal transition.
func (m *Metrics) Finished(status string) {
	m.investigationsFinished.WithLabelValues(status).Inc()
}

// WSSession records one opened websocket session.
func (m *Metrics) WSSession() {
	m.wsSessions.Inc()
}
