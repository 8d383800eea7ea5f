package daemon

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the daemon's Prometheus metrics on a private registry, so a
// daemon can be built more than once per process (tests, restarts).
type Metrics struct {
	registry *prometheus.Registry

	SyncsTotal       *prometheus.CounterVec
	EventsDropped    prometheus.Counter
	StoreRefreshes   prometheus.Counter
	ActiveHoursTotal prometheus.Gauge
	SessionsTotal    prometheus.Gauge
	FeedClients      prometheus.Gauge
}

func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &Metrics{
		registry: registry,
		SyncsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "devtally_syncs_total",
				Help: "Sync attempts by outcome",
			},
			[]string{"outcome"},
		),
		EventsDropped: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "devtally_anomalous_events_dropped_total",
				Help: "Events dropped by the anomaly pre-check",
			},
		),
		StoreRefreshes: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "devtally_store_refreshes_total",
				Help: "Stats recomputations triggered by store changes",
			},
		),
		ActiveHoursTotal: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "devtally_active_hours_total",
				Help: "Total active hours at last refresh",
			},
		),
		SessionsTotal: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "devtally_sessions_total",
				Help: "Total recorded sessions at last refresh",
			},
		),
		FeedClients: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "devtally_feed_clients",
				Help: "Connected live feed clients",
			},
		),
	}
}

// Handler serves the registry in Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordSync counts one sync attempt.
func (m *Metrics) RecordSync(synced bool) {
	outcome := "failed"
	if synced {
		outcome = "ok"
	}
	m.SyncsTotal.WithLabelValues(outcome).Inc()
}
