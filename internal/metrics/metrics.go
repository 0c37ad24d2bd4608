// Package metrics holds the service's prometheus collectors.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const prefix = "bindery_"

// Metrics bundles the collectors behind /metrics. A nil *Metrics is
// valid and records nothing, so handlers never branch on whether
// metrics are enabled.
type Metrics struct {
	registry *prometheus.Registry

	fragmentsServed *prometheus.CounterVec
	commandsHandled *prometheus.CounterVec
	feedRefreshes   *prometheus.CounterVec
	activeSessions  prometheus.Gauge
}

// New builds the collectors on a private registry. Registering on the
// default registry would panic when tests construct more than one app.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		fragmentsServed: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: prefix + "fragments_served_total", Help: "Total number of fragment responses served"},
			[]string{"surface", "outcome"},
		),
		commandsHandled: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: prefix + "book_commands_total", Help: "Total number of book commands handled"},
			[]string{"command", "outcome"},
		),
		feedRefreshes: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: prefix + "feed_refreshes_total", Help: "Total number of changes-feed refresh attempts"},
			[]string{"outcome"},
		),
		activeSessions: prometheus.NewGauge(
			prometheus.GaugeOpts{Name: prefix + "active_sessions", Help: "Number of enabled book sessions"},
		),
	}

	m.registry.MustRegister(m.fragmentsServed)
	m.registry.MustRegister(m.commandsHandled)
	m.registry.MustRegister(m.feedRefreshes)
	m.registry.MustRegister(m.activeSessions)

	return m
}

// Handler serves the /metrics scrape endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// FragmentServed counts one fragment response. Surface is "sidebar"
// or "notice"; outcome is the short result ("ok", "absent",
// "not_modified").
func (m *Metrics) FragmentServed(surface, outcome string) {
	if m == nil {
		return
	}
	m.fragmentsServed.WithLabelValues(surface, outcome).Inc()
}

// CommandHandled counts one book command dispatch.
func (m *Metrics) CommandHandled(command, outcome string) {
	if m == nil {
		return
	}
	m.commandsHandled.WithLabelValues(command, outcome).Inc()
}

// FeedRefresh counts one changes-feed refresh attempt.
func (m *Metrics) FeedRefresh(outcome string) {
	if m == nil {
		return
	}
	m.feedRefreshes.WithLabelValues(outcome).Inc()
}

// SetActiveSessions records the current enabled-session count.
func (m *Metrics) SetActiveSessions(count int) {
	if m == nil {
		return
	}
	m.activeSessions.Set(float64(count))
}
