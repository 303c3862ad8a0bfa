package relay

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// metrics are registered on a per-server registry so several servers can
// live in one process.
type metrics struct {
	registry  *prometheus.Registry
	connected prometheus.Gauge
	relayed   *prometheus.CounterVec
	dropped   *prometheus.CounterVec
	calls     *prometheus.CounterVec
}

func newMetrics() *metrics {
	m := &metrics{
		registry: prometheus.NewRegistry(),
		connected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "relay",
			Name:      "connected_users",
			Help:      "Users with an open event stream",
		}),
		relayed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "relay",
				Name:      "signals_relayed_total",
				Help:      "Signals delivered to a target stream",
			},
			[]string{"type"},
		),
		dropped: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "relay",
				Name:      "signals_dropped_total",
				Help:      "Signals that could not be delivered",
			},
			[]string{"reason"},
		),
		calls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "relay",
				Name:      "calls_total",
				Help:      "Call records entering each status",
			},
			[]string{"status"},
		),
	}
	m.registry.MustRegister(m.connected, m.relayed, m.dropped, m.calls)
	return m
}

func (m *metrics) handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
