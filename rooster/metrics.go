package rooster

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type metrics struct {
	registry *prometheus.Registry

	desktops       prometheus.Gauge
	handshakes     *prometheus.CounterVec
	offersRouted   prometheus.Counter
	answersRouted  prometheus.Counter
	answersDropped prometheus.Counter
	nameConflicts  prometheus.Counter
	unknownNames   prometheus.Counter
	protocolErrors prometheus.Counter
}

func newMetrics() *metrics {
	m := &metrics{
		registry: prometheus.NewRegistry(),
		desktops: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "rooster_registered_desktops",
			Help: "Home desktops currently registered.",
		}),
		handshakes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rooster_handshakes_total",
			Help: "Completed init handshakes by role.",
		}, []string{"role"}),
		offersRouted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rooster_offers_routed_total",
			Help: "RemoteOffer packets forwarded to a home.",
		}),
		answersRouted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rooster_answers_routed_total",
			Help: "Home answer packets forwarded to a peer.",
		}),
		answersDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rooster_answers_dropped_total",
			Help: "Home answer packets addressed to a missing peer.",
		}),
		nameConflicts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rooster_name_conflicts_total",
			Help: "HomeInit attempts for a name already taken.",
		}),
		unknownNames: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rooster_unknown_desktops_total",
			Help: "RemoteInit attempts for an unregistered name.",
		}),
		protocolErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rooster_protocol_errors_total",
			Help: "Connections terminated for protocol violations.",
		}),
	}
	m.registry.MustRegister(
		m.desktops, m.handshakes, m.offersRouted, m.answersRouted,
		m.answersDropped, m.nameConflicts, m.unknownNames, m.protocolErrors,
	)
	return m
}

// MetricsHandler exposes the server's Prometheus metrics. Serve it on
// a separate listener; the signalling listener only speaks WebSocket.
func (s *Server) MetricsHandler() http.Handler {
	return promhttp.HandlerFor(s.metrics.registry, promhttp.HandlerOpts{})
}
