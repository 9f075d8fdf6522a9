// Package metrics holds the relay's prometheus collectors.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "freight_chat"

var (
	ConnectionsActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "relay",
		Name:      "connections_active",
		Help:      "Open websocket connections.",
	})
	UsersOnline = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "relay",
		Name:      "users_online",
		Help:      "Distinct registered users with at least one connection.",
	})
	EventsReceived = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "relay",
		Name:      "events_received_total",
		Help:      "Client events received, by event name.",
	}, []string{"event"})
	EventsRelayed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "relay",
		Name:      "events_relayed_total",
		Help:      "Server events fanned out to connections, by event name.",
	}, []string{"event"})
	EventsRejected = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "relay",
		Name:      "events_rejected_total",
		Help:      "Client events answered with an error, by reason.",
	}, []string{"reason"})
	ReconcileRuns = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "reconcile",
		Name:      "conversations_total",
		Help:      "Conversations checked by the reconciler, by result.",
	}, []string{"result"})
)

func init() {
	prometheus.MustRegister(
		ConnectionsActive,
		UsersOnline,
		EventsReceived,
		EventsRelayed,
		EventsRejected,
		ReconcileRuns,
	)
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
