// Package metrics holds the process-wide Prometheus instruments.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	UpdatesAccepted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "coedit_updates_accepted_total",
		Help: "Document updates that won the version check.",
	})

	UpdateConflicts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "coedit_update_conflicts_total",
		Help: "Document updates rejected with a version conflict.",
	})

	BroadcastDrops = promauto.NewCounter(prometheus.CounterOpts{
		Name: "coedit_broadcast_drops_total",
		Help: "Broadcast frames dropped because a member's send buffer was full.",
	})

	ActiveConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "coedit_active_connections",
		Help: "Open WebSocket sessions.",
	})

	OpenRooms = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "coedit_open_rooms",
		Help: "Rooms with at least one member.",
	})
)
