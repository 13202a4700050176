// Package metrics holds the prometheus instruments for the dashboard
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Hub metrics
var (
	// Connections tracks the number of connections currently held by the hub
	Connections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "gcs_connections_current",
			Help: "Current number of connected dashboard clients",
		},
	)

	// BroadcastsTotal counts broadcasts that had at least one subscriber
	BroadcastsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gcs_broadcasts_total",
			Help: "Total broadcasts by topic",
		},
		[]string{"topic"},
	)

	// DeliveriesTotal counts successful sends to individual connections
	DeliveriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gcs_deliveries_total",
			Help: "Total messages delivered to connections by topic",
		},
		[]string{"topic"},
	)

	// PrunedTotal counts connections removed after a failed send
	PrunedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "gcs_pruned_connections_total",
			Help: "Total connections disconnected because a send failed",
		},
	)
)

// Monitor metrics
var (
	// MonitorTicks counts monitor ticks by topic and result (ok, error, cancelled)
	MonitorTicks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gcs_monitor_ticks_total",
			Help: "Total monitor ticks by topic and result",
		},
		[]string{"topic", "result"},
	)
)

// Tick results
const (
	ResultOK        = "ok"
	ResultError     = "error"
	ResultCancelled = "cancelled"
)
