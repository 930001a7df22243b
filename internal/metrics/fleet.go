package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Dispatch outcomes.
const (
	OutcomeSent   = "sent"
	OutcomeFailed = "failed"
)

var (
	DispatchTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fleet_dispatch_total",
			Help: "Deployments dispatched to node agents, by outcome",
		},
		[]string{"outcome"},
	)

	DispatchDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "fleet_dispatch_duration_seconds",
			Help:    "Duration of agent dispatch calls in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	HeartbeatsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "fleet_heartbeats_total",
			Help: "Heartbeats accepted from node agents",
		},
	)

	CallbacksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fleet_callbacks_total",
			Help: "Deployment status callbacks accepted from node agents, by reported status",
		},
		[]string{"status"},
	)
)
