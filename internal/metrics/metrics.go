package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Live commerce client metrics
var (
	// Channel events received, by event type
	EventsReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "livecommerce",
			Subsystem: "channel",
			Name:      "events_received_total",
			Help:      "Events received from the real-time channel",
		},
		[]string{"event"},
	)

	// Control messages sent (join, leave, sendMessage)
	ControlSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "livecommerce",
			Subsystem: "channel",
			Name:      "control_sent_total",
			Help:      "Control messages sent on the real-time channel",
		},
		[]string{"event"},
	)

	// Ownership transfers
	Handoffs = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "livecommerce",
			Subsystem: "channel",
			Name:      "handoffs_total",
			Help:      "Channel handle detach/attach operations",
		},
		[]string{"op"},
	)

	OpenHandles = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "livecommerce",
			Subsystem: "channel",
			Name:      "open_handles",
			Help:      "Currently connected channel handles",
		},
	)

	// Cart storage operations, by op and status
	CartStorageOps = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "livecommerce",
			Subsystem: "cart",
			Name:      "storage_operations_total",
			Help:      "Durable cart storage operations",
		},
		[]string{"op", "status"},
	)

	CartsExpired = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "livecommerce",
			Subsystem: "cart",
			Name:      "expired_total",
			Help:      "Persisted carts purged because their TTL elapsed",
		},
	)

	NotificationsShown = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "livecommerce",
			Subsystem: "notify",
			Name:      "shown_total",
			Help:      "Purchase notifications promoted to visible",
		},
	)

	Celebrations = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "livecommerce",
			Subsystem: "notify",
			Name:      "celebrations_total",
			Help:      "Full-screen purchase celebrations triggered",
		},
	)
)
