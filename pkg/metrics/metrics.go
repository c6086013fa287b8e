// Package metrics exposes prometheus counters for the message lifecycle.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	MessagesAppended = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dhuan_messages_appended_total",
		Help: "Messages durably appended to the store.",
	})

	SweepRuns = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dhuan_sweep_runs_total",
		Help: "Expiry sweep executions, scheduled or on-demand.",
	})

	MessagesSwept = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dhuan_messages_swept_total",
		Help: "Expired unpinned messages deleted by the sweeper.",
	})

	EventsPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dhuan_bus_events_published_total",
		Help: "Events published to the delivery bus, by kind.",
	}, []string{"kind"})

	EventsDelivered = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dhuan_bus_events_delivered_total",
		Help: "Events handed to subscription handlers.",
	})

	SubscribeRetries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dhuan_bus_subscribe_retries_total",
		Help: "Subscription attempts retried after transport failure.",
	})

	DegradedTransitions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dhuan_bus_degraded_transitions_total",
		Help: "Times a subscriber gave up retrying and fell back to polling.",
	})
)
