package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	WorkflowTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "workflow_transitions_total",
			Help: "Total number of workflow transitions by operation and outcome",
		},
		[]string{"operation", "outcome"},
	)

	WorkflowTransitionFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "workflow_transition_failures_total",
			Help: "Total number of rejected workflow transitions by error code",
		},
		[]string{"operation", "error_code"},
	)

	PermitNumbersIssued = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "permit_numbers_issued_total",
			Help: "Total number of permit numbers issued",
		},
	)

	IssuanceRetries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "permit_issuance_retries_total",
			Help: "Total number of decide retries after serialization conflicts",
		},
	)

	NotificationsCreated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notifications_created_total",
			Help: "Total number of notification records created per scope",
		},
		[]string{"scope"},
	)

	EventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "events_published_total",
			Help: "Total number of events published to the broker per scope",
		},
		[]string{"scope"},
	)

	EventsDelivered = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "events_delivered_total",
			Help: "Total number of events forwarded to connected sessions per scope",
		},
		[]string{"scope"},
	)

	EventsDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "events_dropped_total",
			Help: "Total number of events dropped for slow sessions per scope",
		},
		[]string{"scope"},
	)
)
