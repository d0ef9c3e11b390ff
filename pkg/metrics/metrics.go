// Package metrics declares the Prometheus collectors shared across the service.
//
// Labels are kept to small closed sets (operation, result, job name, topic)
// so cardinality stays bounded. Collectors are registered on the default
// registry at init and exposed through promhttp on /metrics.
package metrics

import "github.com/prometheus/client_golang/prometheus"

const namespace = "appointments"

var (
	// LockOperations counts acquire/release/renew calls by outcome.
	LockOperations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "lock_operations_total",
			Help:      "Distributed lock operations by operation and result.",
		},
		[]string{"op", "result"},
	)

	// RateLimitDecisions counts limiter checks by scope (ip, user) and decision.
	RateLimitDecisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ratelimit_decisions_total",
			Help:      "Rate limiter decisions by scope and result.",
		},
		[]string{"scope", "result"},
	)

	// BookingTransitions counts successful state machine transitions.
	BookingTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "booking_transitions_total",
			Help:      "Booking state transitions by source and target state.",
		},
		[]string{"from", "to"},
	)

	JobRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "job_runs_total",
			Help:      "Background job runs by job name and status.",
		},
		[]string{"job", "status"},
	)

	JobDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "job_duration_seconds",
			Help:      "Duration of background job runs in seconds.",
			Buckets:   []float64{.01, .05, .1, .5, 1, 5, 15, 30, 60, 120},
		},
		[]string{"job"},
	)

	// JobItems counts per-item sweep outcomes (succeeded, failed, skipped).
	JobItems = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "job_items_total",
			Help:      "Items processed by background jobs by outcome.",
		},
		[]string{"job", "outcome"},
	)

	ReminderOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reminder_dispatch_total",
			Help:      "Reminder dispatch attempts by outcome.",
		},
		[]string{"outcome"},
	)

	KafkaPublished = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "kafka_messages_published_total",
			Help:      "Kafka publish attempts by topic and result.",
		},
		[]string{"topic", "result"},
	)

	KafkaPublishDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "kafka_publish_duration_seconds",
			Help:      "Kafka publish latency in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"topic"},
	)

	HTTPRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by router group, method and status.",
		},
		[]string{"group", "method", "status"},
	)

	HTTPDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"group", "method"},
	)
)

func init() {
	prometheus.MustRegister(
		LockOperations,
		RateLimitDecisions,
		BookingTransitions,
		JobRuns,
		JobDuration,
		JobItems,
		ReminderOutcomes,
		KafkaPublished,
		KafkaPublishDuration,
		HTTPRequests,
		HTTPDuration,
	)
}
