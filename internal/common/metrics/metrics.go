// Package metrics defines the Prometheus collectors for qlite.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Engine metrics

	// MessagesSent counts accepted sends per queue.
	MessagesSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "qlite",
			Subsystem: "engine",
			Name:      "messages_sent_total",
			Help:      "Total messages accepted by SendMessage",
		},
		[]string{"queue"},
	)

	// MessagesReceived counts delivered messages per queue.
	MessagesReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "qlite",
			Subsystem: "engine",
			Name:      "messages_received_total",
			Help:      "Total messages delivered by ReceiveMessage",
		},
		[]string{"queue"},
	)

	// MessagesDeleted counts successful deletes per queue.
	MessagesDeleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "qlite",
			Subsystem: "engine",
			Name:      "messages_deleted_total",
			Help:      "Total messages deleted by receipt handle",
		},
		[]string{"queue"},
	)

	// DedupHits counts sends absorbed by the deduplication window.
	DedupHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "qlite",
			Subsystem: "engine",
			Name:      "dedup_hits_total",
			Help:      "Total sends silently absorbed as duplicates",
		},
		[]string{"queue"},
	)

	// DLQPromotions counts messages moved to a dead-letter queue.
	DLQPromotions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "qlite",
			Subsystem: "engine",
			Name:      "dlq_promotions_total",
			Help:      "Total messages promoted to a dead-letter queue",
		},
		[]string{"queue"},
	)

	// DLQRedriven counts messages redriven out of a dead-letter queue.
	DLQRedriven = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "qlite",
			Subsystem: "engine",
			Name:      "dlq_redriven_total",
			Help:      "Total messages redriven from a dead-letter queue",
		},
		[]string{"dlq"},
	)

	// LongPollWaiters tracks receivers currently parked in a long poll.
	LongPollWaiters = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "qlite",
			Subsystem: "engine",
			Name:      "long_poll_waiters",
			Help:      "Receivers currently waiting in a long poll",
		},
	)

	// Retention metrics

	// RetentionRuns counts cleanup ticks.
	RetentionRuns = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "qlite",
			Subsystem: "retention",
			Name:      "runs_total",
			Help:      "Total retention cleanup runs",
		},
	)

	// RetentionAffected counts rows touched by cleanup runs.
	RetentionAffected = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "qlite",
			Subsystem: "retention",
			Name:      "rows_affected_total",
			Help:      "Total rows reclaimed or deleted by cleanup runs",
		},
	)

	// Service gauges, names carried over from the original exposition

	// QueuesTotal is the current number of queues.
	QueuesTotal = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "qlite_queues_total",
			Help: "Total number of queues",
		},
	)

	// HealthStatus is 1 when the service is healthy, 0 otherwise.
	HealthStatus = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "qlite_health_status",
			Help: "Health status (1=healthy, 0=unhealthy)",
		},
	)

	// RetentionActive is 1 while the retention scheduler runs.
	RetentionActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "qlite_retention_active",
			Help: "Retention service status (1=active, 0=inactive)",
		},
	)

	// HTTP API metrics

	// HTTPRequestsTotal counts SQS wire requests per action and status.
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "qlite",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total SQS API requests",
		},
		[]string{"action", "status"},
	)

	// HTTPRequestDuration tracks SQS wire request duration.
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "qlite",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "SQS API request duration",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"action"},
	)

	// ThrottledRequests counts sends rejected by the FIFO throughput limiter.
	ThrottledRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "qlite",
			Subsystem: "http",
			Name:      "throttled_requests_total",
			Help:      "Total requests rejected by the FIFO throughput limiter",
		},
		[]string{"queue"},
	)
)
