// Package metrics holds the process-wide Prometheus collectors both
// services expose on /metrics alongside the default Go runtime metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// OutboxBacklog is the number of unpublished outbox rows currently
	// eligible (or soon eligible) for a publish attempt.
	OutboxBacklog = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "asyncorder_outbox_backlog",
		Help: "Number of unpublished outbox rows awaiting a publish attempt.",
	})

	// OutboxPublishFailuresTotal counts outbox publish attempts that
	// failed and were rescheduled with backoff.
	OutboxPublishFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "asyncorder_outbox_publish_failures_total",
		Help: "Total outbox publish attempts that failed and were rescheduled.",
	})

	// DLQDepth is the current message count of the dead-letter queue, as
	// last observed after a dead-lettering publish.
	DLQDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "asyncorder_dlq_depth",
		Help: "Last observed message count in the dead-letter queue.",
	})
)
