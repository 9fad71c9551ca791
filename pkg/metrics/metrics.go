package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Package-level collectors. promauto registers them with the default
// registry; the API serves them on /metrics.
var (
	TasksScheduled = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "antcode",
		Subsystem: "scheduler",
		Name:      "fires_total",
		Help:      "Trigger firings, including manual runs and retries.",
	})

	TasksSkipped = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "antcode",
		Subsystem: "scheduler",
		Name:      "skipped_total",
		Help:      "Firings skipped because the task was still busy.",
	})

	ExecutionsFinished = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "antcode",
		Subsystem: "executions",
		Name:      "finished_total",
		Help:      "Executions by terminal state.",
	}, []string{"state"})

	ExecutionsRecovered = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "antcode",
		Subsystem: "executions",
		Name:      "recovered_total",
		Help:      "Interrupted executions re-queued from a checkpoint.",
	})

	QueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "antcode",
		Subsystem: "queue",
		Name:      "depth",
		Help:      "Tasks waiting in the central priority queue.",
	})

	QueueEnqueued = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "antcode",
		Subsystem: "queue",
		Name:      "enqueued_total",
		Help:      "Tasks accepted into the central queue.",
	})

	DispatchAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "antcode",
		Subsystem: "dispatch",
		Name:      "attempts_total",
		Help:      "Batch dispatch attempts by outcome.",
	}, []string{"outcome"})

	ProbeFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "antcode",
		Subsystem: "registry",
		Name:      "probe_failures_total",
		Help:      "Failed node health probes.",
	})

	NodesOnline = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "antcode",
		Subsystem: "registry",
		Name:      "nodes_online",
		Help:      "Nodes currently considered online.",
	})

	LogLinesIngested = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "antcode",
		Subsystem: "logs",
		Name:      "lines_ingested_total",
		Help:      "Log fragments accepted from worker nodes.",
	})

	ProjectSyncs = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "antcode",
		Subsystem: "sync",
		Name:      "transfers_total",
		Help:      "Project sync operations by transfer method.",
	}, []string{"method"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "antcode",
		Subsystem: "api",
		Name:      "request_duration_seconds",
		Help:      "API request latency.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "path", "status"})
)
