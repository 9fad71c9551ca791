/*
Package metrics defines the Prometheus collectors for the AntCode master.

All collectors are registered on the default registry at package init and
exposed by the API server on /metrics. Components increment them inline;
nothing here is required for correctness, so tests run without a metrics
setup.

# Collectors

	antcode_scheduler_fires_total            counter
	antcode_scheduler_skipped_total          counter, busy-guard skips
	antcode_executions_finished_total        counter, per terminal state
	antcode_executions_recovered_total       counter
	antcode_queue_depth                      gauge
	antcode_queue_enqueued_total             counter
	antcode_dispatch_attempts_total          counter, per outcome
	antcode_registry_probe_failures_total    counter
	antcode_registry_nodes_online            gauge
	antcode_logs_lines_ingested_total        counter
	antcode_sync_transfers_total             counter, per transfer method
	antcode_api_request_duration_seconds     histogram, per method/path/status

# Usage

	metrics.DispatchAttempts.WithLabelValues("ok").Inc()
	metrics.ExecutionsFinished.WithLabelValues(string(state)).Inc()

# Integration Points

  - pkg/api: mounts promhttp on /metrics
  - pkg/scheduler, pkg/dispatch, pkg/registry, pkg/projectsync,
    pkg/checkpoint: increment their collectors inline
*/
package metrics
