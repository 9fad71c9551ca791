/*
Package checkpoint implements execution progress snapshots and crash recovery.

Workers report checkpoints while an execution runs; when a node dies or a
master restarts, the recovery sweep finds interrupted executions and
requeues them with resume markers so the successor run continues from the
last checkpoint instead of starting over.

# Data Placement

The authoritative checkpoint copy lives in the execution record's
ResultData under the "checkpoint" key, so it survives anything the store
survives. A cache entry ("checkpoint:" + execution id, 24h TTL) serves the
hot read path; a cache miss falls through to the execution record.

# Interruption Detection

The sweep runs every minute and considers an execution interrupted when it
is in a non-terminal state and either:

  - its last checkpoint heartbeat is older than 2 minutes, or
  - it has no heartbeat at all and started more than 2 minutes ago

Recently started executions and executions with fresh heartbeats are left
alone.

# Recovery

For each interrupted execution the sweep:

 1. drops executions whose task was deleted, failing them as orphans
 2. checks the lineage's recovery budget (3 recoveries per lineage);
    exhausted lineages are failed and their cached checkpoint dropped
 3. fails the old record ("interrupted, rescheduled") and clears the
    task's stale in-flight state so the re-entry guard lets the
    successor through
 4. triggers a successor with resume markers (_resume,
    _previous_execution_id, _progress, _retry_count) injected as
    execution-level params

Exhausted lineages still count in the sweep's recovered total so
operators see them in the sweep log line.

# Usage

	svc := checkpoint.NewService(mgr)
	svc.SetTrigger(sched.Trigger)
	svc.Start()
	defer svc.Stop()

	// worker report path
	err := svc.Save(ctx, checkpoint)
	err = svc.ReportHeartbeat(executionID)
	err = svc.UpdateProgress(ctx, executionID, 0.4, logOffset, data)

	cp, err := svc.Get(ctx, executionID)

# Integration Points

  - pkg/scheduler: Trigger requeues recovered work
  - pkg/manager: execution records and the cache
  - pkg/api: worker checkpoint and heartbeat endpoints
  - pkg/dispatch: resume markers travel via the params merge
*/
package checkpoint
