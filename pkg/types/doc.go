/*
Package types defines the core data structures shared across all AntCode packages.

This package contains the domain model for the AntCode master: projects, scheduled
tasks, executions, worker nodes, and the supporting records for heartbeats, project
sync state, permissions, and install keys. It has no dependencies on other AntCode
packages, which makes it safe to import from anywhere without creating cycles.

# Core Types

Project:
  - A unit of scrapeable work owned by one user
  - Exactly one variant is populated, matching Type: Rule, File, or Code
  - FileHash is the authoritative content version for file and code projects
  - BoundNodeID and ExecutionStrategy steer routing decisions

ScheduledTask:
  - A recurring or one-shot schedule over a project
  - ScheduleKind selects cron, interval, date, or once semantics
  - Priority 0 is highest, 4 lowest
  - CurrentState mirrors the latest execution for the re-entry guard

TaskExecution:
  - One attempt at running a task
  - Moves through dispatching, queued, running into a terminal state
  - ResultData carries run output; the "checkpoint" key holds the
    authoritative checkpoint copy

Node:
  - A registered worker with address, credentials, and live metrics
  - MachineCode binds the identity to one physical host
  - APIKey and SecretKey are never rendered in API responses

Checkpoint:
  - A per-execution progress snapshot allowing resume after interruption

# State Machines

Execution lifecycle:

	pending ──▶ dispatching ──▶ queued ──▶ running ──▶ success
	                                          │
	                                          ├──▶ failed
	                                          ├──▶ timeout
	                                          └──▶ cancelled

An execution interrupted by a master crash is finished as failed and its
work continues in a fresh successor execution.

Node status:

	online ◀──▶ offline
	   │
	   └──▶ maintenance (operator controlled)

# Error Taxonomy

The errors.go file defines sentinel errors (ErrNotFound, ErrConflict,
ErrValidation, ErrPermission, ErrQueueUnavailable) and structured error
types (NodeUnavailableError, TransportError, WorkerRejectedError,
ExecutionTimeoutError). IsRetryable classifies an error for the
scheduler's retry policy: transport and timeout failures are retryable,
validation and rejection failures are not.

# Usage

	task := &types.ScheduledTask{
		Name:         "hourly-crawl",
		ScheduleKind: types.ScheduleCron,
		CronExpr:     "0 0 * * * *",
		Priority:     2,
		IsActive:     true,
	}

	if task.Busy() {
		// an attempt is already in flight
	}

	if types.IsRetryable(err) {
		// schedule another attempt
	}

# Integration Points

Every AntCode package imports types. The storage package persists these
structs; the api package serialises them; the scheduler, dispatch, and
checkpoint packages drive the execution state machine.
*/
package types
