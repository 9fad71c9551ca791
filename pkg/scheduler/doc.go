/*
Package scheduler drives task scheduling, dispatch, retries, and compensation.

The scheduler is the engine of the master: cron and interval entries fire
triggers, triggers enqueue executions, worker goroutines drain the queue
and place work on nodes, and result reports drive retries or compensation
hooks. It composes the queue, the strategy resolver, the dispatcher, and
the local executor.

# Architecture

	┌───────────────────── SCHEDULER ───────────────────────┐
	│                                                       │
	│  cron entries ──┐                                     │
	│  interval/date ─┼──▶ Trigger ──▶ queue.Enqueue        │
	│  manual (API) ──┘       │                             │
	│                    busy guard: a task with a          │
	│                    running, dispatching, or queued    │
	│                    attempt is not re-triggered        │
	│                                                       │
	│  ┌─────────────────────────────────────────┐          │
	│  │          dispatch loop (workers)        │          │
	│  │  Dequeue ─▶ Resolve ─▶ DispatchBatch    │          │
	│  │                 │                       │          │
	│  │            local strategy runs on the   │          │
	│  │            master via the executor,     │          │
	│  │            capped by a semaphore        │          │
	│  └─────────────────────────────────────────┘          │
	│                                                       │
	│  HandleResult ──▶ terminal write (first report wins)  │
	│        │                                              │
	│        ├─ success: counters, ResultData merge         │
	│        ├─ retryable failure with budget: timer ──▶    │
	│        │  Trigger with bumped retry count             │
	│        └─ budget exhausted: compensation hook,        │
	│           at most once per execution                  │
	└───────────────────────────────────────────────────────┘

# Scheduling

ScheduleTask validates and registers a task's schedule:

  - cron: six-field expressions with seconds, via robfig/cron
  - interval: fixed seconds between runs
  - date: one run at RunAt
  - once: manual trigger only

# Retry Policy

Failed executions retry while attempts remain under MaxRetries. The delay
follows the task's policy: exponential backoff doubling from the base
delay, with jitter, capped at the policy maximum; or a fixed delay when
configured. Only retryable failures (transport, timeout, queue) consume
the retry path; validation and worker rejections fail immediately.

When the budget is exhausted and the task configures a compensation hook
in ExecutionParams, the hook fires exactly once per execution.

# Result Handling

HandleResult applies the first terminal report and ignores duplicates, so
a node retrying its report after a network blip cannot double-count an
execution or fire a second retry.

# Usage

	s := scheduler.NewScheduler(mgr, backend, resolver, dispatcher,
		localExec, scheduler.Config{Workers: 4, BatchSize: 8, MaxConcurrent: 16})
	s.Start()
	defer s.Stop()

	executionID, err := s.Trigger(ctx, taskID, map[string]any{"depth": 2})
	if executionID == "" && err == nil {
		// busy guard declined the trigger
	}

	s.HandleResult(executionID, types.ExecutionSuccess, exitCode, "", resultData)

# Integration Points

  - pkg/queue: the pending-work buffer between trigger and dispatch
  - pkg/strategy: placement resolution per dequeued task
  - pkg/dispatch: node delivery
  - pkg/executor: local strategy runs
  - pkg/checkpoint: recovery triggers resume through the scheduler
*/
package scheduler
