/*
Package executor runs tasks locally on the master.

The local executor backs the "local" execution strategy: http rule
projects are fetched in-process and code projects run as interpreter
subprocesses. Browser rules and file projects need a worker node and are
rejected with a validation error.

# Supported Work

	rule (http)   in-process HTTP fetch honoring the rule's url,
	              headers, and method
	code          subprocess via the interpreter map:
	              python, node, sh
	rule (browser), file    not runnable locally

# Timeouts and Logs

The context deadline bounds the run; a deadline hit maps to
ExecutionTimeoutError so the retry policy can classify it. Output and
error streams are forwarded line by line to the configured LogSink, which
the API layer wires to the execution log store.

# Usage

	sink := func(executionID string, logType types.LogType, content string) {
		logs.Append(executionID, logType, content)
	}
	exec := executor.NewLocalExecutor(workDir, sink)

	result, err := exec.Execute(ctx, &executor.Request{
		ExecutionID:     executionID,
		Task:            task,
		Project:         project,
		TimeoutSeconds:  task.TimeoutSeconds,
		EnvironmentVars: task.EnvironmentVars,
	})

# Integration Points

  - pkg/scheduler: runs local-strategy executions through this package
  - pkg/api: the log sink lands lines in the execution log store
*/
package executor
