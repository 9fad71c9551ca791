/*
Package log provides structured logging for AntCode using zerolog.

The log package wraps zerolog to provide JSON-structured logging with
component-specific loggers and a configurable level and format. All logs
include timestamps and support filtering by severity for production
debugging.

# Architecture

	┌─────────────────── LOGGING SYSTEM ───────────────────┐
	│                                                       │
	│  ┌────────────────────────────────────────┐           │
	│  │           Global Logger                │           │
	│  │  - Zerolog instance                    │           │
	│  │  - Initialized via log.Init()          │           │
	│  │  - Thread-safe for concurrent use      │           │
	│  └──────────────────┬─────────────────────┘           │
	│                     │                                 │
	│  ┌──────────────────▼─────────────────────┐           │
	│  │          Configuration                 │           │
	│  │  - Level: debug/info/warn/error        │           │
	│  │  - Format: JSON or console (human)     │           │
	│  │  - Output: stdout or custom writer     │           │
	│  └──────────────────┬─────────────────────┘           │
	│                     │                                 │
	│  ┌──────────────────▼─────────────────────┐           │
	│  │         Context Loggers                │           │
	│  │  - WithComponent("scheduler")          │           │
	│  │  - WithNodeID("node-abc123")           │           │
	│  │  - WithTaskID("task-def456")           │           │
	│  │  - WithExecutionID("exec-789")         │           │
	│  └────────────────────────────────────────┘           │
	└───────────────────────────────────────────────────────┘

# Usage

Initializing the logger:

	import "github.com/antcode-sh/antcode/pkg/log"

	// JSON output (production)
	log.Init(log.Config{Level: "info", Format: "json", Output: os.Stdout})

	// Console output (development)
	log.Init(log.Config{Level: "debug", Format: "console", Output: os.Stdout})

Simple logging:

	log.Info("master started")
	log.Warn("queue depth rising")
	log.Fatal("cannot open data directory") // exits the process

Structured logging:

	log.Logger.Info().
		Str("task_id", task.PublicID).
		Int("priority", task.Priority).
		Msg("task scheduled")

Component loggers:

	schedulerLog := log.WithComponent("scheduler")
	schedulerLog.Debug().Str("execution_id", id).Msg("dispatch attempt")

The zero value of zerolog.Logger discards everything, so packages that
create component loggers before Init is called simply log nothing. Tests
rely on this and never initialize the global logger.

# Log Output Examples

JSON format:

	{"level":"info","component":"scheduler","time":"2026-08-24T10:30:00Z","message":"task scheduled"}

Console format:

	10:30:00 INF task scheduled component=scheduler task_id=task-123

# Integration Points

This package integrates with:

  - pkg/scheduler: scheduling and retry decisions
  - pkg/registry: probe outcomes and status flips
  - pkg/dispatch: batch delivery results
  - pkg/api: request logging middleware
  - pkg/checkpoint: recovery sweeps

# Best Practices

Do:
  - Use Info level in production
  - Use typed fields (.Str, .Int, .Err) for queryable data
  - Create component-specific loggers

Don't:
  - Log credentials, tokens, or secret keys
  - Use Debug level in production
  - Log inside tight dispatch loops without sampling
*/
package log
