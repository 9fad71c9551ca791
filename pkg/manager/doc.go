/*
Package manager implements the AntCode master's state manager.

The manager is the single write path for durable state. It owns the store,
the cache, and the event broker, and enforces the domain rules the raw
storage layer does not know about: project variant validation, content
hashing, credential generation, cascade deletes, and audit logging. Every
other package mutates state through the manager rather than touching the
store directly.

# Architecture

	┌───────────────────── MANAGER ─────────────────────────┐
	│                                                       │
	│   api / scheduler / registry / checkpoint             │
	│                      │                                │
	│   ┌──────────────────▼──────────────────┐             │
	│   │             Manager                 │             │
	│   │  - validation and invariants        │             │
	│   │  - credential generation            │             │
	│   │  - cascade deletes                  │             │
	│   │  - audit logging                    │             │
	│   │  - event publication                │             │
	│   └─────┬──────────────┬──────────┬─────┘             │
	│         │              │          │                   │
	│   ┌─────▼─────┐  ┌─────▼────┐  ┌──▼──────┐            │
	│   │ BoltStore │  │  Cache   │  │ Broker  │            │
	│   └───────────┘  └──────────┘  └─────────┘            │
	└───────────────────────────────────────────────────────┘

# Responsibilities

Users:
  - CreateUser issues a random 48-hex-char API token
  - GetUserByToken compares tokens in constant time
  - EnsureAdminUser bootstraps the admin account idempotently

Projects:
  - Exactly one variant spec must match the declared type
  - Code projects get a content hash on create and update
  - DeleteProject cascades to tasks and per-node sync records

Nodes:
  - CreateNode issues the API key (48 chars) and secret key (64 chars)
  - Host and port collisions are rejected with ErrConflict
  - DeleteNode cascades permissions, sync records, and pinned tasks

Executions:
  - FinishExecution stamps EndTime and DurationSeconds, writes the
    terminal state, and publishes EventExecutionFinished

# Usage

	mgr, err := manager.NewManager(&manager.Config{
		DataDir: "/var/lib/antcode",
		Cache:   cache.Config{Backend: "memory", MaxEntries: 10000},
	})
	if err != nil {
		return err
	}
	defer mgr.Shutdown()

	if err := mgr.CreateProject(project); err != nil {
		// types.ErrValidation on a malformed variant
	}

Tests construct a manager over an explicit store:

	store, _ := storage.NewBoltStore(t.TempDir())
	mgr := manager.NewManagerWithStore(store, cache.NewMemoryCache(1000))

# Integration Points

  - pkg/api: every handler calls through the manager
  - pkg/scheduler: execution lifecycle writes
  - pkg/registry: node record updates and heartbeat recording
  - pkg/checkpoint: execution reads and recovery writes
  - pkg/events: the manager owns and publishes to the broker
*/
package manager
