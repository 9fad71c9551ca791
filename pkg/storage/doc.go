/*
Package storage provides persistent state management for the AntCode master
using BoltDB.

The storage package persists every durable record the master owns: users,
projects, scheduled tasks, executions, nodes, heartbeat history, per-node
project sync state, permissions, install keys, and the audit log. It uses
BoltDB (bbolt), an embedded key-value store, so a master needs no external
database.

# Architecture

	┌──────────────────── STORAGE LAYER ────────────────────┐
	│                                                       │
	│  ┌─────────────────────────────────────────┐          │
	│  │           Store Interface               │          │
	│  │  - CRUD per record family               │          │
	│  │  - Secondary lookups (public id,        │          │
	│  │    username, token, state)              │          │
	│  └──────────────────┬──────────────────────┘          │
	│                     │                                 │
	│  ┌──────────────────▼──────────────────────┐          │
	│  │             BoltStore                   │          │
	│  │  - One bucket per record family         │          │
	│  │  - JSON-encoded stored forms            │          │
	│  │  - Composite keys for range scans       │          │
	│  └──────────────────┬──────────────────────┘          │
	│                     │                                 │
	│  ┌──────────────────▼──────────────────────┐          │
	│  │         BoltDB (antcode.db)             │          │
	│  │  - Single file, ACID transactions       │          │
	│  │  - B+tree storage                       │          │
	│  └─────────────────────────────────────────┘          │
	└───────────────────────────────────────────────────────┘

# Bucket Layout

  - users: uint64 key, plus username and token index buckets
  - projects: uint64 key, plus public-id index
  - tasks: uint64 key, plus public-id index
  - executions: execution id key, plus (task id, execution id) index
  - nodes: node id key
  - heartbeats: (node id, timestamp) composite key for range scans
  - node_projects / node_project_files: (node id, project id) composite keys
  - permissions: (user id, node id) composite key
  - install_keys: key string
  - audit: reverse-timestamp key so scans return newest first

# Stored Forms

Several domain structs hide internal fields from API responses with
`json:"-"` tags (numeric ids, credentials). Persisting those structs
directly would lose the hidden fields, so records.go defines stored-form
envelopes that carry every field and convert to and from the domain types
at the storage boundary.

# Usage

	store, err := storage.NewBoltStore("/var/lib/antcode")
	if err != nil {
		return err
	}
	defer store.Close()

	if err := store.CreateTask(task); err != nil {
		return err
	}

	executions, err := store.ListExecutionsByState(types.ExecutionRunning)

# Performance Characteristics

  - Reads: single B+tree lookup, microseconds
  - Writes: one fsync per transaction, ~1ms on SSD
  - Range scans: prefix cursors over composite keys
  - Single writer at a time; reads proceed concurrently

# Integration Points

  - pkg/manager: the only caller; other packages go through the manager
  - pkg/checkpoint: ListExecutionsByState drives the recovery sweep
  - pkg/registry: heartbeat history append and pruning
*/
package storage
