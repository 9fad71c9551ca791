/*
Package dispatch delivers execution batches to worker nodes.

The dispatcher is the last hop between the scheduler and a node: it
verifies the node's identity, establishes the report link, ensures project
content is synced, and pushes the batch to the node-local queue. It also
proxies node-side queue and task management for the API.

# Dispatch Flow

	DispatchBatch(nodeID, items)
	    │
	    ├─ GetNode + IsOnline          reject unknown or offline nodes
	    │
	    ├─ verifyIdentity              compare reported machine code
	    │                              against the registered one
	    │
	    ├─ connect                     idempotent report-link handshake
	    │
	    ├─ buildEnvelopes              one EnsureSynced per distinct
	    │                              project, then assemble envelopes
	    │
	    ├─ PushBatch                   node accepts or rejects per task
	    │
	    └─ accepted items transition   execution state queued, node
	       to queued                   recorded; rejected items returned
	                                   for the caller's retry policy

# Identity Verification

A node that reports a machine code different from the registered one is
refused: a re-imaged or cloned host cannot silently impersonate a node.
A node with no recorded machine code adopts the reported one on first
contact.

# Parameter Merging

Task envelopes carry the task's configured execution params merged with
any execution-level overrides from ResultData["params"], overrides
winning. Recovery uses this to inject resume markers without touching the
task definition.

# Usage

	d := dispatch.NewDispatcher(mgr, reg, syncer, client,
		cfg.Server.MasterURL, cfg.Dispatch.UseWebsocket)

	result, err := d.DispatchBatch(ctx, decision.NodeID, items)
	for taskID, reason := range result.Rejected {
		// requeue or fail per retry policy
	}

	// master-side cancel is definitive even if the node is unreachable
	err = d.CancelRunning(ctx, execution)

# Integration Points

  - pkg/scheduler: the dispatch loop batches dequeued work per node
  - pkg/projectsync: content planning per batch
  - pkg/registry: node lookup and liveness gating
  - pkg/api: proxied queue status, priority, cancel, and log reads
*/
package dispatch
