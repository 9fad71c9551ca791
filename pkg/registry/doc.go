/*
Package registry tracks worker node liveness with adaptive health probing.

The registry keeps an in-memory view of every registered node, probes the
ones that look unhealthy, and flips node status between online, offline,
and suspended. Healthy nodes report in by push heartbeat and are not
probed at all; only silent nodes consume probe capacity.

# Architecture

	┌──────────────────── NODE REGISTRY ────────────────────┐
	│                                                       │
	│   push heartbeats ──▶ MarkHeartbeat                   │
	│   (node reports)        │                             │
	│                         ▼                             │
	│   ┌─────────────────────────────────────┐             │
	│   │        in-memory node view          │             │
	│   │  node record + probe state          │             │
	│   │  (failures, next probe due)         │             │
	│   └──────────────────┬──────────────────┘             │
	│                      │ tick                           │
	│   ┌──────────────────▼──────────────────┐             │
	│   │        adaptive probe loop          │             │
	│   │  - skip fresh push heartbeats       │             │
	│   │  - probe up to 16 nodes in parallel │             │
	│   │  - exponential backoff per failure  │             │
	│   │  - suspend after 5 failures         │             │
	│   └─────────────────────────────────────┘             │
	└───────────────────────────────────────────────────────┘

# Probe Backoff

After each consecutive failure the next probe is delayed by
3s * 2^failures, capped at 60s:

	failures:  0    1    2    3    4    5+
	delay:     3s   6s   12s  24s  48s  60s

Five consecutive failures suspend the node; a single successful probe or
push heartbeat clears the suspension and resets the backoff.

# Liveness Rules

IsOnline applies the push-heartbeat staleness rule: a node whose status
says online but whose last heartbeat is older than 60 seconds counts as
offline. A node with online status and no heartbeat yet counts as online,
covering freshly connected nodes that have not reported.

# Usage

	reg := registry.NewRegistry(mgr, nodeclient.NewClient())
	reg.Start()
	defer reg.Stop()

	nodes := reg.OnlineNodes()

	if err := reg.MarkHeartbeat(nodeID, metrics); err != nil {
		// unknown node
	}

	info, err := reg.TestNode(ctx, nodeID) // on-demand probe

# Integration Points

  - pkg/balancer: scores candidates from OnlineNodes
  - pkg/dispatch: GetNode and IsOnline gate every batch
  - pkg/api: heartbeat ingestion and node test endpoints
  - pkg/manager: durable node records and heartbeat history

# Troubleshooting

Node flaps between online and offline:
  - Check the node's heartbeat interval against the 60s staleness window
  - Check for clock skew between master and node

Node stuck suspended:
  - Five probes failed consecutively; fix reachability, then either wait
    for the backoff probe or hit the node test endpoint
*/
package registry
