/*
Package nodeclient is the HTTP client the master uses to talk to worker nodes.

All master-to-node calls go through this package: health probes, identity
checks, the connect handshake, batch pushes, and queue or task management
on the node. The client is stateless; the node record supplies the address
and the API key for each call.

# Timeout Tiers

Three HTTP clients with different timeouts keep slow nodes from stalling
fast paths:

	fast    2s    identity probes during registry fan-out
	probe   5s    health checks
	normal  10s   batch pushes and task management

# Endpoints

	GET  /health                      liveness, returns round-trip time
	GET  /node/info                   identity and live metrics
	POST /node/connect/v2             report-link handshake
	POST /queue/batch                 push a task batch
	GET  /queue/status                node-local queue state
	PUT  /queue/tasks/{id}/priority   reprioritise a queued task
	DEL  /queue/tasks/{id}            cancel a queued task
	GET  /tasks/{id}                  node-side task state
	GET  /tasks/{id}/logs             tail task logs
	POST /tasks/{id}/cancel           stop a running execution

# Error Mapping

Transport failures and 5xx responses become TransportError, which the
retry policy treats as retryable. 4xx responses become
WorkerRejectedError, which is not retryable: resending the same payload
cannot succeed. A 200 or 202 with an empty body on a batch push counts as
full acceptance, matching workers that acknowledge asynchronously.

# Usage

	client := nodeclient.NewClient()

	rtt, err := client.Health(ctx, node)

	resp, err := client.PushBatch(ctx, node, batchID, envelopes)
	if err != nil {
		var rejected *types.WorkerRejectedError
		if errors.As(err, &rejected) {
			// permanent, do not retry
		}
	}

# Integration Points

  - pkg/registry: health and info probes
  - pkg/dispatch: connect handshake and batch pushes
  - pkg/balancer: round-trip times feed the latency factor
  - pkg/api: proxied queue and log reads
*/
package nodeclient
