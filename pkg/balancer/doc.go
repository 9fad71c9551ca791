/*
Package balancer scores and ranks worker nodes for task placement.

The balancer turns the registry's view of online nodes into a placement
decision. Candidates are first filtered by hard constraints, then scored
on load, capacity, latency, and reliability. The scheduler asks for either
a full ranking or a single best node.

# Scoring Model

Each qualifying node gets a composite score from five weighted factors,
lower load scoring higher:

	factor          weight   source
	CPU             0.30     node-reported CPU percent
	memory          0.25     node-reported memory percent
	free slots      0.20     running tasks vs MaxConcurrent
	latency         0.15     observed probe round-trip time
	success rate    0.10     historical execution outcomes

Latency maps to a penalty on a log scale: round trips at or under 10ms
cost nothing, 100ms costs 25 points, 1s costs 50. When the balancer has
no observed round trip it falls back to the node's self-reported latency,
then to a 100ms default. A node with no execution history scores a
neutral 50 on the success factor rather than being punished for being
new.

# Constraints

Qualifies rejects nodes that cannot run the task at all:

  - render-capable requirement for browser rules
  - region pinning
  - required tags
  - explicit exclusion, used when substituting for a bound node
  - saturation: CPU or memory at 90%, or running tasks at 80% of the
    concurrency limit
  - concurrency capacity, with ExtraSlots honoring admin overrides

# Usage

	bal := balancer.NewBalancer(reg, nodeclient.NewClient())

	ranked, err := bal.Rank(ctx, balancer.Requirements{
		RequireRender: true,
		Region:        "eu-west",
	})

	best, err := bal.Select(ctx, reqs)
	var unavailable *types.NodeUnavailableError
	if errors.As(err, &unavailable) {
		// Reason names the unmet constraint
	}

Select returns a NodeUnavailableError naming the binding constraint when
no node qualifies, so the API can tell the caller why placement failed
instead of a bare 503.

# Integration Points

  - pkg/strategy: auto_select and fallback substitution call Select
  - pkg/registry: candidate set and observed probe latencies
  - pkg/api: exposes the ranking for operator inspection
*/
package balancer
