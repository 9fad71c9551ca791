/*
Package strategy resolves where an execution should run.

A task or its project can pin execution to a node, prefer a node, or leave
placement to the balancer. The resolver turns those settings plus the live
node state into a concrete placement decision, including whether a
fallback substitution happened.

# Strategy Precedence

Effective resolves the strategy in a fixed order, first match wins:

 1. task.ExecutionStrategy, when set
 2. project.ExecutionStrategy, when set
 3. task.SpecifiedNodeID set implies specified
 4. project.BoundNodeID set implies prefer_bound
 5. otherwise local

# Strategies

specified:
  - The task names its node; run there or fail
  - Never falls back, regardless of FallbackEnabled

fixed_node:
  - The project binds a node; run there or fail
  - A hard pin: never falls back, regardless of FallbackEnabled

prefer_bound:
  - Try the bound node first
  - When the bound node is unavailable and FallbackEnabled is set, the
    balancer substitutes (excluding the bound node) and the decision
    reports FellBack; without FallbackEnabled the outage is fatal

auto_select:
  - Balancer placement; when no node qualifies the execution falls
    back to the master itself

local:
  - Run on the master itself via the local executor; no node involved

Browser rules add a render-capable constraint in every strategy, so a
pinned node that cannot render fails resolution rather than silently
degrading. The render constraint also blocks auto_select's local
fallback, since the master cannot render.

# Usage

	resolver := strategy.NewResolver(reg, bal)

	decision, err := resolver.Resolve(ctx, task, project)
	if err != nil {
		// types.NodeUnavailableError carries the reason
	}
	if decision.FellBack {
		// placed on a substitute node
	}

# Integration Points

  - pkg/scheduler: resolves each dequeued task before dispatch
  - pkg/balancer: supplies the substitution and auto_select choices
  - pkg/registry: liveness checks for pinned nodes
*/
package strategy
