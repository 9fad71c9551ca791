package strategy

import (
	"context"

	"github.com/antcode-sh/antcode/pkg/balancer"
	"github.com/antcode-sh/antcode/pkg/log"
	"github.com/antcode-sh/antcode/pkg/registry"
	"github.com/antcode-sh/antcode/pkg/types"
	"github.com/rs/zerolog"
)

// Decision is the outcome of strategy resolution for one execution
type Decision struct {
	Strategy types.ExecutionStrategy `json:"strategy"`
	// Local means the master's own executor runs the task; Node is nil
	Local bool        `json:"local"`
	Node  *types.Node `json:"node,omitempty"`
	// FellBack is set when the preferred placement was unusable and a
	// substitute (another node, or the master itself) took over
	FellBack bool `json:"fell_back,omitempty"`
}

// Resolver turns a task/project pair into a placement decision
type Resolver struct {
	registry *registry.Registry
	balancer *balancer.Balancer
	logger   zerolog.Logger
}

// NewResolver creates a strategy resolver
func NewResolver(reg *registry.Registry, bal *balancer.Balancer) *Resolver {
	return &Resolver{
		registry: reg,
		balancer: bal,
		logger:   log.WithComponent("strategy"),
	}
}

// Effective returns the strategy that governs an execution. The task
// override wins, then the project setting, then inference from the
// pins that older records carry.
func Effective(task *types.ScheduledTask, project *types.Project) types.ExecutionStrategy {
	if task != nil && task.ExecutionStrategy != "" {
		return task.ExecutionStrategy
	}
	if project != nil && project.ExecutionStrategy != "" {
		return project.ExecutionStrategy
	}
	if task != nil && task.SpecifiedNodeID != "" {
		return types.StrategySpecified
	}
	if project != nil && project.BoundNodeID != "" {
		return types.StrategyPreferBound
	}
	return types.StrategyLocal
}

// Resolve picks the destination for one execution. It is deterministic
// given the registry snapshot: the same inputs yield the same decision.
func (r *Resolver) Resolve(ctx context.Context, task *types.ScheduledTask, project *types.Project) (*Decision, error) {
	strategy := Effective(task, project)
	req := requirements(project)

	switch strategy {
	case types.StrategyLocal:
		return &Decision{Strategy: strategy, Local: true}, nil

	case types.StrategySpecified:
		// An explicit per-task pin never falls back
		node, err := r.pinnedNode(task.SpecifiedNodeID, "specified node")
		if err != nil {
			return nil, err
		}
		return &Decision{Strategy: strategy, Node: node}, nil

	case types.StrategyFixedNode:
		// A project bind is a hard pin, never substituted
		node, err := r.pinnedNode(project.BoundNodeID, "bound node")
		if err != nil {
			return nil, err
		}
		return &Decision{Strategy: strategy, Node: node}, nil

	case types.StrategyPreferBound:
		node, err := r.pinnedNode(project.BoundNodeID, "bound node")
		if err == nil {
			return &Decision{Strategy: strategy, Node: node}, nil
		}
		if !project.FallbackEnabled {
			return nil, err
		}
		req.ExcludeNodeID = project.BoundNodeID
		picked, berr := r.balancer.Select(ctx, req)
		if berr != nil {
			return nil, berr
		}
		r.logger.Info().Str("bound", project.BoundNodeID).Str("node_id", picked.ID).Msg("bound node unavailable, falling back")
		return &Decision{Strategy: strategy, Node: picked, FellBack: true}, nil

	default: // auto_select and anything unrecognized
		picked, err := r.balancer.Select(ctx, req)
		if err == nil {
			return &Decision{Strategy: types.StrategyAutoSelect, Node: picked}, nil
		}
		if req.RequireRender {
			// Local execution cannot render; surface the constraint
			return nil, err
		}
		r.logger.Info().Err(err).Msg("no node qualifies, running locally")
		return &Decision{Strategy: types.StrategyAutoSelect, Local: true, FellBack: true}, nil
	}
}

// pinnedNode loads a pinned node and checks it is usable
func (r *Resolver) pinnedNode(id, what string) (*types.Node, error) {
	if id == "" {
		return nil, &types.NodeUnavailableError{Reason: what + " not set"}
	}
	node, err := r.registry.GetNode(id)
	if err != nil {
		return nil, &types.NodeUnavailableError{NodeID: id, Reason: what + " not found"}
	}
	if !r.registry.IsOnline(node) {
		return nil, &types.NodeUnavailableError{NodeID: id, Reason: what + " is offline"}
	}
	return node, nil
}

func requirements(project *types.Project) balancer.Requirements {
	var req balancer.Requirements
	if project != nil && project.Type == types.ProjectTypeRule {
		req.RequireRender = project.Rule.RequiresRender()
	}
	return req
}
