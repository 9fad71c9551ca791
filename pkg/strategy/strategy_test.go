package strategy

import (
	"context"
	"testing"

	"github.com/antcode-sh/antcode/pkg/balancer"
	"github.com/antcode-sh/antcode/pkg/cache"
	"github.com/antcode-sh/antcode/pkg/manager"
	"github.com/antcode-sh/antcode/pkg/nodeclient"
	"github.com/antcode-sh/antcode/pkg/registry"
	"github.com/antcode-sh/antcode/pkg/storage"
	"github.com/antcode-sh/antcode/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testEnv struct {
	resolver *Resolver
	manager  *manager.Manager
	registry *registry.Registry
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	store, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	mgr := manager.NewManagerWithStore(store, cache.NewMemoryCache(1000))
	t.Cleanup(func() { mgr.Shutdown() })

	client := nodeclient.NewClient()
	reg := registry.NewRegistry(mgr, client)
	bal := balancer.NewBalancer(reg, client)
	return &testEnv{
		resolver: NewResolver(reg, bal),
		manager:  mgr,
		registry: reg,
	}
}

// addNode registers a node and optionally marks it online
func (e *testEnv) addNode(t *testing.T, name string, port int, online bool) *types.Node {
	t.Helper()
	node := &types.Node{
		Name: name,
		Host: "10.0.0.5",
		Port: port,
		Metrics: types.NodeMetrics{
			MaxConcurrentTasks: 4,
			SuccessRate:        95,
		},
	}
	require.NoError(t, e.manager.CreateNode(node))
	if online {
		node.Status = types.NodeOnline
		require.NoError(t, e.manager.UpdateNode(node))
	}
	e.registry.Refresh()
	return node
}

func TestEffective(t *testing.T) {
	tests := []struct {
		name    string
		task    *types.ScheduledTask
		project *types.Project
		want    types.ExecutionStrategy
	}{
		{"task override wins", &types.ScheduledTask{ExecutionStrategy: types.StrategyLocal}, &types.Project{ExecutionStrategy: types.StrategyAutoSelect}, types.StrategyLocal},
		{"project setting", &types.ScheduledTask{}, &types.Project{ExecutionStrategy: types.StrategyFixedNode}, types.StrategyFixedNode},
		{"task pin implies specified", &types.ScheduledTask{SpecifiedNodeID: "n1"}, &types.Project{}, types.StrategySpecified},
		{"project bind implies prefer_bound", &types.ScheduledTask{}, &types.Project{BoundNodeID: "n1"}, types.StrategyPreferBound},
		{"pin beats bind", &types.ScheduledTask{SpecifiedNodeID: "n1"}, &types.Project{BoundNodeID: "n2"}, types.StrategySpecified},
		{"no pins default to local", &types.ScheduledTask{}, &types.Project{}, types.StrategyLocal},
		{"nil inputs", nil, nil, types.StrategyLocal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Effective(tt.task, tt.project))
		})
	}
}

func TestResolve_Local(t *testing.T) {
	env := newTestEnv(t)

	decision, err := env.resolver.Resolve(context.Background(),
		&types.ScheduledTask{ExecutionStrategy: types.StrategyLocal}, &types.Project{})
	require.NoError(t, err)
	assert.True(t, decision.Local)
	assert.Nil(t, decision.Node)
}

func TestResolve_Specified(t *testing.T) {
	env := newTestEnv(t)
	node := env.addNode(t, "pinned", 8100, true)

	decision, err := env.resolver.Resolve(context.Background(),
		&types.ScheduledTask{SpecifiedNodeID: node.ID}, &types.Project{})
	require.NoError(t, err)
	assert.Equal(t, types.StrategySpecified, decision.Strategy)
	assert.Equal(t, node.ID, decision.Node.ID)
	assert.False(t, decision.FellBack)
}

func TestResolve_SpecifiedNeverFallsBack(t *testing.T) {
	env := newTestEnv(t)
	offline := env.addNode(t, "pinned", 8100, false)
	env.addNode(t, "spare", 8101, true)

	_, err := env.resolver.Resolve(context.Background(),
		&types.ScheduledTask{SpecifiedNodeID: offline.ID},
		&types.Project{FallbackEnabled: true})
	var unavailable *types.NodeUnavailableError
	require.ErrorAs(t, err, &unavailable)
	assert.Equal(t, offline.ID, unavailable.NodeID)
}

func TestResolve_FixedNode(t *testing.T) {
	env := newTestEnv(t)
	bound := env.addNode(t, "bound", 8100, true)

	decision, err := env.resolver.Resolve(context.Background(),
		&types.ScheduledTask{},
		&types.Project{ExecutionStrategy: types.StrategyFixedNode, BoundNodeID: bound.ID})
	require.NoError(t, err)
	assert.Equal(t, bound.ID, decision.Node.ID)
	assert.False(t, decision.FellBack)
}

func TestResolve_FixedNodeNeverFallsBack(t *testing.T) {
	env := newTestEnv(t)
	bound := env.addNode(t, "bound", 8100, false)
	env.addNode(t, "spare", 8101, true)

	_, err := env.resolver.Resolve(context.Background(),
		&types.ScheduledTask{},
		&types.Project{ExecutionStrategy: types.StrategyFixedNode, BoundNodeID: bound.ID})
	var unavailable *types.NodeUnavailableError
	require.ErrorAs(t, err, &unavailable)
	assert.Equal(t, bound.ID, unavailable.NodeID)

	// FallbackEnabled does not soften a hard pin
	_, err = env.resolver.Resolve(context.Background(),
		&types.ScheduledTask{},
		&types.Project{ExecutionStrategy: types.StrategyFixedNode, BoundNodeID: bound.ID, FallbackEnabled: true})
	require.ErrorAs(t, err, &unavailable)
	assert.Equal(t, bound.ID, unavailable.NodeID)
}

func TestResolve_PreferBound(t *testing.T) {
	env := newTestEnv(t)
	bound := env.addNode(t, "bound", 8100, true)
	env.addNode(t, "spare", 8101, true)

	decision, err := env.resolver.Resolve(context.Background(),
		&types.ScheduledTask{},
		&types.Project{ExecutionStrategy: types.StrategyPreferBound, BoundNodeID: bound.ID})
	require.NoError(t, err)
	assert.Equal(t, bound.ID, decision.Node.ID)
	assert.False(t, decision.FellBack)
}

func TestResolve_PreferBoundSubstitutes(t *testing.T) {
	env := newTestEnv(t)
	bound := env.addNode(t, "bound", 8100, false)
	spare := env.addNode(t, "spare", 8101, true)

	// Without FallbackEnabled the bound node's outage is fatal
	_, err := env.resolver.Resolve(context.Background(),
		&types.ScheduledTask{},
		&types.Project{ExecutionStrategy: types.StrategyPreferBound, BoundNodeID: bound.ID})
	var unavailable *types.NodeUnavailableError
	require.ErrorAs(t, err, &unavailable)
	assert.Equal(t, bound.ID, unavailable.NodeID)

	// With it, the balancer substitutes
	decision, err := env.resolver.Resolve(context.Background(),
		&types.ScheduledTask{},
		&types.Project{ExecutionStrategy: types.StrategyPreferBound, BoundNodeID: bound.ID, FallbackEnabled: true})
	require.NoError(t, err)
	assert.Equal(t, spare.ID, decision.Node.ID)
	assert.True(t, decision.FellBack)
}

func TestResolve_PreferBoundFallbackExcludesBoundNode(t *testing.T) {
	env := newTestEnv(t)
	bound := env.addNode(t, "bound", 8100, false)

	// The bound node is the only one registered; fallback must not
	// hand the execution back to it
	_, err := env.resolver.Resolve(context.Background(),
		&types.ScheduledTask{},
		&types.Project{ExecutionStrategy: types.StrategyPreferBound, BoundNodeID: bound.ID, FallbackEnabled: true})
	var unavailable *types.NodeUnavailableError
	require.ErrorAs(t, err, &unavailable)
}

func TestResolve_AutoSelect(t *testing.T) {
	env := newTestEnv(t)
	node := env.addNode(t, "only", 8100, true)

	decision, err := env.resolver.Resolve(context.Background(), &types.ScheduledTask{},
		&types.Project{ExecutionStrategy: types.StrategyAutoSelect})
	require.NoError(t, err)
	assert.Equal(t, types.StrategyAutoSelect, decision.Strategy)
	assert.Equal(t, node.ID, decision.Node.ID)
}

func TestResolve_AutoSelectFallsBackToLocal(t *testing.T) {
	env := newTestEnv(t)

	decision, err := env.resolver.Resolve(context.Background(), &types.ScheduledTask{},
		&types.Project{ExecutionStrategy: types.StrategyAutoSelect})
	require.NoError(t, err)
	assert.True(t, decision.Local)
	assert.True(t, decision.FellBack)
	assert.Nil(t, decision.Node)
}

func TestResolve_NoPinsRunsLocally(t *testing.T) {
	env := newTestEnv(t)
	env.addNode(t, "spare", 8100, true)

	// Legacy records with no strategy and no pins stay on the master
	decision, err := env.resolver.Resolve(context.Background(), &types.ScheduledTask{}, &types.Project{})
	require.NoError(t, err)
	assert.Equal(t, types.StrategyLocal, decision.Strategy)
	assert.True(t, decision.Local)
}

func TestResolve_BrowserRuleNeedsRenderNode(t *testing.T) {
	env := newTestEnv(t)
	env.addNode(t, "plain", 8100, true)

	project := &types.Project{
		ExecutionStrategy: types.StrategyAutoSelect,
		Type:              types.ProjectTypeRule,
		Rule:              &types.RuleSpec{Engine: "browser"},
	}
	_, err := env.resolver.Resolve(context.Background(), &types.ScheduledTask{}, project)
	var unavailable *types.NodeUnavailableError
	require.ErrorAs(t, err, &unavailable)
	assert.Contains(t, unavailable.Reason, "render")

	render := env.addNode(t, "render", 8101, true)
	render.Capabilities.Render = true
	require.NoError(t, env.manager.UpdateNode(render))
	env.registry.Refresh()

	decision, err := env.resolver.Resolve(context.Background(), &types.ScheduledTask{}, project)
	require.NoError(t, err)
	assert.Equal(t, render.ID, decision.Node.ID)
}
