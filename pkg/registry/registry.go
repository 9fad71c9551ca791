package registry

import (
	"context"
	"sync"
	"time"

	"github.com/antcode-sh/antcode/pkg/events"
	"github.com/antcode-sh/antcode/pkg/log"
	"github.com/antcode-sh/antcode/pkg/manager"
	"github.com/antcode-sh/antcode/pkg/metrics"
	"github.com/antcode-sh/antcode/pkg/nodeclient"
	"github.com/antcode-sh/antcode/pkg/types"
	"github.com/rs/zerolog"
)

const (
	// baseInterval is both the tick period and the healthy re-check delay
	baseInterval = 3 * time.Second
	maxBackoff   = 60 * time.Second
	// suspendThreshold consecutive failures stop automatic probing
	suspendThreshold = 5
	cacheTTL         = 5 * time.Minute
	// heartbeatTimeout is the push-liveness window: a node whose own
	// heartbeat is older than this is offline even if pull-probes succeed
	heartbeatTimeout = 60 * time.Second
	// probeParallelism bounds the per-tick probe fan-out
	probeParallelism = 16
)

// probeState tracks the adaptive check schedule for one node
type probeState struct {
	failures  int
	nextCheck time.Time
	suspended bool
}

// Registry keeps the authoritative set of worker nodes with an in-memory
// cache over the store and drives adaptive health checks
type Registry struct {
	manager *manager.Manager
	client  *nodeclient.Client
	logger  zerolog.Logger

	mu          sync.Mutex
	nodes       map[string]*types.Node
	states      map[string]*probeState
	refreshedAt time.Time

	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewRegistry creates a registry over the manager's store
func NewRegistry(mgr *manager.Manager, client *nodeclient.Client) *Registry {
	return &Registry{
		manager: mgr,
		client:  client,
		logger:  log.WithComponent("registry"),
		nodes:   make(map[string]*types.Node),
		states:  make(map[string]*probeState),
		stopCh:  make(chan struct{}),
	}
}

// Start begins the adaptive heartbeat loop
func (r *Registry) Start() {
	go r.run()
}

// Stop stops the heartbeat loop
func (r *Registry) Stop() {
	r.stopOnce.Do(func() { close(r.stopCh) })
}

func (r *Registry) run() {
	ticker := time.NewTicker(baseInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), baseInterval)
			r.tick(ctx)
			cancel()
		case <-r.stopCh:
			return
		}
	}
}

// tick refreshes the cache if stale and probes every due node with a
// bounded parallel fan-out. Probes run outside the registry lock.
func (r *Registry) tick(ctx context.Context) {
	r.mu.Lock()
	if time.Since(r.refreshedAt) > cacheTTL {
		r.refreshLocked()
	}
	now := time.Now()
	var due []*types.Node
	for id, node := range r.nodes {
		state := r.stateLocked(id)
		if state.suspended || now.Before(state.nextCheck) {
			continue
		}
		if node.Status == types.NodeMaintenance {
			continue
		}
		due = append(due, node)
	}
	r.mu.Unlock()

	if len(due) == 0 {
		return
	}

	sem := make(chan struct{}, probeParallelism)
	var wg sync.WaitGroup
	for _, node := range due {
		wg.Add(1)
		sem <- struct{}{}
		go func(node *types.Node) {
			defer wg.Done()
			defer func() { <-sem }()
			r.probe(ctx, node)
		}(node)
	}
	wg.Wait()
}

// probe issues one /node/info check and applies the adaptive schedule
func (r *Registry) probe(ctx context.Context, node *types.Node) {
	info, err := r.client.Info(ctx, node)

	r.mu.Lock()
	defer r.mu.Unlock()
	state := r.stateLocked(node.ID)
	cached, ok := r.nodes[node.ID]
	if !ok {
		// Deleted while the probe was in flight
		return
	}

	if err != nil {
		state.failures++
		metrics.ProbeFailures.Inc()
		if state.failures >= suspendThreshold {
			state.suspended = true
			r.logger.Warn().Str("node_id", node.ID).Int("failures", state.failures).Msg("node suspended after repeated probe failures")
			r.manager.Events().Publish(&events.Event{Type: events.EventNodeSuspended, NodeID: node.ID})
		} else {
			state.nextCheck = time.Now().Add(backoffDelay(state.failures))
		}
		r.setStatusLocked(cached, types.NodeOffline)
		return
	}

	state.failures = 0
	state.nextCheck = time.Now().Add(baseInterval)

	cached.Metrics = info.Metrics
	cached.Metrics.UpdatedAt = time.Now()
	if cached.MachineCode == "" && info.MachineCode != "" {
		cached.MachineCode = info.MachineCode
		if err := r.manager.UpdateNode(cached); err != nil {
			r.logger.Warn().Err(err).Str("node_id", node.ID).Msg("machine code backfill failed")
		}
	}
	r.setStatusLocked(cached, types.NodeOnline)
}

// backoffDelay is the exponential probe back-off: 3*2^failures seconds,
// capped at 60s
func backoffDelay(failures int) time.Duration {
	delay := baseInterval
	for i := 0; i < failures; i++ {
		delay *= 2
		if delay >= maxBackoff {
			return maxBackoff
		}
	}
	return delay
}

// setStatusLocked writes a status transition to the store only on change
func (r *Registry) setStatusLocked(node *types.Node, status types.NodeStatus) {
	if node.Status == status {
		return
	}
	node.Status = status
	if err := r.manager.UpdateNode(node); err != nil {
		r.logger.Error().Err(err).Str("node_id", node.ID).Msg("status transition write failed")
		return
	}
	eventType := events.EventNodeOffline
	if status == types.NodeOnline {
		eventType = events.EventNodeOnline
	}
	r.manager.Events().Publish(&events.Event{Type: eventType, NodeID: node.ID})
	r.logger.Info().Str("node_id", node.ID).Str("status", string(status)).Msg("node status changed")
}

func (r *Registry) stateLocked(id string) *probeState {
	state, ok := r.states[id]
	if !ok {
		state = &probeState{}
		r.states[id] = state
	}
	return state
}

// refreshLocked reloads the cache from the store
func (r *Registry) refreshLocked() {
	nodes, err := r.manager.ListNodes()
	if err != nil {
		r.logger.Error().Err(err).Msg("node cache refresh failed")
		return
	}
	fresh := make(map[string]*types.Node, len(nodes))
	for _, node := range nodes {
		fresh[node.ID] = node
	}
	r.nodes = fresh
	for id := range r.states {
		if _, ok := fresh[id]; !ok {
			delete(r.states, id)
		}
	}
	r.refreshedAt = time.Now()
}

// Refresh eagerly reloads the cache; called after node create/delete
func (r *Registry) Refresh() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.refreshLocked()
}

// GetNode returns a node from the cache, falling back to the store on a
// miss
func (r *Registry) GetNode(id string) (*types.Node, error) {
	r.mu.Lock()
	if node, ok := r.nodes[id]; ok {
		r.mu.Unlock()
		return node, nil
	}
	r.mu.Unlock()

	node, err := r.manager.GetNode(id)
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	r.nodes[node.ID] = node
	r.mu.Unlock()
	return node, nil
}

// IsOnline applies both liveness signals: registry status and the
// push-heartbeat window
func (r *Registry) IsOnline(node *types.Node) bool {
	if node.Status != types.NodeOnline {
		return false
	}
	if node.LastHeartbeat != nil && time.Since(*node.LastHeartbeat) > heartbeatTimeout {
		return false
	}
	return true
}

// OnlineNodes returns the currently usable candidates
func (r *Registry) OnlineNodes() []*types.Node {
	r.mu.Lock()
	if time.Since(r.refreshedAt) > cacheTTL {
		r.refreshLocked()
	}
	defer r.mu.Unlock()

	var online []*types.Node
	for _, node := range r.nodes {
		if r.IsOnline(node) {
			online = append(online, node)
		}
	}
	return online
}

// TestNode forcibly probes a node regardless of suspension; success
// un-suspends it and resumes adaptive probing
func (r *Registry) TestNode(ctx context.Context, id string) (*nodeclient.NodeInfo, error) {
	node, err := r.GetNode(id)
	if err != nil {
		return nil, err
	}
	info, err := r.client.Info(ctx, node)

	r.mu.Lock()
	defer r.mu.Unlock()
	state := r.stateLocked(id)
	if err != nil {
		state.failures++
		r.setStatusLocked(node, types.NodeOffline)
		return nil, err
	}
	state.failures = 0
	state.suspended = false
	state.nextCheck = time.Now().Add(baseInterval)
	node.Metrics = info.Metrics
	node.Metrics.UpdatedAt = time.Now()
	r.setStatusLocked(node, types.NodeOnline)
	return info, nil
}

// MarkHeartbeat records a node-pushed heartbeat, the authoritative
// push-liveness signal
func (r *Registry) MarkHeartbeat(id string, nodeMetrics *types.NodeMetrics) error {
	node, err := r.GetNode(id)
	if err != nil {
		return err
	}
	r.mu.Lock()
	if nodeMetrics != nil {
		node.Metrics = *nodeMetrics
		node.Metrics.UpdatedAt = time.Now()
	}
	r.mu.Unlock()
	return r.manager.RecordHeartbeat(node)
}

// Suspended reports whether a node's automatic probing is paused
func (r *Registry) Suspended(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	state, ok := r.states[id]
	return ok && state.suspended
}
