package balancer

import (
	"context"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/antcode-sh/antcode/pkg/log"
	"github.com/antcode-sh/antcode/pkg/nodeclient"
	"github.com/antcode-sh/antcode/pkg/registry"
	"github.com/antcode-sh/antcode/pkg/types"
	"github.com/rs/zerolog"
)

// Score weights. Lower composite score wins.
const (
	weightCPU     = 0.30
	weightMemory  = 0.25
	weightSlots   = 0.20
	weightLatency = 0.15
	weightSuccess = 0.10
)

const (
	// metricsRefreshInterval rate-limits the background latency probes
	metricsRefreshInterval = time.Minute
	refreshParallelism     = 8
)

// Requirements are the hard constraints a candidate node must satisfy
// before scoring applies
type Requirements struct {
	RequireRender bool
	Region        string
	Tags          []string
	// ExtraSlots is the number of tasks about to be placed, so a node
	// already at capacity is excluded up front
	ExtraSlots int
	// ExcludeNodeID removes one node from consideration, used when
	// substituting for an unusable bound node
	ExcludeNodeID string
}

// Candidate is one scored node, exposed for ranking endpoints
type Candidate struct {
	Node  *types.Node `json:"node"`
	Score float64     `json:"score"`
}

// Balancer picks the best node for a task by filtering on hard
// requirements and scoring the survivors on load, latency and history
type Balancer struct {
	registry *registry.Registry
	client   *nodeclient.Client
	logger   zerolog.Logger

	mu        sync.Mutex
	latencies map[string]float64 // node id -> last observed RTT in ms
	refreshed time.Time

	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewBalancer creates a balancer over the registry's online set
func NewBalancer(reg *registry.Registry, client *nodeclient.Client) *Balancer {
	return &Balancer{
		registry:  reg,
		client:    client,
		logger:    log.WithComponent("balancer"),
		latencies: make(map[string]float64),
		stopCh:    make(chan struct{}),
	}
}

// Start begins the periodic latency refresh
func (b *Balancer) Start() {
	go b.run()
}

// Stop stops the refresh loop
func (b *Balancer) Stop() {
	b.stopOnce.Do(func() { close(b.stopCh) })
}

func (b *Balancer) run() {
	ticker := time.NewTicker(metricsRefreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			b.refreshLatencies(ctx)
			cancel()
		case <-b.stopCh:
			return
		}
	}
}

// refreshLatencies probes /health on every online node and records the
// round-trip time used by the latency score component
func (b *Balancer) refreshLatencies(ctx context.Context) {
	nodes := b.registry.OnlineNodes()
	sem := make(chan struct{}, refreshParallelism)
	var wg sync.WaitGroup
	for _, node := range nodes {
		wg.Add(1)
		sem <- struct{}{}
		go func(node *types.Node) {
			defer wg.Done()
			defer func() { <-sem }()
			rtt, err := b.client.Health(ctx, node)
			if err != nil {
				return
			}
			b.mu.Lock()
			b.latencies[node.ID] = float64(rtt.Milliseconds())
			b.mu.Unlock()
		}(node)
	}
	wg.Wait()
	b.mu.Lock()
	b.refreshed = time.Now()
	b.mu.Unlock()
}

// Select returns the best node for the given requirements, or a
// NodeUnavailableError naming the unmet constraint when none qualifies
func (b *Balancer) Select(ctx context.Context, req Requirements) (*types.Node, error) {
	candidates, err := b.Rank(ctx, req)
	if err != nil {
		return nil, err
	}
	return candidates[0].Node, nil
}

// Rank returns every qualifying node ordered best first
func (b *Balancer) Rank(ctx context.Context, req Requirements) ([]Candidate, error) {
	nodes := b.registry.OnlineNodes()
	if len(nodes) == 0 {
		return nil, &types.NodeUnavailableError{Reason: "no nodes online"}
	}

	reason := "no online node satisfies the constraints"
	var candidates []Candidate
	for _, node := range nodes {
		if ok, why := b.qualifies(node, req); !ok {
			reason = why
			continue
		}
		candidates = append(candidates, Candidate{Node: node, Score: b.score(node)})
	}
	if len(candidates) == 0 {
		return nil, &types.NodeUnavailableError{Reason: reason}
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Score < candidates[j].Score
	})
	return candidates, nil
}

func (b *Balancer) qualifies(node *types.Node, req Requirements) (bool, string) {
	if req.ExcludeNodeID != "" && node.ID == req.ExcludeNodeID {
		return false, "only the excluded node qualifies"
	}
	if req.RequireRender && !node.Capabilities.Render {
		return false, "no render-capable node available"
	}
	if req.Region != "" && node.Region != req.Region {
		return false, "no node in region " + req.Region
	}
	if len(req.Tags) > 0 && !node.HasTags(req.Tags) {
		return false, "no node carries the required tags"
	}
	if node.Metrics.CPUPercent >= 90 {
		return false, "all qualifying nodes are CPU saturated"
	}
	if node.Metrics.MemoryPercent >= 90 {
		return false, "all qualifying nodes are memory saturated"
	}
	if max := node.MaxConcurrent(); max > 0 &&
		float64(node.Metrics.RunningTasks) >= 0.8*float64(max) {
		return false, "all qualifying nodes are near their concurrency limit"
	}
	extra := req.ExtraSlots
	if extra <= 0 {
		extra = 1
	}
	if node.Metrics.RunningTasks+extra > node.MaxConcurrent() {
		return false, "all qualifying nodes are at capacity"
	}
	return true, ""
}

// score computes the weighted composite. Every component is normalized
// to 0..100 so the weights are directly comparable.
func (b *Balancer) score(node *types.Node) float64 {
	m := node.Metrics

	slotUse := 0.0
	if max := node.MaxConcurrent(); max > 0 {
		slotUse = float64(m.RunningTasks) / float64(max) * 100
	}

	success := m.SuccessRate
	if success <= 0 {
		// Unknown history scores neutrally rather than best
		success = 50
	}

	return weightCPU*clamp(m.CPUPercent) +
		weightMemory*clamp(m.MemoryPercent) +
		weightSlots*clamp(slotUse) +
		weightLatency*b.latencyScore(node) +
		weightSuccess*clamp(100-success)
}

// latencyScore maps RTT to 0..100 on a log scale: 10ms scores 0, each
// decade above adds 25 points
func (b *Balancer) latencyScore(node *types.Node) float64 {
	b.mu.Lock()
	rtt, ok := b.latencies[node.ID]
	b.mu.Unlock()
	if !ok || rtt <= 0 {
		rtt = fallbackLatency(node)
	}
	if rtt <= 10 {
		return 0
	}
	return clamp(25 * math.Log10(rtt/10))
}

// fallbackLatency uses the node's self-reported latency before the
// first probe cycle completes
func fallbackLatency(node *types.Node) float64 {
	if node.Metrics.LatencyMS > 0 {
		return node.Metrics.LatencyMS
	}
	return 100
}

func clamp(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

// ObserveLatency records an RTT seen by another component, keeping the
// score fresh between refresh cycles
func (b *Balancer) ObserveLatency(nodeID string, rtt time.Duration) {
	b.mu.Lock()
	b.latencies[nodeID] = float64(rtt.Milliseconds())
	b.mu.Unlock()
}
