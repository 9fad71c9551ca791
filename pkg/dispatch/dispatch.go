package dispatch

import (
	"context"

	"github.com/antcode-sh/antcode/pkg/log"
	"github.com/antcode-sh/antcode/pkg/manager"
	"github.com/antcode-sh/antcode/pkg/metrics"
	"github.com/antcode-sh/antcode/pkg/nodeclient"
	"github.com/antcode-sh/antcode/pkg/projectsync"
	"github.com/antcode-sh/antcode/pkg/registry"
	"github.com/antcode-sh/antcode/pkg/types"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Item is one execution ready to be pushed to a node
type Item struct {
	Execution *types.TaskExecution
	Task      *types.ScheduledTask
	Project   *types.Project
}

// Result reports per-item dispatch outcomes by task public id
type Result struct {
	BatchID  string            `json:"batch_id"`
	Accepted []string          `json:"accepted"`
	Rejected map[string]string `json:"rejected,omitempty"`
}

// Dispatcher pushes execution batches to worker nodes: verify the node,
// establish the report link, sync project content, then hand the batch
// to the node-local queue
type Dispatcher struct {
	manager      *manager.Manager
	registry     *registry.Registry
	syncer       *projectsync.Syncer
	client       *nodeclient.Client
	masterURL    string
	useWebsocket bool
	logger       zerolog.Logger
}

// NewDispatcher creates a dispatcher. masterURL is the base the node
// reports back to.
func NewDispatcher(mgr *manager.Manager, reg *registry.Registry, syncer *projectsync.Syncer, client *nodeclient.Client, masterURL string, useWebsocket bool) *Dispatcher {
	return &Dispatcher{
		manager:      mgr,
		registry:     reg,
		syncer:       syncer,
		client:       client,
		masterURL:    masterURL,
		useWebsocket: useWebsocket,
		logger:       log.WithComponent("dispatch"),
	}
}

// DispatchBatch delivers a batch to one node. On success the accepted
// executions transition to queued with the node recorded; rejected ones
// are returned for the caller's retry policy.
func (d *Dispatcher) DispatchBatch(ctx context.Context, nodeID string, items []*Item) (*Result, error) {
	if len(items) == 0 {
		return &Result{}, nil
	}

	node, err := d.registry.GetNode(nodeID)
	if err != nil {
		return nil, &types.NodeUnavailableError{NodeID: nodeID, Reason: "unknown node"}
	}
	if !d.registry.IsOnline(node) {
		return nil, &types.NodeUnavailableError{NodeID: nodeID, Reason: "node is offline"}
	}

	if err := d.verifyIdentity(ctx, node); err != nil {
		metrics.DispatchAttempts.WithLabelValues("identity_mismatch").Inc()
		return nil, err
	}

	if err := d.connect(ctx, node); err != nil {
		metrics.DispatchAttempts.WithLabelValues("connect_failed").Inc()
		return nil, err
	}

	envelopes, err := d.buildEnvelopes(ctx, node, items)
	if err != nil {
		metrics.DispatchAttempts.WithLabelValues("sync_failed").Inc()
		return nil, err
	}

	batchID := uuid.New().String()
	response, err := d.client.PushBatch(ctx, node, batchID, envelopes)
	if err != nil {
		metrics.DispatchAttempts.WithLabelValues("push_failed").Inc()
		return nil, err
	}
	metrics.DispatchAttempts.WithLabelValues("ok").Inc()

	result := &Result{BatchID: batchID, Rejected: response.Rejected}
	accepted := make(map[string]bool, len(response.Accepted))
	for _, id := range response.Accepted {
		accepted[id] = true
	}
	for _, item := range items {
		if !accepted[item.Task.PublicID] {
			continue
		}
		item.Execution.State = types.ExecutionQueued
		item.Execution.NodeID = node.ID
		if err := d.manager.UpdateExecution(item.Execution); err != nil {
			d.logger.Error().Err(err).Str("execution_id", item.Execution.ID).Msg("queued transition write failed")
			continue
		}
		result.Accepted = append(result.Accepted, item.Task.PublicID)
	}

	d.logger.Info().
		Str("node_id", node.ID).
		Str("batch_id", batchID).
		Int("accepted", len(result.Accepted)).
		Int("rejected", len(result.Rejected)).
		Msg("batch dispatched")
	return result, nil
}

// DispatchTask delivers a single execution, delegating to DispatchBatch
func (d *Dispatcher) DispatchTask(ctx context.Context, nodeID string, item *Item) (*Result, error) {
	return d.DispatchBatch(ctx, nodeID, []*Item{item})
}

// verifyIdentity checks the machine code the node reports against the
// registered one, so a re-imaged host cannot silently impersonate a node
func (d *Dispatcher) verifyIdentity(ctx context.Context, node *types.Node) error {
	info, err := d.client.Info(ctx, node)
	if err != nil {
		return err
	}
	if info.MachineCode == "" {
		return nil
	}
	if node.MachineCode == "" {
		node.MachineCode = info.MachineCode
		return d.manager.UpdateNode(node)
	}
	if node.MachineCode != info.MachineCode {
		return &types.NodeUnavailableError{NodeID: node.ID, Reason: "machine code mismatch"}
	}
	return nil
}

// connect (re)establishes the node-to-master report link before each
// batch; the call is idempotent on the worker side
func (d *Dispatcher) connect(ctx context.Context, node *types.Node) error {
	return d.client.ConnectV2(ctx, node, &nodeclient.ConnectRequest{
		MachineCode:  node.MachineCode,
		APIKey:       node.APIKey,
		MasterURL:    d.masterURL,
		NodeID:       node.ID,
		SecretKey:    node.SecretKey,
		UseWebsocket: d.useWebsocket,
	})
}

// buildEnvelopes syncs each distinct project once, then assembles the
// wire envelopes
func (d *Dispatcher) buildEnvelopes(ctx context.Context, node *types.Node, items []*Item) ([]*nodeclient.TaskEnvelope, error) {
	plans := make(map[string]*projectsync.Plan)
	for _, item := range items {
		if _, done := plans[item.Project.PublicID]; done {
			continue
		}
		plan, err := d.syncer.EnsureSynced(ctx, node, item.Project)
		if err != nil {
			d.syncer.MarkFailed(node.ID, item.Project.PublicID, err)
			return nil, err
		}
		plans[item.Project.PublicID] = plan
	}

	envelopes := make([]*nodeclient.TaskEnvelope, 0, len(items))
	for _, item := range items {
		plan := plans[item.Project.PublicID]
		envelope := &nodeclient.TaskEnvelope{
			ExecutionID:     item.Execution.ID,
			TaskID:          item.Task.PublicID,
			ProjectID:       item.Project.PublicID,
			ProjectType:     item.Project.Type,
			Priority:        item.Task.Priority,
			TimeoutSeconds:  item.Task.TimeoutSeconds,
			ExecutionParams: executionParams(item),
			EnvironmentVars: item.Task.EnvironmentVars,
			EntryPoint:      plan.EntryPoint,
			FileHash:        plan.FileHash,
		}
		if plan.Code != "" {
			envelope.Code = plan.Code
		}
		if plan.DownloadURL != "" {
			envelope.DownloadURL = plan.DownloadURL
			envelope.APIKey = node.APIKey
		}
		envelopes = append(envelopes, envelope)
	}
	return envelopes, nil
}

// executionParams merges the task's configured params with any
// execution-level overrides, such as the resume markers recovery injects
func executionParams(item *Item) map[string]any {
	overrides, _ := item.Execution.ResultData["params"].(map[string]any)
	if len(overrides) == 0 {
		return item.Task.ExecutionParams
	}
	merged := make(map[string]any, len(item.Task.ExecutionParams)+len(overrides))
	for k, v := range item.Task.ExecutionParams {
		merged[k] = v
	}
	for k, v := range overrides {
		merged[k] = v
	}
	return merged
}

// QueueStatus proxies the node-local queue state
func (d *Dispatcher) QueueStatus(ctx context.Context, nodeID string) (*nodeclient.QueueStatus, error) {
	node, err := d.registry.GetNode(nodeID)
	if err != nil {
		return nil, err
	}
	return d.client.GetQueueStatus(ctx, node)
}

// UpdateQueuedPriority changes a queued task's priority on its node
func (d *Dispatcher) UpdateQueuedPriority(ctx context.Context, nodeID, taskPublicID string, priority int) error {
	if priority < 0 || priority > 4 {
		return types.ErrValidation
	}
	node, err := d.registry.GetNode(nodeID)
	if err != nil {
		return err
	}
	return d.client.UpdateTaskPriority(ctx, node, taskPublicID, priority)
}

// CancelQueued removes a queued task from its node
func (d *Dispatcher) CancelQueued(ctx context.Context, nodeID, taskPublicID string) error {
	node, err := d.registry.GetNode(nodeID)
	if err != nil {
		return err
	}
	return d.client.CancelQueuedTask(ctx, node, taskPublicID)
}

// TaskLogs tails the node-side logs for a task
func (d *Dispatcher) TaskLogs(ctx context.Context, nodeID, taskPublicID string, logType types.LogType, tail int) (string, error) {
	node, err := d.registry.GetNode(nodeID)
	if err != nil {
		return "", err
	}
	if tail <= 0 {
		tail = 200
	}
	return d.client.GetTaskLogs(ctx, node, taskPublicID, logType, tail)
}

// CancelRunning asks the node to stop an execution. The master marks
// the execution cancelled regardless; the node call is best-effort.
func (d *Dispatcher) CancelRunning(ctx context.Context, execution *types.TaskExecution) error {
	if execution.NodeID != "" {
		node, err := d.registry.GetNode(execution.NodeID)
		if err == nil {
			if cerr := d.client.CancelRunningTask(ctx, node, execution.ID); cerr != nil {
				d.logger.Warn().Err(cerr).Str("execution_id", execution.ID).Msg("node-side cancel failed")
			}
		}
	}
	return d.manager.FinishExecution(execution, types.ExecutionCancelled, "cancelled by user")
}
