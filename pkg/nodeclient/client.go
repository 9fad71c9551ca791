package nodeclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/antcode-sh/antcode/pkg/types"
)

const (
	healthTimeout = 5 * time.Second
	// infoTimeout keeps the registry's probe fan-out fast
	infoTimeout    = 2 * time.Second
	defaultTimeout = 10 * time.Second
)

// NodeInfo is a worker's identity and live metrics, as returned by
// GET /node/info
type NodeInfo struct {
	NodeID      string            `json:"node_id"`
	MachineCode string            `json:"machine_code"`
	Version     string            `json:"version,omitempty"`
	Metrics     types.NodeMetrics `json:"metrics"`
}

// BatchResponse is the worker's verdict on a pushed batch
type BatchResponse struct {
	Accepted []string          `json:"accepted"`
	Rejected map[string]string `json:"rejected,omitempty"`
}

// QueueStatus mirrors the worker-local queue state
type QueueStatus struct {
	Depth   int            `json:"depth"`
	Running int            `json:"running"`
	Stats   map[string]any `json:"stats,omitempty"`
}

// TaskEnvelope is one task as transmitted to a worker queue
type TaskEnvelope struct {
	ExecutionID     string            `json:"execution_id"`
	TaskID          string            `json:"task_id"`
	ProjectID       string            `json:"project_id"`
	ProjectType     types.ProjectType `json:"project_type"`
	Priority        int               `json:"priority"`
	TimeoutSeconds  int               `json:"timeout_seconds"`
	ExecutionParams map[string]any    `json:"execution_params,omitempty"`
	EnvironmentVars map[string]string `json:"environment_vars,omitempty"`

	// Inline source for code projects
	Code       string `json:"code,omitempty"`
	EntryPoint string `json:"entry_point,omitempty"`

	// Download metadata lets the worker re-sync independently if its
	// local copy was evicted
	DownloadURL string `json:"download_url,omitempty"`
	APIKey      string `json:"api_key,omitempty"`
	FileHash    string `json:"file_hash,omitempty"`
}

// ConnectRequest tells a node where to push logs and reports
type ConnectRequest struct {
	MachineCode  string `json:"machine_code"`
	APIKey       string `json:"api_key"`
	MasterURL    string `json:"master_url"`
	NodeID       string `json:"node_id"`
	SecretKey    string `json:"secret_key"`
	UseWebsocket bool   `json:"use_websocket"`
}

// Client performs HTTP calls to worker nodes. It holds no per-node
// state; the node record carries address and credentials.
type Client struct {
	fast   *http.Client
	probe  *http.Client
	normal *http.Client
}

// NewClient creates a node client with the standard timeout tiers
func NewClient() *Client {
	return &Client{
		fast:   &http.Client{Timeout: infoTimeout},
		probe:  &http.Client{Timeout: healthTimeout},
		normal: &http.Client{Timeout: defaultTimeout},
	}
}

// Health probes GET {node}/health and returns the round-trip time
func (c *Client) Health(ctx context.Context, node *types.Node) (time.Duration, error) {
	start := time.Now()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, node.Address()+"/health", nil)
	if err != nil {
		return 0, &types.TransportError{NodeID: node.ID, Op: "health", Err: err}
	}
	resp, err := c.probe.Do(req)
	if err != nil {
		return 0, &types.TransportError{NodeID: node.ID, Op: "health", Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return 0, &types.TransportError{NodeID: node.ID, Op: "health", Err: fmt.Errorf("HTTP %d", resp.StatusCode)}
	}
	return time.Since(start), nil
}

// Info fetches the node's identity and metrics on the fast-path timeout
func (c *Client) Info(ctx context.Context, node *types.Node) (*NodeInfo, error) {
	var info NodeInfo
	if err := c.getJSON(ctx, c.fast, node, "/node/info", &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// ConnectV2 establishes the master link so the node knows where to push
// heartbeats and logs
func (c *Client) ConnectV2(ctx context.Context, node *types.Node, req *ConnectRequest) error {
	return c.postJSON(ctx, node, "/node/connect/v2", req, nil)
}

// PushBatch POSTs a task batch to the node's queue. HTTP 200 means
// processed, 202 accepted for asynchronous handling; 4xx is a rejection
// that retrying the same payload cannot fix.
func (c *Client) PushBatch(ctx context.Context, node *types.Node, batchID string, tasks []*TaskEnvelope) (*BatchResponse, error) {
	body := map[string]any{"tasks": tasks, "batch_id": batchID}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, node.Address()+"/queue/batch", bytes.NewReader(payload))
	if err != nil {
		return nil, &types.TransportError{NodeID: node.ID, Op: "queue/batch", Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+node.APIKey)

	resp, err := c.normal.Do(req)
	if err != nil {
		return nil, &types.TransportError{NodeID: node.ID, Op: "queue/batch", Err: err}
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	switch {
	case resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusAccepted:
		var br BatchResponse
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, &br); err != nil {
				return nil, &types.TransportError{NodeID: node.ID, Op: "queue/batch", Err: fmt.Errorf("bad response body: %w", err)}
			}
		}
		if br.Accepted == nil && br.Rejected == nil {
			// Some workers answer 202 with an empty body; treat the
			// whole batch as accepted
			for _, t := range tasks {
				br.Accepted = append(br.Accepted, t.TaskID)
			}
		}
		return &br, nil
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return nil, &types.WorkerRejectedError{NodeID: node.ID, StatusCode: resp.StatusCode, Message: string(raw)}
	default:
		return nil, &types.TransportError{NodeID: node.ID, Op: "queue/batch", Err: fmt.Errorf("HTTP %d: %s", resp.StatusCode, raw)}
	}
}

// GetQueueStatus reads the node-local queue state
func (c *Client) GetQueueStatus(ctx context.Context, node *types.Node) (*QueueStatus, error) {
	var status QueueStatus
	if err := c.getJSON(ctx, c.normal, node, "/queue/status", &status); err != nil {
		return nil, err
	}
	return &status, nil
}

// UpdateTaskPriority changes a queued task's priority on the node
func (c *Client) UpdateTaskPriority(ctx context.Context, node *types.Node, taskID string, priority int) error {
	body := map[string]int{"priority": priority}
	return c.doJSON(ctx, node, http.MethodPut, "/queue/tasks/"+taskID+"/priority", body, nil)
}

// CancelQueuedTask removes a queued task from the node
func (c *Client) CancelQueuedTask(ctx context.Context, node *types.Node, taskID string) error {
	return c.doJSON(ctx, node, http.MethodDelete, "/queue/tasks/"+taskID, nil, nil)
}

// GetTaskStatus reads a task's node-side state for UI read-through
func (c *Client) GetTaskStatus(ctx context.Context, node *types.Node, taskID string) (map[string]any, error) {
	var out map[string]any
	if err := c.getJSON(ctx, c.normal, node, "/tasks/"+taskID, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// GetTaskLogs tails a task's logs from the node
func (c *Client) GetTaskLogs(ctx context.Context, node *types.Node, taskID string, logType types.LogType, tail int) (string, error) {
	path := fmt.Sprintf("/tasks/%s/logs?log_type=%s&tail=%d", taskID, logType, tail)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, node.Address()+path, nil)
	if err != nil {
		return "", &types.TransportError{NodeID: node.ID, Op: "task logs", Err: err}
	}
	req.Header.Set("Authorization", "Bearer "+node.APIKey)
	resp, err := c.normal.Do(req)
	if err != nil {
		return "", &types.TransportError{NodeID: node.ID, Op: "task logs", Err: err}
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if resp.StatusCode != http.StatusOK {
		return "", &types.TransportError{NodeID: node.ID, Op: "task logs", Err: fmt.Errorf("HTTP %d", resp.StatusCode)}
	}
	return string(raw), nil
}

// CancelRunningTask asks the node to stop a running execution. The
// master-side state is definitive regardless of the node's answer.
func (c *Client) CancelRunningTask(ctx context.Context, node *types.Node, executionID string) error {
	return c.doJSON(ctx, node, http.MethodPost, "/tasks/"+executionID+"/cancel", nil, nil)
}

func (c *Client) getJSON(ctx context.Context, httpClient *http.Client, node *types.Node, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, node.Address()+path, nil)
	if err != nil {
		return &types.TransportError{NodeID: node.ID, Op: path, Err: err}
	}
	req.Header.Set("Authorization", "Bearer "+node.APIKey)
	resp, err := httpClient.Do(req)
	if err != nil {
		return &types.TransportError{NodeID: node.ID, Op: path, Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return &types.TransportError{NodeID: node.ID, Op: path, Err: fmt.Errorf("HTTP %d", resp.StatusCode)}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &types.TransportError{NodeID: node.ID, Op: path, Err: fmt.Errorf("bad response body: %w", err)}
	}
	return nil
}

func (c *Client) postJSON(ctx context.Context, node *types.Node, path string, body, out any) error {
	return c.doJSON(ctx, node, http.MethodPost, path, body, out)
}

func (c *Client) doJSON(ctx context.Context, node *types.Node, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, node.Address()+path, reader)
	if err != nil {
		return &types.TransportError{NodeID: node.ID, Op: path, Err: err}
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Authorization", "Bearer "+node.APIKey)

	resp, err := c.normal.Do(req)
	if err != nil {
		return &types.TransportError{NodeID: node.ID, Op: path, Err: err}
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode >= 400 && resp.StatusCode < 500 {
		return &types.WorkerRejectedError{NodeID: node.ID, StatusCode: resp.StatusCode, Message: string(raw)}
	}
	if resp.StatusCode >= 500 {
		return &types.TransportError{NodeID: node.ID, Op: path, Err: fmt.Errorf("HTTP %d: %s", resp.StatusCode, raw)}
	}
	if out != nil && len(raw) > 0 {
		if err := json.Unmarshal(raw, out); err != nil {
			return &types.TransportError{NodeID: node.ID, Op: path, Err: fmt.Errorf("bad response body: %w", err)}
		}
	}
	return nil
}
