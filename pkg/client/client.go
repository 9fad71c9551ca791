package client

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

// Client wraps the master's HTTP API for easy CLI usage
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// NewClient creates an API client authenticated with a user token
func NewClient(baseURL, token string) *Client {
	return &Client{
		baseURL: baseURL,
		token:   token,
		http:    &http.Client{Timeout: 15 * time.Second},
	}
}

// apiErrorBody is the error envelope every handler renders
type apiErrorBody struct {
	Error string `json:"error"`
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 8<<20))

	if resp.StatusCode >= 400 {
		var apiErr apiErrorBody
		if json.Unmarshal(raw, &apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("%s %s: %s", method, path, apiErr.Error)
		}
		return fmt.Errorf("%s %s: HTTP %d", method, path, resp.StatusCode)
	}
	if out != nil && len(raw) > 0 {
		return json.Unmarshal(raw, out)
	}
	return nil
}

// Projects

func (c *Client) CreateProject(ctx context.Context, project map[string]any) (*types.Project, error) {
	var out types.Project
	if err := c.do(ctx, http.MethodPost, "/api/projects", project, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) ListProjects(ctx context.Context) ([]*types.Project, error) {
	var out struct {
		Projects []*types.Project `json:"projects"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/projects", nil, &out); err != nil {
		return nil, err
	}
	return out.Projects, nil
}

func (c *Client) GetProject(ctx context.Context, id string) (*types.Project, error) {
	var out types.Project
	if err := c.do(ctx, http.MethodGet, "/api/projects/"+id, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) DeleteProject(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/api/projects/"+id, nil, nil)
}

// Tasks

func (c *Client) CreateTask(ctx context.Context, task map[string]any) (*types.ScheduledTask, error) {
	var out types.ScheduledTask
	if err := c.do(ctx, http.MethodPost, "/api/tasks", task, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) ListTasks(ctx context.Context) ([]*types.ScheduledTask, error) {
	var out struct {
		Tasks []*types.ScheduledTask `json:"tasks"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/tasks", nil, &out); err != nil {
		return nil, err
	}
	return out.Tasks, nil
}

func (c *Client) GetTask(ctx context.Context, id string) (*types.ScheduledTask, error) {
	var out types.ScheduledTask
	if err := c.do(ctx, http.MethodGet, "/api/tasks/"+id, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) DeleteTask(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/api/tasks/"+id, nil, nil)
}

// TriggerTask fires a task immediately and returns the execution id
func (c *Client) TriggerTask(ctx context.Context, id string, params map[string]any) (string, error) {
	var out struct {
		ExecutionID string `json:"execution_id"`
	}
	body := map[string]any{"params": params}
	if err := c.do(ctx, http.MethodPost, "/api/tasks/"+id+"/trigger", body, &out); err != nil {
		return "", err
	}
	return out.ExecutionID, nil
}

func (c *Client) ListExecutions(ctx context.Context, taskID string) ([]*types.TaskExecution, error) {
	var out struct {
		Executions []*types.TaskExecution `json:"executions"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/tasks/"+taskID+"/executions", nil, &out); err != nil {
		return nil, err
	}
	return out.Executions, nil
}

func (c *Client) GetExecution(ctx context.Context, id string) (*types.TaskExecution, error) {
	var out types.TaskExecution
	if err := c.do(ctx, http.MethodGet, "/api/executions/"+id, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) CancelExecution(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodPost, "/api/executions/"+id+"/cancel", nil, nil)
}

// ExecutionLogs tails an execution's logs
func (c *Client) ExecutionLogs(ctx context.Context, id string, logType types.LogType, tail int) (string, error) {
	var out struct {
		Content string `json:"content"`
	}
	path := fmt.Sprintf("/api/executions/%s/logs?log_type=%s&tail=%d", id, logType, tail)
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return "", err
	}
	return out.Content, nil
}

// Nodes

// NodeRegistration is the one-time credential envelope returned when a
// node is registered
type NodeRegistration struct {
	Node      *types.Node `json:"node"`
	APIKey    string      `json:"api_key"`
	SecretKey string      `json:"secret_key"`
}

func (c *Client) CreateNode(ctx context.Context, node map[string]any) (*NodeRegistration, error) {
	var out NodeRegistration
	if err := c.do(ctx, http.MethodPost, "/api/nodes", node, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) ListNodes(ctx context.Context) ([]*types.Node, error) {
	var out struct {
		Nodes []*types.Node `json:"nodes"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/nodes", nil, &out); err != nil {
		return nil, err
	}
	return out.Nodes, nil
}

// NodeDetail is a node plus the registry's live view of it
type NodeDetail struct {
	Node      *types.Node `json:"node"`
	Online    bool        `json:"online"`
	Suspended bool        `json:"suspended"`
}

func (c *Client) GetNode(ctx context.Context, id string) (*NodeDetail, error) {
	var out NodeDetail
	if err := c.do(ctx, http.MethodGet, "/api/nodes/"+id, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) DeleteNode(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/api/nodes/"+id, nil, nil)
}

// TestNode probes a node immediately, clearing any suspension
func (c *Client) TestNode(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodPost, "/api/nodes/"+id+"/test", nil, nil)
}

// QueueStatus reads the central queue's state
func (c *Client) QueueStatus(ctx context.Context) (map[string]any, error) {
	var out map[string]any
	if err := c.do(ctx, http.MethodGet, "/api/queue/status", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// CreateInstallKey mints an install key for bootstrapping a worker
func (c *Client) CreateInstallKey(ctx context.Context, ttlHours int) (*types.InstallKey, error) {
	var out types.InstallKey
	body := map[string]any{"ttl_hours": ttlHours}
	if err := c.do(ctx, http.MethodPost, "/api/install-keys", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
