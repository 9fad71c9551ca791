package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/antcode-sh/antcode/pkg/auth"
	"github.com/antcode-sh/antcode/pkg/balancer"
	"github.com/antcode-sh/antcode/pkg/cache"
	"github.com/antcode-sh/antcode/pkg/checkpoint"
	"github.com/antcode-sh/antcode/pkg/manager"
	"github.com/antcode-sh/antcode/pkg/nodeclient"
	"github.com/antcode-sh/antcode/pkg/queue"
	"github.com/antcode-sh/antcode/pkg/registry"
	"github.com/antcode-sh/antcode/pkg/scheduler"
	"github.com/antcode-sh/antcode/pkg/strategy"
	"github.com/antcode-sh/antcode/pkg/types"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type apiEnv struct {
	engine  *gin.Engine
	manager *manager.Manager
	admin   *types.User
	user    *types.User
}

func newAPIEnv(t *testing.T) *apiEnv {
	t.Helper()
	mgr, err := manager.NewManager(&manager.Config{
		DataDir: t.TempDir(),
		Cache:   cache.Config{Backend: "memory", MaxEntries: 1000},
	})
	require.NoError(t, err)
	t.Cleanup(func() { mgr.Shutdown() })

	admin, err := mgr.EnsureAdminUser("admin")
	require.NoError(t, err)
	user := &types.User{Username: "alice", Role: types.UserRoleUser}
	require.NoError(t, mgr.CreateUser(user))

	client := nodeclient.NewClient()
	reg := registry.NewRegistry(mgr, client)
	bal := balancer.NewBalancer(reg, client)
	resolver := strategy.NewResolver(reg, bal)

	backend := queue.NewMemoryBackend()
	t.Cleanup(func() { backend.Close() })
	sched := scheduler.NewScheduler(mgr, backend, resolver, nil, nil, scheduler.Config{})

	cps := checkpoint.NewService(mgr)
	verifier := auth.NewVerifier(mgr.Cache())
	keys := auth.NewKeyService(mgr, mgr.Cache())

	server := NewServer(Config{Host: "127.0.0.1", Port: 0}, mgr, reg, bal, sched, nil, cps, verifier, keys)
	return &apiEnv{engine: server.Engine(), manager: mgr, admin: admin, user: user}
}

func (e *apiEnv) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	e.engine.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func TestAPI_Health(t *testing.T) {
	env := newAPIEnv(t)
	w := env.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestAPI_AuthRequired(t *testing.T) {
	env := newAPIEnv(t)

	w := env.do(t, http.MethodGet, "/api/projects", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = env.do(t, http.MethodGet, "/api/projects", "wrong-token", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAPI_Whoami(t *testing.T) {
	env := newAPIEnv(t)

	w := env.do(t, http.MethodGet, "/api/users/me", env.user.APIToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "alice", decode(t, w)["username"])
}

func TestAPI_ProjectLifecycle(t *testing.T) {
	env := newAPIEnv(t)

	w := env.do(t, http.MethodPost, "/api/projects", env.user.APIToken, gin.H{
		"name": "scraper",
		"type": "rule",
		"rule": gin.H{"engine": "http", "config": gin.H{"url": "http://example.com"}},
	})
	require.Equal(t, http.StatusCreated, w.Code)
	publicID := decode(t, w)["id"].(string)
	require.NotEmpty(t, publicID)

	w = env.do(t, http.MethodGet, "/api/projects/"+publicID, env.user.APIToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "scraper", decode(t, w)["name"])

	// Another user cannot see it
	w = env.do(t, http.MethodGet, "/api/projects/"+publicID, env.admin.APIToken, nil)
	assert.Equal(t, http.StatusOK, w.Code) // admin may
	other := &types.User{Username: "bob", Role: types.UserRoleUser}
	require.NoError(t, env.manager.CreateUser(other))
	w = env.do(t, http.MethodGet, "/api/projects/"+publicID, other.APIToken, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = env.do(t, http.MethodPut, "/api/projects/"+publicID, env.user.APIToken, gin.H{"name": "renamed"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "renamed", decode(t, w)["name"])

	w = env.do(t, http.MethodDelete, "/api/projects/"+publicID, env.user.APIToken, nil)
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = env.do(t, http.MethodGet, "/api/projects/"+publicID, env.user.APIToken, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestAPI_ProjectValidation(t *testing.T) {
	env := newAPIEnv(t)

	w := env.do(t, http.MethodPost, "/api/projects", env.user.APIToken, gin.H{"type": "rule"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(t, http.MethodPost, "/api/projects", env.user.APIToken, gin.H{"name": "x", "type": "rule"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAPI_ProjectRuleYAMLNormalized(t *testing.T) {
	env := newAPIEnv(t)

	w := env.do(t, http.MethodPost, "/api/projects", env.user.APIToken, gin.H{
		"name": "yaml-rule",
		"type": "rule",
		"rule": gin.H{"raw_yaml": "engine: http\nconfig:\n  url: http://example.com\n"},
	})
	require.Equal(t, http.StatusCreated, w.Code)
	rule := decode(t, w)["rule"].(map[string]any)
	assert.Equal(t, "http", rule["engine"])
}

func TestAPI_ListProjectsScopedToOwner(t *testing.T) {
	env := newAPIEnv(t)

	for i, token := range []string{env.user.APIToken, env.admin.APIToken} {
		w := env.do(t, http.MethodPost, "/api/projects", token, gin.H{
			"name": fmt.Sprintf("project-%d", i),
			"type": "rule",
			"rule": gin.H{"engine": "http"},
		})
		require.Equal(t, http.StatusCreated, w.Code)
	}

	w := env.do(t, http.MethodGet, "/api/projects", env.user.APIToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode(t, w)["projects"], 1)

	w = env.do(t, http.MethodGet, "/api/projects", env.admin.APIToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode(t, w)["projects"], 2)
}

func TestAPI_CreateUserAdminOnly(t *testing.T) {
	env := newAPIEnv(t)

	w := env.do(t, http.MethodPost, "/api/users", env.user.APIToken, gin.H{"username": "eve"})
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = env.do(t, http.MethodPost, "/api/users", env.admin.APIToken, gin.H{"username": "carol"})
	require.Equal(t, http.StatusCreated, w.Code)
	body := decode(t, w)
	assert.NotEmpty(t, body["api_token"])

	// Duplicate username conflicts
	w = env.do(t, http.MethodPost, "/api/users", env.admin.APIToken, gin.H{"username": "carol"})
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestAPI_TaskCreateAndTrigger(t *testing.T) {
	env := newAPIEnv(t)

	w := env.do(t, http.MethodPost, "/api/projects", env.user.APIToken, gin.H{
		"name": "scraper",
		"type": "rule",
		"rule": gin.H{"engine": "http"},
	})
	require.Equal(t, http.StatusCreated, w.Code)
	projectID := decode(t, w)["id"].(string)

	w = env.do(t, http.MethodPost, "/api/tasks", env.user.APIToken, gin.H{
		"name":          "nightly",
		"project_id":    projectID,
		"schedule_kind": "cron",
		"cron_expr":     "0 0 3 * * *",
		"priority":      1,
	})
	require.Equal(t, http.StatusCreated, w.Code)
	taskID := decode(t, w)["id"].(string)

	w = env.do(t, http.MethodPost, "/api/tasks/"+taskID+"/trigger", env.user.APIToken, nil)
	require.Equal(t, http.StatusAccepted, w.Code)
	executionID := decode(t, w)["execution_id"].(string)
	require.NotEmpty(t, executionID)

	// The task is now in flight; a second manual trigger conflicts
	w = env.do(t, http.MethodPost, "/api/tasks/"+taskID+"/trigger", env.user.APIToken, nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = env.do(t, http.MethodGet, "/api/executions/"+executionID, env.user.APIToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "pending", decode(t, w)["state"])

	w = env.do(t, http.MethodGet, "/api/tasks/"+taskID+"/executions", env.user.APIToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode(t, w)["executions"], 1)
}

func TestAPI_TaskValidation(t *testing.T) {
	env := newAPIEnv(t)

	w := env.do(t, http.MethodPost, "/api/projects", env.user.APIToken, gin.H{
		"name": "p", "type": "rule", "rule": gin.H{"engine": "http"},
	})
	require.Equal(t, http.StatusCreated, w.Code)
	projectID := decode(t, w)["id"].(string)

	tests := []struct {
		name string
		body gin.H
	}{
		{"missing name", gin.H{"project_id": projectID, "schedule_kind": "cron", "cron_expr": "* * * * * *"}},
		{"cron without expr", gin.H{"name": "t", "project_id": projectID, "schedule_kind": "cron"}},
		{"interval without seconds", gin.H{"name": "t", "project_id": projectID, "schedule_kind": "interval"}},
		{"bad priority", gin.H{"name": "t", "project_id": projectID, "schedule_kind": "cron", "cron_expr": "* * * * * *", "priority": 9}},
		{"unknown kind", gin.H{"name": "t", "project_id": projectID, "schedule_kind": "lunar"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.do(t, http.MethodPost, "/api/tasks", env.user.APIToken, tt.body)
			assert.Equal(t, http.StatusBadRequest, w.Code)
		})
	}
}

func TestAPI_QueueStatus(t *testing.T) {
	env := newAPIEnv(t)

	w := env.do(t, http.MethodGet, "/api/queue/status", env.user.APIToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, "memory", body["backend_type"])
	assert.Equal(t, true, body["healthy"])
}

func TestAPI_NodeAdminOnly(t *testing.T) {
	env := newAPIEnv(t)

	nodeBody := gin.H{"name": "worker", "host": "10.0.0.5", "port": 8100}
	w := env.do(t, http.MethodPost, "/api/nodes", env.user.APIToken, nodeBody)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = env.do(t, http.MethodPost, "/api/nodes", env.admin.APIToken, nodeBody)
	require.Equal(t, http.StatusCreated, w.Code)
	body := decode(t, w)
	assert.NotEmpty(t, body["api_key"])
	assert.NotEmpty(t, body["secret_key"])
	nodeID := body["node"].(map[string]any)["id"].(string)

	// Credentials never render on reads
	w = env.do(t, http.MethodGet, "/api/nodes/"+nodeID, env.admin.APIToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.NotContains(t, w.Body.String(), body["secret_key"])
}

func TestAPI_InstallKeyFlow(t *testing.T) {
	env := newAPIEnv(t)

	w := env.do(t, http.MethodPost, "/api/install-keys", env.admin.APIToken, gin.H{"ttl_hours": 1})
	require.Equal(t, http.StatusCreated, w.Code)
	key := decode(t, w)["key"].(string)
	require.NotEmpty(t, key)

	// The claim endpoint needs no user token
	w = env.do(t, http.MethodPost, "/api/install/claim", "", gin.H{
		"key":          key,
		"machine_code": "machine-1",
		"host":         "10.0.0.9",
		"port":         8100,
	})
	require.Equal(t, http.StatusCreated, w.Code)
	body := decode(t, w)
	assert.NotEmpty(t, body["node_id"])
	assert.NotEmpty(t, body["api_key"])
	assert.NotEmpty(t, body["secret_key"])

	// A bogus key is refused
	w = env.do(t, http.MethodPost, "/api/install/claim", "", gin.H{
		"key":          "bogus",
		"machine_code": "machine-2",
		"host":         "10.0.0.10",
		"port":         8100,
	})
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestAPI_AuditAdminOnly(t *testing.T) {
	env := newAPIEnv(t)

	w := env.do(t, http.MethodGet, "/api/audit", env.user.APIToken, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = env.do(t, http.MethodGet, "/api/audit", env.admin.APIToken, nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestAPI_NodeConnectDisconnect(t *testing.T) {
	env := newAPIEnv(t)

	w := env.do(t, http.MethodPost, "/api/nodes", env.admin.APIToken,
		map[string]any{"name": "w1", "host": "10.0.0.5", "port": 8100})
	require.Equal(t, http.StatusCreated, w.Code)
	node := decode(t, w)["node"].(map[string]any)
	nodeID := node["id"].(string)

	// Connect by address, learning the machine code
	w = env.do(t, http.MethodPost, "/api/nodes/connect", env.user.APIToken,
		map[string]any{"host": "10.0.0.5", "port": 8100, "machine_code": "mc-1"})
	require.Equal(t, http.StatusOK, w.Code)
	got := decode(t, w)
	assert.Equal(t, true, got["online"])
	assert.Equal(t, "mc-1", got["node"].(map[string]any)["machine_code"])

	// A different machine code at the same address is rejected
	w = env.do(t, http.MethodPost, "/api/nodes/connect", env.user.APIToken,
		map[string]any{"host": "10.0.0.5", "port": 8100, "machine_code": "mc-other"})
	assert.Equal(t, http.StatusForbidden, w.Code)

	// Unknown address
	w = env.do(t, http.MethodPost, "/api/nodes/connect", env.user.APIToken,
		map[string]any{"host": "10.9.9.9", "port": 8100})
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = env.do(t, http.MethodPost, "/api/nodes/"+nodeID+"/disconnect", env.user.APIToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, false, decode(t, w)["online"])
}

func TestAPI_NodeRebind(t *testing.T) {
	env := newAPIEnv(t)

	w := env.do(t, http.MethodPost, "/api/nodes", env.admin.APIToken,
		map[string]any{"name": "w1", "host": "10.0.0.5", "port": 8100})
	require.Equal(t, http.StatusCreated, w.Code)
	nodeID := decode(t, w)["node"].(map[string]any)["id"].(string)

	// Rebind is admin-only
	w = env.do(t, http.MethodPost, "/api/nodes/"+nodeID+"/rebind", env.user.APIToken,
		map[string]any{"machine_code": "mc-2"})
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = env.do(t, http.MethodPost, "/api/nodes/"+nodeID+"/rebind", env.admin.APIToken,
		map[string]any{"machine_code": "mc-2"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "mc-2", decode(t, w)["machine_code"])

	w = env.do(t, http.MethodPost, "/api/nodes/"+nodeID+"/rebind", env.admin.APIToken,
		map[string]any{})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAPI_NodeStats(t *testing.T) {
	env := newAPIEnv(t)

	for i, host := range []string{"10.0.0.1", "10.0.0.2"} {
		w := env.do(t, http.MethodPost, "/api/nodes", env.admin.APIToken,
			map[string]any{"name": fmt.Sprintf("w%d", i), "host": host, "port": 8100})
		require.Equal(t, http.StatusCreated, w.Code)
	}
	w := env.do(t, http.MethodPost, "/api/nodes/connect", env.user.APIToken,
		map[string]any{"host": "10.0.0.1", "port": 8100})
	require.Equal(t, http.StatusOK, w.Code)

	w = env.do(t, http.MethodGet, "/api/nodes/stats", env.user.APIToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
	stats := decode(t, w)
	assert.Equal(t, float64(2), stats["total"])
	assert.Equal(t, float64(1), stats["online"])
	assert.Equal(t, float64(1), stats["offline"])
}
