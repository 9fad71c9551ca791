package manager

import (
	"context"
	"testing"
	"time"

	"github.com/antcode-sh/antcode/pkg/cache"
	"github.com/antcode-sh/antcode/pkg/storage"
	"github.com/antcode-sh/antcode/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	store, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	mgr := NewManagerWithStore(store, cache.NewMemoryCache(1000))
	t.Cleanup(func() { mgr.Shutdown() })
	return mgr
}

func ruleProject(name string) *types.Project {
	return &types.Project{
		Name: name,
		Type: types.ProjectTypeRule,
		Rule: &types.RuleSpec{Engine: "http"},
	}
}

func TestManager_CreateUserIssuesToken(t *testing.T) {
	mgr := newTestManager(t)

	user := &types.User{Username: "alice", Role: types.UserRoleUser}
	require.NoError(t, mgr.CreateUser(user))

	assert.NotEmpty(t, user.PublicID)
	assert.Len(t, user.APIToken, 48)
	assert.False(t, user.CreatedAt.IsZero())

	got, err := mgr.GetUserByToken(user.APIToken)
	require.NoError(t, err)
	assert.Equal(t, "alice", got.Username)

	_, err = mgr.GetUserByToken("wrong-token")
	assert.ErrorIs(t, err, types.ErrPermission)

	_, err = mgr.GetUserByToken("")
	assert.ErrorIs(t, err, types.ErrPermission)
}

func TestManager_EnsureAdminUser(t *testing.T) {
	mgr := newTestManager(t)

	admin, err := mgr.EnsureAdminUser("admin")
	require.NoError(t, err)
	assert.Equal(t, types.UserRoleAdmin, admin.Role)
	assert.NotEmpty(t, admin.APIToken)

	// Idempotent: second call returns the same account
	again, err := mgr.EnsureAdminUser("admin")
	require.NoError(t, err)
	assert.Equal(t, admin.ID, again.ID)
	assert.Equal(t, admin.APIToken, again.APIToken)
}

func TestManager_CreateProjectValidatesVariant(t *testing.T) {
	mgr := newTestManager(t)

	tests := []struct {
		name    string
		project *types.Project
		wantErr bool
	}{
		{"rule with spec", ruleProject("ok-rule"), false},
		{"rule without spec", &types.Project{Name: "bad", Type: types.ProjectTypeRule}, true},
		{"file without spec", &types.Project{Name: "bad", Type: types.ProjectTypeFile}, true},
		{"code without spec", &types.Project{Name: "bad", Type: types.ProjectTypeCode}, true},
		{"unknown type", &types.Project{Name: "bad", Type: "container"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := mgr.CreateProject(tt.project)
			if tt.wantErr {
				assert.ErrorIs(t, err, types.ErrValidation)
			} else {
				assert.NoError(t, err)
				assert.NotEmpty(t, tt.project.PublicID)
			}
		})
	}
}

func TestManager_CodeProjectContentHash(t *testing.T) {
	mgr := newTestManager(t)

	project := &types.Project{
		Name: "inline",
		Type: types.ProjectTypeCode,
		Code: &types.CodeSpec{Source: "print('hello')", Language: "python"},
	}
	require.NoError(t, mgr.CreateProject(project))
	require.NotEmpty(t, project.FileHash)
	assert.Equal(t, ContentHash([]byte("print('hello')")), project.FileHash)

	// Updating the source re-hashes
	project.Code.Source = "print('changed')"
	require.NoError(t, mgr.UpdateProject(project))
	assert.Equal(t, ContentHash([]byte("print('changed')")), project.FileHash)
}

func TestManager_DeleteProjectCascades(t *testing.T) {
	mgr := newTestManager(t)

	project := ruleProject("doomed")
	require.NoError(t, mgr.CreateProject(project))

	task := &types.ScheduledTask{
		ProjectID:    project.ID,
		Name:         "nightly",
		ScheduleKind: types.ScheduleCron,
		CronExpr:     "0 0 3 * * *",
	}
	require.NoError(t, mgr.CreateTask(task))

	require.NoError(t, mgr.Store().UpsertNodeProject(&types.NodeProject{
		NodeID: "node-1", ProjectPublicID: project.PublicID, Status: types.SyncSynced,
	}))

	require.NoError(t, mgr.DeleteProject(project.ID))

	_, err := mgr.GetProject(project.ID)
	assert.ErrorIs(t, err, types.ErrNotFound)
	_, err = mgr.GetTask(task.ID)
	assert.ErrorIs(t, err, types.ErrNotFound)
	_, err = mgr.Store().GetNodeProject("node-1", project.PublicID)
	assert.ErrorIs(t, err, types.ErrNotFound)
}

func TestManager_CreateNode(t *testing.T) {
	mgr := newTestManager(t)

	node := &types.Node{Name: "worker", Host: "10.0.0.5", Port: 8100}
	require.NoError(t, mgr.CreateNode(node))

	assert.NotEmpty(t, node.ID)
	assert.Len(t, node.APIKey, 48)
	assert.Len(t, node.SecretKey, 64)
	assert.Equal(t, types.NodeOffline, node.Status)

	// Same address is rejected
	err := mgr.CreateNode(&types.Node{Name: "clone", Host: "10.0.0.5", Port: 8100})
	assert.ErrorIs(t, err, types.ErrConflict)

	// Different port is fine
	require.NoError(t, mgr.CreateNode(&types.Node{Name: "second", Host: "10.0.0.5", Port: 8101}))
}

func TestManager_DeleteNodeCascades(t *testing.T) {
	mgr := newTestManager(t)

	node := &types.Node{Name: "worker", Host: "10.0.0.5", Port: 8100}
	require.NoError(t, mgr.CreateNode(node))

	project := ruleProject("pinned")
	require.NoError(t, mgr.CreateProject(project))
	pinned := &types.ScheduledTask{
		ProjectID:       project.ID,
		Name:            "pinned-task",
		ScheduleKind:    types.ScheduleOnce,
		SpecifiedNodeID: node.ID,
	}
	require.NoError(t, mgr.CreateTask(pinned))
	free := &types.ScheduledTask{
		ProjectID:    project.ID,
		Name:         "free-task",
		ScheduleKind: types.ScheduleOnce,
	}
	require.NoError(t, mgr.CreateTask(free))

	require.NoError(t, mgr.Store().GrantNodePermission(&types.UserNodePermission{
		UserID: 7, NodeID: node.ID, CreatedAt: time.Now(),
	}))

	require.NoError(t, mgr.DeleteNode(node.ID))

	_, err := mgr.GetNode(node.ID)
	assert.ErrorIs(t, err, types.ErrNotFound)
	_, err = mgr.GetTask(pinned.ID)
	assert.ErrorIs(t, err, types.ErrNotFound)

	// Unpinned tasks survive
	_, err = mgr.GetTask(free.ID)
	assert.NoError(t, err)

	ok, _ := mgr.Store().HasNodePermission(7, node.ID)
	assert.False(t, ok)
}

func TestManager_FinishExecution(t *testing.T) {
	mgr := newTestManager(t)

	execution := &types.TaskExecution{
		TaskID:       1,
		TaskPublicID: "task-1",
		State:        types.ExecutionRunning,
		StartTime:    time.Now().Add(-3 * time.Second),
	}
	require.NoError(t, mgr.CreateExecution(execution))
	require.NotEmpty(t, execution.ID)

	require.NoError(t, mgr.FinishExecution(execution, types.ExecutionFailed, "boom"))

	got, err := mgr.GetExecution(execution.ID)
	require.NoError(t, err)
	assert.Equal(t, types.ExecutionFailed, got.State)
	assert.Equal(t, "boom", got.ErrorMessage)
	require.NotNil(t, got.EndTime)
	assert.Greater(t, got.DurationSeconds, 2.0)
}

func TestManager_SetTaskState(t *testing.T) {
	mgr := newTestManager(t)

	project := ruleProject("p")
	require.NoError(t, mgr.CreateProject(project))
	task := &types.ScheduledTask{ProjectID: project.ID, Name: "t", ScheduleKind: types.ScheduleOnce}
	require.NoError(t, mgr.CreateTask(task))

	require.NoError(t, mgr.SetTaskState(task.ID, types.ExecutionRunning))
	got, err := mgr.GetTask(task.ID)
	require.NoError(t, err)
	assert.Equal(t, types.ExecutionRunning, got.CurrentState)
	assert.True(t, got.Busy())
}

func TestManager_RecordHeartbeat(t *testing.T) {
	mgr := newTestManager(t)

	node := &types.Node{Name: "worker", Host: "10.0.0.5", Port: 8100}
	require.NoError(t, mgr.CreateNode(node))
	node.Metrics = types.NodeMetrics{CPUPercent: 40, MemoryPercent: 60, RunningTasks: 2}

	require.NoError(t, mgr.RecordHeartbeat(node))

	got, err := mgr.GetNode(node.ID)
	require.NoError(t, err)
	require.NotNil(t, got.LastHeartbeat)

	samples, err := mgr.Store().ListHeartbeatsSince(node.ID, time.Now().Add(-time.Minute))
	require.NoError(t, err)
	require.Len(t, samples, 1)
	assert.Equal(t, 40.0, samples[0].CPUPercent)
	assert.Equal(t, 2, samples[0].RunningTasks)
}

func TestManager_Audit(t *testing.T) {
	mgr := newTestManager(t)

	user := &types.User{Username: "alice"}
	require.NoError(t, mgr.CreateUser(user))

	mgr.Audit(context.Background(), user, "project.create", "prj-1", "created scraper")
	mgr.Audit(context.Background(), nil, "system.recover", "", "")

	entries, err := mgr.Store().ListAuditLogs(10)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "system.recover", entries[0].Action)
	assert.Equal(t, "project.create", entries[1].Action)
	assert.Equal(t, "alice", entries[1].Username)
}
