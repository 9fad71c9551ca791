package storage

import (
	"testing"
	"time"

	"github.com/antcode-sh/antcode/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *BoltStore {
	t.Helper()
	store, err := NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestBoltStore_UserRoundTrip(t *testing.T) {
	store := newTestStore(t)

	user := &types.User{
		PublicID:  "u-1",
		Username:  "alice",
		Role:      types.UserRoleAdmin,
		APIToken:  "secret-token",
		CreatedAt: time.Now(),
	}
	require.NoError(t, store.CreateUser(user))
	require.NotZero(t, user.ID)

	// Hidden fields must survive the round trip
	got, err := store.GetUser(user.ID)
	require.NoError(t, err)
	assert.Equal(t, user.ID, got.ID)
	assert.Equal(t, "secret-token", got.APIToken)
	assert.Equal(t, "alice", got.Username)

	byName, err := store.GetUserByUsername("alice")
	require.NoError(t, err)
	assert.Equal(t, user.ID, byName.ID)
	assert.Equal(t, "secret-token", byName.APIToken)
}

func TestBoltStore_DuplicateUsername(t *testing.T) {
	store := newTestStore(t)

	require.NoError(t, store.CreateUser(&types.User{PublicID: "u-1", Username: "alice"}))
	err := store.CreateUser(&types.User{PublicID: "u-2", Username: "alice"})
	assert.ErrorIs(t, err, types.ErrConflict)
}

func TestBoltStore_DeleteUserClearsNameIndex(t *testing.T) {
	store := newTestStore(t)

	user := &types.User{PublicID: "u-1", Username: "bob"}
	require.NoError(t, store.CreateUser(user))
	require.NoError(t, store.DeleteUser(user.ID))

	_, err := store.GetUserByUsername("bob")
	assert.ErrorIs(t, err, types.ErrNotFound)

	// The name is free again
	require.NoError(t, store.CreateUser(&types.User{PublicID: "u-2", Username: "bob"}))
}

func TestBoltStore_ProjectRoundTrip(t *testing.T) {
	store := newTestStore(t)

	project := &types.Project{
		PublicID: "prj-1",
		OwnerID:  42,
		Name:     "scraper",
		Type:     types.ProjectTypeRule,
		Rule:     &types.RuleSpec{Engine: "http"},
	}
	require.NoError(t, store.CreateProject(project))
	require.NotZero(t, project.ID)

	got, err := store.GetProject(project.ID)
	require.NoError(t, err)
	assert.Equal(t, uint64(42), got.OwnerID)
	assert.Equal(t, project.ID, got.ID)

	byPublic, err := store.GetProjectByPublicID("prj-1")
	require.NoError(t, err)
	assert.Equal(t, project.ID, byPublic.ID)

	owned, err := store.ListProjectsByOwner(42)
	require.NoError(t, err)
	assert.Len(t, owned, 1)

	owned, err = store.ListProjectsByOwner(7)
	require.NoError(t, err)
	assert.Empty(t, owned)
}

func TestBoltStore_UpdateMissingProject(t *testing.T) {
	store := newTestStore(t)
	err := store.UpdateProject(&types.Project{ID: 99, PublicID: "prj-x"})
	assert.ErrorIs(t, err, types.ErrNotFound)
}

func TestBoltStore_TaskRoundTrip(t *testing.T) {
	store := newTestStore(t)

	task := &types.ScheduledTask{
		PublicID:     "task-1",
		UserID:       5,
		ProjectID:    9,
		Name:         "nightly",
		ScheduleKind: types.ScheduleCron,
		CronExpr:     "0 0 3 * * *",
		IsActive:     true,
	}
	require.NoError(t, store.CreateTask(task))
	require.NotZero(t, task.ID)

	got, err := store.GetTaskByPublicID("task-1")
	require.NoError(t, err)
	assert.Equal(t, task.ID, got.ID)
	assert.Equal(t, uint64(5), got.UserID)
	assert.Equal(t, uint64(9), got.ProjectID)

	byProject, err := store.ListTasksByProject(9)
	require.NoError(t, err)
	assert.Len(t, byProject, 1)
}

func TestBoltStore_ExecutionsByTask(t *testing.T) {
	store := newTestStore(t)

	for _, id := range []string{"exec-a", "exec-b"} {
		require.NoError(t, store.CreateExecution(&types.TaskExecution{
			ID:           id,
			TaskID:       3,
			TaskPublicID: "task-3",
			State:        types.ExecutionPending,
			StartTime:    time.Now(),
		}))
	}
	require.NoError(t, store.CreateExecution(&types.TaskExecution{
		ID:        "exec-other",
		TaskID:    4,
		State:     types.ExecutionPending,
		StartTime: time.Now(),
	}))

	executions, err := store.ListExecutionsByTask(3)
	require.NoError(t, err)
	assert.Len(t, executions, 2)
	for _, e := range executions {
		assert.Equal(t, uint64(3), e.TaskID)
	}

	pending, err := store.ListExecutionsByState(types.ExecutionPending)
	require.NoError(t, err)
	assert.Len(t, pending, 3)

	require.NoError(t, store.DeleteExecution("exec-a"))
	executions, err = store.ListExecutionsByTask(3)
	require.NoError(t, err)
	assert.Len(t, executions, 1)
}

func TestBoltStore_NodeCredentialsPersist(t *testing.T) {
	store := newTestStore(t)

	node := &types.Node{
		ID:        "node-1",
		Name:      "worker",
		Host:      "10.0.0.5",
		Port:      8100,
		Status:    types.NodeOffline,
		APIKey:    "api-key",
		SecretKey: "secret-key",
	}
	require.NoError(t, store.CreateNode(node))

	got, err := store.GetNode("node-1")
	require.NoError(t, err)
	assert.Equal(t, "api-key", got.APIKey)
	assert.Equal(t, "secret-key", got.SecretKey)

	// Upsert keeps the same record
	got.Status = types.NodeOnline
	require.NoError(t, store.UpdateNode(got))
	nodes, err := store.ListNodes()
	require.NoError(t, err)
	require.Len(t, nodes, 1)
	assert.Equal(t, types.NodeOnline, nodes[0].Status)
}

func TestBoltStore_HeartbeatHistory(t *testing.T) {
	store := newTestStore(t)

	base := time.Now().Add(-2 * time.Hour)
	for i := 0; i < 4; i++ {
		require.NoError(t, store.AppendHeartbeat(&types.NodeHeartbeat{
			NodeID:    "node-1",
			Timestamp: base.Add(time.Duration(i) * 30 * time.Minute),
		}))
	}
	require.NoError(t, store.AppendHeartbeat(&types.NodeHeartbeat{
		NodeID:    "node-2",
		Timestamp: time.Now(),
	}))

	samples, err := store.ListHeartbeatsSince("node-1", base.Add(45*time.Minute))
	require.NoError(t, err)
	assert.Len(t, samples, 2)

	pruned, err := store.PruneHeartbeatsBefore(base.Add(45 * time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 2, pruned)
}

func TestBoltStore_NodeProjects(t *testing.T) {
	store := newTestStore(t)

	np := &types.NodeProject{
		NodeID:          "node-1",
		ProjectPublicID: "prj-1",
		FileHash:        "abc",
		Status:          types.SyncSynced,
		TransferMethod:  types.TransferOriginal,
		SyncCount:       1,
	}
	require.NoError(t, store.UpsertNodeProject(np))

	got, err := store.GetNodeProject("node-1", "prj-1")
	require.NoError(t, err)
	assert.Equal(t, "abc", got.FileHash)

	np.SyncCount = 2
	require.NoError(t, store.UpsertNodeProject(np))
	got, _ = store.GetNodeProject("node-1", "prj-1")
	assert.Equal(t, 2, got.SyncCount)

	require.NoError(t, store.UpsertNodeProject(&types.NodeProject{
		NodeID: "node-2", ProjectPublicID: "prj-1", Status: types.SyncSynced,
	}))
	require.NoError(t, store.DeleteNodeProjectsByProject("prj-1"))

	_, err = store.GetNodeProject("node-1", "prj-1")
	assert.ErrorIs(t, err, types.ErrNotFound)
	_, err = store.GetNodeProject("node-2", "prj-1")
	assert.ErrorIs(t, err, types.ErrNotFound)
}

func TestBoltStore_NodeProjectFiles(t *testing.T) {
	store := newTestStore(t)

	files := []*types.NodeProjectFile{
		{NodeID: "node-1", ProjectPublicID: "prj-1", Path: "main.py", Hash: "h1"},
		{NodeID: "node-1", ProjectPublicID: "prj-1", Path: "util.py", Hash: "h2"},
	}
	require.NoError(t, store.PutNodeProjectFiles("node-1", "prj-1", files))

	got, err := store.ListNodeProjectFiles("node-1", "prj-1")
	require.NoError(t, err)
	assert.Len(t, got, 2)

	// Absent records read as empty, not an error
	got, err = store.ListNodeProjectFiles("node-9", "prj-1")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestBoltStore_Permissions(t *testing.T) {
	store := newTestStore(t)

	require.NoError(t, store.GrantNodePermission(&types.UserNodePermission{
		UserID: 7, NodeID: "node-1", CreatedAt: time.Now(),
	}))

	ok, err := store.HasNodePermission(7, "node-1")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, _ = store.HasNodePermission(8, "node-1")
	assert.False(t, ok)

	require.NoError(t, store.DeleteNodePermissionsByNode("node-1"))
	ok, _ = store.HasNodePermission(7, "node-1")
	assert.False(t, ok)
}

func TestBoltStore_InstallKeys(t *testing.T) {
	store := newTestStore(t)

	now := time.Now()
	require.NoError(t, store.PutInstallKey(&types.InstallKey{
		Key: "fresh", CreatedBy: 1, ExpiresAt: now.Add(time.Hour), CreatedAt: now,
	}))
	require.NoError(t, store.PutInstallKey(&types.InstallKey{
		Key: "stale", CreatedBy: 1, ExpiresAt: now.Add(-time.Hour), CreatedAt: now,
	}))
	require.NoError(t, store.PutInstallKey(&types.InstallKey{
		Key: "claimed-stale", CreatedBy: 1, Claimed: true, ExpiresAt: now.Add(-time.Hour), CreatedAt: now,
	}))

	got, err := store.GetInstallKey("fresh")
	require.NoError(t, err)
	assert.Equal(t, uint64(1), got.CreatedBy)

	// Claimed keys are kept for re-issue even after expiry
	deleted, err := store.DeleteExpiredInstallKeys(now)
	require.NoError(t, err)
	assert.Equal(t, 1, deleted)

	_, err = store.GetInstallKey("stale")
	assert.ErrorIs(t, err, types.ErrNotFound)
	_, err = store.GetInstallKey("claimed-stale")
	require.NoError(t, err)
}

func TestBoltStore_AuditLogsNewestFirst(t *testing.T) {
	store := newTestStore(t)

	for _, action := range []string{"first", "second", "third"} {
		require.NoError(t, store.AppendAuditLog(&types.AuditLog{
			UserID: 1, Username: "alice", Action: action, Timestamp: time.Now(),
		}))
	}

	entries, err := store.ListAuditLogs(2)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "third", entries[0].Action)
	assert.Equal(t, "second", entries[1].Action)
	assert.Equal(t, uint64(1), entries[0].UserID)
}
