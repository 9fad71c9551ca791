package checkpoint

import (
	"context"
	"testing"
	"time"

	"github.com/antcode-sh/antcode/pkg/cache"
	"github.com/antcode-sh/antcode/pkg/manager"
	"github.com/antcode-sh/antcode/pkg/queue"
	"github.com/antcode-sh/antcode/pkg/scheduler"
	"github.com/antcode-sh/antcode/pkg/storage"
	"github.com/antcode-sh/antcode/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestService(t *testing.T) (*Service, *manager.Manager) {
	t.Helper()
	store, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	mgr := manager.NewManagerWithStore(store, cache.NewMemoryCache(1000))
	t.Cleanup(func() { mgr.Shutdown() })
	return NewService(mgr), mgr
}

func createTask(t *testing.T, mgr *manager.Manager, name string) *types.ScheduledTask {
	t.Helper()
	task := &types.ScheduledTask{Name: name, ScheduleKind: types.ScheduleOnce, IsActive: true}
	require.NoError(t, mgr.CreateTask(task))
	return task
}

func runningExecution(t *testing.T, mgr *manager.Manager, taskID uint64, startedAgo time.Duration) *types.TaskExecution {
	t.Helper()
	execution := &types.TaskExecution{
		TaskID:       taskID,
		TaskPublicID: "task-pub",
		State:        types.ExecutionRunning,
		StartTime:    time.Now().Add(-startedAgo),
	}
	require.NoError(t, mgr.CreateExecution(execution))
	return execution
}

func TestService_SaveAndGet(t *testing.T) {
	svc, mgr := newTestService(t)
	ctx := context.Background()
	execution := runningExecution(t, mgr, 7, time.Minute)

	cp := &types.Checkpoint{
		ExecutionID:   execution.ID,
		Progress:      0.4,
		LastLogOffset: 1024,
		Data:          map[string]any{"cursor": "page-3"},
	}
	require.NoError(t, svc.Save(ctx, cp))
	assert.Equal(t, uint64(7), cp.TaskID)
	assert.False(t, cp.LastCheckpointAt.IsZero())

	got, err := svc.Get(ctx, execution.ID)
	require.NoError(t, err)
	assert.Equal(t, 0.4, got.Progress)
	assert.Equal(t, int64(1024), got.LastLogOffset)
	assert.Equal(t, "page-3", got.Data["cursor"])
}

func TestService_GetFallsBackToExecutionRecord(t *testing.T) {
	svc, mgr := newTestService(t)
	ctx := context.Background()
	execution := runningExecution(t, mgr, 7, time.Minute)

	require.NoError(t, svc.Save(ctx, &types.Checkpoint{ExecutionID: execution.ID, Progress: 0.8}))

	// Drop the cache copy; the execution record still serves reads
	require.NoError(t, mgr.Cache().Delete(ctx, "checkpoint:"+execution.ID))

	got, err := svc.Get(ctx, execution.ID)
	require.NoError(t, err)
	assert.Equal(t, 0.8, got.Progress)
}

func TestService_GetMissing(t *testing.T) {
	svc, mgr := newTestService(t)
	ctx := context.Background()

	_, err := svc.Get(ctx, "no-such-execution")
	assert.ErrorIs(t, err, types.ErrNotFound)

	// An execution without a saved checkpoint also reads as not found
	execution := runningExecution(t, mgr, 1, time.Minute)
	_, err = svc.Get(ctx, execution.ID)
	assert.ErrorIs(t, err, types.ErrNotFound)
}

func TestService_ReportHeartbeat(t *testing.T) {
	svc, mgr := newTestService(t)

	execution := &types.TaskExecution{
		TaskID:    1,
		State:     types.ExecutionQueued,
		StartTime: time.Now(),
	}
	require.NoError(t, mgr.CreateExecution(execution))

	require.NoError(t, svc.ReportHeartbeat(execution.ID))

	got, err := mgr.GetExecution(execution.ID)
	require.NoError(t, err)
	require.NotNil(t, got.LastHeartbeat)
	// A heartbeat proves the worker picked the task up
	assert.Equal(t, types.ExecutionRunning, got.State)
}

func TestService_FindInterrupted(t *testing.T) {
	svc, mgr := newTestService(t)

	stale := runningExecution(t, mgr, 1, 10*time.Minute)
	fresh := runningExecution(t, mgr, 2, 10*time.Minute)
	now := time.Now()
	fresh.LastHeartbeat = &now
	require.NoError(t, mgr.UpdateExecution(fresh))
	runningExecution(t, mgr, 3, 30*time.Second) // recently started

	// Terminal states are never candidates
	done := runningExecution(t, mgr, 4, 10*time.Minute)
	require.NoError(t, mgr.FinishExecution(done, types.ExecutionSuccess, ""))

	interrupted, err := svc.FindInterrupted()
	require.NoError(t, err)
	require.Len(t, interrupted, 1)
	assert.Equal(t, stale.ID, interrupted[0].ID)
}

func TestService_RecoverRequeuesFromCheckpoint(t *testing.T) {
	svc, mgr := newTestService(t)
	ctx := context.Background()

	task := createTask(t, mgr, "resumable")
	execution := runningExecution(t, mgr, task.ID, 10*time.Minute)
	require.NoError(t, svc.Save(ctx, &types.Checkpoint{
		ExecutionID: execution.ID,
		Progress:    0.6,
		Data:        map[string]any{"cursor": "page-9"},
	}))

	var gotTask uint64
	var gotParams map[string]any
	svc.SetTrigger(func(ctx context.Context, taskID uint64, params map[string]any) (string, error) {
		gotTask = taskID
		gotParams = params
		return "successor-id", nil
	})

	recovered, err := svc.Recover(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, recovered)
	assert.Equal(t, task.ID, gotTask)
	assert.Equal(t, true, gotParams["_resume"])
	assert.Equal(t, execution.ID, gotParams["_previous_execution_id"])
	assert.Equal(t, 0.6, gotParams["_progress"])
	assert.Equal(t, 1, gotParams["_retry_count"])

	// The interrupted attempt is closed out, not left dangling
	got, err := mgr.GetExecution(execution.ID)
	require.NoError(t, err)
	assert.Equal(t, types.ExecutionFailed, got.State)
	assert.Equal(t, "interrupted, rescheduled", got.ErrorMessage)

	// A second sweep finds nothing left
	recovered, err = svc.Recover(ctx)
	require.NoError(t, err)
	assert.Zero(t, recovered)
}

func TestService_RecoveryBudgetExhausted(t *testing.T) {
	svc, mgr := newTestService(t)
	ctx := context.Background()

	task := createTask(t, mgr, "exhausted")
	execution := runningExecution(t, mgr, task.ID, 10*time.Minute)
	require.NoError(t, svc.Save(ctx, &types.Checkpoint{ExecutionID: execution.ID, Progress: 0.9}))
	execution.RetryCount = maxRecoveries
	require.NoError(t, mgr.UpdateExecution(execution))

	triggered := false
	svc.SetTrigger(func(ctx context.Context, taskID uint64, params map[string]any) (string, error) {
		triggered = true
		return "", nil
	})

	recovered, err := svc.Recover(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, recovered)
	assert.False(t, triggered)

	got, err := mgr.GetExecution(execution.ID)
	require.NoError(t, err)
	assert.Equal(t, types.ExecutionFailed, got.State)
	assert.Contains(t, got.ErrorMessage, "retry limit")

	// The fast-path checkpoint copy is dropped with the lineage
	_, ok, err := mgr.Cache().Get(ctx, "checkpoint:"+execution.ID)
	require.NoError(t, err)
	assert.False(t, ok)
}

// The full restart path: a crash leaves the task frozen in dispatching
// and its execution without heartbeats. Recovery must close the old
// attempt and restart through the scheduler's own trigger, re-entry
// guard included.
func TestService_RecoverRestartsThroughScheduler(t *testing.T) {
	svc, mgr := newTestService(t)
	ctx := context.Background()

	project := &types.Project{
		Name: "scraper",
		Type: types.ProjectTypeRule,
		Rule: &types.RuleSpec{Engine: "http"},
	}
	require.NoError(t, mgr.CreateProject(project))
	task := &types.ScheduledTask{
		ProjectID:    project.ID,
		Name:         "nightly",
		ScheduleKind: types.ScheduleCron,
		CronExpr:     "0 0 3 * * *",
		IsActive:     true,
	}
	require.NoError(t, mgr.CreateTask(task))
	task.CurrentState = types.ExecutionDispatching
	require.NoError(t, mgr.UpdateTask(task))

	execution := runningExecution(t, mgr, task.ID, 10*time.Minute)
	require.NoError(t, svc.Save(ctx, &types.Checkpoint{ExecutionID: execution.ID, Progress: 0.5}))

	backend := queue.NewMemoryBackend()
	t.Cleanup(func() { backend.Close() })
	sched := scheduler.NewScheduler(mgr, backend, nil, nil, nil, scheduler.Config{})
	svc.SetTrigger(sched.Trigger)

	recovered, err := svc.Recover(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, recovered)

	executions, err := mgr.ListExecutionsByTask(task.ID)
	require.NoError(t, err)
	require.Len(t, executions, 2)
	var successor *types.TaskExecution
	for _, e := range executions {
		if e.ID != execution.ID {
			successor = e
		}
	}
	require.NotNil(t, successor)
	assert.Equal(t, 1, successor.RetryCount)
	params, _ := successor.ResultData["params"].(map[string]any)
	require.NotNil(t, params)
	assert.Equal(t, true, params["_resume"])
	assert.Equal(t, execution.ID, params["_previous_execution_id"])

	previous, err := mgr.GetExecution(execution.ID)
	require.NoError(t, err)
	assert.Equal(t, types.ExecutionFailed, previous.State)
	assert.Equal(t, "interrupted, rescheduled", previous.ErrorMessage)

	// The trigger re-armed the task rather than skipping it as busy
	got, err := mgr.GetTask(task.ID)
	require.NoError(t, err)
	assert.Equal(t, types.ExecutionDispatching, got.CurrentState)
	queued, err := backend.Contains(ctx, task.PublicID)
	require.NoError(t, err)
	assert.True(t, queued)
}

func TestService_RecoverOrphanedExecution(t *testing.T) {
	svc, mgr := newTestService(t)
	ctx := context.Background()

	// The execution's task no longer exists
	execution := runningExecution(t, mgr, 404, 10*time.Minute)

	triggered := false
	svc.SetTrigger(func(ctx context.Context, taskID uint64, params map[string]any) (string, error) {
		triggered = true
		return "", nil
	})

	recovered, err := svc.Recover(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, recovered)
	assert.False(t, triggered)

	got, err := mgr.GetExecution(execution.ID)
	require.NoError(t, err)
	assert.Equal(t, types.ExecutionFailed, got.State)
	assert.Equal(t, "task deleted", got.ErrorMessage)
}
