package checkpoint

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/antcode-sh/antcode/pkg/events"
	"github.com/antcode-sh/antcode/pkg/log"
	"github.com/antcode-sh/antcode/pkg/manager"
	"github.com/antcode-sh/antcode/pkg/metrics"
	"github.com/antcode-sh/antcode/pkg/types"
	"github.com/rs/zerolog"
)

const (
	// staleAfter is how long an in-flight execution may go without a
	// heartbeat before recovery considers it interrupted
	staleAfter = 2 * time.Minute
	// sweepInterval drives the periodic recovery pass between restarts
	sweepInterval = time.Minute
	// cacheTTL bounds the fast-path checkpoint copy; the execution
	// record keeps the authoritative one
	cacheTTL = 24 * time.Hour
	// maxRecoveries caps automatic resume attempts per task lineage
	maxRecoveries = 3
)

// TriggerFunc launches a fresh execution of a task with extra execution
// params. The scheduler provides it at wiring time.
type TriggerFunc func(ctx context.Context, taskID uint64, params map[string]any) (string, error)

// Service persists execution checkpoints and re-queues interrupted work
type Service struct {
	manager *manager.Manager
	trigger TriggerFunc
	logger  zerolog.Logger

	// recovering serialises sweeps so startup and the periodic pass
	// never double-recover the same execution
	recovering sync.Mutex

	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewService creates a checkpoint service. SetTrigger must be called
// before Start.
func NewService(mgr *manager.Manager) *Service {
	return &Service{
		manager: mgr,
		logger:  log.WithComponent("checkpoint"),
		stopCh:  make(chan struct{}),
	}
}

// SetTrigger wires the scheduler's re-queue entry point
func (s *Service) SetTrigger(trigger TriggerFunc) {
	s.trigger = trigger
}

// Start runs the periodic recovery sweep
func (s *Service) Start() {
	go s.run()
}

// Stop stops the sweep loop
func (s *Service) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
}

func (s *Service) run() {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), sweepInterval)
			if _, err := s.Recover(ctx); err != nil {
				s.logger.Error().Err(err).Msg("recovery sweep failed")
			}
			cancel()
		case <-s.stopCh:
			return
		}
	}
}

func cacheKey(executionID string) string {
	return "checkpoint:" + executionID
}

// Save persists a checkpoint. The execution's result_data holds the
// authoritative copy; the cache entry only accelerates reads.
func (s *Service) Save(ctx context.Context, cp *types.Checkpoint) error {
	execution, err := s.manager.GetExecution(cp.ExecutionID)
	if err != nil {
		return err
	}
	cp.TaskID = execution.TaskID
	cp.RetryCount = execution.RetryCount
	cp.StartedAt = execution.StartTime
	cp.LastCheckpointAt = time.Now()
	if cp.State == "" {
		cp.State = execution.State
	}

	if execution.ResultData == nil {
		execution.ResultData = make(map[string]any)
	}
	execution.ResultData["checkpoint"] = cp
	if err := s.manager.UpdateExecution(execution); err != nil {
		return err
	}

	payload, err := json.Marshal(cp)
	if err != nil {
		return err
	}
	if err := s.manager.Cache().Set(ctx, cacheKey(cp.ExecutionID), payload, cacheTTL); err != nil {
		// The durable copy is already written
		s.logger.Warn().Err(err).Str("execution_id", cp.ExecutionID).Msg("checkpoint cache write failed")
	}
	return nil
}

// Get loads a checkpoint, cache first, falling back to the execution
// record
func (s *Service) Get(ctx context.Context, executionID string) (*types.Checkpoint, error) {
	if payload, ok, err := s.manager.Cache().Get(ctx, cacheKey(executionID)); err == nil && ok {
		var cp types.Checkpoint
		if err := json.Unmarshal(payload, &cp); err == nil {
			return &cp, nil
		}
	}

	execution, err := s.manager.GetExecution(executionID)
	if err != nil {
		return nil, err
	}
	return checkpointFromExecution(execution)
}

// checkpointFromExecution extracts the authoritative checkpoint copy.
// result_data round-trips through JSON, so the stored checkpoint may be
// a map rather than the struct.
func checkpointFromExecution(execution *types.TaskExecution) (*types.Checkpoint, error) {
	raw, ok := execution.ResultData["checkpoint"]
	if !ok {
		return nil, types.ErrNotFound
	}
	payload, err := json.Marshal(raw)
	if err != nil {
		return nil, err
	}
	var cp types.Checkpoint
	if err := json.Unmarshal(payload, &cp); err != nil {
		return nil, err
	}
	return &cp, nil
}

// ReportHeartbeat stamps an execution's liveness. Workers call this via
// the report API while a task runs.
func (s *Service) ReportHeartbeat(executionID string) error {
	execution, err := s.manager.GetExecution(executionID)
	if err != nil {
		return err
	}
	now := time.Now()
	execution.LastHeartbeat = &now
	if execution.State == types.ExecutionQueued || execution.State == types.ExecutionDispatching {
		execution.State = types.ExecutionRunning
	}
	return s.manager.UpdateExecution(execution)
}

// UpdateProgress is the worker-facing progress report; it folds into a
// checkpoint save plus a heartbeat
func (s *Service) UpdateProgress(ctx context.Context, executionID string, progress float64, logOffset int64, data map[string]any) error {
	if err := s.ReportHeartbeat(executionID); err != nil {
		return err
	}
	return s.Save(ctx, &types.Checkpoint{
		ExecutionID:   executionID,
		Progress:      progress,
		LastLogOffset: logOffset,
		Data:          data,
	})
}

// FindInterrupted returns in-flight executions whose heartbeat went
// stale. Executions that never heartbeat are judged by start time.
func (s *Service) FindInterrupted() ([]*types.TaskExecution, error) {
	var interrupted []*types.TaskExecution
	cutoff := time.Now().Add(-staleAfter)

	for _, state := range []types.ExecutionState{types.ExecutionRunning, types.ExecutionDispatching, types.ExecutionQueued} {
		executions, err := s.manager.Store().ListExecutionsByState(state)
		if err != nil {
			return nil, err
		}
		for _, execution := range executions {
			last := execution.StartTime
			if execution.LastHeartbeat != nil {
				last = *execution.LastHeartbeat
			}
			if last.Before(cutoff) {
				interrupted = append(interrupted, execution)
			}
		}
	}
	return interrupted, nil
}

// Recover finds interrupted executions and re-queues each from its last
// checkpoint. Lineages past the recovery budget are marked failed
// instead. Returns the number of executions re-queued.
func (s *Service) Recover(ctx context.Context) (int, error) {
	s.recovering.Lock()
	defer s.recovering.Unlock()

	interrupted, err := s.FindInterrupted()
	if err != nil {
		return 0, err
	}

	recovered := 0
	for _, execution := range interrupted {
		if err := s.recoverOne(ctx, execution); err != nil {
			s.logger.Error().Err(err).Str("execution_id", execution.ID).Msg("recovery failed")
			continue
		}
		recovered++
	}
	if recovered > 0 {
		s.logger.Info().Int("recovered", recovered).Msg("interrupted executions re-queued")
	}
	return recovered, nil
}

func (s *Service) recoverOne(ctx context.Context, execution *types.TaskExecution) error {
	task, err := s.manager.GetTask(execution.TaskID)
	if types.IsNotFound(err) {
		// Orphaned by a task deletion; nothing left to resume into
		return s.manager.FinishExecution(execution, types.ExecutionFailed, "task deleted")
	} else if err != nil {
		return err
	}

	if execution.RetryCount >= maxRecoveries {
		s.logger.Warn().Str("execution_id", execution.ID).Int("retry_count", execution.RetryCount).Msg("recovery retry limit reached")
		if err := s.manager.Cache().Delete(ctx, cacheKey(execution.ID)); err != nil {
			s.logger.Warn().Err(err).Str("execution_id", execution.ID).Msg("checkpoint cache delete failed")
		}
		return s.manager.FinishExecution(execution, types.ExecutionFailed, "recovery retry limit")
	}

	params := map[string]any{
		"_resume":                true,
		"_previous_execution_id": execution.ID,
		"_retry_count":           execution.RetryCount + 1,
	}
	if cp, err := checkpointFromExecution(execution); err == nil {
		params["_checkpoint"] = cp.Data
		params["_progress"] = cp.Progress
		params["_last_log_offset"] = cp.LastLogOffset
	}

	// The old record goes terminal first so a crash mid-recovery cannot
	// spawn two successors
	if err := s.manager.FinishExecution(execution, types.ExecutionFailed, "interrupted, rescheduled"); err != nil {
		return err
	}

	// The crash also left the task frozen in its last in-flight state,
	// which the re-entry guard would read as a live run
	if task.Busy() {
		task.CurrentState = types.ExecutionFailed
		if err := s.manager.UpdateTask(task); err != nil {
			return err
		}
	}

	if s.trigger == nil {
		return types.ErrValidation
	}
	newID, err := s.trigger(ctx, execution.TaskID, params)
	if err != nil {
		return err
	}
	metrics.ExecutionsRecovered.Inc()
	s.manager.Events().Publish(&events.Event{
		Type:        events.EventExecutionRecovered,
		TaskID:      execution.TaskPublicID,
		ExecutionID: execution.ID,
		Message:     newID,
	})
	s.logger.Info().
		Str("execution_id", execution.ID).
		Str("successor", newID).
		Msg("execution recovered from checkpoint")
	return nil
}
