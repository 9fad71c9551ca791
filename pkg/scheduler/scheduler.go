package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/antcode-sh/antcode/pkg/dispatch"
	"github.com/antcode-sh/antcode/pkg/events"
	"github.com/antcode-sh/antcode/pkg/executor"
	"github.com/antcode-sh/antcode/pkg/log"
	"github.com/antcode-sh/antcode/pkg/manager"
	"github.com/antcode-sh/antcode/pkg/metrics"
	"github.com/antcode-sh/antcode/pkg/queue"
	"github.com/antcode-sh/antcode/pkg/strategy"
	"github.com/antcode-sh/antcode/pkg/types"
	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

const (
	defaultWorkers       = 4
	defaultBatchSize     = 8
	defaultMaxConcurrent = 16
	// drainWindow is how long a dispatch worker tops up a batch after
	// the first dequeue
	drainWindow = 100 * time.Millisecond
	// dequeueWait bounds one blocking dequeue so shutdown stays prompt
	dequeueWait = 2 * time.Second
)

// Config tunes the scheduler
type Config struct {
	Workers   int
	BatchSize int
	// MaxConcurrent bounds executions running on the master itself
	MaxConcurrent int
}

// queuePayload is the Data field of a queued task
type queuePayload struct {
	ExecutionID string `json:"execution_id"`
}

// Scheduler owns the trigger wheel and the dispatch pipeline. Triggers
// enqueue executions into the central priority queue; dispatch workers
// drain it, resolve placement and push batches to nodes.
type Scheduler struct {
	manager    *manager.Manager
	queue      queue.Backend
	resolver   *strategy.Resolver
	dispatcher *dispatch.Dispatcher
	executor   executor.Executor
	policy     RetryPolicy
	logger     zerolog.Logger

	cron *cron.Cron

	mu      sync.Mutex
	entries map[uint64]cron.EntryID
	// timers holds one-shot date triggers and pending retries
	timers map[string]*time.Timer
	// pending marks executions handed to a dispatch worker, so the
	// recovery sweep and the queue never race over them
	pending map[string]bool
	// compensations run at most once per execution on final failure
	compensations map[string]CompensationFunc
	compensated   map[string]bool

	workers   int
	batchSize int
	// sem caps concurrent local executions process-wide
	sem chan struct{}

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// CompensationFunc undoes side effects of a task whose retries are
// exhausted. Tasks opt in via the "compensation" execution param.
type CompensationFunc func(ctx context.Context, task *types.ScheduledTask, execution *types.TaskExecution)

// NewScheduler wires the scheduler. The cron wheel uses a seconds
// field, matching the task cron syntax.
func NewScheduler(mgr *manager.Manager, backend queue.Backend, resolver *strategy.Resolver, dispatcher *dispatch.Dispatcher, localExec executor.Executor, cfg Config) *Scheduler {
	workers := cfg.Workers
	if workers <= 0 {
		workers = defaultWorkers
	}
	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	maxConcurrent := cfg.MaxConcurrent
	if maxConcurrent <= 0 {
		maxConcurrent = defaultMaxConcurrent
	}
	return &Scheduler{
		manager:       mgr,
		queue:         backend,
		resolver:      resolver,
		dispatcher:    dispatcher,
		executor:      localExec,
		policy:        DefaultRetryPolicy(),
		logger:        log.WithComponent("scheduler"),
		cron:          cron.New(cron.WithSeconds()),
		entries:       make(map[uint64]cron.EntryID),
		timers:        make(map[string]*time.Timer),
		pending:       make(map[string]bool),
		compensations: make(map[string]CompensationFunc),
		compensated:   make(map[string]bool),
		workers:       workers,
		batchSize:     batchSize,
		sem:           make(chan struct{}, maxConcurrent),
		stopCh:        make(chan struct{}),
	}
}

// SetRetryPolicy replaces the default exponential policy
func (s *Scheduler) SetRetryPolicy(policy RetryPolicy) {
	s.policy = policy
}

// RegisterCompensation installs a compensation hook under a name
func (s *Scheduler) RegisterCompensation(name string, fn CompensationFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.compensations[name] = fn
}

// Start loads active tasks into the trigger wheel, starts the cron loop
// and the dispatch workers, and registers the maintenance jobs
func (s *Scheduler) Start() error {
	tasks, err := s.manager.ListTasks()
	if err != nil {
		return err
	}
	registered := 0
	for _, task := range tasks {
		if !task.IsActive {
			continue
		}
		if err := s.ScheduleTask(task); err != nil {
			s.logger.Error().Err(err).Str("task_id", task.PublicID).Msg("trigger registration failed")
			continue
		}
		registered++
	}

	s.registerMaintenance()
	s.cron.Start()

	for i := 0; i < s.workers; i++ {
		s.wg.Add(1)
		go s.dispatchLoop()
	}
	s.logger.Info().Int("tasks", registered).Int("workers", s.workers).Msg("scheduler started")
	return nil
}

// Stop halts triggers and waits for in-flight dispatch work
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopCh)
		ctx := s.cron.Stop()
		<-ctx.Done()
		s.mu.Lock()
		for _, timer := range s.timers {
			timer.Stop()
		}
		s.mu.Unlock()
	})
	s.wg.Wait()
}

// ScheduleTask registers or replaces a task's trigger
func (s *Scheduler) ScheduleTask(task *types.ScheduledTask) error {
	s.UnscheduleTask(task.ID)

	switch task.ScheduleKind {
	case types.ScheduleCron:
		return s.addCronEntry(task, task.CronExpr)

	case types.ScheduleInterval:
		if task.IntervalSeconds <= 0 {
			return fmt.Errorf("%w: interval must be positive", types.ErrValidation)
		}
		return s.addCronEntry(task, fmt.Sprintf("@every %ds", task.IntervalSeconds))

	case types.ScheduleDate, types.ScheduleOnce:
		if task.RunAt == nil {
			return fmt.Errorf("%w: date schedule needs run_at", types.ErrValidation)
		}
		delay := time.Until(*task.RunAt)
		if delay < 0 {
			// A past run_at fires immediately rather than silently never
			delay = 0
		}
		taskID := task.ID
		key := fmt.Sprintf("once:%d", taskID)
		s.mu.Lock()
		s.timers[key] = time.AfterFunc(delay, func() {
			s.mu.Lock()
			delete(s.timers, key)
			s.mu.Unlock()
			s.fire(taskID)
			s.deactivateOnce(taskID)
		})
		s.mu.Unlock()
		next := time.Now().Add(delay)
		s.updateNextRun(task, &next)
		return nil

	default:
		return fmt.Errorf("%w: unknown schedule kind %q", types.ErrValidation, task.ScheduleKind)
	}
}

func (s *Scheduler) addCronEntry(task *types.ScheduledTask, spec string) error {
	taskID := task.ID
	entryID, err := s.cron.AddFunc(spec, func() { s.fire(taskID) })
	if err != nil {
		return fmt.Errorf("%w: %v", types.ErrValidation, err)
	}
	s.mu.Lock()
	s.entries[taskID] = entryID
	s.mu.Unlock()

	next := s.cron.Entry(entryID).Next
	if !next.IsZero() {
		s.updateNextRun(task, &next)
	}
	return nil
}

// UnscheduleTask removes a task's trigger and any pending retries
func (s *Scheduler) UnscheduleTask(taskID uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if entryID, ok := s.entries[taskID]; ok {
		s.cron.Remove(entryID)
		delete(s.entries, taskID)
	}
	onceKey := fmt.Sprintf("once:%d", taskID)
	retryPrefix := fmt.Sprintf("retry:%d:", taskID)
	for key, timer := range s.timers {
		if key == onceKey || strings.HasPrefix(key, retryPrefix) {
			timer.Stop()
			delete(s.timers, key)
		}
	}
}

func (s *Scheduler) updateNextRun(task *types.ScheduledTask, next *time.Time) {
	task.NextRunTime = next
	if err := s.manager.UpdateTask(task); err != nil {
		s.logger.Warn().Err(err).Str("task_id", task.PublicID).Msg("next run bookkeeping failed")
	}
}

// deactivateOnce flips a one-shot task inactive after it fired
func (s *Scheduler) deactivateOnce(taskID uint64) {
	task, err := s.manager.GetTask(taskID)
	if err != nil {
		return
	}
	task.IsActive = false
	task.NextRunTime = nil
	if err := s.manager.UpdateTask(task); err != nil {
		s.logger.Warn().Err(err).Str("task_id", task.PublicID).Msg("one-shot deactivation failed")
	}
}

// fire is the trigger callback; errors are logged, never propagated
// into the cron wheel
func (s *Scheduler) fire(taskID uint64) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if _, err := s.Trigger(ctx, taskID, nil); err != nil {
		s.logger.Error().Err(err).Uint64("task", taskID).Msg("trigger failed")
	}
}

// Trigger runs the firing sequence for one task: re-entry guard, fresh
// execution record, enqueue into the central priority queue. Returns
// the new execution id, or empty when the firing was skipped.
func (s *Scheduler) Trigger(ctx context.Context, taskID uint64, params map[string]any) (string, error) {
	task, err := s.manager.GetTask(taskID)
	if err != nil {
		return "", err
	}
	if !task.IsActive {
		return "", nil
	}
	if task.Busy() {
		metrics.TasksSkipped.Inc()
		s.logger.Debug().Str("task_id", task.PublicID).Str("state", string(task.CurrentState)).Msg("firing skipped, task busy")
		return "", nil
	}
	metrics.TasksScheduled.Inc()

	project, err := s.manager.GetProject(task.ProjectID)
	if err != nil {
		return "", err
	}

	execution := &types.TaskExecution{
		ID:           uuid.New().String(),
		TaskID:       task.ID,
		TaskPublicID: task.PublicID,
		State:        types.ExecutionPending,
		StartTime:    time.Now(),
	}
	if n, ok := params["_retry_count"].(int); ok {
		execution.RetryCount = n
		delete(params, "_retry_count")
	}
	if len(params) > 0 {
		execution.ResultData = map[string]any{"params": params}
	}
	if err := s.manager.CreateExecution(execution); err != nil {
		return "", err
	}

	now := time.Now()
	task.LastRunTime = &now
	task.CurrentState = types.ExecutionDispatching
	if err := s.manager.UpdateTask(task); err != nil {
		return "", err
	}
	s.manager.Events().Publish(&events.Event{
		Type:        events.EventExecutionStarted,
		TaskID:      task.PublicID,
		ExecutionID: execution.ID,
	})

	payload, _ := json.Marshal(queuePayload{ExecutionID: execution.ID})
	added, err := s.queue.Enqueue(ctx, task.PublicID, project.PublicID, task.Priority, payload, project.Type)
	if err != nil {
		s.failExecution(task, execution, err)
		return "", err
	}
	if !added {
		// Already queued; the earlier entry wins
		return execution.ID, nil
	}
	metrics.QueueEnqueued.Inc()
	s.manager.Events().Publish(&events.Event{
		Type:        events.EventExecutionQueued,
		TaskID:      task.PublicID,
		ExecutionID: execution.ID,
	})
	return execution.ID, nil
}

// dispatchLoop is one dispatch worker: drain a batch off the queue,
// resolve placement per item, group by node and push
func (s *Scheduler) dispatchLoop() {
	defer s.wg.Done()
	for {
		select {
		case <-s.stopCh:
			return
		default:
		}

		ctx, cancel := context.WithTimeout(context.Background(), dequeueWait+30*time.Second)
		first, err := s.queue.Dequeue(ctx, dequeueWait)
		if err != nil {
			cancel()
			s.logger.Warn().Err(err).Msg("dequeue failed")
			time.Sleep(time.Second)
			continue
		}
		if first == nil {
			cancel()
			continue
		}

		batch := []*types.QueuedTask{first}
		deadline := time.Now().Add(drainWindow)
		for len(batch) < s.batchSize && time.Now().Before(deadline) {
			extra, err := s.queue.Dequeue(ctx, 10*time.Millisecond)
			if err != nil || extra == nil {
				break
			}
			batch = append(batch, extra)
		}
		s.processBatch(ctx, batch)
		cancel()
	}
}

// processBatch resolves each queued task and fans the items out per
// node; local decisions run on the master's executor
func (s *Scheduler) processBatch(ctx context.Context, batch []*types.QueuedTask) {
	perNode := make(map[string][]*dispatch.Item)
	for _, queued := range batch {
		item, decision, err := s.resolveQueued(ctx, queued)
		if err != nil {
			s.logger.Error().Err(err).Str("task_id", queued.TaskID).Msg("placement failed")
			continue
		}
		if item == nil {
			continue
		}
		if decision.Local {
			s.wg.Add(1)
			go func(item *dispatch.Item) {
				defer s.wg.Done()
				select {
				case s.sem <- struct{}{}:
				case <-s.stopCh:
					s.mu.Lock()
					delete(s.pending, item.Execution.ID)
					s.mu.Unlock()
					return
				}
				defer func() { <-s.sem }()
				s.runLocal(item)
			}(item)
			continue
		}
		perNode[decision.Node.ID] = append(perNode[decision.Node.ID], item)
	}

	for nodeID, items := range perNode {
		result, err := s.dispatcher.DispatchBatch(ctx, nodeID, items)
		if err != nil {
			for _, item := range items {
				s.handleDispatchFailure(item, err)
			}
			continue
		}
		for _, item := range items {
			if reason, rejected := result.Rejected[item.Task.PublicID]; rejected {
				s.handleDispatchFailure(item, &types.WorkerRejectedError{NodeID: nodeID, Message: reason})
			}
		}
		s.clearPending(items)
	}
}

// resolveQueued loads the records behind a queue entry and resolves its
// placement. Executions cancelled while queued are dropped here.
func (s *Scheduler) resolveQueued(ctx context.Context, queued *types.QueuedTask) (*dispatch.Item, *strategy.Decision, error) {
	var payload queuePayload
	if err := json.Unmarshal(queued.Data, &payload); err != nil {
		return nil, nil, err
	}
	execution, err := s.manager.GetExecution(payload.ExecutionID)
	if err != nil {
		return nil, nil, err
	}
	if execution.State.Terminal() {
		return nil, nil, nil
	}
	task, err := s.manager.GetTaskByIDOrPublicID(queued.TaskID)
	if err != nil {
		return nil, nil, err
	}
	project, err := s.manager.GetProject(task.ProjectID)
	if err != nil {
		return nil, nil, err
	}

	s.mu.Lock()
	s.pending[execution.ID] = true
	s.mu.Unlock()

	item := &dispatch.Item{Execution: execution, Task: task, Project: project}
	decision, err := s.resolver.Resolve(ctx, task, project)
	if err != nil {
		s.handleDispatchFailure(item, err)
		return nil, nil, err
	}
	return item, decision, nil
}

func (s *Scheduler) clearPending(items []*dispatch.Item) {
	s.mu.Lock()
	for _, item := range items {
		delete(s.pending, item.Execution.ID)
	}
	s.mu.Unlock()
}

// runLocal executes an item on the master under the task timeout
func (s *Scheduler) runLocal(item *dispatch.Item) {
	execution, task := item.Execution, item.Task

	execution.State = types.ExecutionRunning
	if err := s.manager.UpdateExecution(execution); err != nil {
		s.logger.Error().Err(err).Str("execution_id", execution.ID).Msg("running transition write failed")
	}
	s.setTaskState(task, types.ExecutionRunning)

	timeout := time.Duration(task.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = time.Hour
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	result, err := s.executor.Execute(ctx, &executor.Request{
		ExecutionID:     execution.ID,
		Task:            task,
		Project:         item.Project,
		TimeoutSeconds:  task.TimeoutSeconds,
		ExecutionParams: task.ExecutionParams,
		EnvironmentVars: task.EnvironmentVars,
	})

	s.mu.Lock()
	delete(s.pending, execution.ID)
	s.mu.Unlock()

	if err != nil {
		state := types.ExecutionFailed
		var timedOut *types.ExecutionTimeoutError
		if errors.As(err, &timedOut) {
			state = types.ExecutionTimeout
		}
		s.HandleResult(execution.ID, state, nil, err.Error(), nil)
		return
	}
	s.HandleResult(execution.ID, types.ExecutionSuccess, result.ExitCode, "", map[string]any{"output_bytes": len(result.Output)})
}

// HandleResult applies a terminal outcome reported by a worker or the
// local executor: finish the execution, update task counters, and run
// the retry policy on retryable failures
func (s *Scheduler) HandleResult(executionID string, state types.ExecutionState, exitCode *int, errorMessage string, resultData map[string]any) {
	execution, err := s.manager.GetExecution(executionID)
	if err != nil {
		s.logger.Error().Err(err).Str("execution_id", executionID).Msg("result for unknown execution")
		return
	}
	if execution.State.Terminal() {
		// Duplicate report; first writer wins
		return
	}
	execution.ExitCode = exitCode
	for k, v := range resultData {
		if execution.ResultData == nil {
			execution.ResultData = make(map[string]any)
		}
		execution.ResultData[k] = v
	}
	if err := s.manager.FinishExecution(execution, state, errorMessage); err != nil {
		s.logger.Error().Err(err).Str("execution_id", executionID).Msg("finish write failed")
		return
	}
	metrics.ExecutionsFinished.WithLabelValues(string(state)).Inc()

	task, err := s.manager.GetTask(execution.TaskID)
	if err != nil {
		return
	}
	switch state {
	case types.ExecutionSuccess:
		task.SuccessCount++
		s.setTaskState(task, state)
	case types.ExecutionFailed, types.ExecutionTimeout:
		task.FailureCount++
		s.setTaskState(task, state)
		s.maybeRetry(task, execution)
	default:
		s.setTaskState(task, state)
	}
}

func (s *Scheduler) setTaskState(task *types.ScheduledTask, state types.ExecutionState) {
	task.CurrentState = state
	if err := s.manager.UpdateTask(task); err != nil {
		s.logger.Warn().Err(err).Str("task_id", task.PublicID).Msg("task state write failed")
	}
}

// maybeRetry schedules the next attempt under the policy, or runs
// compensation when the budget is spent
func (s *Scheduler) maybeRetry(task *types.ScheduledTask, execution *types.TaskExecution) {
	attempt := execution.RetryCount + 1
	if attempt > task.MaxRetries {
		s.compensate(task, execution)
		return
	}

	base := time.Duration(task.RetryDelaySeconds) * time.Second
	delay := s.policy.Delay(attempt, base)
	key := fmt.Sprintf("retry:%d:%s:%d", task.ID, execution.ID, attempt)
	taskID := task.ID

	s.mu.Lock()
	s.timers[key] = time.AfterFunc(delay, func() {
		s.mu.Lock()
		delete(s.timers, key)
		s.mu.Unlock()

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if _, err := s.Trigger(ctx, taskID, map[string]any{"_retry_count": attempt}); err != nil {
			s.logger.Error().Err(err).Uint64("task", taskID).Int("attempt", attempt).Msg("retry trigger failed")
		}
	})
	s.mu.Unlock()

	s.logger.Info().
		Str("task_id", task.PublicID).
		Str("execution_id", execution.ID).
		Int("attempt", attempt).
		Dur("delay", delay).
		Msg("retry scheduled")
}

// compensate runs the task's registered compensation hook at most once
// per execution
func (s *Scheduler) compensate(task *types.ScheduledTask, execution *types.TaskExecution) {
	name, _ := task.ExecutionParams["compensation"].(string)
	if name == "" {
		return
	}
	s.mu.Lock()
	if s.compensated[execution.ID] {
		s.mu.Unlock()
		return
	}
	s.compensated[execution.ID] = true
	fn := s.compensations[name]
	s.mu.Unlock()
	if fn == nil {
		s.logger.Warn().Str("task_id", task.PublicID).Str("compensation", name).Msg("compensation not registered")
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	fn(ctx, task, execution)
	s.logger.Info().Str("task_id", task.PublicID).Str("execution_id", execution.ID).Str("compensation", name).Msg("compensation ran")
}

// handleDispatchFailure routes an item that never reached a worker into
// the normal failure path, where the retry classification applies
func (s *Scheduler) handleDispatchFailure(item *dispatch.Item, cause error) {
	s.mu.Lock()
	delete(s.pending, item.Execution.ID)
	s.mu.Unlock()

	if !types.IsRetryable(cause) {
		// Force-terminal without a retry: spend the budget before the
		// result handler reloads the record
		item.Execution.RetryCount = item.Task.MaxRetries
		if err := s.manager.UpdateExecution(item.Execution); err != nil {
			s.logger.Warn().Err(err).Str("execution_id", item.Execution.ID).Msg("retry budget write failed")
		}
	}
	s.HandleResult(item.Execution.ID, types.ExecutionFailed, nil, cause.Error(), nil)
}

func (s *Scheduler) failExecution(task *types.ScheduledTask, execution *types.TaskExecution, cause error) {
	if err := s.manager.FinishExecution(execution, types.ExecutionFailed, cause.Error()); err != nil {
		s.logger.Error().Err(err).Str("execution_id", execution.ID).Msg("failure write failed")
	}
	task.FailureCount++
	s.setTaskState(task, types.ExecutionFailed)
	s.maybeRetry(task, execution)
}

// registerMaintenance installs the housekeeping jobs on the same wheel
func (s *Scheduler) registerMaintenance() {
	// Heartbeat history older than a week is noise
	s.cron.AddFunc("0 0 3 * * *", func() {
		cutoff := time.Now().Add(-7 * 24 * time.Hour)
		if n, err := s.manager.Store().PruneHeartbeatsBefore(cutoff); err == nil && n > 0 {
			s.logger.Info().Int("pruned", n).Msg("heartbeat history pruned")
		}
	})
	s.cron.AddFunc("0 0 * * * *", func() {
		if n, err := s.manager.Store().DeleteExpiredInstallKeys(time.Now()); err == nil && n > 0 {
			s.logger.Info().Int("deleted", n).Msg("expired install keys removed")
		}
	})
	// Compensation bookkeeping grows unbounded otherwise
	s.cron.AddFunc("0 30 4 * * *", func() {
		s.mu.Lock()
		s.compensated = make(map[string]bool)
		s.mu.Unlock()
	})
}

// QueueStats exposes the central queue's status for the API
func (s *Scheduler) QueueStats(ctx context.Context) (*queue.Status, error) {
	return s.queue.Status(ctx)
}

// UpdateQueuedPriority changes the priority of a centrally queued task
// without disturbing its enqueue order within the new priority
func (s *Scheduler) UpdateQueuedPriority(ctx context.Context, taskPublicID string, priority int) (bool, error) {
	if priority < 0 || priority > 4 {
		return false, types.ErrValidation
	}
	return s.queue.UpdatePriority(ctx, taskPublicID, priority)
}

// CancelQueuedExecution removes a not-yet-dispatched execution from the
// central queue and marks it cancelled
func (s *Scheduler) CancelQueuedExecution(ctx context.Context, execution *types.TaskExecution) error {
	task, err := s.manager.GetTask(execution.TaskID)
	if err == nil {
		if _, err := s.queue.Cancel(ctx, task.PublicID); err != nil {
			s.logger.Warn().Err(err).Str("task_id", task.PublicID).Msg("queue cancel failed")
		}
	}
	return s.manager.FinishExecution(execution, types.ExecutionCancelled, "cancelled while queued")
}

// PendingCount reports executions currently held by dispatch workers
func (s *Scheduler) PendingCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}
