package api

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/antcode-sh/antcode/pkg/types"
	"github.com/gin-gonic/gin"
)

type taskRequest struct {
	Name      string `json:"name"`
	ProjectID string `json:"project_id"`

	ScheduleKind    types.ScheduleKind `json:"schedule_kind"`
	CronExpr        string             `json:"cron_expr,omitempty"`
	IntervalSeconds int                `json:"interval_seconds,omitempty"`
	RunAt           *time.Time         `json:"run_at,omitempty"`

	IsActive          *bool `json:"is_active,omitempty"`
	TimeoutSeconds    int   `json:"timeout_seconds"`
	MaxRetries        int   `json:"max_retries"`
	RetryDelaySeconds int   `json:"retry_delay_seconds"`
	Priority          *int  `json:"priority,omitempty"`

	ExecutionParams map[string]any    `json:"execution_params,omitempty"`
	EnvironmentVars map[string]string `json:"environment_vars,omitempty"`

	SpecifiedNodeID   string                  `json:"specified_node_id,omitempty"`
	ExecutionStrategy types.ExecutionStrategy `json:"execution_strategy,omitempty"`
	// NodeID is the legacy pin slot; it migrates into specified_node_id
	// on write and is never stored under the old name
	NodeID string `json:"node_id,omitempty"`
}

func (r *taskRequest) specifiedNode() string {
	if r.SpecifiedNodeID != "" {
		return r.SpecifiedNodeID
	}
	return r.NodeID
}

func validateSchedule(kind types.ScheduleKind, cronExpr string, intervalSeconds int, runAt *time.Time) error {
	switch kind {
	case types.ScheduleCron:
		if cronExpr == "" {
			return fmt.Errorf("%w: cron schedule needs cron_expr", types.ErrValidation)
		}
	case types.ScheduleInterval:
		if intervalSeconds <= 0 {
			return fmt.Errorf("%w: interval schedule needs a positive interval_seconds", types.ErrValidation)
		}
	case types.ScheduleDate, types.ScheduleOnce:
		if runAt == nil {
			return fmt.Errorf("%w: date schedule needs run_at", types.ErrValidation)
		}
	default:
		return fmt.Errorf("%w: unknown schedule kind %q", types.ErrValidation, kind)
	}
	return nil
}

func (s *Server) createTask(c *gin.Context) {
	var req taskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apiError(c, fmt.Errorf("%w: %v", types.ErrValidation, err))
		return
	}
	if req.Name == "" || req.ProjectID == "" {
		apiError(c, fmt.Errorf("%w: name and project_id are required", types.ErrValidation))
		return
	}
	if err := validateSchedule(req.ScheduleKind, req.CronExpr, req.IntervalSeconds, req.RunAt); err != nil {
		apiError(c, err)
		return
	}

	user := currentUser(c)
	project, err := s.manager.GetProjectByIDOrPublicID(req.ProjectID)
	if err != nil {
		apiError(c, err)
		return
	}
	if user.Role != types.UserRoleAdmin && project.OwnerID != user.ID {
		apiError(c, types.ErrPermission)
		return
	}
	if pinned := req.specifiedNode(); pinned != "" {
		if ok := s.userMayDispatch(user, pinned); !ok {
			apiError(c, fmt.Errorf("%w: no dispatch permission on node %s", types.ErrPermission, pinned))
			return
		}
	}

	priority := 2
	if req.Priority != nil {
		priority = *req.Priority
	}
	if priority < 0 || priority > 4 {
		apiError(c, fmt.Errorf("%w: priority must be 0..4", types.ErrValidation))
		return
	}

	task := &types.ScheduledTask{
		UserID:            user.ID,
		ProjectID:         project.ID,
		Name:              req.Name,
		ScheduleKind:      req.ScheduleKind,
		CronExpr:          req.CronExpr,
		IntervalSeconds:   req.IntervalSeconds,
		RunAt:             req.RunAt,
		IsActive:          true,
		TimeoutSeconds:    req.TimeoutSeconds,
		MaxRetries:        req.MaxRetries,
		RetryDelaySeconds: req.RetryDelaySeconds,
		Priority:          priority,
		ExecutionParams:   req.ExecutionParams,
		EnvironmentVars:   req.EnvironmentVars,
		SpecifiedNodeID:   req.specifiedNode(),
		ExecutionStrategy: req.ExecutionStrategy,
	}
	if req.IsActive != nil {
		task.IsActive = *req.IsActive
	}
	if err := s.manager.CreateTask(task); err != nil {
		apiError(c, err)
		return
	}
	if task.IsActive {
		if err := s.scheduler.ScheduleTask(task); err != nil {
			apiError(c, err)
			return
		}
	}
	s.manager.Audit(c.Request.Context(), user, "task.create", task.PublicID, task.Name)
	c.JSON(http.StatusCreated, task)
}

func (s *Server) listTasks(c *gin.Context) {
	tasks, err := s.manager.ListTasks()
	if err != nil {
		apiError(c, err)
		return
	}
	user := currentUser(c)
	if user.Role != types.UserRoleAdmin {
		own := tasks[:0]
		for _, task := range tasks {
			if task.UserID == user.ID {
				own = append(own, task)
			}
		}
		tasks = own
	}
	c.JSON(http.StatusOK, gin.H{"tasks": tasks})
}

func (s *Server) loadTask(c *gin.Context) (*types.ScheduledTask, bool) {
	task, err := s.manager.GetTaskByIDOrPublicID(c.Param("id"))
	if err != nil {
		apiError(c, err)
		return nil, false
	}
	user := currentUser(c)
	if user.Role != types.UserRoleAdmin && task.UserID != user.ID {
		apiError(c, types.ErrPermission)
		return nil, false
	}
	return task, true
}

func (s *Server) getTask(c *gin.Context) {
	task, ok := s.loadTask(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, task)
}

func (s *Server) updateTask(c *gin.Context) {
	task, ok := s.loadTask(c)
	if !ok {
		return
	}
	var req taskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apiError(c, fmt.Errorf("%w: %v", types.ErrValidation, err))
		return
	}

	if req.Name != "" {
		task.Name = req.Name
	}
	if req.ScheduleKind != "" {
		if err := validateSchedule(req.ScheduleKind, req.CronExpr, req.IntervalSeconds, req.RunAt); err != nil {
			apiError(c, err)
			return
		}
		task.ScheduleKind = req.ScheduleKind
		task.CronExpr = req.CronExpr
		task.IntervalSeconds = req.IntervalSeconds
		task.RunAt = req.RunAt
	}
	if req.TimeoutSeconds > 0 {
		task.TimeoutSeconds = req.TimeoutSeconds
	}
	if req.MaxRetries >= 0 {
		task.MaxRetries = req.MaxRetries
	}
	if req.RetryDelaySeconds > 0 {
		task.RetryDelaySeconds = req.RetryDelaySeconds
	}
	if req.Priority != nil {
		if *req.Priority < 0 || *req.Priority > 4 {
			apiError(c, fmt.Errorf("%w: priority must be 0..4", types.ErrValidation))
			return
		}
		task.Priority = *req.Priority
	}
	if req.ExecutionParams != nil {
		task.ExecutionParams = req.ExecutionParams
	}
	if req.EnvironmentVars != nil {
		task.EnvironmentVars = req.EnvironmentVars
	}
	if pinned := req.specifiedNode(); pinned != "" {
		if !s.userMayDispatch(currentUser(c), pinned) {
			apiError(c, fmt.Errorf("%w: no dispatch permission on node %s", types.ErrPermission, pinned))
			return
		}
		task.SpecifiedNodeID = pinned
	}
	if req.ExecutionStrategy != "" {
		task.ExecutionStrategy = req.ExecutionStrategy
	}
	if req.IsActive != nil {
		task.IsActive = *req.IsActive
	}

	if err := s.manager.UpdateTask(task); err != nil {
		apiError(c, err)
		return
	}
	if task.IsActive {
		if err := s.scheduler.ScheduleTask(task); err != nil {
			apiError(c, err)
			return
		}
	} else {
		s.scheduler.UnscheduleTask(task.ID)
	}
	s.manager.Audit(c.Request.Context(), currentUser(c), "task.update", task.PublicID, task.Name)
	c.JSON(http.StatusOK, task)
}

func (s *Server) deleteTask(c *gin.Context) {
	task, ok := s.loadTask(c)
	if !ok {
		return
	}
	s.scheduler.UnscheduleTask(task.ID)
	if err := s.manager.DeleteTask(task.ID); err != nil {
		apiError(c, err)
		return
	}
	s.manager.Audit(c.Request.Context(), currentUser(c), "task.delete", task.PublicID, task.Name)
	c.Status(http.StatusNoContent)
}

// triggerTask fires a task immediately, outside its schedule
func (s *Server) triggerTask(c *gin.Context) {
	task, ok := s.loadTask(c)
	if !ok {
		return
	}
	var body struct {
		Params map[string]any `json:"params,omitempty"`
	}
	_ = c.ShouldBindJSON(&body)

	executionID, err := s.scheduler.Trigger(c.Request.Context(), task.ID, body.Params)
	if err != nil {
		apiError(c, err)
		return
	}
	if executionID == "" {
		c.JSON(http.StatusConflict, gin.H{"error": "task is busy"})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"execution_id": executionID})
}

func (s *Server) listExecutions(c *gin.Context) {
	task, ok := s.loadTask(c)
	if !ok {
		return
	}
	executions, err := s.manager.ListExecutionsByTask(task.ID)
	if err != nil {
		apiError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"executions": executions})
}

func (s *Server) loadExecution(c *gin.Context) (*types.TaskExecution, bool) {
	execution, err := s.manager.GetExecution(c.Param("id"))
	if err != nil {
		apiError(c, err)
		return nil, false
	}
	user := currentUser(c)
	if user.Role != types.UserRoleAdmin {
		task, err := s.manager.GetTask(execution.TaskID)
		if err != nil || task.UserID != user.ID {
			apiError(c, types.ErrPermission)
			return nil, false
		}
	}
	return execution, true
}

func (s *Server) getExecution(c *gin.Context) {
	execution, ok := s.loadExecution(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, execution)
}

// cancelExecution stops an execution wherever it currently is: the
// central queue, a node queue, or a running worker
func (s *Server) cancelExecution(c *gin.Context) {
	execution, ok := s.loadExecution(c)
	if !ok {
		return
	}
	if execution.State.Terminal() {
		apiError(c, fmt.Errorf("%w: execution already finished", types.ErrConflict))
		return
	}

	var err error
	switch execution.State {
	case types.ExecutionPending, types.ExecutionDispatching:
		err = s.scheduler.CancelQueuedExecution(c.Request.Context(), execution)
	default:
		err = s.dispatcher.CancelRunning(c.Request.Context(), execution)
	}
	if err != nil {
		apiError(c, err)
		return
	}
	s.manager.Audit(c.Request.Context(), currentUser(c), "execution.cancel", execution.ID, "")
	c.JSON(http.StatusOK, gin.H{"status": "cancelled"})
}

func (s *Server) executionLogs(c *gin.Context) {
	execution, ok := s.loadExecution(c)
	if !ok {
		return
	}
	logType := types.LogType(c.DefaultQuery("log_type", string(types.LogTypeOutput)))
	tail, _ := strconv.Atoi(c.DefaultQuery("tail", "200"))

	content, err := s.logs.Tail(execution.ID, logType, tail)
	if err != nil {
		apiError(c, err)
		return
	}
	if content == "" && execution.NodeID != "" && !execution.State.Terminal() {
		// Nothing reported yet; read through to the node
		if nodeContent, err := s.dispatcher.TaskLogs(c.Request.Context(), execution.NodeID, execution.TaskPublicID, logType, tail); err == nil {
			content = nodeContent
		}
	}
	c.JSON(http.StatusOK, gin.H{"execution_id": execution.ID, "log_type": logType, "content": content})
}

func (s *Server) executionCheckpoint(c *gin.Context) {
	execution, ok := s.loadExecution(c)
	if !ok {
		return
	}
	cp, err := s.checkpoints.Get(c.Request.Context(), execution.ID)
	if err != nil {
		apiError(c, err)
		return
	}
	c.JSON(http.StatusOK, cp)
}

func (s *Server) queueStatus(c *gin.Context) {
	status, err := s.scheduler.QueueStats(c.Request.Context())
	if err != nil {
		apiError(c, err)
		return
	}
	c.JSON(http.StatusOK, status)
}

func (s *Server) queuePriority(c *gin.Context) {
	var body struct {
		Priority int `json:"priority"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		apiError(c, fmt.Errorf("%w: %v", types.ErrValidation, err))
		return
	}
	updated, err := s.scheduler.UpdateQueuedPriority(c.Request.Context(), c.Param("id"), body.Priority)
	if err != nil {
		apiError(c, err)
		return
	}
	if !updated {
		apiError(c, fmt.Errorf("%w: task is not queued", types.ErrNotFound))
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "updated"})
}

func (s *Server) queueCancel(c *gin.Context) {
	task, err := s.manager.GetTaskByIDOrPublicID(c.Param("id"))
	if err != nil {
		apiError(c, err)
		return
	}
	user := currentUser(c)
	if user.Role != types.UserRoleAdmin && task.UserID != user.ID {
		apiError(c, types.ErrPermission)
		return
	}
	executions, err := s.manager.ListExecutionsByTask(task.ID)
	if err != nil {
		apiError(c, err)
		return
	}
	for _, execution := range executions {
		if execution.State == types.ExecutionPending || execution.State == types.ExecutionDispatching {
			if err := s.scheduler.CancelQueuedExecution(c.Request.Context(), execution); err != nil {
				apiError(c, err)
				return
			}
			c.JSON(http.StatusOK, gin.H{"status": "cancelled", "execution_id": execution.ID})
			return
		}
	}
	apiError(c, fmt.Errorf("%w: no queued execution for task", types.ErrNotFound))
}
