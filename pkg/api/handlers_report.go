package api

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"sync"

	"github.com/antcode-sh/antcode/pkg/events"
	"github.com/antcode-sh/antcode/pkg/metrics"
	"github.com/antcode-sh/antcode/pkg/types"
	"github.com/gin-gonic/gin"
)

// logWriters bounds concurrent log-file writers for batch reports
const logWriters = 16

const nodeKey = "antcode.node"

// nodeAuth verifies the HMAC signature on worker reports. The raw body
// is consumed for verification and restored for binding.
func (s *Server) nodeAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		nodeID := c.GetHeader("X-Node-ID")
		if nodeID == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing node id"})
			return
		}
		node, err := s.registry.GetNode(nodeID)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unknown node"})
			return
		}

		body, err := io.ReadAll(io.LimitReader(c.Request.Body, 16<<20))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "unreadable body"})
			return
		}
		c.Request.Body = io.NopCloser(bytes.NewReader(body))

		err = s.verifier.Verify(
			c.Request.Context(),
			node,
			c.GetHeader("X-Timestamp"),
			c.GetHeader("X-Nonce"),
			c.GetHeader("X-Signature"),
			body,
		)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": err.Error()})
			return
		}
		c.Set(nodeKey, node)
		c.Next()
	}
}

func reportingNode(c *gin.Context) *types.Node {
	node, _ := c.MustGet(nodeKey).(*types.Node)
	return node
}

type logFragment struct {
	ExecutionID string        `json:"execution_id"`
	LogType     types.LogType `json:"log_type"`
	Content     string        `json:"content"`
}

// ingestFragment appends one fragment to its log file, stamps the path
// on the execution record once, and offers the fragment to live
// subscribers
func (s *Server) ingestFragment(frag *logFragment) error {
	if frag.ExecutionID == "" || frag.Content == "" {
		return fmt.Errorf("%w: execution_id and content are required", types.ErrValidation)
	}
	if frag.LogType != types.LogTypeError {
		frag.LogType = types.LogTypeOutput
	}

	path, err := s.logs.Append(frag.ExecutionID, frag.LogType, frag.Content)
	if err != nil {
		return err
	}
	metrics.LogLinesIngested.Inc()

	execution, err := s.manager.GetExecution(frag.ExecutionID)
	if err == nil {
		changed := false
		if frag.LogType == types.LogTypeOutput && execution.OutputLogPath == "" {
			execution.OutputLogPath = path
			changed = true
		}
		if frag.LogType == types.LogTypeError && execution.ErrorLogPath == "" {
			execution.ErrorLogPath = path
			changed = true
		}
		if changed {
			if err := s.manager.UpdateExecution(execution); err != nil {
				s.logger.Warn().Err(err).Str("execution_id", execution.ID).Msg("log path bookkeeping failed")
			}
		}
	}

	s.manager.Events().Publish(&events.Event{
		Type:        events.EventExecutionLog,
		ExecutionID: frag.ExecutionID,
		LogType:     frag.LogType,
		Message:     frag.Content,
	})
	return nil
}

func (s *Server) reportLog(c *gin.Context) {
	var frag logFragment
	if err := c.ShouldBindJSON(&frag); err != nil {
		apiError(c, fmt.Errorf("%w: %v", types.ErrValidation, err))
		return
	}
	if err := s.ingestFragment(&frag); err != nil {
		apiError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// reportLogsBatch ingests many fragments at once. Fragments are grouped
// by (execution, log type) to preserve order within a stream; groups
// write concurrently under the writer budget, and one bad group does
// not sink the rest.
func (s *Server) reportLogsBatch(c *gin.Context) {
	var body struct {
		Logs []*logFragment `json:"logs"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		apiError(c, fmt.Errorf("%w: %v", types.ErrValidation, err))
		return
	}
	if len(body.Logs) == 0 {
		c.JSON(http.StatusOK, gin.H{"accepted": 0, "failed": 0})
		return
	}

	type groupKey struct {
		executionID string
		logType     types.LogType
	}
	groups := make(map[groupKey][]*logFragment)
	for _, frag := range body.Logs {
		key := groupKey{frag.ExecutionID, frag.LogType}
		groups[key] = append(groups[key], frag)
	}

	var (
		wg       sync.WaitGroup
		sem      = make(chan struct{}, logWriters)
		mu       sync.Mutex
		accepted int
		failed   int
	)
	for _, frags := range groups {
		wg.Add(1)
		sem <- struct{}{}
		go func(frags []*logFragment) {
			defer wg.Done()
			defer func() { <-sem }()
			for _, frag := range frags {
				if err := s.ingestFragment(frag); err != nil {
					mu.Lock()
					failed++
					mu.Unlock()
					s.logger.Warn().Err(err).Str("execution_id", frag.ExecutionID).Msg("log fragment rejected")
					continue
				}
				mu.Lock()
				accepted++
				mu.Unlock()
			}
		}(frags)
	}
	wg.Wait()
	c.JSON(http.StatusOK, gin.H{"accepted": accepted, "failed": failed})
}

// reportHeartbeat carries node liveness and, optionally, per-execution
// progress in the same envelope
func (s *Server) reportHeartbeat(c *gin.Context) {
	node := reportingNode(c)
	var body struct {
		Metrics     *types.NodeMetrics `json:"metrics,omitempty"`
		ExecutionID string             `json:"execution_id,omitempty"`
		Progress    *float64           `json:"progress,omitempty"`
		LogOffset   int64              `json:"log_offset,omitempty"`
		Checkpoint  map[string]any     `json:"checkpoint,omitempty"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		apiError(c, fmt.Errorf("%w: %v", types.ErrValidation, err))
		return
	}

	if err := s.registry.MarkHeartbeat(node.ID, body.Metrics); err != nil {
		apiError(c, err)
		return
	}

	if body.ExecutionID != "" {
		if body.Progress != nil || body.Checkpoint != nil {
			progress := 0.0
			if body.Progress != nil {
				progress = *body.Progress
			}
			if err := s.checkpoints.UpdateProgress(c.Request.Context(), body.ExecutionID, progress, body.LogOffset, body.Checkpoint); err != nil {
				apiError(c, err)
				return
			}
		} else if err := s.checkpoints.ReportHeartbeat(body.ExecutionID); err != nil {
			apiError(c, err)
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// reportTask delivers a terminal execution outcome from a worker
func (s *Server) reportTask(c *gin.Context) {
	node := reportingNode(c)
	var body struct {
		ExecutionID  string         `json:"execution_id"`
		Status       string         `json:"status"`
		ExitCode     *int           `json:"exit_code,omitempty"`
		ErrorMessage string         `json:"error_message,omitempty"`
		ResultData   map[string]any `json:"result_data,omitempty"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		apiError(c, fmt.Errorf("%w: %v", types.ErrValidation, err))
		return
	}
	if body.ExecutionID == "" {
		apiError(c, fmt.Errorf("%w: execution_id is required", types.ErrValidation))
		return
	}

	var state types.ExecutionState
	switch body.Status {
	case "success", "completed":
		state = types.ExecutionSuccess
	case "failed", "error":
		state = types.ExecutionFailed
	case "timeout":
		state = types.ExecutionTimeout
	case "cancelled":
		state = types.ExecutionCancelled
	case "running", "started":
		// Non-terminal progress report; just refresh liveness
		if err := s.checkpoints.ReportHeartbeat(body.ExecutionID); err != nil {
			apiError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
		return
	default:
		apiError(c, fmt.Errorf("%w: unknown status %q", types.ErrValidation, body.Status))
		return
	}

	s.logger.Info().
		Str("node_id", node.ID).
		Str("execution_id", body.ExecutionID).
		Str("status", body.Status).
		Msg("task result reported")
	s.scheduler.HandleResult(body.ExecutionID, state, body.ExitCode, body.ErrorMessage, body.ResultData)
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
