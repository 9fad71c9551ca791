package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/antcode-sh/antcode/pkg/auth"
	"github.com/antcode-sh/antcode/pkg/balancer"
	"github.com/antcode-sh/antcode/pkg/checkpoint"
	"github.com/antcode-sh/antcode/pkg/dispatch"
	"github.com/antcode-sh/antcode/pkg/log"
	"github.com/antcode-sh/antcode/pkg/manager"
	"github.com/antcode-sh/antcode/pkg/metrics"
	"github.com/antcode-sh/antcode/pkg/registry"
	"github.com/antcode-sh/antcode/pkg/scheduler"
	"github.com/antcode-sh/antcode/pkg/types"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// Config holds the API server settings
type Config struct {
	Host string
	Port int
}

// Server is the master's HTTP surface: the user API, the worker report
// API and the websocket streams
type Server struct {
	cfg         Config
	manager     *manager.Manager
	registry    *registry.Registry
	balancer    *balancer.Balancer
	scheduler   *scheduler.Scheduler
	dispatcher  *dispatch.Dispatcher
	checkpoints *checkpoint.Service
	verifier    *auth.Verifier
	keys        *auth.KeyService
	logs        *LogStore
	logger      zerolog.Logger

	engine *gin.Engine
	http   *http.Server
}

// NewServer wires the HTTP server and its routes
func NewServer(cfg Config, mgr *manager.Manager, reg *registry.Registry, bal *balancer.Balancer, sched *scheduler.Scheduler, disp *dispatch.Dispatcher, cps *checkpoint.Service, verifier *auth.Verifier, keys *auth.KeyService) *Server {
	gin.SetMode(gin.ReleaseMode)
	s := &Server{
		cfg:         cfg,
		manager:     mgr,
		registry:    reg,
		balancer:    bal,
		scheduler:   sched,
		dispatcher:  disp,
		checkpoints: cps,
		verifier:    verifier,
		keys:        keys,
		logs:        NewLogStore(mgr.DataDir()),
		logger:      log.WithComponent("api"),
		engine:      gin.New(),
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.engine.Use(gin.Recovery(), s.observe())

	s.engine.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	s.engine.GET("/metrics", gin.WrapH(promhttp.Handler()))
	s.engine.POST("/api/install/claim", s.claimInstallKey)
	// Archive downloads take either a user token or a node api key, so
	// the route sits outside the user-auth group
	s.engine.GET("/api/projects/:id/archive", s.downloadArchive)

	api := s.engine.Group("/api", s.userAuth())
	{
		api.POST("/projects", s.createProject)
		api.GET("/projects", s.listProjects)
		api.GET("/projects/:id", s.getProject)
		api.PUT("/projects/:id", s.updateProject)
		api.DELETE("/projects/:id", s.deleteProject)

		api.POST("/tasks", s.createTask)
		api.GET("/tasks", s.listTasks)
		api.GET("/tasks/:id", s.getTask)
		api.PUT("/tasks/:id", s.updateTask)
		api.DELETE("/tasks/:id", s.deleteTask)
		api.POST("/tasks/:id/trigger", s.triggerTask)
		api.GET("/tasks/:id/executions", s.listExecutions)

		api.GET("/executions/:id", s.getExecution)
		api.POST("/executions/:id/cancel", s.cancelExecution)
		api.GET("/executions/:id/logs", s.executionLogs)
		api.GET("/executions/:id/checkpoint", s.executionCheckpoint)

		api.GET("/queue/status", s.queueStatus)
		api.PUT("/queue/tasks/:id/priority", s.queuePriority)
		api.DELETE("/queue/tasks/:id", s.queueCancel)

		api.POST("/nodes", s.adminOnly(), s.createNode)
		api.GET("/nodes", s.listNodes)
		api.POST("/nodes/connect", s.connectNode)
		api.GET("/nodes/stats", s.nodeStats)
		api.GET("/nodes/rank", s.rankNodes)
		api.GET("/nodes/cluster/metrics/history", s.clusterMetricsHistory)
		api.GET("/nodes/:id", s.getNode)
		api.PUT("/nodes/:id", s.adminOnly(), s.updateNode)
		api.DELETE("/nodes/:id", s.adminOnly(), s.deleteNode)
		api.POST("/nodes/:id/test", s.testNode)
		api.POST("/nodes/:id/rebind", s.adminOnly(), s.rebindNode)
		api.POST("/nodes/:id/disconnect", s.disconnectNode)
		api.GET("/nodes/:id/queue", s.nodeQueueStatus)
		api.POST("/nodes/:id/permissions/:userID", s.adminOnly(), s.grantPermission)
		api.DELETE("/nodes/:id/permissions/:userID", s.adminOnly(), s.revokePermission)

		api.POST("/install-keys", s.adminOnly(), s.createInstallKey)
		api.GET("/audit", s.adminOnly(), s.listAudit)
		api.POST("/users", s.adminOnly(), s.createUser)
		api.GET("/users/me", s.whoami)

		api.GET("/ws/events", s.wsEvents)
		api.GET("/ws/executions/:id/logs", s.wsExecutionLogs)
	}

	report := s.engine.Group("/api/node", s.nodeAuth())
	{
		report.POST("/report-log", s.reportLog)
		report.POST("/report-logs-batch", s.reportLogsBatch)
		report.POST("/report-heartbeat", s.reportHeartbeat)
		report.POST("/report-task", s.reportTask)
	}
}

// Run serves until the listener fails or Shutdown is called
func (s *Server) Run() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	s.http = &http.Server{
		Addr:              addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Info().Str("addr", addr).Msg("api server listening")
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests
func (s *Server) Shutdown(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}

// Engine exposes the router for handler tests
func (s *Server) Engine() *gin.Engine { return s.engine }

// observe logs each request and feeds the latency histogram
func (s *Server) observe() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		elapsed := time.Since(start)
		status := c.Writer.Status()
		metrics.HTTPRequestDuration.
			WithLabelValues(c.Request.Method, c.FullPath(), strconv.Itoa(status)).
			Observe(elapsed.Seconds())
		event := s.logger.Debug()
		if status >= 500 {
			event = s.logger.Error()
		}
		event.
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", status).
			Dur("elapsed", elapsed).
			Msg("request")
	}
}

const userKey = "antcode.user"

// userAuth resolves the Bearer token to a user
func (s *Server) userAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := bearerToken(c)
		user, err := s.manager.GetUserByToken(token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
		c.Set(userKey, user)
		c.Next()
	}
}

func (s *Server) adminOnly() gin.HandlerFunc {
	return func(c *gin.Context) {
		if currentUser(c).Role != types.UserRoleAdmin {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "admin required"})
			return
		}
		c.Next()
	}
}

func currentUser(c *gin.Context) *types.User {
	user, _ := c.MustGet(userKey).(*types.User)
	return user
}

func bearerToken(c *gin.Context) string {
	const prefix = "Bearer "
	header := c.GetHeader("Authorization")
	if len(header) > len(prefix) && header[:len(prefix)] == prefix {
		return header[len(prefix):]
	}
	return ""
}

// apiError maps the error taxonomy onto HTTP statuses
func apiError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, types.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, types.ErrConflict):
		status = http.StatusConflict
	case errors.Is(err, types.ErrPermission):
		status = http.StatusForbidden
	case errors.Is(err, types.ErrValidation):
		status = http.StatusBadRequest
	default:
		var unavailable *types.NodeUnavailableError
		var queueDown *types.QueueUnavailableError
		if errors.As(err, &unavailable) || errors.As(err, &queueDown) {
			status = http.StatusServiceUnavailable
		}
	}
	c.JSON(status, gin.H{"error": err.Error()})
}
