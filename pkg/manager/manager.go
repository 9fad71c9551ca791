package manager

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"os"
	"time"

	"github.com/antcode-sh/antcode/pkg/cache"
	"github.com/antcode-sh/antcode/pkg/events"
	"github.com/antcode-sh/antcode/pkg/log"
	"github.com/antcode-sh/antcode/pkg/storage"
	"github.com/antcode-sh/antcode/pkg/types"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Manager owns durable master state: the store is the source of truth,
// the cache is a read accelerator invalidated database-first, and the
// event broker announces mutations.
type Manager struct {
	dataDir string

	store  storage.Store
	cache  cache.Cache
	events *events.Broker
	logger zerolog.Logger
}

// Config holds configuration for creating a Manager
type Config struct {
	DataDir string
	Cache   cache.Config
}

// NewManager creates a Manager with a BoltDB store in cfg.DataDir
func NewManager(cfg *Config) (*Manager, error) {
	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	store, err := storage.NewBoltStore(cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to create store: %w", err)
	}

	unified, err := cache.New(cfg.Cache)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("failed to create cache: %w", err)
	}

	broker := events.NewBroker()
	broker.Start()

	return &Manager{
		dataDir: cfg.DataDir,
		store:   store,
		cache:   unified,
		events:  broker,
		logger:  log.WithComponent("manager"),
	}, nil
}

// NewManagerWithStore wires an existing store and cache; used by tests
func NewManagerWithStore(store storage.Store, unified cache.Cache) *Manager {
	broker := events.NewBroker()
	broker.Start()
	return &Manager{
		store:  store,
		cache:  unified,
		events: broker,
		logger: log.WithComponent("manager"),
	}
}

// Store exposes the underlying store for read paths that need it
func (m *Manager) Store() storage.Store { return m.store }

// Cache exposes the unified cache
func (m *Manager) Cache() cache.Cache { return m.cache }

// Events exposes the event broker
func (m *Manager) Events() *events.Broker { return m.events }

// DataDir returns the master data directory
func (m *Manager) DataDir() string { return m.dataDir }

// Shutdown stops the broker and closes the store and cache
func (m *Manager) Shutdown() error {
	m.events.Stop()
	if err := m.cache.Close(); err != nil {
		m.logger.Warn().Err(err).Msg("cache close failed")
	}
	return m.store.Close()
}

// ContentHash is the authoritative version identifier for project content
func ContentHash(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}

// randomHex produces a hex credential of byteLen entropy bytes
func randomHex(byteLen int) (string, error) {
	buf := make([]byte, byteLen)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

// User operations

// CreateUser stores a user, assigning its public id
func (m *Manager) CreateUser(user *types.User) error {
	if user.PublicID == "" {
		user.PublicID = uuid.New().String()
	}
	if user.APIToken == "" {
		token, err := randomHex(24)
		if err != nil {
			return err
		}
		user.APIToken = token
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now()
	}
	return m.store.CreateUser(user)
}

// GetUserByToken resolves an API token to its user
func (m *Manager) GetUserByToken(token string) (*types.User, error) {
	if token == "" {
		return nil, types.ErrPermission
	}
	users, err := m.store.ListUsers()
	if err != nil {
		return nil, err
	}
	for _, user := range users {
		if user.APIToken != "" && subtle.ConstantTimeCompare([]byte(user.APIToken), []byte(token)) == 1 {
			return user, nil
		}
	}
	return nil, types.ErrPermission
}

// GetUserByUsername looks a user up by login name
func (m *Manager) GetUserByUsername(username string) (*types.User, error) {
	return m.store.GetUserByUsername(username)
}

// EnsureAdminUser creates the bootstrap admin account if absent
func (m *Manager) EnsureAdminUser(username string) (*types.User, error) {
	user, err := m.store.GetUserByUsername(username)
	if err == nil {
		return user, nil
	}
	user = &types.User{
		Username:  username,
		Role:      types.UserRoleAdmin,
		CreatedAt: time.Now(),
	}
	if err := m.CreateUser(user); err != nil {
		return nil, err
	}
	m.logger.Info().Str("username", username).Msg("bootstrap admin created")
	return user, nil
}

// Project operations

// CreateProject validates the variant, stamps ids and the content hash,
// and stores the project
func (m *Manager) CreateProject(project *types.Project) error {
	switch project.Type {
	case types.ProjectTypeRule:
		if project.Rule == nil {
			return fmt.Errorf("rule project without rule spec: %w", types.ErrValidation)
		}
	case types.ProjectTypeFile:
		if project.File == nil {
			return fmt.Errorf("file project without file spec: %w", types.ErrValidation)
		}
	case types.ProjectTypeCode:
		if project.Code == nil {
			return fmt.Errorf("code project without code spec: %w", types.ErrValidation)
		}
		project.FileHash = ContentHash([]byte(project.Code.Source))
	default:
		return fmt.Errorf("unknown project type %q: %w", project.Type, types.ErrValidation)
	}

	if project.PublicID == "" {
		project.PublicID = uuid.New().String()
	}
	now := time.Now()
	project.CreatedAt = now
	project.UpdatedAt = now
	return m.store.CreateProject(project)
}

// GetProjectByIDOrPublicID resolves either id form. External callers only
// ever hold the public id; internal joins use the numeric one.
func (m *Manager) GetProjectByIDOrPublicID(ref string) (*types.Project, error) {
	return m.store.GetProjectByPublicID(ref)
}

// GetProject fetches a project by internal id
func (m *Manager) GetProject(id uint64) (*types.Project, error) {
	return m.store.GetProject(id)
}

// ListProjects returns all projects
func (m *Manager) ListProjects() ([]*types.Project, error) {
	return m.store.ListProjects()
}

// UpdateProject re-hashes code content and persists the project
func (m *Manager) UpdateProject(project *types.Project) error {
	if project.Type == types.ProjectTypeCode && project.Code != nil {
		project.FileHash = ContentHash([]byte(project.Code.Source))
	}
	project.UpdatedAt = time.Now()
	return m.store.UpdateProject(project)
}

// DeleteProject removes a project and cascades to its task definitions
// and per-node sync records
func (m *Manager) DeleteProject(id uint64) error {
	project, err := m.store.GetProject(id)
	if err != nil {
		return err
	}
	tasks, err := m.store.ListTasksByProject(id)
	if err != nil {
		return err
	}
	for _, task := range tasks {
		if err := m.DeleteTask(task.ID); err != nil {
			m.logger.Warn().Err(err).Uint64("task_id", task.ID).Msg("cascade task delete failed")
		}
	}
	if err := m.store.DeleteNodeProjectsByProject(project.PublicID); err != nil {
		m.logger.Warn().Err(err).Str("project_id", project.PublicID).Msg("cascade node project delete failed")
	}
	return m.store.DeleteProject(id)
}

// Task operations

// CreateTask stamps ids and canonicalises the node pin before storing
func (m *Manager) CreateTask(task *types.ScheduledTask) error {
	if task.PublicID == "" {
		task.PublicID = uuid.New().String()
	}
	now := time.Now()
	task.CreatedAt = now
	task.UpdatedAt = now
	return m.store.CreateTask(task)
}

// GetTask fetches a task by internal id
func (m *Manager) GetTask(id uint64) (*types.ScheduledTask, error) {
	return m.store.GetTask(id)
}

// GetTaskByIDOrPublicID resolves a task from its public id
func (m *Manager) GetTaskByIDOrPublicID(ref string) (*types.ScheduledTask, error) {
	return m.store.GetTaskByPublicID(ref)
}

// ListTasks returns all scheduled tasks
func (m *Manager) ListTasks() ([]*types.ScheduledTask, error) {
	return m.store.ListTasks()
}

// UpdateTask persists a task definition
func (m *Manager) UpdateTask(task *types.ScheduledTask) error {
	task.UpdatedAt = time.Now()
	return m.store.UpdateTask(task)
}

// SetTaskState updates just the task's current-state marker
func (m *Manager) SetTaskState(taskID uint64, state types.ExecutionState) error {
	task, err := m.store.GetTask(taskID)
	if err != nil {
		return err
	}
	task.CurrentState = state
	return m.store.UpdateTask(task)
}

// DeleteTask removes a task definition
func (m *Manager) DeleteTask(id uint64) error {
	if err := m.store.DeleteTask(id); err != nil {
		return err
	}
	m.events.Publish(&events.Event{Type: events.EventTaskDeleted})
	return nil
}

// Execution operations

// CreateExecution stores a fresh execution attempt
func (m *Manager) CreateExecution(execution *types.TaskExecution) error {
	if execution.ID == "" {
		execution.ID = uuid.New().String()
	}
	return m.store.CreateExecution(execution)
}

// GetExecution fetches one execution
func (m *Manager) GetExecution(id string) (*types.TaskExecution, error) {
	return m.store.GetExecution(id)
}

// ListExecutionsByTask returns a task's attempts
func (m *Manager) ListExecutionsByTask(taskID uint64) ([]*types.TaskExecution, error) {
	return m.store.ListExecutionsByTask(taskID)
}

// UpdateExecution persists execution state
func (m *Manager) UpdateExecution(execution *types.TaskExecution) error {
	return m.store.UpdateExecution(execution)
}

// FinishExecution moves an execution to a terminal state and stamps
// timing fields
func (m *Manager) FinishExecution(execution *types.TaskExecution, state types.ExecutionState, errorMessage string) error {
	now := time.Now()
	execution.State = state
	execution.EndTime = &now
	execution.DurationSeconds = now.Sub(execution.StartTime).Seconds()
	execution.ErrorMessage = errorMessage
	if err := m.store.UpdateExecution(execution); err != nil {
		return err
	}
	m.events.Publish(&events.Event{
		Type:        events.EventExecutionFinished,
		ExecutionID: execution.ID,
		TaskID:      execution.TaskPublicID,
		Message:     string(state),
	})
	return nil
}

// Node operations

// CreateNode stamps ids and credentials, stores the node and warms the
// registry path via an event
func (m *Manager) CreateNode(node *types.Node) error {
	if node.ID == "" {
		node.ID = uuid.New().String()
	}
	apiKey, err := randomHex(24)
	if err != nil {
		return err
	}
	secretKey, err := randomHex(32)
	if err != nil {
		return err
	}
	if node.APIKey == "" {
		node.APIKey = apiKey
	}
	if node.SecretKey == "" {
		node.SecretKey = secretKey
	}
	if node.Status == "" {
		node.Status = types.NodeOffline
	}
	now := time.Now()
	node.CreatedAt = now
	node.UpdatedAt = now

	// Reject address collisions up front
	nodes, err := m.store.ListNodes()
	if err != nil {
		return err
	}
	for _, existing := range nodes {
		if existing.Host == node.Host && existing.Port == node.Port {
			return fmt.Errorf("node address %s:%d already registered: %w", node.Host, node.Port, types.ErrConflict)
		}
	}

	if err := m.store.CreateNode(node); err != nil {
		return err
	}
	m.events.Publish(&events.Event{Type: events.EventNodeRegistered, NodeID: node.ID})
	return nil
}

// GetNode fetches one node
func (m *Manager) GetNode(id string) (*types.Node, error) {
	return m.store.GetNode(id)
}

// ListNodes returns all registered nodes
func (m *Manager) ListNodes() ([]*types.Node, error) {
	return m.store.ListNodes()
}

// UpdateNode persists a node record
func (m *Manager) UpdateNode(node *types.Node) error {
	node.UpdatedAt = time.Now()
	return m.store.UpdateNode(node)
}

// DeleteNode removes a node and cascades to permissions, heartbeat
// history, sync records and tasks pinned to it
func (m *Manager) DeleteNode(id string) error {
	if err := m.store.DeleteNodePermissionsByNode(id); err != nil {
		m.logger.Warn().Err(err).Str("node_id", id).Msg("cascade permission delete failed")
	}
	if err := m.store.DeleteNodeProjectsByNode(id); err != nil {
		m.logger.Warn().Err(err).Str("node_id", id).Msg("cascade node project delete failed")
	}
	tasks, err := m.store.ListTasks()
	if err == nil {
		for _, task := range tasks {
			if task.SpecifiedNodeID == id {
				if err := m.store.DeleteTask(task.ID); err != nil {
					m.logger.Warn().Err(err).Uint64("task_id", task.ID).Msg("cascade pinned task delete failed")
				}
			}
		}
	}
	if err := m.store.DeleteNode(id); err != nil {
		return err
	}
	m.events.Publish(&events.Event{Type: events.EventNodeRemoved, NodeID: id})
	return nil
}

// RecordHeartbeat appends a history sample and refreshes the node row
func (m *Manager) RecordHeartbeat(node *types.Node) error {
	now := time.Now()
	node.LastHeartbeat = &now
	if err := m.store.UpdateNode(node); err != nil {
		return err
	}
	return m.store.AppendHeartbeat(&types.NodeHeartbeat{
		NodeID:        node.ID,
		Timestamp:     now,
		CPUPercent:    node.Metrics.CPUPercent,
		MemoryPercent: node.Metrics.MemoryPercent,
		RunningTasks:  node.Metrics.RunningTasks,
	})
}

// Audit trail

// Audit records an admin-visible mutation; failures are logged, never
// propagated to the caller's path
func (m *Manager) Audit(ctx context.Context, user *types.User, action, resource, detail string) {
	entry := &types.AuditLog{
		Action:    action,
		Resource:  resource,
		Detail:    detail,
		Timestamp: time.Now(),
	}
	if user != nil {
		entry.UserID = user.ID
		entry.Username = user.Username
	}
	if err := m.store.AppendAuditLog(entry); err != nil {
		m.logger.Warn().Err(err).Str("action", action).Msg("audit append failed")
	}
}
