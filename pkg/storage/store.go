package storage

import (
	"time"

	"github.com/antcode-sh/antcode/pkg/types"
)

// Store defines the interface for durable master state.
// Implemented by BoltStore; tests may substitute their own.
type Store interface {
	// Users
	CreateUser(user *types.User) error
	GetUser(id uint64) (*types.User, error)
	GetUserByUsername(username string) (*types.User, error)
	ListUsers() ([]*types.User, error)
	DeleteUser(id uint64) error

	// Projects
	CreateProject(project *types.Project) error
	GetProject(id uint64) (*types.Project, error)
	GetProjectByPublicID(publicID string) (*types.Project, error)
	ListProjects() ([]*types.Project, error)
	ListProjectsByOwner(ownerID uint64) ([]*types.Project, error)
	UpdateProject(project *types.Project) error
	DeleteProject(id uint64) error

	// Scheduled tasks
	CreateTask(task *types.ScheduledTask) error
	GetTask(id uint64) (*types.ScheduledTask, error)
	GetTaskByPublicID(publicID string) (*types.ScheduledTask, error)
	ListTasks() ([]*types.ScheduledTask, error)
	ListTasksByProject(projectID uint64) ([]*types.ScheduledTask, error)
	UpdateTask(task *types.ScheduledTask) error
	DeleteTask(id uint64) error

	// Executions
	CreateExecution(execution *types.TaskExecution) error
	GetExecution(id string) (*types.TaskExecution, error)
	ListExecutionsByTask(taskID uint64) ([]*types.TaskExecution, error)
	ListExecutionsByState(state types.ExecutionState) ([]*types.TaskExecution, error)
	UpdateExecution(execution *types.TaskExecution) error
	DeleteExecution(id string) error

	// Nodes
	CreateNode(node *types.Node) error
	GetNode(id string) (*types.Node, error)
	ListNodes() ([]*types.Node, error)
	UpdateNode(node *types.Node) error
	DeleteNode(id string) error

	// Heartbeat history
	AppendHeartbeat(hb *types.NodeHeartbeat) error
	ListHeartbeatsSince(nodeID string, since time.Time) ([]*types.NodeHeartbeat, error)
	PruneHeartbeatsBefore(cutoff time.Time) (int, error)

	// Per-node project sync records
	UpsertNodeProject(np *types.NodeProject) error
	GetNodeProject(nodeID, projectPublicID string) (*types.NodeProject, error)
	ListNodeProjectsByNode(nodeID string) ([]*types.NodeProject, error)
	DeleteNodeProjectsByNode(nodeID string) error
	DeleteNodeProjectsByProject(projectPublicID string) error

	// Per-file hashes for incremental sync
	PutNodeProjectFiles(nodeID, projectPublicID string, files []*types.NodeProjectFile) error
	ListNodeProjectFiles(nodeID, projectPublicID string) ([]*types.NodeProjectFile, error)
	DeleteNodeProjectFiles(nodeID, projectPublicID string) error

	// Permissions
	GrantNodePermission(perm *types.UserNodePermission) error
	RevokeNodePermission(userID uint64, nodeID string) error
	HasNodePermission(userID uint64, nodeID string) (bool, error)
	DeleteNodePermissionsByNode(nodeID string) error

	// Install keys
	PutInstallKey(key *types.InstallKey) error
	GetInstallKey(key string) (*types.InstallKey, error)
	DeleteInstallKey(key string) error
	DeleteExpiredInstallKeys(now time.Time) (int, error)

	// Audit log
	AppendAuditLog(entry *types.AuditLog) error
	ListAuditLogs(limit int) ([]*types.AuditLog, error)

	// Utility
	Close() error
}
