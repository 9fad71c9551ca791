package types

import (
	"encoding/json"
	"strconv"
	"time"
)

// User is an account that owns projects and tasks
type User struct {
	ID       uint64   `json:"-"`
	PublicID string   `json:"id"`
	Username string   `json:"username"`
	Role     UserRole `json:"role"`
	// APIToken authenticates this user's API calls; issued at creation
	// and shown once
	APIToken  string    `json:"-"`
	CreatedAt time.Time `json:"created_at"`
}

// UserRole defines the permission level of a user
type UserRole string

const (
	UserRoleAdmin UserRole = "admin"
	UserRoleUser  UserRole = "user"
)

// Project is a deployable unit of work: a declarative scrape rule, an
// archive of code files, or a single inline source string
type Project struct {
	ID       uint64 `json:"-"`
	PublicID string `json:"id"`
	OwnerID  uint64 `json:"-"`
	Name     string `json:"name"`
	Type     ProjectType `json:"type"`

	// Exactly one of Rule, File, Code is set, matching Type
	Rule *RuleSpec `json:"rule,omitempty"`
	File *FileSpec `json:"file,omitempty"`
	Code *CodeSpec `json:"code,omitempty"`

	// FileHash is the authoritative version identifier for file/code projects
	FileHash   string `json:"file_hash,omitempty"`
	EntryPoint string `json:"entry_point,omitempty"`

	// BoundNodeID is an affinity hint used by the fixed_node and
	// prefer_bound strategies
	BoundNodeID       string            `json:"bound_node_id,omitempty"`
	ExecutionStrategy ExecutionStrategy `json:"execution_strategy,omitempty"`
	FallbackEnabled   bool              `json:"fallback_enabled"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ProjectType discriminates the project variant
type ProjectType string

const (
	ProjectTypeRule ProjectType = "rule"
	ProjectTypeFile ProjectType = "file"
	ProjectTypeCode ProjectType = "code"
)

// RuleSpec is a declarative scrape specification
type RuleSpec struct {
	// Engine selects the fetch engine ("http" or "browser")
	Engine  string         `json:"engine"`
	Config  map[string]any `json:"config,omitempty"`
	RawYAML string         `json:"raw_yaml,omitempty"`
}

// RequiresRender reports whether the rule needs a headless browser,
// which restricts dispatch to render-capable nodes
func (r *RuleSpec) RequiresRender() bool {
	return r != nil && r.Engine == "browser"
}

// FileSpec is an archive of code files, optionally compressed
type FileSpec struct {
	ArchivePath string         `json:"archive_path"`
	Compressed  bool           `json:"compressed"`
	SizeBytes   int64          `json:"size_bytes"`
	Files       []*ProjectFile `json:"files,omitempty"`
}

// ProjectFile is a single file inside a file project, tracked for
// incremental sync
type ProjectFile struct {
	Path string `json:"path"`
	Hash string `json:"hash"`
	Size int64  `json:"size"`
}

// CodeSpec is a single inline source string
type CodeSpec struct {
	Source   string `json:"source"`
	Language string `json:"language,omitempty"`
}

// ExecutionStrategy controls where an execution is routed
type ExecutionStrategy string

const (
	StrategyLocal       ExecutionStrategy = "local"
	StrategyFixedNode   ExecutionStrategy = "fixed_node"
	StrategySpecified   ExecutionStrategy = "specified"
	StrategyAutoSelect  ExecutionStrategy = "auto_select"
	StrategyPreferBound ExecutionStrategy = "prefer_bound"
)

// ScheduleKind defines how a task's trigger fires
type ScheduleKind string

const (
	ScheduleCron     ScheduleKind = "cron"
	ScheduleInterval ScheduleKind = "interval"
	ScheduleDate     ScheduleKind = "date"
	ScheduleOnce     ScheduleKind = "once"
)

// ScheduledTask is a recurring or one-shot schedule over a project
type ScheduledTask struct {
	ID        uint64 `json:"-"`
	PublicID  string `json:"id"`
	UserID    uint64 `json:"-"`
	ProjectID uint64 `json:"-"`
	Name      string `json:"name"`

	ScheduleKind    ScheduleKind `json:"schedule_kind"`
	CronExpr        string       `json:"cron_expr,omitempty"`
	IntervalSeconds int          `json:"interval_seconds,omitempty"`
	RunAt           *time.Time   `json:"run_at,omitempty"`

	IsActive       bool `json:"is_active"`
	TimeoutSeconds int  `json:"timeout_seconds"`
	MaxRetries     int  `json:"max_retries"`
	// RetryDelaySeconds is the base delay; the effective delay follows the
	// scheduler's retry policy (exponential by default)
	RetryDelaySeconds int `json:"retry_delay_seconds"`
	// Priority 0 is highest, 4 lowest
	Priority int `json:"priority"`

	ExecutionParams map[string]any    `json:"execution_params,omitempty"`
	EnvironmentVars map[string]string `json:"environment_vars,omitempty"`

	// SpecifiedNodeID is the canonical node pin. The legacy node_id slot is
	// migrated into it on write and never stored separately.
	SpecifiedNodeID   string            `json:"specified_node_id,omitempty"`
	ExecutionStrategy ExecutionStrategy `json:"execution_strategy,omitempty"`

	// CurrentState tracks the latest execution's state for the re-entry guard
	CurrentState ExecutionState `json:"current_state,omitempty"`

	LastRunTime  *time.Time `json:"last_run_time,omitempty"`
	NextRunTime  *time.Time `json:"next_run_time,omitempty"`
	SuccessCount int        `json:"success_count"`
	FailureCount int        `json:"failure_count"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Busy reports whether the task currently has an execution in flight.
// A trigger firing while Busy is skipped.
func (t *ScheduledTask) Busy() bool {
	switch t.CurrentState {
	case ExecutionRunning, ExecutionDispatching, ExecutionQueued:
		return true
	}
	return false
}

// ExecutionState is the lifecycle state of one execution attempt
type ExecutionState string

const (
	ExecutionPending     ExecutionState = "pending"
	ExecutionDispatching ExecutionState = "dispatching"
	ExecutionQueued      ExecutionState = "queued"
	ExecutionRunning     ExecutionState = "running"
	ExecutionSuccess     ExecutionState = "success"
	ExecutionFailed      ExecutionState = "failed"
	ExecutionTimeout     ExecutionState = "timeout"
	ExecutionCancelled   ExecutionState = "cancelled"
)

// Terminal reports whether the state is final
func (s ExecutionState) Terminal() bool {
	switch s {
	case ExecutionSuccess, ExecutionFailed, ExecutionTimeout, ExecutionCancelled:
		return true
	}
	return false
}

// TaskExecution is one attempt of a scheduled task. It is the unit of
// checkpointing and log streaming.
type TaskExecution struct {
	ID     string `json:"id"`
	TaskID uint64 `json:"-"`
	// TaskPublicID is denormalised for API reads
	TaskPublicID string         `json:"task_id"`
	State        ExecutionState `json:"state"`
	NodeID       string         `json:"node_id,omitempty"`

	StartTime       time.Time  `json:"start_time"`
	EndTime         *time.Time `json:"end_time,omitempty"`
	DurationSeconds float64    `json:"duration_seconds,omitempty"`
	ExitCode        *int       `json:"exit_code,omitempty"`
	RetryCount      int        `json:"retry_count"`

	OutputLogPath string `json:"output_log_path,omitempty"`
	ErrorLogPath  string `json:"error_log_path,omitempty"`

	LastHeartbeat *time.Time `json:"last_heartbeat,omitempty"`
	// ResultData carries arbitrary run output; the "checkpoint" key holds
	// the authoritative checkpoint copy
	ResultData   map[string]any `json:"result_data,omitempty"`
	ErrorMessage string         `json:"error_message,omitempty"`
}

// Checkpoint is a per-execution progress snapshot allowing resume
type Checkpoint struct {
	ExecutionID      string         `json:"execution_id"`
	TaskID           uint64         `json:"task_id"`
	State            ExecutionState `json:"state"`
	Progress         float64        `json:"progress"`
	LastLogOffset    int64          `json:"last_log_offset"`
	Data             map[string]any `json:"checkpoint_data,omitempty"`
	RetryCount       int            `json:"retry_count"`
	StartedAt        time.Time      `json:"started_at"`
	LastCheckpointAt time.Time      `json:"last_checkpoint_at"`
}

// NodeStatus represents the registry's view of a worker node
type NodeStatus string

const (
	NodeOnline      NodeStatus = "online"
	NodeOffline     NodeStatus = "offline"
	NodeMaintenance NodeStatus = "maintenance"
)

// NodeCapabilities are abilities a node declares at registration
type NodeCapabilities struct {
	// Render indicates a headless browser is available for rule projects
	Render bool `json:"render"`
}

// NodeMetrics are the rolling runtime metrics of a worker node
type NodeMetrics struct {
	CPUPercent         float64   `json:"cpu_percent"`
	MemoryPercent      float64   `json:"memory_percent"`
	RunningTasks       int       `json:"running_tasks"`
	MaxConcurrentTasks int       `json:"max_concurrent_tasks"`
	LatencyMS          float64   `json:"latency_ms"`
	SuccessRate        float64   `json:"success_rate"`
	UpdatedAt          time.Time `json:"updated_at"`
}

// NodeResourceLimits override the node's declared capacity
type NodeResourceLimits struct {
	MaxConcurrentTasks int     `json:"max_concurrent_tasks,omitempty"`
	MaxCPUPercent      float64 `json:"max_cpu_percent,omitempty"`
	MaxMemoryPercent   float64 `json:"max_memory_percent,omitempty"`
}

// Node is a registered worker
type Node struct {
	ID     string     `json:"id"`
	Name   string     `json:"name"`
	Host   string     `json:"host"`
	Port   int        `json:"port"`
	Status NodeStatus `json:"status"`

	Region       string           `json:"region,omitempty"`
	Tags         []string         `json:"tags,omitempty"`
	Capabilities NodeCapabilities `json:"capabilities"`
	Metrics      NodeMetrics      `json:"metrics"`

	LastHeartbeat *time.Time `json:"last_heartbeat,omitempty"`

	// APIKey authenticates master->node calls; SecretKey signs node->master
	// reports. Neither is rendered in API responses.
	APIKey    string `json:"-"`
	SecretKey string `json:"-"`

	ResourceLimits *NodeResourceLimits `json:"resource_limits,omitempty"`

	// MachineCode is a hardware fingerprint binding the node identity to
	// one physical host
	MachineCode string `json:"machine_code,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Address returns the node's base URL for outbound calls
func (n *Node) Address() string {
	if n.Host == "" {
		return ""
	}
	return "http://" + n.Host + ":" + strconv.Itoa(n.Port)
}

// MaxConcurrent resolves the effective concurrency cap, preferring the
// admin override over the node-reported value
func (n *Node) MaxConcurrent() int {
	if n.ResourceLimits != nil && n.ResourceLimits.MaxConcurrentTasks > 0 {
		return n.ResourceLimits.MaxConcurrentTasks
	}
	if n.Metrics.MaxConcurrentTasks > 0 {
		return n.Metrics.MaxConcurrentTasks
	}
	return 1
}

// HasTags reports whether the node carries every required tag
func (n *Node) HasTags(required []string) bool {
	for _, want := range required {
		found := false
		for _, tag := range n.Tags {
			if tag == want {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// NodeHeartbeat is one historical heartbeat sample
type NodeHeartbeat struct {
	NodeID        string    `json:"node_id"`
	Timestamp     time.Time `json:"timestamp"`
	CPUPercent    float64   `json:"cpu_percent"`
	MemoryPercent float64   `json:"memory_percent"`
	RunningTasks  int       `json:"running_tasks"`
}

// SyncStatus is the state of a per-node project copy
type SyncStatus string

const (
	SyncPending SyncStatus = "pending"
	SyncSynced  SyncStatus = "synced"
	SyncFailed  SyncStatus = "failed"
)

// TransferMethod is how project content reached a node
type TransferMethod string

const (
	TransferCode        TransferMethod = "code"
	TransferOriginal    TransferMethod = "original"
	TransferIncremental TransferMethod = "incremental"
	// TransferSkipped records a sync round that needed no bytes moved
	TransferSkipped TransferMethod = "skipped"
)

// NodeProject is the materialised belief that a node holds a project at a
// given hash via a given transfer method
type NodeProject struct {
	NodeID          string         `json:"node_id"`
	ProjectPublicID string         `json:"project_id"`
	FileHash        string         `json:"file_hash"`
	Status          SyncStatus     `json:"status"`
	TransferMethod  TransferMethod `json:"transfer_method"`
	SyncCount       int            `json:"sync_count"`
	FileSize        int64          `json:"file_size"`
	SyncedAt        *time.Time     `json:"synced_at,omitempty"`
	LastUsedAt      *time.Time     `json:"last_used_at,omitempty"`
}

// NodeProjectFile records a per-file hash on a node, used to compute
// incremental transfer deltas
type NodeProjectFile struct {
	NodeID          string `json:"node_id"`
	ProjectPublicID string `json:"project_id"`
	Path            string `json:"path"`
	Hash            string `json:"hash"`
}

// QueuedTask is the in-queue envelope of one dispatched execution
type QueuedTask struct {
	TaskID      string          `json:"task_id"`
	ProjectID   string          `json:"project_id"`
	ProjectType ProjectType     `json:"project_type"`
	Priority    int             `json:"priority"`
	EnqueuedAt  time.Time       `json:"enqueued_at"`
	Data        json.RawMessage `json:"data,omitempty"`
}

// UserNodePermission grants a non-admin user dispatch rights on a node
type UserNodePermission struct {
	UserID    uint64    `json:"-"`
	NodeID    string    `json:"node_id"`
	CreatedAt time.Time `json:"created_at"`
}

// InstallKey is a one-shot token letting an unregistered worker obtain
// API credentials
type InstallKey struct {
	Key       string     `json:"key"`
	CreatedBy uint64     `json:"-"`
	ExpiresAt time.Time  `json:"expires_at"`
	Claimed   bool       `json:"claimed"`
	ClaimedBy string     `json:"claimed_by,omitempty"`
	// AllowedSource is bound on first successful claim; later attempts
	// from other sources are rejected
	AllowedSource string     `json:"allowed_source,omitempty"`
	ClaimedAt     *time.Time `json:"claimed_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
}

// AuditLog records an admin-visible mutation
type AuditLog struct {
	ID        uint64    `json:"id"`
	UserID    uint64    `json:"-"`
	Username  string    `json:"username"`
	Action    string    `json:"action"`
	Resource  string    `json:"resource"`
	Detail    string    `json:"detail,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// LogType discriminates execution log streams
type LogType string

const (
	LogTypeOutput LogType = "output"
	LogTypeError  LogType = "error"
)
