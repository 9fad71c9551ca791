package storage

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"path/filepath"
	"time"

	"github.com/antcode-sh/antcode/pkg/types"
	bolt "go.etcd.io/bbolt"
)

var (
	// Bucket names
	bucketUsers            = []byte("users")
	bucketUsersByName      = []byte("users_by_name")
	bucketProjects         = []byte("projects")
	bucketProjectsByPublic = []byte("projects_by_public_id")
	bucketTasks            = []byte("scheduled_tasks")
	bucketTasksByPublic    = []byte("tasks_by_public_id")
	bucketExecutions       = []byte("task_executions")
	bucketExecutionsByTask = []byte("executions_by_task")
	bucketNodes            = []byte("nodes")
	bucketHeartbeats       = []byte("node_heartbeats")
	bucketNodeProjects     = []byte("node_projects")
	bucketNodeProjectFiles = []byte("node_project_files")
	bucketPermissions      = []byte("user_node_permissions")
	bucketInstallKeys      = []byte("task_install_keys")
	bucketAuditLogs        = []byte("audit_logs")
)

// BoltStore implements Store using BoltDB
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore creates a new BoltDB-backed store
func NewBoltStore(dataDir string) (*BoltStore, error) {
	dbPath := filepath.Join(dataDir, "antcode.db")

	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		buckets := [][]byte{
			bucketUsers,
			bucketUsersByName,
			bucketProjects,
			bucketProjectsByPublic,
			bucketTasks,
			bucketTasksByPublic,
			bucketExecutions,
			bucketExecutionsByTask,
			bucketNodes,
			bucketHeartbeats,
			bucketNodeProjects,
			bucketNodeProjectFiles,
			bucketPermissions,
			bucketInstallKeys,
			bucketAuditLogs,
		}

		for _, bucket := range buckets {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}
		return nil
	})

	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStore{db: db}, nil
}

// Close closes the database
func (s *BoltStore) Close() error {
	return s.db.Close()
}

// u64Key encodes an internal id as a sortable 8-byte key
func u64Key(id uint64) []byte {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], id)
	return buf[:]
}

// User operations

func (s *BoltStore) CreateUser(user *types.User) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketUsers)
		if user.ID == 0 {
			id, err := b.NextSequence()
			if err != nil {
				return err
			}
			user.ID = id
		}
		byName := tx.Bucket(bucketUsersByName)
		if existing := byName.Get([]byte(user.Username)); existing != nil {
			return fmt.Errorf("username %s: %w", user.Username, types.ErrConflict)
		}
		data, err := encodeUser(user)
		if err != nil {
			return err
		}
		if err := b.Put(u64Key(user.ID), data); err != nil {
			return err
		}
		return byName.Put([]byte(user.Username), u64Key(user.ID))
	})
}

func (s *BoltStore) GetUser(id uint64) (*types.User, error) {
	var user *types.User
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketUsers).Get(u64Key(id))
		if data == nil {
			return fmt.Errorf("user %d: %w", id, types.ErrNotFound)
		}
		var err error
		user, err = decodeUser(data)
		return err
	})
	if err != nil {
		return nil, err
	}
	return user, nil
}

func (s *BoltStore) GetUserByUsername(username string) (*types.User, error) {
	var user *types.User
	err := s.db.View(func(tx *bolt.Tx) error {
		key := tx.Bucket(bucketUsersByName).Get([]byte(username))
		if key == nil {
			return fmt.Errorf("user %s: %w", username, types.ErrNotFound)
		}
		data := tx.Bucket(bucketUsers).Get(key)
		if data == nil {
			return fmt.Errorf("user %s: %w", username, types.ErrNotFound)
		}
		var err error
		user, err = decodeUser(data)
		return err
	})
	if err != nil {
		return nil, err
	}
	return user, nil
}

func (s *BoltStore) ListUsers() ([]*types.User, error) {
	var users []*types.User
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketUsers).ForEach(func(k, v []byte) error {
			user, err := decodeUser(v)
			if err != nil {
				return err
			}
			users = append(users, user)
			return nil
		})
	})
	return users, err
}

func (s *BoltStore) DeleteUser(id uint64) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketUsers)
		data := b.Get(u64Key(id))
		if data == nil {
			return fmt.Errorf("user %d: %w", id, types.ErrNotFound)
		}
		user, err := decodeUser(data)
		if err != nil {
			return err
		}
		if err := tx.Bucket(bucketUsersByName).Delete([]byte(user.Username)); err != nil {
			return err
		}
		return b.Delete(u64Key(id))
	})
}

// Project operations

func (s *BoltStore) CreateProject(project *types.Project) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketProjects)
		if project.ID == 0 {
			id, err := b.NextSequence()
			if err != nil {
				return err
			}
			project.ID = id
		}
		data, err := encodeProject(project)
		if err != nil {
			return err
		}
		if err := b.Put(u64Key(project.ID), data); err != nil {
			return err
		}
		return tx.Bucket(bucketProjectsByPublic).Put([]byte(project.PublicID), u64Key(project.ID))
	})
}

func (s *BoltStore) GetProject(id uint64) (*types.Project, error) {
	var project *types.Project
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketProjects).Get(u64Key(id))
		if data == nil {
			return fmt.Errorf("project %d: %w", id, types.ErrNotFound)
		}
		var err error
		project, err = decodeProject(data)
		return err
	})
	if err != nil {
		return nil, err
	}
	return project, nil
}

func (s *BoltStore) GetProjectByPublicID(publicID string) (*types.Project, error) {
	var project *types.Project
	err := s.db.View(func(tx *bolt.Tx) error {
		key := tx.Bucket(bucketProjectsByPublic).Get([]byte(publicID))
		if key == nil {
			return fmt.Errorf("project %s: %w", publicID, types.ErrNotFound)
		}
		data := tx.Bucket(bucketProjects).Get(key)
		if data == nil {
			return fmt.Errorf("project %s: %w", publicID, types.ErrNotFound)
		}
		var err error
		project, err = decodeProject(data)
		return err
	})
	if err != nil {
		return nil, err
	}
	return project, nil
}

func (s *BoltStore) ListProjects() ([]*types.Project, error) {
	var projects []*types.Project
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketProjects).ForEach(func(k, v []byte) error {
			project, err := decodeProject(v)
			if err != nil {
				return err
			}
			projects = append(projects, project)
			return nil
		})
	})
	return projects, err
}

func (s *BoltStore) ListProjectsByOwner(ownerID uint64) ([]*types.Project, error) {
	projects, err := s.ListProjects()
	if err != nil {
		return nil, err
	}
	var filtered []*types.Project
	for _, project := range projects {
		if project.OwnerID == ownerID {
			filtered = append(filtered, project)
		}
	}
	return filtered, nil
}

func (s *BoltStore) UpdateProject(project *types.Project) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketProjects)
		if b.Get(u64Key(project.ID)) == nil {
			return fmt.Errorf("project %d: %w", project.ID, types.ErrNotFound)
		}
		data, err := encodeProject(project)
		if err != nil {
			return err
		}
		return b.Put(u64Key(project.ID), data)
	})
}

func (s *BoltStore) DeleteProject(id uint64) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketProjects)
		data := b.Get(u64Key(id))
		if data == nil {
			return fmt.Errorf("project %d: %w", id, types.ErrNotFound)
		}
		project, err := decodeProject(data)
		if err != nil {
			return err
		}
		if err := tx.Bucket(bucketProjectsByPublic).Delete([]byte(project.PublicID)); err != nil {
			return err
		}
		return b.Delete(u64Key(id))
	})
}

// Scheduled task operations

func (s *BoltStore) CreateTask(task *types.ScheduledTask) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketTasks)
		if task.ID == 0 {
			id, err := b.NextSequence()
			if err != nil {
				return err
			}
			task.ID = id
		}
		data, err := encodeTask(task)
		if err != nil {
			return err
		}
		if err := b.Put(u64Key(task.ID), data); err != nil {
			return err
		}
		return tx.Bucket(bucketTasksByPublic).Put([]byte(task.PublicID), u64Key(task.ID))
	})
}

func (s *BoltStore) GetTask(id uint64) (*types.ScheduledTask, error) {
	var task *types.ScheduledTask
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketTasks).Get(u64Key(id))
		if data == nil {
			return fmt.Errorf("task %d: %w", id, types.ErrNotFound)
		}
		var err error
		task, err = decodeTask(data)
		return err
	})
	if err != nil {
		return nil, err
	}
	return task, nil
}

func (s *BoltStore) GetTaskByPublicID(publicID string) (*types.ScheduledTask, error) {
	var task *types.ScheduledTask
	err := s.db.View(func(tx *bolt.Tx) error {
		key := tx.Bucket(bucketTasksByPublic).Get([]byte(publicID))
		if key == nil {
			return fmt.Errorf("task %s: %w", publicID, types.ErrNotFound)
		}
		data := tx.Bucket(bucketTasks).Get(key)
		if data == nil {
			return fmt.Errorf("task %s: %w", publicID, types.ErrNotFound)
		}
		var err error
		task, err = decodeTask(data)
		return err
	})
	if err != nil {
		return nil, err
	}
	return task, nil
}

func (s *BoltStore) ListTasks() ([]*types.ScheduledTask, error) {
	var tasks []*types.ScheduledTask
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketTasks).ForEach(func(k, v []byte) error {
			task, err := decodeTask(v)
			if err != nil {
				return err
			}
			tasks = append(tasks, task)
			return nil
		})
	})
	return tasks, err
}

func (s *BoltStore) ListTasksByProject(projectID uint64) ([]*types.ScheduledTask, error) {
	tasks, err := s.ListTasks()
	if err != nil {
		return nil, err
	}
	var filtered []*types.ScheduledTask
	for _, task := range tasks {
		if task.ProjectID == projectID {
			filtered = append(filtered, task)
		}
	}
	return filtered, nil
}

func (s *BoltStore) UpdateTask(task *types.ScheduledTask) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketTasks)
		if b.Get(u64Key(task.ID)) == nil {
			return fmt.Errorf("task %d: %w", task.ID, types.ErrNotFound)
		}
		data, err := encodeTask(task)
		if err != nil {
			return err
		}
		return b.Put(u64Key(task.ID), data)
	})
}

func (s *BoltStore) DeleteTask(id uint64) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketTasks)
		data := b.Get(u64Key(id))
		if data == nil {
			return fmt.Errorf("task %d: %w", id, types.ErrNotFound)
		}
		task, err := decodeTask(data)
		if err != nil {
			return err
		}
		if err := tx.Bucket(bucketTasksByPublic).Delete([]byte(task.PublicID)); err != nil {
			return err
		}
		return b.Delete(u64Key(id))
	})
}

// Execution operations

// executionTaskKey indexes executions under task id for range scans
func executionTaskKey(taskID uint64, executionID string) []byte {
	return append(u64Key(taskID), []byte("/"+executionID)...)
}

func (s *BoltStore) CreateExecution(execution *types.TaskExecution) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		data, err := encodeExecution(execution)
		if err != nil {
			return err
		}
		if err := tx.Bucket(bucketExecutions).Put([]byte(execution.ID), data); err != nil {
			return err
		}
		return tx.Bucket(bucketExecutionsByTask).Put(executionTaskKey(execution.TaskID, execution.ID), []byte(execution.ID))
	})
}

func (s *BoltStore) GetExecution(id string) (*types.TaskExecution, error) {
	var execution *types.TaskExecution
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketExecutions).Get([]byte(id))
		if data == nil {
			return fmt.Errorf("execution %s: %w", id, types.ErrNotFound)
		}
		var err error
		execution, err = decodeExecution(data)
		return err
	})
	if err != nil {
		return nil, err
	}
	return execution, nil
}

func (s *BoltStore) ListExecutionsByTask(taskID uint64) ([]*types.TaskExecution, error) {
	var executions []*types.TaskExecution
	err := s.db.View(func(tx *bolt.Tx) error {
		executionsBucket := tx.Bucket(bucketExecutions)
		c := tx.Bucket(bucketExecutionsByTask).Cursor()
		prefix := u64Key(taskID)
		for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
			data := executionsBucket.Get(v)
			if data == nil {
				continue
			}
			execution, err := decodeExecution(data)
			if err != nil {
				return err
			}
			executions = append(executions, execution)
		}
		return nil
	})
	return executions, err
}

func (s *BoltStore) ListExecutionsByState(state types.ExecutionState) ([]*types.TaskExecution, error) {
	var executions []*types.TaskExecution
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketExecutions).ForEach(func(k, v []byte) error {
			execution, err := decodeExecution(v)
			if err != nil {
				return err
			}
			if execution.State == state {
				executions = append(executions, execution)
			}
			return nil
		})
	})
	return executions, err
}

func (s *BoltStore) UpdateExecution(execution *types.TaskExecution) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketExecutions)
		if b.Get([]byte(execution.ID)) == nil {
			return fmt.Errorf("execution %s: %w", execution.ID, types.ErrNotFound)
		}
		data, err := encodeExecution(execution)
		if err != nil {
			return err
		}
		return b.Put([]byte(execution.ID), data)
	})
}

func (s *BoltStore) DeleteExecution(id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketExecutions)
		data := b.Get([]byte(id))
		if data == nil {
			return fmt.Errorf("execution %s: %w", id, types.ErrNotFound)
		}
		execution, err := decodeExecution(data)
		if err != nil {
			return err
		}
		if err := tx.Bucket(bucketExecutionsByTask).Delete(executionTaskKey(execution.TaskID, id)); err != nil {
			return err
		}
		return b.Delete([]byte(id))
	})
}

// Node operations

func (s *BoltStore) CreateNode(node *types.Node) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketNodes)
		data, err := encodeNode(node)
		if err != nil {
			return err
		}
		return b.Put([]byte(node.ID), data)
	})
}

func (s *BoltStore) GetNode(id string) (*types.Node, error) {
	var node *types.Node
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketNodes).Get([]byte(id))
		if data == nil {
			return fmt.Errorf("node %s: %w", id, types.ErrNotFound)
		}
		var err error
		node, err = decodeNode(data)
		return err
	})
	if err != nil {
		return nil, err
	}
	return node, nil
}

func (s *BoltStore) ListNodes() ([]*types.Node, error) {
	var nodes []*types.Node
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketNodes).ForEach(func(k, v []byte) error {
			node, err := decodeNode(v)
			if err != nil {
				return err
			}
			nodes = append(nodes, node)
			return nil
		})
	})
	return nodes, err
}

func (s *BoltStore) UpdateNode(node *types.Node) error {
	return s.CreateNode(node) // Same as create (upsert)
}

func (s *BoltStore) DeleteNode(id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketNodes).Delete([]byte(id))
	})
}

// Heartbeat history operations

// heartbeatKey sorts samples by node then time
func heartbeatKey(nodeID string, ts time.Time) []byte {
	return []byte(nodeID + "/" + ts.UTC().Format(time.RFC3339Nano))
}

func (s *BoltStore) AppendHeartbeat(hb *types.NodeHeartbeat) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(hb)
		if err != nil {
			return err
		}
		return tx.Bucket(bucketHeartbeats).Put(heartbeatKey(hb.NodeID, hb.Timestamp), data)
	})
}

func (s *BoltStore) ListHeartbeatsSince(nodeID string, since time.Time) ([]*types.NodeHeartbeat, error) {
	var samples []*types.NodeHeartbeat
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketHeartbeats).Cursor()
		prefix := []byte(nodeID + "/")
		start := heartbeatKey(nodeID, since)
		for k, v := c.Seek(start); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
			var hb types.NodeHeartbeat
			if err := json.Unmarshal(v, &hb); err != nil {
				return err
			}
			samples = append(samples, &hb)
		}
		return nil
	})
	return samples, err
}

func (s *BoltStore) PruneHeartbeatsBefore(cutoff time.Time) (int, error) {
	pruned := 0
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketHeartbeats)
		c := b.Cursor()
		var stale [][]byte
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var hb types.NodeHeartbeat
			if err := json.Unmarshal(v, &hb); err != nil {
				continue
			}
			if hb.Timestamp.Before(cutoff) {
				key := make([]byte, len(k))
				copy(key, k)
				stale = append(stale, key)
			}
		}
		for _, k := range stale {
			if err := b.Delete(k); err != nil {
				return err
			}
			pruned++
		}
		return nil
	})
	return pruned, err
}

// Node project operations

func nodeProjectKey(nodeID, projectPublicID string) []byte {
	return []byte(nodeID + "/" + projectPublicID)
}

func (s *BoltStore) UpsertNodeProject(np *types.NodeProject) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(np)
		if err != nil {
			return err
		}
		return tx.Bucket(bucketNodeProjects).Put(nodeProjectKey(np.NodeID, np.ProjectPublicID), data)
	})
}

func (s *BoltStore) GetNodeProject(nodeID, projectPublicID string) (*types.NodeProject, error) {
	var np types.NodeProject
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketNodeProjects).Get(nodeProjectKey(nodeID, projectPublicID))
		if data == nil {
			return fmt.Errorf("node project %s/%s: %w", nodeID, projectPublicID, types.ErrNotFound)
		}
		return json.Unmarshal(data, &np)
	})
	if err != nil {
		return nil, err
	}
	return &np, nil
}

func (s *BoltStore) ListNodeProjectsByNode(nodeID string) ([]*types.NodeProject, error) {
	var records []*types.NodeProject
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketNodeProjects).Cursor()
		prefix := []byte(nodeID + "/")
		for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
			var np types.NodeProject
			if err := json.Unmarshal(v, &np); err != nil {
				return err
			}
			records = append(records, &np)
		}
		return nil
	})
	return records, err
}

func (s *BoltStore) DeleteNodeProjectsByNode(nodeID string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketNodeProjects)
		c := b.Cursor()
		prefix := []byte(nodeID + "/")
		var keys [][]byte
		for k, _ := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, _ = c.Next() {
			key := make([]byte, len(k))
			copy(key, k)
			keys = append(keys, key)
		}
		for _, k := range keys {
			if err := b.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *BoltStore) DeleteNodeProjectsByProject(projectPublicID string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketNodeProjects)
		var keys [][]byte
		err := b.ForEach(func(k, v []byte) error {
			var np types.NodeProject
			if err := json.Unmarshal(v, &np); err != nil {
				return nil
			}
			if np.ProjectPublicID == projectPublicID {
				key := make([]byte, len(k))
				copy(key, k)
				keys = append(keys, key)
			}
			return nil
		})
		if err != nil {
			return err
		}
		for _, k := range keys {
			if err := b.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
}

// Node project file operations

func (s *BoltStore) PutNodeProjectFiles(nodeID, projectPublicID string, files []*types.NodeProjectFile) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketNodeProjectFiles)
		key := nodeProjectKey(nodeID, projectPublicID)
		data, err := json.Marshal(files)
		if err != nil {
			return err
		}
		return b.Put(key, data)
	})
}

func (s *BoltStore) ListNodeProjectFiles(nodeID, projectPublicID string) ([]*types.NodeProjectFile, error) {
	var files []*types.NodeProjectFile
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketNodeProjectFiles).Get(nodeProjectKey(nodeID, projectPublicID))
		if data == nil {
			return nil
		}
		return json.Unmarshal(data, &files)
	})
	return files, err
}

func (s *BoltStore) DeleteNodeProjectFiles(nodeID, projectPublicID string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketNodeProjectFiles).Delete(nodeProjectKey(nodeID, projectPublicID))
	})
}

// Permission operations

func permissionKey(userID uint64, nodeID string) []byte {
	return append(u64Key(userID), []byte("/"+nodeID)...)
}

func (s *BoltStore) GrantNodePermission(perm *types.UserNodePermission) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		data, err := encodePermission(perm)
		if err != nil {
			return err
		}
		return tx.Bucket(bucketPermissions).Put(permissionKey(perm.UserID, perm.NodeID), data)
	})
}

func (s *BoltStore) RevokeNodePermission(userID uint64, nodeID string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketPermissions).Delete(permissionKey(userID, nodeID))
	})
}

func (s *BoltStore) HasNodePermission(userID uint64, nodeID string) (bool, error) {
	var found bool
	err := s.db.View(func(tx *bolt.Tx) error {
		found = tx.Bucket(bucketPermissions).Get(permissionKey(userID, nodeID)) != nil
		return nil
	})
	return found, err
}

func (s *BoltStore) DeleteNodePermissionsByNode(nodeID string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketPermissions)
		var keys [][]byte
		err := b.ForEach(func(k, v []byte) error {
			perm, err := decodePermission(v)
			if err != nil {
				return nil
			}
			if perm.NodeID == nodeID {
				key := make([]byte, len(k))
				copy(key, k)
				keys = append(keys, key)
			}
			return nil
		})
		if err != nil {
			return err
		}
		for _, k := range keys {
			if err := b.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
}

// Install key operations

func (s *BoltStore) PutInstallKey(key *types.InstallKey) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		data, err := encodeInstallKey(key)
		if err != nil {
			return err
		}
		return tx.Bucket(bucketInstallKeys).Put([]byte(key.Key), data)
	})
}

func (s *BoltStore) GetInstallKey(key string) (*types.InstallKey, error) {
	var installKey *types.InstallKey
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketInstallKeys).Get([]byte(key))
		if data == nil {
			return fmt.Errorf("install key: %w", types.ErrNotFound)
		}
		var err error
		installKey, err = decodeInstallKey(data)
		return err
	})
	if err != nil {
		return nil, err
	}
	return installKey, nil
}

func (s *BoltStore) DeleteInstallKey(key string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketInstallKeys).Delete([]byte(key))
	})
}

func (s *BoltStore) DeleteExpiredInstallKeys(now time.Time) (int, error) {
	deleted := 0
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketInstallKeys)
		var keys [][]byte
		err := b.ForEach(func(k, v []byte) error {
			installKey, err := decodeInstallKey(v)
			if err != nil {
				return nil
			}
			if !installKey.Claimed && installKey.ExpiresAt.Before(now) {
				key := make([]byte, len(k))
				copy(key, k)
				keys = append(keys, key)
			}
			return nil
		})
		if err != nil {
			return err
		}
		for _, k := range keys {
			if err := b.Delete(k); err != nil {
				return err
			}
			deleted++
		}
		return nil
	})
	return deleted, err
}

// Audit log operations

func (s *BoltStore) AppendAuditLog(entry *types.AuditLog) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketAuditLogs)
		if entry.ID == 0 {
			id, err := b.NextSequence()
			if err != nil {
				return err
			}
			entry.ID = id
		}
		data, err := encodeAudit(entry)
		if err != nil {
			return err
		}
		return b.Put(u64Key(entry.ID), data)
	})
}

func (s *BoltStore) ListAuditLogs(limit int) ([]*types.AuditLog, error) {
	var entries []*types.AuditLog
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketAuditLogs).Cursor()
		// Newest first
		for k, v := c.Last(); k != nil; k, v = c.Prev() {
			entry, err := decodeAudit(v)
			if err != nil {
				return err
			}
			entries = append(entries, entry)
			if limit > 0 && len(entries) >= limit {
				return nil
			}
		}
		return nil
	})
	return entries, err
}
