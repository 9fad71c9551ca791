package storage

import (
	"encoding/json"

	"github.com/antcode-sh/antcode/pkg/types"
)

// Stored forms. The API-facing structs hide internal ids, ownership
// links and credentials with json:"-"; persisting them directly would
// drop those fields on the round trip. Each envelope embeds the public
// struct and re-exposes the hidden fields under storage-only names.

type storedUser struct {
	types.User
	InternalID uint64 `json:"internal_id"`
	APIToken   string `json:"api_token,omitempty"`
}

func encodeUser(u *types.User) ([]byte, error) {
	return json.Marshal(&storedUser{User: *u, InternalID: u.ID, APIToken: u.APIToken})
}

func decodeUser(data []byte) (*types.User, error) {
	var rec storedUser
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, err
	}
	rec.User.ID = rec.InternalID
	rec.User.APIToken = rec.APIToken
	return &rec.User, nil
}

type storedProject struct {
	types.Project
	InternalID uint64 `json:"internal_id"`
	OwnerID    uint64 `json:"owner_id"`
}

func encodeProject(p *types.Project) ([]byte, error) {
	return json.Marshal(&storedProject{Project: *p, InternalID: p.ID, OwnerID: p.OwnerID})
}

func decodeProject(data []byte) (*types.Project, error) {
	var rec storedProject
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, err
	}
	rec.Project.ID = rec.InternalID
	rec.Project.OwnerID = rec.OwnerID
	return &rec.Project, nil
}

type storedTask struct {
	types.ScheduledTask
	InternalID uint64 `json:"internal_id"`
	UserID     uint64 `json:"user_id"`
	ProjectID  uint64 `json:"project_id"`
}

func encodeTask(t *types.ScheduledTask) ([]byte, error) {
	return json.Marshal(&storedTask{ScheduledTask: *t, InternalID: t.ID, UserID: t.UserID, ProjectID: t.ProjectID})
}

func decodeTask(data []byte) (*types.ScheduledTask, error) {
	var rec storedTask
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, err
	}
	rec.ScheduledTask.ID = rec.InternalID
	rec.ScheduledTask.UserID = rec.UserID
	rec.ScheduledTask.ProjectID = rec.ProjectID
	return &rec.ScheduledTask, nil
}

type storedExecution struct {
	types.TaskExecution
	// "task_id" is taken by the denormalised public id
	TaskID uint64 `json:"internal_task_id"`
}

func encodeExecution(e *types.TaskExecution) ([]byte, error) {
	return json.Marshal(&storedExecution{TaskExecution: *e, TaskID: e.TaskID})
}

func decodeExecution(data []byte) (*types.TaskExecution, error) {
	var rec storedExecution
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, err
	}
	rec.TaskExecution.TaskID = rec.TaskID
	return &rec.TaskExecution, nil
}

type storedNode struct {
	types.Node
	APIKey    string `json:"api_key,omitempty"`
	SecretKey string `json:"secret_key,omitempty"`
}

func encodeNode(n *types.Node) ([]byte, error) {
	return json.Marshal(&storedNode{Node: *n, APIKey: n.APIKey, SecretKey: n.SecretKey})
}

func decodeNode(data []byte) (*types.Node, error) {
	var rec storedNode
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, err
	}
	rec.Node.APIKey = rec.APIKey
	rec.Node.SecretKey = rec.SecretKey
	return &rec.Node, nil
}

type storedPermission struct {
	types.UserNodePermission
	UserID uint64 `json:"user_id"`
}

func encodePermission(p *types.UserNodePermission) ([]byte, error) {
	return json.Marshal(&storedPermission{UserNodePermission: *p, UserID: p.UserID})
}

func decodePermission(data []byte) (*types.UserNodePermission, error) {
	var rec storedPermission
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, err
	}
	rec.UserNodePermission.UserID = rec.UserID
	return &rec.UserNodePermission, nil
}

type storedInstallKey struct {
	types.InstallKey
	CreatedBy uint64 `json:"created_by"`
}

func encodeInstallKey(k *types.InstallKey) ([]byte, error) {
	return json.Marshal(&storedInstallKey{InstallKey: *k, CreatedBy: k.CreatedBy})
}

func decodeInstallKey(data []byte) (*types.InstallKey, error) {
	var rec storedInstallKey
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, err
	}
	rec.InstallKey.CreatedBy = rec.CreatedBy
	return &rec.InstallKey, nil
}

type storedAudit struct {
	types.AuditLog
	UserID uint64 `json:"user_id"`
}

func encodeAudit(a *types.AuditLog) ([]byte, error) {
	return json.Marshal(&storedAudit{AuditLog: *a, UserID: a.UserID})
}

func decodeAudit(data []byte) (*types.AuditLog, error) {
	var rec storedAudit
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, err
	}
	rec.AuditLog.UserID = rec.UserID
	return &rec.AuditLog, nil
}
