package projectsync

import (
	"context"
	"fmt"
	"time"

	"github.com/antcode-sh/antcode/pkg/log"
	"github.com/antcode-sh/antcode/pkg/manager"
	"github.com/antcode-sh/antcode/pkg/metrics"
	"github.com/antcode-sh/antcode/pkg/types"
	"github.com/rs/zerolog"
)

// Plan is what a sync round decided to do for one node/project pair.
// For method "code" the source travels inline in the task envelope; for
// "original" and "incremental" the worker pulls from DownloadURL.
type Plan struct {
	Method   types.TransferMethod `json:"method"`
	FileHash string               `json:"file_hash"`

	// Inline payload for code projects
	Code       string `json:"code,omitempty"`
	EntryPoint string `json:"entry_point,omitempty"`

	// Pull metadata for file projects
	DownloadURL string `json:"download_url,omitempty"`
	// Paths is the delta for incremental transfers; empty means the
	// whole archive
	Paths []string `json:"paths,omitempty"`
}

// Syncer decides how project content reaches each node and records the
// per-node copy state
type Syncer struct {
	manager   *manager.Manager
	masterURL string
	logger    zerolog.Logger
}

// NewSyncer creates a syncer. masterURL is the externally reachable
// base used to build download URLs.
func NewSyncer(mgr *manager.Manager, masterURL string) *Syncer {
	return &Syncer{
		manager:   mgr,
		masterURL: masterURL,
		logger:    log.WithComponent("projectsync"),
	}
}

// EnsureSynced computes and records the transfer plan for one project on
// one node. The returned plan feeds the task envelope; the worker
// performs the actual byte movement.
func (s *Syncer) EnsureSynced(ctx context.Context, node *types.Node, project *types.Project) (*Plan, error) {
	current, err := s.manager.Store().GetNodeProject(node.ID, project.PublicID)
	if err != nil && !types.IsNotFound(err) {
		return nil, err
	}

	plan := s.plan(node, project, current)
	metrics.ProjectSyncs.WithLabelValues(string(plan.Method)).Inc()

	now := time.Now()
	record := &types.NodeProject{
		NodeID:          node.ID,
		ProjectPublicID: project.PublicID,
		FileHash:        project.FileHash,
		Status:          types.SyncSynced,
		TransferMethod:  plan.Method,
		SyncedAt:        &now,
		LastUsedAt:      &now,
	}
	if current != nil {
		record.SyncCount = current.SyncCount
	}
	if plan.Method != types.TransferSkipped {
		record.SyncCount++
	}
	if project.File != nil {
		record.FileSize = project.File.SizeBytes
	}
	if err := s.manager.Store().UpsertNodeProject(record); err != nil {
		return nil, err
	}

	if project.Type == types.ProjectTypeFile && plan.Method != types.TransferSkipped {
		if err := s.recordFileHashes(node.ID, project); err != nil {
			s.logger.Warn().Err(err).Str("node_id", node.ID).Str("project_id", project.PublicID).Msg("file hash bookkeeping failed")
		}
	}

	s.logger.Debug().
		Str("node_id", node.ID).
		Str("project_id", project.PublicID).
		Str("method", string(plan.Method)).
		Msg("project sync planned")
	return plan, nil
}

// plan selects the transfer method. A matching hash skips the transfer
// entirely; rule projects carry no payload at all.
func (s *Syncer) plan(node *types.Node, project *types.Project, current *types.NodeProject) *Plan {
	if current != nil && current.Status == types.SyncSynced && current.FileHash == project.FileHash && project.FileHash != "" {
		return &Plan{Method: types.TransferSkipped, FileHash: project.FileHash}
	}

	switch project.Type {
	case types.ProjectTypeCode:
		plan := &Plan{Method: types.TransferCode, FileHash: project.FileHash, EntryPoint: project.EntryPoint}
		if project.Code != nil {
			plan.Code = project.Code.Source
		}
		return plan

	case types.ProjectTypeFile:
		plan := &Plan{
			Method:      types.TransferOriginal,
			FileHash:    project.FileHash,
			EntryPoint:  project.EntryPoint,
			DownloadURL: s.downloadURL(project),
		}
		if current != nil && current.FileHash != "" {
			if delta := s.delta(node.ID, project); delta != nil {
				plan.Method = types.TransferIncremental
				plan.Paths = delta
			}
		}
		return plan

	default:
		// Rule projects are pure configuration; the envelope carries the
		// rule inline, so nothing needs syncing
		return &Plan{Method: types.TransferSkipped, FileHash: project.FileHash}
	}
}

// delta compares the node's recorded per-file hashes against the
// project's current manifest. A nil result means incremental transfer
// is not possible and the full archive ships instead.
func (s *Syncer) delta(nodeID string, project *types.Project) []string {
	if project.File == nil || len(project.File.Files) == 0 {
		return nil
	}
	recorded, err := s.manager.Store().ListNodeProjectFiles(nodeID, project.PublicID)
	if err != nil || len(recorded) == 0 {
		return nil
	}
	onNode := make(map[string]string, len(recorded))
	for _, f := range recorded {
		onNode[f.Path] = f.Hash
	}

	var changed []string
	for _, f := range project.File.Files {
		if onNode[f.Path] != f.Hash {
			changed = append(changed, f.Path)
		}
	}
	if len(changed) == 0 {
		// Manifest drifted without file changes; ship nothing extra
		return []string{}
	}
	// An incremental transfer only pays off when most files are unchanged
	if len(changed)*2 >= len(project.File.Files) {
		return nil
	}
	return changed
}

func (s *Syncer) recordFileHashes(nodeID string, project *types.Project) error {
	if project.File == nil {
		return nil
	}
	files := make([]*types.NodeProjectFile, 0, len(project.File.Files))
	for _, f := range project.File.Files {
		files = append(files, &types.NodeProjectFile{
			NodeID:          nodeID,
			ProjectPublicID: project.PublicID,
			Path:            f.Path,
			Hash:            f.Hash,
		})
	}
	return s.manager.Store().PutNodeProjectFiles(nodeID, project.PublicID, files)
}

func (s *Syncer) downloadURL(project *types.Project) string {
	return fmt.Sprintf("%s/api/projects/%s/archive?hash=%s", s.masterURL, project.PublicID, project.FileHash)
}

// MarkFailed records a failed transfer so the next round retries a full
// sync instead of an incremental one
func (s *Syncer) MarkFailed(nodeID, projectPublicID string, cause error) {
	record, err := s.manager.Store().GetNodeProject(nodeID, projectPublicID)
	if err != nil {
		record = &types.NodeProject{NodeID: nodeID, ProjectPublicID: projectPublicID}
	}
	record.Status = types.SyncFailed
	if err := s.manager.Store().UpsertNodeProject(record); err != nil {
		s.logger.Error().Err(err).Str("node_id", nodeID).Str("project_id", projectPublicID).Msg("sync failure bookkeeping failed")
	}
	s.logger.Warn().Err(cause).Str("node_id", nodeID).Str("project_id", projectPublicID).Msg("project sync failed")
}

// Invalidate drops every node's copy state for a project, forcing a
// fresh transfer after the project content changed
func (s *Syncer) Invalidate(projectPublicID string) error {
	return s.manager.Store().DeleteNodeProjectsByProject(projectPublicID)
}
