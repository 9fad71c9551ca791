package api

import (
	"fmt"
	"net/http"
	"os"

	"github.com/antcode-sh/antcode/pkg/types"
	"github.com/gin-gonic/gin"
	"gopkg.in/yaml.v3"
)

type projectRequest struct {
	Name              string                  `json:"name"`
	Type              types.ProjectType       `json:"type"`
	Rule              *types.RuleSpec         `json:"rule,omitempty"`
	File              *types.FileSpec         `json:"file,omitempty"`
	Code              *types.CodeSpec         `json:"code,omitempty"`
	EntryPoint        string                  `json:"entry_point,omitempty"`
	BoundNodeID       string                  `json:"bound_node_id,omitempty"`
	ExecutionStrategy types.ExecutionStrategy `json:"execution_strategy,omitempty"`
	FallbackEnabled   bool                    `json:"fallback_enabled"`
}

func (s *Server) createProject(c *gin.Context) {
	var req projectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apiError(c, fmt.Errorf("%w: %v", types.ErrValidation, err))
		return
	}
	if req.Name == "" {
		apiError(c, fmt.Errorf("%w: name is required", types.ErrValidation))
		return
	}
	if err := normalizeRule(req.Rule); err != nil {
		apiError(c, err)
		return
	}

	project := &types.Project{
		OwnerID:           currentUser(c).ID,
		Name:              req.Name,
		Type:              req.Type,
		Rule:              req.Rule,
		File:              req.File,
		Code:              req.Code,
		EntryPoint:        req.EntryPoint,
		BoundNodeID:       req.BoundNodeID,
		ExecutionStrategy: req.ExecutionStrategy,
		FallbackEnabled:   req.FallbackEnabled,
	}
	if err := s.manager.CreateProject(project); err != nil {
		apiError(c, err)
		return
	}
	s.manager.Audit(c.Request.Context(), currentUser(c), "project.create", project.PublicID, project.Name)
	c.JSON(http.StatusCreated, project)
}

// normalizeRule parses raw_yaml into the structured config when only
// the yaml form was supplied
func normalizeRule(rule *types.RuleSpec) error {
	if rule == nil || rule.RawYAML == "" || len(rule.Config) > 0 {
		return nil
	}
	var parsed struct {
		Engine string         `yaml:"engine"`
		Config map[string]any `yaml:"config"`
	}
	if err := yaml.Unmarshal([]byte(rule.RawYAML), &parsed); err != nil {
		return fmt.Errorf("%w: bad rule yaml: %v", types.ErrValidation, err)
	}
	if rule.Engine == "" {
		rule.Engine = parsed.Engine
	}
	rule.Config = parsed.Config
	return nil
}

func (s *Server) listProjects(c *gin.Context) {
	user := currentUser(c)
	var projects []*types.Project
	var err error
	if user.Role == types.UserRoleAdmin {
		projects, err = s.manager.ListProjects()
	} else {
		projects, err = s.manager.Store().ListProjectsByOwner(user.ID)
	}
	if err != nil {
		apiError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"projects": projects})
}

// loadProject resolves the path id and enforces ownership
func (s *Server) loadProject(c *gin.Context) (*types.Project, bool) {
	project, err := s.manager.GetProjectByIDOrPublicID(c.Param("id"))
	if err != nil {
		apiError(c, err)
		return nil, false
	}
	user := currentUser(c)
	if user.Role != types.UserRoleAdmin && project.OwnerID != user.ID {
		apiError(c, types.ErrPermission)
		return nil, false
	}
	return project, true
}

func (s *Server) getProject(c *gin.Context) {
	project, ok := s.loadProject(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, project)
}

func (s *Server) updateProject(c *gin.Context) {
	project, ok := s.loadProject(c)
	if !ok {
		return
	}
	var req projectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apiError(c, fmt.Errorf("%w: %v", types.ErrValidation, err))
		return
	}
	if err := normalizeRule(req.Rule); err != nil {
		apiError(c, err)
		return
	}

	oldHash := project.FileHash
	if req.Name != "" {
		project.Name = req.Name
	}
	if req.Rule != nil {
		project.Rule = req.Rule
	}
	if req.File != nil {
		project.File = req.File
	}
	if req.Code != nil {
		project.Code = req.Code
	}
	if req.EntryPoint != "" {
		project.EntryPoint = req.EntryPoint
	}
	project.BoundNodeID = req.BoundNodeID
	if req.ExecutionStrategy != "" {
		project.ExecutionStrategy = req.ExecutionStrategy
	}
	project.FallbackEnabled = req.FallbackEnabled

	if err := s.manager.UpdateProject(project); err != nil {
		apiError(c, err)
		return
	}
	if project.FileHash != oldHash {
		// Content changed: every node copy is stale now
		if err := s.manager.Store().DeleteNodeProjectsByProject(project.PublicID); err != nil {
			s.logger.Warn().Err(err).Str("project_id", project.PublicID).Msg("sync invalidation failed")
		}
	}
	s.manager.Audit(c.Request.Context(), currentUser(c), "project.update", project.PublicID, project.Name)
	c.JSON(http.StatusOK, project)
}

func (s *Server) deleteProject(c *gin.Context) {
	project, ok := s.loadProject(c)
	if !ok {
		return
	}
	if err := s.manager.DeleteProject(project.ID); err != nil {
		apiError(c, err)
		return
	}
	s.manager.Audit(c.Request.Context(), currentUser(c), "project.delete", project.PublicID, project.Name)
	c.Status(http.StatusNoContent)
}

// downloadArchive serves a file project's archive. Workers authenticate
// with their node api key; users with their token.
func (s *Server) downloadArchive(c *gin.Context) {
	token := bearerToken(c)
	if _, err := s.manager.GetUserByToken(token); err != nil {
		if !s.isNodeKey(token) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
	}

	project, err := s.manager.GetProjectByIDOrPublicID(c.Param("id"))
	if err != nil {
		apiError(c, err)
		return
	}
	if project.Type != types.ProjectTypeFile || project.File == nil || project.File.ArchivePath == "" {
		apiError(c, fmt.Errorf("%w: project has no archive", types.ErrValidation))
		return
	}
	if want := c.Query("hash"); want != "" && want != project.FileHash {
		// The node asked for a version that no longer exists
		apiError(c, fmt.Errorf("%w: archive version %s", types.ErrNotFound, want))
		return
	}
	if _, err := os.Stat(project.File.ArchivePath); err != nil {
		apiError(c, fmt.Errorf("%w: archive missing on disk", types.ErrNotFound))
		return
	}
	c.Header("X-File-Hash", project.FileHash)
	c.File(project.File.ArchivePath)
}

func (s *Server) isNodeKey(token string) bool {
	if token == "" {
		return false
	}
	nodes, err := s.manager.ListNodes()
	if err != nil {
		return false
	}
	for _, node := range nodes {
		if node.APIKey == token {
			return true
		}
	}
	return false
}
