package api

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/antcode-sh/antcode/pkg/auth"
	"github.com/antcode-sh/antcode/pkg/balancer"
	"github.com/antcode-sh/antcode/pkg/types"
	"github.com/gin-gonic/gin"
)

type nodeRequest struct {
	Name           string                    `json:"name"`
	Host           string                    `json:"host"`
	Port           int                       `json:"port"`
	Region         string                    `json:"region,omitempty"`
	Tags           []string                  `json:"tags,omitempty"`
	Capabilities   *types.NodeCapabilities   `json:"capabilities,omitempty"`
	ResourceLimits *types.NodeResourceLimits `json:"resource_limits,omitempty"`
	Status         types.NodeStatus          `json:"status,omitempty"`
}

func (s *Server) createNode(c *gin.Context) {
	var req nodeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apiError(c, fmt.Errorf("%w: %v", types.ErrValidation, err))
		return
	}
	if req.Host == "" || req.Port == 0 {
		apiError(c, fmt.Errorf("%w: host and port are required", types.ErrValidation))
		return
	}
	node := &types.Node{
		Name:           req.Name,
		Host:           req.Host,
		Port:           req.Port,
		Region:         req.Region,
		Tags:           req.Tags,
		ResourceLimits: req.ResourceLimits,
		Status:         types.NodeOffline,
	}
	if req.Capabilities != nil {
		node.Capabilities = *req.Capabilities
	}
	if node.Name == "" {
		node.Name = req.Host
	}
	if err := s.manager.CreateNode(node); err != nil {
		apiError(c, err)
		return
	}
	s.registry.Refresh()
	s.manager.Audit(c.Request.Context(), currentUser(c), "node.create", node.ID, node.Name)

	// Credentials are rendered exactly once, at registration
	c.JSON(http.StatusCreated, gin.H{
		"node":       node,
		"api_key":    node.APIKey,
		"secret_key": node.SecretKey,
	})
}

func (s *Server) listNodes(c *gin.Context) {
	nodes, err := s.manager.ListNodes()
	if err != nil {
		apiError(c, err)
		return
	}
	user := currentUser(c)
	if user.Role != types.UserRoleAdmin {
		allowed := nodes[:0]
		for _, node := range nodes {
			if s.userMayDispatch(user, node.ID) {
				allowed = append(allowed, node)
			}
		}
		nodes = allowed
	}
	c.JSON(http.StatusOK, gin.H{"nodes": nodes})
}

func (s *Server) getNode(c *gin.Context) {
	node, err := s.registry.GetNode(c.Param("id"))
	if err != nil {
		apiError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"node":      node,
		"online":    s.registry.IsOnline(node),
		"suspended": s.registry.Suspended(node.ID),
	})
}

func (s *Server) updateNode(c *gin.Context) {
	node, err := s.registry.GetNode(c.Param("id"))
	if err != nil {
		apiError(c, err)
		return
	}
	var req nodeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apiError(c, fmt.Errorf("%w: %v", types.ErrValidation, err))
		return
	}
	if req.Name != "" {
		node.Name = req.Name
	}
	if req.Host != "" {
		node.Host = req.Host
	}
	if req.Port != 0 {
		node.Port = req.Port
	}
	if req.Region != "" {
		node.Region = req.Region
	}
	if req.Tags != nil {
		node.Tags = req.Tags
	}
	if req.Capabilities != nil {
		node.Capabilities = *req.Capabilities
	}
	if req.ResourceLimits != nil {
		node.ResourceLimits = req.ResourceLimits
	}
	if req.Status == types.NodeMaintenance || req.Status == types.NodeOffline || req.Status == types.NodeOnline {
		node.Status = req.Status
	}
	if err := s.manager.UpdateNode(node); err != nil {
		apiError(c, err)
		return
	}
	s.registry.Refresh()
	s.manager.Audit(c.Request.Context(), currentUser(c), "node.update", node.ID, node.Name)
	c.JSON(http.StatusOK, node)
}

func (s *Server) deleteNode(c *gin.Context) {
	id := c.Param("id")
	if err := s.manager.DeleteNode(id); err != nil {
		apiError(c, err)
		return
	}
	s.registry.Refresh()
	s.manager.Audit(c.Request.Context(), currentUser(c), "node.delete", id, "")
	c.Status(http.StatusNoContent)
}

type connectRequest struct {
	Host        string `json:"host"`
	Port        int    `json:"port"`
	MachineCode string `json:"machine_code,omitempty"`
}

// connectNode brings a registered node online by its address. The
// machine code is learned on first contact and enforced afterwards.
func (s *Server) connectNode(c *gin.Context) {
	var req connectRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Host == "" || req.Port == 0 {
		apiError(c, fmt.Errorf("%w: host and port are required", types.ErrValidation))
		return
	}
	nodes, err := s.manager.ListNodes()
	if err != nil {
		apiError(c, err)
		return
	}
	var node *types.Node
	for _, n := range nodes {
		if n.Host == req.Host && n.Port == req.Port {
			node = n
			break
		}
	}
	if node == nil {
		apiError(c, fmt.Errorf("%w: no node at %s:%d", types.ErrNotFound, req.Host, req.Port))
		return
	}
	if node.MachineCode == "" {
		node.MachineCode = req.MachineCode
	} else if req.MachineCode != "" && node.MachineCode != req.MachineCode {
		apiError(c, fmt.Errorf("%w: machine code mismatch", types.ErrPermission))
		return
	}
	node.Status = types.NodeOnline
	now := time.Now()
	node.LastHeartbeat = &now
	if err := s.manager.UpdateNode(node); err != nil {
		apiError(c, err)
		return
	}
	s.registry.Refresh()
	s.manager.Audit(c.Request.Context(), currentUser(c), "node.connect", node.ID, node.Name)
	c.JSON(http.StatusOK, gin.H{"node": node, "online": true})
}

// rebindNode replaces a node's machine code after a legitimate
// re-image, which would otherwise read as impersonation
func (s *Server) rebindNode(c *gin.Context) {
	node, err := s.registry.GetNode(c.Param("id"))
	if err != nil {
		apiError(c, err)
		return
	}
	var body struct {
		MachineCode string `json:"machine_code"`
	}
	if err := c.ShouldBindJSON(&body); err != nil || body.MachineCode == "" {
		apiError(c, fmt.Errorf("%w: machine_code is required", types.ErrValidation))
		return
	}
	node.MachineCode = body.MachineCode
	if err := s.manager.UpdateNode(node); err != nil {
		apiError(c, err)
		return
	}
	s.registry.Refresh()
	s.manager.Audit(c.Request.Context(), currentUser(c), "node.rebind", node.ID, node.Name)
	c.JSON(http.StatusOK, node)
}

// disconnectNode takes a node out of rotation without deleting it
func (s *Server) disconnectNode(c *gin.Context) {
	node, err := s.registry.GetNode(c.Param("id"))
	if err != nil {
		apiError(c, err)
		return
	}
	node.Status = types.NodeOffline
	if err := s.manager.UpdateNode(node); err != nil {
		apiError(c, err)
		return
	}
	s.registry.Refresh()
	s.manager.Audit(c.Request.Context(), currentUser(c), "node.disconnect", node.ID, node.Name)
	c.JSON(http.StatusOK, gin.H{"node": node, "online": false})
}

// nodeStats aggregates the fleet for dashboards
func (s *Server) nodeStats(c *gin.Context) {
	nodes, err := s.manager.ListNodes()
	if err != nil {
		apiError(c, err)
		return
	}
	var online, offline, maintenance, running, capacity int
	for _, node := range nodes {
		switch node.Status {
		case types.NodeOnline:
			online++
		case types.NodeMaintenance:
			maintenance++
		default:
			offline++
		}
		running += node.Metrics.RunningTasks
		capacity += node.MaxConcurrent()
	}
	c.JSON(http.StatusOK, gin.H{
		"total":         len(nodes),
		"online":        online,
		"offline":       offline,
		"maintenance":   maintenance,
		"running_tasks": running,
		"capacity":      capacity,
	})
}

// testNode probes a node on demand, clearing a suspension on success
func (s *Server) testNode(c *gin.Context) {
	info, err := s.registry.TestNode(c.Request.Context(), c.Param("id"))
	if err != nil {
		apiError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "online", "info": info})
}

func (s *Server) rankNodes(c *gin.Context) {
	req := balancer.Requirements{
		Region:        c.Query("region"),
		RequireRender: c.Query("render") == "true",
	}
	if tags := c.QueryArray("tag"); len(tags) > 0 {
		req.Tags = tags
	}
	candidates, err := s.balancer.Rank(c.Request.Context(), req)
	if err != nil {
		apiError(c, err)
		return
	}
	if topN, err := strconv.Atoi(c.DefaultQuery("top", "0")); err == nil && topN > 0 && topN < len(candidates) {
		candidates = candidates[:topN]
	}
	c.JSON(http.StatusOK, gin.H{"candidates": candidates})
}

func (s *Server) nodeQueueStatus(c *gin.Context) {
	nodeID := c.Param("id")
	if !s.userMayDispatch(currentUser(c), nodeID) {
		apiError(c, types.ErrPermission)
		return
	}
	status, err := s.dispatcher.QueueStatus(c.Request.Context(), nodeID)
	if err != nil {
		apiError(c, err)
		return
	}
	c.JSON(http.StatusOK, status)
}

// clusterMetricsHistory returns heartbeat samples, optionally filtered
// to one node, for the last ?hours (default 24)
func (s *Server) clusterMetricsHistory(c *gin.Context) {
	hours, err := strconv.Atoi(c.DefaultQuery("hours", "24"))
	if err != nil || hours <= 0 {
		hours = 24
	}
	since := time.Now().Add(-time.Duration(hours) * time.Hour)

	var nodeIDs []string
	if id := c.Query("node_id"); id != "" {
		nodeIDs = []string{id}
	} else {
		nodes, err := s.manager.ListNodes()
		if err != nil {
			apiError(c, err)
			return
		}
		for _, node := range nodes {
			nodeIDs = append(nodeIDs, node.ID)
		}
	}

	history := make(map[string][]*types.NodeHeartbeat, len(nodeIDs))
	for _, id := range nodeIDs {
		samples, err := s.manager.Store().ListHeartbeatsSince(id, since)
		if err != nil {
			apiError(c, err)
			return
		}
		history[id] = samples
	}
	c.JSON(http.StatusOK, gin.H{"since": since, "history": history})
}

// userMayDispatch checks the per-user node ACL; admins always may
func (s *Server) userMayDispatch(user *types.User, nodeID string) bool {
	if user.Role == types.UserRoleAdmin {
		return true
	}
	ok, err := s.manager.Store().HasNodePermission(user.ID, nodeID)
	return err == nil && ok
}

func (s *Server) grantPermission(c *gin.Context) {
	userID, err := strconv.ParseUint(c.Param("userID"), 10, 64)
	if err != nil {
		apiError(c, fmt.Errorf("%w: bad user id", types.ErrValidation))
		return
	}
	perm := &types.UserNodePermission{
		UserID:    userID,
		NodeID:    c.Param("id"),
		CreatedAt: time.Now(),
	}
	if err := s.manager.Store().GrantNodePermission(perm); err != nil {
		apiError(c, err)
		return
	}
	s.manager.Audit(c.Request.Context(), currentUser(c), "permission.grant", perm.NodeID, c.Param("userID"))
	c.JSON(http.StatusCreated, perm)
}

func (s *Server) revokePermission(c *gin.Context) {
	userID, err := strconv.ParseUint(c.Param("userID"), 10, 64)
	if err != nil {
		apiError(c, fmt.Errorf("%w: bad user id", types.ErrValidation))
		return
	}
	if err := s.manager.Store().RevokeNodePermission(userID, c.Param("id")); err != nil {
		apiError(c, err)
		return
	}
	s.manager.Audit(c.Request.Context(), currentUser(c), "permission.revoke", c.Param("id"), c.Param("userID"))
	c.Status(http.StatusNoContent)
}

func (s *Server) createInstallKey(c *gin.Context) {
	var body struct {
		TTLHours int `json:"ttl_hours"`
	}
	_ = c.ShouldBindJSON(&body)

	key, err := s.keys.Generate(currentUser(c).ID, time.Duration(body.TTLHours)*time.Hour)
	if err != nil {
		apiError(c, err)
		return
	}
	s.manager.Audit(c.Request.Context(), currentUser(c), "installkey.create", key.Key, "")
	c.JSON(http.StatusCreated, key)
}

// claimInstallKey is the unauthenticated bootstrap endpoint a fresh
// worker calls with its install key
func (s *Server) claimInstallKey(c *gin.Context) {
	var req auth.ClaimRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apiError(c, fmt.Errorf("%w: %v", types.ErrValidation, err))
		return
	}
	if req.Source == "" {
		req.Source = c.ClientIP()
	}
	node, err := s.keys.Claim(c.Request.Context(), &req)
	if err != nil {
		apiError(c, err)
		return
	}
	s.registry.Refresh()
	c.JSON(http.StatusCreated, gin.H{
		"node_id":    node.ID,
		"api_key":    node.APIKey,
		"secret_key": node.SecretKey,
	})
}

func (s *Server) listAudit(c *gin.Context) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "100"))
	if err != nil || limit <= 0 {
		limit = 100
	}
	entries, err := s.manager.Store().ListAuditLogs(limit)
	if err != nil {
		apiError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"entries": entries})
}

func (s *Server) createUser(c *gin.Context) {
	var body struct {
		Username string         `json:"username"`
		Role     types.UserRole `json:"role"`
	}
	if err := c.ShouldBindJSON(&body); err != nil || body.Username == "" {
		apiError(c, fmt.Errorf("%w: username is required", types.ErrValidation))
		return
	}
	role := body.Role
	if role == "" {
		role = types.UserRoleUser
	}
	user := &types.User{Username: body.Username, Role: role}
	if err := s.manager.CreateUser(user); err != nil {
		apiError(c, err)
		return
	}
	s.manager.Audit(c.Request.Context(), currentUser(c), "user.create", user.PublicID, user.Username)
	// The token is rendered exactly once
	c.JSON(http.StatusCreated, gin.H{"user": user, "api_token": user.APIToken})
}

func (s *Server) whoami(c *gin.Context) {
	c.JSON(http.StatusOK, currentUser(c))
}
