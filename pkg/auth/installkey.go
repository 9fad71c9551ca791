package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/antcode-sh/antcode/pkg/cache"
	"github.com/antcode-sh/antcode/pkg/manager"
	"github.com/antcode-sh/antcode/pkg/types"
)

const (
	defaultKeyTTL = 24 * time.Hour
	// claim attempts per key before the key is temporarily blocked
	claimFailureLimit  = 5
	claimFailureWindow = 10 * time.Minute
)

// ClaimRequest is what a worker presents when redeeming an install key
type ClaimRequest struct {
	Key         string `json:"key"`
	MachineCode string `json:"machine_code"`
	// Source identifies the claiming origin (usually the worker's
	// outward IP); the key binds to it on first successful claim
	Source string `json:"source"`
	Name   string `json:"name"`
	Host   string `json:"host"`
	Port   int    `json:"port"`
}

// KeyService manages the install-key handshake that bootstraps new
// worker nodes without pre-shared credentials
type KeyService struct {
	manager *manager.Manager
	cache   cache.Cache
}

// NewKeyService creates the install-key service
func NewKeyService(mgr *manager.Manager, c cache.Cache) *KeyService {
	return &KeyService{manager: mgr, cache: c}
}

// Generate mints a single-use install key
func (s *KeyService) Generate(createdBy uint64, ttl time.Duration) (*types.InstallKey, error) {
	if ttl <= 0 {
		ttl = defaultKeyTTL
	}
	raw := make([]byte, 16)
	if _, err := rand.Read(raw); err != nil {
		return nil, err
	}
	key := &types.InstallKey{
		Key:       hex.EncodeToString(raw),
		CreatedBy: createdBy,
		ExpiresAt: time.Now().Add(ttl),
		CreatedAt: time.Now(),
	}
	if err := s.manager.Store().PutInstallKey(key); err != nil {
		return nil, err
	}
	return key, nil
}

// Claim redeems an install key and registers the node. A claimed key
// only re-issues credentials to the source it was bound to, so a leaked
// key is useless elsewhere.
func (s *KeyService) Claim(ctx context.Context, req *ClaimRequest) (*types.Node, error) {
	if req.Key == "" || req.MachineCode == "" || req.Host == "" || req.Port == 0 {
		return nil, fmt.Errorf("%w: key, machine_code, host and port are required", types.ErrValidation)
	}
	if s.blocked(ctx, req.Key, req.Source) {
		return nil, fmt.Errorf("%w: install key temporarily blocked", types.ErrPermission)
	}

	key, err := s.manager.Store().GetInstallKey(req.Key)
	if err != nil {
		s.recordFailure(ctx, req.Key, req.Source)
		return nil, fmt.Errorf("%w: unknown install key", types.ErrPermission)
	}
	if time.Now().After(key.ExpiresAt) {
		return nil, fmt.Errorf("%w: install key expired", types.ErrPermission)
	}
	if key.Claimed {
		if key.AllowedSource == "" || key.AllowedSource != req.Source || key.ClaimedBy != req.MachineCode {
			s.recordFailure(ctx, req.Key, req.Source)
			return nil, fmt.Errorf("%w: install key already claimed", types.ErrPermission)
		}
		// Same machine re-claiming from its bound source: re-issue the
		// existing registration
		return s.existingNode(key)
	}

	node := &types.Node{
		Name:        req.Name,
		Host:        req.Host,
		Port:        req.Port,
		MachineCode: req.MachineCode,
		Status:      types.NodeOffline,
	}
	if node.Name == "" {
		node.Name = req.Host
	}
	if err := s.manager.CreateNode(node); err != nil {
		return nil, err
	}

	now := time.Now()
	key.Claimed = true
	key.ClaimedBy = req.MachineCode
	key.AllowedSource = req.Source
	key.ClaimedAt = &now
	if err := s.manager.Store().PutInstallKey(key); err != nil {
		return nil, err
	}
	return node, nil
}

func (s *KeyService) existingNode(key *types.InstallKey) (*types.Node, error) {
	nodes, err := s.manager.ListNodes()
	if err != nil {
		return nil, err
	}
	for _, node := range nodes {
		if node.MachineCode == key.ClaimedBy {
			return node, nil
		}
	}
	return nil, fmt.Errorf("%w: claimed node no longer registered", types.ErrNotFound)
}

func (s *KeyService) blocked(ctx context.Context, key, source string) bool {
	_, found, err := s.cache.Get(ctx, "install_block:"+key+":"+source)
	return err == nil && found
}

// recordFailure counts bad claim attempts per (key, source) pair, so an
// attacker probing from one address cannot lock the legitimate worker
// out. Crossing the limit plants a block marker for the rest of the
// window.
func (s *KeyService) recordFailure(ctx context.Context, key, source string) {
	n, err := s.cache.Increment(ctx, "install_fail:"+key+":"+source, claimFailureWindow)
	if err != nil {
		return
	}
	if n >= claimFailureLimit {
		s.cache.Set(ctx, "install_block:"+key+":"+source, []byte{1}, claimFailureWindow)
	}
}
