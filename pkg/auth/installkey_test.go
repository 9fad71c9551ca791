package auth

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/antcode-sh/antcode/pkg/cache"
	"github.com/antcode-sh/antcode/pkg/manager"
	"github.com/antcode-sh/antcode/pkg/storage"
	"github.com/antcode-sh/antcode/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newKeyService(t *testing.T) *KeyService {
	t.Helper()
	store, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	mgr := manager.NewManagerWithStore(store, cache.NewMemoryCache(1000))
	t.Cleanup(func() { mgr.Shutdown() })
	return NewKeyService(mgr, mgr.Cache())
}

func claimRequest(key string) *ClaimRequest {
	return &ClaimRequest{
		Key:         key,
		MachineCode: "machine-abc",
		Source:      "203.0.113.9",
		Name:        "worker-1",
		Host:        "10.0.0.5",
		Port:        8100,
	}
}

func TestKeyService_GenerateAndClaim(t *testing.T) {
	svc := newKeyService(t)
	ctx := context.Background()

	key, err := svc.Generate(1, 0)
	require.NoError(t, err)
	assert.Len(t, key.Key, 32)
	assert.WithinDuration(t, time.Now().Add(24*time.Hour), key.ExpiresAt, time.Minute)

	node, err := svc.Claim(ctx, claimRequest(key.Key))
	require.NoError(t, err)
	assert.NotEmpty(t, node.ID)
	assert.NotEmpty(t, node.APIKey)
	assert.NotEmpty(t, node.SecretKey)
	assert.Equal(t, "machine-abc", node.MachineCode)
	assert.Equal(t, types.NodeOffline, node.Status)

	stored, err := svc.manager.Store().GetInstallKey(key.Key)
	require.NoError(t, err)
	assert.True(t, stored.Claimed)
	assert.Equal(t, "machine-abc", stored.ClaimedBy)
	assert.Equal(t, "203.0.113.9", stored.AllowedSource)
}

func TestKeyService_ReclaimSameMachineAndSource(t *testing.T) {
	svc := newKeyService(t)
	ctx := context.Background()

	key, err := svc.Generate(1, time.Hour)
	require.NoError(t, err)

	first, err := svc.Claim(ctx, claimRequest(key.Key))
	require.NoError(t, err)

	// Same machine, same source: credentials are re-issued
	again, err := svc.Claim(ctx, claimRequest(key.Key))
	require.NoError(t, err)
	assert.Equal(t, first.ID, again.ID)
	assert.Equal(t, first.SecretKey, again.SecretKey)
}

func TestKeyService_ClaimedKeyRejectsOtherSources(t *testing.T) {
	svc := newKeyService(t)
	ctx := context.Background()

	key, err := svc.Generate(1, time.Hour)
	require.NoError(t, err)
	_, err = svc.Claim(ctx, claimRequest(key.Key))
	require.NoError(t, err)

	// Different source
	req := claimRequest(key.Key)
	req.Source = "198.51.100.1"
	_, err = svc.Claim(ctx, req)
	assert.ErrorIs(t, err, types.ErrPermission)

	// Different machine
	req = claimRequest(key.Key)
	req.MachineCode = "machine-other"
	req.Host = "10.0.0.6"
	_, err = svc.Claim(ctx, req)
	assert.ErrorIs(t, err, types.ErrPermission)
}

func TestKeyService_ExpiredKey(t *testing.T) {
	svc := newKeyService(t)
	ctx := context.Background()

	key, err := svc.Generate(1, time.Millisecond)
	require.NoError(t, err)
	time.Sleep(10 * time.Millisecond)

	_, err = svc.Claim(ctx, claimRequest(key.Key))
	assert.ErrorIs(t, err, types.ErrPermission)
	assert.Contains(t, err.Error(), "expired")
}

func TestKeyService_UnknownKeyBlocksAfterRepeatedFailures(t *testing.T) {
	svc := newKeyService(t)
	ctx := context.Background()

	// Enough bad attempts plant the block marker
	for i := 0; i < claimFailureLimit; i++ {
		_, err := svc.Claim(ctx, claimRequest("no-such-key"))
		require.ErrorIs(t, err, types.ErrPermission)
	}

	// Even a now-valid-looking attempt on that key is refused outright
	_, err := svc.Claim(ctx, claimRequest("no-such-key"))
	require.ErrorIs(t, err, types.ErrPermission)
	assert.Contains(t, err.Error(), "blocked")
}

func TestKeyService_BlockIsPerSource(t *testing.T) {
	svc := newKeyService(t)
	ctx := context.Background()

	key, err := svc.Generate(1, time.Hour)
	require.NoError(t, err)
	_, err = svc.Claim(ctx, claimRequest(key.Key))
	require.NoError(t, err)

	// An attacker hammering the claimed key from another address blocks
	// only that address
	attacker := claimRequest(key.Key)
	attacker.Source = "198.51.100.66"
	for i := 0; i <= claimFailureLimit; i++ {
		_, err := svc.Claim(ctx, attacker)
		require.ErrorIs(t, err, types.ErrPermission)
	}
	_, err = svc.Claim(ctx, attacker)
	require.ErrorIs(t, err, types.ErrPermission)
	assert.Contains(t, err.Error(), "blocked")

	// The bound worker still re-claims from its own source
	node, err := svc.Claim(ctx, claimRequest(key.Key))
	require.NoError(t, err)
	assert.NotEmpty(t, node.ID)
}

func TestKeyService_ValidationErrors(t *testing.T) {
	svc := newKeyService(t)
	ctx := context.Background()

	tests := []struct {
		name   string
		mutate func(*ClaimRequest)
	}{
		{"missing key", func(r *ClaimRequest) { r.Key = "" }},
		{"missing machine code", func(r *ClaimRequest) { r.MachineCode = "" }},
		{"missing host", func(r *ClaimRequest) { r.Host = "" }},
		{"missing port", func(r *ClaimRequest) { r.Port = 0 }},
	}
	for i, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := claimRequest(fmt.Sprintf("key-%d", i))
			tt.mutate(req)
			_, err := svc.Claim(ctx, req)
			assert.ErrorIs(t, err, types.ErrValidation)
		})
	}
}

func TestKeyService_NameDefaultsToHost(t *testing.T) {
	svc := newKeyService(t)
	ctx := context.Background()

	key, err := svc.Generate(1, time.Hour)
	require.NoError(t, err)

	req := claimRequest(key.Key)
	req.Name = ""
	node, err := svc.Claim(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.5", node.Name)
}
