package auth

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/antcode-sh/antcode/pkg/cache"
	"github.com/antcode-sh/antcode/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testNode() *types.Node {
	return &types.Node{ID: "node-1", SecretKey: "topsecret"}
}

func signedRequest(t *testing.T, node *types.Node, nonce string, body []byte) (string, string) {
	t.Helper()
	timestamp := time.Now().Unix()
	signature, err := Sign(node.SecretKey, timestamp, nonce, body)
	require.NoError(t, err)
	return fmt.Sprintf("%d", timestamp), signature
}

func TestVerify_ValidSignature(t *testing.T) {
	v := NewVerifier(cache.NewMemoryCache(100))
	node := testNode()
	body := []byte(`{"execution_id":"e1","status":"success"}`)

	ts, sig := signedRequest(t, node, "nonce-01", body)
	err := v.Verify(context.Background(), node, ts, "nonce-01", sig, body)
	assert.NoError(t, err)
}

func TestVerify_EmptyBody(t *testing.T) {
	v := NewVerifier(cache.NewMemoryCache(100))
	node := testNode()

	ts, sig := signedRequest(t, node, "nonce-01", nil)
	err := v.Verify(context.Background(), node, ts, "nonce-01", sig, nil)
	assert.NoError(t, err)
}

func TestVerify_KeyOrderInsensitive(t *testing.T) {
	v := NewVerifier(cache.NewMemoryCache(100))
	node := testNode()

	// The client signed one key order, the wire carried another
	signedBody := []byte(`{"a":1,"b":2}`)
	wireBody := []byte(`{"b":2,"a":1}`)

	ts, sig := signedRequest(t, node, "nonce-01", signedBody)
	err := v.Verify(context.Background(), node, ts, "nonce-01", sig, wireBody)
	assert.NoError(t, err)
}

func TestVerify_TamperedBody(t *testing.T) {
	v := NewVerifier(cache.NewMemoryCache(100))
	node := testNode()

	ts, sig := signedRequest(t, node, "nonce-01", []byte(`{"status":"success"}`))
	err := v.Verify(context.Background(), node, ts, "nonce-01", sig, []byte(`{"status":"failed"}`))
	assert.ErrorIs(t, err, types.ErrPermission)
}

func TestVerify_WrongSecret(t *testing.T) {
	v := NewVerifier(cache.NewMemoryCache(100))
	node := testNode()
	body := []byte(`{}`)

	timestamp := time.Now().Unix()
	sig, err := Sign("other-secret", timestamp, "nonce-01", body)
	require.NoError(t, err)

	err = v.Verify(context.Background(), node, fmt.Sprintf("%d", timestamp), "nonce-01", sig, body)
	assert.ErrorIs(t, err, types.ErrPermission)
}

func TestVerify_ReplayedNonce(t *testing.T) {
	v := NewVerifier(cache.NewMemoryCache(100))
	node := testNode()
	body := []byte(`{"n":1}`)

	ts, sig := signedRequest(t, node, "nonce-01", body)
	require.NoError(t, v.Verify(context.Background(), node, ts, "nonce-01", sig, body))

	// Byte-identical replay is rejected
	err := v.Verify(context.Background(), node, ts, "nonce-01", sig, body)
	assert.ErrorIs(t, err, types.ErrPermission)
	assert.Contains(t, err.Error(), "nonce")
}

func TestVerify_RejectionDoesNotBurnNonce(t *testing.T) {
	v := NewVerifier(cache.NewMemoryCache(100))
	node := testNode()
	body := []byte(`{"n":1}`)

	// A bad signature with a fresh nonce fails...
	ts, _ := signedRequest(t, node, "nonce-01", body)
	err := v.Verify(context.Background(), node, ts, "nonce-01", "deadbeef", body)
	require.ErrorIs(t, err, types.ErrPermission)

	// ...but the nonce is still usable by the honest signer
	ts, sig := signedRequest(t, node, "nonce-01", body)
	assert.NoError(t, v.Verify(context.Background(), node, ts, "nonce-01", sig, body))
}

func TestVerify_TimestampSkew(t *testing.T) {
	v := NewVerifier(cache.NewMemoryCache(100))
	node := testNode()
	body := []byte(`{}`)

	tests := []struct {
		name      string
		timestamp int64
		wantErr   bool
	}{
		{"recent past", time.Now().Add(-time.Minute).Unix(), false},
		{"near future", time.Now().Add(time.Minute).Unix(), false},
		{"too old", time.Now().Add(-10 * time.Minute).Unix(), true},
		{"too far ahead", time.Now().Add(10 * time.Minute).Unix(), true},
	}
	for i, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			nonce := fmt.Sprintf("nonce-%03d", i)
			sig, err := Sign(node.SecretKey, tt.timestamp, nonce, body)
			require.NoError(t, err)
			err = v.Verify(context.Background(), node, fmt.Sprintf("%d", tt.timestamp), nonce, sig, body)
			if tt.wantErr {
				assert.ErrorIs(t, err, types.ErrPermission)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestVerify_MissingPieces(t *testing.T) {
	v := NewVerifier(cache.NewMemoryCache(100))
	ctx := context.Background()
	body := []byte(`{}`)
	node := testNode()
	ts, sig := signedRequest(t, node, "nonce-01", body)

	err := v.Verify(ctx, &types.Node{ID: "bare"}, ts, "nonce-01", sig, body)
	assert.ErrorIs(t, err, types.ErrPermission)

	err = v.Verify(ctx, node, ts, "", sig, body)
	assert.ErrorIs(t, err, types.ErrPermission)

	err = v.Verify(ctx, node, "not-a-number", "nonce-02", sig, body)
	assert.ErrorIs(t, err, types.ErrPermission)
}

func TestVerify_InvalidJSONBody(t *testing.T) {
	v := NewVerifier(cache.NewMemoryCache(100))
	node := testNode()

	ts := fmt.Sprintf("%d", time.Now().Unix())
	err := v.Verify(context.Background(), node, ts, "nonce-01", "sig", []byte("not json"))
	assert.ErrorIs(t, err, types.ErrValidation)
}

func TestCanonicalJSON(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"sorted keys", `{"b":2,"a":1}`, `{"a":1,"b":2}`},
		{"whitespace stripped", "{ \"a\" : 1 }", `{"a":1}`},
		{"nested objects", `{"z":{"y":2,"x":1}}`, `{"z":{"x":1,"y":2}}`},
		{"array order preserved", `[3,1,2]`, `[3,1,2]`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := CanonicalJSON([]byte(tt.in))
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	got, err := CanonicalJSON(nil)
	require.NoError(t, err)
	assert.Equal(t, "", got)
}

func TestVerify_ShortNonce(t *testing.T) {
	v := NewVerifier(cache.NewMemoryCache(100))
	node := testNode()
	body := []byte(`{"execution_id":"e1"}`)

	// Correctly signed, but the nonce is under the 8-character floor
	ts, sig := signedRequest(t, node, "short", body)
	err := v.Verify(context.Background(), node, ts, "short", sig, body)
	require.ErrorIs(t, err, types.ErrPermission)
	assert.Contains(t, err.Error(), "nonce")
}
