package auth

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/antcode-sh/antcode/pkg/cache"
	"github.com/antcode-sh/antcode/pkg/log"
	"github.com/antcode-sh/antcode/pkg/types"
	"github.com/rs/zerolog"
)

const (
	// clockSkew is the accepted timestamp drift in either direction
	clockSkew = 300 * time.Second
	// nonceWindow must exceed clockSkew so a replay inside the skew
	// window always finds its nonce still claimed
	nonceWindow = 10 * time.Minute

	rateLimitWindow = 60 * time.Second
	rateLimitMax    = 1000

	// minNonceLength keeps the single-use nonce space large enough that
	// accidental collisions inside the window stay negligible
	minNonceLength = 8
)

// Verifier authenticates signed worker requests: an HMAC over
// timestamp, nonce and canonical body, with replay and rate protection
// backed by the shared cache
type Verifier struct {
	cache  cache.Cache
	logger zerolog.Logger
}

// NewVerifier creates a verifier over the given cache
func NewVerifier(c cache.Cache) *Verifier {
	return &Verifier{cache: c, logger: log.WithComponent("auth")}
}

// Sign computes the signature for a request: hex HMAC-SHA256 over
// "timestamp.nonce.canonicalBody" keyed by the node secret. Exported so
// clients and tests produce byte-identical signatures.
func Sign(secretKey string, timestamp int64, nonce string, body []byte) (string, error) {
	canonical, err := CanonicalJSON(body)
	if err != nil {
		return "", err
	}
	mac := hmac.New(sha256.New, []byte(secretKey))
	fmt.Fprintf(mac, "%d.%s.%s", timestamp, nonce, canonical)
	return hex.EncodeToString(mac.Sum(nil)), nil
}

// CanonicalJSON re-encodes a JSON body deterministically: object keys
// sorted, no insignificant whitespace. An empty body canonicalises to
// the empty string.
func CanonicalJSON(body []byte) (string, error) {
	if len(body) == 0 {
		return "", nil
	}
	var value any
	if err := json.Unmarshal(body, &value); err != nil {
		return "", fmt.Errorf("%w: body is not valid JSON", types.ErrValidation)
	}
	// encoding/json writes map keys in sorted order
	canonical, err := json.Marshal(value)
	if err != nil {
		return "", err
	}
	return string(canonical), nil
}

// Verify checks a signed request from a node. Order matters: cheap
// checks first, the nonce claim last so a rejected request does not
// burn its nonce.
func (v *Verifier) Verify(ctx context.Context, node *types.Node, timestampStr, nonce, signature string, body []byte) error {
	if node.SecretKey == "" {
		return fmt.Errorf("%w: node has no secret key", types.ErrPermission)
	}
	if nonce == "" || signature == "" {
		return fmt.Errorf("%w: missing signature headers", types.ErrPermission)
	}
	if len(nonce) < minNonceLength {
		return fmt.Errorf("%w: nonce too short", types.ErrPermission)
	}

	timestamp, err := strconv.ParseInt(timestampStr, 10, 64)
	if err != nil {
		return fmt.Errorf("%w: bad timestamp", types.ErrPermission)
	}
	drift := time.Since(time.Unix(timestamp, 0))
	if drift > clockSkew || drift < -clockSkew {
		return fmt.Errorf("%w: timestamp outside the accepted window", types.ErrPermission)
	}

	if err := v.checkRate(ctx, node.ID); err != nil {
		return err
	}

	expected, err := Sign(node.SecretKey, timestamp, nonce, body)
	if err != nil {
		return err
	}
	if !hmac.Equal([]byte(expected), []byte(signature)) {
		v.logger.Warn().Str("node_id", node.ID).Msg("signature mismatch")
		return fmt.Errorf("%w: bad signature", types.ErrPermission)
	}

	fresh, err := v.cache.Add(ctx, "nonce:"+node.ID+":"+nonce, []byte{1}, nonceWindow)
	if err != nil {
		return err
	}
	if !fresh {
		v.logger.Warn().Str("node_id", node.ID).Msg("replayed nonce rejected")
		return fmt.Errorf("%w: nonce already used", types.ErrPermission)
	}
	return nil
}

// checkRate enforces the per-node request budget
func (v *Verifier) checkRate(ctx context.Context, nodeID string) error {
	n, err := v.cache.Increment(ctx, "rate:"+nodeID, rateLimitWindow)
	if err != nil {
		// A broken cache must not take authentication down with it
		v.logger.Warn().Err(err).Str("node_id", nodeID).Msg("rate counter unavailable")
		return nil
	}
	if n > rateLimitMax {
		return fmt.Errorf("%w: rate limit exceeded", types.ErrPermission)
	}
	return nil
}
