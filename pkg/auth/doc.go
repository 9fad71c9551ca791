/*
Package auth verifies signed worker reports and manages node install keys.

Two concerns live here: the Verifier authenticates every node-to-master
report with an HMAC handshake, and the KeyService manages single-use
install keys that let a fresh worker claim a node identity without an
operator copying credentials around. User API tokens are a separate,
simpler concern handled by the API middleware through the manager.

# Report Signing

A node signs each report with its secret key:

	signature = hex(HMAC-SHA256(secret, "{timestamp}.{nonce}.{canonicalBody}"))

The body is canonicalised (sorted object keys, no whitespace) so client
and master hash identical bytes regardless of JSON encoder quirks. Sign
and CanonicalJSON are exported so the client side produces byte-identical
signatures.

Verify applies three distributed-state checks in one place, cheap checks
first:

  - timestamp freshness: at most 300s of clock skew either way
  - signature match, compared in constant time
  - nonce uniqueness: each nonce is at least 8 characters and claims a
    10-minute cache slot; a replay inside the skew window always finds
    its nonce still claimed

The nonce claim runs last so a rejected request does not burn its nonce.
A per-node rate counter (1000 requests per minute) rides on the same
cache; a broken cache degrades to no rate limiting rather than taking
authentication down.

# Install Keys

The install flow bootstraps a node in three steps:

 1. an admin creates an install key, optionally with a TTL
 2. the installer on the new host claims the key, sending its machine
    code and address; the claim endpoint is deliberately unauthenticated
    since the host has no credentials yet
 3. the claim consumes the key, creates the node record, and returns the
    node id with its API and secret keys exactly once

A key claims at most once and binds to the first claiming source.
Repeated failed claims trip a temporary block so a leaked key prefix
cannot be brute-forced.

# Usage

	verifier := auth.NewVerifier(mgr.Cache())
	err := verifier.Verify(ctx, node, timestampHeader, nonceHeader,
		signatureHeader, body)

	keys := auth.NewKeyService(mgr, mgr.Cache())
	key, err := keys.Generate(adminUser.ID, 24*time.Hour)
	grant, err := keys.Claim(ctx, &auth.ClaimRequest{
		Key:         key.Key,
		MachineCode: machineCode,
		Host:        host,
		Port:        port,
	})

# Integration Points

  - pkg/api: the node report middleware and the install endpoints
  - pkg/manager: node creation on claim
  - pkg/cache: nonce claims, rate counters, and block TTLs
*/
package auth
