// File: dpop.go
//
// DPoP proof validation (RFC 9449, spec.md §4.8). The proof itself is a
// compact JWS whose header carries an embedded `jwk` instead of a `kid` —
// the one case where §4.3's embedded-jwk rejection does not apply, since the
// proof's whole purpose is proof-of-possession of that very key. Structure
// and field-by-field checks are grounded on the reference DPoP package's
// Parse function (other_examples/ac9c42e8_streamplace-go-dpop__parse.go.go),
// adapted from jwt/v5 parsing to this package's own decode/verify pipeline.

package oidcguard

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

const maxDPoPProofBytes = 8 * 1024

// DPoPRequestContext is the per-request material the DPoP validator needs
// beyond the access token itself: the proof header value(s) as observed on
// the wire, with header names already lowercased by the caller.
type DPoPRequestContext struct {
	ProofHeaders []string // all values seen for the "dpop" header
}

// validateDPoP implements spec.md §4.8 end to end. accessTokenRaw is the
// exact bearer string the client presented (needed for the `ath` hash).
// cnfThumbprint is the access token's `cnf.jkt`, if any ("" if absent).
func validateDPoP(ctx context.Context, cfg *DPoPConfig, allowedAlgorithms []string, limits ParserLimits, replay ReplayStore, reqCtx DPoPRequestContext, accessTokenRaw string, cnfThumbprint string) *ValidationError {
	required := cfg != nil && cfg.Required

	// Step 1: locate the proof.
	if len(reqCtx.ProofHeaders) > 1 {
		return newError(CodeDpopProofInvalid, "multiple DPoP headers")
	}
	var proofRaw string
	hasProof := len(reqCtx.ProofHeaders) == 1
	if hasProof {
		proofRaw = reqCtx.ProofHeaders[0]
		if len(proofRaw) > maxDPoPProofBytes {
			return newError(CodeDpopProofInvalid, "proof exceeds maximum size")
		}
	}

	// Step 3: gating.
	hasCnf := cnfThumbprint != ""
	switch {
	case !hasProof && !required && !hasCnf:
		return nil // bearer mode
	case !hasProof && required:
		if !hasCnf {
			return newError(CodeDpopCnfMissing, "DPoP is required but token carries no cnf.jkt")
		}
		return newError(CodeDpopProofMissing, "DPoP is required but no proof was presented")
	case !hasProof && !required && hasCnf:
		return newError(CodeDpopProofMissing, "token is sender-constrained (cnf.jkt present) but no proof was presented")
	case hasProof && !hasCnf:
		return newError(CodeDpopCnfMissing, "proof presented but token carries no cnf.jkt to bind against")
	}

	// Step 4: decode.
	proof, verr := decodeCompact(proofRaw, limits)
	if verr != nil {
		return newError(CodeDpopProofInvalid, fmt.Sprintf("malformed proof: %s", verr.Detail))
	}

	// Step 5: header checks.
	typ, _ := proof.Header["typ"].(string)
	if !strings.EqualFold(typ, "dpop+jwt") {
		return newError(CodeDpopProofInvalid, "typ must be dpop+jwt")
	}
	alg, _ := proof.Header["alg"].(string)
	if !algAllowed(alg, allowedAlgorithms) {
		return newError(CodeDpopProofInvalid, fmt.Sprintf("alg %q not in issuer allowlist", alg))
	}
	jwkHeader, ok := proof.Header["jwk"].(map[string]interface{})
	if !ok {
		return newError(CodeDpopProofInvalid, "jwk header missing or not an object")
	}

	// Step 6: reconstruct the key.
	jwkBytes, err := json.Marshal(jwkHeader)
	if err != nil {
		return wrapError(CodeDpopProofInvalid, "failed to re-encode embedded jwk", err)
	}
	key, err := ParseJWK(jwkBytes)
	if err != nil {
		return wrapError(CodeDpopProofInvalid, "embedded jwk is invalid", err)
	}

	// Step 7: verify signature.
	if verr := verifySignature(key.PublicKey, alg, proof.SigningInput, proof.Signature); verr != nil {
		return newError(CodeDpopProofInvalid, fmt.Sprintf("proof signature verification failed: %s", verr.Detail))
	}

	body := newClaimMap(proof.Body, limits.MaxDepth)

	// Step 8a: jti + replay.
	jti, ok := body.String("jti")
	if !ok || jti == "" {
		return missingClaim("jti")
	}
	maxAge := 300 * time.Second
	if cfg != nil && cfg.ProofMaxAge > 0 {
		maxAge = cfg.ProofMaxAge
	}
	ttl := 300 * time.Second
	if cfg != nil && cfg.ReplayCacheTTL > 0 {
		ttl = cfg.ReplayCacheTTL
	}
	firstSeen, err := replay.ClaimJTI(ctx, jti, ttl)
	if err != nil {
		return wrapError(CodeDpopReplayDetected, "replay store error", err)
	}
	if !firstSeen {
		return newError(CodeDpopReplayDetected, "jti already seen within replay window")
	}

	// Step 8b: iat window.
	iat, ok := body.Instant("iat")
	if !ok {
		return missingClaim("iat")
	}
	now := time.Now()
	age := now.Sub(iat)
	if age < -60*time.Second {
		return newError(CodeDpopProofExpired, "proof iat is in the future beyond allowed skew")
	}
	if age > maxAge {
		return newError(CodeDpopProofExpired, "proof exceeds maximum age")
	}

	// Step 8c: ath.
	ath, ok := body.String("ath")
	if !ok || ath == "" {
		return missingClaim("ath")
	}
	sum := sha256.Sum256([]byte(accessTokenRaw))
	expectedAth := base64.RawURLEncoding.EncodeToString(sum[:])
	if ath != expectedAth {
		return newError(CodeDpopAthMismatch, "ath does not match the presented access token")
	}

	// Step 9: thumbprint binding.
	thumb, err := key.Thumbprint()
	if err != nil {
		return wrapError(CodeDpopThumbprintMismatch, "failed to compute proof key thumbprint", err)
	}
	if thumb != cnfThumbprint {
		return newError(CodeDpopThumbprintMismatch, "proof key thumbprint does not match cnf.jkt")
	}

	return nil
}

func algAllowed(alg string, allowlist []string) bool {
	for _, a := range allowlist {
		if a == alg {
			return true
		}
	}
	return false
}
