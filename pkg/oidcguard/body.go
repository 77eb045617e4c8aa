// File: body.go
//
// Claim validation (spec.md §4.6), run after signature verification:
// exp/nbf/iat windows, audience/azp checks, then claim-mapper application.

package oidcguard

import (
	"fmt"
	"time"
)

// validateBodyTimes checks exp/nbf/iat per spec.md §4.6. now is threaded
// through explicitly rather than read from time.Now() inside, so a single
// validation run observes one consistent instant across all checks.
func validateBodyTimes(claims ClaimMap, skew, maxAge time.Duration, now time.Time) *ValidationError {
	exp, ok := claims.Instant("exp")
	if !ok {
		return missingClaim("exp")
	}
	if now.After(exp.Add(skew)) {
		return newError(CodeExpired, fmt.Sprintf("token expired at %s", exp))
	}

	if nbf, ok := claims.Instant("nbf"); ok {
		if now.Add(skew).Before(nbf) {
			return newError(CodeNotYetValid, fmt.Sprintf("token not valid until %s", nbf))
		}
	}

	if iat, ok := claims.Instant("iat"); ok {
		if maxAge > 0 && now.After(iat.Add(maxAge)) {
			return newError(CodeExpired, fmt.Sprintf("token iat %s exceeds max token age", iat))
		}
		if now.Add(skew).Before(iat) {
			return newError(CodeNotYetValid, fmt.Sprintf("token iat %s is in the future", iat))
		}
	}

	return nil
}

// validateAudience implements spec.md §4.6's aud/azp rules.
func validateAudience(claims ClaimMap, cfg *IssuerConfig) *ValidationError {
	aud, hasAud := claims.StringSet("aud")

	if len(cfg.ExpectedAudience) > 0 {
		if !hasAud || !intersects(aud, cfg.ExpectedAudience) {
			return newError(CodeAudienceMismatch, "token audience does not intersect the issuer's expected audience set")
		}
	}

	azp, hasAzp := claims.String("azp")
	if cfg.ExpectedAuthorizedParty != "" {
		if !hasAzp || azp != cfg.ExpectedAuthorizedParty {
			return newError(CodeAudienceMismatch, fmt.Sprintf("azp %q does not match expected %q", azp, cfg.ExpectedAuthorizedParty))
		}
	}
	if len(aud) > 1 && !hasAzp {
		return missingClaim("azp")
	}

	return nil
}

func intersects(a, b []string) bool {
	set := make(map[string]struct{}, len(b))
	for _, v := range b {
		set[v] = struct{}{}
	}
	for _, v := range a {
		if _, ok := set[v]; ok {
			return true
		}
	}
	return false
}

// validateNonce implements the identity-token-only nonce comparison (spec.md
// §4.2 "mandatory nonce comparison when the pipeline was invoked with an
// expected nonce").
func validateNonce(claims ClaimMap, expectedNonce string) *ValidationError {
	if expectedNonce == "" {
		return nil
	}
	nonce, ok := claims.String("nonce")
	if !ok || nonce != expectedNonce {
		return newError(CodeNonceMismatch, "nonce does not match the expected value")
	}
	return nil
}
