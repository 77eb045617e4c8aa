// File: header.go
//
// Header validation (spec.md §4.3), run before any key lookup or signature
// verification: algorithm allowlisting, kid presence, the CVE-2018-0114
// embedded-jwk rejection, and optional typ matching.

package oidcguard

import (
	"fmt"
	"sort"
	"strings"
)

// validatedHeader is the subset of a decoded token's header this engine
// actually trusts after validateHeader passes.
type validatedHeader struct {
	Alg string
	Kid string
	Typ string
}

// validateHeader implements spec.md §4.3 in order.
func validateHeader(header map[string]interface{}, cfg *IssuerConfig) (*validatedHeader, *ValidationError) {
	algRaw, ok := header["alg"]
	if !ok {
		return nil, missingClaim("alg")
	}
	alg, ok := algRaw.(string)
	if !ok || alg == "" {
		return nil, missingClaim("alg")
	}
	if !algAllowed(alg, cfg.AllowedAlgorithms) {
		return nil, newError(CodeUnsupportedAlgorithm, fmt.Sprintf("alg %q is not in the issuer's allowlist", alg))
	}

	kidRaw, ok := header["kid"]
	if !ok {
		return nil, missingClaim("kid").withObservedHeaders(header)
	}
	kid, ok := kidRaw.(string)
	if !ok || kid == "" {
		return nil, missingClaim("kid").withObservedHeaders(header)
	}

	if _, ok := header["jwk"]; ok {
		return nil, newError(CodeEmbeddedJwkForbidden, "token header carries an embedded jwk")
	}
	if _, ok := header["jku"]; ok {
		return nil, newError(CodeEmbeddedJwkForbidden, "token header carries a jku pointing at a remote key set")
	}

	var typ string
	if typRaw, ok := header["typ"]; ok {
		typ, _ = typRaw.(string)
	}
	if cfg.ExpectedTokenType != "" {
		if !strings.EqualFold(typ, cfg.ExpectedTokenType) {
			return nil, newError(CodeTokenTypeMismatch, fmt.Sprintf("typ %q does not match expected %q", typ, cfg.ExpectedTokenType))
		}
	}

	return &validatedHeader{Alg: alg, Kid: kid, Typ: typ}, nil
}

// withObservedHeaders enriches a missing-claim error with the set of header
// names actually present (spec.md §4.3 "diagnostic message lists observed
// header names").
func (e *ValidationError) withObservedHeaders(header map[string]interface{}) *ValidationError {
	names := make([]string, 0, len(header))
	for k := range header {
		names = append(names, k)
	}
	sort.Strings(names)
	e.Detail = fmt.Sprintf("%s (observed headers: %s)", e.Detail, strings.Join(names, ", "))
	return e
}
