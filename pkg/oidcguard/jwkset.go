// File: jwkset.go

package oidcguard

import (
	"encoding/json"
	"fmt"
)

// JWKSet is a parsed JWK Set (RFC 7517 §5), keyed by kid for O(1) lookup.
// Keys without a kid are dropped — spec.md §4.2 step 3 requires `kid`
// presence on every token header, so an unaddressable key can never match.
type JWKSet struct {
	byKid map[string]*JWK
}

// ParseJWKSet decodes a `{"keys": [...]}` document, validating each member
// (required fields per kty, recognized curve, key-material length sanity —
// spec.md §4.5.1). A single malformed key fails the whole set: a loader
// should not silently serve a partial keyset.
func ParseJWKSet(data []byte) (*JWKSet, error) {
	var doc struct {
		Keys []json.RawMessage `json:"keys"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("jwks: invalid JSON: %w", err)
	}
	set := &JWKSet{byKid: make(map[string]*JWK, len(doc.Keys))}
	for i, raw := range doc.Keys {
		jwk, err := ParseJWK(raw)
		if err != nil {
			return nil, fmt.Errorf("jwks: key %d: %w", i, err)
		}
		if jwk.Kid == "" {
			continue
		}
		set.byKid[jwk.Kid] = jwk
	}
	return set, nil
}

// Get returns the key for kid, if present.
func (s *JWKSet) Get(kid string) (*JWK, bool) {
	if s == nil {
		return nil, false
	}
	k, ok := s.byKid[kid]
	return k, ok
}

// Len reports the number of addressable (kid-bearing) keys.
func (s *JWKSet) Len() int {
	if s == nil {
		return 0
	}
	return len(s.byKid)
}

// Equal performs the value-equality comparison spec.md §4.5.1 uses to
// decide whether a freshly fetched keyset actually changed anything (same
// kid set, same underlying JWK for each).
func (s *JWKSet) Equal(other *JWKSet) bool {
	if s == nil || other == nil {
		return s == other
	}
	if len(s.byKid) != len(other.byKid) {
		return false
	}
	for kid, key := range s.byKid {
		otherKey, ok := other.byKid[kid]
		if !ok {
			return false
		}
		thumb1, err1 := key.Thumbprint()
		thumb2, err2 := otherKey.Thumbprint()
		if err1 != nil || err2 != nil || thumb1 != thumb2 {
			return false
		}
	}
	return true
}
