// File: claims.go

package oidcguard

import (
	"fmt"
	"time"
)

// ClaimValueKind tags the parsed form carried alongside a claim's original
// textual representation (spec.md §3 "A claim value carries both the
// original textual form and a parsed form").
type ClaimValueKind int

const (
	ClaimKindString ClaimValueKind = iota
	ClaimKindStringSet
	ClaimKindInt
	ClaimKindBool
	ClaimKindInstant
	ClaimKindMap
)

// ClaimValue is a single claim's raw JSON value plus its typed, parsed form.
type ClaimValue struct {
	Kind   ClaimValueKind
	Raw    interface{}
	Str    string
	Strs   []string
	Int    int64
	Bool   bool
	Time   time.Time
	Nested map[string]*ClaimValue
}

// ClaimMap is the common, per-token claim set shared by all three token
// variants (spec.md §3 "All three share a common claim map").
type ClaimMap map[string]*ClaimValue

// newClaimValue converts a decoded JSON value into its typed ClaimValue form.
// Booleans, numbers, and strings map directly; arrays of strings become a
// ClaimKindStringSet (the shape `aud` and `scope` take in the wire format);
// objects recurse up to limit levels deep, matching ParserLimits.MaxDepth.
func newClaimValue(raw interface{}, limit int) *ClaimValue {
	switch v := raw.(type) {
	case string:
		return &ClaimValue{Kind: ClaimKindString, Raw: raw, Str: v}
	case bool:
		return &ClaimValue{Kind: ClaimKindBool, Raw: raw, Bool: v}
	case float64:
		return &ClaimValue{Kind: ClaimKindInt, Raw: raw, Int: int64(v)}
	case []interface{}:
		strs := make([]string, 0, len(v))
		allStrings := true
		for _, item := range v {
			s, ok := item.(string)
			if !ok {
				allStrings = false
				break
			}
			strs = append(strs, s)
		}
		if allStrings {
			return &ClaimValue{Kind: ClaimKindStringSet, Raw: raw, Strs: strs}
		}
		return &ClaimValue{Kind: ClaimKindString, Raw: raw, Str: fmt.Sprintf("%v", raw)}
	case map[string]interface{}:
		nested := make(map[string]*ClaimValue, len(v))
		if limit > 0 {
			for key, val := range v {
				nested[key] = newClaimValue(val, limit-1)
			}
		}
		return &ClaimValue{Kind: ClaimKindMap, Raw: raw, Nested: nested}
	default:
		return &ClaimValue{Kind: ClaimKindString, Raw: raw, Str: fmt.Sprintf("%v", raw)}
	}
}

func newClaimMap(body map[string]interface{}, maxDepth int) ClaimMap {
	out := make(ClaimMap, len(body))
	for key, val := range body {
		out[key] = newClaimValue(val, maxDepth)
	}
	return out
}

// StringSet returns a claim's value as a set of strings, accepting either a
// single string or a JSON array of strings (the shape `aud` may take per
// RFC 7519 §4.1.3).
func (c ClaimMap) StringSet(name string) ([]string, bool) {
	v, ok := c[name]
	if !ok {
		return nil, false
	}
	switch v.Kind {
	case ClaimKindString:
		return []string{v.Str}, true
	case ClaimKindStringSet:
		return v.Strs, true
	default:
		return nil, false
	}
}

func (c ClaimMap) String(name string) (string, bool) {
	v, ok := c[name]
	if !ok || v.Kind != ClaimKindString {
		return "", false
	}
	return v.Str, true
}

func (c ClaimMap) Instant(name string) (time.Time, bool) {
	v, ok := c[name]
	if !ok {
		return time.Time{}, false
	}
	switch v.Kind {
	case ClaimKindInt:
		return time.Unix(v.Int, 0), true
	default:
		return time.Time{}, false
	}
}

func (c ClaimMap) Nested(name string) (ClaimMap, bool) {
	v, ok := c[name]
	if !ok || v.Kind != ClaimKindMap {
		return nil, false
	}
	return ClaimMap(v.Nested), true
}

// TokenType distinguishes the three validation pipelines of spec.md §3/§4.2.
type TokenType string

const (
	TypeAccess  TokenType = "access"
	TypeID      TokenType = "identity"
	TypeRefresh TokenType = "refresh"
)

// AccessTokenContent is the validated, typed result of an access-token
// pipeline run (spec.md §3).
type AccessTokenContent struct {
	Subject           string
	Issuer            string
	Audience          []string
	AuthorizedParty   string
	Scopes            []string
	Roles             []string
	IssuedAt          time.Time
	NotBefore         time.Time
	Expiration        time.Time
	ConfirmationThumb string // cnf.jkt, empty if absent
	Claims            ClaimMap
	Raw               string
}

// IdentityTokenContent is the validated, typed result of an ID-token
// pipeline run (spec.md §3).
type IdentityTokenContent struct {
	Subject         string
	Issuer          string
	Audience        []string
	AuthorizedParty string
	Nonce           string
	IssuedAt        time.Time
	Expiration      time.Time
	Email           string
	Name            string
	Claims          ClaimMap
	Raw             string
}

// RefreshTokenContent carries the raw string and, if the token is
// JWT-shaped, its best-effort-decoded claim map (spec.md §3: "no
// cryptographic verification beyond structural parsing is required").
type RefreshTokenContent struct {
	Raw    string
	IsJWT  bool
	Claims ClaimMap
}
