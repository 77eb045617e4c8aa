// File: config.go

package oidcguard

import (
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// KeySourceKind selects where an issuer's signing keys come from.
type KeySourceKind string

const (
	// KeySourceInline serves a fixed JWK Set supplied at construction time.
	KeySourceInline KeySourceKind = "inline"
	// KeySourceFile loads a JWK Set from a local file path, re-read on each
	// background refresh tick.
	KeySourceFile KeySourceKind = "file"
	// KeySourceHTTP fetches a JWK Set directly from an HTTP(S) URL.
	KeySourceHTTP KeySourceKind = "http"
	// KeySourceWellKnown resolves jwks_uri from an OIDC discovery document
	// before falling back to KeySourceHTTP behavior against that URI.
	KeySourceWellKnown KeySourceKind = "well-known"
)

// RetryConfig controls the backoff policy used for JWKS and well-known HTTP
// fetches. Mirrors the retry knobs spec.md §6 lists under "Retry".
type RetryConfig struct {
	// Enabled turns retries on. When false, a fetch fails after one attempt.
	Enabled bool

	// MaxAttempts is the total number of attempts (including the first),
	// bounding the retry adapter's total time budget.
	MaxAttempts int

	// InitialDelay is the backoff before the second attempt.
	InitialDelay time.Duration

	// MaxDelay caps the backoff between any two attempts.
	MaxDelay time.Duration

	// Multiplier scales the delay after every failed attempt.
	Multiplier float64

	// Jitter adds randomized spread (0..1, fraction of the computed delay)
	// to avoid synchronized retry storms against a shared JWKS endpoint.
	Jitter float64
}

// DefaultRetryConfig returns a conservative default: 4 attempts, 250ms
// initial delay, 5s cap, doubling, quarter jitter.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		Enabled:      true,
		MaxAttempts:  4,
		InitialDelay: 250 * time.Millisecond,
		MaxDelay:     5 * time.Second,
		Multiplier:   2.0,
		Jitter:       0.25,
	}
}

func (r RetryConfig) validate() error {
	if !r.Enabled {
		return nil
	}
	if r.MaxAttempts < 1 {
		return fmt.Errorf("retry: max attempts must be >= 1")
	}
	if r.InitialDelay <= 0 {
		return fmt.Errorf("retry: initial delay must be positive")
	}
	if r.MaxDelay < r.InitialDelay {
		return fmt.Errorf("retry: max delay must be >= initial delay")
	}
	if r.Multiplier < 1 {
		return fmt.Errorf("retry: multiplier must be >= 1")
	}
	if r.Jitter < 0 || r.Jitter > 1 {
		return fmt.Errorf("retry: jitter must be within [0, 1]")
	}
	return nil
}

// HTTPConfig controls the fetcher used for JWKS and well-known documents.
type HTTPConfig struct {
	// ConnectTimeout bounds TCP+TLS handshake time.
	ConnectTimeout time.Duration
	// ReadTimeout bounds the full round-trip including body read.
	ReadTimeout time.Duration
	// MaxBodyBytes caps the response body size read from the wire.
	MaxBodyBytes int64
	// RefreshInterval is how often the background refresh task re-fetches
	// the JWKS/well-known document after the first terminal outcome.
	RefreshInterval time.Duration
	// BackgroundRefresh enables the scheduled refresh task. When false, keys
	// are only ever loaded once, at issuer attach.
	BackgroundRefresh bool
	// Retry is the backoff policy layered around the conditional-GET fetch.
	Retry RetryConfig
}

// DefaultHTTPConfig returns sane defaults: 5s connect, 10s read, 1MiB cap,
// five minute background refresh.
func DefaultHTTPConfig() HTTPConfig {
	return HTTPConfig{
		ConnectTimeout:    5 * time.Second,
		ReadTimeout:       10 * time.Second,
		MaxBodyBytes:      1 << 20,
		RefreshInterval:   5 * time.Minute,
		BackgroundRefresh: true,
		Retry:             DefaultRetryConfig(),
	}
}

func (h HTTPConfig) validate() error {
	if h.ConnectTimeout <= 0 {
		return fmt.Errorf("http: connect timeout must be positive")
	}
	if h.ReadTimeout <= 0 {
		return fmt.Errorf("http: read timeout must be positive")
	}
	if h.MaxBodyBytes <= 0 {
		return fmt.Errorf("http: max body bytes must be positive")
	}
	if h.BackgroundRefresh && h.RefreshInterval <= 0 {
		return fmt.Errorf("http: refresh interval must be positive when background refresh is enabled")
	}
	return h.Retry.validate()
}

// DPoPConfig is the per-issuer RFC 9449 configuration (spec.md §3 "DPoP config").
type DPoPConfig struct {
	// Required forces DPoP sender-constraining for every access token issued
	// by this issuer, independent of whether the token carries cnf.jkt.
	Required bool

	// ProofMaxAge bounds how old a DPoP proof's iat may be (default 300s).
	ProofMaxAge time.Duration

	// ReplayCacheSize is the jti replay cache size for this issuer (default
	// 10000). It is validated but not applied: the process-wide store is
	// shared across issuers and sized only by ReplayConfig.MaxEntries.
	ReplayCacheSize int

	// ReplayCacheTTL is how long a jti is remembered (default 300s).
	ReplayCacheTTL time.Duration
}

// DefaultDPoPConfig returns the defaults from spec.md §3: not required,
// 300s proof age, 10000-entry replay cache, 300s replay TTL.
func DefaultDPoPConfig() DPoPConfig {
	return DPoPConfig{
		Required:        false,
		ProofMaxAge:     300 * time.Second,
		ReplayCacheSize: 10000,
		ReplayCacheTTL:  300 * time.Second,
	}
}

func (d DPoPConfig) validate() error {
	if d.ProofMaxAge <= 0 {
		return fmt.Errorf("dpop: proof max age must be positive")
	}
	if d.ReplayCacheSize <= 0 {
		return fmt.Errorf("dpop: replay cache size must be positive")
	}
	if d.ReplayCacheTTL <= 0 {
		return fmt.Errorf("dpop: replay cache TTL must be positive")
	}
	return nil
}

// ParserLimits bounds the decoder (spec.md §4.1, §6 "Parser").
type ParserLimits struct {
	// MaxTokenBytes is the maximum compact-serialization length accepted.
	MaxTokenBytes int
	// MaxHeaderBytes bounds the decoded JSON header size.
	MaxHeaderBytes int
	// MaxBodyBytes bounds the decoded JSON body size.
	MaxBodyBytes int
	// MaxDepth bounds nested-map depth when walking claim values.
	MaxDepth int
}

// DefaultParserLimits returns conservative limits suitable for a hot path:
// 16KiB token, 4KiB header, 64KiB body, depth 16.
func DefaultParserLimits() ParserLimits {
	return ParserLimits{
		MaxTokenBytes:  16 * 1024,
		MaxHeaderBytes: 4 * 1024,
		MaxBodyBytes:   64 * 1024,
		MaxDepth:       16,
	}
}

func (p ParserLimits) validate() error {
	if p.MaxTokenBytes <= 0 || p.MaxHeaderBytes <= 0 || p.MaxBodyBytes <= 0 {
		return fmt.Errorf("parser: size limits must be positive")
	}
	if p.MaxDepth <= 0 {
		return fmt.Errorf("parser: max depth must be positive")
	}
	return nil
}

// IssuerConfig is an immutable, per-issuer trust context (spec.md §3
// "Issuer configuration"). Built once and handed to Engine by value; never
// mutated after construction — downstream components hold shared references
// to the runtime wrapper built around it, not to this struct itself.
type IssuerConfig struct {
	// Identifier is the expected `iss` claim value and the registry key.
	Identifier string
	// Enabled gates this issuer; disabled issuers resolve as UnknownIssuer.
	Enabled bool

	// KeySource selects how signing keys are obtained.
	KeySource KeySourceKind
	// InlineJWKS is the raw JWK Set JSON, used when KeySource is KeySourceInline.
	InlineJWKS []byte
	// FilePath is the JWK Set file path, used when KeySource is KeySourceFile.
	FilePath string
	// JWKSURL is the direct JWKS endpoint, used when KeySource is KeySourceHTTP.
	JWKSURL string
	// WellKnownURL is the discovery document URL, used when KeySource is
	// KeySourceWellKnown.
	WellKnownURL string

	// ExpectedAudience is checked against the token's `aud`; empty means
	// unchecked (spec.md §4.6).
	ExpectedAudience []string
	// ExpectedAuthorizedParty is checked against `azp` when non-empty.
	ExpectedAuthorizedParty string
	// ExpectedTokenType, when set, is compared case-insensitively against
	// the header `typ` (RFC 9068).
	ExpectedTokenType string

	// AllowedAlgorithms is the ordered asymmetric JWS algorithm allowlist.
	// A token whose `alg` is absent from this list is rejected before any
	// key lookup or signature verification is attempted.
	AllowedAlgorithms []string

	// ClockSkew bounds exp/nbf/iat comparisons (spec.md §4.6).
	ClockSkew time.Duration
	// MaxTokenAge bounds how old `iat` may be; zero means unbounded.
	MaxTokenAge time.Duration

	// DPoP is this issuer's proof-of-possession configuration. Nil means
	// DPoP is never required but cnf.jkt-bearing tokens are still checked.
	DPoP *DPoPConfig

	// Limits bounds the decoder for tokens from this issuer. Every token is
	// first decoded under DefaultParserLimits to read its `iss`, so limits
	// looser than the defaults do not admit larger tokens.
	Limits ParserLimits
	// HTTP configures the JWKS/well-known fetcher for this issuer.
	HTTP HTTPConfig

	// KeyRotationGrace is how long a retired keyset continues to serve
	// lookups for its kids after being superseded (spec.md §3).
	KeyRotationGrace time.Duration
	// MaxRetiredKeysets bounds the retired-keyset deque length.
	MaxRetiredKeysets int
}

func (c *IssuerConfig) validate() error {
	if c.Identifier == "" {
		return fmt.Errorf("issuer: identifier must not be empty")
	}
	switch c.KeySource {
	case KeySourceInline:
		if len(c.InlineJWKS) == 0 {
			return fmt.Errorf("issuer %s: inline key source requires InlineJWKS", c.Identifier)
		}
	case KeySourceFile:
		if c.FilePath == "" {
			return fmt.Errorf("issuer %s: file key source requires FilePath", c.Identifier)
		}
	case KeySourceHTTP:
		if c.JWKSURL == "" {
			return fmt.Errorf("issuer %s: http key source requires JWKSURL", c.Identifier)
		}
	case KeySourceWellKnown:
		if c.WellKnownURL == "" {
			return fmt.Errorf("issuer %s: well-known key source requires WellKnownURL", c.Identifier)
		}
	default:
		return fmt.Errorf("issuer %s: unrecognized key source %q", c.Identifier, c.KeySource)
	}
	if len(c.AllowedAlgorithms) == 0 {
		return fmt.Errorf("issuer %s: allowed algorithms must not be empty", c.Identifier)
	}
	if c.ClockSkew < 0 {
		return fmt.Errorf("issuer %s: clock skew must not be negative", c.Identifier)
	}
	if c.KeyRotationGrace < 0 {
		return fmt.Errorf("issuer %s: key rotation grace must not be negative", c.Identifier)
	}
	if c.MaxRetiredKeysets < 0 {
		return fmt.Errorf("issuer %s: max retired keysets must not be negative", c.Identifier)
	}
	if err := c.Limits.validate(); err != nil {
		return fmt.Errorf("issuer %s: %w", c.Identifier, err)
	}
	if c.KeySource == KeySourceHTTP || c.KeySource == KeySourceWellKnown {
		if err := c.HTTP.validate(); err != nil {
			return fmt.Errorf("issuer %s: %w", c.Identifier, err)
		}
	}
	if c.DPoP != nil {
		if err := c.DPoP.validate(); err != nil {
			return fmt.Errorf("issuer %s: %w", c.Identifier, err)
		}
	}
	return nil
}

// CacheConfig bounds the access-token result cache (spec.md §4.9).
type CacheConfig struct {
	// Capacity is the maximum number of entries retained (LRU eviction
	// beyond this).
	Capacity int
	// TTL is a ceiling applied on top of the token's own exp claim; an entry
	// is never served past whichever bound is tighter. Clock skew is not
	// subtracted from exp, so an entry may be served up to exp itself.
	TTL time.Duration
}

// DefaultCacheConfig returns a 10000-entry, 5-minute-TTL cache.
func DefaultCacheConfig() CacheConfig {
	return CacheConfig{Capacity: 10000, TTL: 5 * time.Minute}
}

func (c CacheConfig) validate() error {
	if c.Capacity <= 0 {
		return fmt.Errorf("cache: capacity must be positive")
	}
	if c.TTL <= 0 {
		return fmt.Errorf("cache: TTL must be positive")
	}
	return nil
}

// ReplayBackend selects the DPoP jti replay store implementation.
type ReplayBackend string

const (
	// ReplayBackendMemory keeps the replay store in a single process's
	// memory (spec.md §4.10 default).
	ReplayBackendMemory ReplayBackend = "memory"
	// ReplayBackendRedis shares the replay store across instances via
	// Redis SETNX (see DESIGN.md — supplemented beyond the base spec).
	ReplayBackendRedis ReplayBackend = "redis"
)

// ReplayConfig configures the shared, process-wide DPoP jti replay store.
type ReplayConfig struct {
	Backend ReplayBackend
	// RedisClient is required when Backend is ReplayBackendRedis.
	RedisClient *redis.Client
	// MaxEntries bounds the in-memory backend's size (opportunistic oldest
	// eviction beyond this, per spec.md §4.10).
	MaxEntries int
	// SweepInterval is how often expired entries are purged.
	SweepInterval time.Duration
}

// DefaultReplayConfig returns an in-memory store, 10000 entries, 60s sweep.
func DefaultReplayConfig() ReplayConfig {
	return ReplayConfig{
		Backend:       ReplayBackendMemory,
		MaxEntries:    10000,
		SweepInterval: 60 * time.Second,
	}
}

func (r ReplayConfig) validate() error {
	if r.Backend == ReplayBackendRedis && r.RedisClient == nil {
		return fmt.Errorf("replay: redis backend requires a RedisClient")
	}
	if r.MaxEntries <= 0 {
		return fmt.Errorf("replay: max entries must be positive")
	}
	if r.SweepInterval <= 0 {
		return fmt.Errorf("replay: sweep interval must be positive")
	}
	return nil
}

// EngineConfig is the top-level, immutable configuration handed to New.
// Config sourcing (env binding, property files, a DI container) is an
// external collaborator per spec.md §1 — this struct is the boundary.
type EngineConfig struct {
	// Issuers is the set of trust contexts this engine serves. At least one
	// is required.
	Issuers []IssuerConfig
	// Cache bounds the access-token result cache.
	Cache CacheConfig
	// Replay configures the shared DPoP jti replay store.
	Replay ReplayConfig
}

func (e *EngineConfig) validate() error {
	if len(e.Issuers) == 0 {
		return fmt.Errorf("config: at least one issuer is required")
	}
	seen := make(map[string]struct{}, len(e.Issuers))
	for i := range e.Issuers {
		issuer := &e.Issuers[i]
		if err := issuer.validate(); err != nil {
			return err
		}
		if _, dup := seen[issuer.Identifier]; dup {
			return fmt.Errorf("config: duplicate issuer identifier %q", issuer.Identifier)
		}
		seen[issuer.Identifier] = struct{}{}
	}
	if err := e.Cache.validate(); err != nil {
		return err
	}
	return e.Replay.validate()
}
