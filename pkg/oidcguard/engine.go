// File: engine.go
//
// Engine is the package's single public entry point: constructed once from
// an EngineConfig, held for the process lifetime, torn down explicitly.
// Mirrors the teacher's top-level constructor shape (validate config, wire
// sub-collaborators, return a ready-to-use handle) used throughout
// pkg/gourdiantoken-master's maker functions.

package oidcguard

import (
	"context"
	"fmt"

	"github.com/zeromicro/go-zero/core/logx"
)

// Engine validates OAuth2/OIDC JWTs against a fixed set of issuers. Safe for
// concurrent use by multiple goroutines.
type Engine struct {
	issuers *issuerRegistry
	cache   *AccessTokenCache
	replay  ReplayStore
	mappers *ClaimMapperRegistry
	events  *SecurityEventCounter
}

// New builds an Engine from cfg. Every issuer's JWKS loader begins its
// initial load asynchronously; New itself does not block on any network
// fetch (spec.md §4.5.1 "Initial load is asynchronous").
func New(cfg EngineConfig) (*Engine, error) {
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("oidcguard: invalid config: %w", err)
	}

	events := NewSecurityEventCounter()

	issuers, err := newIssuerRegistry(cfg.Issuers, events)
	if err != nil {
		return nil, fmt.Errorf("oidcguard: %w", err)
	}

	cache, err := newAccessTokenCache(cfg.Cache)
	if err != nil {
		issuers.close()
		return nil, fmt.Errorf("oidcguard: building cache: %w", err)
	}

	replay, err := newReplayStore(cfg.Replay)
	if err != nil {
		issuers.close()
		return nil, fmt.Errorf("oidcguard: building replay store: %w", err)
	}

	logx.Infof("oidcguard: engine constructed with %d issuer(s)", len(cfg.Issuers))

	return &Engine{
		issuers: issuers,
		cache:   cache,
		replay:  replay,
		mappers: DefaultClaimMapperRegistry(),
		events:  events,
	}, nil
}

func newReplayStore(cfg ReplayConfig) (ReplayStore, error) {
	switch cfg.Backend {
	case ReplayBackendRedis:
		return NewRedisReplayStore(cfg.RedisClient)
	default:
		return NewMemoryReplayStore(cfg.SweepInterval, cfg.MaxEntries), nil
	}
}

// Close tears down every issuer's background loader and the replay store.
func (e *Engine) Close() error {
	e.issuers.close()
	return e.replay.Close()
}

// IssuerStatus reports the current loader state of every configured issuer
// (SPEC_FULL.md §11's supplemented health surface).
func (e *Engine) IssuerStatus() []IssuerStatusReport {
	return e.issuers.statuses()
}

// SecurityEvents returns a point-in-time snapshot of the engine's security
// event tally (spec.md §4.11).
func (e *Engine) SecurityEvents() map[SecurityEventKind]int64 {
	return e.events.Snapshot()
}

// RegisterClaimMapper adds m to the engine's (process-wide) claim mapper
// registry. See spec.md §4.7.
func (e *Engine) RegisterClaimMapper(m ClaimMapper) error {
	return e.mappers.Register(m)
}

// AwaitIssuerReady blocks until issuer's initial JWKS load reaches a
// terminal state, or ctx is cancelled. Useful at startup to fail fast rather
// than lazily on the first request.
func (e *Engine) AwaitIssuerReady(ctx context.Context, issuer string) error {
	rt, verr := e.issuers.resolve(issuer)
	if verr != nil {
		return verr
	}
	return rt.loader.awaitInitialLoad(ctx)
}
