// File: issuer_registry.go
//
// Resolves an issuer string to its runtime context: the immutable
// IssuerConfig plus the live JWKSLoader constructed for it at engine
// construction (spec.md §3 "Issuer configuration... Lifecycles: Issuer
// config: created at engine construction, held until engine shutdown").

package oidcguard

import (
	"fmt"
)

// issuerRuntime pairs an immutable IssuerConfig with the loader built for
// its configured key source.
type issuerRuntime struct {
	config *IssuerConfig
	loader *JWKSLoader
}

// issuerRegistry resolves issuer identifiers to their runtime context.
// Built once at engine construction and never mutated afterward — adding or
// removing issuers requires a new Engine.
type issuerRegistry struct {
	byIdentifier map[string]*issuerRuntime
}

func newIssuerRegistry(issuers []IssuerConfig, events *SecurityEventCounter) (*issuerRegistry, error) {
	reg := &issuerRegistry{byIdentifier: make(map[string]*issuerRuntime, len(issuers))}
	for i := range issuers {
		cfg := &issuers[i]
		runtime, err := newIssuerRuntime(cfg, events)
		if err != nil {
			return nil, fmt.Errorf("issuer %s: %w", cfg.Identifier, err)
		}
		reg.byIdentifier[cfg.Identifier] = runtime
	}
	return reg, nil
}

func newIssuerRuntime(cfg *IssuerConfig, events *SecurityEventCounter) (*issuerRuntime, error) {
	var fetch fetchFunc
	switch cfg.KeySource {
	case KeySourceInline:
		if _, err := ParseJWKSet(cfg.InlineJWKS); err != nil {
			return nil, fmt.Errorf("invalid inline JWKS: %w", err)
		}
		fetch = inlineFetch(cfg.InlineJWKS)
	case KeySourceFile:
		fetch = fileFetch(cfg.FilePath)
	case KeySourceHTTP:
		httpClient := newRetryableClient(cfg.HTTP)
		fetch = httpFetch(httpClient, cfg.JWKSURL, cfg.HTTP.MaxBodyBytes)
	case KeySourceWellKnown:
		httpClient := newRetryableClient(cfg.HTTP)
		fetch = wellKnownFetch(httpClient, cfg.WellKnownURL, cfg.Identifier, cfg.HTTP.MaxBodyBytes, events)
	default:
		return nil, fmt.Errorf("unrecognized key source %q", cfg.KeySource)
	}

	backgroundRefresh := cfg.KeySource != KeySourceInline && cfg.HTTP.BackgroundRefresh
	loader := newJWKSLoader(cfg.Identifier, fetch, cfg.KeyRotationGrace, cfg.MaxRetiredKeysets, backgroundRefresh, cfg.HTTP.RefreshInterval)

	return &issuerRuntime{config: cfg, loader: loader}, nil
}

// resolve looks up the runtime context for issuer, failing UnknownIssuer
// for an absent or disabled entry (spec.md §4.2, §3 "Enabled gates this
// issuer; disabled issuers resolve as UnknownIssuer").
func (r *issuerRegistry) resolve(issuer string) (*issuerRuntime, *ValidationError) {
	rt, ok := r.byIdentifier[issuer]
	if !ok || !rt.config.Enabled {
		return nil, newError(CodeUnknownIssuer, fmt.Sprintf("issuer %q is not configured or is disabled", issuer))
	}
	return rt, nil
}

func (r *issuerRegistry) close() {
	for _, rt := range r.byIdentifier {
		rt.loader.close()
	}
}

// IssuerStatusReport is the supplemented health surface of SPEC_FULL.md §11:
// a snapshot of each configured issuer's loader state and key counts,
// suitable for a readiness probe.
type IssuerStatusReport struct {
	Identifier string
	Enabled    bool
	Status     LoaderStatus
	ActiveKeys int
}

func (r *issuerRegistry) statuses() []IssuerStatusReport {
	out := make([]IssuerStatusReport, 0, len(r.byIdentifier))
	for id, rt := range r.byIdentifier {
		out = append(out, IssuerStatusReport{
			Identifier: id,
			Enabled:    rt.config.Enabled,
			Status:     rt.loader.status(),
			ActiveKeys: rt.loader.keys.load().current.Len(),
		})
	}
	return out
}
