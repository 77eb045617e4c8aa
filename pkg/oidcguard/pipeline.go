// File: pipeline.go
//
// The three token-type-specific validation pipelines of spec.md §4.2,
// sharing decode/header/signature/body building blocks. Step ordering is
// invariant: later steps rely on guarantees established by earlier ones.

package oidcguard

import (
	"context"
	"time"
)

// AccessTokenOptions carries the per-request material the access-token
// pipeline needs beyond the raw token: DPoP proof headers for §4.8.
type AccessTokenOptions struct {
	DPoP DPoPRequestContext
}

// ValidateAccessToken runs the full access-token pipeline (spec.md §4.2),
// with cache lookup/coalescing wrapping the pipeline per §4.9.
func (e *Engine) ValidateAccessToken(ctx context.Context, raw string, opts AccessTokenOptions) (*AccessTokenContent, *ValidationError) {
	recheck := func(content *AccessTokenContent) *ValidationError {
		verr := e.recheckDPoP(ctx, content, opts)
		e.emit(verr)
		return verr
	}
	build := func(ctx context.Context) (*AccessTokenContent, *ValidationError) {
		return e.buildAccessToken(ctx, raw, opts)
	}
	return e.cache.getOrBuild(ctx, raw, recheck, build)
}

func (e *Engine) recheckDPoP(ctx context.Context, content *AccessTokenContent, opts AccessTokenOptions) *ValidationError {
	rt, verr := e.issuers.resolve(content.Issuer)
	if verr != nil {
		return verr
	}
	if rt.config.DPoP == nil && content.ConfirmationThumb == "" {
		return nil
	}
	return validateDPoP(ctx, rt.config.DPoP, rt.config.AllowedAlgorithms, rt.config.Limits, e.replay, opts.DPoP, content.Raw, content.ConfirmationThumb)
}

func (e *Engine) buildAccessToken(ctx context.Context, raw string, opts AccessTokenOptions) (*AccessTokenContent, *ValidationError) {
	tok, verr := decodeCompact(raw, DefaultParserLimits())
	if verr != nil {
		e.emit(verr)
		return nil, verr
	}

	claims := newClaimMap(tok.Body, DefaultParserLimits().MaxDepth)
	issuer, ok := claims.String("iss")
	if !ok || issuer == "" {
		verr := missingClaim("iss")
		e.emit(verr)
		return nil, verr
	}

	rt, verr := e.issuers.resolve(issuer)
	if verr != nil {
		e.emit(verr)
		return nil, verr
	}
	cfg := rt.config

	tok, verr = decodeCompact(raw, cfg.Limits)
	if verr != nil {
		e.emit(verr)
		return nil, verr
	}
	claims = newClaimMap(tok.Body, cfg.Limits.MaxDepth)

	hdr, verr := validateHeader(tok.Header, cfg)
	if verr != nil {
		e.emit(verr)
		return nil, verr
	}

	key, verr := rt.loader.getKey(ctx, hdr.Kid)
	if verr != nil {
		e.emit(verr)
		return nil, verr
	}
	if verr := verifySignature(key.PublicKey, hdr.Alg, tok.SigningInput, tok.Signature); verr != nil {
		e.emit(verr)
		return nil, verr
	}

	now := time.Now()
	if verr := validateBodyTimes(claims, cfg.ClockSkew, cfg.MaxTokenAge, now); verr != nil {
		e.emit(verr)
		return nil, verr
	}
	if verr := validateAudience(claims, cfg); verr != nil {
		e.emit(verr)
		return nil, verr
	}
	sub, ok := claims.String("sub")
	if !ok || sub == "" {
		verr := missingClaim("sub")
		e.emit(verr)
		return nil, verr
	}
	if verr := e.mappers.Apply(claims); verr != nil {
		e.emit(verr)
		return nil, verr
	}

	exp, _ := claims.Instant("exp")
	iat, _ := claims.Instant("iat")
	nbf, _ := claims.Instant("nbf")
	aud, _ := claims.StringSet("aud")
	azp, _ := claims.String("azp")
	scopes := extractScopes(claims)
	roles := extractRoles(claims)
	cnfThumb := extractCnfThumbprint(claims)

	content := &AccessTokenContent{
		Subject:           sub,
		Issuer:            issuer,
		Audience:          aud,
		AuthorizedParty:   azp,
		Scopes:            scopes,
		Roles:             roles,
		IssuedAt:          iat,
		NotBefore:         nbf,
		Expiration:        exp,
		ConfirmationThumb: cnfThumb,
		Claims:            claims,
		Raw:               raw,
	}

	if cfg.DPoP != nil || cnfThumb != "" {
		if verr := validateDPoP(ctx, cfg.DPoP, cfg.AllowedAlgorithms, cfg.Limits, e.replay, opts.DPoP, raw, cnfThumb); verr != nil {
			e.emit(verr)
			return nil, verr
		}
	}

	return content, nil
}

func extractScopes(claims ClaimMap) []string {
	if scopes, ok := claims.StringSet("scope"); ok {
		return scopes
	}
	if scopes, ok := claims.StringSet("scp"); ok {
		return scopes
	}
	return nil
}

func extractRoles(claims ClaimMap) []string {
	if roles, ok := claims.StringSet("roles"); ok {
		return roles
	}
	return nil
}

func extractCnfThumbprint(claims ClaimMap) string {
	cnf, ok := claims.Nested("cnf")
	if !ok {
		return ""
	}
	jkt, _ := cnf.String("jkt")
	return jkt
}

// IdentityTokenOptions carries the per-request material the ID-token
// pipeline needs: the nonce the caller expects, if any.
type IdentityTokenOptions struct {
	ExpectedNonce string
}

// ValidateIDToken runs the identity-token pipeline (spec.md §4.2): same
// decode/header/signature/body chain as access tokens, minus DPoP, plus
// mandatory nonce comparison and multi-audience azp requirement.
func (e *Engine) ValidateIDToken(ctx context.Context, raw string, opts IdentityTokenOptions) (*IdentityTokenContent, *ValidationError) {
	tok, verr := decodeCompact(raw, DefaultParserLimits())
	if verr != nil {
		e.emit(verr)
		return nil, verr
	}
	claims := newClaimMap(tok.Body, DefaultParserLimits().MaxDepth)
	issuer, ok := claims.String("iss")
	if !ok || issuer == "" {
		verr := missingClaim("iss")
		e.emit(verr)
		return nil, verr
	}

	rt, verr := e.issuers.resolve(issuer)
	if verr != nil {
		e.emit(verr)
		return nil, verr
	}
	cfg := rt.config

	tok, verr = decodeCompact(raw, cfg.Limits)
	if verr != nil {
		e.emit(verr)
		return nil, verr
	}
	claims = newClaimMap(tok.Body, cfg.Limits.MaxDepth)

	hdr, verr := validateHeader(tok.Header, cfg)
	if verr != nil {
		e.emit(verr)
		return nil, verr
	}

	key, verr := rt.loader.getKey(ctx, hdr.Kid)
	if verr != nil {
		e.emit(verr)
		return nil, verr
	}
	if verr := verifySignature(key.PublicKey, hdr.Alg, tok.SigningInput, tok.Signature); verr != nil {
		e.emit(verr)
		return nil, verr
	}

	now := time.Now()
	if verr := validateBodyTimes(claims, cfg.ClockSkew, cfg.MaxTokenAge, now); verr != nil {
		e.emit(verr)
		return nil, verr
	}
	if verr := validateAudience(claims, cfg); verr != nil {
		e.emit(verr)
		return nil, verr
	}
	if verr := validateNonce(claims, opts.ExpectedNonce); verr != nil {
		e.emit(verr)
		return nil, verr
	}
	sub, ok := claims.String("sub")
	if !ok || sub == "" {
		verr := missingClaim("sub")
		e.emit(verr)
		return nil, verr
	}
	if verr := e.mappers.Apply(claims); verr != nil {
		e.emit(verr)
		return nil, verr
	}

	exp, _ := claims.Instant("exp")
	iat, _ := claims.Instant("iat")
	aud, _ := claims.StringSet("aud")
	azp, _ := claims.String("azp")
	nonce, _ := claims.String("nonce")
	email, _ := claims.String("email")
	name, _ := claims.String("name")

	return &IdentityTokenContent{
		Subject:         sub,
		Issuer:          issuer,
		Audience:        aud,
		AuthorizedParty: azp,
		Nonce:           nonce,
		IssuedAt:        iat,
		Expiration:      exp,
		Email:           email,
		Name:            name,
		Claims:          claims,
		Raw:             raw,
	}, nil
}

// ValidateRefreshToken implements spec.md §4.2's refresh-token rule:
// decode-if-JWT, best effort, no cryptographic or claim validation.
func (e *Engine) ValidateRefreshToken(_ context.Context, raw string) (*RefreshTokenContent, *ValidationError) {
	if raw == "" {
		verr := newError(CodeMalformedToken, "refresh token is empty")
		e.emit(verr)
		return nil, verr
	}
	tok, isJWT := tryDecodeCompact(raw, DefaultParserLimits())
	content := &RefreshTokenContent{Raw: raw, IsJWT: isJWT}
	if isJWT {
		content.Claims = newClaimMap(tok.Body, DefaultParserLimits().MaxDepth)
	}
	return content, nil
}

func (e *Engine) emit(verr *ValidationError) {
	if verr == nil {
		return
	}
	e.events.Increment(verr.Event())
}
