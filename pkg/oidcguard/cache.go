// File: cache.go
//
// Access-token result cache (spec.md §4.9): keyed by a fingerprint of the
// raw token string, bounded by an LRU with TTL eviction on top, with
// concurrent builds for the same fingerprint coalesced via singleflight so a
// stampede of identical requests only runs the validation pipeline once.

package oidcguard

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"
)

// accessTokenCacheEntry is what's stored per fingerprint: the validated
// content plus the expiration instant used for TTL eviction (spec.md §4.9
// "Value: the validated token content plus the expiration instant").
type accessTokenCacheEntry struct {
	content    *AccessTokenContent
	expiresAt  time.Time
	cachedAt   time.Time
}

// AccessTokenCache is the LRU+TTL+singleflight cache in front of the access
// token validation pipeline.
type AccessTokenCache struct {
	lru   *lru.Cache[string, *accessTokenCacheEntry]
	group singleflight.Group
	ttl   time.Duration
}

func newAccessTokenCache(cfg CacheConfig) (*AccessTokenCache, error) {
	l, err := lru.New[string, *accessTokenCacheEntry](cfg.Capacity)
	if err != nil {
		return nil, err
	}
	return &AccessTokenCache{lru: l, ttl: cfg.TTL}, nil
}

// fingerprint returns the cryptographic fingerprint (spec.md §3 "keyed by
// the raw token string's cryptographic fingerprint") used as the cache key.
func fingerprint(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

// buildFunc computes a fresh AccessTokenContent for a cache miss.
type buildFunc func(ctx context.Context) (*AccessTokenContent, *ValidationError)

// dpopRecheckFunc re-runs DPoP validation against the current request for a
// cache hit whose token is sender-constrained or whose issuer requires
// DPoP. The caller decides whether a recheck is needed at all (spec.md
// §4.9: "If the token has no cnf.jkt and the issuer does not require DPoP
// ⇒ return cached content" — a no-op func covers that case) and returns nil
// to accept the cached content unchanged.
type dpopRecheckFunc func(content *AccessTokenContent) *ValidationError

// getOrBuild implements spec.md §4.9's lookup semantics: a hit with
// unexpired content is handed to dpopRecheck, which either accepts it (nil)
// or propagates the DPoP failure without poisoning the entry; a miss or
// expired hit runs build, coalesced across concurrent callers sharing the
// same raw token. Failures are never cached.
func (c *AccessTokenCache) getOrBuild(ctx context.Context, raw string, dpopRecheck dpopRecheckFunc, build buildFunc) (*AccessTokenContent, *ValidationError) {
	key := fingerprint(raw)
	now := time.Now()

	if entry, ok := c.lru.Get(key); ok && now.Before(entry.expiresAt) {
		if verr := dpopRecheck(entry.content); verr != nil {
			return nil, verr
		}
		return entry.content, nil
	}

	result, err, _ := c.group.Do(key, func() (interface{}, error) {
		content, verr := build(ctx)
		if verr != nil {
			return nil, verr
		}
		expiresAt := content.Expiration
		if c.ttl > 0 {
			if ttlBound := now.Add(c.ttl); ttlBound.Before(expiresAt) {
				expiresAt = ttlBound
			}
		}
		c.lru.Add(key, &accessTokenCacheEntry{content: content, expiresAt: expiresAt, cachedAt: now})
		return content, nil
	})
	if err != nil {
		// singleflight wraps whatever build() returned; build only ever
		// returns *ValidationError, so the type assertion is safe.
		return nil, err.(*ValidationError)
	}
	return result.(*AccessTokenContent), nil
}

func (c *AccessTokenCache) len() int {
	return c.lru.Len()
}

func (c *AccessTokenCache) purgeExpired() {
	now := time.Now()
	for _, key := range c.lru.Keys() {
		entry, ok := c.lru.Peek(key)
		if ok && now.After(entry.expiresAt) {
			c.lru.Remove(key)
		}
	}
}
