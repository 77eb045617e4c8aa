// File: body_test.go

package oidcguard

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func claimsWithTimes(exp, iat, nbf *time.Time) ClaimMap {
	m := ClaimMap{}
	if exp != nil {
		m["exp"] = &ClaimValue{Kind: ClaimKindInt, Int: exp.Unix()}
	}
	if iat != nil {
		m["iat"] = &ClaimValue{Kind: ClaimKindInt, Int: iat.Unix()}
	}
	if nbf != nil {
		m["nbf"] = &ClaimValue{Kind: ClaimKindInt, Int: nbf.Unix()}
	}
	return m
}

func TestValidateBodyTimes(t *testing.T) {
	now := time.Now()

	t.Run("rejects missing exp", func(t *testing.T) {
		verr := validateBodyTimes(ClaimMap{}, 0, 0, now)
		require.NotNil(t, verr)
		assert.Equal(t, CodeMissingClaim, verr.Code)
	})

	t.Run("rejects expired token", func(t *testing.T) {
		past := now.Add(-time.Hour)
		claims := claimsWithTimes(&past, nil, nil)
		verr := validateBodyTimes(claims, 0, 0, now)
		require.NotNil(t, verr)
		assert.Equal(t, CodeExpired, verr.Code)
	})

	t.Run("clock skew extends exp window", func(t *testing.T) {
		justExpired := now.Add(-10 * time.Second)
		claims := claimsWithTimes(&justExpired, nil, nil)
		verr := validateBodyTimes(claims, 30*time.Second, 0, now)
		assert.Nil(t, verr)
	})

	t.Run("rejects not-yet-valid nbf", func(t *testing.T) {
		future := now.Add(time.Hour)
		nbf := now.Add(time.Minute)
		claims := claimsWithTimes(&future, nil, &nbf)
		verr := validateBodyTimes(claims, 0, 0, now)
		require.NotNil(t, verr)
		assert.Equal(t, CodeNotYetValid, verr.Code)
	})

	t.Run("rejects iat beyond max token age", func(t *testing.T) {
		future := now.Add(time.Hour)
		staleIat := now.Add(-2 * time.Hour)
		claims := claimsWithTimes(&future, &staleIat, nil)
		verr := validateBodyTimes(claims, 0, time.Hour, now)
		require.NotNil(t, verr)
		assert.Equal(t, CodeExpired, verr.Code)
	})

	t.Run("accepts well-formed times", func(t *testing.T) {
		future := now.Add(time.Hour)
		iat := now.Add(-time.Minute)
		claims := claimsWithTimes(&future, &iat, nil)
		verr := validateBodyTimes(claims, 30*time.Second, time.Hour, now)
		assert.Nil(t, verr)
	})
}

func TestValidateAudience(t *testing.T) {
	t.Run("rejects non-intersecting audience", func(t *testing.T) {
		claims := ClaimMap{"aud": &ClaimValue{Kind: ClaimKindString, Str: "other-client"}}
		cfg := &IssuerConfig{ExpectedAudience: []string{"demo-client"}}
		verr := validateAudience(claims, cfg)
		require.NotNil(t, verr)
		assert.Equal(t, CodeAudienceMismatch, verr.Code)
	})

	t.Run("accepts intersecting audience", func(t *testing.T) {
		claims := ClaimMap{"aud": &ClaimValue{Kind: ClaimKindString, Str: "demo-client"}}
		cfg := &IssuerConfig{ExpectedAudience: []string{"demo-client"}}
		verr := validateAudience(claims, cfg)
		assert.Nil(t, verr)
	})

	t.Run("requires azp when aud has multiple values", func(t *testing.T) {
		claims := ClaimMap{"aud": &ClaimValue{Kind: ClaimKindStringSet, Strs: []string{"a", "b"}}}
		cfg := &IssuerConfig{}
		verr := validateAudience(claims, cfg)
		require.NotNil(t, verr)
		assert.Equal(t, CodeMissingClaim, verr.Code)
	})

	t.Run("rejects azp mismatch", func(t *testing.T) {
		claims := ClaimMap{
			"aud": &ClaimValue{Kind: ClaimKindString, Str: "demo-client"},
			"azp": &ClaimValue{Kind: ClaimKindString, Str: "wrong-party"},
		}
		cfg := &IssuerConfig{ExpectedAuthorizedParty: "demo-client"}
		verr := validateAudience(claims, cfg)
		require.NotNil(t, verr)
		assert.Equal(t, CodeAudienceMismatch, verr.Code)
	})
}

func TestValidateNonce(t *testing.T) {
	t.Run("no-op when no nonce expected", func(t *testing.T) {
		assert.Nil(t, validateNonce(ClaimMap{}, ""))
	})

	t.Run("rejects mismatch", func(t *testing.T) {
		claims := ClaimMap{"nonce": &ClaimValue{Kind: ClaimKindString, Str: "a"}}
		verr := validateNonce(claims, "b")
		require.NotNil(t, verr)
		assert.Equal(t, CodeNonceMismatch, verr.Code)
	})

	t.Run("accepts match", func(t *testing.T) {
		claims := ClaimMap{"nonce": &ClaimValue{Kind: ClaimKindString, Str: "a"}}
		assert.Nil(t, validateNonce(claims, "a"))
	})
}
