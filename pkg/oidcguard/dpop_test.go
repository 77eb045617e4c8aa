// File: dpop_test.go

package oidcguard

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ecJWKMap(pub *ecdsa.PublicKey) map[string]interface{} {
	size := 32
	return map[string]interface{}{
		"kty": "EC",
		"crv": "P-256",
		"x":   base64.RawURLEncoding.EncodeToString(pub.X.FillBytes(make([]byte, size))),
		"y":   base64.RawURLEncoding.EncodeToString(pub.Y.FillBytes(make([]byte, size))),
	}
}

func ecThumbprint(t *testing.T, pub *ecdsa.PublicKey) string {
	t.Helper()
	raw, err := json.Marshal(ecJWKMap(pub))
	require.NoError(t, err)
	jwk, err := ParseJWK(raw)
	require.NoError(t, err)
	thumb, err := jwk.Thumbprint()
	require.NoError(t, err)
	return thumb
}

// buildDPoPProof signs a compact DPoP proof JWS with key, embedding its
// public JWK in the header per RFC 9449 §4.2.
func buildDPoPProof(t *testing.T, key *ecdsa.PrivateKey, jti string, iat time.Time, accessToken string) string {
	t.Helper()

	header := map[string]interface{}{
		"typ": "dpop+jwt",
		"alg": "ES256",
		"jwk": ecJWKMap(&key.PublicKey),
	}
	sum := sha256.Sum256([]byte(accessToken))
	body := map[string]interface{}{
		"jti": jti,
		"iat": iat.Unix(),
		"htm": "POST",
		"htu": "https://api.example.com/resource",
		"ath": base64.RawURLEncoding.EncodeToString(sum[:]),
	}

	headerJSON, err := json.Marshal(header)
	require.NoError(t, err)
	bodyJSON, err := json.Marshal(body)
	require.NoError(t, err)

	signingInput := b64u(string(headerJSON)) + "." + b64u(string(bodyJSON))
	digest := sha256.Sum256([]byte(signingInput))
	r, s, err := ecdsa.Sign(rand.Reader, key, digest[:])
	require.NoError(t, err)
	sig := make([]byte, 64)
	r.FillBytes(sig[:32])
	s.FillBytes(sig[32:])

	return signingInput + "." + base64.RawURLEncoding.EncodeToString(sig)
}

func newTestDPoPConfig() *DPoPConfig {
	cfg := DefaultDPoPConfig()
	return &cfg
}

func TestValidateDPoP_Success(t *testing.T) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	accessToken := "the-access-token"
	thumb := ecThumbprint(t, &key.PublicKey)
	proof := buildDPoPProof(t, key, "proof-1", time.Now(), accessToken)

	replay := NewMemoryReplayStore(time.Minute, 0)
	defer replay.Close()

	verr := validateDPoP(context.Background(), newTestDPoPConfig(), []string{"ES256"}, DefaultParserLimits(), replay,
		DPoPRequestContext{ProofHeaders: []string{proof}}, accessToken, thumb)
	assert.Nil(t, verr)
}

func TestValidateDPoP_ReplayDetected(t *testing.T) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	accessToken := "the-access-token"
	thumb := ecThumbprint(t, &key.PublicKey)
	proof := buildDPoPProof(t, key, "proof-replay", time.Now(), accessToken)

	replay := NewMemoryReplayStore(time.Minute, 0)
	defer replay.Close()

	cfg := newTestDPoPConfig()
	reqCtx := DPoPRequestContext{ProofHeaders: []string{proof}}

	verr := validateDPoP(context.Background(), cfg, []string{"ES256"}, DefaultParserLimits(), replay, reqCtx, accessToken, thumb)
	require.Nil(t, verr)

	verr = validateDPoP(context.Background(), cfg, []string{"ES256"}, DefaultParserLimits(), replay, reqCtx, accessToken, thumb)
	require.NotNil(t, verr)
	assert.Equal(t, CodeDpopReplayDetected, verr.Code)
}

func TestValidateDPoP_ThumbprintMismatch(t *testing.T) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	other, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	accessToken := "the-access-token"
	wrongThumb := ecThumbprint(t, &other.PublicKey)
	proof := buildDPoPProof(t, key, "proof-2", time.Now(), accessToken)

	replay := NewMemoryReplayStore(time.Minute, 0)
	defer replay.Close()

	verr := validateDPoP(context.Background(), newTestDPoPConfig(), []string{"ES256"}, DefaultParserLimits(), replay,
		DPoPRequestContext{ProofHeaders: []string{proof}}, accessToken, wrongThumb)
	require.NotNil(t, verr)
	assert.Equal(t, CodeDpopThumbprintMismatch, verr.Code)
}

func TestValidateDPoP_AthMismatch(t *testing.T) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	thumb := ecThumbprint(t, &key.PublicKey)
	proof := buildDPoPProof(t, key, "proof-3", time.Now(), "original-access-token")

	replay := NewMemoryReplayStore(time.Minute, 0)
	defer replay.Close()

	verr := validateDPoP(context.Background(), newTestDPoPConfig(), []string{"ES256"}, DefaultParserLimits(), replay,
		DPoPRequestContext{ProofHeaders: []string{proof}}, "a-different-access-token", thumb)
	require.NotNil(t, verr)
	assert.Equal(t, CodeDpopAthMismatch, verr.Code)
}

func TestValidateDPoP_ProofExpired(t *testing.T) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	accessToken := "the-access-token"
	thumb := ecThumbprint(t, &key.PublicKey)
	stale := time.Now().Add(-time.Hour)
	proof := buildDPoPProof(t, key, "proof-4", stale, accessToken)

	replay := NewMemoryReplayStore(time.Minute, 0)
	defer replay.Close()

	verr := validateDPoP(context.Background(), newTestDPoPConfig(), []string{"ES256"}, DefaultParserLimits(), replay,
		DPoPRequestContext{ProofHeaders: []string{proof}}, accessToken, thumb)
	require.NotNil(t, verr)
	assert.Equal(t, CodeDpopProofExpired, verr.Code)
}

func TestValidateDPoP_BearerModeWhenNotRequired(t *testing.T) {
	replay := NewMemoryReplayStore(time.Minute, 0)
	defer replay.Close()

	cfg := newTestDPoPConfig()
	cfg.Required = false
	verr := validateDPoP(context.Background(), cfg, []string{"ES256"}, DefaultParserLimits(), replay,
		DPoPRequestContext{}, "access-token", "")
	assert.Nil(t, verr)
}

func TestValidateDPoP_RequiredButMissing(t *testing.T) {
	replay := NewMemoryReplayStore(time.Minute, 0)
	defer replay.Close()

	cfg := newTestDPoPConfig()
	cfg.Required = true
	verr := validateDPoP(context.Background(), cfg, []string{"ES256"}, DefaultParserLimits(), replay,
		DPoPRequestContext{}, "access-token", "")
	require.NotNil(t, verr)
	// With no cnf.jkt on the token there is nothing to bind a proof to, so
	// the gating step reports the missing confirmation first.
	assert.Equal(t, CodeDpopCnfMissing, verr.Code)
}

func TestValidateDPoP_ProofPresentButNoCnf(t *testing.T) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	accessToken := "the-access-token"
	proof := buildDPoPProof(t, key, "proof-5", time.Now(), accessToken)

	replay := NewMemoryReplayStore(time.Minute, 0)
	defer replay.Close()

	verr := validateDPoP(context.Background(), newTestDPoPConfig(), []string{"ES256"}, DefaultParserLimits(), replay,
		DPoPRequestContext{ProofHeaders: []string{proof}}, accessToken, "")
	require.NotNil(t, verr)
	assert.Equal(t, CodeDpopCnfMissing, verr.Code)
}
