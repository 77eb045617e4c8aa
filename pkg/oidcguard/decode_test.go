// File: decode_test.go

package oidcguard

import (
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func b64u(s string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(s))
}

func TestDecodeCompact(t *testing.T) {
	limits := DefaultParserLimits()

	t.Run("rejects wrong part count", func(t *testing.T) {
		_, verr := decodeCompact("a.b", limits)
		require.NotNil(t, verr)
		assert.Equal(t, CodeMalformedToken, verr.Code)
	})

	t.Run("rejects non-base64url header", func(t *testing.T) {
		_, verr := decodeCompact("not valid!.b.c", limits)
		require.NotNil(t, verr)
		assert.Equal(t, CodeMalformedToken, verr.Code)
	})

	t.Run("rejects non-object header", func(t *testing.T) {
		token := b64u(`"not an object"`) + "." + b64u(`{}`) + "." + b64u("sig")
		_, verr := decodeCompact(token, limits)
		require.NotNil(t, verr)
		assert.Equal(t, CodeMalformedToken, verr.Code)
	})

	t.Run("decodes a well-formed compact token", func(t *testing.T) {
		header := `{"alg":"RS256","kid":"k1"}`
		body := `{"sub":"user-1","iss":"https://issuer.example.com"}`
		token := b64u(header) + "." + b64u(body) + "." + b64u("signature-bytes")

		tok, verr := decodeCompact(token, limits)
		require.Nil(t, verr)
		assert.Equal(t, "RS256", tok.Header["alg"])
		assert.Equal(t, "user-1", tok.Body["sub"])
		assert.Equal(t, []byte("signature-bytes"), tok.Signature)
	})

	t.Run("rejects tokens exceeding the size limit", func(t *testing.T) {
		tight := ParserLimits{MaxTokenBytes: 4, MaxHeaderBytes: 4096, MaxBodyBytes: 4096, MaxDepth: 4}
		_, verr := decodeCompact("aaaaaaaaaaaaaaaaaaaaaaaaaa.bbbb.cccc", tight)
		require.NotNil(t, verr)
		assert.Equal(t, CodeMalformedToken, verr.Code)
	})
}

func TestTryDecodeCompact(t *testing.T) {
	t.Run("reports not-JWT rather than erroring", func(t *testing.T) {
		_, ok := tryDecodeCompact("opaque-refresh-token", DefaultParserLimits())
		assert.False(t, ok)
	})

	t.Run("decodes a JWT-shaped refresh token", func(t *testing.T) {
		header := `{"alg":"RS256","kid":"k1"}`
		body := `{"sub":"user-1"}`
		token := b64u(header) + "." + b64u(body) + "." + b64u("sig")
		tok, ok := tryDecodeCompact(token, DefaultParserLimits())
		assert.True(t, ok)
		assert.Equal(t, "user-1", tok.Body["sub"])
	})
}
