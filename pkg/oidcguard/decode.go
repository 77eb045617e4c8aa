// File: decode.go

package oidcguard

import (
	"encoding/base64"
	"encoding/json"
	"strings"
)

// decodedToken is the unverified compact-JWS view of spec.md §4.1: header
// map, body map, signature bytes, the exact signing input, and the three
// base64url parts verbatim. Decoding never checks the signature or any
// claim semantics.
type decodedToken struct {
	Header       map[string]interface{}
	Body         map[string]interface{}
	Signature    []byte
	SigningInput string
	HeaderPart   string
	BodyPart     string
	SignaturePart string
}

// decodeCompact parses a raw compact token string per spec.md §4.1.
// Exactly three '.'-separated parts are required; each must be unpadded
// base64url; header and body must decode to JSON objects; the overall
// length is bounded by limits.MaxTokenBytes.
func decodeCompact(raw string, limits ParserLimits) (*decodedToken, *ValidationError) {
	if len(raw) > limits.MaxTokenBytes {
		return nil, newError(CodeMalformedToken, "token exceeds maximum size")
	}
	parts := strings.Split(raw, ".")
	if len(parts) != 3 {
		return nil, newError(CodeMalformedToken, "expected 3 dot-separated parts")
	}
	headerPart, bodyPart, sigPart := parts[0], parts[1], parts[2]

	headerBytes, err := base64.RawURLEncoding.DecodeString(headerPart)
	if err != nil {
		return nil, wrapError(CodeMalformedToken, "header is not valid base64url", err)
	}
	if len(headerBytes) > limits.MaxHeaderBytes {
		return nil, newError(CodeMalformedToken, "header exceeds maximum size")
	}
	bodyBytes, err := base64.RawURLEncoding.DecodeString(bodyPart)
	if err != nil {
		return nil, wrapError(CodeMalformedToken, "body is not valid base64url", err)
	}
	if len(bodyBytes) > limits.MaxBodyBytes {
		return nil, newError(CodeMalformedToken, "body exceeds maximum size")
	}
	sigBytes, err := base64.RawURLEncoding.DecodeString(sigPart)
	if err != nil {
		return nil, wrapError(CodeMalformedToken, "signature is not valid base64url", err)
	}

	var header map[string]interface{}
	if err := json.Unmarshal(headerBytes, &header); err != nil {
		return nil, wrapError(CodeMalformedToken, "header is not a JSON object", err)
	}
	var body map[string]interface{}
	if err := json.Unmarshal(bodyBytes, &body); err != nil {
		return nil, wrapError(CodeMalformedToken, "body is not a JSON object", err)
	}

	return &decodedToken{
		Header:        header,
		Body:          body,
		Signature:     sigBytes,
		SigningInput:  headerPart + "." + bodyPart,
		HeaderPart:    headerPart,
		BodyPart:      bodyPart,
		SignaturePart: sigPart,
	}, nil
}

// tryDecodeCompact is decodeCompact's best-effort sibling used by the
// refresh-token pipeline (spec.md §4.2 "decode-if-JWT with best-effort"):
// it returns ok=false instead of an error when the string isn't JWT-shaped.
func tryDecodeCompact(raw string, limits ParserLimits) (*decodedToken, bool) {
	tok, verr := decodeCompact(raw, limits)
	if verr != nil {
		return nil, false
	}
	return tok, true
}
