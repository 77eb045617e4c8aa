// File: jwk.go
//
// JWK parsing follows the field-by-field decode pattern used throughout the
// example pack's DPoP proof handling (parseJwk in the streamplace DPoP
// package): no JOSE library dependency, direct conversion of the required
// members of RFC 7517 into a crypto.PublicKey.

package oidcguard

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math/big"
	"strings"
)

// JWK is a single parsed JSON Web Key (RFC 7517). Kty/Crv/Alg/Kid are kept
// verbatim off the wire; PublicKey is the crypto.PublicKey it decodes to.
type JWK struct {
	Kty string
	Crv string
	Alg string
	Kid string
	Use string

	PublicKey crypto.PublicKey

	// raw holds the original JSON fields, used only to recompute the
	// thumbprint deterministically regardless of member order on the wire.
	raw map[string]interface{}
}

// rawJWK mirrors the wire members we read; unknown members are ignored.
type rawJWK struct {
	Kty string `json:"kty"`
	Crv string `json:"crv"`
	Alg string `json:"alg"`
	Kid string `json:"kid"`
	Use string `json:"use"`
	N   string `json:"n"`
	E   string `json:"e"`
	X   string `json:"x"`
	Y   string `json:"y"`
}

func b64uDecode(s string) ([]byte, error) {
	// Some non-compliant JWKS members carry trailing padding; strip before
	// decoding (the same tolerance the reference DPoP parser applies).
	s = strings.TrimRight(s, "=")
	return base64.RawURLEncoding.DecodeString(s)
}

// ParseJWK decodes a single JWK JSON object into a verification key.
func ParseJWK(data []byte) (*JWK, error) {
	var fields rawJWK
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, fmt.Errorf("jwk: invalid JSON: %w", err)
	}
	var rawMap map[string]interface{}
	if err := json.Unmarshal(data, &rawMap); err != nil {
		return nil, fmt.Errorf("jwk: invalid JSON: %w", err)
	}

	jwk := &JWK{Kty: fields.Kty, Crv: fields.Crv, Alg: fields.Alg, Kid: fields.Kid, Use: fields.Use, raw: rawMap}

	switch fields.Kty {
	case "RSA":
		if fields.N == "" || fields.E == "" {
			return nil, fmt.Errorf("jwk: RSA key missing n or e")
		}
		modulus, err := b64uDecode(fields.N)
		if err != nil {
			return nil, fmt.Errorf("jwk: invalid RSA modulus: %w", err)
		}
		exponent, err := b64uDecode(fields.E)
		if err != nil {
			return nil, fmt.Errorf("jwk: invalid RSA exponent: %w", err)
		}
		if len(modulus)*8 < 2048 {
			return nil, fmt.Errorf("jwk: RSA modulus too small (%d bits)", len(modulus)*8)
		}
		jwk.PublicKey = &rsa.PublicKey{
			N: new(big.Int).SetBytes(modulus),
			E: int(new(big.Int).SetBytes(exponent).Int64()),
		}
	case "EC":
		if fields.X == "" || fields.Y == "" || fields.Crv == "" {
			return nil, fmt.Errorf("jwk: EC key missing x, y, or crv")
		}
		curve, err := ecCurve(fields.Crv)
		if err != nil {
			return nil, err
		}
		x, err := b64uDecode(fields.X)
		if err != nil {
			return nil, fmt.Errorf("jwk: invalid EC x: %w", err)
		}
		y, err := b64uDecode(fields.Y)
		if err != nil {
			return nil, fmt.Errorf("jwk: invalid EC y: %w", err)
		}
		jwk.PublicKey = &ecdsa.PublicKey{
			Curve: curve,
			X:     new(big.Int).SetBytes(x),
			Y:     new(big.Int).SetBytes(y),
		}
	case "OKP":
		if fields.X == "" || fields.Crv == "" {
			return nil, fmt.Errorf("jwk: OKP key missing x or crv")
		}
		switch fields.Crv {
		case "Ed25519":
			x, err := b64uDecode(fields.X)
			if err != nil {
				return nil, fmt.Errorf("jwk: invalid OKP x: %w", err)
			}
			if len(x) != ed25519.PublicKeySize {
				return nil, fmt.Errorf("jwk: Ed25519 key has wrong length %d", len(x))
			}
			jwk.PublicKey = ed25519.PublicKey(x)
		case "Ed448":
			// Neither the Go standard library nor any example in the
			// reference pack implements Ed448; see DESIGN.md.
			return nil, fmt.Errorf("jwk: %w: Ed448", errUnsupportedCurve)
		default:
			return nil, fmt.Errorf("jwk: unrecognized OKP curve %q", fields.Crv)
		}
	default:
		return nil, fmt.Errorf("jwk: unrecognized kty %q", fields.Kty)
	}

	return jwk, nil
}

var errUnsupportedCurve = fmt.Errorf("unsupported curve")

func ecCurve(crv string) (elliptic.Curve, error) {
	switch crv {
	case "P-256":
		return elliptic.P256(), nil
	case "P-384":
		return elliptic.P384(), nil
	case "P-521":
		return elliptic.P521(), nil
	default:
		return nil, fmt.Errorf("jwk: unrecognized EC curve %q", crv)
	}
}

// Thumbprint computes the RFC 7638 thumbprint: SHA-256 over the canonical
// JSON encoding of only the required members for this key's kty, with
// members in lexicographic order. Go's encoding/json sorts map[string]...
// keys alphabetically when marshaling, which is exactly the canonical
// ordering RFC 7638 requires — the same trick the reference DPoP thumbprint
// code relies on.
func (k *JWK) Thumbprint() (string, error) {
	var members map[string]interface{}
	switch k.Kty {
	case "RSA":
		members = map[string]interface{}{
			"kty": "RSA",
			"n":   k.raw["n"],
			"e":   k.raw["e"],
		}
	case "EC":
		members = map[string]interface{}{
			"kty": "EC",
			"crv": k.raw["crv"],
			"x":   k.raw["x"],
			"y":   k.raw["y"],
		}
	case "OKP":
		members = map[string]interface{}{
			"kty": "OKP",
			"crv": k.raw["crv"],
			"x":   k.raw["x"],
		}
	default:
		return "", fmt.Errorf("jwk: cannot compute thumbprint for kty %q", k.Kty)
	}
	canonical, err := json.Marshal(members)
	if err != nil {
		return "", fmt.Errorf("jwk: thumbprint marshal failed: %w", err)
	}
	sum := sha256.Sum256(canonical)
	return base64.RawURLEncoding.EncodeToString(sum[:]), nil
}
