// File: signature.go

package oidcguard

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/asn1"
	"fmt"
	"math/big"
)

// verifySignature checks signature over signingInput using key and alg.
// Symmetric algorithms are rejected unconditionally (spec.md §4.4): this
// engine only ever trusts asymmetric, JWKS-sourced keys.
func verifySignature(key crypto.PublicKey, alg, signingInput string, signature []byte) *ValidationError {
	switch alg {
	case "RS256", "RS384", "RS512":
		return verifyRSAPKCS1(key, alg, signingInput, signature)
	case "PS256", "PS384", "PS512":
		return verifyRSAPSS(key, alg, signingInput, signature)
	case "ES256", "ES384", "ES512":
		return verifyECDSA(key, alg, signingInput, signature)
	case "EdDSA":
		return verifyEdDSA(key, signingInput, signature)
	case "HS256", "HS384", "HS512", "none":
		return newError(CodeUnsupportedAlgorithm, "symmetric and none algorithms are never accepted")
	default:
		return newError(CodeUnsupportedAlgorithm, fmt.Sprintf("unrecognized algorithm %q", alg))
	}
}

func digest(alg, signingInput string) ([]byte, crypto.Hash, bool) {
	switch alg {
	case "RS256", "PS256", "ES256":
		sum := sha256.Sum256([]byte(signingInput))
		return sum[:], crypto.SHA256, true
	case "RS384", "PS384", "ES384":
		sum := sha512.Sum384([]byte(signingInput))
		return sum[:], crypto.SHA384, true
	case "RS512", "PS512", "ES512":
		sum := sha512.Sum512([]byte(signingInput))
		return sum[:], crypto.SHA512, true
	default:
		return nil, 0, false
	}
}

func verifyRSAPKCS1(key crypto.PublicKey, alg, signingInput string, signature []byte) *ValidationError {
	pub, ok := key.(*rsa.PublicKey)
	if !ok {
		return newError(CodeAlgorithmKeyMismatch, "key is not an RSA public key")
	}
	sum, hash, ok := digest(alg, signingInput)
	if !ok {
		return newError(CodeUnsupportedAlgorithm, alg)
	}
	if err := rsa.VerifyPKCS1v15(pub, hash, sum, signature); err != nil {
		return newError(CodeBadSignature, "RSA PKCS1v15 verification failed")
	}
	return nil
}

func verifyRSAPSS(key crypto.PublicKey, alg, signingInput string, signature []byte) *ValidationError {
	pub, ok := key.(*rsa.PublicKey)
	if !ok {
		return newError(CodeAlgorithmKeyMismatch, "key is not an RSA public key")
	}
	sum, hash, ok := digest(alg, signingInput)
	if !ok {
		return newError(CodeUnsupportedAlgorithm, alg)
	}
	opts := &rsa.PSSOptions{SaltLength: rsa.PSSSaltLengthEqualsHash, Hash: hash}
	if err := rsa.VerifyPSS(pub, hash, sum, signature, opts); err != nil {
		return newError(CodeBadSignature, "RSA PSS verification failed")
	}
	return nil
}

// curveByteLen is the expected r/s half-length for each ECDSA algorithm's
// curve, per RFC 7518 §3.4: 32 bytes for P-256, 48 for P-384, 66 for P-521.
func curveByteLen(alg string) (int, bool) {
	switch alg {
	case "ES256":
		return 32, true
	case "ES384":
		return 48, true
	case "ES512":
		return 66, true
	default:
		return 0, false
	}
}

func verifyECDSA(key crypto.PublicKey, alg, signingInput string, signature []byte) *ValidationError {
	pub, ok := key.(*ecdsa.PublicKey)
	if !ok {
		return newError(CodeAlgorithmKeyMismatch, "key is not an ECDSA public key")
	}
	sum, _, ok := digest(alg, signingInput)
	if !ok {
		return newError(CodeUnsupportedAlgorithm, alg)
	}
	n, ok := curveByteLen(alg)
	if !ok {
		return newError(CodeUnsupportedAlgorithm, alg)
	}

	der, verr := normalizeECDSASignature(signature, n)
	if verr != nil {
		return verr
	}
	if !ecdsa.VerifyASN1(pub, sum, der) {
		return newError(CodeBadSignature, "ECDSA verification failed")
	}
	return nil
}

// normalizeECDSASignature detects whether signature is already ASN.1 DER or
// is fixed-length IEEE P-1363 (JWS's wire format: raw r||s, each n bytes —
// spec.md §4.4, §8 scenario 6). P-1363 is converted to DER for
// crypto/ecdsa.VerifyASN1. A length matching neither 2*n nor a parseable DER
// sequence is rejected with BadSignature rather than guessed at.
func normalizeECDSASignature(signature []byte, n int) ([]byte, *ValidationError) {
	if len(signature) == 2*n {
		r := new(big.Int).SetBytes(signature[:n])
		s := new(big.Int).SetBytes(signature[n:])
		der, err := asn1.Marshal(struct{ R, S *big.Int }{r, s})
		if err != nil {
			return nil, newError(CodeBadSignature, "failed to encode P-1363 signature as DER")
		}
		return der, nil
	}
	// Not P-1363-shaped for this curve; try it as DER directly and let
	// VerifyASN1's own parsing reject it if it isn't.
	var probe struct{ R, S *big.Int }
	if _, err := asn1.Unmarshal(signature, &probe); err != nil {
		return nil, newError(CodeBadSignature, fmt.Sprintf("signature length %d matches neither P-1363 (%d) nor valid DER", len(signature), 2*n))
	}
	return signature, nil
}

func verifyEdDSA(key crypto.PublicKey, signingInput string, signature []byte) *ValidationError {
	pub, ok := key.(ed25519.PublicKey)
	if !ok {
		return newError(CodeAlgorithmKeyMismatch, "key is not an Ed25519 public key")
	}
	if !ed25519.Verify(pub, []byte(signingInput), signature) {
		return newError(CodeBadSignature, "EdDSA verification failed")
	}
	return nil
}
