package verifier

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rsa"
	"encoding/base64"
	"fmt"
	"math/big"

	"github.com/resumesite/oidc-gatekeeper/pkg/types"
)

// publicKeyFor imports a JWK into a verification-capable public key
// and returns the signing algorithm name the key declares. The
// algorithm is always taken from the key metadata, never assumed: a
// provider's JWKS can mix RSA and EC keys.
func publicKeyFor(key *types.JSONWebKey) (any, string, error) {
	switch key.KeyType {
	case "RSA":
		return rsaPublicKey(key)
	case "EC":
		return ecPublicKey(key)
	default:
		return nil, "", fmt.Errorf("unsupported key type %q", key.KeyType)
	}
}

func rsaPublicKey(key *types.JSONWebKey) (*rsa.PublicKey, string, error) {
	nBytes, err := base64.RawURLEncoding.DecodeString(key.N)
	if err != nil {
		return nil, "", fmt.Errorf("failed to decode modulus: %w", err)
	}

	eBytes, err := base64.RawURLEncoding.DecodeString(key.E)
	if err != nil {
		return nil, "", fmt.Errorf("failed to decode exponent: %w", err)
	}

	pub := &rsa.PublicKey{
		N: new(big.Int).SetBytes(nBytes),
		E: int(new(big.Int).SetBytes(eBytes).Int64()),
	}

	alg := key.Algorithm
	if alg == "" {
		alg = "RS256"
	}
	switch alg {
	case "RS256", "RS384", "RS512", "PS256", "PS384", "PS512":
	default:
		return nil, "", fmt.Errorf("algorithm %q is not valid for an RSA key", alg)
	}

	return pub, alg, nil
}

func ecPublicKey(key *types.JSONWebKey) (*ecdsa.PublicKey, string, error) {
	var curve elliptic.Curve
	var defaultAlg string

	switch key.Crv {
	case "P-256":
		curve, defaultAlg = elliptic.P256(), "ES256"
	case "P-384":
		curve, defaultAlg = elliptic.P384(), "ES384"
	case "P-521":
		curve, defaultAlg = elliptic.P521(), "ES512"
	default:
		return nil, "", fmt.Errorf("unsupported curve %q", key.Crv)
	}

	xBytes, err := base64.RawURLEncoding.DecodeString(key.X)
	if err != nil {
		return nil, "", fmt.Errorf("failed to decode x coordinate: %w", err)
	}

	yBytes, err := base64.RawURLEncoding.DecodeString(key.Y)
	if err != nil {
		return nil, "", fmt.Errorf("failed to decode y coordinate: %w", err)
	}

	pub := &ecdsa.PublicKey{
		Curve: curve,
		X:     new(big.Int).SetBytes(xBytes),
		Y:     new(big.Int).SetBytes(yBytes),
	}
	if !curve.IsOnCurve(pub.X, pub.Y) {
		return nil, "", fmt.Errorf("point is not on curve %q", key.Crv)
	}

	alg := key.Algorithm
	if alg == "" {
		alg = defaultAlg
	}

	return pub, alg, nil
}
