package verifier

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"math/big"
	"testing"

	"github.com/resumesite/oidc-gatekeeper/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublicKeyFor_RSA(t *testing.T) {
	privateKey, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	jwk := &types.JSONWebKey{
		KeyID:     "k1",
		KeyType:   "RSA",
		Algorithm: "RS256",
		N:         base64.RawURLEncoding.EncodeToString(privateKey.PublicKey.N.Bytes()),
		E:         base64.RawURLEncoding.EncodeToString(big.NewInt(int64(privateKey.PublicKey.E)).Bytes()),
	}

	pub, alg, err := publicKeyFor(jwk)
	require.NoError(t, err)
	assert.Equal(t, "RS256", alg)

	rsaPub, ok := pub.(*rsa.PublicKey)
	require.True(t, ok)
	assert.Equal(t, 0, rsaPub.N.Cmp(privateKey.PublicKey.N))
	assert.Equal(t, privateKey.PublicKey.E, rsaPub.E)
}

func TestPublicKeyFor_RSADefaultsToRS256(t *testing.T) {
	privateKey, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	jwk := &types.JSONWebKey{
		KeyID:   "k1",
		KeyType: "RSA",
		N:       base64.RawURLEncoding.EncodeToString(privateKey.PublicKey.N.Bytes()),
		E:       base64.RawURLEncoding.EncodeToString(big.NewInt(int64(privateKey.PublicKey.E)).Bytes()),
	}

	_, alg, err := publicKeyFor(jwk)
	require.NoError(t, err)
	assert.Equal(t, "RS256", alg)
}

func TestPublicKeyFor_RSARejectsForeignAlgorithm(t *testing.T) {
	privateKey, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	jwk := &types.JSONWebKey{
		KeyType:   "RSA",
		Algorithm: "ES256",
		N:         base64.RawURLEncoding.EncodeToString(privateKey.PublicKey.N.Bytes()),
		E:         base64.RawURLEncoding.EncodeToString(big.NewInt(int64(privateKey.PublicKey.E)).Bytes()),
	}

	_, _, err = publicKeyFor(jwk)
	assert.Error(t, err)
}

func TestPublicKeyFor_EC(t *testing.T) {
	privateKey, err := ecdsa.GenerateKey(elliptic.P384(), rand.Reader)
	require.NoError(t, err)

	jwk := &types.JSONWebKey{
		KeyID:   "ec1",
		KeyType: "EC",
		Crv:     "P-384",
		X:       base64.RawURLEncoding.EncodeToString(privateKey.PublicKey.X.Bytes()),
		Y:       base64.RawURLEncoding.EncodeToString(privateKey.PublicKey.Y.Bytes()),
	}

	pub, alg, err := publicKeyFor(jwk)
	require.NoError(t, err)
	assert.Equal(t, "ES384", alg) // defaulted from the curve

	ecPub, ok := pub.(*ecdsa.PublicKey)
	require.True(t, ok)
	assert.Equal(t, 0, ecPub.X.Cmp(privateKey.PublicKey.X))
}

func TestPublicKeyFor_ECRejectsOffCurvePoint(t *testing.T) {
	jwk := &types.JSONWebKey{
		KeyType: "EC",
		Crv:     "P-256",
		X:       base64.RawURLEncoding.EncodeToString(big.NewInt(1).Bytes()),
		Y:       base64.RawURLEncoding.EncodeToString(big.NewInt(1).Bytes()),
	}

	_, _, err := publicKeyFor(jwk)
	assert.Error(t, err)
}

func TestPublicKeyFor_UnsupportedKeyType(t *testing.T) {
	jwk := &types.JSONWebKey{KeyType: "oct", Algorithm: "HS256"}

	_, _, err := publicKeyFor(jwk)
	assert.Error(t, err)
}

func TestPublicKeyFor_UnsupportedCurve(t *testing.T) {
	jwk := &types.JSONWebKey{KeyType: "EC", Crv: "secp256k1"}

	_, _, err := publicKeyFor(jwk)
	assert.Error(t, err)
}

func TestPublicKeyFor_BadEncoding(t *testing.T) {
	jwk := &types.JSONWebKey{KeyType: "RSA", N: "!!!not-base64!!!", E: "AQAB"}

	_, _, err := publicKeyFor(jwk)
	assert.Error(t, err)
}
