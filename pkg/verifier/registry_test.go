package verifier_test

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/resumesite/oidc-gatekeeper/pkg/types"
	"github.com/resumesite/oidc-gatekeeper/pkg/verifier"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubVerifier records which tokens it was asked to verify
type stubVerifier struct {
	issuer string
	called int
	claims *types.TokenClaims
	err    error
}

func (s *stubVerifier) Verify(token string) (*types.TokenClaims, error) {
	s.called++
	return s.claims, s.err
}

func (s *stubVerifier) Issuer() string {
	return s.issuer
}

func unsignedToken(t *testing.T, issuer string) string {
	t.Helper()

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"iss": issuer,
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	signed, err := token.SignedString([]byte("stub-secret"))
	require.NoError(t, err)
	return signed
}

func TestRegistry_SelectsByIssuer(t *testing.T) {
	cognito := &stubVerifier{
		issuer: "https://cognito.test/pool",
		claims: &types.TokenClaims{Subject: "cognito-user", Provider: "cognito"},
	}
	okta := &stubVerifier{
		issuer: "https://okta.test/oauth2",
		claims: &types.TokenClaims{Subject: "okta-user", Provider: "okta"},
	}

	registry := verifier.NewRegistry(cognito, okta)

	claims, err := registry.Verify(unsignedToken(t, "https://okta.test/oauth2"))
	require.NoError(t, err)
	assert.Equal(t, "okta-user", claims.Subject)
	assert.Equal(t, 1, okta.called)
	assert.Equal(t, 0, cognito.called)
}

func TestRegistry_UnknownIssuer(t *testing.T) {
	registry := verifier.NewRegistry(&stubVerifier{issuer: "https://cognito.test/pool"})

	claims, err := registry.Verify(unsignedToken(t, "https://rogue.test"))
	assert.Nil(t, claims)
	assert.ErrorIs(t, err, verifier.ErrIssuerMismatch)
}

func TestRegistry_MissingIssuer(t *testing.T) {
	registry := verifier.NewRegistry(&stubVerifier{issuer: "https://cognito.test/pool"})

	token := jwt.New(jwt.SigningMethodHS256)
	signed, err := token.SignedString([]byte("stub-secret"))
	require.NoError(t, err)

	claims, err := registry.Verify(signed)
	assert.Nil(t, claims)
	assert.ErrorIs(t, err, verifier.ErrIssuerMismatch)
}

func TestRegistry_MalformedToken(t *testing.T) {
	registry := verifier.NewRegistry(&stubVerifier{issuer: "https://cognito.test/pool"})

	claims, err := registry.Verify("garbage")
	assert.Nil(t, claims)
	assert.ErrorIs(t, err, verifier.ErrMalformed)
}

func TestRegistry_Add(t *testing.T) {
	registry := verifier.NewRegistry()
	registry.Add(&stubVerifier{
		issuer: "https://keycloak.test/realm",
		claims: &types.TokenClaims{Subject: "kc-user"},
	})

	claims, err := registry.Verify(unsignedToken(t, "https://keycloak.test/realm"))
	require.NoError(t, err)
	assert.Equal(t, "kc-user", claims.Subject)
}
