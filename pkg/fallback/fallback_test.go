package fallback_test

import (
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/resumesite/oidc-gatekeeper/pkg/config"
	"github.com/resumesite/oidc-gatekeeper/pkg/fallback"
	"github.com/resumesite/oidc-gatekeeper/pkg/verifier"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testSecret   = "a-long-enough-shared-secret"
	testIssuer   = "https://resume.example.test"
	testAudience = "my-client"
)

func testFallbackConfig() *config.Fallback {
	return &config.Fallback{
		Enabled:  true,
		Secret:   testSecret,
		Issuer:   testIssuer,
		Audience: testAudience,
		TokenTTL: time.Hour,
	}
}

func newSigner(t *testing.T, opts ...fallback.Option) *fallback.Signer {
	t.Helper()
	return fallback.NewSigner(testFallbackConfig(), opts...)
}

func TestIssueAndVerify(t *testing.T) {
	signer := newSigner(t)

	token, err := signer.Issue("user-1", "user@example.test", []string{"admin", "editors"})
	require.NoError(t, err)

	claims, err := signer.Verify(token)
	require.NoError(t, err)

	assert.Equal(t, "user-1", claims.Subject)
	assert.Equal(t, "user@example.test", claims.Email)
	assert.Equal(t, testIssuer, claims.Issuer)
	assert.Contains(t, claims.Audience, testAudience)
	assert.Equal(t, []string{"admin", "editors"}, claims.Groups)
	assert.Equal(t, "access", claims.TokenUse)
	assert.Equal(t, "fallback", claims.Provider)
	assert.True(t, claims.HasGroup("admin"))
	assert.False(t, claims.HasGroup("viewers"))
}

func TestIssueWithoutOptionalClaims(t *testing.T) {
	signer := newSigner(t)

	token, err := signer.Issue("user-1", "", nil)
	require.NoError(t, err)

	claims, err := signer.Verify(token)
	require.NoError(t, err)
	assert.Empty(t, claims.Email)
	assert.Empty(t, claims.Groups)
}

func TestVerify_TamperedSignature(t *testing.T) {
	signer := newSigner(t)

	token, err := signer.Issue("user-1", "", nil)
	require.NoError(t, err)

	sigStart := strings.LastIndexByte(token, '.') + 1
	flipped := byte('A')
	if token[sigStart] == 'A' {
		flipped = 'B'
	}
	tampered := token[:sigStart] + string(flipped) + token[sigStart+1:]

	_, err = signer.Verify(tampered)
	assert.ErrorIs(t, err, verifier.ErrSignatureInvalid)
}

func TestVerify_WrongSecret(t *testing.T) {
	signer := newSigner(t)

	otherCfg := testFallbackConfig()
	otherCfg.Secret = "a-completely-different-secret"
	other := fallback.NewSigner(otherCfg)

	token, err := other.Issue("user-1", "", nil)
	require.NoError(t, err)

	_, err = signer.Verify(token)
	assert.ErrorIs(t, err, verifier.ErrSignatureInvalid)
}

func TestVerify_Expired(t *testing.T) {
	issuedAt := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	signer := newSigner(t, fallback.WithClock(func() time.Time { return issuedAt }))

	token, err := signer.Issue("user-1", "", nil)
	require.NoError(t, err)

	// Same signer, clock moved one second past the token's lifetime
	late := fallback.NewSigner(testFallbackConfig(), fallback.WithClock(func() time.Time {
		return issuedAt.Add(time.Hour + time.Second)
	}))

	_, err = late.Verify(token)
	assert.ErrorIs(t, err, verifier.ErrExpired)
}

func TestVerify_WrongIssuer(t *testing.T) {
	otherCfg := testFallbackConfig()
	otherCfg.Issuer = "https://other-issuer.test"
	other := fallback.NewSigner(otherCfg)

	token, err := other.Issue("user-1", "", nil)
	require.NoError(t, err)

	_, err = newSigner(t).Verify(token)
	assert.ErrorIs(t, err, verifier.ErrIssuerMismatch)
}

func TestVerify_WrongAudience(t *testing.T) {
	otherCfg := testFallbackConfig()
	otherCfg.Audience = "other-client"
	other := fallback.NewSigner(otherCfg)

	token, err := other.Issue("user-1", "", nil)
	require.NoError(t, err)

	_, err = newSigner(t).Verify(token)
	assert.ErrorIs(t, err, verifier.ErrAudienceMismatch)
}

func TestVerify_Malformed(t *testing.T) {
	_, err := newSigner(t).Verify("not-a-jwt")
	assert.ErrorIs(t, err, verifier.ErrMalformed)
}

func TestVerify_RejectsNonAccessTokenUse(t *testing.T) {
	signer := newSigner(t)

	now := time.Now()
	claims := jwt.MapClaims{
		"iss":       testIssuer,
		"aud":       testAudience,
		"sub":       "user-1",
		"iat":       now.Unix(),
		"exp":       now.Add(time.Hour).Unix(),
		"token_use": "id",
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	require.NoError(t, err)

	_, err = signer.Verify(token)
	assert.ErrorIs(t, err, verifier.ErrTokenUseInvalid)
}

func TestVerify_MissingExpiry(t *testing.T) {
	signer := newSigner(t)

	claims := jwt.MapClaims{
		"iss":       testIssuer,
		"aud":       testAudience,
		"sub":       "user-1",
		"token_use": "access",
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	require.NoError(t, err)

	_, err = signer.Verify(token)
	require.Error(t, err)
}

func TestVerify_RejectsAlgorithmConfusion(t *testing.T) {
	signer := newSigner(t)

	// A token signed with "none" must never pass even with matching claims
	now := time.Now()
	claims := jwt.MapClaims{
		"iss":       testIssuer,
		"aud":       testAudience,
		"sub":       "user-1",
		"exp":       now.Add(time.Hour).Unix(),
		"token_use": "access",
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodNone, claims).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	_, err = signer.Verify(token)
	require.Error(t, err)
}
