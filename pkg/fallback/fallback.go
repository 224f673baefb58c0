// Package fallback implements the shared-secret HMAC token mode used
// when no managed identity provider is deployed. Tokens are ordinary
// HS256 JWTs carrying the same normalized claim set the OIDC verifiers
// produce, so the calling layer treats both modes identically.
package fallback

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/resumesite/oidc-gatekeeper/pkg/config"
	"github.com/resumesite/oidc-gatekeeper/pkg/types"
	"github.com/resumesite/oidc-gatekeeper/pkg/verifier"
)

// Signer issues and verifies HMAC fallback tokens.
type Signer struct {
	secret   []byte
	issuer   string
	audience string
	tokenTTL time.Duration
	now      func() time.Time
}

// Option configures a Signer.
type Option func(*Signer)

// WithClock overrides the time source, for deterministic tests.
func WithClock(now func() time.Time) Option {
	return func(s *Signer) {
		s.now = now
	}
}

// NewSigner creates a Signer from the fallback configuration.
func NewSigner(cfg *config.Fallback, opts ...Option) *Signer {
	s := &Signer{
		secret:   []byte(cfg.Secret),
		issuer:   cfg.Issuer,
		audience: cfg.Audience,
		tokenTTL: cfg.TokenTTL,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Issuer returns the issuer written into and expected from fallback tokens.
func (s *Signer) Issuer() string {
	return s.issuer
}

// Issue mints a signed access token for the given identity.
func (s *Signer) Issue(subject, email string, groups []string) (string, error) {
	now := s.now()

	claims := jwt.MapClaims{
		"iss":       s.issuer,
		"aud":       s.audience,
		"sub":       subject,
		"jti":       uuid.New().String(),
		"iat":       now.Unix(),
		"exp":       now.Add(s.tokenTTL).Unix(),
		"token_use": "access",
	}
	if email != "" {
		claims["email"] = email
	}
	if len(groups) > 0 {
		claims["groups"] = groups
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.secret)
}

// Verify checks a fallback token and returns normalized claims. It
// shares the OIDC verifiers' rejection taxonomy; unknown-key and
// key-fetch-failed never occur since there is no key set to fetch.
func (s *Signer) Verify(tokenString string) (*types.TokenClaims, error) {
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Name}),
		jwt.WithIssuer(s.issuer),
		jwt.WithAudience(s.audience),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)

	verified := jwt.MapClaims{}
	token, err := parser.ParseWithClaims(tokenString, verified, func(t *jwt.Token) (any, error) {
		return s.secret, nil
	})
	if err != nil {
		return nil, classify(err)
	}
	if !token.Valid {
		return nil, verifier.ErrSignatureInvalid
	}

	if use, _ := verified["token_use"].(string); use != "access" {
		return nil, verifier.ErrTokenUseInvalid
	}

	claims := &types.TokenClaims{
		Issuer:   s.issuer,
		Provider: "fallback",
		TokenUse: "access",
	}
	claims.Subject, _ = verified.GetSubject()
	if audience, err := verified.GetAudience(); err == nil {
		claims.Audience = audience
	}
	if expiry, err := verified.GetExpirationTime(); err == nil && expiry != nil {
		claims.ExpiresAt = expiry.Time
	}
	if issuedAt, err := verified.GetIssuedAt(); err == nil && issuedAt != nil {
		claims.IssuedAt = issuedAt.Time
	}
	claims.Email, _ = verified["email"].(string)
	claims.Scope, _ = verified["scope"].(string)

	if raw, ok := verified["groups"].([]any); ok {
		for _, g := range raw {
			if name, ok := g.(string); ok {
				claims.Groups = append(claims.Groups, name)
			}
		}
	}

	return claims, nil
}

func classify(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenMalformed):
		return verifier.ErrMalformed
	case errors.Is(err, jwt.ErrTokenExpired):
		return verifier.ErrExpired
	case errors.Is(err, jwt.ErrTokenInvalidIssuer):
		return verifier.ErrIssuerMismatch
	case errors.Is(err, jwt.ErrTokenInvalidAudience):
		return verifier.ErrAudienceMismatch
	default:
		return verifier.ErrSignatureInvalid
	}
}
