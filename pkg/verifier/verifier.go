package verifier

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/resumesite/oidc-gatekeeper/pkg/cache"
	"github.com/resumesite/oidc-gatekeeper/pkg/config"
	"github.com/resumesite/oidc-gatekeeper/pkg/types"
)

// DefaultFetchTimeout bounds the JWKS fetch so no verification call
// can hang on a slow provider.
const DefaultFetchTimeout = 5 * time.Second

// TokenVerifier converts an opaque bearer token into verified claims
// or a typed rejection.
type TokenVerifier interface {
	Verify(token string) (*types.TokenClaims, error)
	Issuer() string
}

// Verifier verifies bearer tokens issued by a single configured
// provider. Each instance owns its view of the shared JWKS cache; the
// cache is read and replaced only through the Cache interface, so
// verification itself is a pure function of (token, clock, cache
// state).
type Verifier struct {
	provider config.Provider
	cache    cache.Cache
	client   *http.Client
	cacheTTL time.Duration
	now      func() time.Time
}

// Option configures a Verifier.
type Option func(*Verifier)

// WithHTTPClient overrides the HTTP client used for JWKS fetches.
func WithHTTPClient(client *http.Client) Option {
	return func(v *Verifier) {
		v.client = client
	}
}

// WithCacheTTL overrides how long a fetched key set is trusted.
func WithCacheTTL(ttl time.Duration) Option {
	return func(v *Verifier) {
		v.cacheTTL = ttl
	}
}

// WithClock overrides the time source used for expiry checks.
func WithClock(now func() time.Time) Option {
	return func(v *Verifier) {
		v.now = now
	}
}

// New creates a Verifier for one provider backed by the given cache.
func New(provider config.Provider, jwksCache cache.Cache, opts ...Option) *Verifier {
	v := &Verifier{
		provider: provider,
		cache:    jwksCache,
		client:   &http.Client{Timeout: DefaultFetchTimeout},
		cacheTTL: cache.Defaults.TTL,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Issuer returns the exact issuer value this verifier accepts.
func (v *Verifier) Issuer() string {
	return v.provider.Issuer
}

// Verify checks the token end-to-end and returns normalized claims.
// Checks run cheap to expensive: issuer, audience and expiry are read
// from the undecoded-but-untrusted payload first, so an expired or
// mis-issued token never triggers a JWKS fetch. Any failure is a
// *RejectionError; nothing about the token beyond the failed check's
// name appears in the error.
func (v *Verifier) Verify(tokenString string) (*types.TokenClaims, error) {
	if strings.Count(tokenString, ".") != 2 {
		return nil, reject(ReasonMalformed)
	}

	// Decode header and payload without trusting them yet
	raw := jwt.MapClaims{}
	unverified, _, err := jwt.NewParser().ParseUnverified(tokenString, raw)
	if err != nil {
		return nil, rejectWrap(ReasonMalformed, err)
	}

	if err := v.structuralChecks(raw); err != nil {
		return nil, err
	}

	kid, ok := unverified.Header["kid"].(string)
	if !ok || kid == "" {
		return nil, reject(ReasonUnknownKey)
	}

	key, err := v.signingKey(kid)
	if err != nil {
		return nil, err
	}

	pub, alg, err := publicKeyFor(key)
	if err != nil {
		slog.Debug("Unusable key material in JWKS",
			slog.String("provider", v.provider.Name),
			slog.String("kid", kid),
			slog.String("error", err.Error()))
		return nil, rejectWrap(ReasonUnknownKey, err)
	}

	// Full parse recomputes the signature over the exact serialized
	// header.payload bytes. The accepted method is pinned to the
	// algorithm the located key declares.
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{alg}),
		jwt.WithIssuer(v.provider.Issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(v.now),
	)

	verified := jwt.MapClaims{}
	token, err := parser.ParseWithClaims(tokenString, verified, func(t *jwt.Token) (any, error) {
		return pub, nil
	})
	if err != nil {
		return nil, rejectWrap(classifyParseError(err), err)
	}
	if !token.Valid {
		return nil, reject(ReasonSignatureInvalid)
	}

	if err := v.checkTokenUse(verified); err != nil {
		return nil, err
	}

	return v.buildClaims(verified), nil
}

// structuralChecks validates issuer, audience and expiry from the
// unverified payload. Signature verification repeats these checks on
// the verified claims; this pass exists purely to fail before any
// network call.
func (v *Verifier) structuralChecks(raw jwt.MapClaims) error {
	issuer, err := raw.GetIssuer()
	if err != nil || issuer != v.provider.Issuer {
		return reject(ReasonIssuerMismatch)
	}

	// aud may be a single string or an array of strings
	audience, err := raw.GetAudience()
	if err != nil {
		return reject(ReasonAudienceMismatch)
	}
	if !slices.ContainsFunc(audience, func(aud string) bool {
		return slices.Contains(v.provider.Audiences, aud)
	}) {
		return reject(ReasonAudienceMismatch)
	}

	expiry, err := raw.GetExpirationTime()
	if err != nil || expiry == nil || !expiry.After(v.now()) {
		return reject(ReasonExpired)
	}

	return nil
}

// signingKey resolves the kid against the cached key set, refreshing
// it at most once. A refresh replaces the whole set and resets its TTL
// clock; a second miss after refresh is final for this call.
func (v *Verifier) signingKey(kid string) (*types.JSONWebKey, error) {
	if set, found := v.cache.Get(v.provider.JwksURL); found {
		if key := set.Key(kid); key != nil {
			return key, nil
		}
	}

	fresh, err := v.fetchJWKS()
	if err != nil {
		// Leave the cache untouched; a later request may succeed
		return nil, rejectWrap(ReasonKeyFetchFailed, err)
	}

	v.cache.Set(v.provider.JwksURL, fresh, v.cacheTTL)

	if key := fresh.Key(kid); key != nil {
		return key, nil
	}

	slog.Warn("Token kid not present in provider JWKS",
		slog.String("provider", v.provider.Name),
		slog.String("kid", kid))
	return nil, reject(ReasonUnknownKey)
}

// fetchJWKS performs one bounded HTTP GET against the provider's
// published JWKS endpoint.
func (v *Verifier) fetchJWKS() (*types.JWKS, error) {
	resp, err := v.client.Get(v.provider.JwksURL)
	if err != nil {
		slog.Error("Failed to fetch JWKS",
			slog.String("provider", v.provider.Name),
			slog.String("error", err.Error()))
		return nil, fmt.Errorf("failed to fetch JWKS: %w", err)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			slog.Error("Failed to close JWKS response body", "error", err)
		}
	}()

	if resp.StatusCode != http.StatusOK {
		slog.Error("Received non-200 status code when fetching JWKS",
			slog.String("provider", v.provider.Name),
			slog.Int("status", resp.StatusCode))
		return nil, fmt.Errorf("received non-200 status code when fetching JWKS: %d", resp.StatusCode)
	}

	var jwks types.JWKS
	if err := json.NewDecoder(resp.Body).Decode(&jwks); err != nil {
		slog.Error("Failed to parse JWKS",
			slog.String("provider", v.provider.Name),
			slog.String("error", err.Error()))
		return nil, fmt.Errorf("failed to parse JWKS: %w", err)
	}

	return &jwks, nil
}

// checkTokenUse applies the provider's token-use policy to the
// verified payload. An empty accepted list or a "*" entry disables the
// check for providers whose tokens carry no such claim (Okta access
// tokens, for example).
func (v *Verifier) checkTokenUse(verified jwt.MapClaims) error {
	if len(v.provider.AcceptedTokenUses) == 0 ||
		slices.Contains(v.provider.AcceptedTokenUses, "*") {
		return nil
	}

	use, _ := verified[v.provider.TokenUseClaim].(string)
	if !slices.Contains(v.provider.AcceptedTokenUses, use) {
		return reject(ReasonTokenUseInvalid)
	}

	return nil
}

// buildClaims normalizes the verified payload into TokenClaims.
// Provider-specific group claim names collapse into a single Groups
// field here.
func (v *Verifier) buildClaims(verified jwt.MapClaims) *types.TokenClaims {
	claims := &types.TokenClaims{
		Issuer:   v.provider.Issuer,
		Provider: v.provider.Name,
		Groups:   claimStrings(verified, v.provider.GroupsClaim),
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
	claims.TokenUse, _ = verified[v.provider.TokenUseClaim].(string)

	return claims
}

// claimStrings reads a string-list claim by name. A dot in the name
// descends into nested objects, which covers Keycloak's
// realm_access.roles shape.
func claimStrings(claims jwt.MapClaims, path string) []string {
	var current any = map[string]any(claims)
	for _, part := range strings.Split(path, ".") {
		obj, ok := current.(map[string]any)
		if !ok {
			return nil
		}
		if current, ok = obj[part]; !ok {
			return nil
		}
	}

	switch value := current.(type) {
	case []any:
		groups := make([]string, 0, len(value))
		for _, item := range value {
			if s, ok := item.(string); ok {
				groups = append(groups, s)
			}
		}
		return groups
	case []string:
		return value
	case string:
		if value == "" {
			return nil
		}
		return []string{value}
	default:
		return nil
	}
}

// classifyParseError maps golang-jwt parse failures onto the
// rejection taxonomy.
func classifyParseError(err error) Reason {
	switch {
	case errors.Is(err, jwt.ErrTokenMalformed):
		return ReasonMalformed
	case errors.Is(err, jwt.ErrTokenExpired):
		return ReasonExpired
	case errors.Is(err, jwt.ErrTokenInvalidIssuer):
		return ReasonIssuerMismatch
	case errors.Is(err, jwt.ErrTokenInvalidAudience):
		return ReasonAudienceMismatch
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return ReasonSignatureInvalid
	default:
		return ReasonSignatureInvalid
	}
}
