package verifier

import (
	"github.com/golang-jwt/jwt/v5"
	"github.com/resumesite/oidc-gatekeeper/pkg/types"
)

// Registry routes a presented token to the verifier configured for its
// issuer. This replaces the per-provider detector glue: selection is a
// data lookup on the (unverified) iss claim, and the selected verifier
// still re-checks the issuer during full verification.
type Registry struct {
	verifiers map[string]TokenVerifier
}

// NewRegistry builds a registry from the given verifiers, keyed by
// their issuer.
func NewRegistry(verifiers ...TokenVerifier) *Registry {
	byIssuer := make(map[string]TokenVerifier, len(verifiers))
	for _, v := range verifiers {
		byIssuer[v.Issuer()] = v
	}
	return &Registry{verifiers: byIssuer}
}

// Add registers another verifier, replacing any existing one for the
// same issuer.
func (r *Registry) Add(v TokenVerifier) {
	r.verifiers[v.Issuer()] = v
}

// Verify selects a verifier by the token's issuer and runs full
// verification. A token from an unconfigured issuer is rejected with
// issuer-mismatch; nothing is fetched for it.
func (r *Registry) Verify(tokenString string) (*types.TokenClaims, error) {
	issuer, err := unverifiedIssuer(tokenString)
	if err != nil {
		return nil, err
	}

	v, ok := r.verifiers[issuer]
	if !ok {
		return nil, reject(ReasonIssuerMismatch)
	}

	return v.Verify(tokenString)
}

// unverifiedIssuer decodes the payload without signature verification
// to read the iss claim. Decoding is not trust: the value is only used
// to pick which verifier runs the real checks.
func unverifiedIssuer(tokenString string) (string, error) {
	raw := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(tokenString, raw); err != nil {
		return "", rejectWrap(ReasonMalformed, err)
	}

	issuer, err := raw.GetIssuer()
	if err != nil || issuer == "" {
		return "", reject(ReasonIssuerMismatch)
	}

	return issuer, nil
}
