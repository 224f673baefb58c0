package types

import "time"

// TokenClaims is the normalized, verified identity record extracted
// from a bearer token. It is only ever constructed after full
// verification succeeds; callers never see claims from an unverified
// token.
type TokenClaims struct {
	Subject   string    `json:"sub"`
	Email     string    `json:"email,omitempty"`
	Issuer    string    `json:"iss"`
	Audience  []string  `json:"aud"`
	ExpiresAt time.Time `json:"exp"`
	IssuedAt  time.Time `json:"iat,omitempty"`
	Groups    []string  `json:"groups,omitempty"`
	Scope     string    `json:"scope,omitempty"`
	TokenUse  string    `json:"token_use,omitempty"`
	Provider  string    `json:"provider,omitempty"` // Name of the provider that verified the token
}

// HasGroup reports whether the claims include the given group or role
// membership.
func (c *TokenClaims) HasGroup(group string) bool {
	for _, g := range c.Groups {
		if g == group {
			return true
		}
	}
	return false
}
