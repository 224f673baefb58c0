package types

// JSONWebKey is a JSON web key as specified by RFC 7517.
type JSONWebKey struct {
	Algorithm string   `json:"alg,omitempty"`
	KeyID     string   `json:"kid,omitempty"`
	KeyType   string   `json:"kty,omitempty"`
	Use       string   `json:"use,omitempty"`
	N         string   `json:"n,omitempty"`   // RSA modulus
	E         string   `json:"e,omitempty"`   // RSA public exponent
	X         string   `json:"x,omitempty"`   // EC x coordinate
	Y         string   `json:"y,omitempty"`   // EC y coordinate
	Crv       string   `json:"crv,omitempty"` // EC curve
	X5c       []string `json:"x5c,omitempty"` // X.509 certificate chain
	X5u       string   `json:"x5u,omitempty"` // X.509 URL
}

// JWKS represents a set of JSON Web Keys retrieved from a provider's
// JWKS endpoint. A set is always cached and replaced as a whole, never
// merged key by key.
type JWKS struct {
	Keys []JSONWebKey `json:"keys"`
}

// Key returns the key with the given key ID, or nil when the set does
// not contain it.
func (j *JWKS) Key(kid string) *JSONWebKey {
	if j == nil {
		return nil
	}
	for i := range j.Keys {
		if j.Keys[i].KeyID == kid {
			return &j.Keys[i]
		}
	}
	return nil
}
