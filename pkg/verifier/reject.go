package verifier

import (
	"errors"
	"fmt"
)

// Reason classifies why a token was rejected. Every rejection maps to
// exactly one reason; callers translate reasons to HTTP statuses.
type Reason string

const (
	ReasonMalformed        Reason = "malformed"
	ReasonIssuerMismatch   Reason = "issuer-mismatch"
	ReasonAudienceMismatch Reason = "audience-mismatch"
	ReasonExpired          Reason = "expired"
	ReasonUnknownKey       Reason = "unknown-key"
	ReasonSignatureInvalid Reason = "signature-invalid"
	ReasonTokenUseInvalid  Reason = "token-use-invalid"
	ReasonKeyFetchFailed   Reason = "key-fetch-failed"
)

// RejectionError is the typed verification failure. Its message never
// includes token contents, only the name of the failed check.
type RejectionError struct {
	Reason Reason
	cause  error
}

func reject(reason Reason) *RejectionError {
	return &RejectionError{Reason: reason}
}

func rejectWrap(reason Reason, cause error) *RejectionError {
	return &RejectionError{Reason: reason, cause: cause}
}

func (e *RejectionError) Error() string {
	return fmt.Sprintf("token rejected: %s", e.Reason)
}

func (e *RejectionError) Unwrap() error {
	return e.cause
}

// Is matches any RejectionError with the same reason, so
// errors.Is(err, verifier.ErrExpired) works regardless of the wrapped cause.
func (e *RejectionError) Is(target error) bool {
	t, ok := target.(*RejectionError)
	return ok && t.Reason == e.Reason
}

// Transient reports whether the failure may clear on a later request
// without a new token. Only key-fetch failures qualify; all
// cryptographic and claim failures are terminal for the token.
func (e *RejectionError) Transient() bool {
	return e.Reason == ReasonKeyFetchFailed
}

// Sentinel rejections for errors.Is comparisons.
var (
	ErrMalformed        = reject(ReasonMalformed)
	ErrIssuerMismatch   = reject(ReasonIssuerMismatch)
	ErrAudienceMismatch = reject(ReasonAudienceMismatch)
	ErrExpired          = reject(ReasonExpired)
	ErrUnknownKey       = reject(ReasonUnknownKey)
	ErrSignatureInvalid = reject(ReasonSignatureInvalid)
	ErrTokenUseInvalid  = reject(ReasonTokenUseInvalid)
	ErrKeyFetchFailed   = reject(ReasonKeyFetchFailed)
)

// ReasonOf extracts the rejection reason from an error returned by
// Verify. The second result is false for non-rejection errors.
func ReasonOf(err error) (Reason, bool) {
	var re *RejectionError
	if errors.As(err, &re) {
		return re.Reason, true
	}
	return "", false
}
