package handler

import (
	"errors"
	"net/http"
	"time"

	"github.com/resumesite/oidc-gatekeeper/pkg/verifier"
)

// Constants for handler configuration
const (
	// DefaultTimeout is the maximum time to process a request
	DefaultTimeout = 10 * time.Second

	// MaxTokenLength is the maximum allowed length for a JWT token
	MaxTokenLength = 16384 // 16KB
)

// Context key types to avoid string collision in context values
type contextKey string

const (
	ClaimsContextKey    contextKey = "claims"
	RequestIDContextKey contextKey = "requestId"
	StartTimeContextKey contextKey = "startTime"
)

// Custom error types for more precise error reporting
var (
	ErrMissingBearer   = errors.New("missing bearer token")
	ErrTokenTooLarge   = errors.New("token exceeds maximum allowed size")
	ErrGroupNotAllowed = errors.New("group membership does not permit this operation")
	ErrUploadTooLarge  = errors.New("upload exceeds maximum allowed size")
)

// ResponseHeaders common headers to include in all API responses
var ResponseHeaders = map[string]string{
	"Content-Type": "application/json",
}

// Response represents a standardized API response
type Response struct {
	Success      bool   `json:"success"`
	StatusCode   int    `json:"statusCode,omitempty"`
	RequestID    string `json:"requestId"`
	ProcessingMS int64  `json:"processingMs,omitempty"`

	// For successful responses
	Message string `json:"message,omitempty"`
	Data    any    `json:"data,omitempty"`

	// For error responses
	ErrorCode    string `json:"errorCode,omitempty"`
	ErrorDetails string `json:"errorDetails,omitempty"`
}

// StatusForRejection maps a verification failure to an HTTP status.
// Authentication failures are 401; a transient key-fetch failure is
// the server's problem, not the caller's, and maps to 503.
func StatusForRejection(err error) int {
	reason, ok := verifier.ReasonOf(err)
	if !ok {
		return http.StatusInternalServerError
	}
	if reason == verifier.ReasonKeyFetchFailed {
		return http.StatusServiceUnavailable
	}
	return http.StatusUnauthorized
}
