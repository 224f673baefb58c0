package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/resumesite/oidc-gatekeeper/pkg/audit"
	"github.com/resumesite/oidc-gatekeeper/pkg/types"
	"github.com/resumesite/oidc-gatekeeper/pkg/utils"
	"github.com/resumesite/oidc-gatekeeper/pkg/verifier"
)

// TokenRegistry is the verification surface the middleware needs;
// *verifier.Registry satisfies it.
type TokenRegistry interface {
	Verify(token string) (*types.TokenClaims, error)
}

// Authenticate verifies the Authorization bearer token on every
// request and stores the resulting claims in the request context.
// Rejections answer with the reason code only; at most a redacted form
// of the token ever reaches the logs.
func Authenticate(registry TokenRegistry, trail *audit.Trail) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			requestID := uuid.New().String()

			ctx := context.WithValue(r.Context(), RequestIDContextKey, requestID)
			ctx = context.WithValue(ctx, StartTimeContextKey, start)
			w.Header().Set("X-Request-Id", requestID)

			log := slog.With(
				slog.String("requestId", requestID),
				slog.String("path", r.URL.Path),
				slog.String("method", r.Method),
			)

			token, err := bearerToken(r)
			if err != nil {
				log.Warn("Rejected request without usable bearer token", slog.String("error", err.Error()))
				trail.Record(audit.Decision{
					RequestID:  requestID,
					Allowed:    false,
					Reason:     err.Error(),
					DurationMS: time.Since(start).Milliseconds(),
				})
				respondError(w, requestID, start, err.Error(), http.StatusUnauthorized)
				return
			}

			claims, err := registry.Verify(token)
			if err != nil {
				reason, _ := verifier.ReasonOf(err)
				log.Warn("Token verification failed", slog.String("reason", string(reason)))
				log.Debug("Rejected token", slog.String("token", utils.RedactToken(token, 8, 4)))
				trail.Record(audit.Decision{
					RequestID:  requestID,
					Allowed:    false,
					Reason:     string(reason),
					DurationMS: time.Since(start).Milliseconds(),
				})
				respondError(w, requestID, start, string(reason), StatusForRejection(err))
				return
			}

			log.Debug("Token verified",
				slog.String("provider", claims.Provider),
				slog.String("subject", claims.Subject))
			trail.Record(audit.Decision{
				RequestID:  requestID,
				Provider:   claims.Provider,
				Subject:    claims.Subject,
				Allowed:    true,
				DurationMS: time.Since(start).Milliseconds(),
			})

			ctx = context.WithValue(ctx, ClaimsContextKey, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireGroup blocks verified requests whose claims carry none of the
// given groups. Group policy is a 403, distinct from the 401s of
// authentication.
func RequireGroup(groups ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, ok := ClaimsFrom(r.Context())
			if !ok {
				respondError(w, requestIDFrom(r.Context()), startTimeFrom(r.Context()),
					ErrMissingBearer.Error(), http.StatusUnauthorized)
				return
			}

			for _, group := range groups {
				if claims.HasGroup(group) {
					next.ServeHTTP(w, r)
					return
				}
			}

			slog.Warn("Group policy denied request",
				slog.String("subject", claims.Subject),
				slog.String("provider", claims.Provider))
			respondError(w, requestIDFrom(r.Context()), startTimeFrom(r.Context()),
				ErrGroupNotAllowed.Error(), http.StatusForbidden)
		})
	}
}

// ClaimsFrom returns the verified claims stored by Authenticate.
func ClaimsFrom(ctx context.Context) (*types.TokenClaims, bool) {
	claims, ok := ctx.Value(ClaimsContextKey).(*types.TokenClaims)
	return claims, ok
}

func requestIDFrom(ctx context.Context) string {
	requestID, _ := ctx.Value(RequestIDContextKey).(string)
	return requestID
}

func startTimeFrom(ctx context.Context) time.Time {
	start, _ := ctx.Value(StartTimeContextKey).(time.Time)
	return start
}

// bearerToken extracts the token from the Authorization header and
// applies the cheap size and shape limits before any verification.
func bearerToken(r *http.Request) (string, error) {
	auth := r.Header.Get("Authorization")
	if auth == "" {
		return "", ErrMissingBearer
	}

	const prefix = "Bearer "
	if len(auth) <= len(prefix) || !strings.EqualFold(auth[:len(prefix)], prefix) {
		return "", ErrMissingBearer
	}

	token := strings.TrimSpace(auth[len(prefix):])
	if token == "" {
		return "", ErrMissingBearer
	}
	if len(token) > MaxTokenLength {
		return "", ErrTokenTooLarge
	}

	return token, nil
}

func respondError(w http.ResponseWriter, requestID string, start time.Time, errorCode string, statusCode int) {
	for k, v := range ResponseHeaders {
		w.Header().Set(k, v)
	}
	w.WriteHeader(statusCode)

	resp := Response{
		Success:    false,
		StatusCode: statusCode,
		RequestID:  requestID,
		ErrorCode:  errorCode,
	}
	if !start.IsZero() {
		resp.ProcessingMS = time.Since(start).Milliseconds()
	}

	if err := json.NewEncoder(w).Encode(resp); err != nil {
		slog.Error("Failed to encode error response", "error", err)
	}
}

func respondJSON(w http.ResponseWriter, requestID string, start time.Time, data any) {
	for k, v := range ResponseHeaders {
		w.Header().Set(k, v)
	}
	w.WriteHeader(http.StatusOK)

	resp := Response{
		Success:    true,
		StatusCode: http.StatusOK,
		RequestID:  requestID,
		Data:       data,
	}
	if !start.IsZero() {
		resp.ProcessingMS = time.Since(start).Milliseconds()
	}

	if err := json.NewEncoder(w).Encode(resp); err != nil {
		slog.Error("Failed to encode response", "error", err)
	}
}
