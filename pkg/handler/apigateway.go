package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/google/uuid"
	"github.com/resumesite/oidc-gatekeeper/pkg/audit"
	"github.com/resumesite/oidc-gatekeeper/pkg/verifier"
)

// AwsApiGateway verifies bearer tokens on API Gateway proxy events.
// The deployed site fronts the Lambda with API Gateway; the local dev
// server exercises the same verification path through the mux router
// instead.
type AwsApiGateway struct {
	registry TokenRegistry
	trail    *audit.Trail
}

// NewAwsApiGateway creates a new API Gateway handler
func NewAwsApiGateway(registry TokenRegistry, trail *audit.Trail) *AwsApiGateway {
	return &AwsApiGateway{registry: registry, trail: trail}
}

// Handler is the Lambda function entry point. It answers with the
// verified claims or the rejection reason mapped to an HTTP status.
func (h *AwsApiGateway) Handler(ctx context.Context, event events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	start := time.Now()

	requestID := event.RequestContext.RequestID
	if requestID == "" {
		requestID = uuid.New().String()
	}

	log := slog.With(
		slog.String("requestId", requestID),
		slog.String("path", event.Path),
		slog.String("method", event.HTTPMethod),
		slog.String("sourceIp", event.RequestContext.Identity.SourceIP),
	)

	// Flush the decision trail before the execution environment freezes
	defer func() {
		if err := h.trail.Flush(ctx); err != nil {
			log.Error("Failed to flush audit trail", slog.String("error", err.Error()))
		}
	}()

	token, err := bearerFromHeaders(event.Headers)
	if err != nil {
		log.Warn("Rejected request without usable bearer token", slog.String("error", err.Error()))
		h.trail.Record(audit.Decision{
			RequestID:  requestID,
			Allowed:    false,
			Reason:     err.Error(),
			DurationMS: time.Since(start).Milliseconds(),
		})
		return h.respondError(requestID, start, err.Error(), http.StatusUnauthorized), nil
	}

	claims, err := h.registry.Verify(token)
	if err != nil {
		reason, _ := verifier.ReasonOf(err)
		log.Warn("Token verification failed", slog.String("reason", string(reason)))
		h.trail.Record(audit.Decision{
			RequestID:  requestID,
			Allowed:    false,
			Reason:     string(reason),
			DurationMS: time.Since(start).Milliseconds(),
		})
		return h.respondError(requestID, start, string(reason), StatusForRejection(err)), nil
	}

	log.Info("Token verified",
		slog.String("provider", claims.Provider),
		slog.String("subject", claims.Subject),
		slog.Duration("validationTime", time.Since(start)))
	h.trail.Record(audit.Decision{
		RequestID:  requestID,
		Provider:   claims.Provider,
		Subject:    claims.Subject,
		Allowed:    true,
		DurationMS: time.Since(start).Milliseconds(),
	})

	return h.respondJSON(requestID, start, claims), nil
}

// bearerFromHeaders reads the Authorization header from the proxy
// event. API Gateway does not canonicalize header case.
func bearerFromHeaders(headers map[string]string) (string, error) {
	auth := headers["Authorization"]
	if auth == "" {
		auth = headers["authorization"]
	}
	if auth == "" {
		return "", ErrMissingBearer
	}

	r := &http.Request{Header: http.Header{"Authorization": []string{auth}}}
	return bearerToken(r)
}

func (h *AwsApiGateway) respondError(requestID string, start time.Time, errorCode string, statusCode int) events.APIGatewayProxyResponse {
	body, _ := json.Marshal(Response{
		Success:      false,
		StatusCode:   statusCode,
		RequestID:    requestID,
		ProcessingMS: time.Since(start).Milliseconds(),
		ErrorCode:    errorCode,
	})

	return events.APIGatewayProxyResponse{
		StatusCode: statusCode,
		Headers:    ResponseHeaders,
		Body:       string(body),
	}
}

func (h *AwsApiGateway) respondJSON(requestID string, start time.Time, data any) events.APIGatewayProxyResponse {
	body, _ := json.Marshal(Response{
		Success:      true,
		StatusCode:   http.StatusOK,
		RequestID:    requestID,
		ProcessingMS: time.Since(start).Milliseconds(),
		Data:         data,
	})

	return events.APIGatewayProxyResponse{
		StatusCode: http.StatusOK,
		Headers:    ResponseHeaders,
		Body:       string(body),
	}
}
