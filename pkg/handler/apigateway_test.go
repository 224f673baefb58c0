package handler_test

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/aws/aws-lambda-go/events"
	"github.com/resumesite/oidc-gatekeeper/pkg/audit"
	"github.com/resumesite/oidc-gatekeeper/pkg/handler"
	"github.com/resumesite/oidc-gatekeeper/pkg/verifier"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func proxyEvent(authorization string) events.APIGatewayProxyRequest {
	event := events.APIGatewayProxyRequest{
		Path:       "/verify",
		HTTPMethod: http.MethodGet,
		Headers:    map[string]string{},
	}
	event.RequestContext.RequestID = "req-123"
	if authorization != "" {
		event.Headers["Authorization"] = authorization
	}
	return event
}

func decodeProxyBody(t *testing.T, body string) handler.Response {
	t.Helper()
	var resp handler.Response
	require.NoError(t, json.Unmarshal([]byte(body), &resp))
	return resp
}

func TestApiGateway_VerifiedToken(t *testing.T) {
	registry := &stubRegistry{claims: adminClaims()}
	gw := handler.NewAwsApiGateway(registry, nil)

	out, err := gw.Handler(context.Background(), proxyEvent("Bearer some.jwt.token"))
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, out.StatusCode)
	assert.Equal(t, "application/json", out.Headers["Content-Type"])
	assert.Equal(t, 1, registry.calls)

	resp := decodeProxyBody(t, out.Body)
	assert.True(t, resp.Success)
	assert.Equal(t, "req-123", resp.RequestID)

	data, ok := resp.Data.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "user-1", data["sub"])
}

func TestApiGateway_MissingToken(t *testing.T) {
	registry := &stubRegistry{claims: adminClaims()}
	gw := handler.NewAwsApiGateway(registry, nil)

	out, err := gw.Handler(context.Background(), proxyEvent(""))
	require.NoError(t, err)

	assert.Equal(t, http.StatusUnauthorized, out.StatusCode)
	assert.Equal(t, 0, registry.calls)

	resp := decodeProxyBody(t, out.Body)
	assert.False(t, resp.Success)
	assert.Equal(t, handler.ErrMissingBearer.Error(), resp.ErrorCode)
}

func TestApiGateway_LowercaseAuthorizationHeader(t *testing.T) {
	registry := &stubRegistry{claims: adminClaims()}
	gw := handler.NewAwsApiGateway(registry, nil)

	event := proxyEvent("")
	event.Headers["authorization"] = "Bearer some.jwt.token"

	out, err := gw.Handler(context.Background(), event)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, out.StatusCode)
	assert.Equal(t, "some.jwt.token", registry.lastToken)
}

func TestApiGateway_RejectedToken(t *testing.T) {
	registry := &stubRegistry{err: verifier.ErrSignatureInvalid}
	gw := handler.NewAwsApiGateway(registry, nil)

	out, err := gw.Handler(context.Background(), proxyEvent("Bearer some.jwt.token"))
	require.NoError(t, err)

	assert.Equal(t, http.StatusUnauthorized, out.StatusCode)
	resp := decodeProxyBody(t, out.Body)
	assert.Equal(t, string(verifier.ReasonSignatureInvalid), resp.ErrorCode)
}

func TestApiGateway_KeyFetchFailureIs503(t *testing.T) {
	registry := &stubRegistry{err: verifier.ErrKeyFetchFailed}
	gw := handler.NewAwsApiGateway(registry, nil)

	out, err := gw.Handler(context.Background(), proxyEvent("Bearer some.jwt.token"))
	require.NoError(t, err)
	assert.Equal(t, http.StatusServiceUnavailable, out.StatusCode)
}

func TestApiGateway_GeneratesRequestIDWhenMissing(t *testing.T) {
	registry := &stubRegistry{claims: adminClaims()}
	gw := handler.NewAwsApiGateway(registry, nil)

	event := proxyEvent("Bearer some.jwt.token")
	event.RequestContext.RequestID = ""

	out, err := gw.Handler(context.Background(), event)
	require.NoError(t, err)

	resp := decodeProxyBody(t, out.Body)
	assert.NotEmpty(t, resp.RequestID)
}

func TestApiGateway_FlushesTrail(t *testing.T) {
	store := newFakeStore()
	trail := audit.NewTrail(store, "audit")
	gw := handler.NewAwsApiGateway(&stubRegistry{claims: adminClaims()}, trail)

	_, err := gw.Handler(context.Background(), proxyEvent("Bearer some.jwt.token"))
	require.NoError(t, err)

	require.Len(t, store.objects, 1)
	for key, data := range store.objects {
		assert.Contains(t, key, "audit/")

		var decision audit.Decision
		require.NoError(t, json.Unmarshal(data, &decision))
		assert.True(t, decision.Allowed)
		assert.Equal(t, "user-1", decision.Subject)
		assert.Equal(t, "example", decision.Provider)
	}
}
