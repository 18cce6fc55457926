package errors

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arenawatch/arenawatch/internal/observability"
)

func TestWrapUsesRequestIDAndKeepsCause(t *testing.T) {
	ctx := observability.WithRequestID(context.Background(), "req-42")
	cause := fmt.Errorf("dial tcp: connection refused")

	envelope := WrapExternalService(ctx, cause, "entity request failed")

	assert.Equal(t, CodeExternalService, envelope.Code)
	assert.Equal(t, "req-42", envelope.CorrelationID)
	assert.Equal(t, "req-42", envelope.TraceID)
	assert.Equal(t, cause, envelope.Original)
	assert.Equal(t, cause.Error(), envelope.Context["wrapped_error"])
}

func TestWrapGeneratesCorrelationID(t *testing.T) {
	envelope := WrapInternal(context.Background(), nil, "boom")
	assert.Len(t, envelope.CorrelationID, 36)
	assert.Nil(t, envelope.Original)
}

func TestHTTPStatusFromCode(t *testing.T) {
	assert.Equal(t, http.StatusBadRequest, HTTPStatusFromCode(CodeInvalidInput))
	assert.Equal(t, http.StatusMethodNotAllowed, HTTPStatusFromCode(CodeMethodNotAllowed))
	assert.Equal(t, http.StatusGatewayTimeout, HTTPStatusFromCode(CodeTimeout))
	assert.Equal(t, http.StatusServiceUnavailable, HTTPStatusFromCode(CodeCircuitOpen))
	assert.Equal(t, http.StatusInternalServerError, HTTPStatusFromCode(CodeDatabase))
	assert.Equal(t, http.StatusInternalServerError, HTTPStatusFromCode("SOMETHING_NEW"))
}

func TestRespondWithErrorWrapsPlainErrors(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/api/v1/entities", nil)
	req = req.WithContext(observability.WithRequestID(req.Context(), "req-7"))
	rec := httptest.NewRecorder()

	RespondWithError(rec, req, fmt.Errorf("disk full"))

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var body HTTPErrorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, CodeInternal, body.Error.Code)
	assert.Equal(t, "req-7", body.Error.RequestID)
	assert.Equal(t, "disk full", body.Error.Details["wrapped_error"])
}

func TestRespondWithEnvelopeStatus(t *testing.T) {
	rec := httptest.NewRecorder()
	RespondWithError(rec, httptest.NewRequest(http.MethodPost, "/api/v1/challenges", nil),
		WrapCircuitOpen(context.Background(), fmt.Errorf("open"), "entity circuit open"))

	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	var body HTTPErrorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, CodeCircuitOpen, body.Error.Code)
	assert.NotEmpty(t, body.Error.RequestID)
}
