package errors

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	gferrors "github.com/fulmenhq/gofulmen/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mailsched/mailsched/internal/server/middleware"
)

func TestWrapKeepsCauseAndRequestID(t *testing.T) {
	var ctx context.Context
	handler := middleware.RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx = r.Context()
	}))
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(middleware.RequestIDHeader, "req-42")
	handler.ServeHTTP(httptest.NewRecorder(), req)

	env := WrapConflict(ctx, fmt.Errorf("already sent"), "cannot cancel")
	assert.Equal(t, CodeConflict, env.Code)
	assert.Equal(t, "req-42", env.CorrelationID)
	assert.Equal(t, "already sent", env.Context["wrapped_error"])
}

func TestWrapWithoutContextMintsID(t *testing.T) {
	env := WrapInternal(context.Background(), nil, "boom")
	assert.NotEmpty(t, env.CorrelationID)
	assert.NotContains(t, env.Context, "wrapped_error")
}

func TestHTTPStatusFromCode(t *testing.T) {
	cases := map[string]int{
		CodeInvalidInput:     http.StatusBadRequest,
		CodeValidationFailed: http.StatusBadRequest,
		CodeTooLarge:         http.StatusRequestEntityTooLarge,
		CodeNotFound:         http.StatusNotFound,
		CodeForbidden:        http.StatusForbidden,
		CodeMethodNotAllowed: http.StatusMethodNotAllowed,
		CodeConflict:         http.StatusConflict,
		CodeRateLimited:      http.StatusTooManyRequests,
		CodeExternalService:  http.StatusBadGateway,
		CodeUnavailable:      http.StatusServiceUnavailable,
		CodeDatabase:         http.StatusInternalServerError,
		"SOMETHING_ELSE":     http.StatusInternalServerError,
	}
	for code, want := range cases {
		assert.Equal(t, want, HTTPStatusFromCode(code), code)
	}
	assert.Equal(t, http.StatusInternalServerError, HTTPStatusFromEnvelope(nil))
}

func TestRespondWithErrorWritesEnvelope(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/api/method/x", nil)
	rec := httptest.NewRecorder()

	env := WrapValidationError(req.Context(), fmt.Errorf("bad date"), "scheduled time is in the past")
	env = env.WithDetails(map[string]interface{}{"field": "scheduled_at"})
	RespondWithError(rec, req, env)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var body HTTPErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, CodeValidationFailed, body.Error.Code)
	assert.Equal(t, "scheduled time is in the past", body.Error.Message)
	assert.Equal(t, "scheduled_at", body.Error.Details["field"])
	assert.Equal(t, "bad date", body.Error.Details["wrapped_error"])
	assert.NotEmpty(t, body.Error.RequestID)
}

func TestRespondWithErrorWrapsPlainErrors(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	RespondWithError(rec, req, fmt.Errorf("disk on fire"))

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	var body HTTPErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, CodeInternal, body.Error.Code)
	assert.Equal(t, "unexpected error", body.Error.Message)
}

func TestEnsureEnvelopePassesThrough(t *testing.T) {
	orig := gferrors.NewErrorEnvelope(CodeNotFound, "missing")
	assert.Same(t, orig, ensureEnvelope(orig))
	assert.Equal(t, gferrors.SeverityCritical, ensureEnvelope(nil).Severity)
}
