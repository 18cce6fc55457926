package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/arenawatch/arenawatch/internal/errors"
	"github.com/arenawatch/arenawatch/internal/server/handlers"
)

func serve(t *testing.T, srv *Server, method, path string) (*httptest.ResponseRecorder, apperrors.HTTPErrorResponse) {
	t.Helper()

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(method, path, nil))

	var body apperrors.HTTPErrorResponse
	if rec.Code >= 400 {
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	}
	return rec, body
}

func TestServerNotFoundEnvelope(t *testing.T) {
	srv := New("127.0.0.1", 0, nil)

	rec, body := serve(t, srv, http.MethodGet, "/does-not-exist")

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, apperrors.CodeNotFound, body.Error.Code)
	assert.NotEmpty(t, body.Error.RequestID)
	assert.Equal(t, body.Error.RequestID, rec.Header().Get("X-Request-ID"))
}

func TestServerMethodNotAllowedEnvelope(t *testing.T) {
	srv := New("127.0.0.1", 0, nil)

	rec, body := serve(t, srv, http.MethodDelete, "/version")

	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	assert.Equal(t, apperrors.CodeMethodNotAllowed, body.Error.Code)
}

func TestServerRecoversFromPanics(t *testing.T) {
	srv := New("127.0.0.1", 0, nil)
	srv.router.Get("/boom", func(http.ResponseWriter, *http.Request) { panic("kaboom") })

	rec, body := serve(t, srv, http.MethodGet, "/boom")

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, apperrors.CodeInternal, body.Error.Code)
	assert.Contains(t, body.Error.Message, "kaboom")
}

func TestServerAPIRoutesOnlyWhenConfigured(t *testing.T) {
	rec, _ := serve(t, New("127.0.0.1", 0, nil), http.MethodGet, "/api/v1/history")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec, body := serve(t, New("127.0.0.1", 0, &handlers.API{}), http.MethodGet, "/api/v1/history?limit=-1")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, apperrors.CodeInvalidInput, body.Error.Code)
}

func TestSetTimeoutsIgnoresZero(t *testing.T) {
	srv := New("127.0.0.1", 0, nil)
	srv.SetTimeouts(0, 5e9, 0)

	assert.Equal(t, srv.readTimeout.Seconds(), float64(30))
	assert.Equal(t, srv.writeTimeout.Seconds(), float64(5))
	assert.Equal(t, srv.idleTimeout.Seconds(), float64(120))
}

func TestServerOptionalRoutes(t *testing.T) {
	handlers.InitHealthManager("test")

	rec, _ := serve(t, New("127.0.0.1", 0, nil), http.MethodGet, "/health/live")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec, _ = serve(t, New("127.0.0.1", 0, nil, WithoutHealth()), http.MethodGet, "/health/live")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec, _ = serve(t, New("127.0.0.1", 0, nil), http.MethodGet, "/debug/pprof/")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec, _ = serve(t, New("127.0.0.1", 0, nil, WithProfiler()), http.MethodGet, "/debug/pprof/")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestServerAdminSignalRequiresToken(t *testing.T) {
	rec := httptest.NewRecorder()
	New("127.0.0.1", 0, nil).Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, adminSignalPath, nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = httptest.NewRecorder()
	New("127.0.0.1", 0, nil, WithAdminToken("s3cret")).Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, adminSignalPath, nil))
	assert.NotEqual(t, http.StatusNotFound, rec.Code)
	assert.NotEqual(t, http.StatusOK, rec.Code)
}
