package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/notifyer/notifyer/internal/config"
	"github.com/notifyer/notifyer/internal/logging"
	"github.com/notifyer/notifyer/internal/metrics"
	"github.com/notifyer/notifyer/internal/runner"
)

func testLogger() *logging.Logger {
	return logging.NewLogger(logging.WithOutput(io.Discard))
}

type fakeInvoker struct {
	sections []string
	err      error
}

func (f *fakeInvoker) Run(_ context.Context, section string) error {
	f.sections = append(f.sections, section)
	return f.err
}

func newTestServer(invoker *fakeInvoker) *Server {
	return NewServer(config.ServerConfig{}, invoker, metrics.NewMetrics("testapi"), testLogger())
}

func TestHealthEndpoint(t *testing.T) {
	srv := newTestServer(&fakeInvoker{})

	w := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/healthz", nil)
	srv.Router().ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"ok"`)
}

func TestMetricsEndpoint(t *testing.T) {
	srv := newTestServer(&fakeInvoker{})

	// Generate some traffic first so counters exist.
	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, httptest.NewRequest("GET", "/healthz", nil))

	w = httptest.NewRecorder()
	srv.Router().ServeHTTP(w, httptest.NewRequest("GET", "/metrics", nil))

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "testapi_http_requests_total")
}

func TestRunEndpoint(t *testing.T) {
	invoker := &fakeInvoker{}
	srv := newTestServer(invoker)

	w := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/v1/run", strings.NewReader(`{"section":"Quotes"}`))
	req.Header.Set("Content-Type", "application/json")
	srv.Router().ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"sent"`)
	assert.Equal(t, []string{"Quotes"}, invoker.sections)
}

func TestRunEndpointSectionQueryParam(t *testing.T) {
	invoker := &fakeInvoker{}
	srv := newTestServer(invoker)

	w := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/v1/run?section=Poems", nil)
	srv.Router().ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []string{"Poems"}, invoker.sections)
}

func TestRunEndpointBusy(t *testing.T) {
	srv := newTestServer(&fakeInvoker{err: runner.ErrBusy})

	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, httptest.NewRequest("POST", "/v1/run", nil))

	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestRunEndpointFailure(t *testing.T) {
	srv := newTestServer(&fakeInvoker{err: errors.New("section lookup failed")})

	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, httptest.NewRequest("POST", "/v1/run", nil))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), "section lookup failed")
}

func TestRunEndpointFailureCountsError(t *testing.T) {
	srv := newTestServer(&fakeInvoker{err: errors.New("section lookup failed")})

	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, httptest.NewRequest("POST", "/v1/run", nil))
	require.Equal(t, http.StatusInternalServerError, w.Code)

	w = httptest.NewRecorder()
	srv.Router().ServeHTTP(w, httptest.NewRequest("GET", "/metrics", nil))

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(),
		`testapi_errors_total{endpoint="/v1/run",method="POST",type="invocation"} 1`)
}

func TestRunEndpointBadBody(t *testing.T) {
	invoker := &fakeInvoker{}
	srv := newTestServer(invoker)

	w := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/v1/run", strings.NewReader("{not json"))
	req.Header.Set("Content-Type", "application/json")
	srv.Router().ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Empty(t, invoker.sections, "invalid body must not trigger an invocation")
}

func TestMethodNotAllowed(t *testing.T) {
	srv := newTestServer(&fakeInvoker{})

	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, httptest.NewRequest("GET", "/v1/run", nil))

	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}
