package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atlekbai/fhirpath_sql/internal/dialect"
	"github.com/atlekbai/fhirpath_sql/internal/handler"
	"github.com/atlekbai/fhirpath_sql/internal/middleware"
	"github.com/atlekbai/fhirpath_sql/internal/schema"
	"github.com/atlekbai/fhirpath_sql/internal/service"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	logger := slog.New(slog.DiscardHandler)
	compiler, err := service.NewCompiler(service.Options{
		Dialect:  dialect.SQLite{},
		Registry: schema.NewDefaultCache(),
		Logger:   logger,
	})
	require.NoError(t, err)
	srv := httptest.NewServer(NewRouter(handler.New(compiler, nil), logger))
	t.Cleanup(srv.Close)
	return srv
}

func post(t *testing.T, srv *httptest.Server, path, body string) (*http.Response, map[string]any) {
	t.Helper()
	resp, err := http.Post(srv.URL+path, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()

	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return resp, out
}

func TestTranslateEndpoint(t *testing.T) {
	srv := newTestServer(t)
	resp, out := post(t, srv, "/api/translate", `{"expression":"Patient.name.given.first()"}`)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
	assert.NotEmpty(t, resp.Header.Get(middleware.RequestIDHeader))
	assert.Equal(t, "Patient.name.given.first()", out["expression"])
	assert.Contains(t, out["sql"], "WITH base AS (")
	assert.Greater(t, out["fragments"], float64(1))
}

func TestTranslateEndpointErrors(t *testing.T) {
	srv := newTestServer(t)
	tests := []struct {
		body   string
		status int
		code   string
	}{
		{`{"expression":"Patient.name."}`, http.StatusBadRequest, "SYNTAX_ERROR"},
		{`{"expression":"Patient.name.single()"}`, http.StatusUnprocessableEntity, "CARDINALITY_VIOLATION"},
		{`{"expression":"$index"}`, http.StatusUnprocessableEntity, "UNBOUND_VARIABLE"},
		{`{"expression":"Patient.name.distinct()"}`, http.StatusUnprocessableEntity, "UNSUPPORTED"},
		{`{"expression":"  "}`, http.StatusBadRequest, "INVALID_PARAM"},
		{`{"expr":"Patient"}`, http.StatusBadRequest, "INVALID_BODY"},
		{`not json`, http.StatusBadRequest, "INVALID_BODY"},
	}
	for _, tt := range tests {
		t.Run(tt.body, func(t *testing.T) {
			resp, out := post(t, srv, "/api/translate", tt.body)
			assert.Equal(t, tt.status, resp.StatusCode)
			assert.Equal(t, tt.code, out["code"])
			assert.NotEmpty(t, out["error"])
		})
	}
}

func TestTranslateBatchEndpoint(t *testing.T) {
	srv := newTestServer(t)
	resp, out := post(t, srv, "/api/translate/batch",
		`{"expressions":["Patient.name.given","Patient.name.single()"],"resource_type":"Patient"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	results, ok := out["results"].([]any)
	require.True(t, ok)
	require.Len(t, results, 2)

	first := results[0].(map[string]any)
	assert.Equal(t, "Patient.name.given", first["expression"])
	assert.NotEmpty(t, first["sql"])
	assert.Nil(t, first["error"])

	second := results[1].(map[string]any)
	assert.Equal(t, "CARDINALITY_VIOLATION", second["code"])
	assert.Nil(t, second["sql"])

	resp, out = post(t, srv, "/api/translate/batch", `{"expressions":[]}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "INVALID_PARAM", out["code"])
}

func TestEvaluateWithoutDatabase(t *testing.T) {
	srv := newTestServer(t)
	resp, out := post(t, srv, "/api/evaluate", `{"expression":"Patient.name"}`)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.Equal(t, "EVALUATION_DISABLED", out["code"])
}

func TestHealthAndNotFound(t *testing.T) {
	srv := newTestServer(t)

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	var health map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&health))
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "sqlite", health["dialect"])
	assert.Equal(t, false, health["evaluation"])

	resp2, err := http.Get(srv.URL + "/api/nope")
	require.NoError(t, err)
	defer resp2.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp2.StatusCode)
	assert.NotEmpty(t, resp2.Header.Get(middleware.RequestIDHeader))
}

func TestWrongMethod(t *testing.T) {
	srv := newTestServer(t)
	resp, err := http.Get(srv.URL + "/api/translate")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))

	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.Equal(t, "METHOD_NOT_ALLOWED", out["code"])

	resp2, err := http.Get(srv.URL + "/api/evaluate")
	require.NoError(t, err)
	defer resp2.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp2.StatusCode)
}
