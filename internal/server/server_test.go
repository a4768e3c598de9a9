package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/poemonsense/antigravity-router/internal/account"
	"github.com/poemonsense/antigravity-router/internal/config"
	"github.com/poemonsense/antigravity-router/internal/events"
	"github.com/poemonsense/antigravity-router/internal/health"
	"github.com/poemonsense/antigravity-router/internal/issues"
	"github.com/poemonsense/antigravity-router/internal/router"
)

func newTestServer(t *testing.T) (*Server, *config.Config, *account.Registry) {
	t.Helper()
	dir := t.TempDir()

	cfg := config.DefaultConfig()
	cfg.SetPath(filepath.Join(dir, "config.json"))

	recorder := events.NewRecorderAt(cfg, filepath.Join(dir, "events.json"))
	registry := account.NewRegistry(account.NewFileStoreAt(filepath.Join(dir, "accounts.json")), recorder)
	tracker := health.NewTracker(cfg, registry, recorder)
	aggregator := issues.NewAggregator(cfg, registry)
	aggregator.Attach(recorder)
	rt := router.NewRouter(cfg, registry, tracker, recorder)

	s := New(cfg, registry, tracker, recorder, aggregator, rt, Options{})
	s.SetupRoutes()
	return s, cfg, registry
}

func doRequest(t *testing.T, s *Server, method, path string, body interface{}, headers map[string]string) (int, map[string]interface{}) {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	w := httptest.NewRecorder()
	s.Engine().ServeHTTP(w, req)

	var decoded map[string]interface{}
	if w.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &decoded))
	}
	return w.Code, decoded
}

func TestLiveness(t *testing.T) {
	s, _, _ := newTestServer(t)
	code, body := doRequest(t, s, http.MethodGet, "/health", nil, nil)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, config.Version, body["version"])
}

func TestAPIKeyAuth(t *testing.T) {
	s, cfg, _ := newTestServer(t)
	cfg.APIKey = "test-key"

	t.Run("missing key is rejected", func(t *testing.T) {
		code, body := doRequest(t, s, http.MethodGet, "/api/accounts", nil, nil)
		assert.Equal(t, http.StatusUnauthorized, code)
		assert.Equal(t, "error", body["status"])
	})

	t.Run("bearer token is accepted", func(t *testing.T) {
		code, _ := doRequest(t, s, http.MethodGet, "/api/accounts", nil,
			map[string]string{"Authorization": "Bearer test-key"})
		assert.Equal(t, http.StatusOK, code)
	})
}

func TestAccountsEndpoints(t *testing.T) {
	s, _, _ := newTestServer(t)

	code, body := doRequest(t, s, http.MethodPost, "/api/accounts",
		map[string]interface{}{"email": "a@example.com"}, nil)
	require.Equal(t, http.StatusCreated, code)
	assert.Equal(t, "ok", body["status"])

	code, body = doRequest(t, s, http.MethodGet, "/api/accounts", nil, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, float64(1), body["count"])

	t.Run("duplicate add fails", func(t *testing.T) {
		code, body := doRequest(t, s, http.MethodPost, "/api/accounts",
			map[string]interface{}{"email": "a@example.com"}, nil)
		assert.Equal(t, http.StatusConflict, code)
		assert.Equal(t, "error", body["status"])
	})
}

func TestRouteLifecycle(t *testing.T) {
	s, _, _ := newTestServer(t)
	doRequest(t, s, http.MethodPost, "/api/accounts",
		map[string]interface{}{"email": "a@example.com"}, nil)

	code, body := doRequest(t, s, http.MethodPost, "/api/route",
		map[string]interface{}{"model": "claude-sonnet-4-5"}, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "a@example.com", body["account"])
	assert.Equal(t, "claude-sonnet-4-5", body["model"])
	assert.NotEmpty(t, body["requestId"])

	code, body = doRequest(t, s, http.MethodPost, "/api/route/outcome", map[string]interface{}{
		"account":    "a@example.com",
		"model":      "claude-sonnet-4-5",
		"success":    true,
		"durationMs": 120,
	}, nil)
	require.Equal(t, http.StatusOK, code)
	rec, ok := body["health"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, float64(1), rec["successCount"])
}

func TestToggleByPath(t *testing.T) {
	s, _, _ := newTestServer(t)
	doRequest(t, s, http.MethodPost, "/api/accounts",
		map[string]interface{}{"email": "a@example.com"}, nil)

	code, body := doRequest(t, s,
		http.MethodPost, "/api/accounts/a@example.com/models/claude-sonnet-4-5/toggle",
		map[string]interface{}{"enabled": false}, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, body["success"])
	require.Contains(t, body, "health")

	// the single account is now manually disabled for this model
	code, body = doRequest(t, s, http.MethodPost, "/api/route",
		map[string]interface{}{"model": "claude-sonnet-4-5"}, nil)
	assert.Equal(t, http.StatusServiceUnavailable, code)
	errObj, ok := body["error"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "NO_USABLE_ACCOUNT", errObj["code"])
}

func TestEventsEndpoints(t *testing.T) {
	s, _, _ := newTestServer(t)
	// adding an account records a system event
	doRequest(t, s, http.MethodPost, "/api/accounts",
		map[string]interface{}{"email": "a@example.com"}, nil)

	code, body := doRequest(t, s, http.MethodGet, "/api/events", nil, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Greater(t, body["total"], float64(0))
	total := body["total"]

	code, body = doRequest(t, s, http.MethodGet, "/api/events?type=system", nil, nil)
	require.Equal(t, http.StatusOK, code)
	list, ok := body["events"].([]interface{})
	require.True(t, ok)
	require.NotEmpty(t, list)

	code, body = doRequest(t, s, http.MethodDelete, "/api/events", nil, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, total, body["cleared"])

	code, body = doRequest(t, s, http.MethodGet, "/api/events", nil, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, float64(0), body["total"])
}

func TestIssuesEndpoints(t *testing.T) {
	s, _, _ := newTestServer(t)

	code, body := doRequest(t, s, http.MethodGet, "/api/issues/active", nil, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, float64(0), body["count"])

	t.Run("unknown issue id is a 404", func(t *testing.T) {
		code, body := doRequest(t, s, http.MethodPost, "/api/issues/iss_missing/resolve", nil, nil)
		assert.Equal(t, http.StatusNotFound, code)
		assert.Equal(t, "error", body["status"])
	})
}

func TestHealthConfigEndpoints(t *testing.T) {
	s, _, _ := newTestServer(t)

	code, body := doRequest(t, s, http.MethodGet, "/api/health/config", nil, nil)
	require.Equal(t, http.StatusOK, code)
	cfgObj, ok := body["config"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, float64(config.DefaultConsecutiveFailureThreshold), cfgObj["consecutiveFailureThreshold"])

	t.Run("invalid patch is a 400 with field errors", func(t *testing.T) {
		code, body := doRequest(t, s, http.MethodPost, "/api/health/config",
			map[string]interface{}{"consecutiveFailureThreshold": 0}, nil)
		assert.Equal(t, http.StatusBadRequest, code)
		assert.Equal(t, "error", body["status"])
		assert.NotEmpty(t, body["errors"])
	})

	t.Run("valid patch applies", func(t *testing.T) {
		code, body := doRequest(t, s, http.MethodPost, "/api/health/config",
			map[string]interface{}{"consecutiveFailureThreshold": 5}, nil)
		require.Equal(t, http.StatusOK, code)
		cfgObj := body["config"].(map[string]interface{})
		assert.Equal(t, float64(5), cfgObj["consecutiveFailureThreshold"])
	})
}

func TestHealthMatrixEndpoint(t *testing.T) {
	s, _, _ := newTestServer(t)
	doRequest(t, s, http.MethodPost, "/api/accounts",
		map[string]interface{}{"email": "a@example.com"}, nil)

	code, body := doRequest(t, s, http.MethodGet, "/api/health/matrix?models=claude-sonnet-4-5", nil, nil)
	require.Equal(t, http.StatusOK, code)

	matrix, ok := body["matrix"].(map[string]interface{})
	require.True(t, ok)
	models, ok := matrix["models"].([]interface{})
	require.True(t, ok)
	assert.Equal(t, []interface{}{"claude-sonnet-4-5"}, models)
	assert.NotEmpty(t, matrix["generated"])
}

func TestNotFound(t *testing.T) {
	s, _, _ := newTestServer(t)
	code, body := doRequest(t, s, http.MethodGet, "/api/nope", nil, nil)
	assert.Equal(t, http.StatusNotFound, code)
	errObj, ok := body["error"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "NOT_FOUND", errObj["code"])
}
