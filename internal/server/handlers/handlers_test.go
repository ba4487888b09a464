package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3leaps/rasterbench/pkg/results"
)

type stubChecker struct {
	err error
}

func (s stubChecker) CheckHealth(ctx context.Context) error {
	return s.err
}

func TestHealthHandlerReturnsHealthyStatus(t *testing.T) {
	manager := NewHealthManager("1.2.3")
	manager.RegisterChecker("ok", stubChecker{err: nil})

	rec := httptest.NewRecorder()
	manager.HealthHandler(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	require.Equal(t, http.StatusOK, rec.Code)

	var resp HealthResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "healthy", resp.Status)
	assert.Equal(t, "1.2.3", resp.Version)
	assert.Equal(t, "healthy", resp.Checks["ok"])
}

func TestHealthHandlerReturnsServiceUnavailableWhenUnhealthy(t *testing.T) {
	manager := NewHealthManager("1.2.3")
	manager.RegisterChecker("history", stubChecker{err: errors.New("down")})

	rec := httptest.NewRecorder()
	manager.HealthHandler(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var resp struct {
		Error struct {
			Code    string         `json:"code"`
			Details map[string]any `json:"details"`
		} `json:"error"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "SERVICE_UNAVAILABLE", resp.Error.Code)

	checks, ok := resp.Error.Details["checks"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "unhealthy", checks["history"])
}

func TestHealthCheckerFunc(t *testing.T) {
	manager := NewHealthManager("dev")
	manager.RegisterChecker("fn", HealthCheckerFunc(func(context.Context) error { return nil }))

	rec := httptest.NewRecorder()
	manager.ReadinessHandler(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestDetermineOverallStatusTreatsTimeoutAsDegraded(t *testing.T) {
	manager := NewHealthManager("dev")

	assert.Equal(t, "degraded", manager.determineOverallStatus(map[string]string{"db": "timeout"}))
	assert.Equal(t, "unhealthy", manager.determineOverallStatus(map[string]string{"a": "timeout", "b": "unhealthy"}))
	assert.Equal(t, "healthy", manager.determineOverallStatus(nil))
}

func TestGlobalHealthManager(t *testing.T) {
	original := globalHealthManager
	defer func() { globalHealthManager = original }()

	globalHealthManager = nil
	assert.Nil(t, GetHealthManager())

	// Package-level handlers work before initialization.
	rec := httptest.NewRecorder()
	LivenessHandler(rec, httptest.NewRequest(http.MethodGet, "/health/live", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	InitHealthManager("test-version")
	require.NotNil(t, GetHealthManager())

	for _, h := range []http.HandlerFunc{HealthHandler, LivenessHandler, ReadinessHandler, StartupHandler} {
		rec := httptest.NewRecorder()
		h(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
		assert.Equal(t, http.StatusOK, rec.Code)
	}
}

func TestSetHTTPErrorResponder(t *testing.T) {
	original := httpErrorResponder
	defer func() { httpErrorResponder = original }()

	called := false
	SetHTTPErrorResponder(func(w http.ResponseWriter, r *http.Request, err error) {
		called = true
		w.WriteHeader(http.StatusTeapot)
	})

	rec := httptest.NewRecorder()
	respondWithError(rec, httptest.NewRequest("GET", "/test", nil), assert.AnError)
	assert.True(t, called)
	assert.Equal(t, http.StatusTeapot, rec.Code)

	SetHTTPErrorResponder(nil)
	rec = httptest.NewRecorder()
	respondWithError(rec, httptest.NewRequest("GET", "/test", nil), assert.AnError)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)

	ResetHTTPErrorResponder()
	assert.NotNil(t, httpErrorResponder)
}

func TestVersionHandler(t *testing.T) {
	rec := httptest.NewRecorder()
	VersionHandler(VersionInfo{Version: "1.0.0", Commit: "abc"})(rec, httptest.NewRequest(http.MethodGet, "/version", nil))

	var info VersionInfo
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&info))
	assert.Equal(t, "1.0.0", info.Version)
	assert.Equal(t, "abc", info.Commit)
}

func outcomeSource() OutcomeSource {
	return func() []results.Outcome {
		return []results.Outcome{
			results.Succeeded(results.Outcome{Backend: "VITO", Job: "europe-ndvi"}, 4),
			results.Failure(results.Outcome{Backend: "EODC", Job: "europe-ndvi"}, "TIMEOUT", nil),
			results.Succeeded(results.Outcome{Backend: "VITO", Job: "alpine-snow"}, 2),
		}
	}
}

func TestOutcomesHandler(t *testing.T) {
	rec := httptest.NewRecorder()
	OutcomesHandler(outcomeSource())(rec, httptest.NewRequest(http.MethodGet, "/outcomes", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Jobs     []string         `json:"jobs"`
		Count    int              `json:"count"`
		Outcomes []map[string]any `json:"outcomes"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, []string{"alpine-snow", "europe-ndvi"}, resp.Jobs)
	assert.Equal(t, 3, resp.Count)
	assert.Nil(t, resp.Outcomes[1]["timeToResultSeconds"])
}

func TestJobOutcomesHandler(t *testing.T) {
	r := chi.NewRouter()
	r.Get("/outcomes/{job}", JobOutcomesHandler(outcomeSource()))

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/outcomes/europe-ndvi", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp OutcomesResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, []string{"europe-ndvi"}, resp.Jobs)
	assert.Equal(t, 2, resp.Count)

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/outcomes/missing", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
