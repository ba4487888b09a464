// Package handlers implements the status server endpoints.
package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	apperrors "github.com/3leaps/rasterbench/internal/errors"
)

// Health statuses.
const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
	StatusTimeout   = "timeout"
)

// checkTimeout bounds a single health check.
const checkTimeout = 2 * time.Second

// HealthChecker reports the health of one dependency.
type HealthChecker interface {
	CheckHealth(ctx context.Context) error
}

// HealthCheckerFunc adapts a function to HealthChecker.
type HealthCheckerFunc func(ctx context.Context) error

// CheckHealth implements HealthChecker.
func (f HealthCheckerFunc) CheckHealth(ctx context.Context) error { return f(ctx) }

// HealthResponse is the body of a successful health probe.
type HealthResponse struct {
	Status    string            `json:"status"`
	Version   string            `json:"version"`
	Timestamp time.Time         `json:"timestamp"`
	Checks    map[string]string `json:"checks,omitempty"`
}

// HealthManager runs registered checks for the health endpoints.
type HealthManager struct {
	version string
	started time.Time

	mu       sync.RWMutex
	checkers map[string]HealthChecker
}

// NewHealthManager creates a manager reporting version.
func NewHealthManager(version string) *HealthManager {
	return &HealthManager{
		version:  version,
		started:  time.Now(),
		checkers: make(map[string]HealthChecker),
	}
}

// RegisterChecker adds a named check.
func (m *HealthManager) RegisterChecker(name string, c HealthChecker) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checkers[name] = c
}

func (m *HealthManager) runChecks(ctx context.Context) map[string]string {
	m.mu.RLock()
	checkers := make(map[string]HealthChecker, len(m.checkers))
	for k, v := range m.checkers {
		checkers[k] = v
	}
	m.mu.RUnlock()

	out := make(map[string]string, len(checkers))
	for name, c := range checkers {
		cctx, cancel := context.WithTimeout(ctx, checkTimeout)
		err := c.CheckHealth(cctx)
		switch {
		case err == nil:
			out[name] = StatusHealthy
		case cctx.Err() == context.DeadlineExceeded:
			out[name] = StatusTimeout
		default:
			out[name] = StatusUnhealthy
		}
		cancel()
	}
	return out
}

func (m *HealthManager) determineOverallStatus(checks map[string]string) string {
	overall := StatusHealthy
	for _, s := range checks {
		switch s {
		case StatusUnhealthy:
			return StatusUnhealthy
		case StatusTimeout, StatusDegraded:
			overall = StatusDegraded
		}
	}
	return overall
}

// HealthHandler runs all checks. Unhealthy checks produce 503.
func (m *HealthManager) HealthHandler(w http.ResponseWriter, r *http.Request) {
	checks := m.runChecks(r.Context())
	status := m.determineOverallStatus(checks)

	if status == StatusUnhealthy {
		apperrors.WriteHTTPError(w, http.StatusServiceUnavailable, apperrors.HTTPError{
			Code:      apperrors.CodeServiceUnavailable,
			Message:   "one or more health checks failed",
			RequestID: r.Header.Get("X-Request-ID"),
			Details:   map[string]any{"checks": checks},
		})
		return
	}

	writeJSON(w, http.StatusOK, HealthResponse{
		Status:    status,
		Version:   m.version,
		Timestamp: time.Now().UTC(),
		Checks:    checks,
	})
}

// LivenessHandler reports that the process is serving.
func (m *HealthManager) LivenessHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{Status: StatusHealthy, Version: m.version, Timestamp: time.Now().UTC()})
}

// ReadinessHandler is the health handler under a probe-specific path.
func (m *HealthManager) ReadinessHandler(w http.ResponseWriter, r *http.Request) {
	m.HealthHandler(w, r)
}

// StartupHandler reports healthy once the manager exists.
func (m *HealthManager) StartupHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":     StatusHealthy,
		"version":    m.version,
		"started_at": m.started.UTC(),
	})
}

var globalHealthManager *HealthManager

// InitHealthManager sets the process-wide manager.
func InitHealthManager(version string) {
	globalHealthManager = NewHealthManager(version)
}

// GetHealthManager returns the process-wide manager, or nil.
func GetHealthManager() *HealthManager {
	return globalHealthManager
}

func manager() *HealthManager {
	if globalHealthManager == nil {
		return NewHealthManager("unknown")
	}
	return globalHealthManager
}

// HealthHandler serves /health using the process-wide manager.
func HealthHandler(w http.ResponseWriter, r *http.Request) { manager().HealthHandler(w, r) }

// LivenessHandler serves /health/live using the process-wide manager.
func LivenessHandler(w http.ResponseWriter, r *http.Request) { manager().LivenessHandler(w, r) }

// ReadinessHandler serves /health/ready using the process-wide manager.
func ReadinessHandler(w http.ResponseWriter, r *http.Request) { manager().ReadinessHandler(w, r) }

// StartupHandler serves /health/startup using the process-wide manager.
func StartupHandler(w http.ResponseWriter, r *http.Request) { manager().StartupHandler(w, r) }

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
