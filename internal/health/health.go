// Package health provides liveness and readiness endpoints.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/pestroute/layoutsync/internal/metrics"
)

// Checker is a dependency whose reachability gates readiness
type Checker interface {
	Ping(ctx context.Context) error
}

// HealthCheck manages health check functionality.
type HealthCheck struct {
	checks        map[string]Checker
	clock         clockwork.Clock
	metrics       *metrics.Metrics
	logger        *zap.Logger
	mu            sync.RWMutex
	ready         bool
	lastCheck     time.Time
	checkInterval time.Duration
	checkTimeout  time.Duration
}

// NewHealthCheck creates a new HealthCheck instance. Run starts the
// periodic background check.
func NewHealthCheck(
	checks map[string]Checker,
	clock clockwork.Clock,
	m *metrics.Metrics,
	logger *zap.Logger,
) *HealthCheck {
	return &HealthCheck{
		checks:        checks,
		clock:         clock,
		metrics:       m,
		logger:        logger,
		checkInterval: 5 * time.Second,
		checkTimeout:  5 * time.Second,
	}
}

// LivenessResponse represents the response for the liveness check.
type LivenessResponse struct {
	Status string `json:"status"`
}

// ReadinessResponse represents the response for the readiness check.
type ReadinessResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
	Error  string            `json:"error,omitempty"`
}

// LivenessHandler handles GET /health requests.
// Returns 200 OK if the process is running.
func (hc *HealthCheck) LivenessHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, LivenessResponse{Status: "healthy"})
}

// ReadinessHandler handles GET /ready requests. A cached ready state is
// served as is; otherwise every dependency is checked again.
func (hc *HealthCheck) ReadinessHandler(w http.ResponseWriter, r *http.Request) {
	if hc.IsReady() {
		writeJSON(w, http.StatusOK, ReadinessResponse{Status: "ready", Checks: hc.statusMap(nil)})
		return
	}

	results, firstErr := hc.check(r.Context())
	if firstErr != nil {
		writeJSON(w, http.StatusServiceUnavailable, ReadinessResponse{
			Status: "not_ready",
			Checks: hc.statusMap(results),
			Error:  firstErr.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, ReadinessResponse{Status: "ready", Checks: hc.statusMap(results)})
}

// Run performs periodic health checks until ctx is cancelled
func (hc *HealthCheck) Run(ctx context.Context) {
	hc.check(ctx)

	ticker := hc.clock.NewTicker(hc.checkInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			hc.check(ctx)
		}
	}
}

// check pings every dependency and records the combined result
func (hc *HealthCheck) check(ctx context.Context) (map[string]error, error) {
	names := make([]string, 0, len(hc.checks))
	for name := range hc.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	results := make(map[string]error, len(names))
	var firstErr error
	for _, name := range names {
		pingCtx, cancel := context.WithTimeout(ctx, hc.checkTimeout)
		err := hc.checks[name].Ping(pingCtx)
		cancel()

		results[name] = err
		if err != nil {
			hc.logger.Warn("Health check failed", zap.String("check", name), zap.Error(err))
			if firstErr == nil {
				firstErr = err
			}
		}
	}

	hc.mu.Lock()
	hc.ready = firstErr == nil
	hc.lastCheck = hc.clock.Now()
	hc.mu.Unlock()

	hc.metrics.SetHealthStatus(firstErr == nil)
	return results, firstErr
}

func (hc *HealthCheck) statusMap(results map[string]error) map[string]string {
	out := make(map[string]string, len(hc.checks))
	for name := range hc.checks {
		if results != nil && results[name] != nil {
			out[name] = "unhealthy"
			continue
		}
		out[name] = "healthy"
	}
	return out
}

// IsReady returns the current readiness status.
func (hc *HealthCheck) IsReady() bool {
	hc.mu.RLock()
	defer hc.mu.RUnlock()
	return hc.ready
}

// SetReady sets the readiness status.
func (hc *HealthCheck) SetReady(ready bool) {
	hc.mu.Lock()
	defer hc.mu.Unlock()
	hc.ready = ready
}

// LastCheck returns when dependencies were last checked
func (hc *HealthCheck) LastCheck() time.Time {
	hc.mu.RLock()
	defer hc.mu.RUnlock()
	return hc.lastCheck
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
