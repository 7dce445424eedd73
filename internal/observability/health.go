package observability

import (
	"encoding/json"
	"net/http"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// HealthCheck reports whether one dependency can take writes.
type HealthCheck func() bool

// HealthChecker manages liveness and readiness state.
// /health/live answers as long as the process runs; /health/ready only
// after boot replay finished and while every registered check passes.
type HealthChecker struct {
	ready     atomic.Bool
	startTime time.Time

	mu     sync.RWMutex
	checks map[string]HealthCheck
}

func NewHealthChecker() *HealthChecker {
	return &HealthChecker{
		startTime: time.Now(),
		checks:    make(map[string]HealthCheck),
	}
}

// Register adds a named readiness check.
func (h *HealthChecker) Register(name string, check HealthCheck) {
	h.mu.Lock()
	h.checks[name] = check
	h.mu.Unlock()
}

// SetReady marks boot as complete.
func (h *HealthChecker) SetReady(ready bool) {
	h.ready.Store(ready)
}

// IsReady is true when boot is complete and all checks pass.
func (h *HealthChecker) IsReady() bool {
	ok, _ := h.status()
	return ok
}

func (h *HealthChecker) status() (bool, []string) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	var failing []string
	for name, check := range h.checks {
		if !check() {
			failing = append(failing, name)
		}
	}
	sort.Strings(failing)
	return h.ready.Load() && len(failing) == 0, failing
}

func (h *HealthChecker) LivenessHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status": "alive",
		"uptime": time.Since(h.startTime).String(),
	})
}

// ReadinessHandler returns 200 when ready and 503 with the failing checks
// otherwise.
func (h *HealthChecker) ReadinessHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	ok, failing := h.status()
	if ok {
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"status": "ready",
		})
		return
	}

	body := map[string]interface{}{"status": "not_ready"}
	if !h.ready.Load() {
		body["boot"] = "replaying"
	}
	if len(failing) > 0 {
		body["failing"] = failing
	}
	w.WriteHeader(http.StatusServiceUnavailable)
	json.NewEncoder(w).Encode(body)
}
