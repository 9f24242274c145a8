package observability

import (
	"encoding/json"
	"net/http"
	"sort"
	"sync"
	"time"
)

// HealthChecker tracks liveness and per-dependency readiness.
// The service is ready once every registered dependency reports ready.
type HealthChecker struct {
	mu        sync.RWMutex
	deps      map[string]bool
	startTime time.Time
}

// NewHealthChecker registers the named dependencies as not ready.
func NewHealthChecker(deps ...string) *HealthChecker {
	h := &HealthChecker{
		deps:      make(map[string]bool, len(deps)),
		startTime: time.Now(),
	}
	for _, d := range deps {
		h.deps[d] = false
	}
	return h
}

// SetReady sets the readiness of one dependency, registering it if needed.
func (h *HealthChecker) SetReady(dep string, ready bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.deps[dep] = ready
}

// IsReady reports whether every dependency is ready.
func (h *HealthChecker) IsReady() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, ok := range h.deps {
		if !ok {
			return false
		}
	}
	return true
}

// Pending lists dependencies that are not ready, sorted.
func (h *HealthChecker) Pending() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	var out []string
	for d, ok := range h.deps {
		if !ok {
			out = append(out, d)
		}
	}
	sort.Strings(out)
	return out
}

// LivenessHandler always returns 200 while the process runs.
func (h *HealthChecker) LivenessHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status": "alive",
		"uptime": time.Since(h.startTime).String(),
	})
}

// ReadinessHandler returns 200 when ready, 503 with the pending list otherwise.
func (h *HealthChecker) ReadinessHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	pending := h.Pending()
	if len(pending) == 0 {
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"status": "ready",
		})
		return
	}
	w.WriteHeader(http.StatusServiceUnavailable)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status":  "not_ready",
		"pending": pending,
	})
}
