package api

import (
	"context"
	"net/http"
	"sync"
	"time"
)

// CheckFunc probes one dependency. A nil error means healthy.
type CheckFunc func(ctx context.Context) error

// HealthChecker fans readiness probes out to every registered
// dependency. Liveness is unconditional: the process answering at all
// is the signal.
type HealthChecker struct {
	mu     sync.RWMutex
	checks map[string]CheckFunc
}

func NewHealthChecker() *HealthChecker {
	return &HealthChecker{checks: make(map[string]CheckFunc)}
}

func (hc *HealthChecker) Register(name string, check CheckFunc) {
	hc.mu.Lock()
	defer hc.mu.Unlock()
	hc.checks[name] = check
}

func (hc *HealthChecker) Liveness(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (hc *HealthChecker) Readiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	hc.mu.RLock()
	checks := make(map[string]CheckFunc, len(hc.checks))
	for name, check := range hc.checks {
		checks[name] = check
	}
	hc.mu.RUnlock()

	type result struct {
		name string
		err  error
	}

	results := make(chan result, len(checks))
	for name, check := range checks {
		go func(name string, check CheckFunc) {
			results <- result{name: name, err: check(ctx)}
		}(name, check)
	}

	components := make(map[string]string, len(checks))
	ready := true
	for range checks {
		res := <-results
		if res.err != nil {
			components[res.name] = res.err.Error()
			ready = false
			continue
		}
		components[res.name] = "ok"
	}

	status := http.StatusOK
	state := "ready"
	if !ready {
		status = http.StatusServiceUnavailable
		state = "not ready"
	}
	respondJSON(w, status, map[string]any{"status": state, "components": components})
}
