// Package health implements the liveness and readiness endpoints.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/qlite/qlite/internal/common/metrics"
)

// Check is a named readiness probe. A nil error means healthy.
type Check struct {
	Name  string
	Probe func(ctx context.Context) error
}

// Checker aggregates readiness checks and serves the health endpoints.
type Checker struct {
	mu     sync.RWMutex
	checks []Check
}

// NewChecker creates an empty checker.
func NewChecker() *Checker {
	return &Checker{}
}

// AddReadinessCheck registers a probe consulted by /health and
// /health/ready.
func (c *Checker) AddReadinessCheck(name string, probe func(ctx context.Context) error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.checks = append(c.checks, Check{Name: name, Probe: probe})
}

func (c *Checker) run(ctx context.Context) (map[string]bool, bool) {
	c.mu.RLock()
	checks := make([]Check, len(c.checks))
	copy(checks, c.checks)
	c.mu.RUnlock()

	results := make(map[string]bool, len(checks))
	healthy := true
	for _, check := range checks {
		err := check.Probe(ctx)
		results[check.Name] = err == nil
		if err != nil {
			healthy = false
		}
	}
	return results, healthy
}

// HandleHealth serves GET /health with per-check detail.
func (c *Checker) HandleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	results, healthy := c.run(ctx)
	status := "healthy"
	code := http.StatusOK
	if !healthy {
		status = "unhealthy"
		code = http.StatusServiceUnavailable
		metrics.HealthStatus.Set(0)
	} else {
		metrics.HealthStatus.Set(1)
	}

	writeJSON(w, code, map[string]any{
		"status":    status,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"service":   "qlite",
		"checks":    results,
	})
}

// HandleReady serves GET /health/ready.
func (c *Checker) HandleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	if _, healthy := c.run(ctx); !healthy {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "not ready"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
}

// HandleLive serves GET /health/live. If this handler runs, the process is
// alive.
func (c *Checker) HandleLive(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "alive",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func writeJSON(w http.ResponseWriter, code int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(body)
}
