// Package health aggregates component checks for the admin endpoints.
package health

import (
	"sort"
	"sync"
	"time"

	"walletd/internal/core"
)

// Report is the aggregated view served on /health
type Report struct {
	Status     string            `json:"status"`
	Components map[string]string `json:"components"`
	CheckedAt  time.Time         `json:"checked_at"`
}

type check struct {
	fn       func() error
	critical bool
}

// HealthManager aggregates health status from different components.
// Non-critical components are reported but never make the daemon unhealthy.
type HealthManager struct {
	logger core.ILogger
	mu     sync.RWMutex
	checks map[string]check
}

func NewHealthManager(logger core.ILogger) *HealthManager {
	hm := &HealthManager{checks: make(map[string]check)}
	if logger != nil {
		hm.logger = logger.WithField("component", "health_manager")
	}
	return hm
}

// Register adds a critical health check for a component
func (hm *HealthManager) Register(component string, fn func() error) {
	hm.register(component, fn, true)
}

// RegisterOptional adds a check that is reported but never fails the daemon,
// such as the remote wallet connection.
func (hm *HealthManager) RegisterOptional(component string, fn func() error) {
	hm.register(component, fn, false)
}

func (hm *HealthManager) register(component string, fn func() error, critical bool) {
	hm.mu.Lock()
	defer hm.mu.Unlock()
	hm.checks[component] = check{fn: fn, critical: critical}
}

// GetStatus returns the current status of all registered components
func (hm *HealthManager) GetStatus() map[string]string {
	return hm.Report().Components
}

// IsHealthy returns true if all critical components are healthy
func (hm *HealthManager) IsHealthy() bool {
	return hm.Report().Status != "unhealthy"
}

// Report runs every check once
func (hm *HealthManager) Report() Report {
	hm.mu.RLock()
	names := make([]string, 0, len(hm.checks))
	for name := range hm.checks {
		names = append(names, name)
	}
	checks := make(map[string]check, len(hm.checks))
	for k, v := range hm.checks {
		checks[k] = v
	}
	hm.mu.RUnlock()
	sort.Strings(names)

	r := Report{Status: "ok", Components: make(map[string]string, len(names)), CheckedAt: time.Now()}
	for _, name := range names {
		c := checks[name]
		if err := c.fn(); err != nil {
			r.Components[name] = "Unhealthy: " + err.Error()
			if c.critical {
				r.Status = "unhealthy"
			} else if r.Status == "ok" {
				r.Status = "degraded"
			}
			continue
		}
		r.Components[name] = "Healthy"
	}

	if r.Status == "unhealthy" && hm.logger != nil {
		hm.logger.Warn("Health check failed", "components", r.Components)
	}
	return r
}
