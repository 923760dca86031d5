package monitor

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// HealthCheck probes one dependency and returns details on success or an
// error when the dependency is unhealthy.
type HealthCheck func(ctx context.Context) (string, error)

// CheckResult is the outcome of one health check.
type CheckResult struct {
	Status      string `json:"status"`
	Details     string `json:"details,omitempty"`
	Error       string `json:"error,omitempty"`
	LastChecked string `json:"last_checked"`
}

// HealthReport aggregates all check results.
type HealthReport struct {
	Timestamp     string                 `json:"timestamp"`
	OverallStatus string                 `json:"overall_status"`
	Checks        map[string]CheckResult `json:"checks"`
}

// HealthChecker runs registered dependency probes for the health surface.
type HealthChecker struct {
	mu     sync.Mutex
	checks map[string]HealthCheck
}

// NewHealthChecker creates an empty health checker.
func NewHealthChecker() *HealthChecker {
	return &HealthChecker{checks: make(map[string]HealthCheck)}
}

// RegisterHealthCheck registers a named probe.
func (h *HealthChecker) RegisterHealthCheck(name string, check HealthCheck) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checks[name] = check
}

// RunHealthChecks runs every registered probe. Overall status is "healthy"
// only when all checks pass; any failure degrades it.
func (h *HealthChecker) RunHealthChecks(ctx context.Context) HealthReport {
	h.mu.Lock()
	checks := make(map[string]HealthCheck, len(h.checks))
	for name, check := range h.checks {
		checks[name] = check
	}
	h.mu.Unlock()

	report := HealthReport{
		Timestamp:     time.Now().Format(time.RFC3339),
		OverallStatus: "healthy",
		Checks:        make(map[string]CheckResult, len(checks)),
	}
	for name, check := range checks {
		details, err := check(ctx)
		result := CheckResult{Status: "healthy", Details: details, LastChecked: time.Now().Format(time.RFC3339)}
		if err != nil {
			slog.Warn("HealthChecker check failed", "check", name, "error", err)
			result.Status = "unhealthy"
			result.Error = err.Error()
			report.OverallStatus = "degraded"
		}
		report.Checks[name] = result
	}
	return report
}
