package observability

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

const healthCheckTimeout = 3 * time.Second

// HealthChecker aggregates readiness from dependency checks such as the
// database ping and the receipt extractor.
type HealthChecker struct {
	mu     sync.RWMutex
	checks []HealthCheck
	logger *slog.Logger
}

// HealthCheck is a named dependency check.
type HealthCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

// HealthStatus is the JSON response for health/readiness endpoints.
type HealthStatus struct {
	Status string                 `json:"status"` // "ok" or "degraded"
	Checks map[string]CheckResult `json:"checks,omitempty"`
}

// CheckResult is the status of a single dependency check.
type CheckResult struct {
	Status   string `json:"status"`            // "ok" or "fail"
	Message  string `json:"message,omitempty"` // Error message on failure.
	Duration string `json:"duration,omitempty"`
}

// NewHealthChecker creates a HealthChecker with no checks registered.
func NewHealthChecker(logger *slog.Logger) *HealthChecker {
	return &HealthChecker{logger: logger}
}

// AddCheck registers a named health check.
func (h *HealthChecker) AddCheck(name string, check func(ctx context.Context) error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checks = append(h.checks, HealthCheck{Name: name, Check: check})
}

// CheckHealth returns liveness status. Always returns "ok" if the process is running.
func (h *HealthChecker) CheckHealth() HealthStatus {
	return HealthStatus{Status: "ok"}
}

// CheckReady runs all registered checks concurrently and returns aggregate
// readiness: "ok" only if all checks pass, "degraded" otherwise.
func (h *HealthChecker) CheckReady(ctx context.Context) HealthStatus {
	h.mu.RLock()
	checks := append([]HealthCheck(nil), h.checks...)
	h.mu.RUnlock()

	if len(checks) == 0 {
		return HealthStatus{Status: "ok"}
	}

	checkCtx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
	defer cancel()

	status := HealthStatus{
		Status: "ok",
		Checks: make(map[string]CheckResult, len(checks)),
	}

	var (
		mu sync.Mutex
		g  errgroup.Group
	)
	for _, c := range checks {
		g.Go(func() error {
			start := time.Now()
			err := c.Check(checkCtx)
			result := CheckResult{Status: "ok", Duration: time.Since(start).Round(time.Millisecond).String()}
			if err != nil {
				result.Status = "fail"
				result.Message = err.Error()
				if h.logger != nil {
					h.logger.Warn("readiness check failed",
						slog.String("check", c.Name),
						slog.String("error", err.Error()),
					)
				}
			}

			mu.Lock()
			defer mu.Unlock()
			status.Checks[c.Name] = result
			if err != nil {
				status.Status = "degraded"
			}
			return nil
		})
	}
	_ = g.Wait()

	return status
}
