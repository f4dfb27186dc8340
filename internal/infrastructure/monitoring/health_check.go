package monitoring

import (
	"context"
	"sync"
	"time"
)

// Aggregate health states. A failing critical check makes the relay
// unhealthy; a failing non-critical one only degrades it.
const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
)

type HealthCheck struct {
	Name     string
	Check    func(ctx context.Context) error
	Critical bool
	Timeout  time.Duration
}

type HealthStatus struct {
	Status    string            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Checks    map[string]string `json:"checks"`
}

// HealthChecker aggregates dependency probes into one status. Checks run on
// demand; callers poll from the health endpoints.
type HealthChecker struct {
	mu     sync.RWMutex
	checks []HealthCheck
}

func NewHealthChecker() *HealthChecker {
	return &HealthChecker{checks: make([]HealthCheck, 0)}
}

func (h *HealthChecker) AddCheck(name string, critical bool, timeout time.Duration, check func(ctx context.Context) error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	h.checks = append(h.checks, HealthCheck{
		Name:     name,
		Check:    check,
		Critical: critical,
		Timeout:  timeout,
	})
}

// CheckAll runs every registered check and folds the results into a single
// status.
func (h *HealthChecker) CheckAll(ctx context.Context) HealthStatus {
	h.mu.RLock()
	checks := make([]HealthCheck, len(h.checks))
	copy(checks, h.checks)
	h.mu.RUnlock()

	status := HealthStatus{
		Status:    StatusHealthy,
		Timestamp: time.Now(),
		Checks:    make(map[string]string, len(checks)),
	}

	for _, check := range checks {
		checkCtx, cancel := context.WithTimeout(ctx, check.Timeout)
		err := check.Check(checkCtx)
		cancel()

		if err == nil {
			status.Checks[check.Name] = StatusHealthy
			continue
		}

		status.Checks[check.Name] = err.Error()
		if check.Critical {
			status.Status = StatusUnhealthy
		} else if status.Status == StatusHealthy {
			status.Status = StatusDegraded
		}
	}

	return status
}

// IsAlive reports whether the relay should keep receiving liveness traffic.
// Only critical failures flip it.
func (h *HealthChecker) IsAlive(ctx context.Context) bool {
	return h.CheckAll(ctx).Status != StatusUnhealthy
}

// IsReady reports whether the relay should receive new consumers. Degraded
// dependencies already fail readiness so load balancers route elsewhere.
func (h *HealthChecker) IsReady(ctx context.Context) bool {
	return h.CheckAll(ctx).Status == StatusHealthy
}

// Watch re-evaluates health every interval and reports transitions through
// onChange. It blocks until the context ends.
func (h *HealthChecker) Watch(ctx context.Context, interval time.Duration, onChange func(HealthStatus)) {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	last := StatusHealthy
	for {
		select {
		case <-ticker.C:
			status := h.CheckAll(ctx)
			if status.Status == last {
				continue
			}
			last = status.Status
			if onChange != nil {
				onChange(status)
			}
		case <-ctx.Done():
			return
		}
	}
}
