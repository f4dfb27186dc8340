package monitoring

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"voxrelay/internal/core/domain"
	"voxrelay/pkg/circuitbreaker"
)

// UpstreamStatus is the slice of the SFU client the health checker needs.
type UpstreamStatus interface {
	State() domain.ConnState
}

// SessionCounter is the slice of the gateway the health checker needs.
type SessionCounter interface {
	SessionCount() int
}

// GuardedStage is the slice of a guarded inference stage the health checker
// needs: readiness plus the breaker snapshot behind it.
type GuardedStage interface {
	Name() string
	Ready() bool
	BreakerStats() circuitbreaker.Stats
}

// AddUpstreamCheck degrades the relay while the SFU connection is down. The
// check is non-critical: the reconnect loop owns recovery and downstream
// sessions keep their connections meanwhile.
func (h *HealthChecker) AddUpstreamCheck(upstream UpstreamStatus, timeout time.Duration) {
	h.AddCheck("upstream", false, timeout, func(ctx context.Context) error {
		if state := upstream.State(); state != domain.ConnStateConnected {
			return fmt.Errorf("upstream %s", state)
		}
		return nil
	})
}

// AddRedisCheck degrades the relay when Redis stops answering. History falls
// back to best effort, so this is non-critical too.
func (h *HealthChecker) AddRedisCheck(client *redis.Client, timeout time.Duration) {
	h.AddCheck("redis", false, timeout, func(ctx context.Context) error {
		return client.Ping(ctx).Err()
	})
}

// AddStageCheck degrades the relay while an inference stage cannot serve,
// whether the provider reports itself down or the stage breaker is open.
func (h *HealthChecker) AddStageCheck(stage GuardedStage, timeout time.Duration) {
	h.AddCheck("stage-"+stage.Name(), false, timeout, func(ctx context.Context) error {
		if stage.Ready() {
			return nil
		}
		return fmt.Errorf("%w (breaker %s)", domain.ErrStageNotReady, stage.BreakerStats().State)
	})
}

// AddSessionCapacityCheck degrades the relay when the downstream session
// table is full, so load balancers steer new consumers elsewhere.
func (h *HealthChecker) AddSessionCapacityCheck(sessions SessionCounter, maxSessions int, timeout time.Duration) {
	h.AddCheck("session-capacity", false, timeout, func(ctx context.Context) error {
		if active := sessions.SessionCount(); active >= maxSessions {
			return fmt.Errorf("at capacity: %d/%d sessions", active, maxSessions)
		}
		return nil
	})
}
