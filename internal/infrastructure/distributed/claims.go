package distributed

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"voxrelay/internal/core/domain"
	locks "voxrelay/pkg/distributed"
)

const claimPrefix = "voxrelay:claim:"

// StreamClaims assigns each subscribed stream to exactly one relay instance
// using Redis locks. Claim a stream before subscribing upstream and Release
// it after unsubscribing. Held locks renew themselves, so a crashed instance
// frees its streams once the TTL lapses.
type StreamClaims struct {
	manager *locks.Manager
	ttl     time.Duration
	logger  *zap.Logger

	mu   sync.Mutex
	held map[domain.StreamKey]*locks.Lock
}

func NewStreamClaims(client *redis.Client, ttl time.Duration, logger *zap.Logger) *StreamClaims {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &StreamClaims{
		manager: locks.NewManager(client, claimPrefix),
		ttl:     ttl,
		logger:  logger,
		held:    make(map[domain.StreamKey]*locks.Lock),
	}
}

// Claim attempts to take ownership of key. False means another instance is
// already processing this stream. Claiming a key this instance holds is a
// no-op returning true.
func (c *StreamClaims) Claim(ctx context.Context, key domain.StreamKey) (bool, error) {
	c.mu.Lock()
	if _, ok := c.held[key]; ok {
		c.mu.Unlock()
		return true, nil
	}
	c.mu.Unlock()

	lock := c.manager.Lock("stream:"+key.String(), c.ttl)
	acquired, err := lock.TryAcquire(ctx)
	if err != nil {
		return false, err
	}
	if !acquired {
		return false, nil
	}

	c.mu.Lock()
	c.held[key] = lock
	c.mu.Unlock()

	c.logger.Debug("claimed stream", zap.String("stream", key.String()))
	return true, nil
}

// Release gives up ownership of key. Unknown keys are a no-op.
func (c *StreamClaims) Release(ctx context.Context, key domain.StreamKey) error {
	c.mu.Lock()
	lock, ok := c.held[key]
	delete(c.held, key)
	c.mu.Unlock()

	if !ok {
		return nil
	}
	if err := lock.Release(ctx); err != nil && !errors.Is(err, locks.ErrNotHeld) {
		return err
	}
	return nil
}

// ReleaseAll drops every claim this instance holds. Called on shutdown so
// sibling instances can pick the streams up without waiting out the TTL.
func (c *StreamClaims) ReleaseAll(ctx context.Context) {
	c.mu.Lock()
	held := c.held
	c.held = make(map[domain.StreamKey]*locks.Lock)
	c.mu.Unlock()

	for key, lock := range held {
		if err := lock.Release(ctx); err != nil && !errors.Is(err, locks.ErrNotHeld) {
			c.logger.Warn("failed to release stream claim",
				zap.String("stream", key.String()),
				zap.Error(err))
		}
	}
}
