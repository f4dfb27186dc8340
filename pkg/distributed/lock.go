package distributed

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrNotHeld is returned by Release when the lock is no longer owned by
// this holder, typically because the TTL expired and another instance
// claimed it.
var ErrNotHeld = errors.New("lock not held by this instance")

// Lock is a Redis-backed lock used to claim ownership of a stream across
// relay instances. The holder identity is a random token so a stale
// instance cannot release a lock it lost.
type Lock struct {
	client *redis.Client
	key    string
	value  string
	ttl    time.Duration

	stopRenew chan struct{}
	stopOnce  sync.Once
}

// NewLock creates a lock on key with the given TTL. The lock is not
// acquired until TryAcquire or Acquire succeeds.
func NewLock(client *redis.Client, key string, ttl time.Duration) *Lock {
	return &Lock{
		client:    client,
		key:       key,
		value:     holderToken(),
		ttl:       ttl,
		stopRenew: make(chan struct{}),
	}
}

func holderToken() string {
	b := make([]byte, 16)
	rand.Read(b)
	return hex.EncodeToString(b)
}

// TryAcquire attempts to take the lock without blocking. It returns false
// when another instance already holds it.
func (l *Lock) TryAcquire(ctx context.Context) (bool, error) {
	acquired, err := l.client.SetNX(ctx, l.key, l.value, l.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to acquire lock %s: %w", l.key, err)
	}

	if acquired {
		go l.renew()
		return true, nil
	}

	return false, nil
}

// Acquire blocks until the lock is taken or the timeout elapses. A zero
// timeout uses a 30 second default.
func (l *Lock) Acquire(ctx context.Context, timeout time.Duration) error {
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	deadline := time.Now().Add(timeout)

	for {
		acquired, err := l.TryAcquire(ctx)
		if err != nil {
			return err
		}
		if acquired {
			return nil
		}

		if time.Now().After(deadline) {
			return fmt.Errorf("timed out acquiring lock %s", l.key)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(100 * time.Millisecond):
		}
	}
}

// Release gives up the lock. The delete only succeeds if this holder still
// owns it, so an expired lock taken over by another instance is left alone.
func (l *Lock) Release(ctx context.Context) error {
	l.stopOnce.Do(func() {
		close(l.stopRenew)
	})

	script := `
		if redis.call("get", KEYS[1]) == ARGV[1] then
			return redis.call("del", KEYS[1])
		else
			return 0
		end
	`

	result, err := l.client.Eval(ctx, script, []string{l.key}, l.value).Result()
	if err != nil {
		return fmt.Errorf("failed to release lock %s: %w", l.key, err)
	}

	if n, ok := result.(int64); ok && n == 0 {
		return ErrNotHeld
	}

	return nil
}

// Held reports whether the lock key currently exists, regardless of holder.
func (l *Lock) Held(ctx context.Context) (bool, error) {
	exists, err := l.client.Exists(ctx, l.key).Result()
	if err != nil {
		return false, err
	}
	return exists > 0, nil
}

// renew extends the TTL at half-TTL intervals while the lock is still
// owned by this holder.
func (l *Lock) renew() {
	ticker := time.NewTicker(l.ttl / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			current, err := l.client.Get(ctx, l.key).Result()
			if err != nil {
				// redis.Nil means the lock expired or was released.
				cancel()
				return
			}
			if current != l.value {
				cancel()
				return
			}
			l.client.Expire(ctx, l.key, l.ttl)
			cancel()

		case <-l.stopRenew:
			return
		}
	}
}

// Manager creates locks under a shared key prefix.
type Manager struct {
	client *redis.Client
	prefix string
}

// NewManager creates a lock manager. All locks it creates are namespaced
// under prefix.
func NewManager(client *redis.Client, prefix string) *Manager {
	return &Manager{
		client: client,
		prefix: prefix,
	}
}

// Lock creates an unacquired lock for key under the manager's prefix.
func (m *Manager) Lock(key string, ttl time.Duration) *Lock {
	return NewLock(m.client, m.prefix+key, ttl)
}
