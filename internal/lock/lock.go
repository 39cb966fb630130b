// Package lock provides short-lived driver allocation locks in Redis.
// A matcher holds a driver's lock for the window between picking the
// candidate and committing the assignment transaction, so concurrent
// matchers skip that driver instead of racing on the database row.
package lock

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// releaseScript deletes the lock only if the caller still owns it, so a
// matcher that overran the TTL cannot release a lock re-acquired by another.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Manager acquires and releases per-driver allocation locks.
type Manager struct {
	rdb     *redis.Client
	ttl     time.Duration
	timeout time.Duration
}

func NewManager(rdb *redis.Client, ttl, timeout time.Duration) *Manager {
	return &Manager{rdb: rdb, ttl: ttl, timeout: timeout}
}

func lockKey(driverID string) string {
	return "driver:" + driverID + ":lock"
}

// Acquire attempts to take the allocation lock for a driver. It returns an
// owner token on success and ok=false if another matcher holds the lock.
// The lock expires on its own after the TTL; a crashed matcher never parks
// a driver for longer than that.
func (m *Manager) Acquire(ctx context.Context, driverID string) (token string, ok bool, err error) {
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	token = uuid.NewString()
	ok, err = m.rdb.SetNX(ctx, lockKey(driverID), token, m.ttl).Result()
	if err != nil {
		return "", false, fmt.Errorf("acquire lock: %w", err)
	}
	return token, ok, nil
}

// Release frees the lock if the token still owns it.
func (m *Manager) Release(ctx context.Context, driverID, token string) error {
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	if err := releaseScript.Run(ctx, m.rdb, []string{lockKey(driverID)}, token).Err(); err != nil {
		return fmt.Errorf("release lock: %w", err)
	}
	return nil
}
