package redis

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/wooxbot/internal/domain"
)

// Both scripts act only while the key still holds the caller's token.
const (
	unlockLua = `
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('DEL', KEYS[1])
end
return 0
`
	refreshLua = `
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('PEXPIRE', KEYS[1], ARGV[2])
end
return 0
`
)

// LockManager implements domain.LockManager. A held lock is refreshed at a
// third of its TTL until released, so one engine per symbol can hold it for
// the lifetime of the process.
type LockManager struct {
	c       *Client
	unlock  *redis.Script
	refresh *redis.Script
}

// NewLockManager creates a LockManager.
func NewLockManager(c *Client) *LockManager {
	return &LockManager{
		c:       c,
		unlock:  redis.NewScript(unlockLua),
		refresh: redis.NewScript(refreshLua),
	}
}

// Acquire takes the lock for key or returns domain.ErrLockHeld. The returned
// release func stops the refresher and deletes the key; it is idempotent.
func (lm *LockManager) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	token := uuid.NewString()
	lk := lm.c.Key("lock", key)

	ok, err := lm.c.rdb.SetNX(ctx, lk, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: acquire lock %s: %w", key, err)
	}
	if !ok {
		return nil, fmt.Errorf("redis: acquire lock %s: %w", key, domain.ErrLockHeld)
	}

	stop := make(chan struct{})
	done := make(chan struct{})
	go lm.keepAlive(lk, token, ttl, stop, done)

	var once sync.Once
	release := func() {
		once.Do(func() {
			close(stop)
			<-done
			rctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = lm.unlock.Run(rctx, lm.c.rdb, []string{lk}, token).Err()
		})
	}
	return release, nil
}

func (lm *LockManager) keepAlive(lk, token string, ttl time.Duration, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(refreshInterval(ttl))
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			_ = lm.refresh.Run(ctx, lm.c.rdb, []string{lk}, token, ttl.Milliseconds()).Err()
			cancel()
		}
	}
}

func refreshInterval(ttl time.Duration) time.Duration {
	d := ttl / 3
	if d < 100*time.Millisecond {
		d = 100 * time.Millisecond
	}
	return d
}

var _ domain.LockManager = (*LockManager)(nil)
