package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrLockTimeout is returned when a lock stays held past the acquire deadline.
var ErrLockTimeout = errors.New("platform/cache: lock wait timed out")

const defaultLockRetry = 20 * time.Millisecond

// Only the holder's token may delete the key.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Locker hands out mutually exclusive leases on named Redis keys. A lease expires
// after TTL so a crashed holder never blocks the key for longer than that.
type Locker struct {
	client   *redis.Client
	ttl      time.Duration
	wait     time.Duration
	retry    time.Duration
	newToken func() string
}

// NewLocker builds a locker. Acquire gives up after waiting twice the TTL.
func NewLocker(client *redis.Client, ttl time.Duration) *Locker {
	return &Locker{
		client:   client,
		ttl:      ttl,
		wait:     2 * ttl,
		retry:    defaultLockRetry,
		newToken: uuid.NewString,
	}
}

// Acquire blocks until name is free, ctx ends or the wait deadline passes. The
// returned release is safe to call once the lease expired.
func (l *Locker) Acquire(ctx context.Context, name string) (func(), error) {
	token := l.newToken()
	deadline := time.Now().Add(l.wait)
	for {
		ok, err := l.client.SetNX(ctx, name, token, l.ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("platform/cache: lock %s: %w", name, err)
		}
		if ok {
			return func() {
				_ = releaseScript.Run(context.WithoutCancel(ctx), l.client, []string{name}, token).Err()
			}, nil
		}
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("%w: %s", ErrLockTimeout, name)
		}
		timer := time.NewTimer(l.retry)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
}
