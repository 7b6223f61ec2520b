package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const defaultPollInterval = 50 * time.Millisecond

// unlockScript deletes the key only if it still holds our token.
var unlockScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
else
	return 0
end
`)

// extendScript resets the expiry only if the key still holds our token.
var extendScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("pexpire", KEYS[1], ARGV[2])
else
	return 0
end
`)

// RedisLocker implements Locker with SET NX PX. A held lock is renewed every
// third of its TTL until released, so the TTL only bounds a crashed holder.
type RedisLocker struct {
	client redis.UniversalClient
	prefix string
	poll   time.Duration
}

// NewRedisLocker creates a locker; keys are stored as <prefix>lock:<key>.
func NewRedisLocker(client redis.UniversalClient, prefix string) *RedisLocker {
	return &RedisLocker{client: client, prefix: prefix, poll: defaultPollInterval}
}

// Lock blocks until the lock is acquired or ctx is done.
func (l *RedisLocker) Lock(ctx context.Context, key string, ttl time.Duration) (UnlockFunc, error) {
	lockKey := l.prefix + "lock:" + key
	token := uuid.NewString()

	ticker := time.NewTicker(l.poll)
	defer ticker.Stop()

	for {
		ok, err := l.client.SetNX(ctx, lockKey, token, ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("redis error acquiring lock: %w", err)
		}
		if ok {
			return l.hold(ctx, lockKey, token, ttl), nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// hold starts the renewal loop and returns the func that stops it and
// releases the key.
func (l *RedisLocker) hold(ctx context.Context, lockKey, token string, ttl time.Duration) UnlockFunc {
	stop := make(chan struct{})
	done := make(chan struct{})
	go l.renew(context.WithoutCancel(ctx), lockKey, token, ttl, stop, done)

	var once sync.Once
	return func(ctx context.Context) error {
		once.Do(func() {
			close(stop)
			<-done
		})
		return unlockScript.Run(ctx, l.client, []string{lockKey}, token).Err()
	}
}

func (l *RedisLocker) renew(ctx context.Context, lockKey, token string, ttl time.Duration, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	interval := ttl / 3
	if interval <= 0 {
		interval = time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
		}

		extendCtx, cancel := context.WithTimeout(ctx, interval)
		n, err := extendScript.Run(extendCtx, l.client, []string{lockKey}, token, ttl.Milliseconds()).Int()
		cancel()
		switch {
		case err != nil:
			// Transient; the next tick retries while the key is still alive.
			slog.Warn("failed to renew distributed lock", "key", lockKey, "error", err)
		case n == 0:
			slog.Warn("distributed lock lost before release", "key", lockKey)
			return
		}
	}
}
