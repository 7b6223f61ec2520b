// Package session serializes work per user, in process and optionally
// across processes through a distributed Locker.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// DefaultLockTTL bounds how long a distributed lock survives a crashed holder.
// Live holders renew it, but it should still exceed the longest single call.
const DefaultLockTTL = 60 * time.Second

// UnlockFunc releases a distributed lock.
type UnlockFunc func(ctx context.Context) error

// Locker acquires a lock shared between processes.
type Locker interface {
	Lock(ctx context.Context, key string, ttl time.Duration) (UnlockFunc, error)
}

// lockEntry holds the mutex and the number of goroutines waiting on or holding it.
type lockEntry struct {
	mu   sync.Mutex
	refs int
}

// Registry hands out per-key locks. Entries are removed once nobody holds
// or waits for them.
type Registry struct {
	mu    sync.Mutex
	locks map[string]*lockEntry

	locker Locker
	ttl    time.Duration
	logger *slog.Logger
}

// Option configures a Registry.
type Option func(*Registry)

// WithLocker adds a distributed lock taken after the local one.
func WithLocker(l Locker, ttl time.Duration) Option {
	return func(r *Registry) {
		r.locker = l
		if ttl > 0 {
			r.ttl = ttl
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Registry) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// NewRegistry creates an empty Registry.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		locks:  make(map[string]*lockEntry),
		ttl:    DefaultLockTTL,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Registry) acquire(key string) *lockEntry {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.locks[key]
	if !ok {
		entry = &lockEntry{}
		r.locks[key] = entry
	}
	entry.refs++
	return entry
}

func (r *Registry) release(key string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.locks[key]
	if !ok {
		return
	}
	entry.refs--
	if entry.refs <= 0 {
		delete(r.locks, key)
	}
}

// WithLock runs fn while holding the lock for key.
func (r *Registry) WithLock(ctx context.Context, key string, fn func(context.Context) error) error {
	entry := r.acquire(key)
	entry.mu.Lock()
	defer func() {
		entry.mu.Unlock()
		r.release(key)
	}()

	if r.locker != nil {
		unlock, err := r.locker.Lock(ctx, key, r.ttl)
		if err != nil {
			return fmt.Errorf("failed to acquire distributed lock: %w", err)
		}
		defer func() {
			// Released with a fresh context so a cancelled request still frees the key.
			releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			defer cancel()
			if err := unlock(releaseCtx); err != nil {
				r.logger.Warn("failed to release distributed lock, will expire via TTL",
					"key", key,
					"error", err,
				)
			}
		}()
	}

	return fn(ctx)
}

// Distributed reports whether locks are shared with other processes, in which
// case state cached outside the store may be stale once the lock is taken.
func (r *Registry) Distributed() bool {
	return r.locker != nil
}

// Active reports how many keys currently have holders or waiters.
func (r *Registry) Active() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.locks)
}
