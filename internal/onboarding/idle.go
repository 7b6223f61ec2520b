package onboarding

import (
	"context"
	"time"
)

// DefaultSweepInterval is how often the idle sweeper runs.
const DefaultSweepInterval = 5 * time.Minute

// EvictIdle forgets in-memory sessions not used for longer than ttl and
// returns how many were dropped. An evicted user's window is rebuilt from
// the store on the next operation.
func (o *Orchestrator) EvictIdle(ttl time.Duration) int {
	cutoff := o.now().Add(-ttl)

	o.mu.Lock()
	defer o.mu.Unlock()

	evicted := 0
	for id, h := range o.sessions {
		if h.lastUsed.Before(cutoff) {
			delete(o.sessions, id)
			evicted++
		}
	}
	return evicted
}

// ActiveSessions returns the number of users with an in-memory session.
func (o *Orchestrator) ActiveSessions() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.sessions)
}

// StartIdleSweeper runs a background goroutine that periodically evicts
// sessions idle for longer than ttl. It stops when ctx is cancelled.
func (o *Orchestrator) StartIdleSweeper(ctx context.Context, ttl, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		o.logger.Info("Idle session sweeper started", "interval", interval, "ttl", ttl)

		for {
			select {
			case <-ticker.C:
				if n := o.EvictIdle(ttl); n > 0 {
					o.logger.Info("Idle sessions evicted", "count", n, "remaining", o.ActiveSessions())
				}
			case <-ctx.Done():
				o.logger.Info("Idle session sweeper shutting down", "reason", ctx.Err())
				return
			}
		}
	}()
}
