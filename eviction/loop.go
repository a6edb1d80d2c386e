// Package eviction drives the periodic TTL+LRU sweep across the Result
// Cache, Pattern Cache, and Deferred Cache from a single background
// worker, per spec.md §4.7.
package eviction

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/chaisql/recache/deferredcache"
	"github.com/chaisql/recache/patterncache"
	"github.com/chaisql/recache/resultcache"
)

// Caches bundles the three evictable tiers the loop sweeps each tick.
type Caches struct {
	Result   *resultcache.Cache
	Pattern  *patterncache.Cache
	Deferred *deferredcache.Cache
}

// WarnLeak is called once per forced (leak) eviction from the Deferred
// Cache, with the pattern text, its refcount at the time, and how long it
// had been in the Deferred Cache.
type WarnLeak func(pattern string, refcount int64, age time.Duration)

// Loop runs Caches' Evict methods on a fixed interval from a single
// worker goroutine. The zero value is not usable; construct with New.
// Start, Stop and IsRunning are guarded by the Loop's own mutex, so they
// may be called from multiple goroutines.
type Loop struct {
	caches   Caches
	interval time.Duration
	warn     WarnLeak

	mu     sync.Mutex
	cancel context.CancelFunc
	group  *errgroup.Group
}

// New builds a Loop that sweeps caches every interval. warn may be nil.
func New(caches Caches, interval time.Duration, warn WarnLeak) *Loop {
	return &Loop{caches: caches, interval: interval, warn: warn}
}

// Start launches the background worker if it is not already running.
// Starting an already-running loop is a no-op, per spec.md §4.7's
// idempotence requirement.
func (l *Loop) Start() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	g, gctx := errgroup.WithContext(ctx)
	l.cancel = cancel
	l.group = g

	g.Go(func() error {
		l.run(gctx)
		return nil
	})
}

// Stop cancels the worker and blocks until it has returned. Stopping an
// already-stopped loop is a no-op.
func (l *Loop) Stop() {
	l.mu.Lock()
	cancel := l.cancel
	g := l.group
	l.cancel = nil
	l.group = nil
	l.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	_ = g.Wait()
}

// IsRunning reports whether the worker is currently active.
func (l *Loop) IsRunning() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.cancel != nil
}

func (l *Loop) run(ctx context.Context) {
	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.sweep()
		}
	}
}

// sweep runs one eviction pass over all three tiers, in dependency order:
// the Pattern Cache must run before the Deferred Cache so entries it
// transfers this tick are swept in the same pass they arrive.
func (l *Loop) sweep() {
	now := time.Now()
	l.caches.Result.Evict(now)
	l.caches.Pattern.Evict(now, l.caches.Deferred)
	l.caches.Deferred.Evict(now, l.warn)
}
