// Package deferredcache implements the Deferred Cache from spec.md §4.5: a
// holding area for patterns the Pattern Cache evicted on TTL while a caller
// still held a reference. It has no capacity target and no LRU policy; an
// entry leaves only when its refcount reaches zero (immediate eviction) or
// it has overstayed deferred_cache_ttl_ms regardless of refcount (forced
// eviction, the leak-recovery backstop).
package deferredcache

import (
	"sync"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/chaisql/recache/metrics"
)

// Holder is the subset of patterncache.Pattern the Deferred Cache needs.
// It is satisfied structurally; this package never imports patterncache.
type Holder interface {
	Refcount() int64
	Size() int64
	Text() string
}

type entry struct {
	holder  Holder
	addedAt time.Time
}

// Config is the subset of config.Config the Deferred Cache needs.
type Config struct {
	TTL time.Duration
}

// Cache is the Deferred Cache. The zero value is not usable; construct
// with New.
type Cache struct {
	cfg     Config
	metrics *metrics.DeferredCache

	mu      sync.Mutex
	entries map[uint64]*entry
}

// New builds an empty Deferred Cache bound to the given metrics sink.
func New(cfg Config, m *metrics.DeferredCache) *Cache {
	return &Cache{
		cfg:     cfg,
		metrics: m,
		entries: make(map[uint64]*entry),
	}
}

// Add transfers a pattern the Pattern Cache evicted on TTL into the
// Deferred Cache. now is the transfer time, used as the leak-detection
// clock start, per spec.md §4.5. A fingerprint already present is left
// untouched: it already has a deferred-entry clock running, and restarting
// it would give a long-held leak another full TTL window for free.
func (c *Cache) Add(fp uint64, h Holder, now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.entries[fp]; ok {
		return
	}
	c.entries[fp] = &entry{holder: h, addedAt: now}
	c.snapshotLocked()
}

// Evict runs one pass: entries whose refcount has dropped to zero are
// freed immediately; entries that are still held but have exceeded the
// deferred TTL are forced out regardless, logging a leak warning, per
// spec.md §4.5. It returns (immediate, forced).
func (c *Cache) Evict(now time.Time, warn ...func(pattern string, refcount int64, age time.Duration)) (immediate, forced int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var notify func(string, int64, time.Duration)
	if len(warn) > 0 {
		notify = warn[0]
	}

	for fp, e := range c.entries {
		if e.holder.Refcount() == 0 {
			delete(c.entries, fp)
			immediate++
			c.metrics.ImmediateEvictions.Add(1)
			c.metrics.ImmediateBytesFreed.Add(uint64(e.holder.Size()))
			c.metrics.TotalEvictions.Add(1)
			c.metrics.TotalBytesFreed.Add(uint64(e.holder.Size()))
			continue
		}

		age := now.Sub(e.addedAt)
		if age > c.cfg.TTL {
			delete(c.entries, fp)
			forced++
			c.metrics.ForcedEvictions.Add(1)
			c.metrics.ForcedBytesFreed.Add(uint64(e.holder.Size()))
			c.metrics.TotalEvictions.Add(1)
			c.metrics.TotalBytesFreed.Add(uint64(e.holder.Size()))
			if notify != nil {
				notify(e.holder.Text(), e.holder.Refcount(), age)
			}
		}
	}

	c.snapshotLocked()
	return immediate, forced
}

// Clear drops all entries unconditionally, without running refcount or TTL
// checks; used by the facade's ClearAll, per spec.md §4.8.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[uint64]*entry)
	c.snapshotLocked()
}

// Len reports the current entry count, mainly for tests.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *Cache) snapshotLocked() {
	var bytes uint64
	for _, e := range c.entries {
		bytes += uint64(e.holder.Size())
	}
	c.metrics.Snapshot(bytes, uint64(len(c.entries)))
}

// ErrLeaked is a sentinel describing a forced (leak) eviction. Evict reports
// leaks through its warn callback and does not return or wrap this error.
var ErrLeaked = errors.New("deferredcache: pattern exceeded deferred TTL while still referenced")
