// Package resultcache implements the Result Cache from spec.md §4.3: a
// fingerprint->bool memoisation table with TTL+LRU eviction and no
// reference counting. Input strings are never stored, only their match
// outcome, so each entry's size is fixed.
package resultcache

import (
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/exp/slices"

	"github.com/chaisql/recache/fingerprint"
	"github.com/chaisql/recache/metrics"
)

// EntrySize is the fixed per-entry memory cost used for capacity
// accounting, per spec.md §3 ("RESULT_ENTRY_SIZE ≈ 64 bytes").
const EntrySize = 64

// lruEvictionBatch bounds how many entries the LRU phase evicts per pass.
const lruEvictionBatch = 100

type entry struct {
	result bool
	// lastAccess is a UnixNano timestamp. It is updated under the map's
	// RLock on every Get, so it is atomic to avoid racing with the
	// eviction pass's own reads of the same field.
	lastAccess atomic.Int64
}

func (e *entry) touch(now time.Time) {
	e.lastAccess.Store(now.UnixNano())
}

func (e *entry) accessedAt() time.Time {
	return time.Unix(0, e.lastAccess.Load())
}

// Config is the subset of config.Config the Result Cache needs.
type Config struct {
	Enabled              bool
	TargetCapacityBytes  uint64
	StringThresholdBytes uint64
	TTL                  time.Duration
}

// Cache is the Result Cache. The zero value is not usable; construct with
// New.
type Cache struct {
	cfg     Config
	metrics *metrics.ResultCache

	mu      sync.RWMutex
	entries map[uint64]*entry
}

// New builds an empty Result Cache bound to the given metrics sink.
func New(cfg Config, m *metrics.ResultCache) *Cache {
	return &Cache{
		cfg:     cfg,
		metrics: m,
		entries: make(map[uint64]*entry),
	}
}

// Get consults the cache for (patternFP, input). It returns (result, true)
// on a hit, updating last-access; (false, false) on a miss or a disabled
// cache. Get has no internal error path, so it never increments get_errors.
func (c *Cache) Get(patternFP uint64, input string) (bool, bool) {
	if !c.cfg.Enabled {
		return false, false
	}

	key := fingerprint.ResultKey(patternFP, input)

	c.mu.RLock()
	e, ok := c.entries[key]
	if ok {
		e.touch(time.Now())
	}
	c.mu.RUnlock()

	if !ok {
		c.metrics.Misses.Add(1)
		return false, false
	}

	c.metrics.Hits.Add(1)
	return e.result, true
}

// Put inserts or updates (patternFP, input) -> result. It is a no-op when
// the cache is disabled or len(input) exceeds the configured string
// threshold, per spec.md §4.1/§4.3.
func (c *Cache) Put(patternFP uint64, input string, result bool) {
	if !c.cfg.Enabled {
		return
	}
	if uint64(len(input)) > c.cfg.StringThresholdBytes {
		return
	}

	key := fingerprint.ResultKey(patternFP, input)
	now := time.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.entries[key]; ok {
		e.result = result
		e.touch(now)
		return
	}

	e := &entry{result: result}
	e.touch(now)
	c.entries[key] = e
}

// Evict runs one TTL+LRU pass per spec.md §4.6 and returns the number of
// entries removed.
func (c *Cache) Evict(now time.Time) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0

	// TTL phase: strictly-greater-than comparison, per spec.md §8
	// ("evaluated at now - last_access == ttl is NOT evicted").
	for key, e := range c.entries {
		if now.Sub(e.accessedAt()) > c.cfg.TTL {
			delete(c.entries, key)
			removed++
			c.metrics.TTLEvictions.Add(1)
			c.metrics.TotalEvictions.Add(1)
			c.metrics.TotalBytesFreed.Add(EntrySize)
		}
	}

	// LRU phase: only if over capacity.
	actualBytes := uint64(len(c.entries)) * EntrySize
	if actualBytes > c.cfg.TargetCapacityBytes {
		removed += c.evictLRULocked()
	}

	c.metrics.Snapshot(c.cfg.TargetCapacityBytes, uint64(len(c.entries))*EntrySize, uint64(len(c.entries)))

	return removed
}

// evictLRULocked must be called with c.mu held for writing. It sorts every
// entry by last-access (a full sort, not a partial top-K selection) and
// evicts up to lruEvictionBatch of the oldest, stopping as soon as the byte
// budget is met.
func (c *Cache) evictLRULocked() int {
	type candidate struct {
		key        uint64
		lastAccess time.Time
	}

	candidates := make([]candidate, 0, len(c.entries))
	for key, e := range c.entries {
		candidates = append(candidates, candidate{key: key, lastAccess: e.accessedAt()})
	}

	slices.SortFunc(candidates, func(a, b candidate) int {
		return a.lastAccess.Compare(b.lastAccess)
	})

	batch := lruEvictionBatch
	if batch > len(candidates) {
		batch = len(candidates)
	}

	removed := 0
	for i := 0; i < batch; i++ {
		delete(c.entries, candidates[i].key)
		removed++

		c.metrics.LRUEvictions.Add(1)
		c.metrics.LRUBytesFreed.Add(EntrySize)
		c.metrics.TotalEvictions.Add(1)
		c.metrics.TotalBytesFreed.Add(EntrySize)

		if uint64(len(c.entries))*EntrySize <= c.cfg.TargetCapacityBytes {
			break
		}
	}

	return removed
}

// Clear drops all entries and resets the byte counter.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[uint64]*entry)
	c.metrics.Snapshot(c.cfg.TargetCapacityBytes, 0, 0)
}

// Len reports the current entry count, mainly for tests.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
