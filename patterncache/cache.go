// Package patterncache implements the Pattern Cache from spec.md §4.4: a
// reference-counted fingerprint->compiled-pattern table. Unlike the Result
// Cache, an entry cannot simply be dropped once it is cold; a caller may
// still be holding and using it, so the Pattern Cache coordinates with the
// Deferred Cache (package deferredcache) to hand off entries that are
// TTL-expired but still referenced.
package patterncache

import (
	"strconv"
	"sync"
	"time"

	"golang.org/x/exp/slices"
	"golang.org/x/sync/singleflight"

	"github.com/chaisql/recache/deferredcache"
	"github.com/chaisql/recache/fingerprint"
	"github.com/chaisql/recache/metrics"
)

// Config is the subset of config.Config the Pattern Cache needs.
type Config struct {
	TargetCapacityBytes uint64
	TTL                 time.Duration
	LRUBatchSize        uint64
}

// Cache is the Pattern Cache. The zero value is not usable; construct
// with New.
type Cache struct {
	cfg      Config
	compiler Compiler
	metrics  *metrics.PatternCache

	sf singleflight.Group

	mu      sync.RWMutex
	entries map[uint64]*Pattern
	bytes   uint64
}

// New builds an empty Pattern Cache bound to the given compiler and
// metrics sink.
func New(cfg Config, compiler Compiler, m *metrics.PatternCache) *Cache {
	return &Cache{
		cfg:      cfg,
		compiler: compiler,
		metrics:  m,
		entries:  make(map[uint64]*Pattern),
	}
}

// GetOrCompile returns a live reference to the compiled pattern for
// (patternText, opts), compiling and caching it on first use. The returned
// Pattern's refcount has already been incremented for this caller; the
// caller must call Release exactly once when done, per spec.md §4.4.
//
// Concurrent calls for the same fingerprint that race with an in-flight
// compile are deduplicated by a singleflight group keyed on the
// fingerprint, so only one physical compile happens; each caller still
// performs its own insert-or-increment under the cache's write lock, which
// is the only step that actually owns the refcount invariant.
func (c *Cache) GetOrCompile(patternText string, opts *fingerprint.Options) (*Pattern, error) {
	fp := fingerprint.PatternFingerprint(patternText, opts)

	if p := c.tryAcquire(fp); p != nil {
		c.metrics.Hits.Add(1)
		return p, nil
	}

	c.metrics.Misses.Add(1)

	compiled, size, err := c.compileDeduped(fp, patternText, opts)
	if err != nil {
		return nil, err
	}

	return c.insertOrAdopt(fp, patternText, opts, compiled, size), nil
}

// tryAcquire looks up fp under a read lock and, on hit, increments the
// refcount while the lock is still held. This is the one rule spec.md §4.4
// and §5 require: the increment must be atomic with the lookup that found
// the entry, so the eviction pass -- which needs the write lock to delete
// anything -- can never free an entry between a caller observing it and
// bumping its refcount.
func (c *Cache) tryAcquire(fp uint64) *Pattern {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.entries[fp]
	if !ok {
		return nil
	}
	p.refcount.Add(1)
	p.touch(time.Now())
	return p
}

func (c *Cache) compileDeduped(fp uint64, patternText string, opts *fingerprint.Options) (Compiled, int64, error) {
	key := strconv.FormatUint(fp, 10)
	v, err, _ := c.sf.Do(key, func() (interface{}, error) {
		return c.compiler.Compile(patternText, opts)
	})
	if err != nil {
		c.metrics.CompilationErrors.Add(1)
		return nil, 0, &CompileFailedError{Pattern: patternText, Cause: err}
	}
	compiled := v.(Compiled)
	return compiled, int64(compiled.ProgramSize()), nil
}

// insertOrAdopt acquires the write lock and either inserts the freshly
// compiled pattern as a brand new entry with refcount 1, or, if another
// caller already won the race and inserted first, discards the redundant
// compile result and adopts the existing entry with refcount+1. This is
// the step spec.md §4.4 describes as "re-check under exclusive access".
func (c *Cache) insertOrAdopt(fp uint64, text string, opts *fingerprint.Options, compiled Compiled, size int64) *Pattern {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()

	if existing, ok := c.entries[fp]; ok {
		existing.refcount.Add(1)
		existing.touch(now)
		return existing
	}

	p := &Pattern{text: text, options: opts, engine: compiled, size: size}
	p.refcount.Store(1)
	p.touch(now)
	c.entries[fp] = p
	c.bytes += uint64(size)
	return p
}

// Release drops one live reference. It never takes the cache lock; the
// refcount is read without synchronization by the eviction pass, which
// already holds the write lock when it acts on it.
func (c *Cache) Release(p *Pattern) {
	p.refcount.Add(-1)
}

// Evict runs one TTL+LRU pass per spec.md §4.4/§4.6 and returns the number
// of entries removed from this cache (both destroyed and transferred to
// the Deferred Cache count as removed here; deferred reports them
// separately once it resolves them).
func (c *Cache) Evict(now time.Time, deferred *deferredcache.Cache) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0

	for fp, p := range c.entries {
		if now.Sub(p.accessedAt()) <= c.cfg.TTL {
			continue
		}

		delete(c.entries, fp)
		c.bytes -= uint64(p.size)
		removed++

		if p.Refcount() == 0 {
			c.metrics.TTLEvictions.Add(1)
			c.metrics.TotalEvictions.Add(1)
			c.metrics.TotalBytesFreed.Add(uint64(p.size))
			continue
		}

		// Still referenced: TTL alone cannot free this entry, so it is
		// handed off to the Deferred Cache, per spec.md §4.5. It is not
		// counted as a byte/eviction total here since the bytes are not
		// freed, only relocated.
		c.metrics.TTLMovedToDeferred.Add(1)
		deferred.Add(fp, p, now)
	}

	if c.bytes > c.cfg.TargetCapacityBytes {
		removed += c.evictLRULocked()
	}

	c.metrics.Snapshot(c.cfg.TargetCapacityBytes, c.bytes, uint64(len(c.entries)))

	return removed
}

// evictLRULocked must be called with c.mu held for writing. Only
// refcount==0 entries are eligible: a still-referenced entry cannot be
// dropped here and is left for the next TTL pass to transfer to the
// Deferred Cache, per spec.md §4.6. All eligible candidates are sorted
// oldest last-access first (a full sort of the eligible set, not a partial
// top-K selection), and at most LRUBatchSize of them are evicted.
func (c *Cache) evictLRULocked() int {
	type candidate struct {
		key        uint64
		lastAccess time.Time
		size       int64
	}

	candidates := make([]candidate, 0, len(c.entries))
	for key, p := range c.entries {
		if p.Refcount() != 0 {
			continue
		}
		candidates = append(candidates, candidate{key: key, lastAccess: p.accessedAt(), size: p.size})
	}

	slices.SortFunc(candidates, func(a, b candidate) int {
		return a.lastAccess.Compare(b.lastAccess)
	})

	batch := int(c.cfg.LRUBatchSize)
	if batch == 0 || batch > len(candidates) {
		batch = len(candidates)
	}

	removed := 0
	for i := 0; i < batch; i++ {
		cand := candidates[i]
		delete(c.entries, cand.key)
		c.bytes -= uint64(cand.size)
		removed++

		c.metrics.LRUEvictions.Add(1)
		c.metrics.LRUBytesFreed.Add(uint64(cand.size))
		c.metrics.TotalEvictions.Add(1)
		c.metrics.TotalBytesFreed.Add(uint64(cand.size))

		if c.bytes <= c.cfg.TargetCapacityBytes {
			break
		}
	}

	return removed
}

// Clear drops every entry. Still-referenced entries are transferred to the
// Deferred Cache rather than destroyed out from under their callers, per
// spec.md §4.8's ClearAll contract.
func (c *Cache) Clear(deferred *deferredcache.Cache) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	for fp, p := range c.entries {
		if p.Refcount() > 0 {
			deferred.Add(fp, p, now)
		}
	}

	c.entries = make(map[uint64]*Pattern)
	c.bytes = 0
	c.metrics.Snapshot(c.cfg.TargetCapacityBytes, 0, 0)
}

// Len reports the current entry count, mainly for tests.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
