// Package metrics holds the atomic counters and capacity snapshots for the
// three caches, and renders them both as the JSON structure spec.md §6
// mandates and as a Prometheus registry for pull-based scraping.
package metrics

import (
	"sync"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
)

// ResultCache holds the Result Cache's counters and the capacity snapshot
// fields from spec.md §3 ("Metrics"). Counters are individually atomic;
// the snapshot fields are only ever written under the Result Cache's own
// lock, per spec.md §5.
type ResultCache struct {
	Hits      atomic.Uint64
	Misses    atomic.Uint64
	GetErrors atomic.Uint64
	PutErrors atomic.Uint64

	TTLEvictions     atomic.Uint64
	LRUEvictions     atomic.Uint64
	LRUBytesFreed    atomic.Uint64
	TotalEvictions   atomic.Uint64
	TotalBytesFreed  atomic.Uint64

	mu               sync.Mutex
	targetBytes      uint64
	actualBytes      uint64
	entryCount       uint64
}

// Snapshot populates the capacity fields under the caller's lock. Callers
// (resultcache.Cache) hold their own map lock while calling this so the
// values are consistent with the map they were computed from.
func (m *ResultCache) Snapshot(targetBytes, actualBytes, entryCount uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.targetBytes = targetBytes
	m.actualBytes = actualBytes
	m.entryCount = entryCount
}

func (m *ResultCache) capacity() (target, actual, count uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.targetBytes, m.actualBytes, m.entryCount
}

// hitRate returns 100*hits/(hits+misses), zero when both are zero, per
// spec.md §6.
func hitRate(hits, misses uint64) float64 {
	total := hits + misses
	if total == 0 {
		return 0
	}
	return 100 * float64(hits) / float64(total)
}

// PatternCache holds the Pattern Cache's counters and capacity snapshot,
// adding compilation_errors and the two deferred-transfer counters spec.md
// §6 lists as Pattern-Cache-specific.
type PatternCache struct {
	Hits              atomic.Uint64
	Misses            atomic.Uint64
	CompilationErrors atomic.Uint64

	TTLEvictions          atomic.Uint64
	LRUEvictions          atomic.Uint64
	LRUBytesFreed         atomic.Uint64
	TTLMovedToDeferred    atomic.Uint64
	LRUMovedToDeferred    atomic.Uint64
	TotalEvictions        atomic.Uint64
	TotalBytesFreed       atomic.Uint64

	mu          sync.Mutex
	targetBytes uint64
	actualBytes uint64
	entryCount  uint64
}

func (m *PatternCache) Snapshot(targetBytes, actualBytes, entryCount uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.targetBytes = targetBytes
	m.actualBytes = actualBytes
	m.entryCount = entryCount
}

func (m *PatternCache) capacity() (target, actual, count uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.targetBytes, m.actualBytes, m.entryCount
}

// DeferredCache holds the Deferred Cache's counters, split into immediate
// (refcount reached zero naturally) and forced (leak recovery) evictions,
// per spec.md §4.5/§6. The Deferred Cache has no TTL/LRU capacity target,
// only an entry count and byte total.
type DeferredCache struct {
	ImmediateEvictions      atomic.Uint64
	ImmediateBytesFreed     atomic.Uint64
	ForcedEvictions         atomic.Uint64
	ForcedBytesFreed        atomic.Uint64
	TotalEvictions          atomic.Uint64
	TotalBytesFreed         atomic.Uint64

	mu          sync.Mutex
	actualBytes uint64
	entryCount  uint64
}

func (m *DeferredCache) Snapshot(actualBytes, entryCount uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.actualBytes = actualBytes
	m.entryCount = entryCount
}

func (m *DeferredCache) capacity() (actual, count uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.actualBytes, m.entryCount
}

// All bundles the three caches' counters plus the Prometheus registry they
// are mirrored into.
type All struct {
	ResultCache   ResultCache
	PatternCache  PatternCache
	DeferredCache DeferredCache

	registry *prometheus.Registry
}

// New builds a fresh counters bundle with its own Prometheus registry, the
// way observability.PrometheusHandler builds an independent registry per
// call to avoid collector-already-registered conflicts across Manager
// instances.
func New() *All {
	a := &All{registry: prometheus.NewRegistry()}
	a.registerPrometheus()
	return a
}

// Registry returns the Prometheus registry metrics are mirrored into, for
// wiring into a promhttp.Handler by the caller-facing facade.
func (a *All) Registry() *prometheus.Registry {
	return a.registry
}

func (a *All) registerPrometheus() {
	counterFunc := func(name, help string, read func() float64) {
		a.registry.MustRegister(prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: "recache",
			Name:      name,
			Help:      help,
		}, read))
	}
	gaugeFunc := func(name, help string, read func() float64) {
		a.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "recache",
			Name:      name,
			Help:      help,
		}, read))
	}

	counterFunc("result_cache_hits_total", "Result cache hits.", func() float64 { return float64(a.ResultCache.Hits.Load()) })
	counterFunc("result_cache_misses_total", "Result cache misses.", func() float64 { return float64(a.ResultCache.Misses.Load()) })
	counterFunc("pattern_cache_hits_total", "Pattern cache hits.", func() float64 { return float64(a.PatternCache.Hits.Load()) })
	counterFunc("pattern_cache_misses_total", "Pattern cache misses.", func() float64 { return float64(a.PatternCache.Misses.Load()) })
	counterFunc("pattern_cache_compilation_errors_total", "Pattern compilation failures.", func() float64 { return float64(a.PatternCache.CompilationErrors.Load()) })
	counterFunc("deferred_cache_forced_evictions_total", "Deferred cache forced (leak) evictions.", func() float64 { return float64(a.DeferredCache.ForcedEvictions.Load()) })

	gaugeFunc("pattern_cache_entries", "Current pattern cache entry count.", func() float64 {
		_, _, count := a.PatternCache.capacity()
		return float64(count)
	})
	gaugeFunc("result_cache_entries", "Current result cache entry count.", func() float64 {
		_, _, count := a.ResultCache.capacity()
		return float64(count)
	})
	gaugeFunc("deferred_cache_entries", "Current deferred cache entry count.", func() float64 {
		_, count := a.DeferredCache.capacity()
		return float64(count)
	})
}
