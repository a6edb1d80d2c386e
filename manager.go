// Package recache composes the Result Cache, Pattern Cache, Deferred
// Cache, and the background eviction loop behind a single facade, per
// spec.md §4.8.
package recache

import (
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/chaisql/recache/config"
	"github.com/chaisql/recache/deferredcache"
	"github.com/chaisql/recache/engine/stdlib"
	"github.com/chaisql/recache/eviction"
	"github.com/chaisql/recache/fingerprint"
	"github.com/chaisql/recache/metrics"
	"github.com/chaisql/recache/patterncache"
	"github.com/chaisql/recache/resultcache"
)

// ErrAlreadyInitialized is returned by Init when the global Manager is
// already constructed, per spec.md §7.
var ErrAlreadyInitialized = errors.New("recache: already initialized")

// ErrNotInitialized is returned by package-level operations when called
// before Init or after Shutdown.
var ErrNotInitialized = errors.New("recache: not initialized")

// CompileOptions is an alias for fingerprint.Options: the same struct
// both fingerprints a pattern's compile request and configures the regex
// engine adapter, so the module carries a single options type rather than
// two structurally identical ones.
type CompileOptions = fingerprint.Options

// WarnFunc receives a structured warning whenever the Deferred Cache is
// forced to evict a still-referenced pattern (a leak), per spec.md §6
// ("Diagnostics"). age is how long the pattern had been in the Deferred
// Cache when it was forced out.
type WarnFunc func(pattern string, refcount int64, age time.Duration)

// Manager owns the Configuration, Metrics, the three caches, and the
// eviction loop. Construct with New; most callers use the package-level
// Init/Shutdown/Get helpers instead, which guard a single global instance.
type Manager struct {
	cfg     *config.Config
	metrics *metrics.All
	warn    WarnFunc

	Result   *resultcache.Cache
	Pattern  *patterncache.Cache
	Deferred *deferredcache.Cache

	loop *eviction.Loop

	mu sync.Mutex
}

// New constructs a Manager from a parsed Configuration. If compiler is
// nil, engine/stdlib.Compiler{} is used, per SPEC_FULL.md §4.9. The
// eviction loop is started immediately if cfg.AutoStartEvictionThread.
func New(cfg *config.Config, compiler patterncache.Compiler, warn WarnFunc) *Manager {
	if compiler == nil {
		compiler = stdlib.Compiler{}
	}

	m := metrics.New()

	mgr := &Manager{
		cfg:     cfg,
		metrics: m,
		warn:    warn,
		Result: resultcache.New(resultcache.Config{
			Enabled:              cfg.PatternResultCacheEnabled,
			TargetCapacityBytes:  cfg.PatternResultCacheTargetCapacityBytes,
			StringThresholdBytes: cfg.PatternResultCacheStringThresholdBytes,
			TTL:                  time.Duration(cfg.PatternResultCacheTTLMs) * time.Millisecond,
		}, &m.ResultCache),
		Pattern: patterncache.New(patterncache.Config{
			TargetCapacityBytes: cfg.PatternCacheTargetCapacityBytes,
			TTL:                 time.Duration(cfg.PatternCacheTTLMs) * time.Millisecond,
			LRUBatchSize:        cfg.PatternCacheLRUBatchSize,
		}, compiler, &m.PatternCache),
		Deferred: deferredcache.New(deferredcache.Config{
			TTL: time.Duration(cfg.DeferredCacheTTLMs) * time.Millisecond,
		}, &m.DeferredCache),
	}

	mgr.loop = eviction.New(eviction.Caches{
		Result:   mgr.Result,
		Pattern:  mgr.Pattern,
		Deferred: mgr.Deferred,
	}, time.Duration(cfg.EvictionCheckIntervalMs)*time.Millisecond, mgr.onLeak)

	if cfg.AutoStartEvictionThread {
		mgr.loop.Start()
	}

	return mgr
}

func (m *Manager) onLeak(pattern string, refcount int64, age time.Duration) {
	if m.warn == nil {
		return
	}
	m.warn(pattern, refcount, age)
}

// GetOrCompile returns a live reference to the compiled pattern for
// (pattern, opts). The caller must call Release exactly once when done.
func (m *Manager) GetOrCompile(pattern string, opts *CompileOptions) (*patterncache.Pattern, error) {
	return m.Pattern.GetOrCompile(pattern, opts)
}

// Release drops the caller's reference to p.
func (m *Manager) Release(p *patterncache.Pattern) {
	m.Pattern.Release(p)
}

// MatchCached folds Result Cache memoisation around a Pattern Cache
// lookup, per SPEC_FULL.md §4.10: on a Result Cache hit, no compilation
// or matching happens at all; on a miss, it compiles (or reuses) the
// pattern, matches, releases its reference, and records the outcome.
func (m *Manager) MatchCached(pattern, input string, opts *CompileOptions) (bool, error) {
	patternFP := fingerprint.PatternFingerprint(pattern, opts)

	if result, ok := m.Result.Get(patternFP, input); ok {
		return result, nil
	}

	p, err := m.Pattern.GetOrCompile(pattern, opts)
	if err != nil {
		return false, err
	}
	defer m.Pattern.Release(p)

	result := p.Match(input)
	m.Result.Put(patternFP, input, result)
	return result, nil
}

// MetricsJSON renders a fresh snapshot of all three caches as the JSON
// document from spec.md §6. Safe to call concurrently with eviction.
func (m *Manager) MetricsJSON() ([]byte, error) {
	snap := m.metrics.Render(metrics.Now())
	return snap.JSON()
}

// MetricsRegistry returns the Prometheus registry the Manager's counters
// are mirrored into, for a caller to serve with promhttp.HandlerFor (see
// cmd/recachectl's "serve" command) alongside, or instead of, MetricsJSON.
func (m *Manager) MetricsRegistry() *prometheus.Registry {
	return m.metrics.Registry()
}

// ClearAll stops the eviction loop if running, clears all three caches
// (transferring still-referenced Pattern Cache entries to the Deferred
// Cache rather than destroying them), then restarts the loop iff it had
// been running beforehand. Per spec.md §9's resolution of the
// was_running vs. auto_start_eviction_thread ambiguity: this uses the
// loop's actual prior running state, not the static config flag, so a
// caller who stopped the loop manually does not have it silently
// restarted underneath them.
func (m *Manager) ClearAll() {
	m.mu.Lock()
	defer m.mu.Unlock()

	wasRunning := m.loop.IsRunning()
	m.loop.Stop()

	m.Pattern.Clear(m.Deferred)
	m.Result.Clear()
	m.Deferred.Clear()

	if wasRunning {
		m.loop.Start()
	}
}

// StartEviction starts the background eviction worker if it is not
// already running.
func (m *Manager) StartEviction() {
	m.loop.Start()
}

// StopEviction stops the background eviction worker, blocking until it
// has returned.
func (m *Manager) StopEviction() {
	m.loop.Stop()
}

// EvictionRunning reports whether the background worker is active.
func (m *Manager) EvictionRunning() bool {
	return m.loop.IsRunning()
}

// Shutdown stops the eviction loop and drains all three caches, per
// spec.md §4.8 ("On destruction"). Still-referenced Pattern Cache entries
// are transferred to the Deferred Cache, then the Deferred Cache itself
// is cleared unconditionally -- per spec.md §7, cache shutdown during
// in-flight operations is undefined behaviour, so callers must drain
// first.
func (m *Manager) Shutdown() {
	m.loop.Stop()
	m.Pattern.Clear(m.Deferred)
	m.Result.Clear()
	m.Deferred.Clear()
}

var (
	globalMu  sync.Mutex
	globalMgr *Manager
)

// Init constructs the global Manager from cfg. Calling Init while already
// initialized returns ErrAlreadyInitialized; re-initialising after
// Shutdown is permitted, per spec.md §6.
func Init(cfg *config.Config, compiler patterncache.Compiler, warn WarnFunc) error {
	globalMu.Lock()
	defer globalMu.Unlock()

	if globalMgr != nil {
		return ErrAlreadyInitialized
	}
	globalMgr = New(cfg, compiler, warn)
	return nil
}

// Get returns the global Manager, or ErrNotInitialized if Init has not
// been called (or Shutdown has been called since).
func Get() (*Manager, error) {
	globalMu.Lock()
	defer globalMu.Unlock()

	if globalMgr == nil {
		return nil, ErrNotInitialized
	}
	return globalMgr, nil
}

// Shutdown tears down the global Manager and clears it, permitting a
// later re-Init.
func Shutdown() error {
	globalMu.Lock()
	defer globalMu.Unlock()

	if globalMgr == nil {
		return ErrNotInitialized
	}
	globalMgr.Shutdown()
	globalMgr = nil
	return nil
}
