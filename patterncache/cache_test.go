package patterncache

import (
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/chaisql/recache/deferredcache"
	"github.com/chaisql/recache/fingerprint"
	"github.com/chaisql/recache/metrics"
)

type fakeCompiled struct {
	pattern string
	size    int
}

func (f *fakeCompiled) ProgramSize() int { return f.size }
func (f *fakeCompiled) Match(input string) bool {
	return strings.Contains(input, f.pattern)
}

type fakeCompiler struct {
	calls atomic.Int64
	size  int
	err   error
}

func (f *fakeCompiler) Compile(pattern string, opts *fingerprint.Options) (Compiled, error) {
	f.calls.Add(1)
	if f.err != nil {
		return nil, f.err
	}
	size := f.size
	if size == 0 {
		size = 128
	}
	return &fakeCompiled{pattern: pattern, size: size}, nil
}

func newTestCache(cfg Config, compiler *fakeCompiler) (*Cache, *metrics.PatternCache) {
	m := &metrics.PatternCache{}
	return New(cfg, compiler, m), m
}

func defaultConfig() Config {
	return Config{TargetCapacityBytes: 1 << 20, TTL: time.Hour, LRUBatchSize: 100}
}

func TestGetOrCompileThenReuse(t *testing.T) {
	a := require.New(t)
	compiler := &fakeCompiler{}
	c, m := newTestCache(defaultConfig(), compiler)

	p1, err := c.GetOrCompile("foo.*", &fingerprint.Options{})
	a.NoError(err)
	a.EqualValues(1, p1.Refcount())

	p2, err := c.GetOrCompile("foo.*", &fingerprint.Options{})
	a.NoError(err)
	a.Same(p1, p2)
	a.EqualValues(2, p1.Refcount())

	a.EqualValues(1, compiler.calls.Load())
	a.EqualValues(1, m.Hits.Load())
	a.EqualValues(1, m.Misses.Load())
}

func TestOptionsPartitionFingerprints(t *testing.T) {
	a := require.New(t)
	compiler := &fakeCompiler{}
	c, _ := newTestCache(defaultConfig(), compiler)

	p1, err := c.GetOrCompile("foo.*", &fingerprint.Options{CaseSensitive: true})
	a.NoError(err)
	p2, err := c.GetOrCompile("foo.*", &fingerprint.Options{CaseSensitive: false})
	a.NoError(err)

	a.NotSame(p1, p2)
	a.EqualValues(2, compiler.calls.Load())
}

func TestReleaseDecrementsRefcount(t *testing.T) {
	a := require.New(t)
	compiler := &fakeCompiler{}
	c, _ := newTestCache(defaultConfig(), compiler)

	p, err := c.GetOrCompile("foo.*", &fingerprint.Options{})
	a.NoError(err)
	c.Release(p)
	a.Zero(p.Refcount())
}

func TestCompileErrorIsReturnedNotCached(t *testing.T) {
	a := require.New(t)
	compiler := &fakeCompiler{err: errSentinel}
	c, m := newTestCache(defaultConfig(), compiler)

	_, err := c.GetOrCompile("bad(", &fingerprint.Options{})
	a.Error(err)
	a.Zero(c.Len())
	a.EqualValues(1, m.CompilationErrors.Load())
}

type sentinelErr struct{}

func (sentinelErr) Error() string { return "boom" }

var errSentinel error = sentinelErr{}

func TestTTLExpiredUnreferencedIsDropped(t *testing.T) {
	a := require.New(t)
	compiler := &fakeCompiler{}
	cfg := defaultConfig()
	cfg.TTL = 100 * time.Millisecond
	c, m := newTestCache(cfg, compiler)
	dc := deferredcache.New(deferredcache.Config{TTL: time.Hour}, &metrics.DeferredCache{})

	p, err := c.GetOrCompile("foo", &fingerprint.Options{})
	a.NoError(err)
	c.Release(p)

	removed := c.Evict(time.Now().Add(101*time.Millisecond), dc)
	a.Equal(1, removed)
	a.Zero(c.Len())
	a.Zero(dc.Len())
	a.EqualValues(1, m.TTLEvictions.Load())
}

func TestTTLExpiredStillReferencedMovesToDeferred(t *testing.T) {
	a := require.New(t)
	compiler := &fakeCompiler{}
	cfg := defaultConfig()
	cfg.TTL = 100 * time.Millisecond
	c, m := newTestCache(cfg, compiler)
	dc := deferredcache.New(deferredcache.Config{TTL: time.Hour}, &metrics.DeferredCache{})

	p, err := c.GetOrCompile("foo", &fingerprint.Options{})
	a.NoError(err)
	// Caller keeps its reference (no Release).

	removed := c.Evict(time.Now().Add(101*time.Millisecond), dc)
	a.Equal(1, removed)
	a.Zero(c.Len())
	a.Equal(1, dc.Len())
	a.EqualValues(1, m.TTLMovedToDeferred.Load())
	a.EqualValues(1, p.Refcount())
}

func TestLRUOnlyEvictsUnreferencedEntries(t *testing.T) {
	a := require.New(t)
	compiler := &fakeCompiler{size: 64}
	// Capacity for exactly one 64-byte entry: inserting a second forces
	// the LRU phase to act.
	cfg := Config{TargetCapacityBytes: 64, TTL: time.Hour, LRUBatchSize: 100}
	c, _ := newTestCache(cfg, compiler)
	dc := deferredcache.New(deferredcache.Config{TTL: time.Hour}, &metrics.DeferredCache{})

	held, err := c.GetOrCompile("held", &fingerprint.Options{})
	a.NoError(err) // held keeps its one reference: refcount 1, ineligible for LRU

	free, err := c.GetOrCompile("free", &fingerprint.Options{})
	a.NoError(err)
	c.Release(free) // refcount 0: eligible for LRU

	c.Evict(time.Now(), dc)

	a.EqualValues(1, held.Refcount())
	a.Equal(1, c.Len())
}

func TestConcurrentGetOrCompileRace(t *testing.T) {
	a := require.New(t)
	compiler := &fakeCompiler{}
	c, m := newTestCache(defaultConfig(), compiler)

	const n = 20
	var wg sync.WaitGroup
	results := make([]*Pattern, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			p, err := c.GetOrCompile("racer", &fingerprint.Options{})
			a.NoError(err)
			results[i] = p
		}(i)
	}
	wg.Wait()

	first := results[0]
	for _, p := range results {
		a.Same(first, p)
	}
	a.EqualValues(n, first.Refcount())
	a.Equal(int64(n), m.Hits.Load()+m.Misses.Load())
}
