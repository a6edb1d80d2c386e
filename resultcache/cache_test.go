package resultcache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/chaisql/recache/fingerprint"
	"github.com/chaisql/recache/metrics"
)

func newTestCache(cfg Config) (*Cache, *metrics.ResultCache) {
	m := &metrics.ResultCache{}
	return New(cfg, m), m
}

func defaultConfig() Config {
	return Config{
		Enabled:              true,
		TargetCapacityBytes:  1 << 20,
		StringThresholdBytes: 4096,
		TTL:                  time.Hour,
	}
}

func TestPutGetRoundTrip(t *testing.T) {
	a := require.New(t)
	c, _ := newTestCache(defaultConfig())

	fp := fingerprint.PatternFingerprint("foo", &fingerprint.Options{})

	c.Put(fp, "x", true)
	v, ok := c.Get(fp, "x")
	a.True(ok)
	a.True(v)
}

func TestPutOverwrite(t *testing.T) {
	a := require.New(t)
	c, _ := newTestCache(defaultConfig())

	fp := fingerprint.PatternFingerprint("foo", &fingerprint.Options{})

	c.Put(fp, "x", true)
	c.Put(fp, "x", false)

	v, ok := c.Get(fp, "x")
	a.True(ok)
	a.False(v)
	a.Equal(1, c.Len())
}

func TestGetMiss(t *testing.T) {
	a := require.New(t)
	c, _ := newTestCache(defaultConfig())

	fp := fingerprint.PatternFingerprint("foo", &fingerprint.Options{})
	_, ok := c.Get(fp, "nope")
	a.False(ok)
}

func TestDisabledCacheAlwaysMisses(t *testing.T) {
	a := require.New(t)
	cfg := defaultConfig()
	cfg.Enabled = false
	c, _ := newTestCache(cfg)

	fp := fingerprint.PatternFingerprint("foo", &fingerprint.Options{})
	c.Put(fp, "x", true)
	_, ok := c.Get(fp, "x")
	a.False(ok)
	a.Zero(c.Len())
}

func TestPutAboveThresholdIsNoop(t *testing.T) {
	a := require.New(t)
	cfg := defaultConfig()
	cfg.StringThresholdBytes = 2
	c, _ := newTestCache(cfg)

	fp := fingerprint.PatternFingerprint("foo", &fingerprint.Options{})
	c.Put(fp, "too long", true)
	a.Zero(c.Len())
}

func TestTTLEvictionBoundary(t *testing.T) {
	a := require.New(t)
	cfg := defaultConfig()
	cfg.TTL = 100 * time.Millisecond
	c, _ := newTestCache(cfg)

	fp := fingerprint.PatternFingerprint("foo", &fingerprint.Options{})
	c.Put(fp, "x", true)

	// Pin the entry's last access to a known instant so the boundary
	// below is exact.
	now := time.Now()
	for _, e := range c.entries {
		e.touch(now)
	}

	// Exactly at the boundary: must NOT be evicted (strict > required).
	removed := c.Evict(now.Add(100 * time.Millisecond))
	a.Zero(removed)
	a.Equal(1, c.Len())

	removed = c.Evict(now.Add(101 * time.Millisecond))
	a.Equal(1, removed)
	a.Zero(c.Len())
}

func TestLRUEvictionOverCapacity(t *testing.T) {
	a := require.New(t)
	cfg := defaultConfig()
	cfg.TTL = time.Hour
	cfg.TargetCapacityBytes = EntrySize * 5 // room for 5 entries

	c, _ := newTestCache(cfg)

	for i := 0; i < 50; i++ {
		fp := fingerprint.PatternFingerprint("pattern", &fingerprint.Options{MaxMem: int64(i)})
		c.Put(fp, "x", true)
		time.Sleep(time.Microsecond) // ensure distinct last-access ordering
	}

	removed := c.Evict(time.Now())
	a.Positive(removed)
	a.LessOrEqual(uint64(c.Len())*EntrySize, cfg.TargetCapacityBytes)
}

func TestClearResetsCounters(t *testing.T) {
	a := require.New(t)
	c, _ := newTestCache(defaultConfig())

	fp := fingerprint.PatternFingerprint("foo", &fingerprint.Options{})
	c.Put(fp, "x", true)
	c.Clear()
	a.Zero(c.Len())
}
