package deferredcache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/chaisql/recache/metrics"
)

type fakeHolder struct {
	refcount int64
	size     int64
	text     string
}

func (f *fakeHolder) Refcount() int64 { return f.refcount }
func (f *fakeHolder) Size() int64     { return f.size }
func (f *fakeHolder) Text() string    { return f.text }

func newTestCache(ttl time.Duration) (*Cache, *metrics.DeferredCache) {
	m := &metrics.DeferredCache{}
	return New(Config{TTL: ttl}, m), m
}

func TestImmediateEvictionOnZeroRefcount(t *testing.T) {
	a := require.New(t)
	c, _ := newTestCache(time.Hour)

	h := &fakeHolder{refcount: 0, size: 128, text: "abc"}
	c.Add(1, h, time.Now())

	immediate, forced := c.Evict(time.Now())
	a.Equal(1, immediate)
	a.Zero(forced)
	a.Zero(c.Len())
}

func TestStillReferencedSurvivesBeforeTTL(t *testing.T) {
	a := require.New(t)
	c, _ := newTestCache(time.Hour)

	h := &fakeHolder{refcount: 1, size: 128, text: "abc"}
	now := time.Now()
	c.Add(1, h, now)

	immediate, forced := c.Evict(now.Add(time.Minute))
	a.Zero(immediate)
	a.Zero(forced)
	a.Equal(1, c.Len())
}

func TestForcedEvictionOnLeakTimeout(t *testing.T) {
	a := require.New(t)
	c, _ := newTestCache(100 * time.Millisecond)

	h := &fakeHolder{refcount: 3, size: 256, text: "leaked"}
	now := time.Now()
	c.Add(1, h, now)

	var warned string
	var warnedRefcount int64
	immediate, forced := c.Evict(now.Add(101*time.Millisecond), func(pattern string, refcount int64, age time.Duration) {
		warned = pattern
		warnedRefcount = refcount
	})
	a.Zero(immediate)
	a.Equal(1, forced)
	a.Equal("leaked", warned)
	a.EqualValues(3, warnedRefcount)
	a.Zero(c.Len())
}

func TestAddIsNoOpForExistingFingerprint(t *testing.T) {
	a := require.New(t)
	c, _ := newTestCache(100 * time.Millisecond)

	first := &fakeHolder{refcount: 1, size: 128, text: "first"}
	now := time.Now()
	c.Add(1, first, now)

	// A second Add for the same fingerprint, arriving later with a
	// different holder, must not restart the leak-detection clock: the
	// entry's addedAt should stay pinned to the first Add.
	second := &fakeHolder{refcount: 1, size: 128, text: "second"}
	c.Add(1, second, now.Add(50*time.Millisecond))

	a.Equal(1, c.Len())

	immediate, forced := c.Evict(now.Add(101*time.Millisecond), func(pattern string, refcount int64, age time.Duration) {})
	a.Zero(immediate)
	a.Equal(1, forced)
}

func TestClearDropsEverythingRegardlessOfRefcount(t *testing.T) {
	a := require.New(t)
	c, _ := newTestCache(time.Hour)

	c.Add(1, &fakeHolder{refcount: 5, size: 64}, time.Now())
	c.Clear()
	a.Zero(c.Len())
}
