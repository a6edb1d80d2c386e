package patterncache

import (
	"sync/atomic"
	"time"

	"github.com/chaisql/recache/fingerprint"
)

// Pattern is a shared, reference-counted handle on a compiled regex. A
// caller that obtained one from Cache.GetOrCompile holds a live reference
// until it calls Cache.Release; the cache never frees the underlying
// Compiled value while any reference is outstanding (spec.md §4.4).
type Pattern struct {
	text    string
	options *fingerprint.Options
	engine  Compiled
	size    int64

	refcount   atomic.Int64
	lastAccess atomic.Int64 // UnixNano
}

// Text returns the original pattern text this entry was compiled from.
func (p *Pattern) Text() string {
	return p.text
}

// Options returns the option set the pattern was compiled with.
func (p *Pattern) Options() *fingerprint.Options {
	return p.options
}

// Engine returns the underlying compiled regex, for matching.
func (p *Pattern) Engine() Compiled {
	return p.engine
}

// Match evaluates the compiled pattern against input, for the facade's
// memoised-match helper (SPEC_FULL.md §4.10).
func (p *Pattern) Match(input string) bool {
	return p.engine.Match(input)
}

// Refcount returns the current live reference count. Callers outside this
// package only ever see it go to zero from the Deferred Cache's eviction
// pass (Holder interface), never mutate it directly.
func (p *Pattern) Refcount() int64 {
	return p.refcount.Load()
}

// Size reports the approximate in-memory cost used for capacity accounting.
func (p *Pattern) Size() int64 {
	return p.size
}

func (p *Pattern) touch(now time.Time) {
	p.lastAccess.Store(now.UnixNano())
}

func (p *Pattern) accessedAt() time.Time {
	return time.Unix(0, p.lastAccess.Load())
}
