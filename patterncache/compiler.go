package patterncache

import "github.com/chaisql/recache/fingerprint"

// Compiler is the boundary to the opaque regex engine spec.md §1 excludes
// from this module's scope. Compile must be reentrant and must not touch
// any cache lock; it runs with no cache lock held, per spec.md §4.4/§5.
type Compiler interface {
	Compile(pattern string, opts *fingerprint.Options) (Compiled, error)
}

// Compiled is the minimal surface the Pattern Cache needs from a compiled
// regex: its approximate program size, for capacity accounting (spec.md
// §3), and the ability to evaluate a match for the facade's memoised-match
// helper (SPEC_FULL.md §4.10).
type Compiled interface {
	ProgramSize() int
	Match(input string) bool
}
