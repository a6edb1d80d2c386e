// Package coregex adapts the coregex engine (github.com/coregx/coregex) to
// the patterncache.Compiler/Compiled interfaces, demonstrating that the
// adapter boundary is real and not just a stdlib passthrough.
package coregex

import (
	"github.com/coregx/coregex"
	"github.com/coregx/coregex/meta"

	"github.com/chaisql/recache/fingerprint"
	"github.com/chaisql/recache/patterncache"
)

// bytesPerDFAState is a rough per-state memory estimate used to turn
// coregex's configured state cap into a ProgramSize figure for capacity
// accounting, since coregex does not expose a byte-size introspection API.
const bytesPerDFAState = 64

// Compiler compiles patterns with the coregex engine. The zero value uses
// coregex's default configuration for every compile.
type Compiler struct{}

var _ patterncache.Compiler = Compiler{}

// Compile wires opts.MaxMem into meta.Config.MaxDFAStates (coregex has no
// direct byte budget knob; the DFA state cap is the closest analogue).
// Other fingerprint.Options fields (case_sensitive, posix_syntax, ...) are
// accepted for fingerprinting purposes but coregex v1.0, per its own
// documentation, does not support multiline/case-insensitive flags or
// POSIX syntax, so they are no-ops here, same documented-limitation
// posture as the stdlib adapter.
func (Compiler) Compile(pattern string, opts *fingerprint.Options) (patterncache.Compiled, error) {
	cfg := meta.DefaultConfig()
	if opts.MaxMem > 0 {
		states := opts.MaxMem / bytesPerDFAState
		if states < 1 {
			states = 1
		}
		if states > 1_000_000 {
			states = 1_000_000
		}
		cfg.MaxDFAStates = uint32(states)
	}

	re, err := coregex.CompileWithConfig(pattern, cfg)
	if err != nil {
		return nil, err
	}

	return &compiled{re: re, maxDFAStates: cfg.MaxDFAStates}, nil
}

type compiled struct {
	re           *coregex.Regex
	maxDFAStates uint32
}

func (c *compiled) ProgramSize() int {
	return int(c.maxDFAStates) * bytesPerDFAState
}

func (c *compiled) Match(input string) bool {
	return c.re.MatchString(input)
}
