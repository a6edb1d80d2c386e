// Package stdlib adapts Go's standard regexp package to the
// patterncache.Compiler/Compiled interfaces.
package stdlib

import (
	"regexp"
	"strings"

	"github.com/cockroachdb/errors"

	"github.com/chaisql/recache/fingerprint"
	"github.com/chaisql/recache/patterncache"
)

// Compiler compiles patterns with Go's standard regexp package. The zero
// value is ready to use.
type Compiler struct{}

var _ patterncache.Compiler = Compiler{}

// Compile translates the subset of fingerprint.Options stdlib regexp can
// honor natively into a Perl-syntax flag prefix, then delegates to
// regexp.Compile or regexp.CompilePOSIX. Options this adapter does not
// apply (literal, never_nl, encoding, max_mem, perl_classes, word_boundary
// in POSIX mode) are accepted -- they already affect the pattern's
// fingerprint via fingerprint.OptionFingerprint -- but have no effect on the
// compiled program here; that is a documented limitation of this adapter,
// not of the cache. regexp.CompilePOSIX does not accept the flag prefix, so
// with PosixSyntax set Compile returns an error unless no flag is needed
// (CaseSensitive and OneLine set, DotNL unset).
func (Compiler) Compile(pattern string, opts *fingerprint.Options) (patterncache.Compiled, error) {
	if opts.NeverCapture {
		pattern = stripCaptureGroups(pattern)
	}

	flags := flagPrefix(opts)
	if flags != "" {
		pattern = flags + pattern
	}

	var re *regexp.Regexp
	var err error
	if opts.PosixSyntax {
		re, err = regexp.CompilePOSIX(pattern)
	} else {
		re, err = regexp.Compile(pattern)
	}
	if err != nil {
		return nil, errors.Wrap(err, "stdlib regexp compile")
	}

	if opts.LongestMatch {
		re.Longest()
	}

	return &compiled{re: re}, nil
}

func flagPrefix(opts *fingerprint.Options) string {
	var flags strings.Builder
	if !opts.CaseSensitive {
		flags.WriteByte('i')
	}
	if opts.DotNL {
		flags.WriteByte('s')
	}
	if !opts.OneLine {
		flags.WriteByte('m')
	}
	if flags.Len() == 0 {
		return ""
	}
	return "(?" + flags.String() + ")"
}

// stripCaptureGroups rewrites unescaped "(" not already followed by "?"
// into non-capturing groups "(?:". It is a best-effort textual transform,
// adequate for the common case this adapter targets.
func stripCaptureGroups(pattern string) string {
	var b strings.Builder
	b.Grow(len(pattern) + 4)
	for i := 0; i < len(pattern); i++ {
		c := pattern[i]
		if c == '\\' && i+1 < len(pattern) {
			b.WriteByte(c)
			b.WriteByte(pattern[i+1])
			i++
			continue
		}
		if c == '(' && (i+1 >= len(pattern) || pattern[i+1] != '?') {
			b.WriteString("(?:")
			continue
		}
		b.WriteByte(c)
	}
	return b.String()
}

type compiled struct {
	re *regexp.Regexp
}

func (c *compiled) ProgramSize() int {
	return len(c.re.String())
}

func (c *compiled) Match(input string) bool {
	return c.re.MatchString(input)
}
