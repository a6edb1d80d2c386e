package coregex

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/chaisql/recache/fingerprint"
)

func TestCompileAndMatch(t *testing.T) {
	a := require.New(t)
	c, err := Compiler{}.Compile(`\d+`, &fingerprint.Options{})
	a.NoError(err)
	a.True(c.Match("abc123"))
	a.False(c.Match("abcxyz"))
}

func TestMaxMemBoundsDFAStates(t *testing.T) {
	a := require.New(t)
	c, err := Compiler{}.Compile(`\d+`, &fingerprint.Options{MaxMem: 1 << 20})
	a.NoError(err)
	a.Positive(c.ProgramSize())
}

func TestInvalidPatternErrors(t *testing.T) {
	a := require.New(t)
	_, err := Compiler{}.Compile(`(unterminated`, &fingerprint.Options{})
	a.Error(err)
}
