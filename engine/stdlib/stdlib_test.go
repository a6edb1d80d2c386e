package stdlib

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/chaisql/recache/fingerprint"
)

func TestCompileAndMatch(t *testing.T) {
	a := require.New(t)
	c, err := Compiler{}.Compile(`foo\d+`, &fingerprint.Options{CaseSensitive: true})
	a.NoError(err)
	a.True(c.Match("foo123"))
	a.False(c.Match("bar123"))
}

func TestCaseInsensitiveOption(t *testing.T) {
	a := require.New(t)
	c, err := Compiler{}.Compile("FOO", &fingerprint.Options{CaseSensitive: false})
	a.NoError(err)
	a.True(c.Match("foo"))
}

func TestNeverCaptureStripsGroups(t *testing.T) {
	a := require.New(t)
	c, err := Compiler{}.Compile(`(foo)(bar)`, &fingerprint.Options{CaseSensitive: true, NeverCapture: true})
	a.NoError(err)
	a.Zero(c.(*compiled).re.NumSubexp())
	a.True(c.Match("foobar"))
}

func TestInvalidPatternErrors(t *testing.T) {
	a := require.New(t)
	_, err := Compiler{}.Compile(`(unterminated`, &fingerprint.Options{CaseSensitive: true})
	a.Error(err)
}

func TestProgramSizeNonZero(t *testing.T) {
	a := require.New(t)
	c, err := Compiler{}.Compile(`abc`, &fingerprint.Options{CaseSensitive: true})
	a.NoError(err)
	a.Positive(c.ProgramSize())
}
