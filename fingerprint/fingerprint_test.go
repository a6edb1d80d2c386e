package fingerprint

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHash64Deterministic(t *testing.T) {
	a := require.New(t)

	a.Equal(Hash64("hello"), Hash64("hello"))
	a.NotEqual(Hash64("hello"), Hash64("world"))
	a.Equal(Hash64(""), Hash64(""))
}

func TestOptionFingerprintNonZero(t *testing.T) {
	a := require.New(t)

	o := &Options{}
	a.NotZero(OptionFingerprint(o))
}

func TestOptionFingerprintCached(t *testing.T) {
	a := require.New(t)

	o := &Options{CaseSensitive: true}
	first := OptionFingerprint(o)
	o.CaseSensitive = false // mutating after first computation must not change the cached value
	second := OptionFingerprint(o)
	a.Equal(first, second)
}

func TestOptionFingerprintDistinguishesFlags(t *testing.T) {
	a := require.New(t)

	cs := &Options{CaseSensitive: true}
	ci := &Options{CaseSensitive: false}
	a.NotEqual(OptionFingerprint(cs), OptionFingerprint(ci))
}

func TestPatternFingerprintOptionsSensitive(t *testing.T) {
	a := require.New(t)

	fp1 := PatternFingerprint("FOO", &Options{CaseSensitive: true})
	fp2 := PatternFingerprint("FOO", &Options{CaseSensitive: false})
	a.NotEqual(fp1, fp2)
}

func TestPatternFingerprintSamePatternSameOptions(t *testing.T) {
	a := require.New(t)

	fp1 := PatternFingerprint("foo", &Options{})
	fp2 := PatternFingerprint("foo", &Options{})
	a.Equal(fp1, fp2)
}

func TestResultKeyDependsOnInput(t *testing.T) {
	a := require.New(t)

	patternFP := PatternFingerprint("foo", &Options{})
	a.NotEqual(ResultKey(patternFP, "a"), ResultKey(patternFP, "b"))
}

func TestResultKeyDeterministic(t *testing.T) {
	a := require.New(t)

	patternFP := PatternFingerprint("foo", &Options{})
	a.Equal(ResultKey(patternFP, "input"), ResultKey(patternFP, "input"))
}
