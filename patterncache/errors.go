package patterncache

import "github.com/cockroachdb/errors"

// CompileFailedError wraps a regex engine compilation failure with the
// pattern text that caused it, per spec.md §4.4 ("compilation errors are
// returned to the caller, never cached").
type CompileFailedError struct {
	Pattern string
	Cause   error
}

func (e *CompileFailedError) Error() string {
	return errors.Wrapf(e.Cause, "compile pattern %q", e.Pattern).Error()
}

func (e *CompileFailedError) Unwrap() error {
	return e.Cause
}
