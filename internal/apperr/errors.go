// Package apperr classifies errors that cross a component boundary
// (RevisionFetcher, CircuitCompiler, ProviderClient) as retryable,
// non-retryable, or fatal, so the Worker's retry policy can switch on a
// typed classification instead of matching error strings.
package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies an error for the Worker's retry decision (§4.6, §10.2).
type Kind int

const (
	// KindRetryable errors may succeed on a later attempt: network
	// timeouts, 5xx responses, truncated transfers.
	KindRetryable Kind = iota
	// KindNonRetryable errors will not succeed no matter how many times
	// the attempt is repeated: 404/403 responses, invalid archives,
	// compile failures whose message names one of those conditions.
	KindNonRetryable
	// KindFatal errors indicate a problem with the system itself rather
	// than the specific attempt (e.g. workspace unwritable) and fail the
	// job on first occurrence instead of being retried.
	KindFatal
)

func (k Kind) String() string {
	switch k {
	case KindRetryable:
		return "retryable"
	case KindNonRetryable:
		return "non_retryable"
	case KindFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// classified wraps an error with a Kind. It implements Unwrap so
// errors.Is/As still traverse to the original cause.
type classified struct {
	kind Kind
	err  error
}

func (c *classified) Error() string { return c.err.Error() }
func (c *classified) Unwrap() error { return c.err }

// Wrap attaches kind to err, producing an error the Worker can classify via
// KindOf. A nil err returns nil.
func Wrap(kind Kind, err error) error {
	if err == nil {
		return nil
	}
	return &classified{kind: kind, err: err}
}

// Wrapf is Wrap plus fmt.Errorf-style formatting, mirroring the teacher's
// "...: %w" wrapping idiom.
func Wrapf(kind Kind, format string, args ...interface{}) error {
	return &classified{kind: kind, err: fmt.Errorf(format, args...)}
}

// KindOf returns the classification attached to err, or KindRetryable if
// err was never classified — an unclassified failure is assumed transient
// so the Worker doesn't silently swallow a real problem by treating it as
// permanent.
func KindOf(err error) Kind {
	var c *classified
	if errors.As(err, &c) {
		return c.kind
	}
	return KindRetryable
}

// Retryable reports whether err should be retried per the Worker's backoff
// policy (§4.6).
func Retryable(err error) bool {
	return KindOf(err) == KindRetryable
}
