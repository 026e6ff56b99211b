// Package kerr centralizes the two error taxonomies the kernel core
// distinguishes: programmer-contract violations, which are fatal, and
// resource exhaustion, which is reported through an ordinary error value.
package kerr

import (
	"errors"

	"github.com/prkty/kpintos/kvlog"
)

// ErrResourceExhausted is returned (never panicked) when a bounded
// resource — the tid space, a fixed-size thread table — is exhausted. It
// is the only condition spec.md's error-handling section treats as
// recoverable rather than a fatal contract violation.
var ErrResourceExhausted = errors.New("kernel: resource exhausted")

// Fatal reports a programmer-contract violation: double-acquiring a lock,
// releasing a lock the caller doesn't hold, calling a blocking primitive
// from interrupt context. These are bugs in the caller, not in the
// environment, so Fatal logs at error level and then panics, mirroring
// the reference kernel's PANIC/ASSERT macros (log the condition, then
// abort) rather than exiting the process out from under a caller that
// might legitimately want to recover() at a test or RPC boundary.
func Fatal(format string, args ...interface{}) {
	kvlog.Panicf(format, args...)
}
