package locking

import "github.com/pkg/errors"

var (
	// ErrNotHeld is returned when an operation other than the held-check is
	// attempted on a resource the holder does not currently hold.
	ErrNotHeld = errors.New("resource not held")

	// ErrDoubleAcquire is returned when a holder attempts to acquire a
	// resource while already waiting on a different one. A holder is
	// single-tasked: it may have at most one in-flight acquire at a time.
	ErrDoubleAcquire = errors.New("holder already waiting on another resource")

	// ErrDeadlockVictim is returned to a holder whose acquire was aborted by
	// the deadlock detector to break a cycle.
	ErrDeadlockVictim = errors.New("holder aborted to break a deadlock")

	// ErrInvalidHolderID is returned by ParseHolderID for malformed input.
	ErrInvalidHolderID = errors.New("invalid holder id")
)

// assertInvariant panics if cond is false. It guards structural invariants
// that indicate a bug in the lock core itself, never a caller error, so it
// is never surfaced as a regular error value.
func assertInvariant(cond bool, msg string) {
	if !cond {
		panic("locking: invariant violated: " + msg)
	}
}
