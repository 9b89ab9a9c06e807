// Package errs defines the error-kind taxonomy used across a3s box so
// the CLI and control-plane clients can render a consistent
// single-line message plus a structured, machine-inspectable cause.
package errs

import (
	"errors"
	"fmt"
)

// Kind classifies why an operation failed.
type Kind string

const (
	// KindUser means the caller supplied invalid input (bad box config,
	// unknown flag combination).
	KindUser Kind = "user"
	// KindPrecondition means the operation is not valid in the box's
	// current state (e.g. start on an already-running box).
	KindPrecondition Kind = "precondition"
	// KindResource means a local resource limit was hit (cache budget,
	// IP pool exhausted, port already bound).
	KindResource Kind = "resource"
	// KindExternal means a dependency outside this process failed
	// (registry unreachable, shim process died, vsock reset).
	KindExternal Kind = "external"
	// KindIntegrity means on-disk or wire data failed a verification
	// check (digest mismatch, corrupt boxes.json, bad attestation).
	KindIntegrity Kind = "integrity"
	// KindInternal means an invariant the code believed to be true
	// did not hold; these should not normally occur.
	KindInternal Kind = "internal"
)

// Error is a structured error carrying a Kind, the operation and
// entity it occurred against, and the underlying cause.
type Error struct {
	Kind   Kind
	Op     string
	Entity string
	Cause  error
}

func (e *Error) Error() string {
	if e.Entity != "" {
		return fmt.Sprintf("%s %s: %v", e.Op, e.Entity, e.Cause)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Cause)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// New constructs an *Error.
func New(kind Kind, op, entity string, cause error) *Error {
	return &Error{Kind: kind, Op: op, Entity: entity, Cause: cause}
}

// Wrap constructs an *Error only if cause is non-nil, returning nil
// otherwise — convenient at the end of a function that may or may not
// have failed.
func Wrap(kind Kind, op, entity string, cause error) error {
	if cause == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Entity: entity, Cause: cause}
}

// KindOf extracts the Kind of err, defaulting to KindInternal if err
// does not wrap an *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// Is reports whether err's Kind is k.
func Is(err error, k Kind) bool {
	return KindOf(err) == k
}
