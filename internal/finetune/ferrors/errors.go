// Package ferrors models the error kinds from spec §7 as typed sentinel
// errors, in the manner of internal/circuitbreaker's typed error values and
// internal/session's ErrSessionNotFound/ErrSessionExpired: callers use
// errors.Is/errors.As against the Kind rather than string matching.
package ferrors

import (
	"errors"
	"fmt"
)

// Kind identifies one of the error kinds named in spec §7. It is not the
// error type itself (each error still carries its own message/wrapped
// cause) but the value errors.Is compares against.
type Kind string

const (
	// KindTransient marks a network/timeout/5xx failure, retried per the
	// retry envelope.
	KindTransient Kind = "transient_backend_error"
	// KindConflict marks a duplicate insert or a racing idempotency key,
	// handled idempotently by the caller.
	KindConflict Kind = "conflict_error"
	// KindValidation marks a violated invariant at construction time,
	// fatal to the caller.
	KindValidation Kind = "validation_error"
	// KindNotFound marks an unknown session/batch/run.
	KindNotFound Kind = "not_found_error"
	// KindRunFailure marks any exception during a training run, caught at
	// the search boundary (spec §4.8).
	KindRunFailure Kind = "run_failure"
	// KindMaxAttempts marks retry-envelope exhaustion (spec §4.9, §7).
	KindMaxAttempts Kind = "max_attempts_reached"
	// KindSchema marks the converter's reserved-field collision (spec
	// §4.2): session.search_meta carrying a "text" key.
	KindSchema Kind = "schema_error"
)

// Error is the concrete error value carrying a Kind, a message and an
// optional wrapped cause.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

// Is lets errors.Is(err, SomeKindSentinel) work by comparing Kind, so
// callers can test "is this a NotFoundError" without matching message text.
func (e *Error) Is(target error) bool {
	var other *Error
	if errors.As(target, &other) {
		return e.Kind == other.Kind
	}
	return false
}

func New(kind Kind, msg string) error {
	return &Error{Kind: kind, Msg: msg}
}

func Wrap(kind Kind, msg string, cause error) error {
	return &Error{Kind: kind, Msg: msg, Err: cause}
}

// sentinels used purely for errors.Is comparisons against a Kind.
var (
	ErrTransient   = &Error{Kind: KindTransient}
	ErrConflict    = &Error{Kind: KindConflict}
	ErrValidation  = &Error{Kind: KindValidation}
	ErrNotFound    = &Error{Kind: KindNotFound}
	ErrRunFailure  = &Error{Kind: KindRunFailure}
	ErrMaxAttempts = &Error{Kind: KindMaxAttempts}
	ErrSchema      = &Error{Kind: KindSchema}
)

func IsTransient(err error) bool   { return errors.Is(err, ErrTransient) }
func IsConflict(err error) bool    { return errors.Is(err, ErrConflict) }
func IsValidation(err error) bool  { return errors.Is(err, ErrValidation) }
func IsNotFound(err error) bool    { return errors.Is(err, ErrNotFound) }
func IsRunFailure(err error) bool  { return errors.Is(err, ErrRunFailure) }
func IsMaxAttempts(err error) bool { return errors.Is(err, ErrMaxAttempts) }
func IsSchema(err error) bool      { return errors.Is(err, ErrSchema) }

// MaxAttemptsReached is the distinguished error surfaced unchanged when the
// retry envelope exhausts its attempts (spec §4.9, §7).
type MaxAttemptsReached struct {
	Attempts int
	LastErr  error
}

func (e *MaxAttemptsReached) Error() string {
	return fmt.Sprintf("max attempts reached (%d): %v", e.Attempts, e.LastErr)
}

func (e *MaxAttemptsReached) Unwrap() error { return e.LastErr }

func (e *MaxAttemptsReached) Is(target error) bool {
	return errors.Is(target, ErrMaxAttempts)
}
