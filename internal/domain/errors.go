package domain

import (
	"errors"
	"fmt"
)

// Business-rule failures. Callers compare with errors.Is.
var (
	ErrInvalidTransition = errors.New("invalid timer transition")
	ErrAlreadyRunning    = errors.New("a timer is already running for this employee")
)

// Failures of the authority itself.
var (
	ErrAuthorityUnavailable = errors.New("timer authority unavailable")
	ErrInvalidSnapshot      = errors.New("invalid timer snapshot")

	// ErrStaleResponse is never returned to callers; it tags discarded
	// responses in logs and observer events.
	ErrStaleResponse = errors.New("stale timer response")
)

// AuthorityError describes a request to the authority that could not complete.
// It matches ErrAuthorityUnavailable under errors.Is.
type AuthorityError struct {
	Op     string
	Status int // HTTP status, 0 when the request never got a response
	Err    error
}

func (e *AuthorityError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("authority %s: status %d: %v", e.Op, e.Status, e.Err)
	}
	return fmt.Sprintf("authority %s: %v", e.Op, e.Err)
}

func (e *AuthorityError) Unwrap() error { return e.Err }

func (e *AuthorityError) Is(target error) bool {
	return target == ErrAuthorityUnavailable
}

// TransitionError carries the state a rejected transition was attempted from.
type TransitionError struct {
	Op   string
	From State
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("cannot %s while %s", e.Op, e.From)
}

func (e *TransitionError) Unwrap() error { return ErrInvalidTransition }

// IsBusinessRule reports whether err is an expected rule failure rather than
// an infrastructure problem.
func IsBusinessRule(err error) bool {
	return errors.Is(err, ErrInvalidTransition) || errors.Is(err, ErrAlreadyRunning)
}
