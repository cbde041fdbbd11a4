package laps

import (
	"errors"
	"fmt"
)

// JobFailure is the recoverable failure a handler returns to reject one
// job without stopping the worker. It is meant for expected business
// rule violations, a referenced map that does not exist, a request
// outside the module's supported range, and so on. The runtime reports
// a failure result for the job and keeps dequeuing.
//
// Every other error coming out of a handler is treated as a defect in
// the module: a failure result is still reported, but the process then
// terminates so bugs cannot hide behind silently absorbed errors.
type JobFailure struct {
	msg string
}

// NewJobFailure creates a recoverable job failure with a fixed message.
func NewJobFailure(msg string) *JobFailure {
	return &JobFailure{msg: msg}
}

// Failf creates a recoverable job failure with a formatted message.
func Failf(format string, args ...any) *JobFailure {
	return &JobFailure{msg: fmt.Sprintf(format, args...)}
}

// Error returns the human-readable failure message, which is also what
// gets logged against the job.
func (e *JobFailure) Error() string {
	return e.msg
}

// IsJobFailure reports whether err is, or wraps, a recoverable job
// failure. The runtime uses it to decide between absorbing a failure
// and crashing.
func IsJobFailure(err error) bool {
	var jf *JobFailure
	return errors.As(err, &jf)
}

// ErrAlreadyRegistered signals a second registration attempt from a
// runner that has already announced itself.
var ErrAlreadyRegistered = errors.New("module is already registered")

// RegistrationError reports that a module could not announce itself to
// the backend. It is always fatal: a worker that could not register
// must not serve jobs, because the backend would never learn about it.
type RegistrationError struct {
	Module Identity
	Err    error
}

// Error describes the failed registration.
func (e *RegistrationError) Error() string {
	return fmt.Sprintf("failed to register module %s: %v", e.Module, e.Err)
}

// Unwrap exposes the underlying cause for errors.Is and errors.As.
func (e *RegistrationError) Unwrap() error {
	return e.Err
}
