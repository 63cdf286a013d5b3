package errors

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Exit codes for sandboxd
const (
	ExitSuccess            = 0
	ExitGeneralError       = 1
	ExitSandboxNotFound    = 2
	ExitConflict           = 3
	ExitProvisionFailed    = 4
	ExitRuntimeUnreachable = 5
	ExitConfigError        = 6
	ExitTeardownPartial    = 7
	ExitForbidden          = 8
)

// Error kinds. A SandboxError matches its kind with errors.Is.
var (
	ErrNotFound           = errors.New("not found")
	ErrConflict           = errors.New("conflict")
	ErrProvisionFailed    = errors.New("provision failed")
	ErrRuntimeUnreachable = errors.New("container runtime unreachable")
	ErrBootTimeout        = errors.New("timed out waiting for container to start")
	ErrInvalidTransition  = errors.New("invalid status transition")
	ErrTeardownPartial    = errors.New("teardown partially failed")
	ErrForbidden          = errors.New("forbidden")
	ErrValidation         = errors.New("invalid input")
)

// SandboxError is the base error type for sandboxd
type SandboxError struct {
	Code      int
	Kind      error
	Message   string
	SandboxID string
	Cause     error
}

func (e *SandboxError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *SandboxError) Unwrap() error {
	return e.Cause
}

// Is reports whether target is the kind of this error.
func (e *SandboxError) Is(target error) bool {
	return e.Kind != nil && target == e.Kind
}

// ExitCode returns the exit code for this error
func (e *SandboxError) ExitCode() int {
	return e.Code
}

// New creates a new SandboxError
func New(code int, message string) *SandboxError {
	return &SandboxError{
		Code:    code,
		Message: message,
	}
}

// Wrap wraps an existing error with a SandboxError
func Wrap(code int, message string, cause error) *SandboxError {
	return &SandboxError{
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// Common error constructors

// SandboxNotFound returns an error for a missing sandbox record
func SandboxNotFound(id string) *SandboxError {
	e := New(ExitSandboxNotFound, fmt.Sprintf("sandbox not found: %s", id))
	e.Kind = ErrNotFound
	e.SandboxID = id
	return e
}

// Conflict returns an error for a create that collided with a live record
// for the same owner. Callers re-read the winner instead of retrying.
func Conflict(ownerKind, ownerRef string) *SandboxError {
	e := New(ExitConflict, fmt.Sprintf("owner %s/%s already has a live sandbox", ownerKind, ownerRef))
	e.Kind = ErrConflict
	return e
}

// ProvisionFailed returns a retryable error for a sandbox that did not reach
// the running state. The record is left in place for the next attempt.
func ProvisionFailed(id string, cause error) *SandboxError {
	e := Wrap(ExitProvisionFailed, fmt.Sprintf("sandbox %s needs setup", id), cause)
	e.Kind = ErrProvisionFailed
	e.SandboxID = id
	return e
}

// RuntimeUnreachable returns an error for a container engine that cannot be reached
func RuntimeUnreachable(cause error) *SandboxError {
	e := Wrap(ExitRuntimeUnreachable, "container runtime unreachable", cause)
	e.Kind = ErrRuntimeUnreachable
	return e
}

// BootTimeout returns an error for a container that did not reach running
// within the boot deadline.
func BootTimeout(id string, after time.Duration) *SandboxError {
	e := New(ExitProvisionFailed, fmt.Sprintf("container for sandbox %s not running after %s", id, after))
	e.Kind = ErrBootTimeout
	e.SandboxID = id
	return e
}

// InvalidTransition returns an error for a backwards or unknown status change
func InvalidTransition(id, from, to string) *SandboxError {
	e := New(ExitGeneralError, fmt.Sprintf("sandbox %s cannot move from %s to %s", id, from, to))
	e.Kind = ErrInvalidTransition
	e.SandboxID = id
	return e
}

// TeardownPartial aggregates the sub-steps of a teardown that failed.
func TeardownPartial(id string, steps []string, failures []error) *SandboxError {
	e := Wrap(ExitTeardownPartial,
		fmt.Sprintf("teardown of sandbox %s incomplete (%s)", id, strings.Join(steps, ", ")),
		errors.Join(failures...))
	e.Kind = ErrTeardownPartial
	e.SandboxID = id
	return e
}

// Forbidden returns an error for a caller acting on a sandbox it does not own
func Forbidden(message string) *SandboxError {
	e := New(ExitForbidden, message)
	e.Kind = ErrForbidden
	return e
}

// ConfigError returns an error for configuration issues
func ConfigError(message string, cause error) *SandboxError {
	return Wrap(ExitConfigError, message, cause)
}

// ValidationError returns an error for input validation failures
func ValidationError(message string) *SandboxError {
	e := New(ExitGeneralError, message)
	e.Kind = ErrValidation
	return e
}

// GetExitCode extracts the exit code from an error
func GetExitCode(err error) int {
	var sandboxErr *SandboxError
	if errors.As(err, &sandboxErr) {
		return sandboxErr.ExitCode()
	}
	return ExitGeneralError
}

// SandboxIDOf returns the sandbox id carried by err, if any.
func SandboxIDOf(err error) string {
	var sandboxErr *SandboxError
	if errors.As(err, &sandboxErr) {
		return sandboxErr.SandboxID
	}
	return ""
}

// Is checks if an error is of a specific type
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target
func As(err error, target any) bool {
	return errors.As(err, target)
}
