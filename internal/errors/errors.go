// Package errors provides centralized error definitions and error handling utilities
// for logwait. It defines sentinel errors, domain error types, semantic error types
// and classification helpers.
//
// # Error Types
//
// Domain-specific errors represent errors from specific subsystems:
//   - ProcessError: errors starting, stopping or reading a monitored process
//   - CatalogError: errors loading or expanding the known-events catalog
//
// Semantic errors represent common error conditions:
//   - NotFoundError: resource not found
//   - ValidationError: invalid input (nil predicate, negative timeout, empty pattern)
//   - TimeoutError: a caller-side wait ran out of time
//
// Only programmer errors and infrastructure failures are reported as errors. A wait
// that expires, is rejected, or ends because the process went away is an ordinary
// outcome value (see package result), never an error.
//
// # Usage
//
//	err := errors.NewValidationError("timeout must not be negative").
//		WithField("timeout").
//		WithValue(d).
//		WithCause(errors.ErrNegativeTimeout)
//
//	if errors.Is(err, errors.ErrNegativeTimeout) { ... }
//
//	var procErr *errors.ProcessError
//	if errors.As(err, &procErr) { ... }
package errors

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Re-export standard library functions for convenience.
// This allows callers to import only this package for all error handling.
var (
	Is     = errors.Is
	As     = errors.As
	Unwrap = errors.Unwrap
	New    = errors.New
	Join   = errors.Join
)

// Severity represents the severity level of an error.
type Severity int

const (
	// SeverityDebug is for errors that are useful for debugging but not critical.
	SeverityDebug Severity = iota
	// SeverityInfo is for informational errors that don't indicate a problem.
	SeverityInfo
	// SeverityWarning is for errors that might indicate a problem but aren't critical.
	SeverityWarning
	// SeverityError is for errors that indicate a real problem.
	SeverityError
	// SeverityCritical is for errors that require immediate attention.
	SeverityCritical
)

// String returns the string representation of the severity level.
func (s Severity) String() string {
	switch s {
	case SeverityDebug:
		return "debug"
	case SeverityInfo:
		return "info"
	case SeverityWarning:
		return "warning"
	case SeverityError:
		return "error"
	case SeverityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// -----------------------------------------------------------------------------
// Sentinel Errors
// -----------------------------------------------------------------------------

// Submission sentinel errors
var (
	// ErrNilPredicate indicates that a wait was submitted without a predicate.
	ErrNilPredicate = New("predicate is nil")
	// ErrNegativeTimeout indicates that a wait was submitted with a negative timeout.
	ErrNegativeTimeout = New("timeout is negative")
	// ErrEmptyPattern indicates that a leaf predicate was built from an empty pattern.
	ErrEmptyPattern = New("pattern is empty")
	// ErrNilDispatcher indicates that a listener was bound to a nil dispatcher.
	ErrNilDispatcher = New("dispatcher is nil")
	// ErrNoActiveProcess is the cause attached to waits submitted after termination.
	ErrNoActiveProcess = New("no active process")
)

// Process sentinel errors
var (
	// ErrProcessNotRunning indicates that an operation requires a running process.
	ErrProcessNotRunning = New("process not running")
	// ErrProcessAlreadyRunning indicates that the process was already started.
	ErrProcessAlreadyRunning = New("process already running")
	// ErrDispatcherTerminated indicates that a dispatcher was started after it terminated.
	ErrDispatcherTerminated = New("dispatcher terminated")
)

// Catalog sentinel errors
var (
	// ErrUnknownEvent indicates that a catalog lookup found no such event.
	ErrUnknownEvent = New("unknown event")
	// ErrEmptyDefinition indicates an event definition with no patterns.
	ErrEmptyDefinition = New("event definition has no patterns")
)

// General sentinel errors
var (
	// ErrTimeout indicates that an operation timed out.
	ErrTimeout = New("operation timed out")
	// ErrWaitTimeout indicates that a caller gave up waiting on a completion handle.
	// It is distinct from an Expired outcome, which means the log line itself
	// failed to appear in time.
	ErrWaitTimeout = New("wait for outcome timed out")
	// ErrInvalidInput indicates that input validation failed.
	ErrInvalidInput = New("invalid input")
)

// -----------------------------------------------------------------------------
// Base Error Interface
// -----------------------------------------------------------------------------

// LogwaitError is the base interface for all logwait errors.
type LogwaitError interface {
	error

	// Unwrap returns the underlying error, if any.
	Unwrap() error

	// Is reports whether this error matches the target error.
	Is(target error) bool

	// Severity returns the severity level of this error.
	Severity() Severity

	// IsRetryable returns true if the operation may succeed on retry.
	IsRetryable() bool

	// IsUserFacing returns true if the message is safe to display to end users.
	IsUserFacing() bool
}

// baseError provides common functionality for all error types.
type baseError struct {
	message    string
	cause      error
	severity   Severity
	retryable  bool
	userFacing bool
}

// Error returns the error message.
func (e *baseError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.message, e.cause)
	}
	return e.message
}

// Unwrap returns the underlying error.
func (e *baseError) Unwrap() error {
	return e.cause
}

// Is checks if this error matches the target.
func (e *baseError) Is(target error) bool {
	if e.cause != nil {
		return errors.Is(e.cause, target)
	}
	return false
}

// Severity returns the error severity.
func (e *baseError) Severity() Severity {
	return e.severity
}

// IsRetryable returns whether the error is retryable.
func (e *baseError) IsRetryable() bool {
	return e.retryable
}

// IsUserFacing returns whether the error is safe to show users.
func (e *baseError) IsUserFacing() bool {
	return e.userFacing
}

// -----------------------------------------------------------------------------
// Domain-Specific Errors
// -----------------------------------------------------------------------------

// ProcessError represents errors related to the monitored process.
//
// Example:
//
//	err := errors.NewProcessError("failed to start", cause).
//		WithCommand("aionr").
//		WithPID(4242)
//	fmt.Println(err) // "process error [command=aionr, pid=4242]: failed to start: ..."
type ProcessError struct {
	baseError
	Command string
	PID     int
}

// NewProcessError creates a new ProcessError.
func NewProcessError(message string, cause error) *ProcessError {
	return &ProcessError{
		baseError: baseError{
			message:    message,
			cause:      cause,
			severity:   SeverityError,
			userFacing: true,
		},
	}
}

// WithCommand adds the command name to the error context.
func (e *ProcessError) WithCommand(command string) *ProcessError {
	e.Command = command
	return e
}

// WithPID adds the process ID to the error context.
func (e *ProcessError) WithPID(pid int) *ProcessError {
	e.PID = pid
	return e
}

// WithSeverity sets the error severity.
func (e *ProcessError) WithSeverity(s Severity) *ProcessError {
	e.severity = s
	return e
}

// WithRetryable sets whether the error is retryable.
func (e *ProcessError) WithRetryable(r bool) *ProcessError {
	e.retryable = r
	return e
}

// Error returns the formatted error message.
func (e *ProcessError) Error() string {
	var parts []string
	if e.Command != "" {
		parts = append(parts, fmt.Sprintf("command=%s", e.Command))
	}
	if e.PID > 0 {
		parts = append(parts, fmt.Sprintf("pid=%d", e.PID))
	}

	prefix := "process error"
	if len(parts) > 0 {
		prefix = fmt.Sprintf("process error [%s]", strings.Join(parts, ", "))
	}

	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", prefix, e.message, e.cause)
	}
	return fmt.Sprintf("%s: %s", prefix, e.message)
}

// Is checks if this error matches the target.
func (e *ProcessError) Is(target error) bool {
	if _, ok := target.(*ProcessError); ok {
		return true
	}
	return e.baseError.Is(target)
}

// CatalogError represents errors loading or expanding known-event definitions.
type CatalogError struct {
	baseError
	Event string
	Path  string
}

// NewCatalogError creates a new CatalogError.
func NewCatalogError(message string, cause error) *CatalogError {
	return &CatalogError{
		baseError: baseError{
			message:    message,
			cause:      cause,
			severity:   SeverityError,
			userFacing: true,
		},
	}
}

// WithEvent adds the event name to the error context.
func (e *CatalogError) WithEvent(name string) *CatalogError {
	e.Event = name
	return e
}

// WithPath adds the catalog file path to the error context.
func (e *CatalogError) WithPath(path string) *CatalogError {
	e.Path = path
	return e
}

// Error returns the formatted error message.
func (e *CatalogError) Error() string {
	var parts []string
	if e.Event != "" {
		parts = append(parts, fmt.Sprintf("event=%s", e.Event))
	}
	if e.Path != "" {
		parts = append(parts, fmt.Sprintf("path=%s", e.Path))
	}

	prefix := "catalog error"
	if len(parts) > 0 {
		prefix = fmt.Sprintf("catalog error [%s]", strings.Join(parts, ", "))
	}

	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", prefix, e.message, e.cause)
	}
	return fmt.Sprintf("%s: %s", prefix, e.message)
}

// Is checks if this error matches the target.
func (e *CatalogError) Is(target error) bool {
	if _, ok := target.(*CatalogError); ok {
		return true
	}
	return e.baseError.Is(target)
}

// -----------------------------------------------------------------------------
// Semantic Errors
// -----------------------------------------------------------------------------

// NotFoundError represents a resource that could not be found.
//
// Example:
//
//	err := errors.NewNotFoundError("event", "heartbeat")
//	fmt.Println(err) // "event 'heartbeat' not found"
type NotFoundError struct {
	baseError
	ResourceType string
	ResourceID   string
}

// NewNotFoundError creates a new NotFoundError.
func NewNotFoundError(resourceType, resourceID string) *NotFoundError {
	return &NotFoundError{
		baseError: baseError{
			message:    fmt.Sprintf("%s '%s' not found", resourceType, resourceID),
			severity:   SeverityWarning,
			userFacing: true,
		},
		ResourceType: resourceType,
		ResourceID:   resourceID,
	}
}

// WithCause adds a cause to the error.
func (e *NotFoundError) WithCause(cause error) *NotFoundError {
	e.cause = cause
	return e
}

// Error returns the formatted error message.
func (e *NotFoundError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s '%s' not found: %v", e.ResourceType, e.ResourceID, e.cause)
	}
	return fmt.Sprintf("%s '%s' not found", e.ResourceType, e.ResourceID)
}

// Is checks if this error matches the target.
func (e *NotFoundError) Is(target error) bool {
	if _, ok := target.(*NotFoundError); ok {
		return true
	}
	return e.baseError.Is(target)
}

// ValidationError represents invalid input or state.
//
// Example:
//
//	err := errors.NewValidationError("cannot wait for a nil predicate").
//		WithField("predicate").
//		WithCause(errors.ErrNilPredicate)
type ValidationError struct {
	baseError
	Field string
	Value any
}

// NewValidationError creates a new ValidationError.
func NewValidationError(message string) *ValidationError {
	return &ValidationError{
		baseError: baseError{
			message:    message,
			severity:   SeverityWarning,
			userFacing: true,
		},
	}
}

// WithField adds a field name to the error context.
func (e *ValidationError) WithField(field string) *ValidationError {
	e.Field = field
	return e
}

// WithValue adds the invalid value to the error context.
func (e *ValidationError) WithValue(value any) *ValidationError {
	e.Value = value
	return e
}

// WithCause adds a cause to the error.
func (e *ValidationError) WithCause(cause error) *ValidationError {
	e.cause = cause
	return e
}

// Error returns the formatted error message.
func (e *ValidationError) Error() string {
	var parts []string
	if e.Field != "" {
		parts = append(parts, fmt.Sprintf("field=%s", e.Field))
	}
	if e.Value != nil {
		parts = append(parts, fmt.Sprintf("value=%v", e.Value))
	}

	prefix := "validation error"
	if len(parts) > 0 {
		prefix = fmt.Sprintf("validation error [%s]", strings.Join(parts, ", "))
	}

	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", prefix, e.message, e.cause)
	}
	return fmt.Sprintf("%s: %s", prefix, e.message)
}

// Is checks if this error matches the target.
func (e *ValidationError) Is(target error) bool {
	if _, ok := target.(*ValidationError); ok {
		return true
	}
	if errors.Is(target, ErrInvalidInput) {
		return true
	}
	return e.baseError.Is(target)
}

// TimeoutError represents an operation that timed out.
//
// Example:
//
//	err := errors.NewTimeoutError("waiting for outcome", 5*time.Second).
//		WithCause(errors.ErrWaitTimeout)
//	fmt.Println(err) // "timeout error: waiting for outcome (timeout: 5s): wait for outcome timed out"
type TimeoutError struct {
	baseError
	Operation string
	Duration  time.Duration
}

// NewTimeoutError creates a new TimeoutError.
func NewTimeoutError(operation string, duration time.Duration) *TimeoutError {
	return &TimeoutError{
		baseError: baseError{
			message:    operation,
			severity:   SeverityWarning,
			retryable:  true, // Timeouts are generally retryable
			userFacing: true,
		},
		Operation: operation,
		Duration:  duration,
	}
}

// WithCause adds a cause to the error.
func (e *TimeoutError) WithCause(cause error) *TimeoutError {
	e.cause = cause
	return e
}

// WithRetryable sets whether the error is retryable (default true for timeouts).
func (e *TimeoutError) WithRetryable(r bool) *TimeoutError {
	e.retryable = r
	return e
}

// Error returns the formatted error message.
func (e *TimeoutError) Error() string {
	base := fmt.Sprintf("timeout error: %s (timeout: %s)", e.Operation, e.Duration)
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", base, e.cause)
	}
	return base
}

// Is checks if this error matches the target.
func (e *TimeoutError) Is(target error) bool {
	if _, ok := target.(*TimeoutError); ok {
		return true
	}
	if errors.Is(target, ErrTimeout) {
		return true
	}
	return e.baseError.Is(target)
}

// -----------------------------------------------------------------------------
// Error Classification Helpers
// -----------------------------------------------------------------------------

// IsRetryable returns true if the error represents a transient condition
// that may succeed on retry.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	var lwErr LogwaitError
	if As(err, &lwErr) {
		return lwErr.IsRetryable()
	}

	return Is(err, ErrTimeout)
}

// IsUserFacing returns true if the error message is safe to display to end users.
func IsUserFacing(err error) bool {
	if err == nil {
		return false
	}

	var lwErr LogwaitError
	if As(err, &lwErr) {
		return lwErr.IsUserFacing()
	}
	return false
}

// GetSeverity returns the severity level of the error.
// Returns SeverityError for errors that don't implement LogwaitError.
func GetSeverity(err error) Severity {
	if err == nil {
		return SeverityDebug
	}

	var lwErr LogwaitError
	if As(err, &lwErr) {
		return lwErr.Severity()
	}

	return SeverityError
}

// IsProgrammerError reports whether err is a synchronous misuse of the API
// (a validation failure) rather than a runtime condition.
func IsProgrammerError(err error) bool {
	var validation *ValidationError
	return As(err, &validation)
}

// -----------------------------------------------------------------------------
// Convenience Constructors
// -----------------------------------------------------------------------------

// Wrap wraps an error with additional context message.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Wrapf wraps an error with a formatted context message.
func Wrapf(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}
