package errors

import (
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestSeverity_String(t *testing.T) {
	tests := []struct {
		severity Severity
		want     string
	}{
		{SeverityDebug, "debug"},
		{SeverityInfo, "info"},
		{SeverityWarning, "warning"},
		{SeverityError, "error"},
		{SeverityCritical, "critical"},
		{Severity(99), "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := tt.severity.String(); got != tt.want {
				t.Errorf("Severity.String() = %q, want %q", got, tt.want)
			}
		})
	}
}

// -----------------------------------------------------------------------------
// ProcessError Tests
// -----------------------------------------------------------------------------

func TestProcessError_Error(t *testing.T) {
	tests := []struct {
		name string
		err  *ProcessError
		want string
	}{
		{
			name: "no context",
			err:  NewProcessError("failed to start", nil),
			want: "process error: failed to start",
		},
		{
			name: "command and pid",
			err:  NewProcessError("exited", nil).WithCommand("aionr").WithPID(42),
			want: "process error [command=aionr, pid=42]: exited",
		},
		{
			name: "with cause",
			err:  NewProcessError("stop failed", ErrProcessNotRunning).WithCommand("node"),
			want: "process error [command=node]: stop failed: process not running",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("Error() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestProcessError_Is(t *testing.T) {
	err := NewProcessError("boom", ErrProcessAlreadyRunning)

	if !errors.Is(err, ErrProcessAlreadyRunning) {
		t.Error("errors.Is should match the wrapped sentinel")
	}
	if !errors.Is(err, &ProcessError{}) {
		t.Error("errors.Is should match any *ProcessError")
	}
	if errors.Is(err, ErrProcessNotRunning) {
		t.Error("errors.Is should not match an unrelated sentinel")
	}

	var target *ProcessError
	wrapped := fmt.Errorf("outer: %w", err)
	if !errors.As(wrapped, &target) {
		t.Fatal("errors.As should find the *ProcessError")
	}
	if target.Severity() != SeverityError {
		t.Errorf("Severity() = %v, want %v", target.Severity(), SeverityError)
	}
}

func TestCatalogError_Error(t *testing.T) {
	err := NewCatalogError("cannot expand", ErrUnknownEvent).
		WithEvent("heartbeat").
		WithPath("/tmp/events.yaml")

	want := "catalog error [event=heartbeat, path=/tmp/events.yaml]: cannot expand: unknown event"
	if got := err.Error(); got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
	if !errors.Is(err, ErrUnknownEvent) {
		t.Error("errors.Is should match ErrUnknownEvent")
	}
}

// -----------------------------------------------------------------------------
// Semantic Error Tests
// -----------------------------------------------------------------------------

func TestValidationError(t *testing.T) {
	err := NewValidationError("timeout must not be negative").
		WithField("timeout").
		WithValue(-time.Second).
		WithCause(ErrNegativeTimeout)

	want := "validation error [field=timeout, value=-1s]: timeout must not be negative: timeout is negative"
	if got := err.Error(); got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
	if !errors.Is(err, ErrNegativeTimeout) {
		t.Error("should match the cause sentinel")
	}
	if !errors.Is(err, ErrInvalidInput) {
		t.Error("validation errors should match ErrInvalidInput")
	}
	if !IsProgrammerError(err) {
		t.Error("IsProgrammerError() = false, want true")
	}
	if IsRetryable(err) {
		t.Error("validation errors are not retryable")
	}
}

func TestTimeoutError(t *testing.T) {
	err := NewTimeoutError("waiting for outcome", 5*time.Second).WithCause(ErrWaitTimeout)

	want := "timeout error: waiting for outcome (timeout: 5s): wait for outcome timed out"
	if got := err.Error(); got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
	if !errors.Is(err, ErrTimeout) {
		t.Error("should match ErrTimeout")
	}
	if !errors.Is(err, ErrWaitTimeout) {
		t.Error("should match ErrWaitTimeout")
	}
	if !IsRetryable(err) {
		t.Error("timeouts should be retryable by default")
	}
	if IsRetryable(err.WithRetryable(false)) {
		t.Error("WithRetryable(false) should disable retry")
	}
}

func TestNotFoundError(t *testing.T) {
	err := NewNotFoundError("event", "heartbeat")
	if got := err.Error(); got != "event 'heartbeat' not found" {
		t.Errorf("Error() = %q", got)
	}
	if !errors.Is(err.WithCause(ErrUnknownEvent), ErrUnknownEvent) {
		t.Error("should match cause")
	}
}

// -----------------------------------------------------------------------------
// Classification Tests
// -----------------------------------------------------------------------------

func TestClassification(t *testing.T) {
	plain := errors.New("plain")

	if IsRetryable(nil) || IsUserFacing(nil) {
		t.Error("nil errors are neither retryable nor user facing")
	}
	if GetSeverity(nil) != SeverityDebug {
		t.Errorf("GetSeverity(nil) = %v, want debug", GetSeverity(nil))
	}
	if GetSeverity(plain) != SeverityError {
		t.Errorf("GetSeverity(plain) = %v, want error", GetSeverity(plain))
	}
	if IsUserFacing(plain) {
		t.Error("plain errors are not user facing")
	}
	if !IsUserFacing(NewProcessError("x", nil)) {
		t.Error("process errors are user facing")
	}
	if !IsRetryable(Wrap(ErrTimeout, "ctx")) {
		t.Error("wrapped ErrTimeout should be retryable")
	}
	if IsProgrammerError(plain) {
		t.Error("plain errors are not programmer errors")
	}
}

func TestWrap(t *testing.T) {
	if Wrap(nil, "msg") != nil {
		t.Error("Wrap(nil) should return nil")
	}
	if Wrapf(nil, "msg %d", 1) != nil {
		t.Error("Wrapf(nil) should return nil")
	}

	err := Wrapf(ErrNoActiveProcess, "submit %s", "heartbeat")
	if err.Error() != "submit heartbeat: no active process" {
		t.Errorf("Wrapf() = %q", err.Error())
	}
	if !errors.Is(err, ErrNoActiveProcess) {
		t.Error("Wrapf should preserve the chain")
	}
}
