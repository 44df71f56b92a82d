// Package result holds the terminal outcome of a wait and the single-assignment
// Future through which callers receive it.
package result

import (
	"fmt"
	"time"
)

// Status is the terminal status of a wait.
type Status int

const (
	// StatusObserved means the predicate matched before the deadline.
	StatusObserved Status = iota + 1
	// StatusUnobserved means monitoring ended before the predicate matched.
	StatusUnobserved
	// StatusExpired means the deadline passed without a match.
	StatusExpired
	// StatusRejected means the wait was refused, e.g. no process was running.
	StatusRejected
)

// String returns a human-readable string for the status.
func (s Status) String() string {
	switch s {
	case StatusObserved:
		return "observed"
	case StatusUnobserved:
		return "unobserved"
	case StatusExpired:
		return "expired"
	case StatusRejected:
		return "rejected"
	default:
		return "unknown"
	}
}

// CauseNoActiveProcess is the rejection cause for waits submitted after
// monitoring has ended.
const CauseNoActiveProcess = "no active process"

// Outcome is the immutable result of one wait. ObservedAt is set only for
// StatusObserved; Cause only for StatusRejected.
type Outcome struct {
	status     Status
	observedAt time.Time
	cause      string
}

// Observed returns an outcome for a predicate observed at at.
func Observed(at time.Time) Outcome {
	return Outcome{status: StatusObserved, observedAt: at}
}

// Unobserved returns an outcome for a wait cut short by the end of monitoring.
func Unobserved() Outcome {
	return Outcome{status: StatusUnobserved}
}

// Expired returns an outcome for a wait whose deadline passed.
func Expired() Outcome {
	return Outcome{status: StatusExpired}
}

// Rejected returns an outcome for a refused wait. An empty cause is replaced
// with "rejected" so a rejection always explains itself.
func Rejected(cause string) Outcome {
	if cause == "" {
		cause = "rejected"
	}
	return Outcome{status: StatusRejected, cause: cause}
}

// Status returns the terminal status. The zero Outcome has status 0 ("unknown").
func (o Outcome) Status() Status { return o.status }

// IsObserved reports whether the predicate was observed.
func (o Outcome) IsObserved() bool { return o.status == StatusObserved }

// ObservedAt returns the observation time and true for observed outcomes.
func (o Outcome) ObservedAt() (time.Time, bool) {
	return o.observedAt, o.status == StatusObserved
}

// Cause returns the rejection cause and true for rejected outcomes.
func (o Outcome) Cause() (string, bool) {
	return o.cause, o.status == StatusRejected
}

// String renders the outcome for logs and CLI output.
func (o Outcome) String() string {
	switch o.status {
	case StatusObserved:
		return fmt.Sprintf("observed at %s", o.observedAt.Format(time.RFC3339Nano))
	case StatusRejected:
		return fmt.Sprintf("rejected: %s", o.cause)
	default:
		return o.status.String()
	}
}
