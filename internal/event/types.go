package event

import (
	"time"

	"github.com/Iron-Ham/logwait/internal/result"
)

// Event is the interface that all events must implement.
type Event interface {
	// EventType returns a string identifier for this event type.
	// Convention: "category.action" (e.g., "wait.resolved", "process.exited")
	EventType() string

	// Timestamp returns when the event occurred.
	Timestamp() time.Time
}

// Event type identifiers.
const (
	TypeWaitSubmitted        = "wait.submitted"
	TypeWaitResolved         = "wait.resolved"
	TypeDispatcherStarted    = "dispatcher.started"
	TypeDispatcherTerminated = "dispatcher.terminated"
	TypeProcessStarted       = "process.started"
	TypeProcessExited        = "process.exited"
	TypePollRoundCompleted   = "poller.round"
	TypePollerStateChanged   = "poller.state"
)

// baseEvent provides common fields for all events.
// Embed this in concrete event types to satisfy the Event interface.
type baseEvent struct {
	eventType string
	timestamp time.Time
}

func (e baseEvent) EventType() string    { return e.eventType }
func (e baseEvent) Timestamp() time.Time { return e.timestamp }

func newBaseEvent(eventType string) baseEvent {
	return baseEvent{
		eventType: eventType,
		timestamp: time.Now(),
	}
}

// -----------------------------------------------------------------------------
// Wait Events
// -----------------------------------------------------------------------------

// WaitSubmittedEvent is emitted when a wait request is registered.
type WaitSubmittedEvent struct {
	baseEvent
	RequestID uint64
	Predicate string // Rendered predicate, e.g. ("a" AND "b")
	Timeout   time.Duration
	Deadline  time.Time
}

// NewWaitSubmittedEvent creates a WaitSubmittedEvent.
func NewWaitSubmittedEvent(id uint64, predicate string, timeout time.Duration, deadline time.Time) WaitSubmittedEvent {
	return WaitSubmittedEvent{
		baseEvent: newBaseEvent(TypeWaitSubmitted),
		RequestID: id,
		Predicate: predicate,
		Timeout:   timeout,
		Deadline:  deadline,
	}
}

// WaitResolvedEvent is emitted once per wait request when it reaches its
// terminal outcome. RequestID is 0 for submissions that were rejected
// without being registered.
type WaitResolvedEvent struct {
	baseEvent
	RequestID uint64
	Predicate string
	Outcome   result.Outcome
	Waited    time.Duration // Time from submission to resolution
}

// NewWaitResolvedEvent creates a WaitResolvedEvent.
func NewWaitResolvedEvent(id uint64, predicate string, outcome result.Outcome, waited time.Duration) WaitResolvedEvent {
	return WaitResolvedEvent{
		baseEvent: newBaseEvent(TypeWaitResolved),
		RequestID: id,
		Predicate: predicate,
		Outcome:   outcome,
		Waited:    waited,
	}
}

// -----------------------------------------------------------------------------
// Dispatcher Lifecycle Events
// -----------------------------------------------------------------------------

// DispatcherStartedEvent is emitted when a dispatcher begins reading lines.
type DispatcherStartedEvent struct {
	baseEvent
	Source string // Name of the line source
}

// NewDispatcherStartedEvent creates a DispatcherStartedEvent.
func NewDispatcherStartedEvent(source string) DispatcherStartedEvent {
	return DispatcherStartedEvent{
		baseEvent: newBaseEvent(TypeDispatcherStarted),
		Source:    source,
	}
}

// DispatcherTerminatedEvent is emitted once when a dispatcher stops and
// drains its pending requests.
type DispatcherTerminatedEvent struct {
	baseEvent
	Reason  string // "source closed", "context cancelled", "terminated"
	Drained int    // Requests resolved Unobserved by the termination
}

// NewDispatcherTerminatedEvent creates a DispatcherTerminatedEvent.
func NewDispatcherTerminatedEvent(reason string, drained int) DispatcherTerminatedEvent {
	return DispatcherTerminatedEvent{
		baseEvent: newBaseEvent(TypeDispatcherTerminated),
		Reason:    reason,
		Drained:   drained,
	}
}

// -----------------------------------------------------------------------------
// Process Events
// -----------------------------------------------------------------------------

// ProcessStartedEvent is emitted when the monitored process has started.
type ProcessStartedEvent struct {
	baseEvent
	Command string
	PID     int
}

// NewProcessStartedEvent creates a ProcessStartedEvent.
func NewProcessStartedEvent(command string, pid int) ProcessStartedEvent {
	return ProcessStartedEvent{
		baseEvent: newBaseEvent(TypeProcessStarted),
		Command:   command,
		PID:       pid,
	}
}

// ProcessExitedEvent is emitted when the monitored process has exited,
// whether on its own or because it was stopped.
type ProcessExitedEvent struct {
	baseEvent
	Command  string
	PID      int
	ExitCode int   // -1 if the process was killed by a signal
	Err      error // Wait error, if any
}

// NewProcessExitedEvent creates a ProcessExitedEvent.
func NewProcessExitedEvent(command string, pid, exitCode int, err error) ProcessExitedEvent {
	return ProcessExitedEvent{
		baseEvent: newBaseEvent(TypeProcessExited),
		Command:   command,
		PID:       pid,
		ExitCode:  exitCode,
		Err:       err,
	}
}

// -----------------------------------------------------------------------------
// Poller Events
// -----------------------------------------------------------------------------

// PollRoundCompletedEvent is emitted after each poller round.
type PollRoundCompletedEvent struct {
	baseEvent
	Round   int
	Outcome result.Outcome
	Stored  bool // False when the poller was frozen and kept its previous outcome
}

// NewPollRoundCompletedEvent creates a PollRoundCompletedEvent.
func NewPollRoundCompletedEvent(round int, outcome result.Outcome, stored bool) PollRoundCompletedEvent {
	return PollRoundCompletedEvent{
		baseEvent: newBaseEvent(TypePollRoundCompleted),
		Round:     round,
		Outcome:   outcome,
		Stored:    stored,
	}
}

// PollerStateChangedEvent is emitted on every poller state transition.
type PollerStateChangedEvent struct {
	baseEvent
	Previous string
	Current  string
}

// NewPollerStateChangedEvent creates a PollerStateChangedEvent.
func NewPollerStateChangedEvent(previous, current string) PollerStateChangedEvent {
	return PollerStateChangedEvent{
		baseEvent: newBaseEvent(TypePollerStateChanged),
		Previous:  previous,
		Current:   current,
	}
}
