// Package dispatch matches process output against outstanding waits.
//
// A Dispatcher owns the active set of wait requests for one monitored
// process. Run reads lines from a linesource.Source on a single goroutine;
// that goroutine is the only writer of leaf observation state. Submit may be
// called from any goroutine and returns a *result.Future that is resolved
// exactly once: Observed on a match, Expired when the deadline passes,
// Unobserved when monitoring ends, or Rejected when monitoring had already
// ended at submission.
//
// Submit, line processing and termination share one mutex over the active
// set, so every request is either seen by a given line or not, and no
// request can be registered after the final drain.
package dispatch

import (
	"context"
	"sync"
	"time"

	"github.com/Iron-Ham/logwait/internal/errors"
	"github.com/Iron-Ham/logwait/internal/event"
	"github.com/Iron-Ham/logwait/internal/linesource"
	"github.com/Iron-Ham/logwait/internal/logging"
	"github.com/Iron-Ham/logwait/internal/predicate"
	"github.com/Iron-Ham/logwait/internal/result"
)

// ErrAlreadyRunning is returned by Run when the dispatcher is already reading.
var ErrAlreadyRunning = errors.New("dispatcher already running")

// Termination reasons reported in logs and events.
const (
	ReasonSourceClosed     = "source closed"
	ReasonContextCancelled = "context cancelled"
	ReasonTerminated       = "terminated"
)

// State is the lifecycle state of a Dispatcher.
type State int

const (
	// StateNotStarted means Run has not been called. Submissions are
	// registered and start being matched once Run starts.
	StateNotStarted State = iota
	// StateRunning means lines are being read and matched.
	StateRunning
	// StateTerminated means monitoring has ended. It is final.
	StateTerminated
)

// String returns a human-readable string for the state.
func (s State) String() string {
	switch s {
	case StateNotStarted:
		return "not_started"
	case StateRunning:
		return "running"
	case StateTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// request is one outstanding wait.
type request struct {
	id        uint64
	pred      *predicate.Predicate
	submitted time.Time
	deadline  time.Time
	future    *result.Future
}

// resolution records a request resolved under the lock, reported after it
// is released.
type resolution struct {
	req     *request
	outcome result.Outcome
	at      time.Time
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithLogger sets the logger. The default discards output.
func WithLogger(l *logging.Logger) Option {
	return func(d *Dispatcher) {
		if l != nil {
			d.logger = l
		}
	}
}

// WithBus publishes wait and lifecycle events on bus.
func WithBus(bus *event.Bus) Option {
	return func(d *Dispatcher) {
		d.bus = bus
	}
}

// Dispatcher resolves wait requests against the lines of one process.
type Dispatcher struct {
	mu     sync.Mutex
	state  State
	active map[uint64]*request
	nextID uint64
	stats  Stats

	// wake nudges the reader to re-arm its deadline timer after Submit.
	wake     chan struct{}
	stop     chan struct{}
	stopOnce sync.Once

	logger *logging.Logger
	bus    *event.Bus
}

// New creates a Dispatcher in StateNotStarted.
func New(opts ...Option) *Dispatcher {
	d := &Dispatcher{
		active: make(map[uint64]*request),
		wake:   make(chan struct{}, 1),
		stop:   make(chan struct{}),
		logger: logging.NopLogger(),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.logger = d.logger.WithComponent("dispatcher")
	return d
}

// Run reads lines from src until src closes, ctx is done or Terminate is
// called, then terminates the dispatcher. Run returns src.Err() when the
// source ended, ctx.Err() when the context ended and nil after Terminate.
// A dispatcher runs at most once.
func (d *Dispatcher) Run(ctx context.Context, src linesource.Source) error {
	d.mu.Lock()
	switch d.state {
	case StateRunning:
		d.mu.Unlock()
		return ErrAlreadyRunning
	case StateTerminated:
		d.mu.Unlock()
		return errors.ErrDispatcherTerminated
	}
	d.state = StateRunning
	pending := len(d.active)
	d.mu.Unlock()

	d.logger.Info("dispatcher started", "source", src.Name(), "pending", pending)
	d.bus.Publish(event.NewDispatcherStartedEvent(src.Name()))

	timer := time.NewTimer(time.Hour)
	timer.Stop()
	defer timer.Stop()

	// Requests registered before Run may already be due.
	d.sweep()

	for {
		d.armTimer(timer)

		select {
		case line, ok := <-src.Lines():
			if !ok {
				err := src.Err()
				if err != nil {
					d.logger.Warn("line source failed", "source", src.Name(), "error", err.Error())
				}
				d.terminate(ReasonSourceClosed)
				return err
			}
			d.processLine(line)

		case <-timer.C:
			d.sweep()

		case <-d.wake:
			// Re-arm for a nearer deadline.

		case <-ctx.Done():
			d.terminate(ReasonContextCancelled)
			return ctx.Err()

		case <-d.stop:
			return nil
		}
	}
}

// armTimer sets timer to fire at the earliest pending deadline.
func (d *Dispatcher) armTimer(timer *time.Timer) {
	d.mu.Lock()
	var earliest time.Time
	for _, r := range d.active {
		if earliest.IsZero() || r.deadline.Before(earliest) {
			earliest = r.deadline
		}
	}
	d.mu.Unlock()

	timer.Stop()
	if earliest.IsZero() {
		return
	}
	wait := time.Until(earliest)
	if wait < 0 {
		wait = 0
	}
	timer.Reset(wait)
}

// processLine feeds one line to every distinct leaf of every active request,
// then resolves what became observed and what is past its deadline.
func (d *Dispatcher) processLine(line string) {
	d.mu.Lock()
	if d.state != StateRunning {
		d.mu.Unlock()
		return
	}
	// Stamped under mu so no request registered before the stamp can see
	// a line that arrived before it.
	now := time.Now()
	d.stats.Lines++

	seen := make(map[*predicate.Predicate]struct{})
	var leaves []*predicate.Predicate
	for _, r := range d.active {
		r.pred.CollectLeaves(seen, &leaves)
	}
	for _, leaf := range leaves {
		leaf.FeedLeaf(line, now)
	}

	resolved := d.resolveLocked(now)
	d.mu.Unlock()

	d.report(resolved)
}

// sweep resolves requests whose deadline has passed.
func (d *Dispatcher) sweep() {
	now := time.Now()

	d.mu.Lock()
	if d.state != StateRunning {
		d.mu.Unlock()
		return
	}
	resolved := d.resolveLocked(now)
	d.mu.Unlock()

	d.report(resolved)
}

// resolveLocked resolves and removes every active request that is observed
// or due at now. Observed takes precedence over a deadline that passed in
// the same pass. Caller holds mu.
func (d *Dispatcher) resolveLocked(now time.Time) []resolution {
	var out []resolution
	for id, r := range d.active {
		var outcome result.Outcome
		if st := r.pred.State(); st.Observed {
			outcome = result.Observed(st.At)
			d.stats.Observed++
		} else if !now.Before(r.deadline) {
			outcome = result.Expired()
			d.stats.Expired++
		} else {
			continue
		}
		r.future.Resolve(outcome)
		delete(d.active, id)
		out = append(out, resolution{req: r, outcome: outcome, at: now})
	}
	return out
}

// Terminate ends monitoring: every pending request resolves Unobserved
// (or Observed if its predicate was observed before this call) and later
// submissions are rejected. It stops a running Run loop. Calling it more
// than once has no further effect.
func (d *Dispatcher) Terminate() {
	d.terminate(ReasonTerminated)
}

func (d *Dispatcher) terminate(reason string) {
	now := time.Now()

	d.mu.Lock()
	if d.state == StateTerminated {
		d.mu.Unlock()
		return
	}
	d.state = StateTerminated

	drained := make([]resolution, 0, len(d.active))
	for id, r := range d.active {
		outcome := result.Unobserved()
		if st := r.pred.State(); st.Observed {
			outcome = result.Observed(st.At)
			d.stats.Observed++
		} else {
			d.stats.Unobserved++
		}
		r.future.Resolve(outcome)
		delete(d.active, id)
		drained = append(drained, resolution{req: r, outcome: outcome, at: now})
	}
	d.stopOnce.Do(func() { close(d.stop) })
	d.mu.Unlock()

	d.report(drained)
	d.logger.Info("dispatcher terminated", "reason", reason, "drained", len(drained))
	d.bus.Publish(event.NewDispatcherTerminatedEvent(reason, len(drained)))
}

// Submit registers a wait for p lasting timeout and returns its handle.
//
// A nil predicate or negative timeout is a programmer error and is returned
// as a *errors.ValidationError. After termination the returned handle is
// already resolved Rejected("no active process"). If p is already observed
// the handle is resolved Observed with the original timestamp; use
// p.Fresh() to wait for a new occurrence instead.
func (d *Dispatcher) Submit(p *predicate.Predicate, timeout time.Duration) (*result.Future, error) {
	if err := validateSubmission(p, timeout); err != nil {
		return nil, err
	}
	return d.submit(p, timeout), nil
}

func (d *Dispatcher) submit(p *predicate.Predicate, timeout time.Duration) *result.Future {
	now := time.Now()

	d.mu.Lock()
	d.stats.Submitted++

	if d.state == StateTerminated {
		d.stats.Rejected++
		d.mu.Unlock()

		outcome := result.Rejected(result.CauseNoActiveProcess)
		d.logger.Debug("wait rejected", "predicate", p.String(), "cause", result.CauseNoActiveProcess)
		d.bus.Publish(event.NewWaitResolvedEvent(0, p.String(), outcome, 0))
		return result.Resolved(outcome)
	}

	d.nextID++
	r := &request{
		id:        d.nextID,
		pred:      p,
		submitted: now,
		deadline:  now.Add(timeout),
		future:    result.NewFuture(),
	}

	if st := p.State(); st.Observed {
		d.stats.Observed++
		outcome := result.Observed(st.At)
		r.future.Resolve(outcome)
		d.mu.Unlock()

		d.report([]resolution{{req: r, outcome: outcome, at: now}})
		return r.future
	}

	d.active[r.id] = r
	d.mu.Unlock()

	d.logger.WithRequest(r.id).Debug("wait submitted",
		"predicate", p.String(),
		"timeout", timeout.String())
	d.bus.Publish(event.NewWaitSubmittedEvent(r.id, p.String(), timeout, r.deadline))

	select {
	case d.wake <- struct{}{}:
	default:
	}
	return r.future
}

// report logs and publishes resolutions. It must be called without mu held.
func (d *Dispatcher) report(resolved []resolution) {
	for _, res := range resolved {
		waited := res.at.Sub(res.req.submitted)
		d.logger.WithRequest(res.req.id).Debug("wait resolved",
			"predicate", res.req.pred.String(),
			"status", res.outcome.Status().String(),
			"waited_ms", waited.Milliseconds())
		d.bus.Publish(event.NewWaitResolvedEvent(res.req.id, res.req.pred.String(), res.outcome, waited))
	}
}

// PendingCount returns the number of unresolved requests. The value is
// advisory and may be stale as soon as it is returned.
func (d *Dispatcher) PendingCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.active)
}

// State returns the current lifecycle state.
func (d *Dispatcher) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// Done returns a channel closed when the dispatcher terminates.
func (d *Dispatcher) Done() <-chan struct{} {
	return d.stop
}

// validateSubmission rejects programmer errors before anything is registered.
func validateSubmission(p *predicate.Predicate, timeout time.Duration) error {
	if p == nil {
		return errors.NewValidationError("cannot wait for a nil predicate").
			WithField("predicate").
			WithCause(errors.ErrNilPredicate)
	}
	if timeout < 0 {
		return errors.NewValidationError("timeout must not be negative").
			WithField("timeout").
			WithValue(timeout).
			WithCause(errors.ErrNegativeTimeout)
	}
	return nil
}
