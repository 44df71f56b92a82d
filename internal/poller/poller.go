// Package poller repeatedly waits for an event and keeps the latest outcome.
//
// A Poller runs rounds on its own goroutine. Each round asks a Factory for a
// new predicate, submits it with a fixed timeout and blocks on the handle.
// The outcome is stored as Latest unless the poller is frozen; the first
// outcome is always stored so a frozen poller still reports something.
// Polling ends on Stop, or when an outcome shows there is no process left
// to watch (Rejected or Unobserved).
package poller

import (
	"sync"
	"time"

	"github.com/Iron-Ham/logwait/internal/errors"
	"github.com/Iron-Ham/logwait/internal/event"
	"github.com/Iron-Ham/logwait/internal/logging"
	"github.com/Iron-Ham/logwait/internal/predicate"
	"github.com/Iron-Ham/logwait/internal/result"
)

// ErrAlreadyStarted is returned by Start on a poller that was started before.
var ErrAlreadyStarted = errors.New("poller already started")

// Submitter registers waits. *dispatch.Listener and *dispatch.Dispatcher
// satisfy it.
type Submitter interface {
	Submit(p *predicate.Predicate, timeout time.Duration) (*result.Future, error)
}

// Factory returns the predicate for one round. It must return a tree with
// no prior observations, such as a new leaf or p.Fresh().
type Factory func() *predicate.Predicate

// State is the lifecycle state of a Poller.
type State int

const (
	StateIdle State = iota
	StatePolling
	StateFrozen
	StateStopped
)

// String returns a human-readable string for the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StatePolling:
		return "polling"
	case StateFrozen:
		return "frozen"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Option configures a Poller.
type Option func(*Poller)

// WithLogger sets the logger. The default discards output.
func WithLogger(l *logging.Logger) Option {
	return func(p *Poller) {
		if l != nil {
			p.logger = l
		}
	}
}

// WithBus publishes round and state change events on bus.
func WithBus(bus *event.Bus) Option {
	return func(p *Poller) {
		p.bus = bus
	}
}

// Poller repeatedly waits for the predicate built by its Factory.
type Poller struct {
	submitter Submitter
	factory   Factory
	timeout   time.Duration

	mu        sync.Mutex
	started   bool
	stopped   bool
	frozen    bool
	latest    result.Outcome
	hasLatest bool
	rounds    int
	err       error

	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}

	logger *logging.Logger
	bus    *event.Bus
}

// New creates an idle poller. Every round waits up to timeout.
func New(submitter Submitter, factory Factory, timeout time.Duration, opts ...Option) (*Poller, error) {
	if submitter == nil {
		return nil, errors.NewValidationError("submitter is required").WithField("submitter")
	}
	if factory == nil {
		return nil, errors.NewValidationError("factory is required").WithField("factory")
	}
	if timeout < 0 {
		return nil, errors.NewValidationError("timeout must not be negative").
			WithField("timeout").
			WithValue(timeout).
			WithCause(errors.ErrNegativeTimeout)
	}

	p := &Poller{
		submitter: submitter,
		factory:   factory,
		timeout:   timeout,
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
		logger:    logging.NopLogger(),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = p.logger.WithComponent("poller")
	return p, nil
}

// Start launches the polling goroutine. A poller can be started once, and
// not after Stop.
func (p *Poller) Start() error {
	p.mu.Lock()
	if p.started || p.stopped {
		p.mu.Unlock()
		return ErrAlreadyStarted
	}
	prev := p.stateLocked()
	p.started = true
	cur := p.stateLocked()
	p.mu.Unlock()

	p.logger.Info("poller started", "timeout", p.timeout.String())
	p.publishState(prev, cur)
	go p.loop()
	return nil
}

// Stop ends polling and waits for the polling goroutine to exit. The wait
// in flight is abandoned; its handle still resolves in the dispatcher.
// Stop on a poller that was never started only marks it stopped.
func (p *Poller) Stop() {
	p.stopOnce.Do(func() { close(p.stop) })

	p.mu.Lock()
	started := p.started
	p.mu.Unlock()

	if started {
		<-p.done
		return
	}
	p.finish(nil)
}

// Done returns a channel closed when polling has ended.
func (p *Poller) Done() <-chan struct{} {
	return p.done
}

// Freeze stops Latest from changing once it holds an outcome.
func (p *Poller) Freeze() {
	p.setFrozen(true)
}

// Unfreeze lets every round's outcome replace Latest again.
func (p *Poller) Unfreeze() {
	p.setFrozen(false)
}

func (p *Poller) setFrozen(frozen bool) {
	p.mu.Lock()
	prev := p.stateLocked()
	p.frozen = frozen
	cur := p.stateLocked()
	p.mu.Unlock()

	p.publishState(prev, cur)
}

// Latest returns the most recently stored outcome, and false before the
// first round completes.
func (p *Poller) Latest() (result.Outcome, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.latest, p.hasLatest
}

// Rounds returns the number of completed rounds.
func (p *Poller) Rounds() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.rounds
}

// Err returns the submission error that ended polling, if any.
func (p *Poller) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

// State returns the current state.
func (p *Poller) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stateLocked()
}

func (p *Poller) stateLocked() State {
	switch {
	case p.stopped:
		return StateStopped
	case !p.started:
		return StateIdle
	case p.frozen:
		return StateFrozen
	default:
		return StatePolling
	}
}

func (p *Poller) loop() {
	for {
		select {
		case <-p.stop:
			p.finish(nil)
			return
		default:
		}

		f, err := p.submitter.Submit(p.factory(), p.timeout)
		if err != nil {
			p.logger.Error("submit failed", "error", err.Error())
			p.finish(err)
			return
		}

		select {
		case <-f.Done():
		case <-p.stop:
			p.finish(nil)
			return
		}

		outcome := f.Get()
		p.record(outcome)

		switch outcome.Status() {
		case result.StatusRejected, result.StatusUnobserved:
			p.logger.Info("nothing left to watch", "status", outcome.Status().String())
			p.finish(nil)
			return
		}
	}
}

// record counts a completed round and stores its outcome unless frozen.
func (p *Poller) record(o result.Outcome) {
	p.mu.Lock()
	p.rounds++
	round := p.rounds
	stored := !p.frozen || !p.hasLatest
	if stored {
		p.latest = o
		p.hasLatest = true
	}
	p.mu.Unlock()

	p.logger.Debug("round completed",
		"round", round,
		"status", o.Status().String(),
		"stored", stored)
	p.bus.Publish(event.NewPollRoundCompletedEvent(round, o, stored))
}

// finish moves to StateStopped and closes done. Only the first call has
// an effect.
func (p *Poller) finish(err error) {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	prev := p.stateLocked()
	p.stopped = true
	p.err = err
	rounds := p.rounds
	p.mu.Unlock()

	p.logger.Info("poller stopped", "rounds", rounds)
	p.publishState(prev, StateStopped)
	close(p.done)
}

func (p *Poller) publishState(prev, cur State) {
	if prev == cur {
		return
	}
	p.bus.Publish(event.NewPollerStateChangedEvent(prev.String(), cur.String()))
}
