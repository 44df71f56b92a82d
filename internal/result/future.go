package result

import (
	"context"
	"sync"
	"time"

	"github.com/Iron-Ham/logwait/internal/errors"
	"github.com/sourcegraph/conc/iter"
)

// Future is a single-assignment cell holding the Outcome of one wait.
// Resolve succeeds at most once; every later call is ignored. Any number of
// goroutines may block on Get, GetTimeout or GetContext.
type Future struct {
	mu      sync.Mutex
	done    chan struct{}
	outcome Outcome
}

// NewFuture returns an unresolved Future.
func NewFuture() *Future {
	return &Future{done: make(chan struct{})}
}

// Resolved returns a Future already holding o.
func Resolved(o Outcome) *Future {
	f := NewFuture()
	f.Resolve(o)
	return f
}

// Resolve stores o and wakes all waiters. It reports whether this call set
// the outcome; false means an earlier Resolve won. Resolve never blocks on
// waiters.
func (f *Future) Resolve(o Outcome) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	select {
	case <-f.done:
		return false
	default:
	}
	f.outcome = o
	close(f.done)
	return true
}

// Done returns a channel closed once the outcome is set.
func (f *Future) Done() <-chan struct{} {
	return f.done
}

// Peek returns the outcome and true if it is already set.
func (f *Future) Peek() (Outcome, bool) {
	select {
	case <-f.done:
		return f.load(), true
	default:
		return Outcome{}, false
	}
}

// Get blocks until the outcome is set.
func (f *Future) Get() Outcome {
	<-f.done
	return f.load()
}

// GetTimeout blocks up to d for the outcome. If the caller's wait runs out
// first it returns a *errors.TimeoutError matching errors.ErrWaitTimeout.
// That error is about the caller giving up; it is unrelated to an Expired
// outcome, which means the event itself did not appear in time.
func (f *Future) GetTimeout(d time.Duration) (Outcome, error) {
	if o, ok := f.Peek(); ok {
		return o, nil
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-f.done:
		return f.load(), nil
	case <-timer.C:
		return Outcome{}, errors.NewTimeoutError("waiting for outcome", d).
			WithCause(errors.ErrWaitTimeout)
	}
}

// GetContext blocks until the outcome is set or ctx is done, in which case
// it returns ctx.Err().
func (f *Future) GetContext(ctx context.Context) (Outcome, error) {
	select {
	case <-f.done:
		return f.load(), nil
	case <-ctx.Done():
		// Prefer a result that raced in with cancellation.
		if o, ok := f.Peek(); ok {
			return o, nil
		}
		return Outcome{}, ctx.Err()
	}
}

func (f *Future) load() Outcome {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.outcome
}

// AwaitAll waits for every future concurrently and returns their outcomes in
// order. If ctx ends first the returned slice holds the outcomes gathered so
// far (zero Outcomes elsewhere) and the context error.
func AwaitAll(ctx context.Context, futures []*Future) ([]Outcome, error) {
	mapper := iter.Mapper[*Future, Outcome]{MaxGoroutines: len(futures)}
	outcomes, err := mapper.MapErr(futures, func(f **Future) (Outcome, error) {
		return (*f).GetContext(ctx)
	})
	if err != nil {
		return outcomes, ctx.Err()
	}
	return outcomes, nil
}
