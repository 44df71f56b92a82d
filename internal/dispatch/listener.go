package dispatch

import (
	"context"
	"time"

	"github.com/Iron-Ham/logwait/internal/errors"
	"github.com/Iron-Ham/logwait/internal/predicate"
	"github.com/Iron-Ham/logwait/internal/result"
)

// Listener is the caller-facing handle on one Dispatcher. Many goroutines may
// share a Listener.
type Listener struct {
	d *Dispatcher
}

// ListenTo returns a Listener bound to d.
func ListenTo(d *Dispatcher) (*Listener, error) {
	if d == nil {
		return nil, errors.NewValidationError("cannot listen to a nil dispatcher").
			WithField("dispatcher").
			WithCause(errors.ErrNilDispatcher)
	}
	return &Listener{d: d}, nil
}

// Submit validates the request and registers it with the dispatcher.
// See Dispatcher.Submit.
func (l *Listener) Submit(p *predicate.Predicate, timeout time.Duration) (*result.Future, error) {
	if err := validateSubmission(p, timeout); err != nil {
		return nil, err
	}
	return l.d.submit(p, timeout), nil
}

// SubmitMany submits each predicate with the same timeout. Items are
// independent: if one is invalid, the handles registered before it are
// returned together with its error and the rest are not submitted.
func (l *Listener) SubmitMany(ps []*predicate.Predicate, timeout time.Duration) ([]*result.Future, error) {
	futures := make([]*result.Future, 0, len(ps))
	for i, p := range ps {
		f, err := l.Submit(p, timeout)
		if err != nil {
			return futures, errors.Wrapf(err, "predicate %d", i)
		}
		futures = append(futures, f)
	}
	return futures, nil
}

// Await submits p and blocks until it resolves or ctx is done.
func (l *Listener) Await(ctx context.Context, p *predicate.Predicate, timeout time.Duration) (result.Outcome, error) {
	f, err := l.Submit(p, timeout)
	if err != nil {
		return result.Outcome{}, err
	}
	return f.GetContext(ctx)
}

// PendingCount returns an advisory count of unresolved requests.
func (l *Listener) PendingCount() int {
	return l.d.PendingCount()
}

// Dispatcher returns the bound dispatcher.
func (l *Listener) Dispatcher() *Dispatcher {
	return l.d
}
