package poller

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Iron-Ham/logwait/internal/dispatch"
	"github.com/Iron-Ham/logwait/internal/errors"
	"github.com/Iron-Ham/logwait/internal/event"
	"github.com/Iron-Ham/logwait/internal/linesource"
	"github.com/Iron-Ham/logwait/internal/predicate"
	"github.com/Iron-Ham/logwait/internal/result"
)

func startListener(t *testing.T) (*dispatch.Listener, *linesource.ChannelSource) {
	t.Helper()

	d := dispatch.New()
	src := linesource.NewChannelSource("test", 64)
	go func() { _ = d.Run(context.Background(), src) }()
	require.Eventually(t, func() bool { return d.State() == dispatch.StateRunning }, time.Second, time.Millisecond)

	l, err := dispatch.ListenTo(d)
	require.NoError(t, err)
	t.Cleanup(d.Terminate)
	return l, src
}

func heartbeat() *predicate.Predicate { return predicate.MustLeaf("heartbeat") }

func TestNewValidation(t *testing.T) {
	l, _ := startListener(t)

	_, err := New(nil, heartbeat, time.Second)
	assert.ErrorIs(t, err, errors.ErrInvalidInput)

	_, err = New(l, nil, time.Second)
	assert.ErrorIs(t, err, errors.ErrInvalidInput)

	_, err = New(l, heartbeat, -time.Second)
	assert.ErrorIs(t, err, errors.ErrNegativeTimeout)

	p, err := New(l, heartbeat, time.Second)
	require.NoError(t, err)
	assert.Equal(t, StateIdle, p.State())
	_, ok := p.Latest()
	assert.False(t, ok)
}

func TestPollsRepeatedly(t *testing.T) {
	l, src := startListener(t)

	p, err := New(l, heartbeat, time.Second)
	require.NoError(t, err)
	require.NoError(t, p.Start())
	t.Cleanup(p.Stop)
	assert.Equal(t, StatePolling, p.State())

	// Keep beating until a few rounds have completed.
	stopBeat := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(5 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-stopBeat:
				return
			case <-ticker.C:
				src.Push("p2p heartbeat")
			}
		}
	}()

	require.Eventually(t, func() bool { return p.Rounds() >= 3 }, 2*time.Second, 5*time.Millisecond)
	close(stopBeat)
	wg.Wait()

	latest, ok := p.Latest()
	require.True(t, ok)
	assert.Equal(t, result.StatusObserved, latest.Status())

	p.Stop()
	assert.Equal(t, StateStopped, p.State())
	assert.NoError(t, p.Err())
	assert.ErrorIs(t, p.Start(), ErrAlreadyStarted)
}

func TestFreezeKeepsFirstOutcome(t *testing.T) {
	l, _ := startListener(t)

	p, err := New(l, heartbeat, 10*time.Millisecond)
	require.NoError(t, err)
	p.Freeze()
	assert.Equal(t, StateIdle, p.State(), "freezing does not start polling")

	require.NoError(t, p.Start())
	t.Cleanup(p.Stop)
	assert.Equal(t, StateFrozen, p.State())

	require.Eventually(t, func() bool { return p.Rounds() >= 3 }, 2*time.Second, 5*time.Millisecond)

	latest, ok := p.Latest()
	require.True(t, ok, "the first outcome is stored even when frozen")
	assert.Equal(t, result.StatusExpired, latest.Status())

	p.Unfreeze()
	assert.Equal(t, StatePolling, p.State())
}

func TestFrozenLatestDoesNotChange(t *testing.T) {
	l, src := startListener(t)

	p, err := New(l, heartbeat, 20*time.Millisecond)
	require.NoError(t, err)
	require.NoError(t, p.Start())
	t.Cleanup(p.Stop)

	require.Eventually(t, func() bool { return p.Rounds() >= 1 }, time.Second, time.Millisecond)
	p.Freeze()
	frozen, ok := p.Latest()
	require.True(t, ok)
	require.Equal(t, result.StatusExpired, frozen.Status())

	rounds := p.Rounds()
	src.Push("heartbeat")
	require.Eventually(t, func() bool { return p.Rounds() >= rounds+2 }, time.Second, time.Millisecond)

	latest, _ := p.Latest()
	assert.Equal(t, frozen, latest)
}

func TestEndsWhenProcessGone(t *testing.T) {
	l, _ := startListener(t)

	bus := event.NewBus(nil)
	var mu sync.Mutex
	var transitions []string
	bus.Subscribe(event.TypePollerStateChanged, func(e event.Event) {
		mu.Lock()
		defer mu.Unlock()
		transitions = append(transitions, e.(event.PollerStateChangedEvent).Current)
	})

	p, err := New(l, heartbeat, time.Minute, WithBus(bus))
	require.NoError(t, err)
	require.NoError(t, p.Start())

	require.Eventually(t, func() bool { return l.PendingCount() == 1 }, time.Second, time.Millisecond)
	l.Dispatcher().Terminate()

	select {
	case <-p.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("poller should stop once the dispatcher terminates")
	}

	latest, ok := p.Latest()
	require.True(t, ok)
	assert.Equal(t, result.StatusUnobserved, latest.Status())
	assert.Equal(t, 1, p.Rounds())
	assert.Equal(t, StateStopped, p.State())

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"polling", "stopped"}, transitions)
}

func TestRejectedAfterTermination(t *testing.T) {
	d := dispatch.New()
	d.Terminate()

	p, err := New(d, heartbeat, time.Second)
	require.NoError(t, err)
	require.NoError(t, p.Start())
	<-p.Done()

	latest, ok := p.Latest()
	require.True(t, ok)
	assert.Equal(t, result.StatusRejected, latest.Status())
}

type failingSubmitter struct{}

func (failingSubmitter) Submit(*predicate.Predicate, time.Duration) (*result.Future, error) {
	return nil, errors.ErrNilPredicate
}

func TestSubmitErrorStops(t *testing.T) {
	p, err := New(failingSubmitter{}, heartbeat, time.Second)
	require.NoError(t, err)
	require.NoError(t, p.Start())
	<-p.Done()

	assert.ErrorIs(t, p.Err(), errors.ErrNilPredicate)
	assert.Equal(t, 0, p.Rounds())
}

func TestStopBeforeStart(t *testing.T) {
	p, err := New(failingSubmitter{}, heartbeat, time.Second)
	require.NoError(t, err)

	p.Stop()
	p.Stop()
	assert.Equal(t, StateStopped, p.State())
	assert.ErrorIs(t, p.Start(), ErrAlreadyStarted)
}

func TestStateString(t *testing.T) {
	for s, want := range map[State]string{
		StateIdle:    "idle",
		StatePolling: "polling",
		StateFrozen:  "frozen",
		StateStopped: "stopped",
		State(9):     "unknown",
	} {
		assert.Equal(t, want, s.String())
	}
}
