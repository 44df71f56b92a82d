package dispatch

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Iron-Ham/logwait/internal/errors"
	"github.com/Iron-Ham/logwait/internal/predicate"
	"github.com/Iron-Ham/logwait/internal/result"
	"github.com/Iron-Ham/logwait/internal/testutil"
)

func TestListenTo(t *testing.T) {
	_, err := ListenTo(nil)
	assert.ErrorIs(t, err, errors.ErrNilDispatcher)

	d := New()
	l, err := ListenTo(d)
	require.NoError(t, err)
	assert.Same(t, d, l.Dispatcher())
}

func TestListenerSubmit(t *testing.T) {
	d, src, _ := startDispatcher(t)
	l, err := ListenTo(d)
	require.NoError(t, err)

	_, err = l.Submit(nil, time.Second)
	assert.ErrorIs(t, err, errors.ErrNilPredicate)
	_, err = l.Submit(predicate.MustLeaf("x"), -1)
	assert.ErrorIs(t, err, errors.ErrNegativeTimeout)

	f, err := l.Submit(predicate.MustLeaf("heartbeat"), time.Second)
	require.NoError(t, err)
	assert.Equal(t, 1, l.PendingCount())

	src.Push("p2p heartbeat")
	testutil.RequireStatus(t, f, result.StatusObserved, time.Second)
	assert.Equal(t, 0, l.PendingCount())
}

func TestListenerSubmitMany(t *testing.T) {
	t.Run("all valid", func(t *testing.T) {
		d, src, _ := startDispatcher(t)
		l, _ := ListenTo(d)

		ps := []*predicate.Predicate{
			predicate.MustLeaf("tx sealed"),
			predicate.MustLeaf("tx rejected"),
			predicate.MustLeaf("tx sealed"),
		}
		futures, err := l.SubmitMany(ps, 300*time.Millisecond)
		require.NoError(t, err)
		require.Len(t, futures, 3)

		src.Push("tx sealed 0xabc")

		testutil.RequireStatus(t, futures[0], result.StatusObserved, time.Second)
		testutil.RequireStatus(t, futures[1], result.StatusExpired, time.Second)
		testutil.RequireStatus(t, futures[2], result.StatusObserved, time.Second)
	})

	t.Run("no rollback on an invalid item", func(t *testing.T) {
		d := New()
		l, _ := ListenTo(d)

		futures, err := l.SubmitMany([]*predicate.Predicate{
			predicate.MustLeaf("first"),
			nil,
			predicate.MustLeaf("third"),
		}, time.Second)

		require.Error(t, err)
		assert.ErrorIs(t, err, errors.ErrNilPredicate)
		assert.Contains(t, err.Error(), "predicate 1")
		assert.Len(t, futures, 1, "items before the invalid one stay registered")
		assert.Equal(t, 1, l.PendingCount())

		d.Terminate()
		testutil.RequireStatus(t, futures[0], result.StatusUnobserved, time.Second)
	})

	t.Run("empty list", func(t *testing.T) {
		l, _ := ListenTo(New())
		futures, err := l.SubmitMany(nil, time.Second)
		require.NoError(t, err)
		assert.Empty(t, futures)
	})
}

func TestListenerAwait(t *testing.T) {
	d, src, _ := startDispatcher(t)
	l, _ := ListenTo(d)

	go func() {
		time.Sleep(20 * time.Millisecond)
		src.Push("block sealed")
	}()

	o, err := l.Await(context.Background(), predicate.MustLeaf("block sealed"), time.Second)
	require.NoError(t, err)
	assert.True(t, o.IsObserved())

	_, err = l.Await(context.Background(), nil, time.Second)
	assert.ErrorIs(t, err, errors.ErrNilPredicate)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = l.Await(ctx, predicate.MustLeaf("never"), time.Minute)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestStats(t *testing.T) {
	d, src, _ := startDispatcher(t)

	seen, _ := d.Submit(predicate.MustLeaf("one"), time.Second)
	expired, _ := d.Submit(predicate.MustLeaf("two"), 10*time.Millisecond)
	_, _ = d.Submit(predicate.MustLeaf("three"), time.Minute)

	src.Push("one")
	testutil.RequireStatus(t, seen, result.StatusObserved, time.Second)
	testutil.RequireStatus(t, expired, result.StatusExpired, time.Second)

	d.Terminate()
	_, _ = d.Submit(predicate.MustLeaf("four"), time.Second)

	s := d.Stats()
	assert.Equal(t, uint64(4), s.Submitted)
	assert.Equal(t, uint64(1), s.Observed)
	assert.Equal(t, uint64(1), s.Expired)
	assert.Equal(t, uint64(1), s.Unobserved)
	assert.Equal(t, uint64(1), s.Rejected)
	assert.Equal(t, uint64(4), s.Resolved())
	assert.Equal(t, 0, s.Pending)
	assert.GreaterOrEqual(t, s.Lines, uint64(1))
}
