package hub

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/flowkit/signalkernel/signal"
)

func TestSubscribeAndEmitDeliversMatchingSignals(t *testing.T) {
	h := New()
	var got []string
	h.Subscribe("task:*", func(_ context.Context, ev signal.EnrichedEvent) error {
		got = append(got, ev.Name)
		return nil
	})

	h.Emit(context.Background(), signal.Signal{Name: "task:complete"}, signal.EventContext{})
	h.Emit(context.Background(), signal.Signal{Name: "agent:start"}, signal.EventContext{})

	require.Equal(t, []string{"task:complete"}, got)
}

func TestEmitDeliversInSubscriptionOrder(t *testing.T) {
	h := New()
	var order []int
	for i := 0; i < 5; i++ {
		i := i
		h.Subscribe(nil, func(context.Context, signal.EnrichedEvent) error {
			order = append(order, i)
			return nil
		})
	}
	h.Emit(context.Background(), signal.Signal{Name: "x"}, signal.EventContext{})
	require.Equal(t, []int{0, 1, 2, 3, 4}, order)
}

func TestUnsubscribeIsIdempotentAndStopsDelivery(t *testing.T) {
	h := New()
	calls := 0
	unsub := h.Subscribe(nil, func(context.Context, signal.EnrichedEvent) error {
		calls++
		return nil
	})
	unsub()
	unsub() // must not panic

	h.Emit(context.Background(), signal.Signal{Name: "x"}, signal.EventContext{})
	require.Equal(t, 0, calls)
}

func TestListenerErrorIsIsolatedFromSiblings(t *testing.T) {
	var loggedErr error
	h := New(WithErrorLogger(func(_ context.Context, _ string, err error) { loggedErr = err }))

	secondRan := false
	h.Subscribe(nil, func(context.Context, signal.EnrichedEvent) error {
		return require.AnError
	})
	h.Subscribe(nil, func(context.Context, signal.EnrichedEvent) error {
		secondRan = true
		return nil
	})

	h.Emit(context.Background(), signal.Signal{Name: "x"}, signal.EventContext{})
	require.True(t, secondRan)
	require.ErrorIs(t, loggedErr, require.AnError)
}

func TestReentrantEmitIsQueuedFIFOAfterCurrentListeners(t *testing.T) {
	h := New()
	var order []string

	h.Subscribe("outer", func(ctx context.Context, ev signal.EnrichedEvent) error {
		order = append(order, "outer-listener-1")
		h.Emit(ctx, signal.Signal{Name: "inner"}, signal.EventContext{})
		return nil
	})
	h.Subscribe("outer", func(context.Context, signal.EnrichedEvent) error {
		order = append(order, "outer-listener-2")
		return nil
	})
	h.Subscribe("inner", func(context.Context, signal.EnrichedEvent) error {
		order = append(order, "inner-listener")
		return nil
	})

	h.Emit(context.Background(), signal.Signal{Name: "outer"}, signal.EventContext{})

	require.Equal(t, []string{"outer-listener-1", "outer-listener-2", "inner-listener"}, order)
}

func TestScopedMergesContextAndDoesNotLeak(t *testing.T) {
	h := New()
	ctx := context.Background()

	err := h.Scoped(ctx, signal.EventContext{SessionID: "s1"}, func(inner context.Context) error {
		return h.Scoped(inner, signal.EventContext{Phase: &signal.PhaseRef{Name: "plan"}}, func(deepest context.Context) error {
			got := h.Current(deepest)
			require.Equal(t, "s1", got.SessionID)
			require.Equal(t, "plan", got.Phase.Name)
			return nil
		})
	})
	require.NoError(t, err)

	require.Equal(t, signal.EventContext{}, h.Current(ctx))
}

func TestEmitEnrichesWithScopedContextAndOverride(t *testing.T) {
	h := New()
	var seen signal.EventContext
	h.Subscribe(nil, func(_ context.Context, ev signal.EnrichedEvent) error {
		seen = ev.Context
		return nil
	})

	_ = h.Scoped(context.Background(), signal.EventContext{SessionID: "s1"}, func(ctx context.Context) error {
		h.Emit(ctx, signal.Signal{Name: "task:start"}, signal.EventContext{Task: &signal.TaskRef{ID: "t1"}})
		return nil
	})

	require.Equal(t, "s1", seen.SessionID)
	require.Equal(t, "t1", seen.Task.ID)
}

type recordingSpy struct {
	mu     sync.Mutex
	events []signal.EnrichedEvent
}

func (r *recordingSpy) Append(_ context.Context, ev signal.EnrichedEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func TestAttachRecordingReceivesEventsForItsSessionOnly(t *testing.T) {
	h := New()
	spy := &recordingSpy{}
	detach := h.AttachRecording("s1", spy)

	h.Emit(context.Background(), signal.Signal{Name: "a"}, signal.EventContext{SessionID: "s1"})
	h.Emit(context.Background(), signal.Signal{Name: "b"}, signal.EventContext{SessionID: "s2"})

	require.Len(t, spy.events, 1)
	require.Equal(t, "a", spy.events[0].Name)

	detach()
	h.Emit(context.Background(), signal.Signal{Name: "c"}, signal.EventContext{SessionID: "s1"})
	require.Len(t, spy.events, 1, "no further events after detach")
}

func TestTimestampsAreMonotonicWithinSession(t *testing.T) {
	h := New()
	var evs []signal.EnrichedEvent
	h.Subscribe(nil, func(_ context.Context, ev signal.EnrichedEvent) error {
		evs = append(evs, ev)
		return nil
	})
	for i := 0; i < 50; i++ {
		h.Emit(context.Background(), signal.Signal{Name: "x"}, signal.EventContext{SessionID: "s1"})
	}
	for i := 1; i < len(evs); i++ {
		require.False(t, evs[i].Timestamp.Before(evs[i-1].Timestamp))
	}
}

func TestSubscriberCountReflectsActiveSubscriptions(t *testing.T) {
	h := New()
	require.Equal(t, 0, h.SubscriberCount())
	unsub := h.Subscribe(nil, func(context.Context, signal.EnrichedEvent) error { return nil })
	require.Equal(t, 1, h.SubscriberCount())
	unsub()
	require.Equal(t, 0, h.SubscriberCount())
}

func TestClearRemovesSubscribersAndRecordings(t *testing.T) {
	h := New()
	h.Subscribe(nil, func(context.Context, signal.EnrichedEvent) error { return nil })
	spy := &recordingSpy{}
	h.AttachRecording("s1", spy)

	h.Clear()
	require.Equal(t, 0, h.SubscriberCount())

	h.Emit(context.Background(), signal.Signal{Name: "x"}, signal.EventContext{SessionID: "s1"})
	require.Empty(t, spy.events)
}
