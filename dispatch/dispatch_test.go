package dispatch_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/flowkit/signalkernel/dispatch"
	"github.com/flowkit/signalkernel/signal"
)

type state struct {
	reduced  []string
	handled  []string
	managed  []string
	counter  int
}

type recordingDispatcher struct {
	hub func(context.Context, signal.Signal) signal.EnrichedEvent
}

func (d recordingDispatcher) Emit(ctx context.Context, sig signal.Signal) signal.EnrichedEvent {
	return d.hub(ctx, sig)
}

func newEnriched(name string) signal.EnrichedEvent {
	return signal.EnrichedEvent{Name: name}
}

// TestLoop_TierOrdering verifies spec.md §4.H step order: for a dispatched
// signal, all matching reducers run, then all matching handlers, then all
// matching process managers, in registration order within each tier.
func TestLoop_TierOrdering(t *testing.T) {
	loop := dispatch.NewLoop[state]()
	loop.AddReducer("task:*", func(st state, ev signal.EnrichedEvent) state {
		st.reduced = append(st.reduced, ev.Name)
		return st
	})
	loop.AddReducer("task:*", func(st state, ev signal.EnrichedEvent) state {
		st.reduced = append(st.reduced, "second-reducer:"+ev.Name)
		return st
	})
	loop.AddHandler("task:*", func(st state, ev signal.EnrichedEvent) (state, []signal.Signal) {
		st.handled = append(st.handled, ev.Name)
		return st, nil
	})
	loop.AddProcessManager("task:*", func(st state, ev signal.EnrichedEvent) []signal.Signal {
		return nil
	})

	d := recordingDispatcher{hub: func(_ context.Context, sig signal.Signal) signal.EnrichedEvent {
		return newEnriched(sig.Name)
	}}

	final := loop.Run(context.Background(), d, state{}, newEnriched("task:start"))

	require.Equal(t, []string{"task:start", "second-reducer:task:start"}, final.reduced)
	require.Equal(t, []string{"task:start"}, final.handled)
}

// TestLoop_HandlerFollowUpsAreDispatched verifies follow-up signals a
// handler returns are emitted via the Dispatcher and enqueued for
// processing, per spec.md §4.H step 5.
func TestLoop_HandlerFollowUpsAreDispatched(t *testing.T) {
	loop := dispatch.NewLoop[state]()
	loop.AddHandler("task:start", func(st state, _ signal.EnrichedEvent) (state, []signal.Signal) {
		return st, []signal.Signal{{Name: "task:attempt"}}
	})
	loop.AddReducer("task:attempt", func(st state, ev signal.EnrichedEvent) state {
		st.counter++
		return st
	})
	loop.EndWhen(func(st state) bool { return st.counter > 0 })

	var emitted []string
	d := recordingDispatcher{hub: func(_ context.Context, sig signal.Signal) signal.EnrichedEvent {
		emitted = append(emitted, sig.Name)
		return newEnriched(sig.Name)
	}}

	final := loop.Run(context.Background(), d, state{}, newEnriched("task:start"))

	require.Equal(t, []string{"task:attempt"}, emitted)
	require.Equal(t, 1, final.counter)
}

// TestLoop_ProcessManagerFollowUps verifies process managers contribute
// follow-up signals without needing a handler registered for the same
// pattern.
func TestLoop_ProcessManagerFollowUps(t *testing.T) {
	loop := dispatch.NewLoop[state]()
	loop.AddProcessManager("task:start", func(st state, _ signal.EnrichedEvent) []signal.Signal {
		return []signal.Signal{{Name: "policy:decision"}}
	})
	loop.AddReducer("policy:decision", func(st state, ev signal.EnrichedEvent) state {
		st.managed = append(st.managed, ev.Name)
		return st
	})

	d := recordingDispatcher{hub: func(_ context.Context, sig signal.Signal) signal.EnrichedEvent {
		return newEnriched(sig.Name)
	}}

	final := loop.Run(context.Background(), d, state{}, newEnriched("task:start"))

	require.Equal(t, []string{"policy:decision"}, final.managed)
}

// TestLoop_EndWhenStopsBeforeQueueDrains verifies EndWhen's predicate, once
// true, halts the loop even with signals still queued.
func TestLoop_EndWhenStopsBeforeQueueDrains(t *testing.T) {
	loop := dispatch.NewLoop[state]()
	loop.AddHandler("task:start", func(st state, _ signal.EnrichedEvent) (state, []signal.Signal) {
		return st, []signal.Signal{{Name: "task:a"}, {Name: "task:b"}}
	})
	loop.AddReducer("task:*", func(st state, ev signal.EnrichedEvent) state {
		st.reduced = append(st.reduced, ev.Name)
		return st
	})
	loop.EndWhen(func(st state) bool { return len(st.reduced) >= 2 })

	d := recordingDispatcher{hub: func(_ context.Context, sig signal.Signal) signal.EnrichedEvent {
		return newEnriched(sig.Name)
	}}

	final := loop.Run(context.Background(), d, state{}, newEnriched("task:start"))

	require.Len(t, final.reduced, 2)
}

// TestLoop_NoMatchLeavesStateUnchanged verifies an emitted signal matching
// no registration is a no-op.
func TestLoop_NoMatchLeavesStateUnchanged(t *testing.T) {
	loop := dispatch.NewLoop[state]()
	loop.AddReducer("other:*", func(st state, _ signal.EnrichedEvent) state {
		st.counter++
		return st
	})

	d := recordingDispatcher{hub: func(_ context.Context, sig signal.Signal) signal.EnrichedEvent {
		return newEnriched(sig.Name)
	}}

	final := loop.Run(context.Background(), d, state{}, newEnriched("task:start"))
	require.Equal(t, 0, final.counter)
}

type toolRequest struct{ tool string }

func (r toolRequest) RequestedTool() string { return r.tool }

type recordingPolicy struct {
	decision dispatch.PolicyDecision
}

func (p recordingPolicy) Decide(context.Context, dispatch.PolicyInput) (dispatch.PolicyDecision, error) {
	return p.decision, nil
}

// TestLoop_PolicyGateBlocksDisallowedTool verifies the dispatch loop
// consults the installed PolicyEngine for signals matching the policy gate
// before running reducers/handlers/process managers, per spec.md §4.H: a
// tool the decision does not allow never reaches the reducer tier, and a
// "tool:blocked" follow-up is emitted in its place.
func TestLoop_PolicyGateBlocksDisallowedTool(t *testing.T) {
	loop := dispatch.NewLoop[state]()
	loop.AddReducer("tool:call", func(st state, ev signal.EnrichedEvent) state {
		st.reduced = append(st.reduced, ev.Name)
		return st
	})
	loop.UsePolicy(recordingPolicy{decision: dispatch.PolicyDecision{AllowedTools: []string{"search"}}}, nil, nil, nil)

	var emitted []string
	d := recordingDispatcher{hub: func(_ context.Context, sig signal.Signal) signal.EnrichedEvent {
		emitted = append(emitted, sig.Name)
		return newEnriched(sig.Name)
	}}

	seed := newEnriched("tool:call")
	seed.Payload = toolRequest{tool: "shell"}
	final := loop.Run(context.Background(), d, state{}, seed)

	require.Empty(t, final.reduced)
	require.Contains(t, emitted, "policy:decision")
	require.Contains(t, emitted, "tool:blocked")
}

// TestLoop_PolicyGateAllowsApprovedTool verifies an allowed tool reaches
// the reducer tier after a "policy:decision" follow-up is emitted.
func TestLoop_PolicyGateAllowsApprovedTool(t *testing.T) {
	loop := dispatch.NewLoop[state]()
	loop.AddReducer("tool:call", func(st state, ev signal.EnrichedEvent) state {
		st.reduced = append(st.reduced, ev.Name)
		return st
	})
	loop.UsePolicy(recordingPolicy{decision: dispatch.PolicyDecision{AllowedTools: []string{"search"}}}, nil, nil, nil)

	var emitted []string
	d := recordingDispatcher{hub: func(_ context.Context, sig signal.Signal) signal.EnrichedEvent {
		emitted = append(emitted, sig.Name)
		return newEnriched(sig.Name)
	}}

	seed := newEnriched("tool:call")
	seed.Payload = toolRequest{tool: "search"}
	final := loop.Run(context.Background(), d, state{}, seed)

	require.Equal(t, []string{"tool:call"}, final.reduced)
	require.Contains(t, emitted, "policy:decision")
	require.NotContains(t, emitted, "tool:blocked")
}
