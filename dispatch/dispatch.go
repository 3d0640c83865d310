// Package dispatch implements the signal-driven Reducer/Handler/Process
// manager loop of spec.md §4.H: registration maps a signal pattern to a
// list of functions; matching reuses the Hub's dotted-pattern rules
// (signal.Matcher); execution order within a tier is registration order;
// reducers commit copy-on-write state mutations, handlers may mutate state
// further and return follow-up signals, process managers are read-only and
// return follow-up signals; follow-up signals are enqueued and the loop
// repeats until the queue drains or an endWhen predicate is satisfied.
//
// Grounded on the teacher's runtime/agent/hooks.Bus dispatch discipline
// (ordered, pattern-matched registration) generalized from single
// listener-per-signal fan-out to the three-tier reducer/handler/process
// pipeline spec.md §4.H describes; the teacher repository has no direct
// analogue to process managers, so that tier's read-only contract is
// enforced the same way spec.md prescribes: by convention, verified by
// tests (DESIGN.md).
package dispatch

import (
	"context"

	"github.com/flowkit/signalkernel/signal"
)

type (
	// Reducer mutates state in response to a signal and returns the next
	// state. It must not emit follow-up signals (spec.md §4.H step 2).
	Reducer[TState any] func(state TState, ev signal.EnrichedEvent) TState

	// Handler mutates state further and may return zero or more follow-up
	// signals (spec.md §4.H step 3).
	Handler[TState any] func(state TState, ev signal.EnrichedEvent) (TState, []signal.Signal)

	// ProcessManager is read-only on state and may return follow-up
	// signals (spec.md §4.H step 4). The Loop does not enforce
	// read-only-ness at the type level; it is a convention callers must
	// respect, verified by tests.
	ProcessManager[TState any] func(state TState, ev signal.EnrichedEvent) []signal.Signal

	registration[F any] struct {
		matcher *signal.Matcher
		fn      F
	}

	// Loop drives the reducer/handler/process-manager dispatch for a
	// signal-driven workflow over a TState value, per spec.md §4.H.
	Loop[TState any] struct {
		reducers []registration[Reducer[TState]]
		handlers []registration[Handler[TState]]
		managers []registration[ProcessManager[TState]]
		endWhen  func(TState) bool

		policy      PolicyEngine
		policyGate  *signal.Matcher
		policyTools func(TState) []ToolMetadata
		policyCaps  func(TState) CapsState
	}

	// ToolCallRequest is implemented by the payload of a signal matching
	// the policy gate (spec.md §4.H, "tool:call" by default) so Run can
	// extract which tool a turn is requesting before consulting the
	// PolicyEngine.
	ToolCallRequest interface {
		RequestedTool() string
	}

	// ToolBlocked is the payload of the "tool:blocked" follow-up signal
	// Run emits in place of dispatching a tool:call the policy engine
	// did not allow.
	ToolBlocked struct {
		Tool     string
		Decision PolicyDecision
	}
)

// NewLoop constructs an empty Loop. Register reducers/handlers/process
// managers with AddReducer/AddHandler/AddProcessManager before calling Run.
func NewLoop[TState any]() *Loop[TState] {
	return &Loop[TState]{}
}

// AddReducer registers fn for signals matching filter, in call order.
func (l *Loop[TState]) AddReducer(filter signal.Filter, fn Reducer[TState]) {
	l.reducers = append(l.reducers, registration[Reducer[TState]]{matcher: signal.Compile(filter), fn: fn})
}

// AddHandler registers fn for signals matching filter, in call order.
func (l *Loop[TState]) AddHandler(filter signal.Filter, fn Handler[TState]) {
	l.handlers = append(l.handlers, registration[Handler[TState]]{matcher: signal.Compile(filter), fn: fn})
}

// AddProcessManager registers fn for signals matching filter, in call
// order.
func (l *Loop[TState]) AddProcessManager(filter signal.Filter, fn ProcessManager[TState]) {
	l.managers = append(l.managers, registration[ProcessManager[TState]]{matcher: signal.Compile(filter), fn: fn})
}

// EndWhen installs the termination predicate checked after every dispatched
// signal, per spec.md §4.H step 6. Nil means "never terminate early";
// natural queue drain still ends Run.
func (l *Loop[TState]) EndWhen(pred func(TState) bool) {
	l.endWhen = pred
}

// UsePolicy installs policy as the PolicyEngine Run consults before
// dispatching any signal matching gate (the dispatch.Loop's own policy
// gate, distinct from reducer/handler/process-manager filters; "tool:call"
// when gate is empty) to the reducer/handler/process-manager tiers, per
// spec.md §4.H: "a policy engine ... is consulted by the dispatch loop
// before a turn's tool calls are allowed". tools and caps read the current
// PolicyInput fields from state; either may be nil.
func (l *Loop[TState]) UsePolicy(policy PolicyEngine, gate signal.Filter, tools func(TState) []ToolMetadata, caps func(TState) CapsState) {
	l.policy = policy
	if gate == nil || gate == "" {
		gate = "tool:call"
	}
	l.policyGate = signal.Compile(gate)
	l.policyTools = tools
	l.policyCaps = caps
}

// Dispatcher emits follow-up signals produced by handlers/process managers.
// session.Session (or a bare hub.Hub) satisfies this with its Emit method
// adapted to return just the EnrichedEvent.
type Dispatcher interface {
	Emit(ctx context.Context, sig signal.Signal) signal.EnrichedEvent
}

// Run drives the dispatch loop starting from initial, processing seed and
// every follow-up signal emitted by handlers/process managers in FIFO
// order, per spec.md §4.H steps 1-5. Each dispatched signal runs every
// matching reducer (in registration order), then every matching handler,
// then every matching process manager; follow-up signals they return are
// emitted via d and enqueued. Run returns the final state once the queue
// drains or EndWhen's predicate is satisfied.
func (l *Loop[TState]) Run(ctx context.Context, d Dispatcher, initial TState, seed signal.EnrichedEvent) TState {
	state := initial
	queue := []signal.EnrichedEvent{seed}

	for len(queue) > 0 {
		ev := queue[0]
		queue = queue[1:]

		if l.policy != nil && l.policyGate.Match(ev.Name) {
			allowed, gateFollowUps := l.checkPolicy(ctx, state, ev)
			for _, sig := range gateFollowUps {
				queue = append(queue, d.Emit(ctx, sig))
			}
			if !allowed {
				if l.endWhen != nil && l.endWhen(state) {
					break
				}
				continue
			}
		}

		for _, r := range l.reducers {
			if r.matcher.Match(ev.Name) {
				state = r.fn(state, ev)
			}
		}

		var followUps []signal.Signal
		for _, h := range l.handlers {
			if h.matcher.Match(ev.Name) {
				var produced []signal.Signal
				state, produced = h.fn(state, ev)
				followUps = append(followUps, produced...)
			}
		}
		for _, p := range l.managers {
			if p.matcher.Match(ev.Name) {
				followUps = append(followUps, p.fn(state, ev)...)
			}
		}

		for _, sig := range followUps {
			queue = append(queue, d.Emit(ctx, sig))
		}

		if l.endWhen != nil && l.endWhen(state) {
			break
		}
	}
	return state
}

// checkPolicy consults l.policy for ev, a signal matching the policy gate.
// When ev's payload names a requested tool (via ToolCallRequest) and Decide
// succeeds, it returns a "policy:decision" follow-up signal carrying the
// PolicyDecision; when the decision does not allow that tool, it returns
// false along with an additional "tool:blocked" follow-up in place of
// letting ev reach the reducer/handler/process-manager tiers. A payload
// that does not implement ToolCallRequest, or a policy error, is treated as
// allowed and produces no follow-up signal: the gate only restricts signals
// it can actually reason about.
func (l *Loop[TState]) checkPolicy(ctx context.Context, state TState, ev signal.EnrichedEvent) (bool, []signal.Signal) {
	req, ok := ev.Payload.(ToolCallRequest)
	if !ok {
		return true, nil
	}
	toolID := req.RequestedTool()

	var tools []ToolMetadata
	if l.policyTools != nil {
		tools = l.policyTools(state)
	}
	var caps CapsState
	if l.policyCaps != nil {
		caps = l.policyCaps(state)
	}

	decision, err := l.policy.Decide(ctx, PolicyInput{
		Tools:         tools,
		Requested:     []string{toolID},
		RemainingCaps: caps,
	})
	if err != nil {
		return true, nil
	}

	followUps := []signal.Signal{{Name: "policy:decision", Payload: decision, CausedBy: ev.ID}}

	for _, id := range decision.AllowedTools {
		if id == toolID {
			return true, followUps
		}
	}
	followUps = append(followUps, signal.Signal{
		Name:     "tool:blocked",
		Payload:  ToolBlocked{Tool: toolID, Decision: decision},
		CausedBy: ev.ID,
	})
	return false, followUps
}
