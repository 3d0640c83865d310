package session

import (
	"context"
	"sync/atomic"

	"github.com/flowkit/signalkernel/signal"
)

// WorkflowContext is the run-form workflow body's handle onto the kernel
// (spec.md §4.F): agents, mutable state, phase/task/retry/parallel
// structuring helpers, ad-hoc Emit, and (when HITL is enabled) a Prompter.
type WorkflowContext[TState any] struct {
	session *Session[TState]
}

func newWorkflowContext[TState any](s *Session[TState]) *WorkflowContext[TState] {
	return &WorkflowContext[TState]{session: s}
}

// Agents returns the resolved agent singletons registered via WithAgents.
func (c *WorkflowContext[TState]) Agents() map[string]any { return c.session.agents }

// State returns the current session state.
func (c *WorkflowContext[TState]) State() TState { return c.session.readState() }

// SetState replaces the session state wholesale. Workflows that need
// read-modify-write semantics should use Mutate instead to avoid racing
// with concurrent dispatch (when a dispatch loop, §4.H, is also attached).
func (c *WorkflowContext[TState]) SetState(next TState) {
	c.session.mutateState(func(TState) TState { return next })
}

// Mutate applies fn to the current state under the session lock and
// commits the result as the new state.
func (c *WorkflowContext[TState]) Mutate(fn func(TState) TState) {
	c.session.mutateState(fn)
}

// Emit records an ad-hoc signal scoped to whatever phase/task context is
// currently active on ctx.
func (c *WorkflowContext[TState]) Emit(ctx context.Context, name string, data any) signal.EnrichedEvent {
	return c.session.hub.Emit(ctx, signal.Signal{Name: name, Payload: data}, signal.EventContext{})
}

// HasMessages reports whether injected messages are waiting.
func (c *WorkflowContext[TState]) HasMessages() bool { return c.session.HasMessages() }

// ReadMessages drains queued injected messages.
func (c *WorkflowContext[TState]) ReadMessages() []InjectedMessage { return c.session.ReadMessages() }

// IsAborted reports whether the session has been terminally aborted.
func (c *WorkflowContext[TState]) IsAborted() bool { return c.session.IsAborted() }

// Phase brackets fn with phase:start/phase:complete (or phase:failed on
// error), scoping every emission inside fn (including awaited sub-calls
// that propagate ctx) to { phase: { name } }, per spec.md §4.F.
func (c *WorkflowContext[TState]) Phase(ctx context.Context, name string, fn func(context.Context) (any, error)) (any, error) {
	s := c.session
	number := nextPhaseNumber(ctx)
	s.hub.Emit(ctx, signal.Signal{Name: "phase:start", Payload: map[string]any{"name": name, "phaseNumber": number}}, signal.EventContext{})

	var result any
	var err error
	_ = s.hub.Scoped(ctx, signal.EventContext{Phase: &signal.PhaseRef{Name: name, Number: number}}, func(scoped context.Context) error {
		result, err = fn(scoped)
		return err
	})

	if err != nil {
		s.hub.Emit(ctx, signal.Signal{Name: "phase:failed", Payload: map[string]any{"name": name, "error": err.Error()}}, signal.EventContext{})
		return nil, err
	}
	s.hub.Emit(ctx, signal.Signal{Name: "phase:complete", Payload: map[string]any{"name": name, "result": result}}, signal.EventContext{})
	return result, nil
}

// Task brackets fn with task:start/task:complete/task:failed, scoping
// emissions inside fn to { task: { id } }, per spec.md §4.F.
func (c *WorkflowContext[TState]) Task(ctx context.Context, id string, fn func(context.Context) (any, error)) (any, error) {
	s := c.session
	s.hub.Emit(ctx, signal.Signal{Name: "task:start", Payload: map[string]any{"id": id}}, signal.EventContext{})

	var result any
	var err error
	_ = s.hub.Scoped(ctx, signal.EventContext{Task: &signal.TaskRef{ID: id}}, func(scoped context.Context) error {
		result, err = fn(scoped)
		return err
	})

	if err != nil {
		s.hub.Emit(ctx, signal.Signal{Name: "task:failed", Payload: map[string]any{"id": id, "error": err.Error()}}, signal.EventContext{})
		return nil, err
	}
	s.hub.Emit(ctx, signal.Signal{Name: "task:complete", Payload: map[string]any{"id": id, "result": result}}, signal.EventContext{})
	return result, nil
}

func nextPhaseNumber(ctx context.Context) int {
	counter, ok := ctx.Value(phaseNumberCounterKey{}).(*int64)
	if !ok {
		// No counter installed on this ctx chain; every Phase call in this
		// branch gets number 1, which is still a valid (if degenerate)
		// phaseNumber.
		return 1
	}
	return int(atomic.AddInt64(counter, 1))
}

type phaseNumberCounterKey struct{}

// WithPhaseCounter installs a shared phase-number counter on ctx so every
// Phase call reachable from ctx (including across goroutines spawned by
// Parallel) draws from the same monotonically increasing sequence.
func WithPhaseCounter(ctx context.Context) context.Context {
	var n int64
	return context.WithValue(ctx, phaseNumberCounterKey{}, &n)
}
