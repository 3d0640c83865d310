package session

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/flowkit/signalkernel/engine"
	"github.com/flowkit/signalkernel/hub"
	"github.com/flowkit/signalkernel/signal"
	"github.com/flowkit/signalkernel/store"
	"github.com/flowkit/signalkernel/telemetry"
)

// StepYield is one entry in an execute-form workflow body's step log:
// spec.md §4.F's second workflow-body shape is "an async generator yielding
// StepYield{step, input?, output?}", each yield positionally matched
// against a prior recording on replay instead of re-running the step's side
// effects. Step and Input identify and describe the unit of work; Output is
// populated once the step (live or replayed) has a result.
type StepYield struct {
	Step   string
	Input  any
	Output any
}

// StepFunc performs a single step's side-effecting work. Replayed steps
// never invoke it; their Output is taken from the matching recorded
// StepYield instead.
type StepFunc func(ctx context.Context, input any) (any, error)

// ExecuteFunc is the "execute-form" workflow body (spec.md §4.F): an
// alternative to RunFunc in which the body is structured as a sequence of
// named steps, each yielded through the wc.Step call embedded in fn, rather
// than as phase/task blocks. This is what lets a durable engine (or the
// kernel's own positional replay log) deterministically re-execute the body
// without repeating a step's side effects.
type ExecuteFunc[TState any] func(ctx context.Context, wc *WorkflowContext[TState], input any) (any, error)

type stepInvocation struct {
	fn    StepFunc
	input any
}

// WithEngine installs eng as the workflow engine an execute-form session
// drives through: Run starts the body as an engine.Engine workflow and each
// wc.Step call becomes an engine.WorkflowContext.ExecuteActivity, so the
// engine's own replay discipline (in-memory for tests, Temporal for durable
// deployments) governs re-execution instead of the kernel's replayLog.
// Unused by run-form sessions.
func WithEngine[TState any](eng engine.Engine) Option[TState] {
	return func(s *Session[TState]) { s.eng = eng }
}

// WithReplayLog installs a previously recorded step log for an
// engine-less execute-form session: Step calls are matched against log by
// position instead of invoking their StepFunc, per spec.md §4.F's
// positional replay. Ignored when WithEngine is also set, since a
// configured engine owns replay itself.
func WithReplayLog[TState any](log []StepYield) Option[TState] {
	return func(s *Session[TState]) { s.replayLog = log }
}

// NewExecute constructs a Session in the idle state whose workflow body is
// the execute-form shape (spec.md §4.F), the step-yield counterpart to
// New's run-form RunFunc.
func NewExecute[TState any](id string, h hub.Hub, initial TState, execute ExecuteFunc[TState], opts ...Option[TState]) *Session[TState] {
	s := &Session[TState]{
		id:      id,
		hub:     h,
		state:   initial,
		execute: execute,
		status:  StatusIdle,
		pending: make(map[string]*pendingPrompt),
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = telemetry.NewNoopLogger()
	}
	return s
}

// ExecutedSteps returns a copy of every StepYield recorded so far (live or
// replayed), in position order. Intended for persisting alongside a
// recording so a later run can replay via WithReplayLog, or for building
// one from a store.Recording via StepYieldsFromRecording.
func (s *Session[TState]) ExecutedSteps() []StepYield {
	s.stepMu.Lock()
	defer s.stepMu.Unlock()
	out := make([]StepYield, len(s.recorded))
	copy(out, s.recorded)
	return out
}

// StepYieldsFromRecording extracts the StepYield log from a store.Recording
// previously captured by recorder.Record/recorder.Recorder around an
// execute-form session, by filtering its signal log for "workflow:step"
// entries and decoding their payload back into a StepYield. A Store
// implementation that round-trips EnrichedEvent through JSON (fsstore,
// mongostore) decodes Payload as a generic map; this re-marshals and
// unmarshals each candidate to recover the concrete type.
func StepYieldsFromRecording(rec store.Recording) []StepYield {
	var out []StepYield
	for _, ev := range rec.Signals {
		if ev.Name != "workflow:step" {
			continue
		}
		b, err := json.Marshal(ev.Payload)
		if err != nil {
			continue
		}
		var y StepYield
		if err := json.Unmarshal(b, &y); err != nil {
			continue
		}
		out = append(out, y)
	}
	return out
}

// Step is the execute-form body's entry point for yielding one named step,
// per spec.md §4.F. It resolves to s.step, branching on whether a workflow
// engine is configured.
func (c *WorkflowContext[TState]) Step(ctx context.Context, name string, input any, fn StepFunc) (any, error) {
	return c.session.step(ctx, name, input, fn)
}

// step implements WorkflowContext.Step. With an engine configured it
// delegates the unit of work to the engine as an activity, so the engine's
// own deterministic-replay machinery governs re-execution; the positional
// recorded log only matters for the local-replay ordering check against the
// step's name. Without an engine it positionally matches against
// s.replayLog directly.
func (s *Session[TState]) step(ctx context.Context, name string, input any, fn StepFunc) (any, error) {
	s.stepMu.Lock()
	idx := s.stepIdx
	s.stepIdx++
	s.stepMu.Unlock()

	s.engineWfCtxMu.Lock()
	wfCtx := s.engineWfCtx
	s.engineWfCtxMu.Unlock()

	if wfCtx != nil {
		key := fmt.Sprintf("%s#%d", name, idx)
		s.stepFns.Store(key, stepInvocation{fn: fn, input: input})
		var out any
		err := wfCtx.ExecuteActivity(ctx, engine.ActivityRequest{Name: s.activityName(), Input: key}, &out)
		if err != nil {
			return out, err
		}
		s.recordStep(ctx, StepYield{Step: name, Input: input, Output: out})
		return out, nil
	}

	if idx < len(s.replayLog) {
		rec := s.replayLog[idx]
		if rec.Step != name {
			return nil, signal.Conflict("session.step", fmt.Sprintf(
				"replay mismatch at position %d: recorded step %q, body yielded %q", idx, rec.Step, name))
		}
		s.recordStep(ctx, rec)
		return rec.Output, nil
	}

	out, err := fn(ctx, input)
	if err != nil {
		return out, err
	}
	s.recordStep(ctx, StepYield{Step: name, Input: input, Output: out})
	return out, nil
}

// recordStep appends yield to the in-process step log and emits it as a
// "workflow:step" signal so an attached recorder persists it alongside the
// rest of the session's signal log.
func (s *Session[TState]) recordStep(ctx context.Context, yield StepYield) {
	s.stepMu.Lock()
	s.recorded = append(s.recorded, yield)
	s.stepMu.Unlock()
	s.emit(ctx, "workflow:step", yield)
}

func (s *Session[TState]) activityName() string { return "session.step." + s.id }

func (s *Session[TState]) workflowName() string { return "session.execute." + s.id }

// runExecuteViaEngine registers this session's execute-form body as a
// one-off workflow/activity pair on s.eng and drives it to completion,
// letting the engine (in-memory or Temporal) own deterministic replay
// instead of s.replayLog.
func (s *Session[TState]) runExecuteViaEngine(ctx context.Context, wc *WorkflowContext[TState], input any) (any, error) {
	if err := s.eng.RegisterActivity(ctx, engine.ActivityDefinition{
		Name: s.activityName(),
		Handler: func(actCtx context.Context, in any) (any, error) {
			key, _ := in.(string)
			v, ok := s.stepFns.Load(key)
			if !ok {
				return nil, fmt.Errorf("session: no pending step invocation for %q", key)
			}
			inv := v.(stepInvocation)
			return inv.fn(actCtx, inv.input)
		},
	}); err != nil {
		return nil, err
	}

	if err := s.eng.RegisterWorkflow(ctx, engine.WorkflowDefinition{
		Name: s.workflowName(),
		Handler: func(wfCtx engine.WorkflowContext, in any) (any, error) {
			s.engineWfCtxMu.Lock()
			s.engineWfCtx = wfCtx
			s.engineWfCtxMu.Unlock()
			return s.execute(wfCtx.Context(), wc, in)
		},
	}); err != nil {
		return nil, err
	}

	handle, err := s.eng.StartWorkflow(ctx, engine.WorkflowStartRequest{
		ID:       s.id,
		Workflow: s.workflowName(),
		Input:    input,
	})
	if err != nil {
		return nil, err
	}
	var result any
	err = handle.Wait(ctx, &result)
	return result, err
}
