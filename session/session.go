// Package session implements the Session Runtime (spec.md §4.F): a state
// machine driving a workflow body in either of spec.md §4.F's two equal
// shapes - the phase/task-structured run-form (RunFunc, New) or the
// step-yield execute-form (ExecuteFunc, NewExecute, execute.go) - with
// pause/resume/abort, human-in-the-loop prompts, and message injection.
//
// Grounded on runtime/agent/engine.WorkflowContext and runtime/agent/
// interrupt.Controller from the teacher repository (pause/resume/
// clarification signal channels over an engine-agnostic WorkflowContext),
// collapsed onto the kernel's Hub instead of a Temporal-style
// engine.SignalChannel: a Session's pause/resume/abort flags and message
// queue are plain mutex-guarded state, and every transition is itself
// recorded as a signal (flow:paused, session:message, session:abort, ...)
// through the Hub rather than an engine-specific signal channel. The
// execute-form optionally drives through the engine package's Engine
// abstraction (WithEngine) the way the teacher's workflow body can target
// either engine/inmem or engine/temporal unchanged.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/flowkit/signalkernel/attachment"
	"github.com/flowkit/signalkernel/engine"
	"github.com/flowkit/signalkernel/hub"
	"github.com/flowkit/signalkernel/signal"
	"github.com/flowkit/signalkernel/telemetry"
)

// Status is the Session Runtime's lifecycle state, per spec.md §4.F:
// idle -> running -> (paused <-> running) -> { complete, aborted }.
type Status string

const (
	StatusIdle      Status = "idle"
	StatusRunning   Status = "running"
	StatusPaused    Status = "paused"
	StatusComplete  Status = "complete"
	StatusAborted   Status = "aborted"
)

// RunFunc is the "run-form" workflow body (spec.md §4.F): an async function
// (ctx, input) -> result, invoked with a *WorkflowContext exposing the
// phase/task/retry/parallel helpers and HITL/injection surface.
type RunFunc[TState any] func(ctx context.Context, wc *WorkflowContext[TState], input any) (any, error)

// InjectedMessage is one out-of-band nudge pushed via Session.Send, queued
// until a workflow drains it with WorkflowContext.ReadMessages.
type InjectedMessage struct {
	Content string
	Agent   string
	At      time.Time
}

// Session drives one workflow execution for a typed, user-owned state
// value. The zero value is not usable; construct with New.
type Session[TState any] struct {
	id     string
	hub    hub.Hub
	logger telemetry.Logger
	agents map[string]any
	run    RunFunc[TState]

	// execute, eng and replayLog configure the execute-form workflow body
	// (spec.md §4.F's step-yield shape), an alternative to run. At most one
	// of run/execute is set; see NewExecute and WithEngine/WithReplayLog.
	execute   ExecuteFunc[TState]
	eng       engine.Engine
	replayLog []StepYield

	stepMu        sync.Mutex
	stepIdx       int
	recorded      []StepYield
	stepFns       sync.Map
	engineWfCtx   engine.WorkflowContext
	engineWfCtxMu sync.Mutex

	mu       sync.Mutex
	status   Status
	state    TState
	messages []InjectedMessage
	pending  map[string]*pendingPrompt

	pauseFlag atomicBool
	abortFlag atomicBool

	result any
	runErr error
	done   chan struct{}

	attachMu sync.Mutex
	cleanups []func()
}

// Option configures a Session at construction time.
type Option[TState any] func(*Session[TState])

// WithAgents registers the resolved agent singletons exposed to the
// workflow body as ctx.Agents(). Mirrors the teacher's translation of
// decorator-style DI containers into an explicit name->instance map
// (spec.md §9).
func WithAgents[TState any](agents map[string]any) Option[TState] {
	return func(s *Session[TState]) { s.agents = agents }
}

// WithLogger installs a telemetry.Logger. Defaults to a no-op logger.
func WithLogger[TState any](logger telemetry.Logger) Option[TState] {
	return func(s *Session[TState]) { s.logger = logger }
}

// New constructs a Session in the idle state. initial is produced
// synchronously by the caller, matching spec.md §4.F's "create(input) ->
// idle, initializes state via user-provided factory (must be synchronous)".
func New[TState any](id string, h hub.Hub, initial TState, run RunFunc[TState], opts ...Option[TState]) *Session[TState] {
	s := &Session[TState]{
		id:      id,
		hub:     h,
		state:   initial,
		run:     run,
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

// ID returns the session identifier used to scope every emitted signal.
func (s *Session[TState]) ID() string { return s.id }

// Status returns the session's current lifecycle state.
func (s *Session[TState]) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// StatusString returns Status as a plain string so Session[TState]
// structurally satisfies attachment.SessionHandle for any TState.
func (s *Session[TState]) StatusString() string { return string(s.Status()) }

// Active reports whether the session has not yet reached a terminal state.
func (s *Session[TState]) Active() bool {
	switch s.Status() {
	case StatusComplete, StatusAborted:
		return false
	default:
		return true
	}
}

// Attach runs fn against a Transport bound to this session, per spec.md
// §4.G. The returned cleanup is stored and invoked, in reverse attach
// order, once the session reaches a terminal state; attaching to an
// already-terminal session runs and immediately releases the cleanup.
func (s *Session[TState]) Attach(fn attachment.Attachment) {
	cleanup := attachment.Run(s.hub, s, fn)
	if cleanup == nil {
		return
	}
	s.attachMu.Lock()
	terminal := !s.Active()
	if !terminal {
		s.cleanups = append(s.cleanups, cleanup)
	}
	s.attachMu.Unlock()
	if terminal {
		cleanup()
	}
}

// runCleanups invokes every attachment cleanup in reverse attach order,
// ignoring individual failures (spec.md §4.G step 2). Safe to call once
// per terminal transition; subsequent calls are no-ops.
func (s *Session[TState]) runCleanups() {
	s.attachMu.Lock()
	cleanups := s.cleanups
	s.cleanups = nil
	s.attachMu.Unlock()
	for i := len(cleanups) - 1; i >= 0; i-- {
		func() {
			defer func() { _ = recover() }()
			cleanups[i]()
		}()
	}
}

// Snapshot returns a shallow copy of the session state. Per spec.md §3,
// external readers only ever see state "snapshotted shallowly ... between
// dispatch cycles"; run-form workflows that want deep isolation must copy
// their own nested structures before returning them here.
func (s *Session[TState]) Snapshot() TState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session[TState]) scope() signal.EventContext {
	return signal.EventContext{SessionID: s.id}
}

func (s *Session[TState]) emit(ctx context.Context, name string, payload any) signal.EnrichedEvent {
	return s.hub.Emit(ctx, signal.Signal{Name: name, Payload: payload}, s.scope())
}

// Run transitions idle -> running and drives run as the workflow body on a
// new goroutine, matching spec.md §4.F's "spawns the workflow body as a
// cooperative task". Run returns immediately; callers await completion via
// Wait.
func (s *Session[TState]) Run(ctx context.Context, input any) error {
	s.mu.Lock()
	if s.status != StatusIdle {
		s.mu.Unlock()
		return signal.Conflict("session.run", "session is not idle")
	}
	if s.run == nil && s.execute == nil {
		s.mu.Unlock()
		return signal.Conflict("session.run", "session has no run-form or execute-form workflow body")
	}
	s.status = StatusRunning
	s.mu.Unlock()

	wc := newWorkflowContext(s)

	go func() {
		defer close(s.done)

		var result any
		var err error
		runCtx := context.WithValue(ctx, sessionCtxKey{}, any(s))
		_ = s.hub.Scoped(runCtx, s.scope(), func(scoped context.Context) error {
			switch {
			case s.execute != nil && s.eng != nil:
				result, err = s.runExecuteViaEngine(scoped, wc, input)
			case s.execute != nil:
				result, err = s.execute(scoped, wc, input)
			default:
				result, err = s.run(scoped, wc, input)
			}
			return err
		})

		s.mu.Lock()
		s.result, s.runErr = result, err
		aborted := s.abortFlag.Load()
		if aborted {
			s.status = StatusAborted
		} else {
			s.status = StatusComplete
		}
		s.mu.Unlock()

		// Per spec.md §8 invariant 7(c), no further signals are emitted
		// after session:abort; Abort itself already recorded the terminal
		// transition, rejected pending prompts, and ran cleanups.
		if aborted {
			return
		}

		if err != nil {
			s.emit(ctx, "harness:complete", map[string]any{"success": false, "error": err.Error()})
		} else {
			s.emit(ctx, "harness:complete", map[string]any{"success": true, "result": result})
		}
		s.rejectAllPending(signal.Aborted("session.run"))
		s.runCleanups()
	}()
	return nil
}

// Wait blocks until the workflow body returns, reporting its final result
// and error.
func (s *Session[TState]) Wait(ctx context.Context) (any, error) {
	select {
	case <-s.done:
		s.mu.Lock()
		defer s.mu.Unlock()
		return s.result, s.runErr
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Pause transitions running -> paused, sets the resumable abort flag
// watched by provider adapters between messages, and records flow:paused.
// Per spec.md §8 invariant 9, pausing a session that is not running is
// idempotent: it returns wasPaused=false rather than an error.
func (s *Session[TState]) Pause(ctx context.Context) (wasPaused bool) {
	s.mu.Lock()
	if s.status != StatusRunning {
		s.mu.Unlock()
		return false
	}
	s.status = StatusPaused
	s.mu.Unlock()

	s.pauseFlag.Store(true)
	s.emit(ctx, "flow:paused", nil)
	return true
}

// Resume transitions paused -> running. If message is non-empty it is
// enqueued as an injected user message and session:message is recorded
// before flow:resumed, per spec.md §4.F. Idempotent per spec.md §8
// invariant 9: resuming a session that is not paused returns
// wasResumed=false.
func (s *Session[TState]) Resume(ctx context.Context, message string) (wasResumed bool) {
	s.mu.Lock()
	if s.status != StatusPaused {
		s.mu.Unlock()
		return false
	}
	s.status = StatusRunning
	if message != "" {
		s.messages = append(s.messages, InjectedMessage{Content: message, At: time.Now()})
	}
	s.mu.Unlock()

	s.pauseFlag.Store(false)
	if message != "" {
		s.emit(ctx, "session:message", map[string]any{"content": message})
	}
	s.emit(ctx, "flow:resumed", nil)
	return true
}

// Abort transitions to the terminal aborted state: it sets the
// non-resumable abort flag, records session:abort, rejects every pending
// HITL prompt with AbortedError, and drains the message queue, per
// spec.md §8 invariant 7.
func (s *Session[TState]) Abort(ctx context.Context, reason string) {
	s.mu.Lock()
	if s.status == StatusComplete || s.status == StatusAborted {
		s.mu.Unlock()
		return
	}
	s.status = StatusAborted
	s.messages = nil
	s.mu.Unlock()

	s.abortFlag.Store(true)
	s.emit(ctx, "session:abort", map[string]any{"reason": reason})
	s.rejectAllPending(signal.Aborted("session.abort"))
	s.runCleanups()
}

// IsAborted reports whether the session has been terminally aborted.
// Provider adapters and long-running user code poll this at cooperative
// suspension points (spec.md §5).
func (s *Session[TState]) IsAborted() bool { return s.abortFlag.Load() }

// IsPauseRequested reports whether a resumable pause is in effect. Provider
// adapters check this between messages.
func (s *Session[TState]) IsPauseRequested() bool { return s.pauseFlag.Load() }

// Send pushes content into the session's message queue as an out-of-band
// nudge. This is not a HITL prompt response mechanism (spec.md §4.F).
func (s *Session[TState]) Send(content, agent string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, InjectedMessage{Content: content, Agent: agent, At: time.Now()})
}

// HasMessages reports whether injected messages are waiting to be drained.
func (s *Session[TState]) HasMessages() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.messages) > 0
}

// ReadMessages drains and returns every queued injected message.
func (s *Session[TState]) ReadMessages() []InjectedMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.messages
	s.messages = nil
	return out
}

// mutateState runs fn against the session's state under the session lock
// and commits the result, the run-form analogue of the dispatch loop's
// copy-on-write reducer commit (spec.md §4.H applied to §4.F's ctx.state).
func (s *Session[TState]) mutateState(fn func(TState) TState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = fn(s.state)
}

func (s *Session[TState]) readState() TState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

type atomicBool struct {
	mu sync.Mutex
	v  bool
}

func (a *atomicBool) Load() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.v
}

func (a *atomicBool) Store(v bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.v = v
}

type sessionCtxKey struct{}
