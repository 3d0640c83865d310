// Package hub implements the kernel's Event Bus: pattern-filtered pub/sub
// with context propagation across asynchronous boundaries, ordered
// synchronous delivery, and an append-hook for the Signal Store.
//
// The implementation is grounded on runtime/agent/hooks.Bus from the
// teacher repository (registration map keyed by a private subscription
// handle, RWMutex-guarded registry, snapshot-before-iterate fan-out,
// sync.Once-guarded idempotent Close) generalized from a closed EventType
// enum to the spec's dotted-string pattern matcher (signal.Matcher).
package hub

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/flowkit/signalkernel/signal"
)

type (
	// Listener reacts to enriched events delivered by a Hub. Errors are
	// logged and swallowed by the Hub per spec.md §4.B: a misbehaving
	// listener must not affect its siblings.
	Listener func(context.Context, signal.EnrichedEvent) error

	// Unsubscribe removes a previously registered Listener. Idempotent and
	// safe to call concurrently or more than once.
	Unsubscribe func()

	// RecordingSink receives every enriched event emitted for a session
	// while a recording is attached. The recorder/store packages implement
	// this to make Signal Store appends part of Hub.Emit's contract
	// ("then appends to the active recording if any", spec.md §4.B).
	RecordingSink interface {
		Append(ctx context.Context, event signal.EnrichedEvent) error
	}

	// ErrorLogger receives listener errors that the Hub swallows so they
	// are at least observable. Optional; a nil logger silently drops them.
	ErrorLogger func(ctx context.Context, listenerSignal string, err error)

	// Hub is the kernel's in-process event bus.
	Hub interface {
		// Subscribe registers listener for events matching filter (nil/empty
		// is equivalent to "**") and returns a function to unregister it.
		Subscribe(filter signal.Filter, listener Listener) Unsubscribe

		// Emit enriches sig with an id, a timestamp, and the context in
		// effect (inherited scope merged with contextOverride, which may be
		// the zero value), delivers it synchronously to every matching
		// subscriber in subscription order, then appends it to the active
		// recording for its session, if any.
		Emit(ctx context.Context, sig signal.Signal, contextOverride signal.EventContext) signal.EnrichedEvent

		// Scoped pushes partial onto the context in effect for the duration
		// of fn (merged over whatever scope is already active) and runs fn.
		// Any emission inside fn, including inside awaited sub-calls that
		// are passed the returned context, observes the merged context.
		// The scope does not leak to the caller's context on any exit path.
		Scoped(ctx context.Context, partial signal.EventContext, fn func(context.Context) error) error

		// Current returns the EventContext in effect for ctx: the minimal
		// context (just SessionID, if any scope ever set one) when no scope
		// is active.
		Current(ctx context.Context) signal.EventContext

		// AttachRecording routes every subsequently emitted event for
		// sessionID through sink until the returned function is called.
		AttachRecording(sessionID string, sink RecordingSink) (detach func())

		// Clear removes all subscribers and attached recordings. Intended
		// for tests.
		Clear()

		// SubscriberCount reports the number of currently registered
		// listeners, for tests and introspection.
		SubscriberCount() int
	}

	hub struct {
		mu          sync.RWMutex
		subscribers map[*subHandle]*subEntry
		order       []*subHandle // insertion order, for subscription-ordered delivery
		recordings  map[string]RecordingSink // sessionID -> sink

		dispatchMu sync.Mutex
		dispatching bool
		queue       []pending

		seqMu    sync.Mutex
		lastTime map[string]time.Time // sessionID -> last assigned timestamp

		onListenerError ErrorLogger
	}

	subHandle struct{ once sync.Once }

	subEntry struct {
		matcher  *signal.Matcher
		listener Listener
	}

	pending struct {
		ctx   context.Context
		event signal.EnrichedEvent
	}

	ctxKeyType struct{}
)

var ctxKey = ctxKeyType{}

// Option configures a Hub at construction time.
type Option func(*hub)

// WithErrorLogger installs a callback invoked whenever a listener returns an
// error. The Hub always swallows the error for delivery purposes; this is
// purely for observability.
func WithErrorLogger(fn ErrorLogger) Option {
	return func(h *hub) { h.onListenerError = fn }
}

// New constructs a ready-to-use, in-process Hub.
func New(opts ...Option) Hub {
	h := &hub{
		subscribers: make(map[*subHandle]*subEntry),
		recordings:  make(map[string]RecordingSink),
		lastTime:    make(map[string]time.Time),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *hub) Subscribe(filter signal.Filter, listener Listener) Unsubscribe {
	handle := &subHandle{}
	entry := &subEntry{matcher: signal.Compile(filter), listener: listener}
	h.mu.Lock()
	h.subscribers[handle] = entry
	h.order = append(h.order, handle)
	h.mu.Unlock()
	return func() {
		handle.once.Do(func() {
			h.mu.Lock()
			delete(h.subscribers, handle)
			for i, hd := range h.order {
				if hd == handle {
					h.order = append(h.order[:i], h.order[i+1:]...)
					break
				}
			}
			h.mu.Unlock()
		})
	}
}

func (h *hub) Current(ctx context.Context) signal.EventContext {
	if v, ok := ctx.Value(ctxKey).(signal.EventContext); ok {
		return v
	}
	return signal.EventContext{}
}

func (h *hub) Scoped(ctx context.Context, partial signal.EventContext, fn func(context.Context) error) error {
	merged := h.Current(ctx).Merge(partial)
	scoped := context.WithValue(ctx, ctxKey, merged)
	return fn(scoped)
}

func (h *hub) Emit(ctx context.Context, sig signal.Signal, contextOverride signal.EventContext) signal.EnrichedEvent {
	evCtx := h.Current(ctx).Merge(contextOverride)
	display := signal.InferDisplay(sig.Name)
	if sig.Display != nil {
		display = *sig.Display
	}
	ev := signal.EnrichedEvent{
		ID:        uuid.NewString(),
		Name:      sig.Name,
		Payload:   sig.Payload,
		Timestamp: h.nextTimestamp(evCtx.SessionID),
		Context:   evCtx,
		Source:    sig.Source,
		CausedBy:  sig.CausedBy,
		Display:   display,
	}
	h.deliver(ctx, ev)
	return ev
}

// nextTimestamp returns time.Now() clamped to be monotonically
// non-decreasing within sessionID, per the Signal invariant in spec.md §3.
func (h *hub) nextTimestamp(sessionID string) time.Time {
	now := time.Now()
	h.seqMu.Lock()
	defer h.seqMu.Unlock()
	if last, ok := h.lastTime[sessionID]; ok && !now.After(last) {
		now = last.Add(time.Nanosecond)
	}
	h.lastTime[sessionID] = now
	return now
}

// deliver implements the re-entrant FIFO micro-queue described in spec.md
// §4.B: only one logical dispatch runs at a time; emissions that occur
// inside a listener callback (on any goroutine) are queued and delivered
// only after every listener of the triggering signal has returned.
func (h *hub) deliver(ctx context.Context, ev signal.EnrichedEvent) {
	h.dispatchMu.Lock()
	if h.dispatching {
		h.queue = append(h.queue, pending{ctx: ctx, event: ev})
		h.dispatchMu.Unlock()
		return
	}
	h.dispatching = true
	h.dispatchMu.Unlock()

	h.runOne(ctx, ev)
	for {
		h.dispatchMu.Lock()
		if len(h.queue) == 0 {
			h.dispatching = false
			h.dispatchMu.Unlock()
			return
		}
		next := h.queue[0]
		h.queue = h.queue[1:]
		h.dispatchMu.Unlock()
		h.runOne(next.ctx, next.event)
	}
}

func (h *hub) runOne(ctx context.Context, ev signal.EnrichedEvent) {
	h.mu.RLock()
	entries := make([]*subEntry, 0, len(h.subscribers))
	for _, handle := range h.order {
		if e, ok := h.subscribers[handle]; ok {
			entries = append(entries, e)
		}
	}
	sink := h.recordings[ev.Context.SessionID]
	h.mu.RUnlock()

	for _, e := range entries {
		if !e.matcher.Match(ev.Name) {
			continue
		}
		if err := e.listener(ctx, ev); err != nil && h.onListenerError != nil {
			h.onListenerError(ctx, ev.Name, err)
		}
	}

	if sink != nil {
		if err := sink.Append(ctx, ev); err != nil && h.onListenerError != nil {
			h.onListenerError(ctx, ev.Name, err)
		}
	}
}

func (h *hub) AttachRecording(sessionID string, sink RecordingSink) (detach func()) {
	h.mu.Lock()
	h.recordings[sessionID] = sink
	h.mu.Unlock()
	var once sync.Once
	return func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.recordings, sessionID)
			h.mu.Unlock()
		})
	}
}

func (h *hub) Clear() {
	h.mu.Lock()
	h.subscribers = make(map[*subHandle]*subEntry)
	h.order = nil
	h.recordings = make(map[string]RecordingSink)
	h.mu.Unlock()
}

func (h *hub) SubscriberCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers)
}
