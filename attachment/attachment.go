// Package attachment implements the Attachment (channel) framework from
// spec.md §4.G: a function `(transport) -> cleanup` that binds an
// observer/steerer to a running session, subscribing over the Hub and
// optionally steering the session back via its transport.
//
// Grounded on runtime/agent/stream.Subscriber and the teacher's channel
// attachments (features/stream/pulse and the GitHub/terminal channel
// attachments under features/channels), generalized from the teacher's
// concrete event/channel types onto the kernel's signal.EnrichedEvent and
// generic SessionHandle so the same Transport works for any Session[TState]
// instantiation without attachment needing session's type parameter.
package attachment

import (
	"context"

	"github.com/flowkit/signalkernel/hub"
	"github.com/flowkit/signalkernel/signal"
)

type (
	// Listener reacts to events delivered through a Transport.
	Listener func(context.Context, signal.EnrichedEvent) error

	// Attachment binds an observer/steerer to a session. It is invoked once
	// with a Transport and must return a cleanup function, invoked when the
	// session reaches a terminal state (spec.md §4.G).
	Attachment func(Transport) (cleanup func())

	// SessionHandle is the narrow, non-generic session surface an
	// attachment needs: session.Session[TState] satisfies this for any
	// TState since none of these methods mention the type parameter.
	SessionHandle interface {
		ID() string
		StatusString() string
		Active() bool
		Send(content, agent string)
		Reply(promptID, response string) error
		Abort(ctx context.Context, reason string)
	}

	// Transport is the surface an Attachment factory receives, per
	// spec.md §4.G: subscribe(filter?, listener), async-iteration over
	// enriched events, send, sendTo, reply, abort, status, sessionActive.
	Transport interface {
		// Subscribe registers listener for events matching filter, scoped to
		// this transport's session. Guaranteed to observe every signal
		// emitted after Subscribe returns (spec.md §4.G invariant 3).
		Subscribe(filter signal.Filter, listener Listener) (unsubscribe func())
		// Events returns a channel of this session's events matching
		// filter; it is closed when ctx is done and unsubscribes eagerly.
		Events(ctx context.Context, filter signal.Filter) <-chan signal.EnrichedEvent
		// Send pushes content into the session's message queue as an
		// unattributed nudge.
		Send(content string)
		// SendTo pushes content attributed to a specific agent.
		SendTo(content, agent string)
		// Reply resolves a pending HITL prompt.
		Reply(promptID, response string) error
		// Abort terminates the session.
		Abort(ctx context.Context, reason string)
		// Status reports the session's current lifecycle state.
		Status() string
		// SessionActive reports whether the session has not yet reached a
		// terminal state.
		SessionActive() bool
	}

	transport struct {
		hub     hub.Hub
		session SessionHandle
	}
)

// NewTransport builds the Transport a Session hands to each Attachment
// factory it runs.
func NewTransport(h hub.Hub, s SessionHandle) Transport {
	return &transport{hub: h, session: s}
}

func (t *transport) Subscribe(filter signal.Filter, listener Listener) func() {
	matcher := signal.Compile(filter)
	sessionID := t.session.ID()
	return t.hub.Subscribe(nil, func(ctx context.Context, ev signal.EnrichedEvent) error {
		if ev.Context.SessionID != sessionID || !matcher.Match(ev.Name) {
			return nil
		}
		return listener(ctx, ev)
	})
}

func (t *transport) Events(ctx context.Context, filter signal.Filter) <-chan signal.EnrichedEvent {
	ch := make(chan signal.EnrichedEvent, 64)
	unsub := t.Subscribe(filter, func(_ context.Context, ev signal.EnrichedEvent) error {
		select {
		case ch <- ev:
		default:
			// A slow consumer drops events rather than blocking the Hub's
			// synchronous delivery loop (spec.md §4.B).
		}
		return nil
	})
	go func() {
		<-ctx.Done()
		unsub()
		close(ch)
	}()
	return ch
}

func (t *transport) Send(content string)             { t.session.Send(content, "") }
func (t *transport) SendTo(content, agent string)     { t.session.Send(content, agent) }
func (t *transport) Reply(id, response string) error  { return t.session.Reply(id, response) }
func (t *transport) Abort(ctx context.Context, r string) { t.session.Abort(ctx, r) }
func (t *transport) Status() string                   { return t.session.StatusString() }
func (t *transport) SessionActive() bool              { return t.session.Active() }

// Run invokes fn with a Transport bound to s over h and returns the
// cleanup function fn produced. Session.Attach uses this to implement
// spec.md §4.G's "session.attach(attachment) calls the factory, stores the
// returned cleanup".
func Run(h hub.Hub, s SessionHandle, fn Attachment) (cleanup func()) {
	return fn(NewTransport(h, s))
}
