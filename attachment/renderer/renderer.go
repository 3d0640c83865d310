// Package renderer implements the reference debounced renderer attachment
// described in spec.md §4.G: "The reference renderer attachment debounces
// writes by an implementation-chosen interval (default 3000ms) and skips
// re-rendering identical content (compared by content hash) to avoid no-op
// external I/O."
//
// Grounded on the "Sink is the transmitter, Subscriber bridges the internal
// bus" split documented in runtime/agent/stream/stream.go's package doc from
// the teacher repository: a Sink.Send-shaped Write func plays the role of
// the teacher's stream.Sink, and this attachment plays the role of the
// teacher's hooks.StreamSubscriber bridging the Hub into it, with the
// debounce/hash-dedupe policy added per spec.md.
package renderer

import (
	"context"
	"crypto/sha256"
	"sync"
	"time"

	"github.com/flowkit/signalkernel/attachment"
	"github.com/flowkit/signalkernel/signal"
)

type (
	// Write renders the accumulated content for a session. Implementations
	// are the actual terminal/GitHub-comment/browser writers; the renderer
	// attachment only decides *when* to call Write.
	Write func(ctx context.Context, sessionID string, content string) error

	// Accumulate folds an incoming event into the next rendered content
	// string, given the previously rendered content. Most renderers either
	// append (hints with Append set, such as stream deltas) or replace (all
	// other hints) depending on signal.Display.Append.
	Accumulate func(previous string, ev signal.EnrichedEvent) string

	// Options configures New.
	Options struct {
		// Write performs the actual render. Required.
		Write Write
		// Accumulate folds events into rendered content. Defaults to
		// DefaultAccumulate.
		Accumulate Accumulate
		// DebounceInterval is the idle interval before a buffered render is
		// flushed. Defaults to 3000ms per spec.md §4.G.
		DebounceInterval time.Duration
		// Filter restricts which signals feed the renderer. Defaults to "**".
		Filter signal.Filter
		// Clock returns the current time. It is stored but not consulted:
		// debouncing runs on time.AfterFunc timers.
		Clock func() time.Time
	}
)

// DefaultDebounceInterval is spec.md §4.G's documented default.
const DefaultDebounceInterval = 3000 * time.Millisecond

// DefaultAccumulate appends when the event's display hint has Append set
// (InferDisplay sets it only for ":delta" stream signals) and otherwise
// replaces content with non-empty text, matching the common "typewriter for text,
// replace for status" rendering split seen across the teacher's stream
// event payloads (AssistantReply text deltas vs. Workflow/ToolEnd status).
func DefaultAccumulate(previous string, ev signal.EnrichedEvent) string {
	text, _ := ev.Payload.(string)
	if text == "" {
		if m, ok := ev.Payload.(map[string]any); ok {
			if v, ok := m["text"].(string); ok {
				text = v
			} else if v, ok := m["content"].(string); ok {
				text = v
			}
		}
	}
	if ev.Display.Append {
		return previous + text
	}
	if text != "" {
		return text
	}
	return previous
}

// New returns an attachment.Attachment that buffers rendered content per
// session and flushes it to Write no more often than DebounceInterval,
// skipping flushes whose content hash is unchanged since the last write
// (spec.md §4.G). It subscribes when attachment.Run invokes the factory,
// that is when Session.Attach is called; signals the session emitted
// before that are not rendered.
func New(opts Options) attachment.Attachment {
	accumulate := opts.Accumulate
	if accumulate == nil {
		accumulate = DefaultAccumulate
	}
	interval := opts.DebounceInterval
	if interval <= 0 {
		interval = DefaultDebounceInterval
	}
	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}

	return func(t attachment.Transport) func() {
		r := &renderer{
			write:      opts.Write,
			accumulate: accumulate,
			interval:   interval,
			clock:      clock,
		}
		unsubscribe := t.Subscribe(opts.Filter, func(ctx context.Context, ev signal.EnrichedEvent) error {
			r.onEvent(ctx, ev)
			return nil
		})
		return func() {
			unsubscribe()
			r.mu.Lock()
			defer r.mu.Unlock()
			if r.timer != nil {
				r.timer.Stop()
			}
			if r.dirty {
				r.flushLocked(context.Background())
			}
		}
	}
}

type renderer struct {
	write      Write
	accumulate Accumulate
	interval   time.Duration
	clock      func() time.Time

	mu        sync.Mutex
	content   string
	lastHash  [sha256.Size]byte
	haveHash  bool
	dirty     bool
	sessionID string
	timer     *time.Timer
}

func (r *renderer) onEvent(ctx context.Context, ev signal.EnrichedEvent) {
	r.mu.Lock()
	r.sessionID = ev.Context.SessionID
	r.content = r.accumulate(r.content, ev)
	r.dirty = true
	if r.timer == nil {
		r.timer = time.AfterFunc(r.interval, func() {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.flushLocked(context.Background())
			r.timer = nil
		})
	} else {
		r.timer.Reset(r.interval)
	}
	r.mu.Unlock()
	_ = ctx
}

// flushLocked writes r.content via Write unless its hash is unchanged since
// the last successful write, per spec.md §4.G's "skips re-rendering
// identical content (compared by content hash)". Caller must hold r.mu.
func (r *renderer) flushLocked(ctx context.Context) {
	if !r.dirty {
		return
	}
	hash := sha256.Sum256([]byte(r.content))
	if r.haveHash && hash == r.lastHash {
		r.dirty = false
		return
	}
	if r.write != nil {
		if err := r.write(ctx, r.sessionID, r.content); err != nil {
			// Leave r.dirty set so the next debounce tick retries the write.
			return
		}
	}
	r.lastHash = hash
	r.haveHash = true
	r.dirty = false
}
