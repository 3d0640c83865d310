// Package recorder implements the kernel's Recorder/Replayer (spec.md
// §4.D): fingerprint a provider request, record its outgoing signal stream
// to the Signal Store, or replay a previously recorded stream instead of
// making a live provider call.
//
// The teacher has no direct analogue — Temporal gives it deterministic
// replay for free via its own event history — so this package is new code,
// grounded on the *shape* of features/model/anthropic/stream.go's streaming
// contract (a stream is consumed identically by callers whether the bytes
// come from a live API call or a stored transcript) and wired onto the
// Hub's recording hook-in (hub.Hub.AttachRecording) from runtime/agent/
// hooks/bus.go's emit-then-append order.
package recorder

import (
	"context"
	"time"

	"github.com/flowkit/signalkernel/hub"
	"github.com/flowkit/signalkernel/signal"
	"github.com/flowkit/signalkernel/store"
)

// StreamFunc drives a live provider call, invoking emit for every signal it
// produces and returning the final aggregate result.
type StreamFunc func(ctx context.Context, req Request, emit func(signal.Signal)) (result any, err error)

// Recorder wraps a Hub and a Store to record or replay provider streams.
type Recorder struct {
	hub   hub.Hub
	store store.Store
}

// New returns a Recorder over h and s.
func New(h hub.Hub, s store.Store) *Recorder {
	return &Recorder{hub: h, store: s}
}

// Record runs live under recording: every signal it emits is both delivered
// through the Hub (so ordinary subscribers see it) and appended to a new,
// fingerprint-tagged recording. The recording is finalized with the
// aggregate result once live returns, even on error, so no "open" recording
// is left dangling for load-for-replay to trip over later (spec.md §4.D
// "Incremental recording").
func (r *Recorder) Record(ctx context.Context, req Request, meta store.Meta, live StreamFunc) (result any, err error) {
	fp := Fingerprint(req)
	meta.ProviderType = req.Provider
	meta.Tags = append(append([]string{}, meta.Tags...), "fp:"+fp)

	recordingID, err := r.store.Create(ctx, meta)
	if err != nil {
		return nil, err
	}

	sessionID := r.hub.Current(ctx).SessionID
	detach := r.hub.AttachRecording(sessionID, storeSink{store: r.store, recordingID: recordingID})
	defer detach()

	start := time.Now()
	emit := func(sig signal.Signal) {
		r.hub.Emit(ctx, sig, signal.EventContext{})
	}

	result, runErr := live(ctx, req, emit)
	duration := time.Since(start).Milliseconds()
	if runErr != nil {
		_ = r.store.Finalize(ctx, recordingID, &duration, nil)
		return nil, runErr
	}
	if err := r.store.Finalize(ctx, recordingID, &duration, result); err != nil {
		return result, err
	}
	return result, nil
}

// Replay looks up a recording by req's fingerprint and re-delivers its
// signal log through the Hub instead of calling live, per the match rules
// in spec.md §4.D: exact fingerprint match, else the store's single
// recording (loose name-keyed compatibility fallback), else NoRecordingFound.
// Re-emitting through Hub.Emit gives every replayed signal a fresh,
// monotonic "now" timestamp for free, which is what "rewritten to
// now-relative" means in practice.
func (r *Recorder) Replay(ctx context.Context, req Request) (result any, err error) {
	fp := Fingerprint(req)

	metas, err := r.store.List(ctx, store.Filter{Tags: []string{"fp:" + fp}, Status: store.StatusFinalized})
	if err != nil {
		return nil, err
	}
	var chosen *store.Meta
	if len(metas) > 0 {
		chosen = &metas[0]
	} else {
		all, err := r.store.List(ctx, store.Filter{Status: store.StatusFinalized})
		if err != nil {
			return nil, err
		}
		if len(all) != 1 {
			return nil, signal.NotFound("recorder.replay", "NoRecordingFound: no recording matches fingerprint "+fp)
		}
		chosen = &all[0]
	}

	rec, err := r.store.Load(ctx, chosen.RecordingID)
	if err != nil {
		return nil, err
	}
	if rec.Status != store.StatusFinalized {
		return nil, signal.NotFound("recorder.replay", "NoRecordingFound: recording is not finalized")
	}

	for _, ev := range rec.Signals {
		r.hub.Emit(ctx, signal.Signal{
			Name:     ev.Name,
			Payload:  ev.Payload,
			Source:   ev.Source,
			CausedBy: ev.CausedBy,
			Display:  &ev.Display,
		}, ev.Context)
	}
	return rec.Result, nil
}

// Fork implements the log operation behind spec.md §6's /fork and §9's
// "recording fork is a log operation, not a new provider call: it copies
// finalized signal logs up to a position into a new session id". It loads
// recordingID, requires it to be finalized (replaying from an open
// recording would race its own writer), truncates its signal log to the
// first position entries (position <= 0 or position >= len(signals) keeps
// the full log), and writes the result as a brand-new, already-finalized
// recording tagged with its origin. It returns the new recording's id and
// how many signals were copied into it.
func (r *Recorder) Fork(ctx context.Context, recordingID string, position int) (newRecordingID string, eventsCopied int, err error) {
	rec, err := r.store.Load(ctx, recordingID)
	if err != nil {
		return "", 0, err
	}
	if rec.Status != store.StatusFinalized {
		return "", 0, signal.Conflict("recorder.fork", "cannot fork recording "+recordingID+": not finalized")
	}

	signals := rec.Signals
	if position > 0 && position < len(signals) {
		signals = signals[:position]
	}

	meta := store.Meta{
		Name:         rec.Name,
		Tags:         append(append([]string{}, rec.Tags...), "forked-from:"+recordingID),
		ProviderType: rec.ProviderType,
	}
	newRecordingID, err = r.store.Create(ctx, meta)
	if err != nil {
		return "", 0, err
	}
	for _, ev := range signals {
		if err := r.store.Append(ctx, newRecordingID, ev); err != nil {
			return newRecordingID, 0, err
		}
	}

	duration := int64(0)
	if rec.DurationMs != nil {
		duration = *rec.DurationMs
	}
	if err := r.store.Finalize(ctx, newRecordingID, &duration, rec.Result); err != nil {
		return newRecordingID, len(signals), err
	}
	return newRecordingID, len(signals), nil
}

// StartRecording, AppendEvent and FinalizeRecording expose the incremental
// building blocks directly for callers that manage their own emission loop
// instead of going through Record (e.g. a provider adapter that wants
// fine-grained control over when the recording opens and closes).
func (r *Recorder) StartRecording(ctx context.Context, meta store.Meta) (recordingID string, err error) {
	return r.store.Create(ctx, meta)
}

func (r *Recorder) AppendEvent(ctx context.Context, recordingID string, ev signal.EnrichedEvent) error {
	return r.store.Append(ctx, recordingID, ev)
}

func (r *Recorder) FinalizeRecording(ctx context.Context, recordingID string, durationMs *int64, result any) error {
	return r.store.Finalize(ctx, recordingID, durationMs, result)
}

// storeSink adapts a store.Store + fixed recording id to hub.RecordingSink.
type storeSink struct {
	store       store.Store
	recordingID string
}

func (s storeSink) Append(ctx context.Context, ev signal.EnrichedEvent) error {
	return s.store.Append(ctx, s.recordingID, ev)
}
