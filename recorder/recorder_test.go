package recorder

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/flowkit/signalkernel/hub"
	"github.com/flowkit/signalkernel/signal"
	"github.com/flowkit/signalkernel/store"
	"github.com/flowkit/signalkernel/store/fsstore"
)

func TestRecordAppendsSignalsAndFinalizesWithResult(t *testing.T) {
	ctx := context.Background()
	h := hub.New()
	s, err := fsstore.New(t.TempDir())
	require.NoError(t, err)
	r := New(h, s)

	var delivered []string
	h.Subscribe(nil, func(_ context.Context, ev signal.EnrichedEvent) error {
		delivered = append(delivered, ev.Name)
		return nil
	})

	live := func(ctx context.Context, req Request, emit func(signal.Signal)) (any, error) {
		emit(signal.Signal{Name: "provider:start"})
		emit(signal.Signal{Name: "text:delta", Payload: "Hel"})
		emit(signal.Signal{Name: "text:delta", Payload: "lo"})
		emit(signal.Signal{Name: "text:complete", Payload: "Hello"})
		return map[string]any{"content": "Hello"}, nil
	}

	req := Request{Prompt: "say hello", Provider: "anthropic"}
	result, err := r.Record(ctx, req, store.Meta{Name: "test-run"}, live)
	require.NoError(t, err)
	require.Equal(t, map[string]any{"content": "Hello"}, result)
	require.Equal(t, []string{"provider:start", "text:delta", "text:delta", "text:complete"}, delivered)
}

func TestReplayExactFingerprintMatchReplaysSameSignals(t *testing.T) {
	ctx := context.Background()
	h := hub.New()
	s, err := fsstore.New(t.TempDir())
	require.NoError(t, err)
	r := New(h, s)

	live := func(ctx context.Context, req Request, emit func(signal.Signal)) (any, error) {
		for i := 0; i < 5; i++ {
			emit(signal.Signal{Name: "text:delta", Payload: i})
		}
		emit(signal.Signal{Name: "text:complete", Payload: "Hello"})
		return map[string]any{"content": "Hello"}, nil
	}
	req := Request{Prompt: "say hello", Provider: "anthropic"}
	_, err = r.Record(ctx, req, store.Meta{Name: "recorded"}, live)
	require.NoError(t, err)

	var replayed []signal.EnrichedEvent
	h.Subscribe(nil, func(_ context.Context, ev signal.EnrichedEvent) error {
		replayed = append(replayed, ev)
		return nil
	})

	result, err := r.Replay(ctx, req)
	require.NoError(t, err)
	require.Equal(t, map[string]any{"content": "Hello"}, result)
	require.Len(t, replayed, 6)
	for i := 0; i < 5; i++ {
		require.Equal(t, "text:delta", replayed[i].Name)
		// fsstore round-trips payloads through JSON, so numbers come back
		// as float64.
		require.Equal(t, float64(i), replayed[i].Payload)
	}
	require.Equal(t, "text:complete", replayed[5].Name)
}

func TestReplayFallsBackToSoleRecordingWhenNoFingerprintMatch(t *testing.T) {
	ctx := context.Background()
	h := hub.New()
	s, err := fsstore.New(t.TempDir())
	require.NoError(t, err)
	r := New(h, s)

	live := func(ctx context.Context, req Request, emit func(signal.Signal)) (any, error) {
		emit(signal.Signal{Name: "text:complete", Payload: "Hi"})
		return "Hi", nil
	}
	_, err = r.Record(ctx, Request{Prompt: "original prompt"}, store.Meta{Name: "only-one"}, live)
	require.NoError(t, err)

	result, err := r.Replay(ctx, Request{Prompt: "a different prompt that was never recorded"})
	require.NoError(t, err)
	require.Equal(t, "Hi", result)
}

func TestForkCopiesSignalsUpToPositionIntoNewFinalizedRecording(t *testing.T) {
	ctx := context.Background()
	h := hub.New()
	s, err := fsstore.New(t.TempDir())
	require.NoError(t, err)
	r := New(h, s)

	recordingID, err := r.StartRecording(ctx, store.Meta{Name: "source", Tags: []string{"session:abc"}})
	require.NoError(t, err)
	for i := 0; i < 4; i++ {
		require.NoError(t, r.AppendEvent(ctx, recordingID, signal.EnrichedEvent{Name: "text:delta", Payload: i}))
	}
	duration := int64(10)
	require.NoError(t, r.FinalizeRecording(ctx, recordingID, &duration, "done"))

	newID, copied, err := r.Fork(ctx, recordingID, 2)
	require.NoError(t, err)
	require.Equal(t, 2, copied)
	require.NotEqual(t, recordingID, newID)

	forked, err := r.store.Load(ctx, newID)
	require.NoError(t, err)
	require.Equal(t, store.StatusFinalized, forked.Status)
	require.Len(t, forked.Signals, 2)
	require.Equal(t, float64(0), forked.Signals[0].Payload)
	require.Equal(t, float64(1), forked.Signals[1].Payload)
	require.Contains(t, forked.Tags, "forked-from:"+recordingID)
}

func TestForkWithNonPositiveOrOutOfRangePositionCopiesFullLog(t *testing.T) {
	ctx := context.Background()
	h := hub.New()
	s, err := fsstore.New(t.TempDir())
	require.NoError(t, err)
	r := New(h, s)

	recordingID, err := r.StartRecording(ctx, store.Meta{Name: "source"})
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		require.NoError(t, r.AppendEvent(ctx, recordingID, signal.EnrichedEvent{Name: "text:delta", Payload: i}))
	}
	require.NoError(t, r.FinalizeRecording(ctx, recordingID, nil, nil))

	_, copied, err := r.Fork(ctx, recordingID, 0)
	require.NoError(t, err)
	require.Equal(t, 3, copied)
}

func TestForkRejectsOpenRecording(t *testing.T) {
	ctx := context.Background()
	h := hub.New()
	s, err := fsstore.New(t.TempDir())
	require.NoError(t, err)
	r := New(h, s)

	recordingID, err := r.StartRecording(ctx, store.Meta{Name: "still-open"})
	require.NoError(t, err)

	_, _, err = r.Fork(ctx, recordingID, 0)
	require.Error(t, err)
	var kernelErr *signal.Error
	require.ErrorAs(t, err, &kernelErr)
	require.Equal(t, signal.KindConflict, kernelErr.Kind)
}

func TestReplayWithNoRecordingsFails(t *testing.T) {
	ctx := context.Background()
	h := hub.New()
	s, err := fsstore.New(t.TempDir())
	require.NoError(t, err)
	r := New(h, s)

	_, err = r.Replay(ctx, Request{Prompt: "nothing recorded"})
	require.Error(t, err)
	var kernelErr *signal.Error
	require.ErrorAs(t, err, &kernelErr)
	require.Equal(t, signal.KindNotFound, kernelErr.Kind)
}
