package fsstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/flowkit/signalkernel/signal"
	"github.com/flowkit/signalkernel/store"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(t.TempDir())
	require.NoError(t, err)
	return s
}

func TestCreateAppendLoadRoundTrips(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	id, err := s.Create(ctx, store.Meta{Name: "run-1", Tags: []string{"demo"}})
	require.NoError(t, err)

	require.NoError(t, s.Append(ctx, id, signal.EnrichedEvent{ID: "e1", Name: "task:start"}))
	require.NoError(t, s.Append(ctx, id, signal.EnrichedEvent{ID: "e2", Name: "task:complete"}))

	rec, err := s.Load(ctx, id)
	require.NoError(t, err)
	require.Equal(t, store.StatusOpen, rec.Status)
	require.Len(t, rec.Signals, 2)
	require.Equal(t, "e1", rec.Signals[0].ID)
	require.Equal(t, "e2", rec.Signals[1].ID)
}

func TestAppendToFinalizedRecordingConflicts(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	id, err := s.Create(ctx, store.Meta{Name: "run-1"})
	require.NoError(t, err)
	require.NoError(t, s.Finalize(ctx, id, nil, nil))

	err = s.Append(ctx, id, signal.EnrichedEvent{ID: "e1", Name: "x"})
	require.Error(t, err)
	var kernelErr *signal.Error
	require.ErrorAs(t, err, &kernelErr)
	require.Equal(t, signal.KindConflict, kernelErr.Kind)
}

func TestFinalizeIsIdempotent(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	id, err := s.Create(ctx, store.Meta{Name: "run-1"})
	require.NoError(t, err)
	require.NoError(t, s.Finalize(ctx, id, nil, nil))
	require.NoError(t, s.Finalize(ctx, id, nil, nil))
}

func TestLoadUnknownRecordingIsNotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Load(context.Background(), "does-not-exist")
	require.Error(t, err)
	var kernelErr *signal.Error
	require.ErrorAs(t, err, &kernelErr)
	require.Equal(t, signal.KindNotFound, kernelErr.Kind)
}

func TestListFiltersByTagsNameAndStatus(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	id1, _ := s.Create(ctx, store.Meta{Name: "alpha", Tags: []string{"a", "b"}})
	_, _ = s.Create(ctx, store.Meta{Name: "beta", Tags: []string{"b"}})
	require.NoError(t, s.Finalize(ctx, id1, nil, nil))

	all, err := s.List(ctx, store.Filter{})
	require.NoError(t, err)
	require.Len(t, all, 2)

	onlyAlpha, err := s.List(ctx, store.Filter{Tags: []string{"a"}})
	require.NoError(t, err)
	require.Len(t, onlyAlpha, 1)
	require.Equal(t, "alpha", onlyAlpha[0].Name)

	finalized, err := s.List(ctx, store.Filter{Status: store.StatusFinalized})
	require.NoError(t, err)
	require.Len(t, finalized, 1)
	require.Equal(t, "alpha", finalized[0].Name)
}

func TestDeleteRemovesRecording(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	id, _ := s.Create(ctx, store.Meta{Name: "run-1"})
	require.NoError(t, s.Delete(ctx, id))

	_, err := s.Load(ctx, id)
	require.Error(t, err)
}
