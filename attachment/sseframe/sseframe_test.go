package sseframe_test

import (
	"bufio"
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/flowkit/signalkernel/attachment/sseframe"
	"github.com/flowkit/signalkernel/signal"
)

func TestEncodeDecode_RoundTrip(t *testing.T) {
	ev := signal.EnrichedEvent{
		ID:        "ev-1",
		Name:      "task:complete",
		Payload:   map[string]any{"title": "done"},
		Timestamp: time.Now().UTC().Truncate(time.Millisecond),
		Context:   signal.EventContext{SessionID: "s1"},
	}

	var buf bytes.Buffer
	require.NoError(t, sseframe.Encode(&buf, ev))

	// Wire shape per spec.md §6: "data: <json>\n\n".
	require.Contains(t, buf.String(), "data: ")
	require.True(t, bytes.HasSuffix(buf.Bytes(), []byte("\n\n")))

	got, err := sseframe.Decode(bufio.NewReader(&buf))
	require.NoError(t, err)
	require.Equal(t, ev.ID, got.ID)
	require.Equal(t, ev.Name, got.Name)
	require.Equal(t, ev.Context.SessionID, got.Context.SessionID)
	require.True(t, ev.Timestamp.Equal(got.Timestamp))
}

func TestEncode_MultipleFramesAreIndependentlyDecodable(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, sseframe.Encode(&buf, signal.EnrichedEvent{ID: "a", Name: "task:start"}))
	require.NoError(t, sseframe.Encode(&buf, signal.EnrichedEvent{ID: "b", Name: "task:complete"}))

	r := bufio.NewReader(&buf)
	first, err := sseframe.Decode(r)
	require.NoError(t, err)
	require.Equal(t, "a", first.ID)

	second, err := sseframe.Decode(r)
	require.NoError(t, err)
	require.Equal(t, "b", second.ID)
}

func TestDecode_EmptyReaderReturnsEOF(t *testing.T) {
	_, err := sseframe.Decode(bufio.NewReader(bytes.NewReader(nil)))
	require.Error(t, err)
}
