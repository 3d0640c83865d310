package provider

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/flowkit/signalkernel/signal"
)

func TestRunFramesStartAndEndAroundStreamerSignals(t *testing.T) {
	var got []string
	streamer := StreamerFunc(func(ctx context.Context, req Request, emit func(signal.Signal), abort AbortSignal) (EndPayload, error) {
		emit(signal.Signal{Name: "text:delta", Payload: "hi"})
		return EndPayload{Output: "hi", Usage: &Usage{InputTokens: 3, OutputTokens: 2}}, nil
	})

	end, err := Run(context.Background(), streamer, Request{Provider: "anthropic"}, func(s signal.Signal) {
		got = append(got, s.Name)
	}, nil)

	require.NoError(t, err)
	require.Equal(t, []string{"provider:start", "text:delta", "provider:end"}, got)
	require.Equal(t, 5, end.Usage.TotalTokens)
	require.False(t, end.Aborted)
}

func TestRunEmitsEndEvenWhenStreamerErrors(t *testing.T) {
	var got []string
	streamer := StreamerFunc(func(ctx context.Context, req Request, emit func(signal.Signal), abort AbortSignal) (EndPayload, error) {
		return EndPayload{}, signal.Internal("test", context.DeadlineExceeded)
	})

	_, err := Run(context.Background(), streamer, Request{Provider: "anthropic"}, func(s signal.Signal) {
		got = append(got, s.Name)
	}, nil)

	require.Error(t, err)
	require.Equal(t, []string{"provider:start", "provider:end"}, got)
}

func TestRunCarriesAbortedEndPayloadThrough(t *testing.T) {
	streamer := StreamerFunc(func(ctx context.Context, req Request, emit func(signal.Signal), abort AbortSignal) (EndPayload, error) {
		return EndPayload{Aborted: true}, nil
	})

	end, err := Run(context.Background(), streamer, Request{}, func(signal.Signal) {}, func() bool { return true })
	require.NoError(t, err)
	require.True(t, end.Aborted)
}
