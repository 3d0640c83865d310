package anthropicprovider

import (
	"encoding/json"
	"testing"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/stretchr/testify/require"

	"github.com/flowkit/signalkernel/signal"
)

func mustEvent(t *testing.T, raw string) sdk.MessageStreamEventUnion {
	t.Helper()
	var ev sdk.MessageStreamEventUnion
	require.NoError(t, json.Unmarshal([]byte(raw), &ev))
	return ev
}

func TestProcessorEmitsTextDeltaAndCompleteInOrder(t *testing.T) {
	var got []signal.Signal
	p := newChunkProcessor(func(s signal.Signal) { got = append(got, s) })

	require.NoError(t, p.handle(mustEvent(t, `{"type":"message_start"}`)))
	require.NoError(t, p.handle(mustEvent(t, `{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"Hel"}}`)))
	require.NoError(t, p.handle(mustEvent(t, `{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"lo"}}`)))
	require.NoError(t, p.handle(mustEvent(t, `{"type":"message_stop"}`)))

	require.Len(t, got, 3)
	require.Equal(t, "text:delta", got[0].Name)
	require.Equal(t, "Hel", got[0].Payload)
	require.Equal(t, "text:delta", got[1].Name)
	require.Equal(t, "lo", got[1].Payload)
	require.Equal(t, "text:complete", got[2].Name)
	require.Equal(t, "Hello", got[2].Payload)
}

func TestProcessorEmitsToolCallOnBlockStop(t *testing.T) {
	var got []signal.Signal
	p := newChunkProcessor(func(s signal.Signal) { got = append(got, s) })

	require.NoError(t, p.handle(mustEvent(t, `{"type":"content_block_start","index":1,"content_block":{"type":"tool_use","id":"t1","name":"search"}}`)))
	require.NoError(t, p.handle(mustEvent(t, `{"type":"content_block_delta","index":1,"delta":{"type":"input_json_delta","partial_json":"{\"q\":1}"}}`)))
	require.NoError(t, p.handle(mustEvent(t, `{"type":"content_block_stop","index":1}`)))

	require.Len(t, got, 1)
	require.Equal(t, "tool:call", got[0].Name)
	payload := got[0].Payload.(map[string]any)
	require.Equal(t, "t1", payload["id"])
	require.Equal(t, "search", payload["name"])
}

func TestProcessorEmitsThinkingDeltaAndComplete(t *testing.T) {
	var got []signal.Signal
	p := newChunkProcessor(func(s signal.Signal) { got = append(got, s) })

	require.NoError(t, p.handle(mustEvent(t, `{"type":"content_block_delta","index":2,"delta":{"type":"thinking_delta","thinking":"step 1"}}`)))
	require.NoError(t, p.handle(mustEvent(t, `{"type":"content_block_stop","index":2}`)))

	require.Len(t, got, 2)
	require.Equal(t, "thinking:delta", got[0].Name)
	require.Equal(t, "thinking:complete", got[1].Name)
	require.Equal(t, "step 1", got[1].Payload)
}

func TestProcessorRecordsUsageFromMessageDelta(t *testing.T) {
	p := newChunkProcessor(func(signal.Signal) {})
	require.NoError(t, p.handle(mustEvent(t, `{"type":"message_delta","delta":{},"usage":{"input_tokens":10,"output_tokens":5,"cache_read_input_tokens":2,"cache_creation_input_tokens":1}}`)))

	require.NotNil(t, p.usage)
	require.Equal(t, 10, p.usage.InputTokens)
	require.Equal(t, 5, p.usage.OutputTokens)
	require.Equal(t, 2, p.usage.CacheReadInputTokens)
	require.Equal(t, 1, p.usage.CacheCreationInputTokens)
}

func TestProcessorRejectsToolJSONDeltaForUnopenedBlock(t *testing.T) {
	p := newChunkProcessor(func(signal.Signal) {})
	err := p.handle(mustEvent(t, `{"type":"content_block_delta","index":9,"delta":{"type":"input_json_delta","partial_json":"{}"}}`))
	require.Error(t, err)
}
