// Package openaiprovider adapts the OpenAI Chat Completions streaming API
// to the provider.Streamer contract.
//
// Grounded on features/model/openai/client.go for the ChatClient interface
// seam and message/tool translation shape; the teacher's adapter predates
// streaming support ("Stream reports not yet supported") and uses
// github.com/sashabaranov/go-openai for non-streaming completions only.
// Since spec.md §4.E requires incremental text:delta signals, this adapter
// instead uses the official github.com/openai/openai-go SDK's streaming
// Chat Completions endpoint, following the same per-chunk delta dispatch
// idiom as anthropicprovider.
package openaiprovider

import (
	"context"
	"errors"
	"strings"

	openai "github.com/openai/openai-go"

	"github.com/flowkit/signalkernel/provider"
	"github.com/flowkit/signalkernel/signal"
)

// ChatClient captures the subset of the OpenAI SDK used by Adapter.
type ChatClient interface {
	NewStreaming(ctx context.Context, params openai.ChatCompletionNewParams) *openai.Stream[openai.ChatCompletionChunk]
}

// Options configures Adapter's defaults.
type Options struct {
	DefaultModel string
}

// Adapter implements provider.Streamer against OpenAI Chat Completions.
type Adapter struct {
	client       ChatClient
	defaultModel string
}

// New builds an Adapter. client is typically (*openai.Client).Chat.Completions.
func New(client ChatClient, opts Options) (*Adapter, error) {
	if client == nil {
		return nil, errors.New("openai client is required")
	}
	if opts.DefaultModel == "" {
		return nil, errors.New("default model is required")
	}
	return &Adapter{client: client, defaultModel: opts.DefaultModel}, nil
}

func (a *Adapter) Stream(ctx context.Context, req provider.Request, emit func(signal.Signal), abort provider.AbortSignal) (provider.EndPayload, error) {
	model := req.Model
	if model == "" {
		model = a.defaultModel
	}

	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(model),
		Messages: toMessages(req),
	}
	if req.MaxTokens > 0 {
		params.MaxTokens = openai.Int(int64(req.MaxTokens))
	}

	stream := a.client.NewStreaming(ctx, params)
	defer stream.Close()

	var text strings.Builder
	var usage *provider.Usage
	var toolCalls = map[int64]*toolCallBuffer{}

	for stream.Next() {
		if abort != nil && abort() {
			return provider.EndPayload{Aborted: true}, nil
		}
		chunk := stream.Current()
		if len(chunk.Choices) == 0 {
			if chunk.Usage.TotalTokens > 0 {
				usage = &provider.Usage{
					InputTokens:  int(chunk.Usage.PromptTokens),
					OutputTokens: int(chunk.Usage.CompletionTokens),
				}
			}
			continue
		}
		delta := chunk.Choices[0].Delta
		if delta.Content != "" {
			text.WriteString(delta.Content)
			emit(signal.Signal{Name: "text:delta", Payload: delta.Content})
		}
		for _, tc := range delta.ToolCalls {
			idx := tc.Index
			tb := toolCalls[idx]
			if tb == nil {
				tb = &toolCallBuffer{id: tc.ID, name: tc.Function.Name}
				toolCalls[idx] = tb
			}
			tb.args.WriteString(tc.Function.Arguments)
		}
		if chunk.Choices[0].FinishReason != "" {
			if text.Len() > 0 {
				emit(signal.Signal{Name: "text:complete", Payload: text.String()})
			}
			for _, tb := range toolCalls {
				emit(signal.Signal{Name: "tool:call", Payload: map[string]any{
					"id":    tb.id,
					"name":  tb.name,
					"input": tb.args.String(),
				}})
			}
		}
	}
	if err := stream.Err(); err != nil {
		return provider.EndPayload{}, signal.Wrap(signal.KindProvider, "openaiprovider.stream", err)
	}

	return provider.EndPayload{Output: text.String(), Usage: usage}, nil
}

type toolCallBuffer struct {
	id   string
	name string
	args strings.Builder
}

func toMessages(req provider.Request) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(req.Messages)+1)
	if req.System != "" {
		out = append(out, openai.SystemMessage(req.System))
	}
	for _, m := range req.Messages {
		if m.Role == "assistant" {
			out = append(out, openai.AssistantMessage(m.Content))
		} else {
			out = append(out, openai.UserMessage(m.Content))
		}
	}
	return out
}
