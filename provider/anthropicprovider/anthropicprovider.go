// Package anthropicprovider adapts the Anthropic Messages streaming API to
// the provider.Streamer contract.
//
// Grounded on features/model/anthropic/{client,stream}.go from the teacher:
// the MessagesClient seam (a narrow interface satisfied by either
// *anthropicsdk.MessageService or a test double), the per-content-block
// chunk processor keyed by content index, and tool-use argument buffering
// across InputJSONDelta fragments.
package anthropicprovider

import (
	"context"
	"errors"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"

	"github.com/flowkit/signalkernel/provider"
	"github.com/flowkit/signalkernel/signal"
)

// MessagesClient captures the subset of the Anthropic SDK used by Adapter,
// satisfied by *sdk.MessageService in production and a fake in tests.
type MessagesClient interface {
	NewStreaming(ctx context.Context, body sdk.MessageNewParams, opts ...option.RequestOption) *ssestream.Stream[sdk.MessageStreamEventUnion]
}

// Options configures Adapter's defaults. DefaultModel and MaxTokens are
// applied when a Request leaves the corresponding field empty. Temperature
// is stored on the Adapter but is not sent with requests.
type Options struct {
	DefaultModel string
	MaxTokens    int
	Temperature  float64
}

// Adapter implements provider.Streamer against the Anthropic Messages API.
type Adapter struct {
	client      MessagesClient
	defaultModel string
	maxTokens   int
	temperature float64
}

// New builds an Adapter. client is typically (*sdk.Client).Messages.
func New(client MessagesClient, opts Options) (*Adapter, error) {
	if client == nil {
		return nil, errors.New("anthropic client is required")
	}
	if opts.DefaultModel == "" {
		return nil, errors.New("default model identifier is required")
	}
	return &Adapter{
		client:       client,
		defaultModel: opts.DefaultModel,
		maxTokens:    opts.MaxTokens,
		temperature:  opts.Temperature,
	}, nil
}

// Stream implements provider.Streamer.
func (a *Adapter) Stream(ctx context.Context, req provider.Request, emit func(signal.Signal), abort provider.AbortSignal) (provider.EndPayload, error) {
	model := req.Model
	if model == "" {
		model = a.defaultModel
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = a.maxTokens
	}

	params := sdk.MessageNewParams{
		Model:     sdk.Model(model),
		MaxTokens: int64(maxTokens),
		Messages:  toMessages(req.Messages),
	}
	if req.System != "" {
		params.System = []sdk.TextBlockParam{{Text: req.System}}
	}
	if len(req.Tools) > 0 {
		params.Tools = toTools(req.Tools)
	}

	stream := a.client.NewStreaming(ctx, params)
	defer stream.Close()

	proc := newChunkProcessor(emit)

	for stream.Next() {
		if abort != nil && abort() {
			return provider.EndPayload{Aborted: true}, nil
		}
		if err := proc.handle(stream.Current()); err != nil {
			return provider.EndPayload{}, signal.Wrap(signal.KindProvider, "anthropicprovider.stream", err)
		}
	}
	if err := stream.Err(); err != nil {
		return provider.EndPayload{}, signal.Wrap(signal.KindProvider, "anthropicprovider.stream", err)
	}

	return provider.EndPayload{Output: proc.text.String(), Usage: proc.usage}, nil
}

func toMessages(msgs []provider.Message) []sdk.MessageParam {
	out := make([]sdk.MessageParam, 0, len(msgs))
	for _, m := range msgs {
		block := sdk.NewTextBlock(m.Content)
		switch m.Role {
		case "assistant":
			out = append(out, sdk.NewAssistantMessage(block))
		default:
			out = append(out, sdk.NewUserMessage(block))
		}
	}
	return out
}

func toTools(tools []provider.ToolSpec) []sdk.ToolUnionParam {
	out := make([]sdk.ToolUnionParam, 0, len(tools))
	for _, t := range tools {
		out = append(out, sdk.ToolUnionParamOfTool(sdk.ToolInputSchemaParam{}, t.Name))
	}
	return out
}
