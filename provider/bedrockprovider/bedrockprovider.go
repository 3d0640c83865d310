// Package bedrockprovider adapts the AWS Bedrock Converse streaming API to
// the provider.Streamer contract.
//
// Grounded on features/model/bedrock/stream.go: the ConverseStreamEventStream
// event channel loop, the brtypes.ConverseStreamOutputMember* type-switch
// dispatch, and tool-use argument buffering by content-block index (same
// buffering discipline as anthropicprovider, since Bedrock's Converse API
// streams tool input as JSON fragments too).
package bedrockprovider

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	brtypes "github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"

	"github.com/flowkit/signalkernel/provider"
	"github.com/flowkit/signalkernel/signal"
)

// Client captures the subset of the Bedrock runtime SDK used by Adapter.
type Client interface {
	ConverseStream(ctx context.Context, params *bedrockruntime.ConverseStreamInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseStreamOutput, error)
}

// Options configures Adapter's defaults.
type Options struct {
	DefaultModelID string
	MaxTokens      int32
}

// Adapter implements provider.Streamer against AWS Bedrock Converse.
type Adapter struct {
	client  Client
	model   string
	maxTok  int32
}

// New builds an Adapter over client.
func New(client Client, opts Options) (*Adapter, error) {
	if client == nil {
		return nil, errors.New("bedrock client is required")
	}
	if opts.DefaultModelID == "" {
		return nil, errors.New("default model id is required")
	}
	return &Adapter{client: client, model: opts.DefaultModelID, maxTok: opts.MaxTokens}, nil
}

func (a *Adapter) Stream(ctx context.Context, req provider.Request, emit func(signal.Signal), abort provider.AbortSignal) (provider.EndPayload, error) {
	modelID := req.Model
	if modelID == "" {
		modelID = a.model
	}
	maxTok := int32(req.MaxTokens)
	if maxTok <= 0 {
		maxTok = a.maxTok
	}

	out, err := a.client.ConverseStream(ctx, &bedrockruntime.ConverseStreamInput{
		ModelId:  &modelID,
		Messages: toMessages(req.Messages),
		InferenceConfig: &brtypes.InferenceConfiguration{
			MaxTokens: &maxTok,
		},
	})
	if err != nil {
		return provider.EndPayload{}, signal.Wrap(signal.KindProvider, "bedrockprovider.stream", err)
	}
	stream := out.GetStream()
	defer stream.Close()

	var text strings.Builder
	var usage *provider.Usage
	toolBlocks := make(map[int32]*toolBuffer)

	for {
		select {
		case <-ctx.Done():
			return provider.EndPayload{}, signal.Wrap(signal.KindTimeout, "bedrockprovider.stream", ctx.Err())
		case event, ok := <-stream.Events():
			if !ok {
				if err := stream.Err(); err != nil {
					return provider.EndPayload{}, signal.Wrap(signal.KindProvider, "bedrockprovider.stream", err)
				}
				return provider.EndPayload{Output: text.String(), Usage: usage}, nil
			}
			if abort != nil && abort() {
				return provider.EndPayload{Aborted: true}, nil
			}
			switch ev := event.(type) {
			case *brtypes.ConverseStreamOutputMemberContentBlockStart:
				if toolUse, ok := ev.Value.Start.(*brtypes.ContentBlockStartMemberToolUse); ok {
					toolBlocks[ev.Value.ContentBlockIndex] = &toolBuffer{
						id:   strOrEmpty(toolUse.Value.ToolUseId),
						name: strOrEmpty(toolUse.Value.Name),
					}
				}
			case *brtypes.ConverseStreamOutputMemberContentBlockDelta:
				idx := ev.Value.ContentBlockIndex
				switch d := ev.Value.Delta.(type) {
				case *brtypes.ContentBlockDeltaMemberText:
					if d.Value != "" {
						text.WriteString(d.Value)
						emit(signal.Signal{Name: "text:delta", Payload: d.Value})
					}
				case *brtypes.ContentBlockDeltaMemberToolUse:
					if tb := toolBlocks[idx]; tb != nil && d.Value.Input != nil {
						tb.fragments = append(tb.fragments, *d.Value.Input)
					}
				}
			case *brtypes.ConverseStreamOutputMemberContentBlockStop:
				idx := ev.Value.ContentBlockIndex
				if tb := toolBlocks[idx]; tb != nil {
					delete(toolBlocks, idx)
					emit(signal.Signal{Name: "tool:call", Payload: map[string]any{
						"id":    tb.id,
						"name":  tb.name,
						"input": tb.finalInput(),
					}})
				}
			case *brtypes.ConverseStreamOutputMemberMessageStop:
				if text.Len() > 0 {
					emit(signal.Signal{Name: "text:complete", Payload: text.String()})
				}
			case *brtypes.ConverseStreamOutputMemberMetadata:
				if u := ev.Value.Usage; u != nil {
					usage = &provider.Usage{
						InputTokens:  int(derefInt32(u.InputTokens)),
						OutputTokens: int(derefInt32(u.OutputTokens)),
					}
				}
			}
		}
	}
}

type toolBuffer struct {
	id        string
	name      string
	fragments []string
}

func (tb *toolBuffer) finalInput() json.RawMessage {
	joined := strings.Join(tb.fragments, "")
	if strings.TrimSpace(joined) == "" {
		return json.RawMessage("{}")
	}
	return json.RawMessage(joined)
}

func toMessages(msgs []provider.Message) []brtypes.Message {
	out := make([]brtypes.Message, 0, len(msgs))
	for _, m := range msgs {
		role := brtypes.ConversationRoleUser
		if m.Role == "assistant" {
			role = brtypes.ConversationRoleAssistant
		}
		content := m.Content
		out = append(out, brtypes.Message{
			Role:    role,
			Content: []brtypes.ContentBlock{&brtypes.ContentBlockMemberText{Value: content}},
		})
	}
	return out
}

func strOrEmpty(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func derefInt32(i *int32) int32 {
	if i == nil {
		return 0
	}
	return *i
}
