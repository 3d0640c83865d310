package anthropicprovider

import (
	"encoding/json"
	"fmt"
	"strings"

	sdk "github.com/anthropics/anthropic-sdk-go"

	"github.com/flowkit/signalkernel/provider"
	"github.com/flowkit/signalkernel/signal"
)

// chunkProcessor converts Anthropic streaming events into signal.Signal
// emissions, buffering partial tool-use JSON and thinking text per content
// block index exactly as features/model/anthropic/stream.go does for
// model.Chunk, just emitting signal.Signal instead.
type chunkProcessor struct {
	emit func(signal.Signal)

	text  strings.Builder
	usage *provider.Usage

	toolBlocks     map[int]*toolBuffer
	thinkingBlocks map[int]*thinkingBuffer
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

type thinkingBuffer struct {
	text strings.Builder
}

func newChunkProcessor(emit func(signal.Signal)) *chunkProcessor {
	return &chunkProcessor{
		emit:           emit,
		toolBlocks:     make(map[int]*toolBuffer),
		thinkingBlocks: make(map[int]*thinkingBuffer),
	}
}

func (p *chunkProcessor) handle(event sdk.MessageStreamEventUnion) error {
	switch ev := event.AsAny().(type) {
	case sdk.MessageStartEvent:
		p.toolBlocks = make(map[int]*toolBuffer)
		p.thinkingBlocks = make(map[int]*thinkingBuffer)
		return nil

	case sdk.ContentBlockStartEvent:
		idx := int(ev.Index)
		if toolUse, ok := ev.ContentBlock.AsAny().(sdk.ToolUseBlock); ok {
			if toolUse.ID == "" {
				return fmt.Errorf("tool use block missing id")
			}
			p.toolBlocks[idx] = &toolBuffer{id: toolUse.ID, name: toolUse.Name}
		}
		return nil

	case sdk.ContentBlockDeltaEvent:
		idx := int(ev.Index)
		switch delta := ev.Delta.AsAny().(type) {
		case sdk.TextDelta:
			if delta.Text == "" {
				return nil
			}
			p.text.WriteString(delta.Text)
			p.emit(signal.Signal{Name: "text:delta", Payload: delta.Text})
			return nil

		case sdk.ThinkingDelta:
			if delta.Thinking == "" {
				return nil
			}
			tb := p.thinkingBlocks[idx]
			if tb == nil {
				tb = &thinkingBuffer{}
				p.thinkingBlocks[idx] = tb
			}
			tb.text.WriteString(delta.Thinking)
			p.emit(signal.Signal{Name: "thinking:delta", Payload: delta.Thinking})
			return nil

		case sdk.InputJSONDelta:
			if delta.PartialJSON == "" {
				return nil
			}
			tb := p.toolBlocks[idx]
			if tb == nil {
				return fmt.Errorf("tool JSON delta for unopened content block %d", idx)
			}
			tb.fragments = append(tb.fragments, delta.PartialJSON)
			return nil
		}
		return nil

	case sdk.ContentBlockStopEvent:
		idx := int(ev.Index)
		if tb := p.thinkingBlocks[idx]; tb != nil {
			delete(p.thinkingBlocks, idx)
			p.emit(signal.Signal{Name: "thinking:complete", Payload: tb.text.String()})
		}
		if tb := p.toolBlocks[idx]; tb != nil {
			delete(p.toolBlocks, idx)
			p.emit(signal.Signal{Name: "tool:call", Payload: map[string]any{
				"id":    tb.id,
				"name":  tb.name,
				"input": tb.finalInput(),
			}})
		}
		return nil

	case sdk.MessageDeltaEvent:
		p.usage = &provider.Usage{
			InputTokens:              int(ev.Usage.InputTokens),
			OutputTokens:             int(ev.Usage.OutputTokens),
			CacheReadInputTokens:     int(ev.Usage.CacheReadInputTokens),
			CacheCreationInputTokens: int(ev.Usage.CacheCreationInputTokens),
		}
		return nil

	case sdk.MessageStopEvent:
		if p.text.Len() > 0 {
			p.emit(signal.Signal{Name: "text:complete", Payload: p.text.String()})
		}
		return nil
	}
	return nil
}
