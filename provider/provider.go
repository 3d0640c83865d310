// Package provider defines the uniform contract every LLM provider adapter
// implements (spec.md §4.E): a provider-specific message stream normalized
// into the signal sequence provider:start, text/thinking delta+complete
// pairs, tool:call, provider:end.
//
// Grounded on runtime/agent/model.Streamer from the teacher (a pull-based
// Recv()/Close()/Metadata() stream abstraction) generalized from
// model.Chunk values to signal.Signal emission, since the kernel's unit of
// observation is the Signal rather than a provider-specific chunk type.
package provider

import (
	"context"
	"time"

	"github.com/flowkit/signalkernel/signal"
)

type (
	// Message is one turn of conversation input to a provider.
	Message struct {
		Role    string // "user", "assistant", "system"
		Content string
	}

	// ToolSpec advertises one callable tool to the provider.
	ToolSpec struct {
		Name        string
		Description string
		InputSchema any
	}

	// Request is a provider-agnostic request to run one model turn.
	Request struct {
		Provider    string
		Model       string
		System      string
		Messages    []Message
		Tools       []ToolSpec
		MaxTokens   int
		Temperature float64
		// Options carries provider-specific knobs that don't have a
		// portable field here (e.g. Bedrock's guardrail config, OpenAI's
		// response_format). Recorded verbatim into the fingerprint.
		Options map[string]any
	}

	// Usage reports token accounting per spec.md §4.E. TotalTokens is
	// always InputTokens + OutputTokens.
	Usage struct {
		InputTokens              int
		OutputTokens             int
		CacheReadInputTokens     int
		CacheCreationInputTokens int
		TotalTokens              int
	}

	// EndPayload is the payload of the single, final provider:end signal.
	EndPayload struct {
		DurationMs int64
		Output     string
		Usage      *Usage
		CostUsd    *float64
		Aborted    bool
	}

	// AbortSignal is polled by a Streamer between messages/content blocks;
	// it reports whether the enclosing session has been aborted.
	AbortSignal func() bool

	// Streamer is implemented by each concrete provider adapter
	// (anthropicprovider, bedrockprovider, openaiprovider, and decorators
	// like ratelimit). Stream must observe abort between messages and, on
	// abort, stop pulling from the upstream transport and return
	// EndPayload{Aborted: true} instead of erroring.
	Streamer interface {
		Stream(ctx context.Context, req Request, emit func(signal.Signal), abort AbortSignal) (EndPayload, error)
	}

	// StreamerFunc adapts a plain function to Streamer.
	StreamerFunc func(ctx context.Context, req Request, emit func(signal.Signal), abort AbortSignal) (EndPayload, error)
)

func (f StreamerFunc) Stream(ctx context.Context, req Request, emit func(signal.Signal), abort AbortSignal) (EndPayload, error) {
	return f(ctx, req, emit, abort)
}

// Run wraps s so every invocation satisfies the framing invariants from
// spec.md §4.E regardless of what the adapter itself emits: exactly one
// provider:start first, exactly one provider:end last (with a populated
// DurationMs and a derived TotalTokens), even when s.Stream errors.
func Run(ctx context.Context, s Streamer, req Request, emit func(signal.Signal), abort AbortSignal) (EndPayload, error) {
	start := time.Now()
	emit(signal.Signal{
		Name:   "provider:start",
		Source: signal.Source{Provider: req.Provider},
	})

	end, err := s.Stream(ctx, req, emit, abort)
	end.DurationMs = time.Since(start).Milliseconds()
	if end.Usage != nil {
		end.Usage.TotalTokens = end.Usage.InputTokens + end.Usage.OutputTokens
	}

	emit(signal.Signal{
		Name:    "provider:end",
		Payload: end,
		Source:  signal.Source{Provider: req.Provider},
	})
	return end, err
}
