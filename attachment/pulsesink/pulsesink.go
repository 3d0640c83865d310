// Package pulsesink provides an attachment.Attachment that fans a session's
// enriched events out to a Redis-backed goa.design/pulse stream, so a
// separate process (a worker, a persistence drain, another service) can
// subscribe to a session's activity without sharing the kernel's process.
//
// Grounded on features/stream/pulse/sink.go and its
// features/stream/pulse/clients/pulse/client.go wrapper from the teacher
// repository: a similar Envelope shape (type/session_id/event_id/timestamp/
// payload/caused_by), same "stream per session" naming convention, same client
// abstraction over goa.design/pulse/streaming, adapted from the teacher's
// stream.Event interface onto the kernel's signal.EnrichedEvent.
package pulsesink

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"goa.design/pulse/streaming"
	streamopts "goa.design/pulse/streaming/options"

	"github.com/flowkit/signalkernel/attachment"
	"github.com/flowkit/signalkernel/signal"
)

type (
	// Client exposes the subset of Pulse operations the sink needs. Mirrors
	// features/stream/pulse/clients/pulse.Client.
	Client interface {
		Stream(name string, opts ...streamopts.Stream) (Stream, error)
		Close(ctx context.Context) error
	}

	// Stream publishes events to a single Pulse stream.
	Stream interface {
		Add(ctx context.Context, event string, payload []byte) (string, error)
		Destroy(ctx context.Context) error
	}

	// Options configures New.
	Options struct {
		// Client is the Pulse client used to publish events. Required.
		Client Client
		// StreamID derives the target Pulse stream name from an event.
		// Defaults to "session/<SessionID>".
		StreamID func(signal.EnrichedEvent) (string, error)
		// OnPublished, when set, is invoked after an event has been
		// successfully written to the stream.
		OnPublished func(context.Context, PublishedEvent)
	}

	// Envelope wraps an enriched event for transmission over a Pulse
	// stream.
	Envelope struct {
		Type      string    `json:"type"`
		SessionID string    `json:"session_id"`
		EventID   string    `json:"event_id"`
		Timestamp time.Time `json:"timestamp"`
		Payload   any       `json:"payload,omitempty"`
		CausedBy  string    `json:"caused_by,omitempty"`
	}

	// PublishedEvent describes an event that has been written to Pulse.
	PublishedEvent struct {
		Event    signal.EnrichedEvent
		StreamID string
		EntryID  string
	}
)

// redisClient adapts a *redis.Client into Client, mirroring the teacher's
// clients/pulse.client wrapper.
type redisClient struct {
	redis        *redis.Client
	maxLen       int
	streamOptsFn func(name string) []streamopts.Stream
	timeout      time.Duration
}

// RedisClientOptions configures NewRedisClient.
type RedisClientOptions struct {
	Redis            *redis.Client
	StreamMaxLen     int
	StreamOptions    func(name string) []streamopts.Stream
	OperationTimeout time.Duration
}

// NewRedisClient constructs a Client backed by a Redis connection.
func NewRedisClient(opts RedisClientOptions) (Client, error) {
	if opts.Redis == nil {
		return nil, errors.New("pulsesink: redis client is required")
	}
	return &redisClient{
		redis:        opts.Redis,
		maxLen:       opts.StreamMaxLen,
		streamOptsFn: opts.StreamOptions,
		timeout:      opts.OperationTimeout,
	}, nil
}

func (c *redisClient) Stream(name string, opts ...streamopts.Stream) (Stream, error) {
	if name == "" {
		return nil, errors.New("pulsesink: stream name is required")
	}
	var streamOptions []streamopts.Stream
	if c.maxLen > 0 {
		streamOptions = append(streamOptions, streamopts.WithStreamMaxLen(c.maxLen))
	}
	if c.streamOptsFn != nil {
		streamOptions = append(streamOptions, c.streamOptsFn(name)...)
	}
	streamOptions = append(streamOptions, opts...)
	str, err := streaming.NewStream(name, c.redis, streamOptions...)
	if err != nil {
		return nil, fmt.Errorf("pulsesink: create stream: %w", err)
	}
	return &redisStream{stream: str, timeout: c.timeout}, nil
}

func (c *redisClient) Close(context.Context) error { return nil }

type redisStream struct {
	stream  *streaming.Stream
	timeout time.Duration
}

func (h *redisStream) Add(ctx context.Context, event string, payload []byte) (string, error) {
	if h.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.timeout)
		defer cancel()
	}
	id, err := h.stream.Add(ctx, event, payload)
	if err != nil {
		return "", fmt.Errorf("pulsesink: add: %w", err)
	}
	return id, nil
}

func (h *redisStream) Destroy(ctx context.Context) error { return h.stream.Destroy(ctx) }

// New returns an attachment.Attachment that publishes every event observed
// through its Transport to a Pulse stream, per SPEC_FULL.md's domain stack
// wiring for go-redis and goa.design/pulse.
func New(opts Options) (attachment.Attachment, error) {
	if opts.Client == nil {
		return nil, errors.New("pulsesink: client is required")
	}
	streamID := opts.StreamID
	if streamID == nil {
		streamID = defaultStreamID
	}

	return func(t attachment.Transport) func() {
		ctx, cancel := context.WithCancel(context.Background())
		unsubscribe := t.Subscribe(nil, func(ctx context.Context, ev signal.EnrichedEvent) error {
			name, err := streamID(ev)
			if err != nil {
				return err
			}
			stream, err := opts.Client.Stream(name)
			if err != nil {
				return err
			}
			env := Envelope{
				Type:      ev.Name,
				SessionID: ev.Context.SessionID,
				EventID:   ev.ID,
				Timestamp: ev.Timestamp,
				Payload:   ev.Payload,
				CausedBy:  ev.CausedBy,
			}
			payload, err := json.Marshal(env)
			if err != nil {
				return err
			}
			entryID, err := stream.Add(ctx, env.Type, payload)
			if err != nil {
				return err
			}
			if opts.OnPublished != nil {
				opts.OnPublished(ctx, PublishedEvent{Event: ev, StreamID: name, EntryID: entryID})
			}
			return nil
		})

		return func() {
			unsubscribe()
			cancel()
			_ = opts.Client.Close(ctx)
		}
	}, nil
}

func defaultStreamID(ev signal.EnrichedEvent) (string, error) {
	if ev.Context.SessionID == "" {
		return "", errors.New("pulsesink: event missing session id")
	}
	return fmt.Sprintf("session/%s", ev.Context.SessionID), nil
}
