// Package store defines the Signal Store contract: an append-only durable
// log of signal.EnrichedEvent keyed by recording id, with finalization and
// replay lookup.
//
// The contract is grounded on runtime/agent/runlog.Store from the teacher
// repository (append-only, cursor-free here since recordings are loaded
// whole for replay rather than paginated) generalized from a single closed
// EventType enum to arbitrary signal.EnrichedEvent payloads, and on
// features/run/mongo.Store for the durable-backend shape (Upsert/Load
// delegating to an injected client).
package store

import (
	"context"
	"time"

	"github.com/flowkit/signalkernel/signal"
)

type (
	// Status is a recording's lifecycle state.
	Status string

	// Meta describes a recording without its signal log.
	Meta struct {
		RecordingID  string
		Name         string
		Tags         []string
		ProviderType string
		Status       Status
		CreatedAt    time.Time
		FinalizedAt  *time.Time
		DurationMs   *int64
		// Result is the final aggregate result stored at finalization time
		// (e.g. a RecordingEntry's aggregate provider result). Nil until
		// finalized.
		Result any
	}

	// Recording is a Meta plus its full ordered signal log.
	Recording struct {
		Meta
		Signals []signal.EnrichedEvent
	}

	// Filter narrows List to recordings matching every non-zero field.
	Filter struct {
		Tags         []string
		Name         string
		ProviderType string
		Status       Status
	}

	// Store is the Signal Store contract from spec.md §4.C. Implementations
	// must serialize concurrent writes to the same recording while letting
	// writes to different recordings proceed in parallel (spec.md §"Shared
	// resources").
	Store interface {
		// Create opens a new recording in the open status and returns its id.
		Create(ctx context.Context, meta Meta) (recordingID string, err error)

		// Append adds sig to the recording's ordered signal log. Returns a
		// Conflict *signal.Error if the recording is finalized, NotFound if
		// it does not exist.
		Append(ctx context.Context, recordingID string, ev signal.EnrichedEvent) error

		// Finalize marks a recording terminal and stores its final aggregate
		// result. Durable implementations must fsync (or the durability
		// equivalent) before returning. Idempotent: finalizing an
		// already-finalized recording is a no-op, not an error.
		Finalize(ctx context.Context, recordingID string, durationMs *int64, result any) error

		// Load returns the full recording, signals ordered oldest-first.
		Load(ctx context.Context, recordingID string) (Recording, error)

		// List returns recording metadata matching filter (zero-value Filter
		// matches everything).
		List(ctx context.Context, filter Filter) ([]Meta, error)

		// Delete removes a recording permanently.
		Delete(ctx context.Context, recordingID string) error
	}
)

const (
	StatusOpen      Status = "open"
	StatusFinalized Status = "finalized"
)
