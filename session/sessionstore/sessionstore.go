// Package sessionstore defines durable session/run lifecycle metadata,
// distinct from the Signal Store (store package): it persists session and
// run status/labels/timestamps for fast lookups without loading a full
// recording.
//
// Grounded on runtime/agent/session.Store from the teacher repository,
// generalized from an agent-run-centric RunMeta to the kernel's session.Run
// identifiers (spec.md §13 "Run/session/run-log durable stores").
package sessionstore

import (
	"context"
	"errors"
	"time"
)

type (
	// Status is a session's lifecycle state.
	Status string

	// RunStatus is a run's lifecycle state, mirroring the Session Runtime's
	// state machine (spec.md §4.F) for external, durable visibility.
	RunStatus string

	// Session is durable session lifecycle state. Session ids are stable and
	// caller-provided; sessions are created and ended explicitly,
	// independently of any particular run's lifecycle.
	Session struct {
		ID        string
		Status    Status
		CreatedAt time.Time
		EndedAt   *time.Time
	}

	// Run captures persistent metadata for one session-runtime execution.
	Run struct {
		RunID     string
		SessionID string
		Status    RunStatus
		StartedAt time.Time
		UpdatedAt time.Time
		Labels    map[string]string
		Metadata  map[string]any
	}

	// Store persists session lifecycle state and run metadata. Failures
	// are returned to callers. The session package does not use a Store
	// itself.
	Store interface {
		// CreateSession creates (or idempotently returns) an active session.
		// Returns ErrSessionEnded if the session exists but is terminal.
		CreateSession(ctx context.Context, sessionID string, createdAt time.Time) (Session, error)
		// LoadSession returns ErrSessionNotFound when the session is unknown.
		LoadSession(ctx context.Context, sessionID string) (Session, error)
		// EndSession is idempotent: ending an already-ended session returns
		// the stored session unchanged.
		EndSession(ctx context.Context, sessionID string, endedAt time.Time) (Session, error)

		// UpsertRun inserts or updates run metadata. StartedAt is immutable
		// once set.
		UpsertRun(ctx context.Context, run Run) error
		// LoadRun returns ErrRunNotFound when the run is unknown.
		LoadRun(ctx context.Context, runID string) (Run, error)
		// ListRunsBySession filters by status when statuses is non-empty.
		ListRunsBySession(ctx context.Context, sessionID string, statuses []RunStatus) ([]Run, error)
	}
)

const (
	StatusActive Status = "active"
	StatusEnded  Status = "ended"

	RunIdle      RunStatus = "idle"
	RunRunning   RunStatus = "running"
	RunPaused    RunStatus = "paused"
	RunComplete  RunStatus = "complete"
	RunAborted   RunStatus = "aborted"
)

var (
	ErrSessionNotFound = errors.New("sessionstore: session not found")
	ErrSessionEnded    = errors.New("sessionstore: session ended")
	ErrRunNotFound     = errors.New("sessionstore: run not found")
)
