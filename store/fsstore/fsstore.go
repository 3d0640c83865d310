// Package fsstore implements store.Store as one JSONL file per recording on
// local disk, per the wire format in spec.md §6: one JSON object per line,
// open recordings may end without a trailing newline, finalized recordings
// always terminate with one.
//
// Grounded on runtime/agent/runlog/inmem.Store for the per-key locking and
// monotonic-append shape, adapted from an in-memory slice to a durable,
// fsync'd file because the Signal Store's durability contract (spec.md
// §4.C) requires surviving a crash between append and the next read.
package fsstore

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"context"

	"github.com/flowkit/signalkernel/internal/idgen"
	"github.com/flowkit/signalkernel/signal"
	"github.com/flowkit/signalkernel/store"
)

// Store is a local-disk, file-per-recording store.Store.
type Store struct {
	dir string

	mu    sync.Mutex // guards locks
	locks map[string]*sync.Mutex
}

// New returns a Store rooted at dir, creating dir if necessary.
func New(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, signal.Internal("fsstore.New", err)
	}
	return &Store{dir: dir, locks: make(map[string]*sync.Mutex)}, nil
}

func (s *Store) lockFor(recordingID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[recordingID]
	if !ok {
		l = &sync.Mutex{}
		s.locks[recordingID] = l
	}
	return l
}

func (s *Store) logPath(id string) string  { return filepath.Join(s.dir, id+".jsonl") }
func (s *Store) metaPath(id string) string { return filepath.Join(s.dir, id+".meta.json") }

func (s *Store) readMeta(id string) (store.Meta, error) {
	b, err := os.ReadFile(s.metaPath(id))
	if os.IsNotExist(err) {
		return store.Meta{}, signal.NotFound("fsstore.meta", id)
	}
	if err != nil {
		return store.Meta{}, signal.Internal("fsstore.meta", err)
	}
	var m store.Meta
	if err := json.Unmarshal(b, &m); err != nil {
		return store.Meta{}, signal.Internal("fsstore.meta", err)
	}
	return m, nil
}

func (s *Store) writeMeta(m store.Meta) error {
	b, err := json.Marshal(m)
	if err != nil {
		return signal.Internal("fsstore.meta", err)
	}
	f, err := os.OpenFile(s.metaPath(m.RecordingID), os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return signal.Internal("fsstore.meta", err)
	}
	defer f.Close()
	if _, err := f.Write(b); err != nil {
		return signal.Internal("fsstore.meta", err)
	}
	return f.Sync()
}

func (s *Store) Create(_ context.Context, meta store.Meta) (string, error) {
	if meta.RecordingID == "" {
		meta.RecordingID = idgen.Prefixed("rec")
	}
	meta.Status = store.StatusOpen
	meta.CreatedAt = time.Now()
	meta.FinalizedAt = nil
	meta.DurationMs = nil

	lock := s.lockFor(meta.RecordingID)
	lock.Lock()
	defer lock.Unlock()

	if err := s.writeMeta(meta); err != nil {
		return "", err
	}
	f, err := os.OpenFile(s.logPath(meta.RecordingID), os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return "", signal.Internal("fsstore.create", err)
	}
	_ = f.Close()
	return meta.RecordingID, nil
}

func (s *Store) Append(_ context.Context, recordingID string, ev signal.EnrichedEvent) error {
	lock := s.lockFor(recordingID)
	lock.Lock()
	defer lock.Unlock()

	meta, err := s.readMeta(recordingID)
	if err != nil {
		return err
	}
	if meta.Status != store.StatusOpen {
		return signal.Conflict("fsstore.append", "recording is finalized")
	}

	line, err := json.Marshal(ev)
	if err != nil {
		return signal.Internal("fsstore.append", err)
	}

	f, err := os.OpenFile(s.logPath(recordingID), os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return signal.Internal("fsstore.append", err)
	}
	defer f.Close()

	// An open recording's file never carries a trailing newline (spec.md
	// §6), so every write but the first is prefixed with one instead of
	// suffixed.
	info, err := f.Stat()
	if err != nil {
		return signal.Internal("fsstore.append", err)
	}
	if info.Size() > 0 {
		if _, err := f.Write([]byte("\n")); err != nil {
			return signal.Internal("fsstore.append", err)
		}
	}
	if _, err := f.Write(line); err != nil {
		return signal.Internal("fsstore.append", err)
	}
	return f.Sync()
}

func (s *Store) Finalize(_ context.Context, recordingID string, durationMs *int64, result any) error {
	lock := s.lockFor(recordingID)
	lock.Lock()
	defer lock.Unlock()

	meta, err := s.readMeta(recordingID)
	if err != nil {
		return err
	}
	if meta.Status == store.StatusFinalized {
		return nil
	}
	now := time.Now()
	meta.Status = store.StatusFinalized
	meta.FinalizedAt = &now
	meta.DurationMs = durationMs
	meta.Result = result

	f, err := os.OpenFile(s.logPath(recordingID), os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return signal.Internal("fsstore.finalize", err)
	}
	if _, err := f.Write([]byte("\n")); err != nil {
		f.Close()
		return signal.Internal("fsstore.finalize", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return signal.Internal("fsstore.finalize", err)
	}
	if err := f.Close(); err != nil {
		return signal.Internal("fsstore.finalize", err)
	}

	return s.writeMeta(meta)
}

func (s *Store) Load(_ context.Context, recordingID string) (store.Recording, error) {
	lock := s.lockFor(recordingID)
	lock.Lock()
	defer lock.Unlock()

	meta, err := s.readMeta(recordingID)
	if err != nil {
		return store.Recording{}, err
	}

	f, err := os.Open(s.logPath(recordingID))
	if err != nil {
		return store.Recording{}, signal.Internal("fsstore.load", err)
	}
	defer f.Close()

	var evs []signal.EnrichedEvent
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var ev signal.EnrichedEvent
		if err := json.Unmarshal(line, &ev); err != nil {
			return store.Recording{}, signal.Internal("fsstore.load", err)
		}
		evs = append(evs, ev)
	}
	if err := scanner.Err(); err != nil {
		return store.Recording{}, signal.Internal("fsstore.load", err)
	}

	return store.Recording{Meta: meta, Signals: evs}, nil
}

func (s *Store) List(_ context.Context, filter store.Filter) ([]store.Meta, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, signal.Internal("fsstore.list", err)
	}
	var out []store.Meta
	for _, e := range entries {
		name := e.Name()
		if len(name) < len(".meta.json") || name[len(name)-len(".meta.json"):] != ".meta.json" {
			continue
		}
		id := name[:len(name)-len(".meta.json")]
		meta, err := s.readMeta(id)
		if err != nil {
			continue
		}
		if matchesFilter(meta, filter) {
			out = append(out, meta)
		}
	}
	return out, nil
}

func matchesFilter(m store.Meta, f store.Filter) bool {
	if f.Name != "" && f.Name != m.Name {
		return false
	}
	if f.ProviderType != "" && f.ProviderType != m.ProviderType {
		return false
	}
	if f.Status != "" && f.Status != m.Status {
		return false
	}
	for _, want := range f.Tags {
		found := false
		for _, have := range m.Tags {
			if have == want {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func (s *Store) Delete(_ context.Context, recordingID string) error {
	lock := s.lockFor(recordingID)
	lock.Lock()
	defer lock.Unlock()

	if err := os.Remove(s.logPath(recordingID)); err != nil && !os.IsNotExist(err) {
		return signal.Internal("fsstore.delete", err)
	}
	if err := os.Remove(s.metaPath(recordingID)); err != nil && !os.IsNotExist(err) {
		return signal.Internal("fsstore.delete", err)
	}
	return nil
}
