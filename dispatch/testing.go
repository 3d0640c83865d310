package dispatch

import (
	"encoding/json"
	"fmt"

	"github.com/flowkit/signalkernel/signal"
)

// AssertProcessManagerReadOnly invokes pm against a snapshot of state and
// reports whether pm's process left that snapshot unchanged, per spec.md
// §4.H's contract that process managers are read-only. The kernel does not
// enforce this at the type level (4.H: "by convention"); this helper is the
// recommended way for tests to verify it instead, per the spec's Open
// Questions resolution (DESIGN.md): "contract-only, verified in tests ...
// not a runtime panic".
//
// Comparison is by JSON round-trip rather than reflect.DeepEqual so that
// unexported fields (which reflect.DeepEqual would still compare, often
// spuriously, e.g. for sync primitives embedded in state) are ignored the
// same way a caller's own JSON-based snapshotting would see state.
func AssertProcessManagerReadOnly[TState any](pm ProcessManager[TState], state TState, ev signal.EnrichedEvent) error {
	before, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("dispatch: snapshot state before: %w", err)
	}

	pm(state, ev)

	after, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("dispatch: snapshot state after: %w", err)
	}
	if string(before) != string(after) {
		return fmt.Errorf("dispatch: process manager mutated state: before=%s after=%s", before, after)
	}
	return nil
}
