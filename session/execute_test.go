package session

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/flowkit/signalkernel/engine/inmem"
	"github.com/flowkit/signalkernel/hub"
	"github.com/flowkit/signalkernel/signal"
	"github.com/flowkit/signalkernel/store"
)

// TestExecuteFormRunsStepsLiveWithoutAnEngine verifies the execute-form
// workflow body runs its steps directly, in order, and records each yield.
func TestExecuteFormRunsStepsLiveWithoutAnEngine(t *testing.T) {
	h := hub.New()
	s := NewExecute("exec-1", h, testState{}, func(ctx context.Context, wc *WorkflowContext[testState], input any) (any, error) {
		a, err := wc.Step(ctx, "fetch", input, func(ctx context.Context, in any) (any, error) {
			return "fetched:" + in.(string), nil
		})
		if err != nil {
			return nil, err
		}
		b, err := wc.Step(ctx, "transform", a, func(ctx context.Context, in any) (any, error) {
			return in.(string) + "!", nil
		})
		if err != nil {
			return nil, err
		}
		return b, nil
	})

	require.NoError(t, s.Run(context.Background(), "x"))
	result, err := s.Wait(context.Background())
	require.NoError(t, err)
	require.Equal(t, "fetched:x!", result)

	steps := s.ExecutedSteps()
	require.Len(t, steps, 2)
	require.Equal(t, "fetch", steps[0].Step)
	require.Equal(t, "fetched:x", steps[0].Output)
	require.Equal(t, "transform", steps[1].Step)
	require.Equal(t, "fetched:x!", steps[1].Output)
}

// TestExecuteFormReplayUsesRecordedOutputsInsteadOfRerunningSteps verifies
// a session constructed with WithReplayLog positionally matches each
// wc.Step call against the recorded log and never invokes the live
// StepFunc, per spec.md §4.F.
func TestExecuteFormReplayUsesRecordedOutputsInsteadOfRerunningSteps(t *testing.T) {
	h := hub.New()
	log := []StepYield{
		{Step: "fetch", Input: "x", Output: "fetched:x"},
		{Step: "transform", Input: "fetched:x", Output: "fetched:x!"},
	}

	var liveCalls int
	s := NewExecute("exec-2", h, testState{}, func(ctx context.Context, wc *WorkflowContext[testState], input any) (any, error) {
		a, err := wc.Step(ctx, "fetch", input, func(ctx context.Context, in any) (any, error) {
			liveCalls++
			return "should-not-run", nil
		})
		if err != nil {
			return nil, err
		}
		return wc.Step(ctx, "transform", a, func(ctx context.Context, in any) (any, error) {
			liveCalls++
			return "should-not-run-either", nil
		})
	}, WithReplayLog[testState](log))

	require.NoError(t, s.Run(context.Background(), "x"))
	result, err := s.Wait(context.Background())
	require.NoError(t, err)
	require.Equal(t, "fetched:x!", result)
	require.Equal(t, 0, liveCalls)
}

// TestExecuteFormReplayMismatchReturnsConflict verifies a step name that
// does not match the recorded log at that position fails loudly instead of
// silently reordering.
func TestExecuteFormReplayMismatchReturnsConflict(t *testing.T) {
	h := hub.New()
	log := []StepYield{{Step: "fetch", Input: "x", Output: "fetched:x"}}

	s := NewExecute("exec-3", h, testState{}, func(ctx context.Context, wc *WorkflowContext[testState], input any) (any, error) {
		return wc.Step(ctx, "wrong-name", input, func(ctx context.Context, in any) (any, error) {
			return nil, nil
		})
	}, WithReplayLog[testState](log))

	require.NoError(t, s.Run(context.Background(), "x"))
	_, err := s.Wait(context.Background())
	require.Error(t, err)
	var kernelErr *signal.Error
	require.ErrorAs(t, err, &kernelErr)
	require.Equal(t, signal.KindConflict, kernelErr.Kind)
}

// TestExecuteFormDrivesThroughInmemEngine verifies WithEngine routes the
// execute-form body through engine.Engine: each wc.Step call becomes an
// ExecuteActivity against the in-memory engine rather than a direct call.
func TestExecuteFormDrivesThroughInmemEngine(t *testing.T) {
	h := hub.New()
	eng := inmem.New()

	s := NewExecute("exec-4", h, testState{}, func(ctx context.Context, wc *WorkflowContext[testState], input any) (any, error) {
		return wc.Step(ctx, "fetch", input, func(ctx context.Context, in any) (any, error) {
			return "via-engine:" + in.(string), nil
		})
	}, WithEngine[testState](eng))

	require.NoError(t, s.Run(context.Background(), "x"))
	result, err := s.Wait(context.Background())
	require.NoError(t, err)
	require.Equal(t, "via-engine:x", result)

	steps := s.ExecutedSteps()
	require.Len(t, steps, 1)
	require.Equal(t, "fetch", steps[0].Step)
	require.Equal(t, "via-engine:x", steps[0].Output)
}

// TestStepYieldsFromRecordingDecodesWorkflowStepSignals verifies the
// extraction helper recovers the StepYield log from a store.Recording's
// generic signal payloads.
func TestStepYieldsFromRecordingDecodesWorkflowStepSignals(t *testing.T) {
	rec := store.Recording{
		Signals: []signal.EnrichedEvent{
			{Name: "harness:start"},
			{Name: "workflow:step", Payload: map[string]any{"Step": "fetch", "Input": "x", "Output": "fetched:x"}},
			{Name: "workflow:step", Payload: map[string]any{"Step": "transform", "Input": "fetched:x", "Output": "fetched:x!"}},
		},
	}

	steps := StepYieldsFromRecording(rec)
	require.Len(t, steps, 2)
	require.Equal(t, "fetch", steps[0].Step)
	require.Equal(t, "transform", steps[1].Step)
	require.Equal(t, "fetched:x!", steps[1].Output)
}
