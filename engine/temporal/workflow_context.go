package temporal

import (
	"context"
	"errors"
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/flowkit/signalkernel/engine"
	"github.com/flowkit/signalkernel/telemetry"
)

// workflowContext adapts a Temporal workflow.Context into engine.WorkflowContext.
type workflowContext struct {
	engine     *Engine
	ctx        workflow.Context
	workflowID string
	runID      string
}

func newWorkflowContext(e *Engine, ctx workflow.Context) *workflowContext {
	info := workflow.GetInfo(ctx)
	return &workflowContext{
		engine:     e,
		ctx:        ctx,
		workflowID: info.WorkflowExecution.ID,
		runID:      info.WorkflowExecution.RunID,
	}
}

// Context returns a standard context usable for non-deterministic calls made
// from outside the Temporal sandbox (e.g. from within an activity reached
// via ExecuteActivity). Code running directly in the workflow goroutine
// must not perform I/O against this context.
func (w *workflowContext) Context() context.Context { return context.Background() }

func (w *workflowContext) WorkflowID() string { return w.workflowID }
func (w *workflowContext) RunID() string      { return w.runID }

func (w *workflowContext) Logger() telemetry.Logger   { return telemetry.NewNoopLogger() }
func (w *workflowContext) Metrics() telemetry.Metrics { return telemetry.NewNoopMetrics() }
func (w *workflowContext) Tracer() telemetry.Tracer   { return telemetry.NewNoopTracer() }

// Now returns Temporal's replay-safe workflow clock rather than wall time.
func (w *workflowContext) Now() time.Time { return workflow.Now(w.ctx) }

func (w *workflowContext) ExecuteActivity(_ context.Context, req engine.ActivityRequest, result any) error {
	fut, err := w.ExecuteActivityAsync(context.Background(), req)
	if err != nil {
		return err
	}
	return fut.Get(context.Background(), result)
}

func (w *workflowContext) ExecuteActivityAsync(_ context.Context, req engine.ActivityRequest) (engine.Future, error) {
	opts := workflow.ActivityOptions{TaskQueue: req.Queue}
	if req.Timeout > 0 {
		opts.StartToCloseTimeout = req.Timeout
	} else {
		opts.StartToCloseTimeout = time.Minute
	}
	if rp := convertRetryPolicy(req.RetryPolicy); rp != nil {
		opts.RetryPolicy = rp
	}
	actCtx := workflow.WithActivityOptions(w.ctx, opts)
	fut := workflow.ExecuteActivity(actCtx, req.Name, req.Input)
	return &future{ctx: w.ctx, future: fut}, nil
}

func (w *workflowContext) SignalChannel(name string) engine.SignalChannel {
	return &signalChannel{ctx: w.ctx, ch: workflow.GetSignalChannel(w.ctx, name)}
}

type future struct {
	ctx    workflow.Context
	future workflow.Future
}

func (f *future) Get(_ context.Context, result any) error {
	err := f.future.Get(f.ctx, result)
	if err != nil {
		var canceledErr *temporal.CanceledError
		if errors.As(err, &canceledErr) {
			return context.Canceled
		}
	}
	return err
}

func (f *future) IsReady() bool { return f.future.IsReady() }

type signalChannel struct {
	ctx workflow.Context
	ch  workflow.ReceiveChannel
}

func (s *signalChannel) Receive(_ context.Context, dest any) error {
	s.ch.Receive(s.ctx, dest)
	return nil
}

func (s *signalChannel) ReceiveAsync(dest any) bool {
	return s.ch.ReceiveAsync(dest)
}
