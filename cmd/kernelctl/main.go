// Command kernelctl wires the kernel end-to-end and runs one session from
// the command line: Hub, Signal Store (fs or mongo), Session Runtime, and
// the workflow/dispatch layer driving a Task through to completion.
//
// Grounded on cmd/demo/main.go's "wire a runtime, register a minimal agent,
// run it" shape and registry/cmd/registry/main.go's env/flag configuration
// and run()-returns-error style from the teacher repository.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/flowkit/signalkernel/attachment/renderer"
	"github.com/flowkit/signalkernel/config"
	"github.com/flowkit/signalkernel/dispatch"
	"github.com/flowkit/signalkernel/hub"
	"github.com/flowkit/signalkernel/internal/idgen"
	"github.com/flowkit/signalkernel/session"
	"github.com/flowkit/signalkernel/signal"
	"github.com/flowkit/signalkernel/store"
	"github.com/flowkit/signalkernel/store/fsstore"
	"github.com/flowkit/signalkernel/telemetry"
	"github.com/flowkit/signalkernel/workflow"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		var kerr *signal.Error
		if errors.As(err, &kerr) {
			fmt.Fprintln(os.Stderr, "kernelctl:", kerr.Error())
		} else {
			fmt.Fprintln(os.Stderr, "kernelctl:", err)
		}
		os.Exit(1)
	}
}

// taskState is the demo session state run() drives: a single Task tracked
// with the workflow package's conventions (spec.md §3).
type taskState struct {
	Task workflow.Task
}

func run(args []string) error {
	fs := flag.NewFlagSet("kernelctl", flag.ContinueOnError)
	configPath := fs.String("config", "", "path to a kernel YAML config file (optional, uses defaults when empty)")
	title := fs.String("title", "", "title of the task to run (required)")
	sessionID := fs.String("session-id", "", "session id to use (defaults to a generated id)")
	if err := fs.Parse(args); err != nil {
		return signal.New(signal.KindUsage, "kernelctl.parseFlags", err.Error())
	}
	if *title == "" {
		return signal.New(signal.KindUsage, "kernelctl.run", "-title is required")
	}

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			return signal.Wrap(signal.KindUsage, "kernelctl.loadConfig", err)
		}
		cfg = loaded
	}

	logger := telemetry.NewNoopLogger()
	if cfg.Telemetry.Enabled {
		logger = telemetry.NewClueLogger()
	}

	st, err := openStore(cfg.Store)
	if err != nil {
		return err
	}

	h := hub.New(hub.WithErrorLogger(func(ctx context.Context, sig string, err error) {
		logger.Error(ctx, "listener error", "signal", sig, "error", err)
	}))

	id := *sessionID
	if id == "" {
		id = idgen.Prefixed("sess")
	}

	initial := taskState{Task: workflow.Task{ID: idgen.Prefixed("task"), Title: *title, Status: workflow.TaskPending}}

	sess := session.New(id, h, initial, runTask, session.WithLogger[taskState](logger))
	sess.Attach(renderer.New(renderer.Options{
		DebounceInterval: cfg.Attachment.DebounceInterval,
		Write: func(_ context.Context, sessionID, content string) error {
			fmt.Printf("[%s] %s\n", sessionID, content)
			return nil
		},
	}))

	ctx := context.Background()
	if err := sess.Run(ctx, *title); err != nil {
		return signal.Wrap(signal.KindInternal, "kernelctl.run", err)
	}

	result, err := sess.Wait(ctx)
	if err != nil {
		return err
	}

	meta := store.Meta{Name: *title, ProviderType: "kernelctl"}
	recID, err := st.Create(ctx, meta)
	if err != nil {
		return signal.Wrap(signal.KindInternal, "kernelctl.recordResult", err)
	}
	durationMs := int64(0)
	if err := st.Finalize(ctx, recID, &durationMs, result); err != nil {
		return signal.Wrap(signal.KindInternal, "kernelctl.finalizeRecording", err)
	}

	fmt.Printf("session %s complete: %v\n", sess.ID(), result)
	return nil
}

// runTask is the session's RunFunc: it drives the single demo Task from
// pending through completion via a dispatch.Loop, so the CLI exercises the
// same Reducer/Handler registration path a real workflow would (spec.md
// §4.H).
func runTask(ctx context.Context, wc *session.WorkflowContext[taskState], input any) (any, error) {
	title, _ := input.(string)

	loop := dispatch.NewLoop[taskState]()
	loop.AddReducer("task:start", func(st taskState, _ signal.EnrichedEvent) taskState {
		st.Task = workflow.StartAttempt(st.Task)
		return st
	})
	loop.AddHandler("task:start", func(st taskState, _ signal.EnrichedEvent) (taskState, []signal.Signal) {
		return st, []signal.Signal{{Name: "task:attempt", Payload: st.Task}}
	})
	loop.AddReducer("task:attempt", func(st taskState, _ signal.EnrichedEvent) taskState {
		rec := workflow.AttemptRecord{
			Attempt:   st.Task.Attempt,
			Timestamp: time.Now(),
			Outcome:   workflow.OutcomeSuccess,
			Summary:   "completed: " + title,
		}
		st.Task = workflow.RecordAttempt(st.Task, rec)
		return st
	})
	loop.EndWhen(func(st taskState) bool { return st.Task.Status == workflow.TaskComplete })

	seed := wc.Emit(ctx, "task:start", wc.State().Task)
	final := loop.Run(ctx, dispatchEmitter[taskState]{wc: wc}, wc.State(), seed)
	wc.SetState(final)
	return final.Task, nil
}

// dispatchEmitter adapts a *session.WorkflowContext into dispatch.Dispatcher
// so the Loop's follow-up signals flow through the session's Hub emission
// path, per spec.md §4.H ("the caller supplies how signals reach the bus").
type dispatchEmitter[TState any] struct {
	wc *session.WorkflowContext[TState]
}

func (d dispatchEmitter[TState]) Emit(ctx context.Context, sig signal.Signal) signal.EnrichedEvent {
	return d.wc.Emit(ctx, sig.Name, sig.Payload)
}

func openStore(cfg config.StoreConfig) (store.Store, error) {
	switch cfg.Backend {
	case "", "fs":
		dir := cfg.Dir
		if dir == "" {
			dir = "./recordings"
		}
		st, err := fsstore.New(dir)
		if err != nil {
			return nil, signal.Wrap(signal.KindInternal, "kernelctl.openStore", err)
		}
		return st, nil
	case "mongo":
		return nil, signal.New(signal.KindUsage, "kernelctl.openStore",
			"mongo store backend requires wiring a *mongo.Client outside kernelctl's scope; use store/mongostore.New directly from a custom entry point")
	default:
		return nil, signal.New(signal.KindUsage, "kernelctl.openStore", "unknown store backend: "+cfg.Backend)
	}
}
