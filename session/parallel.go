package session

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/flowkit/signalkernel/signal"
)

// ParallelOptions configures WorkflowContext.Parallel, per spec.md §4.F.
type ParallelOptions struct {
	// Concurrency caps the number of items in flight at once. Defaults to 5.
	Concurrency int
}

func (o ParallelOptions) withDefaults() ParallelOptions {
	if o.Concurrency <= 0 {
		o.Concurrency = 5
	}
	return o
}

// Parallel runs fns with bounded concurrency, per spec.md §4.F: emits
// parallel:start{total,concurrency}, one parallel:item:complete{index,
// completed,total} per completed item in completion order, and a final
// parallel:complete. Any item failure cancels items that have not yet
// started and cooperatively cancels in-flight ones via ctx; the first
// error encountered is returned after parallel:complete carries
// failed:true.
func (c *WorkflowContext[TState]) Parallel(ctx context.Context, name string, fns []func(context.Context) (any, error), opts ParallelOptions) ([]any, error) {
	s := c.session
	opts = opts.withDefaults()
	total := len(fns)

	s.hub.Emit(ctx, signal.Signal{Name: "parallel:start", Payload: map[string]any{
		"name": name, "total": total, "concurrency": opts.Concurrency,
	}}, signal.EventContext{})

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	results := make([]any, total)
	sem := make(chan struct{}, opts.Concurrency)
	var wg sync.WaitGroup
	var completed int64
	var firstErr atomicError

	for i, fn := range fns {
		select {
		case <-runCtx.Done():
			// A prior item failed: items not yet started are skipped
			// entirely rather than launched and then canceled.
			continue
		default:
		}

		wg.Add(1)
		sem <- struct{}{}
		go func(index int, fn func(context.Context) (any, error)) {
			defer wg.Done()
			defer func() { <-sem }()

			select {
			case <-runCtx.Done():
				return
			default:
			}

			result, err := fn(runCtx)
			if err != nil {
				firstErr.setOnce(err)
				cancel()
				return
			}
			results[index] = result

			n := atomic.AddInt64(&completed, 1)
			s.hub.Emit(ctx, signal.Signal{Name: "parallel:item:complete", Payload: map[string]any{
				"index": index, "completed": n, "total": total,
			}}, signal.EventContext{})
		}(i, fn)
	}
	wg.Wait()

	err := firstErr.get()
	s.hub.Emit(ctx, signal.Signal{Name: "parallel:complete", Payload: map[string]any{
		"name": name, "total": total, "failed": err != nil,
	}}, signal.EventContext{})

	if err != nil {
		return results, err
	}
	return results, nil
}

// atomicError holds the first error reported by concurrent goroutines.
type atomicError struct {
	mu  sync.Mutex
	err error
}

func (a *atomicError) setOnce(err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.err == nil {
		a.err = err
	}
}

func (a *atomicError) get() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.err
}
