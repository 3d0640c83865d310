package session

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/flowkit/signalkernel/signal"
)

// RetryOptions configures WorkflowContext.Retry, per spec.md §4.F.
type RetryOptions struct {
	// Retries caps the number of additional attempts after the first.
	// Defaults to 3.
	Retries int
	// MinTimeout is the smallest backoff delay between attempts. Defaults
	// to 1s.
	MinTimeout time.Duration
	// MaxTimeout is the largest backoff delay between attempts. Defaults
	// to 5s.
	MaxTimeout time.Duration
}

func (o RetryOptions) withDefaults() RetryOptions {
	if o.Retries <= 0 {
		o.Retries = 3
	}
	if o.MinTimeout <= 0 {
		o.MinTimeout = time.Second
	}
	if o.MaxTimeout <= 0 {
		o.MaxTimeout = 5 * time.Second
	}
	if o.MaxTimeout < o.MinTimeout {
		o.MaxTimeout = o.MinTimeout
	}
	return o
}

// Retry runs fn up to opts.Retries+1 times, backing off exponentially with
// jitter (clamped to [MinTimeout, MaxTimeout]) between attempts, per
// spec.md §4.F: retry:start{maxAttempts}, per-attempt retry:attempt, on
// failure retry:backoff{attempt,delay,error}, on success retry:success, on
// exhaustion retry:failure followed by returning the last error.
func (c *WorkflowContext[TState]) Retry(ctx context.Context, name string, fn func(context.Context) (any, error), opts RetryOptions) (any, error) {
	s := c.session
	opts = opts.withDefaults()
	maxAttempts := opts.Retries + 1

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = opts.MinTimeout
	bo.MaxInterval = opts.MaxTimeout
	bo.MaxElapsedTime = 0 // this helper bounds attempts, not elapsed wall time
	bo.Reset()

	s.hub.Emit(ctx, signal.Signal{Name: "retry:start", Payload: map[string]any{"name": name, "maxAttempts": maxAttempts}}, signal.EventContext{})

	var lastErr error
attempts:
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		s.hub.Emit(ctx, signal.Signal{Name: "retry:attempt", Payload: map[string]any{"name": name, "attempt": attempt}}, signal.EventContext{})

		result, err := fn(ctx)
		if err == nil {
			s.hub.Emit(ctx, signal.Signal{Name: "retry:success", Payload: map[string]any{"name": name, "attempt": attempt}}, signal.EventContext{})
			return result, nil
		}
		lastErr = err

		if attempt == maxAttempts {
			break
		}

		delay := clampDuration(bo.NextBackOff(), opts.MinTimeout, opts.MaxTimeout)
		s.hub.Emit(ctx, signal.Signal{Name: "retry:backoff", Payload: map[string]any{
			"name": name, "attempt": attempt, "delay": delay.String(), "error": err.Error(),
		}}, signal.EventContext{})

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			lastErr = ctx.Err()
			break attempts
		}
		if s.IsAborted() {
			lastErr = signal.Aborted("session.retry")
			break
		}
	}

	s.hub.Emit(ctx, signal.Signal{Name: "retry:failure", Payload: map[string]any{"name": name, "error": lastErr.Error()}}, signal.EventContext{})
	return nil, lastErr
}

func clampDuration(d, min, max time.Duration) time.Duration {
	if d < min {
		return min
	}
	if d > max {
		return max
	}
	return d
}
