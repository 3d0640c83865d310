// Package ratelimit wraps a provider.Streamer with an AIMD-style adaptive
// token-bucket limiter: it estimates the token cost of each request, blocks
// the caller until capacity is available, and adjusts its effective
// tokens-per-minute budget up on success and down on a provider rate-limit
// error.
//
// Grounded on features/model/middleware/ratelimit.go's AdaptiveRateLimiter
// from the teacher repository, adapted from wrapping model.Client's
// Complete/Stream pair to wrapping the kernel's single provider.Streamer
// method. The cluster-coordinated (Pulse replicated map) variant is not
// ported: the kernel is explicitly single-node (spec.md §1 Non-goals), so
// only the process-local limiter applies.
package ratelimit

import (
	"context"
	"errors"
	"sync"

	"golang.org/x/time/rate"

	"github.com/flowkit/signalkernel/provider"
	"github.com/flowkit/signalkernel/signal"
)

// Limiter applies an adaptive tokens-per-minute budget on top of a
// provider.Streamer. The zero value is not usable; construct with New.
type Limiter struct {
	mu sync.Mutex

	next provider.Streamer

	limiter *rate.Limiter

	currentTPM float64
	minTPM     float64
	maxTPM     float64

	recoveryRate float64

	onBackoff func(newTPM float64)
	onProbe   func(newTPM float64)
}

// New wraps next with an adaptive limiter budgeted at initialTPM tokens per
// minute, allowed to climb as high as maxTPM on sustained success. When
// maxTPM is zero or less than initialTPM it is clamped to initialTPM.
func New(next provider.Streamer, initialTPM, maxTPM float64) *Limiter {
	if initialTPM <= 0 {
		initialTPM = 60000
	}
	if maxTPM <= 0 || maxTPM < initialTPM {
		maxTPM = initialTPM
	}
	minTPM := initialTPM * 0.1
	if minTPM < 1 {
		minTPM = 1
	}
	recoveryRate := initialTPM * 0.05
	if recoveryRate < 1 {
		recoveryRate = 1
	}
	return &Limiter{
		next:         next,
		limiter:      rate.NewLimiter(rate.Limit(initialTPM/60.0), int(initialTPM)),
		currentTPM:   initialTPM,
		minTPM:       minTPM,
		maxTPM:       maxTPM,
		recoveryRate: recoveryRate,
	}
}

// OnBackoff installs a callback invoked whenever the limiter halves its
// budget in response to a provider rate-limit error. Intended for
// telemetry; optional.
func (l *Limiter) OnBackoff(fn func(newTPM float64)) { l.onBackoff = fn }

// OnProbe installs a callback invoked whenever the limiter raises its
// budget after an uneventful request. Intended for telemetry; optional.
func (l *Limiter) OnProbe(fn func(newTPM float64)) { l.onProbe = fn }

// Stream implements provider.Streamer: it blocks until the estimated token
// cost of req is available in the bucket, delegates to the wrapped
// Streamer, and adjusts the budget based on the outcome.
func (l *Limiter) Stream(ctx context.Context, req provider.Request, emit func(signal.Signal), abort provider.AbortSignal) (provider.EndPayload, error) {
	tokens := estimateTokens(req)
	if err := l.limiter.WaitN(ctx, tokens); err != nil {
		return provider.EndPayload{}, signal.Wrap(signal.KindTimeout, "ratelimit.wait", err)
	}

	end, err := l.next.Stream(ctx, req, emit, abort)
	l.observe(err)
	return end, err
}

func (l *Limiter) observe(err error) {
	if err == nil {
		l.probe()
		return
	}
	var kerr *signal.Error
	if errors.As(err, &kerr) && kerr.Kind == signal.KindProvider && kerr.Retryable {
		l.backoff()
	}
}

func (l *Limiter) backoff() {
	l.mu.Lock()
	newTPM := l.currentTPM * 0.5
	if newTPM < l.minTPM {
		newTPM = l.minTPM
	}
	if newTPM == l.currentTPM {
		l.mu.Unlock()
		return
	}
	l.currentTPM = newTPM
	l.limiter.SetLimit(rate.Limit(newTPM / 60.0))
	l.limiter.SetBurst(int(newTPM))
	cb := l.onBackoff
	l.mu.Unlock()
	if cb != nil {
		cb(newTPM)
	}
}

func (l *Limiter) probe() {
	l.mu.Lock()
	newTPM := l.currentTPM + l.recoveryRate
	if newTPM > l.maxTPM {
		newTPM = l.maxTPM
	}
	if newTPM == l.currentTPM {
		l.mu.Unlock()
		return
	}
	l.currentTPM = newTPM
	l.limiter.SetLimit(rate.Limit(newTPM / 60.0))
	l.limiter.SetBurst(int(newTPM))
	cb := l.onProbe
	l.mu.Unlock()
	if cb != nil {
		cb(newTPM)
	}
}

// estimateTokens computes a cheap heuristic for the number of tokens in
// req's transcript: it counts characters across system prompt and message
// content, converts them to tokens at a fixed ratio, and adds a buffer for
// tool schemas and provider framing.
func estimateTokens(req provider.Request) int {
	charCount := len(req.System)
	for _, m := range req.Messages {
		charCount += len(m.Content)
	}
	for _, t := range req.Tools {
		charCount += len(t.Name) + len(t.Description)
	}
	if charCount <= 0 {
		return 500
	}
	tokens := charCount / 3
	if tokens < 1 {
		tokens = 1
	}
	return tokens + 500
}
