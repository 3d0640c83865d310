package session

import (
	"context"
	"time"

	"github.com/flowkit/signalkernel/internal/idgen"
	"github.com/flowkit/signalkernel/signal"
)

// PromptOptions configures WaitForUser, per spec.md §4.F HITL.
type PromptOptions struct {
	// Choices optionally constrains the expected answer to a fixed set,
	// advertised to the client in session:prompt's payload.
	Choices []string
	// Validator, if set, is applied to every reply. A non-empty return
	// value is treated as a validation error: the pending prompt stays
	// open and the string is surfaced to the replying client instead of
	// resolving WaitForUser.
	Validator func(response string) (validationError string)
	// Deadline, if non-zero, causes WaitForUser to reject with a
	// TimeoutError once exceeded.
	Deadline time.Duration
}

type pendingPrompt struct {
	promptID  string
	resultCh  chan promptResult
	validator func(string) string
}

type promptResult struct {
	response string
	err      error
}

// WaitForUser suspends the calling workflow until a correlated reply
// arrives via Reply, the optional deadline elapses, or the session is
// aborted, per spec.md §4.F steps 1-4.
func (c *WorkflowContext[TState]) WaitForUser(ctx context.Context, prompt string, opts PromptOptions) (string, error) {
	s := c.session
	promptID := idgen.Prefixed("prompt")

	pp := &pendingPrompt{
		promptID:  promptID,
		resultCh:  make(chan promptResult, 1),
		validator: opts.Validator,
	}
	s.mu.Lock()
	if s.status == StatusAborted {
		s.mu.Unlock()
		return "", signal.Aborted("session.waitForUser")
	}
	s.pending[promptID] = pp
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.pending, promptID)
		s.mu.Unlock()
	}()

	carrier := s.hub.Emit(ctx, signal.Signal{
		Name:    "session:prompt",
		Payload: map[string]any{"promptId": promptID, "prompt": prompt, "choices": opts.Choices},
	}, signal.EventContext{})

	var timeoutCh <-chan time.Time
	if opts.Deadline > 0 {
		timer := time.NewTimer(opts.Deadline)
		defer timer.Stop()
		timeoutCh = timer.C
	}

	select {
	case res := <-pp.resultCh:
		if res.err != nil {
			return "", res.err
		}
		s.hub.Emit(ctx, signal.Signal{
			Name:     "session:reply",
			Payload:  map[string]any{"promptId": promptID, "response": res.response},
			CausedBy: carrier.ID,
		}, signal.EventContext{})
		return res.response, nil
	case <-timeoutCh:
		return "", signal.New(signal.KindTimeout, "session.waitForUser", "prompt "+promptID+" timed out").Retry()
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Reply resolves the pending prompt identified by promptID with response.
// If the prompt was registered with a Validator and it rejects response,
// Reply returns the validation error string (wrapped as a ValidationError)
// and the prompt is left open for another reply, per spec.md §4.F step 4(a).
func (s *Session[TState]) Reply(promptID, response string) error {
	s.mu.Lock()
	pp, ok := s.pending[promptID]
	s.mu.Unlock()
	if !ok {
		return signal.NotFound("session.reply", "unknown prompt id "+promptID)
	}
	if pp.validator != nil {
		if msg := pp.validator(response); msg != "" {
			return signal.New(signal.KindValidation, "session.reply", msg)
		}
	}
	select {
	case pp.resultCh <- promptResult{response: response}:
		return nil
	default:
		return signal.Conflict("session.reply", "prompt "+promptID+" already answered")
	}
}

// rejectAllPending resolves every outstanding prompt with err, used on
// Abort per spec.md §8 invariant 7(b).
func (s *Session[TState]) rejectAllPending(err error) {
	s.mu.Lock()
	pending := make([]*pendingPrompt, 0, len(s.pending))
	for _, pp := range s.pending {
		pending = append(pending, pp)
	}
	s.mu.Unlock()

	for _, pp := range pending {
		select {
		case pp.resultCh <- promptResult{err: err}:
		default:
		}
	}
}
