package dispatch

import "errors"

// RetryReason categorizes why a tool call needs different handling on
// retry, mirroring runtime/agent/planner.RetryHint's reason taxonomy from
// the teacher repository.
type RetryReason string

const (
	RetryReasonToolUnavailable RetryReason = "tool_unavailable"
	RetryReasonRateLimited     RetryReason = "rate_limited"
	RetryReasonInvalidArgs     RetryReason = "invalid_args"
	RetryReasonOther           RetryReason = "other"
)

// RetryHint carries structured retry guidance from a failed tool call to
// the policy engine, grounded on runtime/agent/planner.RetryHint and its
// RetryHintProvider interface from the teacher repository: a domain error
// can implement RetryHintProvider so dispatch can attach a RetryHint to the
// follow-up signal it emits without string-parsing the error message.
type RetryHint struct {
	Tool           string
	Reason         RetryReason
	RestrictToTool bool
}

// RetryHintProvider can be implemented by a tool-call error to surface
// structured retry guidance. Service executors that detect this interface
// attach the provided RetryHint to the tool result so policies can react.
type RetryHintProvider interface {
	RetryHint(tool string) *RetryHint
}

// ExtractRetryHint returns the RetryHint attached to err if err, or any
// error it wraps, implements RetryHintProvider; nil otherwise.
func ExtractRetryHint(tool string, err error) *RetryHint {
	if err == nil {
		return nil
	}
	var provider RetryHintProvider
	if errors.As(err, &provider) {
		return provider.RetryHint(tool)
	}
	return nil
}
