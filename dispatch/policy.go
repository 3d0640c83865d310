// Policy engine supplement, grounded on features/policy/basic.Engine from
// the teacher repository. The kernel has no generated tools.Ident type, so
// tool identities are plain strings here; the allow/block-list and
// retry-hint-restriction logic is otherwise a direct port.
package dispatch

import (
	"context"
	"strings"
)

type (
	// ToolMetadata describes a tool candidate the policy engine reasons
	// over.
	ToolMetadata struct {
		ID   string
		Tags []string
	}

	// CapsState tracks consumable per-turn budgets a policy may restrict.
	CapsState struct {
		RemainingToolCalls int
	}

	// PolicyInput is the per-turn input to a PolicyEngine's decision.
	PolicyInput struct {
		Tools         []ToolMetadata
		Requested     []string
		RemainingCaps CapsState
		RetryHint     *RetryHint
	}

	// PolicyDecision is a policy engine's output. SPEC_FULL.md's domain
	// stack wiring has callers emit this as a policy:decision signal.
	PolicyDecision struct {
		AllowedTools []string
		Caps         CapsState
		Labels       map[string]string
	}

	// PolicyEngine decides which tools a turn may use, and applies any
	// caps/retry-hint restrictions.
	PolicyEngine interface {
		Decide(ctx context.Context, input PolicyInput) (PolicyDecision, error)
	}

	// BasicPolicyOptions configures NewBasicPolicy.
	BasicPolicyOptions struct {
		// AllowTags restricts tool execution to metadata tags. Empty means
		// no tag filter.
		AllowTags []string
		// BlockTags excludes tools carrying any of these tags.
		BlockTags []string
		// AllowTools explicitly allowlists tool IDs, taking precedence
		// over tags.
		AllowTools []string
		// BlockTools explicitly blocks tool IDs.
		BlockTools []string
		// DisableRetryHints disables automatic handling of RetryHint.
		// Enabled by default. It only takes effect together with at least
		// one allow/block filter; with no filter set, NewBasicPolicy
		// honors retry hints regardless.
		DisableRetryHints bool
		// Label annotates the decision's Labels["policy_engine"]. Defaults
		// to "basic".
		Label string
	}

	basicPolicy struct {
		allowTags  map[string]struct{}
		blockTags  map[string]struct{}
		allowTools map[string]struct{}
		blockTools map[string]struct{}
		honorHints bool
		label      string
	}
)

// NewBasicPolicy builds a PolicyEngine with allow/block filtering and
// retry-hint awareness.
func NewBasicPolicy(opts BasicPolicyOptions) PolicyEngine {
	label := strings.TrimSpace(opts.Label)
	if label == "" {
		label = "basic"
	}
	e := &basicPolicy{
		allowTags:  toSet(opts.AllowTags),
		blockTags:  toSet(opts.BlockTags),
		allowTools: toSet(opts.AllowTools),
		blockTools: toSet(opts.BlockTools),
		honorHints: !opts.DisableRetryHints,
		label:      label,
	}
	if !e.honorHints && len(e.allowTools) == 0 && len(e.allowTags) == 0 &&
		len(e.blockTools) == 0 && len(e.blockTags) == 0 {
		// Default to honoring retry hints so the engine always influences
		// behavior.
		e.honorHints = true
	}
	return e
}

func (e *basicPolicy) Decide(_ context.Context, input PolicyInput) (PolicyDecision, error) {
	meta := indexMetadata(input.Tools)
	candidates := candidateHandles(input, meta)
	allowed := e.filterAllowed(candidates, meta)
	caps := input.RemainingCaps
	if e.honorHints && input.RetryHint != nil {
		allowed, caps = e.applyRetryHint(allowed, meta, caps, input.RetryHint)
	}
	labels := map[string]string{"policy_engine": e.label}
	if input.RetryHint != nil && e.honorHints {
		labels["policy_hint"] = string(input.RetryHint.Reason)
	}
	return PolicyDecision{
		AllowedTools: allowed,
		Caps:         caps,
		Labels:       labels,
	}, nil
}

func (e *basicPolicy) filterAllowed(handles []string, meta map[string]ToolMetadata) []string {
	filtered := make([]string, 0, len(handles))
	seen := make(map[string]struct{}, len(handles))
	for _, handle := range handles {
		if _, ok := seen[handle]; ok {
			continue
		}
		md, ok := meta[handle]
		if !ok {
			continue
		}
		if !e.isAllowed(md) {
			continue
		}
		filtered = append(filtered, handle)
		seen[handle] = struct{}{}
	}
	return filtered
}

func (e *basicPolicy) isAllowed(meta ToolMetadata) bool {
	if len(e.blockTools) > 0 {
		if _, blocked := e.blockTools[meta.ID]; blocked {
			return false
		}
	}
	if len(e.blockTags) > 0 {
		for _, tag := range meta.Tags {
			if _, blocked := e.blockTags[tag]; blocked {
				return false
			}
		}
	}
	if len(e.allowTools) > 0 {
		_, ok := e.allowTools[meta.ID]
		return ok
	}
	if len(e.allowTags) > 0 {
		for _, tag := range meta.Tags {
			if _, ok := e.allowTags[tag]; ok {
				return true
			}
		}
		return false
	}
	return true
}

func (e *basicPolicy) applyRetryHint(allowed []string, meta map[string]ToolMetadata, caps CapsState, hint *RetryHint) ([]string, CapsState) {
	if hint == nil || hint.Tool == "" {
		return allowed, caps
	}
	switch {
	case hint.RestrictToTool:
		if _, ok := meta[hint.Tool]; ok {
			allowed = []string{hint.Tool}
			caps.RemainingToolCalls = limitCap(caps.RemainingToolCalls, 1)
		} else {
			allowed = nil
		}
	case hint.Reason == RetryReasonToolUnavailable:
		allowed = removeHandle(allowed, hint.Tool)
	default:
		// Use the existing allowed slice as-is.
	}
	return allowed, caps
}

func candidateHandles(input PolicyInput, meta map[string]ToolMetadata) []string {
	if len(input.Requested) > 0 {
		dup := make([]string, len(input.Requested))
		copy(dup, input.Requested)
		return dup
	}
	handles := make([]string, 0, len(meta))
	for id := range meta {
		handles = append(handles, id)
	}
	return handles
}

func removeHandle(handles []string, id string) []string {
	filtered := handles[:0]
	for _, handle := range handles {
		if handle == id {
			continue
		}
		filtered = append(filtered, handle)
	}
	return filtered
}

func indexMetadata(list []ToolMetadata) map[string]ToolMetadata {
	index := make(map[string]ToolMetadata, len(list))
	for _, meta := range list {
		index[meta.ID] = meta
	}
	return index
}

func toSet(values []string) map[string]struct{} {
	if len(values) == 0 {
		return nil
	}
	set := make(map[string]struct{}, len(values))
	for _, value := range values {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			set[trimmed] = struct{}{}
		}
	}
	if len(set) == 0 {
		return nil
	}
	return set
}

func limitCap(current, limit int) int {
	if limit <= 0 {
		return current
	}
	if current == 0 {
		return limit
	}
	if current < limit {
		return current
	}
	return limit
}
