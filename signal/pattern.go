package signal

import "strings"

// Matcher is a compiled subscription filter. Compile once, reuse across
// many Emit calls; per spec.md §4.A this keeps subscription lookup cheap
// even with many thousands of subscribers.
type Matcher struct {
	matchAll bool
	exact    string
	// segments holds the pattern split on ':' for non-trivial patterns.
	// A "**" segment matches any suffix including further colons; a
	// segment ending in "*" matches any suffix within that one segment;
	// any other segment must match exactly.
	segments []string
	any      []*Matcher // non-nil for OR-array patterns
}

// Filter is anything that can be compiled into a Matcher: a string, a
// []string, or a previously-compiled *Matcher.
type Filter any

// Compile builds a Matcher from filter. A nil/empty filter is equivalent to
// "**" (matches everything). Matching is case-sensitive and operates on the
// raw signal name.
func Compile(filter Filter) *Matcher {
	switch f := filter.(type) {
	case nil:
		return &Matcher{matchAll: true}
	case *Matcher:
		if f == nil {
			return &Matcher{matchAll: true}
		}
		return f
	case string:
		return compileOne(f)
	case []string:
		if len(f) == 0 {
			return &Matcher{matchAll: true}
		}
		ms := make([]*Matcher, len(f))
		for i, s := range f {
			ms[i] = compileOne(s)
		}
		return &Matcher{any: ms}
	case []Filter:
		ms := make([]*Matcher, len(f))
		for i, s := range f {
			ms[i] = Compile(s)
		}
		return &Matcher{any: ms}
	default:
		return &Matcher{matchAll: true}
	}
}

func compileOne(pattern string) *Matcher {
	if pattern == "" || pattern == "**" {
		return &Matcher{matchAll: true}
	}
	if !strings.ContainsAny(pattern, "*") {
		return &Matcher{exact: pattern}
	}
	return &Matcher{segments: strings.Split(pattern, ":")}
}

// Match reports whether name satisfies the compiled filter. An unknown
// signal name (one that cannot be parsed meaningfully) always matches
// "*"/"**" patterns, which falls out naturally here since such patterns
// never inspect name structure.
func (m *Matcher) Match(name string) bool {
	if m == nil || m.matchAll {
		return true
	}
	if len(m.any) > 0 {
		for _, sub := range m.any {
			if sub.Match(name) {
				return true
			}
		}
		return false
	}
	if m.exact != "" {
		return m.exact == name
	}
	return matchSegments(m.segments, strings.Split(name, ":"))
}

// matchSegments matches a "**"-aware, ':'-segmented pattern against a
// ':'-segmented name. "**" consumes the remainder of the name including
// further colons; a segment ending in "*" matches any suffix within the
// corresponding single name segment; any other segment must match exactly.
func matchSegments(pattern, name []string) bool {
	for i, seg := range pattern {
		if seg == "**" {
			// "**" must be the final pattern segment to have well-defined
			// semantics; it consumes everything remaining.
			return true
		}
		if i >= len(name) {
			return false
		}
		if strings.HasSuffix(seg, "*") {
			prefix := strings.TrimSuffix(seg, "*")
			if !strings.HasPrefix(name[i], prefix) {
				return false
			}
			continue
		}
		if seg != name[i] {
			return false
		}
	}
	return len(pattern) == len(name)
}
