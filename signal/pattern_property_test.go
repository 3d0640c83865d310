package signal

import (
	"strings"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// TestPatternMatcherProperties checks the universally-quantified matching
// rules from spec.md §4.A/§8 hold for arbitrary segment vocabularies, not
// just the handful of examples in pattern_test.go.
func TestPatternMatcherProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	properties := gopter.NewProperties(parameters)

	segment := gen.OneConstOf("agent", "task", "tool", "start", "complete", "delta", "x", "y")
	name := gen.SliceOfN(3, segment).Map(func(segs []string) string {
		return strings.Join(segs, ":")
	})

	properties.Property("an exact pattern matches its own name", prop.ForAll(
		func(n string) bool {
			m := Compile(n)
			return m.Match(n)
		},
		name,
	))

	properties.Property("** matches any name sharing its prefix segments", prop.ForAll(
		func(segs []string) bool {
			pattern := segs[0] + ":**"
			m := Compile(pattern)
			full := strings.Join(segs, ":")
			return m.Match(full)
		},
		gen.SliceOfN(3, segment),
	))

	properties.Property("trailing single-segment * never crosses a colon", prop.ForAll(
		func(segs []string) bool {
			pattern := segs[0] + ":*"
			m := Compile(pattern)
			threeSeg := strings.Join(segs, ":")
			return !m.Match(threeSeg)
		},
		gen.SliceOfN(3, segment),
	))

	properties.Property("nil filter matches every generated name", prop.ForAll(
		func(n string) bool {
			return Compile(nil).Match(n)
		},
		name,
	))

	properties.TestingRun(t)
}
