// Package idgen centralizes identifier generation so every store/engine
// backend mints ids the same way, following the teacher's use of
// google/uuid throughout runtime/agent/run for run and task ids.
package idgen

import "github.com/google/uuid"

// New returns a random v4 UUID string.
func New() string { return uuid.NewString() }

// Prefixed returns a random v4 UUID string prefixed with prefix + "_", e.g.
// Prefixed("rec") -> "rec_1d2e3f...".
func Prefixed(prefix string) string { return prefix + "_" + uuid.NewString() }
