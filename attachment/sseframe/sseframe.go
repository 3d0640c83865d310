// Package sseframe implements the wire framing of spec.md §6's
// "SSE-shaped, framing bit-exact where applicable" stream protocol: one
// event per line pair, `data: <json-enriched-event>\n\n`. It is contract
// only — the HTTP transport and reconnect/history-replay negotiation
// around it are explicitly out of scope (spec.md Non-goals: "React hooks
// and HTTP/SSE transports (their wire contract is specified, their code
// isn't)").
package sseframe

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/flowkit/signalkernel/signal"
)

// Encode writes ev to w as one SSE data frame: "data: <json>\n\n". json is
// the enriched event encoded with encoding/json, matching the wire shape
// clients already decode from the Signal Store (spec.md §3's EnrichedEvent
// fields).
func Encode(w io.Writer, ev signal.EnrichedEvent) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("sseframe: marshal event: %w", err)
	}
	// A JSON encoding never contains a bare newline, so splitting on "\n"
	// here is defensive rather than load-bearing.
	for _, line := range strings.Split(string(payload), "\n") {
		if _, err := fmt.Fprintf(w, "data: %s\n", line); err != nil {
			return err
		}
	}
	_, err = fmt.Fprint(w, "\n")
	return err
}

// Decode reads one SSE frame from r (a sequence of "data: " lines followed
// by a blank line) and unmarshals its payload into an EnrichedEvent. It is
// provided for tests and for any in-process consumer that wants to decode
// frames produced by Encode without a real HTTP round trip.
func Decode(r *bufio.Reader) (signal.EnrichedEvent, error) {
	var b strings.Builder
	for {
		line, err := r.ReadString('\n')
		trimmed := strings.TrimRight(line, "\n")
		if trimmed == "" {
			break
		}
		if !strings.HasPrefix(trimmed, "data: ") && trimmed != "data:" {
			if err != nil {
				return signal.EnrichedEvent{}, err
			}
			continue
		}
		b.WriteString(strings.TrimPrefix(trimmed, "data: "))
		if err != nil {
			break
		}
	}
	var ev signal.EnrichedEvent
	if b.Len() == 0 {
		return ev, io.EOF
	}
	if err := json.Unmarshal([]byte(b.String()), &ev); err != nil {
		return ev, fmt.Errorf("sseframe: unmarshal event: %w", err)
	}
	return ev, nil
}
