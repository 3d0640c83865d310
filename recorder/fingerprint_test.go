package recorder

import "testing"

func TestFingerprintIsStableAcrossKeyOrder(t *testing.T) {
	a := Fingerprint(Request{Prompt: "hi", Options: map[string]any{"temperature": 0.1, "topP": 0.9}})
	b := Fingerprint(Request{Prompt: "hi", Options: map[string]any{"topP": 0.9, "temperature": 0.1}})
	if a != b {
		t.Fatalf("fingerprint not stable across map key order: %s != %s", a, b)
	}
}

func TestFingerprintIgnoresExcludedKeys(t *testing.T) {
	a := Fingerprint(Request{Prompt: "hi", Options: map[string]any{"sessionId": "s1"}})
	b := Fingerprint(Request{Prompt: "hi", Options: map[string]any{"sessionId": "s2"}})
	if a != b {
		t.Fatalf("fingerprint must ignore sessionId: %s != %s", a, b)
	}
}

func TestFingerprintNormalizesLineEndings(t *testing.T) {
	a := Fingerprint(Request{Prompt: "line1\r\nline2"})
	b := Fingerprint(Request{Prompt: "line1\nline2"})
	if a != b {
		t.Fatalf("fingerprint must normalize line endings: %s != %s", a, b)
	}
}

func TestFingerprintDiffersOnPromptChange(t *testing.T) {
	a := Fingerprint(Request{Prompt: "hi"})
	b := Fingerprint(Request{Prompt: "bye"})
	if a == b {
		t.Fatalf("different prompts must not collide")
	}
}

func TestFingerprintDiffersOnToolSetOrderNormalizedButContentMatters(t *testing.T) {
	a := Fingerprint(Request{Prompt: "hi", ToolSet: []string{"b", "a"}})
	b := Fingerprint(Request{Prompt: "hi", ToolSet: []string{"a", "b"}})
	if a != b {
		t.Fatalf("tool set order should not affect fingerprint: %s != %s", a, b)
	}
	c := Fingerprint(Request{Prompt: "hi", ToolSet: []string{"a"}})
	if a == c {
		t.Fatalf("different tool sets must not collide")
	}
}
