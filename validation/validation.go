// Package validation implements schema validation for HITL replies and
// signal payloads, per spec.md §7's ValidationError kind and §4.F's HITL
// validator callback.
//
// Grounded on registry/service.go's validatePayloadJSONAgainstSchema from
// the teacher repository: compile a JSON Schema once with
// github.com/santhosh-tekuri/jsonschema/v6 and reuse the compiled
// validator, rather than recompiling per call.
package validation

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/flowkit/signalkernel/signal"
)

// Schema wraps a compiled JSON Schema for repeated validation.
type Schema struct {
	compiled *jsonschema.Schema
}

// Compile parses schemaJSON and compiles it into a reusable Schema.
func Compile(name string, schemaJSON []byte) (*Schema, error) {
	var doc any
	if err := json.Unmarshal(schemaJSON, &doc); err != nil {
		return nil, fmt.Errorf("validation: unmarshal schema: %w", err)
	}
	c := jsonschema.NewCompiler()
	resourceName := name
	if resourceName == "" {
		resourceName = "schema.json"
	}
	if err := c.AddResource(resourceName, doc); err != nil {
		return nil, fmt.Errorf("validation: add schema resource: %w", err)
	}
	compiled, err := c.Compile(resourceName)
	if err != nil {
		return nil, fmt.Errorf("validation: compile schema: %w", err)
	}
	return &Schema{compiled: compiled}, nil
}

// ValidateJSON validates raw JSON against the compiled schema. On failure
// it returns a *signal.Error of KindValidation so callers can surface it
// uniformly per spec.md §7.
func (s *Schema) ValidateJSON(raw []byte) error {
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return signal.New(signal.KindValidation, "validation.validateJSON", "invalid JSON: "+err.Error())
	}
	return s.Validate(doc)
}

// Validate validates an already-decoded document against the compiled
// schema.
func (s *Schema) Validate(doc any) error {
	if err := s.compiled.Validate(doc); err != nil {
		return signal.New(signal.KindValidation, "validation.validate", err.Error())
	}
	return nil
}

// Registry caches compiled schemas by name so HITL prompts and signal
// payload validators can reuse them across calls without recompiling.
type Registry struct {
	mu      sync.RWMutex
	schemas map[string]*Schema
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{schemas: make(map[string]*Schema)}
}

// Register compiles schemaJSON under name, replacing any prior schema
// registered under the same name.
func (r *Registry) Register(name string, schemaJSON []byte) error {
	s, err := Compile(name, schemaJSON)
	if err != nil {
		return err
	}
	r.mu.Lock()
	r.schemas[name] = s
	r.mu.Unlock()
	return nil
}

// Get returns the schema registered under name, if any.
func (r *Registry) Get(name string) (*Schema, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.schemas[name]
	return s, ok
}

// Validator adapts a registered schema into a session.PromptOptions-shaped
// validator func(response string) string: it returns an empty string when
// response is valid JSON satisfying the schema, otherwise a human-readable
// validation error, per spec.md §4.F's "validator returns a string"
// contract.
func (r *Registry) Validator(name string) func(response string) string {
	return func(response string) string {
		schema, ok := r.Get(name)
		if !ok {
			return "no schema registered as " + name
		}
		if err := schema.ValidateJSON([]byte(response)); err != nil {
			return err.Error()
		}
		return ""
	}
}
