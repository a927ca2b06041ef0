package tool

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"devagent/internal/domain"
)

// SchemaValidationMiddleware validates tool arguments against each tool's
// JSON Schema before execution. Schemas are compiled lazily and cached per
// tool name. Validation failures are ErrValidation, which the executor
// converts into an error result for the model.
type SchemaValidationMiddleware struct {
	NopMiddleware
	registry *Registry

	mu       sync.Mutex
	compiled map[string]*jsonschema.Schema
}

// NewSchemaValidationMiddleware creates the validation middleware bound to
// the registry whose tools it validates.
func NewSchemaValidationMiddleware(registry *Registry) *SchemaValidationMiddleware {
	return &SchemaValidationMiddleware{
		registry: registry,
		compiled: make(map[string]*jsonschema.Schema),
	}
}

func (m *SchemaValidationMiddleware) BeforeExecution(_ context.Context, toolName string, params json.RawMessage) (json.RawMessage, error) {
	schema, err := m.schemaFor(toolName)
	if err != nil {
		return nil, err
	}
	if schema == nil {
		return params, nil
	}

	raw := params
	if len(raw) == 0 {
		raw = json.RawMessage("{}")
	}

	var v interface{}
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, fmt.Errorf("%w: arguments are not valid JSON: %v", domain.ErrValidation, err)
	}
	if err := schema.Validate(v); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrValidation, err)
	}
	return params, nil
}

// schemaFor compiles and caches the schema for a tool. A tool without
// parameters yields a nil schema (nothing to validate).
func (m *SchemaValidationMiddleware) schemaFor(toolName string) (*jsonschema.Schema, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if schema, ok := m.compiled[toolName]; ok {
		return schema, nil
	}

	t, err := m.registry.Get(toolName)
	if err != nil {
		return nil, err
	}

	ts := t.Schema()
	if len(ts.Parameters) == 0 {
		m.compiled[toolName] = nil
		return nil, nil
	}

	raw := ts.ParametersDoc()
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("schema.json", bytes.NewReader(raw)); err != nil {
		return nil, fmt.Errorf("add schema resource for %q: %w", toolName, err)
	}
	compiled, err := compiler.Compile("schema.json")
	if err != nil {
		return nil, fmt.Errorf("compile schema for %q: %w", toolName, err)
	}

	m.compiled[toolName] = compiled
	return compiled, nil
}
