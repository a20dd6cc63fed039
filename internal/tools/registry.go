package tools

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// registered pairs a Descriptor, its compiled schema, and its Handler.
type registered struct {
	descriptor Descriptor
	schema     *jsonschema.Schema
	handler    Handler
}

// Registry holds every tool known to the invoker, keyed by name.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]*registered
}

// NewRegistry creates an empty tool registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]*registered)}
}

// Register compiles d.Schema and adds the tool under d.Name. Registering
// a name twice replaces the previous entry.
func (r *Registry) Register(d Descriptor, handler Handler) error {
	var schemaDoc any
	if len(d.Schema) == 0 {
		schemaDoc = map[string]any{"type": "object"}
	} else if err := json.Unmarshal(d.Schema, &schemaDoc); err != nil {
		return fmt.Errorf("tool %s: invalid schema: %w", d.Name, err)
	}

	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(d.Name+".json", schemaDoc); err != nil {
		return fmt.Errorf("tool %s: invalid schema: %w", d.Name, err)
	}
	schema, err := compiler.Compile(d.Name + ".json")
	if err != nil {
		return fmt.Errorf("tool %s: compile schema: %w", d.Name, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[d.Name] = &registered{descriptor: d, schema: schema, handler: handler}
	return nil
}

// Get returns the registered tool by name.
func (r *Registry) Get(name string) (*registered, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// Descriptors returns every registered tool's descriptor, for the
// planner's tool-selection prompt.
func (r *Registry) Descriptors() []Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Descriptor, 0, len(r.tools))
	for _, t := range r.tools {
		out = append(out, t.descriptor)
	}
	return out
}
