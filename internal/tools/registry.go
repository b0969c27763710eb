package tools

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

const schemaBaseURL = "https://ruhusa.schemas.local/tools/"

type entry struct {
	tool   Tool
	schema *jsonschema.Schema
}

// Registry holds available tools keyed by name.
// Thread-safe for concurrent reads; writes should only happen at startup.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]entry
}

// NewRegistry creates an empty tool registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]entry)}
}

// Register adds a tool after compiling its input schema.
func (r *Registry) Register(t Tool) error {
	name := t.Name()
	if name == "" {
		return errors.New("tool name is required")
	}

	raw, err := json.Marshal(t.InputSchema())
	if err != nil {
		return fmt.Errorf("encoding schema for %s: %w", name, err)
	}
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	url := schemaBaseURL + name + ".schema.json"
	if err := c.AddResource(url, bytes.NewReader(raw)); err != nil {
		return fmt.Errorf("loading schema for %s: %w", name, err)
	}
	compiled, err := c.Compile(url)
	if err != nil {
		return fmt.Errorf("compiling schema for %s: %w", name, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[name]; exists {
		return fmt.Errorf("duplicate tool registration: %s", name)
	}
	r.tools[name] = entry{tool: t, schema: compiled}
	return nil
}

// MustRegister registers tools and panics on error (startup config error, not runtime).
func (r *Registry) MustRegister(ts ...Tool) {
	for _, t := range ts {
		if err := r.Register(t); err != nil {
			panic(err)
		}
	}
}

// Get returns the tool by name.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.tools[name]
	return e.tool, ok
}

// Names returns all registered tool names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// All returns all registered tools sorted by name.
func (r *Registry) All() []Tool {
	names := r.Names()
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Tool, 0, len(names))
	for _, n := range names {
		out = append(out, r.tools[n].tool)
	}
	return out
}

// Validate checks params against the tool's compiled schema.
func (r *Registry) Validate(name string, params map[string]any) error {
	r.mu.RLock()
	e, ok := r.tools[name]
	r.mu.RUnlock()
	if !ok {
		return &UnknownToolError{Name: name, Available: r.Names()}
	}

	// Round-trip through JSON so Go-typed values validate like decoded ones.
	raw, err := json.Marshal(params)
	if err != nil {
		return &ParamError{Tool: name, Problems: []string{err.Error()}}
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return &ParamError{Tool: name, Problems: []string{err.Error()}}
	}

	if err := e.schema.Validate(doc); err != nil {
		var ve *jsonschema.ValidationError
		if errors.As(err, &ve) {
			return &ParamError{Tool: name, Problems: validationProblems(ve)}
		}
		return &ParamError{Tool: name, Problems: []string{err.Error()}}
	}
	return nil
}

// validationProblems flattens leaf errors into "location: message" lines.
func validationProblems(ve *jsonschema.ValidationError) []string {
	var out []string
	for _, be := range ve.BasicOutput().Errors {
		if be.Error == "" || strings.HasPrefix(be.Error, "doesn't validate with") {
			continue
		}
		loc := be.InstanceLocation
		if loc == "" {
			loc = "/"
		}
		out = append(out, loc+": "+be.Error)
	}
	if len(out) == 0 {
		out = append(out, ve.Error())
	}
	return out
}

// Describe renders the catalog for the system prompt: one block per tool with
// its description and parameter schema.
func (r *Registry) Describe() string {
	var b strings.Builder
	for i, t := range r.All() {
		if i > 0 {
			b.WriteString("\n")
		}
		schema, _ := json.Marshal(t.InputSchema())
		fmt.Fprintf(&b, "- %s: %s\n  parameters: %s\n", t.Name(), t.Description(), schema)
	}
	return b.String()
}
