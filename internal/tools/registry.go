// Package tools executes named tools with schema-validated arguments.
package tools

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
)

var (
	// ErrUnknownTool is returned for unregistered tool names.
	ErrUnknownTool = errors.New("unknown tool")
	// ErrInvalidArgs is returned when arguments fail schema validation.
	ErrInvalidArgs = errors.New("invalid tool arguments")
)

// Property describes one argument.
type Property struct {
	// Type is one of string, integer, number, boolean, object, array.
	Type        string `json:"type"`
	Description string `json:"description,omitempty"`
}

// Schema describes a tool's arguments.
type Schema struct {
	Properties map[string]Property `json:"properties"`
	Required   []string            `json:"required,omitempty"`
}

// Handler runs a tool. A returned error is a tool failure.
type Handler func(ctx context.Context, args map[string]any) (string, error)

// Tool is a registered tool.
type Tool struct {
	Name        string
	Description string
	Schema      Schema
	Handler     Handler
}

// Registry maps tool names to tools. It is safe for concurrent use.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

// NewRegistry creates a registry with the given tools.
func NewRegistry(tools ...Tool) *Registry {
	r := &Registry{tools: make(map[string]Tool)}
	for _, t := range tools {
		r.Register(t)
	}
	return r
}

// Register adds or replaces a tool.
func (r *Registry) Register(t Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[t.Name] = t
}

// Get returns a tool by name.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// Names returns the sorted tool names.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for n := range r.tools {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Allowed returns the sorted names present in both the registry and allow.
// An empty allow list allows every registered tool.
func (r *Registry) Allowed(allow []string) []string {
	if len(allow) == 0 {
		return r.Names()
	}
	var out []string
	for _, n := range allow {
		if _, ok := r.Get(n); ok {
			out = append(out, n)
		}
	}
	sort.Strings(out)
	return out
}

// Describe renders the named tools and their arguments for a prompt.
func (r *Registry) Describe(names []string) string {
	var b strings.Builder
	for _, n := range names {
		t, ok := r.Get(n)
		if !ok {
			continue
		}
		fmt.Fprintf(&b, "- %s: %s\n", t.Name, t.Description)

		props := make([]string, 0, len(t.Schema.Properties))
		for p := range t.Schema.Properties {
			props = append(props, p)
		}
		sort.Strings(props)
		for _, p := range props {
			prop := t.Schema.Properties[p]
			req := ""
			if contains(t.Schema.Required, p) {
				req = ", required"
			}
			fmt.Fprintf(&b, "    %s (%s%s): %s\n", p, prop.Type, req, prop.Description)
		}
	}
	return b.String()
}

// Validate checks args against the named tool's schema.
func (r *Registry) Validate(name string, args map[string]any) error {
	t, ok := r.Get(name)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownTool, name)
	}
	return t.Schema.Validate(args)
}

// Execute validates args and runs the tool.
func (r *Registry) Execute(ctx context.Context, name string, args map[string]any) (string, error) {
	t, ok := r.Get(name)
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownTool, name)
	}
	if err := t.Schema.Validate(args); err != nil {
		return "", fmt.Errorf("%s: %w", name, err)
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return t.Handler(ctx, args)
}

// Validate checks required keys and declared property types. Undeclared
// keys are allowed.
func (s Schema) Validate(args map[string]any) error {
	for _, req := range s.Required {
		if _, ok := args[req]; !ok {
			return fmt.Errorf("%w: missing %q", ErrInvalidArgs, req)
		}
	}
	for key, val := range args {
		prop, ok := s.Properties[key]
		if !ok || prop.Type == "" {
			continue
		}
		if !matchesType(prop.Type, val) {
			return fmt.Errorf("%w: %q must be %s, got %T", ErrInvalidArgs, key, prop.Type, val)
		}
	}
	return nil
}

func matchesType(typ string, v any) bool {
	switch typ {
	case "string":
		_, ok := v.(string)
		return ok
	case "boolean":
		_, ok := v.(bool)
		return ok
	case "integer":
		switch n := v.(type) {
		case int, int32, int64:
			return true
		case float64:
			return n == math.Trunc(n)
		}
		return false
	case "number":
		switch v.(type) {
		case int, int32, int64, float32, float64:
			return true
		}
		return false
	case "object":
		_, ok := v.(map[string]any)
		return ok
	case "array":
		_, ok := v.([]any)
		if !ok {
			_, ok = v.([]string)
		}
		return ok
	}
	return true
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
