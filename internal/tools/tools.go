// Package tools exposes the agent's built-in tool surface: scheduled
// task management, notes, and memory operations. The executor bridges
// model tool calls into Registry.Execute.
package tools

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// Property describes one parameter in a tool definition.
type Property struct {
	Type        string    `json:"type"`
	Description string    `json:"description,omitempty"`
	Items       *Property `json:"items,omitempty"`
}

// ParameterSchema is the JSON-schema shaped parameter block of a tool.
type ParameterSchema struct {
	Type       string              `json:"type"`
	Properties map[string]Property `json:"properties"`
	Required   []string            `json:"required,omitempty"`
}

// Definition describes a tool to the model.
type Definition struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  ParameterSchema `json:"parameters"`
}

// Call is one tool invocation from the model.
type Call struct {
	ID        string
	Name      string
	Arguments map[string]any
}

// Result is what a tool reports back. Tool-level failures set Error and
// put a readable message in Content; the call itself still succeeds.
type Result struct {
	CallID  string
	Content string
	Error   error
}

// Tool is one executable capability.
type Tool interface {
	Definition() Definition
	Execute(ctx context.Context, call Call) (*Result, error)
}

// Registry holds the registered tools.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// Register adds a tool; duplicate names are rejected.
func (r *Registry) Register(t Tool) error {
	name := t.Definition().Name
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[name]; exists {
		return fmt.Errorf("tool already exists: %s", name)
	}
	r.tools[name] = t
	return nil
}

// Definitions lists all tool definitions, sorted by name.
func (r *Registry) Definitions() []Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Definition, 0, len(r.tools))
	for _, t := range r.tools {
		out = append(out, t.Definition())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Execute dispatches a call to the named tool. Unknown tools are a
// tool-level error, not a transport failure. Calls without an id get
// one assigned so results stay correlatable.
func (r *Registry) Execute(ctx context.Context, call Call) (*Result, error) {
	if call.ID == "" {
		call.ID = uuid.NewString()
	}
	r.mu.RLock()
	t, ok := r.tools[call.Name]
	r.mu.RUnlock()
	if !ok {
		err := fmt.Errorf("unknown tool: %s", call.Name)
		return &Result{CallID: call.ID, Content: err.Error(), Error: err}, nil
	}
	return t.Execute(ctx, call)
}

// --- argument helpers ---

func stringArg(args map[string]any, key string) (string, error) {
	raw, ok := args[key]
	if !ok {
		return "", fmt.Errorf("missing %q", key)
	}
	s, ok := raw.(string)
	if !ok {
		return "", fmt.Errorf("%q must be a string", key)
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return "", fmt.Errorf("%q cannot be empty", key)
	}
	return s, nil
}

// intArg accepts JSON numbers and integer-typed values.
func intArg(args map[string]any, key string) (int64, error) {
	raw, ok := args[key]
	if !ok {
		return 0, fmt.Errorf("missing %q", key)
	}
	switch v := raw.(type) {
	case float64:
		return int64(v), nil
	case int:
		return int64(v), nil
	case int64:
		return v, nil
	default:
		return 0, fmt.Errorf("%q must be a number", key)
	}
}

func optionalIntArg(args map[string]any, key string, def int64) (int64, error) {
	if _, ok := args[key]; !ok {
		return def, nil
	}
	return intArg(args, key)
}

func stringArrayArg(args map[string]any, key string) []string {
	values, ok := args[key].([]any)
	if !ok {
		return nil
	}
	var out []string
	for _, item := range values {
		text, ok := item.(string)
		if !ok {
			continue
		}
		if trimmed := strings.TrimSpace(text); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func failure(call Call, err error) (*Result, error) {
	return &Result{CallID: call.ID, Content: err.Error(), Error: err}, nil
}

func success(call Call, format string, args ...any) (*Result, error) {
	return &Result{CallID: call.ID, Content: fmt.Sprintf(format, args...)}, nil
}
