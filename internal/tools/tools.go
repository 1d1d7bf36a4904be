// Package tools defines the tools available to the model.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"sync"

	"github.com/xeipuuv/gojsonschema"
)

// nameRe is the allowed character set for tool names.
var nameRe = regexp.MustCompile(`^[A-Za-z0-9_]+$`)

// Tool represents a callable tool.
type Tool struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"` // JSON Schema for the arguments
	Handler     func(ctx context.Context, args map[string]any) (string, error) `json:"-"`
}

// entry pairs a tool with its compiled argument schema.
type entry struct {
	tool   *Tool
	schema *gojsonschema.Schema
}

// Registry holds available tools in registration order.
type Registry struct {
	logger *slog.Logger

	mu    sync.RWMutex
	tools map[string]*entry
	order []string
}

// NewRegistry creates an empty tool registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		logger: logger,
		tools:  make(map[string]*entry),
	}
}

// Register adds a tool to the registry. The name must match
// [A-Za-z0-9_]+ and be unused; the Parameters schema, when present,
// must compile. On any error the registry is left unchanged.
func (r *Registry) Register(t *Tool) error {
	if t == nil || t.Name == "" || !nameRe.MatchString(t.Name) {
		name := ""
		if t != nil {
			name = t.Name
		}
		return &InvalidToolNameError{Name: name}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tools[t.Name]; exists {
		return &DuplicateToolError{Name: t.Name}
	}

	e := &entry{tool: t}
	if t.Parameters != nil {
		schema, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(t.Parameters))
		if err != nil {
			return fmt.Errorf("compile schema for tool %s: %w", t.Name, err)
		}
		e.schema = schema
	}

	r.tools[t.Name] = e
	r.order = append(r.order, t.Name)

	r.logger.Debug("registered tool", "tool", t.Name)
	return nil
}

// Get retrieves a tool by name, or nil if not registered.
func (r *Registry) Get(name string) *Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e := r.tools[name]
	if e == nil {
		return nil
	}
	return e.tool
}

// Tools returns all registered tools in registration order.
func (r *Registry) Tools() []*Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]*Tool, 0, len(r.order))
	for _, name := range r.order {
		result = append(result, r.tools[name].tool)
	}
	return result
}

// Names returns all registered tool names in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return append([]string(nil), r.order...)
}

// List returns all tools as completion-API tool definitions, in
// registration order.
func (r *Registry) List() []map[string]any {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var result []map[string]any
	for _, name := range r.order {
		t := r.tools[name].tool
		result = append(result, map[string]any{
			"type": "function",
			"function": map[string]any{
				"name":        t.Name,
				"description": t.Description,
				"parameters":  t.Parameters,
			},
		})
	}
	return result
}

// Execute runs a tool by name with the given arguments. Arguments are
// validated against the tool's schema before the handler runs; a
// handler that fails (or panics) yields a *HandlerError rather than a
// process fault.
func (r *Registry) Execute(ctx context.Context, name string, args map[string]any) (result string, err error) {
	r.mu.RLock()
	e := r.tools[name]
	r.mu.RUnlock()

	if e == nil {
		return "", &UnknownToolError{Name: name}
	}

	if e.schema != nil {
		if args == nil {
			args = map[string]any{}
		}
		res, verr := e.schema.Validate(gojsonschema.NewGoLoader(args))
		if verr != nil {
			return "", &InvalidArgumentsError{Tool: name, Reason: verr.Error()}
		}
		if !res.Valid() {
			var reasons []string
			for _, desc := range res.Errors() {
				reasons = append(reasons, desc.String())
			}
			return "", &InvalidArgumentsError{Tool: name, Reason: strings.Join(reasons, "; ")}
		}
	}

	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("tool handler panicked", "tool", name, "panic", rec)
			err = &HandlerError{Tool: name, Err: fmt.Errorf("handler panic: %v", rec)}
			result = ""
		}
	}()

	out, herr := e.tool.Handler(ctx, args)
	if herr != nil {
		return "", &HandlerError{Tool: name, Err: herr}
	}
	return out, nil
}

// ExecuteJSON runs a tool with JSON-encoded arguments, as delivered by
// completion APIs that encode tool arguments as a string.
func (r *Registry) ExecuteJSON(ctx context.Context, name string, argsJSON string) (string, error) {
	var args map[string]any
	if argsJSON != "" {
		if err := json.Unmarshal([]byte(argsJSON), &args); err != nil {
			return "", &InvalidArgumentsError{Tool: name, Reason: fmt.Sprintf("arguments are not valid JSON: %v", err)}
		}
	}
	return r.Execute(ctx, name, args)
}
