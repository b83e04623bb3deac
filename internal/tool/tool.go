// Package tool holds the registry of tools exposed to agent runtimes.
package tool

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"docrag/internal/provider"
)

// Tool is one callable capability. Arguments and results are JSON text.
type Tool interface {
	Name() string
	Description() string
	// Parameters is the JSON schema of the arguments.
	Parameters() any
	Execute(ctx context.Context, arguments string) (string, error)
}

type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

func NewRegistry() *Registry {
	return &Registry{
		tools: make(map[string]Tool),
	}
}

func (r *Registry) Register(t Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[t.Name()] = t
}

func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

func (r *Registry) Has(name string) bool {
	_, ok := r.Get(name)
	return ok
}

// Names returns the registered tool names in sorted order.
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

// Definitions converts tools to function definitions for an LLM request.
// With no names every tool is returned; unknown names are skipped.
func (r *Registry) Definitions(names ...string) []provider.ToolDefinition {
	if len(names) == 0 {
		names = r.Names()
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	var defs []provider.ToolDefinition
	for _, name := range names {
		t, ok := r.tools[name]
		if !ok {
			continue
		}
		defs = append(defs, provider.ToolDefinition{
			Type: "function",
			Function: provider.ToolFunction{
				Name:        t.Name(),
				Description: t.Description(),
				Parameters:  t.Parameters(),
			},
		})
	}
	return defs
}

func (r *Registry) Execute(ctx context.Context, name string, arguments string) (string, error) {
	t, ok := r.Get(name)
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrToolNotFound, name)
	}
	return t.Execute(ctx, arguments)
}

// ExecuteCall runs a tool call returned by an LLM.
func (r *Registry) ExecuteCall(ctx context.Context, call provider.ToolCall) (string, error) {
	return r.Execute(ctx, call.Function.Name, call.Function.Arguments)
}
