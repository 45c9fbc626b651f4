package agent

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/aira-gateway/gatewayd/internal/domain"
)

// ErrUnknownTool is returned when a requested tool name is not registered.
var ErrUnknownTool = errors.New("agent: unknown tool")

// ToolRegistry holds the set of tools available to a turn runner, in
// registration order — the order surfaced to the provider as the tools list
// and to tools.list RPC callers matters for reproducible prompts, so the
// registry preserves it rather than using map iteration order.
type ToolRegistry struct {
	mu    sync.RWMutex
	order []string
	tools map[string]domain.Tool
}

func NewToolRegistry() *ToolRegistry {
	return &ToolRegistry{tools: make(map[string]domain.Tool)}
}

// Register adds a tool, replacing any prior registration under the same
// name without disturbing its position in iteration order.
func (r *ToolRegistry) Register(t domain.Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := t.Name()
	if _, exists := r.tools[name]; !exists {
		r.order = append(r.order, name)
	}
	r.tools[name] = t
}

// Get returns the tool registered under name.
func (r *ToolRegistry) Get(name string) (domain.Tool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	t, ok := r.tools[name]
	if !ok {
		return nil, fmt.Errorf("agent.ToolRegistry.Get(%q): %w", name, ErrUnknownTool)
	}
	return t, nil
}

// Definitions returns every registered tool's definition, in registration
// order, for inclusion in a provider request.
func (r *ToolRegistry) Definitions() []domain.ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	defs := make([]domain.ToolDefinition, 0, len(r.order))
	for _, name := range r.order {
		defs = append(defs, r.tools[name].Definition())
	}
	return defs
}

// Names returns every registered tool's name, in registration order.
func (r *ToolRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}

// DefinitionsWithNote is Definitions, except every approval-gated tool's
// description has note appended. The scheduler engine uses this to tell the
// model its tools are pre-approved for an unattended run, so it does not
// pause the conversation asking for permission that nobody is present to
// grant.
func (r *ToolRegistry) DefinitionsWithNote(note string) []domain.ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	defs := make([]domain.ToolDefinition, 0, len(r.order))
	for _, name := range r.order {
		t := r.tools[name]
		def := t.Definition()
		if t.RequiresApproval() {
			def.Description = strings.TrimSpace(def.Description + " " + note)
		}
		defs = append(defs, def)
	}
	return defs
}
