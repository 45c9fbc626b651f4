// Package provider implements the provider adapter contract: a single
// entry point, chat, that turns a model/messages/tools request into a lazy,
// cancellable sequence of domain.ChatEvent values. Concrete adapters
// map a specific vendor's streaming wire format onto that sequence.
package provider

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/aira-gateway/gatewayd/internal/domain"
)

// Request is a single chat turn's input. It is never mutated by a Provider.
type Request struct {
	Model        string
	SystemPrompt string
	Messages     []domain.Message
	Tools        []domain.ToolDefinition
	MaxTokens    int
}

// Provider streams one chat completion as a sequence of ChatEvent values.
// The returned channel is closed when the stream ends, whether by normal
// completion, error, or context cancellation; an error is always surfaced as
// a final ChatEventError rather than through the error return when the
// channel has already started emitting, so callers can range over the
// channel unconditionally once Chat returns without error.
type Provider interface {
	Name() string
	Chat(ctx context.Context, req Request) (<-chan domain.ChatEvent, error)
}

// Registry resolves a provider by name and tracks the configured fallback
// order: when an agent's configured provider is unavailable, Resolve walks
// the fallback order until one resolves.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]Provider
	fallback  []string
}

// NewRegistry creates an empty registry with the given fallback order.
func NewRegistry(fallbackOrder []string) *Registry {
	return &Registry{
		providers: make(map[string]Provider),
		fallback:  append([]string(nil), fallbackOrder...),
	}
}

// Register adds or replaces a provider under its own Name().
func (r *Registry) Register(p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[p.Name()] = p
}

// Get returns the named provider.
func (r *Registry) Get(name string) (Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[name]
	if !ok {
		return nil, fmt.Errorf("provider.Registry.Get: unknown provider %q", name)
	}
	return p, nil
}

// Resolve returns the named provider. When name is empty, or names a
// provider that is not currently registered, it walks the fallback order and
// returns the first entry that is registered.
func (r *Registry) Resolve(name string) (Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if name != "" {
		if p, ok := r.providers[name]; ok {
			return p, nil
		}
	}

	for _, candidate := range r.fallback {
		if p, ok := r.providers[candidate]; ok {
			return p, nil
		}
	}
	return nil, fmt.Errorf("provider.Registry.Resolve: no provider named %q, and none in fallback order %v is registered", name, r.fallback)
}

// Names returns every registered provider name, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
