package config

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/MrWong99/mindfulcart/pkg/provider/llm"
)

// ErrProviderNotRegistered is returned by [Registry.CreateLLM] when no
// factory has been registered for the entry's kind.
var ErrProviderNotRegistered = errors.New("config: provider kind not registered")

// Factory builds a provider from its configuration entry. apiKey is the
// already resolved credential and may be empty.
type Factory func(entry ProviderEntry, apiKey string) (llm.Provider, error)

// Registry maps provider kinds to factories. It is safe for concurrent use.
type Registry struct {
	mu  sync.RWMutex
	llm map[string]Factory
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{llm: make(map[string]Factory)}
}

// RegisterLLM registers a factory under kind. Registering the same kind
// again overwrites the previous factory.
func (r *Registry) RegisterLLM(kind string, factory Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.llm[kind] = factory
}

// Kinds returns the registered kinds in sorted order.
func (r *Registry) Kinds() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	kinds := make([]string, 0, len(r.llm))
	for k := range r.llm {
		kinds = append(kinds, k)
	}
	slices.Sort(kinds)
	return kinds
}

// CreateLLM instantiates the provider for entry using the factory registered
// under entry.Kind. Per-entry MaxTokens and Temperature overrides are applied
// to every request the returned provider receives.
func (r *Registry) CreateLLM(entry ProviderEntry, apiKey string) (llm.Provider, error) {
	r.mu.RLock()
	factory, ok := r.llm[entry.Kind]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q (provider %q)", ErrProviderNotRegistered, entry.Kind, entry.Name)
	}
	p, err := factory(entry, apiKey)
	if err != nil {
		return nil, fmt.Errorf("config: create provider %q: %w", entry.Name, err)
	}
	if entry.MaxTokens == nil && entry.Temperature == nil {
		return p, nil
	}
	return &overrides{next: p, maxTokens: entry.MaxTokens, temperature: entry.Temperature}, nil
}

// overrides rewrites generation settings before delegating.
type overrides struct {
	next        llm.Provider
	maxTokens   *int
	temperature *float64
}

func (o *overrides) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	if o.maxTokens != nil {
		req.MaxTokens = *o.maxTokens
	}
	if o.temperature != nil {
		req.Temperature = *o.temperature
	}
	return o.next.Complete(ctx, req)
}
