// Package client wires vendor adapters into a registry keyed by backend id.
package client

import (
	"context"
	"sort"
	"sync"

	"github.com/fpt/kanoa/internal/config"
	"github.com/fpt/kanoa/pkg/client/anthropic"
	"github.com/fpt/kanoa/pkg/client/gemini"
	"github.com/fpt/kanoa/pkg/client/ollama"
	"github.com/fpt/kanoa/pkg/client/openai"
	"github.com/fpt/kanoa/pkg/domain"
	pkgLogger "github.com/fpt/kanoa/pkg/logger"
)

var registryLogger = pkgLogger.NewComponentLogger("client-registry")

// Factory constructs a backend on first use.
type Factory func(ctx context.Context) (domain.Backend, error)

// Registry resolves backend identifiers to adapters. Backends are built
// lazily so that missing credentials only fail the backend that needs them.
type Registry struct {
	mu        sync.Mutex
	factories map[string]Factory
	instances map[string]domain.Backend
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		factories: make(map[string]Factory),
		instances: make(map[string]domain.Backend),
	}
}

// RegisterFactory adds or replaces the factory for id.
func (r *Registry) RegisterFactory(id string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[id] = f
	delete(r.instances, id)
}

// Register adds an already constructed backend under its own name.
func (r *Registry) Register(b domain.Backend) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[b.Name()] = func(context.Context) (domain.Backend, error) { return b, nil }
	r.instances[b.Name()] = b
}

// Names lists registered identifiers in sorted order.
func (r *Registry) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.namesLocked()
}

func (r *Registry) namesLocked() []string {
	names := make([]string, 0, len(r.factories))
	for id := range r.factories {
		names = append(names, id)
	}
	sort.Strings(names)
	return names
}

// Lookup returns the backend for id, constructing it on first use. A failed
// construction is not memoized.
func (r *Registry) Lookup(ctx context.Context, id string) (domain.Backend, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if b, ok := r.instances[id]; ok {
		return b, nil
	}
	f, ok := r.factories[id]
	if !ok {
		return nil, &domain.UnsupportedBackendError{Backend: id, Available: r.namesLocked()}
	}
	b, err := f(ctx)
	if err != nil {
		return nil, err
	}
	r.instances[id] = b
	registryLogger.DebugWithIntention(pkgLogger.IntentionConfig, "Initialized backend", "backend", id, "model", b.Model())
	return b, nil
}

// CacheProvider returns the cache provider of backend when it supports caching.
func (r *Registry) CacheProvider(ctx context.Context, backend string) (domain.CacheProvider, bool) {
	b, err := r.Lookup(ctx, backend)
	if err != nil || !domain.SupportsCaching(b) {
		return nil, false
	}
	p, ok := b.(domain.CacheProvider)
	return p, ok
}

// NewRegistryFromSettings registers a factory for every known backend using
// settings and the credential resolver. pricing may be nil.
func NewRegistryFromSettings(settings *config.Settings, resolver *config.CredentialResolver, pricing domain.PricingSource) *Registry {
	r := NewRegistry()
	for _, id := range config.KnownBackends() {
		id := id
		r.RegisterFactory(id, func(ctx context.Context) (domain.Backend, error) {
			return NewBackend(ctx, id, settings.Backend(id), resolver, pricing)
		})
	}
	return r
}

// NewBackend creates the adapter for id from its settings.
func NewBackend(ctx context.Context, id string, bs config.BackendSettings, resolver *config.CredentialResolver, pricing domain.PricingSource) (domain.Backend, error) {
	creds, err := resolver.Resolve(id, bs)
	if err != nil {
		return nil, err
	}
	registryLogger.DebugWithIntention(pkgLogger.IntentionConfig, "Resolved credentials", "backend", id, "source", creds.Source)

	switch id {
	case domain.BackendGemini:
		return gemini.NewGeminiClient(ctx, gemini.Config{
			Name:        id,
			Model:       bs.Model,
			APIKey:      creds.APIKey,
			Vertex:      creds.Vertex,
			Project:     creds.Project,
			Location:    creds.Location,
			BaseURL:     bs.BaseURL,
			MaxTokens:   bs.MaxTokens,
			Temperature: bs.Temperature,
			InlineLimit: bs.InlineLimitBytes,
			Pricing:     pricing,
		})
	case domain.BackendClaude:
		return anthropic.NewAnthropicClient(anthropic.Config{
			Name:        id,
			Model:       bs.Model,
			APIKey:      creds.APIKey,
			BaseURL:     bs.BaseURL,
			MaxTokens:   bs.MaxTokens,
			Temperature: bs.Temperature,
			InlineLimit: bs.InlineLimitBytes,
			Pricing:     pricing,
		})
	case domain.BackendOpenAI, domain.BackendVLLM, domain.BackendMolmo:
		return openai.NewOpenAIClient(openai.Config{
			Name:        id,
			Model:       bs.Model,
			APIKey:      creds.APIKey,
			BaseURL:     bs.BaseURL,
			MaxTokens:   bs.MaxTokens,
			Temperature: bs.Temperature,
			InlineLimit: bs.InlineLimitBytes,
			Pricing:     pricing,
		})
	case domain.BackendOllama:
		return ollama.NewOllamaClient(ollama.Config{
			Name:        id,
			Model:       bs.Model,
			BaseURL:     bs.BaseURL,
			MaxTokens:   bs.MaxTokens,
			Temperature: bs.Temperature,
			InlineLimit: bs.InlineLimitBytes,
			Pricing:     pricing,
		})
	}
	return nil, &domain.UnsupportedBackendError{Backend: id, Available: config.KnownBackends()}
}
