package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/maneesh/scatterstore/internal/models"
	"go.opentelemetry.io/otel"
)

var tracer = otel.Tracer("scatterstore-storage")

// Provider stores chunk bytes by chunk id. Implementations must accept
// empty chunks and must report an absent chunk on Retrieve as
// models.ErrNotFound.
type Provider interface {
	Name() string
	Store(ctx context.Context, chunkID string, data []byte) (string, error)
	Retrieve(ctx context.Context, chunkID string) ([]byte, error)
	Delete(ctx context.Context, chunkID string) error
	Exists(ctx context.Context, chunkID string) (bool, error)
}

// StatsProvider is implemented by providers that can report usage.
type StatsProvider interface {
	Stats(ctx context.Context) (models.ProviderStats, error)
}

// Registry resolves providers by name
type Registry struct {
	mu        sync.RWMutex
	providers map[string]Provider
}

// NewRegistry registers every given provider.
func NewRegistry(providers ...Provider) (*Registry, error) {
	r := &Registry{providers: make(map[string]Provider)}
	for _, p := range providers {
		if err := r.Register(p); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register adds a provider; names must be unique and non-empty.
func (r *Registry) Register(p Provider) error {
	if p == nil || p.Name() == "" {
		return fmt.Errorf("%w: provider has no name", models.ErrInvalidInput)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.providers[p.Name()]; ok {
		return fmt.Errorf("%w: provider %q registered twice", models.ErrInvalidInput, p.Name())
	}
	r.providers[p.Name()] = p
	return nil
}

// Get returns the named provider or models.ErrProviderUnavailable.
func (r *Registry) Get(name string) (Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.providers[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", models.ErrProviderUnavailable, name)
	}
	return p, nil
}

// Providers returns every registered provider ordered by name.
func (r *Registry) Providers() []Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Provider, 0, len(r.providers))
	for _, p := range r.providers {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out
}

// Names returns the sorted provider names.
func (r *Registry) Names() []string {
	providers := r.Providers()
	names := make([]string, len(providers))
	for i, p := range providers {
		names[i] = p.Name()
	}
	return names
}

// Len returns the number of registered providers.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.providers)
}
