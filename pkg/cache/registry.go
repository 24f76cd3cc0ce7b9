package cache

import (
	"context"
	"sort"
	"sync"

	"github.com/fpt/kanoa/pkg/domain"
)

// Registry persists cache entries by key. Get returns (nil, nil) when the
// key is absent.
type Registry interface {
	Get(ctx context.Context, key domain.CacheKey) (*domain.CacheEntry, error)
	Put(ctx context.Context, entry *domain.CacheEntry) error
	Delete(ctx context.Context, key domain.CacheKey) error
	List(ctx context.Context) ([]*domain.CacheEntry, error)
}

// MemoryRegistry keeps entries for the lifetime of the process.
type MemoryRegistry struct {
	mu      sync.RWMutex
	entries map[domain.CacheKey]domain.CacheEntry
}

func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{entries: make(map[domain.CacheKey]domain.CacheEntry)}
}

func (r *MemoryRegistry) Get(_ context.Context, key domain.CacheKey) (*domain.CacheEntry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[key]
	if !ok {
		return nil, nil
	}
	return &e, nil
}

func (r *MemoryRegistry) Put(_ context.Context, entry *domain.CacheEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[entry.Key()] = *entry
	return nil
}

func (r *MemoryRegistry) Delete(_ context.Context, key domain.CacheKey) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, key)
	return nil
}

func (r *MemoryRegistry) List(_ context.Context) ([]*domain.CacheEntry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*domain.CacheEntry, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, &e)
	}
	sortEntries(out)
	return out, nil
}

func sortEntries(entries []*domain.CacheEntry) {
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Key().String() < entries[j].Key().String()
	})
}
