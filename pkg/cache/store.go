// Package cache tracks provider-side context caches keyed by backend, model
// and knowledge-base fingerprint.
package cache

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	"github.com/fpt/kanoa/pkg/domain"
	pkgLogger "github.com/fpt/kanoa/pkg/logger"
)

// DefaultTTL applies when GetOrCreate is called with a zero ttl.
const DefaultTTL = time.Hour

// ProviderLookup resolves the cache provider for a backend id. It lets Clear
// delete provider-side caches for backends not touched in this process.
type ProviderLookup interface {
	CacheProvider(ctx context.Context, backend string) (domain.CacheProvider, bool)
}

// Store is the cache store shared by every interpretation in a process.
// At most one creation is in flight per key; concurrent callers for the
// same key wait for it and receive the same entry.
type Store struct {
	registry      Registry
	providers     ProviderLookup
	now           func() time.Time
	refreshWindow time.Duration
	logger        *pkgLogger.Logger
	tracer        trace.Tracer

	group singleflight.Group
}

// Option configures a Store.
type Option func(*Store)

// WithProviders enables provider-side deletion from Clear and Prune.
func WithProviders(p ProviderLookup) Option {
	return func(s *Store) { s.providers = p }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithRefreshWindow extends an entry's provider TTL when a hit lands within
// window of its expiry. Zero disables refresh.
func WithRefreshWindow(window time.Duration) Option {
	return func(s *Store) { s.refreshWindow = window }
}

func WithLogger(l *pkgLogger.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// NewStore creates a store over registry.
func NewStore(registry Registry, opts ...Option) *Store {
	s := &Store{
		registry: registry,
		now:      time.Now,
		logger:   pkgLogger.NewComponentLogger("cache"),
		tracer:   otel.Tracer("github.com/fpt/kanoa/pkg/cache"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type createResult struct {
	entry   *domain.CacheEntry
	created bool
}

// GetOrCreate returns a valid entry for (backend, model, fingerprint),
// creating the provider cache when none exists. created reports whether this
// call produced a new provider cache. It returns ErrNotCacheable when the
// backend cannot cache or the grounding is below the backend threshold.
func (s *Store) GetOrCreate(ctx context.Context, b domain.Backend, g *domain.Grounding, ttl time.Duration) (*domain.CacheEntry, bool, error) {
	if g.Empty() || !domain.SupportsCaching(b) {
		return nil, false, domain.ErrNotCacheable
	}
	minTokens := domain.MinCacheableTokens(b)
	if minTokens < 0 || g.Tokens < minTokens {
		return nil, false, errors.Wrapf(domain.ErrNotCacheable, "%d tokens below minimum %d", g.Tokens, minTokens)
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	key := domain.CacheKey{Backend: b.Name(), Model: b.Model(), Fingerprint: g.Fingerprint}

	entry, err := s.registry.Get(ctx, key)
	if err != nil {
		return nil, false, &domain.CacheError{Backend: key.Backend, Model: key.Model, Op: "lookup", Err: err}
	}
	if entry.Valid(s.now(), g.Fingerprint) {
		s.logger.DebugWithIntention(pkgLogger.IntentionCache, "Cache hit",
			"backend", key.Backend, "model", key.Model, "handle", entry.Handle)
		return s.maybeRefresh(ctx, b, entry, ttl), false, nil
	}

	s.logger.DebugWithIntention(pkgLogger.IntentionCache, "Cache miss",
		"backend", key.Backend, "model", key.Model, "tokens", g.Tokens)

	// Creation outlives the caller's context so that a cancelled waiter never
	// leaves a provider cache without a registry entry.
	ch := s.group.DoChan(key.String(), func() (any, error) {
		return s.create(context.WithoutCancel(ctx), b, g, ttl, key)
	})

	select {
	case <-ctx.Done():
		return nil, false, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, false, res.Err
		}
		r := res.Val.(createResult)
		entryCopy := *r.entry
		return &entryCopy, r.created, nil
	}
}

func (s *Store) create(ctx context.Context, b domain.Backend, g *domain.Grounding, ttl time.Duration, key domain.CacheKey) (createResult, error) {
	ctx, span := s.tracer.Start(ctx, "cache.create", trace.WithAttributes(
		attribute.String("kanoa.backend", key.Backend),
		attribute.String("kanoa.model", key.Model),
		attribute.Int("kanoa.grounding_tokens", g.Tokens),
	))
	defer span.End()

	// Another flight may have finished between the lookup and this call.
	if existing, err := s.registry.Get(ctx, key); err == nil && existing.Valid(s.now(), key.Fingerprint) {
		return createResult{entry: existing}, nil
	}

	if recovered := s.recover(ctx, b, g, ttl, key); recovered != nil {
		s.invalidateStale(ctx, key, g.Source, recovered.Handle)
		if err := s.registry.Put(ctx, recovered); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "store failed")
			return createResult{}, &domain.CacheError{Backend: key.Backend, Model: key.Model, Op: "store", Err: err}
		}
		s.logger.InfoWithIntention(pkgLogger.IntentionCache, "Recovered provider cache",
			"backend", key.Backend, "model", key.Model, "handle", recovered.Handle, "ttl", recovered.TTL)
		return createResult{entry: recovered}, nil
	}

	s.invalidateStale(ctx, key, g.Source, "")

	provider := b.(domain.CacheProvider)
	handle, err := provider.CreateCache(ctx, g, ttl)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "create failed")
		return createResult{}, &domain.CacheError{Backend: key.Backend, Model: key.Model, Op: "create", Err: err}
	}

	entry := &domain.CacheEntry{
		Backend:     key.Backend,
		Model:       key.Model,
		Fingerprint: key.Fingerprint,
		Handle:      handle.Name,
		Source:      g.Source,
		Tokens:      g.Tokens,
		CreatedAt:   s.now(),
		TTL:         ttl,
	}
	if handle.Tokens > 0 {
		entry.Tokens = handle.Tokens
	}

	if err := s.registry.Put(ctx, entry); err != nil {
		if derr := provider.DeleteCache(ctx, handle.Name); derr != nil {
			s.logger.WarnWithIntention(pkgLogger.IntentionWarning, "Failed to roll back provider cache",
				"handle", handle.Name, "error", derr)
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "store failed")
		return createResult{}, &domain.CacheError{Backend: key.Backend, Model: key.Model, Op: "store", Err: err}
	}

	s.logger.InfoWithIntention(pkgLogger.IntentionCache, "Created context cache",
		"backend", key.Backend, "model", key.Model, "handle", entry.Handle,
		"tokens", entry.Tokens, "ttl", ttl)
	return createResult{entry: entry, created: true}, nil
}

// recover adopts a live provider cache for g that this registry does not
// know about, such as one created by another process with its own registry.
func (s *Store) recover(ctx context.Context, b domain.Backend, g *domain.Grounding, ttl time.Duration, key domain.CacheKey) *domain.CacheEntry {
	finder, ok := b.(domain.CacheFinder)
	if !ok {
		return nil
	}
	handle, err := finder.FindCache(ctx, g)
	if err != nil {
		s.logger.DebugWithIntention(pkgLogger.IntentionCache, "Provider cache lookup failed",
			"backend", key.Backend, "error", err)
		return nil
	}
	if handle == nil {
		return nil
	}
	now := s.now()
	if !handle.ExpiresAt.IsZero() {
		ttl = handle.ExpiresAt.Sub(now)
		if ttl <= 0 {
			return nil
		}
	}
	entry := &domain.CacheEntry{
		Backend:     key.Backend,
		Model:       key.Model,
		Fingerprint: key.Fingerprint,
		Handle:      handle.Name,
		Source:      g.Source,
		Tokens:      g.Tokens,
		CreatedAt:   now,
		TTL:         ttl,
	}
	if handle.Tokens > 0 {
		entry.Tokens = handle.Tokens
	}
	return entry
}

// invalidateStale removes the expired entry for key and any entry for the
// same directory source whose content has since changed. Inline sources are
// unrelated to each other and are left alone. The entry holding keep is
// dropped from the registry without deleting the provider cache.
func (s *Store) invalidateStale(ctx context.Context, key domain.CacheKey, source, keep string) {
	entries, err := s.registry.List(ctx)
	if err != nil {
		s.logger.WarnWithIntention(pkgLogger.IntentionWarning, "Failed to list cache entries", "error", err)
		return
	}
	for _, e := range entries {
		if e.Backend != key.Backend || e.Model != key.Model {
			continue
		}
		sameKey := e.Fingerprint == key.Fingerprint
		superseded := source != "" && source != domain.InlineSource && e.Source == source && !sameKey
		if !sameKey && !superseded {
			continue
		}
		if keep != "" && e.Handle == keep {
			if err := s.registry.Delete(ctx, e.Key()); err != nil {
				s.logger.WarnWithIntention(pkgLogger.IntentionWarning, "Failed to delete cache entry", "error", err)
			}
			continue
		}
		s.remove(ctx, e)
		s.logger.DebugWithIntention(pkgLogger.IntentionCache, "Invalidated cache entry",
			"handle", e.Handle, "superseded", superseded)
	}
}

func (s *Store) maybeRefresh(ctx context.Context, b domain.Backend, entry *domain.CacheEntry, ttl time.Duration) *domain.CacheEntry {
	if s.refreshWindow <= 0 {
		return entry
	}
	now := s.now()
	if entry.ExpiresAt().Sub(now) > s.refreshWindow {
		return entry
	}
	refresher, ok := b.(domain.CacheRefresher)
	if !ok {
		return entry
	}

	expiresAt, err := refresher.RefreshCache(ctx, entry.Handle, ttl)
	if err != nil {
		s.logger.WarnWithIntention(pkgLogger.IntentionWarning, "Failed to refresh cache TTL",
			"handle", entry.Handle, "error", err)
		return entry
	}
	if expiresAt.IsZero() {
		expiresAt = now.Add(ttl)
	}
	refreshed := *entry
	refreshed.TTL = expiresAt.Sub(entry.CreatedAt)
	if err := s.registry.Put(ctx, &refreshed); err != nil {
		s.logger.WarnWithIntention(pkgLogger.IntentionWarning, "Failed to store refreshed cache entry", "error", err)
		return entry
	}
	s.logger.DebugWithIntention(pkgLogger.IntentionCache, "Refreshed cache TTL",
		"handle", entry.Handle, "expires_at", expiresAt)
	return &refreshed
}

// Invalidate drops entry locally and deletes the provider cache best-effort.
func (s *Store) Invalidate(ctx context.Context, entry *domain.CacheEntry) {
	if entry != nil {
		s.remove(ctx, entry)
	}
}

func (s *Store) remove(ctx context.Context, e *domain.CacheEntry) {
	if err := s.registry.Delete(ctx, e.Key()); err != nil {
		s.logger.WarnWithIntention(pkgLogger.IntentionWarning, "Failed to delete cache entry", "error", err)
	}
	if s.providers == nil {
		return
	}
	if p, ok := s.providers.CacheProvider(ctx, e.Backend); ok {
		if err := p.DeleteCache(ctx, e.Handle); err != nil {
			s.logger.DebugWithIntention(pkgLogger.IntentionCache, "Provider cache delete failed",
				"handle", e.Handle, "error", err)
		}
	}
}

// Clear invalidates every entry matching backend and model regardless of
// TTL. Empty filters match everything. It returns the number removed.
func (s *Store) Clear(ctx context.Context, backend, model string) (int, error) {
	entries, err := s.registry.List(ctx)
	if err != nil {
		return 0, &domain.CacheError{Backend: backend, Model: model, Op: "clear", Err: err}
	}
	n := 0
	for _, e := range entries {
		if backend != "" && e.Backend != backend {
			continue
		}
		if model != "" && e.Model != model {
			continue
		}
		s.remove(ctx, e)
		n++
	}
	s.logger.InfoWithIntention(pkgLogger.IntentionCache, "Cleared cache entries",
		"backend", backend, "model", model, "count", n)
	return n, nil
}

// List returns the entries that have not expired.
func (s *Store) List(ctx context.Context) ([]*domain.CacheEntry, error) {
	entries, err := s.registry.List(ctx)
	if err != nil {
		return nil, &domain.CacheError{Op: "list", Err: err}
	}
	now := s.now()
	active := entries[:0]
	for _, e := range entries {
		if !e.Expired(now) {
			active = append(active, e)
		}
	}
	return active, nil
}

// Prune removes expired entries from the registry.
func (s *Store) Prune(ctx context.Context) (int, error) {
	entries, err := s.registry.List(ctx)
	if err != nil {
		return 0, &domain.CacheError{Op: "prune", Err: err}
	}
	now := s.now()
	n := 0
	for _, e := range entries {
		if e.Expired(now) {
			s.remove(ctx, e)
			n++
		}
	}
	return n, nil
}
