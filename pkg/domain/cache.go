package domain

import (
	"fmt"
	"time"
)

// CacheKey identifies a provider-side cache.
type CacheKey struct {
	Backend     string
	Model       string
	Fingerprint string
}

func (k CacheKey) String() string {
	return fmt.Sprintf("%s|%s|%s", k.Backend, k.Model, k.Fingerprint)
}

// CacheHandle is what a CacheProvider returns after creating a cache.
type CacheHandle struct {
	Name string
	// ExpiresAt is the vendor-reported expiry, zero when unknown.
	ExpiresAt time.Time
	Tokens    int
}

// CacheEntry is locally tracked metadata for an opaque provider cache.
type CacheEntry struct {
	Backend     string        `json:"backend"`
	Model       string        `json:"model"`
	Fingerprint string        `json:"fingerprint"`
	Handle      string        `json:"handle"`
	Source      string        `json:"source,omitempty"`
	Tokens      int           `json:"tokens,omitempty"`
	CreatedAt   time.Time     `json:"created_at"`
	TTL         time.Duration `json:"ttl"`
}

func (e *CacheEntry) Key() CacheKey {
	return CacheKey{Backend: e.Backend, Model: e.Model, Fingerprint: e.Fingerprint}
}

func (e *CacheEntry) ExpiresAt() time.Time {
	return e.CreatedAt.Add(e.TTL)
}

// Expired reports whether now is at or past the expiry.
func (e *CacheEntry) Expired(now time.Time) bool {
	return !now.Before(e.ExpiresAt())
}

// Valid holds while now < created+ttl and the stored fingerprint matches.
func (e *CacheEntry) Valid(now time.Time, fingerprint string) bool {
	return e != nil && !e.Expired(now) && e.Fingerprint == fingerprint
}
