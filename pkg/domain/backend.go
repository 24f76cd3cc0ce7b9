package domain

import (
	"context"
	"iter"
	"time"
)

// Backend identifiers accepted by the registry.
const (
	BackendGemini = "gemini-3"
	BackendClaude = "claude"
	BackendOpenAI = "openai"
	BackendVLLM   = "vllm"
	BackendMolmo  = "molmo"
	BackendOllama = "ollama"
)

// Capabilities describes what a vendor API accepts and offers.
type Capabilities struct {
	// InlineBinary is true when images/PDFs can travel in the request body.
	InlineBinary bool
	// InlineLimit is the largest binary payload (bytes) sent inline.
	InlineLimit int64
	// PDFInlineLimit replaces InlineLimit for PDFs when set.
	PDFInlineLimit int64
	// StagedUpload is true when the vendor offers an upload step (e.g. Files API).
	StagedUpload bool
	// RemoteReference is true when the vendor can fetch a payload by URI.
	RemoteReference bool
	// ContextCaching is true when the vendor supports provider-side caches.
	ContextCaching bool
	Streaming      bool
	Vision         bool
	PDF            bool
}

// Backend is a vendor adapter. Implementations translate a Request into
// vendor calls and report token usage; cost is priced by the caller.
type Backend interface {
	// Name returns the registry identifier (e.g. "gemini-3").
	Name() string
	// Model returns the vendor model identifier.
	Model() string
	Capabilities() Capabilities
	// Pricing looks up the current pricing table for the configured model.
	Pricing() (ModelPricing, error)
	// Send issues a single request. entry may be nil.
	Send(ctx context.Context, req *Request, entry *CacheEntry) (*Response, error)
}

// StreamingBackend yields text chunks followed by exactly one terminal
// usage chunk. The sequence is single-use.
type StreamingBackend interface {
	Backend
	Stream(ctx context.Context, req *Request, entry *CacheEntry) iter.Seq2[StreamChunk, error]
}

// CacheProvider is implemented by backends that own provider-side context caches.
type CacheProvider interface {
	CreateCache(ctx context.Context, g *Grounding, ttl time.Duration) (*CacheHandle, error)
	DeleteCache(ctx context.Context, handle string) error
}

// CacheRefresher extends the provider-side lifetime of an existing cache.
type CacheRefresher interface {
	RefreshCache(ctx context.Context, handle string, ttl time.Duration) (time.Time, error)
}

// CacheFinder locates a live provider cache for g created by an earlier
// process. It returns nil, nil when there is none.
type CacheFinder interface {
	FindCache(ctx context.Context, g *Grounding) (*CacheHandle, error)
}

// TokenCounter is an optional extension for vendors exposing a token counting endpoint.
type TokenCounter interface {
	CountTokens(ctx context.Context, req *Request) (int, error)
}

// ContextLimiter reports a model's context window when the pricing catalog
// does not know it. Zero means unknown.
type ContextLimiter interface {
	MaxContextTokens() int
}

// ContextWindow returns the input limit of b's model: the catalog value when
// present, otherwise what the backend reports. Zero means unknown.
func ContextWindow(b Backend) int {
	if p, err := b.Pricing(); err == nil && p.ContextWindow > 0 {
		return p.ContextWindow
	}
	if l, ok := b.(ContextLimiter); ok {
		return l.MaxContextTokens()
	}
	return 0
}

// SupportsCaching reports whether b can create provider-side caches.
func SupportsCaching(b Backend) bool {
	if !b.Capabilities().ContextCaching {
		return false
	}
	_, ok := b.(CacheProvider)
	return ok
}

// MinCacheableTokens returns the vendor threshold for b's model, or -1 when
// no pricing is known.
func MinCacheableTokens(b Backend) int {
	p, err := b.Pricing()
	if err != nil {
		return -1
	}
	return p.MinCacheTokens
}

// UseCache reports whether grounding should be routed through entry.
// Below the threshold the entry is ignored even when present.
func UseCache(entry *CacheEntry, g *Grounding, minTokens int) bool {
	if entry == nil || g == nil || entry.Handle == "" {
		return false
	}
	if entry.Fingerprint != g.Fingerprint {
		return false
	}
	return minTokens >= 0 && g.Tokens >= minTokens
}

// PricingSource resolves pricing at call time so that table updates apply
// to subsequent requests.
type PricingSource interface {
	Lookup(backend, model string) (ModelPricing, error)
}
