// Package pricing holds per-backend, per-model token prices and the cost math
// applied to usage records.
package pricing

import (
	_ "embed"
	"encoding/json"
	"os"
	"strings"
	"sync"

	"github.com/pkg/errors"

	"github.com/fpt/kanoa/pkg/domain"
	pkgLogger "github.com/fpt/kanoa/pkg/logger"
)

//go:embed pricing.json
var defaultPricing []byte

// DefaultTier is used when no tier is selected or the selected tier is missing.
const DefaultTier = "default"

const wildcardModel = "*"

var pricingLogger = pkgLogger.NewComponentLogger("pricing")

type modelEntry struct {
	Tiers map[string]domain.Rates `json:"tiers,omitempty"`
	// Flat form, used when Tiers is empty.
	domain.Rates
	MinCacheTokens int `json:"min_cache_tokens,omitempty"`
	ContextWindow  int `json:"context_window,omitempty"`
}

// Catalog is the merged pricing table. Lookups read the current table, so a
// Reload picks up price changes for subsequent calls.
type Catalog struct {
	mu           sync.RWMutex
	overridePath string
	tier         string
	entries      map[string]map[string]modelEntry
}

// Option configures a Catalog.
type Option func(*Catalog)

// WithOverride merges the JSON file at path over the embedded defaults.
// A missing file is not an error.
func WithOverride(path string) Option {
	return func(c *Catalog) { c.overridePath = path }
}

// WithTier selects a pricing tier such as "free".
func WithTier(tier string) Option {
	return func(c *Catalog) {
		if tier != "" {
			c.tier = tier
		}
	}
}

// Load builds a catalog from the embedded defaults and any override.
func Load(opts ...Option) (*Catalog, error) {
	c := &Catalog{tier: DefaultTier}
	for _, opt := range opts {
		opt(c)
	}
	if err := c.Reload(); err != nil {
		return nil, err
	}
	return c, nil
}

// Reload re-reads the override file and rebuilds the table.
func (c *Catalog) Reload() error {
	var base map[string]any
	if err := json.Unmarshal(defaultPricing, &base); err != nil {
		return errors.Wrap(err, "parse embedded pricing")
	}

	if c.overridePath != "" {
		data, err := os.ReadFile(c.overridePath)
		switch {
		case err == nil:
			var override map[string]any
			if err := json.Unmarshal(data, &override); err != nil {
				return errors.Wrapf(err, "parse pricing override %s", c.overridePath)
			}
			base = Merge(base, override)
			pricingLogger.DebugWithIntention(pkgLogger.IntentionConfig, "Applied pricing override", "path", c.overridePath)
		case !os.IsNotExist(err):
			return errors.Wrapf(err, "read pricing override %s", c.overridePath)
		}
	}

	merged, err := json.Marshal(base)
	if err != nil {
		return errors.Wrap(err, "encode merged pricing")
	}
	var raw map[string]map[string]modelEntry
	if err := json.Unmarshal(merged, &raw); err != nil {
		return errors.Wrap(err, "decode merged pricing")
	}

	entries := make(map[string]map[string]modelEntry, len(raw))
	for backend, models := range raw {
		entries[strings.ToLower(backend)] = models
	}

	c.mu.Lock()
	c.entries = entries
	c.mu.Unlock()
	return nil
}

// Family maps a backend identifier to its pricing table key.
func Family(backend string) string {
	b := strings.ToLower(backend)
	if strings.HasPrefix(b, "gemini") {
		return "gemini"
	}
	return b
}

// Lookup returns the pricing for backend/model: exact model, then the
// longest matching prefix (dated model names), then the backend wildcard.
func (c *Catalog) Lookup(backend, model string) (domain.ModelPricing, error) {
	c.mu.RLock()
	models, ok := c.entries[Family(backend)]
	tier := c.tier
	c.mu.RUnlock()
	if !ok {
		return domain.ModelPricing{}, errors.Wrapf(domain.ErrNoPricing, "backend %s", backend)
	}

	key, entry, ok := match(models, model)
	if !ok {
		return domain.ModelPricing{}, errors.Wrapf(domain.ErrNoPricing, "model %s/%s", backend, model)
	}

	rates := entry.Rates
	usedTier := ""
	if len(entry.Tiers) > 0 {
		r, found := entry.Tiers[tier]
		usedTier = tier
		if !found {
			r = entry.Tiers[DefaultTier]
			usedTier = DefaultTier
		}
		rates = r
	}

	return domain.ModelPricing{
		Backend:        backend,
		Model:          key,
		Tier:           usedTier,
		Rates:          rates,
		MinCacheTokens: entry.MinCacheTokens,
		ContextWindow:  entry.ContextWindow,
	}, nil
}

func match(models map[string]modelEntry, model string) (string, modelEntry, bool) {
	if e, ok := models[model]; ok {
		return model, e, true
	}
	best := ""
	for key := range models {
		if key != wildcardModel && strings.HasPrefix(model, key) && len(key) > len(best) {
			best = key
		}
	}
	if best != "" {
		return best, models[best], true
	}
	if e, ok := models[wildcardModel]; ok {
		return wildcardModel, e, true
	}
	return "", modelEntry{}, false
}

// Backends lists the pricing families in the table.
func (c *Catalog) Backends() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.entries))
	for b := range c.entries {
		out = append(out, b)
	}
	return out
}

// Models lists the model keys priced for a backend family.
func (c *Catalog) Models(backend string) []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	models := c.entries[Family(backend)]
	out := make([]string, 0, len(models))
	for m := range models {
		out = append(out, m)
	}
	return out
}

// Merge deep-merges override into base. Objects merge recursively; any other
// value in override replaces the one in base.
func Merge(base, override map[string]any) map[string]any {
	if base == nil {
		base = make(map[string]any, len(override))
	}
	for k, v := range override {
		ov, isMap := v.(map[string]any)
		bv, baseIsMap := base[k].(map[string]any)
		if isMap && baseIsMap {
			base[k] = Merge(bv, ov)
			continue
		}
		base[k] = v
	}
	return base
}
