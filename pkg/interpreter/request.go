package interpreter

import (
	"github.com/fpt/kanoa/pkg/domain"
	"github.com/fpt/kanoa/pkg/knowledge"
)

// InterpretationRequest is one call to Interpret. It is not modified by the
// interpreter.
type InterpretationRequest struct {
	// Payload is the figure, PDF, table or text to interpret.
	Payload *domain.Payload
	// Data is an optional table shown alongside a figure.
	Data *domain.Payload

	Context string
	Focus   string
	// Backend is the registry id; empty selects the default backend.
	Backend string

	// KBPath is a knowledge-base directory. KBContent, when set, replaces it.
	KBPath    string
	KBType    knowledge.Type
	KBContent string

	// CustomPrompt replaces the rendered user prompt.
	CustomPrompt string
	MaxTokens    int
	Temperature  *float64
	Seed         *int64
	// NoCache sends grounding inline even when the backend can cache it.
	NoCache bool
}

// InterpretationResult is the outcome of a successful interpretation.
type InterpretationResult struct {
	Text    string             `json:"text"`
	Backend string             `json:"backend"`
	Model   string             `json:"model"`
	Usage   domain.UsageRecord `json:"usage"`
	// CacheUsed is true when grounding was served from a provider cache.
	CacheUsed bool `json:"cache_used"`
	// CacheCreated is true when this call created the provider cache.
	CacheCreated bool `json:"cache_created"`
	// Grounded is true when a knowledge base was attached.
	Grounded bool `json:"grounded"`
	// Warnings report degradations, e.g. a cache that could not be created
	// and was replaced by inlined grounding.
	Warnings []string `json:"warnings,omitempty"`
}

// Savings is the difference between standard-rate billing and the billed cost.
func (r *InterpretationResult) Savings() float64 {
	return r.Usage.Savings
}

// Degraded reports whether any warning was raised.
func (r *InterpretationResult) Degraded() bool {
	return len(r.Warnings) > 0
}
