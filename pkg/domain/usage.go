package domain

import "time"

// Rates are prices in USD per million tokens.
type Rates struct {
	Input       float64 `json:"input_price"`
	CachedInput float64 `json:"cached_input_price"`
	Output      float64 `json:"output_price"`
	// CacheWrite applies to tokens written into a cache (Anthropic). Zero means Input.
	CacheWrite float64 `json:"cache_write_price,omitempty"`
	// CacheStoragePerHour is informational; storage is billed by the vendor per hour.
	CacheStoragePerHour float64 `json:"cache_storage_price_per_hour,omitempty"`
}

// ModelPricing is the pricing table entry for one backend/model.
type ModelPricing struct {
	Backend        string
	Model          string
	Tier           string
	Rates          Rates
	MinCacheTokens int
	ContextWindow  int
}

// UsageRecord is token accounting for a single request.
//
// InputTokens counts every prompt token, including CachedTokens and
// CacheWriteTokens; StandardInputTokens is the remainder billed at the
// full input rate.
type UsageRecord struct {
	Backend          string    `json:"backend,omitempty"`
	Model            string    `json:"model,omitempty"`
	InputTokens      int64     `json:"input_tokens"`
	CachedTokens     int64     `json:"cached_tokens"`
	CacheWriteTokens int64     `json:"cache_write_tokens,omitempty"`
	OutputTokens     int64     `json:"output_tokens"`
	Cost             float64   `json:"cost_usd"`
	Savings          float64   `json:"savings_usd"`
	Timestamp        time.Time `json:"timestamp,omitzero"`
}

// StandardInputTokens returns input tokens billed at the standard rate.
func (u UsageRecord) StandardInputTokens() int64 {
	n := u.InputTokens - u.CachedTokens - u.CacheWriteTokens
	if n < 0 {
		return 0
	}
	return n
}

// TotalTokens returns input plus output tokens.
func (u UsageRecord) TotalTokens() int64 {
	return u.InputTokens + u.OutputTokens
}

// Add returns the elementwise sum of u and o. Identity fields are kept
// only when both records agree.
func (u UsageRecord) Add(o UsageRecord) UsageRecord {
	sum := UsageRecord{
		InputTokens:      u.InputTokens + o.InputTokens,
		CachedTokens:     u.CachedTokens + o.CachedTokens,
		CacheWriteTokens: u.CacheWriteTokens + o.CacheWriteTokens,
		OutputTokens:     u.OutputTokens + o.OutputTokens,
		Cost:             u.Cost + o.Cost,
		Savings:          u.Savings + o.Savings,
	}
	if u.Backend == o.Backend {
		sum.Backend = u.Backend
	}
	if u.Model == o.Model {
		sum.Model = u.Model
	}
	if o.Timestamp.After(u.Timestamp) {
		sum.Timestamp = o.Timestamp
	} else {
		sum.Timestamp = u.Timestamp
	}
	return sum
}
