package pricing

import "github.com/fpt/kanoa/pkg/domain"

const perMillion = 1_000_000

// Cost computes the billed amount:
//
//	standard_input*input + cached*cached_input + cache_write*cache_write + output*output
//
// with each rate in USD per million tokens.
func Cost(u domain.UsageRecord, r domain.Rates) float64 {
	writeRate := r.CacheWrite
	if writeRate == 0 {
		writeRate = r.Input
	}
	total := float64(u.StandardInputTokens())*r.Input +
		float64(u.CachedTokens)*r.CachedInput +
		float64(u.CacheWriteTokens)*writeRate +
		float64(u.OutputTokens)*r.Output
	return total / perMillion
}

// StandardCost is what the request would have cost with every input token
// billed at the standard rate.
func StandardCost(u domain.UsageRecord, r domain.Rates) float64 {
	return (float64(u.InputTokens)*r.Input + float64(u.OutputTokens)*r.Output) / perMillion
}

// Apply fills Cost and Savings on u. Savings can be negative when cache
// writes are billed above the input rate.
func Apply(u *domain.UsageRecord, r domain.Rates) {
	u.Cost = Cost(*u, r)
	u.Savings = StandardCost(*u, r) - u.Cost
}
