// Package pricing resolves the USD cost of an upstream call. Costs come
// from several sources with a strict priority order: the provider's own
// reported cost, an external pricing table, the embedded price book, and
// finally a flat per-1K-token fallback rate.
package pricing

import (
	"strings"

	"github.com/cascadeflow/gateway/internal/usage"
)

// ModelPrice is one entry in the embedded price book. All rates are USD
// per 1K tokens.
type ModelPrice struct {
	InputPer1K       float64 `json:"input_per_1k"`
	OutputPer1K      float64 `json:"output_per_1k"`
	CachedInputPer1K float64 `json:"cached_input_per_1k"`
}

// ExternalPricer is an optional adapter over a community pricing table
// (for example a LiteLLM-style model price JSON). It reports whether it
// knows the model at all so the resolver can fall through.
type ExternalPricer interface {
	Cost(model string, u usage.Usage) (float64, bool)
}

// defaultPriceBook covers the commonly routed frontier and mini tiers.
// Real deployments should override or extend via config; entries here are
// a safety net, not an authority.
var defaultPriceBook = map[string]ModelPrice{
	"gpt-4o":                 {InputPer1K: 0.0025, OutputPer1K: 0.01, CachedInputPer1K: 0.00125},
	"gpt-4o-mini":            {InputPer1K: 0.00015, OutputPer1K: 0.0006, CachedInputPer1K: 0.000075},
	"gpt-4.1":                {InputPer1K: 0.002, OutputPer1K: 0.008, CachedInputPer1K: 0.0005},
	"gpt-4.1-mini":           {InputPer1K: 0.0004, OutputPer1K: 0.0016, CachedInputPer1K: 0.0001},
	"gpt-3.5-turbo":          {InputPer1K: 0.0005, OutputPer1K: 0.0015},
	"o3-mini":                {InputPer1K: 0.0011, OutputPer1K: 0.0044, CachedInputPer1K: 0.00055},
	"claude-3-5-sonnet":      {InputPer1K: 0.003, OutputPer1K: 0.015, CachedInputPer1K: 0.0003},
	"claude-3-5-haiku":       {InputPer1K: 0.0008, OutputPer1K: 0.004, CachedInputPer1K: 0.00008},
	"claude-sonnet-4":        {InputPer1K: 0.003, OutputPer1K: 0.015, CachedInputPer1K: 0.0003},
	"claude-haiku-3-5":       {InputPer1K: 0.0008, OutputPer1K: 0.004, CachedInputPer1K: 0.00008},
	"text-embedding-3-small": {InputPer1K: 0.00002},
}

// Resolver answers cost questions against the embedded book plus any
// registered overrides. Safe for concurrent use after construction.
type Resolver struct {
	book     map[string]ModelPrice
	external ExternalPricer
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithExternalPricer attaches a community pricing table adapter.
func WithExternalPricer(p ExternalPricer) Option {
	return func(r *Resolver) { r.external = p }
}

// WithOverrides merges config-supplied prices over the embedded book.
func WithOverrides(overrides map[string]ModelPrice) Option {
	return func(r *Resolver) {
		for model, price := range overrides {
			r.book[model] = price
		}
	}
}

func NewResolver(opts ...Option) *Resolver {
	r := &Resolver{book: make(map[string]ModelPrice, len(defaultPriceBook))}
	for model, price := range defaultPriceBook {
		r.book[model] = price
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Lookup returns the price book entry for a model, trying an exact match
// first and then a normalized prefix match (version-suffixed models like
// gpt-4o-2024-08-06 resolve to their base entry).
func (r *Resolver) Lookup(model string) (ModelPrice, bool) {
	if price, ok := r.book[model]; ok {
		return price, true
	}
	lower := strings.ToLower(model)
	if price, ok := r.book[lower]; ok {
		return price, true
	}
	// Longest prefix wins so gpt-4o-mini-2024-07-18 resolves to
	// gpt-4o-mini, not gpt-4o.
	var best string
	for name := range r.book {
		if strings.HasPrefix(lower, name) && len(name) > len(best) {
			best = name
		}
	}
	if best != "" {
		return r.book[best], true
	}
	return ModelPrice{}, false
}

// ResolveCost returns the USD cost for a call in strict priority order:
// provider-reported cost, external table, embedded book, fallback rate,
// then zero. Nil pointers mean "not available".
func (r *Resolver) ResolveCost(model string, u usage.Usage, providerCost, fallbackRatePer1K *float64) float64 {
	if providerCost != nil {
		return *providerCost
	}
	if r.external != nil {
		if cost, ok := r.external.Cost(model, u); ok {
			return cost
		}
	}
	if price, ok := r.Lookup(model); ok {
		return float64(u.InputTokens)/1000*price.InputPer1K +
			float64(u.OutputTokens)/1000*price.OutputPer1K +
			float64(u.CachedInputTokens)/1000*price.CachedInputPer1K
	}
	if fallbackRatePer1K != nil {
		return *fallbackRatePer1K * float64(u.TotalTokens()) / 1000
	}
	return 0
}
