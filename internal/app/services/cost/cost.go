// Package cost attributes a cost-in-dollars to a message's token usage,
// using a remote pricing table when available and a built-in per-model-
// family fallback otherwise (spec.md §4.5).
package cost

import (
	"context"
	"math"
	"strings"
	"time"

	"github.com/sjafferali/claudelens-archive/domain"
	"github.com/sjafferali/claudelens-archive/infrastructure/cache"
)

// Pricing carries the four per-token rates spec.md §4.5 names.
type Pricing struct {
	InputCostPerToken         float64
	OutputCostPerToken        float64
	CacheCreationCostPerToken float64
	CacheReadCostPerToken     float64
}

// PricingProvider fetches a remote pricing table keyed by model name. It is
// the one out-of-scope collaborator (SPEC_FULL §7) with a concrete default
// implementation, since the Cost & Token Attribution component needs one
// to function.
type PricingProvider interface {
	FetchPricing(ctx context.Context) (map[string]Pricing, error)
}

// defaultFamilyPricing seeds the fallback path with the handful of model
// family prefixes the original hardcodes, so the fallback is exercised by
// tests without a network call.
var defaultFamilyPricing = []struct {
	prefix  string
	pricing Pricing
}{
	{"claude-opus", Pricing{0.000015, 0.000075, 0.00001875, 0.000001875}},
	{"claude-3-opus", Pricing{0.000015, 0.000075, 0.00001875, 0.000001875}},
	{"claude-sonnet", Pricing{0.000003, 0.000015, 0.00000375, 0.0000003}},
	{"claude-3-sonnet", Pricing{0.000003, 0.000015, 0.00000375, 0.0000003}},
	{"claude-haiku", Pricing{0.0000008, 0.000004, 0.000001, 0.00000008}},
	{"claude-3-haiku", Pricing{0.0000008, 0.000004, 0.000001, 0.00000008}},
}

var fallbackPricing = Pricing{0.000003, 0.000015, 0.00000375, 0.0000003}

func defaultPricingFor(model string) Pricing {
	lower := strings.ToLower(model)
	for _, entry := range defaultFamilyPricing {
		if strings.Contains(lower, entry.prefix) {
			return entry.pricing
		}
	}
	return fallbackPricing
}

// pricingCacheKey is the single entry Calculator's cache ever holds; one
// process serves one remote pricing table, not one per model.
const pricingCacheKey = "remote_pricing_table"

// Calculator computes per-message cost, caching the remote pricing table
// for cacheTTL (spec.md's "60-second process-local cache" applies to rate-
// limit settings; pricing uses the same process-lifetime-cache shape the
// original fetches once and keeps) via infrastructure/cache.TTLCache, the
// same single-key cache services/ratelimit.Engine uses for its settings
// snapshot.
type Calculator struct {
	provider PricingProvider
	cache    *cache.TTLCache
}

func New(provider PricingProvider, cacheTTL time.Duration) *Calculator {
	return &Calculator{provider: provider, cache: cache.NewTTLCache(cacheTTL)}
}

func mapModelName(model string) string {
	return strings.TrimPrefix(model, "anthropic/")
}

func (c *Calculator) pricingTable(ctx context.Context) map[string]Pricing {
	if c.provider == nil {
		return nil
	}

	if v, ok := c.cache.Get(ctx, pricingCacheKey); ok {
		return v.(map[string]Pricing)
	}

	fetched, err := c.provider.FetchPricing(ctx)
	if err != nil {
		// Never fail cost computation on an upstream fetch error; a cache
		// miss here routes every lookup to the built-in default table
		// until the next successful fetch.
		return nil
	}

	c.cache.Set(ctx, pricingCacheKey, fetched)
	return fetched
}

// PricingFor resolves the rates for model, preferring the remote table and
// falling back to the built-in per-family default.
func (c *Calculator) PricingFor(ctx context.Context, model string) Pricing {
	mapped := mapModelName(model)
	if table := c.pricingTable(ctx); table != nil {
		if p, ok := table[mapped]; ok {
			return p
		}
	}
	return defaultPricingFor(mapped)
}

// Compute returns the cost for usage under model, rounded to six decimal
// digits. Cost is the sum over axes of tokens*price, is never negative,
// and is never zero-valued-but-hidden when usage is present.
func (c *Calculator) Compute(ctx context.Context, model string, usage domain.TokenUsage) float64 {
	if model == "" || (usage.InputTokens == 0 && usage.OutputTokens == 0) {
		return 0
	}

	pricing := c.PricingFor(ctx, model)
	total := float64(usage.InputTokens)*pricing.InputCostPerToken +
		float64(usage.OutputTokens)*pricing.OutputCostPerToken +
		float64(usage.CacheCreationTokens)*pricing.CacheCreationCostPerToken +
		float64(usage.CacheReadTokens)*pricing.CacheReadCostPerToken

	if total < 0 {
		total = 0
	}
	return round6(total)
}

func round6(v float64) float64 {
	const factor = 1e6
	return math.Round(v*factor) / factor
}
