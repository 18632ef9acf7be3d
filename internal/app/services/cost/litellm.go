package cost

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// litellmPricingURL mirrors the table ccusage and the original service
// both read model pricing from.
const litellmPricingURL = "https://raw.githubusercontent.com/BerriAI/litellm/main/model_prices_and_context_window.json"

// litellmEntry is the subset of LiteLLM's per-model JSON object the
// Calculator needs; the upstream document carries many more fields.
type litellmEntry struct {
	InputCostPerToken       float64 `json:"input_cost_per_token"`
	OutputCostPerToken      float64 `json:"output_cost_per_token"`
	CacheCreationInputCost  float64 `json:"cache_creation_input_token_cost"`
	CacheReadInputTokenCost float64 `json:"cache_read_input_token_cost"`
}

// LiteLLMProvider implements PricingProvider against LiteLLM's published
// pricing table, the same source the original cost calculation service
// fetches from.
type LiteLLMProvider struct {
	httpClient *http.Client
	url        string
}

func NewLiteLLMProvider() *LiteLLMProvider {
	return &LiteLLMProvider{
		httpClient: &http.Client{Timeout: 10 * time.Second},
		url:        litellmPricingURL,
	}
}

func (p *LiteLLMProvider) FetchPricing(ctx context.Context) (map[string]Pricing, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url, nil)
	if err != nil {
		return nil, fmt.Errorf("build pricing request: %w", err)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch pricing table: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch pricing table: status %d", resp.StatusCode)
	}

	var raw map[string]litellmEntry
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, fmt.Errorf("decode pricing table: %w", err)
	}

	table := make(map[string]Pricing, len(raw))
	for model, entry := range raw {
		table[model] = Pricing{
			InputCostPerToken:         entry.InputCostPerToken,
			OutputCostPerToken:        entry.OutputCostPerToken,
			CacheCreationCostPerToken: entry.CacheCreationInputCost,
			CacheReadCostPerToken:     entry.CacheReadInputTokenCost,
		}
	}
	return table, nil
}
