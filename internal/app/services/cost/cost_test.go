package cost

import (
	"context"
	"testing"
	"time"

	"github.com/sjafferali/claudelens-archive/domain"
)

func TestCompute_FallsBackToBuiltInFamilyPricingWithoutProvider(t *testing.T) {
	calc := New(nil, time.Minute)

	usage := domain.TokenUsage{InputTokens: 1_000_000, OutputTokens: 1_000_000}
	got := calc.Compute(context.Background(), "claude-opus-4", usage)
	want := round6(1_000_000*0.000015 + 1_000_000*0.000075)
	if got != want {
		t.Fatalf("expected opus fallback pricing %v, got %v", want, got)
	}
}

func TestCompute_NoUsageIsZero(t *testing.T) {
	calc := New(nil, time.Minute)
	got := calc.Compute(context.Background(), "claude-sonnet-4", domain.TokenUsage{})
	if got != 0 {
		t.Fatalf("expected zero cost for no usage, got %v", got)
	}
}

func TestCompute_NeverNegative(t *testing.T) {
	calc := New(nil, time.Minute)
	usage := domain.TokenUsage{InputTokens: 1}
	got := calc.Compute(context.Background(), "claude-sonnet-4", usage)
	if got < 0 {
		t.Fatalf("cost must never be negative, got %v", got)
	}
}

type stubProvider struct {
	table map[string]Pricing
	calls int
}

func (s *stubProvider) FetchPricing(ctx context.Context) (map[string]Pricing, error) {
	s.calls++
	return s.table, nil
}

func TestCompute_PrefersRemoteTable(t *testing.T) {
	provider := &stubProvider{table: map[string]Pricing{
		"claude-custom": {InputCostPerToken: 0.00001, OutputCostPerToken: 0.00002},
	}}
	calc := New(provider, time.Minute)

	got := calc.Compute(context.Background(), "claude-custom", domain.TokenUsage{InputTokens: 100, OutputTokens: 100})
	want := round6(100*0.00001 + 100*0.00002)
	if got != want {
		t.Fatalf("expected remote pricing %v, got %v", want, got)
	}
}

func TestPricingTable_CachesWithinTTL(t *testing.T) {
	provider := &stubProvider{table: map[string]Pricing{}}
	calc := New(provider, time.Hour)

	calc.PricingFor(context.Background(), "claude-sonnet-4")
	calc.PricingFor(context.Background(), "claude-sonnet-4")

	if provider.calls != 1 {
		t.Fatalf("expected pricing table to be fetched once within TTL, got %d calls", provider.calls)
	}
}
