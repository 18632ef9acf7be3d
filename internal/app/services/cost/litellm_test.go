package cost

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestLiteLLMProvider_ParsesPricingTable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"claude-3-opus-20240229": {
				"input_cost_per_token": 0.000015,
				"output_cost_per_token": 0.000075,
				"cache_creation_input_token_cost": 0.00001875,
				"cache_read_input_token_cost": 0.000001875
			}
		}`))
	}))
	defer srv.Close()

	p := &LiteLLMProvider{httpClient: srv.Client(), url: srv.URL}
	table, err := p.FetchPricing(context.Background())
	if err != nil {
		t.Fatalf("FetchPricing: %v", err)
	}
	entry, ok := table["claude-3-opus-20240229"]
	if !ok {
		t.Fatal("expected entry for claude-3-opus-20240229")
	}
	if entry.InputCostPerToken != 0.000015 {
		t.Errorf("got InputCostPerToken=%v", entry.InputCostPerToken)
	}
}

func TestLiteLLMProvider_NonOKStatusIsAnError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	p := &LiteLLMProvider{httpClient: srv.Client(), url: srv.URL}
	if _, err := p.FetchPricing(context.Background()); err == nil {
		t.Fatal("expected error on non-200 response")
	}
}
