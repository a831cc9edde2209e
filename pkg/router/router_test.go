package router

import (
	"testing"

	"github.com/pario-ai/costgate/pkg/config"
	"github.com/pario-ai/costgate/pkg/models"
)

func TestChainDefaultsToFirstProvider(t *testing.T) {
	cfg := &config.Config{
		Providers: []config.ProviderConfig{
			{Name: "openai", URL: "https://api.openai.com", APIKey: "sk-1"},
		},
		Models: config.ModelsConfig{
			Primary:   config.ModelTarget{Model: "gpt-5"},
			Fallbacks: []config.ModelTarget{{Model: "gpt-4.1"}, {Model: "gpt-4o"}},
		},
	}
	chain, err := New(cfg).Chain()
	if err != nil {
		t.Fatal(err)
	}
	if chain.Primary.Provider.Name != "openai" || chain.Primary.Model != "gpt-5" {
		t.Errorf("unexpected primary: %+v", chain.Primary)
	}
	if chain.Primary.Tier != models.TierPrimary {
		t.Errorf("expected primary tier, got %s", chain.Primary.Tier)
	}
	if len(chain.Fallbacks) != 2 {
		t.Fatalf("expected 2 fallbacks, got %d", len(chain.Fallbacks))
	}
	if chain.Fallbacks[0].Model != "gpt-4.1" || chain.Fallbacks[1].Model != "gpt-4o" {
		t.Errorf("fallback order not preserved: %+v", chain.Fallbacks)
	}
	if chain.Fallbacks[1].Tier != models.TierFallback {
		t.Errorf("expected fallback tier, got %s", chain.Fallbacks[1].Tier)
	}
}

func TestChainNamedProviders(t *testing.T) {
	cfg := &config.Config{
		Providers: []config.ProviderConfig{
			{Name: "openai", URL: "https://api.openai.com", APIKey: "sk-1"},
			{Name: "azure", URL: "https://example.openai.azure.com", APIKey: "sk-2"},
		},
		Models: config.ModelsConfig{
			Primary: config.ModelTarget{Provider: "openai", Model: "gpt-5"},
			Fallbacks: []config.ModelTarget{
				{Provider: "azure", Model: "gpt-4o"},
				{Provider: "missing", Model: "gpt-4o-mini"},
			},
		},
	}
	chain, err := New(cfg).Chain()
	if err != nil {
		t.Fatal(err)
	}
	if len(chain.Fallbacks) != 1 {
		t.Fatalf("expected unknown provider skipped, got %d fallbacks", len(chain.Fallbacks))
	}
	if chain.Fallbacks[0].Provider.Name != "azure" {
		t.Errorf("unexpected fallback provider: %+v", chain.Fallbacks[0])
	}
}

func TestChainUnknownPrimaryProvider(t *testing.T) {
	cfg := &config.Config{
		Providers: []config.ProviderConfig{{Name: "openai"}},
		Models:    config.ModelsConfig{Primary: config.ModelTarget{Provider: "nope", Model: "gpt-5"}},
	}
	if _, err := New(cfg).Chain(); err == nil {
		t.Fatal("expected error for unknown primary provider")
	}
}

func TestChainNoProviders(t *testing.T) {
	if _, err := New(&config.Config{}).Chain(); err == nil {
		t.Fatal("expected error")
	}
}
