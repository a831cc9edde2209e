package pricing

import (
	"testing"

	"github.com/pario-ai/costgate/pkg/models"
	"github.com/shopspring/decimal"
)

func TestLookupNormalizesDateSuffix(t *testing.T) {
	tbl := New(nil)

	for _, raw := range []string{"gpt-4o-2024-08-06", "gpt-4o-20240806", "gpt-4o"} {
		p, ok := tbl.Lookup(raw)
		if !ok {
			t.Fatalf("%s: expected specific entry", raw)
		}
		if p.Model != "gpt-4o" {
			t.Errorf("%s: got entry %s", raw, p.Model)
		}
	}
}

func TestLookupUnknownUsesDefault(t *testing.T) {
	tbl := New(nil)
	p, ok := tbl.Lookup("mystery-model")
	if ok {
		t.Error("expected fallback lookup to report no specific entry")
	}
	if p.Model != DefaultModel {
		t.Errorf("expected default %s, got %s", DefaultModel, p.Model)
	}

	tbl.SetDefault("gpt-4o-mini")
	if got := tbl.For("mystery-model").Model; got != "gpt-4o-mini" {
		t.Errorf("expected gpt-4o-mini default, got %s", got)
	}
}

func TestReasoningRateDefaultsToOutput(t *testing.T) {
	p := New(nil).For("gpt-5")
	if !p.ReasoningRate().Equal(p.Output) {
		t.Errorf("reasoning rate %s, want output rate %s", p.ReasoningRate(), p.Output)
	}
}

func TestCost(t *testing.T) {
	tbl := New([]models.ModelPricing{
		{Model: "flat", Input: decimal.RequireFromString("1"), Output: decimal.RequireFromString("2"),
			CachedInput: models.DecimalPtr(decimal.RequireFromString("0.5"))},
	})

	u := models.NewTokenUsage(2000, 1000, 500, 1000)
	// 1000 uncached * 1 + 1000 cached * 0.5 + 1000 out * 2 + 500 reasoning * 2, per 1K
	want := decimal.RequireFromString("4.5")
	if got := tbl.Cost("flat", u); !got.Equal(want) {
		t.Errorf("cost = %s, want %s", got, want)
	}

	priced := tbl.Price("flat", u)
	if !priced.EstimatedCost.Equal(want) {
		t.Errorf("priced cost = %s, want %s", priced.EstimatedCost, want)
	}
	if priced.TotalTokens != 3000 {
		t.Errorf("total tokens = %d, want 3000", priced.TotalTokens)
	}
}

func TestOverrideReplacesBuiltin(t *testing.T) {
	tbl := New([]models.ModelPricing{
		{Model: "gpt-4o", Input: decimal.RequireFromString("0.1"), Output: decimal.RequireFromString("0.2")},
	})
	if got := tbl.For("gpt-4o").Input.String(); got != "0.1" {
		t.Errorf("expected override input 0.1, got %s", got)
	}
}
