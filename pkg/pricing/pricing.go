// Package pricing holds per-model token prices and prices TokenUsage values.
package pricing

import (
	"strings"

	"github.com/pario-ai/costgate/pkg/models"
	"github.com/shopspring/decimal"
)

// DefaultModel is the entry used for model identifiers with no pricing.
const DefaultModel = "gpt-5"

var thousand = decimal.NewFromInt(1000)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func dp(s string) *decimal.Decimal {
	v := d(s)
	return &v
}

// builtin prices are USD per 1K tokens.
var builtin = []models.ModelPricing{
	{Model: "gpt-5", Input: d("0.00125"), Output: d("0.01"), CachedInput: dp("0.000125")},
	{Model: "gpt-5-mini", Input: d("0.00025"), Output: d("0.002"), CachedInput: dp("0.000025")},
	{Model: "o3", Input: d("0.002"), Output: d("0.008"), CachedInput: dp("0.0005")},
	{Model: "o4-mini", Input: d("0.0011"), Output: d("0.0044"), CachedInput: dp("0.000275")},
	{Model: "gpt-4.1", Input: d("0.002"), Output: d("0.008"), CachedInput: dp("0.0005")},
	{Model: "gpt-4.1-mini", Input: d("0.0004"), Output: d("0.0016"), CachedInput: dp("0.0001")},
	{Model: "gpt-4o", Input: d("0.0025"), Output: d("0.01"), CachedInput: dp("0.00125")},
	{Model: "gpt-4o-mini", Input: d("0.00015"), Output: d("0.0006"), CachedInput: dp("0.000075")},
}

// Table maps model identifiers to prices.
type Table struct {
	entries      map[string]models.ModelPricing
	defaultModel string
}

// New returns the built-in table with overrides applied on top. An override
// for an existing model replaces that entry.
func New(overrides []models.ModelPricing) *Table {
	t := &Table{
		entries:      make(map[string]models.ModelPricing, len(builtin)+len(overrides)),
		defaultModel: DefaultModel,
	}
	for _, p := range builtin {
		t.entries[p.Model] = p
	}
	for _, p := range overrides {
		if p.Model == "" {
			continue
		}
		t.entries[p.Model] = p
	}
	return t
}

// SetDefault designates the entry used for unknown models. It is a no-op for
// models without an entry.
func (t *Table) SetDefault(model string) {
	if _, ok := t.entries[model]; ok {
		t.defaultModel = model
	}
}

// Lookup returns the pricing for model and whether a specific entry matched.
// Unknown models get the default entry.
func (t *Table) Lookup(model string) (models.ModelPricing, bool) {
	if p, ok := t.entries[t.normalize(model)]; ok {
		return p, true
	}
	return t.entries[t.defaultModel], false
}

// For returns the pricing for model, falling back to the default entry.
func (t *Table) For(model string) models.ModelPricing {
	p, _ := t.Lookup(model)
	return p
}

// Cost prices a usage record at model's rates. Cached input tokens are billed
// at the cached rate, reasoning tokens additionally at the reasoning rate.
func (t *Table) Cost(model string, u models.TokenUsage) decimal.Decimal {
	p := t.For(model)
	cached := u.CachedTokens
	if cached > u.InputTokens {
		cached = u.InputTokens
	}
	uncached := u.InputTokens - cached

	cost := decimal.NewFromInt(int64(uncached)).Mul(p.Input)
	cost = cost.Add(decimal.NewFromInt(int64(cached)).Mul(p.CachedInputRate()))
	cost = cost.Add(decimal.NewFromInt(int64(u.OutputTokens)).Mul(p.Output))
	cost = cost.Add(decimal.NewFromInt(int64(u.ReasoningTokens)).Mul(p.ReasoningRate()))
	return cost.Div(thousand)
}

// Price returns u with EstimatedCost filled in for model.
func (t *Table) Price(model string, u models.TokenUsage) models.TokenUsage {
	u.EstimatedCost = t.Cost(model, u)
	return u
}

// normalize strips provider date suffixes such as "-2024-08-06" or
// "-20250514" when the shorter name has an entry.
func (t *Table) normalize(raw string) string {
	if _, ok := t.entries[raw]; ok {
		return raw
	}
	parts := strings.Split(raw, "-")
	// gpt-4o-2024-08-06
	if len(parts) > 3 && isAllDigits(parts[len(parts)-1]) && isAllDigits(parts[len(parts)-2]) && len(parts[len(parts)-3]) == 4 && isAllDigits(parts[len(parts)-3]) {
		candidate := strings.Join(parts[:len(parts)-3], "-")
		if _, ok := t.entries[candidate]; ok {
			return candidate
		}
	}
	// o3-20250416
	if len(parts) >= 2 {
		last := parts[len(parts)-1]
		if isAllDigits(last) && len(last) >= 8 {
			candidate := strings.Join(parts[:len(parts)-1], "-")
			if _, ok := t.entries[candidate]; ok {
				return candidate
			}
		}
	}
	return raw
}

func isAllDigits(s string) bool {
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return len(s) > 0
}
