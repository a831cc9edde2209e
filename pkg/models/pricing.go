package models

import "github.com/shopspring/decimal"

// ModelPricing defines per-1K token costs for a model.
// A nil CachedInput or Reasoning rate falls back to Input and Output respectively.
type ModelPricing struct {
	Model       string           `json:"model" yaml:"model"`
	Input       decimal.Decimal  `json:"input_per_1k" yaml:"input_per_1k"`
	Output      decimal.Decimal  `json:"output_per_1k" yaml:"output_per_1k"`
	CachedInput *decimal.Decimal `json:"cached_input_per_1k,omitempty" yaml:"cached_input_per_1k,omitempty"`
	Reasoning   *decimal.Decimal `json:"reasoning_per_1k,omitempty" yaml:"reasoning_per_1k,omitempty"`
}

// ReasoningRate returns the per-1K reasoning rate.
func (p ModelPricing) ReasoningRate() decimal.Decimal {
	if p.Reasoning != nil {
		return *p.Reasoning
	}
	return p.Output
}

// CachedInputRate returns the per-1K cached-input rate.
func (p ModelPricing) CachedInputRate() decimal.Decimal {
	if p.CachedInput != nil {
		return *p.CachedInput
	}
	return p.Input
}
