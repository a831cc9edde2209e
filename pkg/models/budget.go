package models

import "github.com/shopspring/decimal"

// CostLimits are the process-wide spend ceilings. A nil field means unlimited.
type CostLimits struct {
	Daily   *decimal.Decimal `json:"daily,omitempty" yaml:"daily,omitempty"`
	PerTask *decimal.Decimal `json:"per_task,omitempty" yaml:"per_task,omitempty"`
}

// Merge returns a copy of l with every non-nil field of update applied.
func (l CostLimits) Merge(update CostLimits) CostLimits {
	out := l
	if update.Daily != nil {
		d := *update.Daily
		out.Daily = &d
	}
	if update.PerTask != nil {
		d := *update.PerTask
		out.PerTask = &d
	}
	return out
}

// DecimalPtr is a small helper for building optional currency values.
func DecimalPtr(d decimal.Decimal) *decimal.Decimal {
	return &d
}
