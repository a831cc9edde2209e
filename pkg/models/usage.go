package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// TokenUsage is the canonical usage record produced for every model call,
// or projected before one.
type TokenUsage struct {
	InputTokens     int             `json:"input_tokens"`
	OutputTokens    int             `json:"output_tokens"`
	ReasoningTokens int             `json:"reasoning_tokens,omitempty"`
	CachedTokens    int             `json:"cached_tokens,omitempty"`
	TotalTokens     int             `json:"total_tokens"`
	EstimatedCost   decimal.Decimal `json:"estimated_cost"`
}

// NewTokenUsage builds a TokenUsage with TotalTokens derived from input and output.
// Reasoning tokens are priced separately and are not added to the total.
func NewTokenUsage(input, output, reasoning, cached int) TokenUsage {
	return TokenUsage{
		InputTokens:     input,
		OutputTokens:    output,
		ReasoningTokens: reasoning,
		CachedTokens:    cached,
		TotalTokens:     input + output,
	}
}

// Add returns the element-wise sum of two usages.
func (u TokenUsage) Add(o TokenUsage) TokenUsage {
	return TokenUsage{
		InputTokens:     u.InputTokens + o.InputTokens,
		OutputTokens:    u.OutputTokens + o.OutputTokens,
		ReasoningTokens: u.ReasoningTokens + o.ReasoningTokens,
		CachedTokens:    u.CachedTokens + o.CachedTokens,
		TotalTokens:     u.TotalTokens + o.TotalTokens,
		EstimatedCost:   u.EstimatedCost.Add(o.EstimatedCost),
	}
}

// UsageRecord is one immutable entry in the spend ledger.
type UsageRecord struct {
	Timestamp       time.Time       `json:"timestamp"`
	TaskID          string          `json:"task_id"`
	Cost            decimal.Decimal `json:"cost"`
	InputTokens     int             `json:"input_tokens"`
	OutputTokens    int             `json:"output_tokens"`
	ReasoningTokens int             `json:"reasoning_tokens"`
}

// DayBreakdown aggregates ledger records for one calendar day.
type DayBreakdown struct {
	Date            string          `json:"date"`
	Cost            decimal.Decimal `json:"cost"`
	Calls           int             `json:"calls"`
	InputTokens     int             `json:"input_tokens"`
	OutputTokens    int             `json:"output_tokens"`
	ReasoningTokens int             `json:"reasoning_tokens"`
}

// ReportPeriod selects the window of a cost report.
type ReportPeriod string

const (
	PeriodCurrentTask ReportPeriod = "current-task"
	PeriodToday       ReportPeriod = "today"
	PeriodWeek        ReportPeriod = "week"
	PeriodMonth       ReportPeriod = "month"
)

// ParseReportPeriod validates a user-supplied period name.
func ParseReportPeriod(s string) (ReportPeriod, bool) {
	switch p := ReportPeriod(s); p {
	case PeriodCurrentTask, PeriodToday, PeriodWeek, PeriodMonth:
		return p, true
	default:
		return "", false
	}
}

// CostReport is the spend summary for a period.
type CostReport struct {
	Period         ReportPeriod     `json:"period"`
	Label          string           `json:"label"`
	TaskID         string           `json:"task_id,omitempty"`
	TotalCost      decimal.Decimal  `json:"total_cost"`
	Days           []DayBreakdown   `json:"days"`
	Limits         CostLimits       `json:"limits"`
	RemainingDaily *decimal.Decimal `json:"remaining_daily,omitempty"`
	RemainingTask  *decimal.Decimal `json:"remaining_task,omitempty"`
}
