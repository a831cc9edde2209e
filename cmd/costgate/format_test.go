package main

import (
	"strings"
	"testing"
	"time"

	"github.com/pario-ai/costgate/pkg/models"
	"github.com/pario-ai/costgate/pkg/pipeline"
	"github.com/shopspring/decimal"
)

func TestFormatReport(t *testing.T) {
	daily := decimal.RequireFromString("10")
	remaining := decimal.RequireFromString("9.5")
	r := models.CostReport{
		Period:    models.PeriodWeek,
		Label:     "Last 7 days",
		TotalCost: decimal.RequireFromString("0.5"),
		Days: []models.DayBreakdown{
			{Date: "2026-05-01", Cost: decimal.RequireFromString("0.5"), Calls: 3, InputTokens: 1200, OutputTokens: 400},
		},
		Limits:         models.CostLimits{Daily: &daily},
		RemainingDaily: &remaining,
	}

	out := formatReport(r)
	for _, want := range []string{"Last 7 days: $0.5000", "2026-05-01", "Daily limit:    $10.0000", "Per-task limit: unlimited", "Remaining today: $9.5000"} {
		if !strings.Contains(out, want) {
			t.Errorf("report missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "Remaining for task") {
		t.Errorf("task line should only appear for task reports:\n%s", out)
	}
}

func TestFormatUsage(t *testing.T) {
	left := decimal.RequireFromString("1.25")
	u := models.NewTokenUsage(100, 40, 10, 0)
	u.EstimatedCost = decimal.RequireFromString("0.0012")
	res := &pipeline.Result{
		Status:         pipeline.StatusOK,
		Usage:          u,
		TaskID:         "task-9",
		Model:          "gpt-5",
		Tier:           models.TierPrimary,
		RemainingDaily: &left,
	}

	got := formatUsage(res)
	want := "[gpt-5/primary] 100 in / 40 out / 10 reasoning tokens, $0.0012, task task-9, $1.2500 left today"
	if got != want {
		t.Errorf("formatUsage:\n got %q\nwant %q", got, want)
	}
}

func TestFormatAttempts(t *testing.T) {
	if got := formatAttempts(nil); got != "No audit entries found.\n" {
		t.Errorf("unexpected empty output %q", got)
	}
	out := formatAttempts([]models.CallAttempt{{
		TaskID:     "task-1",
		Model:      "gpt-4.1",
		Tier:       models.TierFallback,
		Outcome:    models.OutcomeTransient,
		StatusCode: 503,
		CreatedAt:  time.Date(2026, 5, 1, 8, 30, 0, 0, time.UTC),
	}})
	for _, want := range []string{"task-1", "gpt-4.1", "fallback", "transient", "503", "2026-05-01 08:30:00"} {
		if !strings.Contains(out, want) {
			t.Errorf("attempts missing %q:\n%s", want, out)
		}
	}
}

func TestParseUSD(t *testing.T) {
	if _, err := parseUSD("daily", "-1"); err == nil {
		t.Error("expected negative limit to be rejected")
	}
	if _, err := parseUSD("daily", "abc"); err == nil {
		t.Error("expected garbage to be rejected")
	}
	d, err := parseUSD("daily", "12.5")
	if err != nil || !d.Equal(decimal.RequireFromString("12.5")) {
		t.Errorf("parseUSD = %v, %v", d, err)
	}
}
