package main

import (
	"fmt"
	"strings"

	"github.com/pario-ai/costgate/pkg/models"
	"github.com/pario-ai/costgate/pkg/pipeline"
	"github.com/shopspring/decimal"
)

func money(d decimal.Decimal) string {
	return "$" + d.StringFixed(4)
}

func optMoney(d *decimal.Decimal) string {
	if d == nil {
		return "unlimited"
	}
	return money(*d)
}

func formatUsage(res *pipeline.Result) string {
	u := res.Usage
	s := fmt.Sprintf("[%s/%s] %d in / %d out / %d reasoning tokens, %s, task %s",
		res.Model, res.Tier, u.InputTokens, u.OutputTokens, u.ReasoningTokens, money(u.EstimatedCost), res.TaskID)
	if res.RemainingDaily != nil {
		s += ", " + money(*res.RemainingDaily) + " left today"
	}
	if res.RemainingConversation != nil {
		s += ", " + money(*res.RemainingConversation) + " left in conversation"
	}
	return s
}

func formatLimits(l models.CostLimits) string {
	return fmt.Sprintf("Daily limit:    %s\nPer-task limit: %s\n", optMoney(l.Daily), optMoney(l.PerTask))
}

func formatReport(r models.CostReport) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s: %s\n", r.Label, money(r.TotalCost))
	if len(r.Days) > 0 {
		fmt.Fprintf(&b, "%-12s %6s %10s %10s %10s %12s\n", "DAY", "CALLS", "INPUT", "OUTPUT", "REASONING", "COST")
		b.WriteString(strings.Repeat("-", 65) + "\n")
		for _, d := range r.Days {
			fmt.Fprintf(&b, "%-12s %6d %10d %10d %10d %12s\n",
				d.Date, d.Calls, d.InputTokens, d.OutputTokens, d.ReasoningTokens, money(d.Cost))
		}
	}
	b.WriteString(formatLimits(r.Limits))
	fmt.Fprintf(&b, "Remaining today: %s\n", optMoney(r.RemainingDaily))
	if r.TaskID != "" {
		fmt.Fprintf(&b, "Remaining for task: %s\n", optMoney(r.RemainingTask))
	}
	return b.String()
}

func formatAttempts(attempts []models.CallAttempt) string {
	if len(attempts) == 0 {
		return "No audit entries found.\n"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%-36s %-16s %-8s %3s %-17s %6s %8s %10s %-19s\n",
		"TASK", "MODEL", "TIER", "TRY", "OUTCOME", "STATUS", "LATENCY", "COST", "TIME")
	b.WriteString(strings.Repeat("-", 133) + "\n")
	for _, a := range attempts {
		fmt.Fprintf(&b, "%-36s %-16s %-8s %3d %-17s %6d %6dms %10s %-19s\n",
			a.TaskID, a.Model, a.Tier, a.Attempt, a.Outcome, a.StatusCode,
			a.LatencyMs, money(a.Usage.EstimatedCost),
			a.CreatedAt.Format("2006-01-02 15:04:05"))
	}
	return b.String()
}

func formatAuditStats(stats []models.AuditStat) string {
	if len(stats) == 0 {
		return "No audit stats found.\n"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%-25s %-12s %-17s %8s\n", "MODEL", "DAY", "OUTCOME", "COUNT")
	b.WriteString(strings.Repeat("-", 65) + "\n")
	for _, s := range stats {
		fmt.Fprintf(&b, "%-25s %-12s %-17s %8d\n", s.Model, s.Day, s.Outcome, s.Count)
	}
	return b.String()
}
