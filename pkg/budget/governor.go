// Package budget turns spend ceilings into token ceilings and allow/confirm/block
// decisions for prospective and actual spend.
package budget

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/pario-ai/costgate/pkg/ledger"
	"github.com/pario-ai/costgate/pkg/metrics"
	"github.com/pario-ai/costgate/pkg/models"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

var (
	// ErrNeedsConfirmation is returned when spend may proceed only with explicit confirmation.
	ErrNeedsConfirmation = errors.New("spend needs confirmation")
	// ErrBudgetBlocked is returned when spend is refused regardless of confirmation.
	ErrBudgetBlocked = errors.New("budget blocked")
)

// RunawayMultiplier times the per-task ceiling is the hard block threshold.
const RunawayMultiplier = 10

var (
	headroom      = decimal.RequireFromString("0.1")
	warnFraction  = decimal.RequireFromString("0.8")
	hundred       = decimal.NewFromInt(100)
	runawayFactor = decimal.NewFromInt(RunawayMultiplier)
)

// Spend describes a prospective or actual charge.
type Spend struct {
	TaskID    string
	Usage     models.TokenUsage
	Confirmed bool
	// TaskLimit overrides the per-task ceiling for this charge.
	TaskLimit *decimal.Decimal
}

// Decision is the outcome of a governor check.
type Decision struct {
	Allowed           bool
	NeedsConfirmation bool
	Blocked           bool
	Reason            string
	Warning           string
	Shortfall         decimal.Decimal
	RemainingDaily    *decimal.Decimal
	RemainingTask     *decimal.Decimal
}

// Err returns the sentinel matching the decision, wrapped with its reason.
func (d Decision) Err() error {
	switch {
	case d.Blocked:
		return fmt.Errorf("%w: %s", ErrBudgetBlocked, d.Reason)
	case d.NeedsConfirmation:
		return fmt.Errorf("%w: %s", ErrNeedsConfirmation, d.Reason)
	}
	return nil
}

func (d Decision) verdict() string {
	switch {
	case d.Blocked:
		return "blocked"
	case d.NeedsConfirmation:
		return "needs_confirmation"
	}
	return "allowed"
}

// Governor evaluates spend against the daily and per-task ceilings held in the
// ledger. Check-and-record is serialized so two charges cannot both pass one check.
type Governor struct {
	mu               sync.Mutex
	ledger           *ledger.Ledger
	limits           models.CostLimits
	budgetMultiplier decimal.Decimal
	logger           *zap.Logger
}

// NewGovernor creates a Governor. Limits persisted in the ledger take
// precedence over defaults, field by field.
func NewGovernor(l *ledger.Ledger, defaults models.CostLimits, budgetMultiplier int, logger *zap.Logger) *Governor {
	if budgetMultiplier <= 0 {
		budgetMultiplier = RunawayMultiplier
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	g := &Governor{
		ledger:           l,
		limits:           defaults.Merge(l.Limits()),
		budgetMultiplier: decimal.NewFromInt(int64(budgetMultiplier)),
		logger:           logger,
	}
	return g
}

// Limits returns the current ceilings.
func (g *Governor) Limits() models.CostLimits {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.limits
}

// UpdateLimits merges the non-nil fields of partial into the ceilings and
// persists the result.
func (g *Governor) UpdateLimits(partial models.CostLimits) models.CostLimits {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.limits = g.limits.Merge(partial)
	g.ledger.SetLimits(g.limits)
	g.logger.Info("limits updated",
		zap.Stringp("daily", decString(g.limits.Daily)),
		zap.Stringp("per_task", decString(g.limits.PerTask)))
	return g.limits
}

// BeginTask marks taskID as the ledger's active task.
func (g *Governor) BeginTask(taskID string) {
	g.ledger.SetActiveTask(taskID)
}

// RemainingDaily returns the unspent daily budget, or nil without a daily ceiling.
func (g *Governor) RemainingDaily() *decimal.Decimal {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.remainingDailyLocked()
}

func (g *Governor) remainingDailyLocked() *decimal.Decimal {
	if g.limits.Daily == nil {
		return nil
	}
	r := nonNegative(g.limits.Daily.Sub(g.ledger.Today()))
	return &r
}

// Preflight evaluates s without recording anything.
func (g *Governor) Preflight(s Spend) Decision {
	g.mu.Lock()
	defer g.mu.Unlock()
	d := g.evaluateLocked(s)
	metrics.GovernorDecisionsTotal.WithLabelValues("preflight", d.verdict()).Inc()
	return d
}

// CheckAndRecord evaluates s and, when allowed, records it in the ledger
// before any other check can observe the old totals.
func (g *Governor) CheckAndRecord(s Spend) Decision {
	g.mu.Lock()
	defer g.mu.Unlock()
	d := g.evaluateLocked(s)
	metrics.GovernorDecisionsTotal.WithLabelValues("record", d.verdict()).Inc()
	if d.Allowed {
		g.ledger.RecordUsage(s.TaskID, s.Usage)
		d.RemainingDaily = g.remainingDailyLocked()
		d.RemainingTask = g.remainingTaskLocked(s.TaskID, s.TaskLimit)
	}
	return d
}

// RecordOverrun records spend that was incurred upstream even though the
// post-call check refused it.
func (g *Governor) RecordOverrun(taskID string, usage models.TokenUsage) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.ledger.RecordUsage(taskID, usage)
	g.logger.Warn("recorded spend refused by post-call check",
		zap.String("task_id", taskID),
		zap.String("cost", usage.EstimatedCost.String()))
}

func (g *Governor) remainingTaskLocked(taskID string, override *decimal.Decimal) *decimal.Decimal {
	limit := g.limits.PerTask
	if override != nil {
		limit = override
	}
	if limit == nil {
		return nil
	}
	r := nonNegative(limit.Sub(g.ledger.TaskTotal(taskID)))
	return &r
}

func (g *Governor) evaluateLocked(s Spend) Decision {
	cost := s.Usage.EstimatedCost
	taskLimit := g.limits.PerTask
	if s.TaskLimit != nil {
		taskLimit = s.TaskLimit
	}
	dailySpent := g.ledger.Today()
	taskSpent := g.ledger.TaskTotal(s.TaskID)

	d := Decision{
		RemainingDaily: g.remainingDailyLocked(),
		RemainingTask:  g.remainingTaskLocked(s.TaskID, s.TaskLimit),
	}

	taskProjected := taskSpent.Add(cost)
	if taskLimit != nil && taskProjected.GreaterThan(taskLimit.Mul(runawayFactor)) {
		d.Blocked = true
		d.Reason = fmt.Sprintf(
			"Extremely high task spending: task %s would reach %s, more than %dx the per-task limit of %s",
			s.TaskID, usd(taskProjected), RunawayMultiplier, usd(*taskLimit))
		return d
	}

	if daily := g.limits.Daily; daily != nil {
		remaining := *d.RemainingDaily
		if remaining.LessThanOrEqual(daily.Mul(headroom)) || cost.GreaterThan(remaining) {
			if !s.Confirmed {
				d.NeedsConfirmation = true
				d.Shortfall = nonNegative(cost.Sub(remaining))
				d.Reason = fmt.Sprintf(
					"Daily budget nearly exhausted: %s remaining of %s, this request is estimated at %s. Confirm to proceed.",
					usd(remaining), usd(*daily), usd(cost))
				if d.Shortfall.IsPositive() {
					d.Reason += fmt.Sprintf(" It exceeds the remaining budget by %s.", usd(d.Shortfall))
				}
				return d
			}
		}
	}

	var warnings []string
	if daily := g.limits.Daily; daily != nil {
		if w := thresholdWarning("Daily", dailySpent.Add(cost), *daily); w != "" {
			warnings = append(warnings, w)
		}
	}
	if taskLimit != nil {
		if w := thresholdWarning("Task", taskProjected, *taskLimit); w != "" {
			warnings = append(warnings, w)
		}
	}
	d.Warning = strings.Join(warnings, " ")
	d.Allowed = true
	return d
}

// CheckConversation evaluates a turn against a conversation's own budget. It
// is layered on top of the daily and task checks, not a replacement.
func (g *Governor) CheckConversation(meta models.ConversationMetadata, cost decimal.Decimal, confirmed bool) Decision {
	remaining := meta.RemainingBudget()
	if remaining == nil {
		return Decision{Allowed: true}
	}
	left := nonNegative(*remaining)
	d := Decision{RemainingTask: &left}

	switch {
	case cost.GreaterThan(left.Mul(g.budgetMultiplier)):
		d.Blocked = true
		d.Reason = fmt.Sprintf(
			"Conversation budget exceeded: this turn is estimated at %s, more than %sx the remaining %s",
			usd(cost), g.budgetMultiplier.String(), usd(left))
	case cost.GreaterThan(left) && !confirmed:
		d.NeedsConfirmation = true
		d.Shortfall = cost.Sub(left)
		d.Reason = fmt.Sprintf(
			"Conversation budget nearly exhausted: %s remaining, this turn is estimated at %s. Confirm to proceed.",
			usd(left), usd(cost))
	default:
		d.Allowed = true
	}
	metrics.GovernorDecisionsTotal.WithLabelValues("conversation", d.verdict()).Inc()
	return d
}

// Report returns the ledger report for period joined with limits and headroom.
func (g *Governor) Report(period models.ReportPeriod) models.CostReport {
	g.mu.Lock()
	defer g.mu.Unlock()
	r := g.ledger.Report(period)
	r.Limits = g.limits
	r.RemainingDaily = g.remainingDailyLocked()
	if r.TaskID != "" {
		r.RemainingTask = g.remainingTaskLocked(r.TaskID, nil)
	}
	return r
}

func thresholdWarning(scope string, spent, limit decimal.Decimal) string {
	if !limit.IsPositive() {
		return ""
	}
	pct := spent.Div(limit).Mul(hundred).Round(0)
	switch {
	case spent.GreaterThanOrEqual(limit):
		return fmt.Sprintf("%s budget exceeded: %s of %s (%s%%).", scope, usd(spent), usd(limit), pct)
	case spent.GreaterThanOrEqual(limit.Mul(warnFraction)):
		return fmt.Sprintf("%s budget at %s%%: %s of %s.", scope, pct, usd(spent), usd(limit))
	}
	return ""
}

func nonNegative(d decimal.Decimal) decimal.Decimal {
	if d.IsNegative() {
		return decimal.Zero
	}
	return d
}

var cent = decimal.RequireFromString("0.01")

// usd formats an amount in dollars, keeping sub-cent precision for small amounts.
func usd(d decimal.Decimal) string {
	if !d.IsZero() && d.Abs().LessThan(cent) {
		return "$" + d.StringFixed(4)
	}
	return "$" + d.StringFixed(2)
}

func decString(d *decimal.Decimal) *string {
	if d == nil {
		return nil
	}
	s := d.String()
	return &s
}
