// Package ledger keeps the durable record of money spent on model calls.
package ledger

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/pario-ai/costgate/pkg/metrics"
	"github.com/pario-ai/costgate/pkg/models"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// RetentionDays is how long usage history is kept. Older records are purged on load.
const RetentionDays = 30

const dayLayout = "2006-01-02"

// NoActiveTaskLabel labels a current-task report requested with no task active.
const NoActiveTaskLabel = "No active task"

// snapshot is the persisted JSON document.
type snapshot struct {
	Limits      models.CostLimits          `json:"limits"`
	DailyTotals map[string]decimal.Decimal `json:"daily_totals"`
	TaskTotals  map[string]decimal.Decimal `json:"task_totals"`
	History     []models.UsageRecord       `json:"history"`
	CurrentTask string                     `json:"current_task,omitempty"`
}

// Ledger is the write-through spend ledger. It is safe for concurrent use.
type Ledger struct {
	mu     sync.Mutex
	path   string
	now    func() time.Time
	logger *zap.Logger
	state  snapshot
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

// WithLogger sets the logger used for persistence failures.
func WithLogger(logger *zap.Logger) Option {
	return func(l *Ledger) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// New loads the ledger stored at path. A missing or malformed file yields an
// empty ledger. An empty path keeps the ledger in memory only.
func New(path string, opts ...Option) *Ledger {
	l := &Ledger{
		path:   path,
		now:    time.Now,
		logger: zap.NewNop(),
		state:  emptySnapshot(),
	}
	for _, o := range opts {
		o(l)
	}
	l.load()
	return l
}

func emptySnapshot() snapshot {
	return snapshot{
		DailyTotals: make(map[string]decimal.Decimal),
		TaskTotals:  make(map[string]decimal.Decimal),
	}
}

func (l *Ledger) load() {
	if l.path == "" {
		return
	}
	data, err := os.ReadFile(l.path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			l.logger.Warn("read ledger", zap.String("path", l.path), zap.Error(err))
		}
		return
	}

	s := emptySnapshot()
	if err := json.Unmarshal(data, &s); err != nil {
		l.logger.Warn("ledger file malformed, starting empty", zap.String("path", l.path), zap.Error(err))
		return
	}
	if s.DailyTotals == nil {
		s.DailyTotals = make(map[string]decimal.Decimal)
	}
	if s.TaskTotals == nil {
		s.TaskTotals = make(map[string]decimal.Decimal)
	}
	l.state = s
	l.purge()
	l.logger.Debug("ledger loaded", zap.String("path", l.path), zap.Int("records", len(l.state.History)))
}

// purge drops history and day totals older than the retention window.
func (l *Ledger) purge() {
	cutoff := l.now().UTC().AddDate(0, 0, -RetentionDays)
	cutoffDay := cutoff.Format(dayLayout)

	kept := l.state.History[:0]
	for _, r := range l.state.History {
		if !r.Timestamp.Before(cutoff) {
			kept = append(kept, r)
		}
	}
	l.state.History = kept

	for day := range l.state.DailyTotals {
		if day < cutoffDay {
			delete(l.state.DailyTotals, day)
		}
	}
}

// RecordUsage appends a usage record for taskID and persists the ledger.
func (l *Ledger) RecordUsage(taskID string, usage models.TokenUsage) models.UsageRecord {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now().UTC()
	rec := models.UsageRecord{
		Timestamp:       now,
		TaskID:          taskID,
		Cost:            usage.EstimatedCost,
		InputTokens:     usage.InputTokens,
		OutputTokens:    usage.OutputTokens,
		ReasoningTokens: usage.ReasoningTokens,
	}
	l.state.History = append(l.state.History, rec)

	day := now.Format(dayLayout)
	l.state.DailyTotals[day] = l.state.DailyTotals[day].Add(rec.Cost)
	l.state.TaskTotals[taskID] = l.state.TaskTotals[taskID].Add(rec.Cost)

	metrics.DailySpendUSD.Set(l.state.DailyTotals[day].InexactFloat64())
	l.persistLocked()
	return rec
}

// DailyTotal returns the spend recorded on the UTC day containing date.
func (l *Ledger) DailyTotal(date time.Time) decimal.Decimal {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state.DailyTotals[date.UTC().Format(dayLayout)]
}

// Today returns the spend recorded on the current UTC day.
func (l *Ledger) Today() decimal.Decimal {
	return l.DailyTotal(l.now())
}

// TaskTotal returns the spend recorded for taskID.
func (l *Ledger) TaskTotal(taskID string) decimal.Decimal {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state.TaskTotals[taskID]
}

// Limits returns the persisted spend ceilings.
func (l *Ledger) Limits() models.CostLimits {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state.Limits
}

// SetLimits replaces the persisted spend ceilings.
func (l *Ledger) SetLimits(limits models.CostLimits) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.state.Limits = limits
	l.persistLocked()
}

// ActiveTask returns the id of the task reported by the current-task period.
func (l *Ledger) ActiveTask() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state.CurrentTask
}

// SetActiveTask marks taskID as the current task.
func (l *Ledger) SetActiveTask(taskID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state.CurrentTask == taskID {
		return
	}
	l.state.CurrentTask = taskID
	l.persistLocked()
}

// History returns a copy of the retained usage records in recording order.
func (l *Ledger) History() []models.UsageRecord {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]models.UsageRecord, len(l.state.History))
	copy(out, l.state.History)
	return out
}

// Report aggregates spend for period. Limits and remaining headroom are left
// for the caller to fill in.
func (l *Ledger) Report(period models.ReportPeriod) models.CostReport {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now().UTC()
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	report := models.CostReport{Period: period, Days: []models.DayBreakdown{}}

	var keep func(models.UsageRecord) bool
	switch period {
	case models.PeriodCurrentTask:
		task := l.state.CurrentTask
		if task == "" {
			report.Label = NoActiveTaskLabel
			return report
		}
		report.TaskID = task
		report.Label = "Task " + task
		keep = func(r models.UsageRecord) bool { return r.TaskID == task }
	case models.PeriodWeek:
		start := midnight.AddDate(0, 0, -6)
		report.Label = "Last 7 days"
		keep = func(r models.UsageRecord) bool { return !r.Timestamp.Before(start) }
	case models.PeriodMonth:
		start := midnight.AddDate(0, 0, -(RetentionDays - 1))
		report.Label = "Last 30 days"
		keep = func(r models.UsageRecord) bool { return !r.Timestamp.Before(start) }
	default:
		report.Period = models.PeriodToday
		report.Label = "Today (" + midnight.Format(dayLayout) + ")"
		keep = func(r models.UsageRecord) bool { return !r.Timestamp.Before(midnight) }
	}

	byDay := make(map[string]*models.DayBreakdown)
	for _, r := range l.state.History {
		if !keep(r) {
			continue
		}
		day := r.Timestamp.UTC().Format(dayLayout)
		b, ok := byDay[day]
		if !ok {
			b = &models.DayBreakdown{Date: day}
			byDay[day] = b
		}
		b.Cost = b.Cost.Add(r.Cost)
		b.Calls++
		b.InputTokens += r.InputTokens
		b.OutputTokens += r.OutputTokens
		b.ReasoningTokens += r.ReasoningTokens
		report.TotalCost = report.TotalCost.Add(r.Cost)
	}

	for _, b := range byDay {
		report.Days = append(report.Days, *b)
	}
	sort.Slice(report.Days, func(i, j int) bool { return report.Days[i].Date < report.Days[j].Date })
	return report
}

// Flush writes the current state to disk and reports any failure.
func (l *Ledger) Flush() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.writeLocked()
}

func (l *Ledger) persistLocked() {
	if err := l.writeLocked(); err != nil {
		l.logger.Error("persist ledger", zap.String("path", l.path), zap.Error(err))
	}
}

// writeLocked replaces the ledger file atomically via a temp file and rename.
func (l *Ledger) writeLocked() error {
	if l.path == "" {
		return nil
	}
	data, err := json.MarshalIndent(l.state, "", "  ")
	if err != nil {
		return fmt.Errorf("encode ledger: %w", err)
	}

	dir := filepath.Dir(l.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create ledger dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".ledger-*.json")
	if err != nil {
		return fmt.Errorf("create temp ledger: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write temp ledger: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp ledger: %w", err)
	}
	if err := os.Rename(tmpName, l.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replace ledger: %w", err)
	}
	return nil
}
