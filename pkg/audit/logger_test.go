package audit

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/pario-ai/costgate/pkg/models"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

func tempCfg(t *testing.T) models.AuditConfig {
	t.Helper()
	return models.AuditConfig{
		Enabled:       true,
		DBPath:        filepath.Join(t.TempDir(), "audit_test.db"),
		RetentionDays: 90,
	}
}

func mustNew(t *testing.T, cfg models.AuditConfig) *Logger {
	t.Helper()
	l, err := New(cfg, zap.NewNop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = l.Close() })
	return l
}

func sampleAttempt() models.CallAttempt {
	u := models.NewTokenUsage(1000, 500, 100, 0)
	u.EstimatedCost = decimal.RequireFromString("0.01125")
	return models.CallAttempt{
		TaskID:    "task-1",
		Model:     "gpt-5",
		Provider:  "openai",
		Tier:      models.TierPrimary,
		Attempt:   0,
		Outcome:   models.OutcomeSuccess,
		Usage:     u,
		LatencyMs: 150,
		CreatedAt: time.Now(),
	}
}

func TestLogAndQuery(t *testing.T) {
	l := mustNew(t, tempCfg(t))
	ctx := context.Background()

	if err := l.Log(ctx, sampleAttempt()); err != nil {
		t.Fatalf("Log: %v", err)
	}

	attempts, err := l.Query(ctx, models.AuditQueryOpts{Model: "gpt-5"})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(attempts) != 1 {
		t.Fatalf("expected 1 attempt, got %d", len(attempts))
	}
	got := attempts[0]
	if got.TaskID != "task-1" || got.Tier != models.TierPrimary || got.Outcome != models.OutcomeSuccess {
		t.Errorf("unexpected attempt: %+v", got)
	}
	if got.Usage.ReasoningTokens != 100 || got.Usage.TotalTokens != 1500 {
		t.Errorf("unexpected usage: %+v", got.Usage)
	}
	if !got.Usage.EstimatedCost.Equal(decimal.RequireFromString("0.01125")) {
		t.Errorf("expected cost 0.01125, got %s", got.Usage.EstimatedCost)
	}
}

func TestQueryFilters(t *testing.T) {
	l := mustNew(t, tempCfg(t))
	ctx := context.Background()

	failed := sampleAttempt()
	failed.TaskID = "task-2"
	failed.Model = "gpt-4.1"
	failed.Tier = models.TierFallback
	failed.Outcome = models.OutcomeTransient
	failed.StatusCode = 503
	failed.ErrorMessage = "overloaded"
	failed.Usage = models.TokenUsage{}

	_ = l.Log(ctx, sampleAttempt())
	_ = l.Log(ctx, failed)

	byTask, err := l.Query(ctx, models.AuditQueryOpts{TaskID: "task-2"})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(byTask) != 1 || byTask[0].StatusCode != 503 || byTask[0].ErrorMessage != "overloaded" {
		t.Fatalf("unexpected task query result: %+v", byTask)
	}

	byOutcome, err := l.Query(ctx, models.AuditQueryOpts{Outcome: models.OutcomeTransient})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(byOutcome) != 1 || byOutcome[0].Model != "gpt-4.1" {
		t.Fatalf("unexpected outcome query result: %+v", byOutcome)
	}

	limited, err := l.Query(ctx, models.AuditQueryOpts{Limit: 1})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(limited) != 1 {
		t.Fatalf("expected limit 1, got %d", len(limited))
	}
}

func TestOnAttemptLogs(t *testing.T) {
	l := mustNew(t, tempCfg(t))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	l.OnAttempt(ctx, sampleAttempt())

	attempts, err := l.Query(context.Background(), models.AuditQueryOpts{})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(attempts) != 1 {
		t.Fatalf("expected attempt logged despite cancelled context, got %d", len(attempts))
	}
}

func TestCleanup(t *testing.T) {
	cfg := tempCfg(t)
	cfg.RetentionDays = 0 // everything is old
	l := mustNew(t, cfg)
	ctx := context.Background()

	a := sampleAttempt()
	a.CreatedAt = time.Now().AddDate(0, 0, -1)
	_ = l.Log(ctx, a)

	deleted, err := l.Cleanup(ctx)
	if err != nil {
		t.Fatalf("Cleanup: %v", err)
	}
	if deleted != 1 {
		t.Errorf("expected 1 deleted, got %d", deleted)
	}
}

func TestRetentionPurgeOnOpen(t *testing.T) {
	cfg := tempCfg(t)
	cfg.RetentionDays = 30

	l, err := New(cfg, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	old := sampleAttempt()
	old.CreatedAt = time.Now().AddDate(0, 0, -40)
	_ = l.Log(context.Background(), old)
	_ = l.Log(context.Background(), sampleAttempt())
	_ = l.Close()

	reopened := mustNew(t, cfg)
	attempts, err := reopened.Query(context.Background(), models.AuditQueryOpts{})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(attempts) != 1 {
		t.Fatalf("expected only the recent attempt, got %d", len(attempts))
	}
}

func TestStats(t *testing.T) {
	l := mustNew(t, tempCfg(t))
	ctx := context.Background()

	_ = l.Log(ctx, sampleAttempt())
	a2 := sampleAttempt()
	a2.Attempt = 1
	_ = l.Log(ctx, a2)

	stats, err := l.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if len(stats) == 0 {
		t.Fatal("expected stats")
	}
	if stats[0].Count != 2 || stats[0].Outcome != string(models.OutcomeSuccess) {
		t.Errorf("expected 2 successes, got %+v", stats[0])
	}
}

func TestNilLoggerSafe(t *testing.T) {
	var l *Logger
	if err := l.Log(context.Background(), sampleAttempt()); err != nil {
		t.Errorf("nil logger should be safe: %v", err)
	}
}

func TestNewInvalidPath(t *testing.T) {
	cfg := models.AuditConfig{
		Enabled: true,
		DBPath:  filepath.Join(os.TempDir(), "nonexistent", "deep", "path", "audit.db"),
	}
	_, err := New(cfg, nil)
	if err == nil {
		t.Error("expected error for invalid path")
	}
	if errors.Is(err, context.Canceled) {
		t.Errorf("unexpected error kind: %v", err)
	}
}
