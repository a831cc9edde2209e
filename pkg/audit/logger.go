// Package audit keeps a SQLite log of every upstream model attempt.
package audit

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/pario-ai/costgate/pkg/models"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

// Logger writes and queries call attempts in a dedicated SQLite database.
type Logger struct {
	db     *sql.DB
	cfg    models.AuditConfig
	logger *zap.Logger
}

// New opens the audit SQLite database, creates the schema and purges entries
// older than the retention period.
func New(cfg models.AuditConfig, logger *zap.Logger) (*Logger, error) {
	db, err := sql.Open("sqlite", cfg.DBPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open audit db: %w", err)
	}

	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate audit db: %w", err)
	}

	if logger == nil {
		logger = zap.NewNop()
	}
	l := &Logger{db: db, cfg: cfg, logger: logger}

	if cfg.RetentionDays > 0 {
		if n, err := l.Cleanup(context.Background()); err != nil {
			logger.Warn("audit retention purge failed", zap.Error(err))
		} else if n > 0 {
			logger.Info("audit retention purge", zap.Int64("deleted", n))
		}
	}
	return l, nil
}

func migrate(db *sql.DB) error {
	_, err := db.Exec(`CREATE TABLE IF NOT EXISTS call_attempts (
		id               INTEGER PRIMARY KEY AUTOINCREMENT,
		task_id          TEXT NOT NULL,
		model            TEXT NOT NULL,
		provider         TEXT,
		tier             TEXT NOT NULL,
		attempt          INTEGER NOT NULL,
		outcome          TEXT NOT NULL,
		status_code      INTEGER,
		error_message    TEXT,
		input_tokens     INTEGER,
		output_tokens    INTEGER,
		reasoning_tokens INTEGER,
		cached_tokens    INTEGER,
		cost             TEXT,
		latency_ms       INTEGER,
		created_at       DATETIME NOT NULL DEFAULT (datetime('now'))
	)`)
	if err != nil {
		return err
	}
	_, err = db.Exec(`CREATE INDEX IF NOT EXISTS idx_attempts_model ON call_attempts(model)`)
	if err != nil {
		return err
	}
	_, err = db.Exec(`CREATE INDEX IF NOT EXISTS idx_attempts_created ON call_attempts(created_at)`)
	if err != nil {
		return err
	}
	_, err = db.Exec(`CREATE INDEX IF NOT EXISTS idx_attempts_task ON call_attempts(task_id)`)
	return err
}

// Log inserts a call attempt.
func (l *Logger) Log(ctx context.Context, a models.CallAttempt) error {
	if l == nil || l.db == nil {
		return nil
	}
	createdAt := a.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err := l.db.ExecContext(ctx,
		`INSERT INTO call_attempts
		(task_id, model, provider, tier, attempt, outcome, status_code, error_message,
		 input_tokens, output_tokens, reasoning_tokens, cached_tokens, cost, latency_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.TaskID, a.Model, a.Provider, string(a.Tier), a.Attempt, string(a.Outcome),
		a.StatusCode, a.ErrorMessage,
		a.Usage.InputTokens, a.Usage.OutputTokens, a.Usage.ReasoningTokens, a.Usage.CachedTokens,
		a.Usage.EstimatedCost.String(), a.LatencyMs, createdAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("log attempt: %w", err)
	}
	return nil
}

// OnAttempt logs a as a gateway observer. Failures are logged, never returned.
func (l *Logger) OnAttempt(ctx context.Context, a models.CallAttempt) {
	if err := l.Log(context.WithoutCancel(ctx), a); err != nil {
		l.logger.Warn("audit log error", zap.String("task_id", a.TaskID), zap.Error(err))
	}
}

// Query returns call attempts matching the given options, newest first.
func (l *Logger) Query(ctx context.Context, opts models.AuditQueryOpts) ([]models.CallAttempt, error) {
	q := `SELECT task_id, model, provider, tier, attempt, outcome, status_code, error_message,
		input_tokens, output_tokens, reasoning_tokens, cached_tokens, cost, latency_ms, created_at
		FROM call_attempts WHERE 1=1`
	var args []any

	if opts.TaskID != "" {
		q += " AND task_id = ?"
		args = append(args, opts.TaskID)
	}
	if opts.Model != "" {
		q += " AND model = ?"
		args = append(args, opts.Model)
	}
	if opts.Outcome != "" {
		q += " AND outcome = ?"
		args = append(args, string(opts.Outcome))
	}
	if !opts.Since.IsZero() {
		q += " AND created_at >= ?"
		args = append(args, opts.Since.UTC())
	}

	q += " ORDER BY created_at DESC, id DESC"

	limit := opts.Limit
	if limit <= 0 {
		limit = 100
	}
	q += " LIMIT ?"
	args = append(args, limit)

	rows, err := l.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query audit: %w", err)
	}
	defer rows.Close()

	var attempts []models.CallAttempt
	for rows.Next() {
		var a models.CallAttempt
		var provider, errMsg, cost sql.NullString
		var tier, outcome string
		var status sql.NullInt64
		if err := rows.Scan(
			&a.TaskID, &a.Model, &provider, &tier, &a.Attempt, &outcome, &status, &errMsg,
			&a.Usage.InputTokens, &a.Usage.OutputTokens, &a.Usage.ReasoningTokens, &a.Usage.CachedTokens,
			&cost, &a.LatencyMs, &a.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan audit row: %w", err)
		}
		a.Provider = provider.String
		a.ErrorMessage = errMsg.String
		a.StatusCode = int(status.Int64)
		a.Tier = models.Tier(tier)
		a.Outcome = models.AttemptOutcome(outcome)
		a.Usage.TotalTokens = a.Usage.InputTokens + a.Usage.OutputTokens
		if cost.Valid && cost.String != "" {
			a.Usage.EstimatedCost, _ = decimal.NewFromString(cost.String)
		}
		attempts = append(attempts, a)
	}
	return attempts, rows.Err()
}

// Stats returns attempt counts grouped by model, day and outcome.
func (l *Logger) Stats(ctx context.Context) ([]models.AuditStat, error) {
	rows, err := l.db.QueryContext(ctx,
		`SELECT model, date(created_at) as day, outcome, count(*) as cnt
		 FROM call_attempts GROUP BY model, day, outcome ORDER BY day DESC, model, outcome`)
	if err != nil {
		return nil, fmt.Errorf("audit stats: %w", err)
	}
	defer rows.Close()

	var stats []models.AuditStat
	for rows.Next() {
		var s models.AuditStat
		var day sql.NullString
		if err := rows.Scan(&s.Model, &day, &s.Outcome, &s.Count); err != nil {
			return nil, fmt.Errorf("scan audit stat: %w", err)
		}
		s.Day = day.String
		stats = append(stats, s)
	}
	return stats, rows.Err()
}

// Cleanup deletes entries older than the configured retention period.
func (l *Logger) Cleanup(ctx context.Context) (int64, error) {
	cutoff := time.Now().UTC().AddDate(0, 0, -l.cfg.RetentionDays)
	res, err := l.db.ExecContext(ctx,
		`DELETE FROM call_attempts WHERE created_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("audit cleanup: %w", err)
	}
	return res.RowsAffected()
}

// Close closes the database.
func (l *Logger) Close() error {
	return l.db.Close()
}
