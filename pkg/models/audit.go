package models

import "time"

// AttemptOutcome classifies the result of one upstream attempt.
type AttemptOutcome string

const (
	OutcomeSuccess     AttemptOutcome = "success"
	OutcomeTransient   AttemptOutcome = "transient"
	OutcomeUnavailable AttemptOutcome = "model_unavailable"
	OutcomePermanent   AttemptOutcome = "permanent"
)

// CallAttempt describes a single upstream attempt made by the model gateway.
type CallAttempt struct {
	TaskID       string         `json:"task_id"`
	Model        string         `json:"model"`
	Provider     string         `json:"provider"`
	Tier         Tier           `json:"tier"`
	Attempt      int            `json:"attempt"`
	Outcome      AttemptOutcome `json:"outcome"`
	StatusCode   int            `json:"status_code,omitempty"`
	ErrorMessage string         `json:"error_message,omitempty"`
	Usage        TokenUsage     `json:"usage"`
	LatencyMs    int64          `json:"latency_ms"`
	CreatedAt    time.Time      `json:"created_at"`
}

// AuditConfig controls the call audit log.
type AuditConfig struct {
	Enabled       bool   `yaml:"enabled"`
	DBPath        string `yaml:"db_path"`
	RetentionDays int    `yaml:"retention_days"`
}

// AuditQueryOpts specifies filters for querying call attempts.
type AuditQueryOpts struct {
	Model   string
	TaskID  string
	Outcome AttemptOutcome
	Since   time.Time
	Limit   int
}

// AuditStat holds aggregate attempt counts for a model/day/outcome combination.
type AuditStat struct {
	Model   string
	Day     string
	Outcome string
	Count   int
}
