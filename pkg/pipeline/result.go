package pipeline

import (
	"strings"

	"github.com/pario-ai/costgate/pkg/models"
	"github.com/pario-ai/costgate/pkg/resource"
	"github.com/shopspring/decimal"
)

// Status is the outcome of a pipeline request.
type Status string

const (
	StatusOK                Status = "ok"
	StatusNeedsConfirmation Status = "needs_confirmation"
	StatusBlocked           Status = "blocked"
	StatusNotFound          Status = "not_found"
	StatusFailed            Status = "failed"
)

// ResourceStats summarizes what happened to attached resources.
type ResourceStats struct {
	Included  int `json:"included"`
	Omitted   int `json:"omitted"`
	Truncated int `json:"truncated"`
	Skipped   int `json:"skipped"`
	Tokens    int `json:"tokens"`
}

// Result is what a pipeline request returns to the caller.
type Result struct {
	Status                Status            `json:"status"`
	Text                  string            `json:"text,omitempty"`
	Usage                 models.TokenUsage `json:"usage"`
	TaskID                string            `json:"task_id"`
	ConversationID        string            `json:"conversation_id,omitempty"`
	Model                 string            `json:"model,omitempty"`
	Tier                  models.Tier       `json:"tier,omitempty"`
	Warning               string            `json:"warning,omitempty"`
	Message               string            `json:"message,omitempty"`
	Shortfall             decimal.Decimal   `json:"shortfall"`
	RemainingDaily        *decimal.Decimal  `json:"remaining_daily,omitempty"`
	RemainingTask         *decimal.Decimal  `json:"remaining_task,omitempty"`
	RemainingConversation *decimal.Decimal  `json:"remaining_conversation,omitempty"`
	Resources             *ResourceStats    `json:"resources,omitempty"`

	// Err is the underlying error for callers using errors.Is.
	Err error `json:"-"`

	charged bool
}

// OK reports whether the request completed.
func (r *Result) OK() bool { return r.Status == StatusOK }

// Display is the user-facing text: the reply and any warning on success, the
// failure message otherwise.
func (r *Result) Display() string {
	if !r.OK() {
		return r.Message
	}
	if r.Warning == "" {
		return r.Text
	}
	return strings.TrimRight(r.Text, "\n") + "\n\nWarning: " + r.Warning
}

func resourceStats(d resource.Digest) *ResourceStats {
	if d.Included == 0 && d.Omitted == 0 && d.Truncated == 0 && d.Skipped == 0 {
		return nil
	}
	return &ResourceStats{
		Included:  d.Included,
		Omitted:   d.Omitted,
		Truncated: d.Truncated,
		Skipped:   d.Skipped,
		Tokens:    d.Tokens,
	}
}
