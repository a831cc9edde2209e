package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// ConversationMetadata is the bookkeeping attached to a conversation.
type ConversationMetadata struct {
	CreatedAt    time.Time        `json:"created_at"`
	LastActive   time.Time        `json:"last_active"`
	TotalCost    decimal.Decimal  `json:"total_cost"`
	TokenCount   int              `json:"token_count"`
	Topic        string           `json:"topic"`
	BudgetLimit  *decimal.Decimal `json:"budget_limit,omitempty"`
	ContextLimit *int             `json:"context_limit,omitempty"`
}

// Conversation is a multi-turn thread. When a developer message exists it is
// always Messages[0].
type Conversation struct {
	ID       string               `json:"id"`
	Messages []Message            `json:"messages"`
	Metadata ConversationMetadata `json:"metadata"`
}

// RemainingBudget returns the unspent conversation budget, or nil when the
// conversation has no budget limit.
func (m ConversationMetadata) RemainingBudget() *decimal.Decimal {
	if m.BudgetLimit == nil {
		return nil
	}
	r := m.BudgetLimit.Sub(m.TotalCost)
	return &r
}
