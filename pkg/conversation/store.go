// Package conversation holds multi-turn threads in memory: their history,
// per-conversation budget and context window, and eviction.
package conversation

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pario-ai/costgate/pkg/config"
	"github.com/pario-ai/costgate/pkg/metrics"
	"github.com/pario-ai/costgate/pkg/models"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// ErrNotFound is returned for unknown conversation ids.
var ErrNotFound = errors.New("conversation not found")

// ErrInvalidRole is returned when a message cannot be appended with its role.
var ErrInvalidRole = errors.New("invalid message role")

// SummaryPrefix starts the synthetic message that replaces compacted turns.
const SummaryPrefix = "Summary of earlier conversation: "

// Options are per-conversation overrides. Nil fields are left unchanged.
type Options struct {
	BudgetLimit  *decimal.Decimal `json:"budget_limit,omitempty"`
	ContextLimit *int             `json:"context_limit,omitempty"`
}

// Summary is the listing entry of a conversation.
type Summary struct {
	ID         string          `json:"id"`
	Topic      string          `json:"topic"`
	Messages   int             `json:"messages"`
	TotalCost  decimal.Decimal `json:"total_cost"`
	LastActive time.Time       `json:"last_active"`
}

// Store is the in-memory conversation registry.
type Store struct {
	mu               sync.Mutex
	convs            map[string]*models.Conversation
	maxConversations int
	maxMessages      int
	contextWindow    int
	now              func() time.Time
	logger           *zap.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

// minMessages leaves room for the pinned developer message and one turn.
const minMessages = 2

// New creates an empty Store bounded by cfg.
func New(cfg config.ConversationConfig, opts ...Option) *Store {
	s := &Store{
		convs:            make(map[string]*models.Conversation),
		maxConversations: max(cfg.MaxConversations, 1),
		maxMessages:      max(cfg.MaxMessages, minMessages),
		contextWindow:    cfg.ContextWindow,
		now:              func() time.Time { return time.Now().UTC() },
		logger:           zap.NewNop(),
	}
	for _, o := range opts {
		o(s)
	}
	if s.contextWindow <= 0 {
		s.contextWindow = 20
	}
	return s
}

// Start creates a conversation and returns its id. The least recently active
// conversation is evicted first when the store is full. Non-empty
// instructions become the pinned developer message.
func (s *Store) Start(topic, instructions string, budgetLimit *decimal.Decimal) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	c := &models.Conversation{
		ID: uuid.NewString(),
		Metadata: models.ConversationMetadata{
			CreatedAt:  now,
			LastActive: now,
			Topic:      topic,
		},
	}
	if budgetLimit != nil {
		c.Metadata.BudgetLimit = models.DecimalPtr(*budgetLimit)
	}
	if instructions != "" {
		c.Messages = append(c.Messages, models.Message{Role: models.RoleDeveloper, Content: instructions, Timestamp: now})
	}
	s.insertLocked(c)
	s.logger.Debug("conversation started", zap.String("conversation_id", c.ID), zap.String("topic", topic))
	return c.ID
}

func (s *Store) insertLocked(c *models.Conversation) {
	for len(s.convs) >= s.maxConversations {
		s.evictLocked()
	}
	s.convs[c.ID] = c
	metrics.ConversationsLive.Set(float64(len(s.convs)))
}

func (s *Store) evictLocked() {
	var oldest *models.Conversation
	for _, c := range s.convs {
		if oldest == nil || c.Metadata.LastActive.Before(oldest.Metadata.LastActive) {
			oldest = c
		}
	}
	if oldest == nil {
		return
	}
	delete(s.convs, oldest.ID)
	metrics.ConversationEvictionsTotal.Inc()
	s.logger.Info("conversation evicted",
		zap.String("conversation_id", oldest.ID),
		zap.Time("last_active", oldest.Metadata.LastActive))
}

// AddMessage appends a message and trims the oldest unpinned messages once the
// history exceeds the configured maximum. Developer messages are only set by
// Start, so only user, assistant and system roles are accepted.
func (s *Store) AddMessage(id string, role models.Role, content string) error {
	switch role {
	case models.RoleUser, models.RoleAssistant, models.RoleSystem:
	default:
		return fmt.Errorf("%w: %q", ErrInvalidRole, role)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.convs[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	now := s.now()
	c.Messages = append(c.Messages, models.Message{Role: role, Content: content, Timestamp: now})
	c.Metadata.LastActive = now
	c.Messages = trim(c.Messages, s.maxMessages)
	return nil
}

func pinned(msgs []models.Message) bool {
	return len(msgs) > 0 && msgs[0].Role == models.RoleDeveloper
}

// trim keeps the pinned message, if any, and the most recent messages up to
// limit. The pin counts toward limit, which is at least minMessages.
func trim(msgs []models.Message, limit int) []models.Message {
	if len(msgs) <= limit {
		return msgs
	}
	if !pinned(msgs) {
		return append([]models.Message(nil), msgs[len(msgs)-limit:]...)
	}
	keep := limit - 1
	out := make([]models.Message, 0, keep+1)
	out = append(out, msgs[0])
	return append(out, msgs[len(msgs)-keep:]...)
}

// FormatForAPI returns the most recent messages of a conversation, excluding
// the pinned developer message, followed by newMessage when given. window
// overrides the conversation's context limit and the store default when positive.
func (s *Store) FormatForAPI(id string, newMessage *models.Message, window int) ([]models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.convs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	n := s.contextWindow
	if c.Metadata.ContextLimit != nil && *c.Metadata.ContextLimit > 0 {
		n = *c.Metadata.ContextLimit
	}
	if window > 0 {
		n = window
	}

	history := c.Messages
	if pinned(history) {
		history = history[1:]
	}
	if len(history) > n {
		history = history[len(history)-n:]
	}

	out := make([]models.Message, 0, len(history)+1)
	out = append(out, history...)
	if newMessage != nil {
		out = append(out, *newMessage)
	}
	return out, nil
}

// Instructions returns the pinned developer message, or "" when there is none.
func (s *Store) Instructions(id string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.convs[id]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if pinned(c.Messages) {
		return c.Messages[0].Content, nil
	}
	return "", nil
}

// SetOptions applies per-conversation overrides and returns the new metadata.
func (s *Store) SetOptions(id string, opts Options) (models.ConversationMetadata, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if opts.BudgetLimit != nil && opts.BudgetLimit.IsNegative() {
		return models.ConversationMetadata{}, errors.New("budget_limit must not be negative")
	}
	if opts.ContextLimit != nil && *opts.ContextLimit < 1 {
		return models.ConversationMetadata{}, errors.New("context_limit must be positive")
	}

	c, ok := s.convs[id]
	if !ok {
		return models.ConversationMetadata{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if opts.BudgetLimit != nil {
		c.Metadata.BudgetLimit = models.DecimalPtr(*opts.BudgetLimit)
	}
	if opts.ContextLimit != nil {
		n := *opts.ContextLimit
		c.Metadata.ContextLimit = &n
	}
	return copyMetadata(c.Metadata), nil
}

// UpdateMetadata adds cost and tokens to the conversation's running totals.
func (s *Store) UpdateMetadata(id string, cost decimal.Decimal, tokens int) (models.ConversationMetadata, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.convs[id]
	if !ok {
		return models.ConversationMetadata{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	c.Metadata.TotalCost = c.Metadata.TotalCost.Add(cost)
	c.Metadata.TokenCount += tokens
	c.Metadata.LastActive = s.now()
	return copyMetadata(c.Metadata), nil
}

// Get returns a copy of the conversation.
func (s *Store) Get(id string) (models.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.convs[id]
	if !ok {
		return models.Conversation{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return copyConversation(c), nil
}

// Metadata returns a copy of the conversation's metadata.
func (s *Store) Metadata(id string) (models.ConversationMetadata, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.convs[id]
	if !ok {
		return models.ConversationMetadata{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return copyMetadata(c.Metadata), nil
}

// List returns all live conversations, most recently active first.
func (s *Store) List() []Summary {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Summary, 0, len(s.convs))
	for _, c := range s.convs {
		out = append(out, Summary{
			ID:         c.ID,
			Topic:      c.Metadata.Topic,
			Messages:   len(c.Messages),
			TotalCost:  c.Metadata.TotalCost,
			LastActive: c.Metadata.LastActive,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].LastActive.After(out[j].LastActive)
	})
	return out
}

// Delete removes a conversation.
func (s *Store) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.convs[id]; !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	delete(s.convs, id)
	metrics.ConversationsLive.Set(float64(len(s.convs)))
	return nil
}

// Len returns the number of live conversations.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.convs)
}

// Compact replaces every unpinned message except the keepRecent most recent
// ones with a single summary message.
func (s *Store) Compact(id, summary string, keepRecent int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.convs[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	keepRecent = max(keepRecent, 0)

	var head []models.Message
	body := c.Messages
	if pinned(body) {
		head = append(head, body[0])
		body = body[1:]
	}
	if len(body) <= keepRecent {
		return nil
	}

	now := s.now()
	out := make([]models.Message, 0, len(head)+keepRecent+1)
	out = append(out, head...)
	out = append(out, models.Message{Role: models.RoleSystem, Content: SummaryPrefix + summary, Timestamp: now})
	out = append(out, body[len(body)-keepRecent:]...)
	c.Messages = out
	c.Metadata.LastActive = now
	return nil
}

// Export serializes a conversation's messages and metadata as JSON.
func (s *Store) Export(id string) ([]byte, error) {
	c, err := s.Get(id)
	if err != nil {
		return nil, err
	}
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("export conversation %s: %w", id, err)
	}
	return data, nil
}

// Import loads an exported conversation under a new id and returns that id.
func (s *Store) Import(data []byte) (string, error) {
	if trimmed := bytes.TrimSpace(data); len(trimmed) == 0 || trimmed[0] != '{' {
		return "", errors.New("import conversation: expected a JSON object")
	}
	var c models.Conversation
	if err := json.Unmarshal(data, &c); err != nil {
		return "", fmt.Errorf("import conversation: invalid JSON: %w", err)
	}
	if err := validate(&c); err != nil {
		return "", fmt.Errorf("import conversation: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	c.ID = uuid.NewString()
	if c.Metadata.CreatedAt.IsZero() {
		c.Metadata.CreatedAt = now
	}
	c.Metadata.LastActive = now
	for i := range c.Messages {
		if c.Messages[i].Timestamp.IsZero() {
			c.Messages[i].Timestamp = now
		}
	}
	c.Messages = trim(c.Messages, s.maxMessages)
	s.insertLocked(&c)
	s.logger.Debug("conversation imported", zap.String("conversation_id", c.ID), zap.Int("messages", len(c.Messages)))
	return c.ID, nil
}

func validate(c *models.Conversation) error {
	for i, m := range c.Messages {
		switch m.Role {
		case models.RoleUser, models.RoleAssistant, models.RoleSystem:
		case models.RoleDeveloper:
			if i != 0 {
				return fmt.Errorf("message %d: developer message must be first", i)
			}
		default:
			return fmt.Errorf("message %d: unknown role %q", i, m.Role)
		}
	}
	if c.Metadata.TotalCost.IsNegative() {
		return errors.New("metadata: total_cost must not be negative")
	}
	if c.Metadata.TokenCount < 0 {
		return errors.New("metadata: token_count must not be negative")
	}
	if c.Metadata.BudgetLimit != nil && c.Metadata.BudgetLimit.IsNegative() {
		return errors.New("metadata: budget_limit must not be negative")
	}
	if c.Metadata.ContextLimit != nil && *c.Metadata.ContextLimit < 1 {
		return errors.New("metadata: context_limit must be positive")
	}
	return nil
}

func copyMetadata(m models.ConversationMetadata) models.ConversationMetadata {
	if m.BudgetLimit != nil {
		m.BudgetLimit = models.DecimalPtr(*m.BudgetLimit)
	}
	if m.ContextLimit != nil {
		n := *m.ContextLimit
		m.ContextLimit = &n
	}
	return m
}

func copyConversation(c *models.Conversation) models.Conversation {
	return models.Conversation{
		ID:       c.ID,
		Messages: append([]models.Message(nil), c.Messages...),
		Metadata: copyMetadata(c.Metadata),
	}
}
