package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pario-ai/costgate/pkg/budget"
	"github.com/pario-ai/costgate/pkg/conversation"
	"github.com/pario-ai/costgate/pkg/models"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// DefaultKeepRecent is how many recent messages Summarize keeps verbatim.
const DefaultKeepRecent = 4

const summaryInstructions = "You compress conversation transcripts. Summarize the turns below in a short paragraph, " +
	"keeping decisions, facts, names and open questions. Do not add commentary."

// ContinueRequest is one turn of a conversation.
type ContinueRequest struct {
	ConversationID  string
	Message         string
	ReasoningEffort models.ReasoningEffort
	Temperature     *float64
	MaxTokens       *int
	Confirm         bool
	Resources       json.RawMessage
	Stream          bool
	// Window overrides the number of history messages sent when positive.
	Window int
}

// Start creates a conversation and returns its id.
func (p *Pipeline) Start(topic, instructions string, budgetLimit *decimal.Decimal) string {
	id := p.store.Start(topic, instructions, budgetLimit)
	p.logger.Info("conversation started", zap.String("conversation_id", id), zap.String("topic", topic))
	return id
}

// Continue sends one user turn of a conversation. The user message and the
// reply are appended only when the call completes.
func (p *Pipeline) Continue(ctx context.Context, req ContinueRequest) *Result {
	taskID := uuid.NewString()
	ctx, span := tracer.Start(ctx, "pipeline.Continue", trace.WithAttributes(
		attribute.String("costgate.task_id", taskID),
		attribute.String("costgate.conversation_id", req.ConversationID),
	))
	defer span.End()

	p.governor.BeginTask(taskID)
	res := p.turn(ctx, taskID, req)
	p.finish(span, "turn", res)
	return res
}

func (p *Pipeline) turn(ctx context.Context, taskID string, req ContinueRequest) *Result {
	c := call{taskID: taskID, conversationID: req.ConversationID}

	meta, err := p.store.Metadata(req.ConversationID)
	if err != nil {
		return notFound(c, err)
	}
	instructions, err := p.store.Instructions(req.ConversationID)
	if err != nil {
		return notFound(c, err)
	}
	history, err := p.store.FormatForAPI(req.ConversationID, nil, req.Window)
	if err != nil {
		return notFound(c, err)
	}

	promptTokens := budget.EstimateTokenCount(instructions) + budget.EstimateTokenCount(req.Message)
	for _, m := range history {
		promptTokens += budget.EstimateTokenCount(m.Content)
	}
	maxTokens := p.tokenCeiling(promptTokens, meta.RemainingBudget())
	digest := p.digest(req.Resources, p.planner.SafeInputTokens(maxTokens, promptTokens), taskID)

	content := assemble(digest.Text, "", req.Message)
	messages := append(history, models.Message{Role: models.RoleUser, Content: content, Timestamp: time.Now().UTC()})
	inputTokens := promptTokens + digest.Tokens

	c.req = models.ModelCallRequest{
		Messages:        messages,
		Instructions:    instructions,
		Temperature:     req.Temperature,
		ReasoningEffort: req.ReasoningEffort,
		MaxTokens:       capTokens(req.MaxTokens, maxTokens),
		Stream:          req.Stream,
		TaskID:          taskID,
	}
	c.estimate = p.estimate(inputTokens, promptTokens, maxTokens, req.MaxTokens)
	c.confirmed = req.Confirm
	c.conversation = &meta
	c.digest = digest

	res := p.execute(ctx, c)
	if !res.charged {
		return res
	}

	if res.OK() {
		if err := p.store.AddMessage(req.ConversationID, models.RoleUser, content); err != nil {
			return p.lost(res, err)
		}
		if err := p.store.AddMessage(req.ConversationID, models.RoleAssistant, res.Text); err != nil {
			return p.lost(res, err)
		}
	}
	updated, err := p.store.UpdateMetadata(req.ConversationID, res.Usage.EstimatedCost, res.Usage.TotalTokens)
	if err != nil {
		return p.lost(res, err)
	}
	res.RemainingConversation = updated.RemainingBudget()
	return res
}

// lost handles a conversation that was evicted or deleted while its turn was
// in flight. The reply is still returned.
func (p *Pipeline) lost(res *Result, err error) *Result {
	p.logger.Warn("conversation disappeared during turn",
		zap.String("conversation_id", res.ConversationID),
		zap.String("task_id", res.TaskID),
		zap.Error(err))
	if res.OK() {
		res.Warning = strings.TrimSpace(res.Warning + " Conversation " + res.ConversationID + " was evicted; this reply was not saved.")
	}
	return res
}

func notFound(c call, err error) *Result {
	return &Result{
		Status:         StatusNotFound,
		TaskID:         c.taskID,
		ConversationID: c.conversationID,
		Message:        fmt.Sprintf("Conversation %s not found. Start a new conversation to continue.", c.conversationID),
		Err:            err,
	}
}

// Summarize replaces all but the keepRecent most recent messages of a
// conversation with a model-written summary. The summary call is governed
// like any other turn.
func (p *Pipeline) Summarize(ctx context.Context, id string, keepRecent int, confirm bool) *Result {
	taskID := uuid.NewString()
	ctx, span := tracer.Start(ctx, "pipeline.Summarize", trace.WithAttributes(
		attribute.String("costgate.task_id", taskID),
		attribute.String("costgate.conversation_id", id),
	))
	defer span.End()

	if keepRecent <= 0 {
		keepRecent = DefaultKeepRecent
	}
	res := p.summarize(ctx, taskID, id, keepRecent, confirm)
	p.finish(span, "summarize", res)
	return res
}

func (p *Pipeline) summarize(ctx context.Context, taskID, id string, keepRecent int, confirm bool) *Result {
	c := call{taskID: taskID, conversationID: id}

	conv, err := p.store.Get(id)
	if err != nil {
		return notFound(c, err)
	}
	body := conv.Messages
	if len(body) > 0 && body[0].Role == models.RoleDeveloper {
		body = body[1:]
	}
	if len(body) <= keepRecent {
		return &Result{
			Status:         StatusOK,
			TaskID:         taskID,
			ConversationID: id,
			Text:           fmt.Sprintf("Nothing to summarize: %d message(s), keeping %d.", len(body), keepRecent),
		}
	}

	var transcript strings.Builder
	for _, m := range body[:len(body)-keepRecent] {
		fmt.Fprintf(&transcript, "%s: %s\n", m.Role, m.Content)
	}
	prompt := transcript.String()
	promptTokens := budget.EstimateTokenCount(summaryInstructions) + budget.EstimateTokenCount(prompt)
	maxTokens := p.tokenCeiling(promptTokens, conv.Metadata.RemainingBudget())

	p.governor.BeginTask(taskID)
	c.req = models.ModelCallRequest{
		Prompt:       prompt,
		Instructions: summaryInstructions,
		TaskID:       taskID,
	}
	c.estimate = p.estimate(promptTokens, promptTokens, maxTokens, nil)
	c.confirmed = confirm
	c.conversation = &conv.Metadata

	res := p.execute(ctx, c)
	if !res.charged {
		return res
	}
	if res.OK() {
		if err := p.store.Compact(id, strings.TrimSpace(res.Text), keepRecent); err != nil {
			return p.lost(res, err)
		}
	}
	updated, err := p.store.UpdateMetadata(id, res.Usage.EstimatedCost, res.Usage.TotalTokens)
	if err != nil {
		return p.lost(res, err)
	}
	res.RemainingConversation = updated.RemainingBudget()
	return res
}

// SetOptions changes a conversation's budget or context window without any
// model traffic.
func (p *Pipeline) SetOptions(id string, opts conversation.Options) (models.ConversationMetadata, error) {
	return p.store.SetOptions(id, opts)
}

// Metadata returns a snapshot of a conversation's metadata.
func (p *Pipeline) Metadata(id string) (models.ConversationMetadata, error) {
	return p.store.Metadata(id)
}

// Conversation returns a full copy of a conversation.
func (p *Pipeline) Conversation(id string) (models.Conversation, error) {
	return p.store.Get(id)
}

// Conversations lists live conversations, most recently active first.
func (p *Pipeline) Conversations() []conversation.Summary {
	return p.store.List()
}

// Export serializes a conversation.
func (p *Pipeline) Export(id string) ([]byte, error) {
	return p.store.Export(id)
}

// Import loads an exported conversation under a new id.
func (p *Pipeline) Import(data []byte) (string, error) {
	id, err := p.store.Import(data)
	if err != nil {
		return "", err
	}
	p.logger.Info("conversation imported", zap.String("conversation_id", id))
	return id, nil
}

// IsNotFound reports whether err means an unknown conversation.
func IsNotFound(err error) bool {
	return errors.Is(err, conversation.ErrNotFound)
}
