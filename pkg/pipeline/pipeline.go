// Package pipeline runs cost-governed requests end to end: token planning,
// resource digestion, pre-flight budget checks, the model call and the final
// check-and-record of actual spend.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/pario-ai/costgate/pkg/budget"
	"github.com/pario-ai/costgate/pkg/conversation"
	"github.com/pario-ai/costgate/pkg/gateway"
	"github.com/pario-ai/costgate/pkg/metrics"
	"github.com/pario-ai/costgate/pkg/models"
	"github.com/pario-ai/costgate/pkg/resource"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("costgate/pipeline")

// Caller executes model calls. *gateway.Gateway satisfies it.
type Caller interface {
	Call(ctx context.Context, req models.ModelCallRequest) (*models.ModelCallResult, error)
	SelfTest(ctx context.Context) error
}

// Components are the collaborators a Pipeline drives.
type Components struct {
	Gateway      Caller
	Governor     *budget.Governor
	Planner      *budget.Planner
	Normalizer   *resource.Normalizer
	Store        *conversation.Store
	PrimaryModel string
	Logger       *zap.Logger
}

// Pipeline is the single boundary that turns component errors into results.
type Pipeline struct {
	gateway    Caller
	governor   *budget.Governor
	planner    *budget.Planner
	normalizer *resource.Normalizer
	store      *conversation.Store
	model      string
	logger     *zap.Logger
}

// New creates a Pipeline.
func New(c Components) *Pipeline {
	logger := c.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{
		gateway:    c.Gateway,
		governor:   c.Governor,
		planner:    c.Planner,
		normalizer: c.Normalizer,
		store:      c.Store,
		model:      c.PrimaryModel,
		logger:     logger,
	}
}

// Request is a single-shot request.
type Request struct {
	Prompt          string
	Context         string
	Instructions    string
	ReasoningEffort models.ReasoningEffort
	Temperature     *float64
	// MaxTokens is the caller's output length preference.
	MaxTokens  *int
	TaskBudget *decimal.Decimal
	Confirm    bool
	// Resources is an attached-resource payload in any recognized shape.
	Resources json.RawMessage
	Stream    bool
}

// Run executes a single-shot request. It never returns an error: failures are
// reported through the result's Status and Message.
func (p *Pipeline) Run(ctx context.Context, req Request) *Result {
	taskID := uuid.NewString()
	ctx, span := tracer.Start(ctx, "pipeline.Run", trace.WithAttributes(
		attribute.String("costgate.task_id", taskID),
	))
	defer span.End()

	p.governor.BeginTask(taskID)
	res := p.run(ctx, taskID, req)
	p.finish(span, "single", res)
	return res
}

func (p *Pipeline) run(ctx context.Context, taskID string, req Request) *Result {
	promptTokens := budget.EstimateTokenCount(req.Instructions) +
		budget.EstimateTokenCount(req.Context) +
		budget.EstimateTokenCount(req.Prompt)
	maxTokens := p.tokenCeiling(promptTokens, req.TaskBudget)
	digest := p.digest(req.Resources, p.planner.SafeInputTokens(maxTokens, promptTokens), taskID)

	prompt := assemble(digest.Text, req.Context, req.Prompt)
	inputTokens := budget.EstimateTokenCount(req.Instructions) + budget.EstimateTokenCount(prompt)

	return p.execute(ctx, call{
		taskID: taskID,
		req: models.ModelCallRequest{
			Prompt:          prompt,
			Instructions:    req.Instructions,
			Temperature:     req.Temperature,
			ReasoningEffort: req.ReasoningEffort,
			MaxTokens:       capTokens(req.MaxTokens, maxTokens),
			Stream:          req.Stream,
			TaskID:          taskID,
		},
		estimate:  p.estimate(inputTokens, promptTokens, maxTokens, req.MaxTokens),
		confirmed: req.Confirm,
		taskLimit: req.TaskBudget,
		digest:    digest,
	})
}

// tokenCeiling derives the overall token ceiling from the tighter of the
// remaining daily budget and the request's task budget.
func (p *Pipeline) tokenCeiling(promptTokens int, taskBudget *decimal.Decimal) int {
	remaining := p.governor.RemainingDaily()
	if taskBudget != nil && (remaining == nil || taskBudget.LessThan(*remaining)) {
		remaining = taskBudget
	}
	if remaining == nil {
		return p.planner.Ceiling()
	}
	return p.planner.MaxTokensFromBudget(*remaining, promptTokens)
}

// estimate projects the usage of a call before it is made.
func (p *Pipeline) estimate(inputTokens, promptTokens, maxTokens int, preferred *int) models.TokenUsage {
	out := min(budget.OutputAllowance(promptTokens), maxTokens)
	if preferred != nil && *preferred > 0 {
		out = min(out, *preferred)
	}
	return p.planner.EstimateUsage(p.model, inputTokens, out)
}

func (p *Pipeline) digest(raw json.RawMessage, ceiling int, taskID string) resource.Digest {
	if len(raw) == 0 {
		return resource.Digest{}
	}
	payload, err := resource.Parse(raw)
	if err != nil {
		p.logger.Warn("ignoring malformed resource payload", zap.String("task_id", taskID), zap.Error(err))
		return resource.Digest{}
	}
	return p.normalizer.Normalize(payload, ceiling)
}

// assemble joins the resource digest, the context and the request, in that
// order, skipping empty sections.
func assemble(resources, background, request string) string {
	var sections []string
	if resources != "" {
		sections = append(sections, resources)
	}
	if background != "" {
		sections = append(sections, "Context:\n"+background)
	}
	if request != "" {
		sections = append(sections, request)
	}
	return strings.Join(sections, "\n\n")
}

func capTokens(preferred *int, ceiling int) *int {
	if preferred == nil || *preferred <= 0 {
		return nil
	}
	n := min(*preferred, ceiling)
	return &n
}

// call is one governed model invocation.
type call struct {
	taskID         string
	req            models.ModelCallRequest
	estimate       models.TokenUsage
	confirmed      bool
	taskLimit      *decimal.Decimal
	conversationID string
	conversation   *models.ConversationMetadata
	digest         resource.Digest
}

// execute runs the pre-flight checks, the model call and the post-call
// check-and-record.
func (p *Pipeline) execute(ctx context.Context, c call) *Result {
	spend := budget.Spend{TaskID: c.taskID, Usage: c.estimate, Confirmed: c.confirmed, TaskLimit: c.taskLimit}
	if d := p.governor.Preflight(spend); !d.Allowed {
		return refused(c, d)
	}
	if c.conversation != nil {
		if d := p.governor.CheckConversation(*c.conversation, c.estimate.EstimatedCost, c.confirmed); !d.Allowed {
			res := refused(c, d)
			res.RemainingConversation = d.RemainingTask
			res.RemainingTask = nil
			return res
		}
	}

	out, err := p.gateway.Call(ctx, c.req)
	if err != nil {
		return failed(c, err)
	}

	// Actual spend only faces the runaway backstop.
	actual := budget.Spend{TaskID: c.taskID, Usage: out.Usage, Confirmed: true, TaskLimit: c.taskLimit}
	d := p.governor.CheckAndRecord(actual)
	if !d.Allowed {
		p.governor.RecordOverrun(c.taskID, out.Usage)
		res := refused(c, d)
		res.Usage = out.Usage
		res.Model = out.Model
		res.Tier = out.Tier
		res.charged = true
		return res
	}

	return &Result{
		Status:         StatusOK,
		Text:           out.Text,
		Usage:          out.Usage,
		TaskID:         c.taskID,
		ConversationID: c.conversationID,
		Model:          out.Model,
		Tier:           out.Tier,
		Warning:        d.Warning,
		RemainingDaily: d.RemainingDaily,
		RemainingTask:  d.RemainingTask,
		Resources:      resourceStats(c.digest),
		charged:        true,
	}
}

func refused(c call, d budget.Decision) *Result {
	status := StatusNeedsConfirmation
	if d.Blocked {
		status = StatusBlocked
	}
	return &Result{
		Status:         status,
		TaskID:         c.taskID,
		ConversationID: c.conversationID,
		Message:        withIDs(d.Reason, c),
		Shortfall:      d.Shortfall,
		RemainingDaily: d.RemainingDaily,
		RemainingTask:  d.RemainingTask,
		Err:            d.Err(),
	}
}

func failed(c call, err error) *Result {
	msg := "Model call failed: " + err.Error()
	if errors.Is(err, gateway.ErrNoCompatibleModel) {
		msg = "No compatible model could serve the request: " + err.Error()
	}
	return &Result{
		Status:         StatusFailed,
		TaskID:         c.taskID,
		ConversationID: c.conversationID,
		Message:        withIDs(msg, c),
		Err:            err,
	}
}

func withIDs(msg string, c call) string {
	if c.conversationID != "" {
		return fmt.Sprintf("%s (task %s, conversation %s)", msg, c.taskID, c.conversationID)
	}
	return fmt.Sprintf("%s (task %s)", msg, c.taskID)
}

func (p *Pipeline) finish(span trace.Span, mode string, res *Result) {
	span.SetAttributes(
		attribute.String("costgate.status", string(res.Status)),
		attribute.String("costgate.cost", res.Usage.EstimatedCost.String()),
	)
	if res.Model != "" {
		span.SetAttributes(attribute.String("costgate.model", res.Model))
	}
	if res.Status != StatusOK {
		if res.Err != nil {
			span.RecordError(res.Err)
		}
		span.SetStatus(codes.Error, string(res.Status))
	}
	metrics.PipelineRunsTotal.WithLabelValues(mode, string(res.Status)).Inc()

	fields := []zap.Field{
		zap.String("task_id", res.TaskID),
		zap.String("status", string(res.Status)),
		zap.String("cost", res.Usage.EstimatedCost.String()),
	}
	if res.ConversationID != "" {
		fields = append(fields, zap.String("conversation_id", res.ConversationID))
	}
	if res.Model != "" {
		fields = append(fields, zap.String("model", res.Model), zap.String("tier", string(res.Tier)))
	}
	switch res.Status {
	case StatusOK:
		p.logger.Info("request completed", fields...)
	case StatusFailed:
		p.logger.Error("request failed", append(fields, zap.Error(res.Err))...)
	default:
		p.logger.Warn("request refused", append(fields, zap.String("reason", res.Message))...)
	}
}

// Report returns the cost report for period.
func (p *Pipeline) Report(period models.ReportPeriod) models.CostReport {
	return p.governor.Report(period)
}

// UpdateLimits merges partial into the spend ceilings and persists them.
func (p *Pipeline) UpdateLimits(partial models.CostLimits) models.CostLimits {
	return p.governor.UpdateLimits(partial)
}

// Limits returns the current spend ceilings.
func (p *Pipeline) Limits() models.CostLimits {
	return p.governor.Limits()
}

// SelfTest checks that the primary model answers.
func (p *Pipeline) SelfTest(ctx context.Context) error {
	return p.gateway.SelfTest(ctx)
}
