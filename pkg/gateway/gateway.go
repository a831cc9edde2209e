// Package gateway executes model calls against the primary model and the
// ordered fallback chain, and normalizes every outcome into one result shape.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/pario-ai/costgate/pkg/config"
	"github.com/pario-ai/costgate/pkg/metrics"
	"github.com/pario-ai/costgate/pkg/models"
	"github.com/pario-ai/costgate/pkg/pricing"
	"github.com/pario-ai/costgate/pkg/router"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

var tracer = otel.Tracer("costgate/gateway")

// Observer receives every upstream attempt the gateway makes.
type Observer interface {
	OnAttempt(ctx context.Context, attempt models.CallAttempt)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(ctx context.Context, attempt models.CallAttempt)

// OnAttempt calls f.
func (f ObserverFunc) OnAttempt(ctx context.Context, attempt models.CallAttempt) { f(ctx, attempt) }

// Gateway bridges model call requests to upstream providers.
type Gateway struct {
	chain          router.Chain
	client         *Client
	prices         *pricing.Table
	retry          config.RetryConfig
	policy         config.FallbackPolicy
	defaultEffort  models.ReasoningEffort
	defaultTemp    *float64
	selfTestPrompt string
	observers      []Observer
	logger         *zap.Logger
	selfTest       singleflight.Group
}

// Option configures a Gateway.
type Option func(*Gateway)

// WithObserver registers an attempt observer.
func WithObserver(o Observer) Option {
	return func(g *Gateway) {
		if o != nil {
			g.observers = append(g.observers, o)
		}
	}
}

// WithHTTPClient overrides the HTTP client used for upstream calls.
func WithHTTPClient(hc *http.Client) Option {
	return func(g *Gateway) { g.client = NewClient(hc) }
}

// WithLogger sets the gateway logger.
func WithLogger(l *zap.Logger) Option {
	return func(g *Gateway) {
		if l != nil {
			g.logger = l
		}
	}
}

// New creates a Gateway for chain.
func New(cfg *config.Config, chain router.Chain, prices *pricing.Table, opts ...Option) *Gateway {
	g := &Gateway{
		chain:          chain,
		client:         NewClient(nil),
		prices:         prices,
		retry:          cfg.Retry,
		policy:         cfg.Gateway.FallbackPolicy,
		defaultEffort:  cfg.Models.DefaultReasoningEffort,
		defaultTemp:    cfg.Models.DefaultTemperature,
		selfTestPrompt: cfg.Gateway.SelfTestPrompt,
		logger:         zap.NewNop(),
	}
	if g.policy == "" {
		g.policy = config.FallbackAny
	}
	if g.selfTestPrompt == "" {
		g.selfTestPrompt = "Reply with the single word: ok"
	}
	for _, o := range opts {
		o(g)
	}
	return g
}

// PrimaryModel returns the primary model identifier.
func (g *Gateway) PrimaryModel() string { return g.chain.Primary.Model }

// Call executes req on the primary model, falling back through the chain.
// When every model fails the error wraps ErrNoCompatibleModel.
func (g *Gateway) Call(ctx context.Context, req models.ModelCallRequest) (*models.ModelCallResult, error) {
	ctx, span := tracer.Start(ctx, "gateway.Call", trace.WithAttributes(
		attribute.String("costgate.task_id", req.TaskID),
		attribute.Bool("costgate.stream", req.Stream),
	))
	defer span.End()

	res, err := g.callPrimary(ctx, req)
	if err == nil {
		span.SetAttributes(attribute.String("costgate.model", res.Model), attribute.String("costgate.tier", string(res.Tier)))
		return res, nil
	}
	if ctx.Err() != nil {
		span.SetStatus(codes.Error, "canceled")
		return nil, fmt.Errorf("primary %s: %w", g.chain.Primary.Model, err)
	}
	if g.policy == config.FallbackAvailability && isCallerError(err) {
		span.RecordError(err)
		span.SetStatus(codes.Error, "caller error")
		return nil, fmt.Errorf("primary %s: %w", g.chain.Primary.Model, err)
	}

	g.logger.Warn("primary model failed, using fallback chain",
		zap.String("model", g.chain.Primary.Model),
		zap.String("class", classify(err).String()),
		zap.Error(err))
	metrics.FallbacksTotal.Inc()

	lastErr := err
	for _, route := range g.chain.Fallbacks {
		res, err := g.callFallback(ctx, route, req)
		if err == nil {
			span.SetAttributes(attribute.String("costgate.model", res.Model), attribute.String("costgate.tier", string(res.Tier)))
			return res, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			break
		}
		switch classify(err) {
		case classUnavailable, classTransient:
			g.logger.Info("fallback model failed, trying next",
				zap.String("model", route.Model), zap.Error(err))
			continue
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "fallback aborted")
		return nil, fmt.Errorf("fallback %s: %w", route.Model, err)
	}

	span.RecordError(lastErr)
	span.SetStatus(codes.Error, ErrNoCompatibleModel.Error())
	return nil, fmt.Errorf("%w: %w", ErrNoCompatibleModel, lastErr)
}

// SelfTest sends a trivial prompt to the primary model and expects non-empty
// text. Concurrent self-tests share one upstream call. Failures are logged as
// warnings and returned.
func (g *Gateway) SelfTest(ctx context.Context) error {
	ch := g.selfTest.DoChan("selftest", func() (any, error) {
		// Detached from the first caller so its cancellation doesn't fail the others.
		tctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), g.selfTestTimeout())
		defer cancel()

		res, err := g.invoke(tctx, g.chain.Primary, models.ModelCallRequest{Prompt: g.selfTestPrompt, TaskID: "selftest"}, 0)
		if err != nil {
			return nil, err
		}
		if strings.TrimSpace(res.Text) == "" {
			return nil, fmt.Errorf("self-test: %s returned empty text", res.Model)
		}
		return nil, nil
	})

	select {
	case <-ctx.Done():
		return ctx.Err()
	case r := <-ch:
		if r.Err != nil {
			g.logger.Warn("model self-test failed", zap.String("model", g.chain.Primary.Model), zap.Error(r.Err))
			return r.Err
		}
		g.logger.Info("model self-test passed", zap.String("model", g.chain.Primary.Model))
		return nil
	}
}

func (g *Gateway) selfTestTimeout() time.Duration {
	if g.retry.AttemptTimeout > 0 {
		return g.retry.AttemptTimeout
	}
	return 30 * time.Second
}

func (g *Gateway) callPrimary(ctx context.Context, req models.ModelCallRequest) (*models.ModelCallResult, error) {
	return g.invoke(ctx, g.chain.Primary, req, g.retry.MaxRetries)
}

func (g *Gateway) callFallback(ctx context.Context, route router.Route, req models.ModelCallRequest) (*models.ModelCallResult, error) {
	return g.invoke(ctx, route, req, g.retry.MaxRetries)
}

// invoke runs req on one route with retries and returns the priced result.
func (g *Gateway) invoke(ctx context.Context, route router.Route, req models.ModelCallRequest, maxRetries int) (*models.ModelCallResult, error) {
	path, body, err := g.buildRequest(route, req)
	if err != nil {
		return nil, err
	}

	var (
		agg   *aggregate
		usage models.TokenUsage
	)
	err = withRetry(ctx, maxRetries, g.retry.BaseDelay, g.retry.AttemptTimeout, func(actx context.Context, attempt int) error {
		actx, span := tracer.Start(actx, "gateway.attempt", trace.WithAttributes(
			attribute.String("costgate.model", route.Model),
			attribute.String("costgate.tier", string(route.Tier)),
			attribute.Int("costgate.attempt", attempt),
		))
		defer span.End()

		start := time.Now()
		a, err := g.send(actx, route, path, body, req.Stream)
		attemptRec := models.CallAttempt{
			TaskID:    req.TaskID,
			Model:     route.Model,
			Provider:  route.Provider.Name,
			Tier:      route.Tier,
			Attempt:   attempt,
			Outcome:   models.OutcomeSuccess,
			LatencyMs: time.Since(start).Milliseconds(),
			CreatedAt: time.Now().UTC(),
		}
		if err != nil {
			attemptRec.Outcome = outcomeOf(err)
			attemptRec.ErrorMessage = err.Error()
			var apiErr *APIError
			if errors.As(err, &apiErr) {
				attemptRec.StatusCode = apiErr.StatusCode
			}
			span.RecordError(err)
			span.SetStatus(codes.Error, string(attemptRec.Outcome))
		} else {
			attemptRec.Usage = g.prices.Price(route.Model, ExtractUsage(a.usage))
			agg, usage = a, attemptRec.Usage
		}
		g.emit(ctx, attemptRec, time.Since(start))
		return err
	})
	if err != nil {
		return nil, err
	}

	return &models.ModelCallResult{
		Text:  agg.text,
		Usage: usage,
		Raw:   agg.raw,
		Model: route.Model,
		Tier:  route.Tier,
	}, nil
}

// send performs one upstream request and aggregates its output.
func (g *Gateway) send(ctx context.Context, route router.Route, path string, body []byte, stream bool) (*aggregate, error) {
	rc, err := g.client.Post(ctx, route.Provider, path, body, stream)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	var read func(io.Reader) (*aggregate, error)
	switch {
	case path == responsesPath && stream:
		read = readResponsesStream
	case path == responsesPath:
		read = readResponsesBody
	case stream:
		read = readChatStream
	default:
		read = readChatBody
	}
	return read(rc)
}

// buildRequest encodes req for the route's tier: the responses API on the
// primary tier, chat completions on the fallback tier.
func (g *Gateway) buildRequest(route router.Route, req models.ModelCallRequest) (string, []byte, error) {
	if route.Tier == models.TierPrimary {
		body, err := json.Marshal(g.responsesRequest(route.Model, req))
		if err != nil {
			return "", nil, fmt.Errorf("encode responses request: %w", err)
		}
		return responsesPath, body, nil
	}
	body, err := json.Marshal(g.chatRequest(route.Model, req))
	if err != nil {
		return "", nil, fmt.Errorf("encode chat request: %w", err)
	}
	return chatCompletionsPath, body, nil
}

// responsesRequest drops temperature and max tokens, which the primary model
// family rejects.
func (g *Gateway) responsesRequest(model string, req models.ModelCallRequest) models.ResponsesRequest {
	effort := req.ReasoningEffort
	if effort == "" {
		effort = g.defaultEffort
	}
	out := models.ResponsesRequest{
		Model:        model,
		Instructions: req.Instructions,
		Stream:       req.Stream,
	}
	if effort != "" {
		out.Reasoning = &models.ReasoningConfig{Effort: effort}
	}
	if len(req.Messages) == 0 {
		out.Input = req.Prompt
		return out
	}
	input := make([]models.ResponsesInputMessage, 0, len(req.Messages)+1)
	for _, m := range req.Messages {
		input = append(input, models.ResponsesInputMessage{Role: string(m.Role), Content: m.Content})
	}
	if req.Prompt != "" {
		input = append(input, models.ResponsesInputMessage{Role: string(models.RoleUser), Content: req.Prompt})
	}
	out.Input = input
	return out
}

// chatRequest folds instructions and developer messages into one leading
// system message and passes temperature and max tokens through.
func (g *Gateway) chatRequest(model string, req models.ModelCallRequest) models.ChatCompletionRequest {
	var system []string
	if req.Instructions != "" {
		system = append(system, req.Instructions)
	}
	var msgs []models.ChatMessage
	for _, m := range req.Messages {
		if m.Role == models.RoleDeveloper || m.Role == models.RoleSystem {
			system = append(system, m.Content)
			continue
		}
		msgs = append(msgs, models.ChatMessage{Role: string(m.Role), Content: m.Content})
	}
	if req.Prompt != "" {
		msgs = append(msgs, models.ChatMessage{Role: string(models.RoleUser), Content: req.Prompt})
	}
	if len(system) > 0 {
		msgs = append([]models.ChatMessage{{Role: string(models.RoleSystem), Content: strings.Join(system, "\n\n")}}, msgs...)
	}

	temp := req.Temperature
	if temp == nil {
		temp = g.defaultTemp
	}
	out := models.ChatCompletionRequest{
		Model:       model,
		Messages:    msgs,
		Temperature: temp,
		MaxTokens:   req.MaxTokens,
		Stream:      req.Stream,
	}
	if req.Stream {
		out.StreamOptions = &models.StreamOptions{IncludeUsage: true}
	}
	return out
}

func (g *Gateway) emit(ctx context.Context, a models.CallAttempt, latency time.Duration) {
	tier := string(a.Tier)
	metrics.ModelAttemptsTotal.WithLabelValues(a.Model, tier, string(a.Outcome)).Inc()
	metrics.ModelAttemptDuration.WithLabelValues(a.Model, tier).Observe(latency.Seconds())
	if a.Outcome == models.OutcomeSuccess {
		metrics.TokensTotal.WithLabelValues(a.Model, "input").Add(float64(a.Usage.InputTokens))
		metrics.TokensTotal.WithLabelValues(a.Model, "output").Add(float64(a.Usage.OutputTokens))
		metrics.TokensTotal.WithLabelValues(a.Model, "reasoning").Add(float64(a.Usage.ReasoningTokens))
		metrics.CostUSDTotal.WithLabelValues(a.Model).Add(a.Usage.EstimatedCost.InexactFloat64())
	} else {
		g.logger.Debug("model attempt failed",
			zap.String("model", a.Model),
			zap.String("tier", tier),
			zap.Int("attempt", a.Attempt),
			zap.String("outcome", string(a.Outcome)),
			zap.String("error", a.ErrorMessage))
	}
	for _, o := range g.observers {
		o.OnAttempt(ctx, a)
	}
}

func outcomeOf(err error) models.AttemptOutcome {
	switch classify(err) {
	case classTransient:
		return models.OutcomeTransient
	case classUnavailable:
		return models.OutcomeUnavailable
	}
	return models.OutcomePermanent
}
