package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/pario-ai/costgate/pkg/models"
	"gopkg.in/yaml.v3"
)

// Config holds all costgate configuration. It is read once at startup.
type Config struct {
	LedgerPath    string                `yaml:"ledger_path"`
	Providers     []ProviderConfig      `yaml:"providers"`
	Models        ModelsConfig          `yaml:"models"`
	Limits        models.CostLimits     `yaml:"limits"`
	Planner       PlannerConfig         `yaml:"planner"`
	Retry         RetryConfig           `yaml:"retry"`
	Gateway       GatewayConfig         `yaml:"gateway"`
	Conversations ConversationConfig    `yaml:"conversations"`
	Resources     ResourceConfig        `yaml:"resources"`
	Pricing       []models.ModelPricing `yaml:"pricing"`
	Audit         models.AuditConfig    `yaml:"audit"`
	Log           LogConfig             `yaml:"log"`
	Metrics       MetricsConfig         `yaml:"metrics"`
}

// ProviderConfig defines an upstream OpenAI-compatible provider.
type ProviderConfig struct {
	Name   string `yaml:"name"`
	URL    string `yaml:"url"`
	APIKey string `yaml:"api_key"`
}

// ModelTarget names a model and, optionally, the provider serving it.
// An empty provider means the first configured provider.
type ModelTarget struct {
	Provider string `yaml:"provider"`
	Model    string `yaml:"model"`
}

// ModelsConfig selects the primary model and the ordered fallback chain.
type ModelsConfig struct {
	Primary                ModelTarget            `yaml:"primary"`
	Fallbacks              []ModelTarget          `yaml:"fallbacks"`
	DefaultReasoningEffort models.ReasoningEffort `yaml:"default_reasoning_effort"`
	// DefaultTemperature only applies on the fallback tier.
	DefaultTemperature *float64 `yaml:"default_temperature"`
}

// PlannerConfig bounds the token ceilings derived from remaining budget.
type PlannerConfig struct {
	MinTokens      int `yaml:"min_tokens"`
	MaxTokens      int `yaml:"max_tokens"`
	MinInputTokens int `yaml:"min_input_tokens"`
}

// RetryConfig controls transient-failure retries in the model gateway.
type RetryConfig struct {
	MaxRetries     int           `yaml:"max_retries"`
	BaseDelay      time.Duration `yaml:"base_delay"`
	AttemptTimeout time.Duration `yaml:"attempt_timeout"`
}

// FallbackPolicy decides which primary-tier failures trigger the fallback chain.
type FallbackPolicy string

const (
	// FallbackAny falls back on every primary failure.
	FallbackAny FallbackPolicy = "any"
	// FallbackAvailability surfaces caller errors and falls back only on
	// availability problems.
	FallbackAvailability FallbackPolicy = "availability"
)

// GatewayConfig holds gateway behaviour switches.
type GatewayConfig struct {
	FallbackPolicy FallbackPolicy `yaml:"fallback_policy"`
	SelfTestPrompt string         `yaml:"self_test_prompt"`
}

// ConversationConfig bounds the in-memory conversation store.
type ConversationConfig struct {
	MaxConversations int `yaml:"max_conversations"`
	MaxMessages      int `yaml:"max_messages"`
	ContextWindow    int `yaml:"context_window"`
	// BudgetMultiplier × remaining conversation budget is the hard block
	// threshold for a single turn.
	BudgetMultiplier int `yaml:"budget_multiplier"`
}

// ResourceConfig caps attached-resource digests.
type ResourceConfig struct {
	MaxResources      int `yaml:"max_resources"`
	PerResourceTokens int `yaml:"per_resource_tokens"`
	MaxTotalTokens    int `yaml:"max_total_tokens"`
}

// LogConfig controls the zap logger.
type LogConfig struct {
	Level      string `yaml:"level"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

// MetricsConfig controls the optional Prometheus listener.
type MetricsConfig struct {
	Listen string `yaml:"listen"`
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		LedgerPath: "costgate-usage.json",
		Providers: []ProviderConfig{
			{Name: "openai", URL: "https://api.openai.com", APIKey: "${OPENAI_API_KEY}"},
		},
		Models: ModelsConfig{
			Primary: ModelTarget{Model: "gpt-5"},
			Fallbacks: []ModelTarget{
				{Model: "gpt-4.1"},
				{Model: "gpt-4o"},
				{Model: "gpt-4o-mini"},
			},
			DefaultReasoningEffort: models.EffortMedium,
		},
		Planner: PlannerConfig{
			MinTokens:      4000,
			MaxTokens:      128000,
			MinInputTokens: 500,
		},
		Retry: RetryConfig{
			MaxRetries:     3,
			BaseDelay:      time.Second,
			AttemptTimeout: 120 * time.Second,
		},
		Gateway: GatewayConfig{
			FallbackPolicy: FallbackAny,
			SelfTestPrompt: "Reply with the single word: ok",
		},
		Conversations: ConversationConfig{
			MaxConversations: 50,
			MaxMessages:      100,
			ContextWindow:    20,
			BudgetMultiplier: 10,
		},
		Resources: ResourceConfig{
			MaxResources:      10,
			PerResourceTokens: 1500,
			MaxTotalTokens:    8000,
		},
		Audit: models.AuditConfig{
			Enabled:       false,
			DBPath:        "costgate-audit.db",
			RetentionDays: 30,
		},
		Log: LogConfig{
			Level:      "info",
			MaxSizeMB:  50,
			MaxBackups: 5,
			MaxAgeDays: 30,
		},
	}
}

// Load reads a YAML config file and expands environment variables.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.expandDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadOrDefault loads path when set and falls back to defaults otherwise.
func LoadOrDefault(path string) (*Config, error) {
	if path == "" {
		cfg := Default()
		cfg.expandDefaults()
		return cfg, nil
	}
	return Load(path)
}

// expandDefaults resolves ${VAR} references left in default values.
func (c *Config) expandDefaults() {
	for i := range c.Providers {
		c.Providers[i].APIKey = os.ExpandEnv(c.Providers[i].APIKey)
		c.Providers[i].URL = os.ExpandEnv(c.Providers[i].URL)
	}
}

// Validate reports configuration values that cannot work together.
func (c *Config) Validate() error {
	var errs []error
	if len(c.Providers) == 0 {
		errs = append(errs, errors.New("at least one provider is required"))
	}
	if c.Models.Primary.Model == "" {
		errs = append(errs, errors.New("models.primary.model is required"))
	}
	if !c.Models.DefaultReasoningEffort.Valid() {
		errs = append(errs, fmt.Errorf("models.default_reasoning_effort: unknown value %q", c.Models.DefaultReasoningEffort))
	}
	if c.Retry.MaxRetries < 0 {
		errs = append(errs, errors.New("retry.max_retries must not be negative"))
	}
	if c.Retry.BaseDelay < 0 {
		errs = append(errs, errors.New("retry.base_delay must not be negative"))
	}
	if c.Retry.AttemptTimeout < 0 {
		errs = append(errs, errors.New("retry.attempt_timeout must not be negative"))
	}
	if c.Planner.MaxTokens > 0 && c.Planner.MaxTokens < c.Planner.MinTokens {
		errs = append(errs, errors.New("planner.max_tokens must be >= planner.min_tokens"))
	}
	if c.Conversations.MaxConversations < 1 {
		errs = append(errs, errors.New("conversations.max_conversations must be positive"))
	}
	if c.Conversations.MaxMessages < 2 {
		errs = append(errs, errors.New("conversations.max_messages must be at least 2"))
	}
	switch c.Gateway.FallbackPolicy {
	case FallbackAny, FallbackAvailability:
	default:
		errs = append(errs, fmt.Errorf("gateway.fallback_policy: unknown value %q", c.Gateway.FallbackPolicy))
	}
	if c.Limits.Daily != nil && c.Limits.Daily.IsNegative() {
		errs = append(errs, errors.New("limits.daily must not be negative"))
	}
	if c.Limits.PerTask != nil && c.Limits.PerTask.IsNegative() {
		errs = append(errs, errors.New("limits.per_task must not be negative"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}
