package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	if cfg.Models.Primary.Model != "gpt-5" {
		t.Errorf("expected gpt-5 primary, got %s", cfg.Models.Primary.Model)
	}
	if cfg.Retry.BaseDelay != time.Second {
		t.Errorf("expected 1s base delay, got %v", cfg.Retry.BaseDelay)
	}
	if cfg.Conversations.BudgetMultiplier != 10 {
		t.Errorf("expected multiplier 10, got %d", cfg.Conversations.BudgetMultiplier)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should validate: %v", err)
	}
}

func TestLoad(t *testing.T) {
	t.Setenv("TEST_API_KEY", "sk-test-123")

	content := `
ledger_path: "usage.json"
providers:
  - name: openai
    url: https://api.openai.com
    api_key: ${TEST_API_KEY}
models:
  primary:
    model: o4-mini
  fallbacks:
    - model: gpt-4o
  default_reasoning_effort: high
  default_temperature: 0.2
limits:
  daily: 10.00
  per_task: 2.50
retry:
  max_retries: 2
  base_delay: 250ms
  attempt_timeout: 30s
gateway:
  fallback_policy: availability
pricing:
  - model: o4-mini
    input_per_1k: 0.0011
    output_per_1k: 0.0044
`
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}

	if cfg.LedgerPath != "usage.json" {
		t.Errorf("expected usage.json, got %s", cfg.LedgerPath)
	}
	if cfg.Providers[0].APIKey != "sk-test-123" {
		t.Errorf("env var not expanded: got %s", cfg.Providers[0].APIKey)
	}
	if cfg.Models.Primary.Model != "o4-mini" || len(cfg.Models.Fallbacks) != 1 {
		t.Errorf("unexpected models: %+v", cfg.Models)
	}
	if cfg.Models.DefaultTemperature == nil || *cfg.Models.DefaultTemperature != 0.2 {
		t.Errorf("expected temperature 0.2, got %v", cfg.Models.DefaultTemperature)
	}
	if cfg.Limits.Daily == nil || cfg.Limits.Daily.String() != "10" {
		t.Errorf("expected daily limit 10, got %v", cfg.Limits.Daily)
	}
	if cfg.Limits.PerTask == nil || cfg.Limits.PerTask.String() != "2.5" {
		t.Errorf("expected per-task limit 2.5, got %v", cfg.Limits.PerTask)
	}
	if cfg.Retry.BaseDelay != 250*time.Millisecond {
		t.Errorf("expected 250ms, got %v", cfg.Retry.BaseDelay)
	}
	if cfg.Gateway.FallbackPolicy != FallbackAvailability {
		t.Errorf("expected availability policy, got %s", cfg.Gateway.FallbackPolicy)
	}
	if len(cfg.Pricing) != 1 || cfg.Pricing[0].Output.String() != "0.0044" {
		t.Errorf("unexpected pricing: %+v", cfg.Pricing)
	}
	// untouched sections keep defaults
	if cfg.Conversations.MaxConversations != 50 {
		t.Errorf("expected default max conversations, got %d", cfg.Conversations.MaxConversations)
	}
}

func TestLoadMissing(t *testing.T) {
	_, err := Load("/nonexistent/config.yaml")
	if err == nil {
		t.Error("expected error for missing file")
	}
}

func TestLoadInvalid(t *testing.T) {
	content := `
models:
  primary:
    model: ""
gateway:
  fallback_policy: sometimes
`
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected validation error")
	}
}

func TestValidateRejectsNegativeDurations(t *testing.T) {
	cfg := Default()
	cfg.Retry.BaseDelay = -time.Second
	cfg.Retry.AttemptTimeout = -time.Second
	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation error")
	}
	for _, want := range []string{"retry.base_delay", "retry.attempt_timeout"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q does not mention %s", err, want)
		}
	}
}

func TestValidateMessageCap(t *testing.T) {
	cfg := Default()
	cfg.Conversations.MaxMessages = 1
	if err := cfg.Validate(); err == nil || !strings.Contains(err.Error(), "max_messages") {
		t.Errorf("expected max_messages error, got %v", err)
	}
}
