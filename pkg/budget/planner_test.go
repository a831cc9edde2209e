package budget

import (
	"strings"
	"testing"

	"github.com/pario-ai/costgate/pkg/config"
	"github.com/pario-ai/costgate/pkg/pricing"
	"github.com/shopspring/decimal"
)

func newTestPlanner() *Planner {
	return NewPlanner(config.PlannerConfig{MinTokens: 4000, MaxTokens: 128000, MinInputTokens: 500},
		pricing.New(nil), "gpt-5")
}

func TestMaxTokensFromBudget(t *testing.T) {
	p := newTestPlanner()

	// $0.10 at gpt-5 rates: 0.03/0.00125*1000 = 24000 input, 0.07/0.01*1000 = 7000 output.
	got := p.MaxTokensFromBudget(decimal.RequireFromString("0.10"), 500)
	if got != 31500 {
		t.Errorf("expected 31500, got %d", got)
	}
}

func TestMaxTokensFloorAndCap(t *testing.T) {
	p := newTestPlanner()

	if got := p.MaxTokensFromBudget(decimal.Zero, 0); got != 4000 {
		t.Errorf("zero budget: expected floor 4000, got %d", got)
	}
	if got := p.MaxTokensFromBudget(decimal.RequireFromString("-5"), 100); got != 4000 {
		t.Errorf("negative budget: expected floor 4000, got %d", got)
	}
	if got := p.MaxTokensFromBudget(decimal.RequireFromString("1000000"), 100); got != 128000 {
		t.Errorf("huge budget: expected cap 128000, got %d", got)
	}
}

func TestMaxTokensMonotonic(t *testing.T) {
	p := newTestPlanner()
	prev := 0
	for cents := int64(0); cents <= 500; cents += 7 {
		got := p.MaxTokensFromBudget(decimal.New(cents, -2), 200)
		if got < prev {
			t.Fatalf("non-monotonic at %d cents: %d < %d", cents, got, prev)
		}
		if got < 4000 {
			t.Fatalf("below floor at %d cents: %d", cents, got)
		}
		prev = got
	}
}

func TestSafeInputTokens(t *testing.T) {
	p := newTestPlanner()

	tests := []struct {
		maxTokens, prompt, want int
	}{
		{10000, 100, 8900},  // reserve 1000 + 100
		{10000, 2000, 4000}, // reserve 4000 + 2000
		{1000, 100, 500},    // floored
	}
	for _, tt := range tests {
		if got := p.SafeInputTokens(tt.maxTokens, tt.prompt); got != tt.want {
			t.Errorf("SafeInputTokens(%d, %d) = %d, want %d", tt.maxTokens, tt.prompt, got, tt.want)
		}
	}
}

func TestEstimateTokenCount(t *testing.T) {
	if got := EstimateTokenCount(""); got != 0 {
		t.Errorf("empty: got %d", got)
	}
	prose := strings.Repeat("a", 12)
	if got := EstimateTokenCount(prose); got != 3 {
		t.Errorf("prose: expected 3, got %d", got)
	}
	code := "func main() {}" // 14 runes at 3 per token
	if got := EstimateTokenCount(code); got != 5 {
		t.Errorf("code: expected 5, got %d", got)
	}
	if got := EstimateTokenCount("héllo"); got != 2 {
		t.Errorf("runes: expected 2, got %d", got)
	}
}

func TestEstimateUsage(t *testing.T) {
	p := newTestPlanner()
	u := p.EstimateUsage("gpt-5", 1000, 1000)
	if u.TotalTokens != 2000 {
		t.Errorf("expected total 2000, got %d", u.TotalTokens)
	}
	if want := decimal.RequireFromString("0.01125"); !u.EstimatedCost.Equal(want) {
		t.Errorf("expected cost %s, got %s", want, u.EstimatedCost)
	}
}
