package budget

import (
	"math"
	"strings"
	"unicode/utf8"

	"github.com/pario-ai/costgate/pkg/config"
	"github.com/pario-ai/costgate/pkg/models"
	"github.com/pario-ai/costgate/pkg/pricing"
	"github.com/shopspring/decimal"
)

var (
	inputShare  = decimal.RequireFromString("0.3")
	outputShare = decimal.RequireFromString("0.7")
	perThousand = decimal.NewFromInt(1000)
)

// minOutputReserve is the smallest output allowance kept out of the input ceiling.
const minOutputReserve = 1000

// codeMarkers make EstimateTokenCount switch to the denser source-code ratio.
var codeMarkers = []string{
	"func ", "def ", "class ", "import ", "return ", "function ", "const ",
	"package ", "#include", "public ", "private ", "=>", "};", "var ", "let ",
}

// Planner converts currency budgets into token ceilings at the primary model's rates.
type Planner struct {
	rates     models.ModelPricing
	prices    *pricing.Table
	minTokens int
	maxTokens int
	minInput  int
}

// NewPlanner creates a Planner that prices tokens at primaryModel's rates.
func NewPlanner(cfg config.PlannerConfig, prices *pricing.Table, primaryModel string) *Planner {
	p := &Planner{
		rates:     prices.For(primaryModel),
		prices:    prices,
		minTokens: cfg.MinTokens,
		maxTokens: cfg.MaxTokens,
		minInput:  cfg.MinInputTokens,
	}
	if p.minInput <= 0 {
		p.minInput = 500
	}
	return p
}

// Ceiling is the largest value MaxTokensFromBudget can return.
func (p *Planner) Ceiling() int {
	if p.maxTokens > 0 {
		return p.maxTokens
	}
	return math.MaxInt32
}

// MaxTokensFromBudget splits remaining into a 30% input and 70% output share,
// converts each into tokens and adds the prompt estimate. The result is never
// below the configured minimum and never above the configured maximum.
func (p *Planner) MaxTokensFromBudget(remaining decimal.Decimal, promptEstimate int) int {
	if remaining.IsNegative() {
		remaining = decimal.Zero
	}
	if p.rates.Input.Sign() <= 0 || p.rates.Output.Sign() <= 0 {
		return p.Ceiling()
	}

	in := remaining.Mul(inputShare).Mul(perThousand).Div(p.rates.Input)
	out := remaining.Mul(outputShare).Mul(perThousand).Div(p.rates.Output)
	total := in.Floor().Add(out.Floor()).Add(decimal.NewFromInt(int64(max(promptEstimate, 0))))

	ceiling := decimal.NewFromInt(int64(p.Ceiling()))
	if total.GreaterThan(ceiling) {
		total = ceiling
	}
	tokens := int(total.IntPart())
	if tokens < p.minTokens {
		tokens = p.minTokens
	}
	return tokens
}

// SafeInputTokens is the room left for attached content once an output
// allowance and the prompt itself are reserved.
func (p *Planner) SafeInputTokens(maxTokens, promptEstimate int) int {
	reserve := OutputAllowance(promptEstimate) + promptEstimate
	safe := maxTokens - reserve
	if safe < p.minInput {
		return p.minInput
	}
	return safe
}

// OutputAllowance is the output token reservation for a prompt: twice its
// size, but never less than minOutputReserve.
func OutputAllowance(promptEstimate int) int {
	return max(minOutputReserve, 2*promptEstimate)
}

// EstimateUsage projects a priced TokenUsage for model.
func (p *Planner) EstimateUsage(model string, inputTokens, outputTokens int) models.TokenUsage {
	return p.prices.Price(model, models.NewTokenUsage(inputTokens, outputTokens, 0, 0))
}

// EstimateTokenCount approximates the token count of text: about 3 characters
// per token for source code and 4 for prose.
func EstimateTokenCount(text string) int {
	n := utf8.RuneCountInString(text)
	if n == 0 {
		return 0
	}
	ratio := CharsPerToken(text)
	return (n + ratio - 1) / ratio
}

// CharsPerToken is the characters-per-token ratio EstimateTokenCount applies to text.
func CharsPerToken(text string) int {
	if looksLikeCode(text) {
		return 3
	}
	return 4
}

func looksLikeCode(text string) bool {
	for _, m := range codeMarkers {
		if strings.Contains(text, m) {
			return true
		}
	}
	return false
}
