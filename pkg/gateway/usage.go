package gateway

import (
	"encoding/json"
	"strings"

	"github.com/pario-ai/costgate/pkg/models"
)

// usageAliases maps each canonical usage field to the provider field paths
// that may carry it, in lookup order. Nested fields use dotted paths. New
// provider conventions are supported by adding paths here.
var usageAliases = []struct {
	set   func(u *models.TokenUsage, v int)
	paths []string
}{
	{
		set:   func(u *models.TokenUsage, v int) { u.InputTokens = v },
		paths: []string{"input_tokens", "prompt_tokens", "prompt_token_count"},
	},
	{
		set:   func(u *models.TokenUsage, v int) { u.OutputTokens = v },
		paths: []string{"output_tokens", "completion_tokens", "candidates_token_count"},
	},
	{
		set: func(u *models.TokenUsage, v int) { u.ReasoningTokens = v },
		paths: []string{
			"output_tokens_details.reasoning_tokens",
			"completion_tokens_details.reasoning_tokens",
			"reasoning_tokens",
		},
	},
	{
		set: func(u *models.TokenUsage, v int) { u.CachedTokens = v },
		paths: []string{
			"input_tokens_details.cached_tokens",
			"prompt_tokens_details.cached_tokens",
			"cached_tokens",
		},
	},
}

// ExtractUsage normalizes a provider usage object into a TokenUsage. Missing
// or unparseable usage yields zeros. Cost is left for the caller to price.
func ExtractUsage(raw json.RawMessage) models.TokenUsage {
	var fields map[string]any
	if len(raw) == 0 || json.Unmarshal(raw, &fields) != nil {
		return models.TokenUsage{}
	}

	var u models.TokenUsage
	for _, alias := range usageAliases {
		for _, path := range alias.paths {
			if v, ok := lookupInt(fields, path); ok {
				alias.set(&u, v)
				break
			}
		}
	}
	return models.NewTokenUsage(u.InputTokens, u.OutputTokens, u.ReasoningTokens, u.CachedTokens)
}

func lookupInt(fields map[string]any, path string) (int, bool) {
	parts := strings.Split(path, ".")
	var cur any = fields
	for _, p := range parts {
		m, ok := cur.(map[string]any)
		if !ok {
			return 0, false
		}
		if cur, ok = m[p]; !ok {
			return 0, false
		}
	}
	n, ok := cur.(float64)
	if !ok {
		return 0, false
	}
	return int(n), true
}
