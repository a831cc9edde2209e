package gateway

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractUsageAliases(t *testing.T) {
	tests := []struct {
		name                             string
		raw                              string
		input, output, reasoning, cached int
	}{
		{
			name:  "responses",
			raw:   `{"input_tokens":120,"output_tokens":80,"output_tokens_details":{"reasoning_tokens":30},"input_tokens_details":{"cached_tokens":20}}`,
			input: 120, output: 80, reasoning: 30, cached: 20,
		},
		{
			name:  "chat completions",
			raw:   `{"prompt_tokens":10,"completion_tokens":5,"completion_tokens_details":{"reasoning_tokens":2},"prompt_tokens_details":{"cached_tokens":4}}`,
			input: 10, output: 5, reasoning: 2, cached: 4,
		},
		{
			name:  "flat reasoning",
			raw:   `{"prompt_tokens":7,"completion_tokens":3,"reasoning_tokens":1}`,
			input: 7, output: 3, reasoning: 1,
		},
		{name: "missing", raw: ``},
		{name: "null", raw: `null`},
		{name: "garbage", raw: `"nope"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			u := ExtractUsage(json.RawMessage(tt.raw))
			assert.Equal(t, tt.input, u.InputTokens)
			assert.Equal(t, tt.output, u.OutputTokens)
			assert.Equal(t, tt.reasoning, u.ReasoningTokens)
			assert.Equal(t, tt.cached, u.CachedTokens)
			assert.Equal(t, tt.input+tt.output, u.TotalTokens)
		})
	}
}

func TestStreamErrorEvent(t *testing.T) {
	stream := "data: {\"type\":\"response.output_text.delta\",\"delta\":\"x\"}\n\n" +
		"data: {\"type\":\"response.failed\",\"response\":{\"error\":{\"code\":\"server_error\",\"message\":\"boom\"}}}\n\n"

	_, err := readResponsesStream(strings.NewReader(stream))
	require.Error(t, err)
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "server_error", apiErr.Code)
	assert.Equal(t, classTransient, classify(err))
}

func TestResponsesStreamFallsBackToCompletedText(t *testing.T) {
	stream := `data: {"type":"response.completed","response":{"output":[{"type":"message","content":[{"type":"output_text","text":"whole"}]}]}}` + "\n\n"
	agg, err := readResponsesStream(strings.NewReader(stream))
	require.NoError(t, err)
	assert.Equal(t, "whole", agg.text)
}

func TestParseAPIErrorPlainBody(t *testing.T) {
	e := parseAPIError(502, []byte("<html>bad gateway</html>"))
	assert.Equal(t, 502, e.StatusCode)
	assert.Contains(t, e.Error(), "status 502")
	assert.Contains(t, e.Error(), "bad gateway")
}
