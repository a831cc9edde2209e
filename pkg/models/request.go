package models

import (
	"encoding/json"
	"time"
)

// Role is the author of a conversation message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	// RoleDeveloper marks the pinned instruction message of a conversation.
	RoleDeveloper Role = "developer"
	// RoleSystem is how developer instructions are sent to fallback models.
	RoleSystem Role = "system"
)

// Message is a single entry in a conversation history.
type Message struct {
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// ReasoningEffort is the primary model's deliberation setting.
type ReasoningEffort string

const (
	EffortMinimal ReasoningEffort = "minimal"
	EffortLow     ReasoningEffort = "low"
	EffortMedium  ReasoningEffort = "medium"
	EffortHigh    ReasoningEffort = "high"
)

// Valid reports whether e is a known effort level. The empty value is valid
// and means "use the configured default".
func (e ReasoningEffort) Valid() bool {
	switch e {
	case "", EffortMinimal, EffortLow, EffortMedium, EffortHigh:
		return true
	}
	return false
}

// Tier identifies which part of the model chain served a call.
type Tier string

const (
	TierPrimary  Tier = "primary"
	TierFallback Tier = "fallback"
)

// ModelCallRequest is the input to the model gateway. Exactly one of Prompt or
// Messages carries the input.
type ModelCallRequest struct {
	Prompt          string
	Messages        []Message
	Instructions    string
	Temperature     *float64
	ReasoningEffort ReasoningEffort
	MaxTokens       *int
	Stream          bool
	// TaskID is carried for attribution of call attempts only.
	TaskID string
}

// ModelCallResult is what the gateway returns regardless of the serving tier.
type ModelCallResult struct {
	Text  string          `json:"text"`
	Usage TokenUsage      `json:"usage"`
	Raw   json.RawMessage `json:"raw,omitempty"`
	Model string          `json:"model"`
	Tier  Tier            `json:"tier"`
}

// ChatMessage represents a single message in a chat completions request.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// StreamOptions asks the upstream to report usage on the final stream chunk.
type StreamOptions struct {
	IncludeUsage bool `json:"include_usage"`
}

// ChatCompletionRequest is an OpenAI-compatible chat completion request,
// used on the fallback tier.
type ChatCompletionRequest struct {
	Model         string         `json:"model"`
	Messages      []ChatMessage  `json:"messages"`
	Temperature   *float64       `json:"temperature,omitempty"`
	MaxTokens     *int           `json:"max_tokens,omitempty"`
	Stream        bool           `json:"stream,omitempty"`
	StreamOptions *StreamOptions `json:"stream_options,omitempty"`
}

// ChatCompletionResponse is an OpenAI-compatible chat completion response.
type ChatCompletionResponse struct {
	ID      string          `json:"id"`
	Object  string          `json:"object"`
	Created int64           `json:"created"`
	Model   string          `json:"model"`
	Choices []Choice        `json:"choices"`
	Usage   json.RawMessage `json:"usage,omitempty"`
}

// Choice represents a single completion choice.
type Choice struct {
	Index        int         `json:"index"`
	Message      ChatMessage `json:"message"`
	FinishReason string      `json:"finish_reason"`
}

// ChatCompletionChunk is an OpenAI streaming chunk.
type ChatCompletionChunk struct {
	ID      string          `json:"id"`
	Model   string          `json:"model"`
	Choices []ChunkChoice   `json:"choices"`
	Usage   json.RawMessage `json:"usage,omitempty"`
}

// ChunkChoice is a choice within a streaming chunk.
type ChunkChoice struct {
	Index        int         `json:"index"`
	Delta        ChatMessage `json:"delta"`
	FinishReason *string     `json:"finish_reason"`
}

// ReasoningConfig carries the effort parameter of a responses request.
type ReasoningConfig struct {
	Effort ReasoningEffort `json:"effort,omitempty"`
}

// ResponsesInputMessage is one role-tagged entry of a responses request input.
type ResponsesInputMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ResponsesRequest is a /v1/responses request, used on the primary tier.
// Input is either a string or a []ResponsesInputMessage. The primary model
// family rejects temperature and output-length parameters, so there are none.
type ResponsesRequest struct {
	Model        string           `json:"model"`
	Input        any              `json:"input"`
	Instructions string           `json:"instructions,omitempty"`
	Reasoning    *ReasoningConfig `json:"reasoning,omitempty"`
	Stream       bool             `json:"stream,omitempty"`
}

// ResponsesContent is a content part of a responses output item.
type ResponsesContent struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// ResponsesOutputItem is one item of a responses output array.
type ResponsesOutputItem struct {
	Type    string             `json:"type"`
	Role    string             `json:"role,omitempty"`
	Content []ResponsesContent `json:"content,omitempty"`
}

// ResponsesResponse is a /v1/responses response.
type ResponsesResponse struct {
	ID         string                `json:"id"`
	Model      string                `json:"model"`
	Status     string                `json:"status"`
	Output     []ResponsesOutputItem `json:"output"`
	OutputText string                `json:"output_text,omitempty"`
	Usage      json.RawMessage       `json:"usage,omitempty"`
}

// Text concatenates all output_text parts of the response.
func (r *ResponsesResponse) Text() string {
	if r.OutputText != "" {
		return r.OutputText
	}
	var out string
	for _, item := range r.Output {
		if item.Type != "message" {
			continue
		}
		for _, c := range item.Content {
			if c.Type == "output_text" {
				out += c.Text
			}
		}
	}
	return out
}

// ResponsesStreamEvent is a server-sent event on the responses stream.
type ResponsesStreamEvent struct {
	Type     string          `json:"type"`
	Delta    string          `json:"delta,omitempty"`
	Response json.RawMessage `json:"response,omitempty"`
}
