package gateway

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/pario-ai/costgate/pkg/models"
)

// maxSSELine bounds one server-sent event line.
const maxSSELine = 4 << 20

// aggregate is the complete output assembled from a stream or a plain body.
type aggregate struct {
	text  string
	usage json.RawMessage
	raw   json.RawMessage
	model string
}

// sseData calls fn with the payload of every data line until [DONE].
func sseData(r io.Reader, fn func(data []byte) error) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64<<10), maxSSELine)

	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "" {
			continue
		}
		if data == "[DONE]" {
			break
		}
		if err := fn([]byte(data)); err != nil {
			return err
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("reading stream: %w", err)
	}
	return nil
}

// readResponsesStream aggregates a /v1/responses event stream.
func readResponsesStream(r io.Reader) (*aggregate, error) {
	out := &aggregate{}
	var text strings.Builder

	err := sseData(r, func(data []byte) error {
		var evt models.ResponsesStreamEvent
		if err := json.Unmarshal(data, &evt); err != nil {
			return nil // skip unparseable events
		}
		switch evt.Type {
		case "response.output_text.delta":
			text.WriteString(evt.Delta)
		case "response.completed", "response.incomplete":
			var resp models.ResponsesResponse
			if err := json.Unmarshal(evt.Response, &resp); err == nil {
				out.usage = resp.Usage
				out.model = resp.Model
				out.raw = append(json.RawMessage(nil), evt.Response...)
				if text.Len() == 0 {
					text.WriteString(resp.Text())
				}
			}
		case "response.failed", "error":
			return streamError(data)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	out.text = text.String()
	return out, nil
}

// readChatStream aggregates a /v1/chat/completions chunk stream.
func readChatStream(r io.Reader) (*aggregate, error) {
	out := &aggregate{}
	var text strings.Builder

	err := sseData(r, func(data []byte) error {
		var chunk models.ChatCompletionChunk
		if err := json.Unmarshal(data, &chunk); err != nil {
			return nil
		}
		if chunk.Model != "" {
			out.model = chunk.Model
		}
		for _, c := range chunk.Choices {
			if c.Index == 0 {
				text.WriteString(c.Delta.Content)
			}
		}
		if len(chunk.Usage) > 0 && string(chunk.Usage) != "null" {
			out.usage = append(json.RawMessage(nil), chunk.Usage...)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	out.text = text.String()
	return out, nil
}

// streamError turns an in-stream failure event into an APIError.
func streamError(data []byte) error {
	var evt struct {
		Code     json.RawMessage `json:"code"`
		Message  string          `json:"message"`
		Error    *struct {
			Code    json.RawMessage `json:"code"`
			Message string          `json:"message"`
		} `json:"error"`
		Response *struct {
			Error *struct {
				Code    json.RawMessage `json:"code"`
				Message string          `json:"message"`
			} `json:"error"`
		} `json:"response"`
	}
	apiErr := &APIError{Message: "stream failed"}
	if err := json.Unmarshal(data, &evt); err != nil {
		return apiErr
	}
	switch {
	case evt.Response != nil && evt.Response.Error != nil:
		apiErr.Code, apiErr.Message = rawString(evt.Response.Error.Code), evt.Response.Error.Message
	case evt.Error != nil:
		apiErr.Code, apiErr.Message = rawString(evt.Error.Code), evt.Error.Message
	case evt.Message != "":
		apiErr.Code, apiErr.Message = rawString(evt.Code), evt.Message
	}
	return apiErr
}

// readResponsesBody decodes a non-streamed /v1/responses body.
func readResponsesBody(r io.Reader) (*aggregate, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	var resp models.ResponsesResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedResponse, err)
	}
	return &aggregate{text: resp.Text(), usage: resp.Usage, raw: data, model: resp.Model}, nil
}

// readChatBody decodes a non-streamed /v1/chat/completions body.
func readChatBody(r io.Reader) (*aggregate, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	var resp models.ChatCompletionResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedResponse, err)
	}
	out := &aggregate{usage: resp.Usage, raw: data, model: resp.Model}
	if len(resp.Choices) > 0 {
		out.text = resp.Choices[0].Message.Content
	}
	return out, nil
}
