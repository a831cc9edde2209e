package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// ErrNoCompatibleModel is returned when every model in the chain failed.
var ErrNoCompatibleModel = errors.New("no compatible model available")

// ErrMalformedResponse marks a 2xx body that could not be decoded. The call
// may already be billed, so it is never retried.
var ErrMalformedResponse = errors.New("malformed upstream response")

// errRequestSetup marks failures building the HTTP request itself.
var errRequestSetup = errors.New("request setup failed")

// APIError is a structured upstream failure.
type APIError struct {
	StatusCode int
	Type       string
	Code       string
	Param      string
	Message    string
}

func (e *APIError) Error() string {
	var b strings.Builder
	b.WriteString("upstream")
	if e.StatusCode != 0 {
		fmt.Fprintf(&b, " status %d", e.StatusCode)
	}
	if e.Code != "" {
		fmt.Fprintf(&b, " (%s)", e.Code)
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	return b.String()
}

// parseAPIError builds an APIError from an OpenAI-style error body.
func parseAPIError(status int, body []byte) *APIError {
	apiErr := &APIError{StatusCode: status}
	var envelope struct {
		Error struct {
			Message string          `json:"message"`
			Type    string          `json:"type"`
			Param   string          `json:"param"`
			Code    json.RawMessage `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &envelope); err == nil && envelope.Error.Message != "" {
		apiErr.Message = envelope.Error.Message
		apiErr.Type = envelope.Error.Type
		apiErr.Param = envelope.Error.Param
		apiErr.Code = rawString(envelope.Error.Code)
		return apiErr
	}
	msg := strings.TrimSpace(string(body))
	if len(msg) > 200 {
		msg = msg[:200]
	}
	if msg == "" {
		msg = http.StatusText(status)
	}
	apiErr.Message = msg
	return apiErr
}

// rawString renders a JSON string or number code as text.
func rawString(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}

// errorClass is how the gateway reacts to a failure.
type errorClass int

const (
	classPermanent errorClass = iota
	classTransient
	classUnavailable
)

func (c errorClass) String() string {
	switch c {
	case classTransient:
		return "transient"
	case classUnavailable:
		return "model_unavailable"
	}
	return "permanent"
}

var transientCodes = map[string]bool{
	"rate_limit_exceeded": true,
	"server_error":        true,
	"overloaded":          true,
	"timeout":             true,
}

var unavailableCodes = map[string]bool{
	"model_not_found":   true,
	"unsupported_model": true,
	"model_unavailable": true,
}

// paramCodes are rejections of a parameter the other API tier may accept.
var paramCodes = map[string]bool{
	"unsupported_parameter": true,
	"unsupported_value":     true,
	"invalid_parameter":     true,
}

// classify maps an attempt error to an errorClass. Deadline errors are
// transient because they come from the per-attempt timeout; callers check
// their own context before retrying.
func classify(err error) errorClass {
	if err == nil {
		return classPermanent
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, ErrMalformedResponse) || errors.Is(err, errRequestSetup) {
		return classPermanent
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return classTransient
	}

	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		// Network failures.
		return classTransient
	}
	switch {
	case transientCodes[apiErr.Code]:
		return classTransient
	case unavailableCodes[apiErr.Code]:
		return classUnavailable
	case apiErr.StatusCode == http.StatusTooManyRequests || apiErr.StatusCode >= 500:
		return classTransient
	case apiErr.StatusCode == http.StatusNotFound:
		return classUnavailable
	case apiErr.StatusCode == http.StatusBadRequest && apiErr.Param == "model":
		return classUnavailable
	}
	return classPermanent
}

// isCallerError reports whether err is a problem with the request itself
// rather than with model availability.
func isCallerError(err error) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) || classify(err) != classPermanent {
		return false
	}
	return !paramCodes[apiErr.Code]
}
