package gateway

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/pario-ai/costgate/pkg/config"
)

const (
	responsesPath       = "/v1/responses"
	chatCompletionsPath = "/v1/chat/completions"
)

// maxErrorBody bounds how much of an error response is read.
const maxErrorBody = 64 << 10

// Client posts JSON requests to OpenAI-compatible providers.
type Client struct {
	http *http.Client
}

// NewClient returns a Client using hc, or http.DefaultClient when hc is nil.
func NewClient(hc *http.Client) *Client {
	if hc == nil {
		hc = http.DefaultClient
	}
	return &Client{http: hc}
}

// Post sends body to path on provider. On a 2xx status the caller owns the
// returned body and must close it; other statuses become *APIError.
func (c *Client) Post(ctx context.Context, provider config.ProviderConfig, path string, body []byte, stream bool) (io.ReadCloser, error) {
	target, err := url.Parse(strings.TrimRight(provider.URL, "/"))
	if err != nil {
		return nil, fmt.Errorf("%w: invalid provider URL: %w", errRequestSetup, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target.String()+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: create request: %w", errRequestSetup, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if provider.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+provider.APIKey)
	}
	if stream {
		req.Header.Set("Accept", "text/event-stream")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, parseAPIError(resp.StatusCode, data)
	}
	return resp.Body, nil
}
