// Package downstream implements the outbound hop to the next stage in the
// pipeline. Hops are never retried; a failure is classified and surfaced to
// the caller with the chain accumulated so far.
package downstream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/chainflow/pipeline/internal/domain"
)

const defaultTimeout = 10 * time.Second

// ClientOption configures the client.
type ClientOption func(*Client)

// WithTimeout sets the per-hop timeout. A hop exceeding it is treated as a
// network failure.
func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) {
		c.httpClient.Timeout = timeout
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(httpClient *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// Client posts the growing chain payload to the next stage's process
// endpoint.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// New creates a client for the stage at baseURL.
func New(baseURL string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{
			Timeout:   defaultTimeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Process forwards the payload to the downstream stage and decodes its
// response envelope. Transport failures and timeouts come back as network
// errors; a downstream non-200 is surfaced with the downstream's own message
// and status so every stage above the failure reflects it.
func (c *Client) Process(ctx context.Context, payload *domain.ChainPayload) (map[string]any, *domain.StageError) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, domain.ErrProcessing("failed to marshal payload").
			WithTrace(payload.TraceID).WithCause(err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/process", bytes.NewReader(body))
	if err != nil {
		return nil, domain.ErrProcessing("failed to create downstream request").
			WithTrace(payload.TraceID).WithCause(err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, domain.ErrNetwork(fmt.Sprintf("failed to call next service: %v", err)).
			WithTrace(payload.TraceID).WithCause(err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, domain.ErrNetwork("failed to read downstream response").
			WithTrace(payload.TraceID).WithCause(err)
	}

	var result map[string]any
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, domain.ErrNetwork("failed to decode downstream response").
			WithTrace(payload.TraceID).WithCause(err)
	}

	if resp.StatusCode != http.StatusOK {
		message := fmt.Sprintf("error calling next service: %d", resp.StatusCode)
		if m, ok := result["message"].(string); ok && m != "" {
			message = fmt.Sprintf("downstream error (%d): %s", resp.StatusCode, m)
		}
		return result, domain.ErrNetwork(message).WithTrace(payload.TraceID)
	}

	return result, nil
}
