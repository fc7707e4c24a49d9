package protocol

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

const (
	defaultWebhookTimeout = 30 * time.Second
	maxWebhookResponse    = 64 * 1024
)

// WebhookError reports a non-2xx response from a webhook endpoint.
type WebhookError struct {
	StatusCode int
	Body       string
}

func (e *WebhookError) Error() string {
	return fmt.Sprintf("webhook returned status %d", e.StatusCode)
}

// IsTransientWebhookError reports whether the error is worth retrying:
// network failures, timeouts, 5xx and 429 responses. Other HTTP statuses
// are treated as permanent.
func IsTransientWebhookError(err error) bool {
	var whErr *WebhookError
	if errors.As(err, &whErr) {
		return whErr.StatusCode >= http.StatusInternalServerError ||
			whErr.StatusCode == http.StatusTooManyRequests
	}

	return err != nil
}

// WebhookClient delivers a step's payload to an external endpoint.
type WebhookClient interface {
	Call(ctx context.Context, url, method string, payload map[string]any) error
}

// HTTPWebhookClient is the default WebhookClient over net/http with a
// bounded per-call timeout.
type HTTPWebhookClient struct {
	client *http.Client
}

// NewHTTPWebhookClient creates a webhook client. A non-positive timeout
// falls back to the default.
func NewHTTPWebhookClient(timeout time.Duration) *HTTPWebhookClient {
	if timeout <= 0 {
		timeout = defaultWebhookTimeout
	}

	return &HTTPWebhookClient{client: &http.Client{Timeout: timeout}}
}

// Call posts the payload as JSON and classifies the response.
func (c *HTTPWebhookClient) Call(ctx context.Context, url, method string, payload map[string]any) error {
	var body io.Reader

	if method != http.MethodGet && payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to encode webhook payload: %w", err)
		}

		body = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return fmt.Errorf("failed to build webhook request: %w", err)
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook call failed: %w", err)
	}

	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode >= http.StatusOK && resp.StatusCode < http.StatusMultipleChoices {
		return nil
	}

	responseBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxWebhookResponse))

	return &WebhookError{StatusCode: resp.StatusCode, Body: string(responseBody)}
}
