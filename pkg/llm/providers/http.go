package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/tombee/marketplace/pkg/httpclient"
	"github.com/tombee/marketplace/pkg/llm"
)

// maxErrorBody bounds how much of an error response ends up in a message.
const maxErrorBody = 512

// httpDoer is satisfied by *http.Client.
type httpDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// newHTTPClient returns a client for model APIs. Retries are handled by
// llm.RetryingProvider, which understands provider status codes.
func newHTTPClient(name string, timeout time.Duration) (*http.Client, error) {
	cfg := httpclient.DefaultConfig()
	if timeout > 0 {
		cfg.Timeout = timeout
	} else {
		cfg.Timeout = 120 * time.Second
	}
	cfg.UserAgent = "marketplace-" + name + "/1.0"
	cfg.RetryAttempts = 0

	client, err := httpclient.New(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP client: %w", err)
	}
	return client, nil
}

// postJSON sends in as JSON and decodes a 2xx response into out. Other
// statuses become *llm.HTTPError.
func postJSON(ctx context.Context, client httpDoer, provider, url string, headers map[string]string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("%s: failed to marshal request: %w", provider, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%s: failed to create request: %w", provider, err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("%s: request failed: %w", provider, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return &llm.HTTPError{Provider: provider, StatusCode: resp.StatusCode, Message: fmt.Sprintf("failed to read response: %v", err)}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &llm.HTTPError{Provider: provider, StatusCode: resp.StatusCode, Message: errorMessage(respBody)}
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("%s: failed to parse response: %w", provider, err)
	}
	return nil
}

// errorMessage extracts the message from the error envelopes used by the
// supported APIs, falling back to the truncated raw body.
func errorMessage(body []byte) string {
	var nested struct {
		Error struct {
			Type    string `json:"type"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &nested); err == nil && nested.Error.Message != "" {
		if nested.Error.Type != "" {
			return nested.Error.Type + ": " + nested.Error.Message
		}
		return nested.Error.Message
	}

	var flat struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(body, &flat); err == nil && flat.Error != "" {
		return flat.Error
	}

	msg := strings.TrimSpace(string(body))
	if len(msg) > maxErrorBody {
		msg = msg[:maxErrorBody] + "..."
	}
	return msg
}
