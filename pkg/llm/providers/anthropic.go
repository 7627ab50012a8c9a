// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package providers contains concrete implementations of LLM providers.
package providers

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/tombee/marketplace/pkg/errors"
	"github.com/tombee/marketplace/pkg/llm"
)

const (
	// anthropicAPIBaseURL is the base URL for the Anthropic API
	anthropicAPIBaseURL = "https://api.anthropic.com/v1"

	// anthropicAPIVersion is the API version to use
	anthropicAPIVersion = "2023-06-01"

	defaultAnthropicModel     = "claude-3-5-haiku-latest"
	defaultAnthropicMaxTokens = 1024
)

// AnthropicProvider implements llm.Provider for the Anthropic Messages API.
type AnthropicProvider struct {
	apiKey  string
	baseURL string
	model   string
	client  httpDoer
}

// NewAnthropicProvider creates a new Anthropic provider instance.
func NewAnthropicProvider(cfg Config) (*AnthropicProvider, error) {
	if cfg.APIKey == "" {
		return nil, &errors.ConfigError{
			Key:    "llm.anthropic.api_key",
			Reason: "API key is required for Anthropic provider",
		}
	}
	client, err := newHTTPClient("anthropic", cfg.Timeout)
	if err != nil {
		return nil, err
	}
	p := &AnthropicProvider{
		apiKey:  cfg.APIKey,
		baseURL: anthropicAPIBaseURL,
		model:   defaultAnthropicModel,
		client:  client,
	}
	if cfg.BaseURL != "" {
		p.baseURL = strings.TrimRight(cfg.BaseURL, "/")
	}
	if cfg.Model != "" {
		p.model = cfg.Model
	}
	return p, nil
}

// Name returns the provider identifier.
func (p *AnthropicProvider) Name() string {
	return "anthropic"
}

// Complete sends a Messages API request. JSON mode is expressed by
// prefilling the assistant turn with an opening brace.
func (p *AnthropicProvider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	if len(req.Messages) == 0 {
		return nil, &errors.ValidationError{
			Field:      "messages",
			Message:    "completion request must have at least one message",
			Suggestion: "Add at least one message to the completion request",
		}
	}

	apiReq := anthropicRequest{
		Model:       firstNonEmpty(req.Model, p.model),
		System:      req.System,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	}
	if apiReq.MaxTokens <= 0 {
		apiReq.MaxTokens = defaultAnthropicMaxTokens
	}
	for _, m := range req.Messages {
		apiReq.Messages = append(apiReq.Messages, anthropicMessage{Role: string(m.Role), Content: m.Content})
	}
	prefill := ""
	if req.JSON && req.Messages[len(req.Messages)-1].Role == llm.MessageRoleUser {
		prefill = "{"
		apiReq.Messages = append(apiReq.Messages, anthropicMessage{Role: string(llm.MessageRoleAssistant), Content: prefill})
	}

	requestID := uuid.New().String()
	var apiResp anthropicResponse
	err := postJSON(ctx, p.client, p.Name(), p.baseURL+"/messages", map[string]string{
		"x-api-key":         p.apiKey,
		"anthropic-version": anthropicAPIVersion,
		"X-Request-ID":      requestID,
	}, apiReq, &apiResp)
	if err != nil {
		return nil, err
	}

	var text strings.Builder
	text.WriteString(prefill)
	for _, block := range apiResp.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}

	return &llm.CompletionResponse{
		Content:   text.String(),
		Model:     apiResp.Model,
		RequestID: firstNonEmpty(apiResp.ID, requestID),
		Usage: llm.TokenUsage{
			InputTokens:  apiResp.Usage.InputTokens,
			OutputTokens: apiResp.Usage.OutputTokens,
		},
		Created: time.Now(),
	}, nil
}

type anthropicRequest struct {
	Model       string             `json:"model"`
	Messages    []anthropicMessage `json:"messages"`
	MaxTokens   int                `json:"max_tokens"`
	System      string             `json:"system,omitempty"`
	Temperature *float64           `json:"temperature,omitempty"`
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	StopReason string `json:"stop_reason"`
	Usage      struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}
