package providers

import (
	"context"
	"strings"
	"time"

	"github.com/tombee/marketplace/pkg/errors"
	"github.com/tombee/marketplace/pkg/llm"
)

const (
	openAIAPIBaseURL   = "https://api.openai.com/v1"
	defaultOpenAIModel = "gpt-4o-mini"
)

// OpenAIProvider implements llm.Provider for the Chat Completions API.
// Any OpenAI-compatible endpoint works through BaseURL.
type OpenAIProvider struct {
	apiKey  string
	baseURL string
	model   string
	client  httpDoer
}

// NewOpenAIProvider creates an OpenAI provider.
func NewOpenAIProvider(cfg Config) (*OpenAIProvider, error) {
	if cfg.APIKey == "" {
		return nil, &errors.ConfigError{
			Key:    "llm.openai.api_key",
			Reason: "API key is required for OpenAI provider",
		}
	}
	client, err := newHTTPClient("openai", cfg.Timeout)
	if err != nil {
		return nil, err
	}
	p := &OpenAIProvider{
		apiKey:  cfg.APIKey,
		baseURL: openAIAPIBaseURL,
		model:   defaultOpenAIModel,
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
func (p *OpenAIProvider) Name() string {
	return "openai"
}

// Complete sends a chat completion request.
func (p *OpenAIProvider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	if len(req.Messages) == 0 {
		return nil, &errors.ValidationError{
			Field:   "messages",
			Message: "completion request must have at least one message",
		}
	}

	apiReq := openAIRequest{
		Model:       firstNonEmpty(req.Model, p.model),
		Temperature: req.Temperature,
	}
	if req.MaxTokens > 0 {
		apiReq.MaxTokens = req.MaxTokens
	}
	if req.System != "" {
		apiReq.Messages = append(apiReq.Messages, openAIMessage{Role: "system", Content: req.System})
	}
	for _, m := range req.Messages {
		apiReq.Messages = append(apiReq.Messages, openAIMessage{Role: string(m.Role), Content: m.Content})
	}
	if req.JSON {
		apiReq.ResponseFormat = &openAIResponseFormat{Type: "json_object"}
	}

	var apiResp openAIResponse
	err := postJSON(ctx, p.client, p.Name(), p.baseURL+"/chat/completions", map[string]string{
		"Authorization": "Bearer " + p.apiKey,
	}, apiReq, &apiResp)
	if err != nil {
		return nil, err
	}
	if len(apiResp.Choices) == 0 {
		return nil, &llm.HTTPError{Provider: p.Name(), StatusCode: 502, Message: "response contained no choices"}
	}

	return &llm.CompletionResponse{
		Content:   apiResp.Choices[0].Message.Content,
		Model:     apiResp.Model,
		RequestID: apiResp.ID,
		Usage: llm.TokenUsage{
			InputTokens:  apiResp.Usage.PromptTokens,
			OutputTokens: apiResp.Usage.CompletionTokens,
		},
		Created: time.Now(),
	}, nil
}

type openAIRequest struct {
	Model          string                `json:"model"`
	Messages       []openAIMessage       `json:"messages"`
	Temperature    *float64              `json:"temperature,omitempty"`
	MaxTokens      int                   `json:"max_tokens,omitempty"`
	ResponseFormat *openAIResponseFormat `json:"response_format,omitempty"`
}

type openAIMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openAIResponseFormat struct {
	Type string `json:"type"`
}

type openAIResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Message openAIMessage `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}
