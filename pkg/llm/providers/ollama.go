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

package providers

import (
	"context"
	"strings"
	"time"

	"github.com/tombee/marketplace/pkg/errors"
	"github.com/tombee/marketplace/pkg/llm"
)

const (
	// defaultOllamaURL is the default Ollama API endpoint
	defaultOllamaURL   = "http://localhost:11434"
	defaultOllamaModel = "llama3.2"
)

// OllamaProvider implements llm.Provider against a local Ollama server.
// It needs no credentials, which makes it the usual last link in a
// failover chain.
type OllamaProvider struct {
	baseURL string
	model   string
	client  httpDoer
}

// NewOllamaProvider creates a new Ollama provider instance.
func NewOllamaProvider(cfg Config) (*OllamaProvider, error) {
	client, err := newHTTPClient("ollama", cfg.Timeout)
	if err != nil {
		return nil, err
	}
	p := &OllamaProvider{
		baseURL: defaultOllamaURL,
		model:   defaultOllamaModel,
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
func (p *OllamaProvider) Name() string {
	return "ollama"
}

// Complete calls /api/chat without streaming.
func (p *OllamaProvider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	if len(req.Messages) == 0 {
		return nil, &errors.ValidationError{
			Field:   "messages",
			Message: "completion request must have at least one message",
		}
	}

	apiReq := ollamaRequest{
		Model:  firstNonEmpty(req.Model, p.model),
		Stream: false,
	}
	if req.System != "" {
		apiReq.Messages = append(apiReq.Messages, openAIMessage{Role: "system", Content: req.System})
	}
	for _, m := range req.Messages {
		apiReq.Messages = append(apiReq.Messages, openAIMessage{Role: string(m.Role), Content: m.Content})
	}
	if req.JSON {
		apiReq.Format = "json"
	}
	if req.Temperature != nil || req.MaxTokens > 0 {
		apiReq.Options = &ollamaOptions{Temperature: req.Temperature}
		if req.MaxTokens > 0 {
			apiReq.Options.NumPredict = req.MaxTokens
		}
	}

	var apiResp ollamaResponse
	if err := postJSON(ctx, p.client, p.Name(), p.baseURL+"/api/chat", nil, apiReq, &apiResp); err != nil {
		return nil, err
	}

	return &llm.CompletionResponse{
		Content: apiResp.Message.Content,
		Model:   apiResp.Model,
		Usage: llm.TokenUsage{
			InputTokens:  apiResp.PromptEvalCount,
			OutputTokens: apiResp.EvalCount,
		},
		Created: time.Now(),
	}, nil
}

type ollamaRequest struct {
	Model    string          `json:"model"`
	Messages []openAIMessage `json:"messages"`
	Stream   bool            `json:"stream"`
	Format   string          `json:"format,omitempty"`
	Options  *ollamaOptions  `json:"options,omitempty"`
}

type ollamaOptions struct {
	Temperature *float64 `json:"temperature,omitempty"`
	NumPredict  int      `json:"num_predict,omitempty"`
}

type ollamaResponse struct {
	Model           string        `json:"model"`
	Message         openAIMessage `json:"message"`
	PromptEvalCount int           `json:"prompt_eval_count"`
	EvalCount       int           `json:"eval_count"`
}
