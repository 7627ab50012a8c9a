package providers

import (
	"context"
	"strings"
	"time"

	"google.golang.org/genai"

	"github.com/tombee/marketplace/pkg/errors"
	"github.com/tombee/marketplace/pkg/llm"
)

const defaultGeminiModel = "gemini-2.5-flash"

// generator is the subset of genai.Models used by GeminiProvider.
type generator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// GeminiProvider implements llm.Provider with the official genai client.
type GeminiProvider struct {
	models generator
	model  string
}

// NewGeminiProvider creates a Gemini provider. An empty API key lets the
// genai client read GOOGLE_API_KEY or GEMINI_API_KEY from the environment.
func NewGeminiProvider(ctx context.Context, cfg Config) (*GeminiProvider, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, &errors.ConfigError{Key: "llm.gemini", Reason: "failed to create genai client", Cause: err}
	}
	return &GeminiProvider{models: client.Models, model: firstNonEmpty(cfg.Model, defaultGeminiModel)}, nil
}

// Name returns the provider identifier.
func (p *GeminiProvider) Name() string {
	return "gemini"
}

// Complete calls GenerateContent. Assistant turns map to the "model" role.
func (p *GeminiProvider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	if len(req.Messages) == 0 {
		return nil, &errors.ValidationError{
			Field:   "messages",
			Message: "completion request must have at least one message",
		}
	}

	contents := make([]*genai.Content, 0, len(req.Messages))
	for _, m := range req.Messages {
		role := "user"
		if m.Role == llm.MessageRoleAssistant {
			role = "model"
		}
		contents = append(contents, &genai.Content{Role: role, Parts: []*genai.Part{{Text: m.Content}}})
	}

	config := &genai.GenerateContentConfig{}
	if req.JSON {
		config.ResponseMIMEType = "application/json"
	}
	if req.System != "" {
		config.SystemInstruction = &genai.Content{Parts: []*genai.Part{{Text: req.System}}}
	}
	if req.Temperature != nil {
		t := float32(*req.Temperature)
		config.Temperature = &t
	}
	if req.MaxTokens > 0 {
		config.MaxOutputTokens = int32(req.MaxTokens)
	}

	model := firstNonEmpty(req.Model, p.model)
	resp, err := p.models.GenerateContent(ctx, model, contents, config)
	if err != nil {
		return nil, geminiError(err)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return nil, &llm.HTTPError{Provider: p.Name(), StatusCode: 502, Message: "response contained no candidates"}
	}

	var text strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		text.WriteString(part.Text)
	}

	out := &llm.CompletionResponse{
		Content: text.String(),
		Model:   model,
		Created: time.Now(),
	}
	if resp.UsageMetadata != nil {
		out.Usage = llm.TokenUsage{
			InputTokens:  int(resp.UsageMetadata.PromptTokenCount),
			OutputTokens: int(resp.UsageMetadata.CandidatesTokenCount),
		}
	}
	return out, nil
}

// geminiError maps genai API errors onto llm.HTTPError so the retry and
// failover wrappers can classify them.
func geminiError(err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return &llm.HTTPError{Provider: "gemini", StatusCode: apiErr.Code, Message: apiErr.Message}
	}
	return err
}
