package embed

import (
	"context"
	"fmt"

	"google.golang.org/genai"

	"github.com/tombee/marketplace/pkg/catalog"
	"github.com/tombee/marketplace/pkg/errors"
)

// DefaultGeminiModel is the default Gemini embedding model.
const DefaultGeminiModel = "gemini-embedding-001"

// contentEmbedder is the subset of genai.Models used by GeminiEmbedder.
type contentEmbedder interface {
	EmbedContent(ctx context.Context, model string, contents []*genai.Content, config *genai.EmbedContentConfig) (*genai.EmbedContentResponse, error)
}

// GeminiEmbedder produces embeddings through the genai client.
type GeminiEmbedder struct {
	models     contentEmbedder
	model      string
	dimensions int32
	batchSize  int
}

var _ catalog.Embedder = (*GeminiEmbedder)(nil)

// NewGeminiEmbedder creates an embedder. Dimensions should match the
// catalog index mapping; 0 keeps the model default.
func NewGeminiEmbedder(ctx context.Context, apiKey, model string, dimensions int) (*GeminiEmbedder, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: apiKey, Backend: genai.BackendGeminiAPI})
	if err != nil {
		return nil, &errors.ConfigError{Key: "embedding.gemini", Reason: "failed to create genai client", Cause: err}
	}
	if model == "" {
		model = DefaultGeminiModel
	}
	return &GeminiEmbedder{models: client.Models, model: model, dimensions: int32(dimensions), batchSize: DefaultBatchSize}, nil
}

// Embed returns one vector per text, in order.
func (g *GeminiEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	var config *genai.EmbedContentConfig
	if g.dimensions > 0 {
		dims := g.dimensions
		config = &genai.EmbedContentConfig{OutputDimensionality: &dims}
	}

	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += g.batchSize {
		batch := texts[start:min(start+g.batchSize, len(texts))]
		contents := make([]*genai.Content, len(batch))
		for i, t := range batch {
			contents[i] = &genai.Content{Parts: []*genai.Part{{Text: t}}}
		}

		resp, err := g.models.EmbedContent(ctx, g.model, contents, config)
		if err != nil {
			return nil, fmt.Errorf("gemini embedding failed: %w", err)
		}
		if len(resp.Embeddings) != len(batch) {
			return nil, fmt.Errorf("gemini returned %d embeddings for %d inputs", len(resp.Embeddings), len(batch))
		}
		for _, e := range resp.Embeddings {
			out = append(out, e.Values)
		}
	}
	return out, nil
}
