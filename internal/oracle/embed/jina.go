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

// Package embed provides catalog.Embedder implementations for the Jina
// embeddings API and Gemini.
package embed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/tombee/marketplace/pkg/catalog"
	"github.com/tombee/marketplace/pkg/errors"
	"github.com/tombee/marketplace/pkg/httpclient"
)

// Jina defaults.
const (
	DefaultJinaURL   = "https://api.jina.ai/v1/embeddings"
	DefaultJinaModel = "jina-embeddings-v3"
	DefaultBatchSize = 32
)

// JinaConfig configures a JinaEmbedder.
type JinaConfig struct {
	APIKey    string
	Model     string
	URL       string
	BatchSize int
	Timeout   time.Duration
}

// JinaEmbedder calls the Jina embeddings endpoint in batches.
type JinaEmbedder struct {
	cfg    JinaConfig
	client *http.Client
}

var _ catalog.Embedder = (*JinaEmbedder)(nil)

// NewJinaEmbedder creates an embedder. Requests are idempotent, so the
// shared client is allowed to retry the POSTs.
func NewJinaEmbedder(cfg JinaConfig) (*JinaEmbedder, error) {
	if cfg.APIKey == "" {
		return nil, &errors.ConfigError{Key: "embedding.api_key", Reason: "JINA_API_KEY is required for the jina embedder"}
	}
	if cfg.Model == "" {
		cfg.Model = DefaultJinaModel
	}
	if cfg.URL == "" {
		cfg.URL = DefaultJinaURL
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}

	hc := httpclient.DefaultConfig()
	hc.UserAgent = "marketplace-embed/1.0"
	hc.AllowNonIdempotentRetry = true
	if cfg.Timeout > 0 {
		hc.Timeout = cfg.Timeout
	}
	client, err := httpclient.New(hc)
	if err != nil {
		return nil, err
	}
	return &JinaEmbedder{cfg: cfg, client: client}, nil
}

type jinaRequest struct {
	Model        string   `json:"model"`
	Input        []string `json:"input"`
	EncodingType string   `json:"encoding_type"`
}

type jinaResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

// Embed returns one vector per text, in order.
func (j *JinaEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += j.cfg.BatchSize {
		end := min(start+j.cfg.BatchSize, len(texts))
		vecs, err := j.embedBatch(ctx, texts[start:end])
		if err != nil {
			return nil, err
		}
		out = append(out, vecs...)
	}
	return out, nil
}

func (j *JinaEmbedder) embedBatch(ctx context.Context, batch []string) ([][]float32, error) {
	body, err := json.Marshal(jinaRequest{Model: j.cfg.Model, Input: batch, EncodingType: "float"})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal embedding request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, j.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create embedding request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+j.cfg.APIKey)

	resp, err := j.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("embedding request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read embedding response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("jina embeddings returned %d: %s", resp.StatusCode, truncate(string(data), 256))
	}

	var parsed jinaResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse embedding response: %w", err)
	}
	if len(parsed.Data) != len(batch) {
		return nil, fmt.Errorf("jina embeddings returned %d vectors for %d inputs", len(parsed.Data), len(batch))
	}

	vecs := make([][]float32, len(batch))
	for i, d := range parsed.Data {
		idx := d.Index
		if idx < 0 || idx >= len(batch) || vecs[idx] != nil {
			idx = i
		}
		vecs[idx] = d.Embedding
	}
	return vecs, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
