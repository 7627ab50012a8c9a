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

// Package elasticsearch is a catalog backend that stores items in an
// Elasticsearch or OpenSearch index and serves hybrid vector plus keyword
// search over the REST API.
package elasticsearch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tombee/marketplace/pkg/catalog"
	"github.com/tombee/marketplace/pkg/errors"
	"github.com/tombee/marketplace/pkg/httpclient"
)

// Defaults for Config.
const (
	DefaultIndex        = "workflows"
	DefaultDimensions   = 1024
	DefaultVectorWeight = 0.7
	bulkBatchSize       = 200
)

// Config configures the Elasticsearch backend.
type Config struct {
	URL      string `yaml:"url"`
	Index    string `yaml:"index"`
	APIKey   string `yaml:"api_key"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`

	Dimensions   int     `yaml:"dimensions"`
	VectorWeight float64 `yaml:"vector_weight"`

	// RequestsPerSecond throttles calls to the cluster (0 = unlimited).
	RequestsPerSecond float64       `yaml:"requests_per_second"`
	Timeout           time.Duration `yaml:"timeout"`

	// AWS enables SigV4 signing for managed OpenSearch domains.
	AWS *AWSConfig `yaml:"aws"`
}

// Client is a catalog.Catalog backed by an Elasticsearch index.
type Client struct {
	cfg      Config
	base     *url.URL
	http     *http.Client
	embedder catalog.Embedder
	logger   *slog.Logger
}

var _ catalog.Catalog = (*Client)(nil)

// New creates a client. The embedder is optional; without one, searches use
// the keyword leg only and indexing stores items without vectors.
func New(ctx context.Context, cfg Config, embedder catalog.Embedder, logger *slog.Logger) (*Client, error) {
	if cfg.URL == "" {
		return nil, &errors.ConfigError{Key: "catalog.elasticsearch.url", Reason: "is required"}
	}
	base, err := url.Parse(strings.TrimRight(cfg.URL, "/"))
	if err != nil {
		return nil, &errors.ConfigError{Key: "catalog.elasticsearch.url", Reason: "invalid URL", Cause: err}
	}
	if cfg.Index == "" {
		cfg.Index = DefaultIndex
	}
	if cfg.Dimensions <= 0 {
		cfg.Dimensions = DefaultDimensions
	}
	if cfg.VectorWeight <= 0 || cfg.VectorWeight > 1 {
		cfg.VectorWeight = DefaultVectorWeight
	}
	if logger == nil {
		logger = slog.Default()
	}

	hc := httpclient.DefaultConfig()
	hc.UserAgent = "marketplace-catalog/1.0"
	hc.AllowNonIdempotentRetry = true
	hc.RequestsPerSecond = cfg.RequestsPerSecond
	if cfg.Timeout > 0 {
		hc.Timeout = cfg.Timeout
	}
	if cfg.AWS != nil {
		signer, err := newSigV4Signer(ctx, *cfg.AWS)
		if err != nil {
			return nil, &errors.ConfigError{Key: "catalog.elasticsearch.aws", Reason: err.Error(), Cause: err}
		}
		hc.Signer = signer
	}
	client, err := httpclient.New(hc)
	if err != nil {
		return nil, err
	}

	return &Client{
		cfg:      cfg,
		base:     base,
		http:     client,
		embedder: embedder,
		logger:   logger.With(slog.String("component", "elasticsearch"), slog.String("index", cfg.Index)),
	}, nil
}

// apiError is a non-2xx response from the cluster.
type apiError struct {
	Status int
	Body   string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("elasticsearch returned %d: %s", e.Status, e.Body)
}

// do sends a request and decodes a JSON response into out when non-nil.
func (c *Client) do(ctx context.Context, method, path string, body []byte, contentType string, out any) error {
	u := *c.base
	path, u.RawQuery, _ = strings.Cut(path, "?")
	u.Path = strings.TrimRight(u.Path, "/") + path

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, u.String(), reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Accept", "application/json")
	switch {
	case c.cfg.APIKey != "":
		req.Header.Set("Authorization", "ApiKey "+c.cfg.APIKey)
	case c.cfg.Username != "":
		req.SetBasicAuth(c.cfg.Username, c.cfg.Password)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("elasticsearch %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 64<<20))
	if err != nil {
		return fmt.Errorf("reading elasticsearch response: %w", err)
	}
	if resp.StatusCode >= 300 {
		msg := string(data)
		if len(msg) > 512 {
			msg = msg[:512]
		}
		return &apiError{Status: resp.StatusCode, Body: msg}
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decoding elasticsearch response: %w", err)
	}
	return nil
}

func (c *Client) doJSON(ctx context.Context, method, path string, body any, out any) error {
	var raw []byte
	if body != nil {
		var err error
		if raw, err = json.Marshal(body); err != nil {
			return err
		}
	}
	return c.do(ctx, method, path, raw, "application/json", out)
}

// Ping checks the cluster is reachable.
func (c *Client) Ping(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/", nil, "", nil)
}

// EnsureIndex creates the index with the catalog mapping unless it exists.
// With recreate, an existing index is deleted first.
func (c *Client) EnsureIndex(ctx context.Context, recreate bool) error {
	path := "/" + url.PathEscape(c.cfg.Index)
	err := c.do(ctx, http.MethodHead, path, nil, "", nil)
	exists := err == nil
	var apiErr *apiError
	if err != nil && !(errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound) {
		return err
	}

	if exists && recreate {
		if err := c.do(ctx, http.MethodDelete, path, nil, "", nil); err != nil {
			return fmt.Errorf("deleting index: %w", err)
		}
		c.logger.Info("deleted existing index")
		exists = false
	}
	if exists {
		return nil
	}
	if err := c.doJSON(ctx, http.MethodPut, path, indexMapping(c.cfg.Dimensions), nil); err != nil {
		return fmt.Errorf("creating index: %w", err)
	}
	c.logger.Info("created index", slog.Int("dimensions", c.cfg.Dimensions))
	return nil
}

type bulkResponse struct {
	Errors bool `json:"errors"`
	Items  []map[string]struct {
		ID     string `json:"_id"`
		Status int    `json:"status"`
		Error  *struct {
			Type   string `json:"type"`
			Reason string `json:"reason"`
		} `json:"error"`
	} `json:"items"`
}

// IndexItems upserts items in batches, embedding any item without a vector
// when an embedder is configured. It returns the number indexed.
func (c *Client) IndexItems(ctx context.Context, items []catalog.Item) (int, error) {
	indexed := 0
	for start := 0; start < len(items); start += bulkBatchSize {
		end := min(start+bulkBatchSize, len(items))
		batch := make([]catalog.Item, end-start)
		for i, it := range items[start:end] {
			batch[i] = it.Clone()
		}
		if err := c.embedBatch(ctx, batch); err != nil {
			return indexed, err
		}

		var buf bytes.Buffer
		enc := json.NewEncoder(&buf)
		for _, it := range batch {
			it.SimilarityScore = 0
			meta := map[string]any{"index": map[string]any{"_index": c.cfg.Index, "_id": it.ID}}
			if err := enc.Encode(meta); err != nil {
				return indexed, err
			}
			if err := enc.Encode(document{Item: it, FullText: it.Text()}); err != nil {
				return indexed, err
			}
		}

		var resp bulkResponse
		if err := c.do(ctx, http.MethodPost, "/_bulk?refresh=wait_for", buf.Bytes(), "application/x-ndjson", &resp); err != nil {
			return indexed, fmt.Errorf("bulk indexing: %w", err)
		}
		for _, entry := range resp.Items {
			for _, result := range entry {
				if result.Error != nil {
					c.logger.Warn("item failed to index",
						slog.String("item_id", result.ID),
						slog.String("reason", result.Error.Reason))
					continue
				}
				indexed++
			}
		}
	}
	c.logger.Info("indexed catalog items", slog.Int("indexed", indexed), slog.Int("total", len(items)))
	return indexed, nil
}

func (c *Client) embedBatch(ctx context.Context, batch []catalog.Item) error {
	if c.embedder == nil {
		return nil
	}
	var texts []string
	var positions []int
	for i, it := range batch {
		if len(it.Embedding) == 0 {
			texts = append(texts, it.Text())
			positions = append(positions, i)
		}
	}
	if len(texts) == 0 {
		return nil
	}
	vecs, err := c.embedder.Embed(ctx, texts)
	if err != nil {
		return errors.Wrap(err, "embedding catalog items")
	}
	for j, pos := range positions {
		if j < len(vecs) {
			batch[pos].Embedding = vecs[j]
		}
	}
	return nil
}

type searchResponse struct {
	Hits struct {
		Hits []struct {
			ID     string       `json:"_id"`
			Score  float64      `json:"_score"`
			Source catalog.Item `json:"_source"`
		} `json:"hits"`
	} `json:"hits"`
}

// Search runs a hybrid query and returns up to topK items.
func (c *Client) Search(ctx context.Context, text string, filters catalog.Filters, topK int) ([]catalog.Item, error) {
	if topK <= 0 {
		return nil, nil
	}

	var vector []float32
	if c.embedder != nil {
		vecs, err := c.embedder.Embed(ctx, []string{text})
		if err != nil {
			c.logger.Warn("query embedding failed, using keyword search", "error", err)
		} else if len(vecs) > 0 {
			vector = vecs[0]
		}
	}

	var resp searchResponse
	path := "/" + url.PathEscape(c.cfg.Index) + "/_search"
	if err := c.doJSON(ctx, http.MethodPost, path, hybridQuery(text, vector, filters, topK, c.cfg.VectorWeight), &resp); err != nil {
		return nil, err
	}

	out := make([]catalog.Item, 0, len(resp.Hits.Hits))
	for _, hit := range resp.Hits.Hits {
		it := hit.Source
		if it.ID == "" {
			it.ID = hit.ID
		}
		it.SimilarityScore = normalizeScore(hit.Score, len(vector) > 0, c.cfg.VectorWeight)
		out = append(out, it)
	}
	return out, nil
}

type getResponse struct {
	Found  bool         `json:"found"`
	Source catalog.Item `json:"_source"`
}

// Get fetches one item by id.
func (c *Client) Get(ctx context.Context, id string) (*catalog.Item, error) {
	var resp getResponse
	path := "/" + url.PathEscape(c.cfg.Index) + "/_doc/" + url.PathEscape(id)
	err := c.doJSON(ctx, http.MethodGet, path, nil, &resp)
	var apiErr *apiError
	if errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound {
		return nil, &errors.NotFoundError{Resource: "catalog item", ID: id}
	}
	if err != nil {
		return nil, err
	}
	if !resp.Found {
		return nil, &errors.NotFoundError{Resource: "catalog item", ID: id}
	}
	it := resp.Source
	if it.ID == "" {
		it.ID = id
	}
	return &it, nil
}

// List returns items sorted by id.
func (c *Client) List(ctx context.Context, opts catalog.ListOptions) ([]catalog.Item, error) {
	size := opts.Limit
	if size <= 0 {
		size = 1000
	}
	query := map[string]any{"match_all": map[string]any{}}
	if opts.Category != "" {
		query = map[string]any{"term": map[string]any{"category": opts.Category}}
	}
	body := map[string]any{
		"size":    size,
		"query":   query,
		"sort":    []any{map[string]any{"id": "asc"}},
		"_source": map[string]any{"excludes": []string{"full_text", "embedding"}},
	}

	var resp searchResponse
	path := "/" + url.PathEscape(c.cfg.Index) + "/_search"
	if err := c.doJSON(ctx, http.MethodPost, path, body, &resp); err != nil {
		return nil, err
	}
	out := make([]catalog.Item, 0, len(resp.Hits.Hits))
	for _, hit := range resp.Hits.Hits {
		out = append(out, hit.Source)
	}
	return out, nil
}
