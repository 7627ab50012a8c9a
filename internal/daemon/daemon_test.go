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

package daemon

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tombee/marketplace/internal/catalog/cache"
	"github.com/tombee/marketplace/internal/config"
	"github.com/tombee/marketplace/internal/market"
	"github.com/tombee/marketplace/internal/oracle"
	marketerrors "github.com/tombee/marketplace/pkg/errors"
)

const testCatalog = `
workflows:
  - id: w2_gather
    title: Gather W2 income forms
    category: data_gathering
    download_cost: 100
    execution_cost: 300
    rating: 4.5
  - id: ohio_file
    title: File Ohio state income tax return
    category: filing
    state: OH
    download_cost: 200
    execution_cost: 800
    rating: 4.8
    token_comparison:
      with_workflow: 1000
      from_scratch: 9000
`

const extraItem = `
workflows:
  - id: fed_compute
    title: Compute federal tax liability
    category: computation
    download_cost: 150
    execution_cost: 600
    rating: 4.0
`

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "tax.yaml"), []byte(testCatalog), 0o644))

	cfg := config.Default()
	cfg.Oracle.Provider = config.OracleKeyword
	cfg.Catalog.Paths = []string{filepath.Join(dir, "*.yaml")}
	cfg.Server.Addr = "127.0.0.1:0"
	require.NoError(t, cfg.Validate())
	return cfg
}

func TestBuild_FileCatalog(t *testing.T) {
	cfg := testConfig(t)

	c, err := Build(context.Background(), cfg, nil)
	require.NoError(t, err)
	defer c.Close()

	health := c.CatalogHealth(context.Background())
	assert.Equal(t, 2, health.Items)
	assert.Len(t, health.Digest, 64)
	assert.Equal(t, config.SourceFile, health.Source)
	assert.Nil(t, c.Embedder)

	resp, err := c.Service.Estimate(context.Background(), market.EstimateRequest{Query: "file my ohio state income tax"})
	require.NoError(t, err)
	require.NotEmpty(t, resp.Solutions)
	assert.Contains(t, resp.SessionID, "session_")
}

func TestBuild_WatchReloadsCatalog(t *testing.T) {
	cfg := testConfig(t)
	cfg.Catalog.Watch = true
	dir := filepath.Dir(cfg.Catalog.Paths[0])

	c, err := Build(context.Background(), cfg, nil)
	require.NoError(t, err)
	defer c.Close()
	before := c.CatalogHealth(context.Background()).Digest

	require.NoError(t, os.WriteFile(filepath.Join(dir, "federal.yaml"), []byte(extraItem), 0o644))

	assert.Eventually(t, func() bool {
		return c.CatalogHealth(context.Background()).Items == 3
	}, 5*time.Second, 50*time.Millisecond)
	assert.NotEqual(t, before, c.CatalogHealth(context.Background()).Digest)
}

func TestBuild_Errors(t *testing.T) {
	t.Run("missing catalog", func(t *testing.T) {
		cfg := testConfig(t)
		cfg.Catalog.Paths = []string{filepath.Join(t.TempDir(), "missing.yaml")}
		_, err := Build(context.Background(), cfg, nil)
		assert.ErrorContains(t, err, "failed to load catalog")
	})
	t.Run("bad filter", func(t *testing.T) {
		cfg := testConfig(t)
		cfg.Catalog.Filter = "rating >="
		_, err := Build(context.Background(), cfg, nil)
		var cerr *marketerrors.ConfigError
		assert.ErrorAs(t, err, &cerr)
	})
}

func TestNewOracle(t *testing.T) {
	cfg := config.Default()
	cfg.Oracle.Provider = config.OracleKeyword
	o, err := NewOracle(context.Background(), cfg, nil)
	require.NoError(t, err)
	assert.IsType(t, &oracle.KeywordOracle{}, o)

	cfg.Oracle.Provider = "anthropic"
	cfg.Oracle.APIKey = "sk-ant-test"
	o, err = NewOracle(context.Background(), cfg, nil)
	require.NoError(t, err)
	assert.IsType(t, &oracle.LLMOracle{}, o)

	cfg.Oracle.Provider = "nonexistent"
	_, err = NewOracle(context.Background(), cfg, nil)
	assert.Error(t, err)
}

func TestNewEmbedder(t *testing.T) {
	cfg := config.Default()
	e, err := NewEmbedder(context.Background(), cfg)
	require.NoError(t, err)
	assert.Nil(t, e)

	cfg.Embedding.Provider = config.EmbeddingJina
	cfg.Embedding.APIKey = "jina-test"
	e, err = NewEmbedder(context.Background(), cfg)
	require.NoError(t, err)
	assert.IsType(t, &cache.Embedder{}, e)

	cfg.Embedding.APIKey = ""
	_, err = NewEmbedder(context.Background(), cfg)
	assert.Error(t, err)
}

func TestDaemon_ServesHTTP(t *testing.T) {
	cfg := testConfig(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	d, err := New(ctx, cfg, Options{Version: "1.2.3"}, nil)
	require.NoError(t, err)

	errCh := make(chan error, 1)
	go func() { errCh <- d.Start(ctx) }()
	require.Eventually(t, func() bool { return d.Addr() != nil }, 5*time.Second, 10*time.Millisecond)

	resp, err := http.Get(fmt.Sprintf("http://%s/v1/health", d.Addr()))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Status  string `json:"status"`
		Version string `json:"version"`
		Catalog struct {
			Items int `json:"items"`
		} `json:"catalog"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "healthy", body.Status)
	assert.Equal(t, "1.2.3", body.Version)
	assert.Equal(t, 2, body.Catalog.Items)

	require.NoError(t, d.Shutdown(context.Background()))
	cancel()
	assert.NoError(t, <-errCh)
}
