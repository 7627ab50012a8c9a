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

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	marketerrors "github.com/tombee/marketplace/pkg/errors"
)

// clearEnv blanks every variable Load reads so host settings cannot leak in.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"MARKET_ADDR", "LOG_LEVEL", "MARKET_LOG_LEVEL", "LOG_FORMAT", "LOG_SOURCE",
		"MARKET_ORACLE_PROVIDER", "ANTHROPIC_API_KEY", "CLAUDE_MODEL", "GEMINI_API_KEY", "OPENAI_API_KEY",
		"MARKET_EMBEDDING_PROVIDER", "JINA_API_KEY", "JINA_MODEL",
		"MARKET_CATALOG_SOURCE", "ELASTICSEARCH_HOST", "ELASTIC_API_KEY", "ELASTIC_INDEX_NAME", "CACHE_TTL_SECONDS",
		"SCORE_THRESHOLD_GOOD", "SCORE_IMPROVEMENT_EPSILON", "MAX_RECURSION_DEPTH", "SUBTASKS_MIN", "SUBTASKS_MAX",
		"MIN_ACCEPTABLE_SCORE", "MARKET_SESSION_BACKEND", "MARKET_DATABASE_URL", "MARKET_SESSION_TTL",
		"MARKET_TRACING_ENABLED",
	} {
		t.Setenv(key, "")
	}
	t.Chdir(t.TempDir())
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, 0.85, cfg.Planner.TauGood)
	assert.Equal(t, 0.10, cfg.Planner.Epsilon)
	assert.Equal(t, 2, cfg.Planner.MaxDepth)
	assert.Equal(t, 0.5, cfg.Quality.MinAcceptableScore)
	assert.Equal(t, time.Hour, cfg.Session.TTL)
	assert.Equal(t, "memory", cfg.Session.Backend)
	assert.Equal(t, OracleKeyword, cfg.Oracle.Provider)
	assert.Equal(t, EmbeddingNone, cfg.Embedding.Provider)
	assert.Equal(t, SourceFile, cfg.Catalog.Source)
}

func TestLoad_File(t *testing.T) {
	clearEnv(t)
	path := writeFile(t, "marketd.yaml", `
server:
  addr: 127.0.0.1:9090
planner:
  tau_good: 0.9
  max_depth: 3
session:
  backend: sqlite
  path: /tmp/sessions.db
  ttl: 30m
quality:
  min_acceptable_score: 0.6
catalog:
  source: file
  paths: ["catalog/*.yaml"]
  filter: 'rating >= 3'
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:9090", cfg.Server.Addr)
	assert.Equal(t, 0.9, cfg.Planner.TauGood)
	assert.Equal(t, 3, cfg.Planner.MaxDepth)
	assert.Equal(t, 0.10, cfg.Planner.Epsilon, "fields absent from the file keep defaults")
	assert.Equal(t, "sqlite", cfg.Session.Backend)
	assert.Equal(t, 30*time.Minute, cfg.Session.TTL)

	mc := cfg.MarketService()
	assert.Equal(t, 30*time.Minute, mc.SessionTTL)
	assert.Equal(t, 0.6, mc.MinAcceptableScore)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	clearEnv(t)
	path := writeFile(t, "marketd.yaml", "planner:\n  tau_good: 0.9\n")
	t.Setenv("SCORE_THRESHOLD_GOOD", "0.8")
	t.Setenv("MAX_RECURSION_DEPTH", "4")
	t.Setenv("SUBTASKS_MAX", "6")
	t.Setenv("MIN_ACCEPTABLE_SCORE", "0.7")
	t.Setenv("CACHE_TTL_SECONDS", "120")
	t.Setenv("MARKET_ADDR", ":9999")
	t.Setenv("MARKET_SESSION_BACKEND", "postgres")
	t.Setenv("MARKET_DATABASE_URL", "postgres://market@localhost/market")
	t.Setenv("SUBTASKS_MIN", "not-a-number")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 0.8, cfg.Planner.TauGood)
	assert.Equal(t, 4, cfg.Planner.MaxDepth)
	assert.Equal(t, 6, cfg.Planner.MaxSubtasks)
	assert.Equal(t, 2, cfg.Planner.MinSubtasks)
	assert.Equal(t, 0.7, cfg.Quality.MinAcceptableScore)
	assert.Equal(t, 2*time.Minute, cfg.Catalog.Cache.TTL)
	assert.Equal(t, ":9999", cfg.Server.Addr)
	assert.Equal(t, "postgres", cfg.Session.Backend)
	assert.Equal(t, "postgres://market@localhost/market", cfg.Session.DSN)
}

func TestLoad_OracleSelection(t *testing.T) {
	t.Run("anthropic key", func(t *testing.T) {
		clearEnv(t)
		t.Setenv("ANTHROPIC_API_KEY", "sk-ant-test")
		t.Setenv("CLAUDE_MODEL", "claude-test")
		cfg, err := Load("")
		require.NoError(t, err)
		assert.Equal(t, "anthropic", cfg.Oracle.Provider)
		assert.Equal(t, "sk-ant-test", cfg.Oracle.APIKey)
		assert.Equal(t, "claude-test", cfg.OracleProviders()[0].Model)
	})
	t.Run("gemini key", func(t *testing.T) {
		clearEnv(t)
		t.Setenv("GEMINI_API_KEY", "g-key")
		cfg, err := Load("")
		require.NoError(t, err)
		assert.Equal(t, "gemini", cfg.Oracle.Provider)
	})
	t.Run("explicit provider", func(t *testing.T) {
		clearEnv(t)
		t.Setenv("ANTHROPIC_API_KEY", "sk-ant-test")
		t.Setenv("MARKET_ORACLE_PROVIDER", "keyword")
		cfg, err := Load("")
		require.NoError(t, err)
		assert.Equal(t, OracleKeyword, cfg.Oracle.Provider)
	})
	t.Run("jina key enables embeddings", func(t *testing.T) {
		clearEnv(t)
		t.Setenv("JINA_API_KEY", "jina-key")
		cfg, err := Load("")
		require.NoError(t, err)
		assert.Equal(t, EmbeddingJina, cfg.Embedding.Provider)
		assert.Equal(t, "jina-key", cfg.Embedding.APIKey)
	})
}

func TestLoad_DotEnv(t *testing.T) {
	clearEnv(t)
	require.NoError(t, os.WriteFile(".env", []byte("MARKET_ADDR=:7070\n"), 0o600))
	// godotenv keeps variables that are present, even when empty.
	require.NoError(t, os.Unsetenv("MARKET_ADDR"))
	t.Cleanup(func() { _ = os.Unsetenv("MARKET_ADDR") })

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, ":7070", cfg.Server.Addr)
}

func TestLoad_Errors(t *testing.T) {
	clearEnv(t)

	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	var cerr *marketerrors.ConfigError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, "config_file", cerr.Key)

	bad := writeFile(t, "bad.yaml", "planner: [unclosed")
	_, err = Load(bad)
	require.ErrorAs(t, err, &cerr)
}

func TestValidate_ReportsAllProblems(t *testing.T) {
	cfg := Default()
	cfg.Oracle.Provider = OracleKeyword
	cfg.Log.Level = "loud"
	cfg.Planner.TauGood = 2
	cfg.Catalog.Source = "ftp"
	cfg.Embedding.Provider = EmbeddingJina
	cfg.Session.Backend = "postgres"

	err := cfg.Validate()
	var cerr *marketerrors.ConfigError
	require.ErrorAs(t, err, &cerr)
	assert.Contains(t, cerr.Reason, "log.level")
	assert.Contains(t, cerr.Reason, "planner.tau_good")
	assert.Contains(t, cerr.Reason, "catalog.source")
	assert.Contains(t, cerr.Reason, "embedding.api_key")

	var verr *marketerrors.ValidationError
	assert.ErrorAs(t, err, &verr)
}

func TestValidate_CatalogSources(t *testing.T) {
	cfg := Default()
	cfg.Oracle.Provider = OracleKeyword

	cfg.Catalog.Source = SourceElasticsearch
	assert.Error(t, cfg.Validate())
	cfg.Catalog.Elasticsearch.URL = "http://localhost:9200"
	assert.NoError(t, cfg.Validate())

	cfg.Catalog.Source = SourceS3
	assert.Error(t, cfg.Validate())
	cfg.Catalog.S3.Endpoint = "localhost:9000"
	cfg.Catalog.S3.Bucket = "catalog"
	assert.NoError(t, cfg.Validate())

	cfg.Catalog.Filter = "rating >="
	assert.Error(t, cfg.Validate())

	cfg.Catalog.Filter = ""
	cfg.Oracle.Provider = "nonexistent"
	assert.Error(t, cfg.Validate())
}
