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
	"strconv"
	"strings"
	"time"
)

// loadFromEnv overlays environment variables. Unparseable numbers are
// ignored and leave the file or default value in place.
func (c *Config) loadFromEnv() {
	// Server
	if val := os.Getenv("MARKET_ADDR"); val != "" {
		c.Server.Addr = val
	}

	// Log
	if val := os.Getenv("LOG_LEVEL"); val != "" {
		c.Log.Level = strings.ToLower(val)
	}
	if val := os.Getenv("MARKET_LOG_LEVEL"); val != "" {
		c.Log.Level = strings.ToLower(val)
	}
	if val := os.Getenv("LOG_FORMAT"); val != "" {
		c.Log.Format = strings.ToLower(val)
	}
	if val := os.Getenv("LOG_SOURCE"); val != "" {
		c.Log.AddSource = val == "1" || strings.ToLower(val) == "true"
	}

	// Oracle
	if val := os.Getenv("MARKET_ORACLE_PROVIDER"); val != "" {
		c.Oracle.Provider = strings.ToLower(val)
	}
	switch c.Oracle.Provider {
	case "anthropic":
		setString(&c.Oracle.APIKey, "ANTHROPIC_API_KEY")
		setString(&c.Oracle.Model, "CLAUDE_MODEL")
	case "gemini":
		setString(&c.Oracle.APIKey, "GEMINI_API_KEY")
	case "openai":
		setString(&c.Oracle.APIKey, "OPENAI_API_KEY")
	}

	// Embedding
	if val := os.Getenv("MARKET_EMBEDDING_PROVIDER"); val != "" {
		c.Embedding.Provider = strings.ToLower(val)
	}
	if c.Embedding.Provider == EmbeddingNone && os.Getenv("JINA_API_KEY") != "" {
		c.Embedding.Provider = EmbeddingJina
	}
	switch c.Embedding.Provider {
	case EmbeddingJina:
		setString(&c.Embedding.APIKey, "JINA_API_KEY")
		setString(&c.Embedding.Model, "JINA_MODEL")
	case EmbeddingGemini:
		setString(&c.Embedding.APIKey, "GEMINI_API_KEY")
	}

	// Catalog
	if val := os.Getenv("MARKET_CATALOG_SOURCE"); val != "" {
		c.Catalog.Source = strings.ToLower(val)
	}
	setString(&c.Catalog.Elasticsearch.URL, "ELASTICSEARCH_HOST")
	setString(&c.Catalog.Elasticsearch.APIKey, "ELASTIC_API_KEY")
	setString(&c.Catalog.Elasticsearch.Index, "ELASTIC_INDEX_NAME")
	if val := os.Getenv("CACHE_TTL_SECONDS"); val != "" {
		if secs, err := strconv.Atoi(val); err == nil {
			c.Catalog.Cache.TTL = time.Duration(secs) * time.Second
		}
	}

	// Planner
	setFloat(&c.Planner.TauGood, "SCORE_THRESHOLD_GOOD")
	setFloat(&c.Planner.Epsilon, "SCORE_IMPROVEMENT_EPSILON")
	setInt(&c.Planner.MaxDepth, "MAX_RECURSION_DEPTH")
	setInt(&c.Planner.MinSubtasks, "SUBTASKS_MIN")
	setInt(&c.Planner.MaxSubtasks, "SUBTASKS_MAX")

	// Quality
	setFloat(&c.Quality.MinAcceptableScore, "MIN_ACCEPTABLE_SCORE")

	// Session
	if val := os.Getenv("MARKET_SESSION_BACKEND"); val != "" {
		c.Session.Backend = strings.ToLower(val)
	}
	setString(&c.Session.DSN, "MARKET_DATABASE_URL")
	if val := os.Getenv("MARKET_SESSION_TTL"); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			c.Session.TTL = d
		}
	}

	// Tracing
	if val := os.Getenv("MARKET_TRACING_ENABLED"); val != "" {
		c.Tracing.Enabled = val == "1" || strings.ToLower(val) == "true"
	}
}

func setString(dst *string, key string) {
	if val := os.Getenv(key); val != "" {
		*dst = val
	}
}

func setInt(dst *int, key string) {
	if val := os.Getenv(key); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			*dst = n
		}
	}
}

func setFloat(dst *float64, key string) {
	if val := os.Getenv(key); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			*dst = f
		}
	}
}
