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
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/tombee/marketplace/internal/catalog/memory"
	marketerrors "github.com/tombee/marketplace/pkg/errors"
	"github.com/tombee/marketplace/pkg/llm/providers"
)

// Validate checks the whole configuration and reports every problem at
// once as a *errors.ConfigError.
func (c *Config) Validate() error {
	var errs []error
	add := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}

	if c.Server.Addr == "" {
		add(fmt.Errorf("server.addr is required"))
	}
	if c.Server.ReadTimeout < 0 || c.Server.WriteTimeout < 0 {
		add(fmt.Errorf("server timeouts must not be negative"))
	}

	validLevels := []string{"trace", "debug", "info", "warn", "warning", "error"}
	if !slices.Contains(validLevels, c.Log.Level) {
		add(fmt.Errorf("log.level must be one of %v, got %q", validLevels, c.Log.Level))
	}
	if c.Log.Format != "json" && c.Log.Format != "text" {
		add(fmt.Errorf("log.format must be one of [json, text], got %q", c.Log.Format))
	}

	add(c.Planner.Validate())
	add(c.Composer.Validate())
	add(c.Pricing.Validate())
	add(c.Session.Validate())
	add(c.MarketService().Validate())
	add(c.Tracing.Validate())

	switch c.Catalog.Source {
	case SourceFile:
		if len(c.Catalog.Paths) == 0 {
			add(fmt.Errorf("catalog.paths is required for the file source"))
		}
	case SourceElasticsearch:
		if c.Catalog.Elasticsearch.URL == "" {
			add(fmt.Errorf("catalog.elasticsearch.url is required (or set ELASTICSEARCH_HOST)"))
		}
	case SourceS3:
		if c.Catalog.S3.Endpoint == "" || c.Catalog.S3.Bucket == "" {
			add(fmt.Errorf("catalog.s3.endpoint and catalog.s3.bucket are required"))
		}
	default:
		add(fmt.Errorf("catalog.source must be one of [file, elasticsearch, s3], got %q", c.Catalog.Source))
	}
	if c.Catalog.Filter != "" {
		if _, err := memory.CompileFilter(c.Catalog.Filter); err != nil {
			add(fmt.Errorf("catalog.filter: %w", err))
		}
	}

	if c.Oracle.Provider != OracleKeyword && !slices.Contains(providers.Names(), c.Oracle.Provider) {
		add(fmt.Errorf("oracle.provider must be keyword or one of %v, got %q", providers.Names(), c.Oracle.Provider))
	}
	if c.Oracle.MaxRetries < 0 {
		add(fmt.Errorf("oracle.max_retries must not be negative"))
	}

	switch c.Embedding.Provider {
	case EmbeddingNone:
	case EmbeddingJina, EmbeddingGemini:
		if c.Embedding.APIKey == "" {
			add(fmt.Errorf("embedding.api_key is required for %s", c.Embedding.Provider))
		}
	default:
		add(fmt.Errorf("embedding.provider must be one of [jina, gemini, none], got %q", c.Embedding.Provider))
	}

	if len(errs) == 0 {
		return nil
	}
	msgs := make([]string, len(errs))
	for i, err := range errs {
		msgs[i] = err.Error()
	}
	return &marketerrors.ConfigError{
		Key:    "validation",
		Reason: strings.Join(msgs, "; "),
		Cause:  errors.Join(errs...),
	}
}
