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

// Package config loads marketd configuration from a YAML file, .env files
// and the environment, in that order of increasing precedence.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/tombee/marketplace/internal/api"
	"github.com/tombee/marketplace/internal/catalog/cache"
	"github.com/tombee/marketplace/internal/catalog/elasticsearch"
	"github.com/tombee/marketplace/internal/catalog/loader"
	"github.com/tombee/marketplace/internal/composer"
	"github.com/tombee/marketplace/internal/market"
	"github.com/tombee/marketplace/internal/planner"
	"github.com/tombee/marketplace/internal/pricing"
	"github.com/tombee/marketplace/internal/store"
	"github.com/tombee/marketplace/internal/tracing"
	marketerrors "github.com/tombee/marketplace/pkg/errors"
	"github.com/tombee/marketplace/pkg/llm/providers"
)

// Catalog sources.
const (
	SourceFile          = "file"
	SourceElasticsearch = "elasticsearch"
	SourceS3            = "s3"
)

// Oracle providers besides the LLM providers registered in pkg/llm/providers.
const OracleKeyword = "keyword"

// Embedding providers.
const (
	EmbeddingJina   = "jina"
	EmbeddingGemini = "gemini"
	EmbeddingNone   = "none"
)

// Config is the complete marketd configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Log       LogConfig       `yaml:"log"`
	Planner   planner.Config  `yaml:"planner"`
	Composer  composer.Config `yaml:"composer"`
	Pricing   pricing.Config  `yaml:"pricing"`
	Market    MarketConfig    `yaml:"market"`
	Session   store.Config    `yaml:"session"`
	Catalog   CatalogConfig   `yaml:"catalog"`
	Oracle    OracleConfig    `yaml:"oracle"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Tracing   tracing.Config  `yaml:"tracing"`
	Quality   QualityConfig   `yaml:"quality"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Addr            string              `yaml:"addr"`
	ReadTimeout     time.Duration       `yaml:"read_timeout"`
	WriteTimeout    time.Duration       `yaml:"write_timeout"`
	ShutdownTimeout time.Duration       `yaml:"shutdown_timeout"`
	RateLimit       api.RateLimitConfig `yaml:"rate_limit"`

	// PurgeInterval is how often expired sessions are deleted from SQL
	// session stores.
	PurgeInterval time.Duration `yaml:"purge_interval"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level     string `yaml:"level"`
	Format    string `yaml:"format"`
	AddSource bool   `yaml:"add_source"`
}

// MarketConfig holds request-level limits.
type MarketConfig struct {
	TopK             int `yaml:"top_k"`
	MaxTopK          int `yaml:"max_top_k"`
	DefaultListLimit int `yaml:"default_list_limit"`
	MaxListLimit     int `yaml:"max_list_limit"`
}

// QualityConfig configures strict-mode quality control.
type QualityConfig struct {
	MinAcceptableScore float64 `yaml:"min_acceptable_score"`
}

// CatalogConfig selects and configures the catalog backend.
type CatalogConfig struct {
	// Source is "file", "elasticsearch" or "s3".
	Source string `yaml:"source"`

	// Paths are files or doublestar globs of catalog documents.
	Paths []string `yaml:"paths"`

	// Selector is a jq expression mapping foreign documents to items.
	Selector string `yaml:"selector"`

	// Filter is an expr expression candidates must satisfy.
	Filter string `yaml:"filter"`

	// Watch reloads file catalogs when they change.
	Watch bool `yaml:"watch"`

	// Strict rejects a load containing any invalid item.
	Strict bool `yaml:"strict"`

	Elasticsearch elasticsearch.Config `yaml:"elasticsearch"`
	S3            loader.S3Config      `yaml:"s3"`
	Cache         CacheConfig          `yaml:"cache"`
}

// CacheConfig sizes the search and embedding caches.
type CacheConfig struct {
	Size int           `yaml:"size"`
	TTL  time.Duration `yaml:"ttl"`
}

// OracleConfig selects the decompose/score oracle.
type OracleConfig struct {
	// Provider is "keyword" or a registered LLM provider name. Empty picks
	// anthropic or gemini when their API key is set, else keyword.
	Provider   string        `yaml:"provider"`
	Model      string        `yaml:"model"`
	APIKey     string        `yaml:"api_key"`
	BaseURL    string        `yaml:"base_url"`
	Timeout    time.Duration `yaml:"timeout"`
	MaxRetries int           `yaml:"max_retries"`

	// Fallbacks are tried in order when the primary provider fails.
	Fallbacks []providers.Config `yaml:"fallbacks"`
}

// EmbeddingConfig selects the embedding provider.
type EmbeddingConfig struct {
	Provider   string `yaml:"provider"`
	Model      string `yaml:"model"`
	APIKey     string `yaml:"api_key"`
	URL        string `yaml:"url"`
	Dimensions int    `yaml:"dimensions"`
	BatchSize  int    `yaml:"batch_size"`
}

// Default returns the built-in configuration.
func Default() *Config {
	md := market.DefaultConfig()
	return &Config{
		Server: ServerConfig{
			Addr:            ":8080",
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    2 * time.Minute,
			ShutdownTimeout: 10 * time.Second,
			RateLimit:       api.RateLimitConfig{RequestsPerSecond: 10, Burst: 20},
			PurgeInterval:   10 * time.Minute,
		},
		Log:      LogConfig{Level: "info", Format: "json"},
		Planner:  planner.DefaultConfig(),
		Composer: composer.DefaultConfig(),
		Pricing:  pricing.DefaultConfig(),
		Market: MarketConfig{
			TopK:             md.TopK,
			MaxTopK:          md.MaxTopK,
			DefaultListLimit: md.DefaultListLimit,
			MaxListLimit:     md.MaxListLimit,
		},
		Session: store.DefaultConfig(),
		Catalog: CatalogConfig{
			Source: SourceFile,
			Paths:  []string{"catalog/*.yaml", "catalog/*.json"},
			Elasticsearch: elasticsearch.Config{
				Index:        elasticsearch.DefaultIndex,
				Dimensions:   elasticsearch.DefaultDimensions,
				VectorWeight: elasticsearch.DefaultVectorWeight,
			},
			Cache: CacheConfig{Size: cache.DefaultSize, TTL: time.Hour},
		},
		Oracle:    OracleConfig{Timeout: 60 * time.Second, MaxRetries: 2},
		Embedding: EmbeddingConfig{Provider: EmbeddingNone, Dimensions: elasticsearch.DefaultDimensions},
		Tracing:   tracing.DefaultConfig(),
		Quality:   QualityConfig{MinAcceptableScore: md.MinAcceptableScore},
	}
}

// Load reads configuration. A .env file in the working directory is
// loaded first without overriding variables already set. If configPath is
// empty only defaults and the environment are used.
func Load(configPath string) (*Config, error) {
	if err := loadDotEnv(".env"); err != nil {
		return nil, &marketerrors.ConfigError{Key: "dotenv", Reason: "failed to load .env", Cause: err}
	}

	cfg := Default()
	if configPath != "" {
		if err := cfg.loadFromFile(configPath); err != nil {
			return nil, &marketerrors.ConfigError{
				Key:    "config_file",
				Reason: fmt.Sprintf("failed to load from %s", configPath),
				Cause:  err,
			}
		}
	}

	cfg.applyDefaults()
	cfg.loadFromEnv()
	cfg.resolveProviders()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadDotEnv(path string) error {
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	return godotenv.Load(path)
}

func (c *Config) loadFromFile(path string) error {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("failed to get home directory: %w", err)
		}
		path = filepath.Join(home, path[2:])
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse YAML: %w", err)
	}
	return nil
}

// applyDefaults fills zero values a partial file may have cleared.
func (c *Config) applyDefaults() {
	def := Default()
	if c.Server.Addr == "" {
		c.Server.Addr = def.Server.Addr
	}
	if c.Server.ShutdownTimeout <= 0 {
		c.Server.ShutdownTimeout = def.Server.ShutdownTimeout
	}
	if c.Log.Level == "" {
		c.Log.Level = def.Log.Level
	}
	if c.Log.Format == "" {
		c.Log.Format = def.Log.Format
	}
	if c.Session.Backend == "" {
		c.Session.Backend = def.Session.Backend
	}
	if c.Session.TTL <= 0 {
		c.Session.TTL = def.Session.TTL
	}
	if c.Catalog.Source == "" {
		c.Catalog.Source = def.Catalog.Source
	}
	if len(c.Composer.Precedence) == 0 {
		c.Composer.Precedence = def.Composer.Precedence
	}
	if c.Embedding.Provider == "" {
		c.Embedding.Provider = EmbeddingNone
	}
	if c.Tracing.ServiceName == "" {
		c.Tracing.ServiceName = def.Tracing.ServiceName
	}
}

// resolveProviders picks an oracle when none is configured.
func (c *Config) resolveProviders() {
	if c.Oracle.Provider != "" {
		return
	}
	switch {
	case c.Oracle.APIKey != "" || os.Getenv("ANTHROPIC_API_KEY") != "":
		c.Oracle.Provider = "anthropic"
		if c.Oracle.APIKey == "" {
			c.Oracle.APIKey = os.Getenv("ANTHROPIC_API_KEY")
		}
		if c.Oracle.Model == "" {
			c.Oracle.Model = os.Getenv("CLAUDE_MODEL")
		}
	case os.Getenv("GEMINI_API_KEY") != "":
		c.Oracle.Provider = "gemini"
		c.Oracle.APIKey = os.Getenv("GEMINI_API_KEY")
	default:
		c.Oracle.Provider = OracleKeyword
	}
}

// MarketService assembles the service settings from the market, session and
// quality sections.
func (c *Config) MarketService() market.Config {
	return market.Config{
		TopK:               c.Market.TopK,
		MaxTopK:            c.Market.MaxTopK,
		SessionTTL:         c.Session.TTL,
		MinAcceptableScore: c.Quality.MinAcceptableScore,
		DefaultListLimit:   c.Market.DefaultListLimit,
		MaxListLimit:       c.Market.MaxListLimit,
	}
}

// OracleProviders returns the LLM provider chain, primary first.
func (c *Config) OracleProviders() []providers.Config {
	primary := providers.Config{
		Provider: c.Oracle.Provider,
		APIKey:   c.Oracle.APIKey,
		BaseURL:  c.Oracle.BaseURL,
		Model:    c.Oracle.Model,
		Timeout:  c.Oracle.Timeout,
	}
	return append([]providers.Config{primary}, c.Oracle.Fallbacks...)
}
