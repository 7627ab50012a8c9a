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
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/tombee/marketplace/internal/api"
	"github.com/tombee/marketplace/internal/catalog/cache"
	"github.com/tombee/marketplace/internal/catalog/elasticsearch"
	"github.com/tombee/marketplace/internal/catalog/loader"
	"github.com/tombee/marketplace/internal/catalog/memory"
	"github.com/tombee/marketplace/internal/composer"
	"github.com/tombee/marketplace/internal/config"
	marketlog "github.com/tombee/marketplace/internal/log"
	"github.com/tombee/marketplace/internal/market"
	"github.com/tombee/marketplace/internal/metrics"
	"github.com/tombee/marketplace/internal/oracle"
	"github.com/tombee/marketplace/internal/oracle/embed"
	"github.com/tombee/marketplace/internal/planner"
	"github.com/tombee/marketplace/internal/pricing"
	"github.com/tombee/marketplace/internal/sanitize"
	"github.com/tombee/marketplace/internal/store"
	"github.com/tombee/marketplace/internal/store/factory"
	"github.com/tombee/marketplace/pkg/catalog"
	marketerrors "github.com/tombee/marketplace/pkg/errors"
	"github.com/tombee/marketplace/pkg/llm"
	"github.com/tombee/marketplace/pkg/llm/providers"
)

// Components is the assembled marketplace engine shared by the HTTP
// daemon and the MCP server.
type Components struct {
	Service  *market.Service
	Store    store.Store
	Catalog  catalog.Catalog
	Embedder catalog.Embedder

	cfg      *config.Config
	logger   *slog.Logger
	index    *memory.Index
	searcher *cache.Searcher
	watcher  *loader.Watcher

	// mu protects digest
	mu     sync.RWMutex
	digest string
}

// Build opens the catalog, oracle, embedder and session store described by
// cfg and wires them into a market.Service. Close releases them.
func Build(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Components, error) {
	logger = marketlog.OrDefault(logger)
	c := &Components{cfg: cfg, logger: logger}

	embedder, err := NewEmbedder(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create embedder: %w", err)
	}
	c.Embedder = embedder

	if err := c.openCatalog(ctx); err != nil {
		c.Close()
		return nil, err
	}

	taskOracle, err := NewOracle(ctx, cfg, logger)
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to create oracle: %w", err)
	}

	st, err := factory.Open(cfg.Session)
	if err != nil {
		c.Close()
		return nil, err
	}
	c.Store = st

	c.searcher = cache.NewSearcher(c.Catalog, cfg.Catalog.Cache.Size, cfg.Catalog.Cache.TTL)
	svc, err := market.New(market.Deps{
		Planner:   planner.New(c.searcher, taskOracle, cfg.Planner, logger),
		Composer:  composer.New(cfg.Composer, embedder, logger),
		Pricing:   pricing.New(cfg.Pricing),
		Sanitizer: sanitize.New(),
		Store:     st,
		Catalog:   c.Catalog,
		Logger:    logger,
	}, cfg.MarketService())
	if err != nil {
		c.Close()
		return nil, err
	}
	c.Service = svc

	logger.Info("marketplace assembled",
		slog.String("catalog_source", cfg.Catalog.Source),
		slog.String("oracle", cfg.Oracle.Provider),
		slog.String("embedding", cfg.Embedding.Provider),
		slog.String("session_backend", cfg.Session.Backend),
	)
	return c, nil
}

func (c *Components) openCatalog(ctx context.Context) error {
	cfg := c.cfg
	if cfg.Catalog.Source == config.SourceElasticsearch {
		es, err := elasticsearch.New(ctx, cfg.Catalog.Elasticsearch, c.Embedder, c.logger)
		if err != nil {
			return fmt.Errorf("failed to create elasticsearch catalog: %w", err)
		}
		if err := es.Ping(ctx); err != nil {
			c.logger.Warn("elasticsearch not reachable at startup", marketlog.Error(err))
		}
		c.Catalog = es
		return nil
	}

	l, err := loader.New(loader.Config{
		Selector: cfg.Catalog.Selector,
		Strict:   cfg.Catalog.Strict,
		Logger:   c.logger,
	})
	if err != nil {
		return err
	}
	items, err := LoadItems(ctx, cfg, l)
	if err != nil {
		metrics.RecordCatalogReload(err)
		return fmt.Errorf("failed to load catalog: %w", err)
	}

	filter, err := memory.CompileFilter(cfg.Catalog.Filter)
	if err != nil {
		return &marketerrors.ConfigError{Key: "catalog.filter", Reason: "invalid filter expression", Cause: err}
	}
	opts := []memory.Option{memory.WithFilter(filter), memory.WithLogger(c.logger)}
	if c.Embedder != nil {
		opts = append(opts, memory.WithEmbedder(c.Embedder))
	}
	c.index = memory.New(items, opts...)
	c.Catalog = c.index
	c.embedCatalog(ctx)
	c.catalogLoaded(c.index.Items())

	if cfg.Catalog.Watch && cfg.Catalog.Source == config.SourceFile {
		w, err := loader.NewWatcher(loader.WatcherConfig{
			Loader:   l,
			Patterns: cfg.Catalog.Paths,
			OnReload: c.reload,
			Logger:   c.logger,
		})
		if err != nil {
			return fmt.Errorf("failed to watch catalog: %w", err)
		}
		c.watcher = w
	}
	return nil
}

// LoadItems reads catalog items from the configured file or S3 source.
func LoadItems(ctx context.Context, cfg *config.Config, l *loader.Loader) ([]catalog.Item, error) {
	switch cfg.Catalog.Source {
	case config.SourceS3:
		src, err := loader.NewS3Source(cfg.Catalog.S3, l)
		if err != nil {
			return nil, err
		}
		return src.Load(ctx)
	default:
		return l.LoadFiles(ctx, cfg.Catalog.Paths)
	}
}

// reload swaps in a freshly loaded file catalog.
func (c *Components) reload(items []catalog.Item) {
	c.index.Replace(items)
	c.embedCatalog(context.Background())
	if c.searcher != nil {
		c.searcher.Purge()
	}
	c.catalogLoaded(c.index.Items())
}

func (c *Components) embedCatalog(ctx context.Context) {
	if c.Embedder == nil {
		return
	}
	n, err := c.index.EmbedMissing(ctx)
	if err != nil {
		c.logger.Warn("catalog embedding failed, keyword scoring only for unembedded items", marketlog.Error(err))
		return
	}
	if n > 0 {
		c.logger.Info("embedded catalog items", slog.Int("count", n))
	}
}

func (c *Components) catalogLoaded(items []catalog.Item) {
	ids := make([]string, len(items))
	for i, it := range items {
		ids[i] = it.ID
	}
	sort.Strings(ids)
	digest := cache.Digest(strings.Join(ids, "\n"))

	c.mu.Lock()
	c.digest = digest
	c.mu.Unlock()

	metrics.SetCatalogItems(len(items))
	metrics.RecordCatalogReload(nil)
	c.logger.Info("catalog loaded", slog.Int("items", len(items)), slog.String("digest", digest[:12]))
}

// CatalogHealth reports the catalog for the health endpoint.
func (c *Components) CatalogHealth(ctx context.Context) api.CatalogHealth {
	h := api.CatalogHealth{Source: c.cfg.Catalog.Source}
	if c.index == nil {
		return h
	}
	h.Items = c.index.Len()
	c.mu.RLock()
	h.Digest = c.digest
	c.mu.RUnlock()
	return h
}

// Close releases the watcher and the session store.
func (c *Components) Close() error {
	var errs []error
	if c.watcher != nil {
		errs = append(errs, c.watcher.Close())
	}
	if c.Store != nil {
		errs = append(errs, c.Store.Close())
	}
	return errors.Join(errs...)
}

// NewOracle returns the keyword oracle or an LLM oracle over the configured
// provider chain.
func NewOracle(ctx context.Context, cfg *config.Config, logger *slog.Logger) (oracle.TaskOracle, error) {
	if cfg.Oracle.Provider == config.OracleKeyword {
		return oracle.NewKeywordOracle(), nil
	}

	retry := llm.DefaultRetryConfig()
	retry.MaxRetries = cfg.Oracle.MaxRetries
	failover := llm.DefaultFailoverConfig()
	failover.OnFailover = func(from, to string, err error) {
		logger.Warn("oracle provider failover",
			slog.String("from", from),
			slog.String("to", to),
			marketlog.Error(err))
	}

	provider, err := providers.NewChain(ctx, cfg.OracleProviders(), retry, failover)
	if err != nil {
		return nil, err
	}
	return oracle.NewLLMOracle(provider, oracle.LLMConfig{
		Model:  cfg.Oracle.Model,
		Logger: logger,
	}), nil
}

// NewEmbedder returns the configured embedder behind a cache, or nil when
// embeddings are disabled.
func NewEmbedder(ctx context.Context, cfg *config.Config) (catalog.Embedder, error) {
	var base catalog.Embedder
	switch cfg.Embedding.Provider {
	case config.EmbeddingJina:
		e, err := embed.NewJinaEmbedder(embed.JinaConfig{
			APIKey:    cfg.Embedding.APIKey,
			Model:     cfg.Embedding.Model,
			URL:       cfg.Embedding.URL,
			BatchSize: cfg.Embedding.BatchSize,
		})
		if err != nil {
			return nil, err
		}
		base = e
	case config.EmbeddingGemini:
		e, err := embed.NewGeminiEmbedder(ctx, cfg.Embedding.APIKey, cfg.Embedding.Model, cfg.Embedding.Dimensions)
		if err != nil {
			return nil, err
		}
		base = e
	default:
		return nil, nil
	}
	return cache.NewEmbedder(base, cfg.Catalog.Cache.Size, cfg.Catalog.Cache.TTL), nil
}
