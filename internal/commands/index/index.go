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

// Package index implements the index command, which loads catalog files
// into Elasticsearch.
package index

import (
	"fmt"
	"io"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/tombee/marketplace/internal/catalog/elasticsearch"
	"github.com/tombee/marketplace/internal/catalog/loader"
	"github.com/tombee/marketplace/internal/commands/shared"
	"github.com/tombee/marketplace/internal/config"
	"github.com/tombee/marketplace/internal/daemon"
	"github.com/tombee/marketplace/pkg/catalog"
)

// Result summarises an index run.
type Result struct {
	Loaded     int            `json:"loaded"`
	Indexed    int            `json:"indexed"`
	Index      string         `json:"index,omitempty"`
	Categories map[string]int `json:"categories"`
	DryRun     bool           `json:"dry_run"`
}

// NewCommand creates the index command
func NewCommand() *cobra.Command {
	var (
		recreate bool
		dryRun   bool
	)

	cmd := &cobra.Command{
		Use:   "index [patterns...]",
		Short: "Load catalog files into Elasticsearch",
		Long: `Load catalog documents, validate them, embed them and bulk-index
them into the configured Elasticsearch index.

Patterns are files or doublestar globs. Without arguments the configured
catalog.paths are used, or the S3 bucket when catalog.source is s3.

Use --dry-run to validate the catalog without contacting Elasticsearch.`,
		Example: `  marketd index 'catalog/**/*.yaml'
  marketd index --recreate
  marketd index --dry-run --json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := shared.LoadConfig()
			if err != nil {
				return err
			}
			res, err := run(cmd, cfg, args, recreate, dryRun)
			if err != nil {
				if shared.GetJSON() {
					_ = shared.EmitError(cmd.OutOrStdout(), "index", err)
				}
				return err
			}
			if shared.GetJSON() {
				return shared.EmitResult(cmd.OutOrStdout(), "index", res)
			}
			printResult(cmd.OutOrStdout(), res)
			return nil
		},
	}

	cmd.Flags().BoolVar(&recreate, "recreate", false, "Delete and recreate the index first")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Load and validate only")
	return cmd
}

func run(cmd *cobra.Command, cfg *config.Config, patterns []string, recreate, dryRun bool) (*Result, error) {
	ctx := cmd.Context()
	logger := daemon.NewLogger(cfg)

	l, err := loader.New(loader.Config{
		Selector: cfg.Catalog.Selector,
		Strict:   cfg.Catalog.Strict,
		Logger:   logger,
	})
	if err != nil {
		return nil, shared.NewConfigError("invalid catalog selector", err)
	}

	var items []catalog.Item
	if len(patterns) > 0 {
		items, err = l.LoadFiles(ctx, patterns)
	} else {
		items, err = daemon.LoadItems(ctx, cfg, l)
	}
	if err != nil {
		return nil, shared.NewCatalogError("failed to load catalog", err)
	}
	if len(items) == 0 {
		return nil, shared.NewCatalogError("no catalog items found", nil)
	}

	res := &Result{Loaded: len(items), Categories: make(map[string]int), DryRun: dryRun}
	for _, it := range items {
		res.Categories[it.EffectiveCategory()]++
	}
	if dryRun {
		return res, nil
	}

	if cfg.Catalog.Elasticsearch.URL == "" {
		return nil, shared.NewConfigError("elasticsearch is not configured", fmt.Errorf("set catalog.elasticsearch.url or ELASTICSEARCH_HOST"))
	}
	embedder, err := daemon.NewEmbedder(ctx, cfg)
	if err != nil {
		return nil, shared.NewConfigError("failed to create embedder", err)
	}
	es, err := elasticsearch.New(ctx, cfg.Catalog.Elasticsearch, embedder, logger)
	if err != nil {
		return nil, shared.NewConfigError("failed to create elasticsearch client", err)
	}
	if err := es.EnsureIndex(ctx, recreate); err != nil {
		return nil, shared.NewCatalogError("failed to prepare index", err)
	}
	n, err := es.IndexItems(ctx, items)
	if err != nil {
		return nil, shared.NewCatalogError(fmt.Sprintf("indexed %d of %d items", n, len(items)), err)
	}
	res.Indexed = n
	res.Index = cfg.Catalog.Elasticsearch.Index
	return res, nil
}

func printResult(out io.Writer, res *Result) {
	if res.DryRun {
		fmt.Fprintf(out, "Validated %d items (dry run)\n", res.Loaded)
	} else {
		fmt.Fprintf(out, "Indexed %d of %d items into %s\n", res.Indexed, res.Loaded, res.Index)
	}

	cats := make([]string, 0, len(res.Categories))
	for c := range res.Categories {
		cats = append(cats, c)
	}
	sort.Strings(cats)

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "CATEGORY\tITEMS")
	for _, c := range cats {
		fmt.Fprintf(w, "%s\t%d\n", c, res.Categories[c])
	}
	w.Flush()
}
