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

// Package loader reads catalog items from JSON and YAML documents on the
// local filesystem or in S3-compatible object storage.
//
// A document may be a list of items, a single item, or an object holding
// the list under "items" or "workflows". Catalogs in any other layout can
// be mapped with a jq selector that emits one item object per output.
package loader

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"gopkg.in/yaml.v3"

	"github.com/tombee/marketplace/internal/jq"
	"github.com/tombee/marketplace/pkg/catalog"
	"github.com/tombee/marketplace/pkg/errors"
)

// listKeys are the object keys searched, in order, for an item list.
var listKeys = []string{"items", "workflows"}

// Config configures a Loader.
type Config struct {
	// Selector is an optional jq expression applied to every document.
	Selector string

	// Strict rejects the whole load when any item fails validation.
	// Otherwise invalid items are skipped with a warning.
	Strict bool

	Logger *slog.Logger
}

// Loader decodes catalog documents into items.
type Loader struct {
	selector *jq.Selector
	strict   bool
	logger   *slog.Logger
}

// New creates a loader.
func New(cfg Config) (*Loader, error) {
	l := &Loader{strict: cfg.Strict, logger: cfg.Logger}
	if l.logger == nil {
		l.logger = slog.Default()
	}
	if cfg.Selector != "" {
		sel, err := jq.Compile(cfg.Selector, 0, 0)
		if err != nil {
			return nil, &errors.ConfigError{Key: "catalog.selector", Reason: err.Error(), Cause: err}
		}
		l.selector = sel
	}
	return l, nil
}

// LoadFiles expands each glob pattern (doublestar syntax, so "**" is
// supported) and decodes the matching files in lexical order. Each file is
// read once even if several patterns match it.
func (l *Loader) LoadFiles(ctx context.Context, patterns []string) ([]catalog.Item, error) {
	paths, err := ExpandPatterns(patterns)
	if err != nil {
		return nil, err
	}

	var items []catalog.Item
	for _, path := range paths {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading catalog file %s: %w", path, err)
		}
		decoded, err := l.Decode(ctx, path, data)
		if err != nil {
			return nil, err
		}
		l.logger.Debug("loaded catalog file", "path", path, "items", len(decoded))
		items = append(items, decoded...)
	}
	return l.validate(items)
}

// ExpandPatterns resolves glob patterns to a sorted, de-duplicated list of
// file paths. A pattern with no glob metacharacters must name an existing
// file.
func ExpandPatterns(patterns []string) ([]string, error) {
	seen := make(map[string]struct{})
	var paths []string
	for _, pattern := range patterns {
		matches, err := doublestar.FilepathGlob(pattern, doublestar.WithFilesOnly())
		if err != nil {
			return nil, fmt.Errorf("invalid catalog pattern %q: %w", pattern, err)
		}
		if len(matches) == 0 && !hasMeta(pattern) {
			return nil, fmt.Errorf("catalog file not found: %s", pattern)
		}
		for _, m := range matches {
			if !isCatalogFile(m) {
				continue
			}
			if _, ok := seen[m]; ok {
				continue
			}
			seen[m] = struct{}{}
			paths = append(paths, m)
		}
	}
	sort.Strings(paths)
	return paths, nil
}

func hasMeta(pattern string) bool {
	return strings.ContainsAny(pattern, "*?[{")
}

func isCatalogFile(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".json", ".yaml", ".yml":
		return true
	}
	return false
}

// Decode parses one document. The format is chosen by file extension;
// unknown extensions are parsed as YAML, which accepts JSON too.
func (l *Loader) Decode(ctx context.Context, name string, data []byte) ([]catalog.Item, error) {
	var doc any
	switch strings.ToLower(filepath.Ext(name)) {
	case ".json":
		if err := json.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", name, err)
		}
	default:
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", name, err)
		}
	}

	records, err := l.records(ctx, doc)
	if err != nil {
		return nil, fmt.Errorf("selecting items from %s: %w", name, err)
	}

	items := make([]catalog.Item, 0, len(records))
	for i, rec := range records {
		it, err := toItem(rec)
		if err != nil {
			return nil, fmt.Errorf("%s: record %d: %w", name, i, err)
		}
		items = append(items, it)
	}
	return items, nil
}

func (l *Loader) records(ctx context.Context, doc any) ([]any, error) {
	if l.selector != nil {
		return l.selector.Select(ctx, doc)
	}
	switch v := doc.(type) {
	case nil:
		return nil, nil
	case []any:
		return v, nil
	case map[string]any:
		for _, key := range listKeys {
			if list, ok := v[key].([]any); ok {
				return list, nil
			}
		}
		return []any{v}, nil
	default:
		return nil, fmt.Errorf("unexpected document type %T", doc)
	}
}

// toItem converts a generic record to an item by round-tripping through
// JSON, so JSON and YAML documents share the item's json tags.
func toItem(rec any) (catalog.Item, error) {
	raw, err := json.Marshal(rec)
	if err != nil {
		return catalog.Item{}, err
	}
	var it catalog.Item
	if err := json.Unmarshal(raw, &it); err != nil {
		return catalog.Item{}, err
	}
	return it, nil
}

func (l *Loader) validate(items []catalog.Item) ([]catalog.Item, error) {
	errs := catalog.ValidateAll(items)
	if len(errs) == 0 {
		return items, nil
	}
	if l.strict {
		msgs := make([]string, len(errs))
		for i, err := range errs {
			msgs[i] = err.Error()
		}
		return nil, &errors.ValidationError{
			Field:   "catalog",
			Message: strings.Join(msgs, "; "),
		}
	}

	bad := make(map[int]struct{})
	seen := make(map[string]struct{})
	for i, it := range items {
		if len(it.Validate()) > 0 {
			bad[i] = struct{}{}
			continue
		}
		if _, dup := seen[it.ID]; dup {
			bad[i] = struct{}{}
			continue
		}
		seen[it.ID] = struct{}{}
	}
	for _, err := range errs {
		l.logger.Warn("skipping invalid catalog item", "error", err)
	}

	out := make([]catalog.Item, 0, len(items)-len(bad))
	for i, it := range items {
		if _, skip := bad[i]; !skip {
			out = append(out, it)
		}
	}
	return out, nil
}
