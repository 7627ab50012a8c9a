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

// Package memory provides an in-process catalog index with hybrid
// keyword and vector scoring. It is the default catalog backend and the
// one used by tests.
package memory

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/tombee/marketplace/pkg/catalog"
	"github.com/tombee/marketplace/pkg/errors"
)

// DefaultVectorWeight is the share of the hybrid score taken by vector
// similarity when both the query and the item carry embeddings.
const DefaultVectorWeight = 0.7

// Option configures an Index.
type Option func(*Index)

// WithEmbedder enables vector scoring of queries.
func WithEmbedder(e catalog.Embedder) Option {
	return func(idx *Index) { idx.embedder = e }
}

// WithVectorWeight overrides DefaultVectorWeight.
func WithVectorWeight(w float64) Option {
	return func(idx *Index) {
		if w >= 0 && w <= 1 {
			idx.vectorWeight = w
		}
	}
}

// WithFilter restricts which items are eligible as candidates.
func WithFilter(f *Filter) Option {
	return func(idx *Index) { idx.filter = f }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(idx *Index) { idx.logger = l }
}

// Index is a thread-safe in-memory catalog.
type Index struct {
	mu    sync.RWMutex
	items []catalog.Item
	docs  []document
	byID  map[string]int

	embedder     catalog.Embedder
	vectorWeight float64
	filter       *Filter
	logger       *slog.Logger
}

var _ catalog.Catalog = (*Index)(nil)

// New creates an index over items. Items are copied.
func New(items []catalog.Item, opts ...Option) *Index {
	idx := &Index{
		vectorWeight: DefaultVectorWeight,
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(idx)
	}
	idx.Replace(items)
	return idx
}

// Replace atomically swaps the indexed items. Later duplicates of an id
// replace earlier ones.
func (idx *Index) Replace(items []catalog.Item) {
	next := make([]catalog.Item, 0, len(items))
	docs := make([]document, 0, len(items))
	byID := make(map[string]int, len(items))
	for _, it := range items {
		it = it.Clone()
		it.SimilarityScore = 0
		if pos, ok := byID[it.ID]; ok {
			next[pos] = it
			docs[pos] = newDocument(it)
			continue
		}
		byID[it.ID] = len(next)
		next = append(next, it)
		docs = append(docs, newDocument(it))
	}

	idx.mu.Lock()
	idx.items, idx.docs, idx.byID = next, docs, byID
	idx.mu.Unlock()

	idx.logger.Debug("catalog index replaced", slog.Int("items", len(next)))
}

// Len returns the number of indexed items.
func (idx *Index) Len() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.items)
}

// Items returns a copy of every indexed item in insertion order.
func (idx *Index) Items() []catalog.Item {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	out := make([]catalog.Item, len(idx.items))
	for i, it := range idx.items {
		out[i] = it.Clone()
	}
	return out
}

// EmbedMissing computes embeddings for items that lack one. It is a no-op
// without an embedder.
func (idx *Index) EmbedMissing(ctx context.Context) (int, error) {
	if idx.embedder == nil {
		return 0, nil
	}

	idx.mu.RLock()
	var ids, texts []string
	for _, it := range idx.items {
		if len(it.Embedding) == 0 {
			ids = append(ids, it.ID)
			texts = append(texts, it.Text())
		}
	}
	idx.mu.RUnlock()
	if len(texts) == 0 {
		return 0, nil
	}

	vecs, err := idx.embedder.Embed(ctx, texts)
	if err != nil {
		return 0, errors.Wrap(err, "embedding catalog items")
	}

	idx.mu.Lock()
	defer idx.mu.Unlock()
	n := 0
	for i, id := range ids {
		pos, ok := idx.byID[id]
		if !ok || i >= len(vecs) {
			continue
		}
		idx.items[pos].Embedding = vecs[i]
		n++
	}
	return n, nil
}

// Search scores every eligible item against text and returns the topK best.
// Items with a zero score are never returned.
func (idx *Index) Search(ctx context.Context, text string, filters catalog.Filters, topK int) ([]catalog.Item, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if topK <= 0 {
		return nil, nil
	}

	terms := Tokenize(text)
	var query []float32
	if idx.embedder != nil && idx.hasEmbeddings() {
		vecs, err := idx.embedder.Embed(ctx, []string{text})
		if err != nil {
			// Keyword scoring still works without the query vector.
			idx.logger.Warn("query embedding failed, using keyword scoring", "error", err)
		} else if len(vecs) > 0 {
			query = vecs[0]
		}
	}

	type hit struct {
		pos   int
		score float64
	}

	idx.mu.RLock()
	defer idx.mu.RUnlock()

	hits := make([]hit, 0, len(idx.items))
	for pos, it := range idx.items {
		if !matches(it, filters) || !idx.filter.Allow(it) {
			continue
		}
		score := idx.score(idx.docs[pos], it, terms, query)
		if score <= 0 {
			continue
		}
		hits = append(hits, hit{pos: pos, score: score})
	}

	sort.SliceStable(hits, func(i, j int) bool { return hits[i].score > hits[j].score })
	if len(hits) > topK {
		hits = hits[:topK]
	}

	out := make([]catalog.Item, len(hits))
	for i, h := range hits {
		out[i] = idx.items[h.pos].WithScore(h.score)
	}
	return out, nil
}

func (idx *Index) score(doc document, it catalog.Item, terms []string, query []float32) float64 {
	kw := doc.keywordScore(terms)
	if len(query) == 0 || len(it.Embedding) == 0 {
		return kw
	}
	// Shift cosine from [-1,1] to [0,1] before blending.
	vec := (catalog.Cosine(query, it.Embedding) + 1) / 2
	return idx.vectorWeight*vec + (1-idx.vectorWeight)*kw
}

func (idx *Index) hasEmbeddings() bool {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	for _, it := range idx.items {
		if len(it.Embedding) > 0 {
			return true
		}
	}
	return false
}

func matches(it catalog.Item, f catalog.Filters) bool {
	if f.Category != "" && !strings.EqualFold(it.EffectiveCategory(), f.Category) {
		return false
	}
	if f.State != "" && !strings.EqualFold(it.State, f.State) {
		return false
	}
	return true
}

// Get returns a copy of the item with the given id.
func (idx *Index) Get(ctx context.Context, id string) (*catalog.Item, error) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	pos, ok := idx.byID[id]
	if !ok {
		return nil, &errors.NotFoundError{Resource: "catalog item", ID: id}
	}
	it := idx.items[pos].Clone()
	return &it, nil
}

// List returns items in insertion order.
func (idx *Index) List(ctx context.Context, opts catalog.ListOptions) ([]catalog.Item, error) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	var out []catalog.Item
	for _, it := range idx.items {
		if opts.Category != "" && !strings.EqualFold(it.EffectiveCategory(), opts.Category) {
			continue
		}
		out = append(out, it.Clone())
		if opts.Limit > 0 && len(out) >= opts.Limit {
			break
		}
	}
	return out, nil
}
