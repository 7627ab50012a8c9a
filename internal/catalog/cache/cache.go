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

// Package cache memoises catalog searches and embeddings. Repeated
// subtask searches within a planning run, and across runs for popular
// tasks, are served without touching the backend.
package cache

import (
	"context"
	"encoding/binary"
	"encoding/hex"
	"math"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/zeebo/blake3"

	"github.com/tombee/marketplace/internal/metrics"
	"github.com/tombee/marketplace/pkg/catalog"
)

// Defaults for Searcher and Embedder caches.
const (
	DefaultSize = 4096
	DefaultTTL  = 10 * time.Minute
)

// Searcher wraps a catalog.Searcher with an expiring LRU keyed by a
// blake3 digest of the query.
type Searcher struct {
	next  catalog.Searcher
	cache *expirable.LRU[string, []catalog.Item]
}

var _ catalog.Searcher = (*Searcher)(nil)

// NewSearcher wraps next. Non-positive size or ttl select the defaults.
func NewSearcher(next catalog.Searcher, size int, ttl time.Duration) *Searcher {
	if size <= 0 {
		size = DefaultSize
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Searcher{
		next:  next,
		cache: expirable.NewLRU[string, []catalog.Item](size, nil, ttl),
	}
}

// Search returns cached results when present. Errors are not cached.
func (s *Searcher) Search(ctx context.Context, text string, filters catalog.Filters, topK int) ([]catalog.Item, error) {
	key := searchKey(text, filters, topK)
	if hit, ok := s.cache.Get(key); ok {
		metrics.RecordSearchCache(true)
		return cloneAll(hit), nil
	}
	metrics.RecordSearchCache(false)
	items, err := s.next.Search(ctx, text, filters, topK)
	if err != nil {
		return nil, err
	}
	s.cache.Add(key, cloneAll(items))
	return items, nil
}

// Purge drops every cached result, e.g. after a catalog reload.
func (s *Searcher) Purge() {
	s.cache.Purge()
}

// Len returns the number of cached queries.
func (s *Searcher) Len() int {
	return s.cache.Len()
}

func cloneAll(items []catalog.Item) []catalog.Item {
	if items == nil {
		return nil
	}
	out := make([]catalog.Item, len(items))
	for i, it := range items {
		out[i] = it.Clone()
	}
	return out
}

// Embedder wraps a catalog.Embedder with a per-text cache. Only texts not
// already cached are sent to the backend.
type Embedder struct {
	next  catalog.Embedder
	cache *expirable.LRU[string, []float32]
}

var _ catalog.Embedder = (*Embedder)(nil)

// NewEmbedder wraps next. Embeddings are deterministic so ttl may be long.
func NewEmbedder(next catalog.Embedder, size int, ttl time.Duration) *Embedder {
	if size <= 0 {
		size = DefaultSize
	}
	return &Embedder{
		next:  next,
		cache: expirable.NewLRU[string, []float32](size, nil, ttl),
	}
}

// Embed returns vectors for texts in order.
func (e *Embedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	var missing []string
	var missingIdx []int
	for i, t := range texts {
		if v, ok := e.cache.Get(Digest(t)); ok {
			out[i] = v
			continue
		}
		missing = append(missing, t)
		missingIdx = append(missingIdx, i)
	}
	if len(missing) == 0 {
		return out, nil
	}

	vecs, err := e.next.Embed(ctx, missing)
	if err != nil {
		return nil, err
	}
	for j, v := range vecs {
		if j >= len(missingIdx) {
			break
		}
		out[missingIdx[j]] = v
		e.cache.Add(Digest(missing[j]), v)
	}
	return out, nil
}

// Digest returns the hex blake3 digest of s.
func Digest(s string) string {
	sum := blake3.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

func searchKey(text string, f catalog.Filters, topK int) string {
	h := blake3.New()
	writeField(h, text)
	writeField(h, f.Category)
	writeField(h, f.State)
	var n [8]byte
	binary.LittleEndian.PutUint64(n[:], uint64(min(topK, math.MaxInt32)))
	_, _ = h.Write(n[:])
	return hex.EncodeToString(h.Sum(nil))
}

// writeField writes a length-prefixed string so field boundaries are
// unambiguous.
func writeField(h *blake3.Hasher, s string) {
	var n [8]byte
	binary.LittleEndian.PutUint64(n[:], uint64(len(s)))
	_, _ = h.Write(n[:])
	_, _ = h.Write([]byte(s))
}
