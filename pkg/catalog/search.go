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

package catalog

import (
	"context"
	"math"
)

// Filters restricts a search. Zero values do not filter.
type Filters struct {
	Category string `json:"category,omitempty"`
	State    string `json:"state,omitempty"`
}

// IsZero reports whether no filter is set.
func (f Filters) IsZero() bool {
	return f.Category == "" && f.State == ""
}

// ForSubtask returns the filters used to search for a subtask's candidates.
// General subtasks are not filtered by category.
func ForSubtask(s Subtask) Filters {
	if cat := s.EffectiveCategory(); cat != GeneralCategory {
		return Filters{Category: cat}
	}
	return Filters{}
}

// Searcher finds catalog items matching free text. Implementations are
// read-only and idempotent. Returned items are copies ordered by descending
// SimilarityScore, which is normalised to [0,1].
type Searcher interface {
	Search(ctx context.Context, text string, filters Filters, topK int) ([]Item, error)
}

// ListOptions controls catalog listing.
type ListOptions struct {
	Category string
	Limit    int
}

// Reader provides direct access to catalog items by id.
type Reader interface {
	Get(ctx context.Context, id string) (*Item, error)
	List(ctx context.Context, opts ListOptions) ([]Item, error)
}

// Catalog is a searchable, listable catalog.
type Catalog interface {
	Searcher
	Reader
}

// Embedder produces dense vectors for text. Implementations may batch.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// Cosine returns the cosine similarity of a and b, or 0 when either vector
// is empty, zero, or the lengths differ.
func Cosine(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
