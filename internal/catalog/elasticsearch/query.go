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

package elasticsearch

import (
	"fmt"

	"github.com/tombee/marketplace/pkg/catalog"
)

// searchFields are the multi_match fields and boosts for the text leg of
// hybrid search.
var searchFields = []string{"title^3", "description^2", "full_text", "tags^2"}

// document is the indexed form of a catalog item.
type document struct {
	catalog.Item
	FullText string `json:"full_text"`
}

// hybridQuery combines a cosine script_score leg with a keyword leg. Without
// a query vector only the keyword leg is used.
func hybridQuery(text string, vector []float32, filters catalog.Filters, topK int, vectorWeight float64) map[string]any {
	textWeight := 1 - vectorWeight
	should := []any{}
	if len(vector) > 0 {
		should = append(should, map[string]any{
			"script_score": map[string]any{
				"query": map[string]any{"exists": map[string]any{"field": "embedding"}},
				"script": map[string]any{
					"source": fmt.Sprintf("%g * (cosineSimilarity(params.query_vector, 'embedding') + 1.0)", vectorWeight),
					"params": map[string]any{"query_vector": vector},
				},
			},
		})
	} else {
		textWeight = 1
	}
	should = append(should, map[string]any{
		"multi_match": map[string]any{
			"query":  text,
			"fields": searchFields,
			"type":   "best_fields",
			"boost":  textWeight,
		},
	})

	boolQuery := map[string]any{
		"should":               should,
		"minimum_should_match": 1,
	}
	if f := termFilters(filters); len(f) > 0 {
		boolQuery["filter"] = f
	}

	return map[string]any{
		"size":  topK,
		"query": map[string]any{"bool": boolQuery},
		"_source": map[string]any{
			"excludes": []string{"full_text"},
		},
	}
}

func termFilters(f catalog.Filters) []any {
	var out []any
	if f.Category != "" {
		out = append(out, map[string]any{"term": map[string]any{"category": f.Category}})
	}
	if f.State != "" {
		out = append(out, map[string]any{"term": map[string]any{"state": f.State}})
	}
	return out
}

// normalizeScore maps a raw hybrid score onto [0,1]. The vector leg spans
// [0, 2*vw]; the keyword leg is treated as saturating at its boost.
func normalizeScore(raw float64, hasVector bool, vectorWeight float64) float64 {
	ceiling := 1.0
	if hasVector {
		ceiling = 2*vectorWeight + (1 - vectorWeight)
	}
	score := raw / ceiling
	switch {
	case score < 0:
		return 0
	case score > 1:
		return 1
	}
	return score
}

// indexMapping returns the index body for the given embedding dimension.
func indexMapping(dims int) map[string]any {
	text := map[string]any{"type": "text"}
	keyword := map[string]any{"type": "keyword"}
	integer := map[string]any{"type": "integer"}
	return map[string]any{
		"mappings": map[string]any{
			"properties": map[string]any{
				"id":               keyword,
				"title":            text,
				"description":      text,
				"category":         keyword,
				"tags":             keyword,
				"state":            keyword,
				"location":         keyword,
				"year":             integer,
				"download_cost":    integer,
				"execution_cost":   integer,
				"price_tokens":     integer,
				"rating":           map[string]any{"type": "float"},
				"usage_count":      integer,
				"requirements":     text,
				"edge_cases":       text,
				"domain_knowledge": text,
				"full_text":        text,
				"steps": map[string]any{
					"type": "nested",
					"properties": map[string]any{
						"step":         integer,
						"thought":      text,
						"action":       text,
						"context":      text,
						"dependencies": integer,
					},
				},
				"token_comparison": map[string]any{
					"properties": map[string]any{
						"from_scratch":  integer,
						"with_workflow": integer,
					},
				},
				"embedding": map[string]any{
					"type":       "dense_vector",
					"dims":       dims,
					"index":      true,
					"similarity": "cosine",
				},
			},
		},
	}
}
