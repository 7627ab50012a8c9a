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

package oracle

import (
	"context"
	"regexp"
	"strings"

	"github.com/tombee/marketplace/internal/catalog/memory"
	"github.com/tombee/marketplace/pkg/catalog"
)

// clauseSplitter separates a task into clauses on punctuation and
// coordinating words.
var clauseSplitter = regexp.MustCompile(`(?i)\s*(?:[,;.]|\band then\b|\bthen\b|\band\b|\balso\b|\bplus\b)\s*`)

// categoryTerms maps normalised terms to the stage category they suggest.
var categoryTerms = map[string]string{
	"gather": catalog.CategoryDataGathering, "collect": catalog.CategoryDataGathering,
	"import": catalog.CategoryDataGathering, "fetch": catalog.CategoryDataGathering,
	"download": catalog.CategoryDataGathering, "extract": catalog.CategoryDataGathering,
	"parse": catalog.CategoryDataGathering, "retrieve": catalog.CategoryDataGathering,
	"w2": catalog.CategoryDataGathering, "1099": catalog.CategoryDataGathering,
	"documents": catalog.CategoryDataGathering, "forms": catalog.CategoryDataGathering,

	"verify": catalog.CategoryValidation, "validate": catalog.CategoryValidation,
	"check": catalog.CategoryValidation, "review": catalog.CategoryValidation,
	"audit": catalog.CategoryValidation, "confirm": catalog.CategoryValidation,

	"requirement": catalog.CategoryRequirements, "requirements": catalog.CategoryRequirements,
	"eligibility": catalog.CategoryRequirements, "eligible": catalog.CategoryRequirements,
	"rules": catalog.CategoryRequirements, "deadline": catalog.CategoryRequirements,
	"deadlines": catalog.CategoryRequirements, "qualify": catalog.CategoryRequirements,

	"calculate": catalog.CategoryComputation, "compute": catalog.CategoryComputation,
	"estimate": catalog.CategoryComputation, "deduction": catalog.CategoryComputation,
	"deductions": catalog.CategoryComputation, "itemized": catalog.CategoryComputation,
	"credit": catalog.CategoryComputation, "credits": catalog.CategoryComputation,
	"total": catalog.CategoryComputation,

	"file": catalog.CategoryFiling, "filing": catalog.CategoryFiling,
	"submit": catalog.CategoryFiling, "submission": catalog.CategoryFiling,
	"efile": catalog.CategoryFiling, "return": catalog.CategoryFiling,
}

// KeywordOracle is a deterministic TaskOracle that needs no network. It
// scores by term overlap blended with rating, and decomposes by splitting
// the task into clauses.
type KeywordOracle struct {
	// RatingWeight is the share of the score taken by rating/5 (default 0.2).
	RatingWeight float64
}

// NewKeywordOracle returns a KeywordOracle with default weights.
func NewKeywordOracle() *KeywordOracle {
	return &KeywordOracle{RatingWeight: 0.2}
}

// Decompose splits text into clauses. Clause weights start at 1.0 and fall
// by 0.1 per position, never below 0.3.
func (o *KeywordOracle) Decompose(ctx context.Context, text string, minN, maxN int) ([]catalog.Subtask, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var raw []catalog.Subtask
	for _, clause := range clauseSplitter.Split(text, -1) {
		clause = strings.TrimSpace(clause)
		terms := memory.Tokenize(clause)
		if len(terms) == 0 {
			continue
		}
		weight := 1.0 - 0.1*float64(len(raw))
		if weight < 0.3 {
			weight = 0.3
		}
		raw = append(raw, catalog.Subtask{
			Text:      clause,
			Category:  classify(terms),
			Weight:    weight,
			Rationale: "clause of the original task",
		})
	}
	return catalog.NormalizeSubtasks(raw, maxN), nil
}

// Score returns the fraction of task terms found in the item, blended with
// the item's rating.
func (o *KeywordOracle) Score(ctx context.Context, text string, item catalog.Item) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	ratingWeight := clamp01(o.RatingWeight)
	rating := clamp01(item.Rating / 5)

	terms := memory.Tokenize(text)
	if len(terms) == 0 {
		return ratingWeight * rating, nil
	}

	itemTerms := make(map[string]struct{})
	for _, t := range memory.Tokenize(item.Text()) {
		itemTerms[t] = struct{}{}
	}
	matched := 0
	for _, t := range terms {
		if _, ok := itemTerms[t]; ok {
			matched++
		}
	}
	overlap := float64(matched) / float64(len(terms))
	return clamp01((1-ratingWeight)*overlap + ratingWeight*rating), nil
}

// classify returns the category suggested by the first recognised term.
func classify(terms []string) string {
	for _, t := range terms {
		if c, ok := categoryTerms[t]; ok {
			return c
		}
	}
	return catalog.GeneralCategory
}
