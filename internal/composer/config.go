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

package composer

import (
	"github.com/tombee/marketplace/pkg/catalog"
	"github.com/tombee/marketplace/pkg/errors"
)

// Config holds the composer's heuristics.
type Config struct {
	// WeightDominance is how much heavier a node must be than another of
	// equal precedence to become its parent.
	WeightDominance float64 `yaml:"weight_dominance"`

	// WeaknessBias scales the parent weight in the edge weakness score used
	// by cycle repair.
	WeaknessBias float64 `yaml:"weakness_bias"`

	// MaxRepairRounds bounds weakest-edge removal before the forced
	// fallback.
	MaxRepairRounds int `yaml:"max_repair_rounds"`

	// CategoryBoost multiplies a pool item's match score when its category
	// equals the subtask's.
	CategoryBoost float64 `yaml:"category_boost"`

	// Precedence orders categories; earlier categories run first. Unknown
	// categories rank with GeneralCategory, or last if it is absent.
	Precedence []string `yaml:"precedence"`

	// TopK is the default number of plans to return.
	TopK int `yaml:"top_k"`
}

// DefaultConfig returns the default composer heuristics.
func DefaultConfig() Config {
	return Config{
		WeightDominance: 0.15,
		WeaknessBias:    0.1,
		MaxRepairRounds: 5,
		CategoryBoost:   1.2,
		Precedence:      append([]string(nil), catalog.Categories...),
		TopK:            5,
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.MaxRepairRounds < 0 {
		return &errors.ValidationError{Field: "composer.max_repair_rounds", Message: "must not be negative"}
	}
	if c.CategoryBoost <= 0 {
		return &errors.ValidationError{Field: "composer.category_boost", Message: "must be positive"}
	}
	if len(c.Precedence) == 0 {
		return &errors.ValidationError{
			Field:      "composer.precedence",
			Message:    "must list at least one category",
			Suggestion: "use the default: " + joinCategories(catalog.Categories),
		}
	}
	seen := make(map[string]bool, len(c.Precedence))
	for _, cat := range c.Precedence {
		if seen[cat] {
			return &errors.ValidationError{Field: "composer.precedence", Message: "duplicate category " + cat}
		}
		seen[cat] = true
	}
	return nil
}

// precedenceTable maps categories to their rank.
type precedenceTable struct {
	ranks    map[string]int
	fallback int
}

func newPrecedenceTable(order []string) precedenceTable {
	t := precedenceTable{ranks: make(map[string]int, len(order)), fallback: len(order)}
	for i, cat := range order {
		t.ranks[cat] = i
	}
	if r, ok := t.ranks[catalog.GeneralCategory]; ok {
		t.fallback = r
	}
	return t
}

func (t precedenceTable) rank(category string) int {
	if r, ok := t.ranks[category]; ok {
		return r
	}
	return t.fallback
}

func joinCategories(cats []string) string {
	out := ""
	for i, c := range cats {
		if i > 0 {
			out += ", "
		}
		out += c
	}
	return out
}
