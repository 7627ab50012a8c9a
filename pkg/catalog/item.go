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

// Package catalog defines the workflow catalog records the planner searches
// over, and the collaborator interfaces used to search them.
//
// Catalog items are owned by the catalog backend. The planning engine only
// ever holds copies; SimilarityScore is the one field set per search call.
package catalog

import (
	"fmt"
	"math"
	"strings"
)

// GeneralCategory is the catch-all category. Searches for general subtasks
// are not category-filtered.
const GeneralCategory = "general"

// Workflow stage categories, in the order their steps usually run.
const (
	CategoryDataGathering = "data_gathering"
	CategoryValidation    = "validation"
	CategoryRequirements  = "requirements"
	CategoryComputation   = "computation"
	CategoryFiling        = "filing"
)

// Categories lists the known categories in stage order, GeneralCategory last.
var Categories = []string{
	CategoryDataGathering,
	CategoryValidation,
	CategoryRequirements,
	CategoryComputation,
	CategoryFiling,
	GeneralCategory,
}

// IsKnownCategory reports whether c is one of Categories.
func IsKnownCategory(c string) bool {
	for _, known := range Categories {
		if c == known {
			return true
		}
	}
	return false
}

// Step is one instruction record of a workflow.
type Step struct {
	Step         int    `json:"step" yaml:"step"`
	Thought      string `json:"thought" yaml:"thought"`
	Action       string `json:"action,omitempty" yaml:"action,omitempty"`
	Context      string `json:"context,omitempty" yaml:"context,omitempty"`
	Dependencies []int  `json:"dependencies,omitempty" yaml:"dependencies,omitempty"`
}

// TokenComparison records measured token usage with and without the workflow.
type TokenComparison struct {
	WithWorkflow int `json:"with_workflow" yaml:"with_workflow"`
	FromScratch  int `json:"from_scratch" yaml:"from_scratch"`
}

// Saved returns the tokens saved by using the workflow, floored at zero.
func (t *TokenComparison) Saved() int {
	if t == nil || t.FromScratch <= t.WithWorkflow {
		return 0
	}
	return t.FromScratch - t.WithWorkflow
}

// Item is a reusable workflow template listed in the catalog.
type Item struct {
	ID              string           `json:"id" yaml:"id"`
	Title           string           `json:"title" yaml:"title"`
	Description     string           `json:"description,omitempty" yaml:"description,omitempty"`
	Category        string           `json:"category" yaml:"category"`
	DownloadCost    int              `json:"download_cost" yaml:"download_cost"`
	ExecutionCost   int              `json:"execution_cost" yaml:"execution_cost"`
	PriceTokens     int              `json:"price_tokens,omitempty" yaml:"price_tokens,omitempty"`
	Rating          float64          `json:"rating" yaml:"rating"`
	UsageCount      int              `json:"usage_count" yaml:"usage_count"`
	Tags            []string         `json:"tags,omitempty" yaml:"tags,omitempty"`
	Requirements    []string         `json:"requirements,omitempty" yaml:"requirements,omitempty"`
	State           string           `json:"state,omitempty" yaml:"state,omitempty"`
	Location        string           `json:"location,omitempty" yaml:"location,omitempty"`
	Year            int              `json:"year,omitempty" yaml:"year,omitempty"`
	Steps           []Step           `json:"steps,omitempty" yaml:"steps,omitempty"`
	EdgeCases       []string         `json:"edge_cases,omitempty" yaml:"edge_cases,omitempty"`
	DomainKnowledge []string         `json:"domain_knowledge,omitempty" yaml:"domain_knowledge,omitempty"`
	TokenComparison *TokenComparison `json:"token_comparison,omitempty" yaml:"token_comparison,omitempty"`
	Embedding       []float32        `json:"embedding,omitempty" yaml:"embedding,omitempty"`

	// SimilarityScore is transient: the match score assigned by the most
	// recent search or oracle call that produced this copy.
	SimilarityScore float64 `json:"similarity_score,omitempty" yaml:"-"`
}

// TotalCost is the download cost plus the execution cost.
func (i Item) TotalCost() int {
	return i.DownloadCost + i.ExecutionCost
}

// EffectiveCategory returns the item category, or GeneralCategory when unset.
func (i Item) EffectiveCategory() string {
	if i.Category == "" {
		return GeneralCategory
	}
	return i.Category
}

// Clone returns a deep copy of the item so callers can set SimilarityScore
// without touching catalog-owned slices.
func (i Item) Clone() Item {
	out := i
	out.Tags = append([]string(nil), i.Tags...)
	out.Requirements = append([]string(nil), i.Requirements...)
	out.Steps = append([]Step(nil), i.Steps...)
	out.EdgeCases = append([]string(nil), i.EdgeCases...)
	out.DomainKnowledge = append([]string(nil), i.DomainKnowledge...)
	out.Embedding = append([]float32(nil), i.Embedding...)
	if i.TokenComparison != nil {
		tc := *i.TokenComparison
		out.TokenComparison = &tc
	}
	return out
}

// WithScore returns a copy of the item carrying the given similarity score.
func (i Item) WithScore(score float64) Item {
	out := i.Clone()
	out.SimilarityScore = score
	return out
}

// Text renders the searchable representation of the item used for
// embeddings and keyword matching.
func (i Item) Text() string {
	parts := []string{
		"Title: " + i.Title,
		"Task: " + i.EffectiveCategory(),
	}
	if i.Description != "" {
		parts = append(parts, "Description: "+i.Description)
	}
	if i.State != "" {
		parts = append(parts, "State: "+i.State)
	}
	if i.Location != "" {
		parts = append(parts, "Location: "+i.Location)
	}
	if i.Year != 0 {
		parts = append(parts, fmt.Sprintf("Year: %d", i.Year))
	}
	if len(i.Tags) > 0 {
		parts = append(parts, "Tags: "+strings.Join(i.Tags, ", "))
	}
	if len(i.Requirements) > 0 {
		parts = append(parts, "Requirements: "+strings.Join(i.Requirements, ", "))
	}

	var steps []string
	for idx, s := range i.Steps {
		if idx == 5 {
			break
		}
		if s.Thought != "" {
			steps = append(steps, fmt.Sprintf("%d. %s", s.Step, s.Thought))
		}
	}
	if len(steps) > 0 {
		parts = append(parts, "Steps: "+strings.Join(steps, "; "))
	}
	if len(i.EdgeCases) > 0 {
		parts = append(parts, "Edge cases: "+strings.Join(firstN(i.EdgeCases, 3), ", "))
	}
	if len(i.DomainKnowledge) > 0 {
		parts = append(parts, "Domain: "+strings.Join(firstN(i.DomainKnowledge, 3), ", "))
	}
	return strings.Join(parts, " | ")
}

func firstN(s []string, n int) []string {
	if len(s) > n {
		return s[:n]
	}
	return s
}

// Subtask is a weighted fragment of a decomposed task.
type Subtask struct {
	Text      string  `json:"text"`
	Category  string  `json:"category"`
	Weight    float64 `json:"weight"`
	Rationale string  `json:"rationale,omitempty"`
}

// EffectiveCategory returns the subtask category, or GeneralCategory when unset.
func (s Subtask) EffectiveCategory() string {
	if s.Category == "" {
		return GeneralCategory
	}
	return s.Category
}

// NormalizeSubtasks cleans raw decomposer output and keeps at most maxN
// subtasks (all when maxN <= 0). Texts are trimmed and empty ones dropped,
// weights outside (0,1] become 1.0, and unknown categories become general.
func NormalizeSubtasks(raw []Subtask, maxN int) []Subtask {
	out := make([]Subtask, 0, len(raw))
	for _, st := range raw {
		if maxN > 0 && len(out) == maxN {
			break
		}
		st.Text = strings.TrimSpace(st.Text)
		if st.Text == "" {
			continue
		}
		if math.IsNaN(st.Weight) || st.Weight <= 0 || st.Weight > 1 {
			st.Weight = 1.0
		}
		if !IsKnownCategory(st.Category) {
			st.Category = GeneralCategory
		}
		out = append(out, st)
	}
	return out
}
