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

package planner

import (
	"fmt"

	"github.com/tombee/marketplace/pkg/catalog"
)

// PlanType tags a SearchPlan as a direct match or a composite of subtask
// matches.
type PlanType string

const (
	PlanDirect    PlanType = "direct"
	PlanComposite PlanType = "composite"
)

// SearchPlan is the planner's answer for one task.
//
// A direct plan carries the candidate pool for the whole task, best first.
// A composite plan carries one item per matched subtask; Mapping maps a
// subtask index to its item index, and unmatched subtasks are absent.
type SearchPlan struct {
	Type     PlanType          `json:"type"`
	Items    []catalog.Item    `json:"items"`
	Score    float64           `json:"score"`
	Subtasks []catalog.Subtask `json:"subtasks,omitempty"`
	Mapping  map[int]int       `json:"mapping,omitempty"`
	Coverage string            `json:"coverage,omitempty"`

	// FinalDepth is the deepest recursion level visited.
	FinalDepth int `json:"final_depth"`

	// BestScoreObserved is the highest score seen anywhere in the search.
	BestScoreObserved float64 `json:"best_score_observed"`

	// MaxDepthReached is set when refinement hit the depth limit.
	MaxDepthReached bool `json:"max_depth_reached"`
}

// IsComposite reports whether the plan was assembled from subtasks.
func (p *SearchPlan) IsComposite() bool {
	return p != nil && p.Type == PlanComposite
}

// MatchedSubtasks returns the subtask indices present in Mapping, in
// ascending order.
func (p *SearchPlan) MatchedSubtasks() []int {
	var out []int
	for i := range p.Subtasks {
		if _, ok := p.Mapping[i]; ok {
			out = append(out, i)
		}
	}
	return out
}

// ItemFor returns the item assigned to subtask i.
func (p *SearchPlan) ItemFor(i int) (catalog.Item, bool) {
	j, ok := p.Mapping[i]
	if !ok || j < 0 || j >= len(p.Items) {
		return catalog.Item{}, false
	}
	return p.Items[j], true
}

func coverage(matched, total int) string {
	return fmt.Sprintf("%d/%d", matched, total)
}
