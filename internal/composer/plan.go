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
	"sort"

	"github.com/tombee/marketplace/pkg/catalog"
)

// Strategy names how an ExecutionPlan was built.
type Strategy string

const (
	// StrategyDecomposed follows the planner's subtask to item mapping.
	StrategyDecomposed Strategy = "decomposed"
	// StrategySingle covers the whole task with the top item.
	StrategySingle Strategy = "single"
	// StrategyPerSubtask assigns one pool item per subtask.
	StrategyPerSubtask Strategy = "per_subtask"
	// StrategyVariant covers the whole task with a lower-ranked item.
	StrategyVariant Strategy = "variant"
)

// Node is one step of an execution plan.
type Node struct {
	ID           string       `json:"id"`
	Description  string       `json:"description"`
	Category     string       `json:"category"`
	Item         catalog.Item `json:"item"`
	Dependencies []string     `json:"dependencies"`
	Children     []string     `json:"children"`
	Weight       float64      `json:"weight"`
	Confidence   float64      `json:"confidence"`
}

// ExecutionPlan is an acyclic, costed arrangement of nodes. ExecutionOrder
// lists every node exactly once and places each parent before its
// children.
type ExecutionPlan struct {
	Nodes              map[string]*Node `json:"nodes"`
	RootIDs            []string         `json:"root_ids"`
	ExecutionOrder     []string         `json:"execution_order"`
	TotalDownloadCost  int              `json:"total_download_cost"`
	TotalExecutionCost int              `json:"total_execution_cost"`
	Coverage           string           `json:"coverage"`
	OverallConfidence  float64          `json:"overall_confidence"`
	Strategy           Strategy         `json:"strategy"`
	RankScore          float64          `json:"rank_score"`
}

// TotalCost is the download cost plus the execution cost.
func (p *ExecutionPlan) TotalCost() int {
	return p.TotalDownloadCost + p.TotalExecutionCost
}

// OrderedNodes returns the nodes in execution order.
func (p *ExecutionPlan) OrderedNodes() []*Node {
	out := make([]*Node, 0, len(p.ExecutionOrder))
	for _, id := range p.ExecutionOrder {
		if n, ok := p.Nodes[id]; ok {
			out = append(out, n)
		}
	}
	return out
}

// ItemIDs returns the distinct item IDs in execution order.
func (p *ExecutionPlan) ItemIDs() []string {
	seen := make(map[string]bool)
	var out []string
	for _, n := range p.OrderedNodes() {
		if !seen[n.Item.ID] {
			seen[n.Item.ID] = true
			out = append(out, n.Item.ID)
		}
	}
	return out
}

// computeTotals fills the cost and confidence fields. Download cost is
// charged once per distinct item; execution cost once per node.
func (p *ExecutionPlan) computeTotals() {
	p.TotalDownloadCost, p.TotalExecutionCost = 0, 0
	charged := make(map[string]bool, len(p.Nodes))
	var weighted, weights float64
	for _, id := range p.ExecutionOrder {
		n := p.Nodes[id]
		if !charged[n.Item.ID] {
			charged[n.Item.ID] = true
			p.TotalDownloadCost += n.Item.DownloadCost
		}
		p.TotalExecutionCost += n.Item.ExecutionCost
		weighted += n.Confidence * n.Weight
		weights += n.Weight
	}
	p.OverallConfidence = 0
	if weights > 0 {
		p.OverallConfidence = weighted / weights
	}
	p.RankScore = rankScore(p)
}

// rankScore rewards confidence and penalises cost.
func rankScore(p *ExecutionPlan) float64 {
	return p.OverallConfidence*10 + max(0, 10-float64(p.TotalCost())/1000)
}

// rank orders plans by descending RankScore, keeping generation order on
// ties, and keeps the first k.
func rank(plans []*ExecutionPlan, k int) []*ExecutionPlan {
	sort.SliceStable(plans, func(i, j int) bool {
		return plans[i].RankScore > plans[j].RankScore
	})
	if k > 0 && len(plans) > k {
		plans = plans[:k]
	}
	return plans
}
