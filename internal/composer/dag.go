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
)

// graph is a mutable dependency graph over nodes in insertion order.
// edges[p][c] means p must run before c.
type graph struct {
	nodes []*Node
	edges [][]bool
}

func newGraph(nodes []*Node) *graph {
	edges := make([][]bool, len(nodes))
	for i := range edges {
		edges[i] = make([]bool, len(nodes))
	}
	return &graph{nodes: nodes, edges: edges}
}

func (g *graph) addEdge(parent, child int) {
	if parent != child {
		g.edges[parent][child] = true
	}
}

// inferDependencies adds parent→child for every ordered pair where the
// parent's category has strictly lower precedence, or, between categories
// of equal precedence, where the parent outweighs the child by more than
// dominance.
func (g *graph) inferDependencies(prec precedenceTable, dominance float64) {
	for p, parent := range g.nodes {
		for c, child := range g.nodes {
			if p == c {
				continue
			}
			pr, cr := prec.rank(parent.Category), prec.rank(child.Category)
			switch {
			case pr < cr:
				g.addEdge(p, c)
			case pr == cr && parent.Weight-child.Weight > dominance:
				g.addEdge(p, c)
			}
		}
	}
}

// kahn topologically sorts the graph. Among ready nodes the heaviest goes
// first, then the earliest inserted. It returns the sorted indices and a
// mask of nodes left unsorted by a cycle.
func (g *graph) kahn() ([]int, []bool) {
	n := len(g.nodes)
	indegree := make([]int, n)
	for p := 0; p < n; p++ {
		for c := 0; c < n; c++ {
			if g.edges[p][c] {
				indegree[c]++
			}
		}
	}

	done := make([]bool, n)
	order := make([]int, 0, n)
	for len(order) < n {
		next := -1
		for i := 0; i < n; i++ {
			if done[i] || indegree[i] > 0 {
				continue
			}
			if next < 0 || g.nodes[i].Weight > g.nodes[next].Weight {
				next = i
			}
		}
		if next < 0 {
			break
		}
		done[next] = true
		order = append(order, next)
		for c := 0; c < n; c++ {
			if g.edges[next][c] {
				indegree[c]--
			}
		}
	}

	unsorted := make([]bool, n)
	for i := range unsorted {
		unsorted[i] = !done[i]
	}
	return order, unsorted
}

// repairResult describes what resolve had to do.
type repairResult struct {
	removed int
	forced  bool
}

// resolve returns a total order over all nodes. While a cycle remains it
// removes the weakest edge inside the unsorted set, for at most maxRounds
// rounds; after that, edges among the remaining nodes are cleared and
// they are appended heaviest first.
func (g *graph) resolve(bias float64, maxRounds int) ([]int, repairResult) {
	var res repairResult
	order, unsorted := g.kahn()
	for round := 0; len(order) < len(g.nodes) && round < maxRounds; round++ {
		p, c := g.weakestEdge(unsorted, bias)
		if p < 0 {
			break
		}
		g.edges[p][c] = false
		res.removed++
		order, unsorted = g.kahn()
	}
	if len(order) == len(g.nodes) {
		return order, res
	}

	res.forced = true
	var rest []int
	for i, u := range unsorted {
		if !u {
			continue
		}
		rest = append(rest, i)
		for j, v := range unsorted {
			if v {
				g.edges[i][j] = false
			}
		}
	}
	sort.SliceStable(rest, func(a, b int) bool {
		return g.nodes[rest[a]].Weight > g.nodes[rest[b]].Weight
	})
	return append(order, rest...), res
}

// weakestEdge finds the edge inside the unsorted set with the lowest
// weakness (pw - cw) + bias*pw. The first such edge wins ties.
func (g *graph) weakestEdge(unsorted []bool, bias float64) (int, int) {
	bp, bc := -1, -1
	var best float64
	for p := range g.nodes {
		if !unsorted[p] {
			continue
		}
		for c := range g.nodes {
			if !unsorted[c] || !g.edges[p][c] {
				continue
			}
			pw, cw := g.nodes[p].Weight, g.nodes[c].Weight
			w := (pw - cw) + bias*pw
			if bp < 0 || w < best {
				bp, bc, best = p, c, w
			}
		}
	}
	return bp, bc
}

// apply writes the graph's edges into the nodes and returns the plan
// skeleton in the given order.
func (g *graph) apply(order []int) *ExecutionPlan {
	plan := &ExecutionPlan{Nodes: make(map[string]*Node, len(g.nodes))}
	for _, n := range g.nodes {
		n.Dependencies = []string{}
		n.Children = []string{}
	}
	for p, parent := range g.nodes {
		for c, child := range g.nodes {
			if g.edges[p][c] {
				parent.Children = append(parent.Children, child.ID)
				child.Dependencies = append(child.Dependencies, parent.ID)
			}
		}
	}
	for _, i := range order {
		n := g.nodes[i]
		plan.Nodes[n.ID] = n
		plan.ExecutionOrder = append(plan.ExecutionOrder, n.ID)
		if len(n.Dependencies) == 0 {
			plan.RootIDs = append(plan.RootIDs, n.ID)
		}
	}
	return plan
}
