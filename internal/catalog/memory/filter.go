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

package memory

import (
	"fmt"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/tombee/marketplace/pkg/catalog"
)

// Filter is a compiled boolean expression that gates which catalog items
// are eligible as search candidates, e.g. `rating >= 3 && total_cost < 5000`.
type Filter struct {
	source  string
	program *vm.Program
}

// CompileFilter compiles a filter expression. An empty expression yields a
// nil filter, which admits every item.
func CompileFilter(source string) (*Filter, error) {
	if source == "" {
		return nil, nil
	}
	program, err := expr.Compile(source,
		expr.Env(filterEnv(catalog.Item{})),
		expr.AsBool(),
	)
	if err != nil {
		return nil, fmt.Errorf("invalid catalog filter %q: %w", source, err)
	}
	return &Filter{source: source, program: program}, nil
}

// String returns the filter source.
func (f *Filter) String() string {
	if f == nil {
		return ""
	}
	return f.source
}

// Allow reports whether the item passes the filter. Evaluation errors
// exclude the item.
func (f *Filter) Allow(it catalog.Item) bool {
	if f == nil {
		return true
	}
	out, err := expr.Run(f.program, filterEnv(it))
	if err != nil {
		return false
	}
	ok, _ := out.(bool)
	return ok
}

func filterEnv(it catalog.Item) map[string]any {
	tags := it.Tags
	if tags == nil {
		tags = []string{}
	}
	return map[string]any{
		"id":             it.ID,
		"title":          it.Title,
		"category":       it.EffectiveCategory(),
		"rating":         it.Rating,
		"usage_count":    it.UsageCount,
		"download_cost":  it.DownloadCost,
		"execution_cost": it.ExecutionCost,
		"total_cost":     it.TotalCost(),
		"steps":          len(it.Steps),
		"state":          it.State,
		"year":           it.Year,
		"tags":           tags,
	}
}
