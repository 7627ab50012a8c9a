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

// Package oracle provides the task oracles the planner consults: one that
// decomposes a task into weighted subtasks, and scores how well a catalog
// item fits a task. LLMOracle asks a language model; KeywordOracle is a
// deterministic offline fallback.
package oracle

import (
	"context"

	"github.com/tombee/marketplace/pkg/catalog"
)

// TaskOracle decomposes tasks and scores candidate items.
type TaskOracle interface {
	// Decompose splits text into between minN and maxN weighted subtasks.
	Decompose(ctx context.Context, text string, minN, maxN int) ([]catalog.Subtask, error)

	// Score rates how well item satisfies text, in [0,1].
	Score(ctx context.Context, text string, item catalog.Item) (float64, error)
}

// clamp01 bounds v to [0,1].
func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
