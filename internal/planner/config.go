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

	"github.com/tombee/marketplace/pkg/errors"
)

// Config holds the planner's tunable constants.
type Config struct {
	// TauGood is the score at which a direct match is accepted outright.
	TauGood float64 `yaml:"tau_good"`

	// Epsilon is the minimum improvement a composite must show over the
	// best direct match to be accepted without refinement.
	Epsilon float64 `yaml:"epsilon"`

	// MaxDepth bounds recursive refinement of weak subtasks.
	MaxDepth int `yaml:"max_depth"`

	MinSubtasks int `yaml:"min_subtasks"`
	MaxSubtasks int `yaml:"max_subtasks"`

	// BroadTopK is the candidate pool size for the whole task.
	BroadTopK int `yaml:"broad_top_k"`

	// SubtaskTopK is the candidate pool size per subtask.
	SubtaskTopK int `yaml:"subtask_top_k"`

	// Concurrency caps parallel subtask searches.
	Concurrency int `yaml:"concurrency"`
}

// DefaultConfig returns the default planner constants.
func DefaultConfig() Config {
	return Config{
		TauGood:     0.85,
		Epsilon:     0.10,
		MaxDepth:    2,
		MinSubtasks: 2,
		MaxSubtasks: 8,
		BroadTopK:   10,
		SubtaskTopK: 3,
		Concurrency: 4,
	}
}

// Validate checks the constants are usable.
func (c Config) Validate() error {
	switch {
	case c.TauGood < 0 || c.TauGood > 1:
		return &errors.ValidationError{Field: "planner.tau_good", Message: fmt.Sprintf("must be in [0,1], got %g", c.TauGood)}
	case c.Epsilon < 0:
		return &errors.ValidationError{Field: "planner.epsilon", Message: "must not be negative"}
	case c.MaxDepth < 0:
		return &errors.ValidationError{Field: "planner.max_depth", Message: "must not be negative"}
	case c.MinSubtasks < 1 || c.MaxSubtasks < c.MinSubtasks:
		return &errors.ValidationError{
			Field:      "planner.min_subtasks",
			Message:    fmt.Sprintf("invalid subtask bounds [%d,%d]", c.MinSubtasks, c.MaxSubtasks),
			Suggestion: "use 1 <= min_subtasks <= max_subtasks",
		}
	case c.BroadTopK < 1 || c.SubtaskTopK < 1:
		return &errors.ValidationError{Field: "planner.broad_top_k", Message: "top-k values must be positive"}
	case c.Concurrency < 1:
		return &errors.ValidationError{Field: "planner.concurrency", Message: "must be at least 1"}
	}
	return nil
}
