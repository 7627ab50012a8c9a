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

package catalog

import (
	"fmt"

	"github.com/tombee/marketplace/pkg/errors"
)

// Validate checks an item for the fields the planner relies on. It returns
// every problem found rather than stopping at the first.
func (i Item) Validate() []error {
	var errs []error
	add := func(field, msg string) {
		errs = append(errs, &errors.ValidationError{Field: field, Message: msg})
	}

	if i.ID == "" {
		add("id", "is required")
	}
	if i.Title == "" {
		add("title", "is required")
	}
	if i.Category == "" {
		add("category", "is required")
	}
	if i.DownloadCost < 0 {
		add("download_cost", "must not be negative")
	}
	if i.ExecutionCost < 0 {
		add("execution_cost", "must not be negative")
	}
	if i.Rating < 0 || i.Rating > 5 {
		add("rating", fmt.Sprintf("must be within [0,5], got %g", i.Rating))
	}
	for idx, s := range i.Steps {
		if s.Thought == "" {
			add(fmt.Sprintf("steps[%d].thought", idx), "is required")
		}
	}
	return errs
}

// ValidateAll validates items and checks ids are unique. Errors are
// prefixed with the offending item id.
func ValidateAll(items []Item) []error {
	var errs []error
	seen := make(map[string]int, len(items))
	for idx, it := range items {
		for _, err := range it.Validate() {
			errs = append(errs, errors.Wrapf(err, "item %d (%s)", idx, it.ID))
		}
		if it.ID == "" {
			continue
		}
		if prev, ok := seen[it.ID]; ok {
			errs = append(errs, &errors.ValidationError{
				Field:   "id",
				Message: fmt.Sprintf("duplicate id %q at items %d and %d", it.ID, prev, idx),
			})
			continue
		}
		seen[it.ID] = idx
	}
	return errs
}
