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

package market

import (
	"time"

	"github.com/tombee/marketplace/pkg/errors"
)

// Config holds the service's request-level settings.
type Config struct {
	// TopK is the default number of solutions per estimate.
	TopK int `yaml:"top_k"`

	// MaxTopK caps a caller-supplied top_k.
	MaxTopK int `yaml:"max_top_k"`

	// SessionTTL is how long an estimate can be resolved.
	SessionTTL time.Duration `yaml:"session_ttl"`

	// MinAcceptableScore is the strict-mode threshold.
	MinAcceptableScore float64 `yaml:"min_acceptable_score"`

	// DefaultListLimit and MaxListLimit bound catalog listings.
	DefaultListLimit int `yaml:"default_list_limit"`
	MaxListLimit     int `yaml:"max_list_limit"`
}

// DefaultConfig returns the default service settings.
func DefaultConfig() Config {
	return Config{
		TopK:               5,
		MaxTopK:            20,
		SessionTTL:         time.Hour,
		MinAcceptableScore: 0.5,
		DefaultListLimit:   20,
		MaxListLimit:       200,
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.TopK <= 0 || c.MaxTopK < c.TopK {
		return &errors.ValidationError{Field: "market.top_k", Message: "must be positive and at most max_top_k"}
	}
	if c.SessionTTL <= 0 {
		return &errors.ValidationError{Field: "session.ttl", Message: "must be positive"}
	}
	if c.MinAcceptableScore < 0 || c.MinAcceptableScore > 1 {
		return &errors.ValidationError{Field: "quality.min_acceptable_score", Message: "must be in [0, 1]"}
	}
	if c.DefaultListLimit <= 0 || c.MaxListLimit < c.DefaultListLimit {
		return &errors.ValidationError{Field: "market.default_list_limit", Message: "must be positive and at most max_list_limit"}
	}
	return nil
}
