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

// Package store defines persistence for estimate sessions and item
// feedback.
//
// # Interface Hierarchy
//
//   - SessionStore (required): PutSession, GetSession
//   - FeedbackStore (required): RecordVote, GetFeedback
//   - SessionPurger (optional): PurgeSessions
//   - io.Closer
//
// Store composes the required interfaces. A session is returned by
// GetSession until it is purged, even after ExpiresAt, so callers can tell
// an expired session from an unknown one.
package store

import (
	"context"
	"io"
	"time"

	"github.com/tombee/marketplace/internal/composer"
	"github.com/tombee/marketplace/pkg/errors"
)

// Backend names.
const (
	BackendMemory   = "memory"
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
)

// SessionStore persists estimate sessions.
type SessionStore interface {
	// PutSession writes a new session. Sessions are write-once.
	PutSession(ctx context.Context, s *Session) error

	// GetSession returns the session or a *errors.SessionNotFoundError.
	GetSession(ctx context.Context, id string) (*Session, error)
}

// FeedbackStore keeps running vote totals per catalog item.
type FeedbackStore interface {
	// RecordVote adds one vote and returns the updated totals.
	RecordVote(ctx context.Context, itemID string, vote Vote) (*Feedback, error)

	// GetFeedback returns the totals for an item, zero when it has none.
	GetFeedback(ctx context.Context, itemID string) (*Feedback, error)
}

// SessionPurger is implemented by backends that need explicit cleanup of
// old sessions. The memory backend evicts on its own.
//
//	if p, ok := s.(SessionPurger); ok {
//	    n, err := p.PurgeSessions(ctx, time.Now().Add(-retention))
//	}
type SessionPurger interface {
	// PurgeSessions deletes sessions that expired before cutoff.
	PurgeSessions(ctx context.Context, cutoff time.Time) (int64, error)
}

// Store is the full storage interface.
type Store interface {
	SessionStore
	FeedbackStore
	io.Closer
}

// Config selects and configures a backend.
type Config struct {
	Backend string `yaml:"backend"`

	// TTL is how long a session can be resolved.
	TTL time.Duration `yaml:"ttl"`

	// MaxEntries bounds the memory backend.
	MaxEntries int `yaml:"max_entries"`

	// Path is the sqlite database file.
	Path string `yaml:"path"`

	// DSN is the postgres connection URL.
	DSN string `yaml:"dsn"`
}

// DefaultConfig returns an in-memory store with a one hour TTL.
func DefaultConfig() Config {
	return Config{
		Backend:    BackendMemory,
		TTL:        time.Hour,
		MaxEntries: 10000,
		Path:       "marketplace.db",
	}
}

// Retention is how long sessions are kept after creation. Sessions are
// kept past their TTL so that late resolves report expiry rather than an
// unknown session.
func (c Config) Retention() time.Duration {
	return 2 * c.TTL
}

// Validate checks the configuration.
func (c Config) Validate() error {
	switch c.Backend {
	case BackendMemory:
		if c.MaxEntries <= 0 {
			return &errors.ValidationError{Field: "session.max_entries", Message: "must be positive"}
		}
	case BackendSQLite:
		if c.Path == "" {
			return &errors.ValidationError{Field: "session.path", Message: "required for the sqlite backend"}
		}
	case BackendPostgres:
		if c.DSN == "" {
			return &errors.ValidationError{
				Field:      "session.dsn",
				Message:    "required for the postgres backend",
				Suggestion: "set MARKET_DATABASE_URL",
			}
		}
	default:
		return &errors.ValidationError{
			Field:      "session.backend",
			Message:    "unknown backend " + c.Backend,
			Suggestion: "use memory, sqlite or postgres",
		}
	}
	if c.TTL <= 0 {
		return &errors.ValidationError{Field: "session.ttl", Message: "must be positive"}
	}
	return nil
}

// Session is the server-side record of one estimate.
type Session struct {
	ID        string           `json:"id"`
	Query     string           `json:"query"`
	Solutions []SolutionRecord `json:"solutions"`
	CreatedAt time.Time        `json:"created_at"`
	ExpiresAt time.Time        `json:"expires_at"`
}

// SolutionRecord is a ranked plan offered by an estimate.
type SolutionRecord struct {
	SolutionID string                  `json:"solution_id"`
	Rank       int                     `json:"rank"`
	Plan       *composer.ExecutionPlan `json:"plan"`
}

// Solution finds a solution by ID.
func (s *Session) Solution(id string) (*SolutionRecord, bool) {
	for i := range s.Solutions {
		if s.Solutions[i].SolutionID == id {
			return &s.Solutions[i], true
		}
	}
	return nil, false
}

// Expired reports whether the session can no longer be resolved.
func (s *Session) Expired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}

// Vote is a feedback direction.
type Vote string

const (
	VoteUp   Vote = "up"
	VoteDown Vote = "down"
)

// Valid reports whether v is a known vote.
func (v Vote) Valid() bool {
	return v == VoteUp || v == VoteDown
}

// Feedback is the running vote total for an item.
type Feedback struct {
	ItemID    string    `json:"item_id"`
	Up        int64     `json:"up"`
	Down      int64     `json:"down"`
	UpdatedAt time.Time `json:"updated_at,omitempty"`
}

// Approval is the share of up votes, or 0 with no votes.
func (f *Feedback) Approval() float64 {
	total := f.Up + f.Down
	if total == 0 {
		return 0
	}
	return float64(f.Up) / float64(total)
}

// Deltas returns the up and down increments for a vote.
func (v Vote) Deltas() (up, down int64) {
	if v == VoteUp {
		return 1, 0
	}
	return 0, 1
}
