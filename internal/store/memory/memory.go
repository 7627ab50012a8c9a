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

// Package memory provides an in-memory store for single-process
// deployments and tests.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/tombee/marketplace/internal/store"
	"github.com/tombee/marketplace/pkg/errors"
)

// Compile-time interface assertions.
var (
	_ store.SessionStore  = (*Store)(nil)
	_ store.FeedbackStore = (*Store)(nil)
	_ store.Store         = (*Store)(nil)
)

// Store keeps sessions in a bounded LRU whose entries are evicted after
// the retention period. Feedback totals live in a plain map.
type Store struct {
	sessions *expirable.LRU[string, *store.Session]

	// mu serialises session inserts and guards feedback.
	mu       sync.Mutex
	feedback map[string]*store.Feedback
	now      func() time.Time
}

// New creates a memory store holding at most maxEntries sessions, each
// for at most retention.
func New(maxEntries int, retention time.Duration) *Store {
	if maxEntries <= 0 {
		maxEntries = store.DefaultConfig().MaxEntries
	}
	return &Store{
		sessions: expirable.NewLRU[string, *store.Session](maxEntries, nil, retention),
		feedback: make(map[string]*store.Feedback),
		now:      time.Now,
	}
}

// PutSession stores a session. Existing IDs are rejected.
func (s *Store) PutSession(ctx context.Context, sess *store.Session) error {
	if sess == nil || sess.ID == "" {
		return &errors.ValidationError{Field: "session.id", Message: "required"}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sessions.Contains(sess.ID) {
		return fmt.Errorf("session already exists: %s", sess.ID)
	}
	s.sessions.Add(sess.ID, sess)
	return nil
}

// GetSession returns a stored session.
func (s *Store) GetSession(ctx context.Context, id string) (*store.Session, error) {
	sess, ok := s.sessions.Get(id)
	if !ok {
		return nil, &errors.SessionNotFoundError{SessionID: id}
	}
	return sess, nil
}

// Len returns the number of retained sessions.
func (s *Store) Len() int {
	return s.sessions.Len()
}

// RecordVote adds a vote for itemID.
func (s *Store) RecordVote(ctx context.Context, itemID string, vote store.Vote) (*store.Feedback, error) {
	if !vote.Valid() {
		return nil, &errors.ValidationError{Field: "vote", Message: "must be up or down"}
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	f, ok := s.feedback[itemID]
	if !ok {
		f = &store.Feedback{ItemID: itemID}
		s.feedback[itemID] = f
	}
	up, down := vote.Deltas()
	f.Up += up
	f.Down += down
	f.UpdatedAt = s.now()
	out := *f
	return &out, nil
}

// GetFeedback returns the totals for itemID.
func (s *Store) GetFeedback(ctx context.Context, itemID string) (*store.Feedback, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if f, ok := s.feedback[itemID]; ok {
		out := *f
		return &out, nil
	}
	return &store.Feedback{ItemID: itemID}, nil
}

// Close releases nothing; it exists to satisfy store.Store.
func (s *Store) Close() error {
	s.sessions.Purge()
	return nil
}
