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

// Package storetest is a conformance suite run against every store
// backend.
package storetest

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tombee/marketplace/internal/composer"
	"github.com/tombee/marketplace/internal/store"
	"github.com/tombee/marketplace/pkg/catalog"
	"github.com/tombee/marketplace/pkg/errors"
)

// Factory returns a fresh, empty store. The suite closes it.
type Factory func(t *testing.T) store.Store

// SampleSession returns a session with one single-node solution.
func SampleSession(id string, created time.Time) *store.Session {
	node := &composer.Node{
		ID:           "subtask_0",
		Description:  "Complete workflow",
		Category:     "filing",
		Item:         catalog.Item{ID: "ohio_file", Title: "Ohio filing", Category: "filing", DownloadCost: 200, ExecutionCost: 800, Rating: 4.8},
		Dependencies: []string{},
		Children:     []string{},
		Weight:       1,
		Confidence:   0.9,
	}
	return &store.Session{
		ID:    id,
		Query: "file my Ohio taxes",
		Solutions: []store.SolutionRecord{{
			SolutionID: "sol_1",
			Rank:       1,
			Plan: &composer.ExecutionPlan{
				Nodes:              map[string]*composer.Node{node.ID: node},
				RootIDs:            []string{node.ID},
				ExecutionOrder:     []string{node.ID},
				TotalDownloadCost:  200,
				TotalExecutionCost: 800,
				Coverage:           "1/1",
				OverallConfidence:  0.9,
				Strategy:           composer.StrategySingle,
				RankScore:          18,
			},
		}},
		CreatedAt: created,
		ExpiresAt: created.Add(time.Hour),
	}
}

// Run exercises the store contract.
func Run(t *testing.T, factory Factory) {
	t.Run("SessionRoundTrip", func(t *testing.T) {
		s := factory(t)
		defer s.Close()
		ctx := context.Background()

		created := time.Now().UTC().Truncate(time.Millisecond)
		want := SampleSession("session_0123456789abcdef", created)
		require.NoError(t, s.PutSession(ctx, want))

		got, err := s.GetSession(ctx, want.ID)
		require.NoError(t, err)
		assert.Equal(t, want.ID, got.ID)
		assert.Equal(t, want.Query, got.Query)
		assert.True(t, want.ExpiresAt.Equal(got.ExpiresAt))
		require.Len(t, got.Solutions, 1)

		sol, ok := got.Solution("sol_1")
		require.True(t, ok)
		assert.Equal(t, []string{"subtask_0"}, sol.Plan.ExecutionOrder)
		assert.Equal(t, "ohio_file", sol.Plan.Nodes["subtask_0"].Item.ID)
		assert.Equal(t, 1000, sol.Plan.TotalCost())

		_, ok = got.Solution("sol_2")
		assert.False(t, ok)
	})

	t.Run("UnknownSession", func(t *testing.T) {
		s := factory(t)
		defer s.Close()

		_, err := s.GetSession(context.Background(), "session_missing")
		require.Error(t, err)
		assert.True(t, errors.Is(err, errors.ErrSessionNotFound))
	})

	t.Run("SessionsAreWriteOnce", func(t *testing.T) {
		s := factory(t)
		defer s.Close()
		ctx := context.Background()

		sess := SampleSession("session_dup", time.Now())
		require.NoError(t, s.PutSession(ctx, sess))
		assert.Error(t, s.PutSession(ctx, sess))
	})

	t.Run("ExpiredSessionStillReadable", func(t *testing.T) {
		s := factory(t)
		defer s.Close()
		ctx := context.Background()

		sess := SampleSession("session_old", time.Now().Add(-90*time.Minute))
		require.NoError(t, s.PutSession(ctx, sess))

		got, err := s.GetSession(ctx, sess.ID)
		require.NoError(t, err)
		assert.True(t, got.Expired(time.Now()))
	})

	t.Run("FeedbackTotals", func(t *testing.T) {
		s := factory(t)
		defer s.Close()
		ctx := context.Background()

		empty, err := s.GetFeedback(ctx, "ohio_file")
		require.NoError(t, err)
		assert.Zero(t, empty.Up)
		assert.Zero(t, empty.Down)

		_, err = s.RecordVote(ctx, "ohio_file", store.VoteUp)
		require.NoError(t, err)
		_, err = s.RecordVote(ctx, "ohio_file", store.VoteUp)
		require.NoError(t, err)
		f, err := s.RecordVote(ctx, "ohio_file", store.VoteDown)
		require.NoError(t, err)

		assert.Equal(t, int64(2), f.Up)
		assert.Equal(t, int64(1), f.Down)
		assert.InDelta(t, 2.0/3.0, f.Approval(), 1e-9)

		got, err := s.GetFeedback(ctx, "ohio_file")
		require.NoError(t, err)
		assert.Equal(t, f.Up, got.Up)
		assert.Equal(t, f.Down, got.Down)
	})

	t.Run("InvalidVote", func(t *testing.T) {
		s := factory(t)
		defer s.Close()

		_, err := s.RecordVote(context.Background(), "x", store.Vote("sideways"))
		var vErr *errors.ValidationError
		assert.True(t, errors.As(err, &vErr))
	})

	t.Run("ConcurrentVotes", func(t *testing.T) {
		s := factory(t)
		defer s.Close()
		ctx := context.Background()

		var wg sync.WaitGroup
		for i := 0; i < 20; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				vote := store.VoteUp
				if i%4 == 0 {
					vote = store.VoteDown
				}
				_, err := s.RecordVote(ctx, "busy", vote)
				assert.NoError(t, err)
			}(i)
		}
		wg.Wait()

		f, err := s.GetFeedback(ctx, "busy")
		require.NoError(t, err)
		assert.Equal(t, int64(15), f.Up)
		assert.Equal(t, int64(5), f.Down)
	})
}
