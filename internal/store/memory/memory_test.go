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
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tombee/marketplace/internal/store"
	"github.com/tombee/marketplace/internal/store/storetest"
)

func TestMemoryStore(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Store {
		return New(100, time.Hour)
	})
}

func TestMemoryStore_EvictsAfterRetention(t *testing.T) {
	s := New(10, 30*time.Millisecond)
	ctx := context.Background()
	require.NoError(t, s.PutSession(ctx, storetest.SampleSession("session_short", time.Now())))

	assert.Eventually(t, func() bool {
		_, err := s.GetSession(ctx, "session_short")
		return err != nil
	}, time.Second, 10*time.Millisecond)
}

func TestMemoryStore_BoundedSize(t *testing.T) {
	s := New(2, time.Hour)
	ctx := context.Background()
	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, s.PutSession(ctx, storetest.SampleSession(id, time.Now())))
	}
	assert.Equal(t, 2, s.Len())
	_, err := s.GetSession(ctx, "a")
	assert.Error(t, err)
}
