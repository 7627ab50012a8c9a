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

package postgres

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tombee/marketplace/internal/store"
	"github.com/tombee/marketplace/internal/store/storetest"
)

// Set MARKET_TEST_DATABASE_URL to run against a live server.
func TestPostgresStore(t *testing.T) {
	dsn := os.Getenv("MARKET_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("MARKET_TEST_DATABASE_URL not set")
	}

	storetest.Run(t, func(t *testing.T) store.Store {
		s, err := New(Config{ConnectionString: dsn, MaxOpenConns: 4})
		require.NoError(t, err)
		for _, table := range []string{"market_sessions", "market_feedback"} {
			_, err := s.db.ExecContext(context.Background(), "TRUNCATE "+table)
			require.NoError(t, err)
		}
		return s
	})
}

func TestNew_BadConnectionString(t *testing.T) {
	_, err := New(Config{ConnectionString: "postgres://nobody@127.0.0.1:1/none?sslmode=disable&connect_timeout=1"})
	require.Error(t, err)
}
