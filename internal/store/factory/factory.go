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

// Package factory opens the configured store backend.
package factory

import (
	"github.com/tombee/marketplace/internal/store"
	"github.com/tombee/marketplace/internal/store/memory"
	"github.com/tombee/marketplace/internal/store/postgres"
	"github.com/tombee/marketplace/internal/store/sqlite"
	"github.com/tombee/marketplace/pkg/errors"
)

// Open validates cfg and opens its backend.
func Open(cfg store.Config) (store.Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	switch cfg.Backend {
	case store.BackendSQLite:
		s, err := sqlite.New(sqlite.Config{Path: cfg.Path, WAL: true})
		if err != nil {
			return nil, &errors.ConfigError{Key: "session.path", Reason: "cannot open sqlite store", Cause: err}
		}
		return s, nil
	case store.BackendPostgres:
		s, err := postgres.New(postgres.Config{ConnectionString: cfg.DSN, MaxOpenConns: 10, MaxIdleConns: 5})
		if err != nil {
			return nil, &errors.ConfigError{Key: "session.dsn", Reason: "cannot open postgres store", Cause: err}
		}
		return s, nil
	default:
		return memory.New(cfg.MaxEntries, cfg.Retention()), nil
	}
}
