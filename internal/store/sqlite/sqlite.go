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

// Package sqlite provides a SQLite store for single-node deployments.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/tombee/marketplace/internal/store"
	"github.com/tombee/marketplace/pkg/errors"
)

// Compile-time interface assertions.
var (
	_ store.SessionStore  = (*Store)(nil)
	_ store.FeedbackStore = (*Store)(nil)
	_ store.SessionPurger = (*Store)(nil)
	_ store.Store         = (*Store)(nil)
)

// timeFormat is fixed width so stored timestamps compare lexically.
const timeFormat = "2006-01-02T15:04:05.000000000Z"

// Store is a SQLite storage backend.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Config contains SQLite connection configuration.
type Config struct {
	// Path is the database file path.
	Path string

	// WAL enables Write-Ahead Logging mode for concurrent reads.
	WAL bool
}

// New opens the database and runs migrations.
func New(cfg Config) (*Store, error) {
	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite serializes writes, so only 1 connection for writes
	db.SetMaxOpenConns(1)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	s := &Store{db: db, now: time.Now}
	if err := s.configurePragmas(ctx, cfg.WAL); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to configure pragmas: %w", err)
	}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return s, nil
}

func (s *Store) configurePragmas(ctx context.Context, enableWAL bool) error {
	pragmas := []string{
		"PRAGMA busy_timeout=5000",
		"PRAGMA auto_vacuum=INCREMENTAL",
		"PRAGMA synchronous=NORMAL",
	}
	if enableWAL {
		pragmas = append(pragmas, "PRAGMA journal_mode=WAL")
	}
	for _, pragma := range pragmas {
		if _, err := s.db.ExecContext(ctx, pragma); err != nil {
			return fmt.Errorf("failed to execute %s: %w", pragma, err)
		}
	}
	return nil
}

func (s *Store) migrate(ctx context.Context) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			query TEXT NOT NULL,
			solutions TEXT NOT NULL,
			created_at TEXT NOT NULL,
			expires_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_expires_at ON sessions(expires_at)`,
		`CREATE TABLE IF NOT EXISTS feedback (
			item_id TEXT PRIMARY KEY,
			up_votes INTEGER NOT NULL DEFAULT 0,
			down_votes INTEGER NOT NULL DEFAULT 0,
			updated_at TEXT NOT NULL
		)`,
	}
	for _, m := range migrations {
		if _, err := s.db.ExecContext(ctx, m); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}
	return nil
}

// PutSession inserts a session.
func (s *Store) PutSession(ctx context.Context, sess *store.Session) error {
	if sess == nil || sess.ID == "" {
		return &errors.ValidationError{Field: "session.id", Message: "required"}
	}
	solutions, err := json.Marshal(sess.Solutions)
	if err != nil {
		return fmt.Errorf("failed to marshal solutions: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO sessions (id, query, solutions, created_at, expires_at) VALUES (?, ?, ?, ?, ?)`,
		sess.ID, sess.Query, string(solutions), formatTime(sess.CreatedAt), formatTime(sess.ExpiresAt),
	)
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	return nil
}

// GetSession reads a session.
func (s *Store) GetSession(ctx context.Context, id string) (*store.Session, error) {
	var sess store.Session
	var solutions, createdAt, expiresAt string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, query, solutions, created_at, expires_at FROM sessions WHERE id = ?`, id,
	).Scan(&sess.ID, &sess.Query, &solutions, &createdAt, &expiresAt)
	if err == sql.ErrNoRows {
		return nil, &errors.SessionNotFoundError{SessionID: id}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}

	if err := json.Unmarshal([]byte(solutions), &sess.Solutions); err != nil {
		return nil, fmt.Errorf("failed to unmarshal solutions: %w", err)
	}
	if sess.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if sess.ExpiresAt, err = parseTime(expiresAt); err != nil {
		return nil, err
	}
	return &sess, nil
}

// PurgeSessions deletes sessions that expired before cutoff.
func (s *Store) PurgeSessions(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE expires_at < ?`, formatTime(cutoff))
	if err != nil {
		return 0, fmt.Errorf("failed to purge sessions: %w", err)
	}
	return res.RowsAffected()
}

// RecordVote upserts the running totals for itemID.
func (s *Store) RecordVote(ctx context.Context, itemID string, vote store.Vote) (*store.Feedback, error) {
	if !vote.Valid() {
		return nil, &errors.ValidationError{Field: "vote", Message: "must be up or down"}
	}
	up, down := vote.Deltas()
	now := s.now().UTC()

	f := &store.Feedback{ItemID: itemID, UpdatedAt: now}
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO feedback (item_id, up_votes, down_votes, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(item_id) DO UPDATE SET
			up_votes = up_votes + excluded.up_votes,
			down_votes = down_votes + excluded.down_votes,
			updated_at = excluded.updated_at
		RETURNING up_votes, down_votes`,
		itemID, up, down, formatTime(now),
	).Scan(&f.Up, &f.Down)
	if err != nil {
		return nil, fmt.Errorf("failed to record vote: %w", err)
	}
	return f, nil
}

// GetFeedback reads the totals for itemID.
func (s *Store) GetFeedback(ctx context.Context, itemID string) (*store.Feedback, error) {
	f := &store.Feedback{ItemID: itemID}
	var updatedAt string
	err := s.db.QueryRowContext(ctx,
		`SELECT up_votes, down_votes, updated_at FROM feedback WHERE item_id = ?`, itemID,
	).Scan(&f.Up, &f.Down, &updatedAt)
	if err == sql.ErrNoRows {
		return f, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get feedback: %w", err)
	}
	if f.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	return f, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeFormat)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeFormat, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid stored timestamp %q: %w", s, err)
	}
	return t, nil
}
