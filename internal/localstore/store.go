// Package localstore provides a SQLite-backed outcome store for one-shot runs
// that have no Postgres available.
package localstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jonathan/apply-autopilot/internal/types"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS job_outcomes (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    user_id TEXT NOT NULL,
    run_id TEXT NOT NULL,
    listing_url TEXT NOT NULL,
    outcome TEXT NOT NULL,
    recorded_at TEXT NOT NULL,
    UNIQUE (user_id, listing_url)
);

CREATE INDEX IF NOT EXISTS idx_job_outcomes_run_id ON job_outcomes(run_id);
`

// Store persists job outcomes in a SQLite file.
type Store struct {
	db *sql.DB
}

// Open opens or creates the database at path. ":memory:" gives a private
// in-memory database.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}
	// One connection keeps ":memory:" databases shared and serializes writers.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// ExistingListings returns the subset of urls that already have an outcome for userID.
func (s *Store) ExistingListings(ctx context.Context, userID uuid.UUID, urls []string) (map[string]bool, error) {
	known := make(map[string]bool)
	if len(urls) == 0 {
		return known, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(urls)), ",")
	args := make([]any, 0, len(urls)+1)
	args = append(args, userID.String())
	for _, u := range urls {
		args = append(args, u)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT listing_url FROM job_outcomes WHERE user_id = ? AND listing_url IN (`+placeholders+`)`,
		args...,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query existing listings: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var u string
		if err := rows.Scan(&u); err != nil {
			return nil, fmt.Errorf("failed to scan listing url: %w", err)
		}
		known[u] = true
	}
	return known, rows.Err()
}

// InsertOutcomes writes outcomes in one transaction, ignoring rows whose
// (user_id, listing_url) already exists, and returns the number of new rows.
func (s *Store) InsertOutcomes(ctx context.Context, outcomes []types.JobOutcome) (int, error) {
	if len(outcomes) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO job_outcomes (user_id, run_id, listing_url, outcome, recorded_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(user_id, listing_url) DO NOTHING`)
	if err != nil {
		return 0, fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	inserted := 0
	for _, o := range outcomes {
		payload, err := json.Marshal(o)
		if err != nil {
			return 0, fmt.Errorf("failed to marshal outcome: %w", err)
		}
		res, err := stmt.ExecContext(ctx,
			o.UserID.String(), o.RunID.String(), o.ListingURL, string(payload),
			o.RecordedAt.UTC().Format(time.RFC3339Nano),
		)
		if err != nil {
			return 0, fmt.Errorf("failed to insert outcome for %s: %w", o.ListingURL, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return 0, fmt.Errorf("failed to read rows affected: %w", err)
		}
		inserted += int(n)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit outcomes: %w", err)
	}
	return inserted, nil
}

// ListOutcomes returns a user's outcomes, newest first.
func (s *Store) ListOutcomes(ctx context.Context, userID uuid.UUID, limit int) ([]types.JobOutcome, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT outcome FROM job_outcomes WHERE user_id = ? ORDER BY id DESC LIMIT ?`,
		userID.String(), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list outcomes: %w", err)
	}
	defer rows.Close()

	var outcomes []types.JobOutcome
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("failed to scan outcome: %w", err)
		}
		var o types.JobOutcome
		if err := json.Unmarshal([]byte(payload), &o); err != nil {
			return nil, fmt.Errorf("failed to unmarshal outcome: %w", err)
		}
		outcomes = append(outcomes, o)
	}
	return outcomes, rows.Err()
}
