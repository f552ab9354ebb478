package db

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jonathan/apply-autopilot/internal/types"
)

// -----------------------------------------------------------------------------
// Job Outcome Methods
// -----------------------------------------------------------------------------

const insertOutcomeSQL = `INSERT INTO job_outcomes (
	user_id, run_id, page_number, index_on_page, listing_url, match_signals,
	match_score, match_decision, apply_path, status, reason, questions_answered,
	job_metadata, recorded_at)
 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
 ON CONFLICT (user_id, listing_url) DO NOTHING`

// ExistingListings returns the subset of urls that already have an outcome for userID.
func (db *DB) ExistingListings(ctx context.Context, userID uuid.UUID, urls []string) (map[string]bool, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT listing_url FROM job_outcomes WHERE user_id = $1 AND listing_url = ANY($2)`,
		userID, urls,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query existing listings: %w", err)
	}
	defer rows.Close()

	known := make(map[string]bool)
	for rows.Next() {
		var u string
		if err := rows.Scan(&u); err != nil {
			return nil, fmt.Errorf("failed to scan listing url: %w", err)
		}
		known[u] = true
	}
	return known, rows.Err()
}

// InsertOutcomes writes outcomes in one batch, ignoring rows whose
// (user_id, listing_url) already exists, and returns the number of new rows.
func (db *DB) InsertOutcomes(ctx context.Context, outcomes []types.JobOutcome) (int, error) {
	if len(outcomes) == 0 {
		return 0, nil
	}

	batch := &pgx.Batch{}
	for _, o := range outcomes {
		signalsJSON, err := json.Marshal(o.Signals)
		if err != nil {
			return 0, fmt.Errorf("failed to marshal signals: %w", err)
		}
		metadataJSON, err := json.Marshal(o.Metadata)
		if err != nil {
			return 0, fmt.Errorf("failed to marshal metadata: %w", err)
		}
		batch.Queue(insertOutcomeSQL,
			o.UserID, o.RunID, o.PageNumber, o.IndexOnPage, o.ListingURL, signalsJSON,
			o.MatchScore, string(o.MatchDecision), string(o.ApplyPath), string(o.Status), o.Reason,
			o.QuestionsAnswered, metadataJSON, o.RecordedAt,
		)
	}

	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	br := tx.SendBatch(ctx, batch)
	inserted := 0
	for i := range outcomes {
		tag, err := br.Exec()
		if err != nil {
			_ = br.Close()
			return 0, fmt.Errorf("failed to insert outcome %s: %w", outcomes[i].ListingURL, err)
		}
		inserted += int(tag.RowsAffected())
	}
	if err := br.Close(); err != nil {
		return 0, fmt.Errorf("failed to close batch: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("failed to commit outcomes: %w", err)
	}
	return inserted, nil
}

// ListOutcomes returns a user's outcomes, newest first.
func (db *DB) ListOutcomes(ctx context.Context, userID uuid.UUID, limit int) ([]types.JobOutcome, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := db.pool.Query(ctx,
		`SELECT user_id, run_id, page_number, index_on_page, listing_url, match_signals,
		        match_score, match_decision, apply_path, status, reason, questions_answered,
		        job_metadata, recorded_at
		 FROM job_outcomes
		 WHERE user_id = $1
		 ORDER BY recorded_at DESC, id DESC
		 LIMIT $2`,
		userID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list outcomes: %w", err)
	}
	defer rows.Close()

	var outcomes []types.JobOutcome
	for rows.Next() {
		var o types.JobOutcome
		var signalsJSON, metadataJSON []byte
		var decision, path, status string
		if err := rows.Scan(&o.UserID, &o.RunID, &o.PageNumber, &o.IndexOnPage, &o.ListingURL,
			&signalsJSON, &o.MatchScore, &decision, &path, &status, &o.Reason,
			&o.QuestionsAnswered, &metadataJSON, &o.RecordedAt); err != nil {
			return nil, fmt.Errorf("failed to scan outcome: %w", err)
		}
		o.MatchDecision = types.MatchDecision(decision)
		o.ApplyPath = types.ApplyPathKind(path)
		o.Status = types.ApplicationStatus(status)
		if err := json.Unmarshal(signalsJSON, &o.Signals); err != nil {
			return nil, fmt.Errorf("failed to unmarshal signals: %w", err)
		}
		if err := json.Unmarshal(metadataJSON, &o.Metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
		}
		outcomes = append(outcomes, o)
	}
	return outcomes, rows.Err()
}
