package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jonathan/apply-autopilot/internal/types"
)

// -----------------------------------------------------------------------------
// Run History Methods
// -----------------------------------------------------------------------------

// CreateRun records the start of an automation run.
func (db *DB) CreateRun(ctx context.Context, runID, userID uuid.UUID, startedAt time.Time) error {
	_, err := db.pool.Exec(ctx,
		`INSERT INTO automation_runs (id, user_id, state, started_at)
		 VALUES ($1, $2, $3, $4)`,
		runID, userID, string(types.RunStateRunning), startedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create run: %w", err)
	}
	return nil
}

// FinishRun records the terminal state and summary of a run.
func (db *DB) FinishRun(ctx context.Context, runID uuid.UUID, state types.RunState, summary types.RunSummary, runErr string) error {
	summaryJSON, err := json.Marshal(summary)
	if err != nil {
		return fmt.Errorf("failed to marshal summary: %w", err)
	}
	tag, err := db.pool.Exec(ctx,
		`UPDATE automation_runs
		 SET state = $2, summary = $3, error = $4, finished_at = NOW()
		 WHERE id = $1`,
		runID, string(state), summaryJSON, runErr,
	)
	if err != nil {
		return fmt.Errorf("failed to finish run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("run not found: %s", runID)
	}
	return nil
}

// GetRun returns a run record, or nil when it does not exist.
func (db *DB) GetRun(ctx context.Context, runID uuid.UUID) (*types.RunRecord, error) {
	rows, err := db.pool.Query(ctx, selectRunSQL+` WHERE id = $1`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	runs, err := scanRuns(rows)
	if err != nil {
		return nil, err
	}
	if len(runs) == 0 {
		return nil, nil
	}
	return &runs[0], nil
}

// ListRuns returns a user's runs, newest first.
func (db *DB) ListRuns(ctx context.Context, userID uuid.UUID, limit int) ([]types.RunRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := db.pool.Query(ctx,
		selectRunSQL+` WHERE user_id = $1 ORDER BY started_at DESC LIMIT $2`,
		userID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	return scanRuns(rows)
}

const selectRunSQL = `SELECT id, user_id, state, summary, error, started_at, finished_at FROM automation_runs`

func scanRuns(rows pgx.Rows) ([]types.RunRecord, error) {
	defer rows.Close()

	var runs []types.RunRecord
	for rows.Next() {
		var r types.RunRecord
		var state string
		var summaryJSON []byte
		if err := rows.Scan(&r.ID, &r.UserID, &state, &summaryJSON, &r.Error, &r.StartedAt, &r.FinishedAt); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return nil, nil
			}
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		r.State = types.RunState(state)
		if len(summaryJSON) > 0 {
			if err := json.Unmarshal(summaryJSON, &r.Summary); err != nil {
				return nil, fmt.Errorf("failed to unmarshal summary: %w", err)
			}
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}
