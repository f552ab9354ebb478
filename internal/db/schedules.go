package db

import (
	"context"
	"fmt"
	"time"

	"github.com/jonathan/apply-autopilot/internal/types"
)

// -----------------------------------------------------------------------------
// Schedule Methods
// -----------------------------------------------------------------------------

// CreateSchedule enqueues a pending schedule entry and returns its ID.
func (db *DB) CreateSchedule(ctx context.Context, entry types.ScheduleEntry) (int64, error) {
	status := entry.Status
	if status == "" {
		status = types.SchedulePending
	}
	var id int64
	err := db.pool.QueryRow(ctx,
		`INSERT INTO schedule_entries (user_id, next_run_at, status, cron, max_pages)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING id`,
		entry.UserID, entry.NextRunAt, string(status), entry.Cron, entry.MaxPages,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to create schedule entry: %w", err)
	}
	return id, nil
}

// DueSchedules returns pending entries whose next_run_at is at or before now, oldest first.
func (db *DB) DueSchedules(ctx context.Context, now time.Time, limit int) ([]types.ScheduleEntry, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := db.pool.Query(ctx,
		`SELECT id, user_id, next_run_at, status, cron, max_pages, last_error
		 FROM schedule_entries
		 WHERE status = 'pending' AND next_run_at <= $1
		 ORDER BY next_run_at, id
		 LIMIT $2`,
		now, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query due schedules: %w", err)
	}
	defer rows.Close()

	var entries []types.ScheduleEntry
	for rows.Next() {
		var e types.ScheduleEntry
		var status string
		if err := rows.Scan(&e.ID, &e.UserID, &e.NextRunAt, &status, &e.Cron, &e.MaxPages, &e.LastError); err != nil {
			return nil, fmt.Errorf("failed to scan schedule entry: %w", err)
		}
		e.Status = types.ScheduleStatus(status)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// UpdateScheduleStatus writes back the final status of a schedule entry.
func (db *DB) UpdateScheduleStatus(ctx context.Context, id int64, status types.ScheduleStatus, lastError string) error {
	tag, err := db.pool.Exec(ctx,
		`UPDATE schedule_entries SET status = $2, last_error = $3, updated_at = NOW() WHERE id = $1`,
		id, string(status), lastError,
	)
	if err != nil {
		return fmt.Errorf("failed to update schedule entry: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("schedule entry not found: %d", id)
	}
	return nil
}
