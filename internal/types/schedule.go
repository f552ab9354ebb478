package types

import (
	"time"

	"github.com/google/uuid"
)

// ScheduleStatus is the lifecycle status of a schedule entry.
type ScheduleStatus string

// ScheduleStatus values
const (
	SchedulePending   ScheduleStatus = "pending"
	ScheduleCompleted ScheduleStatus = "completed"
	ScheduleCancelled ScheduleStatus = "cancelled"
	ScheduleFailed    ScheduleStatus = "failed"
)

// ScheduleEntry asks for a run for a user at a given time. Cron, when set,
// makes the entry recurring: a new pending entry is enqueued after each run.
type ScheduleEntry struct {
	ID        int64          `json:"id"`
	UserID    uuid.UUID      `json:"user_id"`
	NextRunAt time.Time      `json:"next_run_at"`
	Status    ScheduleStatus `json:"status"`
	Cron      string         `json:"cron,omitempty"`
	MaxPages  int            `json:"max_pages,omitempty"`
	LastError string         `json:"last_error,omitempty"`
}
