// Package scheduler starts automation runs for due schedule entries and
// writes their final state back.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jonathan/apply-autopilot/internal/runconfig"
	"github.com/jonathan/apply-autopilot/internal/supervisor"
	"github.com/jonathan/apply-autopilot/internal/types"
	"github.com/robfig/cron/v3"
)

// DefaultInterval is how often the trigger looks for due entries.
const DefaultInterval = 30 * time.Second

// Store persists schedule entries.
type Store interface {
	DueSchedules(ctx context.Context, now time.Time, limit int) ([]types.ScheduleEntry, error)
	UpdateScheduleStatus(ctx context.Context, id int64, status types.ScheduleStatus, lastError string) error
	CreateSchedule(ctx context.Context, entry types.ScheduleEntry) (int64, error)
}

// ConfigBuilder resolves a run configuration for a user.
type ConfigBuilder interface {
	Build(ctx context.Context, userID uuid.UUID, ov runconfig.Overrides) (types.RunConfiguration, error)
}

// Starter starts runs. *supervisor.Supervisor implements it.
type Starter interface {
	Start(ctx context.Context, cfg types.RunConfiguration) (*supervisor.RunHandle, error)
}

// Trigger polls for due entries and runs them one at a time.
type Trigger struct {
	store    Store
	builder  ConfigBuilder
	starter  Starter
	interval time.Duration
	logger   *slog.Logger
	now      func() time.Time
}

// New creates a Trigger. A non-positive interval uses DefaultInterval.
func New(store Store, builder ConfigBuilder, starter Starter, interval time.Duration, logger *slog.Logger) *Trigger {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Trigger{
		store:    store,
		builder:  builder,
		starter:  starter,
		interval: interval,
		logger:   logger.With(slog.String("component", "scheduler")),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Run ticks until ctx is cancelled. Tick errors are logged and retried on the next tick.
func (t *Trigger) Run(ctx context.Context) error {
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	t.logger.Info("scheduler started", slog.Duration("interval", t.interval))
	for {
		if _, err := t.Tick(ctx); err != nil && ctx.Err() == nil {
			t.logger.Warn("scheduler tick failed", slog.Any("error", err))
		}
		select {
		case <-ctx.Done():
			t.logger.Info("scheduler stopped")
			return nil
		case <-ticker.C:
		}
	}
}

// Tick processes the entries that are due now and returns how many were
// settled. An entry that cannot start because a run is active stays pending,
// and the rest of the tick is skipped.
func (t *Trigger) Tick(ctx context.Context) (int, error) {
	entries, err := t.store.DueSchedules(ctx, t.now(), 10)
	if err != nil {
		return 0, fmt.Errorf("failed to load due schedules: %w", err)
	}

	settled := 0
	for _, entry := range entries {
		if ctx.Err() != nil {
			return settled, ctx.Err()
		}
		done, err := t.runEntry(ctx, entry)
		if err != nil {
			return settled, err
		}
		if !done {
			break
		}
		settled++
	}
	return settled, nil
}

// runEntry returns false when the entry was left pending.
func (t *Trigger) runEntry(ctx context.Context, entry types.ScheduleEntry) (bool, error) {
	logger := t.logger.With(slog.Int64("schedule_id", entry.ID), slog.String("user_id", entry.UserID.String()))

	cfg, err := t.builder.Build(ctx, entry.UserID, runconfig.Overrides{MaxPages: entry.MaxPages})
	if err != nil {
		logger.Warn("could not build run configuration", slog.Any("error", err))
		return true, t.settle(ctx, entry, types.ScheduleFailed, err.Error())
	}

	handle, err := t.starter.Start(ctx, cfg)
	if errors.Is(err, supervisor.ErrAlreadyRunning) {
		logger.Info("automation busy; schedule entry stays pending")
		return false, nil
	}
	if err != nil {
		logger.Warn("could not start scheduled run", slog.Any("error", err))
		return true, t.settle(ctx, entry, types.ScheduleFailed, err.Error())
	}
	logger.Info("scheduled run started", slog.String("run_id", handle.RunID.String()))

	result, err := handle.Wait(ctx)
	if err != nil {
		// Shutting down: the supervisor finishes the run on its own.
		return true, t.settle(context.WithoutCancel(ctx), entry, types.ScheduleCancelled, "shutdown before the run finished")
	}
	status, lastError := statusFor(result)
	return true, t.settle(ctx, entry, status, lastError)
}

func (t *Trigger) settle(ctx context.Context, entry types.ScheduleEntry, status types.ScheduleStatus, lastError string) error {
	if err := t.store.UpdateScheduleStatus(ctx, entry.ID, status, lastError); err != nil {
		return err
	}
	if entry.Cron == "" {
		return nil
	}

	next, err := NextRun(entry.Cron, t.now())
	if err != nil {
		t.logger.Warn("invalid cron expression; not rescheduling",
			slog.Int64("schedule_id", entry.ID),
			slog.String("cron", entry.Cron),
			slog.Any("error", err),
		)
		return nil
	}
	_, err = t.store.CreateSchedule(ctx, types.ScheduleEntry{
		UserID:    entry.UserID,
		NextRunAt: next,
		Status:    types.SchedulePending,
		Cron:      entry.Cron,
		MaxPages:  entry.MaxPages,
	})
	return err
}

// NextRun returns the first activation of a standard five-field cron
// expression strictly after from.
func NextRun(expr string, from time.Time) (time.Time, error) {
	schedule, err := cron.ParseStandard(expr)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse cron expression %q: %w", expr, err)
	}
	return schedule.Next(from), nil
}

func statusFor(result supervisor.RunResult) (types.ScheduleStatus, string) {
	switch {
	case result.State == types.RunStateFailed:
		return types.ScheduleFailed, result.Error
	case result.Summary.Cancelled:
		return types.ScheduleCancelled, ""
	default:
		return types.ScheduleCompleted, ""
	}
}
