package main

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jonathan/apply-autopilot/internal/config"
	"github.com/jonathan/apply-autopilot/internal/scheduler"
	"github.com/jonathan/apply-autopilot/internal/types"
	"github.com/spf13/cobra"
)

var (
	scheduleUserID   string
	scheduleAt       string
	scheduleCron     string
	scheduleMaxPages int
)

var scheduleCmd = &cobra.Command{
	Use:   "schedule",
	Short: "Manage scheduled runs",
}

var scheduleAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Queue a run for the schedule trigger",
	Long: `Queue a run for a user. --at gives a one-off time (RFC 3339); --cron gives a
standard five-field expression and makes the entry recurring. With neither,
the run is due immediately. The serve command picks entries up.`,
	RunE: runScheduleAdd,
}

func init() {
	scheduleAddCmd.Flags().StringVar(&scheduleUserID, "user", "", "User ID (UUID) (required)")
	scheduleAddCmd.Flags().StringVar(&scheduleAt, "at", "", "First run time, RFC 3339")
	scheduleAddCmd.Flags().StringVar(&scheduleCron, "cron", "", "Recurrence, e.g. \"0 9 * * 1-5\"")
	scheduleAddCmd.Flags().IntVar(&scheduleMaxPages, "max-pages", 0, "Maximum result pages per run")
	_ = scheduleAddCmd.MarkFlagRequired("user")

	scheduleCmd.AddCommand(scheduleAddCmd)
	rootCmd.AddCommand(scheduleCmd)
}

func runScheduleAdd(cmd *cobra.Command, _ []string) error {
	userID, err := uuid.Parse(scheduleUserID)
	if err != nil {
		return fmt.Errorf("invalid user id: %w", err)
	}
	if scheduleMaxPages < 0 || scheduleMaxPages > types.MaxPagesCeiling {
		return fmt.Errorf("--max-pages must be between 0 and %d", types.MaxPagesCeiling)
	}
	first, err := firstRunAt(scheduleAt, scheduleCron, time.Now().UTC())
	if err != nil {
		return err
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	database, err := connectDB(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer database.Close()

	id, err := database.CreateSchedule(cmd.Context(), types.ScheduleEntry{
		UserID:    userID,
		NextRunAt: first,
		Status:    types.SchedulePending,
		Cron:      scheduleCron,
		MaxPages:  scheduleMaxPages,
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Scheduled entry %d for %s at %s\n", id, userID, first.Format(time.RFC3339))
	return nil
}

// firstRunAt picks the first due time: an explicit --at wins, then the next
// cron match after now, then now.
func firstRunAt(at, cronExpr string, now time.Time) (time.Time, error) {
	if cronExpr != "" {
		// Reject bad expressions up front even when --at is given.
		next, err := scheduler.NextRun(cronExpr, now)
		if err != nil {
			return time.Time{}, err
		}
		if at == "" {
			return next, nil
		}
	}
	if at != "" {
		t, err := time.Parse(time.RFC3339, at)
		if err != nil {
			return time.Time{}, fmt.Errorf("invalid --at time: %w", err)
		}
		return t.UTC(), nil
	}
	return now, nil
}
