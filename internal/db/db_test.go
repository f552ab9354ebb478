package db

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/jonathan/apply-autopilot/internal/types"
	"github.com/stretchr/testify/assert"
)

func TestSchema_DeclaresOutcomeUniqueness(t *testing.T) {
	assert.Contains(t, Schema, "UNIQUE (user_id, listing_url)")
	for _, table := range []string{"portal_credentials", "user_profiles", "saved_filters", "job_outcomes", "automation_runs", "schedule_entries"} {
		assert.Contains(t, Schema, "CREATE TABLE IF NOT EXISTS "+table, table)
	}
}

func TestInsertOutcomeSQL_IgnoresDuplicates(t *testing.T) {
	assert.Contains(t, insertOutcomeSQL, "ON CONFLICT (user_id, listing_url) DO NOTHING")
}

func TestCredentials_RequireVault(t *testing.T) {
	db := &DB{}
	ctx := context.Background()

	err := db.SetCredentials(ctx, uuid.New(), "asha@example.com", types.NewSecret("hunter2"))
	assert.ErrorIs(t, err, ErrNoVault)

	_, err = db.GetCredentials(ctx, uuid.New())
	assert.ErrorIs(t, err, ErrNoVault)
}
