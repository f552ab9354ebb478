//go:build integration
// +build integration

package db

import (
	"context"
	"fmt"
	"log"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jonathan/apply-autopilot/internal/types"
	"github.com/jonathan/apply-autopilot/internal/vault"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

var testDatabaseURL string

// TestMain starts a Postgres container unless DATABASE_URL points at one.
func TestMain(m *testing.M) {
	testDatabaseURL = os.Getenv("DATABASE_URL")
	if testDatabaseURL != "" {
		os.Exit(m.Run())
	}

	os.Setenv("TESTCONTAINERS_RYUK_DISABLED", "true")
	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "postgres:16-alpine",
			ExposedPorts: []string{"5432/tcp"},
			Env: map[string]string{
				"POSTGRES_USER":     "autopilot",
				"POSTGRES_PASSWORD": "autopilot",
				"POSTGRES_DB":       "autopilot",
			},
			WaitingFor: wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		log.Fatalf("Failed to start Postgres container: %v", err)
	}

	host, err := container.Host(ctx)
	if err != nil {
		log.Fatalf("Failed to get container host: %v", err)
	}
	if host == "" || host == "null" {
		host = "localhost"
	}
	port, err := container.MappedPort(ctx, "5432")
	if err != nil {
		log.Fatalf("Failed to get mapped port: %v", err)
	}
	testDatabaseURL = fmt.Sprintf("postgres://autopilot:autopilot@%s:%s/autopilot?sslmode=disable", host, port.Port())

	code := m.Run()
	_ = container.Terminate(ctx)
	os.Exit(code)
}

func setupTestDB(t *testing.T) *DB {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	db, err := Connect(ctx, testDatabaseURL)
	if err != nil {
		t.Skipf("Skipping integration test: failed to connect to DB: %v", err)
	}
	require.NoError(t, db.Migrate(ctx))

	key, err := vault.GenerateKey()
	require.NoError(t, err)
	box, err := vault.FromBase64(key)
	require.NoError(t, err)
	return db.WithVault(box)
}

func testOutcome(userID, runID uuid.UUID, url string, index int) types.JobOutcome {
	return types.JobOutcome{
		UserID:        userID,
		RunID:         runID,
		PageNumber:    1,
		IndexOnPage:   index,
		ListingURL:    url,
		Signals:       types.MatchSignals{Skills: types.SignalMatch, Location: types.SignalMismatch},
		MatchScore:    1,
		MatchDecision: types.DecisionPoorMatch,
		ApplyPath:     types.ApplyPathDirect,
		Status:        types.StatusSkipped,
		Reason:        types.ReasonPoorMatch,
		Metadata:      types.JobMetadata{Title: "Java Developer", Company: "Acme"},
		RecordedAt:    time.Now().UTC(),
	}
}

func TestMigrate_Idempotent_Integration(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	require.NoError(t, db.Migrate(context.Background()))
}

func TestInsertOutcomes_IgnoresDuplicates_Integration(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	ctx := context.Background()

	userID := uuid.New()
	runID := uuid.New()
	batch := []types.JobOutcome{
		testOutcome(userID, runID, "https://portal.example.com/job-1", 0),
		testOutcome(userID, runID, "https://portal.example.com/job-2", 1),
		testOutcome(userID, runID, "https://portal.example.com/job-1", 2),
	}

	inserted, err := db.InsertOutcomes(ctx, batch)
	require.NoError(t, err)
	assert.Equal(t, 2, inserted)

	// A second run with the same listings inserts nothing
	inserted, err = db.InsertOutcomes(ctx, batch[:2])
	require.NoError(t, err)
	assert.Zero(t, inserted)

	// Another user may record the same listing
	inserted, err = db.InsertOutcomes(ctx, []types.JobOutcome{testOutcome(uuid.New(), runID, "https://portal.example.com/job-1", 0)})
	require.NoError(t, err)
	assert.Equal(t, 1, inserted)

	known, err := db.ExistingListings(ctx, userID, []string{
		"https://portal.example.com/job-1",
		"https://portal.example.com/job-3",
	})
	require.NoError(t, err)
	assert.Equal(t, map[string]bool{"https://portal.example.com/job-1": true}, known)

	rows, err := db.ListOutcomes(ctx, userID, 10)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, types.SignalMismatch, rows[0].Signals.Location)
	assert.Equal(t, "Acme", rows[0].Metadata.Company)
}

func TestCredentials_Integration(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	ctx := context.Background()
	userID := uuid.New()

	_, err := db.GetCredentials(ctx, userID)
	assert.ErrorIs(t, err, types.ErrNotConfigured)

	require.NoError(t, db.SetCredentials(ctx, userID, "asha@example.com", types.NewSecret("hunter2")))
	creds, err := db.GetCredentials(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, "asha@example.com", creds.Identity)
	assert.Equal(t, "hunter2", creds.Secret.Reveal())

	var stored []byte
	require.NoError(t, db.pool.QueryRow(ctx, `SELECT sealed_secret FROM portal_credentials WHERE user_id = $1`, userID).Scan(&stored))
	assert.NotContains(t, string(stored), "hunter2")

	require.NoError(t, db.DeleteCredentials(ctx, userID))
	_, err = db.GetCredentials(ctx, userID)
	assert.ErrorIs(t, err, types.ErrNotConfigured)
}

func TestProfilesAndFilters_Integration(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	ctx := context.Background()
	userID := uuid.New()

	_, err := db.GetProfile(ctx, userID)
	assert.ErrorIs(t, err, types.ErrProfileNotFound)

	profile := types.UserProfile{Name: "Asha Rao", NoticePeriod: "30 days", YearsOfExperience: 4, Skills: []string{"Java"}}
	require.NoError(t, db.UpsertProfile(ctx, userID, profile))
	got, err := db.GetProfile(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, profile, got)

	searchURL, err := db.GetFinalSearchURL(ctx, userID)
	require.NoError(t, err)
	assert.Empty(t, searchURL)

	require.NoError(t, db.SetFinalSearchURL(ctx, userID, "https://portal.example.com/java-jobs?k=java"))
	searchURL, err = db.GetFinalSearchURL(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, "https://portal.example.com/java-jobs?k=java", searchURL)
}

func TestRuns_Integration(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	ctx := context.Background()
	runID, userID := uuid.New(), uuid.New()

	require.NoError(t, db.CreateRun(ctx, runID, userID, time.Now().UTC()))
	summary := types.RunSummary{PagesVisited: 2, Applied: 1, Skipped: 2, Duplicates: 1}
	require.NoError(t, db.FinishRun(ctx, runID, types.RunStateCompleted, summary, ""))

	run, err := db.GetRun(ctx, runID)
	require.NoError(t, err)
	require.NotNil(t, run)
	assert.Equal(t, types.RunStateCompleted, run.State)
	assert.Equal(t, summary, run.Summary)
	assert.NotNil(t, run.FinishedAt)

	runs, err := db.ListRuns(ctx, userID, 5)
	require.NoError(t, err)
	assert.Len(t, runs, 1)

	missing, err := db.GetRun(ctx, uuid.New())
	require.NoError(t, err)
	assert.Nil(t, missing)

	assert.Error(t, db.FinishRun(ctx, uuid.New(), types.RunStateFailed, types.RunSummary{}, "boom"))
}

func TestSchedules_Integration(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	ctx := context.Background()
	userID := uuid.New()
	now := time.Now().UTC()

	dueID, err := db.CreateSchedule(ctx, types.ScheduleEntry{UserID: userID, NextRunAt: now.Add(-time.Minute), Cron: "0 9 * * 1-5", MaxPages: 3})
	require.NoError(t, err)
	_, err = db.CreateSchedule(ctx, types.ScheduleEntry{UserID: userID, NextRunAt: now.Add(time.Hour)})
	require.NoError(t, err)

	due, err := db.DueSchedules(ctx, now, 100)
	require.NoError(t, err)
	var found *types.ScheduleEntry
	for i := range due {
		if due[i].ID == dueID {
			found = &due[i]
		}
		assert.False(t, due[i].NextRunAt.After(now))
	}
	require.NotNil(t, found)
	assert.Equal(t, types.SchedulePending, found.Status)
	assert.Equal(t, "0 9 * * 1-5", found.Cron)
	assert.Equal(t, 3, found.MaxPages)

	require.NoError(t, db.UpdateScheduleStatus(ctx, dueID, types.ScheduleCompleted, ""))
	due, err = db.DueSchedules(ctx, now, 100)
	require.NoError(t, err)
	for _, e := range due {
		assert.NotEqual(t, dueID, e.ID)
	}
}
