package localstore

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jonathan/apply-autopilot/internal/results"
	"github.com/jonathan/apply-autopilot/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func outcome(userID uuid.UUID, url string, status types.ApplicationStatus) types.JobOutcome {
	return types.JobOutcome{
		UserID:     userID,
		RunID:      uuid.New(),
		PageNumber: 1,
		ListingURL: url,
		Status:     status,
		Metadata:   types.JobMetadata{Title: "Backend Engineer"},
		RecordedAt: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
	}
}

func TestStore_InsertOutcomesIgnoresDuplicates(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	user := uuid.New()

	n, err := store.InsertOutcomes(ctx, []types.JobOutcome{
		outcome(user, "https://portal.example.com/a", types.StatusApplied),
		outcome(user, "https://portal.example.com/b", types.StatusSkipped),
	})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = store.InsertOutcomes(ctx, []types.JobOutcome{
		outcome(user, "https://portal.example.com/a", types.StatusSkipped),
		outcome(user, "https://portal.example.com/c", types.StatusSkipped),
	})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	rows, err := store.ListOutcomes(ctx, user, 10)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, "https://portal.example.com/c", rows[0].ListingURL)
	// The first write wins
	assert.Equal(t, types.StatusApplied, rows[2].Status)
	assert.Equal(t, "Backend Engineer", rows[2].Metadata.Title)
}

func TestStore_ExistingListingsIsScopedToUser(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	alice, bob := uuid.New(), uuid.New()

	_, err := store.InsertOutcomes(ctx, []types.JobOutcome{outcome(alice, "https://portal.example.com/a", types.StatusApplied)})
	require.NoError(t, err)

	known, err := store.ExistingListings(ctx, alice, []string{"https://portal.example.com/a", "https://portal.example.com/b"})
	require.NoError(t, err)
	assert.Equal(t, map[string]bool{"https://portal.example.com/a": true}, known)

	known, err = store.ExistingListings(ctx, bob, []string{"https://portal.example.com/a"})
	require.NoError(t, err)
	assert.Empty(t, known)

	known, err = store.ExistingListings(ctx, alice, nil)
	require.NoError(t, err)
	assert.Empty(t, known)
}

func TestStore_BacksResultSink(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	user := uuid.New()

	sink := results.NewSink(store)
	sink.Reset(user, uuid.New())
	sink.Record(types.JobOutcome{ListingURL: "https://portal.example.com/a", Status: types.StatusApplied})
	sink.Record(types.JobOutcome{ListingURL: "https://portal.example.com/b", Status: types.StatusSkipped})

	n, err := sink.Flush(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	// A rerun over the same listings adds nothing
	sink.Reset(user, uuid.New())
	known, err := sink.Known(ctx, []string{"https://portal.example.com/a", "https://portal.example.com/b"})
	require.NoError(t, err)
	assert.Len(t, known, 2)

	sink.Record(types.JobOutcome{ListingURL: "https://portal.example.com/a", Status: types.StatusSkipped})
	n, err = sink.Flush(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}
