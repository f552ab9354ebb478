package results

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/jonathan/apply-autopilot/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func outcome(url string, status types.ApplicationStatus) types.JobOutcome {
	return types.JobOutcome{ListingURL: url, Status: status, PageNumber: 1}
}

func TestSink_RecordAndFlush(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	sink := NewSink(store)
	userID, runID := uuid.New(), uuid.New()
	sink.Reset(userID, runID)

	recorded := sink.Record(outcome("https://portal.example.com/job-1", types.StatusApplied))
	assert.Equal(t, userID, recorded.UserID)
	assert.Equal(t, runID, recorded.RunID)
	assert.False(t, recorded.RecordedAt.IsZero())

	sink.Record(outcome("https://portal.example.com/job-2", types.StatusSkipped))
	assert.Equal(t, 2, sink.Pending())

	n, err := sink.Flush(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, 0, sink.Pending())
	assert.Equal(t, 2, sink.Persisted())

	n, err = sink.Flush(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestSink_FlushIsIdempotentAcrossRuns(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	sink := NewSink(store)
	userID := uuid.New()

	for run := 0; run < 2; run++ {
		sink.Reset(userID, uuid.New())
		sink.Record(outcome("https://portal.example.com/job-1", types.StatusApplied))
		_, err := sink.Flush(ctx)
		require.NoError(t, err)
	}

	assert.Len(t, store.Rows(), 1)
	assert.Zero(t, sink.Persisted())
}

func TestSink_FlushFailureKeepsPending(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	sink := NewSink(store)
	sink.Reset(uuid.New(), uuid.New())
	sink.Record(outcome("https://portal.example.com/job-1", types.StatusApplied))

	store.Err = errors.New("connection reset")
	_, err := sink.Flush(ctx)
	require.Error(t, err)
	assert.Equal(t, 1, sink.Pending())

	store.Err = nil
	n, err := sink.Flush(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 0, sink.Pending())
}

func TestSink_KnownIsScopedToUser(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	sink := NewSink(store)
	alice, bob := uuid.New(), uuid.New()

	sink.Reset(alice, uuid.New())
	sink.Record(outcome("https://portal.example.com/job-1", types.StatusApplied))
	_, err := sink.Flush(ctx)
	require.NoError(t, err)

	known, err := sink.Known(ctx, []string{"https://portal.example.com/job-1", "https://portal.example.com/job-2"})
	require.NoError(t, err)
	assert.Equal(t, map[string]bool{"https://portal.example.com/job-1": true}, known)

	sink.Reset(bob, uuid.New())
	known, err = sink.Known(ctx, []string{"https://portal.example.com/job-1"})
	require.NoError(t, err)
	assert.Empty(t, known)
}

func TestSink_ResetClearsOutcomes(t *testing.T) {
	sink := NewSink(NewMemoryStore())
	sink.Reset(uuid.New(), uuid.New())
	sink.Record(outcome("https://portal.example.com/job-1", types.StatusApplied))

	sink.Reset(uuid.New(), uuid.New())
	assert.Empty(t, sink.Outcomes())
	assert.Equal(t, 0, sink.Pending())
}

func TestMemoryStore_ListOutcomes(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	userID := uuid.New()
	_, err := store.InsertOutcomes(ctx, []types.JobOutcome{
		{UserID: userID, ListingURL: "a"},
		{UserID: uuid.New(), ListingURL: "b"},
		{UserID: userID, ListingURL: "c"},
		{UserID: userID, ListingURL: "d"},
	})
	require.NoError(t, err)

	rows, err := store.ListOutcomes(ctx, userID, 2)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "d", rows[0].ListingURL)
	assert.Equal(t, "c", rows[1].ListingURL)
}
