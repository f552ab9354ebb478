// Package results buffers job outcomes during a run and persists them in batches.
package results

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonathan/apply-autopilot/internal/types"
)

// Store persists outcomes. InsertOutcomes must ignore rows whose
// (user_id, listing_url) already exists and return the number of new rows.
type Store interface {
	ExistingListings(ctx context.Context, userID uuid.UUID, urls []string) (map[string]bool, error)
	InsertOutcomes(ctx context.Context, outcomes []types.JobOutcome) (int, error)
}

// Lister reads persisted outcomes back, newest first.
type Lister interface {
	ListOutcomes(ctx context.Context, userID uuid.UUID, limit int) ([]types.JobOutcome, error)
}

// Sink accumulates the outcomes of one run. Recorded outcomes stay pending
// until a successful Flush.
type Sink struct {
	mu        sync.Mutex
	store     Store
	userID    uuid.UUID
	runID     uuid.UUID
	pending   []types.JobOutcome
	recorded  []types.JobOutcome
	persisted int
}

// NewSink creates a sink writing to store.
func NewSink(store Store) *Sink {
	return &Sink{store: store}
}

// Reset clears the sink for a new run.
func (s *Sink) Reset(userID, runID uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.userID = userID
	s.runID = runID
	s.pending = nil
	s.recorded = nil
	s.persisted = 0
}

// Known reports which of urls already have a persisted outcome for the run's user.
func (s *Sink) Known(ctx context.Context, urls []string) (map[string]bool, error) {
	s.mu.Lock()
	userID := s.userID
	s.mu.Unlock()

	if len(urls) == 0 {
		return map[string]bool{}, nil
	}
	known, err := s.store.ExistingListings(ctx, userID, urls)
	if err != nil {
		return nil, fmt.Errorf("failed to check existing listings: %w", err)
	}
	return known, nil
}

// Record buffers an outcome, stamping it with the run's user and run IDs.
func (s *Sink) Record(outcome types.JobOutcome) types.JobOutcome {
	s.mu.Lock()
	defer s.mu.Unlock()
	outcome.UserID = s.userID
	outcome.RunID = s.runID
	if outcome.RecordedAt.IsZero() {
		outcome.RecordedAt = time.Now().UTC()
	}
	s.pending = append(s.pending, outcome)
	s.recorded = append(s.recorded, outcome)
	return outcome
}

// Flush writes pending outcomes in one batch and returns the number of new rows.
// On failure the batch stays pending for the next Flush.
func (s *Sink) Flush(ctx context.Context) (int, error) {
	s.mu.Lock()
	batch := s.pending
	s.mu.Unlock()

	if len(batch) == 0 {
		return 0, nil
	}
	inserted, err := s.store.InsertOutcomes(ctx, batch)
	if err != nil {
		return 0, fmt.Errorf("failed to persist %d outcomes: %w", len(batch), err)
	}

	s.mu.Lock()
	s.pending = s.pending[len(batch):]
	s.persisted += inserted
	s.mu.Unlock()
	return inserted, nil
}

// Outcomes returns every outcome recorded this run, in order.
func (s *Sink) Outcomes() []types.JobOutcome {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]types.JobOutcome(nil), s.recorded...)
}

// Pending returns the number of outcomes not yet persisted.
func (s *Sink) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// Persisted returns the number of rows inserted this run.
func (s *Sink) Persisted() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.persisted
}
