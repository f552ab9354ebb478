package results

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/jonathan/apply-autopilot/internal/types"
)

type outcomeKey struct {
	userID uuid.UUID
	url    string
}

// MemoryStore is an in-process Store with the same insert-or-ignore semantics
// as the database stores.
type MemoryStore struct {
	mu   sync.Mutex
	rows []types.JobOutcome
	keys map[outcomeKey]bool
	// Err, when set, is returned by every call.
	Err error
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{keys: make(map[outcomeKey]bool)}
}

// ExistingListings implements Store.
func (m *MemoryStore) ExistingListings(_ context.Context, userID uuid.UUID, urls []string) (map[string]bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}
	known := make(map[string]bool)
	for _, u := range urls {
		if m.keys[outcomeKey{userID, u}] {
			known[u] = true
		}
	}
	return known, nil
}

// InsertOutcomes implements Store.
func (m *MemoryStore) InsertOutcomes(_ context.Context, outcomes []types.JobOutcome) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return 0, m.Err
	}
	inserted := 0
	for _, o := range outcomes {
		key := outcomeKey{o.UserID, o.ListingURL}
		if m.keys[key] {
			continue
		}
		m.keys[key] = true
		m.rows = append(m.rows, o)
		inserted++
	}
	return inserted, nil
}

// ListOutcomes implements Lister.
func (m *MemoryStore) ListOutcomes(_ context.Context, userID uuid.UUID, limit int) ([]types.JobOutcome, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}
	var out []types.JobOutcome
	for i := len(m.rows) - 1; i >= 0; i-- {
		if m.rows[i].UserID != userID {
			continue
		}
		out = append(out, m.rows[i])
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

// Rows returns every stored outcome in insertion order.
func (m *MemoryStore) Rows() []types.JobOutcome {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]types.JobOutcome(nil), m.rows...)
}
