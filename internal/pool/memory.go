package pool

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is the in-process waiting pool. All state lives in this
// process; a restart empties the pool, which is acceptable because waiting
// entries are short-lived by design.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]Entry
	order   []string // user ids in arrival order, may contain stale ids
}

// NewMemoryStore creates an empty in-process pool.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]Entry)}
}

// Upsert inserts or replaces the user's entry. A replaced entry moves to the
// back of the arrival order.
func (s *MemoryStore) Upsert(_ context.Context, entry Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.entries[entry.UserID]; ok {
		s.dropFromOrder(entry.UserID)
	}
	s.entries[entry.UserID] = entry
	s.order = append(s.order, entry.UserID)
	return nil
}

// Remove deletes the user's entry if present.
func (s *MemoryStore) Remove(_ context.Context, userID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.entries[userID]; !ok {
		return false, nil
	}
	delete(s.entries, userID)
	s.dropFromOrder(userID)
	return true, nil
}

// Entries returns all waiting entries, oldest arrival first.
func (s *MemoryStore) Entries(_ context.Context) ([]Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Entry, 0, len(s.entries))
	for _, id := range s.order {
		if entry, ok := s.entries[id]; ok {
			out = append(out, entry)
		}
	}
	return out, nil
}

// EvictBefore removes entries that arrived before cutoff.
func (s *MemoryStore) EvictBefore(_ context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, entry := range s.entries {
		if entry.ArrivalTime.Before(cutoff) {
			delete(s.entries, id)
			s.dropFromOrder(id)
			removed++
		}
	}
	return removed, nil
}

// EvictExcess trims the pool to capacity by removing the oldest arrivals.
func (s *MemoryStore) EvictExcess(_ context.Context, capacity int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if capacity < 0 {
		capacity = 0
	}
	removed := 0
	for len(s.entries) > capacity {
		oldest := s.order[0]
		s.order = s.order[1:]
		if _, ok := s.entries[oldest]; ok {
			delete(s.entries, oldest)
			removed++
		}
	}
	return removed, nil
}

// Size returns the number of waiting entries.
func (s *MemoryStore) Size(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries), nil
}

// dropFromOrder removes the first occurrence of id. Caller holds s.mu.
func (s *MemoryStore) dropFromOrder(id string) {
	for i, v := range s.order {
		if v == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			return
		}
	}
}
