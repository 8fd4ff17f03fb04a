package registry

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MemoryStore is the in-process match registry.
type MemoryStore struct {
	mu        sync.Mutex
	matches   map[string]*matchState
	members   map[string]string   // user id -> match id
	farewells map[string][]Signal // user id -> signals parked past match teardown
}

type matchState struct {
	rec    Record
	queues map[string][]Signal // recipient user id -> pending signals
}

// NewMemoryStore creates an empty in-process registry.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		matches:   make(map[string]*matchState),
		members:   make(map[string]string),
		farewells: make(map[string][]Signal),
	}
}

// Create stores a new record with empty signal queues.
func (s *MemoryStore) Create(_ context.Context, rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.matches[rec.MatchID]; ok {
		return fmt.Errorf("registry: match id %s already live", rec.MatchID)
	}
	s.matches[rec.MatchID] = &matchState{
		rec: rec,
		queues: map[string][]Signal{
			rec.ParticipantA: nil,
			rec.ParticipantB: nil,
		},
	}
	s.members[rec.ParticipantA] = rec.MatchID
	s.members[rec.ParticipantB] = rec.MatchID
	return nil
}

// Get returns the record, or ErrNotFound.
func (s *MemoryStore) Get(_ context.Context, matchID string) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	state, ok := s.matches[matchID]
	if !ok {
		return nil, ErrNotFound
	}
	rec := state.rec
	return &rec, nil
}

// FindByMember returns the record containing userID, or nil.
func (s *MemoryStore) FindByMember(_ context.Context, userID string) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	matchID, ok := s.members[userID]
	if !ok {
		return nil, nil
	}
	state, ok := s.matches[matchID]
	if !ok {
		return nil, nil
	}
	rec := state.rec
	return &rec, nil
}

// EnqueueSignal appends to the recipient's queue, truncating a stalled queue
// to the newest entries.
func (s *MemoryStore) EnqueueSignal(_ context.Context, matchID, recipientID string, sig Signal) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	state, ok := s.matches[matchID]
	if !ok {
		return 0, ErrNotFound
	}
	queue := append(state.queues[recipientID], sig)
	if len(queue) >= MaxQueueLength {
		queue = append([]Signal(nil), queue[len(queue)-KeepNewest:]...)
	}
	state.queues[recipientID] = queue
	return len(queue), nil
}

// DrainSignals returns and clears the recipient's queue.
func (s *MemoryStore) DrainSignals(_ context.Context, matchID, recipientID string) ([]Signal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	state, ok := s.matches[matchID]
	if !ok {
		return nil, ErrNotFound
	}
	signals := state.queues[recipientID]
	state.queues[recipientID] = nil
	return signals, nil
}

// Delete removes the record, its member index entries and queued signals.
func (s *MemoryStore) Delete(_ context.Context, matchID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deleteLocked(matchID), nil
}

// EnqueueFarewell parks a signal for a user past match teardown.
func (s *MemoryStore) EnqueueFarewell(_ context.Context, userID string, sig Signal) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	queue := append(s.farewells[userID], sig)
	if len(queue) >= MaxQueueLength {
		queue = append([]Signal(nil), queue[len(queue)-KeepNewest:]...)
	}
	s.farewells[userID] = queue
	return nil
}

// DrainFarewell returns and clears the user's parked signals.
func (s *MemoryStore) DrainFarewell(_ context.Context, userID string) ([]Signal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	signals := s.farewells[userID]
	delete(s.farewells, userID)
	return signals, nil
}

// EvictBefore removes records created before cutoff, along with parked
// farewell signals whose newest entry predates it.
func (s *MemoryStore) EvictBefore(_ context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for matchID, state := range s.matches {
		if state.rec.CreatedAt.Before(cutoff) {
			if s.deleteLocked(matchID) {
				removed++
			}
		}
	}

	cutoffMs := cutoff.UnixMilli()
	for userID, queue := range s.farewells {
		if len(queue) == 0 || queue[len(queue)-1].SentAt < cutoffMs {
			delete(s.farewells, userID)
		}
	}
	return removed, nil
}

// Count returns the number of live records.
func (s *MemoryStore) Count(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.matches), nil
}

// deleteLocked removes a match and its indexes. Caller holds s.mu.
func (s *MemoryStore) deleteLocked(matchID string) bool {
	state, ok := s.matches[matchID]
	if !ok {
		return false
	}
	delete(s.matches, matchID)

	// Only clear the member index if it still points at this match; the
	// user may already have been folded into a newer one.
	for _, userID := range []string{state.rec.ParticipantA, state.rec.ParticipantB} {
		if s.members[userID] == matchID {
			delete(s.members, userID)
		}
	}
	return true
}
