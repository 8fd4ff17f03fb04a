package rendezvous

import (
	"context"

	"github.com/pairwave/rendezvous/internal/profile"
	"github.com/pairwave/rendezvous/internal/scoring"
)

// SnapshotUser is one waiting user's attribute listing in a verbose snapshot.
type SnapshotUser struct {
	UserID      string         `json:"userId"`
	Gender      profile.Gender `json:"gender,omitempty"`
	Status      string         `json:"status,omitempty"`
	Timezone    *int           `json:"timezone,omitempty"`
	WaitSeconds float64        `json:"waitSeconds"`
}

// Snapshot is the health/debug view returned on GET. The verbose fields are
// only populated when debug mode is on: matrices are O(n²) over the pool.
type Snapshot struct {
	PoolSize      int            `json:"poolSize"`
	ActiveMatches int            `json:"activeMatches"`
	Users         []SnapshotUser `json:"users,omitempty"`
	Scores        [][]float64    `json:"scores,omitempty"`
	Distances     [][]int        `json:"distances,omitempty"` // -1 when either offset is absent
}

// Snapshot reports pool and match counts; with verbose it adds the per-user
// attribute listing and the pairwise score and timezone-distance matrices.
// Like every inbound request, it sweeps first.
func (s *Service) Snapshot(ctx context.Context, verbose bool) (*Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sweep(ctx)

	size, err := s.pool.Size(ctx)
	if err != nil {
		return nil, err
	}
	count, err := s.matches.Count(ctx)
	if err != nil {
		return nil, err
	}

	snap := &Snapshot{PoolSize: size, ActiveMatches: count}
	if !verbose {
		return snap, nil
	}

	entries, err := s.pool.Entries(ctx)
	if err != nil {
		return nil, err
	}
	now := s.now()

	snap.Users = make([]SnapshotUser, len(entries))
	snap.Scores = make([][]float64, len(entries))
	snap.Distances = make([][]int, len(entries))

	for i, entry := range entries {
		snap.Users[i] = SnapshotUser{
			UserID:      entry.UserID,
			Gender:      entry.Profile.Gender,
			Status:      entry.Profile.Status,
			Timezone:    entry.TimezoneOffset,
			WaitSeconds: now.Sub(entry.ArrivalTime).Seconds(),
		}
		snap.Scores[i] = make([]float64, len(entries))
		snap.Distances[i] = make([]int, len(entries))

		for j, other := range entries {
			if i == j {
				snap.Distances[i][j] = 0
				continue
			}
			a := scoring.Peer{Profile: entry.Profile, TimezoneOffset: entry.TimezoneOffset}
			b := scoring.Peer{Profile: other.Profile, TimezoneOffset: other.TimezoneOffset}
			snap.Scores[i][j] = scoring.Score(s.scores, a, b, now.Sub(other.ArrivalTime))
			if entry.TimezoneOffset != nil && other.TimezoneOffset != nil {
				snap.Distances[i][j] = scoring.CircularDistance(*entry.TimezoneOffset, *other.TimezoneOffset)
			} else {
				snap.Distances[i][j] = -1
			}
		}
	}
	return snap, nil
}
