// Package pool holds the waiting pool: the set of users currently seeking a
// partner, keyed by user id and enumerable in arrival order. Two backends
// implement the same Store contract, an in-process map for single-instance
// deployments and a Redis layout for horizontally distributed ones.
package pool

import (
	"context"
	"time"

	"github.com/pairwave/rendezvous/internal/profile"
)

// Entry is one user waiting to be paired. At most one Entry exists per user
// id; re-joining replaces the previous entry and resets its arrival time.
type Entry struct {
	UserID         string
	Profile        profile.Profile
	TimezoneOffset *int // hours east of UTC, nil when the client sent none
	ArrivalTime    time.Time
}

// Store is the waiting pool contract. Implementations must keep at most one
// entry per user id and must enumerate entries oldest-arrival first.
type Store interface {
	// Upsert inserts the entry, replacing any prior entry for the same user.
	Upsert(ctx context.Context, entry Entry) error

	// Remove deletes the user's entry. Reports whether one existed.
	Remove(ctx context.Context, userID string) (bool, error)

	// Entries returns all waiting entries ordered by arrival, oldest first.
	Entries(ctx context.Context) ([]Entry, error)

	// EvictBefore removes every entry that arrived before cutoff and
	// returns the number removed.
	EvictBefore(ctx context.Context, cutoff time.Time) (int, error)

	// EvictExcess removes oldest-arriving entries until the pool holds at
	// most capacity entries, returning the number removed.
	EvictExcess(ctx context.Context, capacity int) (int, error)

	// Size returns the number of waiting entries.
	Size(ctx context.Context) (int, error)
}
