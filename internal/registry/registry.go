// Package registry holds paired sessions and the handshake signals queued
// for each participant. A match exists from the moment the matchmaker pairs
// two users until either side disconnects, the direct peer link is confirmed,
// or the record ages out.
package registry

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/pairwave/rendezvous/internal/profile"
)

const (
	// MaxQueueLength is the point at which a participant's signal queue is
	// considered stalled and truncated.
	MaxQueueLength = 100

	// KeepNewest is how many of the newest signals survive truncation.
	// Discarding older undelivered signals is safe: WebRTC negotiation
	// messages are largely superseded by later ones.
	KeepNewest = 50
)

// ErrNotFound is returned when a referenced match does not exist (anymore).
var ErrNotFound = errors.New("registry: match not found")

// Signal is one handshake message relayed between matched users: a session
// description, an ICE candidate, or a disconnect notice. Immutable once
// created; it lives in the recipient's queue until drained or discarded.
type Signal struct {
	Kind     string          `json:"kind"`
	Payload  json.RawMessage `json:"payload,omitempty"`
	SenderID string          `json:"senderId"`
	SentAt   int64           `json:"sentAt"` // unix milliseconds
}

// KindDisconnect is the synthetic signal kind enqueued for the surviving
// participant when their partner disconnects.
const KindDisconnect = "disconnect-notice"

// Snapshot captures one participant's declared attributes at match time.
// Immutable thereafter, even if the user re-joins with different data.
type Snapshot struct {
	Profile        profile.Profile
	TimezoneOffset *int
}

// Participant is one side of a pairing handed to NewRecord.
type Participant struct {
	UserID         string
	Profile        profile.Profile
	TimezoneOffset *int
}

// Record is one paired session. ParticipantA is the initiator: the
// lexicographically smaller user id, so the initiator role is derivable from
// the two ids alone and never depends on arrival order.
type Record struct {
	MatchID      string
	ParticipantA string
	ParticipantB string
	CreatedAt    time.Time
	Score        float64
	Snapshots    map[string]Snapshot
}

// NewRecord builds a Record from two participants, ordering them by the
// deterministic initiator tie-break.
func NewRecord(matchID string, x, y Participant, score float64, createdAt time.Time) Record {
	a, b := x, y
	if b.UserID < a.UserID {
		a, b = b, a
	}
	return Record{
		MatchID:      matchID,
		ParticipantA: a.UserID,
		ParticipantB: b.UserID,
		CreatedAt:    createdAt,
		Score:        score,
		Snapshots: map[string]Snapshot{
			a.UserID: {Profile: a.Profile, TimezoneOffset: a.TimezoneOffset},
			b.UserID: {Profile: b.Profile, TimezoneOffset: b.TimezoneOffset},
		},
	}
}

// HasParticipant reports whether userID is one of the two participants.
func (r *Record) HasParticipant(userID string) bool {
	return userID == r.ParticipantA || userID == r.ParticipantB
}

// Partner returns the other participant's user id, or "" if userID is not a
// participant.
func (r *Record) Partner(userID string) string {
	switch userID {
	case r.ParticipantA:
		return r.ParticipantB
	case r.ParticipantB:
		return r.ParticipantA
	}
	return ""
}

// Store is the match registry contract. Implementations must keep each user
// in at most one live record and must bound every signal queue by truncating
// to the KeepNewest most recent entries once MaxQueueLength is exceeded.
type Store interface {
	// Create stores a new record. Fails if the match id is already live.
	Create(ctx context.Context, rec Record) error

	// Get returns the record, or ErrNotFound.
	Get(ctx context.Context, matchID string) (*Record, error)

	// FindByMember returns the record containing userID, or nil if the user
	// is not currently matched.
	FindByMember(ctx context.Context, userID string) (*Record, error)

	// EnqueueSignal appends sig to the recipient's queue and returns the
	// resulting queue length.
	EnqueueSignal(ctx context.Context, matchID, recipientID string, sig Signal) (int, error)

	// DrainSignals returns the recipient's queued signals, oldest first, and
	// atomically clears the queue.
	DrainSignals(ctx context.Context, matchID, recipientID string) ([]Signal, error)

	// Delete removes the record and all queued signals. Reports whether the
	// record existed.
	Delete(ctx context.Context, matchID string) (bool, error)

	// EnqueueFarewell parks a signal for a user whose match was just freed,
	// so the user's next poll still observes it. Parked signals share the
	// registry's expiry rules.
	EnqueueFarewell(ctx context.Context, userID string, sig Signal) error

	// DrainFarewell returns and clears the user's parked signals.
	DrainFarewell(ctx context.Context, userID string) ([]Signal, error)

	// EvictBefore removes records created before cutoff, returning the
	// number removed.
	EvictBefore(ctx context.Context, cutoff time.Time) (int, error)

	// Count returns the number of live records.
	Count(ctx context.Context) (int, error)
}
