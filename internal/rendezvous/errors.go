package rendezvous

import (
	"errors"
	"fmt"
	"time"
)

// ErrMatchNotFound is returned when a referenced match no longer exists.
// The client's recovery path is to re-join.
var ErrMatchNotFound = errors.New("rendezvous: match not found")

// ErrNotParticipant is returned when the caller references a match it does
// not belong to.
var ErrNotParticipant = errors.New("rendezvous: user is not a participant of this match")

// ValidationError marks missing or malformed input. Surfaced as a 4xx with a
// machine-readable reason; never retried by the server.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return "rendezvous: invalid request: " + e.Reason
}

// CapacityError marks a full waiting pool. Transient and retry-safe; carries
// the delay the client should wait before retrying.
type CapacityError struct {
	RetryAfter time.Duration
}

func (e *CapacityError) Error() string {
	return fmt.Sprintf("rendezvous: waiting pool at capacity, retry in %s", e.RetryAfter)
}
