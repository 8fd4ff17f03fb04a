// Package rendezvous implements the matchmaking core: it pairs anonymous
// users from the waiting pool, relays the handshake signals each pair needs
// to establish a direct peer connection, and steps out once the connection
// exists. All time-based cleanup is cooperative, piggy-backed on traffic;
// there is no background timer.
package rendezvous

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pairwave/rendezvous/internal/metrics"
	"github.com/pairwave/rendezvous/internal/pool"
	"github.com/pairwave/rendezvous/internal/profile"
	"github.com/pairwave/rendezvous/internal/registry"
	"github.com/pairwave/rendezvous/internal/scoring"
)

// Config holds the service's tunable timeouts and limits.
type Config struct {
	WaitingTimeout time.Duration // waiting entries older than this are evicted
	MatchLifetime  time.Duration // match records older than this are evicted
	PoolCapacity   int           // hard ceiling on waiting pool size
	EstimateStep   time.Duration // estimated wait added per queue position
	EstimateCap    time.Duration // upper bound on the reported estimate
	RetryAfter     time.Duration // suggested delay when the pool is full
}

// DefaultConfig returns the standard service limits.
func DefaultConfig() Config {
	return Config{
		WaitingTimeout: 120 * time.Second,
		MatchLifetime:  600 * time.Second,
		PoolCapacity:   5000,
		EstimateStep:   5 * time.Second,
		EstimateCap:    60 * time.Second,
		RetryAfter:     5 * time.Second,
	}
}

// Response status values.
const (
	StatusMatched      = "matched"
	StatusQueued       = "queued"
	StatusWaiting      = "waiting"
	StatusNotFound     = "not_found"
	StatusSent         = "sent"
	StatusP2PConnected = "p2p_connected"
	StatusDisconnected = "disconnected"
)

// Service is the matchmaker. Every public operation runs the sweeper first
// and then its own logic under one mutex, so no other request's mutation can
// interleave inside a single action.
type Service struct {
	mu      sync.Mutex
	pool    pool.Store
	matches registry.Store
	cfg     Config
	scores  scoring.Config
	events  EventPublisher

	now        func() time.Time
	newMatchID func() string
}

// NewService wires the matchmaker to its two stores.
func NewService(p pool.Store, m registry.Store, cfg Config, scores scoring.Config) *Service {
	return &Service{
		pool:       p,
		matches:    m,
		cfg:        cfg,
		scores:     scores,
		now:        time.Now,
		newMatchID: uuid.NewString,
	}
}

// SetEventPublisher enables match lifecycle events. May be left unset.
func (s *Service) SetEventPublisher(pub EventPublisher) {
	s.events = pub
}

// JoinRequest is a join / instant-match action.
type JoinRequest struct {
	UserID           string
	Profile          profile.Profile
	TimezoneOffset   *int
	PreferredMatchID string
}

// MatchDetails describes the pairing returned to a freshly matched user.
type MatchDetails struct {
	MatchID         string
	PartnerID       string
	Initiator       bool
	Score           float64
	PartnerProfile  profile.Profile
	PartnerTimezone *int
}

// JoinResult is the outcome of a join: either matched with details, or
// queued with a position and wait estimate.
type JoinResult struct {
	Status        string
	Match         *MatchDetails
	Position      int
	EstimatedWait time.Duration
}

// Join folds the requester back to a clean slate, then either pairs them
// with the best-scoring waiting candidate or enqueues them.
func (s *Service) Join(ctx context.Context, req JoinRequest) (*JoinResult, error) {
	if req.UserID == "" {
		return nil, &ValidationError{Reason: "userId is required"}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.sweep(ctx)
	now := s.now()

	// Idempotent cleanup: a stale client that re-requests mid-session is
	// folded back to a clean slate rather than erroring.
	if _, err := s.pool.Remove(ctx, req.UserID); err != nil {
		return nil, err
	}
	if prior, err := s.matches.FindByMember(ctx, req.UserID); err != nil {
		return nil, err
	} else if prior != nil {
		if _, err := s.matches.Delete(ctx, prior.MatchID); err != nil {
			return nil, err
		}
		s.publishEnded(prior.MatchID, EndReasonSuperseded, prior.ParticipantA, prior.ParticipantB)
	}

	candidate, score, err := s.bestCandidate(ctx, req, now)
	if err != nil {
		return nil, err
	}

	if candidate != nil {
		// Claim the candidate. Losing the claim (another instance matched
		// them first) reads as "no partner found": fall back to enqueuing.
		claimed, err := s.pool.Remove(ctx, candidate.UserID)
		if err != nil {
			return nil, err
		}
		if claimed {
			return s.createMatch(ctx, req, *candidate, score, now)
		}
	}

	return s.enqueue(ctx, req, now)
}

// bestCandidate scans the pool for the strictly greatest score, skipping the
// requester. Ties go to the earliest-seen entry.
func (s *Service) bestCandidate(ctx context.Context, req JoinRequest, now time.Time) (*pool.Entry, float64, error) {
	entries, err := s.pool.Entries(ctx)
	if err != nil {
		return nil, 0, err
	}

	requester := scoring.Peer{Profile: req.Profile, TimezoneOffset: req.TimezoneOffset}
	var best *pool.Entry
	bestScore := 0.0

	for i := range entries {
		entry := &entries[i]
		if entry.UserID == req.UserID {
			continue // a user may never match with themselves
		}
		candidate := scoring.Peer{Profile: entry.Profile, TimezoneOffset: entry.TimezoneOffset}
		score := scoring.Score(s.scores, requester, candidate, now.Sub(entry.ArrivalTime))
		if best == nil || score > bestScore {
			best = entry
			bestScore = score
		}
	}
	return best, bestScore, nil
}

// createMatch pairs the requester with a claimed candidate.
func (s *Service) createMatch(ctx context.Context, req JoinRequest, candidate pool.Entry, score float64, now time.Time) (*JoinResult, error) {
	matchID := req.PreferredMatchID
	if matchID == "" {
		matchID = s.newMatchID()
	} else if _, err := s.matches.Get(ctx, matchID); err == nil {
		// The preferred id is advisory, not security-relevant:
		// last-writer-wins on collision.
		if _, err := s.matches.Delete(ctx, matchID); err != nil {
			return nil, err
		}
	} else if !errors.Is(err, registry.ErrNotFound) {
		return nil, err
	}

	rec := registry.NewRecord(matchID,
		registry.Participant{UserID: req.UserID, Profile: req.Profile, TimezoneOffset: req.TimezoneOffset},
		registry.Participant{UserID: candidate.UserID, Profile: candidate.Profile, TimezoneOffset: candidate.TimezoneOffset},
		score, now)

	if err := s.matches.Create(ctx, rec); err != nil {
		// Put the claimed candidate back so a storage failure strands no one.
		if restoreErr := s.pool.Upsert(ctx, candidate); restoreErr != nil {
			log.Printf("[matchmaker] restore %s after failed create: %v", candidate.UserID, restoreErr)
		}
		return nil, err
	}

	metrics.MatchesTotal.Inc()
	s.publishCreated(matchID, rec.ParticipantA, rec.ParticipantB, score)
	log.Printf("[matchmaker] matched %s with %s (match=%s score=%.1f)",
		req.UserID, candidate.UserID, matchID, score)

	return &JoinResult{
		Status: StatusMatched,
		Match: &MatchDetails{
			MatchID:         matchID,
			PartnerID:       candidate.UserID,
			Initiator:       rec.ParticipantA == req.UserID,
			Score:           score,
			PartnerProfile:  candidate.Profile,
			PartnerTimezone: candidate.TimezoneOffset,
		},
	}, nil
}

// enqueue inserts the requester into the waiting pool.
func (s *Service) enqueue(ctx context.Context, req JoinRequest, now time.Time) (*JoinResult, error) {
	size, err := s.pool.Size(ctx)
	if err != nil {
		return nil, err
	}
	if size >= s.cfg.PoolCapacity {
		return nil, &CapacityError{RetryAfter: s.cfg.RetryAfter}
	}

	err = s.pool.Upsert(ctx, pool.Entry{
		UserID:         req.UserID,
		Profile:        req.Profile,
		TimezoneOffset: req.TimezoneOffset,
		ArrivalTime:    now,
	})
	if err != nil {
		return nil, err
	}

	position := size + 1
	return &JoinResult{
		Status:        StatusQueued,
		Position:      position,
		EstimatedWait: s.estimateWait(position),
	}, nil
}

// PollResult is the outcome of a poll: drained signals for a matched user, a
// queue position for a waiting one, or not_found.
type PollResult struct {
	Status        string
	MatchID       string
	PartnerID     string
	Signals       []registry.Signal
	Position      int
	EstimatedWait time.Duration
}

// Poll drains the requester's signal queue if matched, or reports their pool
// position if waiting. Polling never re-runs matching; that is join-driven.
func (s *Service) Poll(ctx context.Context, userID string) (*PollResult, error) {
	if userID == "" {
		return nil, &ValidationError{Reason: "userId is required"}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.sweep(ctx)

	rec, err := s.matches.FindByMember(ctx, userID)
	if err != nil {
		return nil, err
	}
	if rec != nil {
		signals, err := s.matches.DrainSignals(ctx, rec.MatchID, userID)
		if errors.Is(err, registry.ErrNotFound) {
			return &PollResult{Status: StatusNotFound}, nil
		}
		if err != nil {
			return nil, err
		}
		if len(signals) > 0 {
			metrics.SignalsTotal.WithLabelValues("delivered").Add(float64(len(signals)))
		}
		return &PollResult{
			Status:    StatusMatched,
			MatchID:   rec.MatchID,
			PartnerID: rec.Partner(userID),
			Signals:   signals,
		}, nil
	}

	// A torn-down match may have parked a disconnect notice for this user.
	parked, err := s.matches.DrainFarewell(ctx, userID)
	if err != nil {
		return nil, err
	}
	if len(parked) > 0 {
		metrics.SignalsTotal.WithLabelValues("delivered").Add(float64(len(parked)))
		return &PollResult{Status: StatusNotFound, Signals: parked}, nil
	}

	entries, err := s.pool.Entries(ctx)
	if err != nil {
		return nil, err
	}
	for i := range entries {
		if entries[i].UserID == userID {
			position := i + 1
			return &PollResult{
				Status:        StatusWaiting,
				Position:      position,
				EstimatedWait: s.estimateWait(position),
			}, nil
		}
	}

	return &PollResult{Status: StatusNotFound}, nil
}

// SendResult is the outcome of relaying one signal.
type SendResult struct {
	Status      string
	QueueLength int
}

// SendSignal appends a handshake signal to the partner's queue.
func (s *Service) SendSignal(ctx context.Context, userID, matchID, kind string, payload []byte) (*SendResult, error) {
	switch {
	case userID == "":
		return nil, &ValidationError{Reason: "userId is required"}
	case matchID == "":
		return nil, &ValidationError{Reason: "matchId is required"}
	case kind == "":
		return nil, &ValidationError{Reason: "signal kind is required"}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.sweep(ctx)

	rec, err := s.matches.Get(ctx, matchID)
	if errors.Is(err, registry.ErrNotFound) {
		return nil, ErrMatchNotFound
	}
	if err != nil {
		return nil, err
	}
	if !rec.HasParticipant(userID) {
		return nil, ErrNotParticipant
	}

	length, err := s.matches.EnqueueSignal(ctx, matchID, rec.Partner(userID), registry.Signal{
		Kind:     kind,
		Payload:  payload,
		SenderID: userID,
		SentAt:   s.now().UnixMilli(),
	})
	if errors.Is(err, registry.ErrNotFound) {
		return nil, ErrMatchNotFound
	}
	if err != nil {
		return nil, err
	}

	metrics.SignalsTotal.WithLabelValues("enqueued").Inc()
	return &SendResult{Status: StatusSent, QueueLength: length}, nil
}

// ConnectedResult is the outcome of a p2p-connected confirmation.
type ConnectedResult struct {
	Status  string
	Removed bool
}

// PeerConnected records that the direct peer connection succeeded and frees
// the match; the relay's job is done once the direct channel exists.
// Idempotent: confirming an already-freed match reports Removed=false.
func (s *Service) PeerConnected(ctx context.Context, userID, matchID, partnerID string) (*ConnectedResult, error) {
	switch {
	case userID == "":
		return nil, &ValidationError{Reason: "userId is required"}
	case matchID == "":
		return nil, &ValidationError{Reason: "matchId is required"}
	case partnerID == "":
		return nil, &ValidationError{Reason: "partnerId is required"}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.sweep(ctx)

	rec, err := s.matches.Get(ctx, matchID)
	if errors.Is(err, registry.ErrNotFound) {
		return &ConnectedResult{Status: StatusP2PConnected, Removed: false}, nil
	}
	if err != nil {
		return nil, err
	}
	if !rec.HasParticipant(userID) {
		return nil, ErrNotParticipant
	}
	if rec.Partner(userID) != partnerID {
		return nil, &ValidationError{Reason: "partnerId does not match this match"}
	}

	// Defensive: clear any racing pool entries before freeing the record.
	// A pool failure here is logged, not fatal; the sweep reclaims strays.
	for _, participant := range []string{rec.ParticipantA, rec.ParticipantB} {
		if _, err := s.pool.Remove(ctx, participant); err != nil {
			log.Printf("[matchmaker] pool remove %s on p2p confirm: %v", participant, err)
		}
	}

	removed, err := s.matches.Delete(ctx, matchID)
	if err != nil {
		return nil, err
	}
	if removed {
		s.publishEnded(matchID, EndReasonP2PEstablished, rec.ParticipantA, rec.ParticipantB)
		log.Printf("[matchmaker] p2p established for match=%s", matchID)
	}
	return &ConnectedResult{Status: StatusP2PConnected, Removed: removed}, nil
}

// DisconnectResult is the outcome of a disconnect.
type DisconnectResult struct {
	Status  string
	Removed bool
}

// Disconnect removes the user from the pool and, if matched, parks a
// disconnect notice for the partner and frees the record immediately; the
// relay does not wait for the partner to acknowledge.
func (s *Service) Disconnect(ctx context.Context, userID string) (*DisconnectResult, error) {
	if userID == "" {
		return nil, &ValidationError{Reason: "userId is required"}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.sweep(ctx)

	removed, err := s.pool.Remove(ctx, userID)
	if err != nil {
		return nil, err
	}

	rec, err := s.matches.FindByMember(ctx, userID)
	if err != nil {
		return nil, err
	}
	if rec != nil {
		notice := registry.Signal{
			Kind:     registry.KindDisconnect,
			SenderID: userID,
			SentAt:   s.now().UnixMilli(),
		}
		if err := s.matches.EnqueueFarewell(ctx, rec.Partner(userID), notice); err != nil {
			return nil, err
		}
		if _, err := s.matches.Delete(ctx, rec.MatchID); err != nil {
			return nil, err
		}
		s.publishEnded(rec.MatchID, EndReasonDisconnect, rec.ParticipantA, rec.ParticipantB)
		log.Printf("[matchmaker] %s disconnected from match=%s", userID, rec.MatchID)
		removed = true
	}

	return &DisconnectResult{Status: StatusDisconnected, Removed: removed}, nil
}

// estimateWait converts a queue position into a wait estimate, monotonic in
// queue depth and capped.
func (s *Service) estimateWait(position int) time.Duration {
	estimate := time.Duration(position) * s.cfg.EstimateStep
	if estimate > s.cfg.EstimateCap {
		estimate = s.cfg.EstimateCap
	}
	return estimate
}

// sweep evicts expired waiting entries, expired matches and pool overflow.
// It runs before any other handling on every inbound request; evictions are
// silent from the caller's point of view and never fail the request.
func (s *Service) sweep(ctx context.Context) {
	now := s.now()

	if n, err := s.pool.EvictBefore(ctx, now.Add(-s.cfg.WaitingTimeout)); err != nil {
		log.Printf("[sweeper] pool expiry: %v", err)
	} else if n > 0 {
		metrics.EvictionsTotal.WithLabelValues("pool_expired").Add(float64(n))
		log.Printf("[sweeper] evicted %d expired waiting entries", n)
	}

	if n, err := s.matches.EvictBefore(ctx, now.Add(-s.cfg.MatchLifetime)); err != nil {
		log.Printf("[sweeper] match expiry: %v", err)
	} else if n > 0 {
		metrics.EvictionsTotal.WithLabelValues("match_expired").Add(float64(n))
		log.Printf("[sweeper] evicted %d expired matches", n)
	}

	if n, err := s.pool.EvictExcess(ctx, s.cfg.PoolCapacity); err != nil {
		log.Printf("[sweeper] pool capacity: %v", err)
	} else if n > 0 {
		metrics.EvictionsTotal.WithLabelValues("pool_capacity").Add(float64(n))
		log.Printf("[sweeper] evicted %d entries over capacity", n)
	}

	if size, err := s.pool.Size(ctx); err == nil {
		metrics.PoolSize.Set(float64(size))
	}
	if count, err := s.matches.Count(ctx); err == nil {
		metrics.ActiveMatches.Set(float64(count))
	}
}
