package rendezvous

import (
	"encoding/json"
	"log"
)

// EventPublisher receives match lifecycle events. The NATS client in
// internal/messaging satisfies it; a nil publisher disables events.
type EventPublisher interface {
	PublishMatchCreated(userID string, data []byte) error
	PublishMatchEnded(userID string, data []byte) error
}

// End reasons carried in MatchEndedEvent.
const (
	EndReasonDisconnect     = "disconnect"
	EndReasonP2PEstablished = "p2p_established"
	EndReasonSuperseded     = "superseded" // a participant re-joined mid-session
)

// MatchCreatedEvent is published to each participant's subject when a match
// is created.
type MatchCreatedEvent struct {
	MatchID   string  `json:"matchId"`
	PartnerID string  `json:"partnerId"`
	Initiator bool    `json:"isInitiator"`
	Score     float64 `json:"score"`
}

// MatchEndedEvent is published to each participant's subject when a match is
// torn down.
type MatchEndedEvent struct {
	MatchID string `json:"matchId"`
	Reason  string `json:"reason"`
}

// publishCreated notifies both participants. Event delivery is best-effort;
// a publish failure never fails the action.
func (s *Service) publishCreated(matchID, participantA, participantB string, score float64) {
	if s.events == nil {
		return
	}
	pairs := []struct {
		userID, partnerID string
		initiator         bool
	}{
		{participantA, participantB, true},
		{participantB, participantA, false},
	}
	for _, p := range pairs {
		data, _ := json.Marshal(MatchCreatedEvent{
			MatchID:   matchID,
			PartnerID: p.partnerID,
			Initiator: p.initiator,
			Score:     score,
		})
		if err := s.events.PublishMatchCreated(p.userID, data); err != nil {
			log.Printf("[events] match created %s for %s: %v", matchID, p.userID, err)
		}
	}
}

// publishEnded notifies both participants that the match is gone.
func (s *Service) publishEnded(matchID, reason string, userIDs ...string) {
	if s.events == nil {
		return
	}
	data, _ := json.Marshal(MatchEndedEvent{MatchID: matchID, Reason: reason})
	for _, userID := range userIDs {
		if err := s.events.PublishMatchEnded(userID, data); err != nil {
			log.Printf("[events] match ended %s for %s: %v", matchID, userID, err)
		}
	}
}
