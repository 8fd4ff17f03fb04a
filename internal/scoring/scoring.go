// Package scoring computes the affinity between a joining user and a waiting
// candidate. The score is a plain additive sum with no upper bound; the
// matchmaker picks the candidate with the strictly greatest value.
package scoring

import (
	"time"

	"github.com/pairwave/rendezvous/internal/profile"
)

// Config holds the scorer's tunable weights and thresholds.
type Config struct {
	MaxTimezoneScore float64       // contribution when both offsets are equal
	TimezonePenalty  float64       // deducted per hour of circular distance
	NeutralTimezone  float64       // contribution when either offset is absent
	StatusBonus      float64       // both declared the same non-empty status
	FreshWindow      time.Duration // candidate waited less than this: +1
	VeryFreshWindow  time.Duration // candidate waited less than this: +1 more
	FreshBonus       float64
	BaseScore        float64
}

// DefaultConfig returns the standard scoring weights.
func DefaultConfig() Config {
	return Config{
		MaxTimezoneScore: 20,
		TimezonePenalty:  1,
		NeutralTimezone:  1,
		StatusBonus:      2,
		FreshWindow:      30 * time.Second,
		VeryFreshWindow:  10 * time.Second,
		FreshBonus:       1,
		BaseScore:        1,
	}
}

// CircularDistance folds the absolute difference of two hour offsets onto a
// 24-hour wheel, so offsets 1 and 23 are 2 hours apart, not 22. The result
// never exceeds 12.
func CircularDistance(a, b int) int {
	linear := a - b
	if linear < 0 {
		linear = -linear
	}
	if linear > 12 {
		return 24 - linear
	}
	return linear
}

// Score computes the affinity between the requester and a waiting candidate.
// candidateWait is how long the candidate has been in the pool. Pure and
// deterministic: equal inputs always produce equal outputs.
//
// The gender term is 3 − coeffA×coeffB, which deliberately rewards opposite
// declared genders (4) over same (2) and stays neutral (3) when either side
// is unspecified. Do not "fix" it into an absolute-value distance.
func Score(cfg Config, requester, candidate Peer, candidateWait time.Duration) float64 {
	total := cfg.BaseScore

	// Timezone term. Absent data is neutral, never a full mismatch.
	if requester.TimezoneOffset != nil && candidate.TimezoneOffset != nil {
		dist := CircularDistance(*requester.TimezoneOffset, *candidate.TimezoneOffset)
		tz := cfg.MaxTimezoneScore - float64(dist)*cfg.TimezonePenalty
		if tz < 0 {
			tz = 0
		}
		total += tz
	} else {
		total += cfg.NeutralTimezone
	}

	// Gender term.
	coeffA := requester.Profile.Gender.Coefficient()
	coeffB := candidate.Profile.Gender.Coefficient()
	total += float64(3 - coeffA*coeffB)

	// Status term.
	if requester.Profile.Status != "" && requester.Profile.Status == candidate.Profile.Status {
		total += cfg.StatusBonus
	}

	// Freshness bonuses apply to the waiting side only, and stack.
	if candidateWait < cfg.FreshWindow {
		total += cfg.FreshBonus
	}
	if candidateWait < cfg.VeryFreshWindow {
		total += cfg.FreshBonus
	}

	return total
}

// Peer is the scorer's view of one side of a potential pairing.
type Peer struct {
	Profile        profile.Profile
	TimezoneOffset *int
}
