package scoring

import (
	"testing"
	"time"

	"github.com/pairwave/rendezvous/internal/profile"
)

func tz(offset int) *int {
	return &offset
}

// longWait is past both freshness windows so tests that don't target the
// freshness term get zero bonus.
const longWait = 5 * time.Minute

func TestCircularDistance_WrapsAroundTheWheel(t *testing.T) {
	cases := []struct {
		a, b, want int
	}{
		{1, 23, 2},
		{23, 1, 2},
		{0, 12, 12},
		{-11, 12, 1},
		{7, 8, 1},
		{5, 5, 0},
	}
	for _, c := range cases {
		if got := CircularDistance(c.a, c.b); got != c.want {
			t.Errorf("CircularDistance(%d, %d) = %d, want %d", c.a, c.b, got, c.want)
		}
	}
}

func TestScore_GenderTermExact(t *testing.T) {
	cfg := DefaultConfig()
	cases := []struct {
		a, b profile.Gender
		want float64
	}{
		{profile.GenderMale, profile.GenderFemale, 4},
		{profile.GenderFemale, profile.GenderMale, 4},
		{profile.GenderMale, profile.GenderMale, 2},
		{profile.GenderFemale, profile.GenderFemale, 2},
		{profile.GenderMale, profile.GenderUnspecified, 3},
		{profile.GenderUnspecified, profile.GenderFemale, 3},
		{profile.GenderUnspecified, profile.GenderUnspecified, 3},
	}
	for _, c := range cases {
		a := Peer{Profile: profile.Profile{Gender: c.a}}
		b := Peer{Profile: profile.Profile{Gender: c.b}}
		// No timezones: base 1 + neutral tz 1 + gender term.
		got := Score(cfg, a, b, longWait)
		want := cfg.BaseScore + cfg.NeutralTimezone + c.want
		if got != want {
			t.Errorf("gender %q vs %q: score = %v, want %v", c.a, c.b, got, want)
		}
	}
}

func TestScore_TimezoneCircular(t *testing.T) {
	cfg := DefaultConfig()
	a := Peer{TimezoneOffset: tz(1)}
	b := Peer{TimezoneOffset: tz(23)}

	// circular distance 2 -> tz term 18; base 1 + gender 3.
	got := Score(cfg, a, b, longWait)
	if got != 1+18+3 {
		t.Errorf("score = %v, want 22", got)
	}
}

func TestScore_MissingTimezoneIsNeutral(t *testing.T) {
	cfg := DefaultConfig()
	a := Peer{TimezoneOffset: tz(5)}
	b := Peer{}

	got := Score(cfg, a, b, longWait)
	// base 1 + neutral 1 + gender 3. Absent data is neutral, not zero.
	if got != 5 {
		t.Errorf("score = %v, want 5", got)
	}
}

func TestScore_TimezonePenaltyFloorsAtZero(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxTimezoneScore = 4 // distance beyond 4h would go negative
	a := Peer{TimezoneOffset: tz(0)}
	b := Peer{TimezoneOffset: tz(12)}

	got := Score(cfg, a, b, longWait)
	if got != 1+0+3 {
		t.Errorf("score = %v, want 4 (tz term floored at 0)", got)
	}
}

func TestScore_StatusBonusRequiresEqualNonEmpty(t *testing.T) {
	cfg := DefaultConfig()
	base := cfg.BaseScore + cfg.NeutralTimezone + 3

	same := Score(cfg,
		Peer{Profile: profile.Profile{Status: "studying"}},
		Peer{Profile: profile.Profile{Status: "studying"}}, longWait)
	if same != base+cfg.StatusBonus {
		t.Errorf("equal status: score = %v, want %v", same, base+cfg.StatusBonus)
	}

	diff := Score(cfg,
		Peer{Profile: profile.Profile{Status: "studying"}},
		Peer{Profile: profile.Profile{Status: "working"}}, longWait)
	if diff != base {
		t.Errorf("different status: score = %v, want %v", diff, base)
	}

	empty := Score(cfg, Peer{}, Peer{}, longWait)
	if empty != base {
		t.Errorf("empty status must not earn the bonus: score = %v, want %v", empty, base)
	}
}

func TestScore_FreshnessBonusesStack(t *testing.T) {
	cfg := DefaultConfig()
	a := Peer{}
	b := Peer{}
	base := Score(cfg, a, b, longWait)

	if got := Score(cfg, a, b, 20*time.Second); got != base+1 {
		t.Errorf("20s wait: score = %v, want %v", got, base+1)
	}
	if got := Score(cfg, a, b, 5*time.Second); got != base+2 {
		t.Errorf("5s wait: score = %v, want %v", got, base+2)
	}
}

func TestScore_SymmetricUnderSwap(t *testing.T) {
	cfg := DefaultConfig()
	a := Peer{Profile: profile.Profile{Gender: profile.GenderMale, Status: "x"}, TimezoneOffset: tz(7)}
	b := Peer{Profile: profile.Profile{Gender: profile.GenderFemale, Status: "x"}, TimezoneOffset: tz(-3)}

	if Score(cfg, a, b, longWait) != Score(cfg, b, a, longWait) {
		t.Errorf("score should be symmetric for equal wait times: %v vs %v",
			Score(cfg, a, b, longWait), Score(cfg, b, a, longWait))
	}
}

func TestScore_ReferenceScenario(t *testing.T) {
	// +7 male vs +8 female, candidate waited 3s:
	// 1 base + 19 tz + 4 gender + 2 freshness.
	cfg := DefaultConfig()
	a := Peer{Profile: profile.Profile{Gender: profile.GenderFemale}, TimezoneOffset: tz(8)}
	b := Peer{Profile: profile.Profile{Gender: profile.GenderMale}, TimezoneOffset: tz(7)}

	if got := Score(cfg, a, b, 3*time.Second); got != 26 {
		t.Errorf("score = %v, want 26", got)
	}
}
