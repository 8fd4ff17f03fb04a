package registry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pairwave/rendezvous/internal/profile"
)

func testRecord(matchID, x, y string) Record {
	return NewRecord(matchID,
		Participant{UserID: x, Profile: profile.Profile{Gender: profile.GenderMale}},
		Participant{UserID: y, Profile: profile.Profile{Gender: profile.GenderFemale}},
		24, time.Now())
}

func TestNewRecord_InitiatorTieBreak(t *testing.T) {
	// The lexicographically smaller id becomes ParticipantA regardless of
	// argument order.
	first := NewRecord("m1", Participant{UserID: "zoe"}, Participant{UserID: "amy"}, 0, time.Now())
	second := NewRecord("m1", Participant{UserID: "amy"}, Participant{UserID: "zoe"}, 0, time.Now())

	for _, rec := range []Record{first, second} {
		if rec.ParticipantA != "amy" || rec.ParticipantB != "zoe" {
			t.Errorf("got A=%s B=%s, want A=amy B=zoe", rec.ParticipantA, rec.ParticipantB)
		}
	}
}

func TestNewRecord_SnapshotsFollowTheSwap(t *testing.T) {
	rec := NewRecord("m1",
		Participant{UserID: "zoe", Profile: profile.Profile{Status: "zoe-status"}},
		Participant{UserID: "amy", Profile: profile.Profile{Status: "amy-status"}},
		0, time.Now())

	if rec.Snapshots["amy"].Profile.Status != "amy-status" {
		t.Errorf("amy's snapshot = %q", rec.Snapshots["amy"].Profile.Status)
	}
	if rec.Snapshots["zoe"].Profile.Status != "zoe-status" {
		t.Errorf("zoe's snapshot = %q", rec.Snapshots["zoe"].Profile.Status)
	}
}

func TestRecord_Partner(t *testing.T) {
	rec := testRecord("m1", "alice", "bob")

	if got := rec.Partner("alice"); got != "bob" {
		t.Errorf("Partner(alice) = %s, want bob", got)
	}
	if got := rec.Partner("bob"); got != "alice" {
		t.Errorf("Partner(bob) = %s, want alice", got)
	}
	if got := rec.Partner("mallory"); got != "" {
		t.Errorf("Partner(mallory) = %s, want empty", got)
	}
}

func TestMemoryStore_CreateAndLookup(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	if err := s.Create(ctx, testRecord("m1", "alice", "bob")); err != nil {
		t.Fatalf("create: %v", err)
	}

	rec, err := s.Get(ctx, "m1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !rec.HasParticipant("alice") || !rec.HasParticipant("bob") {
		t.Error("record should contain both participants")
	}

	byMember, err := s.FindByMember(ctx, "bob")
	if err != nil || byMember == nil || byMember.MatchID != "m1" {
		t.Errorf("FindByMember(bob) = %v, %v", byMember, err)
	}
	if none, _ := s.FindByMember(ctx, "mallory"); none != nil {
		t.Error("FindByMember for a stranger should be nil")
	}
}

func TestMemoryStore_CreateRejectsLiveID(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	s.Create(ctx, testRecord("m1", "alice", "bob"))
	if err := s.Create(ctx, testRecord("m1", "carol", "dave")); err == nil {
		t.Error("creating a second match with a live id should fail")
	}
}

func TestMemoryStore_DrainOnce(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	s.Create(ctx, testRecord("m1", "alice", "bob"))

	s.EnqueueSignal(ctx, "m1", "alice", Signal{Kind: "offer", SenderID: "bob"})
	s.EnqueueSignal(ctx, "m1", "alice", Signal{Kind: "ice-candidate", SenderID: "bob"})

	first, err := s.DrainSignals(ctx, "m1", "alice")
	if err != nil {
		t.Fatalf("drain: %v", err)
	}
	if len(first) != 2 || first[0].Kind != "offer" || first[1].Kind != "ice-candidate" {
		t.Fatalf("first drain = %v", first)
	}

	second, err := s.DrainSignals(ctx, "m1", "alice")
	if err != nil {
		t.Fatalf("second drain: %v", err)
	}
	if len(second) != 0 {
		t.Errorf("second drain should be empty, got %d signals", len(second))
	}
}

func TestMemoryStore_QueueBound(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	s.Create(ctx, testRecord("m1", "alice", "bob"))

	for i := 0; i < 150; i++ {
		s.EnqueueSignal(ctx, "m1", "alice", Signal{
			Kind:     "ice-candidate",
			SenderID: "bob",
			SentAt:   int64(i),
		})
	}

	signals, _ := s.DrainSignals(ctx, "m1", "alice")
	if len(signals) != KeepNewest {
		t.Fatalf("queue holds %d signals, want %d", len(signals), KeepNewest)
	}
	// The newest 50 survive: SentAt 100..149.
	if signals[0].SentAt != 100 || signals[len(signals)-1].SentAt != 149 {
		t.Errorf("kept range %d..%d, want 100..149",
			signals[0].SentAt, signals[len(signals)-1].SentAt)
	}
}

func TestMemoryStore_QueueBoundReportsTruncatedLength(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	s.Create(ctx, testRecord("m1", "alice", "bob"))

	var length int
	for i := 0; i < MaxQueueLength; i++ {
		length, _ = s.EnqueueSignal(ctx, "m1", "alice", Signal{Kind: "ice-candidate"})
	}
	// The send that fills the queue triggers the trim and reports the
	// post-trim length.
	if length != KeepNewest {
		t.Errorf("length after %d sends = %d, want %d", MaxQueueLength, length, KeepNewest)
	}
}

func TestMemoryStore_FarewellBound(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	for i := 0; i < 150; i++ {
		s.EnqueueFarewell(ctx, "alice", Signal{Kind: KindDisconnect, SentAt: int64(i)})
	}

	parked, _ := s.DrainFarewell(ctx, "alice")
	if len(parked) != KeepNewest {
		t.Fatalf("farewell queue holds %d signals, want %d", len(parked), KeepNewest)
	}
	if parked[0].SentAt != 100 || parked[len(parked)-1].SentAt != 149 {
		t.Errorf("kept range %d..%d, want 100..149",
			parked[0].SentAt, parked[len(parked)-1].SentAt)
	}
}

func TestMemoryStore_EnqueueToMissingMatch(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	if _, err := s.EnqueueSignal(ctx, "ghost", "alice", Signal{Kind: "offer"}); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestMemoryStore_Delete(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	s.Create(ctx, testRecord("m1", "alice", "bob"))

	if ok, _ := s.Delete(ctx, "m1"); !ok {
		t.Error("delete should report the record existed")
	}
	if ok, _ := s.Delete(ctx, "m1"); ok {
		t.Error("second delete should report nothing removed")
	}
	if _, err := s.Get(ctx, "m1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("get after delete = %v, want ErrNotFound", err)
	}
	if rec, _ := s.FindByMember(ctx, "alice"); rec != nil {
		t.Error("member index should be cleared on delete")
	}
}

func TestMemoryStore_EvictBefore(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	now := time.Now()

	old := NewRecord("old", Participant{UserID: "a"}, Participant{UserID: "b"}, 0, now.Add(-time.Hour))
	fresh := NewRecord("fresh", Participant{UserID: "c"}, Participant{UserID: "d"}, 0, now)
	s.Create(ctx, old)
	s.Create(ctx, fresh)

	removed, _ := s.EvictBefore(ctx, now.Add(-10*time.Minute))
	if removed != 1 {
		t.Errorf("removed = %d, want 1", removed)
	}
	if _, err := s.Get(ctx, "old"); !errors.Is(err, ErrNotFound) {
		t.Error("expired record should be gone")
	}
	if _, err := s.Get(ctx, "fresh"); err != nil {
		t.Errorf("fresh record should survive: %v", err)
	}
	if count, _ := s.Count(ctx); count != 1 {
		t.Errorf("count = %d, want 1", count)
	}
}

func TestMemoryStore_MemberIndexSurvivesStaleDelete(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	s.Create(ctx, testRecord("m1", "alice", "bob"))
	s.Delete(ctx, "m1")
	s.Create(ctx, testRecord("m2", "alice", "carol"))

	// Deleting the old id again must not disturb alice's new membership.
	s.Delete(ctx, "m1")
	rec, _ := s.FindByMember(ctx, "alice")
	if rec == nil || rec.MatchID != "m2" {
		t.Errorf("FindByMember(alice) = %v, want m2", rec)
	}
}
