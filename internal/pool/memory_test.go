package pool

import (
	"context"
	"testing"
	"time"
)

func entryAt(userID string, arrival time.Time) Entry {
	return Entry{UserID: userID, ArrivalTime: arrival}
}

func TestMemoryStore_UpsertReplacesExistingEntry(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	base := time.Now()

	s.Upsert(ctx, entryAt("alice", base))
	s.Upsert(ctx, entryAt("bob", base.Add(time.Second)))
	s.Upsert(ctx, entryAt("alice", base.Add(2*time.Second)))

	size, _ := s.Size(ctx)
	if size != 2 {
		t.Fatalf("size = %d, want 2 (re-join must not duplicate)", size)
	}

	entries, _ := s.Entries(ctx)
	if entries[0].UserID != "bob" || entries[1].UserID != "alice" {
		t.Errorf("re-join should reset queue position: got order %s, %s",
			entries[0].UserID, entries[1].UserID)
	}
	if !entries[1].ArrivalTime.Equal(base.Add(2 * time.Second)) {
		t.Errorf("re-join should keep the second call's data")
	}
}

func TestMemoryStore_Remove(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	s.Upsert(ctx, entryAt("alice", time.Now()))

	if ok, _ := s.Remove(ctx, "alice"); !ok {
		t.Error("Remove should report an existing entry")
	}
	if ok, _ := s.Remove(ctx, "alice"); ok {
		t.Error("second Remove should report nothing to remove")
	}
	if size, _ := s.Size(ctx); size != 0 {
		t.Errorf("size = %d, want 0", size)
	}
}

func TestMemoryStore_EntriesInArrivalOrder(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	base := time.Now()

	for i, id := range []string{"c", "a", "b"} {
		s.Upsert(ctx, entryAt(id, base.Add(time.Duration(i)*time.Second)))
	}

	entries, _ := s.Entries(ctx)
	want := []string{"c", "a", "b"}
	for i, entry := range entries {
		if entry.UserID != want[i] {
			t.Fatalf("entries[%d] = %s, want %s", i, entry.UserID, want[i])
		}
	}
}

func TestMemoryStore_EvictBefore(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	base := time.Now()

	s.Upsert(ctx, entryAt("old", base.Add(-3*time.Minute)))
	s.Upsert(ctx, entryAt("stale", base.Add(-2*time.Minute)))
	s.Upsert(ctx, entryAt("fresh", base))

	removed, _ := s.EvictBefore(ctx, base.Add(-time.Minute))
	if removed != 2 {
		t.Errorf("removed = %d, want 2", removed)
	}

	entries, _ := s.Entries(ctx)
	if len(entries) != 1 || entries[0].UserID != "fresh" {
		t.Errorf("only the fresh entry should survive, got %v", entries)
	}
}

func TestMemoryStore_EvictExcessRemovesOldestFirst(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	base := time.Now()

	for i, id := range []string{"a", "b", "c", "d", "e"} {
		s.Upsert(ctx, entryAt(id, base.Add(time.Duration(i)*time.Second)))
	}

	removed, _ := s.EvictExcess(ctx, 3)
	if removed != 2 {
		t.Errorf("removed = %d, want 2", removed)
	}

	entries, _ := s.Entries(ctx)
	want := []string{"c", "d", "e"}
	if len(entries) != len(want) {
		t.Fatalf("got %d entries, want %d", len(entries), len(want))
	}
	for i, entry := range entries {
		if entry.UserID != want[i] {
			t.Errorf("entries[%d] = %s, want %s", i, entry.UserID, want[i])
		}
	}
}

func TestMemoryStore_EvictExcessNoopUnderCapacity(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	s.Upsert(ctx, entryAt("a", time.Now()))

	if removed, _ := s.EvictExcess(ctx, 10); removed != 0 {
		t.Errorf("removed = %d, want 0", removed)
	}
}
