package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/pairwave/rendezvous/internal/profile"
	"github.com/redis/go-redis/v9"
)

const (
	// Redis key patterns for the match registry.
	keyMatchIndex     = "match:index"   // Sorted set, score = creation timestamp (ms)
	keyRecordPrefix   = "match:rec:"    // + <match_id> -> Hash
	keyMemberPrefix   = "match:member:" // + <user_id> -> match id
	keySignalPrefix   = "match:sig:"    // + <match_id>:<user_id> -> List of signals
	keyFarewellPrefix = "farewell:"     // + <user_id> -> List of signals parked past teardown
)

// RedisStore is the shared match registry. Every key carries a TTL equal to
// the match lifetime so a crashed process cannot leak records indefinitely.
type RedisStore struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewRedisStore creates a Redis-backed registry with the given key TTL.
func NewRedisStore(rdb *redis.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{rdb: rdb, ttl: ttl}
}

// snapshotJSON is the wire form of a participant snapshot inside the record hash.
type snapshotJSON struct {
	Profile  profile.Profile `json:"profile"`
	Timezone *int            `json:"tz,omitempty"`
}

// Create stores a new record. The record hash, member index entries and the
// creation index are written in one transaction.
func (s *RedisStore) Create(ctx context.Context, rec Record) error {
	recKey := keyRecordPrefix + rec.MatchID

	exists, err := s.rdb.Exists(ctx, recKey).Result()
	if err != nil {
		return fmt.Errorf("registry: create %s: %w", rec.MatchID, err)
	}
	if exists > 0 {
		return fmt.Errorf("registry: match id %s already live", rec.MatchID)
	}

	snapA, err := json.Marshal(snapshot(rec, rec.ParticipantA))
	if err != nil {
		return fmt.Errorf("registry: marshal snapshot: %w", err)
	}
	snapB, err := json.Marshal(snapshot(rec, rec.ParticipantB))
	if err != nil {
		return fmt.Errorf("registry: marshal snapshot: %w", err)
	}

	pipe := s.rdb.TxPipeline()
	pipe.HSet(ctx, recKey, map[string]interface{}{
		"participant_a": rec.ParticipantA,
		"participant_b": rec.ParticipantB,
		"created_ms":    strconv.FormatInt(rec.CreatedAt.UnixMilli(), 10),
		"score":         strconv.FormatFloat(rec.Score, 'f', -1, 64),
		"snap_a":        string(snapA),
		"snap_b":        string(snapB),
	})
	pipe.Expire(ctx, recKey, s.ttl)

	pipe.ZAdd(ctx, keyMatchIndex, redis.Z{
		Score:  float64(rec.CreatedAt.UnixMilli()),
		Member: rec.MatchID,
	})
	pipe.Expire(ctx, keyMatchIndex, s.ttl)

	for _, userID := range []string{rec.ParticipantA, rec.ParticipantB} {
		pipe.Set(ctx, keyMemberPrefix+userID, rec.MatchID, s.ttl)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("registry: create %s: %w", rec.MatchID, err)
	}
	return nil
}

// Get returns the record, or ErrNotFound.
func (s *RedisStore) Get(ctx context.Context, matchID string) (*Record, error) {
	fields, err := s.rdb.HGetAll(ctx, keyRecordPrefix+matchID).Result()
	if err != nil {
		return nil, fmt.Errorf("registry: get %s: %w", matchID, err)
	}
	if len(fields) == 0 {
		return nil, ErrNotFound
	}

	rec := Record{
		MatchID:      matchID,
		ParticipantA: fields["participant_a"],
		ParticipantB: fields["participant_b"],
		Snapshots:    make(map[string]Snapshot, 2),
	}
	if ms, err := strconv.ParseInt(fields["created_ms"], 10, 64); err == nil {
		rec.CreatedAt = time.UnixMilli(ms)
	}
	if score, err := strconv.ParseFloat(fields["score"], 64); err == nil {
		rec.Score = score
	}
	for userID, raw := range map[string]string{
		rec.ParticipantA: fields["snap_a"],
		rec.ParticipantB: fields["snap_b"],
	} {
		var snap snapshotJSON
		if err := json.Unmarshal([]byte(raw), &snap); err != nil {
			return nil, fmt.Errorf("registry: decode snapshot for %s: %w", matchID, err)
		}
		rec.Snapshots[userID] = Snapshot{Profile: snap.Profile, TimezoneOffset: snap.Timezone}
	}
	return &rec, nil
}

// FindByMember resolves the member index, then loads the record. A dangling
// index entry (record expired first) reads as "not matched".
func (s *RedisStore) FindByMember(ctx context.Context, userID string) (*Record, error) {
	matchID, err := s.rdb.Get(ctx, keyMemberPrefix+userID).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("registry: member %s: %w", userID, err)
	}

	rec, err := s.Get(ctx, matchID)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	return rec, err
}

// EnqueueSignal pushes onto the recipient's list and truncates stalled queues
// to the newest entries.
func (s *RedisStore) EnqueueSignal(ctx context.Context, matchID, recipientID string, sig Signal) (int, error) {
	exists, err := s.rdb.Exists(ctx, keyRecordPrefix+matchID).Result()
	if err != nil {
		return 0, fmt.Errorf("registry: enqueue %s: %w", matchID, err)
	}
	if exists == 0 {
		return 0, ErrNotFound
	}

	data, err := json.Marshal(sig)
	if err != nil {
		return 0, fmt.Errorf("registry: marshal signal: %w", err)
	}

	sigKey := signalKey(matchID, recipientID)
	pipe := s.rdb.Pipeline()
	pushed := pipe.RPush(ctx, sigKey, data)
	pipe.Expire(ctx, sigKey, s.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("registry: enqueue %s: %w", matchID, err)
	}

	length := int(pushed.Val())
	if length >= MaxQueueLength {
		if err := s.rdb.LTrim(ctx, sigKey, -KeepNewest, -1).Err(); err != nil {
			return length, fmt.Errorf("registry: trim %s: %w", matchID, err)
		}
		length = KeepNewest
	}
	return length, nil
}

// DrainSignals reads and clears the recipient's list in one transaction.
func (s *RedisStore) DrainSignals(ctx context.Context, matchID, recipientID string) ([]Signal, error) {
	exists, err := s.rdb.Exists(ctx, keyRecordPrefix+matchID).Result()
	if err != nil {
		return nil, fmt.Errorf("registry: drain %s: %w", matchID, err)
	}
	if exists == 0 {
		return nil, ErrNotFound
	}

	sigKey := signalKey(matchID, recipientID)
	pipe := s.rdb.TxPipeline()
	items := pipe.LRange(ctx, sigKey, 0, -1)
	pipe.Del(ctx, sigKey)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("registry: drain %s: %w", matchID, err)
	}

	raw := items.Val()
	signals := make([]Signal, 0, len(raw))
	for _, item := range raw {
		var sig Signal
		if err := json.Unmarshal([]byte(item), &sig); err != nil {
			return nil, fmt.Errorf("registry: decode signal for %s: %w", matchID, err)
		}
		signals = append(signals, sig)
	}
	return signals, nil
}

// Delete removes the record, its indexes and both signal lists.
func (s *RedisStore) Delete(ctx context.Context, matchID string) (bool, error) {
	rec, err := s.Get(ctx, matchID)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	pipe := s.rdb.Pipeline()
	pipe.Del(ctx, keyRecordPrefix+matchID)
	pipe.ZRem(ctx, keyMatchIndex, matchID)
	pipe.Del(ctx, signalKey(matchID, rec.ParticipantA))
	pipe.Del(ctx, signalKey(matchID, rec.ParticipantB))
	if _, err := pipe.Exec(ctx); err != nil {
		return false, fmt.Errorf("registry: delete %s: %w", matchID, err)
	}

	// Clear member index entries still pointing at this match; the user may
	// already have been folded into a newer one.
	for _, userID := range []string{rec.ParticipantA, rec.ParticipantB} {
		current, err := s.rdb.Get(ctx, keyMemberPrefix+userID).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return true, fmt.Errorf("registry: delete member index %s: %w", userID, err)
		}
		if current == matchID {
			if err := s.rdb.Del(ctx, keyMemberPrefix+userID).Err(); err != nil {
				return true, fmt.Errorf("registry: delete member index %s: %w", userID, err)
			}
		}
	}
	return true, nil
}

// EnqueueFarewell parks a signal for a user past match teardown. The key's
// TTL handles expiry; no sweep is needed.
func (s *RedisStore) EnqueueFarewell(ctx context.Context, userID string, sig Signal) error {
	data, err := json.Marshal(sig)
	if err != nil {
		return fmt.Errorf("registry: marshal farewell: %w", err)
	}

	key := keyFarewellPrefix + userID
	pipe := s.rdb.Pipeline()
	pipe.RPush(ctx, key, data)
	pipe.LTrim(ctx, key, -KeepNewest, -1)
	pipe.Expire(ctx, key, s.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("registry: farewell %s: %w", userID, err)
	}
	return nil
}

// DrainFarewell returns and clears the user's parked signals.
func (s *RedisStore) DrainFarewell(ctx context.Context, userID string) ([]Signal, error) {
	key := keyFarewellPrefix + userID
	pipe := s.rdb.TxPipeline()
	items := pipe.LRange(ctx, key, 0, -1)
	pipe.Del(ctx, key)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("registry: drain farewell %s: %w", userID, err)
	}

	raw := items.Val()
	signals := make([]Signal, 0, len(raw))
	for _, item := range raw {
		var sig Signal
		if err := json.Unmarshal([]byte(item), &sig); err != nil {
			return nil, fmt.Errorf("registry: decode farewell for %s: %w", userID, err)
		}
		signals = append(signals, sig)
	}
	return signals, nil
}

// EvictBefore removes records created before cutoff.
func (s *RedisStore) EvictBefore(ctx context.Context, cutoff time.Time) (int, error) {
	max := strconv.FormatInt(cutoff.UnixMilli()-1, 10)
	ids, err := s.rdb.ZRangeByScore(ctx, keyMatchIndex, &redis.ZRangeBy{
		Min: "0",
		Max: max,
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("registry: evict range: %w", err)
	}

	removed := 0
	for _, matchID := range ids {
		ok, err := s.Delete(ctx, matchID)
		if err != nil {
			return removed, err
		}
		if ok {
			removed++
		}
	}

	// Reap index members whose record hash expired out from under them.
	if _, err := s.rdb.ZRemRangeByScore(ctx, keyMatchIndex, "0", max).Result(); err != nil {
		return removed, fmt.Errorf("registry: evict trim: %w", err)
	}
	return removed, nil
}

// Count returns the number of indexed records. The count may briefly include
// records whose hash expired but whose index entry has not been swept yet.
func (s *RedisStore) Count(ctx context.Context) (int, error) {
	n, err := s.rdb.ZCard(ctx, keyMatchIndex).Result()
	if err != nil {
		return 0, fmt.Errorf("registry: count: %w", err)
	}
	return int(n), nil
}

func snapshot(rec Record, userID string) snapshotJSON {
	snap := rec.Snapshots[userID]
	return snapshotJSON{Profile: snap.Profile, Timezone: snap.TimezoneOffset}
}

func signalKey(matchID, userID string) string {
	return keySignalPrefix + matchID + ":" + userID
}
