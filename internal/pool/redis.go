package pool

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/pairwave/rendezvous/internal/profile"
	"github.com/redis/go-redis/v9"
)

const (
	// Redis key patterns for the waiting pool.
	keyPoolQueue  = "pool:queue" // Sorted set, score = arrival timestamp (ms)
	keyUserPrefix = "pool:user:" // + <user_id> -> Hash
	keyTzPrefix   = "pool:tz:"   // + <offset> -> Set of user ids
)

// RedisStore is the shared waiting pool for horizontally distributed
// instances. Every key carries a TTL so a crashed process cannot leak
// waiting entries indefinitely.
type RedisStore struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewRedisStore creates a Redis-backed pool. ttl bounds the lifetime of every
// key the pool writes and should equal the match lifetime.
func NewRedisStore(rdb *redis.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{rdb: rdb, ttl: ttl}
}

// Upsert inserts or replaces the user's entry, resetting its queue position.
func (s *RedisStore) Upsert(ctx context.Context, entry Entry) error {
	// Replacing an entry may move the user between timezone buckets.
	prior, err := s.getEntry(ctx, entry.UserID)
	if err != nil {
		return err
	}

	fields := map[string]interface{}{
		"gender":     string(entry.Profile.Gender),
		"status":     entry.Profile.Status,
		"arrival_ms": strconv.FormatInt(entry.ArrivalTime.UnixMilli(), 10),
	}
	if entry.TimezoneOffset != nil {
		fields["tz"] = strconv.Itoa(*entry.TimezoneOffset)
	} else {
		fields["tz"] = ""
	}
	if len(entry.Profile.Attrs) > 0 {
		attrs, err := json.Marshal(entry.Profile.Attrs)
		if err != nil {
			return fmt.Errorf("pool: marshal attrs: %w", err)
		}
		fields["attrs"] = string(attrs)
	}

	pipe := s.rdb.Pipeline()

	if prior != nil && prior.TimezoneOffset != nil &&
		(entry.TimezoneOffset == nil || *prior.TimezoneOffset != *entry.TimezoneOffset) {
		pipe.SRem(ctx, tzKey(*prior.TimezoneOffset), entry.UserID)
	}

	pipe.ZAdd(ctx, keyPoolQueue, redis.Z{
		Score:  float64(entry.ArrivalTime.UnixMilli()),
		Member: entry.UserID,
	})
	pipe.Expire(ctx, keyPoolQueue, s.ttl)

	userKey := keyUserPrefix + entry.UserID
	pipe.Del(ctx, userKey) // clear stale fields from a prior entry
	pipe.HSet(ctx, userKey, fields)
	pipe.Expire(ctx, userKey, s.ttl)

	// Per-timezone index from the persisted layout; useful for inspecting
	// the pool's offset distribution without scanning every user hash.
	if entry.TimezoneOffset != nil {
		pipe.SAdd(ctx, tzKey(*entry.TimezoneOffset), entry.UserID)
		pipe.Expire(ctx, tzKey(*entry.TimezoneOffset), s.ttl)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("pool: upsert %s: %w", entry.UserID, err)
	}
	return nil
}

// Remove deletes the user's entry and all index references.
func (s *RedisStore) Remove(ctx context.Context, userID string) (bool, error) {
	entry, err := s.getEntry(ctx, userID)
	if err != nil {
		return false, err
	}
	if entry == nil {
		return false, nil
	}

	pipe := s.rdb.Pipeline()
	pipe.ZRem(ctx, keyPoolQueue, userID)
	pipe.Del(ctx, keyUserPrefix+userID)
	if entry.TimezoneOffset != nil {
		pipe.SRem(ctx, tzKey(*entry.TimezoneOffset), userID)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return false, fmt.Errorf("pool: remove %s: %w", userID, err)
	}
	return true, nil
}

// Entries returns all waiting entries ordered by arrival. Ids still in the
// queue whose user hash already expired are skipped; EvictBefore reaps them.
func (s *RedisStore) Entries(ctx context.Context) ([]Entry, error) {
	ids, err := s.rdb.ZRange(ctx, keyPoolQueue, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("pool: range queue: %w", err)
	}

	out := make([]Entry, 0, len(ids))
	for _, id := range ids {
		entry, err := s.getEntry(ctx, id)
		if err != nil {
			return nil, err
		}
		if entry != nil {
			out = append(out, *entry)
		}
	}
	return out, nil
}

// EvictBefore removes entries that arrived before cutoff.
func (s *RedisStore) EvictBefore(ctx context.Context, cutoff time.Time) (int, error) {
	max := strconv.FormatInt(cutoff.UnixMilli()-1, 10)
	ids, err := s.rdb.ZRangeByScore(ctx, keyPoolQueue, &redis.ZRangeBy{
		Min: "0",
		Max: max,
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("pool: evict range: %w", err)
	}

	removed := 0
	for _, id := range ids {
		ok, err := s.Remove(ctx, id)
		if err != nil {
			return removed, err
		}
		if ok {
			removed++
		}
	}

	// Reap queue members whose hash expired out from under them.
	if _, err := s.rdb.ZRemRangeByScore(ctx, keyPoolQueue, "0", max).Result(); err != nil {
		return removed, fmt.Errorf("pool: evict trim: %w", err)
	}
	return removed, nil
}

// EvictExcess trims the pool to capacity, oldest arrivals first.
func (s *RedisStore) EvictExcess(ctx context.Context, capacity int) (int, error) {
	size, err := s.rdb.ZCard(ctx, keyPoolQueue).Result()
	if err != nil {
		return 0, fmt.Errorf("pool: size: %w", err)
	}
	excess := int(size) - capacity
	if excess <= 0 {
		return 0, nil
	}

	ids, err := s.rdb.ZRange(ctx, keyPoolQueue, 0, int64(excess-1)).Result()
	if err != nil {
		return 0, fmt.Errorf("pool: excess range: %w", err)
	}

	removed := 0
	for _, id := range ids {
		ok, err := s.Remove(ctx, id)
		if err != nil {
			return removed, err
		}
		if ok {
			removed++
		}
	}
	return removed, nil
}

// Size returns the number of waiting entries.
func (s *RedisStore) Size(ctx context.Context) (int, error) {
	size, err := s.rdb.ZCard(ctx, keyPoolQueue).Result()
	if err != nil {
		return 0, fmt.Errorf("pool: size: %w", err)
	}
	return int(size), nil
}

// getEntry loads one user hash. Returns nil if absent or expired.
func (s *RedisStore) getEntry(ctx context.Context, userID string) (*Entry, error) {
	fields, err := s.rdb.HGetAll(ctx, keyUserPrefix+userID).Result()
	if err != nil {
		return nil, fmt.Errorf("pool: get %s: %w", userID, err)
	}
	if len(fields) == 0 {
		return nil, nil
	}

	entry := Entry{UserID: userID}
	entry.Profile.Gender = profile.Gender(fields["gender"])
	entry.Profile.Status = fields["status"]
	if raw := fields["attrs"]; raw != "" {
		if err := json.Unmarshal([]byte(raw), &entry.Profile.Attrs); err != nil {
			return nil, fmt.Errorf("pool: decode attrs for %s: %w", userID, err)
		}
	}
	if raw := fields["tz"]; raw != "" {
		if offset, err := strconv.Atoi(raw); err == nil {
			entry.TimezoneOffset = &offset
		}
	}
	if ms, err := strconv.ParseInt(fields["arrival_ms"], 10, 64); err == nil {
		entry.ArrivalTime = time.UnixMilli(ms)
	}
	return &entry, nil
}

func tzKey(offset int) string {
	return keyTzPrefix + strconv.Itoa(offset)
}
