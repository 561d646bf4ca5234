package pricelock

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"LootLedger/internal/failure"
)

const redisKeyPrefix = "loot:pricelock:"

// putScript overwrites the lock and bumps its version.
var putScript = redis.NewScript(`
local prev = redis.call('GET', KEYS[1])
local version = 1
if prev then
  local old = cjson.decode(prev)
  version = (tonumber(old.version) or 0) + 1
end
local rec = cjson.decode(ARGV[1])
rec.version = version
redis.call('SET', KEYS[1], cjson.encode(rec), 'PX', ARGV[2])
return version
`)

// usedRetention is how long a redeemed lock stays readable before Redis
// drops it, mirroring one sweep interval of the memory store.
const usedRetention = time.Minute

// consumeScript is the atomic check-and-mark. It returns the status and the
// record as it was before the call.
var consumeScript = redis.NewScript(`
local raw = redis.call('GET', KEYS[1])
if not raw then
  return {'LOCK_NOT_FOUND', ''}
end
local rec = cjson.decode(raw)
if tonumber(ARGV[2]) >= tonumber(rec.expires_at_ms) then
  redis.call('DEL', KEYS[1])
  return {'LOCK_EXPIRED', raw}
end
if rec.used then
  return {'LOCK_ALREADY_USED', raw}
end
if rec.amount_minor ~= ARGV[1] then
  return {'AMOUNT_MISMATCH', raw}
end
rec.used = true
local ttl = redis.call('PTTL', KEYS[1])
local keep = tonumber(ARGV[3])
if ttl <= 0 or ttl > keep then
  ttl = keep
end
redis.call('SET', KEYS[1], cjson.encode(rec), 'PX', ttl)
return {'OK', raw}
`)

type redisRecord struct {
	ID          string            `json:"id"`
	Subject     Subject           `json:"subject"`
	AmountMinor string            `json:"amount_minor"`
	LockedAtMs  int64             `json:"locked_at_ms"`
	ExpiresAtMs int64             `json:"expires_at_ms"`
	Used        bool              `json:"used"`
	Version     uint64            `json:"version"`
	Meta        map[string]string `json:"meta,omitempty"`
}

func toRecord(l Lock) redisRecord {
	return redisRecord{
		ID:          l.ID,
		Subject:     l.Subject,
		AmountMinor: l.AmountMinor,
		LockedAtMs:  l.LockedAt.UnixMilli(),
		ExpiresAtMs: l.ExpiresAt.UnixMilli(),
		Used:        l.Used,
		Version:     l.Version,
		Meta:        l.Meta,
	}
}

func (r redisRecord) lock() Lock {
	return Lock{
		ID:          r.ID,
		Subject:     r.Subject,
		AmountMinor: r.AmountMinor,
		LockedAt:    time.UnixMilli(r.LockedAtMs).UTC(),
		ExpiresAt:   time.UnixMilli(r.ExpiresAtMs).UTC(),
		Used:        r.Used,
		Version:     r.Version,
		Meta:        r.Meta,
	}
}

// RedisStore shares locks between instances. Redis key expiry does the
// eviction, and redeemed locks are cut down to usedRetention; Sweep only
// reports occupancy.
type RedisStore struct {
	client redis.UniversalClient
}

// NewRedisStore wraps an existing client.
func NewRedisStore(client redis.UniversalClient) *RedisStore {
	return &RedisStore{client: client}
}

func redisKey(key string) string { return redisKeyPrefix + key }

func (s *RedisStore) Put(ctx context.Context, l Lock) (Lock, error) {
	ttl := time.Until(l.ExpiresAt)
	if ttl <= 0 {
		ttl = time.Millisecond
	}
	payload, err := json.Marshal(toRecord(l))
	if err != nil {
		return Lock{}, fmt.Errorf("marshal lock: %w", err)
	}
	version, err := putScript.Run(ctx, s.client, []string{redisKey(l.Subject.Key())}, payload, ttl.Milliseconds()).Int64()
	if err != nil {
		return Lock{}, failure.Wrap(failure.ExternalFailure, err, "redis put lock")
	}
	l.Version = uint64(version)
	return l, nil
}

func (s *RedisStore) Consume(ctx context.Context, key, claimedMinor string, now time.Time) (Lock, error) {
	res, err := consumeScript.Run(ctx, s.client, []string{redisKey(key)}, claimedMinor, now.UnixMilli(), usedRetention.Milliseconds()).Slice()
	if err != nil {
		return Lock{}, failure.Wrap(failure.ExternalFailure, err, "redis consume lock")
	}
	if len(res) != 2 {
		return Lock{}, failure.New(failure.Internal, "unexpected consume reply of length %d", len(res))
	}
	status, _ := res[0].(string)
	raw, _ := res[1].(string)

	if status == string(failure.LockNotFound) {
		_, err := consumeCheck(nil, false, claimedMinor, now)
		return Lock{}, err
	}
	var rec redisRecord
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return Lock{}, fmt.Errorf("decode lock: %w", err)
	}
	before := rec.lock()
	if status != "OK" {
		if _, err := consumeCheck(&before, true, claimedMinor, now); err != nil {
			return Lock{}, err
		}
		return Lock{}, failure.New(failure.Code(status), "price lock rejected")
	}
	before.Used = true
	return before, nil
}

func (s *RedisStore) Get(ctx context.Context, key string) (Lock, bool, error) {
	raw, err := s.client.Get(ctx, redisKey(key)).Result()
	if errors.Is(err, redis.Nil) {
		return Lock{}, false, nil
	}
	if err != nil {
		return Lock{}, false, failure.Wrap(failure.ExternalFailure, err, "redis get lock")
	}
	var rec redisRecord
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return Lock{}, false, fmt.Errorf("decode lock: %w", err)
	}
	return rec.lock(), true, nil
}

func (s *RedisStore) Sweep(ctx context.Context, now time.Time) (int, Stats, error) {
	stats, err := s.Stats(ctx, now)
	return 0, stats, err
}

func (s *RedisStore) Stats(ctx context.Context, now time.Time) (Stats, error) {
	var stats Stats
	var cursor uint64
	for {
		keys, next, err := s.client.Scan(ctx, cursor, redisKeyPrefix+"*", 200).Result()
		if err != nil {
			return stats, failure.Wrap(failure.ExternalFailure, err, "redis scan locks")
		}
		for _, k := range keys {
			l, ok, err := s.Get(ctx, k[len(redisKeyPrefix):])
			if err != nil {
				return stats, err
			}
			if ok {
				tally(&stats, &l, now)
			}
		}
		if next == 0 {
			return stats, nil
		}
		cursor = next
	}
}
