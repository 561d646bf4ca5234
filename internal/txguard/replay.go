package txguard

import (
	"context"
	"errors"
	"hash/fnv"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog"

	"LootLedger/internal/failure"
	"LootLedger/internal/observability"
)

// DefaultReplayTTL is how long a processed signature is remembered in the
// fast tier.
const DefaultReplayTTL = 5 * time.Minute

// SignatureStore is the TTL set behind the replay guard.
type SignatureStore interface {
	Add(ctx context.Context, signatureID string, expiresAt time.Time) error
	Contains(ctx context.Context, signatureID string, now time.Time) (bool, error)
	// Sweep drops expired entries and returns (evicted, remaining).
	Sweep(ctx context.Context, now time.Time) (int, int, error)
}

// SettledSignatureLookup is the durable tier: signatures recorded on
// settled outcomes.
type SettledSignatureLookup interface {
	IsSettled(ctx context.Context, signatureID string) (bool, error)
}

// ReplayGuard implements two-tier replay detection. Tier 1 is the TTL
// store, tier 2 an optional durable lookup consulted on a tier-1 miss.
type ReplayGuard struct {
	store   SignatureStore
	durable SettledSignatureLookup
	ttl     time.Duration
	now     func() time.Time
	logger  zerolog.Logger
	metrics *observability.Metrics
}

// NewReplayGuard creates a guard. durable and metrics may be nil.
func NewReplayGuard(store SignatureStore, durable SettledSignatureLookup, ttl time.Duration, logger zerolog.Logger, metrics *observability.Metrics) *ReplayGuard {
	if ttl <= 0 {
		ttl = DefaultReplayTTL
	}
	return &ReplayGuard{
		store:   store,
		durable: durable,
		ttl:     ttl,
		now:     time.Now,
		logger:  logger,
		metrics: metrics,
	}
}

// WithClock swaps the time source.
func (g *ReplayGuard) WithClock(now func() time.Time) *ReplayGuard {
	g.now = now
	return g
}

// IsProcessed reports whether signatureID was already settled.
// A tier-2 error is logged and treated as not seen.
func (g *ReplayGuard) IsProcessed(ctx context.Context, signatureID string) (bool, error) {
	seen, err := g.store.Contains(ctx, signatureID, g.now())
	if err != nil {
		return false, err
	}
	if seen {
		g.recordHit("store")
		return true, nil
	}
	if g.durable == nil {
		return false, nil
	}

	start := time.Now()
	settled, err := g.durable.IsSettled(ctx, signatureID)
	if g.metrics != nil {
		g.metrics.ReplayTier2Duration.Observe(time.Since(start).Seconds())
	}
	if err != nil {
		g.logger.Warn().Err(err).Str("signature", observability.ShortID(signatureID)).Msg("durable replay lookup failed")
		return false, nil
	}
	if settled {
		g.recordHit("postgres")
		// Cache so the next lookup stays in tier 1.
		if err := g.store.Add(ctx, signatureID, g.now().Add(g.ttl)); err != nil {
			g.logger.Warn().Err(err).Msg("replay cache fill failed")
		}
		return true, nil
	}
	return false, nil
}

// MarkProcessed records signatureID for the guard's TTL.
func (g *ReplayGuard) MarkProcessed(ctx context.Context, signatureID string) error {
	if signatureID == "" {
		return failure.New(failure.InputMalformed, "empty signature id")
	}
	return g.store.Add(ctx, signatureID, g.now().Add(g.ttl))
}

// Sweep evicts expired signatures.
func (g *ReplayGuard) Sweep(ctx context.Context) (int, error) {
	evicted, remaining, err := g.store.Sweep(ctx, g.now())
	if err != nil {
		return 0, err
	}
	if g.metrics != nil {
		g.metrics.ReplaySweepEvicted.Add(float64(evicted))
		g.metrics.ReplayEntries.Set(float64(remaining))
	}
	return evicted, nil
}

func (g *ReplayGuard) recordHit(tier string) {
	if g.metrics != nil {
		g.metrics.ReplayRejections.WithLabelValues(tier).Inc()
	}
}

// --- In-memory store ---

const sigShards = 16

type sigShard struct {
	mu      sync.Mutex
	entries map[string]time.Time
}

// MemorySignatureStore is a sharded map of signature to expiry.
type MemorySignatureStore struct {
	shards [sigShards]*sigShard
}

func NewMemorySignatureStore() *MemorySignatureStore {
	s := &MemorySignatureStore{}
	for i := range s.shards {
		s.shards[i] = &sigShard{entries: make(map[string]time.Time)}
	}
	return s
}

func (s *MemorySignatureStore) shardFor(id string) *sigShard {
	h := fnv.New32a()
	h.Write([]byte(id))
	return s.shards[h.Sum32()%sigShards]
}

func (s *MemorySignatureStore) Add(_ context.Context, id string, expiresAt time.Time) error {
	sh := s.shardFor(id)
	sh.mu.Lock()
	sh.entries[id] = expiresAt
	sh.mu.Unlock()
	return nil
}

func (s *MemorySignatureStore) Contains(_ context.Context, id string, now time.Time) (bool, error) {
	sh := s.shardFor(id)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	exp, ok := sh.entries[id]
	if !ok {
		return false, nil
	}
	if !now.Before(exp) {
		delete(sh.entries, id)
		return false, nil
	}
	return true, nil
}

func (s *MemorySignatureStore) Sweep(_ context.Context, now time.Time) (int, int, error) {
	evicted, remaining := 0, 0
	for _, sh := range s.shards {
		sh.mu.Lock()
		for id, exp := range sh.entries {
			if !now.Before(exp) {
				delete(sh.entries, id)
				evicted++
			} else {
				remaining++
			}
		}
		sh.mu.Unlock()
	}
	return evicted, remaining, nil
}

// --- Redis store ---

const sigKeyPrefix = "loot:sig:"

// RedisSignatureStore keeps processed signatures as expiring keys.
type RedisSignatureStore struct {
	client redis.UniversalClient
}

func NewRedisSignatureStore(client redis.UniversalClient) *RedisSignatureStore {
	return &RedisSignatureStore{client: client}
}

func (s *RedisSignatureStore) Add(ctx context.Context, id string, expiresAt time.Time) error {
	ttl := time.Until(expiresAt)
	if ttl <= 0 {
		return nil
	}
	if err := s.client.Set(ctx, sigKeyPrefix+id, 1, ttl).Err(); err != nil {
		return failure.Wrap(failure.ExternalFailure, err, "redis mark signature")
	}
	return nil
}

func (s *RedisSignatureStore) Contains(ctx context.Context, id string, _ time.Time) (bool, error) {
	_, err := s.client.Get(ctx, sigKeyPrefix+id).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, failure.Wrap(failure.ExternalFailure, err, "redis lookup signature")
	}
	return true, nil
}

// Sweep is a no-op: Redis expires keys itself.
func (s *RedisSignatureStore) Sweep(context.Context, time.Time) (int, int, error) {
	return 0, 0, nil
}
