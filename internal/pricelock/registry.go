package pricelock

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"LootLedger/internal/failure"
	"LootLedger/internal/observability"
)

// Registry issues and redeems price locks.
//
// Relocking a subject overwrites the previous lock (last write wins). A
// caller that redeems a stale quote after a relock gets AMOUNT_MISMATCH or
// succeeds against the newer amount; Version lets callers detect the swap.
type Registry struct {
	store   Store
	ttl     time.Duration
	now     func() time.Time
	logger  zerolog.Logger
	metrics *observability.Metrics
}

// Option configures a Registry.
type Option func(*Registry)

// WithTTL overrides DefaultTTL.
func WithTTL(ttl time.Duration) Option {
	return func(r *Registry) {
		if ttl > 0 {
			r.ttl = ttl
		}
	}
}

// WithClock injects a time source.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

// WithMetrics enables Prometheus instrumentation.
func WithMetrics(m *observability.Metrics) Option {
	return func(r *Registry) { r.metrics = m }
}

// NewRegistry creates a registry over store.
func NewRegistry(store Store, logger zerolog.Logger, opts ...Option) *Registry {
	r := &Registry{
		store:  store,
		ttl:    DefaultTTL,
		now:    time.Now,
		logger: logger,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// TTL returns the lock window.
func (r *Registry) TTL() time.Duration { return r.ttl }

// LockPrice pins amountMinor for subject and returns the stored lock.
func (r *Registry) LockPrice(ctx context.Context, subject Subject, amountMinor string, meta map[string]string) (Lock, error) {
	if err := subject.validate(); err != nil {
		return Lock{}, err
	}
	if amountMinor == "" {
		return Lock{}, failure.New(failure.InputMalformed, "locked amount is empty")
	}
	now := r.now()
	l, err := r.store.Put(ctx, Lock{
		ID:          subject.Key(),
		Subject:     subject,
		AmountMinor: amountMinor,
		LockedAt:    now,
		ExpiresAt:   now.Add(r.ttl),
		Meta:        meta,
	})
	if err != nil {
		return Lock{}, err
	}
	if l.Version > 1 {
		r.logger.Debug().
			Str("lock_id", l.ID).
			Uint64("version", l.Version).
			Msg("price lock overwritten")
	}
	if r.metrics != nil {
		r.metrics.LocksCreated.Inc()
	}
	return l, nil
}

// ValidateLockedPrice redeems the lock for subject if claimedMinor matches.
// Success marks the lock used; it can never validate again.
func (r *Registry) ValidateLockedPrice(ctx context.Context, subject Subject, claimedMinor string) (Lock, error) {
	if err := subject.validate(); err != nil {
		return Lock{}, err
	}
	l, err := r.store.Consume(ctx, subject.Key(), claimedMinor, r.now())
	if r.metrics != nil {
		result := "ok"
		if err != nil {
			result = string(failure.CodeOf(err))
		}
		r.metrics.LockValidations.WithLabelValues(result).Inc()
	}
	if err != nil {
		r.logger.Info().
			Str("lock_id", subject.Key()).
			Str("reason", string(failure.CodeOf(err))).
			Msg("price lock rejected")
		return Lock{}, err
	}
	return l, nil
}

// LockInfo returns the current lock for subject, if any.
func (r *Registry) LockInfo(ctx context.Context, subject Subject) (Lock, bool, error) {
	return r.store.Get(ctx, subject.Key())
}

// Stats reports registry occupancy.
func (r *Registry) Stats(ctx context.Context) (Stats, error) {
	return r.store.Stats(ctx, r.now())
}

// Sweep evicts expired and used locks. Safe to run while locks are being issued
// and redeemed.
func (r *Registry) Sweep(ctx context.Context) (int, error) {
	evicted, stats, err := r.store.Sweep(ctx, r.now())
	if err != nil {
		return 0, err
	}
	if r.metrics != nil {
		r.metrics.LockSweepEvicted.Add(float64(evicted))
		r.metrics.LocksActive.Set(float64(stats.Active))
	}
	if evicted > 0 {
		r.logger.Debug().Int("evicted", evicted).Int("active", stats.Active).Msg("price lock sweep")
	}
	return evicted, nil
}
