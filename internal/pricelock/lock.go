// Package pricelock pins a computed cash-out amount to an (asset, principal)
// pair for a short window so the amount a user saw is the amount settled.
package pricelock

import (
	"context"
	"time"

	"LootLedger/internal/failure"
)

// DefaultTTL is how long a quoted amount stays redeemable.
const DefaultTTL = 5 * time.Minute

// Subject identifies what a lock covers.
type Subject struct {
	AssetID     string `json:"asset_id"`
	PrincipalID string `json:"principal_id"`
}

// Key is the registry key, also used as the lock id.
func (s Subject) Key() string {
	return s.AssetID + ":" + s.PrincipalID
}

func (s Subject) validate() error {
	if s.AssetID == "" || s.PrincipalID == "" {
		return failure.New(failure.InputMalformed, "lock subject needs asset and principal")
	}
	return nil
}

// Lock is one pinned amount. AmountMinor is a canonical base-10 integer
// string and is only ever compared as a string.
type Lock struct {
	ID          string            `json:"id"`
	Subject     Subject           `json:"subject"`
	AmountMinor string            `json:"amount_minor"`
	LockedAt    time.Time         `json:"locked_at"`
	ExpiresAt   time.Time         `json:"expires_at"`
	Used        bool              `json:"used"`
	Version     uint64            `json:"version"`
	Meta        map[string]string `json:"meta,omitempty"`
}

// Expired reports whether the lock is past its window at now.
func (l Lock) Expired(now time.Time) bool {
	return !now.Before(l.ExpiresAt)
}

// Stats summarizes registry occupancy.
type Stats struct {
	Total   int `json:"total"`
	Active  int `json:"active"`
	Used    int `json:"used"`
	Expired int `json:"expired"`
}

// Store holds locks. Consume must check and flip the used flag in one
// atomic step so two concurrent redemptions cannot both succeed.
type Store interface {
	// Put inserts or overwrites the lock for l.Subject, returning it with
	// Version set one past the replaced record's version.
	Put(ctx context.Context, l Lock) (Lock, error)
	// Consume validates claimedMinor against the lock at key and marks it
	// used. Errors carry LOCK_NOT_FOUND, LOCK_EXPIRED (the lock is evicted),
	// LOCK_ALREADY_USED or AMOUNT_MISMATCH.
	Consume(ctx context.Context, key, claimedMinor string, now time.Time) (Lock, error)
	Get(ctx context.Context, key string) (Lock, bool, error)
	// Sweep evicts expired and used locks and reports what remains.
	Sweep(ctx context.Context, now time.Time) (evicted int, stats Stats, err error)
	Stats(ctx context.Context, now time.Time) (Stats, error)
}

// consumeCheck applies the validation order shared by every store.
func consumeCheck(l *Lock, found bool, claimedMinor string, now time.Time) (evict bool, err error) {
	if !found {
		return false, failure.New(failure.LockNotFound, "no price lock for this asset and principal")
	}
	if l.Expired(now) {
		return true, failure.New(failure.LockExpired, "price lock expired at %s", l.ExpiresAt.Format(time.RFC3339))
	}
	if l.Used {
		return false, failure.New(failure.LockAlreadyUsed, "price lock already redeemed")
	}
	if l.AmountMinor != claimedMinor {
		return false, failure.New(failure.AmountMismatch, "claimed amount %s does not match locked amount %s", claimedMinor, l.AmountMinor)
	}
	return false, nil
}
