package pricelock_test

import (
	"context"
	"testing"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"LootLedger/internal/failure"
	"LootLedger/internal/pricelock"
	"LootLedger/internal/testutil"
)

func newRedisRegistry(t *testing.T) *pricelock.Registry {
	t.Helper()
	testutil.RequireIntegration(t)

	client := redis.NewClient(&redis.Options{Addr: testutil.TestRedisAddr()})
	if err := client.Ping(context.Background()).Err(); err != nil {
		t.Skipf("redis not available: %v", err)
	}
	t.Cleanup(func() { client.Close() })
	return pricelock.NewRegistry(pricelock.NewRedisStore(client), zerolog.Nop(), pricelock.WithTTL(10*time.Minute))
}

func TestRedisStore_Lifecycle(t *testing.T) {
	r := newRedisRegistry(t)
	ctx := context.Background()
	s := pricelock.Subject{AssetID: "mint-" + uuid.NewString(), PrincipalID: "wallet"}

	mustLock(t, r, s, "100")
	if l := mustLock(t, r, s, "250"); l.Version != 2 {
		t.Errorf("version = %d, want 2", l.Version)
	}

	_, err := r.ValidateLockedPrice(ctx, s, "100")
	wantCode(t, err, failure.AmountMismatch)

	l, err := r.ValidateLockedPrice(ctx, s, "250")
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if !l.Used || l.AmountMinor != "250" {
		t.Errorf("lock = %+v", l)
	}

	_, err = r.ValidateLockedPrice(ctx, s, "250")
	wantCode(t, err, failure.LockAlreadyUsed)

	info, ok, err := r.LockInfo(ctx, s)
	if err != nil || !ok || !info.Used {
		t.Errorf("info = %+v ok=%v err=%v", info, ok, err)
	}

	client := redis.NewClient(&redis.Options{Addr: testutil.TestRedisAddr()})
	defer client.Close()
	ttl, err := client.PTTL(ctx, "loot:pricelock:"+s.Key()).Result()
	if err != nil {
		t.Fatal(err)
	}
	if ttl <= 0 || ttl > time.Minute {
		t.Errorf("used lock ttl = %s, want within a minute", ttl)
	}
}

func TestRedisStore_Missing(t *testing.T) {
	r := newRedisRegistry(t)
	s := pricelock.Subject{AssetID: "mint-" + uuid.NewString(), PrincipalID: "wallet"}

	_, err := r.ValidateLockedPrice(context.Background(), s, "1")
	wantCode(t, err, failure.LockNotFound)
}
