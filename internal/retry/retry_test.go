package retry_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"LootLedger/internal/failure"
	"LootLedger/internal/observability"
	"LootLedger/internal/retry"
)

func fastPolicy(attempts int) retry.Policy {
	return retry.Policy{
		Attempts:        attempts,
		AttemptTimeout:  20 * time.Millisecond,
		InitialInterval: time.Millisecond,
		MaxInterval:     2 * time.Millisecond,
		Multiplier:      2,
		Jitter:          0.5,
	}
}

func newTestRunner(attempts int) *retry.Runner {
	return retry.NewRunner(fastPolicy(attempts), zerolog.Nop(), observability.NewMetricsWith(prometheus.NewRegistry()))
}

func TestDo_SucceedsAfterTransientFailures(t *testing.T) {
	r := newTestRunner(4)
	calls := 0
	err := r.Do(context.Background(), "test", func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("connection reset")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestDo_BudgetExhausted(t *testing.T) {
	r := newTestRunner(3)
	calls := 0
	err := r.Do(context.Background(), "test", func(ctx context.Context) error {
		calls++
		return errors.New("503")
	})
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
	if failure.CodeOf(err) != failure.ExternalFailure {
		t.Errorf("got %v, want EXTERNAL_FAILURE", err)
	}
}

func TestDo_AttemptTimeout(t *testing.T) {
	r := newTestRunner(2)
	err := r.Do(context.Background(), "slow", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	if failure.CodeOf(err) != failure.ExternalTimeout {
		t.Errorf("got %v, want EXTERNAL_TIMEOUT", err)
	}
}

func TestDo_CodedErrorsStopImmediately(t *testing.T) {
	r := newTestRunner(5)
	calls := 0
	err := r.Do(context.Background(), "test", func(ctx context.Context) error {
		calls++
		return failure.New(failure.OnchainMismatch, "fee payer differs")
	})
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
	if failure.CodeOf(err) != failure.OnchainMismatch {
		t.Errorf("got %v", err)
	}
}

func TestDo_PermanentWrapper(t *testing.T) {
	r := newTestRunner(5)
	sentinel := errors.New("bad request")
	calls := 0
	err := r.Do(context.Background(), "test", func(ctx context.Context) error {
		calls++
		return retry.Permanent(sentinel)
	})
	if calls != 1 || !errors.Is(err, sentinel) {
		t.Errorf("calls = %d, err = %v", calls, err)
	}
}

func TestDo_ParentCancelled(t *testing.T) {
	r := newTestRunner(5)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := r.Do(ctx, "test", func(ctx context.Context) error {
		return ctx.Err()
	})
	if err == nil {
		t.Fatal("expected error on cancelled context")
	}
}

func TestDoValue(t *testing.T) {
	r := newTestRunner(2)
	calls := 0
	v, err := retry.DoValue(context.Background(), r, "test", func(ctx context.Context) (string, error) {
		calls++
		if calls == 1 {
			return "", errors.New("flaky")
		}
		return "sig-1", nil
	})
	if err != nil || v != "sig-1" {
		t.Errorf("got %q, %v", v, err)
	}
}
