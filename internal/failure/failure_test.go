package failure_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"LootLedger/internal/failure"
)

func TestCodeOf_WrappedChain(t *testing.T) {
	base := failure.New(failure.LockExpired, "lock %s expired", "sol:abc")
	wrapped := fmt.Errorf("decide: %w", base)

	if got := failure.CodeOf(wrapped); got != failure.LockExpired {
		t.Errorf("got %q, want %q", got, failure.LockExpired)
	}
	if !failure.Is(wrapped, failure.LockExpired) {
		t.Error("Is should find LOCK_EXPIRED through fmt wrapping")
	}
	if failure.Is(wrapped, failure.LockNotFound) {
		t.Error("Is should not match a different code")
	}
}

func TestIs_InnerCode(t *testing.T) {
	inner := failure.New(failure.ExternalTimeout, "rpc deadline")
	outer := failure.Wrap(failure.PaymentUnverified, inner, "payment %s", "ref-1")

	if failure.CodeOf(outer) != failure.PaymentUnverified {
		t.Errorf("outer code = %q", failure.CodeOf(outer))
	}
	if !failure.Is(outer, failure.ExternalTimeout) {
		t.Error("inner code should be reachable")
	}
}

func TestWrap_NilCause(t *testing.T) {
	if err := failure.Wrap(failure.Internal, nil, "nothing"); err != nil {
		t.Errorf("expected nil, got %v", err)
	}
}

func TestWrap_PreservesSentinel(t *testing.T) {
	err := failure.Wrap(failure.ExternalTimeout, context.DeadlineExceeded, "dispatch")
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Error("errors.Is should see the wrapped cause")
	}
}

func TestCodeOf_Uncoded(t *testing.T) {
	if got := failure.CodeOf(errors.New("plain")); got != failure.Internal {
		t.Errorf("got %q, want INTERNAL", got)
	}
	if got := failure.CodeOf(nil); got != "" {
		t.Errorf("nil error should have empty code, got %q", got)
	}
}

func TestHints(t *testing.T) {
	tests := []struct {
		code failure.Code
		want failure.Hint
	}{
		{failure.LockExpired, failure.HintRecompute},
		{failure.AmountMismatch, failure.HintRecompute},
		{failure.ExternalTimeout, failure.HintRetry},
		{failure.ReplayDetected, failure.HintAbandon},
		{failure.InputMalformed, failure.HintAbandon},
	}
	for _, tt := range tests {
		if got := tt.code.Hint(); got != tt.want {
			t.Errorf("%s: got %q, want %q", tt.code, got, tt.want)
		}
	}
}
