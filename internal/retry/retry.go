// Package retry bounds every outbound call with a per-attempt timeout and a
// fixed attempt budget spaced by jittered exponential backoff.
package retry

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"LootLedger/internal/failure"
	"LootLedger/internal/observability"
)

// Policy is the retry budget for one class of call.
type Policy struct {
	Attempts        int
	AttemptTimeout  time.Duration
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Multiplier      float64
	Jitter          float64 // backoff randomization factor, 0..1
}

// DefaultPolicy suits ledger RPC and payment dispatch.
func DefaultPolicy() Policy {
	return Policy{
		Attempts:        4,
		AttemptTimeout:  5 * time.Second,
		InitialInterval: 200 * time.Millisecond,
		MaxInterval:     5 * time.Second,
		Multiplier:      2,
		Jitter:          0.5,
	}
}

// Runner executes calls under a Policy.
type Runner struct {
	policy  Policy
	logger  zerolog.Logger
	metrics *observability.Metrics
}

// NewRunner creates a runner. metrics may be nil.
func NewRunner(policy Policy, logger zerolog.Logger, metrics *observability.Metrics) *Runner {
	if policy.Attempts < 1 {
		policy.Attempts = 1
	}
	return &Runner{policy: policy, logger: logger, metrics: metrics}
}

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	return backoff.Permanent(err)
}

// Do runs op until it succeeds, returns a permanent error, or the budget is
// spent. Each attempt gets its own deadline. Exhausted budgets surface as
// EXTERNAL_TIMEOUT when the last attempt timed out and EXTERNAL_FAILURE
// otherwise; coded errors from op pass through unchanged.
func (r *Runner) Do(ctx context.Context, call string, op func(ctx context.Context) error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = r.policy.InitialInterval
	b.MaxInterval = r.policy.MaxInterval
	b.Multiplier = r.policy.Multiplier
	b.RandomizationFactor = r.policy.Jitter
	b.MaxElapsedTime = 0

	bo := backoff.WithContext(backoff.WithMaxRetries(b, uint64(r.policy.Attempts-1)), ctx)

	var lastErr error
	attempt := 0
	err := backoff.RetryNotify(func() error {
		attempt++
		attemptCtx, cancel := r.attemptContext(ctx)
		defer cancel()

		start := time.Now()
		err := op(attemptCtx)
		if r.metrics != nil {
			r.metrics.ExternalCallDuration.WithLabelValues(call).Observe(time.Since(start).Seconds())
		}
		if err == nil {
			return nil
		}
		lastErr = err
		if isPermanent(err) {
			return backoff.Permanent(err)
		}
		return err
	}, bo, func(err error, wait time.Duration) {
		if r.metrics != nil {
			r.metrics.ExternalCallRetries.WithLabelValues(call).Inc()
		}
		r.logger.Warn().
			Err(err).
			Str("call", call).
			Int("attempt", attempt).
			Dur("backoff", wait).
			Msg("external call failed, retrying")
	})
	if err == nil {
		return nil
	}

	if lastErr == nil {
		lastErr = err
	}
	var perm *backoff.PermanentError
	if errors.As(lastErr, &perm) {
		lastErr = perm.Err
	}
	if isPermanent(lastErr) {
		return lastErr
	}

	if r.metrics != nil {
		r.metrics.ExternalCallFailures.WithLabelValues(call).Inc()
	}
	if failure.CodeOf(lastErr) != failure.Internal {
		return lastErr
	}
	if errors.Is(lastErr, context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return failure.Wrap(failure.ExternalTimeout, lastErr, "%s timed out after %d attempts", call, attempt)
	}
	return failure.Wrap(failure.ExternalFailure, lastErr, "%s failed after %d attempts", call, attempt)
}

func (r *Runner) attemptContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if r.policy.AttemptTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, r.policy.AttemptTimeout)
}

// isPermanent reports errors that a retry cannot fix: explicit permanent
// wrappers and coded errors whose hint is not a plain retry.
func isPermanent(err error) bool {
	var perm *backoff.PermanentError
	if errors.As(err, &perm) {
		return true
	}
	code := failure.CodeOf(err)
	if code == failure.Internal {
		return false
	}
	return code.Hint() != failure.HintRetry
}

// DoValue is Do for calls that return a value.
func DoValue[T any](ctx context.Context, r *Runner, call string, op func(ctx context.Context) (T, error)) (T, error) {
	var out T
	err := r.Do(ctx, call, func(ctx context.Context) error {
		v, err := op(ctx)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, err
}
