package chain

import (
	"context"
	"strconv"

	"github.com/rs/zerolog"

	"LootLedger/internal/core"
	"LootLedger/internal/failure"
	"LootLedger/internal/money"
	"LootLedger/internal/retry"
)

// PaymentVerifier confirms that a draw's entry payment landed on chain.
// The payment reference is the payment transaction's signature.
type PaymentVerifier struct {
	client   *Client
	treasury string
	runner   *retry.Runner
	logger   zerolog.Logger
}

// NewPaymentVerifier creates a verifier. An empty treasury skips the
// balance check.
func NewPaymentVerifier(client *Client, treasury string, runner *retry.Runner, logger zerolog.Logger) *PaymentVerifier {
	return &PaymentVerifier{client: client, treasury: treasury, runner: runner, logger: logger}
}

// VerifyPayment implements core.PaymentVerifier.
func (p *PaymentVerifier) VerifyPayment(ctx context.Context, proof core.PaymentProof) error {
	committed, err := retry.DoValue(ctx, p.runner, "ledger_fetch_payment", func(ctx context.Context) (*Committed, error) {
		c, err := p.client.Fetch(ctx, proof.Reference)
		if failure.Is(err, failure.NotFound) {
			return nil, failure.Wrap(failure.ExternalTimeout, err, "payment not yet visible")
		}
		return c, err
	})
	if err != nil {
		return failure.Wrap(failure.PaymentUnverified, err, "fetch payment %s", proof.Reference)
	}
	if committed.Failed {
		return failure.New(failure.PaymentUnverified, "payment transaction failed on chain")
	}
	if committed.FeePayer != proof.PrincipalID {
		return failure.New(failure.PaymentUnverified, "payment made by %s, not %s", committed.FeePayer, proof.PrincipalID)
	}
	if p.treasury == "" || proof.Currency != money.SOL.Symbol {
		return nil
	}

	delta, ok := committed.BalanceDelta(p.treasury)
	if !ok {
		return failure.New(failure.PaymentUnverified, "treasury not credited by payment")
	}
	expected, err := strconv.ParseInt(proof.AmountMinor, 10, 64)
	if err != nil {
		return failure.Wrap(failure.InputMalformed, err, "expected payment amount")
	}
	if delta < expected {
		p.logger.Warn().
			Int64("received", delta).
			Int64("expected", expected).
			Str("reference", proof.Reference).
			Msg("underpaid entry")
		return failure.New(failure.PaymentUnverified, "treasury received %d, expected %d", delta, expected)
	}
	return nil
}
