package chain

import (
	"context"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/rs/zerolog"

	"LootLedger/internal/core"
	"LootLedger/internal/failure"
	"LootLedger/internal/observability"
)

// Submit sends a fully signed transaction and returns its signature.
// Resubmitting the same transaction yields the same signature.
func (c *Client) Submit(ctx context.Context, tx *solana.Transaction) (string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", err
	}
	sig, err := c.rpc.SendTransactionWithOpts(ctx, tx, rpc.TransactionOpts{
		PreflightCommitment: rpc.CommitmentConfirmed,
	})
	if err != nil {
		return "", err
	}
	return sig.String(), nil
}

// Dispatcher submits user-signed payout transactions to the ledger and
// hands unsigned payouts to next.
type Dispatcher struct {
	client *Client
	next   core.PaymentDispatcher
	logger zerolog.Logger
}

// NewDispatcher creates a dispatcher. next may be nil, in which case
// unsigned payouts are rejected.
func NewDispatcher(client *Client, next core.PaymentDispatcher, logger zerolog.Logger) *Dispatcher {
	return &Dispatcher{client: client, next: next, logger: logger}
}

// DispatchPayout implements core.PaymentDispatcher.
func (d *Dispatcher) DispatchPayout(ctx context.Context, p core.Payout) (core.Receipt, error) {
	if p.SignedTransaction == "" {
		if d.next == nil {
			return core.Receipt{}, failure.New(failure.InputMalformed, "payout for %s needs a signed transaction", p.OutcomeID)
		}
		return d.next.DispatchPayout(ctx, p)
	}

	tx, err := solana.TransactionFromBase64(p.SignedTransaction)
	if err != nil {
		return core.Receipt{}, failure.Wrap(failure.InputMalformed, err, "decode payout transaction")
	}
	sig, err := d.client.Submit(ctx, tx)
	if err != nil {
		return core.Receipt{}, err
	}
	d.logger.Info().
		Str("outcome_id", p.OutcomeID).
		Str("signature", observability.ShortID(sig)).
		Msg("payout submitted")
	return core.Receipt{SignatureID: sig}, nil
}
