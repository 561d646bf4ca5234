// Package chain reads committed transactions from a Solana RPC node.
package chain

import (
	"context"
	"errors"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"LootLedger/internal/failure"
	"LootLedger/internal/txguard"
)

// Client is a rate-limited ledger reader.
type Client struct {
	rpc     *rpc.Client
	limiter *rate.Limiter
	logger  zerolog.Logger
}

// NewClient connects to endpoint. rps <= 0 disables client-side limiting.
func NewClient(endpoint string, rps float64, burst int, logger zerolog.Logger) *Client {
	limit := rate.Inf
	if rps > 0 {
		limit = rate.Limit(rps)
	}
	if burst < 1 {
		burst = 1
	}
	return &Client{
		rpc:     rpc.New(endpoint),
		limiter: rate.NewLimiter(limit, burst),
		logger:  logger,
	}
}

// Committed is the full read result, including balances for payment checks.
type Committed struct {
	txguard.CommittedTransaction
	PreBalances  []uint64
	PostBalances []uint64
}

// FetchCommitted implements txguard.LedgerReader.
func (c *Client) FetchCommitted(ctx context.Context, signatureID string) (*txguard.CommittedTransaction, error) {
	out, err := c.Fetch(ctx, signatureID)
	if err != nil {
		return nil, err
	}
	return &out.CommittedTransaction, nil
}

// Fetch checks the signature status and then loads the transaction.
func (c *Client) Fetch(ctx context.Context, signatureID string) (*Committed, error) {
	sig, err := solana.SignatureFromBase58(signatureID)
	if err != nil {
		return nil, failure.Wrap(failure.InputMalformed, err, "parse signature")
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	statuses, err := c.rpc.GetSignatureStatuses(ctx, true, sig)
	if err != nil {
		return nil, err
	}
	if statuses == nil || len(statuses.Value) == 0 || statuses.Value[0] == nil {
		return nil, failure.New(failure.NotFound, "signature not found")
	}
	if statuses.Value[0].Err != nil {
		c.logger.Info().Interface("err", statuses.Value[0].Err).Msg("signature status reports failure")
		return &Committed{CommittedTransaction: txguard.CommittedTransaction{
			SignatureID: signatureID,
			Slot:        statuses.Value[0].Slot,
			Failed:      true,
		}}, nil
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	maxVersion := uint64(0)
	res, err := c.rpc.GetTransaction(ctx, sig, &rpc.GetTransactionOpts{
		Encoding:                       solana.EncodingBase64,
		Commitment:                     rpc.CommitmentConfirmed,
		MaxSupportedTransactionVersion: &maxVersion,
	})
	if errors.Is(err, rpc.ErrNotFound) || (err == nil && (res == nil || res.Transaction == nil)) {
		return nil, failure.New(failure.NotFound, "transaction not found")
	}
	if err != nil {
		return nil, err
	}

	tx, err := res.Transaction.GetTransaction()
	if err != nil {
		return nil, failure.Wrap(failure.InputMalformed, err, "decode committed transaction")
	}

	out := &Committed{CommittedTransaction: txguard.CommittedTransaction{
		SignatureID: signatureID,
		Slot:        res.Slot,
	}}
	for _, key := range tx.Message.AccountKeys {
		out.AccountKeys = append(out.AccountKeys, key.String())
	}
	if len(out.AccountKeys) > 0 {
		out.FeePayer = out.AccountKeys[0]
	}
	if res.Meta != nil {
		out.Failed = res.Meta.Err != nil
		out.PreBalances = res.Meta.PreBalances
		out.PostBalances = res.Meta.PostBalances
		for _, key := range res.Meta.LoadedAddresses.Writable {
			out.AccountKeys = append(out.AccountKeys, key.String())
		}
		for _, key := range res.Meta.LoadedAddresses.ReadOnly {
			out.AccountKeys = append(out.AccountKeys, key.String())
		}
	}
	return out, nil
}

// BalanceDelta returns post-pre lamports for key, or false if key is not
// a static account of the transaction.
func (c *Committed) BalanceDelta(key string) (int64, bool) {
	for i, k := range c.AccountKeys {
		if k != key {
			continue
		}
		if i >= len(c.PreBalances) || i >= len(c.PostBalances) {
			return 0, false
		}
		return int64(c.PostBalances[i]) - int64(c.PreBalances[i]), true
	}
	return 0, false
}
