package txguard

import (
	"context"

	"LootLedger/internal/failure"
	"LootLedger/internal/retry"
)

// CommittedTransaction is the ledger's view of a submitted transaction.
type CommittedTransaction struct {
	SignatureID string
	Slot        uint64
	Failed      bool
	FeePayer    string
	AccountKeys []string
}

// LedgerReader fetches committed transactions. Implementations return a
// NOT_FOUND coded error while the signature is not yet visible.
type LedgerReader interface {
	FetchCommitted(ctx context.Context, signatureID string) (*CommittedTransaction, error)
}

// VerifyTransactionOnChain re-reads a submitted transaction from the ledger
// and checks it succeeded, was paid by the principal and touched the asset.
// A signature that stays invisible for the whole retry budget fails.
func (v *Validator) VerifyTransactionOnChain(ctx context.Context, signatureID, expectedAssetID, expectedPrincipalID string) (*CommittedTransaction, error) {
	if v.reader == nil || v.runner == nil {
		return nil, failure.New(failure.Internal, "ledger reader not configured")
	}

	committed, err := retry.DoValue(ctx, v.runner, "ledger_fetch_transaction", func(ctx context.Context) (*CommittedTransaction, error) {
		tx, err := v.reader.FetchCommitted(ctx, signatureID)
		if failure.Is(err, failure.NotFound) {
			// Not visible yet; keep polling within the budget.
			return nil, failure.Wrap(failure.ExternalTimeout, err, "signature not yet visible")
		}
		return tx, err
	})
	if err != nil {
		v.recordOnchain(string(failure.CodeOf(err)))
		return nil, err
	}

	switch {
	case committed.Failed:
		err = failure.New(failure.OnchainMismatch, "transaction failed on chain")
	case committed.FeePayer != expectedPrincipalID:
		err = failure.New(failure.OnchainMismatch, "fee payer %s is not principal %s", committed.FeePayer, expectedPrincipalID)
	case !contains(committed.AccountKeys, expectedAssetID):
		err = failure.New(failure.OnchainMismatch, "asset %s not referenced by transaction", expectedAssetID)
	}
	if err != nil {
		v.recordOnchain(string(failure.OnchainMismatch))
		v.logger.Warn().Err(err).Str("signature", signatureID).Msg("on-chain verification failed")
		return nil, err
	}
	v.recordOnchain("ok")
	return committed, nil
}

func (v *Validator) recordOnchain(result string) {
	if v.metrics != nil {
		v.metrics.OnchainVerifications.WithLabelValues(result).Inc()
	}
}

func contains(keys []string, want string) bool {
	for _, k := range keys {
		if k == want {
			return true
		}
	}
	return false
}
