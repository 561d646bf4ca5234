package ledger

import (
	"strconv"
	"time"

	"github.com/google/uuid"

	"LootLedger/internal/failure"
)

// SettlementRef carries the outcome facts a journal needs.
type SettlementRef struct {
	OutcomeID   string
	PrincipalID string
	EventRef    string
	Currency    string
	AmountMinor string
	At          time.Time
}

// GenerateEntryFee records a confirmed entry payment.
// Moves funds: external:payments → system:treasury
func GenerateEntryFee(ref SettlementRef) (*Batch, error) {
	return single(ref, JournalTypeEntryFee,
		NewSystemAccountKey(SubTypeSystemTreasury, ref.Currency),
		NewExternalAccountKey(SubTypeExternalPayments, ref.Currency),
	)
}

// GenerateBuybackPayout records a settled buyback.
// Moves funds: system:treasury → external:payouts
func GenerateBuybackPayout(ref SettlementRef) (*Batch, error) {
	return single(ref, JournalTypeBuybackPayout,
		NewExternalAccountKey(SubTypeExternalPayouts, ref.Currency),
		NewSystemAccountKey(SubTypeSystemTreasury, ref.Currency),
	)
}

func single(ref SettlementRef, jt JournalType, debit, credit AccountKey) (*Batch, error) {
	amount, err := parseMinor(ref.AmountMinor)
	if err != nil {
		return nil, err
	}
	batchID := uuid.New()
	ts := ref.At.UnixMicro()

	batch := &Batch{
		BatchID:   batchID,
		EventRef:  ref.EventRef,
		Timestamp: ts,
		Journals: []Journal{{
			JournalID:     uuid.New(),
			BatchID:       batchID,
			EventRef:      ref.EventRef,
			OutcomeID:     ref.OutcomeID,
			DebitAccount:  debit,
			CreditAccount: credit,
			Currency:      ref.Currency,
			Amount:        amount,
			JournalType:   jt,
			Timestamp:     ts,
		}},
	}
	if err := batch.Validate(); err != nil {
		return nil, failure.Wrap(failure.Internal, err, "invalid %s batch", jt)
	}
	return batch, nil
}

func parseMinor(s string) (int64, error) {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		if ne, ok := err.(*strconv.NumError); ok && ne.Err == strconv.ErrRange {
			return 0, failure.New(failure.ArithmeticOverflow, "minor amount %s exceeds journal range", s)
		}
		return 0, failure.Wrap(failure.InputMalformed, err, "minor amount %q", s)
	}
	return n, nil
}
