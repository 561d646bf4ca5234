package core

import (
	"context"
)

// Catalog resolves offerings.
type Catalog interface {
	Offering(ctx context.Context, id string) (Offering, error)
}

// PaymentProof identifies an entry payment to confirm.
type PaymentProof struct {
	Reference   string
	PrincipalID string
	AmountMinor string
	Currency    string
}

// PaymentVerifier confirms an entry payment before a draw is made.
type PaymentVerifier interface {
	VerifyPayment(ctx context.Context, proof PaymentProof) error
}

// Transfer asks the inventory side to deliver a reward.
type Transfer struct {
	OutcomeID   string
	PrincipalID string
	Reward      Reward
}

// RewardTransferer is the inventory collaborator.
type RewardTransferer interface {
	// TransferReward delivers the reward to the principal and returns an
	// external reference for the transfer.
	TransferReward(ctx context.Context, t Transfer) (string, error)
	// MarkSold retires the reward instance after a buyback.
	MarkSold(ctx context.Context, t Transfer) error
}

// Payout is a buyback payment to dispatch.
type Payout struct {
	OutcomeID         string
	PrincipalID       string
	AmountMinor       string
	Currency          string
	SignedTransaction string // optional user-signed transaction to submit
}

// Receipt acknowledges a dispatched payout.
type Receipt struct {
	SignatureID string
}

// PaymentDispatcher sends buyback payouts to the ledger.
type PaymentDispatcher interface {
	DispatchPayout(ctx context.Context, p Payout) (Receipt, error)
}

// OutcomeStore persists outcomes.
type OutcomeStore interface {
	// Create inserts o. If an outcome with the same payment reference
	// exists, that outcome is returned instead and created is false.
	Create(ctx context.Context, o *Outcome) (stored *Outcome, created bool, err error)
	Get(ctx context.Context, id string) (*Outcome, error)
	GetByPaymentRef(ctx context.Context, ref string) (*Outcome, error)
	// Settle moves a DECIDING outcome to a terminal state. It fails with
	// DECISION_ALREADY_MADE if the outcome is no longer DECIDING.
	Settle(ctx context.Context, id string, s Settlement) error
	ListByPrincipal(ctx context.Context, principalID string, limit int) ([]*Outcome, error)
}
