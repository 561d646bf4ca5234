package event

import "time"

// PaymentConfirmed is the inbound proof that an entry fee was paid.
type PaymentConfirmed struct {
	PaymentRef  string    `json:"payment_ref"`
	Principal   string    `json:"principal_id"`
	OfferingID  string    `json:"offering_id"`
	ClientSeed  string    `json:"client_seed,omitempty"`
	AmountMinor string    `json:"amount_minor"`
	Currency    string    `json:"currency"`
	ConfirmedAt time.Time `json:"confirmed_at"`
}

func (p *PaymentConfirmed) IdempotencyKey() string { return p.PaymentRef }
func (p *PaymentConfirmed) EventType() EventType   { return EventTypePaymentConfirmed }
func (p *PaymentConfirmed) OutcomeID() string      { return "" }
func (p *PaymentConfirmed) PrincipalID() string    { return p.Principal }

// DrawOpened records a completed draw and its selected reward.
type DrawOpened struct {
	Outcome     string  `json:"outcome_id"`
	Principal   string  `json:"principal_id"`
	OfferingID  string  `json:"offering_id"`
	PaymentRef  string  `json:"payment_ref"`
	Seed        string  `json:"seed"`
	Timestamp   int64   `json:"timestamp"`
	Hash        string  `json:"hash"`
	Value       float64 `json:"value"`
	RewardID    string  `json:"reward_id"`
	Probability float64 `json:"probability"`
}

func (d *DrawOpened) IdempotencyKey() string { return "opened:" + d.Outcome }
func (d *DrawOpened) EventType() EventType   { return EventTypeDrawOpened }
func (d *DrawOpened) OutcomeID() string      { return d.Outcome }
func (d *DrawOpened) PrincipalID() string    { return d.Principal }

// BuybackQuoted records a price lock issued for an outcome.
type BuybackQuoted struct {
	Outcome     string    `json:"outcome_id"`
	Principal   string    `json:"principal_id"`
	AmountMinor string    `json:"amount_minor"`
	Currency    string    `json:"currency"`
	LockVersion uint64    `json:"lock_version"`
	ExpiresAt   time.Time `json:"expires_at"`
}

func (b *BuybackQuoted) IdempotencyKey() string {
	return "quoted:" + b.Outcome + ":" + b.ExpiresAt.UTC().Format(time.RFC3339Nano)
}
func (b *BuybackQuoted) EventType() EventType { return EventTypeBuybackQuoted }
func (b *BuybackQuoted) OutcomeID() string    { return b.Outcome }
func (b *BuybackQuoted) PrincipalID() string  { return b.Principal }

// RewardKept records a KEEP decision.
type RewardKept struct {
	Outcome     string `json:"outcome_id"`
	Principal   string `json:"principal_id"`
	RewardID    string `json:"reward_id"`
	TransferRef string `json:"transfer_ref,omitempty"`
}

func (r *RewardKept) IdempotencyKey() string { return "kept:" + r.Outcome }
func (r *RewardKept) EventType() EventType   { return EventTypeRewardKept }
func (r *RewardKept) OutcomeID() string      { return r.Outcome }
func (r *RewardKept) PrincipalID() string    { return r.Principal }

// RewardBoughtBack records a settled BUYBACK decision.
type RewardBoughtBack struct {
	Outcome     string `json:"outcome_id"`
	Principal   string `json:"principal_id"`
	RewardID    string `json:"reward_id"`
	AmountMinor string `json:"amount_minor"`
	Currency    string `json:"currency"`
	SignatureID string `json:"signature_id,omitempty"`
}

func (r *RewardBoughtBack) IdempotencyKey() string { return "bought_back:" + r.Outcome }
func (r *RewardBoughtBack) EventType() EventType   { return EventTypeRewardBoughtBack }
func (r *RewardBoughtBack) OutcomeID() string      { return r.Outcome }
func (r *RewardBoughtBack) PrincipalID() string    { return r.Principal }

// DecisionFailed records a decision attempt that left the outcome open.
type DecisionFailed struct {
	Outcome   string    `json:"outcome_id"`
	Principal string    `json:"principal_id"`
	Choice    string    `json:"choice"`
	Code      string    `json:"code"`
	Reason    string    `json:"reason"`
	At        time.Time `json:"at"`
}

func (d *DecisionFailed) IdempotencyKey() string {
	return "failed:" + d.Outcome + ":" + d.At.UTC().Format(time.RFC3339Nano)
}
func (d *DecisionFailed) EventType() EventType { return EventTypeDecisionFailed }
func (d *DecisionFailed) OutcomeID() string    { return d.Outcome }
func (d *DecisionFailed) PrincipalID() string  { return d.Principal }

// PayoutUnverified marks a bought-back outcome whose dispatched payout could
// not be confirmed on the ledger. Operators reconcile these by signature.
type PayoutUnverified struct {
	Outcome     string `json:"outcome_id"`
	Principal   string `json:"principal_id"`
	SignatureID string `json:"signature_id"`
	Code        string `json:"code"`
	Reason      string `json:"reason"`
}

func (p *PayoutUnverified) IdempotencyKey() string { return "unverified:" + p.Outcome }
func (p *PayoutUnverified) EventType() EventType   { return EventTypePayoutUnverified }
func (p *PayoutUnverified) OutcomeID() string      { return p.Outcome }
func (p *PayoutUnverified) PrincipalID() string    { return p.Principal }
