package core

import (
	"time"

	"github.com/shopspring/decimal"

	"LootLedger/internal/fairness"
)

// State is a settlement outcome's lifecycle position.
type State string

const (
	StateOpened     State = "OPENED"
	StateDeciding   State = "DECIDING"
	StateKept       State = "KEPT"
	StateBoughtBack State = "BOUGHT_BACK"
)

// Terminal reports whether no further decision is allowed.
func (s State) Terminal() bool {
	return s == StateKept || s == StateBoughtBack
}

// Choice is the principal's decision on a drawn reward.
type Choice string

const (
	ChoiceKeep    Choice = "KEEP"
	ChoiceBuyback Choice = "BUYBACK"
)

// Reward is one entry of an offering's pool.
type Reward struct {
	ID          string `json:"id" yaml:"id"`
	Name        string `json:"name" yaml:"name"`
	AssetID     string `json:"asset_id" yaml:"asset_id"`
	Rarity      string `json:"rarity,omitempty" yaml:"rarity"`
	Weight      int64  `json:"weight" yaml:"weight"`
	MarketValue string `json:"market_value,omitempty" yaml:"market_value"`
}

// Offering is a purchasable loot box.
type Offering struct {
	ID             string
	Name           string
	EntryPrice     decimal.Decimal
	Currency       string
	BuybackPercent decimal.Decimal
	Pool           []Reward
}

// Entries converts the pool for weighted selection.
func (o Offering) Entries() []fairness.Entry[Reward] {
	entries := make([]fairness.Entry[Reward], len(o.Pool))
	for i, r := range o.Pool {
		entries[i] = fairness.Entry[Reward]{ID: r.ID, Weight: r.Weight, Payload: r}
	}
	return entries
}

// Outcome is the persisted record of one paid draw.
type Outcome struct {
	ID          string `json:"id"`
	OfferingID  string `json:"offering_id"`
	PrincipalID string `json:"principal_id"`
	PaymentRef  string `json:"payment_ref"`
	State       State  `json:"state"`

	Draw        fairness.Draw `json:"draw"`
	Reward      Reward        `json:"reward"`
	RewardIndex int           `json:"reward_index"`
	Probability float64       `json:"probability"`

	// Terms captured at open so later catalog edits cannot change them.
	EntryPrice     decimal.Decimal `json:"entry_price"`
	Currency       string          `json:"currency"`
	BuybackPercent decimal.Decimal `json:"buyback_percent"`

	Decision            Choice `json:"decision,omitempty"`
	SettledAmountMinor  string `json:"settled_amount_minor,omitempty"`
	SettlementSignature string `json:"settlement_signature,omitempty"`

	CreatedAt time.Time  `json:"created_at"`
	DecidedAt *time.Time `json:"decided_at,omitempty"`
}

// LockAssetID is the price-lock asset key for this outcome's reward
// instance. The catalog asset id alone is shared by every draw of the
// same reward, so the outcome id scopes it.
func (o *Outcome) LockAssetID() string {
	return o.Reward.AssetID + "/" + o.ID
}

// Settlement is the terminal write for an outcome.
type Settlement struct {
	State       State
	Decision    Choice
	AmountMinor string
	Signature   string
	DecidedAt   time.Time
}

// Quote is a locked buyback offer.
type Quote struct {
	OutcomeID   string    `json:"outcome_id"`
	Amount      string    `json:"amount"`
	AmountMinor string    `json:"amount_minor"`
	Currency    string    `json:"currency"`
	LockID      string    `json:"lock_id"`
	LockVersion uint64    `json:"lock_version"`
	ExpiresAt   time.Time `json:"expires_at"`
}
