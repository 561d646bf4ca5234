package query

import (
	"encoding/json"
	"time"
)

// EventResponse is one audit log entry.
type EventResponse struct {
	EventID        string          `json:"event_id"`
	EventType      string          `json:"event_type"`
	IdempotencyKey string          `json:"idempotency_key"`
	OutcomeID      string          `json:"outcome_id,omitempty"`
	PrincipalID    string          `json:"principal_id,omitempty"`
	Payload        json.RawMessage `json:"payload"`
	OccurredAt     time.Time       `json:"occurred_at"`
}

// JournalHistoryEntry represents a journal entry for API queries.
type JournalHistoryEntry struct {
	JournalID     string `json:"journal_id"`
	BatchID       string `json:"batch_id"`
	EventRef      string `json:"event_ref"`
	OutcomeID     string `json:"outcome_id"`
	DebitAccount  string `json:"debit_account"`
	CreditAccount string `json:"credit_account"`
	Currency      string `json:"currency"`
	Amount        int64  `json:"amount"`
	JournalType   string `json:"journal_type"`
	Timestamp     int64  `json:"timestamp"`
}

// TreasuryFlow sums journal movements through the treasury per currency.
type TreasuryFlow struct {
	Currency    string `json:"currency"`
	EntryFees   int64  `json:"entry_fees"`
	Payouts     int64  `json:"payouts"`
	NetRetained int64  `json:"net_retained"`
}

// IntegrityReport is the result of a reconciliation pass.
type IntegrityReport struct {
	IsHealthy bool `json:"is_healthy"`
	// Bought-back outcomes with no payout journal.
	MissingPayoutJournals []string `json:"missing_payout_journals,omitempty"`
	// Outcomes still DECIDING past the stale threshold.
	StaleDeciding []string `json:"stale_deciding,omitempty"`
	// Settled amounts that disagree with their payout journal.
	AmountMismatches []string `json:"amount_mismatches,omitempty"`
}

// AccountBalance is one row of the balance projection.
type AccountBalance struct {
	AccountPath string    `json:"account_path"`
	Currency    string    `json:"currency"`
	Balance     int64     `json:"balance"`
	UpdatedAt   time.Time `json:"updated_at"`
}
