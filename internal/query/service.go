package query

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// QueryService provides read-only access to the audit log and journals.
type QueryService struct {
	db *sql.DB
}

func NewQueryService(db *sql.DB) *QueryService {
	return &QueryService{db: db}
}

// GetOutcomeEvents returns an outcome's audit trail in emission order.
func (qs *QueryService) GetOutcomeEvents(ctx context.Context, outcomeID string) ([]EventResponse, error) {
	rows, err := qs.db.QueryContext(ctx, `
		SELECT event_id, event_type, idempotency_key,
		       COALESCE(outcome_id, ''), COALESCE(principal_id, ''), payload, occurred_at
		FROM settlement_events
		WHERE outcome_id = $1
		ORDER BY occurred_at ASC
	`, outcomeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []EventResponse
	for rows.Next() {
		var e EventResponse
		var payload []byte
		if err := rows.Scan(
			&e.EventID, &e.EventType, &e.IdempotencyKey,
			&e.OutcomeID, &e.PrincipalID, &payload, &e.OccurredAt,
		); err != nil {
			return nil, err
		}
		e.Payload = payload
		events = append(events, e)
	}
	return events, rows.Err()
}

// GetJournalHistory returns journal entries touching an account prefix,
// newest first. afterTimestamp pages backwards.
func (qs *QueryService) GetJournalHistory(
	ctx context.Context,
	accountPrefix string,
	limit int,
	afterTimestamp *int64,
) ([]JournalHistoryEntry, error) {
	query := `
		SELECT journal_id, batch_id, event_ref, outcome_id,
		       debit_account, credit_account, currency, amount, journal_type, timestamp
		FROM settlement_journals
		WHERE (debit_account LIKE $1 OR credit_account LIKE $1)
	`
	args := []interface{}{accountPrefix + "%"}
	argIdx := 2

	if afterTimestamp != nil {
		query += fmt.Sprintf(" AND timestamp < $%d", argIdx)
		args = append(args, *afterTimestamp)
		argIdx++
	}

	query += " ORDER BY timestamp DESC"
	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, limit)

	rows, err := qs.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []JournalHistoryEntry
	for rows.Next() {
		var e JournalHistoryEntry
		if err := rows.Scan(
			&e.JournalID, &e.BatchID, &e.EventRef, &e.OutcomeID,
			&e.DebitAccount, &e.CreditAccount, &e.Currency, &e.Amount,
			&e.JournalType, &e.Timestamp,
		); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// GetTreasuryFlows sums entry fees and payouts per currency.
func (qs *QueryService) GetTreasuryFlows(ctx context.Context) ([]TreasuryFlow, error) {
	rows, err := qs.db.QueryContext(ctx, `
		SELECT currency,
		       COALESCE(SUM(amount) FILTER (WHERE journal_type = 'entry_fee'), 0),
		       COALESCE(SUM(amount) FILTER (WHERE journal_type = 'buyback_payout'), 0)
		FROM settlement_journals
		GROUP BY currency
		ORDER BY currency
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var flows []TreasuryFlow
	for rows.Next() {
		var f TreasuryFlow
		if err := rows.Scan(&f.Currency, &f.EntryFees, &f.Payouts); err != nil {
			return nil, err
		}
		f.NetRetained = f.EntryFees - f.Payouts
		flows = append(flows, f)
	}
	return flows, rows.Err()
}

// GetBalances returns projected balances for accounts under prefix.
func (qs *QueryService) GetBalances(ctx context.Context, accountPrefix string) ([]AccountBalance, error) {
	rows, err := qs.db.QueryContext(ctx, `
		SELECT account_path, currency, balance, updated_at
		FROM account_balances
		WHERE account_path LIKE $1
		ORDER BY account_path, currency
	`, accountPrefix+"%")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var balances []AccountBalance
	for rows.Next() {
		var b AccountBalance
		if err := rows.Scan(&b.AccountPath, &b.Currency, &b.Balance, &b.UpdatedAt); err != nil {
			return nil, err
		}
		balances = append(balances, b)
	}
	return balances, rows.Err()
}

// --- Admin APIs ---

// VerifyIntegrity reconciles settled outcomes against the journal.
func (qs *QueryService) VerifyIntegrity(ctx context.Context, staleAfter time.Duration) (*IntegrityReport, error) {
	report := &IntegrityReport{}

	missing, err := qs.collectIDs(ctx, `
		SELECT o.id::text
		FROM settlement_outcomes o
		LEFT JOIN settlement_journals j
		  ON j.outcome_id = o.id::text AND j.journal_type = 'buyback_payout'
		WHERE o.state = 'BOUGHT_BACK' AND o.settled_amount_minor <> '0' AND j.journal_id IS NULL
		LIMIT 100
	`)
	if err != nil {
		return nil, fmt.Errorf("missing journals: %w", err)
	}
	report.MissingPayoutJournals = missing

	mismatched, err := qs.collectIDs(ctx, `
		SELECT o.id::text
		FROM settlement_outcomes o
		JOIN settlement_journals j
		  ON j.outcome_id = o.id::text AND j.journal_type = 'buyback_payout'
		WHERE o.settled_amount_minor <> j.amount::text
		LIMIT 100
	`)
	if err != nil {
		return nil, fmt.Errorf("amount mismatches: %w", err)
	}
	report.AmountMismatches = mismatched

	stale, err := qs.collectIDs(ctx, `
		SELECT id::text
		FROM settlement_outcomes
		WHERE state = 'DECIDING' AND created_at < $1
		ORDER BY created_at
		LIMIT 100
	`, time.Now().Add(-staleAfter))
	if err != nil {
		return nil, fmt.Errorf("stale outcomes: %w", err)
	}
	report.StaleDeciding = stale

	report.IsHealthy = len(report.MissingPayoutJournals) == 0 && len(report.AmountMismatches) == 0
	return report, nil
}

// --- helpers ---

func (qs *QueryService) collectIDs(ctx context.Context, query string, args ...interface{}) ([]string, error) {
	rows, err := qs.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
