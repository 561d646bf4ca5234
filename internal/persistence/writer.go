package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"LootLedger/internal/core"
)

// execer is satisfied by *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// EventRow is a row in settlement_events.
type EventRow struct {
	EventID        string
	EventType      string
	IdempotencyKey string
	OutcomeID      *string
	PrincipalID    *string
	Payload        []byte
	OccurredAt     time.Time
}

// JournalRow is a row in settlement_journals.
type JournalRow struct {
	JournalID     string
	BatchID       string
	EventRef      string
	OutcomeID     string
	DebitAccount  string
	CreditAccount string
	Currency      string
	Amount        int64
	JournalType   string
	Timestamp     int64
}

// RowsFromOutput flattens one orchestrator output into table rows.
func RowsFromOutput(out core.CoreOutput) (EventRow, []JournalRow) {
	env := out.Envelope
	row := EventRow{
		EventID:        env.EventID.String(),
		EventType:      env.EventType.String(),
		IdempotencyKey: env.IdempotencyKey,
		OutcomeID:      nullable(env.OutcomeID),
		PrincipalID:    nullable(env.PrincipalID),
		Payload:        env.Payload,
		OccurredAt:     env.OccurredAt,
	}
	if out.Batch == nil {
		return row, nil
	}
	journals := make([]JournalRow, 0, len(out.Batch.Journals))
	for _, j := range out.Batch.Journals {
		journals = append(journals, JournalRow{
			JournalID:     j.JournalID.String(),
			BatchID:       j.BatchID.String(),
			EventRef:      j.EventRef,
			OutcomeID:     j.OutcomeID,
			DebitAccount:  j.DebitAccount.AccountPath(),
			CreditAccount: j.CreditAccount.AccountPath(),
			Currency:      j.Currency,
			Amount:        j.Amount,
			JournalType:   j.JournalType.String(),
			Timestamp:     j.Timestamp,
		})
	}
	return row, journals
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// WriteEventBatch writes events with one multi-row INSERT. Rows whose
// (event_type, idempotency_key) already exist are skipped.
func WriteEventBatch(ctx context.Context, db execer, events []EventRow) error {
	if len(events) == 0 {
		return nil
	}

	const cols = 7
	values := make([]string, 0, len(events))
	args := make([]interface{}, 0, len(events)*cols)
	for i, e := range events {
		values = append(values, placeholders(i*cols, cols))
		args = append(args,
			e.EventID, e.EventType, e.IdempotencyKey, e.OutcomeID,
			e.PrincipalID, e.Payload, e.OccurredAt,
		)
	}

	query := `INSERT INTO settlement_events
		(event_id, event_type, idempotency_key, outcome_id, principal_id, payload, occurred_at)
		VALUES ` + strings.Join(values, ", ") +
		` ON CONFLICT (event_type, idempotency_key) DO NOTHING`

	_, err := db.ExecContext(ctx, query, args...)
	return err
}

// WriteJournalBatch writes journal entries with one multi-row INSERT.
func WriteJournalBatch(ctx context.Context, db execer, journals []JournalRow) error {
	if len(journals) == 0 {
		return nil
	}

	const cols = 10
	values := make([]string, 0, len(journals))
	args := make([]interface{}, 0, len(journals)*cols)
	for i, j := range journals {
		values = append(values, placeholders(i*cols, cols))
		args = append(args,
			j.JournalID, j.BatchID, j.EventRef, j.OutcomeID,
			j.DebitAccount, j.CreditAccount, j.Currency, j.Amount,
			j.JournalType, j.Timestamp,
		)
	}

	query := `INSERT INTO settlement_journals
		(journal_id, batch_id, event_ref, outcome_id, debit_account, credit_account, currency, amount, journal_type, timestamp)
		VALUES ` + strings.Join(values, ", ") +
		` ON CONFLICT (journal_id) DO NOTHING`

	_, err := db.ExecContext(ctx, query, args...)
	return err
}

// placeholders returns "($base+1, ..., $base+n)".
func placeholders(base, n int) string {
	var b strings.Builder
	b.WriteByte('(')
	for k := 1; k <= n; k++ {
		if k > 1 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "$%d", base+k)
	}
	b.WriteByte(')')
	return b.String()
}
