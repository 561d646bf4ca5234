package query_test

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"LootLedger/internal/query"
)

func newTestService(t *testing.T) (*query.QueryService, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	return query.NewQueryService(db), mock
}

// ============================================================================
// Test: Audit trail
// ============================================================================

func TestGetOutcomeEvents(t *testing.T) {
	qs, mock := newTestService(t)
	at := time.Unix(1700000000, 0).UTC()
	mock.ExpectQuery("FROM settlement_events").
		WithArgs("o-1").
		WillReturnRows(sqlmock.NewRows([]string{"event_id", "event_type", "key", "outcome_id", "principal_id", "payload", "occurred_at"}).
			AddRow("e-1", "DrawOpened", "opened:o-1", "o-1", "wallet1", []byte(`{"outcome_id":"o-1"}`), at).
			AddRow("e-2", "RewardKept", "kept:o-1", "o-1", "wallet1", []byte(`{}`), at.Add(time.Second)))

	events, err := qs.GetOutcomeEvents(context.Background(), "o-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 2 {
		t.Fatalf("events = %d", len(events))
	}
	if events[0].EventType != "DrawOpened" || string(events[0].Payload) != `{"outcome_id":"o-1"}` {
		t.Errorf("first = %+v", events[0])
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

// ============================================================================
// Test: Journals
// ============================================================================

var journalCols = []string{
	"journal_id", "batch_id", "event_ref", "outcome_id", "debit", "credit",
	"currency", "amount", "journal_type", "timestamp",
}

func TestGetJournalHistory_Paging(t *testing.T) {
	qs, mock := newTestService(t)
	before := int64(1700000000000000)
	mock.ExpectQuery(`timestamp < \$2.*LIMIT \$3`).
		WithArgs("system:treasury:%", before, 50).
		WillReturnRows(sqlmock.NewRows(journalCols).
			AddRow("j-1", "b-1", "bought_back:o-1", "o-1", "external:payouts:USDC", "system:treasury:USDC",
				"USDC", int64(4250000), "buyback_payout", before-1))

	entries, err := qs.GetJournalHistory(context.Background(), "system:treasury", 50, &before)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].Amount != 4250000 {
		t.Errorf("entries = %+v", entries)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestGetJournalHistory_FirstPage(t *testing.T) {
	qs, mock := newTestService(t)
	mock.ExpectQuery(`ORDER BY timestamp DESC LIMIT \$2`).
		WithArgs("user:wallet1%", 10).
		WillReturnRows(sqlmock.NewRows(journalCols))

	entries, err := qs.GetJournalHistory(context.Background(), "user:wallet1", 10, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Errorf("entries = %d", len(entries))
	}
}

func TestGetTreasuryFlows(t *testing.T) {
	qs, mock := newTestService(t)
	mock.ExpectQuery("GROUP BY currency").
		WillReturnRows(sqlmock.NewRows([]string{"currency", "entry", "payout"}).
			AddRow("SOL", int64(1000), int64(0)).
			AddRow("USDC", int64(5000000), int64(4250000)))

	flows, err := qs.GetTreasuryFlows(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(flows) != 2 {
		t.Fatalf("flows = %d", len(flows))
	}
	if flows[1].NetRetained != 750000 {
		t.Errorf("USDC net = %d", flows[1].NetRetained)
	}
}

// ============================================================================
// Test: Integrity
// ============================================================================

func TestVerifyIntegrity(t *testing.T) {
	qs, mock := newTestService(t)
	ids := func(v ...string) *sqlmock.Rows {
		rows := sqlmock.NewRows([]string{"id"})
		for _, id := range v {
			rows.AddRow(id)
		}
		return rows
	}
	mock.ExpectQuery("LEFT JOIN settlement_journals").WillReturnRows(ids())
	mock.ExpectQuery("settled_amount_minor <> j.amount").WillReturnRows(ids())
	mock.ExpectQuery("state = 'DECIDING'").WithArgs(sqlmock.AnyArg()).WillReturnRows(ids("o-9"))

	report, err := qs.VerifyIntegrity(context.Background(), time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	// Stale outcomes are reported but do not mark the ledger unhealthy.
	if !report.IsHealthy {
		t.Error("report should be healthy")
	}
	if len(report.StaleDeciding) != 1 || report.StaleDeciding[0] != "o-9" {
		t.Errorf("stale = %v", report.StaleDeciding)
	}
}

func TestVerifyIntegrity_MissingJournal(t *testing.T) {
	qs, mock := newTestService(t)
	mock.ExpectQuery("LEFT JOIN settlement_journals").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("o-1"))
	mock.ExpectQuery("settled_amount_minor <> j.amount").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectQuery("state = 'DECIDING'").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	report, err := qs.VerifyIntegrity(context.Background(), time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	if report.IsHealthy {
		t.Error("missing payout journal should be unhealthy")
	}
}

func TestGetBalances(t *testing.T) {
	qs, mock := newTestService(t)
	at := time.Unix(1700000000, 0).UTC()
	mock.ExpectQuery("FROM account_balances").
		WithArgs("system:%").
		WillReturnRows(sqlmock.NewRows([]string{"account_path", "currency", "balance", "updated_at"}).
			AddRow("system:treasury:USDC", "USDC", int64(750000), at))

	balances, err := qs.GetBalances(context.Background(), "system:")
	if err != nil {
		t.Fatal(err)
	}
	if len(balances) != 1 || balances[0].Balance != 750000 {
		t.Errorf("balances = %+v", balances)
	}
}
