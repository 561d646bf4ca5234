package projection_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/rs/zerolog"

	"LootLedger/internal/core"
	"LootLedger/internal/ledger"
	"LootLedger/internal/projection"
)

func mustPayoutBatch(t *testing.T) *ledger.Batch {
	t.Helper()
	batch, err := ledger.GenerateBuybackPayout(ledger.SettlementRef{
		OutcomeID:   "o-1",
		PrincipalID: "wallet1",
		EventRef:    "bought_back:o-1",
		Currency:    "USDC",
		AmountMinor: "4250000",
		At:          time.Unix(1700000000, 0),
	})
	if err != nil {
		t.Fatal(err)
	}
	return batch
}

func newTestWorker(t *testing.T, ch <-chan core.CoreOutput) (*projection.ProjectionWorker, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	return projection.NewProjectionWorker(db, ch, zerolog.Nop(), nil), mock
}

// ============================================================================
// Test: Apply
// ============================================================================

func TestApply_MovesBalances(t *testing.T) {
	pw, mock := newTestWorker(t, nil)
	batch := mustPayoutBatch(t)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO projection_batches").
		WithArgs(batch.BatchID.String()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("balance = account_balances.balance \\+ \\$3").
		WithArgs("external:payouts:USDC", "USDC", int64(4250000)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("balance = account_balances.balance - \\$3").
		WithArgs("system:treasury:USDC", "USDC", int64(4250000)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	applied, err := pw.Apply(context.Background(), batch)
	if err != nil || !applied {
		t.Fatalf("Apply = %v, %v", applied, err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestApply_SkipsSeenBatch(t *testing.T) {
	pw, mock := newTestWorker(t, nil)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO projection_batches").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	applied, err := pw.Apply(context.Background(), mustPayoutBatch(t))
	if err != nil || applied {
		t.Fatalf("Apply = %v, %v", applied, err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestRun_ContinuesAfterError(t *testing.T) {
	ch := make(chan core.CoreOutput, 2)
	pw, mock := newTestWorker(t, ch)

	mock.ExpectBegin().WillReturnError(errors.New("connection reset"))
	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO projection_batches").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	ch <- core.CoreOutput{Batch: mustPayoutBatch(t)}
	ch <- core.CoreOutput{Batch: mustPayoutBatch(t)}
	close(ch)

	if err := pw.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestRebuildProjections(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectExec("TRUNCATE account_balances").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("TRUNCATE projection_batches").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("UNION ALL").WillReturnResult(sqlmock.NewResult(0, 4))
	mock.ExpectExec("SELECT DISTINCT batch_id").WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectCommit()

	if err := projection.RebuildProjections(context.Background(), db); err != nil {
		t.Fatal(err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}
