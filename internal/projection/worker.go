// Package projection maintains per-account balances from journal batches.
// The projection is eventually consistent and can be rebuilt from
// settlement_journals at any time.
package projection

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/rs/zerolog"

	"LootLedger/internal/core"
	"LootLedger/internal/ledger"
	"LootLedger/internal/observability"
)

// execer is satisfied by *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// ProjectionWorker applies journal batches to account_balances.
// Each batch is applied at most once, keyed by batch id.
type ProjectionWorker struct {
	db        *sql.DB
	inputChan <-chan core.CoreOutput
	logger    zerolog.Logger
	metrics   *observability.Metrics
}

func NewProjectionWorker(db *sql.DB, inputChan <-chan core.CoreOutput, logger zerolog.Logger, metrics *observability.Metrics) *ProjectionWorker {
	return &ProjectionWorker{
		db:        db,
		inputChan: inputChan,
		logger:    logger,
		metrics:   metrics,
	}
}

// Run starts the projection worker loop.
func (pw *ProjectionWorker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case output, ok := <-pw.inputChan:
			if !ok {
				return nil
			}
			if output.Batch == nil {
				continue
			}
			applied, err := pw.Apply(ctx, output.Batch)
			if err != nil {
				// Projections are rebuilt from the journal, keep going.
				pw.logger.Warn().Err(err).Str("batch_id", output.Batch.BatchID.String()).Msg("projection update failed")
				pw.count("error")
				continue
			}
			if applied {
				pw.count("applied")
			} else {
				pw.count("duplicate")
			}
		}
	}
}

// Apply moves the batch's amounts between account balances in one
// transaction. It returns false if the batch was already applied.
func (pw *ProjectionWorker) Apply(ctx context.Context, batch *ledger.Batch) (bool, error) {
	tx, err := pw.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		INSERT INTO projection_batches (batch_id, applied_at)
		VALUES ($1, NOW())
		ON CONFLICT (batch_id) DO NOTHING
	`, batch.BatchID.String())
	if err != nil {
		return false, fmt.Errorf("batch marker: %w", err)
	}
	if n, err := res.RowsAffected(); err != nil || n == 0 {
		return false, err
	}

	for _, j := range batch.Journals {
		if err := updateBalance(ctx, tx, j); err != nil {
			return false, fmt.Errorf("balance projection: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return false, err
	}
	return true, nil
}

// updateBalance applies one journal: the debit account's balance rises
// and the credit account's falls.
func updateBalance(ctx context.Context, db execer, j ledger.Journal) error {
	if _, err := db.ExecContext(ctx, `
		INSERT INTO account_balances (account_path, currency, balance, updated_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (account_path, currency)
		DO UPDATE SET balance = account_balances.balance + $3, updated_at = NOW()
	`, j.DebitAccount.AccountPath(), j.Currency, j.Amount); err != nil {
		return err
	}

	if _, err := db.ExecContext(ctx, `
		INSERT INTO account_balances (account_path, currency, balance, updated_at)
		VALUES ($1, $2, -$3::BIGINT, NOW())
		ON CONFLICT (account_path, currency)
		DO UPDATE SET balance = account_balances.balance - $3, updated_at = NOW()
	`, j.CreditAccount.AccountPath(), j.Currency, j.Amount); err != nil {
		return err
	}
	return nil
}

func (pw *ProjectionWorker) count(result string) {
	if pw.metrics != nil {
		pw.metrics.ProjectionBatches.WithLabelValues(result).Inc()
	}
}

// RebuildProjections recomputes account_balances from settlement_journals.
func RebuildProjections(ctx context.Context, db *sql.DB) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	statements := []struct{ name, sql string }{
		{"truncate balances", `TRUNCATE account_balances`},
		{"truncate markers", `TRUNCATE projection_batches`},
		{"rebuild balances", `
			INSERT INTO account_balances (account_path, currency, balance, updated_at)
			SELECT account_path, currency, SUM(delta), NOW()
			FROM (
				SELECT debit_account AS account_path, currency, amount AS delta FROM settlement_journals
				UNION ALL
				SELECT credit_account, currency, -amount FROM settlement_journals
			) moves
			GROUP BY account_path, currency`},
		{"rebuild markers", `
			INSERT INTO projection_batches (batch_id, applied_at)
			SELECT DISTINCT batch_id, NOW() FROM settlement_journals`},
	}
	for _, st := range statements {
		if _, err := tx.ExecContext(ctx, st.sql); err != nil {
			return fmt.Errorf("%s: %w", st.name, err)
		}
	}
	return tx.Commit()
}
