package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"LootLedger/internal/core"
	"LootLedger/internal/failure"
	"LootLedger/internal/fairness"
)

const outcomeColumns = `id, offering_id, principal_id, payment_ref, state,
	draw_seed, draw_timestamp, draw_hash, draw_value, reward, reward_index, probability,
	entry_price, currency, buyback_percent,
	decision, settled_amount_minor, settlement_signature, created_at, decided_at`

// PostgresOutcomeStore implements core.OutcomeStore on settlement_outcomes.
type PostgresOutcomeStore struct {
	db *sql.DB
}

func NewPostgresOutcomeStore(db *sql.DB) *PostgresOutcomeStore {
	return &PostgresOutcomeStore{db: db}
}

// Create inserts o unless its payment reference already has an outcome.
func (s *PostgresOutcomeStore) Create(ctx context.Context, o *core.Outcome) (*core.Outcome, bool, error) {
	reward, err := json.Marshal(o.Reward)
	if err != nil {
		return nil, false, failure.Wrap(failure.Internal, err, "encode reward")
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO settlement_outcomes (`+outcomeColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)
		ON CONFLICT (payment_ref) DO NOTHING`,
		o.ID, o.OfferingID, o.PrincipalID, o.PaymentRef, string(o.State),
		o.Draw.Seed, o.Draw.Timestamp, o.Draw.Hash, o.Draw.Value, reward, o.RewardIndex, o.Probability,
		o.EntryPrice.String(), o.Currency, o.BuybackPercent.String(),
		nullable(string(o.Decision)), nullable(o.SettledAmountMinor), nullable(o.SettlementSignature),
		o.CreatedAt, o.DecidedAt,
	)
	if err != nil {
		return nil, false, classify(err, "insert outcome %s", o.ID)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, false, failure.Wrap(failure.Internal, err, "insert outcome %s", o.ID)
	}
	if n == 0 {
		existing, err := s.GetByPaymentRef(ctx, o.PaymentRef)
		return existing, false, err
	}
	c := *o
	return &c, true, nil
}

func (s *PostgresOutcomeStore) Get(ctx context.Context, id string) (*core.Outcome, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+outcomeColumns+` FROM settlement_outcomes WHERE id = $1`, id)
	o, err := scanOutcome(row)
	if err == sql.ErrNoRows {
		return nil, failure.New(failure.NotFound, "outcome %s not found", id)
	}
	if err != nil {
		return nil, classify(err, "get outcome %s", id)
	}
	return o, nil
}

func (s *PostgresOutcomeStore) GetByPaymentRef(ctx context.Context, ref string) (*core.Outcome, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+outcomeColumns+` FROM settlement_outcomes WHERE payment_ref = $1`, ref)
	o, err := scanOutcome(row)
	if err == sql.ErrNoRows {
		return nil, failure.New(failure.NotFound, "no outcome for payment %s", ref)
	}
	if err != nil {
		return nil, classify(err, "get outcome by payment %s", ref)
	}
	return o, nil
}

// Settle is a compare-and-set on state = 'DECIDING'.
func (s *PostgresOutcomeStore) Settle(ctx context.Context, id string, st core.Settlement) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE settlement_outcomes
		SET state = $2, decision = $3, settled_amount_minor = $4, settlement_signature = $5, decided_at = $6
		WHERE id = $1 AND state = 'DECIDING'`,
		id, string(st.State), string(st.Decision), nullable(st.AmountMinor), nullable(st.Signature), st.DecidedAt,
	)
	if err != nil {
		return classify(err, "settle outcome %s", id)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return failure.Wrap(failure.Internal, err, "settle outcome %s", id)
	}
	if n == 1 {
		return nil
	}

	var state string
	err = s.db.QueryRowContext(ctx, `SELECT state FROM settlement_outcomes WHERE id = $1`, id).Scan(&state)
	if err == sql.ErrNoRows {
		return failure.New(failure.NotFound, "outcome %s not found", id)
	}
	if err != nil {
		return classify(err, "settle outcome %s", id)
	}
	return failure.New(failure.DecisionAlreadyMade, "outcome %s is %s", id, state)
}

func (s *PostgresOutcomeStore) ListByPrincipal(ctx context.Context, principalID string, limit int) ([]*core.Outcome, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+outcomeColumns+` FROM settlement_outcomes
		WHERE principal_id = $1
		ORDER BY created_at DESC
		LIMIT $2`, principalID, limit)
	if err != nil {
		return nil, classify(err, "list outcomes for %s", principalID)
	}
	defer rows.Close()

	var out []*core.Outcome
	for rows.Next() {
		o, err := scanOutcome(rows)
		if err != nil {
			return nil, failure.Wrap(failure.Internal, err, "scan outcome")
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanOutcome(sc scanner) (*core.Outcome, error) {
	var (
		o                            core.Outcome
		state                        string
		reward                       []byte
		entryPrice, pct              string
		decision, settled, signature sql.NullString
		decidedAt                    sql.NullTime
		drawSeed, drawHash           string
		drawTimestamp                int64
		drawValue                    float64
	)
	err := sc.Scan(
		&o.ID, &o.OfferingID, &o.PrincipalID, &o.PaymentRef, &state,
		&drawSeed, &drawTimestamp, &drawHash, &drawValue, &reward, &o.RewardIndex, &o.Probability,
		&entryPrice, &o.Currency, &pct,
		&decision, &settled, &signature, &o.CreatedAt, &decidedAt,
	)
	if err != nil {
		return nil, err
	}

	o.State = core.State(state)
	o.Draw = fairness.Draw{Seed: drawSeed, Timestamp: drawTimestamp, Hash: drawHash, Value: drawValue}
	if err := json.Unmarshal(reward, &o.Reward); err != nil {
		return nil, failure.Wrap(failure.Internal, err, "decode reward for %s", o.ID)
	}
	if o.EntryPrice, err = decimal.NewFromString(entryPrice); err != nil {
		return nil, failure.Wrap(failure.Internal, err, "entry price for %s", o.ID)
	}
	if o.BuybackPercent, err = decimal.NewFromString(pct); err != nil {
		return nil, failure.Wrap(failure.Internal, err, "buyback percent for %s", o.ID)
	}
	o.Decision = core.Choice(decision.String)
	o.SettledAmountMinor = settled.String
	o.SettlementSignature = signature.String
	o.CreatedAt = o.CreatedAt.UTC()
	if decidedAt.Valid {
		t := decidedAt.Time.UTC()
		o.DecidedAt = &t
	}
	return &o, nil
}

// classify maps driver errors onto failure codes. Unique violations on the
// signature index mean a transaction is being settled twice.
func classify(err error, format string, args ...interface{}) error {
	if pqErr, ok := err.(*pq.Error); ok {
		switch pqErr.Code {
		case "23505":
			if pqErr.Constraint == "idx_outcomes_signature" {
				return failure.Wrap(failure.ReplayDetected, err, format, args...)
			}
			return failure.Wrap(failure.DecisionConflict, err, format, args...)
		case "57014":
			return failure.Wrap(failure.ExternalTimeout, err, format, args...)
		}
	}
	if err == context.DeadlineExceeded {
		return failure.Wrap(failure.ExternalTimeout, err, format, args...)
	}
	return failure.Wrap(failure.Internal, err, format, args...)
}

// PostgresSignatureLookup is the durable replay tier: signatures recorded
// on bought-back outcomes.
type PostgresSignatureLookup struct {
	db      *sql.DB
	timeout time.Duration
}

func NewPostgresSignatureLookup(db *sql.DB) *PostgresSignatureLookup {
	return &PostgresSignatureLookup{db: db, timeout: 500 * time.Millisecond}
}

// IsSettled checks whether signatureID settled an outcome.
func (l *PostgresSignatureLookup) IsSettled(ctx context.Context, signatureID string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	var exists int
	err := l.db.QueryRowContext(ctx, `
		SELECT 1
		FROM settlement_outcomes
		WHERE settlement_signature = $1 AND state = 'BOUGHT_BACK'
		LIMIT 1`, signatureID).Scan(&exists)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}
