package core

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"LootLedger/internal/event"
	"LootLedger/internal/failure"
	"LootLedger/internal/fairness"
	"LootLedger/internal/ledger"
	"LootLedger/internal/money"
	"LootLedger/internal/observability"
	"LootLedger/internal/pricelock"
	"LootLedger/internal/retry"
	"LootLedger/internal/txguard"
)

// CoreOutput is what the orchestrator emits for every state change: the
// audit envelope and, when money moved, its journal batch.
type CoreOutput struct {
	Envelope event.Envelope
	Batch    *ledger.Batch
}

// Deps wires an Orchestrator. Payments may be nil when upstream already
// verified the entry payment; every other collaborator is required.
type Deps struct {
	Generator  *fairness.Generator
	Catalog    Catalog
	Payments   PaymentVerifier
	Store      OutcomeStore
	Locks      *pricelock.Registry
	Validator  *txguard.Validator
	Transfers  RewardTransferer
	Dispatcher PaymentDispatcher
	Runner     *retry.Runner

	// PersistChan receives every output with a blocking send.
	// PublishChan and ProjectionChan receive outputs best-effort; full
	// channels drop.
	PersistChan    chan<- CoreOutput
	PublishChan    chan<- CoreOutput
	ProjectionChan chan<- CoreOutput

	MaxTxSize     int
	VerifyOnChain bool
	Now           func() time.Time
	Logger        zerolog.Logger
	Metrics       *observability.Metrics
}

// Orchestrator drives outcomes through OPENED → DECIDING → {KEPT, BOUGHT_BACK}.
type Orchestrator struct {
	generator  *fairness.Generator
	catalog    Catalog
	payments   PaymentVerifier
	store      OutcomeStore
	locks      *pricelock.Registry
	validator  *txguard.Validator
	transfers  RewardTransferer
	dispatcher PaymentDispatcher
	runner     *retry.Runner

	persistChan    chan<- CoreOutput
	publishChan    chan<- CoreOutput
	projectionChan chan<- CoreOutput

	maxTxSize     int
	verifyOnChain bool

	inflightMu sync.Mutex
	inflight   map[string]struct{}

	now     func() time.Time
	logger  zerolog.Logger
	metrics *observability.Metrics
}

// NewOrchestrator validates deps and builds an orchestrator.
func NewOrchestrator(d Deps) (*Orchestrator, error) {
	switch {
	case d.Generator == nil:
		return nil, failure.New(failure.InputMalformed, "orchestrator needs a draw generator")
	case d.Catalog == nil:
		return nil, failure.New(failure.InputMalformed, "orchestrator needs a catalog")
	case d.Store == nil:
		return nil, failure.New(failure.InputMalformed, "orchestrator needs an outcome store")
	case d.Locks == nil:
		return nil, failure.New(failure.InputMalformed, "orchestrator needs a price lock registry")
	case d.Validator == nil:
		return nil, failure.New(failure.InputMalformed, "orchestrator needs a transaction validator")
	case d.Transfers == nil:
		return nil, failure.New(failure.InputMalformed, "orchestrator needs a reward transferer")
	case d.Dispatcher == nil:
		return nil, failure.New(failure.InputMalformed, "orchestrator needs a payment dispatcher")
	case d.Runner == nil:
		return nil, failure.New(failure.InputMalformed, "orchestrator needs a retry runner")
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.MaxTxSize <= 0 {
		d.MaxTxSize = txguard.DefaultMaxSize
	}
	if d.Payments == nil {
		d.Logger.Warn().Msg("entry payment verification disabled")
	}
	return &Orchestrator{
		generator:      d.Generator,
		catalog:        d.Catalog,
		payments:       d.Payments,
		store:          d.Store,
		locks:          d.Locks,
		validator:      d.Validator,
		transfers:      d.Transfers,
		dispatcher:     d.Dispatcher,
		runner:         d.Runner,
		persistChan:    d.PersistChan,
		publishChan:    d.PublishChan,
		projectionChan: d.ProjectionChan,
		maxTxSize:      d.MaxTxSize,
		verifyOnChain:  d.VerifyOnChain,
		inflight:       make(map[string]struct{}),
		now:            d.Now,
		logger:         d.Logger,
		metrics:        d.Metrics,
	}, nil
}

// ============================================================================
// Open
// ============================================================================

// OpenRequest starts a draw for a confirmed payment.
type OpenRequest struct {
	PaymentRef  string `json:"payment_ref"`
	PrincipalID string `json:"principal_id"`
	OfferingID  string `json:"offering_id"`
	ClientSeed  string `json:"client_seed,omitempty"`
}

func (r OpenRequest) validate() error {
	if r.PaymentRef == "" || r.PrincipalID == "" || r.OfferingID == "" {
		return failure.New(failure.InputMalformed, "payment_ref, principal_id and offering_id are required")
	}
	if len(r.ClientSeed) > 128 {
		return failure.New(failure.InputMalformed, "client seed longer than 128 bytes")
	}
	return nil
}

// Open verifies payment, draws, selects the reward and stores the outcome
// in DECIDING. A payment reference that was already opened returns the
// existing outcome unchanged.
func (o *Orchestrator) Open(ctx context.Context, req OpenRequest) (*Outcome, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}

	// Step 1: one outcome per payment
	existing, err := o.store.GetByPaymentRef(ctx, req.PaymentRef)
	if err == nil {
		return existing, nil
	}
	if !failure.Is(err, failure.NotFound) {
		return nil, err
	}

	// Step 2: offering terms
	offering, err := o.catalog.Offering(ctx, req.OfferingID)
	if err != nil {
		return nil, err
	}
	unit, err := money.UnitFor(offering.Currency)
	if err != nil {
		return nil, err
	}
	entryMinor, err := money.ToMinorUnits(offering.EntryPrice, unit)
	if err != nil {
		return nil, err
	}

	// Step 3: proof of payment
	if o.payments != nil {
		err := o.payments.VerifyPayment(ctx, PaymentProof{
			Reference:   req.PaymentRef,
			PrincipalID: req.PrincipalID,
			AmountMinor: entryMinor,
			Currency:    unit.Symbol,
		})
		if err != nil {
			if failure.CodeOf(err) == failure.Internal {
				err = failure.Wrap(failure.PaymentUnverified, err, "verify payment %s", req.PaymentRef)
			}
			return nil, err
		}
	}

	// Step 4: draw
	seed := strings.Join([]string{req.PrincipalID, req.OfferingID, req.PaymentRef, req.ClientSeed}, ":")
	draw := o.generator.Generate(seed)

	// Step 5: selection
	selStart := time.Now()
	sel, err := fairness.Select(draw.Value, offering.Entries())
	if err != nil {
		return nil, err
	}
	if o.metrics != nil {
		o.metrics.DrawsGenerated.Inc()
		o.metrics.SelectionDuration.Observe(time.Since(selStart).Seconds())
		o.metrics.SelectionsTotal.WithLabelValues(offering.ID).Inc()
	}

	outcome := &Outcome{
		ID:             uuid.NewString(),
		OfferingID:     offering.ID,
		PrincipalID:    req.PrincipalID,
		PaymentRef:     req.PaymentRef,
		State:          StateOpened,
		Draw:           draw,
		Reward:         sel.Entry.Payload,
		RewardIndex:    sel.Index,
		Probability:    sel.Probability,
		EntryPrice:     offering.EntryPrice,
		Currency:       unit.Symbol,
		BuybackPercent: offering.BuybackPercent,
		CreatedAt:      o.now().UTC(),
	}
	// Draw and selection are complete, the outcome waits for a decision.
	outcome.State = StateDeciding

	// Step 6: persist
	stored, created, err := o.store.Create(ctx, outcome)
	if err != nil {
		return nil, err
	}
	if !created {
		return stored, nil
	}

	// Step 7: emit
	var batch *ledger.Batch
	if entryMinor != "0" {
		batch, err = ledger.GenerateEntryFee(ledger.SettlementRef{
			OutcomeID:   stored.ID,
			PrincipalID: stored.PrincipalID,
			EventRef:    "opened:" + stored.ID,
			Currency:    unit.Symbol,
			AmountMinor: entryMinor,
			At:          stored.CreatedAt,
		})
		if err != nil {
			o.logger.Error().Err(err).Str("outcome_id", stored.ID).Msg("entry fee journal failed")
		}
	}
	o.emit(ctx, &event.DrawOpened{
		Outcome:     stored.ID,
		Principal:   stored.PrincipalID,
		OfferingID:  stored.OfferingID,
		PaymentRef:  stored.PaymentRef,
		Seed:        draw.Seed,
		Timestamp:   draw.Timestamp,
		Hash:        draw.Hash,
		Value:       draw.Value,
		RewardID:    stored.Reward.ID,
		Probability: stored.Probability,
	}, batch)

	if o.metrics != nil {
		o.metrics.OutcomesOpened.WithLabelValues(offering.ID).Inc()
	}
	o.logger.Info().
		Str("outcome_id", stored.ID).
		Str("offering_id", stored.OfferingID).
		Str("reward_id", stored.Reward.ID).
		Float64("value", draw.Value).
		Msg("draw opened")

	return stored, nil
}

// ============================================================================
// Quote
// ============================================================================

// QuoteBuyback computes the buyback amount from the entry price and locks
// it for the outcome's reward instance and principal.
func (o *Orchestrator) QuoteBuyback(ctx context.Context, outcomeID string) (*Quote, error) {
	outcome, err := o.store.Get(ctx, outcomeID)
	if err != nil {
		return nil, err
	}
	if outcome.State.Terminal() {
		return nil, failure.New(failure.DecisionAlreadyMade, "outcome %s already %s", outcome.ID, outcome.State)
	}

	amount, minor, err := buybackAmount(outcome)
	if err != nil {
		return nil, err
	}
	lock, err := o.locks.LockPrice(ctx, lockSubject(outcome), minor, map[string]string{"outcome_id": outcome.ID})
	if err != nil {
		return nil, err
	}

	o.emit(ctx, &event.BuybackQuoted{
		Outcome:     outcome.ID,
		Principal:   outcome.PrincipalID,
		AmountMinor: minor,
		Currency:    outcome.Currency,
		LockVersion: lock.Version,
		ExpiresAt:   lock.ExpiresAt,
	}, nil)

	return &Quote{
		OutcomeID:   outcome.ID,
		Amount:      amount.String(),
		AmountMinor: minor,
		Currency:    outcome.Currency,
		LockID:      lock.ID,
		LockVersion: lock.Version,
		ExpiresAt:   lock.ExpiresAt,
	}, nil
}

// buybackAmount is pct × entry price, never the reward's market value.
func buybackAmount(outcome *Outcome) (decimal.Decimal, string, error) {
	amount, err := money.ApplyPercentage(outcome.EntryPrice, outcome.BuybackPercent)
	if err != nil {
		return decimal.Zero, "", err
	}
	unit, err := money.UnitFor(outcome.Currency)
	if err != nil {
		return decimal.Zero, "", err
	}
	minor, err := money.ToMinorUnits(amount, unit)
	if err != nil {
		return decimal.Zero, "", err
	}
	return amount, minor, nil
}

func lockSubject(outcome *Outcome) pricelock.Subject {
	return pricelock.Subject{AssetID: outcome.LockAssetID(), PrincipalID: outcome.PrincipalID}
}

// ============================================================================
// Decide
// ============================================================================

// DecideRequest is the principal's choice. ClaimedAmountMinor is the quoted
// amount and is required for BUYBACK. SignedTransaction, when present, is
// validated and handed to the dispatcher for submission.
type DecideRequest struct {
	OutcomeID          string `json:"outcome_id"`
	Choice             Choice `json:"choice"`
	ClaimedAmountMinor string `json:"claimed_amount_minor,omitempty"`
	SignedTransaction  string `json:"signed_transaction,omitempty"`
}

// Decide applies a KEEP or BUYBACK choice. Any failure before payout
// dispatch leaves the outcome in DECIDING so the caller can retry. Once a
// payout is dispatched the outcome settles even if the on-chain re-check
// fails; that case emits PayoutUnverified. A crash between dispatch and the
// terminal write can still leave a paid outcome in DECIDING; its signature
// is already marked processed, which blocks a second payout of the same
// transaction.
func (o *Orchestrator) Decide(ctx context.Context, req DecideRequest) (*Outcome, error) {
	start := time.Now()
	if req.Choice != ChoiceKeep && req.Choice != ChoiceBuyback {
		return nil, failure.New(failure.InputMalformed, "unknown choice %q", req.Choice)
	}

	release, err := o.acquire(req.OutcomeID)
	if err != nil {
		o.recordDecision(req.Choice, err, start)
		return nil, err
	}
	defer release()

	outcome, err := o.store.Get(ctx, req.OutcomeID)
	if err != nil {
		o.recordDecision(req.Choice, err, start)
		return nil, err
	}
	if outcome.State.Terminal() {
		err := failure.New(failure.DecisionAlreadyMade, "outcome %s already %s", outcome.ID, outcome.State)
		o.recordDecision(req.Choice, err, start)
		return nil, err
	}
	if outcome.State != StateDeciding {
		err := failure.New(failure.DecisionConflict, "outcome %s is %s", outcome.ID, outcome.State)
		o.recordDecision(req.Choice, err, start)
		return nil, err
	}

	switch req.Choice {
	case ChoiceKeep:
		err = o.keep(ctx, outcome)
	case ChoiceBuyback:
		err = o.buyback(ctx, outcome, req)
	}
	o.recordDecision(req.Choice, err, start)
	if err != nil {
		o.recordFailure(ctx, outcome, req.Choice, err)
		return nil, err
	}
	return outcome, nil
}

func (o *Orchestrator) keep(ctx context.Context, outcome *Outcome) error {
	transfer := Transfer{OutcomeID: outcome.ID, PrincipalID: outcome.PrincipalID, Reward: outcome.Reward}
	ref, err := retry.DoValue(ctx, o.runner, "reward_transfer", func(ctx context.Context) (string, error) {
		return o.transfers.TransferReward(ctx, transfer)
	})
	if err != nil {
		return err
	}

	decidedAt := o.now().UTC()
	if err := o.store.Settle(ctx, outcome.ID, Settlement{
		State:     StateKept,
		Decision:  ChoiceKeep,
		Signature: ref,
		DecidedAt: decidedAt,
	}); err != nil {
		return err
	}
	outcome.State = StateKept
	outcome.Decision = ChoiceKeep
	outcome.SettlementSignature = ref
	outcome.DecidedAt = &decidedAt

	o.emit(ctx, &event.RewardKept{
		Outcome:     outcome.ID,
		Principal:   outcome.PrincipalID,
		RewardID:    outcome.Reward.ID,
		TransferRef: ref,
	}, nil)
	o.logger.Info().Str("outcome_id", outcome.ID).Msg("reward kept")
	return nil
}

func (o *Orchestrator) buyback(ctx context.Context, outcome *Outcome, req DecideRequest) error {
	// Step 1: amount from entry terms
	_, minor, err := buybackAmount(outcome)
	if err != nil {
		return err
	}
	if req.ClaimedAmountMinor == "" {
		return failure.New(failure.InputMalformed, "claimed amount required, request a quote first")
	}

	// Step 2: redeem the price lock
	lock, err := o.locks.ValidateLockedPrice(ctx, lockSubject(outcome), req.ClaimedAmountMinor)
	if err != nil {
		return err
	}
	if lock.AmountMinor != minor {
		return failure.New(failure.AmountMismatch, "locked amount %s differs from computed %s", lock.AmountMinor, minor)
	}

	// Step 3: validate a user-signed transaction
	var validated *txguard.Validated
	if req.SignedTransaction != "" {
		validated, err = o.validator.ValidateTransaction(ctx, req.SignedTransaction, outcome.Reward.AssetID, outcome.PrincipalID, o.maxTxSize)
		if err != nil {
			return err
		}
	}

	// Step 4: dispatch
	payout := Payout{
		OutcomeID:         outcome.ID,
		PrincipalID:       outcome.PrincipalID,
		AmountMinor:       minor,
		Currency:          outcome.Currency,
		SignedTransaction: req.SignedTransaction,
	}
	receipt, err := retry.DoValue(ctx, o.runner, "payout_dispatch", func(ctx context.Context) (Receipt, error) {
		return o.dispatcher.DispatchPayout(ctx, payout)
	})
	if err != nil {
		return err
	}

	// Step 5: replay guard
	signature := receipt.SignatureID
	if signature == "" && validated != nil {
		signature = validated.SignatureID
	}
	if signature != "" {
		if err := o.validator.Guard().MarkProcessed(ctx, signature); err != nil {
			o.logger.Error().Err(err).Str("outcome_id", outcome.ID).Msg("mark signature processed failed")
		}
	}

	// Step 6: independent re-read of the submitted transaction. The payout
	// is already out, so a failed check settles anyway and is flagged for
	// reconciliation; reopening the outcome would allow a second payout.
	var unverified error
	if validated != nil && o.verifyOnChain {
		if _, err := o.validator.VerifyTransactionOnChain(ctx, signature, outcome.Reward.AssetID, outcome.PrincipalID); err != nil {
			unverified = err
			o.logger.Error().
				Err(err).
				Str("outcome_id", outcome.ID).
				Str("signature", observability.ShortID(signature)).
				Msg("payout dispatched but not confirmed on chain, needs reconciliation")
		}
	}

	// Step 7: terminal write
	decidedAt := o.now().UTC()
	if err := o.store.Settle(ctx, outcome.ID, Settlement{
		State:       StateBoughtBack,
		Decision:    ChoiceBuyback,
		AmountMinor: minor,
		Signature:   signature,
		DecidedAt:   decidedAt,
	}); err != nil {
		return err
	}
	outcome.State = StateBoughtBack
	outcome.Decision = ChoiceBuyback
	outcome.SettledAmountMinor = minor
	outcome.SettlementSignature = signature
	outcome.DecidedAt = &decidedAt

	// Step 8: retire the reward. The payout already happened, so a failure
	// here is logged for reconciliation instead of reopening the outcome.
	transfer := Transfer{OutcomeID: outcome.ID, PrincipalID: outcome.PrincipalID, Reward: outcome.Reward}
	if err := o.runner.Do(ctx, "reward_mark_sold", func(ctx context.Context) error {
		return o.transfers.MarkSold(ctx, transfer)
	}); err != nil {
		o.logger.Error().Err(err).Str("outcome_id", outcome.ID).Msg("mark reward sold failed, needs reconciliation")
	}

	// Step 9: emit
	batch, err := ledger.GenerateBuybackPayout(ledger.SettlementRef{
		OutcomeID:   outcome.ID,
		PrincipalID: outcome.PrincipalID,
		EventRef:    "bought_back:" + outcome.ID,
		Currency:    outcome.Currency,
		AmountMinor: minor,
		At:          decidedAt,
	})
	if err != nil {
		o.logger.Error().Err(err).Str("outcome_id", outcome.ID).Msg("payout journal failed")
		batch = nil
	}
	o.emit(ctx, &event.RewardBoughtBack{
		Outcome:     outcome.ID,
		Principal:   outcome.PrincipalID,
		RewardID:    outcome.Reward.ID,
		AmountMinor: minor,
		Currency:    outcome.Currency,
		SignatureID: signature,
	}, batch)
	if unverified != nil {
		o.emit(ctx, &event.PayoutUnverified{
			Outcome:     outcome.ID,
			Principal:   outcome.PrincipalID,
			SignatureID: signature,
			Code:        string(failure.CodeOf(unverified)),
			Reason:      unverified.Error(),
		}, nil)
	}

	if o.metrics != nil {
		if n, err := strconv.ParseFloat(minor, 64); err == nil {
			o.metrics.SettledMinorUnits.WithLabelValues(outcome.Currency).Add(n)
		}
	}
	o.logger.Info().
		Str("outcome_id", outcome.ID).
		Str("amount_minor", minor).
		Str("currency", outcome.Currency).
		Str("signature", observability.ShortID(signature)).
		Msg("reward bought back")
	return nil
}

// acquire serializes decisions per outcome within this process. The
// store's conditional write covers other instances.
func (o *Orchestrator) acquire(outcomeID string) (func(), error) {
	o.inflightMu.Lock()
	defer o.inflightMu.Unlock()
	if _, busy := o.inflight[outcomeID]; busy {
		return nil, failure.New(failure.DecisionConflict, "a decision on outcome %s is in progress", outcomeID)
	}
	o.inflight[outcomeID] = struct{}{}
	return func() {
		o.inflightMu.Lock()
		delete(o.inflight, outcomeID)
		o.inflightMu.Unlock()
	}, nil
}

// ============================================================================
// Reads
// ============================================================================

// Get returns an outcome by id.
func (o *Orchestrator) Get(ctx context.Context, id string) (*Outcome, error) {
	return o.store.Get(ctx, id)
}

// ListByPrincipal returns a principal's most recent outcomes.
func (o *Orchestrator) ListByPrincipal(ctx context.Context, principalID string, limit int) ([]*Outcome, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	return o.store.ListByPrincipal(ctx, principalID, limit)
}

// DrawVerification is the result of re-deriving an outcome's draw.
type DrawVerification struct {
	OutcomeID      string        `json:"outcome_id"`
	Draw           fairness.Draw `json:"draw"`
	HashValid      bool          `json:"hash_valid"`
	SelectionValid bool          `json:"selection_valid"`
	RewardID       string        `json:"reward_id"`
}

// VerifyDraw recomputes the outcome's draw and re-runs selection against
// the offering's current pool. SelectionValid is false if the pool changed
// since the draw.
func (o *Orchestrator) VerifyDraw(ctx context.Context, id string) (*DrawVerification, error) {
	outcome, err := o.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	res := &DrawVerification{
		OutcomeID: outcome.ID,
		Draw:      outcome.Draw,
		HashValid: o.generator.Verify(outcome.Draw),
		RewardID:  outcome.Reward.ID,
	}
	if o.metrics != nil {
		o.metrics.DrawVerifications.WithLabelValues(strconv.FormatBool(res.HashValid)).Inc()
	}
	if !res.HashValid {
		return res, nil
	}
	offering, err := o.catalog.Offering(ctx, outcome.OfferingID)
	if err != nil {
		o.logger.Debug().Err(err).Str("offering_id", outcome.OfferingID).Msg("offering unavailable for selection check")
		return res, nil
	}
	sel, err := fairness.Select(outcome.Draw.Value, offering.Entries())
	res.SelectionValid = err == nil && sel.Index == outcome.RewardIndex && sel.Entry.ID == outcome.Reward.ID
	return res, nil
}

// PoolStatistics returns the published odds for an offering.
func (o *Orchestrator) PoolStatistics(ctx context.Context, offeringID string) (fairness.PoolStatistics, error) {
	offering, err := o.catalog.Offering(ctx, offeringID)
	if err != nil {
		return fairness.PoolStatistics{}, err
	}
	return fairness.Statistics(offering.Entries())
}

// ============================================================================
// Emission
// ============================================================================

func (o *Orchestrator) emit(ctx context.Context, e event.Event, batch *ledger.Batch) {
	env, err := event.Wrap(e, o.now())
	if err != nil {
		o.logger.Error().Err(err).Str("event_type", e.EventType().String()).Msg("event encoding failed")
		return
	}
	output := CoreOutput{Envelope: env, Batch: batch}

	// Persistence: blocking send so audit rows are not lost while the
	// worker is healthy.
	if o.persistChan != nil {
		select {
		case o.persistChan <- output:
		case <-ctx.Done():
			o.logger.Warn().Str("event_type", env.EventType.String()).Msg("persist send abandoned on cancelled context")
		}
	}

	// Publishing: non-blocking, drop on full.
	if o.publishChan != nil {
		select {
		case o.publishChan <- output:
		default:
			if o.metrics != nil {
				o.metrics.PublishDrops.Inc()
			}
		}
	}

	// Projection only cares about money movement and can be rebuilt from
	// the journal, so it drops too.
	if o.projectionChan != nil && batch != nil {
		select {
		case o.projectionChan <- output:
		default:
			if o.metrics != nil {
				o.metrics.ProjectionDrops.Inc()
			}
		}
	}
}

func (o *Orchestrator) recordDecision(choice Choice, err error, start time.Time) {
	if o.metrics == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = string(failure.CodeOf(err))
	}
	o.metrics.Decisions.WithLabelValues(string(choice), result).Inc()
	o.metrics.DecisionDuration.WithLabelValues(string(choice)).Observe(time.Since(start).Seconds())
}

func (o *Orchestrator) recordFailure(ctx context.Context, outcome *Outcome, choice Choice, err error) {
	code := failure.CodeOf(err)
	o.logger.Warn().
		Err(err).
		Str("outcome_id", outcome.ID).
		Str("choice", string(choice)).
		Str("code", string(code)).
		Str("hint", string(code.Hint())).
		Msg("decision failed, outcome stays DECIDING")
	o.emit(ctx, &event.DecisionFailed{
		Outcome:   outcome.ID,
		Principal: outcome.PrincipalID,
		Choice:    string(choice),
		Code:      string(code),
		Reason:    err.Error(),
		At:        o.now().UTC(),
	}, nil)
}
