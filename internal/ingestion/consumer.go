package ingestion

import (
	"context"

	"github.com/rs/zerolog"

	"LootLedger/internal/core"
	"LootLedger/internal/event"
	"LootLedger/internal/failure"
	"LootLedger/internal/observability"
)

// Opener starts a draw for a confirmed payment.
type Opener interface {
	Open(ctx context.Context, req core.OpenRequest) (*core.Outcome, error)
}

// PaymentConsumer turns confirmed payments into opened outcomes.
type PaymentConsumer struct {
	opener    Opener
	inputChan <-chan RawEvent
	logger    zerolog.Logger
	metrics   *observability.Metrics
}

func NewPaymentConsumer(opener Opener, inputChan <-chan RawEvent, logger zerolog.Logger, metrics *observability.Metrics) *PaymentConsumer {
	return &PaymentConsumer{
		opener:    opener,
		inputChan: inputChan,
		logger:    logger,
		metrics:   metrics,
	}
}

// Run processes messages until ctx is cancelled or the channel closes.
func (pc *PaymentConsumer) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case raw, ok := <-pc.inputChan:
			if !ok {
				return nil
			}
			pc.Handle(ctx, raw)
		}
	}
}

// Handle parses one message, opens the outcome and settles the message:
// ack on success, nak when a retry may help, term otherwise.
func (pc *PaymentConsumer) Handle(ctx context.Context, raw RawEvent) {
	evt, err := ParseRawEvent(raw, raw.EventType)
	if err != nil {
		pc.finish(raw, err, "parse")
		return
	}
	payment, ok := evt.(*event.PaymentConfirmed)
	if !ok {
		pc.finish(raw, failure.New(failure.InputMalformed, "unexpected event %T", evt), "parse")
		return
	}

	outcome, err := pc.opener.Open(ctx, core.OpenRequest{
		PaymentRef:  payment.PaymentRef,
		PrincipalID: payment.Principal,
		OfferingID:  payment.OfferingID,
		ClientSeed:  payment.ClientSeed,
	})
	if err != nil {
		pc.finish(raw, err, "open")
		return
	}
	pc.logger.Debug().
		Str("payment_ref", payment.PaymentRef).
		Str("outcome_id", outcome.ID).
		Msg("payment opened outcome")
	pc.finish(raw, nil, "open")
}

func (pc *PaymentConsumer) finish(raw RawEvent, err error, stage string) {
	result := "ok"
	switch {
	case err == nil:
		call(raw.AckFunc)
	case terminal(err):
		result = string(failure.CodeOf(err))
		pc.logger.Warn().Err(err).Str("subject", raw.Subject).Str("stage", stage).Msg("payment event rejected")
		call(raw.TermFunc)
	default:
		result = string(failure.CodeOf(err))
		pc.logger.Warn().Err(err).Str("subject", raw.Subject).Str("stage", stage).Msg("payment event will be redelivered")
		call(raw.NakFunc)
	}
	if pc.metrics != nil {
		pc.metrics.PaymentEventsReceived.WithLabelValues(result).Inc()
	}
}

// terminal reports errors a redelivery cannot fix. Uncoded errors are
// redelivered.
func terminal(err error) bool {
	code := failure.CodeOf(err)
	return code != failure.Internal && code.Hint() == failure.HintAbandon
}

func call(f func()) {
	if f != nil {
		f()
	}
}
