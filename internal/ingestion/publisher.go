package ingestion

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"

	"LootLedger/internal/core"
)

// OutboundPublisher publishes settlement events to NATS for downstream
// consumers. Subjects follow loot.settlement.events.{event_type}.
type OutboundPublisher struct {
	js        jetstream.JetStream
	inputChan <-chan core.CoreOutput
	logger    zerolog.Logger
}

// PublishableEvent is the outbound wire form of an envelope.
type PublishableEvent struct {
	EventID        string          `json:"event_id"`
	EventType      string          `json:"event_type"`
	IdempotencyKey string          `json:"idempotency_key"`
	OutcomeID      string          `json:"outcome_id,omitempty"`
	PrincipalID    string          `json:"principal_id,omitempty"`
	Payload        json.RawMessage `json:"payload"`
	Timestamp      time.Time       `json:"timestamp"`
}

func NewOutboundPublisher(js jetstream.JetStream, inputChan <-chan core.CoreOutput, logger zerolog.Logger) *OutboundPublisher {
	return &OutboundPublisher{
		js:        js,
		inputChan: inputChan,
		logger:    logger,
	}
}

// Run starts the outbound publisher loop.
func (op *OutboundPublisher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case out, ok := <-op.inputChan:
			if !ok {
				return nil
			}
			if err := op.publish(ctx, out); err != nil {
				// Downstream consumers can read the audit log instead.
				op.logger.Warn().Err(err).Str("event_id", out.Envelope.EventID.String()).Msg("outbound publish failed")
			}
		}
	}
}

// ToPublishable converts an orchestrator output to its wire form.
func ToPublishable(out core.CoreOutput) PublishableEvent {
	env := out.Envelope
	return PublishableEvent{
		EventID:        env.EventID.String(),
		EventType:      env.EventType.String(),
		IdempotencyKey: env.IdempotencyKey,
		OutcomeID:      env.OutcomeID,
		PrincipalID:    env.PrincipalID,
		Payload:        env.Payload,
		Timestamp:      env.OccurredAt,
	}
}

// Subject returns the outbound subject for an event type.
func Subject(eventType string) string {
	return fmt.Sprintf("loot.settlement.events.%s", eventType)
}

func (op *OutboundPublisher) publish(ctx context.Context, out core.CoreOutput) error {
	evt := ToPublishable(out)
	data, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	// The event id doubles as the JetStream dedup id.
	_, err = op.js.Publish(ctx, Subject(evt.EventType), data, jetstream.WithMsgID(evt.EventID))
	return err
}

// EnsureOutboundStream creates the outbound events stream.
func EnsureOutboundStream(ctx context.Context, js jetstream.JetStream) error {
	_, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:       "LOOT_SETTLEMENT_EVENTS",
		Subjects:   []string{"loot.settlement.events.>"},
		Storage:    jetstream.FileStorage,
		Retention:  jetstream.LimitsPolicy,
		MaxAge:     72 * time.Hour,
		Duplicates: 2 * time.Minute,
		Replicas:   1,
	})
	if err != nil {
		return fmt.Errorf("create outbound stream: %w", err)
	}
	return nil
}
