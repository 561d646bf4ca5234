package ingestion

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"

	"LootLedger/internal/core"
	"LootLedger/internal/failure"
)

// Command subjects consumed by the inventory and treasury services.
const (
	SubjectRewardTransfer = "loot.commands.inventory.transfer"
	SubjectRewardSold     = "loot.commands.inventory.sold"
	SubjectPayoutRequest  = "loot.commands.payouts.request"
)

// Publisher is the JetStream publish call the command outbox needs.
type Publisher interface {
	PublishMsg(ctx context.Context, msg *nats.Msg, opts ...jetstream.PublishOpt) (*jetstream.PubAck, error)
}

// CommandPublisher hands reward transfers and unsigned payouts to the
// services that own them. Message ids are derived from the outcome so a
// retried command is dropped by the stream's duplicate window.
type CommandPublisher struct {
	js     Publisher
	logger zerolog.Logger
}

func NewCommandPublisher(js Publisher, logger zerolog.Logger) *CommandPublisher {
	return &CommandPublisher{js: js, logger: logger}
}

type rewardCommand struct {
	OutcomeID   string    `json:"outcome_id"`
	PrincipalID string    `json:"principal_id"`
	RewardID    string    `json:"reward_id"`
	AssetID     string    `json:"asset_id"`
	IssuedAt    time.Time `json:"issued_at"`
}

type payoutCommand struct {
	OutcomeID   string    `json:"outcome_id"`
	PrincipalID string    `json:"principal_id"`
	AmountMinor string    `json:"amount_minor"`
	Currency    string    `json:"currency"`
	IssuedAt    time.Time `json:"issued_at"`
}

// TransferReward implements core.RewardTransferer. The reference is the
// stream sequence of the accepted command.
func (cp *CommandPublisher) TransferReward(ctx context.Context, t core.Transfer) (string, error) {
	ack, err := cp.send(ctx, SubjectRewardTransfer, "transfer:"+t.OutcomeID, rewardCommand{
		OutcomeID:   t.OutcomeID,
		PrincipalID: t.PrincipalID,
		RewardID:    t.Reward.ID,
		AssetID:     t.Reward.AssetID,
		IssuedAt:    time.Now().UTC(),
	})
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s:%d", ack.Stream, ack.Sequence), nil
}

// MarkSold implements core.RewardTransferer.
func (cp *CommandPublisher) MarkSold(ctx context.Context, t core.Transfer) error {
	_, err := cp.send(ctx, SubjectRewardSold, "sold:"+t.OutcomeID, rewardCommand{
		OutcomeID:   t.OutcomeID,
		PrincipalID: t.PrincipalID,
		RewardID:    t.Reward.ID,
		AssetID:     t.Reward.AssetID,
		IssuedAt:    time.Now().UTC(),
	})
	return err
}

// DispatchPayout implements core.PaymentDispatcher for payouts the
// treasury signs itself. The receipt carries no signature; the treasury
// reports it through its own settlement events.
func (cp *CommandPublisher) DispatchPayout(ctx context.Context, p core.Payout) (core.Receipt, error) {
	_, err := cp.send(ctx, SubjectPayoutRequest, "payout:"+p.OutcomeID, payoutCommand{
		OutcomeID:   p.OutcomeID,
		PrincipalID: p.PrincipalID,
		AmountMinor: p.AmountMinor,
		Currency:    p.Currency,
		IssuedAt:    time.Now().UTC(),
	})
	return core.Receipt{}, err
}

func (cp *CommandPublisher) send(ctx context.Context, subject, msgID string, cmd interface{}) (*jetstream.PubAck, error) {
	data, err := json.Marshal(cmd)
	if err != nil {
		return nil, failure.Wrap(failure.Internal, err, "marshal %s", subject)
	}
	msg := nats.NewMsg(subject)
	msg.Data = data
	msg.Header.Set(jetstream.MsgIDHeader, msgID)
	ack, err := cp.js.PublishMsg(ctx, msg)
	if err != nil {
		return nil, failure.Wrap(failure.ExternalFailure, err, "publish %s", subject)
	}
	if ack.Duplicate {
		cp.logger.Debug().Str("msg_id", msgID).Msg("command already accepted")
	}
	return ack, nil
}

// EnsureCommandStream creates the command stream.
func EnsureCommandStream(ctx context.Context, js jetstream.JetStream) error {
	_, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:       "LOOT_COMMANDS",
		Subjects:   []string{"loot.commands.>"},
		Storage:    jetstream.FileStorage,
		Retention:  jetstream.WorkQueuePolicy,
		MaxAge:     7 * 24 * time.Hour,
		Duplicates: 10 * time.Minute,
		Replicas:   1,
	})
	if err != nil {
		return fmt.Errorf("create command stream: %w", err)
	}
	return nil
}
