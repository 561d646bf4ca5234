package event

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// EventType discriminator for settlement event payloads
type EventType int32

const (
	EventTypeUnknown EventType = iota
	EventTypePaymentConfirmed
	EventTypeDrawOpened
	EventTypeBuybackQuoted
	EventTypeRewardKept
	EventTypeRewardBoughtBack
	EventTypeDecisionFailed
	EventTypePayoutUnverified
)

// Envelope wraps every event written to the audit log and published to NATS.
type Envelope struct {
	// Unique per event, assigned at emit time
	EventID uuid.UUID

	// Stable dedup key derived from the payload
	IdempotencyKey string

	EventType EventType

	OutcomeID   string
	PrincipalID string

	OccurredAt time.Time

	// JSON-encoded event-specific data
	Payload json.RawMessage
}

// Event is the interface all event payloads must implement
type Event interface {
	// IdempotencyKey returns the stable dedup key
	IdempotencyKey() string

	// EventType returns the discriminator
	EventType() EventType

	// OutcomeID returns the settlement outcome the event belongs to
	OutcomeID() string

	// PrincipalID returns the user the event concerns
	PrincipalID() string
}

// Wrap builds an envelope around e. Payload encoding failures are
// returned rather than producing an empty payload.
func Wrap(e Event, at time.Time) (Envelope, error) {
	payload, err := json.Marshal(e)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{
		EventID:        uuid.New(),
		IdempotencyKey: e.IdempotencyKey(),
		EventType:      e.EventType(),
		OutcomeID:      e.OutcomeID(),
		PrincipalID:    e.PrincipalID(),
		OccurredAt:     at.UTC(),
		Payload:        payload,
	}, nil
}

func (et EventType) String() string {
	switch et {
	case EventTypePaymentConfirmed:
		return "PaymentConfirmed"
	case EventTypeDrawOpened:
		return "DrawOpened"
	case EventTypeBuybackQuoted:
		return "BuybackQuoted"
	case EventTypeRewardKept:
		return "RewardKept"
	case EventTypeRewardBoughtBack:
		return "RewardBoughtBack"
	case EventTypeDecisionFailed:
		return "DecisionFailed"
	case EventTypePayoutUnverified:
		return "PayoutUnverified"
	default:
		return "Unknown"
	}
}

// ParseEventType is the inverse of String.
func ParseEventType(s string) EventType {
	for et := EventTypePaymentConfirmed; et <= EventTypePayoutUnverified; et++ {
		if et.String() == s {
			return et
		}
	}
	return EventTypeUnknown
}
