package ingestion

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"LootLedger/internal/event"
	"LootLedger/internal/failure"
	"LootLedger/internal/money"
)

// ParseRawEvent converts a RawEvent into a typed event.Event. Parsing and
// validation happen here so the orchestrator only sees well-formed input.
func ParseRawEvent(raw RawEvent, eventType string) (event.Event, error) {
	switch eventType {
	case "PaymentConfirmed":
		return parsePaymentConfirmed(raw.Data)
	default:
		return nil, failure.New(failure.InputMalformed, "unknown event type: %s", eventType)
	}
}

// --- JSON wire formats ---
// Field names use snake_case to match upstream producers.

type paymentConfirmedJSON struct {
	PaymentRef  string          `json:"payment_ref"`
	PrincipalID string          `json:"principal_id"`
	OfferingID  string          `json:"offering_id"`
	ClientSeed  string          `json:"client_seed"`
	AmountMinor json.RawMessage `json:"amount_minor"`
	Currency    string          `json:"currency"`
	TimestampUs int64           `json:"timestamp_us"`
}

func parsePaymentConfirmed(data []byte) (*event.PaymentConfirmed, error) {
	var j paymentConfirmedJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, failure.Wrap(failure.InputMalformed, err, "parse PaymentConfirmed")
	}

	if j.PaymentRef == "" {
		return nil, failure.New(failure.InputMalformed, "payment_ref is required")
	}
	if j.PrincipalID == "" {
		return nil, failure.New(failure.InputMalformed, "principal_id is required")
	}
	if j.OfferingID == "" {
		return nil, failure.New(failure.InputMalformed, "offering_id is required")
	}
	unit, err := money.UnitFor(j.Currency)
	if err != nil {
		return nil, err
	}
	amount, err := parseMinorAmount(j.AmountMinor)
	if err != nil {
		return nil, err
	}

	confirmedAt := time.Now().UTC()
	if j.TimestampUs > 0 {
		confirmedAt = time.UnixMicro(j.TimestampUs).UTC()
	}

	return &event.PaymentConfirmed{
		PaymentRef:  j.PaymentRef,
		Principal:   j.PrincipalID,
		OfferingID:  j.OfferingID,
		ClientSeed:  j.ClientSeed,
		AmountMinor: amount,
		Currency:    unit.Symbol,
		ConfirmedAt: confirmedAt,
	}, nil
}

// parseMinorAmount accepts a JSON string or integer and returns the
// canonical base-10 form. Producers differ on which they send.
func parseMinorAmount(raw json.RawMessage) (string, error) {
	if len(raw) == 0 {
		return "", failure.New(failure.InputMalformed, "amount_minor is required")
	}
	s := string(raw)
	if raw[0] == '"' {
		if err := json.Unmarshal(raw, &s); err != nil {
			return "", failure.Wrap(failure.InputMalformed, err, "amount_minor")
		}
	}
	n, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		if ne, ok := err.(*strconv.NumError); ok && ne.Err == strconv.ErrRange {
			return "", failure.New(failure.ArithmeticOverflow, "amount_minor %s exceeds u64", s)
		}
		return "", failure.New(failure.InputMalformed, "amount_minor %q is not a non-negative integer", s)
	}
	if n == 0 {
		return "", failure.New(failure.InputMalformed, "amount_minor must be positive")
	}
	return fmt.Sprintf("%d", n), nil
}
