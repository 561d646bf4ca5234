package ingestion_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"LootLedger/internal/core"
	"LootLedger/internal/event"
	"LootLedger/internal/failure"
	"LootLedger/internal/ingestion"
)

func rawFromJSON(t *testing.T, v interface{}) ingestion.RawEvent {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return ingestion.RawEvent{
		Subject:   "loot.payments.confirmed.starter",
		EventType: "PaymentConfirmed",
		Data:      data,
		Timestamp: time.Now(),
	}
}

func validPayment() map[string]interface{} {
	return map[string]interface{}{
		"payment_ref":  "5xSig",
		"principal_id": "wallet1",
		"offering_id":  "starter",
		"client_seed":  "lucky",
		"amount_minor": "5000000",
		"currency":     "usdc",
		"timestamp_us": int64(1700000000000000),
	}
}

// ============================================================================
// Test: Parser
// ============================================================================

func TestParsePaymentConfirmed(t *testing.T) {
	evt, err := ingestion.ParseRawEvent(rawFromJSON(t, validPayment()), "PaymentConfirmed")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	p, ok := evt.(*event.PaymentConfirmed)
	if !ok {
		t.Fatalf("expected *event.PaymentConfirmed, got %T", evt)
	}
	if p.PaymentRef != "5xSig" || p.Principal != "wallet1" || p.OfferingID != "starter" {
		t.Errorf("ids = %+v", p)
	}
	if p.Currency != "USDC" {
		t.Errorf("currency: got %s, want USDC", p.Currency)
	}
	if p.AmountMinor != "5000000" {
		t.Errorf("amount: got %s", p.AmountMinor)
	}
	if !p.ConfirmedAt.Equal(time.UnixMicro(1700000000000000)) {
		t.Errorf("confirmed_at: got %v", p.ConfirmedAt)
	}
	if p.IdempotencyKey() != "5xSig" {
		t.Errorf("idempotency key: got %s", p.IdempotencyKey())
	}
}

func TestParsePaymentConfirmed_NumericAmount(t *testing.T) {
	payload := validPayment()
	payload["amount_minor"] = 1500000000
	payload["currency"] = "SOL"

	evt, err := ingestion.ParseRawEvent(rawFromJSON(t, payload), "PaymentConfirmed")
	if err != nil {
		t.Fatal(err)
	}
	if got := evt.(*event.PaymentConfirmed).AmountMinor; got != "1500000000" {
		t.Errorf("amount: got %s", got)
	}
}

func TestParsePaymentConfirmed_Rejections(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(map[string]interface{})
		code   failure.Code
	}{
		{"missing ref", func(m map[string]interface{}) { delete(m, "payment_ref") }, failure.InputMalformed},
		{"missing principal", func(m map[string]interface{}) { m["principal_id"] = "" }, failure.InputMalformed},
		{"missing offering", func(m map[string]interface{}) { delete(m, "offering_id") }, failure.InputMalformed},
		{"unknown currency", func(m map[string]interface{}) { m["currency"] = "DOGE" }, failure.InputMalformed},
		{"negative amount", func(m map[string]interface{}) { m["amount_minor"] = "-5" }, failure.InputMalformed},
		{"fractional amount", func(m map[string]interface{}) { m["amount_minor"] = "1.5" }, failure.InputMalformed},
		{"zero amount", func(m map[string]interface{}) { m["amount_minor"] = "0" }, failure.InputMalformed},
		{"overflow", func(m map[string]interface{}) { m["amount_minor"] = "18446744073709551616" }, failure.ArithmeticOverflow},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			payload := validPayment()
			tt.mutate(payload)
			_, err := ingestion.ParseRawEvent(rawFromJSON(t, payload), "PaymentConfirmed")
			if failure.CodeOf(err) != tt.code {
				t.Errorf("got %v, want %s", err, tt.code)
			}
		})
	}
}

func TestParseRawEvent_UnknownType(t *testing.T) {
	_, err := ingestion.ParseRawEvent(rawFromJSON(t, validPayment()), "TradeFill")
	if !failure.Is(err, failure.InputMalformed) {
		t.Errorf("got %v", err)
	}
}

func TestParseRawEvent_BadJSON(t *testing.T) {
	raw := ingestion.RawEvent{Data: []byte("{not json")}
	_, err := ingestion.ParseRawEvent(raw, "PaymentConfirmed")
	if !failure.Is(err, failure.InputMalformed) {
		t.Errorf("got %v", err)
	}
}

// ============================================================================
// Test: Payment consumer
// ============================================================================

type fakeOpener struct {
	err  error
	reqs []core.OpenRequest
}

func (f *fakeOpener) Open(_ context.Context, req core.OpenRequest) (*core.Outcome, error) {
	f.reqs = append(f.reqs, req)
	if f.err != nil {
		return nil, f.err
	}
	return &core.Outcome{ID: "o-1", PaymentRef: req.PaymentRef}, nil
}

type acks struct{ ack, nak, term int }

func tracked(raw ingestion.RawEvent, a *acks) ingestion.RawEvent {
	raw.AckFunc = func() { a.ack++ }
	raw.NakFunc = func() { a.nak++ }
	raw.TermFunc = func() { a.term++ }
	return raw
}

func TestPaymentConsumer_Settlement(t *testing.T) {
	tests := []struct {
		name    string
		payload map[string]interface{}
		openErr error
		want    acks
	}{
		{"opened", validPayment(), nil, acks{ack: 1}},
		{"malformed is terminal", map[string]interface{}{"payment_ref": ""}, nil, acks{term: 1}},
		{"unverified is terminal", validPayment(), failure.New(failure.PaymentUnverified, "no transfer"), acks{term: 1}},
		{"timeout is redelivered", validPayment(), failure.New(failure.ExternalTimeout, "rpc slow"), acks{nak: 1}},
		{"uncoded is redelivered", validPayment(), errors.New("db down"), acks{nak: 1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opener := &fakeOpener{err: tt.openErr}
			consumer := ingestion.NewPaymentConsumer(opener, nil, zerolog.Nop(), nil)

			var got acks
			consumer.Handle(context.Background(), tracked(rawFromJSON(t, tt.payload), &got))
			if got != tt.want {
				t.Errorf("acks = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestPaymentConsumer_RunForwardsRequest(t *testing.T) {
	opener := &fakeOpener{}
	ch := make(chan ingestion.RawEvent, 1)
	consumer := ingestion.NewPaymentConsumer(opener, ch, zerolog.Nop(), nil)

	var got acks
	ch <- tracked(rawFromJSON(t, validPayment()), &got)
	close(ch)
	if err := consumer.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	if len(opener.reqs) != 1 {
		t.Fatalf("open calls = %d", len(opener.reqs))
	}
	req := opener.reqs[0]
	if req.PaymentRef != "5xSig" || req.ClientSeed != "lucky" {
		t.Errorf("request = %+v", req)
	}
	if got.ack != 1 {
		t.Errorf("acks = %+v", got)
	}
}

// ============================================================================
// Test: Publisher
// ============================================================================

func TestToPublishable(t *testing.T) {
	env, err := event.Wrap(&event.RewardKept{Outcome: "o-1", Principal: "wallet1", RewardID: "common"}, time.Unix(1700000000, 0))
	if err != nil {
		t.Fatal(err)
	}
	evt := ingestion.ToPublishable(core.CoreOutput{Envelope: env})
	if evt.EventType != "RewardKept" || evt.IdempotencyKey != "kept:o-1" {
		t.Errorf("evt = %+v", evt)
	}
	if got := ingestion.Subject(evt.EventType); got != "loot.settlement.events.RewardKept" {
		t.Errorf("subject = %s", got)
	}
}
