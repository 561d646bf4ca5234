package chain_test

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/rs/zerolog"

	"LootLedger/internal/chain"
	"LootLedger/internal/core"
	"LootLedger/internal/failure"
	"LootLedger/internal/retry"
)

// ============================================================================
// Fake RPC node
// ============================================================================

type fakeNode struct {
	statusErr   interface{}
	missing     bool
	txBase64    string
	preBalances []uint64
	post        []uint64
	sendResult  string
	calls       map[string]int
}

func (n *fakeNode) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ID     json.RawMessage `json:"id"`
		Method string          `json:"method"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	n.calls[req.Method]++

	var result interface{}
	switch req.Method {
	case "getSignatureStatuses":
		var status interface{}
		if !n.missing {
			status = map[string]interface{}{
				"slot":               100,
				"confirmations":      nil,
				"err":                n.statusErr,
				"confirmationStatus": "finalized",
			}
		}
		result = map[string]interface{}{
			"context": map[string]interface{}{"slot": 101},
			"value":   []interface{}{status},
		}
	case "getTransaction":
		result = map[string]interface{}{
			"slot":        100,
			"blockTime":   nil,
			"transaction": []string{n.txBase64, "base64"},
			"meta": map[string]interface{}{
				"err":               nil,
				"fee":               5000,
				"preBalances":       n.preBalances,
				"postBalances":      n.post,
				"innerInstructions": []interface{}{},
				"logMessages":       []string{},
				"preTokenBalances":  []interface{}{},
				"postTokenBalances": []interface{}{},
				"loadedAddresses":   map[string]interface{}{"writable": []string{}, "readonly": []string{}},
			},
		}
	case "sendTransaction":
		result = n.sendResult
	default:
		http.Error(w, "unexpected method "+req.Method, http.StatusBadRequest)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      req.ID,
		"result":  result,
	})
}

type testTx struct {
	signature string
	payer     solana.PublicKey
	treasury  solana.PublicKey
}

// newTestNode builds a committed SOL transfer of `paid` lamports from a
// fresh payer to a fresh treasury.
func newTestNode(t *testing.T, paid uint64) (*fakeNode, testTx, *httptest.Server) {
	t.Helper()
	payer := solana.NewWallet().PublicKey()
	treasury := solana.NewWallet().PublicKey()

	tx, err := solana.NewTransaction([]solana.Instruction{
		solana.NewInstruction(solana.SystemProgramID, solana.AccountMetaSlice{
			solana.NewAccountMeta(payer, true, true),
			solana.NewAccountMeta(treasury, true, false),
		}, []byte{2, 0, 0, 0}),
	}, solana.Hash(solana.NewWallet().PublicKey()), solana.TransactionPayer(payer))
	if err != nil {
		t.Fatalf("NewTransaction: %v", err)
	}
	var sig solana.Signature
	if _, err := rand.Read(sig[:]); err != nil {
		t.Fatal(err)
	}
	tx.Signatures = []solana.Signature{sig}
	raw, err := tx.MarshalBinary()
	if err != nil {
		t.Fatalf("MarshalBinary: %v", err)
	}

	node := &fakeNode{
		txBase64:    base64.StdEncoding.EncodeToString(raw),
		preBalances: []uint64{10_000_000_000, 0, 1},
		post:        []uint64{10_000_000_000 - paid - 5000, paid, 1},
		calls:       map[string]int{},
	}
	srv := httptest.NewServer(node)
	t.Cleanup(srv.Close)
	return node, testTx{signature: sig.String(), payer: payer, treasury: treasury}, srv
}

func newTestRunner() *retry.Runner {
	return retry.NewRunner(retry.Policy{
		Attempts:        2,
		AttemptTimeout:  time.Second,
		InitialInterval: time.Millisecond,
		MaxInterval:     time.Millisecond,
		Multiplier:      1,
	}, zerolog.Nop(), nil)
}

func proof(tx testTx, amount string) core.PaymentProof {
	return core.PaymentProof{
		Reference:   tx.signature,
		PrincipalID: tx.payer.String(),
		Currency:    "SOL",
		AmountMinor: amount,
	}
}

// ============================================================================
// Test: Client
// ============================================================================

func TestClient_FetchCommitted(t *testing.T) {
	_, tx, srv := newTestNode(t, 500_000_000)
	client := chain.NewClient(srv.URL, 0, 1, zerolog.Nop())

	got, err := client.Fetch(context.Background(), tx.signature)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if got.FeePayer != tx.payer.String() {
		t.Errorf("fee payer = %s", got.FeePayer)
	}
	if got.Failed {
		t.Error("transaction reported failed")
	}
	if got.Slot != 100 {
		t.Errorf("slot = %d", got.Slot)
	}
	delta, ok := got.BalanceDelta(tx.treasury.String())
	if !ok || delta != 500_000_000 {
		t.Errorf("treasury delta = %d, %v", delta, ok)
	}
}

func TestClient_FailedStatusSkipsTransactionRead(t *testing.T) {
	node, tx, srv := newTestNode(t, 1)
	node.statusErr = map[string]interface{}{"InstructionError": []interface{}{0, "Custom"}}
	client := chain.NewClient(srv.URL, 0, 1, zerolog.Nop())

	got, err := client.FetchCommitted(context.Background(), tx.signature)
	if err != nil {
		t.Fatal(err)
	}
	if !got.Failed {
		t.Error("expected failed transaction")
	}
	if node.calls["getTransaction"] != 0 {
		t.Errorf("getTransaction called %d times", node.calls["getTransaction"])
	}
}

func TestClient_UnknownSignature(t *testing.T) {
	node, tx, srv := newTestNode(t, 1)
	node.missing = true
	client := chain.NewClient(srv.URL, 0, 1, zerolog.Nop())

	_, err := client.Fetch(context.Background(), tx.signature)
	if !failure.Is(err, failure.NotFound) {
		t.Errorf("err = %v, want NOT_FOUND", err)
	}
}

func TestClient_MalformedSignature(t *testing.T) {
	client := chain.NewClient("http://127.0.0.1:1", 0, 1, zerolog.Nop())
	_, err := client.Fetch(context.Background(), "not-base58-0OIl")
	if !failure.Is(err, failure.InputMalformed) {
		t.Errorf("err = %v, want INPUT_MALFORMED", err)
	}
}

// ============================================================================
// Test: PaymentVerifier
// ============================================================================

func TestPaymentVerifier_Accepts(t *testing.T) {
	_, tx, srv := newTestNode(t, 500_000_000)
	v := chain.NewPaymentVerifier(chain.NewClient(srv.URL, 0, 1, zerolog.Nop()), tx.treasury.String(), newTestRunner(), zerolog.Nop())

	if err := v.VerifyPayment(context.Background(), proof(tx, "500000000")); err != nil {
		t.Errorf("VerifyPayment: %v", err)
	}
}

func TestPaymentVerifier_Rejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(p *core.PaymentProof)
	}{
		{"underpaid", func(p *core.PaymentProof) { p.AmountMinor = "500000001" }},
		{"wrong payer", func(p *core.PaymentProof) { p.PrincipalID = solana.NewWallet().PublicKey().String() }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, tx, srv := newTestNode(t, 500_000_000)
			v := chain.NewPaymentVerifier(chain.NewClient(srv.URL, 0, 1, zerolog.Nop()), tx.treasury.String(), newTestRunner(), zerolog.Nop())

			p := proof(tx, "500000000")
			tt.mutate(&p)
			if err := v.VerifyPayment(context.Background(), p); failure.CodeOf(err) != failure.PaymentUnverified {
				t.Errorf("err = %v, want PAYMENT_UNVERIFIED", err)
			}
		})
	}
}

func TestPaymentVerifier_TokenPaymentSkipsBalance(t *testing.T) {
	_, tx, srv := newTestNode(t, 0)
	v := chain.NewPaymentVerifier(chain.NewClient(srv.URL, 0, 1, zerolog.Nop()), tx.treasury.String(), newTestRunner(), zerolog.Nop())

	p := proof(tx, "5000000")
	p.Currency = "USDC"
	if err := v.VerifyPayment(context.Background(), p); err != nil {
		t.Errorf("VerifyPayment: %v", err)
	}
}

func TestPaymentVerifier_InvisiblePaymentRetries(t *testing.T) {
	node, tx, srv := newTestNode(t, 1)
	node.missing = true
	v := chain.NewPaymentVerifier(chain.NewClient(srv.URL, 0, 1, zerolog.Nop()), "", newTestRunner(), zerolog.Nop())

	err := v.VerifyPayment(context.Background(), proof(tx, "1"))
	if failure.CodeOf(err) != failure.PaymentUnverified {
		t.Errorf("err = %v", err)
	}
	if node.calls["getSignatureStatuses"] != 2 {
		t.Errorf("status calls = %d, want 2", node.calls["getSignatureStatuses"])
	}
}

// ============================================================================
// Test: Dispatcher
// ============================================================================

type recordingDispatcher struct{ got []core.Payout }

func (r *recordingDispatcher) DispatchPayout(_ context.Context, p core.Payout) (core.Receipt, error) {
	r.got = append(r.got, p)
	return core.Receipt{}, nil
}

func TestDispatcher_SubmitsSignedTransaction(t *testing.T) {
	node, tx, srv := newTestNode(t, 1)
	node.sendResult = tx.signature
	next := &recordingDispatcher{}
	d := chain.NewDispatcher(chain.NewClient(srv.URL, 0, 1, zerolog.Nop()), next, zerolog.Nop())

	receipt, err := d.DispatchPayout(context.Background(), core.Payout{
		OutcomeID:         "o-1",
		SignedTransaction: node.txBase64,
	})
	if err != nil {
		t.Fatalf("DispatchPayout: %v", err)
	}
	if receipt.SignatureID != tx.signature {
		t.Errorf("signature = %s, want %s", receipt.SignatureID, tx.signature)
	}
	if node.calls["sendTransaction"] != 1 || len(next.got) != 0 {
		t.Errorf("send calls = %d, forwarded = %d", node.calls["sendTransaction"], len(next.got))
	}
}

func TestDispatcher_UnsignedGoesToNext(t *testing.T) {
	next := &recordingDispatcher{}
	d := chain.NewDispatcher(chain.NewClient("http://127.0.0.1:1", 0, 1, zerolog.Nop()), next, zerolog.Nop())

	if _, err := d.DispatchPayout(context.Background(), core.Payout{OutcomeID: "o-1", AmountMinor: "5"}); err != nil {
		t.Fatal(err)
	}
	if len(next.got) != 1 || next.got[0].AmountMinor != "5" {
		t.Errorf("forwarded = %+v", next.got)
	}

	bare := chain.NewDispatcher(chain.NewClient("http://127.0.0.1:1", 0, 1, zerolog.Nop()), nil, zerolog.Nop())
	if _, err := bare.DispatchPayout(context.Background(), core.Payout{OutcomeID: "o-1"}); !failure.Is(err, failure.InputMalformed) {
		t.Errorf("err = %v", err)
	}
}

func TestDispatcher_RejectsUndecodable(t *testing.T) {
	d := chain.NewDispatcher(chain.NewClient("http://127.0.0.1:1", 0, 1, zerolog.Nop()), nil, zerolog.Nop())
	_, err := d.DispatchPayout(context.Background(), core.Payout{OutcomeID: "o-1", SignedTransaction: "%%%"})
	if !failure.Is(err, failure.InputMalformed) {
		t.Errorf("err = %v", err)
	}
}
