package server_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"google.golang.org/grpc/codes"

	"LootLedger/internal/core"
	"LootLedger/internal/failure"
	"LootLedger/internal/fairness"
	"LootLedger/internal/observability"
	"LootLedger/internal/pricelock"
	"LootLedger/internal/query"
	"LootLedger/internal/server"
)

// ============================================================================
// Fakes
// ============================================================================

type fakeSettlement struct {
	outcomes  map[string]*core.Outcome
	decideErr error
	lastOpen  core.OpenRequest
	lastDec   core.DecideRequest
	lastLimit int
}

func (f *fakeSettlement) Open(_ context.Context, req core.OpenRequest) (*core.Outcome, error) {
	f.lastOpen = req
	if req.PaymentRef == "" {
		return nil, failure.New(failure.InputMalformed, "payment ref is empty")
	}
	o := &core.Outcome{ID: "o-1", PrincipalID: req.PrincipalID, PaymentRef: req.PaymentRef, State: core.StateDeciding}
	f.outcomes[o.ID] = o
	return o, nil
}

func (f *fakeSettlement) QuoteBuyback(_ context.Context, id string) (*core.Quote, error) {
	if _, ok := f.outcomes[id]; !ok {
		return nil, failure.New(failure.NotFound, "outcome %s", id)
	}
	return &core.Quote{OutcomeID: id, Amount: "4.25", AmountMinor: "4250000", Currency: "USDC"}, nil
}

func (f *fakeSettlement) Decide(_ context.Context, req core.DecideRequest) (*core.Outcome, error) {
	f.lastDec = req
	if f.decideErr != nil {
		return nil, f.decideErr
	}
	o := f.outcomes[req.OutcomeID]
	o.State = core.StateBoughtBack
	return o, nil
}

func (f *fakeSettlement) Get(_ context.Context, id string) (*core.Outcome, error) {
	o, ok := f.outcomes[id]
	if !ok {
		return nil, failure.New(failure.NotFound, "outcome %s", id)
	}
	return o, nil
}

func (f *fakeSettlement) ListByPrincipal(_ context.Context, _ string, limit int) ([]*core.Outcome, error) {
	f.lastLimit = limit
	return nil, nil
}

func (f *fakeSettlement) VerifyDraw(_ context.Context, id string) (*core.DrawVerification, error) {
	return &core.DrawVerification{OutcomeID: id, HashValid: true, SelectionValid: true}, nil
}

func (f *fakeSettlement) PoolStatistics(context.Context, string) (fairness.PoolStatistics, error) {
	return fairness.PoolStatistics{TotalWeight: 100}, nil
}

type fakeLocks struct{}

func (fakeLocks) Stats(context.Context) (pricelock.Stats, error) {
	return pricelock.Stats{Total: 3, Active: 1, Used: 2}, nil
}

// ============================================================================
// Harness
// ============================================================================

type harness struct {
	srv     *httptest.Server
	settle  *fakeSettlement
	metrics *observability.Metrics
	sqlMock sqlmock.Sqlmock
}

func newTestHarness(t *testing.T) *harness {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })

	settle := &fakeSettlement{outcomes: map[string]*core.Outcome{}}
	metrics := observability.NewMetricsWith(prometheus.NewRegistry())
	api := &server.API{
		Settlement: settle,
		Query:      query.NewQueryService(db),
		Locks:      fakeLocks{},
		Logger:     zerolog.Nop(),
		Metrics:    metrics,
	}
	mux, err := api.Mux()
	if err != nil {
		t.Fatal(err)
	}
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return &harness{srv: srv, settle: settle, metrics: metrics, sqlMock: mock}
}

func (h *harness) do(t *testing.T, method, path, body string) (int, map[string]interface{}) {
	t.Helper()
	req, err := http.NewRequest(method, h.srv.URL+path, strings.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	out := map[string]interface{}{}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode %s %s: %v", method, path, err)
	}
	return resp.StatusCode, out
}

// ============================================================================
// Test: Settlement routes
// ============================================================================

func TestAPI_OpenAndGet(t *testing.T) {
	h := newTestHarness(t)

	code, body := h.do(t, "POST", "/v1/outcomes",
		`{"payment_ref":"sig-1","principal_id":"wallet1","offering_id":"starter","client_seed":"abc"}`)
	if code != http.StatusOK {
		t.Fatalf("status = %d body = %v", code, body)
	}
	if body["id"] != "o-1" || body["state"] != "DECIDING" {
		t.Errorf("body = %v", body)
	}
	if h.settle.lastOpen.ClientSeed != "abc" {
		t.Errorf("client seed = %q", h.settle.lastOpen.ClientSeed)
	}

	code, body = h.do(t, "GET", "/v1/outcomes/o-1", "")
	if code != http.StatusOK || body["payment_ref"] != "sig-1" {
		t.Errorf("get: %d %v", code, body)
	}
}

func TestAPI_ErrorBody(t *testing.T) {
	h := newTestHarness(t)

	code, body := h.do(t, "GET", "/v1/outcomes/missing", "")
	if code != http.StatusNotFound {
		t.Errorf("status = %d", code)
	}
	if body["code"] != "NOT_FOUND" || body["hint"] != "abandon" {
		t.Errorf("body = %v", body)
	}

	code, body = h.do(t, "POST", "/v1/outcomes", `{not json`)
	if code != http.StatusBadRequest || body["code"] != "INPUT_MALFORMED" {
		t.Errorf("malformed: %d %v", code, body)
	}
}

func TestAPI_DecisionPathParam(t *testing.T) {
	h := newTestHarness(t)
	h.do(t, "POST", "/v1/outcomes", `{"payment_ref":"sig-1","principal_id":"wallet1","offering_id":"starter"}`)

	code, body := h.do(t, "POST", "/v1/outcomes/o-1/decision",
		`{"outcome_id":"ignored","choice":"BUYBACK","claimed_amount_minor":"4250000"}`)
	if code != http.StatusOK {
		t.Fatalf("status = %d body = %v", code, body)
	}
	if h.settle.lastDec.OutcomeID != "o-1" {
		t.Errorf("outcome id = %q, path param should win", h.settle.lastDec.OutcomeID)
	}
	if body["state"] != "BOUGHT_BACK" {
		t.Errorf("state = %v", body["state"])
	}
}

func TestAPI_DecisionFailureStatus(t *testing.T) {
	tests := []struct {
		err    error
		status int
		hint   string
	}{
		{failure.New(failure.DecisionConflict, "busy"), http.StatusConflict, "retry"},
		{failure.New(failure.LockExpired, "late"), http.StatusBadRequest, "recompute_and_retry"},
		{failure.New(failure.ExternalTimeout, "slow"), http.StatusGatewayTimeout, "retry"},
		{failure.New(failure.ExternalFailure, "down"), http.StatusServiceUnavailable, "retry"},
		{failure.New(failure.ReplayDetected, "seen"), http.StatusConflict, "abandon"},
	}
	for _, tt := range tests {
		h := newTestHarness(t)
		h.do(t, "POST", "/v1/outcomes", `{"payment_ref":"sig-1","principal_id":"wallet1","offering_id":"starter"}`)
		h.settle.decideErr = tt.err

		code, body := h.do(t, "POST", "/v1/outcomes/o-1/decision", `{"choice":"BUYBACK","claimed_amount_minor":"1"}`)
		if code != tt.status {
			t.Errorf("%s: status = %d, want %d", failure.CodeOf(tt.err), code, tt.status)
		}
		if body["hint"] != tt.hint {
			t.Errorf("%s: hint = %v, want %s", failure.CodeOf(tt.err), body["hint"], tt.hint)
		}
	}
}

func TestAPI_QuoteAndVerify(t *testing.T) {
	h := newTestHarness(t)
	h.do(t, "POST", "/v1/outcomes", `{"payment_ref":"sig-1","principal_id":"wallet1","offering_id":"starter"}`)

	code, body := h.do(t, "POST", "/v1/outcomes/o-1/quote", "")
	if code != http.StatusOK || body["amount_minor"] != "4250000" {
		t.Errorf("quote: %d %v", code, body)
	}

	code, body = h.do(t, "GET", "/v1/outcomes/o-1/verify", "")
	if code != http.StatusOK || body["hash_valid"] != true {
		t.Errorf("verify: %d %v", code, body)
	}
}

func TestAPI_ListLimit(t *testing.T) {
	h := newTestHarness(t)

	code, body := h.do(t, "GET", "/v1/principals/wallet1/outcomes?limit=25", "")
	if code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	if h.settle.lastLimit != 25 {
		t.Errorf("limit = %d", h.settle.lastLimit)
	}
	if list, ok := body["outcomes"].([]interface{}); !ok || len(list) != 0 {
		t.Errorf("outcomes = %v", body["outcomes"])
	}

	code, _ = h.do(t, "GET", "/v1/principals/wallet1/outcomes?limit=ten", "")
	if code != http.StatusBadRequest {
		t.Errorf("bad limit status = %d", code)
	}
}

// ============================================================================
// Test: Admin routes
// ============================================================================

func TestAPI_LockStats(t *testing.T) {
	h := newTestHarness(t)
	code, body := h.do(t, "GET", "/v1/admin/locks", "")
	if code != http.StatusOK || body["used"] != float64(2) {
		t.Errorf("lock stats: %d %v", code, body)
	}
}

func TestAPI_Treasury(t *testing.T) {
	h := newTestHarness(t)
	h.sqlMock.ExpectQuery("SELECT currency").
		WillReturnRows(sqlmock.NewRows([]string{"currency", "entry", "payout"}).AddRow("USDC", 5000000, 4250000))

	code, body := h.do(t, "GET", "/v1/admin/treasury", "")
	if code != http.StatusOK {
		t.Fatalf("status = %d body = %v", code, body)
	}
	flows := body["flows"].([]interface{})
	flow := flows[0].(map[string]interface{})
	if flow["net_retained"] != float64(750000) {
		t.Errorf("flow = %v", flow)
	}
	if err := h.sqlMock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestAPI_JournalsRequiresAccount(t *testing.T) {
	h := newTestHarness(t)
	code, body := h.do(t, "GET", "/v1/admin/journals", "")
	if code != http.StatusBadRequest || body["code"] != "INPUT_MALFORMED" {
		t.Errorf("journals: %d %v", code, body)
	}
}

func TestAPI_RecordsMetrics(t *testing.T) {
	h := newTestHarness(t)
	h.do(t, "GET", "/v1/outcomes/missing", "")
	h.do(t, "GET", "/v1/admin/locks", "")

	if got := promtest.ToFloat64(h.metrics.QueryRequests.WithLabelValues("get_outcome", "404")); got != 1 {
		t.Errorf("get_outcome 404 = %v", got)
	}
	if got := promtest.ToFloat64(h.metrics.QueryRequests.WithLabelValues("lock_stats", "200")); got != 1 {
		t.Errorf("lock_stats 200 = %v", got)
	}
}

// ============================================================================
// Test: Code mapping
// ============================================================================

func TestGRPCCode(t *testing.T) {
	tests := []struct {
		code failure.Code
		want codes.Code
	}{
		{failure.InputMalformed, codes.InvalidArgument},
		{failure.LockNotFound, codes.NotFound},
		{failure.AmountMismatch, codes.FailedPrecondition},
		{failure.DecisionAlreadyMade, codes.AlreadyExists},
		{failure.PaymentUnverified, codes.PermissionDenied},
		{failure.Internal, codes.Internal},
	}
	for _, tt := range tests {
		if got := server.GRPCCode(tt.code); got != tt.want {
			t.Errorf("%s: got %s, want %s", tt.code, got, tt.want)
		}
	}

	if st := server.Status(failure.New(failure.ExternalTimeout, "slow")); st.Code() != codes.DeadlineExceeded {
		t.Errorf("status code = %s", st.Code())
	}
}

func TestAPI_RebuildNotConfigured(t *testing.T) {
	h := newTestHarness(t)
	code, body := h.do(t, "POST", "/v1/admin/balances/rebuild", "")
	if code != http.StatusNotFound || body["code"] != "NOT_FOUND" {
		t.Errorf("rebuild: %d %v", code, body)
	}
}
