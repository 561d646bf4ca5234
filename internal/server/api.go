package server

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
	"github.com/rs/zerolog"

	"LootLedger/internal/core"
	"LootLedger/internal/failure"
	"LootLedger/internal/fairness"
	"LootLedger/internal/observability"
	"LootLedger/internal/pricelock"
	"LootLedger/internal/query"
)

// Settlement is the orchestrator surface the API exposes.
type Settlement interface {
	Open(ctx context.Context, req core.OpenRequest) (*core.Outcome, error)
	QuoteBuyback(ctx context.Context, outcomeID string) (*core.Quote, error)
	Decide(ctx context.Context, req core.DecideRequest) (*core.Outcome, error)
	Get(ctx context.Context, id string) (*core.Outcome, error)
	ListByPrincipal(ctx context.Context, principalID string, limit int) ([]*core.Outcome, error)
	VerifyDraw(ctx context.Context, id string) (*core.DrawVerification, error)
	PoolStatistics(ctx context.Context, offeringID string) (fairness.PoolStatistics, error)
}

// LockStats reports price lock occupancy.
type LockStats interface {
	Stats(ctx context.Context) (pricelock.Stats, error)
}

// API holds the JSON handlers. Query and Locks may be nil when no
// database or registry is wired.
type API struct {
	Settlement Settlement
	Query      *query.QueryService
	// Rebuild recomputes the balance projection; nil disables the route.
	Rebuild func(ctx context.Context) error
	Locks   LockStats
	Logger  zerolog.Logger
	Metrics *observability.Metrics
	// StaleAfter is the DECIDING age the integrity check flags.
	StaleAfter time.Duration

	marshaler runtime.Marshaler
}

// ErrorBody is the JSON error shape.
type ErrorBody struct {
	Code    string `json:"code"`
	Hint    string `json:"hint"`
	Message string `json:"message"`
}

type route struct {
	method, pattern, name string
	handler               func(r *http.Request, params map[string]string) (interface{}, error)
}

// Mux builds the gateway mux with every route registered.
func (a *API) Mux() (*runtime.ServeMux, error) {
	a.marshaler = &runtime.JSONBuiltin{}
	mux := runtime.NewServeMux()

	routes := []route{
		{"POST", "/v1/outcomes", "open", a.open},
		{"GET", "/v1/outcomes/{id}", "get_outcome", a.getOutcome},
		{"POST", "/v1/outcomes/{id}/quote", "quote", a.quote},
		{"POST", "/v1/outcomes/{id}/decision", "decide", a.decide},
		{"GET", "/v1/outcomes/{id}/verify", "verify", a.verify},
		{"GET", "/v1/outcomes/{id}/events", "events", a.events},
		{"GET", "/v1/principals/{principal_id}/outcomes", "list_outcomes", a.listOutcomes},
		{"GET", "/v1/offerings/{id}/statistics", "statistics", a.statistics},
		{"GET", "/v1/admin/locks", "lock_stats", a.lockStats},
		{"GET", "/v1/admin/treasury", "treasury", a.treasury},
		{"GET", "/v1/admin/journals", "journals", a.journals},
		{"GET", "/v1/admin/balances", "balances", a.balances},
		{"POST", "/v1/admin/balances/rebuild", "rebuild_balances", a.rebuildBalances},
		{"GET", "/v1/admin/integrity", "integrity", a.integrity},
	}
	for _, rt := range routes {
		if err := mux.HandlePath(rt.method, rt.pattern, a.wrap(rt)); err != nil {
			return nil, err
		}
	}
	return mux, nil
}

func (a *API) wrap(rt route) runtime.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request, params map[string]string) {
		start := time.Now()
		body, err := rt.handler(r, params)
		code := http.StatusOK
		if err != nil {
			code = runtime.HTTPStatusFromCode(GRPCCode(failure.CodeOf(err)))
			fc := failure.CodeOf(err)
			body = ErrorBody{Code: string(fc), Hint: string(fc.Hint()), Message: err.Error()}
			if code >= 500 {
				a.Logger.Error().Err(err).Str("route", rt.name).Msg("request failed")
			}
		}
		a.write(w, code, body)

		if a.Metrics != nil {
			a.Metrics.QueryRequests.WithLabelValues(rt.name, strconv.Itoa(code)).Inc()
			a.Metrics.QueryDuration.WithLabelValues(rt.name).Observe(time.Since(start).Seconds())
		}
	}
}

func (a *API) write(w http.ResponseWriter, code int, body interface{}) {
	data, err := a.marshaler.Marshal(body)
	if err != nil {
		a.Logger.Error().Err(err).Msg("encode response")
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", a.marshaler.ContentType(body))
	w.WriteHeader(code)
	w.Write(data)
}

func (a *API) decode(r *http.Request, v interface{}) error {
	if err := a.marshaler.NewDecoder(r.Body).Decode(v); err != nil {
		return failure.Wrap(failure.InputMalformed, err, "decode request body")
	}
	return nil
}

// ============================================================================
// Settlement routes
// ============================================================================

func (a *API) open(r *http.Request, _ map[string]string) (interface{}, error) {
	var req core.OpenRequest
	if err := a.decode(r, &req); err != nil {
		return nil, err
	}
	return a.Settlement.Open(r.Context(), req)
}

func (a *API) getOutcome(r *http.Request, p map[string]string) (interface{}, error) {
	return a.Settlement.Get(r.Context(), p["id"])
}

func (a *API) quote(r *http.Request, p map[string]string) (interface{}, error) {
	return a.Settlement.QuoteBuyback(r.Context(), p["id"])
}

func (a *API) decide(r *http.Request, p map[string]string) (interface{}, error) {
	var req core.DecideRequest
	if err := a.decode(r, &req); err != nil {
		return nil, err
	}
	req.OutcomeID = p["id"]
	return a.Settlement.Decide(r.Context(), req)
}

func (a *API) verify(r *http.Request, p map[string]string) (interface{}, error) {
	return a.Settlement.VerifyDraw(r.Context(), p["id"])
}

func (a *API) listOutcomes(r *http.Request, p map[string]string) (interface{}, error) {
	limit, err := intParam(r, "limit")
	if err != nil {
		return nil, err
	}
	outcomes, err := a.Settlement.ListByPrincipal(r.Context(), p["principal_id"], limit)
	if err != nil {
		return nil, err
	}
	if outcomes == nil {
		outcomes = []*core.Outcome{}
	}
	return map[string]interface{}{"outcomes": outcomes}, nil
}

func (a *API) statistics(r *http.Request, p map[string]string) (interface{}, error) {
	return a.Settlement.PoolStatistics(r.Context(), p["id"])
}

// ============================================================================
// Read-model and admin routes
// ============================================================================

func (a *API) events(r *http.Request, p map[string]string) (interface{}, error) {
	if a.Query == nil {
		return nil, failure.New(failure.NotFound, "audit log not configured")
	}
	events, err := a.Query.GetOutcomeEvents(r.Context(), p["id"])
	if err != nil {
		return nil, failure.Wrap(failure.Internal, err, "load events")
	}
	return map[string]interface{}{"events": events}, nil
}

func (a *API) lockStats(r *http.Request, _ map[string]string) (interface{}, error) {
	if a.Locks == nil {
		return nil, failure.New(failure.NotFound, "lock registry not configured")
	}
	return a.Locks.Stats(r.Context())
}

func (a *API) treasury(r *http.Request, _ map[string]string) (interface{}, error) {
	if a.Query == nil {
		return nil, failure.New(failure.NotFound, "audit log not configured")
	}
	flows, err := a.Query.GetTreasuryFlows(r.Context())
	if err != nil {
		return nil, failure.Wrap(failure.Internal, err, "treasury flows")
	}
	return map[string]interface{}{"flows": flows}, nil
}

func (a *API) integrity(r *http.Request, _ map[string]string) (interface{}, error) {
	if a.Query == nil {
		return nil, failure.New(failure.NotFound, "audit log not configured")
	}
	staleAfter := a.StaleAfter
	if staleAfter <= 0 {
		staleAfter = 15 * time.Minute
	}
	report, err := a.Query.VerifyIntegrity(r.Context(), staleAfter)
	if err != nil {
		return nil, failure.Wrap(failure.Internal, err, "verify integrity")
	}
	return report, nil
}

func (a *API) journals(r *http.Request, _ map[string]string) (interface{}, error) {
	if a.Query == nil {
		return nil, failure.New(failure.NotFound, "audit log not configured")
	}
	prefix := r.URL.Query().Get("account")
	if prefix == "" {
		return nil, failure.New(failure.InputMalformed, "account prefix is required")
	}
	limit, err := intParam(r, "limit")
	if err != nil {
		return nil, err
	}
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	var after *int64
	if s := r.URL.Query().Get("before"); s != "" {
		ts, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return nil, failure.New(failure.InputMalformed, "before %q is not a timestamp", s)
		}
		after = &ts
	}
	entries, err := a.Query.GetJournalHistory(r.Context(), prefix, limit, after)
	if err != nil {
		return nil, failure.Wrap(failure.Internal, err, "journal history")
	}
	return map[string]interface{}{"journals": entries}, nil
}

func (a *API) balances(r *http.Request, _ map[string]string) (interface{}, error) {
	if a.Query == nil {
		return nil, failure.New(failure.NotFound, "audit log not configured")
	}
	balances, err := a.Query.GetBalances(r.Context(), r.URL.Query().Get("account"))
	if err != nil {
		return nil, failure.Wrap(failure.Internal, err, "balances")
	}
	return map[string]interface{}{"balances": balances}, nil
}

func (a *API) rebuildBalances(r *http.Request, _ map[string]string) (interface{}, error) {
	if a.Rebuild == nil {
		return nil, failure.New(failure.NotFound, "balance projection not configured")
	}
	start := time.Now()
	if err := a.Rebuild(r.Context()); err != nil {
		return nil, failure.Wrap(failure.Internal, err, "rebuild balances")
	}
	a.Logger.Info().Dur("took", time.Since(start)).Msg("balance projection rebuilt")
	return map[string]interface{}{"rebuilt": true}, nil
}

func intParam(r *http.Request, name string) (int, error) {
	s := r.URL.Query().Get(name)
	if s == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, failure.New(failure.InputMalformed, "%s %q is not an integer", name, s)
	}
	return n, nil
}
