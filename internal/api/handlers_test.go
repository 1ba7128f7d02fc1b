package api_test

import (
	"bytes"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atmx/prediction-ledger/internal/api"
	"github.com/atmx/prediction-ledger/internal/fund"
	"github.com/atmx/prediction-ledger/internal/market"
	"github.com/atmx/prediction-ledger/internal/model"
	"github.com/atmx/prediction-ledger/internal/store"
)

var t0 = time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)

type testEnv struct {
	now    time.Time
	router chi.Router
}

func newTestEnv(t *testing.T, auth api.AuthConfig) *testEnv {
	t.Helper()
	ms := store.NewMemoryStore()
	env := &testEnv{now: t0}
	h := api.NewHandler(
		market.NewService(ms, decimal.NewFromInt(1000), nil),
		fund.NewService(ms, decimal.NewFromInt(1000), 0, nil),
		func() time.Time { return env.now },
	)

	r := chi.NewRouter()
	r.Use(api.Authenticate(auth))
	r.Route("/api/v1", h.Routes)
	env.router = r
	return env
}

func (env *testEnv) do(t *testing.T, method, path string, caller model.Identity, value string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, "/api/v1"+path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if caller != "" {
		req.Header.Set(api.CallerHeader, string(caller))
	}
	if value != "" {
		req.Header.Set(api.ValueHeader, value)
	}
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func errorCode(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	return decode[map[string]string](t, w)["code"]
}

func eventBody(resolve time.Time) map[string]any {
	return map[string]any{
		"question":     "Rain in Lisbon on May 3?",
		"resolve_date": resolve.UnixMilli(),
		"outcomes": []map[string]any{
			{"description": "yes", "deposit_per_supply": "10", "total_supply": 100},
			{"description": "no", "deposit_per_supply": "10", "total_supply": 100},
		},
		"metadata": map[string]any{"name": "lisbon-rain"},
	}
}

func TestLedgerFlow(t *testing.T) {
	env := newTestEnv(t, api.AuthConfig{})
	resolve := t0.Add(48 * time.Hour)

	w := env.do(t, "POST", "/events", "organizer", "1000", eventBody(resolve))
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.Equal(t, uint64(0), decode[api.IDResponse](t, w).ID)

	w = env.do(t, "POST", "/funds", "alice", "2000", map[string]any{"total_share": 100})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	fundID := decode[api.IDResponse](t, w).ID

	w = env.do(t, "POST", "/outcomes/0/bets", "alice", "500", map[string]any{"fund_id": fundID, "supplies": 50})
	require.Equal(t, http.StatusNoContent, w.Code, w.Body.String())

	w = env.do(t, "GET", "/events/0", "", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	detail := decode[model.EventDetail](t, w)
	assert.True(t, detail.Market.Pool.Equal(decimal.NewFromInt(1500)))
	assert.True(t, detail.Market.ResolveDate.Equal(resolve))
	require.Len(t, detail.Outcomes[0].Funds, 1)
	assert.Equal(t, uint64(50), detail.Outcomes[0].Funds[0].Supply)

	// Too early.
	w = env.do(t, "POST", "/events/0/resolve", "organizer", "", map[string]any{"outcome_id": 0})
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "ResolveDateNotMatch", errorCode(t, w))

	env.now = resolve
	w = env.do(t, "POST", "/events/0/resolve", "organizer", "", map[string]any{"outcome_id": 0})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = env.do(t, "GET", "/funds?owner=alice", "", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	funds := decode[[]model.FundSummary](t, w)
	require.Len(t, funds, 1)
	assert.True(t, funds[0].Fund.TotalFund.Equal(decimal.NewFromInt(3000)), "total_fund = %s", funds[0].Fund.TotalFund)
	require.NotNil(t, funds[0].OwnerShare)
	assert.Equal(t, uint64(100), *funds[0].OwnerShare)

	w = env.do(t, "GET", "/journal?from=1&limit=10", "", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	entries := decode[[]model.JournalEntry](t, w)
	require.Len(t, entries, 3)
	assert.Equal(t, model.OpResolveEvent, entries[2].Operation)
}

func TestProposalFlow(t *testing.T) {
	env := newTestEnv(t, api.AuthConfig{})

	w := env.do(t, "POST", "/funds", "alice", "1000", map[string]any{"total_share": 200})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = env.do(t, "POST", "/funds/0/proposals", "alice", "", map[string]any{
		"share":           120,
		"price":           "300",
		"duration":        int64(time.Hour / time.Millisecond),
		"proposed_person": "bob",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	tradeID := decode[api.IDResponse](t, w).ID

	w = env.do(t, "POST", "/proposals/0/accept", "carol", "300", nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "NotOwner", errorCode(t, w))

	w = env.do(t, "POST", "/proposals/0/accept", "bob", "299", nil)
	assert.Equal(t, http.StatusPaymentRequired, w.Code)
	assert.Equal(t, "DepositTooLow", errorCode(t, w))

	w = env.do(t, "POST", "/proposals/0/accept", "bob", "300", nil)
	require.Equal(t, http.StatusNoContent, w.Code, w.Body.String())

	w = env.do(t, "GET", "/funds/0/shares/bob", "", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, uint64(120), decode[fund.TransferResult](t, w).Share)

	w = env.do(t, "GET", "/proposals?proponent=alice", "", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	props := decode[[]model.Proposal](t, w)
	require.Len(t, props, 1)
	assert.Equal(t, model.TradeID(tradeID), props[0].Trade.ID)
	assert.True(t, props[0].Trade.IsCompleted)
	assert.Equal(t, model.Identity("bob"), props[0].Fund.Trader)

	w = env.do(t, "GET", "/funds/0/proposals", "", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode[model.FundProposals](t, w).Trades, 1)

	w = env.do(t, "POST", "/funds/0/transfers", "bob", "", map[string]any{"recipient": "dave", "amount": 10})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	res := decode[fund.TransferResult](t, w)
	assert.Equal(t, model.Identity("dave"), res.Recipient)
	assert.Equal(t, uint64(10), res.Share)
}

func TestCreateProposal_DurationBounds(t *testing.T) {
	env := newTestEnv(t, api.AuthConfig{})
	w := env.do(t, "POST", "/funds", "alice", "1000", map[string]any{"total_share": 200})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	longest := int64(math.MaxInt64 / int64(time.Millisecond))
	propose := func(duration int64) *httptest.ResponseRecorder {
		return env.do(t, "POST", "/funds/0/proposals", "alice", "", map[string]any{
			"share": 10, "price": "5", "duration": duration,
		})
	}

	// Past the longest representable window the request is rejected
	// instead of wrapping into a short or negative one.
	for _, duration := range []int64{longest + 1, 18446744073710, math.MaxInt64, -1} {
		w = propose(duration)
		assert.Equal(t, http.StatusBadRequest, w.Code, "duration %d: %s", duration, w.Body.String())
	}

	w = propose(longest)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = env.do(t, "GET", "/funds/0/proposals", "", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	trades := decode[model.FundProposals](t, w).Trades
	require.Len(t, trades, 1)
	assert.True(t, trades[0].CloseTime.After(t0.Add(100*365*24*time.Hour)),
		"close_time %s", trades[0].CloseTime)
}

func TestErrorMapping(t *testing.T) {
	env := newTestEnv(t, api.AuthConfig{})

	w := env.do(t, "POST", "/funds", "alice", "1000", map[string]any{"total_share": 99})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "AtLeast100Share", errorCode(t, w))

	w = env.do(t, "GET", "/events/5", "", "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "EventNotFound", errorCode(t, w))

	w = env.do(t, "GET", "/funds/3/proposals", "", "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "FundNotFound", errorCode(t, w))

	w = env.do(t, "POST", "/events", "organizer", "1000", map[string]any{
		"question":     "one outcome",
		"resolve_date": t0.Add(time.Hour).UnixMilli(),
		"outcomes":     []map[string]any{{"description": "only", "deposit_per_supply": "1", "total_supply": 1}},
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "AtLeastTwoOutcome", errorCode(t, w))

	w = env.do(t, "POST", "/funds", "alice", "1000", map[string]any{"total_share": 100})
	require.Equal(t, http.StatusCreated, w.Code)
	w = env.do(t, "POST", "/funds/0/transfers", "alice", "", map[string]any{"recipient": "bob", "amount": 50})
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "TraderNotIdentitied", errorCode(t, w))
}

func TestRequestValidation(t *testing.T) {
	env := newTestEnv(t, api.AuthConfig{})

	tests := []struct {
		name   string
		method string
		path   string
		caller model.Identity
		value  string
		body   any
		want   int
	}{
		{"no caller", "POST", "/funds", "", "1000", map[string]any{"total_share": 100}, http.StatusUnauthorized},
		{"negative value", "POST", "/funds", "alice", "-5", map[string]any{"total_share": 100}, http.StatusBadRequest},
		{"fractional value", "POST", "/funds", "alice", "1000.5", map[string]any{"total_share": 100}, http.StatusBadRequest},
		{"unknown field", "POST", "/funds", "alice", "1000", map[string]any{"total_share": 100, "owner": "x"}, http.StatusBadRequest},
		{"missing question", "POST", "/events", "alice", "1000", map[string]any{"resolve_date": 1}, http.StatusBadRequest},
		{"missing recipient", "POST", "/funds/0/transfers", "alice", "", map[string]any{"amount": 1}, http.StatusBadRequest},
		{"bad id", "GET", "/events/abc", "", "", nil, http.StatusBadRequest},
		{"fractional price", "POST", "/funds/0/proposals", "alice", "", map[string]any{"share": 1, "price": "1.5"}, http.StatusBadRequest},
		{"bad journal limit", "GET", "/journal?limit=x", "", "", nil, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.do(t, tt.method, tt.path, tt.caller, tt.value, tt.body)
			assert.Equal(t, tt.want, w.Code, w.Body.String())
		})
	}
}

func TestAuthenticate_JWT(t *testing.T) {
	cfg := api.AuthConfig{Secret: "test-secret", Issuer: "prediction-ledger"}
	env := newTestEnv(t, cfg)

	token, err := api.MintToken(cfg, time.Now(), "alice", time.Hour)
	require.NoError(t, err)

	post := func(authz string) *httptest.ResponseRecorder {
		body := bytes.NewBufferString(`{"total_share":100}`)
		req := httptest.NewRequest("POST", "/api/v1/funds", body)
		req.Header.Set(api.ValueHeader, "1000")
		// Ignored when a secret is configured.
		req.Header.Set(api.CallerHeader, "mallory")
		if authz != "" {
			req.Header.Set("Authorization", authz)
		}
		w := httptest.NewRecorder()
		env.router.ServeHTTP(w, req)
		return w
	}

	w := post("Bearer " + token)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = env.do(t, "GET", "/funds?owner=alice", "", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	funds := decode[[]model.FundSummary](t, w)
	require.Len(t, funds, 1)
	assert.Equal(t, model.Identity("alice"), funds[0].Fund.Trader)

	assert.Equal(t, http.StatusUnauthorized, post("").Code)
	assert.Equal(t, http.StatusUnauthorized, post("Bearer not-a-token").Code)
	assert.Equal(t, http.StatusUnauthorized, post("Basic abc").Code)

	other, err := api.MintToken(api.AuthConfig{Secret: "other-secret", Issuer: cfg.Issuer}, time.Now(), "alice", time.Hour)
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, post("Bearer "+other).Code)

	expired, err := api.MintToken(cfg, time.Now().Add(-2*time.Hour), "alice", time.Hour)
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, post("Bearer "+expired).Code)
}

func TestMintToken_RequiresSecretAndCaller(t *testing.T) {
	_, err := api.MintToken(api.AuthConfig{}, time.Now(), "alice", time.Hour)
	assert.Error(t, err)

	_, err = api.MintToken(api.AuthConfig{Secret: "s"}, time.Now(), "", time.Hour)
	assert.Error(t, err)
}
