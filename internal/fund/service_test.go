package fund_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atmx/prediction-ledger/internal/fund"
	"github.com/atmx/prediction-ledger/internal/market"
	"github.com/atmx/prediction-ledger/internal/model"
	"github.com/atmx/prediction-ledger/internal/store"
)

var (
	t0          = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	resolveDate = t0.Add(24 * time.Hour)
	minDeposit  = decimal.NewFromInt(1000)
)

func d(n int64) decimal.Decimal {
	return decimal.NewFromInt(n)
}

func call(who model.Identity, value int64, now time.Time) model.Call {
	return model.Call{Caller: who, Value: d(value), Now: now}
}

type testEnv struct {
	ctx    context.Context
	store  *store.MemoryStore
	funds  *fund.Service
	events *market.Service
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	ms := store.NewMemoryStore()
	return &testEnv{
		ctx:    context.Background(),
		store:  ms,
		funds:  fund.NewService(ms, minDeposit, 0, nil),
		events: market.NewService(ms, minDeposit, nil),
	}
}

// seedEvent creates an event with outcomes A and B, 100 units each at 10.
func (env *testEnv) seedEvent(t *testing.T) (model.EventID, model.OutcomeID, model.OutcomeID) {
	t.Helper()
	return env.seedPricedEvent(t, 10)
}

func (env *testEnv) seedPricedEvent(t *testing.T, price int64) (model.EventID, model.OutcomeID, model.OutcomeID) {
	t.Helper()
	id, err := env.events.CreateEvent(env.ctx, call("organizer", 1000, t0), market.CreateEventRequest{
		Question:    "Will it rain?",
		ResolveDate: resolveDate,
		Outcomes: []model.OutcomePayload{
			{Description: "A", DepositPerSupply: d(price), TotalSupply: 100},
			{Description: "B", DepositPerSupply: d(price), TotalSupply: 100},
		},
	})
	require.NoError(t, err)
	detail, err := env.events.EventDetail(env.ctx, id)
	require.NoError(t, err)
	require.Len(t, detail.Outcomes, 2)
	return id, detail.Outcomes[0].Outcome.ID, detail.Outcomes[1].Outcome.ID
}

func (env *testEnv) seedFund(t *testing.T, owner model.Identity, totalShare uint64, deposit int64) model.FundID {
	t.Helper()
	id, err := env.funds.CreateFund(env.ctx, call(owner, deposit, t0), totalShare, model.FundMetadata{Name: string(owner) + " fund"})
	require.NoError(t, err)
	return id
}

func (env *testEnv) fund(t *testing.T, id model.FundID) model.InvestmentFund {
	t.Helper()
	funds, err := env.funds.Funds(env.ctx, nil)
	require.NoError(t, err)
	for _, f := range funds {
		if f.Fund.ID == id {
			return f.Fund
		}
	}
	t.Fatalf("fund %d not listed", id)
	return model.InvestmentFund{}
}

func (env *testEnv) share(t *testing.T, id model.FundID, owner model.Identity) uint64 {
	t.Helper()
	s, err := env.funds.OwnerShare(env.ctx, id, owner)
	require.NoError(t, err)
	return s
}

func (env *testEnv) journalLen(t *testing.T) int {
	t.Helper()
	entries, err := env.events.Journal(env.ctx, 0, 1000)
	require.NoError(t, err)
	return len(entries)
}

// --- CreateFund ---

func TestCreateFund(t *testing.T) {
	env := newTestEnv(t)

	id := env.seedFund(t, "alice", 200, 5000)
	assert.Equal(t, model.FundID(0), id)

	f := env.fund(t, id)
	assert.Equal(t, model.Identity("alice"), f.Trader)
	assert.Equal(t, uint64(200), f.TotalShare)
	assert.True(t, f.TotalFund.Equal(d(5000)))
	assert.Equal(t, uint64(200), env.share(t, id, "alice"))
	assert.Equal(t, 1, env.journalLen(t))
}

func TestCreateFund_Validation(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.funds.CreateFund(env.ctx, call("alice", 5000, t0), 99, model.FundMetadata{})
	assert.ErrorIs(t, err, model.ErrAtLeast100Share)

	_, err = env.funds.CreateFund(env.ctx, call("alice", 5000, t0), 150, model.FundMetadata{})
	assert.ErrorIs(t, err, model.ErrNotDivisibleBy100)

	_, err = env.funds.CreateFund(env.ctx, call("alice", 999, t0), 100, model.FundMetadata{})
	assert.ErrorIs(t, err, model.ErrDepositTooLow)

	// Failed calls mint no ids.
	id := env.seedFund(t, "alice", 100, 1000)
	assert.Equal(t, model.FundID(0), id)
}

// --- TransferShare ---

func TestTransferShare_MajorityBoundary(t *testing.T) {
	env := newTestEnv(t)
	id := env.seedFund(t, "alice", 100, 1000)

	// 50% leaves nobody with a majority.
	_, err := env.funds.TransferShare(env.ctx, call("alice", 0, t0), id, "bob", 50)
	require.ErrorIs(t, err, model.ErrTraderNotIdentitied)
	assert.Equal(t, uint64(100), env.share(t, id, "alice"))
	assert.Equal(t, uint64(0), env.share(t, id, "bob"))

	// 49% keeps alice in control.
	res, err := env.funds.TransferShare(env.ctx, call("alice", 0, t0), id, "bob", 49)
	require.NoError(t, err)
	assert.Equal(t, model.Identity("bob"), res.Recipient)
	assert.Equal(t, uint64(49), res.Share)
	assert.Equal(t, model.Identity("alice"), env.fund(t, id).Trader)

	// Exactly 51% flips control.
	env2 := newTestEnv(t)
	id2 := env2.seedFund(t, "alice", 100, 1000)
	_, err = env2.funds.TransferShare(env2.ctx, call("alice", 0, t0), id2, "bob", 51)
	require.NoError(t, err)
	assert.Equal(t, model.Identity("bob"), env2.fund(t, id2).Trader)
}

func TestTransferShare_Conservation(t *testing.T) {
	env := newTestEnv(t)
	id := env.seedFund(t, "alice", 1000, 1000)

	steps := []struct {
		from, to model.Identity
		amount   uint64
	}{
		{"alice", "bob", 300},
		{"bob", "carol", 120},
		{"alice", "carol", 100},
		{"carol", "dave", 220},
		{"alice", "bob", 600}, // majority handover
		{"dave", "alice", 20},
	}
	owners := []model.Identity{"alice", "bob", "carol", "dave"}
	for _, st := range steps {
		_, err := env.funds.TransferShare(env.ctx, call(st.from, 0, t0), id, st.to, st.amount)
		require.NoError(t, err, "%s -> %s %d", st.from, st.to, st.amount)

		var sum uint64
		for _, o := range owners {
			sum += env.share(t, id, o)
		}
		assert.Equal(t, uint64(1000), sum)
	}
	assert.Equal(t, model.Identity("bob"), env.fund(t, id).Trader)
}

func TestTransferShare_Errors(t *testing.T) {
	env := newTestEnv(t)
	id := env.seedFund(t, "alice", 100, 1000)

	_, err := env.funds.TransferShare(env.ctx, call("alice", 0, t0), 42, "bob", 1)
	assert.ErrorIs(t, err, model.ErrFundNotFound)

	_, err = env.funds.TransferShare(env.ctx, call("alice", 0, t0), id, "bob", 101)
	assert.ErrorIs(t, err, model.ErrNotEnoughShare)

	_, err = env.funds.TransferShare(env.ctx, call("bob", 0, t0), id, "alice", 1)
	assert.ErrorIs(t, err, model.ErrNotEnoughShare)
}

func TestTransferShare_SelfIsNoop(t *testing.T) {
	env := newTestEnv(t)
	id := env.seedFund(t, "alice", 100, 1000)
	before := env.journalLen(t)

	res, err := env.funds.TransferShare(env.ctx, call("alice", 0, t0), id, "alice", 60)
	require.NoError(t, err)
	assert.Equal(t, uint64(100), res.Share)
	assert.Equal(t, uint64(100), env.share(t, id, "alice"))
	assert.Equal(t, before, env.journalLen(t))
}

// --- Bet ---

func TestBet(t *testing.T) {
	env := newTestEnv(t)
	eventID, a, _ := env.seedEvent(t)
	id := env.seedFund(t, "alice", 100, 2000)

	require.NoError(t, env.funds.Bet(env.ctx, call("alice", 500, t0), a, id, 50))

	detail, err := env.events.EventDetail(env.ctx, eventID)
	require.NoError(t, err)
	assert.Equal(t, uint64(50), detail.Outcomes[0].MarketOutcome.AvailableSupply)
	assert.True(t, detail.Market.Pool.Equal(d(1500)), "pool = %s", detail.Market.Pool)
	require.Len(t, detail.Outcomes[0].Funds, 1)
	assert.Equal(t, uint64(50), detail.Outcomes[0].Funds[0].Supply)
	assert.True(t, env.fund(t, id).TotalFund.Equal(d(1500)))
}

func TestBet_Accumulates(t *testing.T) {
	env := newTestEnv(t)
	eventID, a, _ := env.seedEvent(t)
	id := env.seedFund(t, "alice", 100, 2000)

	require.NoError(t, env.funds.Bet(env.ctx, call("alice", 300, t0), a, id, 30))
	require.NoError(t, env.funds.Bet(env.ctx, call("alice", 200, t0), a, id, 20))

	detail, err := env.events.EventDetail(env.ctx, eventID)
	require.NoError(t, err)
	out := detail.Outcomes[0]
	require.Len(t, out.Funds, 1, "one index entry per fund")
	assert.Equal(t, uint64(50), out.Funds[0].Supply)

	// Supply conservation.
	var recorded uint64
	for _, h := range out.Funds {
		recorded += h.Supply
	}
	assert.Equal(t, out.Outcome.TotalSupply, out.MarketOutcome.AvailableSupply+recorded)

	funds, err := env.funds.Funds(env.ctx, nil)
	require.NoError(t, err)
	require.Len(t, funds[0].Outcomes, 1)
	assert.Equal(t, uint64(50), funds[0].Outcomes[0].Supply)
}

func TestBet_Errors(t *testing.T) {
	env := newTestEnv(t)
	_, a, _ := env.seedPricedEvent(t, 20)
	id := env.seedFund(t, "alice", 100, 1000)

	tests := []struct {
		name    string
		call    model.Call
		outcome model.OutcomeID
		fund    model.FundID
		units   uint64
		want    error
	}{
		{"unknown fund", call("alice", 100, t0), a, 9, 1, model.ErrFundNotFound},
		{"not trader", call("bob", 100, t0), a, id, 1, model.ErrNotOwner},
		{"unknown outcome", call("alice", 100, t0), 99, id, 1, model.ErrWrongEventOutCome},
		{"at resolve date", call("alice", 100, resolveDate), a, id, 1, model.ErrResolveDateNotMatch},
		{"out of supply", call("alice", 2000, t0), a, id, 101, model.ErrOutOfSupply},
		{"zero units", call("alice", 100, t0), a, id, 0, model.ErrMoreThanOneSupply},
		{"value below cost", call("alice", 199, t0), a, id, 10, model.ErrDepositTooLow},
		{"fund balance below cost", call("alice", 2000, t0), a, id, 60, model.ErrNotEnoughBalance},
	}
	before := env.journalLen(t)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := env.funds.Bet(env.ctx, tt.call, tt.outcome, tt.fund, tt.units)
			assert.ErrorIs(t, err, tt.want)
		})
	}
	assert.Equal(t, before, env.journalLen(t))
	assert.True(t, env.fund(t, id).TotalFund.Equal(d(1000)))
}

func TestBet_AfterResolution(t *testing.T) {
	env := newTestEnv(t)
	eventID, a, _ := env.seedEvent(t)
	id := env.seedFund(t, "alice", 100, 2000)
	require.NoError(t, env.funds.Bet(env.ctx, call("alice", 100, t0), a, id, 10))

	_, err := env.events.ResolveEvent(env.ctx, call("organizer", 0, resolveDate), eventID, a)
	require.NoError(t, err)

	err = env.funds.Bet(env.ctx, call("alice", 100, t0), a, id, 1)
	assert.ErrorIs(t, err, model.ErrResolveDateNotMatch)
}

// --- Proposals ---

func TestProposal_AcceptMovesShares(t *testing.T) {
	env := newTestEnv(t)
	id := env.seedFund(t, "alice", 100, 1000)

	tradeID, err := env.funds.CreateProposal(env.ctx, call("alice", 0, t0), id, fund.CreateProposalRequest{
		Share: 60,
		Price: d(700),
	})
	require.NoError(t, err)

	require.NoError(t, env.funds.AcceptProposal(env.ctx, call("bob", 700, t0.Add(time.Hour)), tradeID))

	assert.Equal(t, uint64(40), env.share(t, id, "alice"))
	assert.Equal(t, uint64(60), env.share(t, id, "bob"))
	f := env.fund(t, id)
	assert.Equal(t, model.Identity("bob"), f.Trader)
	assert.True(t, f.TotalFund.Equal(d(1000)), "price is not paid into the fund")

	props, err := env.funds.FundProposals(env.ctx, id)
	require.NoError(t, err)
	require.Len(t, props.Trades, 1)
	tr := props.Trades[0]
	assert.True(t, tr.IsCompleted)
	require.NotNil(t, tr.Buyer)
	assert.Equal(t, model.Identity("bob"), *tr.Buyer)
	assert.True(t, tr.CloseTime.Equal(t0.Add(30*24*time.Hour)), "close time = %s", tr.CloseTime)

	err = env.funds.AcceptProposal(env.ctx, call("carol", 700, t0.Add(time.Hour)), tradeID)
	assert.ErrorIs(t, err, model.ErrTradeNotAvailable)
}

func TestProposal_Expired(t *testing.T) {
	env := newTestEnv(t)
	id := env.seedFund(t, "alice", 100, 1000)
	dur := time.Hour

	tradeID, err := env.funds.CreateProposal(env.ctx, call("alice", 0, t0), id, fund.CreateProposalRequest{
		Share:    10,
		Price:    d(5),
		Duration: &dur,
	})
	require.NoError(t, err)

	err = env.funds.AcceptProposal(env.ctx, call("bob", 5, t0.Add(dur+time.Second)), tradeID)
	require.ErrorIs(t, err, model.ErrTimeExpired)

	props, err := env.funds.FundProposals(env.ctx, id)
	require.NoError(t, err)
	assert.False(t, props.Trades[0].IsCompleted)
	assert.Equal(t, uint64(0), env.share(t, id, "bob"))

	// close_time itself is still open.
	require.NoError(t, env.funds.AcceptProposal(env.ctx, call("bob", 5, t0.Add(dur)), tradeID))
}

func TestProposal_Errors(t *testing.T) {
	env := newTestEnv(t)
	id := env.seedFund(t, "alice", 100, 1000)

	_, err := env.funds.CreateProposal(env.ctx, call("alice", 0, t0), id, fund.CreateProposalRequest{Share: 101, Price: d(1)})
	assert.ErrorIs(t, err, model.ErrNotEnoughShare)

	_, err = env.funds.CreateProposal(env.ctx, call("alice", 0, t0), 7, fund.CreateProposalRequest{Share: 1, Price: d(1)})
	assert.ErrorIs(t, err, model.ErrFundNotFound)

	err = env.funds.AcceptProposal(env.ctx, call("bob", 0, t0), 3)
	assert.ErrorIs(t, err, model.ErrTradeNotFound)

	target := model.Identity("carol")
	tradeID, err := env.funds.CreateProposal(env.ctx, call("alice", 0, t0), id, fund.CreateProposalRequest{
		Share:  30,
		Price:  d(100),
		Target: &target,
	})
	require.NoError(t, err)

	err = env.funds.AcceptProposal(env.ctx, call("bob", 100, t0), tradeID)
	assert.ErrorIs(t, err, model.ErrNotOwner)

	err = env.funds.AcceptProposal(env.ctx, call("carol", 99, t0), tradeID)
	assert.ErrorIs(t, err, model.ErrDepositTooLow)

	own, err := env.funds.CreateProposal(env.ctx, call("alice", 0, t0), id, fund.CreateProposalRequest{Share: 10, Price: d(1)})
	require.NoError(t, err)
	err = env.funds.AcceptProposal(env.ctx, call("alice", 1, t0), own)
	assert.ErrorIs(t, err, model.ErrNotOwner)

	// Shares are not escrowed: alice gives most of them away first.
	_, err = env.funds.TransferShare(env.ctx, call("alice", 0, t0), id, "dave", 80)
	require.NoError(t, err)
	err = env.funds.AcceptProposal(env.ctx, call("carol", 100, t0), tradeID)
	assert.ErrorIs(t, err, model.ErrNotEnoughShare)
}

func TestProposal_TraderNotIdentitied(t *testing.T) {
	env := newTestEnv(t)
	id := env.seedFund(t, "alice", 100, 1000)

	tradeID, err := env.funds.CreateProposal(env.ctx, call("alice", 0, t0), id, fund.CreateProposalRequest{Share: 50, Price: d(1)})
	require.NoError(t, err)

	err = env.funds.AcceptProposal(env.ctx, call("bob", 1, t0), tradeID)
	require.ErrorIs(t, err, model.ErrTraderNotIdentitied)

	props, err := env.funds.FundProposals(env.ctx, id)
	require.NoError(t, err)
	assert.False(t, props.Trades[0].IsCompleted)
	assert.Equal(t, uint64(100), env.share(t, id, "alice"))
}

// --- Views ---

func TestFunds_FilterByOwner(t *testing.T) {
	env := newTestEnv(t)
	a := env.seedFund(t, "alice", 100, 1000)
	b := env.seedFund(t, "bob", 100, 1000)

	_, err := env.funds.TransferShare(env.ctx, call("bob", 0, t0), b, "alice", 10)
	require.NoError(t, err)

	alice := model.Identity("alice")
	funds, err := env.funds.Funds(env.ctx, &alice)
	require.NoError(t, err)
	require.Len(t, funds, 2)
	assert.Equal(t, a, funds[0].Fund.ID)
	assert.Equal(t, uint64(100), *funds[0].OwnerShare)
	assert.Equal(t, b, funds[1].Fund.ID)
	assert.Equal(t, uint64(10), *funds[1].OwnerShare)

	// Once alice gives her stake back the fund drops out of her listing.
	_, err = env.funds.TransferShare(env.ctx, call("alice", 0, t0), b, "bob", 10)
	require.NoError(t, err)
	funds, err = env.funds.Funds(env.ctx, &alice)
	require.NoError(t, err)
	require.Len(t, funds, 1)

	all, err := env.funds.Funds(env.ctx, nil)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Nil(t, all[0].OwnerShare)
}

func TestProposals_Listing(t *testing.T) {
	env := newTestEnv(t)
	a := env.seedFund(t, "alice", 100, 1000)
	b := env.seedFund(t, "bob", 100, 1000)

	_, err := env.funds.CreateProposal(env.ctx, call("bob", 0, t0), b, fund.CreateProposalRequest{Share: 5, Price: d(1)})
	require.NoError(t, err)
	_, err = env.funds.CreateProposal(env.ctx, call("alice", 0, t0), a, fund.CreateProposalRequest{Share: 5, Price: d(1)})
	require.NoError(t, err)

	all, err := env.funds.Proposals(env.ctx, nil)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, b, all[0].Fund.ID)
	assert.Equal(t, b, all[0].Trade.FundID)
	assert.Equal(t, a, all[1].Fund.ID)

	alice := model.Identity("alice")
	mine, err := env.funds.Proposals(env.ctx, &alice)
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.Equal(t, a, mine[0].Fund.ID)

	_, err = env.funds.OwnerShare(env.ctx, 9, alice)
	assert.ErrorIs(t, err, model.ErrFundNotFound)
}
