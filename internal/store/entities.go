package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/google/uuid"

	"github.com/atmx/prediction-ledger/internal/model"
)

// Entities is the typed view of a Tx: one accessor per entity table and
// secondary index. Values are JSON encoded, so every read returns a fresh
// copy that callers may mutate freely before writing it back.
type Entities struct {
	tx Tx
}

// Wrap returns the typed view of tx.
func Wrap(tx Tx) *Entities {
	return &Entities{tx: tx}
}

func idKey[T ~uint64](id T) string {
	return strconv.FormatUint(uint64(id), 10)
}

func pairKey[A ~uint64](a A, b string) string {
	return idKey(a) + "/" + b
}

func getJSON[T any](ctx context.Context, tx Tx, t Table, key string) (*T, error) {
	raw, err := tx.Get(ctx, t, key)
	if err != nil {
		return nil, err
	}
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, fmt.Errorf("store: decode %s/%s: %w", t, key, err)
	}
	return &v, nil
}

func putJSON(ctx context.Context, tx Tx, t Table, key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("store: encode %s/%s: %w", t, key, err)
	}
	return tx.Put(ctx, t, key, raw)
}

// getCount reads a numeric entry that defaults to zero when absent.
func getCount(ctx context.Context, tx Tx, t Table, key string) (uint64, error) {
	v, err := getJSON[uint64](ctx, tx, t, key)
	if errors.Is(err, ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return *v, nil
}

func members[T ~uint64](ctx context.Context, tx Tx, ix Index, key string) ([]T, error) {
	raw, err := tx.Members(ctx, ix, key)
	if err != nil {
		return nil, err
	}
	ids := make([]T, len(raw))
	for i, id := range raw {
		ids[i] = T(id)
	}
	return ids, nil
}

// --- Events ---

func (e *Entities) Event(ctx context.Context, id model.EventID) (*model.Event, error) {
	return getJSON[model.Event](ctx, e.tx, TableEvents, idKey(id))
}

func (e *Entities) PutEvent(ctx context.Context, ev *model.Event) error {
	return putJSON(ctx, e.tx, TableEvents, idKey(ev.ID), ev)
}

func (e *Entities) Market(ctx context.Context, id model.EventID) (*model.Market, error) {
	return getJSON[model.Market](ctx, e.tx, TableMarkets, idKey(id))
}

func (e *Entities) PutMarket(ctx context.Context, m *model.Market) error {
	return putJSON(ctx, e.tx, TableMarkets, idKey(m.EventID), m)
}

func (e *Entities) NextEventID(ctx context.Context) (model.EventID, error) {
	id, err := e.tx.NextID(ctx, SeqEvents)
	return model.EventID(id), err
}

func (e *Entities) EventCount(ctx context.Context) (uint64, error) {
	return e.tx.Count(ctx, SeqEvents)
}

// --- Outcomes ---

func (e *Entities) Outcome(ctx context.Context, id model.OutcomeID) (*model.Outcome, error) {
	return getJSON[model.Outcome](ctx, e.tx, TableOutcomes, idKey(id))
}

func (e *Entities) PutOutcome(ctx context.Context, o *model.Outcome) error {
	return putJSON(ctx, e.tx, TableOutcomes, idKey(o.ID), o)
}

func (e *Entities) MarketOutcome(ctx context.Context, id model.OutcomeID) (*model.MarketOutcome, error) {
	return getJSON[model.MarketOutcome](ctx, e.tx, TableMarketOutcomes, idKey(id))
}

func (e *Entities) PutMarketOutcome(ctx context.Context, mo *model.MarketOutcome) error {
	return putJSON(ctx, e.tx, TableMarketOutcomes, idKey(mo.OutcomeID), mo)
}

func (e *Entities) NextOutcomeID(ctx context.Context) (model.OutcomeID, error) {
	id, err := e.tx.NextID(ctx, SeqOutcomes)
	return model.OutcomeID(id), err
}

// --- Funds ---

func (e *Entities) Fund(ctx context.Context, id model.FundID) (*model.InvestmentFund, error) {
	return getJSON[model.InvestmentFund](ctx, e.tx, TableFunds, idKey(id))
}

func (e *Entities) PutFund(ctx context.Context, f *model.InvestmentFund) error {
	return putJSON(ctx, e.tx, TableFunds, idKey(f.ID), f)
}

func (e *Entities) NextFundID(ctx context.Context) (model.FundID, error) {
	id, err := e.tx.NextID(ctx, SeqFunds)
	return model.FundID(id), err
}

func (e *Entities) FundCount(ctx context.Context) (uint64, error) {
	return e.tx.Count(ctx, SeqFunds)
}

// Share returns the share balance of owner in a fund; zero when none.
func (e *Entities) Share(ctx context.Context, fund model.FundID, owner model.Identity) (uint64, error) {
	return getCount(ctx, e.tx, TableShares, pairKey(fund, string(owner)))
}

func (e *Entities) PutShare(ctx context.Context, fund model.FundID, owner model.Identity, amount uint64) error {
	return putJSON(ctx, e.tx, TableShares, pairKey(fund, string(owner)), amount)
}

// Supply returns the supply units a fund bought in an outcome; zero when none.
func (e *Entities) Supply(ctx context.Context, outcome model.OutcomeID, fund model.FundID) (uint64, error) {
	return getCount(ctx, e.tx, TableSupplies, pairKey(outcome, idKey(fund)))
}

func (e *Entities) PutSupply(ctx context.Context, outcome model.OutcomeID, fund model.FundID, units uint64) error {
	return putJSON(ctx, e.tx, TableSupplies, pairKey(outcome, idKey(fund)), units)
}

// --- Trades ---

func (e *Entities) Trade(ctx context.Context, id model.TradeID) (*model.FundTrade, error) {
	return getJSON[model.FundTrade](ctx, e.tx, TableTrades, idKey(id))
}

func (e *Entities) PutTrade(ctx context.Context, t *model.FundTrade) error {
	return putJSON(ctx, e.tx, TableTrades, idKey(t.ID), t)
}

func (e *Entities) NextTradeID(ctx context.Context) (model.TradeID, error) {
	id, err := e.tx.NextID(ctx, SeqTrades)
	return model.TradeID(id), err
}

func (e *Entities) TradeCount(ctx context.Context) (uint64, error) {
	return e.tx.Count(ctx, SeqTrades)
}

// --- Secondary indexes ---

func (e *Entities) EventOutcomes(ctx context.Context, id model.EventID) ([]model.OutcomeID, error) {
	return members[model.OutcomeID](ctx, e.tx, IndexEventOutcomes, idKey(id))
}

func (e *Entities) AddEventOutcome(ctx context.Context, ev model.EventID, o model.OutcomeID) error {
	return e.tx.Append(ctx, IndexEventOutcomes, idKey(ev), uint64(o))
}

func (e *Entities) OutcomeFunds(ctx context.Context, id model.OutcomeID) ([]model.FundID, error) {
	return members[model.FundID](ctx, e.tx, IndexOutcomeFunds, idKey(id))
}

func (e *Entities) AddOutcomeFund(ctx context.Context, o model.OutcomeID, f model.FundID) error {
	return e.tx.Append(ctx, IndexOutcomeFunds, idKey(o), uint64(f))
}

func (e *Entities) FundOutcomes(ctx context.Context, id model.FundID) ([]model.OutcomeID, error) {
	return members[model.OutcomeID](ctx, e.tx, IndexFundOutcomes, idKey(id))
}

func (e *Entities) AddFundOutcome(ctx context.Context, f model.FundID, o model.OutcomeID) error {
	return e.tx.Append(ctx, IndexFundOutcomes, idKey(f), uint64(o))
}

func (e *Entities) FundTrades(ctx context.Context, id model.FundID) ([]model.TradeID, error) {
	return members[model.TradeID](ctx, e.tx, IndexFundTrades, idKey(id))
}

func (e *Entities) AddFundTrade(ctx context.Context, f model.FundID, t model.TradeID) error {
	return e.tx.Append(ctx, IndexFundTrades, idKey(f), uint64(t))
}

func (e *Entities) ProponentTrades(ctx context.Context, who model.Identity) ([]model.TradeID, error) {
	return members[model.TradeID](ctx, e.tx, IndexProponentTrades, string(who))
}

func (e *Entities) AddProponentTrade(ctx context.Context, who model.Identity, t model.TradeID) error {
	return e.tx.Append(ctx, IndexProponentTrades, string(who), uint64(t))
}

// OwnerFunds lists every fund owner has ever held shares in. Callers filter
// on the current balance.
func (e *Entities) OwnerFunds(ctx context.Context, who model.Identity) ([]model.FundID, error) {
	return members[model.FundID](ctx, e.tx, IndexOwnerFunds, string(who))
}

func (e *Entities) AddOwnerFund(ctx context.Context, who model.Identity, f model.FundID) error {
	return e.tx.Append(ctx, IndexOwnerFunds, string(who), uint64(f))
}

// --- Immutable journal ---

// AppendJournal assigns the entry its sequence number and UUID and persists it.
func (e *Entities) AppendJournal(ctx context.Context, entry *model.JournalEntry) error {
	seq, err := e.tx.NextID(ctx, SeqJournal)
	if err != nil {
		return err
	}
	entry.Seq = seq
	entry.ID = uuid.New().String()
	return putJSON(ctx, e.tx, TableJournal, strconv.FormatUint(seq, 10), entry)
}

// Journal returns up to limit entries with Seq >= from, oldest first.
func (e *Entities) Journal(ctx context.Context, from uint64, limit int) ([]model.JournalEntry, error) {
	total, err := e.tx.Count(ctx, SeqJournal)
	if err != nil {
		return nil, err
	}
	entries := []model.JournalEntry{}
	for seq := from; seq < total && len(entries) < limit; seq++ {
		entry, err := getJSON[model.JournalEntry](ctx, e.tx, TableJournal, strconv.FormatUint(seq, 10))
		if err != nil {
			return nil, err
		}
		entries = append(entries, *entry)
	}
	return entries, nil
}
