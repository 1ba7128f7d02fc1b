// Package market implements the event side of the ledger: creating events
// with their outcomes, resolving them through the settlement engine and the
// read-side event views.
package market

import (
	"context"
	"fmt"
	"log/slog"
	"math/bits"
	"time"

	"github.com/shopspring/decimal"

	"github.com/atmx/prediction-ledger/internal/metrics"
	"github.com/atmx/prediction-ledger/internal/model"
	"github.com/atmx/prediction-ledger/internal/settlement"
	"github.com/atmx/prediction-ledger/internal/store"
)

// Service handles event operations. Every mutation runs inside one
// store.Update call, which serializes it against all other ledger calls and
// discards every write when it fails.
type Service struct {
	store      store.Store
	minDeposit decimal.Decimal
	pub        model.Publisher // optional; receives notices after commit
}

// NewService creates an event market service.
// Pass nil for pub if live notices are not needed.
func NewService(st store.Store, minDeposit decimal.Decimal, pub model.Publisher) *Service {
	return &Service{
		store:      st,
		minDeposit: minDeposit,
		pub:        pub,
	}
}

// CreateEventRequest carries the organizer's input for a new event.
type CreateEventRequest struct {
	Question    string
	ResolveDate time.Time
	Outcomes    []model.OutcomePayload
	Metadata    model.EventMetadata
}

// CreateEvent registers an event, its outcomes and its market. The attached
// value becomes the market's initial pool.
func (s *Service) CreateEvent(ctx context.Context, call model.Call, req CreateEventRequest) (id model.EventID, err error) {
	defer func(start time.Time) { metrics.ObserveOperation(model.OpCreateEvent, start, err) }(time.Now())

	if call.Value.LessThan(s.minDeposit) {
		return 0, fmt.Errorf("%w: attached %s, minimum %s", model.ErrDepositTooLow, call.Value, s.minDeposit)
	}
	if len(req.Outcomes) < 2 {
		return 0, fmt.Errorf("%w: got %d", model.ErrAtLeastTwoOutcome, len(req.Outcomes))
	}
	var total uint64
	for i, o := range req.Outcomes {
		if o.DepositPerSupply.IsNegative() || !o.DepositPerSupply.Equal(o.DepositPerSupply.Truncate(0)) {
			return 0, fmt.Errorf("%w: outcome %d price %s is not a non-negative integer",
				model.ErrSomethingWrong, i, o.DepositPerSupply)
		}
		var carry uint64
		if total, carry = bits.Add64(total, o.TotalSupply, 0); carry != 0 {
			return 0, fmt.Errorf("%w: total supply overflow", model.ErrSomethingWrong)
		}
	}

	err = s.store.Update(ctx, func(tx store.Tx) error {
		e := store.Wrap(tx)

		eventID, err := e.NextEventID(ctx)
		if err != nil {
			return err
		}
		event := &model.Event{
			ID:        eventID,
			Owner:     call.Caller,
			Question:  req.Question,
			Metadata:  req.Metadata,
			CreatedAt: call.Now.UTC(),
		}
		if err := e.PutEvent(ctx, event); err != nil {
			return err
		}
		market := &model.Market{
			EventID:     eventID,
			Pool:        call.Value,
			ResolveDate: req.ResolveDate.UTC(),
		}
		if err := e.PutMarket(ctx, market); err != nil {
			return err
		}

		for _, p := range req.Outcomes {
			outcomeID, err := e.NextOutcomeID(ctx)
			if err != nil {
				return err
			}
			outcome := &model.Outcome{
				ID:               outcomeID,
				EventID:          eventID,
				Description:      p.Description,
				DepositPerSupply: p.DepositPerSupply,
				TotalSupply:      p.TotalSupply,
			}
			if err := e.PutOutcome(ctx, outcome); err != nil {
				return err
			}
			mo := &model.MarketOutcome{
				EventID:         eventID,
				OutcomeID:       outcomeID,
				AvailableSupply: p.TotalSupply,
			}
			if err := e.PutMarketOutcome(ctx, mo); err != nil {
				return err
			}
			if err := e.AddEventOutcome(ctx, eventID, outcomeID); err != nil {
				return err
			}
		}

		id = eventID
		return e.AppendJournal(ctx, &model.JournalEntry{
			Operation: model.OpCreateEvent,
			Caller:    call.Caller,
			Value:     call.Value,
			Timestamp: call.Now.UTC(),
			EventID:   model.Ref(eventID),
			Quantity:  total,
			Amount:    call.Value,
		})
	})
	if err != nil {
		return 0, err
	}

	metrics.OpenMarkets.Inc()
	slog.Info("event created",
		"event_id", id,
		"owner", call.Caller,
		"outcomes", len(req.Outcomes),
		"pool", call.Value.String(),
		"resolve_date", req.ResolveDate.UTC(),
	)
	s.publish(model.Notice{
		Type:    model.NoticeEventCreated,
		EventID: model.Ref(id),
		Actor:   call.Caller,
		Pool:    call.Value.String(),
	})
	return id, nil
}

// ResolveEvent records the winning outcome and pays the pool out to the
// funds that bought its supply. Checks run in this order: event exists,
// outcome exists, caller owns the event, resolution is open, outcome belongs
// to the event.
func (s *Service) ResolveEvent(ctx context.Context, call model.Call, eventID model.EventID, winner model.OutcomeID) (res *settlement.Result, err error) {
	defer func(start time.Time) { metrics.ObserveOperation(model.OpResolveEvent, start, err) }(time.Now())

	err = s.store.Update(ctx, func(tx store.Tx) error {
		e := store.Wrap(tx)

		event, market, err := loadEvent(ctx, e, eventID)
		if err != nil {
			return err
		}
		outcome, mo, err := loadOutcome(ctx, e, winner)
		if err != nil {
			return err
		}
		if event.Owner != call.Caller {
			return model.ErrNotOwner
		}
		if market.IsResolved {
			return fmt.Errorf("%w: event %d already resolved", model.ErrResolveDateNotMatch, eventID)
		}
		if call.Now.Before(market.ResolveDate) {
			return fmt.Errorf("%w: resolvable from %s", model.ErrResolveDateNotMatch, market.ResolveDate)
		}
		if outcome.EventID != eventID {
			return fmt.Errorf("%w: outcome %d belongs to event %d", model.ErrWrongEventOutCome, winner, outcome.EventID)
		}

		fundIDs, err := e.OutcomeFunds(ctx, winner)
		if err != nil {
			return err
		}
		holdings := make([]settlement.Holding, 0, len(fundIDs))
		for _, fid := range fundIDs {
			supply, err := e.Supply(ctx, winner, fid)
			if err != nil {
				return err
			}
			holdings = append(holdings, settlement.Holding{FundID: fid, Supply: supply})
		}

		res, err = settlement.Distribute(market.Pool, outcome.TotalSupply, mo.AvailableSupply, holdings)
		if err != nil {
			return err
		}
		for _, p := range res.Payouts {
			fund, err := e.Fund(ctx, p.FundID)
			if err != nil {
				return fmt.Errorf("%w: winning fund %d: %v", model.ErrSomethingWrong, p.FundID, err)
			}
			fund.TotalFund = fund.TotalFund.Add(p.Prize)
			if err := e.PutFund(ctx, fund); err != nil {
				return err
			}
		}

		market.Pool = res.Remaining
		market.IsResolved = true
		market.WinningOutcome = model.Ref(winner)
		if err := e.PutMarket(ctx, market); err != nil {
			return err
		}

		return e.AppendJournal(ctx, &model.JournalEntry{
			Operation: model.OpResolveEvent,
			Caller:    call.Caller,
			Value:     call.Value,
			Timestamp: call.Now.UTC(),
			EventID:   model.Ref(eventID),
			OutcomeID: model.Ref(winner),
			Quantity:  res.UsedSupply,
			Amount:    res.Distributed,
		})
	})
	if err != nil {
		return nil, err
	}

	metrics.OpenMarkets.Dec()
	metrics.AddAmount(metrics.PayoutsTotal, res.Distributed)
	slog.Info("event resolved",
		"event_id", eventID,
		"winner", winner,
		"used_supply", res.UsedSupply,
		"prize_per_supply", res.PrizePerSupply.String(),
		"winning_funds", len(res.Payouts),
		"pool_remaining", res.Remaining.String(),
	)
	s.publish(model.Notice{
		Type:      model.NoticeEventResolved,
		EventID:   model.Ref(eventID),
		OutcomeID: model.Ref(winner),
		Actor:     call.Caller,
		Quantity:  res.UsedSupply,
		Amount:    res.Distributed.String(),
		Pool:      res.Remaining.String(),
	})
	return res, nil
}

// Events lists every event in creation order with its market and the sum of
// its outcomes' total supply.
func (s *Service) Events(ctx context.Context) ([]model.EventSummary, error) {
	var out []model.EventSummary
	err := s.store.View(ctx, func(tx store.Tx) error {
		e := store.Wrap(tx)
		n, err := e.EventCount(ctx)
		if err != nil {
			return err
		}
		out = make([]model.EventSummary, 0, n)
		for id := model.EventID(0); uint64(id) < n; id++ {
			summary, _, err := eventSummary(ctx, e, id)
			if err != nil {
				return err
			}
			out = append(out, *summary)
		}
		return nil
	})
	return out, err
}

// EventDetail returns an event with every outcome and, per outcome, the funds
// holding supply in it.
func (s *Service) EventDetail(ctx context.Context, id model.EventID) (*model.EventDetail, error) {
	var detail *model.EventDetail
	err := s.store.View(ctx, func(tx store.Tx) error {
		e := store.Wrap(tx)
		summary, outcomeIDs, err := eventSummary(ctx, e, id)
		if err != nil {
			return err
		}
		detail = &model.EventDetail{
			Event:       summary.Event,
			Market:      summary.Market,
			TotalSupply: summary.TotalSupply,
			Outcomes:    make([]model.OutcomeDetail, 0, len(outcomeIDs)),
		}
		for _, oid := range outcomeIDs {
			outcome, mo, err := loadOutcome(ctx, e, oid)
			if err != nil {
				return err
			}
			fundIDs, err := e.OutcomeFunds(ctx, oid)
			if err != nil {
				return err
			}
			holders := make([]model.FundHolding, 0, len(fundIDs))
			for _, fid := range fundIDs {
				fund, err := e.Fund(ctx, fid)
				if err != nil {
					return store.Translate(err, model.ErrFundNotFound)
				}
				supply, err := e.Supply(ctx, oid, fid)
				if err != nil {
					return err
				}
				holders = append(holders, model.FundHolding{Fund: *fund, Supply: supply})
			}
			detail.Outcomes = append(detail.Outcomes, model.OutcomeDetail{
				Outcome:       *outcome,
				MarketOutcome: *mo,
				Funds:         holders,
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return detail, nil
}

// Journal returns up to limit committed mutations starting at sequence from.
func (s *Service) Journal(ctx context.Context, from uint64, limit int) ([]model.JournalEntry, error) {
	var entries []model.JournalEntry
	err := s.store.View(ctx, func(tx store.Tx) error {
		var err error
		entries, err = store.Wrap(tx).Journal(ctx, from, limit)
		return err
	})
	return entries, err
}

func (s *Service) publish(n model.Notice) {
	if s.pub != nil {
		s.pub.Publish(n)
	}
}

func loadEvent(ctx context.Context, e *store.Entities, id model.EventID) (*model.Event, *model.Market, error) {
	event, err := e.Event(ctx, id)
	if err != nil {
		return nil, nil, store.Translate(err, model.ErrEventNotFound)
	}
	market, err := e.Market(ctx, id)
	if err != nil {
		return nil, nil, store.Translate(err, model.ErrEventNotFound)
	}
	return event, market, nil
}

func loadOutcome(ctx context.Context, e *store.Entities, id model.OutcomeID) (*model.Outcome, *model.MarketOutcome, error) {
	outcome, err := e.Outcome(ctx, id)
	if err != nil {
		return nil, nil, store.Translate(err, model.ErrWrongEventOutCome)
	}
	mo, err := e.MarketOutcome(ctx, id)
	if err != nil {
		return nil, nil, store.Translate(err, model.ErrWrongEventOutCome)
	}
	return outcome, mo, nil
}

func eventSummary(ctx context.Context, e *store.Entities, id model.EventID) (*model.EventSummary, []model.OutcomeID, error) {
	event, market, err := loadEvent(ctx, e, id)
	if err != nil {
		return nil, nil, err
	}
	outcomeIDs, err := e.EventOutcomes(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	var total uint64
	for _, oid := range outcomeIDs {
		outcome, err := e.Outcome(ctx, oid)
		if err != nil {
			return nil, nil, store.Translate(err, model.ErrWrongEventOutCome)
		}
		var carry uint64
		if total, carry = bits.Add64(total, outcome.TotalSupply, 0); carry != 0 {
			return nil, nil, fmt.Errorf("%w: event %d total supply overflow", model.ErrSomethingWrong, id)
		}
	}
	return &model.EventSummary{Event: *event, Market: *market, TotalSupply: total}, outcomeIDs, nil
}
