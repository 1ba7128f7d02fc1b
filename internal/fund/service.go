// Package fund implements the investment fund side of the ledger: fund
// creation, share ownership and transfer, betting fund capital on outcomes
// and the proposal/acceptance share trade protocol.
package fund

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/shopspring/decimal"

	"github.com/atmx/prediction-ledger/internal/metrics"
	"github.com/atmx/prediction-ledger/internal/model"
	"github.com/atmx/prediction-ledger/internal/store"
)

// Service handles fund operations. Mutations run inside store.Update so each
// call is serialized and all-or-nothing.
type Service struct {
	store            store.Store
	minDeposit       decimal.Decimal
	proposalDuration time.Duration
	pub              model.Publisher // optional
}

// NewService creates a fund ledger service. A non-positive proposalDuration
// selects model.DefaultProposalDuration.
func NewService(st store.Store, minDeposit decimal.Decimal, proposalDuration time.Duration, pub model.Publisher) *Service {
	if proposalDuration <= 0 {
		proposalDuration = model.DefaultProposalDuration
	}
	return &Service{
		store:            st,
		minDeposit:       minDeposit,
		proposalDuration: proposalDuration,
		pub:              pub,
	}
}

// CreateFund opens a fund owned entirely by the caller, who becomes its
// trader. The attached value is the fund's initial balance.
func (s *Service) CreateFund(ctx context.Context, call model.Call, totalShare uint64, metadata model.FundMetadata) (id model.FundID, err error) {
	defer func(start time.Time) { metrics.ObserveOperation(model.OpCreateFund, start, err) }(time.Now())

	if totalShare < model.MinFundShare {
		return 0, fmt.Errorf("%w: got %d", model.ErrAtLeast100Share, totalShare)
	}
	if totalShare%model.MinFundShare != 0 {
		return 0, fmt.Errorf("%w: got %d", model.ErrNotDivisibleBy100, totalShare)
	}
	if call.Value.LessThan(s.minDeposit) {
		return 0, fmt.Errorf("%w: attached %s, minimum %s", model.ErrDepositTooLow, call.Value, s.minDeposit)
	}

	err = s.store.Update(ctx, func(tx store.Tx) error {
		e := store.Wrap(tx)

		fundID, err := e.NextFundID(ctx)
		if err != nil {
			return err
		}
		fund := &model.InvestmentFund{
			ID:         fundID,
			Trader:     call.Caller,
			TotalShare: totalShare,
			TotalFund:  call.Value,
			Metadata:   metadata,
			CreatedAt:  call.Now.UTC(),
		}
		if err := e.PutFund(ctx, fund); err != nil {
			return err
		}
		if err := e.PutShare(ctx, fundID, call.Caller, totalShare); err != nil {
			return err
		}
		if err := e.AddOwnerFund(ctx, call.Caller, fundID); err != nil {
			return err
		}

		id = fundID
		return e.AppendJournal(ctx, &model.JournalEntry{
			Operation: model.OpCreateFund,
			Caller:    call.Caller,
			Value:     call.Value,
			Timestamp: call.Now.UTC(),
			FundID:    model.Ref(fundID),
			Quantity:  totalShare,
			Amount:    call.Value,
		})
	})
	if err != nil {
		return 0, err
	}

	slog.Info("fund created",
		"fund_id", id,
		"trader", call.Caller,
		"total_share", totalShare,
		"total_fund", call.Value.String(),
	)
	s.publish(model.Notice{
		Type:     model.NoticeFundCreated,
		FundID:   model.Ref(id),
		Actor:    call.Caller,
		Quantity: totalShare,
		Amount:   call.Value.String(),
	})
	return id, nil
}

// TransferResult is the recipient's balance after a share transfer.
type TransferResult struct {
	Recipient model.Identity `json:"recipient"`
	Share     uint64         `json:"share"`
}

// TransferShare moves amount shares from the caller to recipient, applying
// the majority control rule when the caller is the trader.
func (s *Service) TransferShare(ctx context.Context, call model.Call, fundID model.FundID, recipient model.Identity, amount uint64) (res *TransferResult, err error) {
	defer func(start time.Time) { metrics.ObserveOperation(model.OpTransferShare, start, err) }(time.Now())

	var traderChanged bool
	err = s.store.Update(ctx, func(tx store.Tx) error {
		e := store.Wrap(tx)

		fund, err := loadFund(ctx, e, fundID)
		if err != nil {
			return err
		}
		senderShare, err := e.Share(ctx, fundID, call.Caller)
		if err != nil {
			return err
		}
		if amount > senderShare {
			return fmt.Errorf("%w: holds %d, transferring %d", model.ErrNotEnoughShare, senderShare, amount)
		}
		if recipient == call.Caller {
			res = &TransferResult{Recipient: recipient, Share: senderShare}
			return nil
		}

		moved, err := s.moveShares(ctx, e, fund, call.Caller, recipient, senderShare, amount)
		if err != nil {
			return err
		}
		traderChanged = moved.traderChanged
		res = &TransferResult{Recipient: recipient, Share: moved.recipientShare}

		return e.AppendJournal(ctx, &model.JournalEntry{
			Operation: model.OpTransferShare,
			Caller:    call.Caller,
			Value:     call.Value,
			Timestamp: call.Now.UTC(),
			FundID:    model.Ref(fundID),
			Recipient: model.Ref(recipient),
			Quantity:  amount,
			Amount:    decimal.Zero,
		})
	})
	if err != nil {
		return nil, err
	}
	if recipient == call.Caller {
		return res, nil
	}

	slog.Info("share transferred",
		"fund_id", fundID,
		"from", call.Caller,
		"to", recipient,
		"amount", amount,
		"trader_changed", traderChanged,
	)
	s.publish(model.Notice{
		Type:     model.NoticeShareTransferred,
		FundID:   model.Ref(fundID),
		Actor:    call.Caller,
		Quantity: amount,
	})
	if traderChanged {
		s.traderChanged(model.OpTransferShare, fundID, recipient)
	}
	return res, nil
}

// Bet spends fund capital on units of an outcome's supply. Only the fund's
// trader may bet, and only while the event's market is open.
func (s *Service) Bet(ctx context.Context, call model.Call, outcomeID model.OutcomeID, fundID model.FundID, units uint64) (err error) {
	defer func(start time.Time) { metrics.ObserveOperation(model.OpBet, start, err) }(time.Now())

	var (
		cost    decimal.Decimal
		eventID model.EventID
		pool    decimal.Decimal
	)
	err = s.store.Update(ctx, func(tx store.Tx) error {
		e := store.Wrap(tx)

		fund, err := loadFund(ctx, e, fundID)
		if err != nil {
			return err
		}
		if fund.Trader != call.Caller {
			return model.ErrNotOwner
		}
		outcome, err := e.Outcome(ctx, outcomeID)
		if err != nil {
			return store.Translate(err, model.ErrWrongEventOutCome)
		}
		mo, err := e.MarketOutcome(ctx, outcomeID)
		if err != nil {
			return store.Translate(err, model.ErrWrongEventOutCome)
		}
		market, err := e.Market(ctx, outcome.EventID)
		if err != nil {
			return store.Translate(err, model.ErrEventNotFound)
		}
		if market.IsResolved {
			return fmt.Errorf("%w: event %d already resolved", model.ErrResolveDateNotMatch, outcome.EventID)
		}
		if !call.Now.Before(market.ResolveDate) {
			return fmt.Errorf("%w: betting closed at %s", model.ErrResolveDateNotMatch, market.ResolveDate)
		}
		if units > mo.AvailableSupply {
			return fmt.Errorf("%w: %d available, %d requested", model.ErrOutOfSupply, mo.AvailableSupply, units)
		}
		if units == 0 {
			return model.ErrMoreThanOneSupply
		}
		cost = model.Units(units).Mul(outcome.DepositPerSupply)
		if call.Value.LessThan(cost) {
			return fmt.Errorf("%w: attached %s, cost %s", model.ErrDepositTooLow, call.Value, cost)
		}
		if fund.TotalFund.LessThan(cost) {
			return fmt.Errorf("%w: fund holds %s, cost %s", model.ErrNotEnoughBalance, fund.TotalFund, cost)
		}

		held, err := e.Supply(ctx, outcomeID, fundID)
		if err != nil {
			return err
		}
		if held == 0 {
			if err := e.AddOutcomeFund(ctx, outcomeID, fundID); err != nil {
				return err
			}
			if err := e.AddFundOutcome(ctx, fundID, outcomeID); err != nil {
				return err
			}
		}
		// held + units <= total_supply, so this cannot wrap.
		if err := e.PutSupply(ctx, outcomeID, fundID, held+units); err != nil {
			return err
		}

		mo.AvailableSupply -= units
		if err := e.PutMarketOutcome(ctx, mo); err != nil {
			return err
		}
		fund.TotalFund = fund.TotalFund.Sub(cost)
		if err := e.PutFund(ctx, fund); err != nil {
			return err
		}
		market.Pool = market.Pool.Add(cost)
		if err := e.PutMarket(ctx, market); err != nil {
			return err
		}
		eventID = outcome.EventID
		pool = market.Pool

		return e.AppendJournal(ctx, &model.JournalEntry{
			Operation: model.OpBet,
			Caller:    call.Caller,
			Value:     call.Value,
			Timestamp: call.Now.UTC(),
			EventID:   model.Ref(outcome.EventID),
			OutcomeID: model.Ref(outcomeID),
			FundID:    model.Ref(fundID),
			Quantity:  units,
			Amount:    cost,
		})
	})
	if err != nil {
		return err
	}

	metrics.BetSupplyTotal.Add(float64(units))
	metrics.AddAmount(metrics.BetVolume, cost)
	slog.Info("bet placed",
		"fund_id", fundID,
		"outcome_id", outcomeID,
		"event_id", eventID,
		"units", units,
		"cost", cost.String(),
		"pool", pool.String(),
	)
	s.publish(model.Notice{
		Type:      model.NoticeBetPlaced,
		EventID:   model.Ref(eventID),
		OutcomeID: model.Ref(outcomeID),
		FundID:    model.Ref(fundID),
		Actor:     call.Caller,
		Quantity:  units,
		Amount:    cost.String(),
		Pool:      pool.String(),
	})
	return nil
}

// CreateProposalRequest describes a share sale offer. Duration defaults to
// the service's proposal duration; Target restricts who may accept.
type CreateProposalRequest struct {
	Share    uint64
	Price    decimal.Decimal
	Duration *time.Duration
	Target   *model.Identity
}

// CreateProposal registers an offer by the caller to sell shares of a fund.
// Shares are not escrowed; acceptance re-checks the proponent's balance.
func (s *Service) CreateProposal(ctx context.Context, call model.Call, fundID model.FundID, req CreateProposalRequest) (id model.TradeID, err error) {
	defer func(start time.Time) { metrics.ObserveOperation(model.OpCreateProposal, start, err) }(time.Now())

	if req.Price.IsNegative() || !req.Price.Equal(req.Price.Truncate(0)) {
		return 0, fmt.Errorf("%w: price %s is not a non-negative integer", model.ErrSomethingWrong, req.Price)
	}
	duration := s.proposalDuration
	if req.Duration != nil {
		duration = *req.Duration
	}
	if duration < 0 {
		return 0, fmt.Errorf("%w: negative duration %s", model.ErrSomethingWrong, duration)
	}

	var trade *model.FundTrade
	err = s.store.Update(ctx, func(tx store.Tx) error {
		e := store.Wrap(tx)

		if _, err := loadFund(ctx, e, fundID); err != nil {
			return err
		}
		held, err := e.Share(ctx, fundID, call.Caller)
		if err != nil {
			return err
		}
		if held < req.Share {
			return fmt.Errorf("%w: holds %d, offering %d", model.ErrNotEnoughShare, held, req.Share)
		}

		tradeID, err := e.NextTradeID(ctx)
		if err != nil {
			return err
		}
		trade = &model.FundTrade{
			ID:             tradeID,
			FundID:         fundID,
			Proponent:      call.Caller,
			ProposedPerson: req.Target,
			Share:          req.Share,
			Price:          req.Price,
			CloseTime:      call.Now.Add(duration).UTC(),
		}
		if err := e.PutTrade(ctx, trade); err != nil {
			return err
		}
		if err := e.AddFundTrade(ctx, fundID, tradeID); err != nil {
			return err
		}
		if err := e.AddProponentTrade(ctx, call.Caller, tradeID); err != nil {
			return err
		}

		return e.AppendJournal(ctx, &model.JournalEntry{
			Operation: model.OpCreateProposal,
			Caller:    call.Caller,
			Value:     call.Value,
			Timestamp: call.Now.UTC(),
			FundID:    model.Ref(fundID),
			TradeID:   model.Ref(tradeID),
			Recipient: req.Target,
			Quantity:  req.Share,
			Amount:    req.Price,
		})
	})
	if err != nil {
		return 0, err
	}

	slog.Info("proposal created",
		"trade_id", trade.ID,
		"fund_id", fundID,
		"proponent", call.Caller,
		"share", trade.Share,
		"price", trade.Price.String(),
		"close_time", trade.CloseTime,
	)
	s.publish(model.Notice{
		Type:     model.NoticeProposalCreated,
		FundID:   model.Ref(fundID),
		TradeID:  model.Ref(trade.ID),
		Actor:    call.Caller,
		Quantity: trade.Share,
		Amount:   trade.Price.String(),
	})
	return trade.ID, nil
}

// AcceptProposal completes a trade: the caller pays the price outside the
// ledger and receives the offered shares. The fund balance does not move.
func (s *Service) AcceptProposal(ctx context.Context, call model.Call, tradeID model.TradeID) (err error) {
	defer func(start time.Time) { metrics.ObserveOperation(model.OpAcceptProposal, start, err) }(time.Now())

	var (
		trade         *model.FundTrade
		traderChanged bool
	)
	err = s.store.Update(ctx, func(tx store.Tx) error {
		e := store.Wrap(tx)

		t, err := e.Trade(ctx, tradeID)
		if err != nil {
			return store.Translate(err, model.ErrTradeNotFound)
		}
		trade = t
		if trade.IsCompleted {
			return model.ErrTradeNotAvailable
		}
		if call.Now.After(trade.CloseTime) {
			return fmt.Errorf("%w: closed at %s", model.ErrTimeExpired, trade.CloseTime)
		}
		if trade.ProposedPerson != nil && *trade.ProposedPerson != call.Caller {
			return fmt.Errorf("%w: proposal is reserved for %s", model.ErrNotOwner, *trade.ProposedPerson)
		}
		if trade.Proponent == call.Caller {
			return fmt.Errorf("%w: cannot accept own proposal", model.ErrNotOwner)
		}
		if call.Value.LessThan(trade.Price) {
			return fmt.Errorf("%w: attached %s, price %s", model.ErrDepositTooLow, call.Value, trade.Price)
		}
		proponentShare, err := e.Share(ctx, trade.FundID, trade.Proponent)
		if err != nil {
			return err
		}
		if proponentShare < trade.Share {
			return fmt.Errorf("%w: proponent holds %d, offered %d", model.ErrNotEnoughShare, proponentShare, trade.Share)
		}
		fund, err := loadFund(ctx, e, trade.FundID)
		if err != nil {
			return err
		}

		moved, err := s.moveShares(ctx, e, fund, trade.Proponent, call.Caller, proponentShare, trade.Share)
		if err != nil {
			return err
		}
		traderChanged = moved.traderChanged

		completedAt := call.Now.UTC()
		trade.IsCompleted = true
		trade.Buyer = model.Ref(call.Caller)
		trade.CompletedAt = &completedAt
		if err := e.PutTrade(ctx, trade); err != nil {
			return err
		}

		return e.AppendJournal(ctx, &model.JournalEntry{
			Operation: model.OpAcceptProposal,
			Caller:    call.Caller,
			Value:     call.Value,
			Timestamp: call.Now.UTC(),
			FundID:    model.Ref(trade.FundID),
			TradeID:   model.Ref(tradeID),
			Recipient: model.Ref(call.Caller),
			Quantity:  trade.Share,
			Amount:    trade.Price,
		})
	})
	if err != nil {
		return err
	}

	slog.Info("proposal accepted",
		"trade_id", tradeID,
		"fund_id", trade.FundID,
		"proponent", trade.Proponent,
		"buyer", call.Caller,
		"share", trade.Share,
		"trader_changed", traderChanged,
	)
	s.publish(model.Notice{
		Type:     model.NoticeProposalAccepted,
		FundID:   model.Ref(trade.FundID),
		TradeID:  model.Ref(tradeID),
		Actor:    call.Caller,
		Quantity: trade.Share,
		Amount:   trade.Price.String(),
	})
	if traderChanged {
		s.traderChanged(model.OpAcceptProposal, trade.FundID, call.Caller)
	}
	return nil
}

type moveResult struct {
	recipientShare uint64
	traderChanged  bool
}

// moveShares applies the control rule and moves amount from sender to
// recipient. The caller has checked amount <= senderShare and that the two
// identities differ.
func (s *Service) moveShares(ctx context.Context, e *store.Entities, fund *model.InvestmentFund, sender, recipient model.Identity, senderShare, amount uint64) (*moveResult, error) {
	recipientShare, err := e.Share(ctx, fund.ID, recipient)
	if err != nil {
		return nil, err
	}
	trader, changed, err := controlChange(fund, sender, recipient, senderShare, recipientShare, amount)
	if err != nil {
		return nil, err
	}
	if recipientShare+amount < recipientShare || recipientShare+amount > fund.TotalShare {
		return nil, fmt.Errorf("%w: fund %d share ledger exceeds total share", model.ErrSomethingWrong, fund.ID)
	}

	if err := e.PutShare(ctx, fund.ID, sender, senderShare-amount); err != nil {
		return nil, err
	}
	if err := e.PutShare(ctx, fund.ID, recipient, recipientShare+amount); err != nil {
		return nil, err
	}
	if amount > 0 {
		if err := indexOwner(ctx, e, recipient, fund.ID); err != nil {
			return nil, err
		}
	}
	if changed {
		fund.Trader = trader
		if err := e.PutFund(ctx, fund); err != nil {
			return nil, err
		}
	}
	return &moveResult{recipientShare: recipientShare + amount, traderChanged: changed}, nil
}

func (s *Service) traderChanged(op string, fundID model.FundID, trader model.Identity) {
	metrics.ControlTransfers.WithLabelValues(op).Inc()
	slog.Info("fund trader changed", "fund_id", fundID, "trader", trader, "operation", op)
	s.publish(model.Notice{
		Type:   model.NoticeTraderChanged,
		FundID: model.Ref(fundID),
		Actor:  trader,
	})
}

func (s *Service) publish(n model.Notice) {
	if s.pub != nil {
		s.pub.Publish(n)
	}
}

func loadFund(ctx context.Context, e *store.Entities, id model.FundID) (*model.InvestmentFund, error) {
	fund, err := e.Fund(ctx, id)
	if err != nil {
		return nil, store.Translate(err, model.ErrFundNotFound)
	}
	return fund, nil
}

// indexOwner records that who holds shares of a fund, once.
func indexOwner(ctx context.Context, e *store.Entities, who model.Identity, id model.FundID) error {
	funds, err := e.OwnerFunds(ctx, who)
	if err != nil {
		return err
	}
	if slices.Contains(funds, id) {
		return nil
	}
	return e.AddOwnerFund(ctx, who, id)
}
