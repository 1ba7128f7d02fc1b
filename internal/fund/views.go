package fund

import (
	"context"
	"slices"

	"github.com/atmx/prediction-ledger/internal/model"
	"github.com/atmx/prediction-ledger/internal/store"
)

// Funds lists funds with the outcomes they bet on. With an owner, only funds
// where the owner currently holds shares are listed, each with that balance.
func (s *Service) Funds(ctx context.Context, owner *model.Identity) ([]model.FundSummary, error) {
	var out []model.FundSummary
	err := s.store.View(ctx, func(tx store.Tx) error {
		e := store.Wrap(tx)

		var ids []model.FundID
		if owner != nil {
			held, err := e.OwnerFunds(ctx, *owner)
			if err != nil {
				return err
			}
			ids = slices.Clone(held)
			slices.Sort(ids)
		} else {
			n, err := e.FundCount(ctx)
			if err != nil {
				return err
			}
			ids = make([]model.FundID, 0, n)
			for id := model.FundID(0); uint64(id) < n; id++ {
				ids = append(ids, id)
			}
		}

		out = make([]model.FundSummary, 0, len(ids))
		for _, id := range ids {
			var ownerShare *uint64
			if owner != nil {
				share, err := e.Share(ctx, id, *owner)
				if err != nil {
					return err
				}
				if share == 0 {
					continue
				}
				ownerShare = &share
			}
			fund, err := loadFund(ctx, e, id)
			if err != nil {
				return err
			}
			outcomes, err := fundOutcomes(ctx, e, id)
			if err != nil {
				return err
			}
			out = append(out, model.FundSummary{Fund: *fund, Outcomes: outcomes, OwnerShare: ownerShare})
		}
		return nil
	})
	return out, err
}

// OwnerShare returns how many shares of a fund owner holds.
func (s *Service) OwnerShare(ctx context.Context, fundID model.FundID, owner model.Identity) (uint64, error) {
	var share uint64
	err := s.store.View(ctx, func(tx store.Tx) error {
		e := store.Wrap(tx)
		if _, err := loadFund(ctx, e, fundID); err != nil {
			return err
		}
		var err error
		share, err = e.Share(ctx, fundID, owner)
		return err
	})
	return share, err
}

// Proposals lists trades with their funds, optionally only those opened by
// proponent.
func (s *Service) Proposals(ctx context.Context, proponent *model.Identity) ([]model.Proposal, error) {
	var out []model.Proposal
	err := s.store.View(ctx, func(tx store.Tx) error {
		e := store.Wrap(tx)

		var ids []model.TradeID
		if proponent != nil {
			var err error
			if ids, err = e.ProponentTrades(ctx, *proponent); err != nil {
				return err
			}
		} else {
			n, err := e.TradeCount(ctx)
			if err != nil {
				return err
			}
			for id := model.TradeID(0); uint64(id) < n; id++ {
				ids = append(ids, id)
			}
		}

		out = make([]model.Proposal, 0, len(ids))
		for _, id := range ids {
			trade, err := e.Trade(ctx, id)
			if err != nil {
				return store.Translate(err, model.ErrTradeNotFound)
			}
			fund, err := loadFund(ctx, e, trade.FundID)
			if err != nil {
				return err
			}
			out = append(out, model.Proposal{Fund: *fund, Trade: *trade})
		}
		return nil
	})
	return out, err
}

// FundProposals returns a fund with every trade opened on it.
func (s *Service) FundProposals(ctx context.Context, fundID model.FundID) (*model.FundProposals, error) {
	var out *model.FundProposals
	err := s.store.View(ctx, func(tx store.Tx) error {
		e := store.Wrap(tx)
		fund, err := loadFund(ctx, e, fundID)
		if err != nil {
			return err
		}
		ids, err := e.FundTrades(ctx, fundID)
		if err != nil {
			return err
		}
		trades := make([]model.FundTrade, 0, len(ids))
		for _, id := range ids {
			trade, err := e.Trade(ctx, id)
			if err != nil {
				return store.Translate(err, model.ErrTradeNotFound)
			}
			trades = append(trades, *trade)
		}
		out = &model.FundProposals{Fund: *fund, Trades: trades}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func fundOutcomes(ctx context.Context, e *store.Entities, id model.FundID) ([]model.OutcomeHolding, error) {
	outcomeIDs, err := e.FundOutcomes(ctx, id)
	if err != nil {
		return nil, err
	}
	holdings := make([]model.OutcomeHolding, 0, len(outcomeIDs))
	for _, oid := range outcomeIDs {
		outcome, err := e.Outcome(ctx, oid)
		if err != nil {
			return nil, store.Translate(err, model.ErrWrongEventOutCome)
		}
		supply, err := e.Supply(ctx, oid, id)
		if err != nil {
			return nil, err
		}
		holdings = append(holdings, model.OutcomeHolding{Outcome: *outcome, Supply: supply})
	}
	return holdings, nil
}
