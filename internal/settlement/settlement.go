// Package settlement computes the one-time distribution of an event's pool to
// the funds that bought supply in the winning outcome.
//
// Payouts are proportional to purchased supply with floor division:
// prize_per_supply = floor(pool / used_supply). The remainder of that division
// stays in the pool.
package settlement

import (
	"fmt"
	"math/bits"

	"github.com/shopspring/decimal"

	"github.com/atmx/prediction-ledger/internal/model"
)

// Holding is the supply one fund bought in the winning outcome.
type Holding struct {
	FundID model.FundID
	Supply uint64
}

// Payout is the prize credited to one fund.
type Payout struct {
	FundID model.FundID    `json:"fund_id"`
	Supply uint64          `json:"supply"`
	Prize  decimal.Decimal `json:"prize"`
}

// Result is the full outcome of a settlement. Nothing is applied until the
// caller writes it back.
type Result struct {
	UsedSupply     uint64          `json:"used_supply"`
	PrizePerSupply decimal.Decimal `json:"prize_per_supply"`
	Payouts        []Payout        `json:"payouts"`
	Distributed    decimal.Decimal `json:"distributed"`
	Remaining      decimal.Decimal `json:"remaining"`
}

// Distribute splits pool across holdings.
//
// It fails with model.ErrNoBodyBetted when none of the winner's supply was
// sold, and with model.ErrSomethingWrong when the holdings do not account for
// exactly the sold supply or the pool is not a non-negative integer.
func Distribute(pool decimal.Decimal, totalSupply, availableSupply uint64, holdings []Holding) (*Result, error) {
	if availableSupply > totalSupply {
		return nil, fmt.Errorf("%w: available supply %d exceeds total %d",
			model.ErrSomethingWrong, availableSupply, totalSupply)
	}
	used := totalSupply - availableSupply
	if used == 0 {
		return nil, model.ErrNoBodyBetted
	}
	if pool.IsNegative() || !pool.Equal(pool.Truncate(0)) {
		return nil, fmt.Errorf("%w: invalid pool %s", model.ErrSomethingWrong, pool)
	}

	var recorded uint64
	for _, h := range holdings {
		if h.Supply == 0 {
			return nil, fmt.Errorf("%w: fund %d holds no supply", model.ErrSomethingWrong, h.FundID)
		}
		var carry uint64
		recorded, carry = bits.Add64(recorded, h.Supply, 0)
		if carry != 0 {
			return nil, fmt.Errorf("%w: supply overflow", model.ErrSomethingWrong)
		}
	}
	if recorded != used {
		return nil, fmt.Errorf("%w: recorded supply %d != used supply %d",
			model.ErrSomethingWrong, recorded, used)
	}

	usedDec := model.Units(used)
	perSupply, _ := pool.QuoRem(usedDec, 0)

	res := &Result{
		UsedSupply:     used,
		PrizePerSupply: perSupply,
		Payouts:        make([]Payout, 0, len(holdings)),
		Distributed:    decimal.Zero,
		Remaining:      pool,
	}
	for _, h := range holdings {
		prize := perSupply.Mul(model.Units(h.Supply))
		res.Remaining = res.Remaining.Sub(prize)
		res.Distributed = res.Distributed.Add(prize)
		res.Payouts = append(res.Payouts, Payout{FundID: h.FundID, Supply: h.Supply, Prize: prize})
	}
	if res.Remaining.IsNegative() {
		return nil, fmt.Errorf("%w: pool underflow", model.ErrSomethingWrong)
	}
	return res, nil
}
