package fund

import (
	"math/bits"

	"github.com/atmx/prediction-ledger/internal/model"
)

// majorityPercent is the share of a fund that controls it.
const majorityPercent = 51

// reachesMajority reports whether part*100 >= 51*total, computed exactly.
func reachesMajority(part, total uint64) bool {
	ph, pl := bits.Mul64(part, 100)
	th, tl := bits.Mul64(total, majorityPercent)
	if ph != th {
		return ph > th
	}
	return pl >= tl
}

// controlChange decides who trades for a fund after amount moves from sender
// to recipient. senderShare and recipientShare are the balances before the
// move. It returns the new trader and whether it differs from the current one.
//
// Only a move out of the trader's balance can change control: when the moved
// amount alone is a majority the recipient takes over; otherwise the move is
// refused unless one side still holds a majority afterwards.
func controlChange(fund *model.InvestmentFund, sender, recipient model.Identity, senderShare, recipientShare, amount uint64) (model.Identity, bool, error) {
	if sender != fund.Trader {
		return fund.Trader, false, nil
	}
	if reachesMajority(amount, fund.TotalShare) {
		return recipient, recipient != fund.Trader, nil
	}
	if !reachesMajority(senderShare-amount, fund.TotalShare) &&
		!reachesMajority(recipientShare+amount, fund.TotalShare) {
		return "", false, model.ErrTraderNotIdentitied
	}
	return fund.Trader, false, nil
}
