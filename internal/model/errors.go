package model

import (
	"errors"
)

// Ledger failures. Every fallible operation returns exactly one of these,
// possibly wrapped with context; compare with errors.Is.
var (
	ErrDepositTooLow       = errors.New("deposit too low")
	ErrEventNotFound       = errors.New("event not found")
	ErrNotOwner            = errors.New("caller is not the owner")
	ErrResolveDateNotMatch = errors.New("resolve date does not allow this operation")
	ErrWrongEventOutCome   = errors.New("outcome does not belong to event")
	ErrNotDivisibleBy100   = errors.New("total share is not divisible by 100")
	ErrNotEnoughShare      = errors.New("not enough share")
	ErrOutOfSupply         = errors.New("out of supply")
	ErrAtLeastTwoOutcome   = errors.New("event needs at least two outcomes")
	ErrFundNotFound        = errors.New("fund not found")
	ErrAtLeast100Share     = errors.New("fund needs at least 100 shares")
	ErrTimeExpired         = errors.New("proposal expired")
	ErrTradeNotAvailable   = errors.New("trade is no longer available")
	ErrTradeNotFound       = errors.New("trade not found")
	ErrSomethingWrong      = errors.New("ledger invariant violated")
	ErrNoBodyBetted        = errors.New("nobody bet on the winning outcome")
	ErrMoreThanOneSupply   = errors.New("bet needs at least one supply unit")
	ErrNotEnoughBalance    = errors.New("fund balance too low")
	ErrTraderNotIdentitied = errors.New("transfer would leave the fund without a controlling trader")
)

var codes = []struct {
	err  error
	code string
}{
	{ErrDepositTooLow, "DepositTooLow"},
	{ErrEventNotFound, "EventNotFound"},
	{ErrNotOwner, "NotOwner"},
	{ErrResolveDateNotMatch, "ResolveDateNotMatch"},
	{ErrWrongEventOutCome, "WrongEventOutCome"},
	{ErrNotDivisibleBy100, "NotDivisibleBy100"},
	{ErrNotEnoughShare, "NotEnoughShare"},
	{ErrOutOfSupply, "OutOfSupply"},
	{ErrAtLeastTwoOutcome, "AtLeastTwoOutcome"},
	{ErrFundNotFound, "FundNotFound"},
	{ErrAtLeast100Share, "AtLeast100Share"},
	{ErrTimeExpired, "TimeExpired"},
	{ErrTradeNotAvailable, "TradeNotAvailable"},
	{ErrTradeNotFound, "TradeNotFound"},
	{ErrSomethingWrong, "SomethingWrong"},
	{ErrNoBodyBetted, "NoBodyBetted"},
	{ErrMoreThanOneSupply, "MoreThanOneSupply"},
	{ErrNotEnoughBalance, "NotEnoughBalance"},
	{ErrTraderNotIdentitied, "TraderNotIdentitied"},
}

// Code returns the wire name of a ledger failure, or "" when err is not one.
func Code(err error) string {
	if err == nil {
		return ""
	}
	for _, c := range codes {
		if errors.Is(err, c.err) {
			return c.code
		}
	}
	return ""
}
