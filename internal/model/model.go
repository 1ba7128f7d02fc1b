// Package model defines the core domain types shared across the prediction
// ledger. All monetary values use shopspring/decimal, never float64.
// Balances are integer-valued decimals expressed in base units.
package model

import (
	"math/big"
	"time"

	"github.com/shopspring/decimal"
)

// Identity is an opaque principal (event organizer, fund owner, trader).
type Identity string

type (
	EventID   uint64
	OutcomeID uint64
	FundID    uint64
	TradeID   uint64
)

// MinFundShare is the smallest fund size and the unit total_share must be
// a multiple of.
const MinFundShare uint64 = 100

// DefaultProposalDuration is how long a proposal stays open when the
// proponent does not pick a duration.
const DefaultProposalDuration = 30 * 24 * time.Hour

// Units converts a share or supply count into a balance multiplier.
func Units(n uint64) decimal.Decimal {
	return decimal.NewFromBigInt(new(big.Int).SetUint64(n), 0)
}

// Event is an organizer's question. Immutable after creation.
type Event struct {
	ID        EventID       `json:"event_id"`
	Owner     Identity      `json:"owner"`
	Question  string        `json:"question"`
	Metadata  EventMetadata `json:"metadata"`
	CreatedAt time.Time     `json:"created_at"`
}

// EventMetadata is free-form presentation data attached to an event.
type EventMetadata struct {
	Name        string `json:"name,omitempty"`
	ImageURL    string `json:"image_url,omitempty"`
	Description string `json:"description,omitempty"`
}

// Outcome is one mutually exclusive answer to an event's question.
// DepositPerSupply and TotalSupply never change once the event exists.
type Outcome struct {
	ID               OutcomeID       `json:"outcome_id"`
	EventID          EventID         `json:"event_id"`
	Description      string          `json:"description"`
	DepositPerSupply decimal.Decimal `json:"deposit_per_supply"`
	TotalSupply      uint64          `json:"total_supply"`
}

// OutcomePayload is the organizer's input for one outcome at event creation.
type OutcomePayload struct {
	Description      string          `json:"description" validate:"required"`
	DepositPerSupply decimal.Decimal `json:"deposit_per_supply"`
	TotalSupply      uint64          `json:"total_supply" validate:"min=1"`
}

// Market is the mutable settlement state of an event.
type Market struct {
	EventID        EventID         `json:"event_id"`
	Pool           decimal.Decimal `json:"pool"`
	IsResolved     bool            `json:"is_resolved"`
	ResolveDate    time.Time       `json:"resolve_date"`
	WinningOutcome *OutcomeID      `json:"winning_outcome"`
}

// MarketOutcome tracks the unsold supply of an outcome.
type MarketOutcome struct {
	EventID         EventID   `json:"event_id"`
	OutcomeID       OutcomeID `json:"outcome_id"`
	AvailableSupply uint64    `json:"available_supply"`
}

// InvestmentFund is a pooled-capital vehicle. TotalShare is fixed at creation;
// TotalFund is the spendable balance.
type InvestmentFund struct {
	ID         FundID          `json:"investment_fund_id"`
	Trader     Identity        `json:"trader"`
	TotalShare uint64          `json:"total_share"`
	TotalFund  decimal.Decimal `json:"total_fund"`
	Metadata   FundMetadata    `json:"metadata"`
	CreatedAt  time.Time       `json:"created_at"`
}

// FundMetadata is free-form presentation data attached to a fund.
type FundMetadata struct {
	Name     string `json:"name,omitempty"`
	ImageURL string `json:"image_url,omitempty"`
}

// FundTrade is an offer to sell Share units of a fund for Price.
// Immutable once IsCompleted.
type FundTrade struct {
	ID             TradeID         `json:"trade_id"`
	FundID         FundID          `json:"investment_fund_id"`
	Proponent      Identity        `json:"proponent"`
	ProposedPerson *Identity       `json:"proposed_person"`
	Share          uint64          `json:"share"`
	Price          decimal.Decimal `json:"price"`
	CloseTime      time.Time       `json:"close_time"`
	IsCompleted    bool            `json:"is_completed"`
	Buyer          *Identity       `json:"buyer,omitempty"`
	CompletedAt    *time.Time      `json:"completed_at,omitempty"`
}

// Call carries the ambient inputs of one operation: who is calling, how much
// value they attached and the time the call is evaluated at.
type Call struct {
	Caller Identity
	Value  decimal.Decimal
	Now    time.Time
}

// --- Read-side views ---

// EventSummary is one row of the events listing.
type EventSummary struct {
	Event       Event  `json:"event"`
	Market      Market `json:"market"`
	TotalSupply uint64 `json:"total_supply"`
}

// EventDetail is an event with every outcome and the funds holding supply in it.
type EventDetail struct {
	Event       Event           `json:"event"`
	Market      Market          `json:"market"`
	TotalSupply uint64          `json:"total_supply"`
	Outcomes    []OutcomeDetail `json:"outcomes"`
}

// OutcomeDetail groups an outcome, its market state and its bettors.
type OutcomeDetail struct {
	Outcome       Outcome       `json:"outcome"`
	MarketOutcome MarketOutcome `json:"market_outcome"`
	Funds         []FundHolding `json:"funds"`
}

// FundHolding is the supply a fund bought in one outcome.
type FundHolding struct {
	Fund   InvestmentFund `json:"fund"`
	Supply uint64         `json:"supply"`
}

// OutcomeHolding is the supply a fund holds in one outcome.
type OutcomeHolding struct {
	Outcome Outcome `json:"outcome"`
	Supply  uint64  `json:"supply"`
}

// FundSummary is one row of the funds listing. OwnerShare is set only when
// the listing was filtered by owner.
type FundSummary struct {
	Fund       InvestmentFund   `json:"fund"`
	Outcomes   []OutcomeHolding `json:"outcomes"`
	OwnerShare *uint64          `json:"owner_share"`
}

// Proposal pairs a trade with the fund it sells shares of.
type Proposal struct {
	Fund  InvestmentFund `json:"fund"`
	Trade FundTrade      `json:"trade"`
}

// FundProposals lists every trade opened on one fund.
type FundProposals struct {
	Fund   InvestmentFund `json:"fund"`
	Trades []FundTrade    `json:"trades"`
}
