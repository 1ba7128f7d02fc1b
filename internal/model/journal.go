package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Journal operations.
const (
	OpCreateEvent    = "create_event"
	OpResolveEvent   = "resolve_event"
	OpCreateFund     = "create_fund"
	OpTransferShare  = "transfer_share"
	OpBet            = "bet"
	OpCreateProposal = "create_proposal"
	OpAcceptProposal = "accept_proposal"
)

// JournalEntry is an immutable record of one committed mutation.
// Once created, these are never modified or deleted.
type JournalEntry struct {
	Seq       uint64          `json:"seq"`
	ID        string          `json:"id"`
	Operation string          `json:"operation"`
	Caller    Identity        `json:"caller"`
	Value     decimal.Decimal `json:"value"`
	Timestamp time.Time       `json:"timestamp"`
	EventID   *EventID        `json:"event_id,omitempty"`
	OutcomeID *OutcomeID      `json:"outcome_id,omitempty"`
	FundID    *FundID         `json:"fund_id,omitempty"`
	TradeID   *TradeID        `json:"trade_id,omitempty"`
	Recipient *Identity       `json:"recipient,omitempty"`
	Quantity  uint64          `json:"quantity,omitempty"` // shares or supply units
	Amount    decimal.Decimal `json:"amount"`             // balance moved, if any
}

// Notice types published after a mutation commits.
const (
	NoticeEventCreated     = "event_created"
	NoticeEventResolved    = "event_resolved"
	NoticeFundCreated      = "fund_created"
	NoticeBetPlaced        = "bet_placed"
	NoticeShareTransferred = "share_transferred"
	NoticeProposalCreated  = "proposal_created"
	NoticeProposalAccepted = "proposal_accepted"
	NoticeTraderChanged    = "trader_changed"
)

// Notice is a committed-state change pushed to live subscribers.
type Notice struct {
	Type      string     `json:"type"`
	EventID   *EventID   `json:"event_id,omitempty"`
	OutcomeID *OutcomeID `json:"outcome_id,omitempty"`
	FundID    *FundID    `json:"fund_id,omitempty"`
	TradeID   *TradeID   `json:"trade_id,omitempty"`
	Actor     Identity   `json:"actor,omitempty"`
	Quantity  uint64     `json:"quantity,omitempty"`
	Amount    string     `json:"amount,omitempty"`
	Pool      string     `json:"pool,omitempty"`
}

// Publisher receives notices once their mutation has committed.
type Publisher interface {
	Publish(Notice)
}

// Ref returns a pointer to v. Handy for the optional id fields above.
func Ref[T any](v T) *T {
	return &v
}
