// Package store defines the persistence interface for the prediction ledger.
// Implementations include PostgreSQL (source of truth), Redis (read-through
// cache), and in-memory (for testing).
//
// The store is a keyed table space plus ordered secondary indexes and per-kind
// id sequences. It has no business rules; the ledger services supply those and
// rely on Update for all-or-nothing, serialized execution.
package store

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned by Tx.Get when the key has no value.
	ErrNotFound = errors.New("store: not found")

	// ErrReadOnly is returned when a View transaction attempts a write.
	ErrReadOnly = errors.New("store: read-only transaction")
)

// Table names a primary entity table.
type Table string

const (
	TableEvents         Table = "events"
	TableMarkets        Table = "event_markets"
	TableOutcomes       Table = "outcomes"
	TableMarketOutcomes Table = "market_outcomes"
	TableFunds          Table = "investment_funds"
	TableTrades         Table = "fund_trades"
	TableShares         Table = "fund_owner_shares"     // key: fund/owner
	TableSupplies       Table = "outcome_fund_supplies" // key: outcome/fund
	TableJournal        Table = "journal"
)

// Index names an ordered multimap from a key to entity ids.
type Index string

const (
	IndexEventOutcomes   Index = "event_outcomes"
	IndexOutcomeFunds    Index = "outcome_funds"
	IndexFundOutcomes    Index = "fund_outcomes"
	IndexFundTrades      Index = "fund_trades"
	IndexProponentTrades Index = "proponent_trades"
	IndexOwnerFunds      Index = "owner_funds"
)

// Sequence names a monotonic id counter.
type Sequence string

const (
	SeqEvents   Sequence = "events"
	SeqOutcomes Sequence = "outcomes"
	SeqFunds    Sequence = "funds"
	SeqTrades   Sequence = "trades"
	SeqJournal  Sequence = "journal"
)

// Tx is one unit of work against the store. Writes become visible to other
// transactions only when the enclosing Update returns nil.
type Tx interface {
	// Get returns the raw value stored under key, or ErrNotFound.
	Get(ctx context.Context, t Table, key string) ([]byte, error)

	// Put inserts or replaces the value stored under key.
	Put(ctx context.Context, t Table, key string, value []byte) error

	// Append adds id to the end of the index entry for key.
	Append(ctx context.Context, ix Index, key string, id uint64) error

	// Members returns the ids of the index entry for key in insertion order.
	Members(ctx context.Context, ix Index, key string) ([]uint64, error)

	// NextID mints the next id of a sequence. The first id is 0.
	NextID(ctx context.Context, s Sequence) (uint64, error)

	// Count returns how many ids a sequence has minted.
	Count(ctx context.Context, s Sequence) (uint64, error)
}

// Store is the persistence interface. Update runs fn in an exclusive
// transaction that is committed only if fn returns nil; any error discards
// every write fn made. View runs fn against a consistent read-only snapshot.
type Store interface {
	Update(ctx context.Context, fn func(tx Tx) error) error
	View(ctx context.Context, fn func(tx Tx) error) error
}

// Translate maps ErrNotFound to the given domain error, keeping the lookup
// context. Other errors pass through unchanged.
func Translate(err, notFound error) error {
	if errors.Is(err, ErrNotFound) {
		return fmt.Errorf("%w: %v", notFound, err)
	}
	return err
}
