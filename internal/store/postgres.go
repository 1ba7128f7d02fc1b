package store

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed schema.sql
var schemaSQL string

// ledgerLockKey is the advisory lock every writing transaction takes so that
// ledger calls execute one at a time across all service instances.
const ledgerLockKey int64 = 0x6c6564676572

// PostgresStore implements Store using PostgreSQL as the source of truth.
// Entity values are stored as JSONB; balances inside them are decimal strings.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Migrate creates the ledger tables if they do not exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	for _, stmt := range strings.Split(schemaSQL, ";") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("executing migration: %w", err)
		}
	}
	return nil
}

func (s *PostgresStore) Update(ctx context.Context, fn func(tx Tx) error) error {
	return pgx.BeginTxFunc(ctx, s.pool, pgx.TxOptions{IsoLevel: pgx.ReadCommitted}, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, ledgerLockKey); err != nil {
			return fmt.Errorf("acquire ledger lock: %w", err)
		}
		return fn(&pgTx{tx: tx, writable: true})
	})
}

func (s *PostgresStore) View(ctx context.Context, fn func(tx Tx) error) error {
	opts := pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly}
	return pgx.BeginTxFunc(ctx, s.pool, opts, func(tx pgx.Tx) error {
		return fn(&pgTx{tx: tx})
	})
}

type pgTx struct {
	tx       pgx.Tx
	writable bool
}

func (t *pgTx) Get(ctx context.Context, tbl Table, key string) ([]byte, error) {
	var value string
	err := t.tx.QueryRow(ctx,
		`SELECT value::TEXT FROM ledger_entities WHERE tbl = $1 AND key = $2`,
		string(tbl), key).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get %s/%s: %w", tbl, key, err)
	}
	return []byte(value), nil
}

func (t *pgTx) Put(ctx context.Context, tbl Table, key string, value []byte) error {
	if !t.writable {
		return ErrReadOnly
	}
	_, err := t.tx.Exec(ctx,
		`INSERT INTO ledger_entities (tbl, key, value) VALUES ($1, $2, $3::JSONB)
		 ON CONFLICT (tbl, key) DO UPDATE SET value = EXCLUDED.value`,
		string(tbl), key, string(value))
	if err != nil {
		return fmt.Errorf("put %s/%s: %w", tbl, key, err)
	}
	return nil
}

func (t *pgTx) Append(ctx context.Context, ix Index, key string, id uint64) error {
	if !t.writable {
		return ErrReadOnly
	}
	_, err := t.tx.Exec(ctx,
		`INSERT INTO ledger_indexes (idx, key, member) VALUES ($1, $2, $3)`,
		string(ix), key, int64(id))
	if err != nil {
		return fmt.Errorf("append %s/%s: %w", ix, key, err)
	}
	return nil
}

func (t *pgTx) Members(ctx context.Context, ix Index, key string) ([]uint64, error) {
	rows, err := t.tx.Query(ctx,
		`SELECT member FROM ledger_indexes WHERE idx = $1 AND key = $2 ORDER BY pos`,
		string(ix), key)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ids := []uint64{}
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, uint64(id))
	}
	return ids, rows.Err()
}

func (t *pgTx) NextID(ctx context.Context, seq Sequence) (uint64, error) {
	if !t.writable {
		return 0, ErrReadOnly
	}
	var next int64
	err := t.tx.QueryRow(ctx,
		`INSERT INTO ledger_sequences (name, value) VALUES ($1, 1)
		 ON CONFLICT (name) DO UPDATE SET value = ledger_sequences.value + 1
		 RETURNING value - 1`,
		string(seq)).Scan(&next)
	if err != nil {
		return 0, fmt.Errorf("next id %s: %w", seq, err)
	}
	return uint64(next), nil
}

func (t *pgTx) Count(ctx context.Context, seq Sequence) (uint64, error) {
	var n int64
	err := t.tx.QueryRow(ctx,
		`SELECT value FROM ledger_sequences WHERE name = $1`, string(seq)).Scan(&n)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("count %s: %w", seq, err)
	}
	return uint64(n), nil
}
