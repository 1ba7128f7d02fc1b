package store

import (
	"context"
	"sync"
)

// MemoryStore implements Store with in-memory maps. Used for testing
// and development. Not suitable for production (no persistence).
//
// Update holds the write lock for the whole transaction and buffers writes
// in an overlay that is merged only on success, so a failed call leaves no
// trace.
type MemoryStore struct {
	mu      sync.RWMutex
	tables  map[Table]map[string][]byte
	indexes map[Index]map[string][]uint64
	seqs    map[Sequence]uint64
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		tables:  make(map[Table]map[string][]byte),
		indexes: make(map[Index]map[string][]uint64),
		seqs:    make(map[Sequence]uint64),
	}
}

func (s *MemoryStore) Update(ctx context.Context, fn func(tx Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	tx := newMemTx(s, true)
	if err := fn(tx); err != nil {
		return err
	}
	tx.commit()
	return nil
}

func (s *MemoryStore) View(ctx context.Context, fn func(tx Tx) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	return fn(newMemTx(s, false))
}

// memTx reads through its own pending writes to the committed state.
type memTx struct {
	s        *MemoryStore
	writable bool
	puts     map[Table]map[string][]byte
	appends  map[Index]map[string][]uint64
	seqs     map[Sequence]uint64
}

func newMemTx(s *MemoryStore, writable bool) *memTx {
	return &memTx{
		s:        s,
		writable: writable,
		puts:     make(map[Table]map[string][]byte),
		appends:  make(map[Index]map[string][]uint64),
		seqs:     make(map[Sequence]uint64),
	}
}

func (tx *memTx) Get(_ context.Context, t Table, key string) ([]byte, error) {
	if v, ok := tx.puts[t][key]; ok {
		return clone(v), nil
	}
	if v, ok := tx.s.tables[t][key]; ok {
		return clone(v), nil
	}
	return nil, ErrNotFound
}

func (tx *memTx) Put(_ context.Context, t Table, key string, value []byte) error {
	if !tx.writable {
		return ErrReadOnly
	}
	if tx.puts[t] == nil {
		tx.puts[t] = make(map[string][]byte)
	}
	tx.puts[t][key] = clone(value)
	return nil
}

func (tx *memTx) Append(_ context.Context, ix Index, key string, id uint64) error {
	if !tx.writable {
		return ErrReadOnly
	}
	if tx.appends[ix] == nil {
		tx.appends[ix] = make(map[string][]uint64)
	}
	tx.appends[ix][key] = append(tx.appends[ix][key], id)
	return nil
}

func (tx *memTx) Members(_ context.Context, ix Index, key string) ([]uint64, error) {
	committed := tx.s.indexes[ix][key]
	pending := tx.appends[ix][key]
	ids := make([]uint64, 0, len(committed)+len(pending))
	ids = append(ids, committed...)
	ids = append(ids, pending...)
	return ids, nil
}

func (tx *memTx) NextID(_ context.Context, seq Sequence) (uint64, error) {
	if !tx.writable {
		return 0, ErrReadOnly
	}
	next, ok := tx.seqs[seq]
	if !ok {
		next = tx.s.seqs[seq]
	}
	tx.seqs[seq] = next + 1
	return next, nil
}

func (tx *memTx) Count(_ context.Context, seq Sequence) (uint64, error) {
	if n, ok := tx.seqs[seq]; ok {
		return n, nil
	}
	return tx.s.seqs[seq], nil
}

// commit merges the overlay into the committed state. Caller holds s.mu.
func (tx *memTx) commit() {
	s := tx.s
	for t, rows := range tx.puts {
		if s.tables[t] == nil {
			s.tables[t] = make(map[string][]byte)
		}
		for k, v := range rows {
			s.tables[t][k] = v
		}
	}
	for ix, keys := range tx.appends {
		if s.indexes[ix] == nil {
			s.indexes[ix] = make(map[string][]uint64)
		}
		for k, ids := range keys {
			s.indexes[ix][k] = append(s.indexes[ix][k], ids...)
		}
	}
	for seq, n := range tx.seqs {
		s.seqs[seq] = n
	}
}

func clone(b []byte) []byte {
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
