package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// genKey counts committed Updates. A View records it before opening its
// primary snapshot and may fill the cache only while it is unchanged, so a
// snapshot taken before a commit never repopulates keys that commit dirtied.
const genKey = "ledger:gen"

// fillScript sets KEYS[2] only if KEYS[1] still holds the generation the
// reader started from.
var fillScript = redis.NewScript(`
local gen = redis.call("GET", KEYS[1]) or "0"
if gen ~= ARGV[1] then
	return 0
end
redis.call("SET", KEYS[2], ARGV[2], "PX", ARGV[3])
return 1
`)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache. Writes go to the primary store and invalidate the cache after the
// transaction commits; View reads check Redis first then fall back to the
// primary. Reads inside Update always hit the primary.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

// --- Write-through (write to primary, invalidate cache) ---

func (s *CachedStore) Update(ctx context.Context, fn func(tx Tx) error) error {
	var dirty []string
	err := s.primary.Update(ctx, func(tx Tx) error {
		dirty = dirty[:0]
		return fn(&cachedTx{store: s, inner: tx, writable: true, dirty: &dirty})
	})
	if err != nil {
		return err
	}
	if len(dirty) > 0 {
		s.invalidate(context.WithoutCancel(ctx), dirty)
	}
	return nil
}

// invalidate bumps the generation and drops the dirty keys in one MULTI.
// The primary has already committed, so a failure here is logged rather
// than returned; stale rows then live at most one TTL.
func (s *CachedStore) invalidate(ctx context.Context, keys []string) {
	_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Incr(ctx, genKey)
		pipe.Del(ctx, keys...)
		return nil
	})
	if err != nil {
		slog.Error("cache invalidation failed", "keys", len(keys), "err", err)
	}
}

// --- Read-through (check cache first) ---

func (s *CachedStore) View(ctx context.Context, fn func(tx Tx) error) error {
	gen, err := s.rdb.Get(ctx, genKey).Result()
	switch {
	case errors.Is(err, redis.Nil):
		gen = "0"
	case err != nil:
		slog.Warn("cache generation unavailable, reading primary only", "err", err)
		return s.primary.View(ctx, fn)
	}
	return s.primary.View(ctx, func(tx Tx) error {
		return fn(&cachedTx{store: s, inner: tx, gen: gen})
	})
}

type cachedTx struct {
	store    *CachedStore
	inner    Tx
	writable bool
	dirty    *[]string
	gen      string
}

// fill caches a value read from the primary unless an Update committed
// since this View started.
func (t *cachedTx) fill(ctx context.Context, key string, value []byte) {
	ttl := strconv.FormatInt(t.store.ttl.Milliseconds(), 10)
	if err := fillScript.Run(ctx, t.store.rdb, []string{genKey, key}, t.gen, value, ttl).Err(); err != nil {
		slog.Debug("cache fill skipped", "key", key, "err", err)
	}
}

func (t *cachedTx) Get(ctx context.Context, tbl Table, key string) ([]byte, error) {
	if t.writable {
		return t.inner.Get(ctx, tbl, key)
	}
	ck := entityKey(tbl, key)
	if data, err := t.store.rdb.Get(ctx, ck).Bytes(); err == nil {
		return data, nil
	}

	// Cache miss: read from primary.
	value, err := t.inner.Get(ctx, tbl, key)
	if err != nil {
		return nil, err
	}
	t.fill(ctx, ck, value)
	return value, nil
}

func (t *cachedTx) Put(ctx context.Context, tbl Table, key string, value []byte) error {
	if err := t.inner.Put(ctx, tbl, key, value); err != nil {
		return err
	}
	*t.dirty = append(*t.dirty, entityKey(tbl, key))
	return nil
}

func (t *cachedTx) Append(ctx context.Context, ix Index, key string, id uint64) error {
	if err := t.inner.Append(ctx, ix, key, id); err != nil {
		return err
	}
	*t.dirty = append(*t.dirty, indexKey(ix, key))
	return nil
}

func (t *cachedTx) Members(ctx context.Context, ix Index, key string) ([]uint64, error) {
	if t.writable {
		return t.inner.Members(ctx, ix, key)
	}
	ck := indexKey(ix, key)
	if data, err := t.store.rdb.Get(ctx, ck).Bytes(); err == nil {
		var ids []uint64
		if json.Unmarshal(data, &ids) == nil {
			return ids, nil
		}
	}

	ids, err := t.inner.Members(ctx, ix, key)
	if err != nil {
		return nil, err
	}
	if data, err := json.Marshal(ids); err == nil {
		t.fill(ctx, ck, data)
	}
	return ids, nil
}

// --- Passthrough (not cached) ---

func (t *cachedTx) NextID(ctx context.Context, seq Sequence) (uint64, error) {
	return t.inner.NextID(ctx, seq)
}

func (t *cachedTx) Count(ctx context.Context, seq Sequence) (uint64, error) {
	return t.inner.Count(ctx, seq)
}

// --- Cache helpers ---

func entityKey(tbl Table, key string) string { return fmt.Sprintf("ledger:%s:%s", tbl, key) }
func indexKey(ix Index, key string) string   { return fmt.Sprintf("ledger:idx:%s:%s", ix, key) }
