package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/mocktrade/trading-engine/internal/model"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache for the asset catalog and per-account positions. Writes go to the
// primary store and invalidate the cache; reads check Redis first then fall
// back to the primary. Balances are never cached.
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

func (s *CachedStore) CreateAsset(ctx context.Context, a *model.Asset) error {
	if err := s.primary.CreateAsset(ctx, a); err != nil {
		return err
	}
	s.rdb.Del(ctx, assetListKey)
	s.cache(ctx, assetKey(a.ID), a)
	return nil
}

func (s *CachedStore) ResetPortfolios(ctx context.Context, f AccountFilter) error {
	if err := s.primary.ResetPortfolios(ctx, f); err != nil {
		return err
	}
	s.invalidatePositions(ctx, f.IDs)
	return nil
}

func (s *CachedStore) Atomic(ctx context.Context, accountID string, fn func(tx Tx) error) error {
	if err := s.primary.Atomic(ctx, accountID, fn); err != nil {
		return err
	}
	s.invalidatePositions(ctx, []string{accountID})
	return nil
}

// --- Read-through (check cache first) ---

func (s *CachedStore) GetAsset(ctx context.Context, id string) (*model.Asset, error) {
	var a model.Asset
	if s.lookup(ctx, assetKey(id), &a) {
		return &a, nil
	}

	// Cache miss: read from primary.
	asset, err := s.primary.GetAsset(ctx, id)
	if err != nil {
		return nil, err
	}
	s.cache(ctx, assetKey(id), asset)
	return asset, nil
}

func (s *CachedStore) ListAssets(ctx context.Context) ([]model.Asset, error) {
	var assets []model.Asset
	if s.lookup(ctx, assetListKey, &assets) {
		return assets, nil
	}

	assets, err := s.primary.ListAssets(ctx)
	if err != nil {
		return nil, err
	}
	s.cache(ctx, assetListKey, assets)
	return assets, nil
}

func (s *CachedStore) ListPositions(ctx context.Context, accountID string) ([]model.Position, error) {
	var positions []model.Position
	if s.lookup(ctx, positionsKey(accountID), &positions) {
		return positions, nil
	}

	gen := s.positionsGen(ctx)
	positions, err := s.primary.ListPositions(ctx, accountID)
	if err != nil {
		return nil, err
	}
	s.cacheIfUnchanged(ctx, positionsKey(accountID), positions, gen)
	return positions, nil
}

// --- Passthrough (not cached) ---

func (s *CachedStore) CreateAccount(ctx context.Context, a *model.Account) error {
	return s.primary.CreateAccount(ctx, a)
}

func (s *CachedStore) GetAccount(ctx context.Context, id string) (*model.Account, error) {
	return s.primary.GetAccount(ctx, id)
}

func (s *CachedStore) GetAccountByEmail(ctx context.Context, email string) (*model.Account, error) {
	return s.primary.GetAccountByEmail(ctx, email)
}

func (s *CachedStore) ListAccounts(ctx context.Context) ([]model.Account, error) {
	return s.primary.ListAccounts(ctx)
}

func (s *CachedStore) CountAccounts(ctx context.Context) (int, error) {
	return s.primary.CountAccounts(ctx)
}

func (s *CachedStore) SetBalance(ctx context.Context, f AccountFilter, balance decimal.Decimal) (int64, error) {
	return s.primary.SetBalance(ctx, f, balance)
}

func (s *CachedStore) AddBalance(ctx context.Context, f AccountFilter, amount decimal.Decimal) (int64, error) {
	return s.primary.AddBalance(ctx, f, amount)
}

func (s *CachedStore) ListAllPositions(ctx context.Context) ([]model.Position, error) {
	return s.primary.ListAllPositions(ctx)
}

func (s *CachedStore) ListTrades(ctx context.Context, accountID string, limit int) ([]model.Trade, error) {
	return s.primary.ListTrades(ctx, accountID, limit)
}

// Ping checks the primary first; a cache outage is logged but not fatal.
func (s *CachedStore) Ping(ctx context.Context) error {
	if err := s.primary.Ping(ctx); err != nil {
		return err
	}
	if err := s.rdb.Ping(ctx).Err(); err != nil {
		slog.Warn("redis ping failed", "err", err)
	}
	return nil
}

// --- Cache helpers ---

func (s *CachedStore) lookup(ctx context.Context, key string, dst any) bool {
	data, err := s.rdb.Get(ctx, key).Bytes()
	if err != nil {
		return false
	}
	return json.Unmarshal(data, dst) == nil
}

func (s *CachedStore) cache(ctx context.Context, key string, v any) {
	if data, err := json.Marshal(v); err == nil {
		s.rdb.Set(ctx, key, data, s.ttl)
	}
}

// positionsGen returns the current position write generation. A missing key
// reads as zero.
func (s *CachedStore) positionsGen(ctx context.Context) int64 {
	gen, err := s.rdb.Get(ctx, positionsGenKey).Int64()
	if err != nil && !errors.Is(err, redis.Nil) {
		return -1
	}
	return gen
}

// cacheIfUnchanged stores v only if no position write has completed since gen
// was read.
func (s *CachedStore) cacheIfUnchanged(ctx context.Context, key string, v any, gen int64) {
	if gen < 0 {
		return
	}
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	err = s.rdb.Watch(ctx, func(tx *redis.Tx) error {
		cur, err := tx.Get(ctx, positionsGenKey).Int64()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		if cur != gen {
			return nil
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, s.ttl)
			return nil
		})
		return err
	}, positionsGenKey)
	if err != nil && !errors.Is(err, redis.TxFailedErr) {
		slog.Debug("position cache fill skipped", "key", key, "err", err)
	}
}

// invalidatePositions bumps the write generation, then drops cached
// positions for ids, or for every account when ids is nil.
func (s *CachedStore) invalidatePositions(ctx context.Context, ids []string) {
	s.rdb.Incr(ctx, positionsGenKey)

	if ids != nil {
		keys := make([]string, len(ids))
		for i, id := range ids {
			keys[i] = positionsKey(id)
		}
		s.rdb.Del(ctx, keys...)
		return
	}

	iter := s.rdb.Scan(ctx, 0, positionsKey("*"), 100).Iterator()
	for iter.Next(ctx) {
		s.rdb.Del(ctx, iter.Val())
	}
	if err := iter.Err(); err != nil {
		slog.Warn("position cache invalidation incomplete", "err", err)
	}
}

const (
	assetListKey = "assets:all"

	// positionsGenKey sits outside the positions:* namespace so a full
	// invalidation scan never deletes it.
	positionsGenKey = "cache:positions:gen"
)

func assetKey(id string) string      { return fmt.Sprintf("asset:%s", id) }
func positionsKey(uid string) string { return fmt.Sprintf("positions:%s", uid) }
