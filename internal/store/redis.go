package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/atmx/curve-engine/internal/model"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache. Writes go to the primary store and invalidate the cache; reads
// check Redis first then fall back to the primary.
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

func (s *CachedStore) CreateIssuerConfig(ctx context.Context, cfg *model.IssuerConfig) error {
	if err := s.primary.CreateIssuerConfig(ctx, cfg); err != nil {
		return err
	}
	s.cache(ctx, configKey, cfg)
	return nil
}

func (s *CachedStore) CreatePool(ctx context.Context, p *model.Pool) error {
	if err := s.primary.CreatePool(ctx, p); err != nil {
		return err
	}
	s.cache(ctx, poolKey(p.Asset), p)
	return nil
}

func (s *CachedStore) CommitTrade(ctx context.Context, p *model.Pool, rec *model.TradeRecord) error {
	if err := s.primary.CommitTrade(ctx, p, rec); err != nil {
		return err
	}
	// Invalidate; next read will re-populate.
	s.rdb.Del(ctx, poolKey(p.Asset), historyKey(p.Asset))
	return nil
}

// --- Read-through (check cache first) ---

// GetIssuerConfig is cached without expiry concerns: the config never
// changes once created.
func (s *CachedStore) GetIssuerConfig(ctx context.Context) (*model.IssuerConfig, error) {
	data, err := s.rdb.Get(ctx, configKey).Bytes()
	if err == nil {
		var cfg model.IssuerConfig
		if json.Unmarshal(data, &cfg) == nil {
			return &cfg, nil
		}
	}

	cfg, err := s.primary.GetIssuerConfig(ctx)
	if err != nil {
		return nil, err
	}
	s.cache(ctx, configKey, cfg)
	return cfg, nil
}

// GetPool serves display reads. The engine reads pools through the
// primary store so trades never price off a stale snapshot.
func (s *CachedStore) GetPool(ctx context.Context, asset model.Address) (*model.Pool, error) {
	data, err := s.rdb.Get(ctx, poolKey(asset)).Bytes()
	if err == nil {
		var p model.Pool
		if json.Unmarshal(data, &p) == nil {
			return &p, nil
		}
	}

	// Cache miss: read from primary.
	p, err := s.primary.GetPool(ctx, asset)
	if err != nil {
		return nil, err
	}
	s.cache(ctx, poolKey(asset), p)
	return p, nil
}

func (s *CachedStore) GetTradesByPool(ctx context.Context, asset model.Address) ([]model.TradeRecord, error) {
	data, err := s.rdb.Get(ctx, historyKey(asset)).Bytes()
	if err == nil {
		var records []model.TradeRecord
		if json.Unmarshal(data, &records) == nil {
			return records, nil
		}
	}

	records, err := s.primary.GetTradesByPool(ctx, asset)
	if err != nil {
		return nil, err
	}
	s.cache(ctx, historyKey(asset), records)
	return records, nil
}

// --- Passthrough (not cached) ---

func (s *CachedStore) ListPools(ctx context.Context) ([]model.Pool, error) {
	return s.primary.ListPools(ctx)
}

func (s *CachedStore) GetTradesByTrader(ctx context.Context, trader model.Address) ([]model.TradeRecord, error) {
	return s.primary.GetTradesByTrader(ctx, trader)
}

// Uncached strips a read-through cache and returns the source of truth.
func Uncached(s Store) Store {
	if c, ok := s.(*CachedStore); ok {
		return c.primary
	}
	return s
}

// Invalidate drops the cached entries of asset after a write that went
// around s, such as a settlement transaction on the primary database.
func Invalidate(ctx context.Context, s Store, asset model.Address) {
	if c, ok := s.(*CachedStore); ok {
		c.rdb.Del(ctx, poolKey(asset), historyKey(asset))
	}
}

// --- Cache helpers ---

func (s *CachedStore) cache(ctx context.Context, key string, v any) {
	if data, err := json.Marshal(v); err == nil {
		s.rdb.Set(ctx, key, data, s.ttl)
	}
}

const configKey = "curve:issuer_config"

func poolKey(asset model.Address) string    { return fmt.Sprintf("pool:%s", asset) }
func historyKey(asset model.Address) string { return fmt.Sprintf("history:%s", asset) }
