package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/atmx/lending-engine/internal/model"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache of each account's latest snapshot. Writes go to the primary store
// and refresh the cache; reads check Redis first then fall back to the
// primary.
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

// --- Write-through (write to primary, refresh cache) ---

func (s *CachedStore) SaveSnapshot(ctx context.Context, snap *model.PortfolioSnapshot) error {
	if err := s.primary.SaveSnapshot(ctx, snap); err != nil {
		return err
	}
	s.cacheLatest(ctx, snap)
	return nil
}

// --- Read-through (check cache first) ---

func (s *CachedStore) GetLatestSnapshot(ctx context.Context, account string) (*model.PortfolioSnapshot, error) {
	data, err := s.rdb.Get(ctx, latestKey(account)).Bytes()
	if err == nil {
		var snap model.PortfolioSnapshot
		if json.Unmarshal(data, &snap) == nil {
			return &snap, nil
		}
	}

	// Cache miss: read from primary.
	snap, err := s.primary.GetLatestSnapshot(ctx, account)
	if err != nil {
		return nil, err
	}

	s.cacheLatest(ctx, snap)
	return snap, nil
}

// --- Passthrough (not cached) ---

func (s *CachedStore) ListSnapshots(ctx context.Context, account string, limit int) ([]model.PortfolioSnapshot, error) {
	return s.primary.ListSnapshots(ctx, account, limit)
}

// --- Cache helpers ---

func (s *CachedStore) cacheLatest(ctx context.Context, snap *model.PortfolioSnapshot) {
	if data, err := json.Marshal(snap); err == nil {
		s.rdb.Set(ctx, latestKey(snap.Account), data, s.ttl)
	}
}

func latestKey(account string) string { return fmt.Sprintf("portfolio:latest:%s", AccountKey(account)) }
