package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/tokensentry/risk-engine/internal/model"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache for portfolio snapshots. Writes go to the primary store and
// invalidate the cache; reads check Redis first then fall back to the
// primary. History is not cached — it is append-heavy and range-queried.
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

func (s *CachedStore) SavePortfolio(ctx context.Context, pf *model.Portfolio) error {
	if err := s.primary.SavePortfolio(ctx, pf); err != nil {
		return err
	}
	// Invalidate; next read re-populates from the primary.
	s.rdb.Del(ctx, portfolioKey(pf.WalletAddress))
	return nil
}

func (s *CachedStore) DeletePortfolio(ctx context.Context, wallet string) error {
	if err := s.primary.DeletePortfolio(ctx, wallet); err != nil {
		return err
	}
	s.rdb.Del(ctx, portfolioKey(wallet))
	return nil
}

// --- Read-through (check cache first) ---

func (s *CachedStore) LoadPortfolio(ctx context.Context, wallet string) (*model.Portfolio, error) {
	data, err := s.rdb.Get(ctx, portfolioKey(wallet)).Bytes()
	if err == nil {
		var pf model.Portfolio
		if json.Unmarshal(data, &pf) == nil {
			if pf.Positions == nil {
				pf.Positions = make(map[string]*model.Position)
			}
			return &pf, nil
		}
	}

	// Cache miss: read from primary.
	pf, err := s.primary.LoadPortfolio(ctx, wallet)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(pf); err == nil {
		s.rdb.Set(ctx, portfolioKey(wallet), data, s.ttl)
	}
	return pf, nil
}

// --- Passthrough (not cached) ---

func (s *CachedStore) ListWallets(ctx context.Context) ([]string, error) {
	return s.primary.ListWallets(ctx)
}

func (s *CachedStore) AppendValueSample(ctx context.Context, wallet string, sample model.ValueSample) error {
	return s.primary.AppendValueSample(ctx, wallet, sample)
}

func (s *CachedStore) GetValueHistory(ctx context.Context, wallet string, start, end time.Time) ([]model.ValueSample, error) {
	return s.primary.GetValueHistory(ctx, wallet, start, end)
}

func portfolioKey(wallet string) string { return fmt.Sprintf("portfolio:%s", wallet) }
