package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/tokensentry/risk-engine/internal/model"
)

// MemoryStore implements Store with in-memory maps. Used for testing and
// development. Not suitable for production (no persistence).
type MemoryStore struct {
	mu         sync.RWMutex
	portfolios map[string]*model.Portfolio
	history    map[string][]model.ValueSample
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		portfolios: make(map[string]*model.Portfolio),
		history:    make(map[string][]model.ValueSample),
	}
}

func (s *MemoryStore) SavePortfolio(_ context.Context, pf *model.Portfolio) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Store a deep copy to avoid external mutation.
	s.portfolios[pf.WalletAddress] = pf.Clone()
	return nil
}

func (s *MemoryStore) LoadPortfolio(_ context.Context, wallet string) (*model.Portfolio, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	pf, ok := s.portfolios[wallet]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, wallet)
	}
	return pf.Clone(), nil
}

func (s *MemoryStore) DeletePortfolio(_ context.Context, wallet string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.portfolios[wallet]; !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, wallet)
	}
	delete(s.portfolios, wallet)
	delete(s.history, wallet)
	return nil
}

func (s *MemoryStore) ListWallets(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	wallets := make([]string, 0, len(s.portfolios))
	for w := range s.portfolios {
		wallets = append(wallets, w)
	}
	sort.Strings(wallets)
	return wallets, nil
}

func (s *MemoryStore) AppendValueSample(_ context.Context, wallet string, sample model.ValueSample) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	samples := append(s.history[wallet], sample)
	if len(samples) > MaxHistorySamples {
		samples = samples[len(samples)-MaxHistorySamples:]
	}
	s.history[wallet] = samples
	return nil
}

func (s *MemoryStore) GetValueHistory(_ context.Context, wallet string, start, end time.Time) ([]model.ValueSample, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.ValueSample
	for _, sample := range s.history[wallet] {
		if sample.Timestamp.Before(start) || sample.Timestamp.After(end) {
			continue
		}
		result = append(result, sample)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].Timestamp.Before(result[j].Timestamp)
	})
	return result, nil
}
